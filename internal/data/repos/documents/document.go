package documents

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/paperbridge-backend/internal/domain/documents"
	perrors "github.com/yungbote/paperbridge-backend/internal/pkg/errors"
	"github.com/yungbote/paperbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

type DocumentRepo interface {
	Create(dbc dbctx.Context, doc *types.Document) (*types.Document, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error)
	Exists(dbc dbctx.Context, id uuid.UUID) (bool, error)
	List(dbc dbctx.Context) ([]*types.Document, error)
	SearchByTag(dbc dbctx.Context, tag string, contains bool) ([]*types.Document, error)
	ListLocators(dbc dbctx.Context) ([]string, error)
	Update(dbc dbctx.Context, id uuid.UUID, upd types.DocumentUpdate) (*types.Document, error)
	ApplyProcessingResult(dbc dbctx.Context, id uuid.UUID, result types.ProcessingResult) (*types.Document, error)
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	repoLog := baseLog.With("repo", "DocumentRepo")
	return &documentRepo{db: db, log: repoLog}
}

func (r *documentRepo) Create(dbc dbctx.Context, doc *types.Document) (*types.Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: document required", perrors.ErrInvalidInput)
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.Before(doc.CreatedAt) {
		doc.UpdatedAt = doc.CreatedAt
	}
	tags := doc.Tags
	doc.Tags = nil

	err := r.inTx(dbc, func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		return replaceTags(tx, doc.ID, tagStrings(tags))
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(dbc, doc.ID)
}

func (r *documentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error) {
	var doc types.Document
	err := dbc.Conn(r.db).
		Preload("Tags").
		Where("id = ?", id).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: document %s", perrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) Exists(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	var n int64
	if err := dbc.Conn(r.db).
		Model(&types.Document{}).
		Where("id = ?", id).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *documentRepo) List(dbc dbctx.Context) ([]*types.Document, error) {
	var results []*types.Document
	if err := dbc.Conn(r.db).
		Preload("Tags").
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// SearchByTag matches documents holding tag exactly, or with contains set,
// any tag containing it case-insensitively.
func (r *documentRepo) SearchByTag(dbc dbctx.Context, tag string, contains bool) ([]*types.Document, error) {
	tag = strings.TrimSpace(tag)
	results := []*types.Document{}
	if tag == "" {
		return results, nil
	}

	conn := dbc.Conn(r.db)
	sub := conn.Model(&types.DocumentTag{}).Select("document_id")
	if contains {
		sub = sub.Where(`LOWER(tag) LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(tag))+"%")
	} else {
		sub = sub.Where("tag = ?", tag)
	}

	if err := conn.
		Preload("Tags").
		Where("id IN (?)", sub).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentRepo) ListLocators(dbc dbctx.Context) ([]string, error) {
	var out []string
	if err := dbc.Conn(r.db).
		Model(&types.Document{}).
		Order("locator ASC").
		Pluck("locator", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentRepo) Update(dbc dbctx.Context, id uuid.UUID, upd types.DocumentUpdate) (*types.Document, error) {
	err := r.inTx(dbc, func(tx *gorm.DB) error {
		current, err := getForWrite(tx, id)
		if err != nil {
			return err
		}
		fields := map[string]interface{}{
			"updated_at": touch(current.CreatedAt),
		}
		if upd.Title != nil {
			fields["title"] = *upd.Title
		}
		if upd.Content != nil {
			fields["content"] = *upd.Content
		}
		if upd.Locator != nil {
			fields["locator"] = *upd.Locator
		}
		if err := tx.Model(&types.Document{}).Where("id = ?", id).Updates(fields).Error; err != nil {
			return err
		}
		if upd.Tags != nil {
			return replaceTags(tx, id, *upd.Tags)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(dbc, id)
}

// ApplyProcessingResult refreshes locator and content only; title and tags are untouched.
func (r *documentRepo) ApplyProcessingResult(dbc dbctx.Context, id uuid.UUID, result types.ProcessingResult) (*types.Document, error) {
	if strings.TrimSpace(result.Locator()) == "" {
		return nil, fmt.Errorf("%w: processing result has no locator", perrors.ErrInvalidInput)
	}
	err := r.inTx(dbc, func(tx *gorm.DB) error {
		current, err := getForWrite(tx, id)
		if err != nil {
			return err
		}
		return tx.Model(&types.Document{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"locator":    result.Locator(),
				"content":    result.Text(),
				"updated_at": touch(current.CreatedAt),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(dbc, id)
}

// Delete removes the catalog row and its tags. Ledger entries are left to the caller.
func (r *documentRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	return r.inTx(dbc, func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&types.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: document %s", perrors.ErrNotFound, id)
		}
		return tx.Where("document_id = ?", id).Delete(&types.DocumentTag{}).Error
	})
}

// inTx runs fn on the caller's transaction when present, otherwise in a new one.
func (r *documentRepo) inTx(dbc dbctx.Context, fn func(tx *gorm.DB) error) error {
	if dbc.Tx != nil {
		return fn(dbc.Conn(r.db))
	}
	return dbc.Conn(r.db).Transaction(fn)
}

func getForWrite(tx *gorm.DB, id uuid.UUID) (*types.Document, error) {
	var doc types.Document
	if err := tx.Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: document %s", perrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &doc, nil
}

func replaceTags(tx *gorm.DB, id uuid.UUID, tags []string) error {
	if err := tx.Where("document_id = ?", id).Delete(&types.DocumentTag{}).Error; err != nil {
		return err
	}
	tags = types.NormalizeTags(tags)
	if len(tags) == 0 {
		return nil
	}
	rows := make([]types.DocumentTag, 0, len(tags))
	for _, t := range tags {
		rows = append(rows, types.DocumentTag{DocumentID: id, Tag: t})
	}
	return tx.Create(&rows).Error
}

func tagStrings(tags []types.DocumentTag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.Tag)
	}
	return out
}

// touch returns now, clamped so updated_at never precedes created_at.
func touch(createdAt time.Time) time.Time {
	now := time.Now().UTC()
	if now.Before(createdAt) {
		return createdAt
	}
	return now
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
