package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/paperbridge-backend/internal/domain/documents"
	perrors "github.com/yungbote/paperbridge-backend/internal/pkg/errors"
	"github.com/yungbote/paperbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/paperbridge-backend/internal/platform/keylock"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

// DocumentVersionRepo is the append-only version ledger.
//
// Append called without a transaction serializes on the document key itself.
// Called with dbc.Tx set, the caller must already hold WithDocumentLock for
// the same document so the max+1 read and the insert cannot interleave.
type DocumentVersionRepo interface {
	Append(dbc dbctx.Context, documentID uuid.UUID, result types.ProcessingResult, changeDescription string) (*types.DocumentVersion, error)
	ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.DocumentVersion, error)
	ListLocatorsByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]string, error)
	DeleteByDocumentID(dbc dbctx.Context, documentID uuid.UUID) error
	WithDocumentLock(ctx context.Context, documentID uuid.UUID, fn func() error) error
}

type documentVersionRepo struct {
	db     *gorm.DB
	log    *logger.Logger
	locker keylock.Locker
}

func NewDocumentVersionRepo(db *gorm.DB, baseLog *logger.Logger, locker keylock.Locker) DocumentVersionRepo {
	repoLog := baseLog.With("repo", "DocumentVersionRepo")
	if locker == nil {
		locker = keylock.NewLocal()
	}
	return &documentVersionRepo{db: db, log: repoLog, locker: locker}
}

func lockKey(documentID uuid.UUID) string { return "document-version:" + documentID.String() }

func (r *documentVersionRepo) WithDocumentLock(ctx context.Context, documentID uuid.UUID, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	unlock, err := r.locker.Lock(ctx, lockKey(documentID))
	if err != nil {
		return fmt.Errorf("acquire version lock for %s: %w", documentID, err)
	}
	defer unlock()
	return fn()
}

func (r *documentVersionRepo) Append(dbc dbctx.Context, documentID uuid.UUID, result types.ProcessingResult, changeDescription string) (*types.DocumentVersion, error) {
	if documentID == uuid.Nil {
		return nil, fmt.Errorf("%w: document id required", perrors.ErrInvalidInput)
	}
	if strings.TrimSpace(result.Locator()) == "" {
		return nil, fmt.Errorf("%w: processing result has no locator", perrors.ErrInvalidInput)
	}

	if dbc.Tx != nil {
		return r.appendTx(dbc.Conn(r.db), documentID, result, changeDescription)
	}

	var out *types.DocumentVersion
	err := r.WithDocumentLock(dbc.Ctx, documentID, func() error {
		return dbc.Conn(r.db).Transaction(func(tx *gorm.DB) error {
			v, err := r.appendTx(tx, documentID, result, changeDescription)
			if err != nil {
				return err
			}
			out = v
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentVersionRepo) appendTx(tx *gorm.DB, documentID uuid.UUID, result types.ProcessingResult, changeDescription string) (*types.DocumentVersion, error) {
	var maxVersion int
	if err := tx.Model(&types.DocumentVersion{}).
		Where("document_id = ?", documentID).
		Select("COALESCE(MAX(version_number), 0)").
		Scan(&maxVersion).Error; err != nil {
		return nil, err
	}

	v := &types.DocumentVersion{
		DocumentID:        documentID,
		VersionNumber:     maxVersion + 1,
		Content:           result.Text(),
		Locator:           result.Locator(),
		ChangeDescription: changeDescription,
		CreatedAt:         time.Now().UTC(),
	}
	if vec := result.Embedding(); len(vec) > 0 {
		raw, err := json.Marshal(vec)
		if err != nil {
			return nil, fmt.Errorf("encode embedding: %w", err)
		}
		v.Embedding = datatypes.JSON(raw)
		v.EmbeddingDims = len(vec)
	}

	if err := tx.Create(v).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: version %d or locator %q already recorded for %s", perrors.ErrConflict, v.VersionNumber, v.Locator, documentID)
		}
		return nil, err
	}
	r.log.Debug("version appended", "document_id", documentID, "version", v.VersionNumber)
	return v, nil
}

func (r *documentVersionRepo) ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.DocumentVersion, error) {
	results := []*types.DocumentVersion{}
	if err := dbc.Conn(r.db).
		Where("document_id = ?", documentID).
		Order("version_number ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentVersionRepo) ListLocatorsByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]string, error) {
	var out []string
	if err := dbc.Conn(r.db).
		Model(&types.DocumentVersion{}).
		Where("document_id = ?", documentID).
		Order("version_number ASC").
		Pluck("locator", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentVersionRepo) DeleteByDocumentID(dbc dbctx.Context, documentID uuid.UUID) error {
	return dbc.Conn(r.db).
		Where("document_id = ?", documentID).
		Delete(&types.DocumentVersion{}).Error
}
