package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/paperbridge-backend/internal/data/repos"
	types "github.com/yungbote/paperbridge-backend/internal/domain/documents"
	"github.com/yungbote/paperbridge-backend/internal/ingestion/pipeline"
	"github.com/yungbote/paperbridge-backend/internal/observability"
	perrors "github.com/yungbote/paperbridge-backend/internal/pkg/errors"
	"github.com/yungbote/paperbridge-backend/internal/platform/blobstore"
	"github.com/yungbote/paperbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/paperbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

type DocumentService interface {
	Upload(ctx context.Context, in UploadInput) (*UploadResult, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Document, error)
	List(ctx context.Context) ([]*types.Document, error)
	SearchByTag(ctx context.Context, tag string, contains bool) ([]*types.Document, error)
	Update(ctx context.Context, id uuid.UUID, upd types.DocumentUpdate) (*types.Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Folders(ctx context.Context) ([]string, error)
	OpenFile(ctx context.Context, id uuid.UUID) (*DocumentFile, error)
	History(ctx context.Context, id uuid.UUID) ([]*types.DocumentVersion, error)
}

type UploadInput struct {
	Filename  string
	Title     string
	Subfolder string
	Tags      []string
	Data      []byte
}

// UploadResult carries the created document and, when processing ran on
// upload, its outcome. A failed run does not fail the upload.
type UploadResult struct {
	Document      *types.Document
	Processed     bool
	Outcome       *ProcessOutcome
	ProcessingErr error
}

// DocumentFile is an open handle on a document's current blob. Callers close File.
type DocumentFile struct {
	File        *os.File
	Size        int64
	ContentType string
	Filename    string
}

type DocumentServiceOptions struct {
	ProcessOnUpload bool
	PurgeOnDelete   bool
}

type documentService struct {
	db          *gorm.DB
	log         *logger.Logger
	store       blobstore.Store
	docRepo     repos.DocumentRepo
	versionRepo repos.DocumentVersionRepo
	processing  ProcessingService
	metrics     *observability.Metrics
	opts        DocumentServiceOptions
}

func NewDocumentService(
	db *gorm.DB,
	baseLog *logger.Logger,
	store blobstore.Store,
	docRepo repos.DocumentRepo,
	versionRepo repos.DocumentVersionRepo,
	processing ProcessingService,
	metrics *observability.Metrics,
	opts DocumentServiceOptions,
) DocumentService {
	return &documentService{
		db:          db,
		log:         baseLog.With("service", "DocumentService"),
		store:       store,
		docRepo:     docRepo,
		versionRepo: versionRepo,
		processing:  processing,
		metrics:     metrics,
		opts:        opts,
	}
}

func (s *documentService) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	ctx = ctxutil.Default(ctx)
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", perrors.ErrInvalidInput)
	}
	if reservedSubfolder(in.Subfolder) {
		return nil, fmt.Errorf("%w: subfolder %q is reserved", perrors.ErrInvalidInput, pipeline.VersionsFolder)
	}

	locator, err := s.store.Store(ctx, in.Data, in.Filename, in.Subfolder)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveBlobStored("upload", len(in.Data))

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = uploadTitle(in.Filename, locator)
	}
	tags := make([]types.DocumentTag, 0, len(in.Tags))
	for _, t := range types.NormalizeTags(in.Tags) {
		tags = append(tags, types.DocumentTag{Tag: t})
	}

	doc, err := s.docRepo.Create(dbctx.Context{Ctx: ctx}, &types.Document{
		Title:   title,
		Locator: locator,
		Tags:    tags,
	})
	if err != nil {
		if delErr := s.store.Delete(context.WithoutCancel(ctx), locator); delErr != nil {
			s.log.Warn("failed to roll back upload blob", "locator", locator, "error", delErr)
		}
		return nil, fmt.Errorf("create document: %w", err)
	}
	s.log.Info("document uploaded", "document_id", doc.ID, "locator", locator, "size", len(in.Data))

	res := &UploadResult{Document: doc}
	if !s.opts.ProcessOnUpload || s.processing == nil {
		return res, nil
	}

	res.Processed = true
	out, perr := s.processing.Process(ctx, doc.ID, "initial upload")
	res.Outcome = out
	if perr != nil {
		res.ProcessingErr = perr
		s.log.Warn("processing on upload failed", "document_id", doc.ID, "error", perr)
		return res, nil
	}
	if out != nil && out.Document != nil {
		res.Document = out.Document
	}
	return res, nil
}

func (s *documentService) Get(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	return s.docRepo.GetByID(dbctx.Context{Ctx: ctxutil.Default(ctx)}, id)
}

func (s *documentService) List(ctx context.Context) ([]*types.Document, error) {
	return s.docRepo.List(dbctx.Context{Ctx: ctxutil.Default(ctx)})
}

func (s *documentService) SearchByTag(ctx context.Context, tag string, contains bool) ([]*types.Document, error) {
	if strings.TrimSpace(tag) == "" {
		return nil, fmt.Errorf("%w: tag required", perrors.ErrInvalidInput)
	}
	return s.docRepo.SearchByTag(dbctx.Context{Ctx: ctxutil.Default(ctx)}, tag, contains)
}

func (s *documentService) Update(ctx context.Context, id uuid.UUID, upd types.DocumentUpdate) (*types.Document, error) {
	ctx = ctxutil.Default(ctx)
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		return nil, fmt.Errorf("%w: title cannot be blank", perrors.ErrInvalidInput)
	}
	if upd.Locator != nil {
		ok, err := s.store.Exists(*upd.Locator)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: locator %q does not resolve to a stored blob", perrors.ErrInvalidInput, *upd.Locator)
		}
	}
	return s.docRepo.Update(dbctx.Context{Ctx: ctx}, id, upd)
}

// Delete removes the catalog entry together with its tags and version
// history. Blobs are kept unless purge-on-delete is enabled.
func (s *documentService) Delete(ctx context.Context, id uuid.UUID) error {
	ctx = ctxutil.Default(ctx)

	var purge []string
	err := s.versionRepo.WithDocumentLock(ctx, id, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			dbc := dbctx.Context{Ctx: ctx, Tx: tx}
			doc, err := s.docRepo.GetByID(dbc, id)
			if err != nil {
				return err
			}
			if s.opts.PurgeOnDelete {
				locs, err := s.versionRepo.ListLocatorsByDocument(dbc, id)
				if err != nil {
					return err
				}
				purge = append(locs, doc.Locator)
			}
			if err := s.versionRepo.DeleteByDocumentID(dbc, id); err != nil {
				return err
			}
			return s.docRepo.Delete(dbc, id)
		})
	})
	if err != nil {
		return err
	}

	for _, loc := range dedupe(purge) {
		if err := s.store.Delete(ctx, loc); err != nil && !errors.Is(err, perrors.ErrNotFound) {
			s.log.Warn("failed to purge blob", "document_id", id, "locator", loc, "error", err)
		}
	}
	s.log.Info("document deleted", "document_id", id, "purged_blobs", len(purge))
	return nil
}

func (s *documentService) Folders(ctx context.Context) ([]string, error) {
	locs, err := s.docRepo.ListLocators(dbctx.Context{Ctx: ctxutil.Default(ctx)})
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	out := []string{}
	for _, loc := range locs {
		f := pipeline.SourceFolder(loc)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

func (s *documentService) OpenFile(ctx context.Context, id uuid.UUID) (*DocumentFile, error) {
	ctx = ctxutil.Default(ctx)
	doc, err := s.docRepo.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, err
	}
	f, info, err := s.store.Open(ctx, doc.Locator)
	if err != nil {
		return nil, err
	}

	contentType := "application/octet-stream"
	if mt, derr := mimetype.DetectReader(f); derr == nil && mt != nil {
		contentType = mt.String()
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: rewind %s: %w", perrors.ErrStorageIO, doc.Locator, err)
	}

	return &DocumentFile{
		File:        f,
		Size:        info.Size(),
		ContentType: contentType,
		Filename:    downloadName(doc),
	}, nil
}

func (s *documentService) History(ctx context.Context, id uuid.UUID) ([]*types.DocumentVersion, error) {
	dbc := dbctx.Context{Ctx: ctxutil.Default(ctx)}
	ok, err := s.docRepo.Exists(dbc, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: document %s", perrors.ErrNotFound, id)
	}
	return s.versionRepo.ListByDocument(dbc, id)
}

// downloadName is the title, given the blob's extension when the title has none.
// uploadTitle is the client's filename without directory components. The
// locator's base name is used only when the filename has none.
func uploadTitle(filename, locator string) string {
	base := strings.TrimSpace(path.Base(strings.ReplaceAll(filename, `\`, "/")))
	if base == "" || base == "." || base == "/" || base == ".." {
		return blobstore.OriginalName(locator)
	}
	return base
}

// reservedSubfolder reports whether a user subfolder would land in the
// artifact namespace.
func reservedSubfolder(subfolder string) bool {
	sub := strings.Trim(strings.ReplaceAll(strings.TrimSpace(subfolder), `\`, "/"), "/")
	if sub == "" {
		return false
	}
	first, _, _ := strings.Cut(path.Clean(sub), "/")
	return first == pipeline.VersionsFolder
}

func downloadName(doc *types.Document) string {
	name := strings.TrimSpace(doc.Title)
	ext := path.Ext(blobstore.OriginalName(doc.Locator))
	if name == "" {
		return blobstore.OriginalName(doc.Locator)
	}
	if path.Ext(name) == "" && ext != "" {
		name += ext
	}
	return name
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
