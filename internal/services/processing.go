package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

// Runner executes the processing pipeline over a stored blob.
type Runner interface {
	Run(ctx context.Context, locator string) (types.ProcessingResult, *pipeline.Run, error)
}

type ProcessingService interface {
	// Process runs the pipeline over the document's current blob and, on
	// success, appends a version and refreshes the catalog entry.
	Process(ctx context.Context, documentID uuid.UUID, changeDescription string) (*ProcessOutcome, error)
	// AddRevision stores data as a new blob beside the current one and
	// processes it as the next version.
	AddRevision(ctx context.Context, documentID uuid.UUID, filename string, data []byte, changeDescription string) (*ProcessOutcome, error)
}

// ProcessOutcome is returned alongside pipeline errors too, so callers can
// report the failed run.
type ProcessOutcome struct {
	Document *types.Document
	Version  *types.DocumentVersion
	Run      *pipeline.Run
}

type processingService struct {
	db          *gorm.DB
	log         *logger.Logger
	store       blobstore.Store
	runner      Runner
	docRepo     repos.DocumentRepo
	versionRepo repos.DocumentVersionRepo
	metrics     *observability.Metrics
}

func NewProcessingService(
	db *gorm.DB,
	baseLog *logger.Logger,
	store blobstore.Store,
	runner Runner,
	docRepo repos.DocumentRepo,
	versionRepo repos.DocumentVersionRepo,
	metrics *observability.Metrics,
) ProcessingService {
	return &processingService{
		db:          db,
		log:         baseLog.With("service", "ProcessingService"),
		store:       store,
		runner:      runner,
		docRepo:     docRepo,
		versionRepo: versionRepo,
		metrics:     metrics,
	}
}

func (s *processingService) Process(ctx context.Context, documentID uuid.UUID, changeDescription string) (*ProcessOutcome, error) {
	ctx = ctxutil.Default(ctx)
	doc, err := s.docRepo.GetByID(dbctx.Context{Ctx: ctx}, documentID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(changeDescription) == "" {
		changeDescription = "reprocessed"
	}
	return s.processLocator(ctx, doc, doc.Locator, changeDescription)
}

func (s *processingService) AddRevision(ctx context.Context, documentID uuid.UUID, filename string, data []byte, changeDescription string) (*ProcessOutcome, error) {
	ctx = ctxutil.Default(ctx)
	doc, err := s.docRepo.GetByID(dbctx.Context{Ctx: ctx}, documentID)
	if err != nil {
		return nil, err
	}

	locator, err := s.store.Store(ctx, data, filename, pipeline.SourceFolder(doc.Locator))
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveBlobStored("revision", len(data))

	if strings.TrimSpace(changeDescription) == "" {
		changeDescription = "new revision: " + blobstore.OriginalName(locator)
	}
	out, err := s.processLocator(ctx, doc, locator, changeDescription)
	if err != nil {
		s.discardBlob(ctx, locator, "revision upload")
		return out, err
	}
	return out, nil
}

func (s *processingService) processLocator(ctx context.Context, doc *types.Document, locator, changeDescription string) (*ProcessOutcome, error) {
	result, run, err := s.runner.Run(ctx, locator)
	if err != nil {
		return &ProcessOutcome{Document: doc, Run: run}, err
	}
	version, updated, err := s.record(ctx, doc.ID, result, changeDescription)
	if err != nil {
		s.discardBlob(ctx, result.Locator(), "unrecorded artifact")
		return &ProcessOutcome{Document: doc, Run: run}, err
	}
	s.metrics.IncVersionAppended()
	s.log.Info("document processed",
		"document_id", doc.ID,
		"version", version.VersionNumber,
		"locator", result.Locator(),
	)
	return &ProcessOutcome{Document: updated, Version: version, Run: run}, nil
}

// record appends the version and refreshes the catalog entry in one
// transaction while holding the document's version lock.
func (s *processingService) record(ctx context.Context, documentID uuid.UUID, result types.ProcessingResult, changeDescription string) (*types.DocumentVersion, *types.Document, error) {
	var (
		version *types.DocumentVersion
		doc     *types.Document
	)
	err := s.versionRepo.WithDocumentLock(ctx, documentID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			dbc := dbctx.Context{Ctx: ctx, Tx: tx}
			v, err := s.versionRepo.Append(dbc, documentID, result, changeDescription)
			if err != nil {
				return fmt.Errorf("append version: %w", err)
			}
			d, err := s.docRepo.ApplyProcessingResult(dbc, documentID, result)
			if err != nil {
				return fmt.Errorf("apply processing result: %w", err)
			}
			version, doc = v, d
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return version, doc, nil
}

func (s *processingService) discardBlob(ctx context.Context, locator, reason string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), locator); err != nil && !errors.Is(err, perrors.ErrNotFound) {
		s.log.Warn("failed to discard blob", "locator", locator, "reason", reason, "error", err)
	}
}
