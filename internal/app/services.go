package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/paperbridge-backend/internal/ingestion/embedder"
	"github.com/yungbote/paperbridge-backend/internal/ingestion/extractor"
	"github.com/yungbote/paperbridge-backend/internal/ingestion/normalize"
	"github.com/yungbote/paperbridge-backend/internal/ingestion/pipeline"
	"github.com/yungbote/paperbridge-backend/internal/observability"
	"github.com/yungbote/paperbridge-backend/internal/platform/blobstore"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
	"github.com/yungbote/paperbridge-backend/internal/services"
)

type Services struct {
	Store      blobstore.Store
	Pipeline   *pipeline.Pipeline
	Processing services.ProcessingService
	Documents  services.DocumentService
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, clients Clients, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	store, err := blobstore.New(log, cfg.StorageRoot, blobstore.WithSecurityObserver(func(op, input string) {
		metrics.IncSecurityEvent("path_escape")
	}))
	if err != nil {
		return Services{}, fmt.Errorf("init blob store: %w", err)
	}
	if err := store.Init(); err != nil {
		return Services{}, fmt.Errorf("init blob store root: %w", err)
	}

	spec := pipeline.LoadSpec(log)
	var normalizer pipeline.Normalizer
	switch cfg.NormalizeProvider {
	case NormalizeProviderImage, "":
		normalizer = normalize.NewImage(log, normalize.ImageConfig{
			MaxDimension:    spec.ConfigInt(pipeline.StageNormalize, "max_dimension", 2400),
			Grayscale:       spec.ConfigBool(pipeline.StageNormalize, "grayscale", true),
			ContrastStretch: spec.ConfigBool(pipeline.StageNormalize, "contrast_stretch", true),
			MaxPixels:       int64(spec.ConfigInt(pipeline.StageNormalize, "max_pixels", int(normalize.DefaultMaxPixels))),
		})
	case NormalizeProviderPassthrough:
		normalizer = normalize.Passthrough{}
	default:
		return Services{}, fmt.Errorf("unsupported NORMALIZE_PROVIDER %q", cfg.NormalizeProvider)
	}

	native := extractor.NewNative(log, int64(spec.ConfigInt(pipeline.StageExtract, "max_native_bytes", int(extractor.DefaultMaxNativeBytes))))
	var x pipeline.Extractor = native
	if clients.GcpVision != nil {
		var docai extractor.DocumentOCR
		if clients.GcpDocument != nil {
			docai = clients.GcpDocument
		}
		x = extractor.NewGCP(log, clients.GcpVision, docai, clients.DocAI, native)
	}

	var e pipeline.Embedder = embedder.None{}
	if clients.Openai != nil {
		batch := cfg.EmbedBatchSize
		if batch <= 0 {
			batch = spec.ConfigInt(pipeline.StageEmbed, "batch_size", 64)
		}
		e = embedder.NewBatched(log, clients.Openai, embedder.Options{
			BatchSize:   batch,
			Concurrency: spec.ConfigInt(pipeline.StageEmbed, "concurrency", 4),
			MaxChars:    spec.ConfigInt(pipeline.StageEmbed, "max_chars", 0),
		})
	}

	p, err := pipeline.New(log, store, normalizer, x, e,
		pipeline.WithSpec(spec),
		pipeline.WithMetrics(metrics),
	)
	if err != nil {
		return Services{}, fmt.Errorf("init pipeline: %w", err)
	}

	processing := services.NewProcessingService(db, log, store, p, reposet.Document, reposet.DocumentVersion, metrics)
	documents := services.NewDocumentService(db, log, store, reposet.Document, reposet.DocumentVersion, processing, metrics, services.DocumentServiceOptions{
		ProcessOnUpload: cfg.ProcessOnUpload,
		PurgeOnDelete:   cfg.PurgeOnDelete,
	})

	return Services{
		Store:      store,
		Pipeline:   p,
		Processing: processing,
		Documents:  documents,
	}, nil
}
