package app

import (
	"strings"

	"github.com/yungbote/paperbridge-backend/internal/data/db"
	"github.com/yungbote/paperbridge-backend/internal/http/handlers"
	"github.com/yungbote/paperbridge-backend/internal/http/middleware"
	"github.com/yungbote/paperbridge-backend/internal/platform/envutil"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

const (
	NormalizeProviderImage       = "image"
	NormalizeProviderPassthrough = "passthrough"

	OCRProviderNative = "native"
	OCRProviderGCP    = "gcp"

	EmbedProviderNone   = "none"
	EmbedProviderOpenAI = "openai"
)

type Config struct {
	Port        string
	ServiceName string
	Environment string
	Version     string

	StorageRoot string
	DB          db.Config

	NormalizeProvider string
	OCRProvider       string
	EmbedProvider     string
	EmbedBatchSize    int

	ProcessOnUpload bool
	PurgeOnDelete   bool
	MaxUploadBytes  int64
	AllowOrigins    []string

	RedisAddr string
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:              envutil.String("PORT", "8080"),
		ServiceName:       envutil.String("OTEL_SERVICE_NAME", "paperbridge"),
		Environment:       envutil.String("APP_ENV", "development"),
		Version:           envutil.String("APP_VERSION", "dev"),
		StorageRoot:       envutil.String("STORAGE_LOCATION", "data"),
		DB:                db.ConfigFromEnv(),
		NormalizeProvider: strings.ToLower(envutil.String("NORMALIZE_PROVIDER", NormalizeProviderImage)),
		OCRProvider:       strings.ToLower(envutil.String("OCR_PROVIDER", OCRProviderNative)),
		EmbedProvider:     strings.ToLower(envutil.String("EMBED_PROVIDER", EmbedProviderNone)),
		EmbedBatchSize:    envutil.Int("OPENAI_EMBED_BATCH", 0),
		ProcessOnUpload:   envutil.Bool("PIPELINE_ON_UPLOAD", true),
		PurgeOnDelete:     envutil.Bool("PURGE_BLOBS_ON_DELETE", false),
		MaxUploadBytes:    envutil.Int64("MAX_UPLOAD_BYTES", handlers.DefaultMaxUploadBytes),
		AllowOrigins:      envutil.List("CORS_ALLOWED_ORIGINS", middleware.DefaultAllowOrigins),
		RedisAddr:         envutil.String("REDIS_ADDR", ""),
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = handlers.DefaultMaxUploadBytes
	}
	if log != nil {
		log.Info("Config loaded",
			"port", cfg.Port,
			"storage_root", cfg.StorageRoot,
			"db_driver", cfg.DB.Driver,
			"normalize_provider", cfg.NormalizeProvider,
			"ocr_provider", cfg.OCRProvider,
			"embed_provider", cfg.EmbedProvider,
			"process_on_upload", cfg.ProcessOnUpload,
			"purge_on_delete", cfg.PurgeOnDelete,
		)
	}
	return cfg
}
