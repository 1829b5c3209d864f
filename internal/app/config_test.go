package app

import (
	"testing"

	"github.com/yungbote/paperbridge-backend/internal/data/db"
	"github.com/yungbote/paperbridge-backend/internal/http/handlers"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "STORAGE_LOCATION", "DB_DRIVER", "NORMALIZE_PROVIDER", "OCR_PROVIDER", "EMBED_PROVIDER", "PIPELINE_ON_UPLOAD", "PURGE_BLOBS_ON_DELETE", "MAX_UPLOAD_BYTES", "CORS_ALLOWED_ORIGINS", "REDIS_ADDR"} {
		t.Setenv(k, "")
	}
	cfg := LoadConfig(nil)
	if cfg.Port != "8080" || cfg.StorageRoot != "data" {
		t.Fatalf("port/storage: %q %q", cfg.Port, cfg.StorageRoot)
	}
	if cfg.NormalizeProvider != NormalizeProviderImage {
		t.Fatalf("normalize provider: %q", cfg.NormalizeProvider)
	}
	if cfg.DB.Driver != db.DriverSQLite {
		t.Fatalf("driver: %q", cfg.DB.Driver)
	}
	if cfg.OCRProvider != OCRProviderNative || cfg.EmbedProvider != EmbedProviderNone {
		t.Fatalf("providers: %q %q", cfg.OCRProvider, cfg.EmbedProvider)
	}
	if !cfg.ProcessOnUpload || cfg.PurgeOnDelete {
		t.Fatalf("flags: process=%v purge=%v", cfg.ProcessOnUpload, cfg.PurgeOnDelete)
	}
	if cfg.MaxUploadBytes != handlers.DefaultMaxUploadBytes {
		t.Fatalf("max upload: %d", cfg.MaxUploadBytes)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("OCR_PROVIDER", "GCP")
	t.Setenv("EMBED_PROVIDER", "openai")
	t.Setenv("PURGE_BLOBS_ON_DELETE", "yes")
	t.Setenv("MAX_UPLOAD_BYTES", "-5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := LoadConfig(nil)
	if cfg.OCRProvider != OCRProviderGCP || cfg.EmbedProvider != EmbedProviderOpenAI {
		t.Fatalf("providers: %q %q", cfg.OCRProvider, cfg.EmbedProvider)
	}
	if !cfg.PurgeOnDelete {
		t.Fatalf("expected purge on delete")
	}
	if cfg.MaxUploadBytes != handlers.DefaultMaxUploadBytes {
		t.Fatalf("non-positive limit should fall back, got %d", cfg.MaxUploadBytes)
	}
	if len(cfg.AllowOrigins) != 2 || cfg.AllowOrigins[1] != "https://b.example" {
		t.Fatalf("origins: %v", cfg.AllowOrigins)
	}
}

func TestWireClientsRejectsUnknownProvider(t *testing.T) {
	cfg := Config{OCRProvider: "tesseract"}
	if _, err := wireClients(logger.NewNop(), cfg); err == nil {
		t.Fatalf("expected error for unknown OCR provider")
	}
	cfg = Config{EmbedProvider: "cohere"}
	if _, err := wireClients(logger.NewNop(), cfg); err == nil {
		t.Fatalf("expected error for unknown embed provider")
	}
}
