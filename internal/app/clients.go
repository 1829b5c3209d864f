package app

import (
	"fmt"
	"io"

	"github.com/yungbote/paperbridge-backend/internal/platform/gcp"
	"github.com/yungbote/paperbridge-backend/internal/platform/keylock"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
	"github.com/yungbote/paperbridge-backend/internal/platform/openai"
)

type Clients struct {
	GcpVision   gcp.Vision
	GcpDocument gcp.Document
	DocAI       gcp.DocAIConfig
	Openai      openai.Client
	Locker      keylock.Locker
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	// Version ledger lock
	if cfg.RedisAddr != "" {
		l, err := keylock.NewRedis(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis key lock: %w", err)
		}
		out.Locker = l
	} else {
		out.Locker = keylock.NewLocal()
	}

	// Gcp
	switch cfg.OCRProvider {
	case OCRProviderNative, "":
	case OCRProviderGCP:
		vision, err := gcp.NewVision(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init vision client: %w", err)
		}
		out.GcpVision = vision
		out.DocAI = gcp.DocAIConfigFromEnv()
		if out.DocAI.Configured() {
			document, err := gcp.NewDocument(log, out.DocAI.Location)
			if err != nil {
				out.Close()
				return Clients{}, fmt.Errorf("init document client: %w", err)
			}
			out.GcpDocument = document
		} else {
			log.Warn("DocumentAI processor not configured; PDFs use native extraction")
		}
	default:
		return Clients{}, fmt.Errorf("unsupported OCR_PROVIDER %q", cfg.OCRProvider)
	}

	// Openai
	switch cfg.EmbedProvider {
	case EmbedProviderNone, "":
	case EmbedProviderOpenAI:
		client, err := openai.NewClient(log)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init openai client: %w", err)
		}
		out.Openai = client
	default:
		out.Close()
		return Clients{}, fmt.Errorf("unsupported EMBED_PROVIDER %q", cfg.EmbedProvider)
	}

	return out, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.GcpDocument != nil {
		_ = c.GcpDocument.Close()
	}
	if c.GcpVision != nil {
		_ = c.GcpVision.Close()
	}
	if closer, ok := c.Locker.(io.Closer); ok {
		_ = closer.Close()
	}
}
