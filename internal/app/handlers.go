package app

import (
	"gorm.io/gorm"

	httpH "github.com/yungbote/paperbridge-backend/internal/http/handlers"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Document *httpH.DocumentHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, cfg Config, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(db),
		Document: httpH.NewDocumentHandler(log, services.Documents, services.Processing, cfg.MaxUploadBytes),
	}
}
