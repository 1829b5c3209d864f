package app

import (
	"github.com/yungbote/paperbridge-backend/internal/http"
	"github.com/yungbote/paperbridge-backend/internal/observability"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *http.Server {
	log.Info("Wiring router...")
	return http.NewServer(http.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		AllowOrigins:    cfg.AllowOrigins,
		ServiceName:     cfg.ServiceName,
		DocumentHandler: handlers.Document,
		HealthHandler:   handlers.Health,
	})
}
