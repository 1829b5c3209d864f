package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/paperbridge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/paperbridge-backend/internal/http/middleware"
	"github.com/yungbote/paperbridge-backend/internal/observability"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log          *logger.Logger
	Metrics      *observability.Metrics
	AllowOrigins []string
	ServiceName  string

	DocumentHandler *httpH.DocumentHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	{
		// Documents
		if h := cfg.DocumentHandler; h != nil {
			api.GET("/documents", h.List)
			api.POST("/documents", h.Upload)
			api.GET("/documents/search", h.Search)
			api.GET("/documents/folders", h.Folders)
			api.GET("/documents/:id", h.Get)
			api.PUT("/documents/:id", h.Update)
			api.DELETE("/documents/:id", h.Delete)
			api.GET("/documents/:id/file", h.File)
			api.GET("/documents/:id/history", h.History)
			api.POST("/documents/:id/process", h.Process)
			api.POST("/documents/:id/versions", h.AddVersion)
		}
	}

	return r
}
