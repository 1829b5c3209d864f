package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/paperbridge-backend/internal/http/response"
	perrors "github.com/yungbote/paperbridge-backend/internal/pkg/errors"
	"github.com/yungbote/paperbridge-backend/internal/platform/apierr"
	"github.com/yungbote/paperbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

// RequestLogger writes one line per request. Failed requests carry the error
// code and, for pipeline failures, the stage; rejected path escapes are
// tagged as security events.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	log = log.With("handler", "RequestLogger")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if id := c.Param("id"); id != "" {
			fields = append(fields, "document_id", id)
		}
		if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
			fields = append(fields, "trace_id", td.TraceID, "request_id", td.RequestID)
		}

		security := false
		if last := c.Errors.Last(); last != nil {
			err := last.Err
			fields = append(fields, "error", err.Error())
			if ae := apierr.FromError(err); ae != nil {
				fields = append(fields, "error_code", ae.Code)
			}
			if stage := response.StageOf(err); stage != "" {
				fields = append(fields, "stage", stage)
			}
			if errors.Is(err, perrors.ErrPathEscape) {
				security = true
				fields = append(fields, "security_event", "path_escape")
			}
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400 || security:
			log.Warn("HTTP request", fields...)
		case unobservedRoutes[route]:
			log.Debug("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
