package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/paperbridge-backend/internal/observability"
)

// unmatchedRoute labels requests that hit no registered route, which keeps
// arbitrary probe paths out of the route label.
const unmatchedRoute = "unmatched"

var unobservedRoutes = map[string]bool{
	"/metrics":     true,
	"/healthcheck": true,
}

// Metrics records per-route request counts, latency and in-flight requests.
// Scrape and health probes are not counted.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		if unobservedRoutes[c.FullPath()] {
			c.Next()
			return
		}
		start := time.Now()
		m.ApiInflightInc()
		defer m.ApiInflightDec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
