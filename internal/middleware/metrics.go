package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/attendnet/attendnet-api/internal/service"
)

// Metrics records per-route request counts and latencies. Routes are labeled
// by their template (for example /sessions/:id/scan) so session IDs and MAC
// tokens never become label values. Scrapes of /metrics itself are not
// recorded.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
