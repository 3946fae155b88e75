package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/attendnet/attendnet-api/internal/service"
)

type databasePinger interface {
	Ping() error
}

// MetricsHandler exposes the health check and the Prometheus scrape endpoint.
type MetricsHandler struct {
	metrics *service.MetricsService
	db      databasePinger
}

// NewMetricsHandler constructs a metrics handler. The database handle is
// optional; when present the health check reports degraded on ping failure.
func NewMetricsHandler(metrics *service.MetricsService, db databasePinger) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, db: db}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health reports liveness plus database reachability.
func (h *MetricsHandler) Health(c *gin.Context) {
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
