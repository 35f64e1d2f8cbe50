package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/spatialviewer/backend/internal/domain/registry"
	"github.com/spatialviewer/backend/internal/infrastructure/monitoring"
)

// MetricsSnapshot is the JSON view of the service counters.
type MetricsSnapshot struct {
	Timestamp time.Time           `json:"timestamp"`
	Counters  monitoring.Snapshot `json:"counters"`
	Pages     registry.Stats      `json:"pages"`
	Breakers  map[string]string   `json:"breakers"`
	Summary   MetricsSummary      `json:"summary"`
}

// MetricsSummary provides derived ratios.
type MetricsSummary struct {
	ErrorRate         float64 `json:"error_rate"`
	UpstreamErrorRate float64 `json:"upstream_error_rate"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
}

// Metrics exposes the Prometheus registry.
func (h *Handlers) Metrics(c *gin.Context) {
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// MetricsJSON returns a JSON summary of the counters.
func (h *Handlers) MetricsJSON(c *gin.Context) {
	counters := h.metrics.Snapshot()
	c.JSON(http.StatusOK, MetricsSnapshot{
		Timestamp: time.Now(),
		Counters:  counters,
		Pages:     h.pages.Stats(),
		Breakers:  h.breakerStates(),
		Summary:   summarize(counters),
	})
}

func summarize(s monitoring.Snapshot) MetricsSummary {
	summary := MetricsSummary{UptimeSeconds: s.UptimeSeconds}
	if s.TotalRequests > 0 {
		summary.ErrorRate = float64(s.TotalErrors) / float64(s.TotalRequests)
	}
	if s.UpstreamFetches > 0 {
		summary.UpstreamErrorRate = float64(s.UpstreamErrors) / float64(s.UpstreamFetches)
	}
	return summary
}
