package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Upstream fetch outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeUpstream = "upstream_status"
	OutcomeError    = "error"
)

// Middleware creates a Gin middleware for metrics collection.
// Routes are labelled by their registered pattern to keep cardinality bounded.
func Middleware(metrics *Metrics, router string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "*"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(router, c.Request.Method, route, status, time.Since(start))
	}
}

// Timer measures upstream fetch duration
type Timer struct {
	start   time.Time
	metrics *Metrics
	kind    string
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, kind string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		kind:    kind,
	}
}

// Stop stops the timer and records the outcome
func (t *Timer) Stop(outcome string) time.Duration {
	duration := time.Since(t.start)
	t.metrics.RecordUpstreamFetch(t.kind, outcome, duration)
	return duration
}
