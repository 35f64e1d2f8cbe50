package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// All record methods are safe on a nil receiver so components can run unmetered.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Upstream metrics
	UpstreamFetches  *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	BreakerChanges   *prometheus.CounterVec

	// Rewrite metrics
	DocumentsRewritten prometheus.Counter
	URLsRewritten      prometheus.Counter

	// Progress metrics
	ProgressEvents      *prometheus.CounterVec
	ProgressSubscribers prometheus.Gauge

	// Bridge metrics
	BridgeMessages *prometheus.CounterVec
	PagesActive    prometheus.Gauge

	// Relay metrics
	RelayConnections prometheus.Gauge
	RelayMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for the JSON health endpoint
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON API.
type Snapshot struct {
	TotalRequests   int64 `json:"total_requests"`
	TotalErrors     int64 `json:"total_errors"`
	UpstreamFetches int64 `json:"upstream_fetches"`
	UpstreamErrors  int64 `json:"upstream_errors"`
	ActivePages     int64 `json:"active_pages"`
	Subscribers     int64 `json:"subscribers"`
	UptimeSeconds   int64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viewer_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"router", "method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "viewer_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"router", "method", "route"},
		),

		UpstreamFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viewer_upstream_fetches_total",
				Help: "Total number of upstream fetches by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "viewer_upstream_duration_seconds",
				Help:    "Time until upstream response headers arrive",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		BreakerChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viewer_upstream_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"to"},
		),

		DocumentsRewritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "viewer_documents_rewritten_total",
				Help: "Total number of HTML documents rewritten",
			},
		),
		URLsRewritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "viewer_urls_rewritten_total",
				Help: "Total number of absolute URLs rewritten to synthetic hosts",
			},
		),

		ProgressEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viewer_progress_events_total",
				Help: "Progress events by delivery outcome",
			},
			[]string{"outcome"},
		),
		ProgressSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "viewer_progress_subscribers",
				Help: "Number of live progress subscribers",
			},
		),

		BridgeMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viewer_bridge_messages_total",
				Help: "Inbound bridge messages by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		PagesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "viewer_pages_active",
				Help: "Number of registered pages",
			},
		),

		RelayConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "viewer_relay_connections",
				Help: "Number of active host controller connections",
			},
		),
		RelayMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viewer_relay_messages_total",
				Help: "Relay messages by direction and kind",
			},
			[]string{"direction", "kind"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "viewer_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(router, method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(router, method, route, status).Inc()
	m.RequestDuration.WithLabelValues(router, method, route).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordUpstreamFetch records an upstream fetch outcome and latency.
func (m *Metrics) RecordUpstreamFetch(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamFetches.WithLabelValues(kind, outcome).Inc()
	m.UpstreamDuration.WithLabelValues(kind).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.UpstreamFetches++
	if outcome == OutcomeError {
		m.snapshot.UpstreamErrors++
	}
	m.mu.Unlock()
}

// RecordBreakerChange records a circuit breaker transition.
func (m *Metrics) RecordBreakerChange(to string) {
	if m == nil {
		return
	}
	m.BreakerChanges.WithLabelValues(to).Inc()
}

// RecordRewrite records a rewritten document and its URL count.
func (m *Metrics) RecordRewrite(urls int) {
	if m == nil {
		return
	}
	m.DocumentsRewritten.Inc()
	m.URLsRewritten.Add(float64(urls))
}

// RecordProgressEvent records a progress publish outcome.
func (m *Metrics) RecordProgressEvent(outcome string) {
	if m == nil {
		return
	}
	m.ProgressEvents.WithLabelValues(outcome).Inc()
}

// SetProgressSubscribers sets the live subscriber count.
func (m *Metrics) SetProgressSubscribers(count int) {
	if m == nil {
		return
	}
	m.ProgressSubscribers.Set(float64(count))
	m.mu.Lock()
	m.snapshot.Subscribers = int64(count)
	m.mu.Unlock()
}

// RecordBridgeMessage records an inbound bridge message.
func (m *Metrics) RecordBridgeMessage(msgType, outcome string) {
	if m == nil {
		return
	}
	m.BridgeMessages.WithLabelValues(msgType, outcome).Inc()
}

// SetPagesActive sets the number of registered pages.
func (m *Metrics) SetPagesActive(count int) {
	if m == nil {
		return
	}
	m.PagesActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActivePages = int64(count)
	m.mu.Unlock()
}

// IncRelayConnections increments relay connections
func (m *Metrics) IncRelayConnections() {
	if m == nil {
		return
	}
	m.RelayConnections.Inc()
}

// DecRelayConnections decrements relay connections
func (m *Metrics) DecRelayConnections() {
	if m == nil {
		return
	}
	m.RelayConnections.Dec()
}

// RecordRelayMessage records a relay message
func (m *Metrics) RecordRelayMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.RelayMessages.WithLabelValues(direction, kind).Inc()
}

// Snapshot returns a copy of the current values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = int64(time.Since(m.startTime).Seconds())
	return s
}
