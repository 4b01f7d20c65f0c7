// Package metrics exposes Prometheus metrics for the autodj service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the collectors registered for one registry.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	feedbackApplied  *prometheus.CounterVec
	storeErrors      *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	scanDuration     prometheus.Histogram
	libraryTracks    prometheus.Gauge
	scoreRows        prometheus.Gauge
	websocketClients prometheus.Gauge
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace sets the metric namespace.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithHistogramBuckets sets the latency histogram buckets (milliseconds).
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithRegistry registers collectors on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// NewManager creates a Manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "autodj",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	auto := promauto.With(m.registry)
	m.feedbackApplied = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "feedback_applied_total",
		Help:      "Feedback events folded into the experience store, by label.",
	}, []string{"label"})
	m.storeErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "store_errors_total",
		Help:      "Experience store operations that failed, by operation.",
	}, []string{"op"})
	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "status_code"})
	m.httpDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds.",
		Buckets:   m.histogramBuckets,
	}, []string{"route", "method"})
	m.scanDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "library_scan_duration_milliseconds",
		Help:      "Library scan duration in milliseconds.",
		Buckets:   m.histogramBuckets,
	})
	m.libraryTracks = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "library_tracks",
		Help:      "Tracks in the current library snapshot.",
	})
	m.scoreRows = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "experience_score_rows",
		Help:      "Rows in the experience score table.",
	})
	m.websocketClients = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "websocket_clients",
		Help:      "Connected state websocket clients.",
	})
	return m
}

func (m *Manager) RecordFeedback(label string)   { m.feedbackApplied.WithLabelValues(label).Inc() }
func (m *Manager) RecordStoreError(op string)    { m.storeErrors.WithLabelValues(op).Inc() }
func (m *Manager) RecordScanDuration(ms float64) { m.scanDuration.Observe(ms) }
func (m *Manager) SetLibraryTracks(n int)        { m.libraryTracks.Set(float64(n)) }
func (m *Manager) SetScoreRows(n int)            { m.scoreRows.Set(float64(n)) }
func (m *Manager) WebsocketConnected()           { m.websocketClients.Inc() }
func (m *Manager) WebsocketDisconnected()        { m.websocketClients.Dec() }

// RecordHTTPRequest counts one request and observes its duration.
func (m *Manager) RecordHTTPRequest(route, method, statusCode string, durationMs float64) {
	m.httpRequests.WithLabelValues(route, method, statusCode).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(durationMs)
}

// Registry returns the registry collectors are registered on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
