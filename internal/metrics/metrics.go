// Package metrics exposes Prometheus collectors for the status publisher and
// the optional metrics endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/training-status/internal/progress"
)

// Metrics holds the collectors registered for one process. It satisfies
// progress.Observer so a Publisher can report into it directly.
type Metrics struct {
	registry *prometheus.Registry

	publishesTotal             *prometheus.CounterVec
	publishDurationSeconds     prometheus.Histogram
	droppedTotal               prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
}

var _ progress.Observer = (*Metrics)(nil)

// New registers the collectors on reg. Pass a fresh prometheus.Registry in
// tests; production code uses prometheus.NewRegistry() once per process.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		publishesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "status_publishes_total",
				Help: "Total number of status snapshot publishes, labeled by result.",
			},
			[]string{"result"},
		),
		publishDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "status_publish_duration_seconds",
				Help:    "Histogram of status publish latencies across all sinks.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		droppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "status_snapshots_dropped_total",
				Help: "Total number of snapshots dropped because a publish was in flight.",
			},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns a fresh registry that also carries the Go runtime and
// process collectors.
func Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ObservePublish records one publish outcome and its latency.
func (m *Metrics) ObservePublish(result string, dur time.Duration) {
	if m == nil {
		return
	}
	m.publishesTotal.WithLabelValues(result).Inc()
	m.publishDurationSeconds.Observe(dur.Seconds())
}

// ObserveDrop counts a snapshot discarded by the publisher.
func (m *Metrics) ObserveDrop() {
	if m == nil {
		return
	}
	m.droppedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Registerer returns the registry so other collectors can join the same endpoint.
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registry
}

// Handler returns an http.Handler exposing the registry this Metrics was built on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
