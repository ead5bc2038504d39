package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics encapsulates Prometheus metrics for the server.
type Metrics struct {
	registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  *prometheus.GaugeVec
	ErrorsTotal     *prometheus.CounterVec
	RateLimitHits   prometheus.Counter

	// Completion client
	CompletionRequests *prometheus.CounterVec
	CompletionDuration prometheus.Histogram

	// Dialogue service and store
	DialogueFallbacks *prometheus.CounterVec
	StoreOperations   *prometheus.CounterVec
	StoreDuration     *prometheus.HistogramVec

	// Execution pools
	PoolActive *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with a custom registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colloquy_http_requests_total",
				Help: "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "colloquy_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "colloquy_http_active_requests",
				Help: "Number of currently active HTTP requests",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colloquy_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type"},
		),
		RateLimitHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "colloquy_rate_limit_hits_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
		),
		CompletionRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colloquy_completion_requests_total",
				Help: "Completion calls by outcome",
			},
			[]string{"outcome"},
		),
		CompletionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "colloquy_completion_duration_seconds",
				Help:    "Latency of completion calls in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		DialogueFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colloquy_dialogue_fallbacks_total",
				Help: "Dialogues answered with the fallback text, by reason",
			},
			[]string{"reason"},
		),
		StoreOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colloquy_store_operations_total",
				Help: "Dialogue store operations by operation and status",
			},
			[]string{"op", "status"},
		),
		StoreDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "colloquy_store_duration_seconds",
				Help:    "Duration of dialogue store operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		PoolActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "colloquy_pool_active_tasks",
				Help: "Tasks currently holding a slot, by pool",
			},
			[]string{"pool"},
		),
	}

	// Register default Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize some default metrics
	m.RequestsTotal.WithLabelValues("/health", "200").Add(0)
	m.RequestsTotal.WithLabelValues("/metrics", "200").Add(0)
	m.RequestDuration.WithLabelValues("/health").Observe(0)
	m.RequestDuration.WithLabelValues("/metrics").Observe(0)
	for _, pool := range []string{"network", "storage"} {
		m.PoolActive.WithLabelValues(pool).Set(0)
	}

	return m
}

// Registry exposes the registry so components with their own collectors,
// such as the circuit breaker, can register on it.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns a handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false, // Disable OpenMetrics format to avoid escaping=values
	})
}
