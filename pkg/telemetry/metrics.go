package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for pdreach.
type Metrics struct {
	config MetricsConfig

	// Saturation metrics
	saturations        *prometheus.CounterVec
	saturationDuration *prometheus.HistogramVec
	edgesAdded         *prometheus.CounterVec
	statesAdded        *prometheus.CounterVec

	// Query metrics
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	activeQueries prometheus.Gauge

	batches          prometheus.Counter
	policyViolations *prometheus.CounterVec
	errorsByClass    *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a metrics collector. A disabled config yields a
// collector whose record methods do nothing.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		saturations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saturations_total",
				Help:      "Total number of saturation runs",
			},
			[]string{"direction"},
		),
		saturationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "saturation_duration_seconds",
				Help:      "Duration of pre* and post* saturation in seconds",
				Buckets:   buckets,
			},
			[]string{"direction"},
		),
		edgesAdded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "automaton_edges_added",
				Help:      "Transitions added by saturation",
			},
			[]string{"direction"},
		),
		statesAdded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "automaton_states_added",
				Help:      "States added by saturation",
			},
			[]string{"direction"},
		),

		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of reachability queries",
			},
			[]string{"direction", "verdict"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Duration of reachability queries in seconds",
				Buckets:   buckets,
			},
			[]string{"direction"},
		),
		activeQueries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_queries",
				Help:      "Queries currently being solved",
			},
		),

		batches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of query batches run",
			},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Policy violations reported against run reports",
			},
			[]string{"policy"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.saturations,
		m.saturationDuration,
		m.edgesAdded,
		m.statesAdded,
		m.queries,
		m.queryDuration,
		m.activeQueries,
		m.batches,
		m.policyViolations,
		m.errorsByClass,
	)

	return m, nil
}

// RecordSaturation records one completed saturation run.
func (m *Metrics) RecordSaturation(direction string, duration time.Duration, edges, states int) {
	if m.saturations == nil {
		return
	}
	m.saturations.WithLabelValues(direction).Inc()
	m.saturationDuration.WithLabelValues(direction).Observe(duration.Seconds())
	m.edgesAdded.WithLabelValues(direction).Add(float64(edges))
	m.statesAdded.WithLabelValues(direction).Add(float64(states))
}

// QueryStarted marks a query as in flight.
func (m *Metrics) QueryStarted() {
	if m.activeQueries == nil {
		return
	}
	m.activeQueries.Inc()
}

// RecordQuery records a finished query with its verdict.
func (m *Metrics) RecordQuery(direction, verdict string, duration time.Duration) {
	if m.queries == nil {
		return
	}
	m.queries.WithLabelValues(direction, verdict).Inc()
	m.queryDuration.WithLabelValues(direction).Observe(duration.Seconds())
	m.activeQueries.Dec()
}

// RecordBatch counts a finished batch.
func (m *Metrics) RecordBatch() {
	if m.batches == nil {
		return
	}
	m.batches.Inc()
}

// RecordPolicyViolation counts a violation reported by the named policy.
func (m *Metrics) RecordPolicyViolation(policy string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Registry exposes the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint in the background when a
// listen address is configured.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()

	return nil
}

// Shutdown stops the metrics server if one was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
