package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the provisioning engine. A nil
// or disabled Metrics is safe to use; every record method becomes a no-op.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   prometheus.Histogram

	// Action metrics
	actionsExecuted *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec

	// Inspection metrics
	queriesTotal  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec

	// Backend metrics
	backendErrors *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
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

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"dry_run"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
		),
		actionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_executed_total",
				Help:      "Total number of actions executed by kind, type, and status",
			},
			[]string{"kind", "action", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of backend apply calls in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "action"},
		),
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of state inspections by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Duration of backend query calls in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		backendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_errors_total",
				Help:      "Total number of backend errors by backend and operation",
			},
			[]string{"backend", "operation"},
		),
	}

	collectors := []prometheus.Collector{
		m.runsStarted, m.runsCompleted, m.runDuration,
		m.actionsExecuted, m.actionDuration,
		m.queriesTotal, m.queryDuration,
		m.backendErrors,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.config.Enabled
}

// RecordRunStarted increments the run start counter.
func (m *Metrics) RecordRunStarted(dryRun bool) {
	if !m.enabled() {
		return
	}
	label := "false"
	if dryRun {
		label = "true"
	}
	m.runsStarted.WithLabelValues(label).Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// RecordAction records an executed action.
func (m *Metrics) RecordAction(kind, action, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.actionsExecuted.WithLabelValues(kind, action, status).Inc()
	m.actionDuration.WithLabelValues(kind, action).Observe(duration.Seconds())
}

// RecordQuery records a state inspection.
func (m *Metrics) RecordQuery(kind string, failed bool, duration time.Duration) {
	if !m.enabled() {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "unknown"
	}
	m.queriesTotal.WithLabelValues(kind, outcome).Inc()
	m.queryDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordBackendError increments the backend error counter.
func (m *Metrics) RecordBackendError(backend, operation string) {
	if !m.enabled() {
		return
	}
	m.backendErrors.WithLabelValues(backend, operation).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartMetricsServer starts the metrics HTTP server in the background.
func (m *Metrics) StartMetricsServer() error {
	if !m.enabled() {
		return nil
	}
	mux := http.NewServeMux()
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, m.Handler())
	go func() {
		_ = http.ListenAndServe(m.config.ListenAddress, mux)
	}()
	return nil
}
