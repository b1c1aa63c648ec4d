package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gantry-io/gantry/pkg/engine"
)

// Metrics exposes provisioning counters to Prometheus. It implements
// engine.Metrics; a Metrics built from a disabled config is a no-op.
type Metrics struct {
	config MetricsConfig

	resourcesApplied *prometheus.CounterVec
	resourcesFailed  *prometheus.CounterVec
	retriesScheduled *prometheus.CounterVec
	applyDuration    *prometheus.HistogramVec
	runsCompleted    *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	activeRuns       prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		resourcesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_applied_total",
				Help:      "Total number of resources applied",
			},
			[]string{"kind", "action"},
		),
		resourcesFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_failed_total",
				Help:      "Total number of resources that failed to apply",
			},
			[]string{"kind"},
		),
		retriesScheduled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_scheduled_total",
				Help:      "Total number of retries scheduled after retryable provider errors",
			},
			[]string{"kind"},
		),
		applyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resource_apply_duration_seconds",
				Help:      "Duration of per-resource apply in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "action"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of provisioning runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of provisioning runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active provisioning runs",
			},
		),
	}

	registry.MustRegister(
		m.resourcesApplied,
		m.resourcesFailed,
		m.retriesScheduled,
		m.applyDuration,
		m.runsCompleted,
		m.runDuration,
		m.activeRuns,
	)

	return m
}

// RunStarted marks a run as active.
func (m *Metrics) RunStarted() {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Inc()
}

// ResourceApplied implements engine.Metrics.
func (m *Metrics) ResourceApplied(kind string, action engine.Action, d time.Duration) {
	if m.resourcesApplied == nil {
		return
	}
	m.resourcesApplied.WithLabelValues(kind, string(action)).Inc()
	m.applyDuration.WithLabelValues(kind, string(action)).Observe(d.Seconds())
}

// ResourceFailed implements engine.Metrics.
func (m *Metrics) ResourceFailed(kind string) {
	if m.resourcesFailed == nil {
		return
	}
	m.resourcesFailed.WithLabelValues(kind).Inc()
}

// RetryScheduled implements engine.Metrics.
func (m *Metrics) RetryScheduled(kind string) {
	if m.retriesScheduled == nil {
		return
	}
	m.retriesScheduled.WithLabelValues(kind).Inc()
}

// RunCompleted implements engine.Metrics.
func (m *Metrics) RunCompleted(status engine.RunStatus, d time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(string(status)).Inc()
	m.runDuration.WithLabelValues(string(status)).Observe(d.Seconds())
	m.activeRuns.Dec()
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

// StartServer serves the metrics endpoint in the background. A disabled
// config is a no-op.
func (m *Metrics) StartServer(logger zerolog.Logger) {
	if !m.config.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}
