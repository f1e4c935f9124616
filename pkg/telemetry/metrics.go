package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the gate.
type Metrics struct {
	config MetricsConfig

	// Evaluation metrics
	evaluations        *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	pipelineErrors     *prometheus.CounterVec

	// Phase metrics
	phaseDuration *prometheus.HistogramVec
	degraded      *prometheus.CounterVec

	// Plan metrics
	blastRadius *prometheus.GaugeVec
	riskLevel   prometheus.Gauge

	// Policy metrics
	policyFindings *prometheus.CounterVec
	policyReloads  *prometheus.CounterVec

	// Override metrics
	overrides *prometheus.CounterVec

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

		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of gate evaluations by decision status",
			},
			[]string{"status"},
		),
		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of a full gate evaluation in seconds",
				Buckets:   buckets,
			},
		),
		pipelineErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_errors_total",
				Help:      "Total number of evaluations aborted by a fatal error",
			},
			[]string{"kind"},
		),

		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of each pipeline phase in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),
		degraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "degraded_signals_total",
				Help:      "Total number of signals that failed open",
			},
			[]string{"signal"},
		),

		blastRadius: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "blast_radius_resources",
				Help:      "Resource changes of the last evaluated plan by kind",
			},
			[]string{"kind"},
		),
		riskLevel: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "temporal_risk_level",
				Help:      "Temporal risk of the last evaluation (1 low to 4 critical)",
			},
		),

		policyFindings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_findings_total",
				Help:      "Total number of policy findings by severity",
			},
			[]string{"severity"},
		),
		policyReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_reloads_total",
				Help:      "Total number of policy hot reloads by result",
			},
			[]string{"result"},
		),

		overrides: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "overrides_total",
				Help:      "Total number of evaluations run under an operator override",
			},
			[]string{"mode"},
		),
	}

	collectors := []prometheus.Collector{
		m.evaluations,
		m.evaluationDuration,
		m.pipelineErrors,
		m.phaseDuration,
		m.degraded,
		m.blastRadius,
		m.riskLevel,
		m.policyFindings,
		m.policyReloads,
		m.overrides,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// RecordEvaluation records a completed evaluation with its decision status and duration.
func (m *Metrics) RecordEvaluation(status string, duration time.Duration) {
	if m.evaluations == nil {
		return
	}
	m.evaluations.WithLabelValues(status).Inc()
	m.evaluationDuration.Observe(duration.Seconds())
}

// RecordPipelineError records an evaluation aborted by a fatal error.
func (m *Metrics) RecordPipelineError(kind string) {
	if m.pipelineErrors == nil {
		return
	}
	m.pipelineErrors.WithLabelValues(kind).Inc()
}

// RecordPhase records the duration of a pipeline phase.
func (m *Metrics) RecordPhase(phase string, duration time.Duration) {
	if m.phaseDuration == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordDegraded records a signal that failed open.
func (m *Metrics) RecordDegraded(signal string) {
	if m.degraded == nil {
		return
	}
	m.degraded.WithLabelValues(signal).Inc()
}

// SetBlastRadius sets the per-kind change counts of the evaluated plan.
func (m *Metrics) SetBlastRadius(create, update, del, replace int) {
	if m.blastRadius == nil {
		return
	}
	m.blastRadius.WithLabelValues("create").Set(float64(create))
	m.blastRadius.WithLabelValues("update").Set(float64(update))
	m.blastRadius.WithLabelValues("delete").Set(float64(del))
	m.blastRadius.WithLabelValues("replace").Set(float64(replace))
}

// SetRiskLevel sets the temporal risk of the evaluation.
func (m *Metrics) SetRiskLevel(level int) {
	if m.riskLevel == nil {
		return
	}
	m.riskLevel.Set(float64(level))
}

// RecordPolicyFindings records the number of findings per severity.
func (m *Metrics) RecordPolicyFindings(deny, warn, info int) {
	if m.policyFindings == nil {
		return
	}
	m.policyFindings.WithLabelValues("deny").Add(float64(deny))
	m.policyFindings.WithLabelValues("warn").Add(float64(warn))
	m.policyFindings.WithLabelValues("info").Add(float64(info))
}

// RecordPolicyReload records a hot reload attempt.
func (m *Metrics) RecordPolicyReload(err error) {
	if m.policyReloads == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.policyReloads.WithLabelValues(result).Inc()
}

// RecordOverride records an evaluation run under break-glass or shadow mode.
func (m *Metrics) RecordOverride(mode string) {
	if m.overrides == nil {
		return
	}
	m.overrides.WithLabelValues(mode).Inc()
}

// Registry returns the metrics registry, or nil when metrics are disabled.
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

// WriteTextfile writes all metrics to path in the Prometheus text format.
// path defaults to the configured textfile; the write is a no-op when both
// are empty or metrics are disabled.
func (m *Metrics) WriteTextfile(path string) error {
	if m.registry == nil {
		return nil
	}
	if path == "" {
		path = m.config.TextfilePath
	}
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
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

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	if m.registry == nil || addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
