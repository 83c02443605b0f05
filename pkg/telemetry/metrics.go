package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for tplcheck.
type Metrics struct {
	config MetricsConfig

	// Validation metrics
	validations        *prometheus.CounterVec
	violations         *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec

	// Registry metrics
	registryTypes *prometheus.GaugeVec
	loadErrors    *prometheus.CounterVec

	// Policy metrics
	policyEvaluations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// A disabled configuration yields a collector whose recorders are no-ops.
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

		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Total number of configuration validations",
			},
			[]string{"type", "result"},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "violations_total",
				Help:      "Total number of violations reported, by kind",
			},
			[]string{"kind"},
		),
		validationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "validation_duration_seconds",
				Help:      "Duration of a full check (expand, validate, compose, policy) in seconds",
				Buckets:   buckets,
			},
			[]string{"type"},
		),

		registryTypes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_types",
				Help:      "Number of types registered per namespace",
			},
			[]string{"namespace"},
		),
		loadErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "load_errors_total",
				Help:      "Total number of type document or value load failures",
			},
			[]string{"source"},
		),

		policyEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_evaluations_total",
				Help:      "Total number of policy evaluations",
			},
			[]string{"policy", "result"},
		),
	}

	registry.MustRegister(
		m.validations,
		m.violations,
		m.validationDuration,
		m.registryTypes,
		m.loadErrors,
		m.policyEvaluations,
	)

	return m, nil
}

// Validation Metrics

// RecordValidation records one check of a value against typeName.
func (m *Metrics) RecordValidation(typeName string, valid bool, duration time.Duration) {
	if m.validations == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "invalid"
	}
	m.validations.WithLabelValues(typeName, result).Inc()
	m.validationDuration.WithLabelValues(typeName).Observe(duration.Seconds())
}

// RecordViolations adds per-kind violation counts.
func (m *Metrics) RecordViolations(counts map[string]int) {
	if m.violations == nil {
		return
	}
	for kind, n := range counts {
		m.violations.WithLabelValues(kind).Add(float64(n))
	}
}

// Registry Metrics

// SetRegistryTypes sets the number of types held for a namespace.
func (m *Metrics) SetRegistryTypes(namespace string, count int) {
	if m.registryTypes == nil {
		return
	}
	m.registryTypes.WithLabelValues(namespace).Set(float64(count))
}

// RecordLoadError counts a failed load of source.
func (m *Metrics) RecordLoadError(source string) {
	if m.loadErrors == nil {
		return
	}
	m.loadErrors.WithLabelValues(source).Inc()
}

// Policy Metrics

// RecordPolicyEvaluation records the outcome of one policy.
func (m *Metrics) RecordPolicyEvaluation(policy string, passed bool) {
	if m.policyEvaluations == nil {
		return
	}
	result := "pass"
	if !passed {
		result = "deny"
	}
	m.policyEvaluations.WithLabelValues(policy, result).Inc()
}

// Registry returns the private Prometheus registry, nil when disabled.
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

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
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
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()

	return nil
}
