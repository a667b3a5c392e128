package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for ecsroll. A nil *Metrics and a
// disabled one are both valid no-op collectors.
type Metrics struct {
	config MetricsConfig

	// Provider metrics
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec
	providerRetries  *prometheus.CounterVec

	// Health metrics
	healthEvaluations   *prometheus.CounterVec
	healthCheckFailures *prometheus.CounterVec

	// Workflow metrics
	nodeTransitions    *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	workflowCursor     *prometheus.GaugeVec
	workflowNodes      *prometheus.GaugeVec
	campaignsCompleted *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
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

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider API calls",
			},
			[]string{"operation"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of provider API calls in seconds, retries included",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider API calls that failed after the retry policy",
			},
			[]string{"operation", "class"},
		),
		providerRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_retries_total",
				Help:      "Total number of retried provider API attempts",
			},
			[]string{"operation"},
		),

		healthEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_evaluations_total",
				Help:      "Total number of cluster health evaluations by result",
			},
			[]string{"cluster", "result"},
		),
		healthCheckFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_check_failures_total",
				Help:      "Total number of failed health sub-checks",
			},
			[]string{"cluster", "check"},
		),

		nodeTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_transitions_total",
				Help:      "Total number of node state transitions",
			},
			[]string{"cluster", "from", "to"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of workflow steps in seconds",
				Buckets:   buckets,
			},
			[]string{"cluster", "state"},
		),
		workflowCursor: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workflow_cursor",
				Help:      "Index of the node currently being replaced",
			},
			[]string{"cluster"},
		),
		workflowNodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workflow_nodes",
				Help:      "Number of nodes in the current campaign",
			},
			[]string{"cluster"},
		),
		campaignsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "campaigns_completed_total",
				Help:      "Total number of completed upgrade campaigns",
			},
			[]string{"cluster"},
		),
	}

	registry.MustRegister(
		m.providerCalls,
		m.providerDuration,
		m.providerErrors,
		m.providerRetries,
		m.healthEvaluations,
		m.healthCheckFailures,
		m.nodeTransitions,
		m.stepDuration,
		m.workflowCursor,
		m.workflowNodes,
		m.campaignsCompleted,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Provider Metrics

// RecordProviderCall records a provider call with its duration.
func (m *Metrics) RecordProviderCall(operation string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.providerCalls.WithLabelValues(operation).Inc()
	m.providerDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordProviderError records a provider call that failed for good.
func (m *Metrics) RecordProviderError(operation, class string) {
	if !m.enabled() {
		return
	}
	m.providerErrors.WithLabelValues(operation, class).Inc()
}

// RecordProviderRetry records one retried attempt.
func (m *Metrics) RecordProviderRetry(operation string) {
	if !m.enabled() {
		return
	}
	m.providerRetries.WithLabelValues(operation).Inc()
}

// Health Metrics

// RecordHealthEvaluation records the verdict of one evaluation.
func (m *Metrics) RecordHealthEvaluation(cluster string, healthy bool) {
	if !m.enabled() {
		return
	}
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	m.healthEvaluations.WithLabelValues(cluster, result).Inc()
}

// RecordHealthCheckFailure records a failed sub-check.
func (m *Metrics) RecordHealthCheckFailure(cluster, check string) {
	if !m.enabled() {
		return
	}
	m.healthCheckFailures.WithLabelValues(cluster, check).Inc()
}

// Workflow Metrics

// RecordNodeTransition records a node moving between states.
func (m *Metrics) RecordNodeTransition(cluster, from, to string) {
	if !m.enabled() {
		return
	}
	m.nodeTransitions.WithLabelValues(cluster, from, to).Inc()
}

// RecordStep records the duration of a step taken in the given state.
func (m *Metrics) RecordStep(cluster, state string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.stepDuration.WithLabelValues(cluster, state).Observe(duration.Seconds())
}

// SetWorkflowProgress sets the cursor and node count gauges.
func (m *Metrics) SetWorkflowProgress(cluster string, cursor, nodes int) {
	if !m.enabled() {
		return
	}
	m.workflowCursor.WithLabelValues(cluster).Set(float64(cursor))
	m.workflowNodes.WithLabelValues(cluster).Set(float64(nodes))
}

// RecordCampaignCompleted increments the completed campaign counter.
func (m *Metrics) RecordCampaignCompleted(cluster string) {
	if !m.enabled() {
		return
	}
	m.campaignsCompleted.WithLabelValues(cluster).Inc()
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

// Registry exposes the underlying registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics when a listen
// address is configured.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) error {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Log error but don't fail the upgrade
			logger.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("metrics server error")
		}
	}()

	return nil
}

// Shutdown stops the metrics server if one was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
