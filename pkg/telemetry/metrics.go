package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for FlowPlane.
type Metrics struct {
	config MetricsConfig

	// Transition metrics
	transitionsTotal   *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	denialsTotal       *prometheus.CounterVec

	// Journal metrics
	journalAppends     *prometheus.CounterVec
	chainVerifications *prometheus.CounterVec

	// Timer metrics
	timerTransitions *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
	sweepBatchSize   prometheus.Histogram
	escalationsTotal *prometheus.CounterVec

	// Compiler metrics
	compilations *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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

		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total number of transition requests by outcome",
			},
			[]string{"workflow", "outcome"},
		),
		transitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transition_duration_seconds",
				Help:      "Duration of transition requests in seconds",
				Buckets:   buckets,
			},
			[]string{"workflow"},
		),
		denialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transition_denials_total",
				Help:      "Total number of denied transitions by reason",
			},
			[]string{"workflow", "reason"},
		),

		journalAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "journal_appends_total",
				Help:      "Total number of journal entries appended",
			},
			[]string{"event_type"},
		),
		chainVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chain_verifications_total",
				Help:      "Total number of journal chain verifications by result",
			},
			[]string{"result"},
		),

		timerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "timer_transitions_total",
				Help:      "Total number of SLA timer status transitions",
			},
			[]string{"status"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Duration of SLA sweep passes in seconds",
				Buckets:   buckets,
			},
		),
		sweepBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_batch_size",
				Help:      "Number of expired timers processed per sweep pass",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
			},
		),
		escalationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_total",
				Help:      "Total number of escalation items created by threshold",
			},
			[]string{"threshold"},
		),

		compilations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compilations_total",
				Help:      "Total number of rule compilations by backend and cache result",
			},
			[]string{"backend", "cache"},
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
		m.transitionsTotal,
		m.transitionDuration,
		m.denialsTotal,
		m.journalAppends,
		m.chainVerifications,
		m.timerTransitions,
		m.sweepDuration,
		m.sweepBatchSize,
		m.escalationsTotal,
		m.compilations,
		m.errorsByClass,
	)

	return m, nil
}

// RecordTransition records a transition request with its outcome and duration.
func (m *Metrics) RecordTransition(workflow, outcome string, duration time.Duration) {
	if m.transitionsTotal == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(workflow, outcome).Inc()
	m.transitionDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordDenial records a denied transition by reason code.
func (m *Metrics) RecordDenial(workflow, reason string) {
	if m.denialsTotal == nil {
		return
	}
	m.denialsTotal.WithLabelValues(workflow, reason).Inc()
}

// RecordJournalAppend records one appended journal entry.
func (m *Metrics) RecordJournalAppend(eventType string) {
	if m.journalAppends == nil {
		return
	}
	m.journalAppends.WithLabelValues(eventType).Inc()
}

// RecordChainVerification records a chain verification result.
func (m *Metrics) RecordChainVerification(valid bool) {
	if m.chainVerifications == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "broken"
	}
	m.chainVerifications.WithLabelValues(result).Inc()
}

// RecordTimerTransition records an SLA timer status transition.
func (m *Metrics) RecordTimerTransition(status string) {
	if m.timerTransitions == nil {
		return
	}
	m.timerTransitions.WithLabelValues(status).Inc()
}

// RecordSweep records one sweep pass.
func (m *Metrics) RecordSweep(duration time.Duration, processed int) {
	if m.sweepDuration == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
	m.sweepBatchSize.Observe(float64(processed))
}

// RecordEscalation records a created escalation item.
func (m *Metrics) RecordEscalation(threshold string) {
	if m.escalationsTotal == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(threshold).Inc()
}

// RecordCompilation records a compilation request and whether it was
// served from cache.
func (m *Metrics) RecordCompilation(backend string, cacheHit bool) {
	if m.compilations == nil {
		return
	}
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	m.compilations.WithLabelValues(backend, cache).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
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
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
