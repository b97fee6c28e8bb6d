package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget. Registration
// errors are logged but never propagated.
type PrometheusSink struct {
	log zerolog.Logger

	// Admission metrics
	admissionsTotal *prometheus.CounterVec

	// Dispatch metrics
	dispatchOutcomesTotal *prometheus.CounterVec
	sendDuration          *prometheus.HistogramVec
	recordsInFlight       *prometheus.GaugeVec

	// Retry metrics
	retriesScheduledTotal *prometheus.CounterVec
	notDueRequeuesTotal   *prometheus.CounterVec

	// Dead-letter metrics
	deadLettersTotal *prometheus.CounterVec

	// Circuit breaker metrics
	breakerTransitionsTotal *prometheus.CounterVec

	// Reclaimer metrics
	reclaimedTotal *prometheus.CounterVec
}

// NewPrometheusSink creates a Prometheus metrics sink. Metrics that
// fail to register still work as unexported collectors.
func NewPrometheusSink(reg prometheus.Registerer, log zerolog.Logger) *PrometheusSink {
	s := &PrometheusSink{log: log.With().Str("component", "metrics").Logger()}

	s.admissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_admissions_total",
		Help: "Total admission requests by result.",
	}, []string{"result"})

	s.dispatchOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_dispatch_outcomes_total",
		Help: "Total per-channel dispatch outcomes.",
	}, []string{"channel", "outcome"})

	s.sendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notify_send_duration_seconds",
		Help:    "Channel send latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"channel", "status_class"})

	s.recordsInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notify_records_in_flight",
		Help: "Number of stream records currently being processed.",
	}, []string{"topic"})

	s.retriesScheduledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_retries_scheduled_total",
		Help: "Total retry envelopes emitted to the retry stream.",
	}, []string{"channel"})

	s.notDueRequeuesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_retry_not_due_requeues_total",
		Help: "Total not-yet-due retry envelopes re-emitted unchanged.",
	}, []string{"channel"})

	s.deadLettersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_dead_letters_total",
		Help: "Total records routed to the dead-letter stream by kind.",
	}, []string{"kind"})

	s.breakerTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_breaker_transitions_total",
		Help: "Total circuit breaker state transitions per channel.",
	}, []string{"channel", "state"})

	s.reclaimedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_reclaimed_records_total",
		Help: "Total pending stream records reclaimed from dead consumers.",
	}, []string{"topic"})

	s.register(reg, s.admissionsTotal, "notify_admissions_total")
	s.register(reg, s.dispatchOutcomesTotal, "notify_dispatch_outcomes_total")
	s.register(reg, s.sendDuration, "notify_send_duration_seconds")
	s.register(reg, s.recordsInFlight, "notify_records_in_flight")
	s.register(reg, s.retriesScheduledTotal, "notify_retries_scheduled_total")
	s.register(reg, s.notDueRequeuesTotal, "notify_retry_not_due_requeues_total")
	s.register(reg, s.deadLettersTotal, "notify_dead_letters_total")
	s.register(reg, s.breakerTransitionsTotal, "notify_breaker_transitions_total")
	s.register(reg, s.reclaimedTotal, "notify_reclaimed_records_total")

	return s
}

// register attempts to register a collector, logging errors without
// propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.Warn().Err(err).Str("metric", name).Msg("failed to register metric")
	}
}

func (s *PrometheusSink) AdmissionResult(result string) {
	s.admissionsTotal.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) DispatchOutcome(channel, outcome string) {
	s.dispatchOutcomesTotal.WithLabelValues(channel, outcome).Inc()
}

func (s *PrometheusSink) SendCompleted(channel, statusClass string, duration time.Duration) {
	s.sendDuration.WithLabelValues(channel, statusClass).Observe(duration.Seconds())
}

func (s *PrometheusSink) RecordsInFlightIncr(topic string) {
	s.recordsInFlight.WithLabelValues(topic).Inc()
}

func (s *PrometheusSink) RecordsInFlightDecr(topic string) {
	s.recordsInFlight.WithLabelValues(topic).Dec()
}

func (s *PrometheusSink) RetryScheduled(channel string) {
	s.retriesScheduledTotal.WithLabelValues(channel).Inc()
}

func (s *PrometheusSink) RetryRequeuedNotDue(channel string) {
	s.notDueRequeuesTotal.WithLabelValues(channel).Inc()
}

func (s *PrometheusSink) DeadLetterRecorded(kind string) {
	s.deadLettersTotal.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) BreakerStateChanged(channel, state string) {
	s.breakerTransitionsTotal.WithLabelValues(channel, state).Inc()
}

func (s *PrometheusSink) ReclaimCompleted(topic string, count int) {
	s.reclaimedTotal.WithLabelValues(topic).Add(float64(count))
}

var _ Sink = (*PrometheusSink)(nil)
