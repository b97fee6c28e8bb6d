package metrics

import "time"

// Sink defines the interface for recording pipeline metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable,
// implementations log warnings and continue.
type Sink interface {
	// Admission metrics
	AdmissionResult(result string)

	// Dispatch metrics
	DispatchOutcome(channel, outcome string)
	SendCompleted(channel, statusClass string, duration time.Duration)
	RecordsInFlightIncr(topic string)
	RecordsInFlightDecr(topic string)

	// Retry metrics
	RetryScheduled(channel string)
	RetryRequeuedNotDue(channel string)

	// Dead-letter metrics
	DeadLetterRecorded(kind string)

	// Circuit breaker metrics
	BreakerStateChanged(channel, state string)

	// Reclaimer metrics
	ReclaimCompleted(topic string, count int)
}

// Admission result constants for AdmissionResult.
const (
	AdmissionAccepted     = "accepted"
	AdmissionDuplicate    = "duplicate"
	AdmissionRejected     = "rejected"
	AdmissionGateError    = "gate_error"
	AdmissionPublishError = "publish_error"
)
