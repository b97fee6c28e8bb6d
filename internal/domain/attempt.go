package domain

import (
	"time"

	"github.com/google/uuid"
)

// Attempt outcomes recorded in the delivery audit trail.
const (
	AttemptOutcomeDelivered        = "delivered"
	AttemptOutcomeTransientFailure = "transient_failure"
	AttemptOutcomePermanentFailure = "permanent_failure"
	AttemptOutcomeCircuitOpen      = "circuit_open"
)

// DeliveryAttempt is one audit row per channel send, successful or not.
// Best-effort: failing to record an attempt never fails the delivery.
type DeliveryAttempt struct {
	ID            uuid.UUID
	CorrelationID string
	Channel       Channel
	RetryCount    int
	Outcome       string
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}
