package domain

import (
	"encoding/json"
	"time"
)

// Failure kinds recorded on dead-letter records.
const (
	FailureKindTransient   = "TransientChannelError"
	FailureKindPermanent   = "PermanentChannelError"
	FailureKindValidation  = "ValidationError"
	FailureKindCircuitOpen = "CircuitOpenError"
	FailureKindExhausted   = "MaxRetriesExceeded"
)

// FailureInfo describes why a record was dead-lettered.
type FailureInfo struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// DeadLetterRecord is the terminal state for a record the pipeline will
// not attempt again. Append-only; nothing in the pipeline mutates or
// consumes it after creation.
type DeadLetterRecord struct {
	// OriginalMessage keeps the failed record verbatim. Its shape varies
	// (DeliveryRequest, ChannelDispatchJob or RetryEnvelope), so it is
	// carried as raw JSON.
	OriginalMessage json.RawMessage `json:"originalMessage"`
	Error           FailureInfo     `json:"error"`
	RetryMetadata   *RetryMetadata  `json:"retryMetadata"`
	FailedAt        time.Time       `json:"failedAt"`
}

// Validate checks that a record read back from the dlq stream is well
// formed enough to archive.
func (r DeadLetterRecord) Validate() error {
	if len(r.OriginalMessage) == 0 {
		return ValidationError{Field: "originalMessage", Message: "required"}
	}
	if r.Error.Message == "" {
		return ValidationError{Field: "error.message", Message: "required"}
	}
	return nil
}
