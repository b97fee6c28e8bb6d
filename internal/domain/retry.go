package domain

import "time"

// RetryMetadata tracks the retry history of a single-channel job.
// RetryCount increases by exactly one per requeue and reflects actual
// channel attempts only; breaker rejections do not increment it.
type RetryMetadata struct {
	RetryCount  int        `json:"retryCount"`
	NextRetryAt *time.Time `json:"nextRetryAt"` // nil once terminal
	LastError   string     `json:"lastError,omitempty"`
	LastRetryAt time.Time  `json:"lastRetryAt,omitempty"`
}

// DueAt reports whether the envelope is due for a re-attempt at now.
// Envelopes without a scheduled time are due immediately.
func (m RetryMetadata) DueAt(now time.Time) bool {
	if m.NextRetryAt == nil {
		return true
	}
	return !m.NextRetryAt.After(now)
}

// RetryEnvelope wraps a ChannelDispatchJob on the retry stream.
type RetryEnvelope struct {
	ChannelDispatchJob
	RetryMetadata RetryMetadata `json:"retryMetadata"`
}
