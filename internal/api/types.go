package api

import (
	"encoding/json"
	"time"
)

// NotifyResponse acknowledges an admission request. Duplicates are
// still acknowledged as success; the caller cannot distinguish a retry
// of its own request from the first attempt except by the message.
type NotifyResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

// DeadLetter is one archived dead-letter row as served by the API.
type DeadLetter struct {
	ID              int64           `json:"id"`
	CorrelationID   string          `json:"correlationId"`
	Kind            string          `json:"kind"`
	Message         string          `json:"message"`
	OriginalMessage json.RawMessage `json:"originalMessage"`
	RetryCount      *int            `json:"retryCount"`
	FailedAt        time.Time       `json:"failedAt"`
	ArchivedAt      time.Time       `json:"archivedAt"`
}

type ListDeadLettersResponse struct {
	DeadLetters []DeadLetter `json:"deadLetters"`
}

type AttemptResponse struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlationId"`
	Channel       string `json:"channel"`
	RetryCount    int    `json:"retryCount"`
	Outcome       string `json:"outcome"`
	Error         string `json:"error,omitempty"`
	StartedAt     string `json:"startedAt"`
	FinishedAt    string `json:"finishedAt"`
}

type ListAttemptsResponse struct {
	Attempts []AttemptResponse `json:"attempts"`
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
