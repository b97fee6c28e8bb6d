// Package channels holds one delivery adapter per channel. Adapters
// classify every failure as transient or permanent at the transport
// boundary; the pipeline never re-classifies downstream.
package channels

import (
	"context"
	"errors"
	"fmt"

	"github.com/ikbalhussain-1/notification-service/internal/domain"
	"github.com/ikbalhussain-1/notification-service/internal/template"
)

// Message is one channel's worth of a delivery request. Rendered is
// populated for template channels (email, slack); webhook and internal
// deliver the raw Data payload.
type Message struct {
	CorrelationID string
	EventType     string
	Recipients    domain.RecipientSpec
	Rendered      template.Payload
	Data          map[string]any
}

// Adapter sends one message over one channel.
type Adapter interface {
	Channel() domain.Channel
	Send(ctx context.Context, msg Message) error
}

// Error is the classified failure adapters return. Transient failures
// are retry-eligible; permanent failures go straight to dead-letter.
type Error struct {
	Channel   domain.Channel
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s failure: %s", e.Channel, kind, e.Message)
}

func transientErr(ch domain.Channel, format string, args ...any) *Error {
	return &Error{Channel: ch, Message: fmt.Sprintf(format, args...), Transient: true}
}

func permanentErr(ch domain.Channel, format string, args ...any) *Error {
	return &Error{Channel: ch, Message: fmt.Sprintf(format, args...), Transient: false}
}

// Transient reports whether err is retry-eligible. Unclassified errors
// count as transient so that infrastructure faults the adapter did not
// anticipate still get retried rather than dead-lettered.
func Transient(err error) bool {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.Transient
	}
	return true
}

// retryableStatus matches the statuses worth retrying on an HTTP
// transport: rate limiting and server-side failures.
func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
