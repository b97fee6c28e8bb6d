// Package stream is the broker boundary: append-only topics consumed by
// single-threaded consumer-group loops that acknowledge one record at a
// time. Progress commits per record regardless of business outcome, so
// handlers that cannot process a record yet must re-publish it rather
// than fail it back onto the same offset.
package stream

import "context"

// Header names carried on records.
const (
	HeaderCorrelationID = "correlation-id"
	HeaderRetryCount    = "retry-count"
	HeaderErrorKind     = "error-kind"
)

// Record is one stream entry: a key (correlation id), a JSON value and a
// header map.
type Record struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// Publisher appends records to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, rec Record) error
}

// Handler processes one record. The consumer acknowledges the record
// after Handle returns whether or not it returned an error; any
// retry/dead-letter emission must have happened inside the handler.
type Handler func(ctx context.Context, rec Record) error

// Consumer runs a consumer loop over one topic until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler Handler) error
}

// Topics names the three logical streams for one environment prefix.
type Topics struct {
	Events string
	Retry  string
	DLQ    string
}

// TopicsFor derives the stream names for an environment prefix,
// e.g. "dev" -> "dev.notifications.events".
func TopicsFor(prefix string) Topics {
	return Topics{
		Events: prefix + ".notifications.events",
		Retry:  prefix + ".notifications.retry",
		DLQ:    prefix + ".notifications.dlq",
	}
}

// All returns the topic names in pipeline order.
func (t Topics) All() []string {
	return []string{t.Events, t.Retry, t.DLQ}
}
