// Package dlq routes records the pipeline gives up on to the
// dead-letter stream and archives them for inspection.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/domain"
	"github.com/ikbalhussain-1/notification-service/internal/stream"
)

// MetricsSink records dead-letter counts. Non-blocking.
type MetricsSink interface {
	DeadLetterRecorded(kind string)
}

// Publisher builds dead-letter records and emits them on the dlq
// stream. Every record the pipeline drops for exhaustion, circuit
// rejection, permanent error or validation failure passes through
// exactly one Publish call.
type Publisher struct {
	stream  stream.Publisher
	topics  stream.Topics
	metrics MetricsSink // optional, nil = disabled
	log     zerolog.Logger
	now     func() time.Time
}

func NewPublisher(pub stream.Publisher, topics stream.Topics, log zerolog.Logger) *Publisher {
	return &Publisher{
		stream: pub,
		topics: topics,
		log:    log.With().Str("component", "dlq").Logger(),
		now:    time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (p *Publisher) WithMetrics(sink MetricsSink) *Publisher {
	p.metrics = sink
	return p
}

// WithClock swaps the time source, used in tests.
func (p *Publisher) WithClock(now func() time.Time) *Publisher {
	p.now = now
	return p
}

// Publish dead-letters the original record verbatim. correlationID
// becomes the stream key, failure.Kind travels as a header so stream
// tooling can filter without unmarshalling bodies.
func (p *Publisher) Publish(ctx context.Context, correlationID string, original []byte, failure domain.FailureInfo, retryMeta *domain.RetryMetadata) error {
	record := domain.DeadLetterRecord{
		OriginalMessage: original,
		Error:           failure,
		RetryMetadata:   retryMeta,
		FailedAt:        p.now().UTC(),
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal dead-letter record: %w", err)
	}

	rec := stream.Record{
		Key:   correlationID,
		Value: value,
		Headers: map[string]string{
			stream.HeaderCorrelationID: correlationID,
			stream.HeaderErrorKind:     failure.Kind,
		},
	}
	if err := p.stream.Publish(ctx, p.topics.DLQ, rec); err != nil {
		return fmt.Errorf("publish dead-letter: %w", err)
	}

	p.log.Error().
		Str("correlation_id", correlationID).
		Str("kind", failure.Kind).
		Str("reason", failure.Message).
		Msg("record dead-lettered")
	if p.metrics != nil {
		p.metrics.DeadLetterRecorded(failure.Kind)
	}
	return nil
}
