package dlq

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/domain"
	"github.com/ikbalhussain-1/notification-service/internal/stream"
)

type Store interface {
	InsertDeadLetter(ctx context.Context, correlationID string, record domain.DeadLetterRecord) error
}

// Archiver drains the dlq stream into durable storage. The stream
// entry is acked either way; a record that cannot be archived is still
// fully logged so nothing disappears silently.
type Archiver struct {
	consumer stream.Consumer
	topics   stream.Topics
	store    Store
	log      zerolog.Logger
}

func NewArchiver(consumer stream.Consumer, topics stream.Topics, store Store, log zerolog.Logger) *Archiver {
	return &Archiver{
		consumer: consumer,
		topics:   topics,
		store:    store,
		log:      log.With().Str("component", "dlq-archiver").Logger(),
	}
}

// Run consumes the dlq topic until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	return a.consumer.Consume(ctx, a.topics.DLQ, a.Handle)
}

// Handle archives one dead-letter stream entry.
func (a *Archiver) Handle(ctx context.Context, rec stream.Record) error {
	var record domain.DeadLetterRecord
	if err := json.Unmarshal(rec.Value, &record); err != nil {
		a.log.Error().Err(err).Str("key", rec.Key).Msg("unparseable dead-letter entry")
		return nil
	}
	if err := record.Validate(); err != nil {
		a.log.Error().Err(err).Str("key", rec.Key).Msg("malformed dead-letter entry")
		return nil
	}

	correlationID := rec.Headers[stream.HeaderCorrelationID]
	if correlationID == "" {
		correlationID = rec.Key
	}

	if err := a.store.InsertDeadLetter(ctx, correlationID, record); err != nil {
		a.log.Error().Err(err).
			Str("correlation_id", correlationID).
			Str("kind", record.Error.Kind).
			RawJSON("original", record.OriginalMessage).
			Msg("failed to archive dead letter, record preserved in log only")
		return err
	}

	a.log.Warn().
		Str("correlation_id", correlationID).
		Str("kind", record.Error.Kind).
		Str("reason", record.Error.Message).
		Time("failed_at", record.FailedAt).
		Msg("dead letter archived")
	return nil
}
