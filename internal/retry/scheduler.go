// Package retry consumes the delayed retry stream. Each envelope is
// gated on its due time, re-attempted through a per-channel circuit
// breaker, and either re-queued with a longer delay or promoted to the
// dead-letter stream.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/channels"
	"github.com/ikbalhussain-1/notification-service/internal/circuitbreaker"
	"github.com/ikbalhussain-1/notification-service/internal/dlq"
	"github.com/ikbalhussain-1/notification-service/internal/domain"
	"github.com/ikbalhussain-1/notification-service/internal/stream"
	"github.com/ikbalhussain-1/notification-service/internal/template"
)

// Store records the delivery audit trail. Best-effort.
type Store interface {
	InsertDeliveryAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error
}

// AnalyticsSink counts delivery outcomes per channel. Fire-and-forget.
type AnalyticsSink interface {
	Delivered(ctx context.Context, channel domain.Channel)
	Failed(ctx context.Context, channel domain.Channel)
}

// MetricsSink defines the metrics the scheduler records. Non-blocking.
type MetricsSink interface {
	SendCompleted(channel, statusClass string, duration time.Duration)
	RetryScheduled(channel string)
	RetryRequeuedNotDue(channel string)
	RecordsInFlightIncr(topic string)
	RecordsInFlightDecr(topic string)
}

// Scheduler consumes retry envelopes one at a time. Progress commits
// per record regardless of outcome, so a not-yet-due envelope is
// re-emitted unchanged rather than skipped; its offset advances and
// the record survives.
type Scheduler struct {
	consumer    stream.Consumer
	publisher   stream.Publisher
	topics      stream.Topics
	adapters    map[domain.Channel]channels.Adapter
	breakers    *circuitbreaker.Registry
	deadLetters *dlq.Publisher
	store       Store         // optional, nil = disabled
	analytics   AnalyticsSink // optional, nil = disabled
	metrics     MetricsSink   // optional, nil = disabled
	log         zerolog.Logger
	now         func() time.Time
}

func NewScheduler(consumer stream.Consumer, publisher stream.Publisher, topics stream.Topics, adapters []channels.Adapter, breakers *circuitbreaker.Registry, deadLetters *dlq.Publisher, log zerolog.Logger) *Scheduler {
	byChannel := make(map[domain.Channel]channels.Adapter, len(adapters))
	for _, a := range adapters {
		byChannel[a.Channel()] = a
	}
	return &Scheduler{
		consumer:    consumer,
		publisher:   publisher,
		topics:      topics,
		adapters:    byChannel,
		breakers:    breakers,
		deadLetters: deadLetters,
		log:         log.With().Str("component", "retry").Logger(),
		now:         time.Now,
	}
}

func (s *Scheduler) WithStore(store Store) *Scheduler {
	s.store = store
	return s
}

func (s *Scheduler) WithAnalytics(sink AnalyticsSink) *Scheduler {
	s.analytics = sink
	return s
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// WithClock swaps the time source, used in tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run consumes the retry topic until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	return s.consumer.Consume(ctx, s.topics.Retry, s.Handle)
}

// Handle processes one retry envelope.
func (s *Scheduler) Handle(ctx context.Context, rec stream.Record) error {
	if s.metrics != nil {
		s.metrics.RecordsInFlightIncr(s.topics.Retry)
		defer s.metrics.RecordsInFlightDecr(s.topics.Retry)
	}

	var envelope domain.RetryEnvelope
	if err := json.Unmarshal(rec.Value, &envelope); err != nil {
		return s.rejectMalformed(ctx, rec, nil, fmt.Sprintf("unmarshal retry envelope: %v", err))
	}
	if envelope.CorrelationID == "" {
		envelope.CorrelationID = rec.Key
	}
	if err := envelope.ChannelDispatchJob.Validate(); err != nil {
		return s.rejectMalformed(ctx, rec, &envelope.RetryMetadata, err.Error())
	}

	log := s.log.With().
		Str("correlation_id", envelope.CorrelationID).
		Str("channel", string(envelope.Channel)).
		Int("retry_count", envelope.RetryMetadata.RetryCount).
		Logger()

	now := s.now().UTC()

	// Not yet due: re-emit unchanged so the offset can advance without
	// dropping the record.
	if !envelope.RetryMetadata.DueAt(now) {
		if s.metrics != nil {
			s.metrics.RetryRequeuedNotDue(string(envelope.Channel))
		}
		return s.emit(ctx, envelope)
	}

	if envelope.RetryMetadata.RetryCount >= MaxRetries {
		log.Warn().Msg("retries exhausted, dead-lettering")
		failure := domain.FailureInfo{
			Message: fmt.Sprintf("max retries exceeded after %d attempts: %s", envelope.RetryMetadata.RetryCount, envelope.RetryMetadata.LastError),
			Kind:    domain.FailureKindExhausted,
		}
		return s.deadLetter(ctx, envelope, failure)
	}

	return s.attempt(ctx, envelope, log)
}

func (s *Scheduler) attempt(ctx context.Context, envelope domain.RetryEnvelope, log zerolog.Logger) error {
	job := envelope.ChannelDispatchJob

	adapter, ok := s.adapters[job.Channel]
	if !ok {
		failure := domain.FailureInfo{
			Message: fmt.Sprintf("no adapter configured for channel %s", job.Channel),
			Kind:    domain.FailureKindPermanent,
		}
		return s.deadLetter(ctx, envelope, failure)
	}

	msg, err := buildMessage(job)
	if err != nil {
		failure := domain.FailureInfo{Message: err.Error(), Kind: domain.FailureKindPermanent}
		return s.deadLetter(ctx, envelope, failure)
	}

	breaker := s.breakers.Get(string(job.Channel))

	startedAt := s.now().UTC()
	sendErr := breaker.Execute(ctx, func(ctx context.Context) error {
		return adapter.Send(ctx, msg)
	})
	finishedAt := s.now().UTC()

	// Breaker rejection: the channel was never called, so retryCount
	// stays untouched and the record dead-letters immediately.
	if errors.Is(sendErr, circuitbreaker.ErrOpen) {
		log.Warn().Msg("circuit open, dead-lettering without attempt")
		s.auditAttempt(ctx, envelope, domain.AttemptOutcomeCircuitOpen, sendErr, startedAt, finishedAt)
		failure := domain.FailureInfo{
			Message: fmt.Sprintf("circuit breaker open for channel %s", job.Channel),
			Kind:    domain.FailureKindCircuitOpen,
		}
		return s.deadLetter(ctx, envelope, failure)
	}

	if s.metrics != nil {
		s.metrics.SendCompleted(string(job.Channel), statusClass(sendErr), finishedAt.Sub(startedAt))
	}

	if sendErr == nil {
		log.Info().Msg("retry delivered")
		s.auditAttempt(ctx, envelope, domain.AttemptOutcomeDelivered, nil, startedAt, finishedAt)
		if s.analytics != nil {
			s.analytics.Delivered(ctx, job.Channel)
		}
		return nil
	}

	if s.analytics != nil {
		s.analytics.Failed(ctx, job.Channel)
	}

	if !channels.Transient(sendErr) {
		log.Warn().Err(sendErr).Msg("permanent failure on retry, dead-lettering")
		s.auditAttempt(ctx, envelope, domain.AttemptOutcomePermanentFailure, sendErr, startedAt, finishedAt)
		failure := domain.FailureInfo{Message: sendErr.Error(), Kind: domain.FailureKindPermanent}
		return s.deadLetter(ctx, envelope, failure)
	}

	s.auditAttempt(ctx, envelope, domain.AttemptOutcomeTransientFailure, sendErr, startedAt, finishedAt)
	return s.requeue(ctx, envelope, sendErr, log)
}

// requeue increments the retry count and pushes the envelope back with
// the next rung of the backoff ladder.
func (s *Scheduler) requeue(ctx context.Context, envelope domain.RetryEnvelope, sendErr error, log zerolog.Logger) error {
	now := s.now().UTC()
	envelope.RetryMetadata.RetryCount++
	envelope.RetryMetadata.LastError = sendErr.Error()
	envelope.RetryMetadata.LastRetryAt = now

	if envelope.RetryMetadata.RetryCount >= MaxRetries {
		envelope.RetryMetadata.NextRetryAt = nil
	} else {
		next := NextRetryAt(now, envelope.RetryMetadata.RetryCount)
		envelope.RetryMetadata.NextRetryAt = &next
	}

	log.Warn().Err(sendErr).
		Int("next_retry_count", envelope.RetryMetadata.RetryCount).
		Msg("transient failure, re-queueing")

	if err := s.emit(ctx, envelope); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RetryScheduled(string(envelope.Channel))
	}
	return nil
}

// emit publishes the envelope to the retry stream.
func (s *Scheduler) emit(ctx context.Context, envelope domain.RetryEnvelope) error {
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal retry envelope: %w", err)
	}
	rec := stream.Record{
		Key:   envelope.CorrelationID,
		Value: value,
		Headers: map[string]string{
			stream.HeaderCorrelationID: envelope.CorrelationID,
			stream.HeaderRetryCount:    strconv.Itoa(envelope.RetryMetadata.RetryCount),
		},
	}
	if err := s.publisher.Publish(ctx, s.topics.Retry, rec); err != nil {
		return fmt.Errorf("publish retry envelope: %w", err)
	}
	return nil
}

func (s *Scheduler) deadLetter(ctx context.Context, envelope domain.RetryEnvelope, failure domain.FailureInfo) error {
	original, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope for dead-letter: %w", err)
	}
	meta := envelope.RetryMetadata
	return s.deadLetters.Publish(ctx, envelope.CorrelationID, original, failure, &meta)
}

func (s *Scheduler) rejectMalformed(ctx context.Context, rec stream.Record, meta *domain.RetryMetadata, reason string) error {
	s.log.Warn().Str("correlation_id", rec.Key).Str("reason", reason).Msg("malformed retry envelope")
	failure := domain.FailureInfo{Message: reason, Kind: domain.FailureKindValidation}
	return s.deadLetters.Publish(ctx, rec.Key, rec.Value, failure, meta)
}

func (s *Scheduler) auditAttempt(ctx context.Context, envelope domain.RetryEnvelope, outcome string, sendErr error, startedAt, finishedAt time.Time) {
	if s.store == nil {
		return
	}
	attempt := domain.DeliveryAttempt{
		ID:            uuid.New(),
		CorrelationID: envelope.CorrelationID,
		Channel:       envelope.Channel,
		RetryCount:    envelope.RetryMetadata.RetryCount,
		Outcome:       outcome,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
	}
	if sendErr != nil {
		attempt.Error = sendErr.Error()
	}
	if err := s.store.InsertDeliveryAttempt(ctx, attempt); err != nil {
		s.log.Warn().Err(err).Str("correlation_id", envelope.CorrelationID).Msg("failed to record delivery attempt")
	}
}

// buildMessage renders the channel payload for a single-channel job.
func buildMessage(job domain.ChannelDispatchJob) (channels.Message, error) {
	msg := channels.Message{
		CorrelationID: job.CorrelationID,
		EventType:     job.EventType,
		Recipients:    job.Recipients,
		Data:          job.Data,
	}
	if job.Channel.RequiresTemplate() {
		rendered, err := template.Render(job.Channel, job.TemplateID, job.Data, job.Recipients)
		if err != nil {
			return channels.Message{}, err
		}
		msg.Rendered = rendered
	}
	return msg, nil
}

// statusClass buckets a send outcome for metrics at bounded cardinality.
func statusClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case channels.Transient(err):
		return "transient_error"
	default:
		return "permanent_error"
	}
}
