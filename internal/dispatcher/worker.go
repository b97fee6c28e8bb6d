// Package dispatcher consumes admitted delivery requests and fans each
// one out to its requested channels. Failures are classified at the
// channel boundary: transient failures enter the retry loop, permanent
// failures dead-letter immediately.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/channels"
	"github.com/ikbalhussain-1/notification-service/internal/dlq"
	"github.com/ikbalhussain-1/notification-service/internal/domain"
	"github.com/ikbalhussain-1/notification-service/internal/retry"
	"github.com/ikbalhussain-1/notification-service/internal/stream"
	"github.com/ikbalhussain-1/notification-service/internal/template"
)

// Store records the delivery audit trail. Best-effort; insert failures
// are logged and ignored.
type Store interface {
	InsertDeliveryAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error
}

// AnalyticsSink counts delivery outcomes per channel. Fire-and-forget.
type AnalyticsSink interface {
	Delivered(ctx context.Context, channel domain.Channel)
	Failed(ctx context.Context, channel domain.Channel)
}

// MetricsSink defines the metrics the worker records. All methods must
// be non-blocking.
type MetricsSink interface {
	DispatchOutcome(channel, outcome string)
	SendCompleted(channel, statusClass string, duration time.Duration)
	RetryScheduled(channel string)
	RecordsInFlightIncr(topic string)
	RecordsInFlightDecr(topic string)
}

// Worker consumes the events stream one record at a time. Each channel
// in a request is an independent unit of work: one channel's failure
// never blocks its siblings.
type Worker struct {
	consumer    stream.Consumer
	publisher   stream.Publisher
	topics      stream.Topics
	adapters    map[domain.Channel]channels.Adapter
	deadLetters *dlq.Publisher
	store       Store         // optional, nil = disabled
	analytics   AnalyticsSink // optional, nil = disabled
	metrics     MetricsSink   // optional, nil = disabled
	log         zerolog.Logger
	now         func() time.Time
}

func New(consumer stream.Consumer, publisher stream.Publisher, topics stream.Topics, adapters []channels.Adapter, deadLetters *dlq.Publisher, log zerolog.Logger) *Worker {
	byChannel := make(map[domain.Channel]channels.Adapter, len(adapters))
	for _, a := range adapters {
		byChannel[a.Channel()] = a
	}
	return &Worker{
		consumer:    consumer,
		publisher:   publisher,
		topics:      topics,
		adapters:    byChannel,
		deadLetters: deadLetters,
		log:         log.With().Str("component", "dispatcher").Logger(),
		now:         time.Now,
	}
}

func (w *Worker) WithStore(store Store) *Worker {
	w.store = store
	return w
}

func (w *Worker) WithAnalytics(sink AnalyticsSink) *Worker {
	w.analytics = sink
	return w
}

// WithMetrics attaches a metrics sink to the worker.
func (w *Worker) WithMetrics(sink MetricsSink) *Worker {
	w.metrics = sink
	return w
}

// WithClock swaps the time source, used in tests.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Run consumes the events topic until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.consumer.Consume(ctx, w.topics.Events, w.Handle)
}

// Handle processes one admitted request.
func (w *Worker) Handle(ctx context.Context, rec stream.Record) error {
	if w.metrics != nil {
		w.metrics.RecordsInFlightIncr(w.topics.Events)
		defer w.metrics.RecordsInFlightDecr(w.topics.Events)
	}

	var request domain.DeliveryRequest
	if err := json.Unmarshal(rec.Value, &request); err != nil {
		return w.rejectMalformed(ctx, rec, fmt.Sprintf("unmarshal request: %v", err))
	}
	if request.CorrelationID == "" {
		request.CorrelationID = rec.Key
	}
	if err := request.Validate(); err != nil {
		return w.rejectMalformed(ctx, rec, err.Error())
	}

	log := w.log.With().Str("correlation_id", request.CorrelationID).Str("event_type", request.EventType).Logger()
	log.Info().Int("channels", len(request.Channels)).Msg("dispatching request")

	// Channels are processed in the order listed. A failure is routed to
	// retry or dlq and the loop moves on; siblings are unaffected.
	var firstErr error
	for _, ch := range request.Channels {
		job := domain.ChannelDispatchJob{DeliveryRequest: request, Channel: ch}
		if err := w.dispatchChannel(ctx, job, log); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *Worker) dispatchChannel(ctx context.Context, job domain.ChannelDispatchJob, log zerolog.Logger) error {
	channel := job.Channel

	adapter, ok := w.adapters[channel]
	if !ok {
		failure := domain.FailureInfo{
			Message: fmt.Sprintf("no adapter configured for channel %s", channel),
			Kind:    domain.FailureKindPermanent,
		}
		w.recordOutcome(ctx, channel, domain.AttemptOutcomePermanentFailure)
		return w.deadLetterJob(ctx, job, failure, nil)
	}

	msg, err := buildMessage(job)
	if err != nil {
		// Missing templates cannot heal on retry.
		failure := domain.FailureInfo{Message: err.Error(), Kind: domain.FailureKindPermanent}
		w.recordOutcome(ctx, channel, domain.AttemptOutcomePermanentFailure)
		return w.deadLetterJob(ctx, job, failure, nil)
	}

	startedAt := w.now().UTC()
	sendErr := adapter.Send(ctx, msg)
	finishedAt := w.now().UTC()

	if w.metrics != nil {
		w.metrics.SendCompleted(string(channel), statusClass(sendErr), finishedAt.Sub(startedAt))
	}

	outcome := domain.AttemptOutcomeDelivered
	if sendErr != nil {
		outcome = domain.AttemptOutcomePermanentFailure
		if channels.Transient(sendErr) {
			outcome = domain.AttemptOutcomeTransientFailure
		}
	}
	w.auditAttempt(ctx, job, 0, outcome, sendErr, startedAt, finishedAt)

	if sendErr == nil {
		log.Info().Str("channel", string(channel)).Msg("delivered")
		w.recordOutcome(ctx, channel, domain.AttemptOutcomeDelivered)
		return nil
	}

	if channels.Transient(sendErr) {
		log.Warn().Err(sendErr).Str("channel", string(channel)).Msg("transient failure, scheduling retry")
		w.recordOutcome(ctx, channel, domain.AttemptOutcomeTransientFailure)
		return w.scheduleRetry(ctx, job, sendErr)
	}

	log.Warn().Err(sendErr).Str("channel", string(channel)).Msg("permanent failure, dead-lettering")
	w.recordOutcome(ctx, channel, domain.AttemptOutcomePermanentFailure)
	failure := domain.FailureInfo{Message: sendErr.Error(), Kind: domain.FailureKindPermanent}
	return w.deadLetterJob(ctx, job, failure, nil)
}

// scheduleRetry wraps the job in a fresh envelope at retryCount 0 and
// emits it to the retry stream.
func (w *Worker) scheduleRetry(ctx context.Context, job domain.ChannelDispatchJob, sendErr error) error {
	nextRetryAt := retry.NextRetryAt(w.now().UTC(), 0)
	envelope := domain.RetryEnvelope{
		ChannelDispatchJob: job,
		RetryMetadata: domain.RetryMetadata{
			RetryCount:  0,
			NextRetryAt: &nextRetryAt,
			LastError:   sendErr.Error(),
			LastRetryAt: w.now().UTC(),
		},
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal retry envelope: %w", err)
	}

	rec := stream.Record{
		Key:   job.CorrelationID,
		Value: value,
		Headers: map[string]string{
			stream.HeaderCorrelationID: job.CorrelationID,
			stream.HeaderRetryCount:    "0",
		},
	}
	if err := w.publisher.Publish(ctx, w.topics.Retry, rec); err != nil {
		return fmt.Errorf("publish retry envelope: %w", err)
	}
	if w.metrics != nil {
		w.metrics.RetryScheduled(string(job.Channel))
	}
	return nil
}

func (w *Worker) deadLetterJob(ctx context.Context, job domain.ChannelDispatchJob, failure domain.FailureInfo, meta *domain.RetryMetadata) error {
	original, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job for dead-letter: %w", err)
	}
	return w.deadLetters.Publish(ctx, job.CorrelationID, original, failure, meta)
}

// rejectMalformed dead-letters a record that cannot be dispatched at
// all. The raw stream value is preserved verbatim.
func (w *Worker) rejectMalformed(ctx context.Context, rec stream.Record, reason string) error {
	w.log.Warn().Str("correlation_id", rec.Key).Str("reason", reason).Msg("malformed request")
	failure := domain.FailureInfo{Message: reason, Kind: domain.FailureKindValidation}
	return w.deadLetters.Publish(ctx, rec.Key, rec.Value, failure, nil)
}

func (w *Worker) recordOutcome(ctx context.Context, channel domain.Channel, outcome string) {
	if w.metrics != nil {
		w.metrics.DispatchOutcome(string(channel), outcome)
	}
	if w.analytics != nil {
		if outcome == domain.AttemptOutcomeDelivered {
			w.analytics.Delivered(ctx, channel)
		} else {
			w.analytics.Failed(ctx, channel)
		}
	}
}

func (w *Worker) auditAttempt(ctx context.Context, job domain.ChannelDispatchJob, retryCount int, outcome string, sendErr error, startedAt, finishedAt time.Time) {
	if w.store == nil {
		return
	}
	attempt := domain.DeliveryAttempt{
		ID:            uuid.New(),
		CorrelationID: job.CorrelationID,
		Channel:       job.Channel,
		RetryCount:    retryCount,
		Outcome:       outcome,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
	}
	if sendErr != nil {
		attempt.Error = sendErr.Error()
	}
	if err := w.store.InsertDeliveryAttempt(ctx, attempt); err != nil {
		w.log.Warn().Err(err).Str("correlation_id", job.CorrelationID).Msg("failed to record delivery attempt")
	}
}

// buildMessage renders the channel payload. Template channels render
// through the registry; webhook and internal carry the raw data.
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
