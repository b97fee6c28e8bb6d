// Package admission is the pipeline's entry point: dedup via the
// idempotency gate, then append to the events stream. Callers always
// get an immediate answer; everything downstream is asynchronous.
package admission

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/domain"
	"github.com/ikbalhussain-1/notification-service/internal/stream"
)

// Gate is the idempotency reserve-or-reject check.
type Gate interface {
	Reserve(ctx context.Context, req domain.DeliveryRequest) (bool, error)
}

// MetricsSink counts admission results. Non-blocking.
type MetricsSink interface {
	AdmissionResult(result string)
}

// Result is the immediate acknowledgment returned to the caller.
// Duplicate admissions are still "accepted"; the request was simply
// already in flight.
type Result struct {
	Accepted      bool
	Duplicate     bool
	CorrelationID string
}

type Admitter struct {
	gate      Gate
	publisher stream.Publisher
	topics    stream.Topics
	metrics   MetricsSink // optional, nil = disabled
	log       zerolog.Logger
}

func New(gate Gate, publisher stream.Publisher, topics stream.Topics, log zerolog.Logger) *Admitter {
	return &Admitter{
		gate:      gate,
		publisher: publisher,
		topics:    topics,
		log:       log.With().Str("component", "admission").Logger(),
	}
}

// WithMetrics attaches a metrics sink.
func (a *Admitter) WithMetrics(sink MetricsSink) *Admitter {
	a.metrics = sink
	return a
}

// Admit runs the idempotency gate and, on first sight, publishes the
// request to the events stream. The correlation id is assigned here if
// the caller did not supply one, before fingerprinting, so duplicates
// of an id-carrying request dedup correctly.
func (a *Admitter) Admit(ctx context.Context, req domain.DeliveryRequest) (Result, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		a.record("rejected")
		return Result{}, err
	}

	fresh, err := a.gate.Reserve(ctx, req)
	if err != nil {
		a.record("gate_error")
		return Result{}, fmt.Errorf("idempotency reserve: %w", err)
	}
	if !fresh {
		a.log.Info().Str("correlation_id", req.CorrelationID).Msg("duplicate request short-circuited")
		a.record("duplicate")
		return Result{Accepted: true, Duplicate: true, CorrelationID: req.CorrelationID}, nil
	}

	value, err := json.Marshal(req)
	if err != nil {
		a.record("publish_error")
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}
	rec := stream.Record{
		Key:     req.CorrelationID,
		Value:   value,
		Headers: map[string]string{stream.HeaderCorrelationID: req.CorrelationID},
	}
	if err := a.publisher.Publish(ctx, a.topics.Events, rec); err != nil {
		a.record("publish_error")
		return Result{}, fmt.Errorf("publish request: %w", err)
	}

	a.log.Info().
		Str("correlation_id", req.CorrelationID).
		Str("event_type", req.EventType).
		Int("channels", len(req.Channels)).
		Msg("request admitted")
	a.record("accepted")
	return Result{Accepted: true, CorrelationID: req.CorrelationID}, nil
}

func (a *Admitter) record(result string) {
	if a.metrics != nil {
		a.metrics.AdmissionResult(result)
	}
}
