package retry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/channels"
	"github.com/ikbalhussain-1/notification-service/internal/circuitbreaker"
	"github.com/ikbalhussain-1/notification-service/internal/dlq"
	"github.com/ikbalhussain-1/notification-service/internal/domain"
	"github.com/ikbalhussain-1/notification-service/internal/stream"
)

type fakeAdapter struct {
	mu      sync.Mutex
	channel domain.Channel
	err     error
	calls   int
}

func (a *fakeAdapter) Channel() domain.Channel { return a.channel }

func (a *fakeAdapter) Send(ctx context.Context, msg channels.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.err
}

func (a *fakeAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func testJob() domain.ChannelDispatchJob {
	return domain.ChannelDispatchJob{
		DeliveryRequest: domain.DeliveryRequest{
			CorrelationID: "corr-1",
			EventType:     "lab.report.ready",
			Channels:      []domain.Channel{domain.ChannelEmail},
			Recipients:    domain.RecipientSpec{Email: &domain.EmailRecipients{To: []string{"a@example.com"}}},
			TemplateID:    "lab_report_ready",
			Data:          map[string]any{"reportId": "LR-1"},
		},
		Channel: domain.ChannelEmail,
	}
}

func envelopeRecord(t *testing.T, envelope domain.RetryEnvelope) stream.Record {
	t.Helper()
	value, err := json.Marshal(envelope)
	if err != nil {
		t.Fatal(err)
	}
	return stream.Record{Key: envelope.CorrelationID, Value: value}
}

type fixture struct {
	scheduler *Scheduler
	adapter   *fakeAdapter
	mem       *stream.Memory
	topics    stream.Topics
	now       time.Time
}

func newFixture(adapterErr error) *fixture {
	mem := stream.NewMemory(16)
	topics := stream.TopicsFor("test")
	adapter := &fakeAdapter{channel: domain.ChannelEmail, err: adapterErr}
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), zerolog.Nop())
	deadLetters := dlq.NewPublisher(mem, topics, zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewScheduler(mem, mem, topics, []channels.Adapter{adapter}, breakers, deadLetters, zerolog.Nop()).
		WithClock(func() time.Time { return now })
	return &fixture{scheduler: s, adapter: adapter, mem: mem, topics: topics, now: now}
}

func (f *fixture) deadLetterKind(t *testing.T) string {
	t.Helper()
	rec, ok := f.mem.Next(f.topics.DLQ)
	if !ok {
		t.Fatal("expected a dead-letter record")
	}
	var record domain.DeadLetterRecord
	if err := json.Unmarshal(rec.Value, &record); err != nil {
		t.Fatal(err)
	}
	if record.Error.Message == "" {
		t.Error("error message must be populated")
	}
	if record.FailedAt.IsZero() {
		t.Error("failedAt must be populated")
	}
	return record.Error.Kind
}

func TestBackoffLadder(t *testing.T) {
	want := []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second, 1800 * time.Second, 3600 * time.Second}
	for count, expected := range want {
		if got := Delay(count); got != expected {
			t.Errorf("Delay(%d) = %s, want %s", count, got, expected)
		}
	}
	if Delay(7) != 3600*time.Second {
		t.Error("delay must clamp to the last rung")
	}
	if Delay(-1) != 60*time.Second {
		t.Error("negative counts clamp to the first rung")
	}
}

func TestHandle_NotDueRequeuedUnchanged(t *testing.T) {
	f := newFixture(nil)
	future := f.now.Add(10 * time.Minute)
	lastRetry := f.now.Add(-5 * time.Minute)
	envelope := domain.RetryEnvelope{
		ChannelDispatchJob: testJob(),
		RetryMetadata: domain.RetryMetadata{
			RetryCount:  2,
			NextRetryAt: &future,
			LastError:   "timeout",
			LastRetryAt: lastRetry,
		},
	}

	if err := f.scheduler.Handle(context.Background(), envelopeRecord(t, envelope)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.adapter.callCount() != 0 {
		t.Fatal("not-yet-due record must not reach the channel")
	}

	rec, ok := f.mem.Next(f.topics.Retry)
	if !ok {
		t.Fatal("record must be re-emitted")
	}
	var requeued domain.RetryEnvelope
	if err := json.Unmarshal(rec.Value, &requeued); err != nil {
		t.Fatal(err)
	}
	if requeued.RetryMetadata.RetryCount != 2 {
		t.Errorf("retryCount changed: %d", requeued.RetryMetadata.RetryCount)
	}
	if !requeued.RetryMetadata.NextRetryAt.Equal(future) {
		t.Errorf("nextRetryAt changed: %s", requeued.RetryMetadata.NextRetryAt)
	}
	if requeued.RetryMetadata.LastError != "timeout" || !requeued.RetryMetadata.LastRetryAt.Equal(lastRetry) {
		t.Error("retry metadata must be re-emitted unchanged")
	}
	if rec.Headers[stream.HeaderRetryCount] != "2" {
		t.Errorf("retry-count header = %q", rec.Headers[stream.HeaderRetryCount])
	}
}

func TestHandle_ExhaustionDeadLetters(t *testing.T) {
	f := newFixture(nil)
	envelope := domain.RetryEnvelope{
		ChannelDispatchJob: testJob(),
		RetryMetadata:      domain.RetryMetadata{RetryCount: MaxRetries, LastError: "timeout"},
	}

	if err := f.scheduler.Handle(context.Background(), envelopeRecord(t, envelope)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.adapter.callCount() != 0 {
		t.Fatal("exhausted record must not reach the channel")
	}
	if kind := f.deadLetterKind(t); kind != domain.FailureKindExhausted {
		t.Errorf("kind = %s", kind)
	}
	if f.mem.Len(f.topics.Retry) != 0 {
		t.Fatal("exhausted record must never re-queue")
	}
}

func TestHandle_SuccessEmitsNothing(t *testing.T) {
	f := newFixture(nil)
	envelope := domain.RetryEnvelope{
		ChannelDispatchJob: testJob(),
		RetryMetadata:      domain.RetryMetadata{RetryCount: 1},
	}

	if err := f.scheduler.Handle(context.Background(), envelopeRecord(t, envelope)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.adapter.callCount() != 1 {
		t.Fatalf("calls = %d", f.adapter.callCount())
	}
	if f.mem.Len(f.topics.Retry) != 0 || f.mem.Len(f.topics.DLQ) != 0 {
		t.Fatal("success must not emit anything")
	}
}

func TestHandle_TransientFailureIncrementsAndRequeues(t *testing.T) {
	f := newFixture(&channels.Error{Channel: domain.ChannelEmail, Message: "timeout", Transient: true})
	envelope := domain.RetryEnvelope{
		ChannelDispatchJob: testJob(),
		RetryMetadata:      domain.RetryMetadata{RetryCount: 1},
	}

	if err := f.scheduler.Handle(context.Background(), envelopeRecord(t, envelope)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	rec, ok := f.mem.Next(f.topics.Retry)
	if !ok {
		t.Fatal("expected a re-queued record")
	}
	var requeued domain.RetryEnvelope
	if err := json.Unmarshal(rec.Value, &requeued); err != nil {
		t.Fatal(err)
	}
	if requeued.RetryMetadata.RetryCount != 2 {
		t.Errorf("retryCount = %d, want 2", requeued.RetryMetadata.RetryCount)
	}
	if requeued.RetryMetadata.NextRetryAt == nil {
		t.Fatal("nextRetryAt must be set below the retry cap")
	}
	if got := requeued.RetryMetadata.NextRetryAt.Sub(f.now); got != 900*time.Second {
		t.Errorf("delay = %s, want 900s for retryCount 2", got)
	}
	if requeued.RetryMetadata.LastError == "" {
		t.Error("lastError must record the failure")
	}
}

func TestHandle_FinalTransientFailureClearsNextRetryAt(t *testing.T) {
	f := newFixture(&channels.Error{Channel: domain.ChannelEmail, Message: "timeout", Transient: true})
	envelope := domain.RetryEnvelope{
		ChannelDispatchJob: testJob(),
		RetryMetadata:      domain.RetryMetadata{RetryCount: MaxRetries - 1},
	}

	if err := f.scheduler.Handle(context.Background(), envelopeRecord(t, envelope)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	rec, ok := f.mem.Next(f.topics.Retry)
	if !ok {
		t.Fatal("expected a re-queued record")
	}
	var requeued domain.RetryEnvelope
	if err := json.Unmarshal(rec.Value, &requeued); err != nil {
		t.Fatal(err)
	}
	if requeued.RetryMetadata.RetryCount != MaxRetries {
		t.Errorf("retryCount = %d", requeued.RetryMetadata.RetryCount)
	}
	if requeued.RetryMetadata.NextRetryAt != nil {
		t.Error("nextRetryAt must be null once the cap is reached")
	}
}

func TestHandle_PermanentFailureDeadLetters(t *testing.T) {
	f := newFixture(&channels.Error{Channel: domain.ChannelEmail, Message: "mailbox unavailable", Transient: false})
	envelope := domain.RetryEnvelope{
		ChannelDispatchJob: testJob(),
		RetryMetadata:      domain.RetryMetadata{RetryCount: 1},
	}

	if err := f.scheduler.Handle(context.Background(), envelopeRecord(t, envelope)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if kind := f.deadLetterKind(t); kind != domain.FailureKindPermanent {
		t.Errorf("kind = %s", kind)
	}
	if f.mem.Len(f.topics.Retry) != 0 {
		t.Fatal("permanent failure must not re-queue")
	}
}

func TestHandle_CircuitOpenDeadLettersWithoutIncrement(t *testing.T) {
	f := newFixture(&channels.Error{Channel: domain.ChannelEmail, Message: "timeout", Transient: true})

	// Trip the breaker with direct failures.
	breaker := f.scheduler.breakers.Get(string(domain.ChannelEmail))
	for i := 0; i < 5; i++ {
		breaker.Execute(context.Background(), func(context.Context) error {
			return &channels.Error{Channel: domain.ChannelEmail, Message: "down", Transient: true}
		})
	}
	callsBefore := f.adapter.callCount()

	envelope := domain.RetryEnvelope{
		ChannelDispatchJob: testJob(),
		RetryMetadata:      domain.RetryMetadata{RetryCount: 2},
	}
	if err := f.scheduler.Handle(context.Background(), envelopeRecord(t, envelope)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.adapter.callCount() != callsBefore {
		t.Fatal("open breaker must reject without invoking the channel")
	}
	rec, ok := f.mem.Next(f.topics.DLQ)
	if !ok {
		t.Fatal("expected a dead-letter record")
	}
	var record domain.DeadLetterRecord
	if err := json.Unmarshal(rec.Value, &record); err != nil {
		t.Fatal(err)
	}
	if record.Error.Kind != domain.FailureKindCircuitOpen {
		t.Errorf("kind = %s", record.Error.Kind)
	}
	if record.RetryMetadata == nil || record.RetryMetadata.RetryCount != 2 {
		t.Errorf("retryCount must be preserved unincremented, got %+v", record.RetryMetadata)
	}
}

func TestHandle_MalformedEnvelopeDeadLetters(t *testing.T) {
	f := newFixture(nil)

	rec := stream.Record{Key: "corr-x", Value: []byte(`{"channel":"carrier-pigeon"}`)}
	if err := f.scheduler.Handle(context.Background(), rec); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.adapter.callCount() != 0 {
		t.Fatal("no channel call may happen on malformed data")
	}
	if kind := f.deadLetterKind(t); kind != domain.FailureKindValidation {
		t.Errorf("kind = %s", kind)
	}
}
