package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/channels"
	"github.com/ikbalhussain-1/notification-service/internal/dlq"
	"github.com/ikbalhussain-1/notification-service/internal/domain"
	"github.com/ikbalhussain-1/notification-service/internal/stream"
)

type fakeAdapter struct {
	mu      sync.Mutex
	channel domain.Channel
	err     error
	sent    []channels.Message
}

func (a *fakeAdapter) Channel() domain.Channel { return a.channel }

func (a *fakeAdapter) Send(ctx context.Context, msg channels.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, msg)
	return a.err
}

func (a *fakeAdapter) sentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

func testRequest(chs ...domain.Channel) domain.DeliveryRequest {
	return domain.DeliveryRequest{
		CorrelationID: "corr-1",
		EventType:     "lab.report.ready",
		Channels:      chs,
		Recipients: domain.RecipientSpec{
			Email:    &domain.EmailRecipients{To: []string{"a@example.com"}},
			Webhook:  &domain.WebhookRecipients{URL: "https://example.com/hook"},
			Internal: &domain.InternalRecipients{Targets: []string{"audit"}},
		},
		TemplateID: "lab_report_ready",
		Data:       map[string]any{"reportId": "LR-1", "sku": "SKU-1"},
	}
}

func requestRecord(t *testing.T, req domain.DeliveryRequest) stream.Record {
	t.Helper()
	value, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return stream.Record{Key: req.CorrelationID, Value: value}
}

func newTestWorker(adapters ...channels.Adapter) (*Worker, *stream.Memory, stream.Topics) {
	mem := stream.NewMemory(16)
	topics := stream.TopicsFor("test")
	deadLetters := dlq.NewPublisher(mem, topics, zerolog.Nop())
	w := New(mem, mem, topics, adapters, deadLetters, zerolog.Nop())
	return w, mem, topics
}

func TestHandle_SuccessNoFurtherEmission(t *testing.T) {
	email := &fakeAdapter{channel: domain.ChannelEmail}
	w, mem, topics := newTestWorker(email)

	if err := w.Handle(context.Background(), requestRecord(t, testRequest(domain.ChannelEmail))); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if email.sentCount() != 1 {
		t.Fatalf("sent = %d", email.sentCount())
	}
	if mem.Len(topics.Retry) != 0 || mem.Len(topics.DLQ) != 0 {
		t.Fatal("success must not emit retry or dlq records")
	}
}

func TestHandle_TransientFailureSchedulesRetry(t *testing.T) {
	email := &fakeAdapter{
		channel: domain.ChannelEmail,
		err:     &channels.Error{Channel: domain.ChannelEmail, Message: "connection refused", Transient: true},
	}
	w, mem, topics := newTestWorker(email)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.WithClock(func() time.Time { return fixed })

	if err := w.Handle(context.Background(), requestRecord(t, testRequest(domain.ChannelEmail))); err != nil {
		t.Fatalf("handle: %v", err)
	}

	rec, ok := mem.Next(topics.Retry)
	if !ok {
		t.Fatal("expected a retry record")
	}
	if rec.Headers[stream.HeaderRetryCount] != "0" {
		t.Errorf("retry-count header = %q", rec.Headers[stream.HeaderRetryCount])
	}

	var envelope domain.RetryEnvelope
	if err := json.Unmarshal(rec.Value, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.RetryMetadata.RetryCount != 0 {
		t.Errorf("retryCount = %d", envelope.RetryMetadata.RetryCount)
	}
	if envelope.RetryMetadata.NextRetryAt == nil {
		t.Fatal("nextRetryAt must be set")
	}
	if got := envelope.RetryMetadata.NextRetryAt.Sub(fixed); got != 60*time.Second {
		t.Errorf("first retry delay = %s, want 60s", got)
	}
	if envelope.Channel != domain.ChannelEmail {
		t.Errorf("channel = %s", envelope.Channel)
	}
	if mem.Len(topics.DLQ) != 0 {
		t.Fatal("transient failure must not dead-letter")
	}
}

func TestHandle_PermanentFailureDeadLetters(t *testing.T) {
	email := &fakeAdapter{
		channel: domain.ChannelEmail,
		err:     &channels.Error{Channel: domain.ChannelEmail, Message: "mailbox unavailable", Transient: false},
	}
	w, mem, topics := newTestWorker(email)

	if err := w.Handle(context.Background(), requestRecord(t, testRequest(domain.ChannelEmail))); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if mem.Len(topics.Retry) != 0 {
		t.Fatal("permanent failure must not schedule a retry")
	}

	rec, ok := mem.Next(topics.DLQ)
	if !ok {
		t.Fatal("expected a dead-letter record")
	}
	var record domain.DeadLetterRecord
	if err := json.Unmarshal(rec.Value, &record); err != nil {
		t.Fatal(err)
	}
	if record.Error.Kind != domain.FailureKindPermanent {
		t.Errorf("kind = %s", record.Error.Kind)
	}
	if record.Error.Message == "" {
		t.Error("error message must be populated")
	}
	if record.FailedAt.IsZero() {
		t.Error("failedAt must be populated")
	}
}

// A request targeting two channels where one fails must still deliver
// the other; the failure produces exactly one retry record.
func TestHandle_PartialFailureIsolation(t *testing.T) {
	email := &fakeAdapter{
		channel: domain.ChannelEmail,
		err:     &channels.Error{Channel: domain.ChannelEmail, Message: "timeout", Transient: true},
	}
	webhook := &fakeAdapter{channel: domain.ChannelWebhook}
	w, mem, topics := newTestWorker(email, webhook)

	req := testRequest(domain.ChannelEmail, domain.ChannelWebhook)
	if err := w.Handle(context.Background(), requestRecord(t, req)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if webhook.sentCount() != 1 {
		t.Fatal("sibling channel must still deliver")
	}
	if mem.Len(topics.Retry) != 1 {
		t.Fatalf("retry records = %d, want 1", mem.Len(topics.Retry))
	}
	rec, _ := mem.Next(topics.Retry)
	var envelope domain.RetryEnvelope
	if err := json.Unmarshal(rec.Value, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Channel != domain.ChannelEmail {
		t.Errorf("retry record is for %s, want email", envelope.Channel)
	}
	if mem.Len(topics.DLQ) != 0 {
		t.Fatal("no dead letters expected")
	}
}

func TestHandle_MalformedRequestDeadLetters(t *testing.T) {
	email := &fakeAdapter{channel: domain.ChannelEmail}
	w, mem, topics := newTestWorker(email)

	rec := stream.Record{Key: "corr-x", Value: []byte(`{"eventType":"","channels":[]}`)}
	if err := w.Handle(context.Background(), rec); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if email.sentCount() != 0 {
		t.Fatal("no channel call may happen on malformed data")
	}

	dl, ok := mem.Next(topics.DLQ)
	if !ok {
		t.Fatal("expected a dead-letter record")
	}
	var record domain.DeadLetterRecord
	if err := json.Unmarshal(dl.Value, &record); err != nil {
		t.Fatal(err)
	}
	if record.Error.Kind != domain.FailureKindValidation {
		t.Errorf("kind = %s", record.Error.Kind)
	}
	if string(record.OriginalMessage) != `{"eventType":"","channels":[]}` {
		t.Errorf("original message altered: %s", record.OriginalMessage)
	}
}

func TestHandle_MissingAdapterDeadLetters(t *testing.T) {
	w, mem, topics := newTestWorker() // no adapters at all

	if err := w.Handle(context.Background(), requestRecord(t, testRequest(domain.ChannelInternal))); err != nil {
		t.Fatalf("handle: %v", err)
	}
	rec, ok := mem.Next(topics.DLQ)
	if !ok {
		t.Fatal("expected a dead-letter record")
	}
	var record domain.DeadLetterRecord
	if err := json.Unmarshal(rec.Value, &record); err != nil {
		t.Fatal(err)
	}
	if record.Error.Kind != domain.FailureKindPermanent {
		t.Errorf("kind = %s", record.Error.Kind)
	}
}

func TestHandle_UnknownTemplateDeadLetters(t *testing.T) {
	email := &fakeAdapter{channel: domain.ChannelEmail}
	w, mem, topics := newTestWorker(email)

	req := testRequest(domain.ChannelEmail)
	req.TemplateID = "no_such_template"
	if err := w.Handle(context.Background(), requestRecord(t, req)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if email.sentCount() != 0 {
		t.Fatal("render failure must prevent the channel call")
	}
	if mem.Len(topics.DLQ) != 1 {
		t.Fatalf("dlq records = %d, want 1", mem.Len(topics.DLQ))
	}
	if mem.Len(topics.Retry) != 0 {
		t.Fatal("render failure is permanent, no retry")
	}
}
