package admission

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/domain"
	"github.com/ikbalhussain-1/notification-service/internal/stream"
)

type fakeGate struct {
	seen map[string]bool
	err  error
}

func newFakeGate() *fakeGate { return &fakeGate{seen: make(map[string]bool)} }

func (g *fakeGate) Reserve(ctx context.Context, req domain.DeliveryRequest) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	key := req.EventType + "/" + req.CorrelationID
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func validRequest() domain.DeliveryRequest {
	return domain.DeliveryRequest{
		CorrelationID: "corr-1",
		EventType:     "lab.report.ready",
		Channels:      []domain.Channel{domain.ChannelEmail},
		Recipients:    domain.RecipientSpec{Email: &domain.EmailRecipients{To: []string{"a@example.com"}}},
		TemplateID:    "lab_report_ready",
		Data:          map[string]any{"reportId": "LR-1"},
	}
}

func TestAdmit_FirstSeenPublishes(t *testing.T) {
	mem := stream.NewMemory(8)
	topics := stream.TopicsFor("test")
	admitter := New(newFakeGate(), mem, topics, zerolog.Nop())

	result, err := admitter.Admit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !result.Accepted || result.Duplicate {
		t.Fatalf("result = %+v", result)
	}
	if result.CorrelationID != "corr-1" {
		t.Errorf("correlation id = %q", result.CorrelationID)
	}

	rec, ok := mem.Next(topics.Events)
	if !ok {
		t.Fatal("request not on the events stream")
	}
	if rec.Key != "corr-1" || rec.Headers[stream.HeaderCorrelationID] != "corr-1" {
		t.Errorf("record key/headers: %q %v", rec.Key, rec.Headers)
	}
	var published domain.DeliveryRequest
	if err := json.Unmarshal(rec.Value, &published); err != nil {
		t.Fatal(err)
	}
	if published.EventType != "lab.report.ready" {
		t.Errorf("published request = %+v", published)
	}
}

func TestAdmit_DuplicateShortCircuits(t *testing.T) {
	mem := stream.NewMemory(8)
	topics := stream.TopicsFor("test")
	admitter := New(newFakeGate(), mem, topics, zerolog.Nop())
	ctx := context.Background()

	if _, err := admitter.Admit(ctx, validRequest()); err != nil {
		t.Fatal(err)
	}
	result, err := admitter.Admit(ctx, validRequest())
	if err != nil {
		t.Fatalf("duplicate admit: %v", err)
	}
	if !result.Accepted || !result.Duplicate {
		t.Fatalf("result = %+v", result)
	}
	if mem.Len(topics.Events) != 1 {
		t.Fatalf("events published = %d, want exactly 1", mem.Len(topics.Events))
	}
}

func TestAdmit_AssignsCorrelationID(t *testing.T) {
	mem := stream.NewMemory(8)
	admitter := New(newFakeGate(), mem, stream.TopicsFor("test"), zerolog.Nop())

	req := validRequest()
	req.CorrelationID = ""
	result, err := admitter.Admit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if result.CorrelationID == "" {
		t.Fatal("correlation id must be assigned")
	}
}

func TestAdmit_InvalidRequestRejected(t *testing.T) {
	mem := stream.NewMemory(8)
	topics := stream.TopicsFor("test")
	admitter := New(newFakeGate(), mem, topics, zerolog.Nop())

	req := validRequest()
	req.Channels = nil
	_, err := admitter.Admit(context.Background(), req)
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if mem.Len(topics.Events) != 0 {
		t.Fatal("rejected requests must not publish")
	}
}

func TestAdmit_PublishFailureSurfaces(t *testing.T) {
	mem := stream.NewMemory(0) // zero buffer, every publish fails
	admitter := New(newFakeGate(), mem, stream.TopicsFor("test"), zerolog.Nop())

	if _, err := admitter.Admit(context.Background(), validRequest()); err == nil {
		t.Fatal("publish failure must surface to the caller")
	}
}

func TestAdmit_GateErrorSurfaces(t *testing.T) {
	gate := newFakeGate()
	gate.err = errors.New("store down")
	admitter := New(gate, stream.NewMemory(8), stream.TopicsFor("test"), zerolog.Nop())

	if _, err := admitter.Admit(context.Background(), validRequest()); err == nil {
		t.Fatal("gate error must surface when the gate does not fail open")
	}
}
