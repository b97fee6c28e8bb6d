package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/domain"
)

type fakeStore struct {
	mu   sync.Mutex
	keys map[string]string
	err  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: make(map[string]string)}
}

func (s *fakeStore) TestAndSet(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, exists := s.keys[key]; exists {
		return false, nil
	}
	s.keys[key] = value
	return true, nil
}

func (s *fakeStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], s.err
}

func sampleRequest() domain.DeliveryRequest {
	return domain.DeliveryRequest{
		CorrelationID: "corr-1",
		EventType:     "lab.report.ready",
		Channels:      []domain.Channel{domain.ChannelEmail},
		Recipients:    domain.RecipientSpec{Email: &domain.EmailRecipients{To: []string{"a@example.com"}}},
		TemplateID:    "lab-reports",
		Data:          map[string]any{"patientName": "Jane", "reportUrl": "https://example.com/r/1"},
	}
}

func TestReserve_FirstSeenThenDuplicate(t *testing.T) {
	store := newFakeStore()
	gate := New(store, "test", false, zerolog.Nop())
	ctx := context.Background()

	fresh, err := gate.Reserve(ctx, sampleRequest())
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if !fresh {
		t.Fatal("first reserve must report first-seen")
	}

	fresh, err = gate.Reserve(ctx, sampleRequest())
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if fresh {
		t.Fatal("second reserve must report duplicate")
	}
}

func TestReserve_FailOpen(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	gate := New(store, "test", true, zerolog.Nop())

	fresh, err := gate.Reserve(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("fail-open must not propagate store errors, got %v", err)
	}
	if !fresh {
		t.Fatal("fail-open must treat the request as first-seen")
	}
}

func TestReserve_FailClosed(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	gate := New(store, "test", false, zerolog.Nop())

	if _, err := gate.Reserve(context.Background(), sampleRequest()); err == nil {
		t.Fatal("expected store error to propagate when fail-open is disabled")
	}
}

// Fingerprint must not depend on map iteration or field declaration order.
func TestFingerprint_Deterministic(t *testing.T) {
	a, err := Fingerprint(sampleRequest())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		b, err := Fingerprint(sampleRequest())
		if err != nil {
			t.Fatal(err)
		}
		if a != b {
			t.Fatalf("fingerprint not deterministic: %s vs %s", a, b)
		}
	}
}

func TestFingerprint_DistinguishesPayloads(t *testing.T) {
	a, _ := Fingerprint(sampleRequest())
	req := sampleRequest()
	req.Data["reportUrl"] = "https://example.com/r/2"
	b, _ := Fingerprint(req)
	if a == b {
		t.Fatal("different payloads must produce different fingerprints")
	}
}

func TestKey_Layout(t *testing.T) {
	gate := New(newFakeStore(), "dev", false, zerolog.Nop())
	key, err := gate.Key(sampleRequest())
	if err != nil {
		t.Fatal(err)
	}
	const prefix = "dev:idempotency:"
	if len(key) != len(prefix)+64 || key[:len(prefix)] != prefix {
		t.Fatalf("unexpected key layout: %q", key)
	}
}
