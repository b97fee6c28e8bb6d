package stream

import (
	"context"
	"testing"
	"time"
)

func TestTopicsFor(t *testing.T) {
	topics := TopicsFor("prod")
	if topics.Events != "prod.notifications.events" {
		t.Errorf("events topic = %q", topics.Events)
	}
	if topics.Retry != "prod.notifications.retry" {
		t.Errorf("retry topic = %q", topics.Retry)
	}
	if topics.DLQ != "prod.notifications.dlq" {
		t.Errorf("dlq topic = %q", topics.DLQ)
	}
	if got := len(topics.All()); got != 3 {
		t.Errorf("All() returned %d topics, want 3", got)
	}
}

func TestMemory_PublishNext(t *testing.T) {
	m := NewMemory(4)
	ctx := context.Background()

	rec := Record{Key: "corr-1", Value: []byte(`{}`), Headers: map[string]string{HeaderCorrelationID: "corr-1"}}
	if err := m.Publish(ctx, "t", rec); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if m.Len("t") != 1 {
		t.Fatalf("len = %d, want 1", m.Len("t"))
	}

	got, ok := m.Next("t")
	if !ok {
		t.Fatal("expected a record")
	}
	if got.Key != "corr-1" || got.Headers[HeaderCorrelationID] != "corr-1" {
		t.Fatalf("unexpected record %+v", got)
	}
	if _, ok := m.Next("t"); ok {
		t.Fatal("topic should be empty")
	}
}

func TestMemory_PublishFullBuffer(t *testing.T) {
	m := NewMemory(1)
	ctx := context.Background()

	if err := m.Publish(ctx, "t", Record{Key: "a"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := m.Publish(ctx, "t", Record{Key: "b"}); err != ErrBufferFull {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}
}

func TestMemory_ConsumeDeliversInOrder(t *testing.T) {
	m := NewMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = m.Publish(ctx, "t", Record{Key: "a"})
	_ = m.Publish(ctx, "t", Record{Key: "b"})

	got := make(chan string, 2)
	go func() {
		_ = m.Consume(ctx, "t", func(ctx context.Context, rec Record) error {
			got <- rec.Key
			return nil
		})
	}()

	for _, want := range []string{"a", "b"} {
		select {
		case key := <-got:
			if key != want {
				t.Fatalf("got %q, want %q", key, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for record")
		}
	}
}
