package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/stream"
)

type fakeReclaimer struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
	calls  []string
}

func (f *fakeReclaimer) Reclaim(ctx context.Context, topic string, minIdle time.Duration, count int, handler stream.Handler) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, topic)
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[topic], nil
}

func noopHandler(ctx context.Context, rec stream.Record) error { return nil }

func TestCycle_ReclaimsEveryTopic(t *testing.T) {
	reclaimer := &fakeReclaimer{counts: map[string]int{"t.events": 2, "t.retry": 0}}
	handlers := map[string]stream.Handler{
		"t.events": noopHandler,
		"t.retry":  noopHandler,
	}
	r := New(DefaultConfig(), reclaimer, handlers, zerolog.Nop())

	r.Cycle(context.Background())

	if len(reclaimer.calls) != 2 {
		t.Fatalf("reclaim calls = %v", reclaimer.calls)
	}
}

func TestCycle_ErrorDoesNotAbortOtherTopics(t *testing.T) {
	reclaimer := &fakeReclaimer{err: errors.New("redis down")}
	handlers := map[string]stream.Handler{
		"t.events": noopHandler,
		"t.retry":  noopHandler,
	}
	r := New(DefaultConfig(), reclaimer, handlers, zerolog.Nop())

	r.Cycle(context.Background())

	if len(reclaimer.calls) != 2 {
		t.Fatalf("a failing topic must not stop the cycle, calls = %v", reclaimer.calls)
	}
}

func TestNew_DefaultsApplied(t *testing.T) {
	r := New(Config{}, &fakeReclaimer{}, nil, zerolog.Nop())
	if r.config.Schedule != "*/5 * * * *" {
		t.Errorf("schedule = %q", r.config.Schedule)
	}
	if r.config.MinIdle != 10*time.Minute {
		t.Errorf("min idle = %s", r.config.MinIdle)
	}
	if r.config.BatchSize != 100 {
		t.Errorf("batch size = %d", r.config.BatchSize)
	}
}
