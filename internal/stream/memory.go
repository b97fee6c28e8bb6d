package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrBufferFull is returned by Memory.Publish when a topic buffer is full.
var ErrBufferFull = errors.New("stream buffer full")

// Memory is an in-process stream used by unit tests and single-process
// deployments without a broker. Topics are buffered channels; there are
// no consumer groups, so each topic supports one consumer loop.
type Memory struct {
	mu     sync.Mutex
	topics map[string]chan Record
	buffer int
}

func NewMemory(buffer int) *Memory {
	return &Memory{
		topics: make(map[string]chan Record),
		buffer: buffer,
	}
}

func (m *Memory) topic(name string) chan Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.topics[name]
	if !ok {
		ch = make(chan Record, m.buffer)
		m.topics[name] = ch
	}
	return ch
}

func (m *Memory) Publish(ctx context.Context, topic string, rec Record) error {
	select {
	case m.topic(topic) <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBufferFull
	}
}

func (m *Memory) Consume(ctx context.Context, topic string, handler Handler) error {
	ch := m.topic(topic)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-ch:
			_ = handler(ctx, rec) // handler errors already routed to retry/dlq
		}
	}
}

// Len reports how many records are buffered on a topic.
func (m *Memory) Len(topic string) int {
	return len(m.topic(topic))
}

// Next pops the oldest buffered record off a topic without blocking.
func (m *Memory) Next(topic string) (Record, bool) {
	select {
	case rec := <-m.topic(topic):
		return rec, true
	default:
		return Record{}, false
	}
}

var (
	_ Publisher = (*Memory)(nil)
	_ Consumer  = (*Memory)(nil)
)
