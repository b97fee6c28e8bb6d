// Package circuitbreaker guards channel transports from repeated
// failures. State is process-local; each worker keeps its own view of
// channel health.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrOpen is returned when the breaker rejects a call without
// attempting it.
var ErrOpen = errors.New("circuit breaker is open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config tunes one breaker. A zero FailureThreshold disables breaking
// entirely and every call passes through.
type Config struct {
	FailureThreshold         int
	ResetTimeout             time.Duration
	HalfOpenSuccessThreshold int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:         5,
		ResetTimeout:             60 * time.Second,
		HalfOpenSuccessThreshold: 2,
	}
}

// StateChangeFunc is invoked outside the lock whenever a breaker
// transitions, with the breaker name and the new state.
type StateChangeFunc func(name string, state State)

// Breaker is a three-state circuit breaker. The open to half-open
// transition is lazy: it happens on the first call after the reset
// timeout elapses, not on a timer.
type Breaker struct {
	name string
	cfg  Config
	log  zerolog.Logger

	now           func() time.Time
	onStateChange StateChangeFunc

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailureAt time.Time
}

func New(name string, cfg Config, log zerolog.Logger) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg,
		log:   log.With().Str("breaker", name).Logger(),
		now:   time.Now,
		state: StateClosed,
	}
}

// WithClock swaps the time source, used in tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// WithStateChange registers a transition callback.
func (b *Breaker) WithStateChange(fn StateChangeFunc) *Breaker {
	b.onStateChange = fn
	return b
}

// Execute runs fn under the breaker. It returns ErrOpen without
// calling fn when the circuit is open and the reset timeout has not
// elapsed.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if b.cfg.FailureThreshold <= 0 {
		return fn(ctx)
	}

	if err := b.before(); err != nil {
		return err
	}

	err := fn(ctx)
	b.after(err)
	return err
}

// State reports the current state, applying the lazy open to half-open
// transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.resetElapsed() {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) before() error {
	b.mu.Lock()

	if b.state == StateOpen {
		if !b.resetElapsed() {
			b.mu.Unlock()
			return ErrOpen
		}
		b.transition(StateHalfOpen)
	}

	b.mu.Unlock()
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()

	if err != nil {
		b.failures++
		b.successes = 0
		b.lastFailureAt = b.now()
		if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
		b.mu.Unlock()
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenSuccessThreshold {
			b.failures = 0
			b.successes = 0
			b.transition(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}

	b.mu.Unlock()
}

// resetElapsed must be called with the lock held.
func (b *Breaker) resetElapsed() bool {
	return b.now().Sub(b.lastFailureAt) >= b.cfg.ResetTimeout
}

// transition must be called with the lock held. The callback runs in
// its own goroutine so user code never executes under the lock.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.log.Info().Str("from", string(prev)).Str("to", string(next)).Msg("circuit breaker state change")
	if b.onStateChange != nil {
		fn, name := b.onStateChange, b.name
		go fn(name, next)
	}
}

// Registry hands out one breaker per name.
type Registry struct {
	cfg           Config
	log           zerolog.Logger
	onStateChange StateChangeFunc

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry(cfg Config, log zerolog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		log:      log,
		breakers: make(map[string]*Breaker),
	}
}

func (r *Registry) WithStateChange(fn StateChangeFunc) *Registry {
	r.onStateChange = fn
	return r
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.cfg, r.log)
	if r.onStateChange != nil {
		b.WithStateChange(r.onStateChange)
	}
	r.breakers[name] = b
	return b
}

// States snapshots every breaker's state, keyed by name.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
