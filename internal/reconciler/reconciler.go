// Package reconciler re-claims stream entries stuck in another
// consumer's pending list, typically after a worker crash. Reclaimed
// entries run through the normal handlers, so the pipeline's
// retry/dead-letter routing applies to them unchanged.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/stream"
)

// Reclaimer transfers pending entries older than MinIdle.
type Reclaimer interface {
	Reclaim(ctx context.Context, topic string, minIdle time.Duration, count int, handler stream.Handler) (int, error)
}

// MetricsSink records reclaim counts. Non-blocking.
type MetricsSink interface {
	ReclaimCompleted(topic string, count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Schedule is a cron expression for reclaim cycles.
	// Default: every 5 minutes.
	Schedule string

	// MinIdle is how long an entry must sit pending before it is
	// considered abandoned. Default: 10 minutes.
	MinIdle time.Duration

	// BatchSize is the maximum number of entries reclaimed per topic
	// per cycle. Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Schedule:  "*/5 * * * *",
		MinIdle:   10 * time.Minute,
		BatchSize: 100,
	}
}

// Reconciler runs reclaim cycles on a cron schedule. It is meant to
// run on the elected leader only; every instance reclaiming at once
// would just shuffle pending entries between consumers.
type Reconciler struct {
	config    Config
	reclaimer Reclaimer
	handlers  map[string]stream.Handler // topic -> handler
	metrics   MetricsSink               // optional, nil = disabled
	log       zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a Reconciler. handlers maps each topic to the handler
// that normally consumes it.
func New(config Config, reclaimer Reclaimer, handlers map[string]stream.Handler, log zerolog.Logger) *Reconciler {
	if config.Schedule == "" {
		config.Schedule = DefaultConfig().Schedule
	}
	if config.MinIdle <= 0 {
		config.MinIdle = DefaultConfig().MinIdle
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Reconciler{
		config:    config,
		reclaimer: reclaimer,
		handlers:  handlers,
		log:       log.With().Str("component", "reconciler").Logger(),
	}
}

// WithMetrics attaches a metrics sink.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run schedules reclaim cycles and blocks until ctx is cancelled.
// An immediate cycle runs on startup, then per the cron schedule.
func (r *Reconciler) Run(ctx context.Context) error {
	r.log.Info().
		Str("schedule", r.config.Schedule).
		Dur("min_idle", r.config.MinIdle).
		Int("batch_size", r.config.BatchSize).
		Msg("reconciler started")

	c := cron.New()
	if _, err := c.AddFunc(r.config.Schedule, func() { r.Cycle(ctx) }); err != nil {
		return err
	}

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()

	r.Cycle(ctx)
	c.Start()

	<-ctx.Done()

	stopCtx := c.Stop() // waits for a running cycle to finish
	<-stopCtx.Done()
	r.log.Info().Msg("reconciler stopped")
	return ctx.Err()
}

// Cycle runs one reclaim pass over every registered topic.
func (r *Reconciler) Cycle(ctx context.Context) {
	for topic, handler := range r.handlers {
		if ctx.Err() != nil {
			return
		}
		count, err := r.reclaimer.Reclaim(ctx, topic, r.config.MinIdle, r.config.BatchSize, handler)
		if err != nil {
			r.log.Error().Err(err).Str("topic", topic).Msg("reclaim cycle failed")
			continue
		}
		if count > 0 {
			r.log.Info().Str("topic", topic).Int("reclaimed", count).Msg("reclaimed pending entries")
		}
		if r.metrics != nil {
			r.metrics.ReclaimCompleted(topic, count)
		}
	}
}
