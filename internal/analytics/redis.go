// Package analytics keeps hourly per-channel delivery counters in
// Redis. Counters are best-effort operational data, not billing; a
// failed write is logged and forgotten.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/domain"
)

// DefaultRetention is how long counter buckets survive.
const DefaultRetention = 30 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

func NewRedisSink(client *redis.Client, envPrefix string, log zerolog.Logger) *RedisSink {
	return &RedisSink{
		client:    client,
		prefix:    envPrefix,
		retention: DefaultRetention,
		log:       log.With().Str("component", "analytics").Logger(),
		now:       time.Now,
	}
}

// WithRetention overrides the bucket TTL.
func (s *RedisSink) WithRetention(retention time.Duration) *RedisSink {
	s.retention = retention
	return s
}

// WithClock swaps the time source, used in tests.
func (s *RedisSink) WithClock(now func() time.Time) *RedisSink {
	s.now = now
	return s
}

func (s *RedisSink) Delivered(ctx context.Context, channel domain.Channel) {
	s.incr(ctx, channel, "delivered")
}

func (s *RedisSink) Failed(ctx context.Context, channel domain.Channel) {
	s.incr(ctx, channel, "failed")
}

func (s *RedisSink) incr(ctx context.Context, channel domain.Channel, outcome string) {
	key := s.buildKey(channel, outcome, s.now())

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("analytics write failed")
	}
}

// buildKey buckets counters by hour: {prefix}:analytics:{channel}:{outcome}:{yyyymmddhh}.
func (s *RedisSink) buildKey(channel domain.Channel, outcome string, t time.Time) string {
	bucket := t.UTC().Format("2006010215")
	return fmt.Sprintf("%s:analytics:%s:%s:%s", s.prefix, channel, outcome, bucket)
}
