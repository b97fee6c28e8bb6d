package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Entry field names inside a Redis stream message.
const (
	fieldKey     = "key"
	fieldValue   = "value"
	fieldHeaders = "headers"
)

// DefaultBlock is how long a consumer read blocks before re-checking ctx.
const DefaultBlock = 5 * time.Second

// Redis implements Publisher and Consumer on Redis Streams with consumer
// groups. One Redis value serves every topic; the consumer name must be
// unique per process so pending entries are attributable.
type Redis struct {
	client   *redis.Client
	group    string
	consumer string
	block    time.Duration
	log      zerolog.Logger
}

func NewRedis(client *redis.Client, group, consumer string, log zerolog.Logger) *Redis {
	return &Redis{
		client:   client,
		group:    group,
		consumer: consumer,
		block:    DefaultBlock,
		log:      log.With().Str("component", "stream").Logger(),
	}
}

// EnsureGroups creates the consumer group on each topic, creating the
// stream itself if missing. An already-existing group is not an error.
func (s *Redis) EnsureGroups(ctx context.Context, topics ...string) error {
	for _, topic := range topics {
		err := s.client.XGroupCreateMkStream(ctx, topic, s.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group on %s: %w", topic, err)
		}
	}
	return nil
}

func (s *Redis) Publish(ctx context.Context, topic string, rec Record) error {
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{
			fieldKey:     rec.Key,
			fieldValue:   string(rec.Value),
			fieldHeaders: string(headers),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", topic, err)
	}
	return nil
}

// Consume reads one record at a time under the consumer group and acks
// each after the handler returns. Handler errors are logged, never
// propagated: emitting to retry/dlq is the handler's responsibility and
// has already happened by the time it returns.
func (s *Redis) Consume(ctx context.Context, topic string, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		entries, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{topic, ">"},
			Block:    s.block,
			Count:    1,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error().Err(err).Str("topic", topic).Msg("read failed")
			time.Sleep(time.Second)
			continue
		}

		for _, str := range entries {
			for _, msg := range str.Messages {
				rec, decodeErr := decodeMessage(msg)
				if decodeErr != nil {
					s.log.Error().Err(decodeErr).Str("topic", topic).Str("id", msg.ID).Msg("bad stream entry")
				} else if handlerErr := handler(ctx, rec); handlerErr != nil {
					s.log.Warn().Err(handlerErr).Str("topic", topic).Str("correlation_id", rec.Key).Msg("record handler failed")
				}
				if err := s.client.XAck(ctx, topic, s.group, msg.ID).Err(); err != nil {
					s.log.Error().Err(err).Str("topic", topic).Str("id", msg.ID).Msg("ack failed")
				}
			}
		}
	}
}

// Reclaim transfers entries pending longer than minIdle to this consumer
// and returns how many were reclaimed. Reclaimed entries are re-delivered
// through Consume on the next read of pending history; here they are
// handed directly to the handler and acked, matching the normal path.
func (s *Redis) Reclaim(ctx context.Context, topic string, minIdle time.Duration, count int, handler Handler) (int, error) {
	msgs, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   topic,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xautoclaim %s: %w", topic, err)
	}

	for _, msg := range msgs {
		rec, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			s.log.Error().Err(decodeErr).Str("topic", topic).Str("id", msg.ID).Msg("bad reclaimed entry")
		} else if handlerErr := handler(ctx, rec); handlerErr != nil {
			s.log.Warn().Err(handlerErr).Str("topic", topic).Str("correlation_id", rec.Key).Msg("reclaimed record handler failed")
		}
		if err := s.client.XAck(ctx, topic, s.group, msg.ID).Err(); err != nil {
			s.log.Error().Err(err).Str("topic", topic).Str("id", msg.ID).Msg("ack failed")
		}
	}
	return len(msgs), nil
}

func decodeMessage(msg redis.XMessage) (Record, error) {
	rec := Record{}

	key, ok := msg.Values[fieldKey].(string)
	if !ok {
		return rec, fmt.Errorf("entry %s: missing key field", msg.ID)
	}
	value, ok := msg.Values[fieldValue].(string)
	if !ok {
		return rec, fmt.Errorf("entry %s: missing value field", msg.ID)
	}
	rec.Key = key
	rec.Value = []byte(value)

	if raw, ok := msg.Values[fieldHeaders].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Headers); err != nil {
			return rec, fmt.Errorf("entry %s: bad headers: %w", msg.ID, err)
		}
	}
	return rec, nil
}

var (
	_ Publisher = (*Redis)(nil)
	_ Consumer  = (*Redis)(nil)
)
