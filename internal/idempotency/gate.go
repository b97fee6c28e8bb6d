// Package idempotency deduplicates admission: each request is fingerprinted
// and atomically reserved in a shared key/value store so that at most one
// admission succeeds per fingerprint within the TTL window.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/domain"
)

// DefaultTTL bounds the dedup window.
const DefaultTTL = 24 * time.Hour

const sentinel = "processed"

// Store is the key/value contract the gate needs. TestAndSet must be
// atomic: it succeeds only if the key is absent, and sets the expiry in
// the same step.
type Store interface {
	TestAndSet(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
}

// Gate reserves request fingerprints. When the store is unreachable and
// FailOpen is set, requests are treated as first-seen rather than
// blocking ingestion.
type Gate struct {
	store    Store
	prefix   string
	failOpen bool
	ttl      time.Duration
	log      zerolog.Logger
}

func New(store Store, envPrefix string, failOpen bool, log zerolog.Logger) *Gate {
	return &Gate{
		store:    store,
		prefix:   envPrefix,
		failOpen: failOpen,
		ttl:      DefaultTTL,
		log:      log.With().Str("component", "idempotency").Logger(),
	}
}

// WithTTL overrides the dedup window.
func (g *Gate) WithTTL(ttl time.Duration) *Gate {
	g.ttl = ttl
	return g
}

// Reserve returns true if the request has not been seen within the TTL
// window. False means duplicate: the caller short-circuits with an
// accepted-duplicate acknowledgment.
func (g *Gate) Reserve(ctx context.Context, req domain.DeliveryRequest) (bool, error) {
	key, err := g.Key(req)
	if err != nil {
		return false, err
	}

	fresh, err := g.store.TestAndSet(ctx, key, sentinel, g.ttl)
	if err != nil {
		if g.failOpen {
			g.log.Warn().Err(err).Str("correlation_id", req.CorrelationID).
				Msg("idempotency store unreachable, failing open")
			return true, nil
		}
		return false, fmt.Errorf("idempotency reserve: %w", err)
	}
	return fresh, nil
}

// Key builds the store key: {prefix}:idempotency:{fingerprint}.
func (g *Gate) Key(req domain.DeliveryRequest) (string, error) {
	fp, err := Fingerprint(req)
	if err != nil {
		return "", err
	}
	return g.prefix + ":idempotency:" + fp, nil
}

// Fingerprint hashes the canonical form of the request. Canonicalization
// round-trips the payload through a generic map so every object's keys
// marshal sorted; field order never affects the hash.
func Fingerprint(req domain.DeliveryRequest) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("canonicalize request: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("canonicalize request: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
