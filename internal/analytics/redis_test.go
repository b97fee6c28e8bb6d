package analytics

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/domain"
)

func TestBuildKey_HourBuckets(t *testing.T) {
	sink := NewRedisSink(nil, "prod", zerolog.Nop())

	at := time.Date(2026, 3, 1, 14, 37, 12, 0, time.UTC)
	key := sink.buildKey(domain.ChannelEmail, "delivered", at)
	if key != "prod:analytics:email:delivered:2026030114" {
		t.Errorf("key = %q", key)
	}

	// Two writes in the same hour share a bucket.
	later := at.Add(20 * time.Minute)
	if sink.buildKey(domain.ChannelEmail, "delivered", later) != key {
		t.Error("same-hour writes must share a bucket")
	}

	// The next hour rolls over.
	next := at.Add(30 * time.Minute)
	if sink.buildKey(domain.ChannelEmail, "delivered", next) == key {
		t.Error("bucket must roll over hourly")
	}
}
