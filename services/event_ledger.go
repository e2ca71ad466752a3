package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventLedger remembers gateway event ids that were already applied.
type EventLedger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// RedisClient is the subset of *redis.Client the ledger needs.
type RedisClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisEventLedger stores processed event ids with a TTL longer than the
// gateway's redelivery window.
type RedisEventLedger struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedisEventLedger(client RedisClient, ttl time.Duration) *RedisEventLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisEventLedger{client: client, ttl: ttl}
}

func ledgerKey(eventID string) string {
	return "checkout:gateway-event:" + eventID
}

func (l *RedisEventLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := l.client.Exists(ctx, ledgerKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *RedisEventLedger) MarkProcessed(ctx context.Context, eventID string) error {
	return l.client.Set(ctx, ledgerKey(eventID), time.Now().UTC().Format(time.RFC3339), l.ttl).Err()
}

// NopEventLedger never remembers anything.
type NopEventLedger struct{}

func (NopEventLedger) Seen(context.Context, string) (bool, error) { return false, nil }
func (NopEventLedger) MarkProcessed(context.Context, string) error { return nil }
