package services_test

import (
	"context"
	"testing"
	"time"

	"checkout-service/services"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	keys map[string]time.Duration
}

func (f *fakeRedis) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.keys[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestRedisEventLedger(t *testing.T) {
	rdb := &fakeRedis{keys: map[string]time.Duration{}}
	ledger := services.NewRedisEventLedger(rdb, 0)

	seen, err := ledger.Seen(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, ledger.MarkProcessed(context.Background(), "evt_1"))
	assert.Equal(t, 24*time.Hour, rdb.keys["checkout:gateway-event:evt_1"])

	seen, err = ledger.Seen(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestNopEventLedger(t *testing.T) {
	var l services.NopEventLedger
	require.NoError(t, l.MarkProcessed(context.Background(), "evt_1"))
	seen, err := l.Seen(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}
