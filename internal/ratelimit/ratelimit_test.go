package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_MemoryStoreWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	l := New(store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.Allow(ctx, LoginRule, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, d.Allowed, "hit %d", i+1)
	}

	d, err := l.Allow(ctx, LoginRule, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)

	// other keys are independent
	d, err = l.Allow(ctx, LoginRule, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	now = now.Add(time.Minute)
	d, err = l.Allow(ctx, LoginRule, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(4), d.Remaining)
}

func TestMemoryStore_Sweep(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	_, _, _ = store.Hit(context.Background(), "a", time.Second)
	_, _, _ = store.Hit(context.Background(), "b", time.Hour)

	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, store.Sweep())
}

type fakeCounter struct {
	counts  map[string]int64
	ttls    map[string]time.Duration
	incrErr error
}

func (f *fakeCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	if f.incrErr != nil {
		return redis.NewIntResult(0, f.incrErr)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounter) ExpireNX(_ context.Context, key string, exp time.Duration) *redis.BoolCmd {
	if _, ok := f.ttls[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.ttls[key] = exp
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCounter) PTTL(_ context.Context, key string) *redis.DurationCmd {
	return redis.NewDurationResult(f.ttls[key], nil)
}

func TestLimiter_RedisStore(t *testing.T) {
	fc := &fakeCounter{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
	l := New(NewRedisStore(fc))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, RegisterRule, "ip")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := l.Allow(ctx, RegisterRule, "ip")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Hour, d.RetryAfter)
	assert.Equal(t, int64(4), fc.counts["rl:register:ip"])
}

func TestLimiter_StoreError(t *testing.T) {
	fc := &fakeCounter{counts: map[string]int64{}, ttls: map[string]time.Duration{}, incrErr: errors.New("down")}
	_, err := New(NewRedisStore(fc)).Allow(context.Background(), RefreshRule, "ip")
	require.Error(t, err)
}
