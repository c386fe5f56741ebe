package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is the subset of redis commands the store needs. *redis.Client satisfies it.
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisStore shares counters across API instances.
type RedisStore struct {
	rdb Counter
}

func NewRedisStore(rdb Counter) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}

	// NX keeps the window anchored at the first hit
	if err := s.rdb.ExpireNX(ctx, key, window).Err(); err != nil {
		return 0, 0, err
	}

	ttl, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if ttl < 0 {
		ttl = window
	}

	return n, ttl, nil
}
