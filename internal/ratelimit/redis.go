package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a counter store backed by Redis, for deployments with
// more than one server instance. Fixed windows are kept as plain
// counters with a TTL; INCR makes the update atomic across instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed counter store. The prefix
// namespaces keys so independent limiters do not collide.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Allow implements CounterStore.
func (s *RedisStore) Allow(ctx context.Context, key string, max int, window time.Duration) (Decision, error) {
	k := s.prefix + ":" + key

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	count := int(incr.Val())
	resetAt := time.Now().Add(ttl.Val())

	remaining := max - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: count <= max, Remaining: remaining, ResetAt: resetAt}, nil
}
