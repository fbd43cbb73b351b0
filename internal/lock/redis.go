// Package lock provides a short-lived per-key mutual exclusion shared by all
// replicas of the service.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotAcquired = errors.New("lock is held by another owner")

// release deletes the key only if it still holds our token, so an expired
// lock taken over by someone else is left alone.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Release func(ctx context.Context) error

type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire takes the lock for key or fails with ErrNotAcquired. The lock
// expires after the locker's TTL even if it is never released.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, lockKey(key), token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return func(ctx context.Context) error {
		if err := release.Run(ctx, l.client, []string{lockKey(key)}, token).Err(); err != nil {
			return fmt.Errorf("redis release failed: %w", err)
		}
		return nil
	}, nil
}

func lockKey(key string) string {
	return "lock:" + key
}

// NoopLocker always succeeds. Used when no Redis is configured and the
// service runs as a single replica.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string) (Release, error) {
	return func(context.Context) error { return nil }, nil
}
