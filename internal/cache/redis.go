package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBackend speaks the Redis protocol over a persistent connection pool.
type redisBackend struct {
	rdb     *redis.Client
	timeout time.Duration
}

// newRedisBackend parses the connection URL and verifies liveness with a
// ping before the transport is accepted.
func newRedisBackend(ctx context.Context, url string, timeout time.Duration) (*redisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return &redisBackend{rdb: rdb, timeout: timeout}, nil
}

func (b *redisBackend) Name() string { return "redis" }

func (b *redisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	val, err := b.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (b *redisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.rdb.Set(ctx, key, value, ttl).Err()
}

func (b *redisBackend) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.rdb.Del(ctx, key).Err()
}

func (b *redisBackend) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	n, err := b.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close shuts down the underlying connection pool.
func (b *redisBackend) Close() error {
	return b.rdb.Close()
}
