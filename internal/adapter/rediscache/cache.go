// Package rediscache implements the cache port on top of Redis, used
// where entries need a genuine per-key TTL rather than a bucket-wide one
// (NATS JetStream KV, see internal/adapter/natskv, only supports the
// latter).
package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client as a port/cache.Cache implementation.
type Cache struct {
	client *redis.Client
}

// New creates a Redis-backed cache from an already-constructed client.
func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get retrieves a value from Redis.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

// Set stores a value in Redis with the given TTL. A zero TTL means no
// expiry.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.client.Del(ctx, key).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
