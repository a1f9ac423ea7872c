// Package cache provides a small Redis-backed cache for rendered order book
// snapshots, so repeated view/orderbook requests do not hit the store.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache caches serialized book snapshots with a short TTL. A nil
// *SnapshotCache is valid and caches nothing.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis at addr. Returns nil when addr is empty.
func New(addr string, ttl time.Duration) *SnapshotCache {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &SnapshotCache{client: client, ttl: ttl}
}

// Get returns the cached snapshot for key, if present.
func (c *SnapshotCache) Get(ctx context.Context, key string) (string, bool) {
	if c == nil {
		return "", false
	}
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Set stores a snapshot under key for the cache TTL. Errors are ignored; the
// cache is best-effort.
func (c *SnapshotCache) Set(ctx context.Context, key, value string) {
	if c == nil {
		return
	}
	c.client.Set(ctx, key, value, c.ttl)
}

// Close releases the Redis connection.
func (c *SnapshotCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
