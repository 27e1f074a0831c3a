package query

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "perigee:"

// Cache is an optional Redis read-through layer in front of the query
// services. Every failure degrades to a miss: a dead Redis slows reads
// down, it never breaks them.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache connects to Redis at addr. ttl bounds entry staleness.
func NewCache(addr string, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		logger: logger,
	}
}

// Close releases the Redis connection pool.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// get loads key into dest and reports whether it was a usable hit.
func (c *Cache) get(ctx context.Context, key string, dest any) bool {
	if c == nil {
		return false
	}
	raw, err := c.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Debug("cache entry undecodable, treating as miss",
			zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// set stores v under key for the cache TTL. Best effort.
func (c *Cache) set(ctx context.Context, key string, v any) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+key, raw, c.ttl).Err(); err != nil {
		c.logger.Debug("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops the given keys, for callers that know they just wrote.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = cacheKeyPrefix + k
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		c.logger.Debug("cache invalidation failed", zap.Error(err))
	}
}

// cached wraps a loader with the read-through protocol: hit returns the
// cached value, miss runs the loader and stores its result.
func cached[T any](ctx context.Context, c *Cache, key string, load func() (T, error)) (T, error) {
	var hit T
	if c.get(ctx, key, &hit) {
		return hit, nil
	}
	value, err := load()
	if err != nil {
		return value, err
	}
	c.set(ctx, key, value)
	return value, nil
}
