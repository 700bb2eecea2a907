// Package cache provides the Redis-backed result cache used by the
// guardrail engine. The cache is advisory: every failure degrades to a
// miss so an unavailable Redis never blocks a check.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "guardrail:"
	defaultTTL = 60 * time.Second

	// opTimeout keeps cache I/O off the critical path: a slow Redis is
	// treated like an absent one.
	opTimeout = 250 * time.Millisecond
)

// ResultCache stores serialized guardrail verdicts keyed by
// (persona, query-hash). It implements guardrail.Cache.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache creates a cache over the shared Redis client. A nil
// client yields a cache that always misses.
func NewResultCache(client *redis.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ResultCache{client: client, ttl: ttl}
}

// Get returns the cached payload, or (nil, nil) on a miss. Only real
// transport failures surface as errors.
func (c *ResultCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c == nil || c.client == nil || key == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set writes the payload with the given TTL, falling back to the cache
// default when ttl is zero.
func (c *ResultCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c == nil || c.client == nil || key == "" || len(value) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return c.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

// Clear removes all keys under the given namespace, or the whole
// guardrail keyspace when namespace is empty.
func (c *ResultCache) Clear(ctx context.Context, namespace string) error {
	if c == nil || c.client == nil {
		return nil
	}
	pattern := keyPrefix + namespace + "*"

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
