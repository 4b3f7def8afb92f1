package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/cyberinferno/go-ftpd/logger"
)

// VerifyFunc performs the real credential check on a cache miss.
type VerifyFunc func(ctx context.Context) (bool, error)

// VerdictCache remembers accept/reject verdicts for hashed credentials.
// Implementations must be safe for concurrent use and must collapse
// concurrent misses for the same key into one verification.
type VerdictCache interface {
	// GetOrVerify returns the cached verdict for key, or runs verify and
	// caches its verdict for ttl. Errors from verify are never cached.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: Opaque cache key derived from the credentials
	//   - ttl: Time-to-live of a freshly cached verdict
	//   - verify: Function performing the real check on a miss
	//
	// Returns:
	//   - The verdict
	//   - An error if verification failed
	GetOrVerify(ctx context.Context, key string, ttl time.Duration, verify VerifyFunc) (bool, error)

	// Len returns the number of cached verdicts.
	Len(ctx context.Context) (int, error)
}

// MemoryVerdictCache keeps verdicts in process memory using go-cache, with
// singleflight preventing a burst of identical logins from running bcrypt
// several times.
type MemoryVerdictCache struct {
	cache *cache.Cache
	group singleflight.Group
}

// NewMemoryVerdictCache creates an in-memory verdict cache.
//
// Parameters:
//   - defaultTTL: TTL used when GetOrVerify is given ttl == 0
//   - cleanupInterval: Interval at which expired verdicts are purged
//
// Returns:
//   - A new MemoryVerdictCache
func NewMemoryVerdictCache(defaultTTL, cleanupInterval time.Duration) *MemoryVerdictCache {
	return &MemoryVerdictCache{cache: cache.New(defaultTTL, cleanupInterval)}
}

// GetOrVerify implements VerdictCache.
func (c *MemoryVerdictCache) GetOrVerify(ctx context.Context, key string, ttl time.Duration, verify VerifyFunc) (bool, error) {
	if v, found := c.cache.Get(key); found {
		if verdict, ok := v.(bool); ok {
			return verdict, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have filled the entry while we waited.
		if cached, found := c.cache.Get(key); found {
			if verdict, ok := cached.(bool); ok {
				return verdict, nil
			}
		}

		verdict, err := verify(ctx)
		if err != nil {
			return false, err
		}

		c.cache.Set(key, verdict, ttl)
		return verdict, nil
	})
	if err != nil {
		return false, err
	}

	return v.(bool), nil
}

// Len implements VerdictCache.
func (c *MemoryVerdictCache) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return c.cache.ItemCount(), nil
}

// RedisVerdictCache keeps verdicts in Redis so several server processes
// behind one address share them. Redis failures degrade to direct
// verification: a login never fails only because the cache is down.
type RedisVerdictCache struct {
	client *redis.Client
	prefix string
	log    logger.Logger
	group  singleflight.Group
}

// NewRedisVerdictCache creates a Redis-backed verdict cache.
//
// Parameters:
//   - client: Connected Redis client; the cache does not close it
//   - prefix: Key prefix, e.g. "ftpd:auth:"
//   - log: Logger for degraded-mode warnings
//
// Returns:
//   - A new RedisVerdictCache
func NewRedisVerdictCache(client *redis.Client, prefix string, log logger.Logger) *RedisVerdictCache {
	return &RedisVerdictCache{client: client, prefix: prefix, log: log}
}

// GetOrVerify implements VerdictCache.
func (c *RedisVerdictCache) GetOrVerify(ctx context.Context, key string, ttl time.Duration, verify VerifyFunc) (bool, error) {
	full := c.prefix + key

	val, err := c.client.Get(ctx, full).Result()
	switch {
	case err == nil:
		return val == "1", nil
	case !errors.Is(err, redis.Nil):
		c.log.Warn("verdict cache unavailable, verifying directly", logger.Err(err))
		return verify(ctx)
	}

	v, err, _ := c.group.Do(full, func() (any, error) {
		verdict, err := verify(ctx)
		if err != nil {
			return false, err
		}

		stored := "0"
		if verdict {
			stored = "1"
		}

		if err := c.client.Set(ctx, full, stored, ttl).Err(); err != nil {
			c.log.Warn("failed to store verdict", logger.Err(err))
		}

		return verdict, nil
	})
	if err != nil {
		return false, err
	}

	return v.(bool), nil
}

// Len implements VerdictCache. It scans only keys under the cache prefix.
func (c *RedisVerdictCache) Len(ctx context.Context) (int, error) {
	n := 0
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		n++
	}

	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan verdicts: %w", err)
	}

	return n, nil
}
