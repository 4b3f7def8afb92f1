package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTTL is returned by NewCached for a TTL that would cache verdicts
// forever.
var ErrInvalidTTL = errors.New("verdict ttl must be positive")

// Cached wraps an Authenticator with a VerdictCache. Keys are an HMAC of the
// credentials, so neither the cache nor Redis ever sees a password.
type Cached struct {
	next   Authenticator
	cache  VerdictCache
	ttl    time.Duration
	secret []byte
}

// NewCached creates a caching Authenticator.
//
// Parameters:
//   - next: The authenticator consulted on a miss
//   - cache: Where verdicts are kept
//   - ttl: How long a verdict stays valid; must be positive
//   - secret: HMAC key for cache keys; processes sharing a Redis cache must
//     use the same secret. Empty selects a random per-process key.
//
// Returns:
//   - The caching authenticator
func NewCached(next Authenticator, cache VerdictCache, ttl time.Duration, secret []byte) (*Cached, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("%w, got %s", ErrInvalidTTL, ttl)
	}

	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate cache secret: %w", err)
		}
	}

	return &Cached{next: next, cache: cache, ttl: ttl, secret: secret}, nil
}

// Authenticate implements Authenticator.
func (c *Cached) Authenticate(ctx context.Context, username, password string) (bool, error) {
	return c.cache.GetOrVerify(ctx, c.key(username, password), c.ttl, func(ctx context.Context) (bool, error) {
		return c.next.Authenticate(ctx, username, password)
	})
}

func (c *Cached) key(username, password string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(username))
	mac.Write([]byte{0})
	mac.Write([]byte(password))
	return hex.EncodeToString(mac.Sum(nil))
}
