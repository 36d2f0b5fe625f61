package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyCache remembers digests of printer keys that recently passed
// verification.
type KeyCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewKeyCache creates a KeyCache. Entries expire after ttl.
func NewKeyCache(client *redis.Client, ttl time.Duration) *KeyCache {
	return &KeyCache{client: client, prefix: "printqueue:printer-key:", ttl: ttl}
}

// Verified reports whether digest was remembered and has not expired.
func (c *KeyCache) Verified(ctx context.Context, digest string) (bool, error) {
	err := c.client.Get(ctx, c.prefix+digest).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read printer key cache: %w", err)
	}
	return true, nil
}

// Remember stores digest for the cache ttl.
func (c *KeyCache) Remember(ctx context.Context, digest string) error {
	if err := c.client.Set(ctx, c.prefix+digest, "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("write printer key cache: %w", err)
	}
	return nil
}
