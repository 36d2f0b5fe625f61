package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRequestInFlight is returned when another request with the same key has
// not finished yet.
var ErrRequestInFlight = errors.New("request with this idempotency key is in progress")

const pendingMarker = "pending"

// CachedResponse is a stored HTTP response replayed for a repeated key.
type CachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// IdempotencyStore keeps responses of idempotent requests in Redis.
type IdempotencyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewIdempotencyStore creates an IdempotencyStore. Entries expire after ttl.
func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, prefix: "printqueue:idempotency:", ttl: ttl}
}

// Reserve claims key for a new request. It returns the cached response when
// the key was already completed, ErrRequestInFlight when it is still running,
// and (nil, nil) when the caller now owns the key.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string) (*CachedResponse, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return nil, nil
	}

	raw, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; the next attempt will own it.
		return nil, ErrRequestInFlight
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}
	if raw == pendingMarker {
		return nil, ErrRequestInFlight
	}

	var resp CachedResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	return &resp, nil
}

// Complete stores the response of the request that reserved key.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, resp CachedResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store idempotent response: %w", err)
	}
	return nil
}

// Abandon frees key so the request can be retried, used when it failed in a
// way that must not be replayed.
func (s *IdempotencyStore) Abandon(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
