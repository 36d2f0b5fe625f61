package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLeaseLost is returned when the lease expired or was taken over.
var ErrLeaseLost = errors.New("lease not held or expired")

var (
	// Only the owner may release.
	releaseLeaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	extendLeaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// Lease is a single-holder lock with a TTL. The relay holds one per change
// feed consumer so only one instance reads and checkpoints the feed.
type Lease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration

	mu       sync.Mutex
	acquired bool
}

// NewLease creates a lease on name owned by owner, usually the instance ID.
func NewLease(client *redis.Client, name, owner string, ttl time.Duration) *Lease {
	return &Lease{
		client: client,
		key:    fmt.Sprintf("printqueue:lease:%s", name),
		owner:  owner,
		ttl:    ttl,
	}
}

// Acquire takes the lease if nobody holds it.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}

	l.mu.Lock()
	l.acquired = ok
	l.mu.Unlock()
	return ok, nil
}

// Extend resets the lease TTL. It fails with ErrLeaseLost when another owner
// holds the key or it already expired.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.Held() {
		return ErrLeaseLost
	}

	val, err := extendLeaseScript.Run(ctx, l.client, []string{l.key}, l.owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to extend lease %s: %w", l.key, err)
	}
	if val == 0 {
		l.mu.Lock()
		l.acquired = false
		l.mu.Unlock()
		return ErrLeaseLost
	}
	return nil
}

// Release gives the lease up. Releasing a lease that is not held is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	if !l.Held() {
		return nil
	}

	val, err := releaseLeaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Int64()
	l.mu.Lock()
	l.acquired = false
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	if val == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Held reports whether this instance believes it holds the lease.
func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired
}

// Holder returns the current owner of the lease, or "" when free.
func (l *Lease) Holder(ctx context.Context) (string, error) {
	owner, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lease %s: %w", l.key, err)
	}
	return owner, nil
}
