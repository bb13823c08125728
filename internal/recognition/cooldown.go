package recognition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown gates ledger attempts per identity. Allow reports whether an
// attempt at now may proceed and, if so, starts a new cooldown window.
type Cooldown interface {
	Allow(ctx context.Context, identity string, now time.Time) (bool, error)
}

// MemoryCooldown is a per-process cooldown keyed by identity.
type MemoryCooldown struct {
	interval time.Duration
	mu       sync.Mutex
	last     map[string]time.Time
}

// NewMemoryCooldown returns a cooldown of interval. A zero interval allows
// every attempt.
func NewMemoryCooldown(interval time.Duration) *MemoryCooldown {
	return &MemoryCooldown{interval: interval, last: make(map[string]time.Time)}
}

func (c *MemoryCooldown) Allow(_ context.Context, identity string, now time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[identity]; ok && now.Sub(last) < c.interval {
		return false, nil
	}
	c.last[identity] = now
	return true, nil
}

// RedisCooldown shares the cooldown between workers through SET NX PX, so
// that several cameras watching one room do not all write for one person.
// Expiry runs on the Redis clock; now is only used for the stored value.
type RedisCooldown struct {
	client   *redis.Client
	interval time.Duration
	prefix   string
}

// NewRedisCooldown connects to url (redis://...) or a bare host:port.
func NewRedisCooldown(ctx context.Context, url string, interval time.Duration) (*RedisCooldown, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCooldown{client: client, interval: interval, prefix: "attendance:cooldown:"}, nil
}

func (c *RedisCooldown) Allow(ctx context.Context, identity string, now time.Time) (bool, error) {
	if c.interval <= 0 {
		return true, nil
	}
	ok, err := c.client.SetNX(ctx, c.prefix+identity, now.UnixMilli(), c.interval).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown for %s: %w", identity, err)
	}
	return ok, nil
}

// Close closes the Redis client.
func (c *RedisCooldown) Close() error {
	return c.client.Close()
}
