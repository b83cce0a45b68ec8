package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/homelabops/remedyd/pkg/cache"
)

const (
	cooldownKeyPrefix = "remedyd/cooldown/"
	leaseKeyPrefix    = "remedyd/lease/"
)

// CooldownStore tracks the last remediation attempt per service. Entries are
// mirrored into the shared cache when one is configured, so a fleet of
// instances honours each other's cooldowns. All access goes through the
// internal lock; critical sections never span blocking calls other than the
// bounded cache round trip.
type CooldownStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	window  time.Duration
	cache   cache.Provider
	now     func() time.Time
}

// NewCooldownStore constructs a store. provider may be nil, which disables
// cross-instance mirroring.
func NewCooldownStore(window time.Duration, provider cache.Provider, now func() time.Time) *CooldownStore {
	if window <= 0 {
		window = 30 * time.Minute
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if now == nil {
		now = time.Now
	}
	return &CooldownStore{
		entries: make(map[string]time.Time),
		window:  window,
		cache:   provider,
		now:     now,
	}
}

// Window returns the configured cooldown duration.
func (c *CooldownStore) Window() time.Duration {
	return c.window
}

// Seed records a historical attempt time, typically restored from the history
// store at startup.
func (c *CooldownStore) Seed(service string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[service]; !ok || at.After(existing) {
		c.entries[service] = at
	}
}

// InCooldown reports whether the service was attempted within the window, and
// how long remains.
func (c *CooldownStore) InCooldown(ctx context.Context, service string) (bool, time.Duration) {
	now := c.now()

	c.mu.Lock()
	last, ok := c.entries[service]
	c.mu.Unlock()

	if !ok {
		// A sibling instance may have attempted this service.
		if data, err := c.cache.Get(ctx, cooldownKeyPrefix+service); err == nil {
			if ts, perr := time.Parse(time.RFC3339Nano, string(data)); perr == nil {
				last, ok = ts, true
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			// Cache trouble must not block remediation; fall through as no entry.
			ok = false
		}
	}

	if !ok {
		return false, 0
	}
	elapsed := now.Sub(last)
	if elapsed >= c.window {
		return false, 0
	}
	return true, c.window - elapsed
}

// MarkAttempt records an attempt at the current time. Called unconditionally
// at the end of every remediation attempt, failed ones included, to prevent
// rapid thrash.
func (c *CooldownStore) MarkAttempt(ctx context.Context, service string) {
	now := c.now()

	c.mu.Lock()
	c.entries[service] = now
	c.mu.Unlock()

	// Best effort; local state already holds the entry.
	_ = c.cache.Set(ctx, cooldownKeyPrefix+service, []byte(now.Format(time.RFC3339Nano)), c.window)
}

// AcquireLease takes the cross-instance remediation lease for a service. The
// returned release func is safe to call exactly once. With a noop cache the
// lease always succeeds and in-process locking is the only exclusion.
func (c *CooldownStore) AcquireLease(ctx context.Context, service string, ttl time.Duration) (bool, func()) {
	if ttl <= 0 {
		ttl = c.window
	}
	key := leaseKeyPrefix + service
	ok, err := c.cache.SetNX(ctx, key, []byte(c.now().Format(time.RFC3339Nano)), ttl)
	if err != nil {
		// Unreachable cache degrades to in-process exclusion only.
		return true, func() {}
	}
	if !ok {
		return false, func() {}
	}
	return true, func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.cache.Del(releaseCtx, key)
	}
}
