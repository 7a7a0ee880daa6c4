// Package cache provides the in-process, time-bounded result cache shared by
// every check execution. Entries hold opaque encoded payloads so a cached
// value can never be mutated through a reference held by a caller.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/tripwire/internal/telemetry"
)

// DefaultMaxEntries bounds the cache when no explicit limit is configured.
const DefaultMaxEntries = 10_000

// Cache maps deterministic check keys to encoded results with a per-entry TTL.
//
// Expired entries are never returned: Get checks expiry on every read and
// drops stale entries lazily. A background goroutine sweeps expired entries
// on an interval, and Set sweeps synchronously when the size limit is hit.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	maxEntries int
	now        func() time.Time

	stopOnce sync.Once
	done     chan struct{}
}

type entry struct {
	payload   []byte
	expiresAt time.Time
}

// Options configures a Cache.
type Options struct {
	MaxEntries      int           // <= 0 uses DefaultMaxEntries
	CleanupInterval time.Duration // <= 0 disables the background sweep
}

// New creates a cache. Call Close to stop the background sweep.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	c := &Cache{
		entries:    make(map[string]entry),
		maxEntries: opts.MaxEntries,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	if opts.CleanupInterval > 0 {
		go c.evictLoop(opts.CleanupInterval)
	}
	return c
}

// Get returns the payload stored under key and true if it has not expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it.
		if cur, ok := c.entries[key]; ok && !c.now().Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.payload, true
}

// Set stores payload under key for ttl. A non-positive ttl is a no-op.
func (c *Cache) Set(key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{
		payload:   payload,
		expiresAt: c.now().Add(ttl),
	}
	if len(c.entries) > c.maxEntries {
		c.shrinkLocked()
	}
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background sweep. Safe to call multiple times.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.done) })
}

// RegisterMetrics exposes the entry count as an observable gauge. Call after
// telemetry.Init so the global meter provider is in place.
func (c *Cache) RegisterMetrics() {
	meter := telemetry.Meter("tripwire/cache")
	_, _ = meter.Int64ObservableGauge("tripwire.cache.entries",
		metric.WithDescription("Current number of entries in the check result cache"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(c.Len()))
			return nil
		}),
	)
}

func (c *Cache) evictLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Cache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpiredLocked()
}

func (c *Cache) evictExpiredLocked() {
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// shrinkLocked drops expired entries and, if the cache is still over its
// limit, the entries closest to expiry until a tenth of the capacity is free.
func (c *Cache) shrinkLocked() {
	c.evictExpiredLocked()
	if len(c.entries) <= c.maxEntries {
		return
	}
	over := len(c.entries) - (c.maxEntries - c.maxEntries/10)
	if over <= 0 {
		return
	}
	type kv struct {
		key       string
		expiresAt time.Time
	}
	all := make([]kv, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, kv{k, e.expiresAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].expiresAt.Before(all[j].expiresAt) })
	for _, e := range all[:over] {
		delete(c.entries, e.key)
	}
}
