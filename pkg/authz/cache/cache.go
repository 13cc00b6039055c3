// Package cache provides the TTL-bounded lookaside cache used by the
// authorization engine. Entries are immutable computed values (role
// booleans, override maps, capability sets) keyed by a structured,
// comparable key type supplied by the caller. Invalidation is explicit:
// the engine removes matching keys when a collaborator reports a write,
// the cache never detects staleness on its own.
package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Config holds cache sizing and expiry settings.
type Config struct {
	// MaxEntries bounds the number of cached values before LRU eviction.
	MaxEntries int
	// TTL is how long an entry stays valid after being added.
	TTL time.Duration
}

// DefaultConfig returns the settings used when none are provided:
// up to 4096 entries with a 5 minute TTL.
func DefaultConfig() *Config {
	return &Config{
		MaxEntries: 4096,
		TTL:        5 * time.Minute,
	}
}

// Cache is an in-memory LRU with per-entry TTL. K must be a comparable
// key type; using a struct key removes the collision risk of
// string-concatenated keys and makes invalidation a typed operation.
// Concurrent readers never block each other; a duplicate recompute when
// two goroutines miss the same key is an accepted cost.
type Cache[K comparable, V any] struct {
	entries *lru.LRU[K, V]
	metrics *metrics
}

// New creates a cache with the given config, falling back to
// DefaultConfig when cfg is nil.
func New[K comparable, V any](cfg *Config) *Cache[K, V] {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	maxEntries := cfg.MaxEntries
	if maxEntries < 16 {
		maxEntries = 16
	}

	m := newMetrics()
	entries := lru.NewLRU[K, V](
		maxEntries,
		func(K, V) { m.recordEviction() },
		cfg.TTL,
	)

	return &Cache[K, V]{
		entries: entries,
		metrics: m,
	}
}

// Get returns the cached value for key and whether it was present.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	value, ok := c.entries.Get(key)
	if !ok {
		c.metrics.recordMiss()
		var zero V
		return zero, false
	}

	c.metrics.recordHit()
	return value, true
}

// Add stores a value under key, replacing any existing entry.
func (c *Cache[K, V]) Add(key K, value V) {
	c.entries.Add(key, value)
}

// Remove drops a single entry.
func (c *Cache[K, V]) Remove(key K) {
	c.entries.Remove(key)
}

// RemoveMatching drops every entry whose key satisfies match and
// returns how many were removed. This is the typed replacement for
// substring-based invalidation: callers express "all keys for user U"
// or "all keys for workspace W" as a predicate over the key struct.
func (c *Cache[K, V]) RemoveMatching(match func(K) bool) int {
	removed := 0
	for _, key := range c.entries.Keys() {
		if match(key) {
			if c.entries.Remove(key) {
				removed++
			}
		}
	}
	return removed
}

// Purge drops every entry.
func (c *Cache[K, V]) Purge() {
	c.entries.Purge()
}

// Len returns the current number of entries.
func (c *Cache[K, V]) Len() int {
	return c.entries.Len()
}

// Stats holds cumulative cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int64
	HitRate   float64
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	stats := Stats{
		Hits:      c.metrics.getHits(),
		Misses:    c.metrics.getMisses(),
		Evictions: c.metrics.getEvictions(),
		Entries:   int64(c.entries.Len()),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	return stats
}

// metrics tracks cache counters.
type metrics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func newMetrics() *metrics {
	return &metrics{}
}

func (m *metrics) recordHit() {
	m.hits.Add(1)
}

func (m *metrics) recordMiss() {
	m.misses.Add(1)
}

func (m *metrics) recordEviction() {
	m.evictions.Add(1)
}

func (m *metrics) getHits() int64 {
	return m.hits.Load()
}

func (m *metrics) getMisses() int64 {
	return m.misses.Load()
}

func (m *metrics) getEvictions() int64 {
	return m.evictions.Load()
}
