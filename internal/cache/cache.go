// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-stream/internal/logging"
	"github.com/jeranaias/rigrun-stream/internal/metrics"
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultCapacity is the maximum number of entries kept.
	DefaultCapacity = 100

	// DefaultTTL is how long an entry lives after its last recorded success.
	DefaultTTL = 30 * time.Minute

	loadTimeout = 5 * time.Second
)

// =============================================================================
// CACHE
// =============================================================================

// Cache remembers which provider targets recently succeeded.
//
// It is a bounded TTL+LRU map: entries expire a fixed time after their last
// recorded success,
// and when the count exceeds capacity the least recently accessed entries are
// evicted. All operations are serialized by a single mutex. Persistence errors
// are logged and never returned.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	seq      uint64
	capacity int
	ttl      time.Duration
	now      func() time.Time
	store    Store
	log      *logging.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity sets the maximum entry count. Non-positive values keep the default.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithTTL sets the entry lifetime. Non-positive values keep the default.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithStore sets the persistence backend.
func WithStore(s Store) Option {
	return func(c *Cache) { c.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Cache) { c.log = logging.OrNop(l) }
}

// New creates a cache and loads any entries persisted in its store.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[string]*Entry),
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		now:      time.Now,
		store:    NewMemoryStore(),
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	c.load(ctx)
	return c
}

func (c *Cache) load(ctx context.Context) {
	entries, err := c.store.Load(ctx)
	if err != nil {
		c.storeFailed("load", err)
		return
	}
	for i := range entries {
		e := entries[i]
		c.entries[e.Fingerprint] = &e
		if e.Seq > c.seq {
			c.seq = e.Seq
		}
	}
	c.mu.Lock()
	c.maintainLocked(ctx)
	c.mu.Unlock()
	c.log.Debug("cache loaded", "entries", len(c.entries))
}

// RecordSuccess upserts the entry for t. A new entry starts with an access
// count of 1; an existing one is incremented and its lifetime restarts, so an
// entry that had expired without being purged yet is revived.
func (c *Cache) RecordSuccess(ctx context.Context, t Target) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	fp := Fingerprint(t)
	e, ok := c.entries[fp]
	if ok {
		e.AccessCount++
		e.CreatedAt = now
		e.LastAccessed = now
		e.UpdatedAt = now
		e.Success = true
	} else {
		c.seq++
		e = newEntry(t, now, c.seq)
		c.entries[fp] = e
	}
	out := *e
	c.put(ctx, out)

	c.maintainLocked(ctx)
	return out
}

// Lookup returns the live entry for t. A hit counts as an access. An entry
// that expired since the last purge is deleted and reported as a miss.
func (c *Cache) Lookup(ctx context.Context, t Target) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	fp := Fingerprint(t)
	e, ok := c.entries[fp]
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return Entry{}, false
	}
	if e.expired(now, c.ttl) {
		c.removeLocked(ctx, "expired", fp)
		metrics.CacheLookups.WithLabelValues("expired").Inc()
		return Entry{}, false
	}

	e.AccessCount++
	e.LastAccessed = now
	out := *e
	c.put(ctx, out)
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return out, true
}

// RecentSuccesses returns up to limit live successful entries, newest
// insertion first.
func (c *Cache) RecentSuccesses(ctx context.Context, limit int) []Entry {
	return c.list(ctx, limit, func(a, b *Entry) bool { return a.Seq > b.Seq })
}

// TopSuccesses returns up to limit live successful entries, most accessed
// first. Ties go to the more recent insertion.
func (c *Cache) TopSuccesses(ctx context.Context, limit int) []Entry {
	return c.list(ctx, limit, func(a, b *Entry) bool {
		if a.AccessCount != b.AccessCount {
			return a.AccessCount > b.AccessCount
		}
		return a.Seq > b.Seq
	})
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	metrics.CacheEntries.Set(0)
	start := time.Now()
	if err := c.store.Clear(ctx); err != nil {
		c.storeFailed("clear", err)
	}
	metrics.CacheStoreLatency.Observe(time.Since(start).Seconds())
}

// Len returns the number of live entries after purging expired ones.
func (c *Cache) Len(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpiredLocked(ctx)
	return len(c.entries)
}

// =============================================================================
// MAINTENANCE
// =============================================================================

func (c *Cache) list(ctx context.Context, limit int, less func(a, b *Entry) bool) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpiredLocked(ctx)

	all := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.Success {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return less(all[i], all[j]) })

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]Entry, len(all))
	for i, e := range all {
		out[i] = *e
	}
	return out
}

// maintainLocked purges expired entries and then evicts the least recently
// accessed ones until the count is within capacity (must hold lock).
func (c *Cache) maintainLocked(ctx context.Context) {
	c.purgeExpiredLocked(ctx)

	if over := len(c.entries) - c.capacity; over > 0 {
		all := make([]*Entry, 0, len(c.entries))
		for _, e := range c.entries {
			all = append(all, e)
		}
		sort.Slice(all, func(i, j int) bool {
			if !all[i].LastAccessed.Equal(all[j].LastAccessed) {
				return all[i].LastAccessed.Before(all[j].LastAccessed)
			}
			return all[i].Seq < all[j].Seq
		})
		victims := make([]string, 0, over)
		for _, e := range all[:over] {
			victims = append(victims, e.Fingerprint)
		}
		c.removeLocked(ctx, "capacity", victims...)
	}
	metrics.CacheEntries.Set(float64(len(c.entries)))
}

func (c *Cache) purgeExpiredLocked(ctx context.Context) {
	now := c.now()
	var expired []string
	for fp, e := range c.entries {
		if e.expired(now, c.ttl) {
			expired = append(expired, fp)
		}
	}
	if len(expired) > 0 {
		c.removeLocked(ctx, "expired", expired...)
	}
}

func (c *Cache) removeLocked(ctx context.Context, reason string, fps ...string) {
	for _, fp := range fps {
		delete(c.entries, fp)
	}
	metrics.CacheEvictions.WithLabelValues(reason).Add(float64(len(fps)))
	metrics.CacheEntries.Set(float64(len(c.entries)))

	start := time.Now()
	if err := c.store.Delete(ctx, fps...); err != nil {
		c.storeFailed("delete", err)
	}
	metrics.CacheStoreLatency.Observe(time.Since(start).Seconds())
}

func (c *Cache) put(ctx context.Context, e Entry) {
	start := time.Now()
	if err := c.store.Put(ctx, e); err != nil {
		c.storeFailed("put", err)
	}
	metrics.CacheStoreLatency.Observe(time.Since(start).Seconds())
}

func (c *Cache) storeFailed(op string, err error) {
	metrics.CacheStoreErrors.WithLabelValues(op).Inc()
	c.log.Warn("cache store operation failed", "op", op, "error", err)
}
