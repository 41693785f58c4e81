// Copyright 2024-2026 Aiku AI

// Package cache provides small TTL caches for bridge mappings. Entries are
// only considered on reads while fresh; expired entries stay in memory until
// an explicit Sweep removes them, so eviction cost is paid by the sweeper
// goroutine instead of the hot read path.
package cache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Cache is a single-goroutine TTL cache. Use Concurrent for shared access.
type Cache[K comparable, V any] struct {
	ttl     time.Duration
	clk     clock.Clock
	entries map[K]entry[V]
}

// New creates a cache whose entries expire after ttl.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return NewWithClock[K, V](ttl, clock.New())
}

// NewWithClock creates a cache with an injected clock for tests.
func NewWithClock[K comparable, V any](ttl time.Duration, clk clock.Clock) *Cache[K, V] {
	return &Cache[K, V]{
		ttl:     ttl,
		clk:     clk,
		entries: make(map[K]entry[V]),
	}
}

// Set stores a value, resetting its expiry.
func (c *Cache[K, V]) Set(key K, value V) {
	c.entries[key] = entry[V]{value: value, insertedAt: c.clk.Now()}
}

// Get returns the value for key if it is still fresh. An expired entry is
// not removed here, only ignored.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	e, ok := c.entries[key]
	if !ok || c.clk.Since(e.insertedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Remove deletes the entry for key regardless of freshness.
func (c *Cache[K, V]) Remove(key K) {
	delete(c.entries, key)
}

// Len returns the number of stored entries, including expired ones that
// have not been swept yet.
func (c *Cache[K, V]) Len() int {
	return len(c.entries)
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *Cache[K, V]) Sweep() int {
	removed := 0
	for key, e := range c.entries {
		if c.clk.Since(e.insertedAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Concurrent wraps Cache with an RWMutex. Semantics are identical.
type Concurrent[K comparable, V any] struct {
	mu    sync.RWMutex
	inner *Cache[K, V]
}

// NewConcurrent creates a goroutine-safe cache whose entries expire after ttl.
func NewConcurrent[K comparable, V any](ttl time.Duration) *Concurrent[K, V] {
	return &Concurrent[K, V]{inner: New[K, V](ttl)}
}

// NewConcurrentWithClock creates a goroutine-safe cache with an injected clock.
func NewConcurrentWithClock[K comparable, V any](ttl time.Duration, clk clock.Clock) *Concurrent[K, V] {
	return &Concurrent[K, V]{inner: NewWithClock[K, V](ttl, clk)}
}

func (c *Concurrent[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Set(key, value)
}

func (c *Concurrent[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inner.Get(key)
}

func (c *Concurrent[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(key)
}

func (c *Concurrent[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inner.Len()
}

func (c *Concurrent[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Sweep()
}
