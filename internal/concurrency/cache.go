package concurrency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// cacheEntry represents a single cache entry with its own expiry
type cacheEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
	element   *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *cacheEntry[K, V]) isExpired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// ConcurrentCache is an in-memory cache with per-entry TTL and optional LRU bound.
// Expired entries behave as missing and are evicted lazily or by Cleanup.
type ConcurrentCache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*cacheEntry[K, V]
	lruList *list.List // Front is most recently used
	maxSize int        // Zero means unbounded
	hits    uint64
	misses  uint64
	now     func() time.Time
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewConcurrentCache creates a cache. maxSize <= 0 disables LRU eviction.
func NewConcurrentCache[K comparable, V any](maxSize int) *ConcurrentCache[K, V] {
	if maxSize < 0 {
		maxSize = 0
	}
	return &ConcurrentCache[K, V]{
		entries: make(map[K]*cacheEntry[K, V]),
		lruList: list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the value for key if present and not expired
func (c *ConcurrentCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || entry.isExpired(c.now()) {
		c.misses++
		if exists {
			c.removeEntry(key)
		}
		var zero V
		return zero, false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++

	return entry.value, true
}

// Set stores value for key for the given ttl. A non-positive ttl deletes the key.
func (c *ConcurrentCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		c.removeEntry(key)
		return
	}

	expiresAt := c.now().Add(ttl)

	if entry, exists := c.entries[key]; exists {
		entry.value = value
		entry.expiresAt = expiresAt
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.maxSize > 0 && c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry[K, V]{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	}
	entry.element = c.lruList.PushFront(key)
	c.entries[key] = entry
}

// Delete removes key and reports whether a live or expired entry was present
func (c *ConcurrentCache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.entries[key]
	c.removeEntry(key)
	return exists
}

// Clear removes all entries from the cache
func (c *ConcurrentCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*cacheEntry[K, V])
	c.lruList.Init()
}

// Len returns the number of stored entries, including expired ones not yet evicted
func (c *ConcurrentCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lruList.Len()
}

// Stats returns cache statistics
func (c *ConcurrentCache[K, V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Cleanup removes all expired entries and returns how many were evicted
func (c *ConcurrentCache[K, V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expiredKeys := make([]K, 0)
	for key, entry := range c.entries {
		if entry.isExpired(now) {
			expiredKeys = append(expiredKeys, key)
		}
	}

	for _, key := range expiredKeys {
		c.removeEntry(key)
	}

	return len(expiredKeys)
}

// StartCleanupWorker periodically evicts expired entries until ctx is cancelled
func (c *ConcurrentCache[K, V]) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *ConcurrentCache[K, V]) removeEntry(key K) {
	if entry, exists := c.entries[key]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, key)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *ConcurrentCache[K, V]) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	key := back.Value.(K)
	c.lruList.Remove(back)
	delete(c.entries, key)
}
