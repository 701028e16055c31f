package memory

import (
	"sync"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry[V any] struct {
	value    V
	cachedAt time.Time
}

// Cache is a TTL cache with bounded size and FIFO eviction. It is an explicit
// injected state object: the orchestrator owns instances, tests construct
// isolated ones. Entries never outlive the TTL: Get treats expired entries
// as absent.
type Cache[K comparable, V any] struct {
	ttl     time.Duration
	maxSize int
	clock   Clock

	mu      sync.Mutex
	entries map[K]cacheEntry[V]
	order   []K // insertion order for FIFO eviction
}

// NewCache creates a cache with the given TTL and maximum entry count.
// maxSize <= 0 means unbounded.
func NewCache[K comparable, V any](ttl time.Duration, maxSize int) *Cache[K, V] {
	return NewCacheWithClock[K, V](ttl, maxSize, realClock{})
}

// NewCacheWithClock creates a cache with a custom clock (for testing).
func NewCacheWithClock[K comparable, V any](ttl time.Duration, maxSize int, clock Clock) *Cache[K, V] {
	return &Cache[K, V]{
		ttl:     ttl,
		maxSize: maxSize,
		clock:   clock,
		entries: make(map[K]cacheEntry[V]),
	}
}

// Get returns the cached value if present and fresh.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.clock.Now().Sub(entry.cachedAt) >= c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set stores a value, evicting the oldest entry when the cache is full.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if c.maxSize > 0 && len(c.entries) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry[V]{value: value, cachedAt: c.clock.Now()}
}

// Delete removes an entry.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.removeFromOrder(key)
	}
}

// Len returns the number of entries, including any not yet expired-on-read.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[K, V]) removeFromOrder(key K) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
