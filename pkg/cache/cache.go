package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe map whose entries expire after ttl. With sliding
// expiry every hit pushes the deadline out again, which suits per-client
// state that should live as long as the client keeps talking.
type Cache[K comparable, V any] struct {
	ttl     time.Duration
	sliding bool
	now     func() time.Time

	mu        sync.Mutex
	items     map[K]*entry[V]
	lastSweep time.Time
}

func New[K comparable, V any](ttl time.Duration, sliding bool) *Cache[K, V] {
	return &Cache[K, V]{
		ttl:     ttl,
		sliding: sliding,
		now:     time.Now,
		items:   make(map[K]*entry[V]),
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.items[key]
	if !ok || !now.Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	if c.sliding {
		e.expiresAt = now.Add(c.ttl)
	}
	return e.value, true
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.items[key] = &entry[V]{value: value, expiresAt: now.Add(c.ttl)}
	c.maybeSweep(now)
}

// GetOrCreate returns the live entry for key, building and storing a new
// one with create when there is none.
func (c *Cache[K, V]) GetOrCreate(key K, create func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.items[key]; ok && now.Before(e.expiresAt) {
		if c.sliding {
			e.expiresAt = now.Add(c.ttl)
		}
		return e.value
	}

	v := create()
	c.items[key] = &entry[V]{value: v, expiresAt: now.Add(c.ttl)}
	c.maybeSweep(now)
	return v
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len counts stored entries, expired ones included until the next sweep.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Sweep drops expired entries and returns how many went.
func (c *Cache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweep(c.now())
}

// maybeSweep runs at most once per ttl, on writes, so no janitor goroutine
// is needed. Callers hold mu.
func (c *Cache[K, V]) maybeSweep(now time.Time) {
	if now.Sub(c.lastSweep) < c.ttl {
		return
	}
	c.sweep(now)
}

func (c *Cache[K, V]) sweep(now time.Time) int {
	removed := 0
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	c.lastSweep = now
	return removed
}
