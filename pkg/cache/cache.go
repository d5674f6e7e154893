// Package cache holds short-lived lookups such as Slack DM channel ids and
// GitHub installation tokens.
package cache

import (
	"sync"
	"time"
)

const sweepInterval = 5 * time.Minute

type entry[V any] struct {
	value   V
	expires time.Time
}

// Cache is a typed key/value store whose entries expire after a TTL.
type Cache[V any] struct {
	entries map[string]entry[V]
	done    chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
	once    sync.Once
}

// New returns a cache that keeps entries for ttl unless told otherwise.
// Call Close to stop the background sweeper.
func New[V any](ttl time.Duration) *Cache[V] {
	c := &Cache[V]{
		entries: make(map[string]entry[V]),
		done:    make(chan struct{}),
		ttl:     ttl,
	}
	go c.sweep()
	return c
}

// Get returns the value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if time.Now().Before(e.expires) {
		return e.value, true
	}

	c.mu.Lock()
	// Another writer may have refreshed the entry in the meantime.
	if cur, ok := c.entries[key]; ok && !time.Now().Before(cur.expires) {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return zero, false
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key for ttl.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expires: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Delete drops key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired ones included until swept.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache[V]) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Cache[V]) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.removeExpired(time.Now())
		}
	}
}

func (c *Cache[V]) removeExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
