// ABOUTME: Thread-safe TTL cache for idempotent request handling.
// ABOUTME: Remembers the result of a keyed request so a retry replays it instead of repeating it.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the claim time, result, and list element for a cached key.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
	value     any  // nil until Complete
	done      bool // Complete has been called
}

// Cache provides a thread-safe, TTL-based, size-limited store of request
// results keyed by idempotency key. A key is claimed before the work runs
// and completed with the result afterward. Uses a doubly-linked list to
// maintain insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // List of keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a new dedupe cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Claim atomically reserves key for a new request. If key is unclaimed (or
// expired) it is reserved and claimed is true. Otherwise claimed is false;
// result holds the completed value and inFlight reports whether the earlier
// request is still running.
func (c *Cache) Claim(key string) (result any, inFlight bool, claimed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if ok && time.Since(entry.timestamp) < c.ttl {
		return entry.value, !entry.done, false
	}

	c.markLocked(key)
	return nil, false, true
}

// Complete stores the result for a claimed key. Replays see this value
// until the entry expires or is evicted.
func (c *Cache) Complete(key string, result any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if !ok {
		return
	}
	entry.value = result
	entry.done = true
}

// Release drops a claim whose request failed, so a retry can run again.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// markLocked reserves key. Must be called with mu held.
func (c *Cache) markLocked(key string) {
	now := time.Now()

	// An expired entry is reused in place and moved to the back
	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		entry.value = nil
		entry.done = false
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held. O(1) operation using linked list.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
