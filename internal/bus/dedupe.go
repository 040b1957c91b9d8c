package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers recently seen message keys so webhook retries and
// double-delivered platform updates do not trigger duplicate turns.
// Entries expire after a TTL; a hard cap bounds memory under key churn.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]time.Time
}

// NewDedupeCache creates a dedupe cache with the given TTL and entry cap.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	return &DedupeCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]time.Time),
	}
}

// IsDuplicate records the key and reports whether it was already seen within
// the TTL. The first call for a key returns false.
func (c *DedupeCache) IsDuplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if seen, ok := c.entries[key]; ok && now.Sub(seen) < c.ttl {
		return true
	}

	// Prune expired entries when at capacity; hard-evict if pruning was not
	// enough (map iteration order gives FIFO-ish behavior).
	if len(c.entries) >= c.max {
		for k, t := range c.entries {
			if now.Sub(t) >= c.ttl {
				delete(c.entries, k)
			}
		}
		for len(c.entries) >= c.max {
			for k := range c.entries {
				delete(c.entries, k)
				break
			}
		}
	}

	c.entries[key] = now
	return false
}

// Len returns the number of tracked keys.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
