// Package mesh implements the MeshIt routing engine: deduplicated,
// TTL-bounded flooding with a best-known-route table, route discovery and
// store-and-forward hooks for offline recipients.
package mesh

import (
	"sort"
	"sync"
	"time"

	"github.com/Thrinadh-25/MeshIt/pkg/protocol"
)

// SeenCache is a bounded message-key deduplication store. When the cache
// exceeds its capacity the oldest half of the entries is evicted.
type SeenCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	max     int
}

// NewSeenCache creates a cache bounded at max entries.
func NewSeenCache(max int) *SeenCache {
	if max <= 0 {
		max = protocol.SeenCacheMax
	}
	return &SeenCache{
		entries: make(map[string]time.Time),
		max:     max,
	}
}

// CheckAndAdd atomically records key and reports whether it was already
// present. The insert-or-drop decision is made under one lock so concurrent
// ingest of the same packet admits exactly one copy.
func (c *SeenCache) CheckAndAdd(key string) (seen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return true
	}
	c.entries[key] = time.Now()
	if len(c.entries) > c.max {
		c.evictOldestHalf()
	}
	return false
}

// Len returns the current number of cached keys.
func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldestHalf removes the older half of the entries by insert time.
// Caller holds the lock.
func (c *SeenCache) evictOldestHalf() {
	type entry struct {
		key string
		at  time.Time
	}
	all := make([]entry, 0, len(c.entries))
	for k, at := range c.entries {
		all = append(all, entry{k, at})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for _, e := range all[:len(all)/2] {
		delete(c.entries, e.key)
	}
}
