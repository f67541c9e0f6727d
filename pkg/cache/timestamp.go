package cache

import "sync"

// TimestampCache maps block numbers to block timestamps. Block timestamps
// are immutable once the block is final, so entries never expire.
type TimestampCache struct {
	mu    sync.RWMutex
	items map[uint64]uint64
}

// NewTimestampCache creates an empty timestamp cache
func NewTimestampCache() *TimestampCache {
	return &TimestampCache{items: make(map[uint64]uint64)}
}

// Get returns the timestamp of block.
func (c *TimestampCache) Get(block uint64) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.items[block]
	return ts, ok
}

// Set records the timestamp of block.
func (c *TimestampCache) Set(block, timestamp uint64) {
	c.mu.Lock()
	c.items[block] = timestamp
	c.mu.Unlock()
}

// Len returns the number of cached blocks
func (c *TimestampCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
