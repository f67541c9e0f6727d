// Package cache holds the per-chain response cache and block timestamp cache.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"
)

const (
	DefaultTTL        = 60 * time.Second
	DefaultMaxEntries = 10000
	DefaultPruneEvery = time.Minute
)

// uncachedMethods are answered from the provider every time because the head moves.
var uncachedMethods = map[string]struct{}{
	"eth_blockNumber":      {},
	"starknet_blockNumber": {},
}

// Config holds response cache settings
type Config struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// DefaultConfig returns default cache settings
func DefaultConfig() Config {
	return Config{TTL: DefaultTTL, MaxEntries: DefaultMaxEntries}
}

type entry struct {
	key       string
	value     json.RawMessage
	expiresAt time.Time
	element   *list.Element
}

// Stats is a point-in-time view of cache counters
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// ResponseCache is an LRU cache of raw JSON-RPC results keyed by method and
// canonical parameters. Expired entries are never returned.
type ResponseCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	max       int
	items     map[string]*entry
	lru       *list.List
	now       func() time.Time
	hits      uint64
	misses    uint64
	evictions uint64
}

// NewResponseCache creates a response cache
func NewResponseCache(cfg Config) *ResponseCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	return &ResponseCache{
		ttl:   cfg.TTL,
		max:   cfg.MaxEntries,
		items: make(map[string]*entry),
		lru:   list.New(),
		now:   time.Now,
	}
}

// Cacheable reports whether results of method may be cached.
func Cacheable(method string) bool {
	_, skip := uncachedMethods[method]
	return !skip
}

// Key builds the cache key for a call. Params are serialized with
// encoding/json, which sorts map keys, so equal params give equal keys.
func Key(method string, params []interface{}) (string, error) {
	if len(params) == 0 {
		return method + ":[]", nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return method + ":" + string(raw), nil
}

// Get returns the cached result for method and params.
func (c *ResponseCache) Get(method string, params []interface{}) (json.RawMessage, bool) {
	if !Cacheable(method) {
		return nil, false
	}
	key, err := Key(method, params)
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.remove(e)
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(e.element)
	c.hits++
	return e.value, true
}

// Set stores a result. Concurrent writers for the same key are last-write-wins.
func (c *ResponseCache) Set(method string, params []interface{}, value json.RawMessage) {
	if !Cacheable(method) {
		return
	}
	key, err := Key(method, params)
	if err != nil {
		return
	}
	stored := make(json.RawMessage, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if e, ok := c.items[key]; ok {
		e.value = stored
		e.expiresAt = expiresAt
		c.lru.MoveToFront(e.element)
		return
	}

	for c.lru.Len() >= c.max {
		c.evictOldest()
	}

	e := &entry{key: key, value: stored, expiresAt: expiresAt}
	e.element = c.lru.PushFront(e)
	c.items[key] = e
}

// Prune removes all expired entries and returns how many were dropped.
func (c *ResponseCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, e := range c.items {
		if !now.Before(e.expiresAt) {
			c.remove(e)
			removed++
		}
	}
	return removed
}

// Run prunes expired entries every interval until ctx is done.
func (c *ResponseCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPruneEvery
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Prune()
		}
	}
}

// Clear removes all entries
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry)
	c.lru.Init()
}

// Stats returns cache statistics
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.items),
	}
}

// remove must be called with the lock held
func (c *ResponseCache) remove(e *entry) {
	c.lru.Remove(e.element)
	delete(c.items, e.key)
}

// evictOldest must be called with the lock held
func (c *ResponseCache) evictOldest() {
	oldest := c.lru.Back()
	if oldest == nil {
		return
	}
	c.remove(oldest.Value.(*entry))
	c.evictions++
}
