package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(cfg Config) (*ResponseCache, *testClock) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	c := NewResponseCache(cfg)
	c.now = clock.Now
	return c, clock
}

// ========== ResponseCache ==========

func TestResponseCache_SetAndGet(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	params := []interface{}{"0xabc", true}

	c.Set("eth_getBlockByNumber", params, json.RawMessage(`{"number":"0x1"}`))

	got, ok := c.Get("eth_getBlockByNumber", params)
	require.True(t, ok)
	assert.JSONEq(t, `{"number":"0x1"}`, string(got))

	_, ok = c.Get("eth_getBlockByNumber", []interface{}{"0xabc", false})
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestResponseCache_NeverReturnsExpired(t *testing.T) {
	c, clock := newTestCache(Config{TTL: time.Minute})
	params := []interface{}{"0x1"}

	c.Set("eth_getTransactionByHash", params, json.RawMessage(`"ok"`))

	clock.Advance(59 * time.Second)
	_, ok := c.Get("eth_getTransactionByHash", params)
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("eth_getTransactionByHash", params)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestResponseCache_CanonicalKeys(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())

	a := []interface{}{map[string]interface{}{"fromBlock": "0x1", "toBlock": "0x2", "address": "0xc"}}
	b := []interface{}{map[string]interface{}{"address": "0xc", "toBlock": "0x2", "fromBlock": "0x1"}}

	c.Set("eth_getLogs", a, json.RawMessage(`[]`))
	_, ok := c.Get("eth_getLogs", b)
	assert.True(t, ok)
}

func TestResponseCache_SkipsHeadQueries(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())

	c.Set("eth_blockNumber", nil, json.RawMessage(`"0x10"`))
	c.Set("starknet_blockNumber", nil, json.RawMessage(`16`))

	_, ok := c.Get("eth_blockNumber", nil)
	assert.False(t, ok)
	_, ok = c.Get("starknet_blockNumber", nil)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestResponseCache_Prune(t *testing.T) {
	c, clock := newTestCache(Config{TTL: time.Second})

	c.Set("m", []interface{}{1}, json.RawMessage(`1`))
	c.Set("m", []interface{}{2}, json.RawMessage(`2`))
	clock.Advance(2 * time.Second)
	c.Set("m", []interface{}{3}, json.RawMessage(`3`))

	assert.Equal(t, 2, c.Prune())
	assert.Equal(t, 1, c.Stats().Size)
}

func TestResponseCache_LRUEviction(t *testing.T) {
	c, _ := newTestCache(Config{TTL: time.Minute, MaxEntries: 3})

	for i := 0; i < 3; i++ {
		c.Set("m", []interface{}{i}, json.RawMessage(`1`))
	}
	// touch 0 so that 1 becomes the oldest
	_, ok := c.Get("m", []interface{}{0})
	require.True(t, ok)

	c.Set("m", []interface{}{3}, json.RawMessage(`1`))

	_, ok = c.Get("m", []interface{}{1})
	assert.False(t, ok)
	_, ok = c.Get("m", []interface{}{0})
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestResponseCache_StoresCopy(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	raw := json.RawMessage(`"abc"`)

	c.Set("m", nil, raw)
	raw[1] = 'z'

	got, ok := c.Get("m", nil)
	require.True(t, ok)
	assert.Equal(t, `"abc"`, string(got))
}

func TestResponseCache_RunStopsOnCancel(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestResponseCache_ConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			params := []interface{}{fmt.Sprintf("0x%x", i%5)}
			c.Set("m", params, json.RawMessage(`1`))
			c.Get("m", params)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, c.Stats().Size)
}

// ========== TimestampCache ==========

func TestTimestampCache(t *testing.T) {
	c := NewTimestampCache()

	_, ok := c.Get(10)
	assert.False(t, ok)

	c.Set(10, 1_700_000_000)
	ts, ok := c.Get(10)
	require.True(t, ok)
	assert.Equal(t, uint64(1_700_000_000), ts)
	assert.Equal(t, 1, c.Len())
}
