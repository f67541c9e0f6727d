// Package jsonrpc is the call path shared by every chain adapter:
// response cache, then tier queue, then the provider failover pool.
package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/0xmhha/chainfetch/pkg/cache"
	"github.com/0xmhha/chainfetch/pkg/metrics"
	"github.com/0xmhha/chainfetch/pkg/provider"
	"github.com/0xmhha/chainfetch/pkg/queue"
	"github.com/0xmhha/chainfetch/pkg/resilience"
)

var nullResult = []byte("null")

// Caller issues JSON-RPC calls for one chain
type Caller struct {
	chain   string
	pool    *provider.Pool
	queue   *queue.Queue
	cache   *cache.ResponseCache
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Caller
type Option func(*Caller)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Caller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Caller) { c.metrics = m }
}

// New creates a caller. A nil cache disables memoization.
func New(chain string, pool *provider.Pool, q *queue.Queue, c *cache.ResponseCache, opts ...Option) *Caller {
	caller := &Caller{
		chain:  chain,
		pool:   pool,
		queue:  q,
		cache:  c,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(caller)
	}
	return caller
}

// Call invokes method with params and decodes the result into result.
// A JSON null result leaves result untouched and reports found=false.
func (c *Caller) Call(ctx context.Context, result interface{}, method string, params ...interface{}) (bool, error) {
	raw, err := c.Raw(ctx, method, params...)
	if err != nil {
		return false, err
	}
	if isNull(raw) {
		return false, nil
	}
	if result == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return false, &resilience.Error{
			Kind:  resilience.KindRPCProtocol,
			Op:    method,
			Chain: c.chain,
			Err:   fmt.Errorf("decode result: %w", err),
		}
	}
	return true, nil
}

// Raw returns the undecoded result of method.
func (c *Caller) Raw(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}

	if c.cache != nil && cache.Cacheable(method) {
		if raw, ok := c.cache.Get(method, params); ok {
			c.metrics.RecordCacheLookup(c.chain, true)
			return raw, nil
		}
		c.metrics.RecordCacheLookup(c.chain, false)
	}

	var (
		mu  sync.Mutex
		raw json.RawMessage
	)
	err := c.queue.Enqueue(ctx, func(ctx context.Context) error {
		return c.pool.Call(ctx, method, func(ctx context.Context, p *provider.Provider) error {
			var out json.RawMessage
			if err := p.Call(ctx, &out, method, params...); err != nil {
				return err
			}
			mu.Lock()
			raw = out
			mu.Unlock()
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	if c.cache != nil && !isNull(raw) {
		c.cache.Set(method, params, raw)
	}
	return raw, nil
}

// Chain returns the chain id this caller serves
func (c *Caller) Chain() string {
	return c.chain
}

// Pool returns the failover pool
func (c *Caller) Pool() *provider.Pool {
	return c.pool
}

// Queue returns the tier queue
func (c *Caller) Queue() *queue.Queue {
	return c.queue
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == string(nullResult)
}
