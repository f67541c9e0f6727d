// Package provider implements the failover pool that spreads calls over a
// chain's RPC endpoints and tracks per-endpoint health.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/chainfetch/pkg/metrics"
	"github.com/0xmhha/chainfetch/pkg/resilience"
	"github.com/0xmhha/chainfetch/pkg/types"
)

const DefaultCallTimeout = 30 * time.Second

// ErrNoProviders is returned when a pool is built without endpoints
var ErrNoProviders = errors.New("no providers configured")

// Caller issues a single JSON-RPC call. *client.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Provider is one endpoint of the pool
type Provider struct {
	Endpoint types.ProviderEndpoint
	Caller   Caller

	mu     sync.Mutex
	health types.ProviderHealth
}

// Call forwards to the underlying Caller
func (p *Provider) Call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return p.Caller.Call(ctx, result, method, args...)
}

func (p *Provider) record(err error, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health.RequestCount++
	p.health.LastLatency = latency.Milliseconds()
	if err != nil {
		p.health.FailureCount++
		p.health.LastError = err.Error()
		p.health.IsHealthy = false
		return
	}
	p.health.SuccessCount++
	p.health.LastError = ""
	p.health.IsHealthy = true
}

func (p *Provider) snapshot() types.ProviderHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.health
	h.Endpoint = p.Endpoint
	return h
}

// CallFunc performs one attempt against a provider
type CallFunc func(ctx context.Context, p *Provider) error

// Config holds pool settings
type Config struct {
	Chain       string
	CallTimeout time.Duration
	// Retries is the number of extra rounds over all providers; defaults to
	// the handler's MaxRetries when negative.
	Retries int
}

// Pool spreads calls across endpoints and fails over on error
type Pool struct {
	chain     string
	providers []*Provider
	handler   *resilience.Handler
	timeout   time.Duration
	retries   int
	logger    *zap.Logger
	metrics   *metrics.Metrics

	currentIndex atomic.Uint64
}

// Option configures a Pool
type Option func(*Pool)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// NewPool creates a pool. Providers are sorted by ascending priority; ties
// keep their configured order.
func NewPool(cfg Config, providers []*Provider, handler *resilience.Handler, opts ...Option) (*Pool, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("chain %s: %w", cfg.Chain, ErrNoProviders)
	}
	if handler == nil {
		handler = resilience.NewHandler(resilience.DefaultConfig())
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = handler.Config().MaxRetries
	}

	sorted := make([]*Provider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Endpoint.Priority < sorted[j].Endpoint.Priority
	})
	for _, p := range sorted {
		p.health.IsHealthy = true
	}

	pool := &Pool{
		chain:     cfg.Chain,
		providers: sorted,
		handler:   handler,
		timeout:   cfg.CallTimeout,
		retries:   cfg.Retries,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(pool)
	}
	return pool, nil
}

// Call runs fn against providers until one succeeds. Each round visits every
// provider once, starting from an offset that advances on every call; rounds
// are separated by the handler's backoff. A NonRetryable error ends the call
// at once, and a provider whose breaker is open is skipped. When every
// provider in a round was skipped the call fails with KindCircuitOpen
// without waiting for further rounds.
func (p *Pool) Call(ctx context.Context, op string, fn CallFunc) error {
	var lastErr error
	n := len(p.providers)
	start := int((p.currentIndex.Add(1) - 1) % uint64(n))

	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			p.handler.NoteRetry(op)
			if err := p.handler.Wait(ctx, attempt-1); err != nil {
				return err
			}
		}

		attempted := false
		for i := 0; i < n; i++ {
			idx := (start + i) % n
			prov := p.providers[idx]

			err := p.callOne(ctx, op, prov, fn)
			if err == nil {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			switch resilience.Classify(err) {
			case resilience.KindNonRetryable:
				return err
			case resilience.KindCircuitOpen:
				p.logger.Debug("Skipping provider with open circuit",
					zap.String("chain", p.chain),
					zap.String("provider", prov.Endpoint.Name),
					zap.String("op", op))
				if lastErr == nil {
					lastErr = err
				}
				continue
			}

			attempted = true
			lastErr = err
			p.logger.Warn("Provider call failed, failing over",
				zap.String("chain", p.chain),
				zap.String("provider", prov.Endpoint.Name),
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}

		if !attempted {
			return &resilience.Error{
				Kind:  resilience.KindCircuitOpen,
				Op:    op,
				Chain: p.chain,
				Err:   lastErr,
			}
		}
	}

	return &resilience.Error{
		Kind:  resilience.KindAllProvidersFailed,
		Op:    op,
		Chain: p.chain,
		Err:   lastErr,
	}
}

func (p *Pool) callOne(ctx context.Context, op string, prov *Provider, fn CallFunc) error {
	key := BreakerKey(prov.Endpoint.Name)
	start := time.Now()
	called := false

	err := p.handler.Attempt(ctx, key, func(ctx context.Context) error {
		called = true
		return p.withTimeout(ctx, prov, fn)
	})
	if !called {
		return err
	}

	latency := time.Since(start)
	if ctx.Err() == nil {
		prov.record(err, latency)
		p.metrics.RecordRPC(p.chain, prov.Endpoint.Name, err, latency)
	}
	if err != nil && resilience.Classify(err) != resilience.KindNonRetryable {
		var classified *resilience.Error
		if !errors.As(err, &classified) {
			err = &resilience.Error{
				Kind:     resilience.Classify(err),
				Op:       op,
				Chain:    p.chain,
				Provider: prov.Endpoint.Name,
				Err:      err,
			}
		}
	}
	return err
}

// withTimeout races fn against the per-call timer. A result arriving after
// the timer fired is discarded.
func (p *Pool) withTimeout(ctx context.Context, prov *Provider, fn CallFunc) error {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(callCtx, prov)
	}()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return &resilience.Error{
			Kind:     resilience.KindTimeout,
			Chain:    p.chain,
			Provider: prov.Endpoint.Name,
			Err:      fmt.Errorf("%w after %s", resilience.ErrTimeout, p.timeout),
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckHealth probes every provider through the handler's retry policy and
// returns the resulting health snapshot.
func (p *Pool) CheckHealth(ctx context.Context, probe CallFunc) []types.ProviderHealth {
	var wg sync.WaitGroup
	for _, prov := range p.providers {
		wg.Add(1)
		go func(prov *Provider) {
			defer wg.Done()
			key := BreakerKey(prov.Endpoint.Name)
			err := p.handler.Execute(ctx, key, func(ctx context.Context) error {
				start := time.Now()
				err := p.withTimeout(ctx, prov, probe)
				if ctx.Err() == nil {
					prov.record(err, time.Since(start))
				}
				return err
			})
			if err != nil {
				p.logger.Warn("Provider health check failed",
					zap.String("chain", p.chain),
					zap.String("provider", prov.Endpoint.Name),
					zap.Error(err))
			}
		}(prov)
	}
	wg.Wait()
	return p.Health()
}

// Health returns a snapshot of every provider's health in priority order
func (p *Pool) Health() []types.ProviderHealth {
	out := make([]types.ProviderHealth, len(p.providers))
	for i, prov := range p.providers {
		out[i] = prov.snapshot()
	}
	return out
}

// Providers returns the providers in priority order
func (p *Pool) Providers() []*Provider {
	out := make([]*Provider, len(p.providers))
	copy(out, p.providers)
	return out
}

// Handler returns the resilience handler shared by the pool
func (p *Pool) Handler() *resilience.Handler {
	return p.handler
}

// Chain returns the chain the pool serves
func (p *Pool) Chain() string {
	return p.chain
}

// Close closes every provider whose caller supports it
func (p *Pool) Close() {
	for _, prov := range p.providers {
		if c, ok := prov.Caller.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// BreakerKey is the circuit breaker key used for a provider
func BreakerKey(name string) string {
	return "rpc_" + name
}
