// Package resilience provides error classification, retry with exponential
// backoff and per-key circuit breakers shared by every RPC call path.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/chainfetch/pkg/metrics"
)

// Config holds retry and circuit breaker settings
type Config struct {
	MaxRetries              int           `yaml:"max_retries"`
	BaseDelay               time.Duration `yaml:"base_delay"`
	Multiplier              float64       `yaml:"multiplier"`
	MaxDelay                time.Duration `yaml:"max_delay"`
	JitterFactor            float64       `yaml:"jitter_factor"`
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `yaml:"circuit_breaker_timeout"`
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:              3,
		BaseDelay:               time.Second,
		Multiplier:              2,
		MaxDelay:                30 * time.Second,
		JitterFactor:            0.1,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   60 * time.Second,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.CircuitBreakerThreshold <= 0 {
		c.CircuitBreakerThreshold = d.CircuitBreakerThreshold
	}
	if c.CircuitBreakerTimeout <= 0 {
		c.CircuitBreakerTimeout = d.CircuitBreakerTimeout
	}
}

// ErrorStats is a snapshot of the handler's accounting.
type ErrorStats struct {
	TotalErrors     uint64                     `json:"totalErrors"`
	ErrorsByType    map[Kind]uint64            `json:"errorsByType"`
	CircuitBreakers map[string]BreakerSnapshot `json:"circuitBreakers"`
	RetryAttempts   uint64                     `json:"retryAttempts"`
}

// Operation is a unit of work guarded by the handler.
type Operation func(ctx context.Context) error

// Handler runs operations under retry and circuit breaker policy.
type Handler struct {
	config  Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	jitter  func() float64

	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	byKind   map[Kind]uint64

	totalErrors   atomic.Uint64
	retryAttempts atomic.Uint64
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithJitterSource replaces the random source used for jitter. It must return values in [0, 1).
func WithJitterSource(fn func() float64) Option {
	return func(h *Handler) {
		if fn != nil {
			h.jitter = fn
		}
	}
}

// NewHandler creates a new handler
func NewHandler(config Config, opts ...Option) *Handler {
	config.setDefaults()
	h := &Handler{
		config:   config,
		logger:   zap.NewNop(),
		now:      time.Now,
		jitter:   rand.Float64,
		breakers: make(map[string]*circuitBreaker),
		byKind:   make(map[Kind]uint64),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Config returns the effective configuration
func (h *Handler) Config() Config {
	return h.config
}

// Attempt runs op once behind the breaker for key and records the outcome.
// Caller cancellation is passed through without touching the breaker.
func (h *Handler) Attempt(ctx context.Context, key string, op Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cb := h.breaker(key)
	if !cb.allow() {
		h.recordError(KindCircuitOpen)
		return &Error{Kind: KindCircuitOpen, Op: key, Err: ErrCircuitOpen}
	}

	err := op(ctx)
	if err == nil {
		if cb.recordSuccess() {
			h.logger.Info("Circuit breaker closed", zap.String("key", key))
			h.metrics.RecordBreakerTransition(key, CircuitClosed.String())
		}
		return nil
	}

	if ctx.Err() != nil {
		cb.release()
		return err
	}

	kind := Classify(err)
	h.recordError(kind)

	switch kind {
	case KindNonRetryable, KindCanceled:
		// the provider answered; the request itself is at fault
		cb.release()
		return err
	}

	if cb.recordFailure() {
		snap := cb.snapshot()
		h.logger.Warn("Circuit breaker opened",
			zap.String("key", key),
			zap.Int("consecutive_failures", snap.ConsecutiveFailures),
			zap.Duration("timeout", h.config.CircuitBreakerTimeout),
			zap.Error(err))
		h.metrics.RecordBreakerTransition(key, CircuitOpen.String())
	}
	return err
}

// Execute runs op with retries. NonRetryable and CircuitOpen errors end the
// loop immediately; otherwise the last error is returned after MaxRetries.
func (h *Handler) Execute(ctx context.Context, key string, op Operation) error {
	var lastErr error
	for attempt := 0; attempt <= h.config.MaxRetries; attempt++ {
		if attempt > 0 {
			h.retryAttempts.Add(1)
			h.metrics.RecordRetry(key)
			if err := h.Wait(ctx, attempt-1); err != nil {
				return err
			}
		}

		err := h.Attempt(ctx, key, op)
		if err == nil {
			return nil
		}
		lastErr = err

		switch Classify(err) {
		case KindNonRetryable, KindCircuitOpen, KindCanceled:
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		h.logger.Debug("Operation failed, retrying",
			zap.String("key", key),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", h.config.MaxRetries),
			zap.Error(err))
	}
	return lastErr
}

// Backoff returns the delay before retry number attempt (0-based):
// min(base*multiplier^attempt, maxDelay) plus up to JitterFactor of that.
func (h *Handler) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(h.config.BaseDelay) * math.Pow(h.config.Multiplier, float64(attempt))
	if delay > float64(h.config.MaxDelay) || math.IsInf(delay, 0) {
		delay = float64(h.config.MaxDelay)
	}
	delay += delay * h.config.JitterFactor * h.jitter()
	return time.Duration(delay)
}

// Wait sleeps for Backoff(attempt) or until ctx is done.
func (h *Handler) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(h.Backoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoteRetry counts a retry performed by a caller-driven loop such as the failover pool.
func (h *Handler) NoteRetry(key string) {
	h.retryAttempts.Add(1)
	h.metrics.RecordRetry(key)
}

// BreakerState returns the current state for key.
func (h *Handler) BreakerState(key string) CircuitState {
	h.mu.Lock()
	cb, ok := h.breakers[key]
	h.mu.Unlock()
	if !ok {
		return CircuitClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of error accounting and breaker states
func (h *Handler) Stats() ErrorStats {
	h.mu.Lock()
	byKind := make(map[Kind]uint64, len(h.byKind))
	for k, v := range h.byKind {
		byKind[k] = v
	}
	breakers := make(map[string]*circuitBreaker, len(h.breakers))
	for k, v := range h.breakers {
		breakers[k] = v
	}
	h.mu.Unlock()

	snaps := make(map[string]BreakerSnapshot, len(breakers))
	for k, cb := range breakers {
		snaps[k] = cb.snapshot()
	}

	return ErrorStats{
		TotalErrors:     h.totalErrors.Load(),
		ErrorsByType:    byKind,
		CircuitBreakers: snaps,
		RetryAttempts:   h.retryAttempts.Load(),
	}
}

func (h *Handler) breaker(key string) *circuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	cb, ok := h.breakers[key]
	if !ok {
		cb = newCircuitBreaker(h.config.CircuitBreakerThreshold, h.config.CircuitBreakerTimeout, h.now)
		h.breakers[key] = cb
	}
	return cb
}

func (h *Handler) recordError(kind Kind) {
	h.totalErrors.Add(1)
	h.mu.Lock()
	h.byKind[kind]++
	h.mu.Unlock()
	h.metrics.RecordError(string(kind))
}
