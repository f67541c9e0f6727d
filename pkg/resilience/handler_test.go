package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func fastConfig() Config {
	return Config{
		MaxRetries:              3,
		BaseDelay:               time.Millisecond,
		Multiplier:              2,
		MaxDelay:                5 * time.Millisecond,
		JitterFactor:            0,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   time.Minute,
	}
}

var errFlaky = errors.New("connection reset by peer")

func TestHandler_ExecuteRetriesUntilSuccess(t *testing.T) {
	h := NewHandler(fastConfig())

	calls := 0
	err := h.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	stats := h.Stats()
	assert.Equal(t, uint64(2), stats.RetryAttempts)
	assert.Equal(t, uint64(2), stats.TotalErrors)
	assert.Equal(t, uint64(2), stats.ErrorsByType[KindNetwork])
	assert.Equal(t, "closed", stats.CircuitBreakers["op"].State)
}

func TestHandler_ExecuteReturnsLastError(t *testing.T) {
	cfg := fastConfig()
	cfg.CircuitBreakerThreshold = 100
	h := NewHandler(cfg)

	calls := 0
	err := h.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return errFlaky
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, cfg.MaxRetries+1, calls)
}

func TestHandler_NonRetryableStopsImmediately(t *testing.T) {
	h := NewHandler(fastConfig())

	calls := 0
	err := h.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return NonRetryablef("invalid address %q", "0xzz")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonRetryable)
	assert.Equal(t, 1, calls)
	assert.Equal(t, uint64(0), h.Stats().RetryAttempts)
	assert.Equal(t, CircuitClosed, h.BreakerState("op"))
}

func TestHandler_BreakerOpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	cfg := fastConfig()
	h := NewHandler(cfg, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < cfg.CircuitBreakerThreshold; i++ {
		err := h.Attempt(ctx, "rpc_a", func(ctx context.Context) error { return errFlaky })
		assert.ErrorIs(t, err, errFlaky)
	}
	assert.Equal(t, CircuitOpen, h.BreakerState("rpc_a"))

	called := false
	err := h.Attempt(ctx, "rpc_a", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, KindCircuitOpen, Classify(err))
	assert.False(t, called)

	// other keys are independent
	require.NoError(t, h.Attempt(ctx, "rpc_b", func(ctx context.Context) error { return nil }))
}

func TestHandler_RejectedCallsDoNotExtendOpenWindow(t *testing.T) {
	clock := newFakeClock()
	cfg := fastConfig()
	h := NewHandler(cfg, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < cfg.CircuitBreakerThreshold; i++ {
		_ = h.Attempt(ctx, "k", func(ctx context.Context) error { return errFlaky })
	}
	opened := h.Stats().CircuitBreakers["k"].OpenedAt

	clock.Advance(30 * time.Second)
	_ = h.Attempt(ctx, "k", func(ctx context.Context) error { return nil })
	assert.Equal(t, opened, h.Stats().CircuitBreakers["k"].OpenedAt)

	clock.Advance(31 * time.Second)
	require.NoError(t, h.Attempt(ctx, "k", func(ctx context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, h.BreakerState("k"))
}

func TestHandler_HalfOpenAdmitsSingleProbe(t *testing.T) {
	clock := newFakeClock()
	cfg := fastConfig()
	h := NewHandler(cfg, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < cfg.CircuitBreakerThreshold; i++ {
		_ = h.Attempt(ctx, "k", func(ctx context.Context) error { return errFlaky })
	}
	clock.Advance(cfg.CircuitBreakerTimeout)

	probeStarted := make(chan struct{})
	releaseProbe := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- h.Attempt(ctx, "k", func(ctx context.Context) error {
			close(probeStarted)
			<-releaseProbe
			return nil
		})
	}()
	<-probeStarted

	err := h.Attempt(ctx, "k", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	close(releaseProbe)
	require.NoError(t, <-done)
	assert.Equal(t, CircuitClosed, h.BreakerState("k"))
}

func TestHandler_ProbeFailureReopensWithFreshTimestamp(t *testing.T) {
	clock := newFakeClock()
	cfg := fastConfig()
	h := NewHandler(cfg, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < cfg.CircuitBreakerThreshold; i++ {
		_ = h.Attempt(ctx, "k", func(ctx context.Context) error { return errFlaky })
	}
	first := h.Stats().CircuitBreakers["k"].OpenedAt

	clock.Advance(cfg.CircuitBreakerTimeout)
	err := h.Attempt(ctx, "k", func(ctx context.Context) error { return errFlaky })
	assert.ErrorIs(t, err, errFlaky)

	snap := h.Stats().CircuitBreakers["k"]
	assert.Equal(t, "open", snap.State)
	assert.True(t, snap.OpenedAt.After(first))
}

func TestHandler_ExecuteStopsOnOpenBreaker(t *testing.T) {
	cfg := fastConfig()
	cfg.CircuitBreakerThreshold = 2
	cfg.MaxRetries = 5
	h := NewHandler(cfg)

	calls := 0
	err := h.Execute(context.Background(), "k", func(ctx context.Context) error {
		calls++
		return errFlaky
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestHandler_ExecuteHonoursCancellation(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseDelay = time.Hour
	cfg.MaxDelay = time.Hour
	h := NewHandler(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := h.Execute(ctx, "k", func(ctx context.Context) error { return errFlaky })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandler_Backoff(t *testing.T) {
	h := NewHandler(Config{
		BaseDelay:    time.Second,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.1,
	}, WithJitterSource(func() float64 { return 0 }))

	assert.Equal(t, time.Second, h.Backoff(0))
	assert.Equal(t, 2*time.Second, h.Backoff(1))
	assert.Equal(t, 4*time.Second, h.Backoff(2))
	assert.Equal(t, 30*time.Second, h.Backoff(10))
	assert.Equal(t, 30*time.Second, h.Backoff(1000))

	jittered := NewHandler(Config{
		BaseDelay:    time.Second,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.1,
	}, WithJitterSource(func() float64 { return 0.5 }))
	assert.Equal(t, 1050*time.Millisecond, jittered.Backoff(0))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.BaseDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 0.1, cfg.JitterFactor)
	assert.Equal(t, 5, cfg.CircuitBreakerThreshold)
	assert.Equal(t, 60*time.Second, cfg.CircuitBreakerTimeout)
}
