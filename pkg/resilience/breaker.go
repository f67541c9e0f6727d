package resilience

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerSnapshot is a read-only copy of one breaker's state.
type BreakerSnapshot struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastFailure         time.Time `json:"lastFailure,omitempty"`
	OpenedAt            time.Time `json:"openedAt,omitempty"`
}

// circuitBreaker guards one operation key. While open every call fails fast;
// after the timeout a single probe is admitted and its outcome decides
// whether the breaker closes or reopens.
type circuitBreaker struct {
	threshold int
	timeout   time.Duration
	now       func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	openedAt    time.Time
	probing     bool
}

func newCircuitBreaker(threshold int, timeout time.Duration, now func() time.Time) *circuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &circuitBreaker{
		threshold: threshold,
		timeout:   timeout,
		now:       now,
		state:     CircuitClosed,
	}
}

// allow reports whether a call may proceed. A rejected call does not move openedAt.
func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.timeout {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.probing = true
		return true
	case CircuitHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return false
	}
}

// recordSuccess closes the breaker. It returns true when the state changed.
func (cb *circuitBreaker) recordSuccess() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	changed := cb.state != CircuitClosed
	cb.state = CircuitClosed
	cb.failures = 0
	cb.probing = false
	return changed
}

// recordFailure counts a failure. It returns true when the breaker (re)opened.
func (cb *circuitBreaker) recordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.failures++
	cb.lastFailure = now

	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.openedAt = now
		cb.probing = false
		return true
	case CircuitClosed:
		if cb.failures >= cb.threshold {
			cb.state = CircuitOpen
			cb.openedAt = now
			return true
		}
	}
	return false
}

// release gives back a half-open probe slot when the probe ended without an outcome.
func (cb *circuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen {
		cb.probing = false
	}
}

func (cb *circuitBreaker) snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerSnapshot{
		State:               cb.state.String(),
		ConsecutiveFailures: cb.failures,
		LastFailure:         cb.lastFailure,
		OpenedAt:            cb.openedAt,
	}
}
