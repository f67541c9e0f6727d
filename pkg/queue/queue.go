// Package queue admits requests in FIFO order under the concurrency and
// throughput limits of the active tier.
package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/0xmhha/chainfetch/pkg/metrics"
)

// Task is the unit of work admitted by the queue
type Task func(ctx context.Context) error

// Stats is a snapshot of queue counters
type Stats struct {
	Tier      Tier   `json:"tier"`
	Admitted  uint64 `json:"admitted"`
	Completed uint64 `json:"completed"`
	Waiting   int    `json:"waiting"`
	InFlight  int    `json:"inFlight"`
}

// Queue is a FIFO admission queue. At most MaxConcurrent tasks run at once
// and admissions are paced by a token bucket of RequestsPerSecond.
type Queue struct {
	chain   string
	logger  *zap.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	mu        sync.Mutex
	tier      Tier
	limits    TierLimits
	active    int
	waiters   *list.List // of chan struct{}
	admitted  uint64
	completed uint64
}

// Option configures a Queue
type Option func(*Queue)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector and the chain label used for it
func WithMetrics(m *metrics.Metrics, chain string) Option {
	return func(q *Queue) {
		q.metrics = m
		q.chain = chain
	}
}

// New creates a queue for tier
func New(tier Tier, opts ...Option) *Queue {
	if !tier.Valid() {
		tier = TierFree
	}
	limits := tier.Limits()
	q := &Queue{
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), limits.Burst),
		tier:    tier,
		limits:  limits,
		waiters: list.New(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue waits for admission and runs task. The task's error is returned
// unchanged; the queue itself only fails when ctx is done before admission.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	start := time.Now()

	if err := q.acquire(ctx); err != nil {
		return err
	}
	defer q.release()

	if err := q.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// the limiter refuses waits that would overrun the deadline
		return context.DeadlineExceeded
	}
	q.metrics.ObserveQueueWait(q.chain, time.Since(start))

	return task(ctx)
}

// SetTier switches limits for subsequent admissions. Running tasks are not
// interrupted; a higher concurrency limit admits waiters immediately.
func (q *Queue) SetTier(tier Tier) error {
	if !tier.Valid() {
		return ErrUnknownTier
	}
	limits := tier.Limits()

	q.mu.Lock()
	prev := q.tier
	q.tier = tier
	q.limits = limits
	q.grantLocked()
	q.mu.Unlock()

	q.limiter.SetLimit(rate.Limit(limits.RequestsPerSecond))
	q.limiter.SetBurst(limits.Burst)

	if prev != tier {
		q.logger.Info("Tier changed",
			zap.String("from", string(prev)),
			zap.String("to", string(tier)),
			zap.Int("max_concurrent", limits.MaxConcurrent),
			zap.Float64("rps", limits.RequestsPerSecond))
	}
	return nil
}

// Tier returns the active tier
func (q *Queue) Tier() Tier {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tier
}

// Limits returns the active tier limits
func (q *Queue) Limits() TierLimits {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limits
}

// Stats returns queue statistics
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Tier:      q.tier,
		Admitted:  q.admitted,
		Completed: q.completed,
		Waiting:   q.waiters.Len(),
		InFlight:  q.active,
	}
}

func (q *Queue) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.active < q.limits.MaxConcurrent && q.waiters.Len() == 0 {
		q.active++
		q.admitted++
		q.publishLocked()
		q.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	elem := q.waiters.PushBack(ready)
	q.publishLocked()
	q.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		select {
		case <-ready:
			// granted while we were giving up; hand the slot on
			q.mu.Unlock()
			q.release()
		default:
			q.waiters.Remove(elem)
			q.publishLocked()
			q.mu.Unlock()
		}
		return ctx.Err()
	}
}

func (q *Queue) release() {
	q.mu.Lock()
	q.active--
	q.completed++
	q.grantLocked()
	q.publishLocked()
	q.mu.Unlock()
}

// grantLocked admits waiters in FIFO order while slots are free
func (q *Queue) grantLocked() {
	for q.active < q.limits.MaxConcurrent && q.waiters.Len() > 0 {
		front := q.waiters.Front()
		q.waiters.Remove(front)
		q.active++
		q.admitted++
		close(front.Value.(chan struct{}))
	}
}

func (q *Queue) publishLocked() {
	q.metrics.SetQueueDepth(q.chain, q.active, q.waiters.Len())
}
