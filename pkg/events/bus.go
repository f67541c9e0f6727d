// Package events fans fetch progress out to subscribers. Publishing never
// blocks: a subscriber whose channel is full misses the update and the drop
// is counted.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0xmhha/chainfetch/pkg/metrics"
	"github.com/0xmhha/chainfetch/pkg/types"
)

const (
	// DefaultChannelSize is the subscription buffer used when none is given
	DefaultChannelSize = 100

	// DefaultHistorySize is the number of updates kept for replay
	DefaultHistorySize = 100
)

// SubscriptionID is a unique identifier for a subscription
type SubscriptionID string

// SubscriptionStats tracks statistics for a subscription
type SubscriptionStats struct {
	// Received is the number of updates delivered to the channel
	Received atomic.Uint64

	// Dropped is the number of updates lost because the channel was full
	Dropped atomic.Uint64

	// CreatedAt is when the subscription was created
	CreatedAt time.Time
}

// SubscribeOptions configures a subscription
type SubscribeOptions struct {
	// ChannelSize is the buffer size; DefaultChannelSize when zero
	ChannelSize int

	// Filter restricts delivery; nil receives everything
	Filter *Filter

	// ReplayLast delivers up to this many matching past updates first
	ReplayLast int
}

// Subscription is one consumer of progress updates
type Subscription struct {
	ID      SubscriptionID
	Filter  *Filter
	Channel chan types.Progress
	Stats   SubscriptionStats
}

// Bus is the progress broker shared by every chain client of a fetcher
type Bus struct {
	mu          sync.RWMutex
	subscribers map[SubscriptionID]*Subscription
	closed      bool

	historyMu   sync.Mutex
	history     []types.Progress
	historyIdx  int
	historySize int

	stats struct {
		published atomic.Uint64
		delivered atomic.Uint64
		dropped   atomic.Uint64
	}

	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ types.Publisher = (*Bus)(nil)

// Option configures a Bus
type Option func(*Bus)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics counts dropped updates
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithHistorySize sets how many updates are kept for replay
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historySize = n
		}
	}
}

// NewBus creates a progress bus
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[SubscriptionID]*Subscription),
		historySize: DefaultHistorySize,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.history = make([]types.Progress, 0, b.historySize)
	return b
}

// Subscribe registers a subscriber with a buffer of size buffer
func (b *Bus) Subscribe(buffer int) *Subscription {
	return b.SubscribeWithOptions(SubscribeOptions{ChannelSize: buffer})
}

// SubscribeWithOptions registers a subscriber. The subscription is active
// when the call returns. It returns nil after Close.
func (b *Bus) SubscribeWithOptions(opts SubscribeOptions) *Subscription {
	size := opts.ChannelSize
	if size <= 0 {
		size = DefaultChannelSize
	}
	sub := &Subscription{
		ID:      SubscriptionID(uuid.NewString()),
		Filter:  opts.Filter.Clone(),
		Channel: make(chan types.Progress, size),
	}
	sub.Stats.CreatedAt = time.Now()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.subscribers[sub.ID] = sub
	// replay under the bus lock so no live update can overtake it
	if opts.ReplayLast > 0 {
		for _, p := range b.recent(opts.ReplayLast, sub.Filter) {
			b.deliver(sub, p)
		}
	}
	b.mu.Unlock()

	b.logger.Debug("Progress subscriber added", zap.String("id", string(sub.ID)))
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(sub.Channel)
	}
	b.mu.Unlock()

	if ok {
		b.logger.Debug("Progress subscriber removed",
			zap.String("id", string(id)),
			zap.Uint64("received", sub.Stats.Received.Load()),
			zap.Uint64("dropped", sub.Stats.Dropped.Load()))
	}
}

// Publish delivers p to every matching subscriber without blocking
func (b *Bus) Publish(p types.Progress) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	b.stats.published.Add(1)
	b.remember(p)

	for _, sub := range b.subscribers {
		if !sub.Filter.Match(p) {
			continue
		}
		b.deliver(sub, p)
	}
}

func (b *Bus) deliver(sub *Subscription, p types.Progress) {
	select {
	case sub.Channel <- p:
		sub.Stats.Received.Add(1)
		b.stats.delivered.Add(1)
	default:
		sub.Stats.Dropped.Add(1)
		b.stats.dropped.Add(1)
		b.metrics.RecordProgressDropped()
	}
}

// remember stores p in the replay ring
func (b *Bus) remember(p types.Progress) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	if len(b.history) < b.historySize {
		b.history = append(b.history, p)
		return
	}
	b.history[b.historyIdx] = p
	b.historyIdx = (b.historyIdx + 1) % b.historySize
}

// recent returns up to n matching updates, oldest first
func (b *Bus) recent(n int, filter *Filter) []types.Progress {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	matched := make([]types.Progress, 0, len(b.history))
	for i := 0; i < len(b.history); i++ {
		p := b.history[(b.historyIdx+i)%len(b.history)]
		if filter.Match(p) {
			matched = append(matched, p)
		}
	}
	if len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return matched
}

// Close closes every subscription; later publishes are ignored
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.Channel)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the current number of subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats returns the totals since creation
func (b *Bus) Stats() (published, delivered, dropped uint64) {
	return b.stats.published.Load(), b.stats.delivered.Load(), b.stats.dropped.Load()
}
