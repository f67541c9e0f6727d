package events

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/chainfetch/pkg/metrics"
	"github.com/0xmhha/chainfetch/pkg/types"
)

func progress(chain, step string, pct float64) types.Progress {
	return types.Progress{Chain: chain, Contract: "0xabc", Step: step, Percent: pct}
}

func TestBus_PublishToSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(4)
	b := bus.Subscribe(4)
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Publish(progress("ethereum", "events", 5))

	for _, sub := range []*Subscription{a, b} {
		select {
		case p := <-sub.Channel:
			assert.Equal(t, "events", p.Step)
		default:
			t.Fatal("expected a progress update")
		}
		assert.Equal(t, uint64(1), sub.Stats.Received.Load())
	}

	published, delivered, dropped := bus.Stats()
	assert.Equal(t, uint64(1), published)
	assert.Equal(t, uint64(2), delivered)
	assert.Equal(t, uint64(0), dropped)
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(progress("ethereum", "scan", float64(i%100)))
		}
	})
	published, delivered, _ := bus.Stats()
	assert.Equal(t, uint64(1000), published)
	assert.Equal(t, uint64(0), delivered)
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry(), "test")
	bus := NewBus(WithMetrics(m))
	sub := bus.Subscribe(2)

	for i := 0; i < 5; i++ {
		bus.Publish(progress("ethereum", "transactions", float64(i)))
	}

	assert.Len(t, sub.Channel, 2)
	assert.Equal(t, uint64(2), sub.Stats.Received.Load())
	assert.Equal(t, uint64(3), sub.Stats.Dropped.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ProgressDroppedTotal))

	// the oldest updates are the ones kept
	first := <-sub.Channel
	assert.Equal(t, 0.0, first.Percent)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)

	bus.Unsubscribe(sub.ID)
	_, open := <-sub.Channel
	assert.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount())

	assert.NotPanics(t, func() {
		bus.Unsubscribe(sub.ID)
		bus.Publish(progress("ethereum", "events", 1))
	})
}

func TestBus_Filter(t *testing.T) {
	bus := NewBus()
	sub := bus.SubscribeWithOptions(SubscribeOptions{
		ChannelSize: 10,
		Filter:      &Filter{Chains: []string{"starknet"}},
	})

	bus.Publish(progress("ethereum", "events", 5))
	bus.Publish(progress("starknet", "events", 5))

	require.Len(t, sub.Channel, 1)
	assert.Equal(t, "starknet", (<-sub.Channel).Chain)
}

func TestBus_Replay(t *testing.T) {
	bus := NewBus(WithHistorySize(3))
	for i := 1; i <= 5; i++ {
		bus.Publish(progress("ethereum", "scan", float64(i)))
	}

	sub := bus.SubscribeWithOptions(SubscribeOptions{ChannelSize: 10, ReplayLast: 2})
	require.Len(t, sub.Channel, 2)
	assert.Equal(t, 4.0, (<-sub.Channel).Percent)
	assert.Equal(t, 5.0, (<-sub.Channel).Percent)

	all := bus.SubscribeWithOptions(SubscribeOptions{ChannelSize: 10, ReplayLast: 10})
	assert.Len(t, all.Channel, 3, "history keeps only the last 3")
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)

	bus.Close()
	_, open := <-sub.Channel
	assert.False(t, open)
	assert.Nil(t, bus.Subscribe(1))

	assert.NotPanics(t, func() {
		bus.Publish(progress("ethereum", "events", 1))
		bus.Close()
	})
}

func TestBus_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	bus := NewBus()
	subs := make([]*Subscription, 10)
	for i := range subs {
		subs[i] = bus.Subscribe(1)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				bus.Publish(progress("ethereum", "transactions", float64(j)))
			}
		}()
	}
	for _, sub := range subs {
		wg.Add(1)
		go func(id SubscriptionID) {
			defer wg.Done()
			bus.Unsubscribe(id)
		}(sub.ID)
	}
	wg.Wait()

	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBus_ImplementsPublisher(t *testing.T) {
	var p types.Publisher = NewBus()
	assert.NotPanics(t, func() { p.Publish(types.Progress{}) })
}
