package distribute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
	"main/pkg/exception"
)

func distSignal(id uint32) schema.CompactSignal {
	sig := schema.CompactSignal{
		SignalID:           id,
		Confidence:         200,
		PublishTimestampNs: 1_700_000_000_000_000_000,
		TTLMs:              500,
		Direction:          400,
	}
	sig.SetSymbol("PEPE")
	return sig
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	d, err := NewDistributor(DefaultConfig())
	require.NoError(t, err)

	a, err := d.Subscribe("exec-a", 0)
	require.NoError(t, err)
	b, err := d.Subscribe("exec-b", 0)
	require.NoError(t, err)

	require.NoError(t, d.Distribute(distSignal(1)))

	got, ok := d.Poll(a)
	require.True(t, ok)
	assert.Equal(t, uint32(1), got.SignalID)
	got, ok = d.Poll(b)
	require.True(t, ok)
	assert.Equal(t, uint32(1), got.SignalID)

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Distributed)
	assert.Equal(t, 2, stats.Subscribers)
}

func TestRoundRobinAlternates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeRoundRobin
	d, err := NewDistributor(cfg)
	require.NoError(t, err)

	a, err := d.Subscribe("exec-a", 0)
	require.NoError(t, err)
	b, err := d.Subscribe("exec-b", 0)
	require.NoError(t, err)

	for i := uint32(1); i <= 4; i++ {
		require.NoError(t, d.Distribute(distSignal(i)))
	}

	assert.Equal(t, 2, d.Pending(a))
	assert.Equal(t, 2, d.Pending(b))

	got := d.PollBatch(a, 10)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(1), got[0].SignalID)
	assert.Equal(t, uint32(3), got[1].SignalID)
}

func TestPriorityBasedPrefersHighestPriority(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModePriorityBased
	d, err := NewDistributor(cfg)
	require.NoError(t, err)

	low, err := d.Subscribe("exec-low", 10)
	require.NoError(t, err)
	high, err := d.Subscribe("exec-high", 200)
	require.NoError(t, err)

	require.NoError(t, d.Distribute(distSignal(1)))
	require.NoError(t, d.Distribute(distSignal(2)))

	assert.Equal(t, 2, d.Pending(high))
	assert.Equal(t, 0, d.Pending(low))
}

func TestPriorityBasedDropsWhenTopSubscriberFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModePriorityBased
	cfg.BufferSize = 1
	d, err := NewDistributor(cfg)
	require.NoError(t, err)

	low, err := d.Subscribe("exec-low", 10)
	require.NoError(t, err)
	high, err := d.Subscribe("exec-high", 200)
	require.NoError(t, err)

	require.NoError(t, d.Distribute(distSignal(1)))
	require.NoError(t, d.Distribute(distSignal(2)))

	assert.Equal(t, 1, d.Pending(high))
	assert.Equal(t, 0, d.Pending(low), "a full top-priority buffer never reroutes to lower priorities")
	assert.Equal(t, uint64(1), d.Stats().Dropped)
}

func TestLoadBalancedPicksLeastLoaded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeLoadBalanced
	d, err := NewDistributor(cfg)
	require.NoError(t, err)

	a, err := d.Subscribe("exec-a", 0)
	require.NoError(t, err)
	b, err := d.Subscribe("exec-b", 0)
	require.NoError(t, err)

	for i := uint32(1); i <= 6; i++ {
		require.NoError(t, d.Distribute(distSignal(i)))
	}

	assert.Equal(t, 3, d.Pending(a))
	assert.Equal(t, 3, d.Pending(b))
}

func TestBackpressureDropsAndCounts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 2
	d, err := NewDistributor(cfg)
	require.NoError(t, err)

	h, err := d.Subscribe("exec-slow", 0)
	require.NoError(t, err)

	for i := uint32(1); i <= 5; i++ {
		require.NoError(t, d.Distribute(distSignal(i)), "drops stay silent with backpressure enabled")
	}

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Distributed)
	assert.Equal(t, uint64(3), stats.Dropped)
	assert.Equal(t, uint64(3), stats.BackpressureEvents)

	got := d.PollBatch(h, 10)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(1), got[0].SignalID)
	assert.Equal(t, uint32(2), got[1].SignalID)
}

func TestDisabledBackpressureSurfacesDrop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 1
	cfg.DisableBackpressure = true
	d, err := NewDistributor(cfg)
	require.NoError(t, err)

	_, err = d.Subscribe("exec-slow", 0)
	require.NoError(t, err)

	require.NoError(t, d.Distribute(distSignal(1)))
	assert.ErrorIs(t, d.Distribute(distSignal(2)), exception.ErrSignalQueueFull)
}

func TestUnsubscribe(t *testing.T) {
	d, err := NewDistributor(DefaultConfig())
	require.NoError(t, err)

	h, err := d.Subscribe("exec-a", 0)
	require.NoError(t, err)
	require.NoError(t, d.Unsubscribe(h))

	assert.ErrorIs(t, d.Unsubscribe(h), exception.ErrSignalUnknownSubscriber)
	assert.Zero(t, d.Stats().Subscribers)

	_, ok := d.Poll(h)
	assert.False(t, ok)
}

func TestSubscriberLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSubscribers = 1
	d, err := NewDistributor(cfg)
	require.NoError(t, err)

	_, err = d.Subscribe("exec-a", 0)
	require.NoError(t, err)
	_, err = d.Subscribe("exec-b", 0)
	assert.ErrorIs(t, err, exception.ErrSignalSubscriberLimit)
}

func TestDistributeWithoutSubscribers(t *testing.T) {
	d, err := NewDistributor(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, d.Distribute(distSignal(1)))
	assert.Zero(t, d.Stats().Distributed)
}
