package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/codec"
	"main/internal/schema"
)

const baseNs = uint64(1_700_000_000_000_000_000)

func newTestAggregator(t *testing.T, cfg Config) *Aggregator {
	t.Helper()
	a, err := NewAggregator(cfg)
	require.NoError(t, err)
	a.now = func() uint64 { return baseNs }
	return a
}

func signalFrom(sourceBit uint32, direction int16, publishNs uint64) schema.CompactSignal {
	sig := schema.CompactSignal{
		SignalID:           uint32(direction) ^ sourceBit,
		Confidence:         200,
		PublishTimestampNs: publishNs,
		TTLMs:              500,
		Direction:          direction,
		Magnitude:          abs16(direction),
		SourceMask:         sourceBit,
		DecayFunction:      schema.DecayExponential,
	}
	sig.SetSymbol("PEPE")
	return codec.WithChecksum(sig)
}

func abs16(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}

func TestNoConsensusBelowMinSources(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig())

	a.AddSignal(signalFrom(0b01, 500, baseNs))
	_, ok := a.Consensus("PEPE")
	assert.False(t, ok, "one source must not produce consensus")

	// second entry from the same source still counts as one distinct source
	a.AddSignal(signalFrom(0b01, 520, baseNs))
	_, ok = a.Consensus("PEPE")
	assert.False(t, ok, "single distinct source must not produce consensus")

	a.AddSignal(signalFrom(0b10, 480, baseNs))
	_, ok = a.Consensus("PEPE")
	assert.True(t, ok, "two distinct sources reach the minimum")
}

func TestConsensusAveragesDirections(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig())

	a.AddSignal(signalFrom(0b001, 400, baseNs))
	a.AddSignal(signalFrom(0b010, 600, baseNs))
	a.AddSignal(signalFrom(0b100, 500, baseNs))

	consensus, ok := a.Consensus("PEPE")
	require.True(t, ok)
	assert.Equal(t, int16(500), consensus.Direction)
	assert.Equal(t, schema.SignalBuy, consensus.SignalType)
	assert.Equal(t, uint32(0b111), consensus.SourceMask)
	assert.Equal(t, "PEPE", consensus.Symbol())
	assert.True(t, codec.VerifyIntegrity(consensus), "consensus carries a fresh checksum")
}

func TestDetectOutliersByZScore(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig())

	// nine clustered entries plus one extreme: z of the extreme is 3.0
	signals := make([]schema.CompactSignal, 0, 10)
	for i := uint32(0); i < 9; i++ {
		signals = append(signals, signalFrom(1<<i, 500, baseNs))
	}
	signals = append(signals, signalFrom(1<<9, -900, baseNs))

	assert.Equal(t, []int{9}, a.DetectOutliers(signals))
	assert.Empty(t, a.DetectOutliers(signals[:9]), "cluster alone has no outliers")
}

func TestConsensusExcludesOutliers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutlierZThreshold = 1.5
	cfg.ConsensusThreshold = 0.5
	a := newTestAggregator(t, cfg)

	a.AddSignal(signalFrom(0b00001, 500, baseNs))
	a.AddSignal(signalFrom(0b00010, 510, baseNs))
	a.AddSignal(signalFrom(0b00100, 490, baseNs))
	a.AddSignal(signalFrom(0b01000, 505, baseNs))
	a.AddSignal(signalFrom(0b10000, -900, baseNs))

	consensus, ok := a.Consensus("PEPE")
	require.True(t, ok)
	assert.Equal(t, int16(501), consensus.Direction, "mean of the four survivors")
}

func TestOutlierRejectionNeverDropsBelowMinSources(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutlierZThreshold = 1.5
	cfg.ConsensusThreshold = 0.5
	cfg.MinSources = 5
	a := newTestAggregator(t, cfg)

	// the extreme entry would be rejected, but dropping it would leave four
	// entries, below the minimum, so all five must survive into the average
	a.AddSignal(signalFrom(0b00001, 500, baseNs))
	a.AddSignal(signalFrom(0b00010, 510, baseNs))
	a.AddSignal(signalFrom(0b00100, 490, baseNs))
	a.AddSignal(signalFrom(0b01000, 505, baseNs))
	a.AddSignal(signalFrom(0b10000, -900, baseNs))

	consensus, ok := a.Consensus("PEPE")
	require.True(t, ok)
	assert.Equal(t, int16(121), consensus.Direction, "mean of all five entries")
}

func TestDisagreementInvokesCallbackAndEmitsNothing(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig())

	var raw []schema.CompactSignal
	a.SetDisagreementCallback(func(signals []schema.CompactSignal) { raw = signals })

	a.AddSignal(signalFrom(0b001, 800, baseNs))
	a.AddSignal(signalFrom(0b010, -700, baseNs))

	_, ok := a.Consensus("PEPE")
	assert.False(t, ok, "50/50 split is below the 0.7 agreement threshold")
	assert.Len(t, raw, 2, "disagreement callback receives the raw window")
}

func TestWindowEviction(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig())

	a.AddSignal(signalFrom(0b01, 500, baseNs-200*1_000_000)) // outside 100ms window
	a.AddSignal(signalFrom(0b10, 480, baseNs))

	assert.Equal(t, 1, a.WindowSize("PEPE"), "stale entry evicted on append")
	_, ok := a.Consensus("PEPE")
	assert.False(t, ok, "evicted source no longer counts")
}

func TestAgreementScore(t *testing.T) {
	buy := signalFrom(1, 500, baseNs)
	sell := signalFrom(2, -500, baseNs)

	assert.InDelta(t, 1.0, AgreementScore([]schema.CompactSignal{buy, buy, buy}), 1e-9)
	assert.InDelta(t, 2.0/3.0, AgreementScore([]schema.CompactSignal{buy, buy, sell}), 1e-9)
	assert.InDelta(t, 0.5, AgreementScore([]schema.CompactSignal{buy, sell, buy, sell}), 1e-9)
	assert.Zero(t, AgreementScore(nil))
}
