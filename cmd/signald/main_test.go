package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/ops"
	"main/internal/schema"
)

func busEvent(sig schema.CompactSignal) bus.Event {
	now := time.Now().UTC().UnixNano()
	return bus.Event{Header: schema.NewHeader(schema.EventSignal, 1, 1, now, now), Signal: sig}
}

func testInput(symbol string) schema.SignalInput {
	now := uint64(time.Now().UTC().UnixNano())
	return schema.SignalInput{
		SignalID:          "sig-1",
		TokenSymbol:       symbol,
		SentimentScore:    0.5,
		ConfidenceScore:   0.8,
		RiskScore:         0.2,
		LiquidityScore:    0.9,
		DataSources:       []string{"sentiment"},
		SourceTimestampNs: now,
	}
}

func TestConsumeDiscardsCorruptSignal(t *testing.T) {
	loaded, err := defaultLoaded()
	require.NoError(t, err)
	pipe, err := newPipeline(loaded)
	require.NoError(t, err)

	sig, err := pipe.compressor.Compress(testInput("PEPE"))
	require.NoError(t, err)
	sig.Direction ^= 0x55

	pipe.consume(busEvent(sig), ops.FeatureFlags{})

	assert.Equal(t, uint64(1), pipe.metrics.Snapshot().ChecksumErrors)
	assert.Zero(t, pipe.cache.Len(), "a corrupt signal never reaches the cache")
}

func TestConsumeCachesValidSignal(t *testing.T) {
	loaded, err := defaultLoaded()
	require.NoError(t, err)
	pipe, err := newPipeline(loaded)
	require.NoError(t, err)

	sig, err := pipe.compressor.Compress(testInput("WIF"))
	require.NoError(t, err)

	pipe.consume(busEvent(sig), ops.FeatureFlags{})

	assert.Zero(t, pipe.metrics.Snapshot().ChecksumErrors)
	cached, ok := pipe.cache.Lookup("WIF")
	require.True(t, ok)
	assert.Equal(t, sig.SignalID, cached.SignalID)
}
