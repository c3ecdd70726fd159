package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const publishNs = uint64(1_700_000_000_000_000_000)

func freshSignal(decay DecayFunction) CompactSignal {
	return CompactSignal{
		Confidence:         255,
		PublishTimestampNs: publishNs,
		TTLMs:              500,
		AgeMs:              20,
		DecayFunction:      decay,
	}
}

func TestIsExpiredBoundary(t *testing.T) {
	sig := freshSignal(DecayExponential)

	assert.False(t, sig.IsExpired(publishNs), "fresh at publish time")
	assert.False(t, sig.IsExpired(publishNs+500*1_000_000), "fresh at exactly ttl")
	assert.True(t, sig.IsExpired(publishNs+500*1_000_000+1), "expired past ttl")
	assert.True(t, sig.IsExpired(publishNs+600*1_000_000), "stays expired")
}

func TestExpiryIndependentOfAgeMs(t *testing.T) {
	sig := freshSignal(DecayStep)
	sig.AgeMs = 60000 // large source latency must not affect expiry
	assert.False(t, sig.IsExpired(publishNs+100*1_000_000))
}

func TestExponentialDecayStrictlyDecreasing(t *testing.T) {
	sig := freshSignal(DecayExponential)

	require.InDelta(t, 1.0, sig.DecayedConfidence(publishNs, DefaultDecayLambda), 1e-9,
		"equals confidence at age zero")

	prev := sig.DecayedConfidence(publishNs, DefaultDecayLambda)
	for ageMs := uint64(1); ageMs <= 500; ageMs += 50 {
		w := sig.DecayedConfidence(publishNs+ageMs*1_000_000, DefaultDecayLambda)
		require.Lessf(t, w, prev, "weight must strictly decrease at age %dms", ageMs)
		prev = w
	}
}

func TestLinearDecayReachesZeroAtTTL(t *testing.T) {
	sig := freshSignal(DecayLinear)
	w := sig.DecayedConfidence(publishNs+250*1_000_000, DefaultDecayLambda)
	assert.InDelta(t, 0.5, w, 1e-9)
	assert.InDelta(t, 0.0, sig.DecayedConfidence(publishNs+500*1_000_000, DefaultDecayLambda), 1e-9)
}

func TestStepDecayHoldsUntilExpiry(t *testing.T) {
	sig := freshSignal(DecayStep)
	assert.InDelta(t, 1.0, sig.DecayedConfidence(publishNs+499*1_000_000, DefaultDecayLambda), 1e-9)
}

func TestExpiredSignalWeighsZeroForEveryDecayFunction(t *testing.T) {
	for _, decay := range []DecayFunction{DecayExponential, DecayLinear, DecayStep} {
		sig := freshSignal(decay)
		got := sig.DecayedConfidence(publishNs+600*1_000_000, DefaultDecayLambda)
		assert.Zerof(t, got, "decay function %d", decay)
	}
}

func TestSymbolRoundTrip(t *testing.T) {
	var sig CompactSignal
	sig.SetSymbol("SOLUSDT")
	assert.Equal(t, "SOLUSDT", sig.Symbol())

	sig.SetSymbol("VERYLONGSYMBOL")
	assert.Equal(t, "VERYLONG", sig.Symbol(), "truncated to 8 bytes")

	sig.SetSymbol("BTC")
	assert.Equal(t, "BTC", sig.Symbol(), "previous bytes cleared")
}

func TestSetViolationEscalatesOnly(t *testing.T) {
	r := NewPolicyResult()
	require.True(t, r.Allowed)
	require.Equal(t, SeverityInfo, r.Severity)

	r.SetViolation(1003, SeverityWarning, "frequency above soft limit")
	assert.True(t, r.Allowed, "warnings do not block")
	assert.Equal(t, uint32(1003), r.PrimaryViolationID)

	r.SetViolation(1001, SeverityError, "order size exceeds single-order limit")
	assert.False(t, r.Allowed)
	assert.Equal(t, SeverityError, r.Severity)
	assert.Equal(t, uint32(1001), r.PrimaryViolationID)

	// same severity later must not steal the primary slot
	r.SetViolation(1002, SeverityError, "price deviation")
	assert.Equal(t, uint32(1001), r.PrimaryViolationID)
	assert.Equal(t, "order size exceeds single-order limit", r.Reason())

	// severity never downgrades
	r.SetViolation(1005, SeverityInfo, "note")
	assert.Equal(t, SeverityError, r.Severity)
	assert.Equal(t, uint16(4), r.ViolatedPolicyCount)
}

func TestRegistryMasks(t *testing.T) {
	reg := NewRegistry()
	dex, err := reg.AddPlatform("uniswap")
	require.NoError(t, err)
	cex, err := reg.AddPlatform("binance")
	require.NoError(t, err)
	assert.Equal(t, uint8(0b01), PlatformBit(dex))
	assert.Equal(t, uint8(0b10), PlatformBit(cex))

	_, err = reg.AddSource("sentiment")
	require.NoError(t, err)
	_, err = reg.AddSource("technical")
	require.NoError(t, err)
	mask := reg.SourceMask([]string{"sentiment", "technical", "unknown"})
	assert.Equal(t, uint32(0b11), mask)
	assert.Equal(t, 2, SourceCount(mask))
}
