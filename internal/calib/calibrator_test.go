package calib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibrateIdentityWithoutSamples(t *testing.T) {
	c := NewCalibrator()
	for _, raw := range []float64{0, 0.25, 0.5, 0.99, 1} {
		assert.InDelta(t, raw, c.Calibrate(raw), 1e-12)
	}
}

func TestCalibrateMonotone(t *testing.T) {
	c := NewCalibrator()
	// overconfident model: empirical hit-rate is roughly half the prediction
	for i := 0; i < 1000; i++ {
		predicted := float64(i%10)/10 + 0.05
		c.AddSample(predicted, i%10 >= 5 && i%2 == 0)
	}
	c.Fit()

	prev := -1.0
	for raw := 0.0; raw <= 1.0; raw += 0.01 {
		got := c.Calibrate(raw)
		require.GreaterOrEqualf(t, got, prev, "calibration must be monotone at raw=%.2f", raw)
		require.GreaterOrEqual(t, got, 0.0)
		require.LessOrEqual(t, got, 1.0)
		prev = got
	}
}

func TestFitPoolsNonMonotoneBins(t *testing.T) {
	c := NewCalibrator()
	// bin 0.2-0.3 with perfect accuracy, bin 0.3-0.4 with none: raw bin
	// accuracies invert and must be pooled
	for i := 0; i < 50; i++ {
		c.AddSample(0.25, true)
		c.AddSample(0.35, false)
	}
	c.Fit()

	curve := c.Curve()
	require.NotEmpty(t, curve)
	for i := 1; i < len(curve); i++ {
		assert.GreaterOrEqual(t, curve[i].ActualAccuracy, curve[i-1].ActualAccuracy)
	}
	assert.LessOrEqual(t, c.Calibrate(0.25), c.Calibrate(0.35))
}

func TestCalibrateReflectsEmpiricalAccuracy(t *testing.T) {
	c := NewCalibrator()
	// predictions around 0.85 that hit only 40% of the time
	for i := 0; i < 100; i++ {
		c.AddSample(0.85, i%5 < 2)
	}
	c.Fit()
	assert.InDelta(t, 0.4, c.Calibrate(0.85), 1e-9)
	assert.InDelta(t, 0.45, c.CalibrationError(), 1e-9)
}

func TestQuantizeRoundTripWithinOneStep(t *testing.T) {
	for i := 0; i <= 1000; i++ {
		v := float64(i) / 1000
		q := QuantizeConfidence(v)
		back := DequantizeConfidence(q)
		require.LessOrEqualf(t, math.Abs(back-v), 1.0/255, "round trip error too large for %v", v)
	}
}

func TestQuantizeClamps(t *testing.T) {
	assert.Equal(t, uint8(0), QuantizeConfidence(-0.5))
	assert.Equal(t, uint8(255), QuantizeConfidence(1.5))
	assert.Equal(t, uint8(255), QuantizeConfidence(1.0))
	assert.Equal(t, uint8(0), QuantizeConfidence(0.0))
}
