// Package calib maps raw model confidence onto empirically observed hit-rate.
//
// Writers feed (predicted, outcome) pairs from trade results and refit the
// curve off the hot path. Readers only ever touch an immutable snapshot, so
// calibration lookups never block on training updates.
package calib

import (
	"math"
	"sync"
	"sync/atomic"
)

const fitBins = 10

// CalibrationPoint is one fitted point of the calibration curve.
type CalibrationPoint struct {
	RawConfidence  float64
	ActualAccuracy float64
	SampleCount    uint32
}

// Curve is an immutable calibration snapshot. An empty curve is the identity
// mapping. Holding a Curve pins one calibration view, which batch compression
// uses to keep all elements of a batch internally comparable.
type Curve []CalibrationPoint

// Calibrate maps a raw confidence onto the curve's empirical accuracy via
// linear interpolation, clamped at both ends. Monotone non-decreasing.
func (cv Curve) Calibrate(raw float64) float64 {
	raw = clamp01(raw)
	if len(cv) == 0 {
		return raw
	}
	if raw <= cv[0].RawConfidence {
		return cv[0].ActualAccuracy
	}
	last := cv[len(cv)-1]
	if raw >= last.RawConfidence {
		return last.ActualAccuracy
	}
	for i := 0; i < len(cv)-1; i++ {
		p1, p2 := cv[i], cv[i+1]
		if raw >= p1.RawConfidence && raw <= p2.RawConfidence {
			t := (raw - p1.RawConfidence) / (p2.RawConfidence - p1.RawConfidence)
			return p1.ActualAccuracy + t*(p2.ActualAccuracy-p1.ActualAccuracy)
		}
	}
	return last.ActualAccuracy
}

type sample struct {
	predicted float64
	outcome   bool
}

// Calibrator accumulates outcome samples and serves a monotone calibration
// curve. The zero value is not usable; use NewCalibrator.
type Calibrator struct {
	mu      sync.Mutex
	samples []sample

	curve atomic.Value // Curve, immutable once stored
}

// NewCalibrator creates a calibrator with no fitted curve. Until Fit is
// called with enough samples, Calibrate is the identity mapping.
func NewCalibrator() *Calibrator {
	c := &Calibrator{}
	c.curve.Store(Curve(nil))
	return c
}

// AddSample records a (predicted confidence, actual outcome) pair. Inputs
// outside [0,1] are clamped.
func (c *Calibrator) AddSample(predicted float64, outcome bool) {
	c.mu.Lock()
	c.samples = append(c.samples, sample{predicted: clamp01(predicted), outcome: outcome})
	c.mu.Unlock()
}

// SampleCount returns the number of accumulated samples.
func (c *Calibrator) SampleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

// Fit bins the accumulated samples into equal-width confidence bins, computes
// the empirical hit-rate per bin, enforces monotonicity by pooling adjacent
// violators, and publishes the new curve atomically. Empty bins are skipped.
func (c *Calibrator) Fit() {
	c.mu.Lock()
	samples := make([]sample, len(c.samples))
	copy(samples, c.samples)
	c.mu.Unlock()

	if len(samples) == 0 {
		return
	}

	var points []CalibrationPoint
	for i := 0; i < fitBins; i++ {
		lo := float64(i) / fitBins
		hi := float64(i+1) / fitBins
		hits, total := 0, 0
		for _, s := range samples {
			if s.predicted >= lo && (s.predicted < hi || (i == fitBins-1 && s.predicted <= hi)) {
				total++
				if s.outcome {
					hits++
				}
			}
		}
		if total == 0 {
			continue
		}
		points = append(points, CalibrationPoint{
			RawConfidence:  (lo + hi) / 2,
			ActualAccuracy: float64(hits) / float64(total),
			SampleCount:    uint32(total),
		})
	}
	if len(points) == 0 {
		return
	}

	c.curve.Store(Curve(poolAdjacentViolators(points)))
}

// poolAdjacentViolators merges neighbouring points whose accuracy decreases,
// replacing them with their sample-weighted mean until the curve is
// non-decreasing.
func poolAdjacentViolators(points []CalibrationPoint) []CalibrationPoint {
	pooled := make([]CalibrationPoint, 0, len(points))
	for _, p := range points {
		pooled = append(pooled, p)
		for len(pooled) >= 2 {
			last := pooled[len(pooled)-1]
			prev := pooled[len(pooled)-2]
			if prev.ActualAccuracy <= last.ActualAccuracy {
				break
			}
			weight := float64(prev.SampleCount + last.SampleCount)
			merged := CalibrationPoint{
				RawConfidence: (prev.RawConfidence*float64(prev.SampleCount) +
					last.RawConfidence*float64(last.SampleCount)) / weight,
				ActualAccuracy: (prev.ActualAccuracy*float64(prev.SampleCount) +
					last.ActualAccuracy*float64(last.SampleCount)) / weight,
				SampleCount: prev.SampleCount + last.SampleCount,
			}
			pooled = pooled[:len(pooled)-2]
			pooled = append(pooled, merged)
		}
	}
	return pooled
}

// Calibrate maps a raw confidence onto the fitted empirical accuracy. It is
// monotone non-decreasing in raw. Without a fitted curve it falls back to the
// identity mapping so degraded calibration never blocks signal flow.
func (c *Calibrator) Calibrate(raw float64) float64 {
	return c.Snapshot().Calibrate(raw)
}

// Snapshot returns the current fitted curve. The returned Curve is immutable
// and safe to use across a batch.
func (c *Calibrator) Snapshot() Curve {
	return c.curve.Load().(Curve)
}

// Curve returns the current fitted curve snapshot.
func (c *Calibrator) Curve() []CalibrationPoint {
	return c.Snapshot()
}

// CalibrationError returns the sample-weighted mean absolute gap between
// predicted confidence and empirical accuracy over the fitted curve. Zero
// when no curve is fitted.
func (c *Calibrator) CalibrationError() float64 {
	curve := c.Snapshot()
	if len(curve) == 0 {
		return 0
	}
	var sum float64
	var count uint32
	for _, p := range curve {
		sum += math.Abs(p.RawConfidence-p.ActualAccuracy) * float64(p.SampleCount)
		count += p.SampleCount
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// QuantizeConfidence maps a calibrated probability in [0,1] onto [0,255].
func QuantizeConfidence(calibrated float64) uint8 {
	v := math.Round(clamp01(calibrated) * 255)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// DequantizeConfidence maps a quantized confidence back onto [0,1].
func DequantizeConfidence(q uint8) float64 {
	return float64(q) / 255
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
