// Package compress turns rich producer analysis records into fixed 64-byte
// CompactSignal values and back.
package compress

import (
	"hash/fnv"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/calib"
	"main/internal/codec"
	"main/internal/schema"
	"main/pkg/exception"
)

const sentimentThreshold = 0.1

// Metrics tracks compression counters. All fields are atomics.
type Metrics struct {
	signalsCompressed    uint64
	signalsValidated     uint64
	compressionErrors    uint64
	checksumFailures     uint64
	avgCompressionTimeNs uint64
}

// MetricsSnapshot is a point-in-time view of compression metrics.
type MetricsSnapshot struct {
	SignalsCompressed    uint64
	SignalsValidated     uint64
	CompressionErrors    uint64
	ChecksumFailures     uint64
	AvgCompressionTimeNs uint64
}

// Compressor quantizes SignalInput records into CompactSignals using a shared
// confidence calibrator. Safe for concurrent use.
type Compressor struct {
	cfg        Config
	calibrator *calib.Calibrator
	registry   *schema.Registry
	seq        uint32
	metrics    Metrics

	now func() uint64
}

// NewCompressor creates a compressor. The calibrator is required; the
// registry is optional (nil leaves source masks empty).
func NewCompressor(cfg Config, calibrator *calib.Calibrator, registry *schema.Registry) (*Compressor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if calibrator == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "calibrator")
	}
	return &Compressor{
		cfg:        cfg,
		calibrator: calibrator,
		registry:   registry,
		now:        func() uint64 { return uint64(time.Now().UnixNano()) },
	}, nil
}

// Compress quantizes a single input into a CompactSignal. The checksum is
// computed last so it covers every other field.
func (c *Compressor) Compress(input schema.SignalInput) (schema.CompactSignal, error) {
	return c.compressWith(c.calibrator.Snapshot(), input)
}

// CompressBatch compresses inputs in order. One calibration snapshot is
// applied to every element so batch results stay internally comparable even
// if the calibrator is refitted mid-batch.
func (c *Compressor) CompressBatch(inputs []schema.SignalInput) ([]schema.CompactSignal, error) {
	if len(inputs) > c.cfg.MaxBatchSize {
		return nil, errors.Wrapf(exception.ErrSignalBatchTooLarge, "batch: %d, max: %d", len(inputs), c.cfg.MaxBatchSize)
	}
	curve := c.calibrator.Snapshot()
	out := make([]schema.CompactSignal, 0, len(inputs))
	for i, input := range inputs {
		sig, err := c.compressWith(curve, input)
		if err != nil {
			return nil, errors.Wrapf(err, "compress batch element %d", i)
		}
		out = append(out, sig)
	}
	return out, nil
}

func (c *Compressor) compressWith(curve calib.Curve, input schema.SignalInput) (schema.CompactSignal, error) {
	start := c.now()

	if input.TokenSymbol == "" {
		atomic.AddUint64(&c.metrics.compressionErrors, 1)
		return schema.CompactSignal{}, errors.Wrapf(exception.ErrSignalEmptySymbol, "signal: %s", input.SignalID)
	}

	calibrated := curve.Calibrate(input.ConfidenceScore)

	sig := schema.CompactSignal{
		SignalID:           c.signalID(input.SignalID),
		SignalType:         signalTypeOf(input.SentimentScore),
		Confidence:         calib.QuantizeConfidence(calibrated),
		Priority:           calib.QuantizeConfidence(calibrated),
		PlatformMask:       c.cfg.PlatformMask,
		PublishTimestampNs: start,
		TTLMs:              c.cfg.DefaultTTLMs,
		Direction:          quantizeSigned(input.SentimentScore),
		Magnitude:          quantizeSigned(math.Abs(input.SentimentScore)),
		RiskScore:          quantizeUnsigned(input.RiskScore),
		Volatility:         quantizeUnsigned(input.VolatilityEstimate),
		TokenHash:          hashAddress(input.TokenAddress),
		ModelVersion:       hashModelVersion(input.ModelVersion),
		DecayFunction:      c.cfg.Decay,
	}
	sig.SetSymbol(input.TokenSymbol)
	sig.AgeMs = saturateAgeMs(start, input.SourceTimestampNs)
	if c.registry != nil {
		sig.SourceMask = c.registry.SourceMask(input.DataSources)
	}
	if input.Urgent {
		sig.Priority = 255
		sig.TTLMs = c.cfg.UrgentTTLMs
	}
	if !c.cfg.DisableChecksum {
		sig = codec.WithChecksum(sig)
	}

	atomic.AddUint64(&c.metrics.signalsCompressed, 1)
	c.observeCompressionTime(c.now() - start)
	return sig, nil
}

// Decompress reconstructs a best-effort rich record for audit and replay.
// Lossy: free text and per-source detail are gone; only aggregate scores and
// back-computed timestamps survive.
func (c *Compressor) Decompress(sig schema.CompactSignal) schema.SignalInput {
	ageNs := uint64(sig.AgeMs) * 1_000_000
	return schema.SignalInput{
		SignalID:           strconv.FormatUint(uint64(sig.SignalID), 10),
		TokenSymbol:        sig.Symbol(),
		SentimentScore:     float64(sig.Direction) / 1000,
		ConfidenceScore:    calib.DequantizeConfidence(sig.Confidence),
		RiskScore:          float64(sig.RiskScore) / 1000,
		VolatilityEstimate: float64(sig.Volatility) / 1000,
		SourceTimestampNs:  sig.PublishTimestampNs - ageNs,
		ProcessingStartNs:  sig.PublishTimestampNs - ageNs/2,
		ProcessingEndNs:    sig.PublishTimestampNs,
		Urgent:             sig.Priority == 255 && sig.TTLMs == c.cfg.UrgentTTLMs,
	}
}

// Validate verifies the signal checksum. A mismatch is a hard error: the
// signal is unusable and must be discarded, never repaired.
func (c *Compressor) Validate(sig schema.CompactSignal) error {
	if !c.cfg.DisableChecksum && !codec.VerifyIntegrity(sig) {
		atomic.AddUint64(&c.metrics.checksumFailures, 1)
		atomic.AddUint64(&c.metrics.compressionErrors, 1)
		return errors.Wrapf(exception.ErrSignalChecksumMismatch, "signal id: %d", sig.SignalID)
	}
	atomic.AddUint64(&c.metrics.signalsValidated, 1)
	return nil
}

// IsStale reports whether the signal has expired or exceeds the override
// freshness window.
func (c *Compressor) IsStale(sig schema.CompactSignal, maxAgeNs uint64) bool {
	now := c.now()
	if sig.IsExpired(now) {
		return true
	}
	return now > sig.PublishTimestampNs && now-sig.PublishTimestampNs > maxAgeNs
}

// Metrics returns a snapshot of the compression counters.
func (c *Compressor) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		SignalsCompressed:    atomic.LoadUint64(&c.metrics.signalsCompressed),
		SignalsValidated:     atomic.LoadUint64(&c.metrics.signalsValidated),
		CompressionErrors:    atomic.LoadUint64(&c.metrics.compressionErrors),
		ChecksumFailures:     atomic.LoadUint64(&c.metrics.checksumFailures),
		AvgCompressionTimeNs: atomic.LoadUint64(&c.metrics.avgCompressionTimeNs),
	}
}

// ResetMetrics zeroes all compression counters.
func (c *Compressor) ResetMetrics() {
	atomic.StoreUint64(&c.metrics.signalsCompressed, 0)
	atomic.StoreUint64(&c.metrics.signalsValidated, 0)
	atomic.StoreUint64(&c.metrics.compressionErrors, 0)
	atomic.StoreUint64(&c.metrics.checksumFailures, 0)
	atomic.StoreUint64(&c.metrics.avgCompressionTimeNs, 0)
}

func (c *Compressor) signalID(id string) uint32 {
	if id == "" {
		return atomic.AddUint32(&c.seq, 1)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32()
}

func (c *Compressor) observeCompressionTime(elapsed uint64) {
	current := atomic.LoadUint64(&c.metrics.avgCompressionTimeNs)
	atomic.StoreUint64(&c.metrics.avgCompressionTimeNs, (current*63+elapsed)/64)
}

func signalTypeOf(sentiment float64) schema.SignalType {
	switch {
	case sentiment > sentimentThreshold:
		return schema.SignalBuy
	case sentiment < -sentimentThreshold:
		return schema.SignalSell
	default:
		return schema.SignalHold
	}
}

func quantizeSigned(v float64) int16 {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return int16(math.Round(v * 1000))
}

func quantizeUnsigned(v float64) uint16 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint16(math.Round(v * 1000))
}

func saturateAgeMs(nowNs, sourceNs uint64) uint16 {
	if sourceNs == 0 || sourceNs > nowNs {
		return 0
	}
	ageMs := (nowNs - sourceNs) / 1_000_000
	if ageMs > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(ageMs)
}

func hashAddress(address string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(address))
	return h.Sum64()
}

func hashModelVersion(version string) uint16 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(version))
	return uint16(h.Sum32() & 0xFFFF)
}
