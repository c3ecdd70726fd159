// Package aggregate combines per-instrument signals from multiple sources
// into a consensus signal with outlier rejection.
package aggregate

import (
	"fmt"
	"math"
	"sync"
	"time"

	"main/internal/codec"
	"main/internal/schema"
)

const (
	defaultMinSources         = 2
	defaultConsensusThreshold = 0.7
	defaultOutlierZThreshold  = 2.0
	defaultWindowNs           = uint64(100 * time.Millisecond)

	// direction threshold separating hold from buy/sell, matching the
	// compressor's 0.1 sentiment threshold on the [-1000,1000] scale
	directionHoldBand = 100
)

// Config controls consensus building.
type Config struct {
	MinSources              int
	ConsensusThreshold      float64
	DisableOutlierDetection bool
	OutlierZThreshold       float64
	WindowNs                uint64
}

// DefaultConfig returns a baseline aggregation configuration.
func DefaultConfig() Config {
	return Config{
		MinSources:         defaultMinSources,
		ConsensusThreshold: defaultConsensusThreshold,
		OutlierZThreshold:  defaultOutlierZThreshold,
		WindowNs:           defaultWindowNs,
	}
}

func (c Config) withDefaults() Config {
	if c.MinSources == 0 {
		c.MinSources = defaultMinSources
	}
	if c.ConsensusThreshold == 0 {
		c.ConsensusThreshold = defaultConsensusThreshold
	}
	if c.OutlierZThreshold == 0 {
		c.OutlierZThreshold = defaultOutlierZThreshold
	}
	if c.WindowNs == 0 {
		c.WindowNs = defaultWindowNs
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.MinSources < 1 {
		return fmt.Errorf("invalid aggregate config: MinSources must be >= 1")
	}
	if c.ConsensusThreshold < 0 || c.ConsensusThreshold > 1 {
		return fmt.Errorf("invalid aggregate config: ConsensusThreshold must be in [0,1]")
	}
	if c.OutlierZThreshold <= 0 {
		return fmt.Errorf("invalid aggregate config: OutlierZThreshold must be > 0")
	}
	if c.WindowNs == 0 {
		return fmt.Errorf("invalid aggregate config: WindowNs must be > 0")
	}
	return nil
}

// Aggregator maintains per-instrument rolling windows of incoming signals.
type Aggregator struct {
	cfg Config

	mu      sync.Mutex
	windows map[string][]schema.CompactSignal

	onConsensus    func(schema.CompactSignal)
	onDisagreement func([]schema.CompactSignal)

	now func() uint64
}

// NewAggregator creates an aggregator.
func NewAggregator(cfg Config) (*Aggregator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{
		cfg:     cfg,
		windows: make(map[string][]schema.CompactSignal),
		now:     func() uint64 { return uint64(time.Now().UnixNano()) },
	}, nil
}

// SetConsensusCallback registers a callback invoked with every consensus
// signal produced.
func (a *Aggregator) SetConsensusCallback(fn func(schema.CompactSignal)) {
	a.mu.Lock()
	a.onConsensus = fn
	a.mu.Unlock()
}

// SetDisagreementCallback registers a callback invoked with the raw window
// whenever agreement falls below the consensus threshold. The admission
// decision is left to the caller.
func (a *Aggregator) SetDisagreementCallback(fn func([]schema.CompactSignal)) {
	a.mu.Lock()
	a.onDisagreement = fn
	a.mu.Unlock()
}

// AddSignal appends a signal to its instrument window and evicts entries
// older than the aggregation window.
func (a *Aggregator) AddSignal(sig schema.CompactSignal) {
	symbol := sig.Symbol()
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.windows[symbol] = append(a.evictLocked(a.windows[symbol], now), sig)
}

// WindowSize returns the current number of entries for a symbol.
func (a *Aggregator) WindowSize(symbol string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.windows[symbol])
}

// Consensus produces the outlier-filtered consensus signal for a symbol, or
// false when the window has too few distinct sources or disagrees too much.
func (a *Aggregator) Consensus(symbol string) (schema.CompactSignal, bool) {
	now := a.now()

	a.mu.Lock()
	window := a.evictLocked(a.windows[symbol], now)
	a.windows[symbol] = window
	entries := make([]schema.CompactSignal, len(window))
	copy(entries, window)
	onConsensus := a.onConsensus
	onDisagreement := a.onDisagreement
	a.mu.Unlock()

	if len(entries) < a.cfg.MinSources || distinctSources(entries) < a.cfg.MinSources {
		return schema.CompactSignal{}, false
	}

	if AgreementScore(entries) < a.cfg.ConsensusThreshold {
		if onDisagreement != nil {
			onDisagreement(entries)
		}
		return schema.CompactSignal{}, false
	}

	kept := entries
	if !a.cfg.DisableOutlierDetection {
		if outliers := a.DetectOutliers(entries); len(outliers) > 0 {
			// outlier rejection must never drop below the source minimum
			if survivors := len(entries) - len(outliers); survivors >= a.cfg.MinSources {
				kept = withoutIndices(entries, outliers)
			}
		}
	}

	consensus := buildConsensus(kept, now)
	if onConsensus != nil {
		onConsensus(consensus)
	}
	return consensus, true
}

// AgreementScore returns the fraction of entries whose direction sign matches
// the majority sign.
func AgreementScore(signals []schema.CompactSignal) float64 {
	if len(signals) == 0 {
		return 0
	}
	counts := map[int]int{}
	for _, sig := range signals {
		counts[signum(sig.Direction)]++
	}
	majority := 0
	for _, n := range counts {
		if n > majority {
			majority = n
		}
	}
	return float64(majority) / float64(len(signals))
}

// DetectOutliers returns indices of entries whose direction z-score exceeds
// the configured threshold.
func (a *Aggregator) DetectOutliers(signals []schema.CompactSignal) []int {
	if len(signals) < 3 {
		return nil
	}
	mean, std := directionStats(signals)
	if std == 0 {
		return nil
	}
	var outliers []int
	for i, sig := range signals {
		if math.Abs(float64(sig.Direction)-mean)/std > a.cfg.OutlierZThreshold {
			outliers = append(outliers, i)
		}
	}
	return outliers
}

func (a *Aggregator) evictLocked(window []schema.CompactSignal, nowNs uint64) []schema.CompactSignal {
	kept := window[:0]
	for _, sig := range window {
		if nowNs <= sig.PublishTimestampNs || nowNs-sig.PublishTimestampNs <= a.cfg.WindowNs {
			kept = append(kept, sig)
		}
	}
	return kept
}

func buildConsensus(kept []schema.CompactSignal, nowNs uint64) schema.CompactSignal {
	latest := kept[0]
	var dirSum, magSum, confSum, riskSum, volSum float64
	var platformMask uint8
	var sourceMask uint32
	var priority uint8
	for _, sig := range kept {
		if sig.PublishTimestampNs > latest.PublishTimestampNs {
			latest = sig
		}
		dirSum += float64(sig.Direction)
		magSum += float64(sig.Magnitude)
		confSum += float64(sig.Confidence)
		riskSum += float64(sig.RiskScore)
		volSum += float64(sig.Volatility)
		platformMask |= sig.PlatformMask
		sourceMask |= sig.SourceMask
		if sig.Priority > priority {
			priority = sig.Priority
		}
	}
	n := float64(len(kept))
	direction := int16(math.Round(dirSum / n))

	consensus := latest
	consensus.Direction = direction
	consensus.SignalType = signalTypeOf(direction)
	consensus.Magnitude = int16(math.Round(magSum / n))
	consensus.Confidence = uint8(math.Round(confSum / n))
	consensus.RiskScore = uint16(math.Round(riskSum / n))
	consensus.Volatility = uint16(math.Round(volSum / n))
	consensus.PlatformMask = platformMask
	consensus.SourceMask = sourceMask
	consensus.Priority = priority
	consensus.PublishTimestampNs = nowNs
	consensus.AgeMs = 0
	return codec.WithChecksum(consensus)
}

func withoutIndices(signals []schema.CompactSignal, drop []int) []schema.CompactSignal {
	dropSet := make(map[int]struct{}, len(drop))
	for _, i := range drop {
		dropSet[i] = struct{}{}
	}
	kept := make([]schema.CompactSignal, 0, len(signals)-len(drop))
	for i, sig := range signals {
		if _, ok := dropSet[i]; !ok {
			kept = append(kept, sig)
		}
	}
	return kept
}

func distinctSources(signals []schema.CompactSignal) int {
	var union uint32
	for _, sig := range signals {
		union |= sig.SourceMask
	}
	return schema.SourceCount(union)
}

func directionStats(signals []schema.CompactSignal) (mean, std float64) {
	n := float64(len(signals))
	for _, sig := range signals {
		mean += float64(sig.Direction)
	}
	mean /= n
	var variance float64
	for _, sig := range signals {
		d := float64(sig.Direction) - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / n)
}

func signum(d int16) int {
	switch {
	case d > 0:
		return 1
	case d < 0:
		return -1
	default:
		return 0
	}
}

func signalTypeOf(direction int16) schema.SignalType {
	switch {
	case direction > directionHoldBand:
		return schema.SignalBuy
	case direction < -directionHoldBand:
		return schema.SignalSell
	default:
		return schema.SignalHold
	}
}
