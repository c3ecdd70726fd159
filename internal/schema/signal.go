package schema

import "math"

// SignalType describes the trading action implied by a signal.
type SignalType uint8

const (
	SignalHold SignalType = iota
	SignalBuy
	SignalSell
)

// DecayFunction selects how confidence decays with signal age.
type DecayFunction uint8

const (
	DecayExponential DecayFunction = iota
	DecayLinear
	DecayStep
)

// DefaultDecayLambda is the exponential decay rate per millisecond.
const DefaultDecayLambda = 0.001

// CompactSignal is the fixed 64-byte trading signal record. It is the only
// representation that crosses component boundaries and is always passed by
// value. The binary layout is defined by codec.EncodeCompactSignal.
type CompactSignal struct {
	SignalID     uint32
	SignalType   SignalType
	Confidence   uint8 // calibrated probability quantized onto [0,255]
	Priority     uint8
	PlatformMask uint8

	PublishTimestampNs uint64
	TTLMs              uint16
	AgeMs              uint16 // source-to-publish latency, never used for expiry
	ReservedTiming     uint32

	Direction  int16  // scaled [-1000,1000]
	Magnitude  int16  // scaled [0,1000]
	RiskScore  uint16
	Volatility uint16

	TokenSymbol [8]byte
	TokenHash   uint64

	SourceMask    uint32
	ModelVersion  uint16
	DecayFunction DecayFunction
	Reserved1     uint8
	Checksum      uint32
	Reserved2     uint32
}

// Symbol returns the token symbol with trailing NUL bytes stripped.
func (s CompactSignal) Symbol() string {
	n := 0
	for n < len(s.TokenSymbol) && s.TokenSymbol[n] != 0 {
		n++
	}
	return string(s.TokenSymbol[:n])
}

// SetSymbol writes the symbol into the fixed 8-byte field, truncating if
// needed. Unused bytes are zeroed.
func (s *CompactSignal) SetSymbol(symbol string) {
	s.TokenSymbol = [8]byte{}
	copy(s.TokenSymbol[:], symbol)
}

// ageMsAt returns the publish-relative age in milliseconds, saturated at 0
// for clocks behind the publish timestamp.
func (s CompactSignal) ageMsAt(nowNs uint64) float64 {
	if nowNs <= s.PublishTimestampNs {
		return 0
	}
	return float64(nowNs-s.PublishTimestampNs) / 1e6
}

// IsExpired reports whether the signal's TTL has lapsed at the given time.
// Expiry depends only on PublishTimestampNs and TTLMs, not on AgeMs.
func (s CompactSignal) IsExpired(nowNs uint64) bool {
	return s.ageMsAt(nowNs) > float64(s.TTLMs)
}

// DecayedConfidence returns the confidence in [0,1] after applying the
// signal's decay function at the given time. Expired signals weigh zero
// regardless of decay function.
func (s CompactSignal) DecayedConfidence(nowNs uint64, lambda float64) float64 {
	if s.IsExpired(nowNs) {
		return 0
	}
	ageMs := s.ageMsAt(nowNs)
	base := float64(s.Confidence) / 255.0
	switch s.DecayFunction {
	case DecayExponential:
		return base * math.Exp(-lambda*ageMs)
	case DecayLinear:
		if s.TTLMs == 0 {
			return 0
		}
		remain := 1 - ageMs/float64(s.TTLMs)
		if remain < 0 {
			remain = 0
		}
		return base * remain
	case DecayStep:
		return base
	default:
		return 0
	}
}

// IsFresh reports whether the source-to-publish latency recorded at compression
// time is within maxAgeNs. This is the observational notion of age and is
// independent of TTL expiry.
func (s CompactSignal) IsFresh(nowNs, maxAgeNs uint64) bool {
	ageNs := uint64(s.AgeMs) * 1_000_000
	return ageNs <= maxAgeNs && s.PublishTimestampNs <= nowNs
}

// SignalInput is the rich producer record before compression. It exists only
// transiently; the compressor quantizes it into a CompactSignal.
type SignalInput struct {
	SignalID     string
	TokenAddress string
	TokenSymbol  string

	SentimentText   string
	SentimentScore  float64 // [-1,1]
	ConfidenceScore float64 // [0,1]
	Reasoning       string

	TechnicalIndicators []Indicator

	RiskScore   float64 // [0,1]
	RiskFactors []string

	VolatilityEstimate float64
	LiquidityScore     float64
	MomentumScore      float64

	DataSources    []string
	NewsHeadlines  []string
	SocialMentions []string

	SourceTimestampNs uint64
	ProcessingStartNs uint64
	ProcessingEndNs   uint64

	Urgent bool

	ModelName    string
	ModelVersion string
	ModelParams  map[string]string
}

// Indicator is a named technical indicator value.
type Indicator struct {
	Name  string
	Value float64
}
