package schema

// Severity ranks policy violations. Higher values always dominate.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ViolationReasonSize bounds the human-readable reason carried in a result.
const ViolationReasonSize = 64

// PolicyResult is the fixed evaluation outcome returned per order.
type PolicyResult struct {
	Allowed              bool
	Severity             Severity
	ViolatedPolicyCount  uint16
	PrimaryViolationID   uint32
	ViolationReason      [ViolationReasonSize]byte
	EvaluationTimeNs     uint64
	EvaluatedPolicyCount uint32
	Checksum             uint32
}

// NewPolicyResult returns a clean, passing result.
func NewPolicyResult() PolicyResult {
	return PolicyResult{Allowed: true, Severity: SeverityInfo}
}

// SetViolation records a policy violation. Severity only ever escalates; the
// first policy to reach the highest severity seen so far stays the primary
// violation. Allowed tracks severity < ERROR.
func (r *PolicyResult) SetViolation(policyID uint32, severity Severity, reason string) {
	if severity > r.Severity {
		r.Severity = severity
		r.PrimaryViolationID = policyID
		r.ViolationReason = [ViolationReasonSize]byte{}
		copy(r.ViolationReason[:ViolationReasonSize-1], reason)
	}
	r.ViolatedPolicyCount++
	r.Allowed = r.Severity < SeverityError
}

// Reason returns the violation reason with trailing NUL bytes stripped.
func (r PolicyResult) Reason() string {
	n := 0
	for n < len(r.ViolationReason) && r.ViolationReason[n] != 0 {
		n++
	}
	return string(r.ViolationReason[:n])
}

// IsCritical reports whether the result reached CRITICAL severity.
func (r PolicyResult) IsCritical() bool {
	return r.Severity == SeverityCritical
}

// RequiresEscalation reports whether the result blocks execution.
func (r PolicyResult) RequiresEscalation() bool {
	return r.Severity >= SeverityError
}

// OrderDetails describes a proposed order under policy evaluation.
type OrderDetails struct {
	Symbol             string
	Quantity           float64 // positive = buy, negative = sell
	Price              float64 // 0 for market orders
	MaxSlippagePercent float64
	TimestampNs        uint64

	OrderType     string // "MARKET", "LIMIT", "STOP"
	TimeInForce   string // "IOC", "FOK", "GTC"
	Urgent        bool
	ClientOrderID uint32

	OriginatingSignal CompactSignal
	SignalConfidence  float64
	SignalSource      string
}

// MarketContext is the read-only market snapshot supplied per evaluation.
type MarketContext struct {
	Symbol         string
	CurrentPrice   float64
	ReferencePrice float64 // VWAP, last close, etc.
	BidAskSpread   float64
	Volume24h      float64
	Volatility1h   float64
	LiquidityScore float64 // [0,1]
	TimestampNs    uint64

	MarketOpen           bool
	NewsBlackoutPeriod   bool
	HighVolatilityPeriod bool
	LowLiquidityPeriod   bool

	VaREstimate          float64
	CorrelationToMarket  float64
	CircuitBreakerActive bool
}

// PortfolioState is the read-only portfolio snapshot supplied per evaluation.
type PortfolioState struct {
	TotalCapital     float64
	AvailableCapital float64
	UsedMargin       float64
	UnrealizedPnL    float64
	RealizedPnLToday float64

	Positions map[string]float64 // symbol -> quantity
	Exposures map[string]float64 // symbol -> notional value

	PortfolioVaR      float64
	BetaToMarket      float64
	ConcentrationRisk float64
	LeverageRatio     float64

	TradesToday          uint32
	FailedTradesToday    uint32
	LastTradeTimestampNs uint64
}
