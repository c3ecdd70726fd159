// Package policy implements the pre-trade risk controls that gate every
// order regardless of what the signal pipeline produces. Policies are a
// closed set evaluated inline, without interface dispatch, so the hot path
// stays branch-predictable.
package policy

import (
	"main/internal/schema"
)

// Reserved policy id for engine-level violations (emergency stop,
// evaluation budget).
const EnginePolicyID uint32 = 0

// Policy ids, stable across configuration changes.
const (
	PositionSizePolicyID     uint32 = 1001
	PriceDeviationPolicyID   uint32 = 1002
	TradingFrequencyPolicyID uint32 = 1003
	RiskLimitsPolicyID       uint32 = 1004
	MarketConditionsPolicyID uint32 = 1005
)

// Kind tags the policy variant.
type Kind uint8

const (
	KindPositionSize Kind = iota
	KindPriceDeviation
	KindTradingFrequency
	KindRiskLimits
	KindMarketConditions
)

// Policy is a tagged variant over the five supported policy kinds. Exactly
// one config is active, selected by kind.
type Policy struct {
	kind Kind

	positionSize     PositionSizeConfig
	priceDeviation   PriceDeviationConfig
	frequency        *frequencyState
	riskLimits       RiskLimitsConfig
	marketConditions MarketConditionsConfig
}

// Kind returns the policy variant tag.
func (p *Policy) Kind() Kind {
	return p.kind
}

// ID returns the stable policy id.
func (p *Policy) ID() uint32 {
	switch p.kind {
	case KindPositionSize:
		return PositionSizePolicyID
	case KindPriceDeviation:
		return PriceDeviationPolicyID
	case KindTradingFrequency:
		return TradingFrequencyPolicyID
	case KindRiskLimits:
		return RiskLimitsPolicyID
	default:
		return MarketConditionsPolicyID
	}
}

// Name returns the policy name used in logs and audit output.
func (p *Policy) Name() string {
	switch p.kind {
	case KindPositionSize:
		return "PositionSizePolicy"
	case KindPriceDeviation:
		return "PriceDeviationPolicy"
	case KindTradingFrequency:
		return "TradingFrequencyPolicy"
	case KindRiskLimits:
		return "RiskLimitsPolicy"
	default:
		return "MarketConditionsPolicy"
	}
}

// DefaultSeverity returns the severity this policy reports on violation.
func (p *Policy) DefaultSeverity() schema.Severity {
	switch p.kind {
	case KindPositionSize, KindPriceDeviation:
		return schema.SeverityError
	case KindRiskLimits:
		return schema.SeverityCritical
	default:
		return schema.SeverityWarning
	}
}

// Description returns a one-line summary for audit and ops output.
func (p *Policy) Description() string {
	switch p.kind {
	case KindPositionSize:
		return "Enforces maximum position sizes and symbol exposure limits"
	case KindPriceDeviation:
		return "Prevents fat finger trades by limiting price deviation from reference"
	case KindTradingFrequency:
		return "Limits order rates globally, per symbol and per day"
	case KindRiskLimits:
		return "Enforces portfolio level risk limits"
	default:
		return "Blocks trading under adverse market conditions"
	}
}

// evaluate runs the active variant and returns false when it recorded a
// violation. The caller holds the engine read lock; only the frequency
// variant carries internal mutable state and it synchronizes itself.
func (p *Policy) evaluate(order schema.OrderDetails, market schema.MarketContext, portfolio schema.PortfolioState, result *schema.PolicyResult) bool {
	switch p.kind {
	case KindPositionSize:
		return p.positionSize.evaluate(order, portfolio, result)
	case KindPriceDeviation:
		return p.priceDeviation.evaluate(order, market, result)
	case KindTradingFrequency:
		return p.frequency.evaluate(order, portfolio, result)
	case KindRiskLimits:
		return p.riskLimits.evaluate(order, market, portfolio, result)
	default:
		return p.marketConditions.evaluate(order, market, result)
	}
}

// UpdateParameters applies a partial parameter map to the active variant.
// Unknown keys are ignored. Concurrent use during evaluation must go
// through the engine, which serializes updates against the policy walk.
func (p *Policy) UpdateParameters(params map[string]float64) {
	switch p.kind {
	case KindPositionSize:
		p.positionSize.update(params)
	case KindPriceDeviation:
		p.priceDeviation.update(params)
	case KindTradingFrequency:
		p.frequency.update(params)
	case KindRiskLimits:
		p.riskLimits.update(params)
	default:
		p.marketConditions.update(params)
	}
}

// Parameters returns the active variant's numeric parameters.
func (p *Policy) Parameters() map[string]float64 {
	switch p.kind {
	case KindPositionSize:
		return p.positionSize.parameters()
	case KindPriceDeviation:
		return p.priceDeviation.parameters()
	case KindTradingFrequency:
		return p.frequency.parameters()
	case KindRiskLimits:
		return p.riskLimits.parameters()
	default:
		return p.marketConditions.parameters()
	}
}

func boolParam(v float64) bool {
	return v != 0
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
