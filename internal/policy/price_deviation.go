package policy

import (
	"math"

	"main/internal/schema"
)

// ReferencePriceType selects the anchor for deviation checks.
type ReferencePriceType string

const (
	ReferenceLast ReferencePriceType = "LAST"
	ReferenceVWAP ReferencePriceType = "VWAP"
	ReferenceMid  ReferencePriceType = "MID"
)

// PriceDeviationConfig guards against fat finger orders priced far from
// the market.
type PriceDeviationConfig struct {
	MaxDeviationPercent  float64
	VolatilityMultiplier float64 // widens the band in volatile markets
	StaticThresholds     bool    // skip volatility scaling
	ReferencePriceType   ReferencePriceType
}

// DefaultPriceDeviationConfig returns the baseline deviation limits.
func DefaultPriceDeviationConfig() PriceDeviationConfig {
	return PriceDeviationConfig{
		MaxDeviationPercent:  5.0,
		VolatilityMultiplier: 3.0,
		ReferencePriceType:   ReferenceVWAP,
	}
}

// NewPriceDeviationPolicy wraps the config into a policy variant.
func NewPriceDeviationPolicy(cfg PriceDeviationConfig) *Policy {
	if cfg.ReferencePriceType == "" {
		cfg.ReferencePriceType = ReferenceVWAP
	}
	return &Policy{kind: KindPriceDeviation, priceDeviation: cfg}
}

func (c *PriceDeviationConfig) evaluate(order schema.OrderDetails, market schema.MarketContext, result *schema.PolicyResult) bool {
	// market orders carry no price to check
	if order.Price == 0 {
		return true
	}

	reference := c.referencePrice(market)
	if reference <= 0 {
		return true
	}

	deviation := math.Abs(order.Price-reference) / reference * 100
	if deviation > c.maxDeviation(market) {
		result.SetViolation(PriceDeviationPolicyID, schema.SeverityError, "order price deviates too much from reference price")
		return false
	}
	return true
}

func (c *PriceDeviationConfig) referencePrice(market schema.MarketContext) float64 {
	switch c.ReferencePriceType {
	case ReferenceLast:
		return market.CurrentPrice
	case ReferenceVWAP:
		return market.ReferencePrice
	default:
		return market.CurrentPrice
	}
}

func (c *PriceDeviationConfig) maxDeviation(market schema.MarketContext) float64 {
	deviation := c.MaxDeviationPercent
	if !c.StaticThresholds {
		deviation *= 1 + market.Volatility1h*c.VolatilityMultiplier
	}
	return deviation
}

func (c *PriceDeviationConfig) update(params map[string]float64) {
	if v, ok := params["max_deviation_percent"]; ok {
		c.MaxDeviationPercent = v
	}
	if v, ok := params["volatility_multiplier"]; ok {
		c.VolatilityMultiplier = v
	}
	if v, ok := params["use_dynamic_thresholds"]; ok {
		c.StaticThresholds = !boolParam(v)
	}
}

func (c *PriceDeviationConfig) parameters() map[string]float64 {
	return map[string]float64{
		"max_deviation_percent":  c.MaxDeviationPercent,
		"volatility_multiplier":  c.VolatilityMultiplier,
		"use_dynamic_thresholds": boolValue(!c.StaticThresholds),
	}
}
