package policy

import (
	"main/internal/schema"
)

// MarketConditionsConfig blocks trading under adverse market regimes.
type MarketConditionsConfig struct {
	AllowDuringNewsBlackout   bool
	AllowDuringCircuitBreaker bool
	AllowDuringLowLiquidity   bool
	MinLiquidityScore         float64
	MaxVolatilityThreshold    float64 // percent
	BlockEmergencyOrders      bool    // urgent orders bypass by default
	RestrictedSymbols         []string
}

// DefaultMarketConditionsConfig returns the baseline market gates.
func DefaultMarketConditionsConfig() MarketConditionsConfig {
	return MarketConditionsConfig{
		MinLiquidityScore:      0.3,
		MaxVolatilityThreshold: 50.0,
	}
}

// NewMarketConditionsPolicy wraps the config into a policy variant.
func NewMarketConditionsPolicy(cfg MarketConditionsConfig) *Policy {
	return &Policy{kind: KindMarketConditions, marketConditions: cfg}
}

func (c *MarketConditionsConfig) evaluate(order schema.OrderDetails, market schema.MarketContext, result *schema.PolicyResult) bool {
	if c.isRestricted(order.Symbol) {
		result.SetViolation(MarketConditionsPolicyID, schema.SeverityWarning, "symbol is restricted")
		return false
	}

	// urgent orders may bypass regime gates, never the restricted list
	if order.Urgent && !c.BlockEmergencyOrders {
		return true
	}

	if market.NewsBlackoutPeriod && !c.AllowDuringNewsBlackout {
		result.SetViolation(MarketConditionsPolicyID, schema.SeverityWarning, "news blackout period active")
		return false
	}
	if market.CircuitBreakerActive && !c.AllowDuringCircuitBreaker {
		result.SetViolation(MarketConditionsPolicyID, schema.SeverityWarning, "circuit breaker active")
		return false
	}
	if !c.AllowDuringLowLiquidity &&
		(market.LowLiquidityPeriod || market.LiquidityScore < c.MinLiquidityScore) {
		result.SetViolation(MarketConditionsPolicyID, schema.SeverityWarning, "liquidity below minimum")
		return false
	}
	if c.MaxVolatilityThreshold > 0 && market.Volatility1h*100 > c.MaxVolatilityThreshold {
		result.SetViolation(MarketConditionsPolicyID, schema.SeverityWarning, "volatility above ceiling")
		return false
	}

	return true
}

func (c *MarketConditionsConfig) isRestricted(symbol string) bool {
	for _, restricted := range c.RestrictedSymbols {
		if restricted == symbol {
			return true
		}
	}
	return false
}

func (c *MarketConditionsConfig) update(params map[string]float64) {
	if v, ok := params["block_during_news_blackout"]; ok {
		c.AllowDuringNewsBlackout = !boolParam(v)
	}
	if v, ok := params["block_during_circuit_breakers"]; ok {
		c.AllowDuringCircuitBreaker = !boolParam(v)
	}
	if v, ok := params["block_during_low_liquidity"]; ok {
		c.AllowDuringLowLiquidity = !boolParam(v)
	}
	if v, ok := params["min_liquidity_score"]; ok {
		c.MinLiquidityScore = v
	}
	if v, ok := params["max_volatility_threshold"]; ok {
		c.MaxVolatilityThreshold = v
	}
	if v, ok := params["allow_emergency_orders"]; ok {
		c.BlockEmergencyOrders = !boolParam(v)
	}
}

func (c *MarketConditionsConfig) parameters() map[string]float64 {
	return map[string]float64{
		"block_during_news_blackout":    boolValue(!c.AllowDuringNewsBlackout),
		"block_during_circuit_breakers": boolValue(!c.AllowDuringCircuitBreaker),
		"block_during_low_liquidity":    boolValue(!c.AllowDuringLowLiquidity),
		"min_liquidity_score":           c.MinLiquidityScore,
		"max_volatility_threshold":      c.MaxVolatilityThreshold,
		"allow_emergency_orders":        boolValue(!c.BlockEmergencyOrders),
	}
}
