package policy

import (
	"math"

	"main/internal/schema"
)

// PositionSizeConfig bounds order and exposure size relative to capital.
type PositionSizeConfig struct {
	MaxPositionPercent    float64 // % of total capital across a position
	MaxSingleOrderPercent float64 // % of total capital per order
	MaxSymbolExposure     float64 // % of capital in one symbol
}

// DefaultPositionSizeConfig returns the baseline sizing limits.
func DefaultPositionSizeConfig() PositionSizeConfig {
	return PositionSizeConfig{
		MaxPositionPercent:    10.0,
		MaxSingleOrderPercent: 2.0,
		MaxSymbolExposure:     15.0,
	}
}

// NewPositionSizePolicy wraps the config into a policy variant.
func NewPositionSizePolicy(cfg PositionSizeConfig) *Policy {
	return &Policy{kind: KindPositionSize, positionSize: cfg}
}

func (c *PositionSizeConfig) evaluate(order schema.OrderDetails, portfolio schema.PortfolioState, result *schema.PolicyResult) bool {
	if portfolio.TotalCapital <= 0 {
		result.SetViolation(PositionSizePolicyID, schema.SeverityError, "portfolio has no capital")
		return false
	}

	orderValue := math.Abs(order.Quantity * order.Price)
	positionPercent := orderValue / portfolio.TotalCapital * 100

	if positionPercent > c.MaxSingleOrderPercent {
		result.SetViolation(PositionSizePolicyID, schema.SeverityError, "order size exceeds maximum allowed percentage")
		return false
	}

	currentExposure := portfolio.Exposures[order.Symbol]
	newExposure := (currentExposure + orderValue) / portfolio.TotalCapital * 100
	if newExposure > c.MaxSymbolExposure {
		result.SetViolation(PositionSizePolicyID, schema.SeverityError, "symbol exposure would exceed maximum allowed")
		return false
	}

	return true
}

func (c *PositionSizeConfig) update(params map[string]float64) {
	if v, ok := params["max_position_percent"]; ok {
		c.MaxPositionPercent = v
	}
	if v, ok := params["max_single_order_percent"]; ok {
		c.MaxSingleOrderPercent = v
	}
	if v, ok := params["max_symbol_exposure"]; ok {
		c.MaxSymbolExposure = v
	}
}

func (c *PositionSizeConfig) parameters() map[string]float64 {
	return map[string]float64{
		"max_position_percent":     c.MaxPositionPercent,
		"max_single_order_percent": c.MaxSingleOrderPercent,
		"max_symbol_exposure":      c.MaxSymbolExposure,
	}
}
