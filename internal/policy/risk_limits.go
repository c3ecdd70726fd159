package policy

import (
	"math"

	"main/internal/schema"
)

// RiskLimitsConfig bounds portfolio level risk. Violations are critical:
// breaching these limits means the book itself is unsafe, not just one
// order.
type RiskLimitsConfig struct {
	MaxPortfolioVaRPercent  float64
	MaxDailyLossPercent     float64
	MaxDrawdownPercent      float64
	MaxLeverageRatio        float64
	MaxConcentrationPercent float64
}

// DefaultRiskLimitsConfig returns the baseline portfolio limits.
func DefaultRiskLimitsConfig() RiskLimitsConfig {
	return RiskLimitsConfig{
		MaxPortfolioVaRPercent:  3.0,
		MaxDailyLossPercent:     5.0,
		MaxDrawdownPercent:      10.0,
		MaxLeverageRatio:        3.0,
		MaxConcentrationPercent: 20.0,
	}
}

// NewRiskLimitsPolicy wraps the config into a policy variant.
func NewRiskLimitsPolicy(cfg RiskLimitsConfig) *Policy {
	return &Policy{kind: KindRiskLimits, riskLimits: cfg}
}

func (c *RiskLimitsConfig) evaluate(order schema.OrderDetails, market schema.MarketContext, portfolio schema.PortfolioState, result *schema.PolicyResult) bool {
	if portfolio.TotalCapital <= 0 {
		result.SetViolation(RiskLimitsPolicyID, schema.SeverityCritical, "portfolio has no capital")
		return false
	}

	varPercent := portfolio.PortfolioVaR / portfolio.TotalCapital * 100
	if c.MaxPortfolioVaRPercent > 0 && varPercent > c.MaxPortfolioVaRPercent {
		result.SetViolation(RiskLimitsPolicyID, schema.SeverityCritical, "portfolio VaR exceeds limit")
		return false
	}

	dailyLossPercent := -portfolio.RealizedPnLToday / portfolio.TotalCapital * 100
	if c.MaxDailyLossPercent > 0 && dailyLossPercent > c.MaxDailyLossPercent {
		result.SetViolation(RiskLimitsPolicyID, schema.SeverityCritical, "daily loss limit breached")
		return false
	}

	drawdownPercent := -(portfolio.UnrealizedPnL + portfolio.RealizedPnLToday) / portfolio.TotalCapital * 100
	if c.MaxDrawdownPercent > 0 && drawdownPercent > c.MaxDrawdownPercent {
		result.SetViolation(RiskLimitsPolicyID, schema.SeverityCritical, "drawdown limit breached")
		return false
	}

	if c.MaxLeverageRatio > 0 && portfolio.LeverageRatio > c.MaxLeverageRatio {
		result.SetViolation(RiskLimitsPolicyID, schema.SeverityCritical, "leverage exceeds limit")
		return false
	}

	orderValue := math.Abs(order.Quantity * order.Price)
	concentration := portfolio.ConcentrationRisk + orderValue/portfolio.TotalCapital*100
	if c.MaxConcentrationPercent > 0 && concentration > c.MaxConcentrationPercent {
		result.SetViolation(RiskLimitsPolicyID, schema.SeverityCritical, "position concentration exceeds limit")
		return false
	}

	return true
}

func (c *RiskLimitsConfig) update(params map[string]float64) {
	if v, ok := params["max_portfolio_var_percent"]; ok {
		c.MaxPortfolioVaRPercent = v
	}
	if v, ok := params["max_daily_loss_percent"]; ok {
		c.MaxDailyLossPercent = v
	}
	if v, ok := params["max_drawdown_percent"]; ok {
		c.MaxDrawdownPercent = v
	}
	if v, ok := params["max_leverage_ratio"]; ok {
		c.MaxLeverageRatio = v
	}
	if v, ok := params["max_concentration_percent"]; ok {
		c.MaxConcentrationPercent = v
	}
}

func (c *RiskLimitsConfig) parameters() map[string]float64 {
	return map[string]float64{
		"max_portfolio_var_percent": c.MaxPortfolioVaRPercent,
		"max_daily_loss_percent":    c.MaxDailyLossPercent,
		"max_drawdown_percent":      c.MaxDrawdownPercent,
		"max_leverage_ratio":        c.MaxLeverageRatio,
		"max_concentration_percent": c.MaxConcentrationPercent,
	}
}
