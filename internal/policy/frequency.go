package policy

import (
	"sync"

	"main/internal/schema"
)

// TradingFrequencyConfig bounds order submission rates.
type TradingFrequencyConfig struct {
	MaxOrdersPerSecond          uint32
	MaxOrdersPerMinute          uint32
	MaxOrdersPerSymbolPerMinute uint32
	MaxDailyTrades              uint32
	DisableCoolingPeriod        bool
	MinTimeBetweenOrdersNs      uint64
}

// DefaultTradingFrequencyConfig returns the baseline rate limits.
func DefaultTradingFrequencyConfig() TradingFrequencyConfig {
	return TradingFrequencyConfig{
		MaxOrdersPerSecond:          100,
		MaxOrdersPerMinute:          1000,
		MaxOrdersPerSymbolPerMinute: 50,
		MaxDailyTrades:              10000,
		MinTimeBetweenOrdersNs:      1_000_000,
	}
}

// NewTradingFrequencyPolicy wraps the config into a policy variant.
func NewTradingFrequencyPolicy(cfg TradingFrequencyConfig) *Policy {
	return &Policy{kind: KindTradingFrequency, frequency: &frequencyState{
		cfg:      cfg,
		bySymbol: make(map[string]*rateTracker),
	}}
}

// rateTracker is a ring of one-second buckets covering the last minute.
// Each slot remembers the second it counts for, so stale slots are reset
// lazily instead of on a timer.
type rateTracker struct {
	buckets     [60]uint32
	stamps      [60]uint64
	dailyCount  uint32
	day         uint64
	lastOrderNs uint64
}

func (t *rateTracker) roll(nowSec uint64) {
	idx := nowSec % 60
	if t.stamps[idx] != nowSec {
		t.stamps[idx] = nowSec
		t.buckets[idx] = 0
	}
	if day := nowSec / 86400; day != t.day {
		t.day = day
		t.dailyCount = 0
	}
}

// rate sums the buckets stamped within the trailing window of seconds.
func (t *rateTracker) rate(nowSec, windowSec uint64) uint32 {
	var sum uint32
	for i := range t.buckets {
		if t.stamps[i] <= nowSec && t.stamps[i]+windowSec > nowSec {
			sum += t.buckets[i]
		}
	}
	return sum
}

func (t *rateTracker) record(nowSec, nowNs uint64) {
	t.buckets[nowSec%60]++
	t.dailyCount++
	t.lastOrderNs = nowNs
}

// frequencyState is the one policy variant with mutable state. The engine
// evaluates under a read lock, so the trackers synchronize themselves.
type frequencyState struct {
	mu       sync.Mutex
	cfg      TradingFrequencyConfig
	global   rateTracker
	bySymbol map[string]*rateTracker
}

func (s *frequencyState) evaluate(order schema.OrderDetails, _ schema.PortfolioState, result *schema.PolicyResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowNs := order.TimestampNs
	nowSec := nowNs / 1_000_000_000

	s.global.roll(nowSec)
	symbol := s.bySymbol[order.Symbol]
	if symbol == nil {
		symbol = &rateTracker{}
		s.bySymbol[order.Symbol] = symbol
	}
	symbol.roll(nowSec)

	if !s.cfg.DisableCoolingPeriod && s.global.lastOrderNs != 0 &&
		nowNs >= s.global.lastOrderNs && nowNs-s.global.lastOrderNs < s.cfg.MinTimeBetweenOrdersNs {
		result.SetViolation(TradingFrequencyPolicyID, schema.SeverityWarning, "orders spaced below minimum interval")
		return false
	}
	if s.cfg.MaxOrdersPerSecond > 0 && s.global.rate(nowSec, 1)+1 > s.cfg.MaxOrdersPerSecond {
		result.SetViolation(TradingFrequencyPolicyID, schema.SeverityWarning, "global per-second order rate exceeded")
		return false
	}
	if s.cfg.MaxOrdersPerMinute > 0 && s.global.rate(nowSec, 60)+1 > s.cfg.MaxOrdersPerMinute {
		result.SetViolation(TradingFrequencyPolicyID, schema.SeverityWarning, "global per-minute order rate exceeded")
		return false
	}
	if s.cfg.MaxOrdersPerSymbolPerMinute > 0 && symbol.rate(nowSec, 60)+1 > s.cfg.MaxOrdersPerSymbolPerMinute {
		result.SetViolation(TradingFrequencyPolicyID, schema.SeverityWarning, "per-symbol order rate exceeded")
		return false
	}
	if s.cfg.MaxDailyTrades > 0 && s.global.dailyCount+1 > s.cfg.MaxDailyTrades {
		result.SetViolation(TradingFrequencyPolicyID, schema.SeverityWarning, "daily trade cap reached")
		return false
	}

	// rejected orders never count against the budgets
	s.global.record(nowSec, nowNs)
	symbol.record(nowSec, nowNs)
	return true
}

func (s *frequencyState) update(params map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := params["max_orders_per_second"]; ok {
		s.cfg.MaxOrdersPerSecond = uint32(v)
	}
	if v, ok := params["max_orders_per_minute"]; ok {
		s.cfg.MaxOrdersPerMinute = uint32(v)
	}
	if v, ok := params["max_orders_per_symbol_per_minute"]; ok {
		s.cfg.MaxOrdersPerSymbolPerMinute = uint32(v)
	}
	if v, ok := params["max_daily_trades"]; ok {
		s.cfg.MaxDailyTrades = uint32(v)
	}
	if v, ok := params["min_time_between_orders_ns"]; ok {
		s.cfg.MinTimeBetweenOrdersNs = uint64(v)
	}
	if v, ok := params["enforce_cooling_period"]; ok {
		s.cfg.DisableCoolingPeriod = !boolParam(v)
	}
}

func (s *frequencyState) parameters() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]float64{
		"max_orders_per_second":            float64(s.cfg.MaxOrdersPerSecond),
		"max_orders_per_minute":            float64(s.cfg.MaxOrdersPerMinute),
		"max_orders_per_symbol_per_minute": float64(s.cfg.MaxOrdersPerSymbolPerMinute),
		"max_daily_trades":                 float64(s.cfg.MaxDailyTrades),
		"min_time_between_orders_ns":       float64(s.cfg.MinTimeBetweenOrdersNs),
		"enforce_cooling_period":           boolValue(!s.cfg.DisableCoolingPeriod),
	}
}
