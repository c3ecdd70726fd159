package policy

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/codec"
	"main/internal/schema"
	"main/pkg/exception"
)

const (
	defaultMaxEvaluationTimeNs = 100_000 // 100us budget per order

	auditTrailCap  = 10000
	auditTrailTrim = 1000
)

// EngineConfig controls evaluation behavior.
type EngineConfig struct {
	// DisableEarlyTermination keeps evaluating after a critical violation.
	DisableEarlyTermination bool

	// MaxEvaluationTimeNs is the cooperative per-order budget. Breaching
	// it records a warning violation and stops the walk, it does not deny
	// the order on its own.
	MaxEvaluationTimeNs uint64

	// EnableAudit turns the in-memory audit trail on at construction.
	// It can be toggled at runtime as well.
	EnableAudit bool
}

// DefaultEngineConfig returns the baseline engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{MaxEvaluationTimeNs: defaultMaxEvaluationTimeNs}
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.MaxEvaluationTimeNs == 0 {
		c.MaxEvaluationTimeNs = defaultMaxEvaluationTimeNs
	}
	return c
}

// Validate checks if the configuration is usable.
func (c EngineConfig) Validate() error {
	if c.MaxEvaluationTimeNs == 0 {
		return fmt.Errorf("invalid policy config: MaxEvaluationTimeNs must be > 0")
	}
	return nil
}

// Metrics is a snapshot of cumulative engine counters.
type Metrics struct {
	EvaluationsTotal    uint64
	EvaluationsPassed   uint64
	EvaluationsFailed   uint64
	AvgEvaluationTimeNs uint64
	MaxEvaluationTimeNs uint64
	TimeoutCount        uint64
	EmergencyStops      uint64
}

// PolicyStats is a per-policy counter snapshot.
type PolicyStats struct {
	Evaluations uint64
	Violations  uint64
	MaxSeverity schema.Severity
}

type policyStats struct {
	evaluations atomic.Uint64
	violations  atomic.Uint64
	maxSeverity atomic.Uint32
}

// AuditEntry records one evaluated order.
type AuditEntry struct {
	TimestampNs       uint64
	OrderID           uint32
	Symbol            string
	Result            schema.PolicyResult
	EvaluatedPolicies []uint32
}

type registered struct {
	policy  *Policy
	enabled atomic.Bool
	stats   policyStats
}

// Engine evaluates orders against the registered policy set. Registration
// order is preserved: policies run in the order they were added.
type Engine struct {
	cfg EngineConfig

	mu      sync.RWMutex
	ordered []*registered
	byID    map[uint32]*registered
	stopped atomic.Bool
	auditOn atomic.Bool
	auditMu sync.Mutex
	audit   []AuditEntry

	evaluationsTotal  atomic.Uint64
	evaluationsPassed atomic.Uint64
	evaluationsFailed atomic.Uint64
	avgEvalTimeNs     atomic.Uint64
	maxEvalTimeNs     atomic.Uint64
	timeoutCount      atomic.Uint64
	emergencyStops    atomic.Uint64

	now func() uint64
}

// NewEngine creates a policy engine with no policies registered.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:  cfg,
		byID: make(map[uint32]*registered),
		now:  func() uint64 { return uint64(time.Now().UnixNano()) },
	}
	e.auditOn.Store(cfg.EnableAudit)
	return e, nil
}

// AddPolicy registers a policy. Each policy id may be registered once.
func (e *Engine) AddPolicy(p *Policy) error {
	if p == nil {
		return errors.Wrap(exception.ErrNilInstance, "add policy")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[p.ID()]; ok {
		return errors.Wrapf(exception.ErrPolicyDuplicateID, "add policy %d", p.ID())
	}
	reg := &registered{policy: p}
	reg.enabled.Store(true)
	e.ordered = append(e.ordered, reg)
	e.byID[p.ID()] = reg
	logs.Infof("policy registered: %s (%d)", p.Name(), p.ID())
	return nil
}

// RemovePolicy unregisters a policy by id.
func (e *Engine) RemovePolicy(policyID uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	reg, ok := e.byID[policyID]
	if !ok {
		return errors.Wrapf(exception.ErrPolicyUnknownID, "remove policy %d", policyID)
	}
	delete(e.byID, policyID)
	for i, r := range e.ordered {
		if r == reg {
			e.ordered = append(e.ordered[:i], e.ordered[i+1:]...)
			break
		}
	}
	logs.Infof("policy removed: %d", policyID)
	return nil
}

// EnablePolicy toggles a registered policy without removing it.
func (e *Engine) EnablePolicy(policyID uint32, enabled bool) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	reg, ok := e.byID[policyID]
	if !ok {
		return errors.Wrapf(exception.ErrPolicyUnknownID, "enable policy %d", policyID)
	}
	reg.enabled.Store(enabled)
	return nil
}

// UpdatePolicyParameters hot-swaps a policy's numeric parameters without
// reconstructing it.
func (e *Engine) UpdatePolicyParameters(policyID uint32, params map[string]float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	reg, ok := e.byID[policyID]
	if !ok {
		return errors.Wrapf(exception.ErrPolicyUnknownID, "update policy %d", policyID)
	}
	reg.policy.UpdateParameters(params)
	return nil
}

// PolicyParameters returns the current parameters of a registered policy.
func (e *Engine) PolicyParameters(policyID uint32) (map[string]float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	reg, ok := e.byID[policyID]
	if !ok {
		return nil, errors.Wrapf(exception.ErrPolicyUnknownID, "policy %d", policyID)
	}
	return reg.policy.Parameters(), nil
}

// EvaluateOrder runs the enabled policies against one order. With zero
// enabled policies the order is allowed at INFO severity.
func (e *Engine) EvaluateOrder(order schema.OrderDetails, market schema.MarketContext, portfolio schema.PortfolioState) schema.PolicyResult {
	start := e.now()
	result := schema.NewPolicyResult()

	if e.stopped.Load() {
		result.SetViolation(EnginePolicyID, schema.SeverityCritical, "emergency stop active")
		return e.finish(order, start, result, nil)
	}

	// The read lock is held across the whole walk so parameter updates,
	// which take the write lock, never interleave with an evaluation.
	e.mu.RLock()
	evaluated := make([]uint32, 0, len(e.ordered))
	for _, reg := range e.ordered {
		if !reg.enabled.Load() {
			continue
		}
		result.EvaluatedPolicyCount++
		evaluated = append(evaluated, reg.policy.ID())

		before := result.ViolatedPolicyCount
		passed := reg.policy.evaluate(order, market, portfolio, &result)
		reg.stats.evaluations.Add(1)
		if !passed {
			reg.stats.violations.Add(uint64(result.ViolatedPolicyCount - before))
			if sev := uint32(reg.policy.DefaultSeverity()); sev > reg.stats.maxSeverity.Load() {
				reg.stats.maxSeverity.Store(sev)
			}
			if !e.cfg.DisableEarlyTermination && result.Severity >= schema.SeverityCritical {
				break
			}
		}

		if e.now()-start > e.cfg.MaxEvaluationTimeNs {
			e.timeoutCount.Add(1)
			result.SetViolation(EnginePolicyID, schema.SeverityWarning, "evaluation budget exceeded")
			break
		}
	}
	e.mu.RUnlock()

	return e.finish(order, start, result, evaluated)
}

// EvaluateOrders evaluates a batch against one market and portfolio
// snapshot, returning results in order.
func (e *Engine) EvaluateOrders(orders []schema.OrderDetails, market schema.MarketContext, portfolio schema.PortfolioState) []schema.PolicyResult {
	results := make([]schema.PolicyResult, len(orders))
	for i, order := range orders {
		results[i] = e.EvaluateOrder(order, market, portfolio)
	}
	return results
}

// finish stamps timing, seals the result, updates counters and audits.
func (e *Engine) finish(order schema.OrderDetails, start uint64, result schema.PolicyResult, evaluated []uint32) schema.PolicyResult {
	elapsed := e.now() - start
	result.EvaluationTimeNs = elapsed
	result = codec.SealPolicyResult(result)

	e.evaluationsTotal.Add(1)
	if result.Allowed {
		e.evaluationsPassed.Add(1)
	} else {
		e.evaluationsFailed.Add(1)
	}
	avg := e.avgEvalTimeNs.Load()
	e.avgEvalTimeNs.Store((avg*63 + elapsed) / 64)
	for {
		cur := e.maxEvalTimeNs.Load()
		if elapsed <= cur || e.maxEvalTimeNs.CompareAndSwap(cur, elapsed) {
			break
		}
	}

	if e.auditOn.Load() {
		e.appendAudit(AuditEntry{
			TimestampNs:       e.now(),
			OrderID:           order.ClientOrderID,
			Symbol:            order.Symbol,
			Result:            result,
			EvaluatedPolicies: evaluated,
		})
	}
	return result
}

func (e *Engine) appendAudit(entry AuditEntry) {
	e.auditMu.Lock()
	defer e.auditMu.Unlock()
	e.audit = append(e.audit, entry)
	if len(e.audit) > auditTrailCap {
		e.audit = append(e.audit[:0], e.audit[auditTrailTrim:]...)
	}
}

// EmergencyStopAll denies all orders until the stop is reset.
func (e *Engine) EmergencyStopAll() {
	if e.stopped.CompareAndSwap(false, true) {
		e.emergencyStops.Add(1)
		logs.Errorf("policy engine: emergency stop activated")
	}
}

// ResetEmergencyStop resumes normal evaluation.
func (e *Engine) ResetEmergencyStop() {
	if e.stopped.CompareAndSwap(true, false) {
		logs.Info("policy engine: emergency stop reset")
	}
}

// IsEmergencyStopped reports the stop state.
func (e *Engine) IsEmergencyStopped() bool {
	return e.stopped.Load()
}

// EnableAuditLogging toggles the audit trail at runtime.
func (e *Engine) EnableAuditLogging(enabled bool) {
	e.auditOn.Store(enabled)
}

// AuditTrail returns entries stamped at or after sinceNs.
func (e *Engine) AuditTrail(sinceNs uint64) []AuditEntry {
	e.auditMu.Lock()
	defer e.auditMu.Unlock()
	out := make([]AuditEntry, 0, len(e.audit))
	for _, entry := range e.audit {
		if entry.TimestampNs >= sinceNs {
			out = append(out, entry)
		}
	}
	return out
}

// ClearAuditTrail drops all audit entries.
func (e *Engine) ClearAuditTrail() {
	e.auditMu.Lock()
	defer e.auditMu.Unlock()
	e.audit = nil
}

// Metrics returns a snapshot of the engine counters.
func (e *Engine) Metrics() Metrics {
	return Metrics{
		EvaluationsTotal:    e.evaluationsTotal.Load(),
		EvaluationsPassed:   e.evaluationsPassed.Load(),
		EvaluationsFailed:   e.evaluationsFailed.Load(),
		AvgEvaluationTimeNs: e.avgEvalTimeNs.Load(),
		MaxEvaluationTimeNs: e.maxEvalTimeNs.Load(),
		TimeoutCount:        e.timeoutCount.Load(),
		EmergencyStops:      e.emergencyStops.Load(),
	}
}

// ResetMetrics zeroes the engine counters.
func (e *Engine) ResetMetrics() {
	e.evaluationsTotal.Store(0)
	e.evaluationsPassed.Store(0)
	e.evaluationsFailed.Store(0)
	e.avgEvalTimeNs.Store(0)
	e.maxEvalTimeNs.Store(0)
	e.timeoutCount.Store(0)
	e.emergencyStops.Store(0)
}

// PolicyStatistics returns per-policy counters keyed by policy id.
func (e *Engine) PolicyStatistics() map[uint32]PolicyStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stats := make(map[uint32]PolicyStats, len(e.ordered))
	for _, reg := range e.ordered {
		stats[reg.policy.ID()] = PolicyStats{
			Evaluations: reg.stats.evaluations.Load(),
			Violations:  reg.stats.violations.Load(),
			MaxSeverity: schema.Severity(reg.stats.maxSeverity.Load()),
		}
	}
	return stats
}
