// Package ttl evaluates signal freshness and decayed weight at query time.
package ttl

import (
	"fmt"
	"sync"

	"main/internal/schema"
)

const (
	defaultLambda           = schema.DefaultDecayLambda
	defaultMaxViolationLogs = 1024
)

// Config controls TTL validation behavior.
type Config struct {
	// DecayLambda is the exponential decay rate per millisecond.
	DecayLambda float64
	// StrictMode records freshness failures into the violation log.
	StrictMode bool
	// MaxViolationLogs bounds the in-memory violation log.
	MaxViolationLogs int
}

// DefaultConfig returns a baseline TTL configuration.
func DefaultConfig() Config {
	return Config{
		DecayLambda:      defaultLambda,
		MaxViolationLogs: defaultMaxViolationLogs,
	}
}

func (c Config) withDefaults() Config {
	if c.DecayLambda == 0 {
		c.DecayLambda = defaultLambda
	}
	if c.MaxViolationLogs == 0 {
		c.MaxViolationLogs = defaultMaxViolationLogs
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.DecayLambda < 0 {
		return fmt.Errorf("invalid ttl config: DecayLambda must be >= 0")
	}
	if c.MaxViolationLogs < 0 {
		return fmt.Errorf("invalid ttl config: MaxViolationLogs must be >= 0")
	}
	return nil
}

// Violation is one recorded freshness failure. Audit only, never control flow.
type Violation struct {
	TimestampNs   uint64
	SignalID      uint32
	ObservedAgeMs uint64
	AllowedTTLMs  uint16
}

// Validator answers freshness and decay questions about CompactSignals.
type Validator struct {
	cfg Config

	mu         sync.Mutex
	violations []Violation
}

// NewValidator creates a validator.
func NewValidator(cfg Config) (*Validator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Validator{cfg: cfg}, nil
}

// ValidateFreshness reports whether the signal is within its TTL at nowNs.
// In strict mode failures are appended to the bounded violation log.
func (v *Validator) ValidateFreshness(sig schema.CompactSignal, nowNs uint64) bool {
	if !sig.IsExpired(nowNs) {
		return true
	}
	if v.cfg.StrictMode {
		v.record(sig, nowNs)
	}
	return false
}

// Weight returns the decayed confidence of the signal at nowNs using the
// signal's own decay function. Expired signals always weigh zero.
func (v *Validator) Weight(sig schema.CompactSignal, nowNs uint64) float64 {
	return sig.DecayedConfidence(nowNs, v.cfg.DecayLambda)
}

// ValidateBatch evaluates every signal independently and returns results in
// input order. It never short-circuits on the first stale signal.
func (v *Validator) ValidateBatch(sigs []schema.CompactSignal, nowNs uint64) []bool {
	out := make([]bool, len(sigs))
	for i, sig := range sigs {
		out[i] = v.ValidateFreshness(sig, nowNs)
	}
	return out
}

// Violations returns a copy of the recorded freshness violations.
func (v *Validator) Violations() []Violation {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Violation, len(v.violations))
	copy(out, v.violations)
	return out
}

func (v *Validator) record(sig schema.CompactSignal, nowNs uint64) {
	var ageMs uint64
	if nowNs > sig.PublishTimestampNs {
		ageMs = (nowNs - sig.PublishTimestampNs) / 1_000_000
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.violations) >= v.cfg.MaxViolationLogs {
		// drop the oldest half to keep appends cheap
		keep := v.cfg.MaxViolationLogs / 2
		v.violations = append(v.violations[:0], v.violations[len(v.violations)-keep:]...)
	}
	v.violations = append(v.violations, Violation{
		TimestampNs:   nowNs,
		SignalID:      sig.SignalID,
		ObservedAgeMs: ageMs,
		AllowedTTLMs:  sig.TTLMs,
	})
}
