package obs

import (
	"sync/atomic"
	"time"
)

// TraceGenerator issues monotonically increasing trace IDs so a signal can be
// followed from ingestion through distribution and the policy gate.
type TraceGenerator struct {
	next uint64
}

// NewTraceGenerator returns a generator seeded with the given value. A zero
// seed falls back to the current wall clock so IDs stay distinct across
// restarts.
func NewTraceGenerator(seed uint64) *TraceGenerator {
	if seed == 0 {
		seed = uint64(time.Now().UTC().UnixNano())
	}
	return &TraceGenerator{next: seed}
}

// Next returns the next trace ID. Safe to call on a nil generator.
func (g *TraceGenerator) Next() uint64 {
	if g == nil {
		return 0
	}
	return atomic.AddUint64(&g.next, 1)
}
