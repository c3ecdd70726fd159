package obs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"main/internal/schema"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()

	m.ObserveEvent(schema.EventHeader{Type: schema.EventSignal, TsEvent: 100, TsRecv: 350})
	m.ObserveEvent(schema.EventHeader{Type: schema.EventSignal})
	m.ObserveEvent(schema.EventHeader{Type: schema.EventPolicyDecision})
	m.IncViolation(schema.SeverityError)
	m.IncViolation(schema.SeverityError)
	m.IncViolation(schema.SeverityCritical)
	m.IncChecksumError()
	m.IncExpiredSignal()
	m.IncQueueDrop()
	m.ObserveCompress(2 * time.Microsecond)
	m.ObservePolicyEval(5 * time.Microsecond)
	m.ObservePolicyEval(3 * time.Microsecond)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.EventCounts[schema.EventSignal])
	assert.Equal(t, uint64(1), snap.EventCounts[schema.EventPolicyDecision])
	assert.Equal(t, uint64(2), snap.ViolationCounts[schema.SeverityError])
	assert.Equal(t, uint64(1), snap.ViolationCounts[schema.SeverityCritical])
	assert.Equal(t, uint64(1), snap.ChecksumErrors)
	assert.Equal(t, uint64(1), snap.ExpiredSignals)
	assert.Equal(t, uint64(1), snap.QueueDrops)

	assert.Equal(t, uint64(1), snap.EventLatency.Count)
	assert.Equal(t, 250*time.Nanosecond, snap.EventLatency.Avg)

	assert.Equal(t, uint64(2), snap.PolicyEvalLatency.Count)
	assert.Equal(t, 3*time.Microsecond, snap.PolicyEvalLatency.Min)
	assert.Equal(t, 5*time.Microsecond, snap.PolicyEvalLatency.Max)
	assert.Equal(t, 4*time.Microsecond, snap.PolicyEvalLatency.Avg)
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveEvent(schema.EventHeader{Type: schema.EventSignal})
	m.IncViolation(schema.SeverityError)
	m.IncQueueDrop()
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestTraceGeneratorMonotonic(t *testing.T) {
	g := NewTraceGenerator(7)
	first := g.Next()
	assert.Equal(t, uint64(8), first)
	assert.Equal(t, first+1, g.Next())

	var nilGen *TraceGenerator
	assert.Zero(t, nilGen.Next())
}
