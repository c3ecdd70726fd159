package obs

import (
	"sync/atomic"
	"time"

	"main/internal/schema"
)

const (
	maxEventType = int(schema.EventAudit)
	maxSeverity  = int(schema.SeverityCritical)
)

// Metrics collects lightweight counters and latency stats for the signal
// pipeline.
type Metrics struct {
	eventCounts     [maxEventType + 1]uint64
	violationCounts [maxSeverity + 1]uint64
	checksumErrors  uint64
	expiredSignals  uint64
	queueDrops      uint64
	queueClosed     uint64

	eventLatency      LatencyStats
	compressLatency   LatencyStats
	policyEvalLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts       map[schema.EventType]uint64
	ViolationCounts   map[schema.Severity]uint64
	ChecksumErrors    uint64
	ExpiredSignals    uint64
	QueueDrops        uint64
	QueueClosed       uint64
	EventLatency      LatencySnapshot
	CompressLatency   LatencySnapshot
	PolicyEvalLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent increments counters and tracks event latency when timestamps are present.
func (m *Metrics) ObserveEvent(header schema.EventHeader) {
	if m == nil {
		return
	}
	idx := int(header.Type)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
	if header.TsEvent > 0 && header.TsRecv > 0 {
		delta := header.TsRecv - header.TsEvent
		if delta >= 0 {
			m.eventLatency.Observe(time.Duration(delta))
		}
	}
}

// IncViolation counts a policy violation by its severity.
func (m *Metrics) IncViolation(severity schema.Severity) {
	if m == nil {
		return
	}
	idx := int(severity)
	if idx >= 0 && idx < len(m.violationCounts) {
		atomic.AddUint64(&m.violationCounts[idx], 1)
	}
}

// IncChecksumError records a failed signal integrity check.
func (m *Metrics) IncChecksumError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.checksumErrors, 1)
}

// IncExpiredSignal records a signal rejected for staleness.
func (m *Metrics) IncExpiredSignal() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.expiredSignals, 1)
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records a closed-queue publish attempt.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// ObserveCompress measures signal compression latency.
func (m *Metrics) ObserveCompress(d time.Duration) {
	if m == nil {
		return
	}
	m.compressLatency.Observe(d)
}

// ObservePolicyEval measures policy evaluation latency.
func (m *Metrics) ObservePolicyEval(d time.Duration) {
	if m == nil {
		return
	}
	m.policyEvalLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[schema.EventType]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[schema.EventType(i)] = v
		}
	}
	violationCounts := make(map[schema.Severity]uint64)
	for i := range m.violationCounts {
		if v := atomic.LoadUint64(&m.violationCounts[i]); v > 0 {
			violationCounts[schema.Severity(i)] = v
		}
	}
	return Snapshot{
		EventCounts:       eventCounts,
		ViolationCounts:   violationCounts,
		ChecksumErrors:    atomic.LoadUint64(&m.checksumErrors),
		ExpiredSignals:    atomic.LoadUint64(&m.expiredSignals),
		QueueDrops:        atomic.LoadUint64(&m.queueDrops),
		QueueClosed:       atomic.LoadUint64(&m.queueClosed),
		EventLatency:      m.eventLatency.Snapshot(),
		CompressLatency:   m.compressLatency.Snapshot(),
		PolicyEvalLatency: m.policyEvalLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
