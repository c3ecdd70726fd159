// Package metrics exposes pipeline counters over Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"main/internal/obs"
)

var (
	SignalsCompressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_compressed_total", Help: "Signals compressed into wire form"},
		[]string{"symbol"},
	)
	SignalsDistributed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "signals_distributed_total", Help: "Signals delivered to subscribers"},
	)
	SignalsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "signals_dropped_total", Help: "Signals dropped by full subscriber buffers"},
	)
	PolicyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "policy_decisions_total", Help: "Policy evaluations by outcome"},
		[]string{"outcome"},
	)
	ChecksumErrors = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "signal_checksum_errors", Help: "Signals rejected by integrity checks"},
	)
	ExpiredSignals = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "signal_expired_total", Help: "Signals rejected for staleness"},
	)
	QueueDrops = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "signal_queue_drops", Help: "Events rejected by full pipeline queues"},
	)
	CompressLatencyNs = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "signal_compress_latency_ns_avg", Help: "Average compression latency"},
	)
	PolicyEvalLatencyNs = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "policy_eval_latency_ns_avg", Help: "Average policy evaluation latency"},
	)
	CacheHitRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "signal_cache_hit_ratio", Help: "Signal cache hit ratio"},
	)
)

func init() {
	prometheus.MustRegister(
		SignalsCompressed, SignalsDistributed, SignalsDropped, PolicyDecisions,
		ChecksumErrors, ExpiredSignals, QueueDrops,
		CompressLatencyNs, PolicyEvalLatencyNs, CacheHitRatio,
	)
}

// Publish maps an obs snapshot onto the exported gauges.
func Publish(snap obs.Snapshot) {
	ChecksumErrors.Set(float64(snap.ChecksumErrors))
	ExpiredSignals.Set(float64(snap.ExpiredSignals))
	QueueDrops.Set(float64(snap.QueueDrops))
	CompressLatencyNs.Set(float64(snap.CompressLatency.Avg))
	PolicyEvalLatencyNs.Set(float64(snap.PolicyEvalLatency.Avg))
}

// Serve exposes /metrics on addr in a background goroutine.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
