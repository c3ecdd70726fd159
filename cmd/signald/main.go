package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/aggregate"
	"main/internal/audit"
	"main/internal/bus"
	"main/internal/cache"
	"main/internal/calib"
	"main/internal/compress"
	"main/internal/distribute"
	"main/internal/ingest"
	"main/internal/metrics"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/policy"
	"main/internal/schema"
	"main/internal/ttl"
	"main/pkg/conn"
	"main/pkg/exception"
)

type runtimeConfig struct {
	v atomic.Value
}

func newRuntimeConfig(loaded ops.Loaded) *runtimeConfig {
	var rc runtimeConfig
	rc.v.Store(loaded)
	return &rc
}

func (r *runtimeConfig) Load() ops.Loaded {
	return r.v.Load().(ops.Loaded)
}

func (r *runtimeConfig) Update(loaded ops.Loaded) {
	r.v.Store(loaded)
}

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	configReload := flag.Duration("config-reload-interval", 2*time.Second, "Config reload interval (0=disable)")
	inputPath := flag.String("input", "", "Signal input JSONL file (default: stdin)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus listen address (overrides config)")
	statsInterval := flag.Duration("stats-interval", 10*time.Second, "Metrics publish interval")
	pyroscopeAddr := flag.String("pyroscope-addr", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "signald",
			ServerAddress:   *pyroscopeAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	pipe, err := newPipeline(loaded)
	if err != nil {
		log.Fatalf("pipeline init failed: %v", err)
	}

	runtime := newRuntimeConfig(loaded)
	if *configPath != "" && *configReload > 0 {
		go watchConfig(ctx, *configPath, *configReload, func(next ops.Loaded) {
			runtime.Update(next)
			pipe.applyPolicyConfig(next.Policies)
		})
	}

	addr := loaded.MetricsAddr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	if addr != "" {
		srv := metrics.Serve(addr)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		go pipe.publishMetrics(ctx, *statsInterval)
		logs.Infof("metrics listening on %s", addr)
	}

	if loaded.Audit.Enabled {
		client, err := conn.New(loaded.Audit.Conn)
		if err != nil {
			log.Fatalf("audit connection failed: %v", err)
		}
		defer func() {
			_ = client.Close()
		}()
		store, err := audit.NewStore(client)
		if err != nil {
			log.Fatalf("audit store init failed: %v", err)
		}
		go pipe.drainAudit(ctx, store, time.Duration(loaded.Audit.FlushIntervalMs)*time.Millisecond)
	}

	for _, sub := range []struct {
		id       string
		priority uint8
	}{
		{"execution", 200},
		{"analytics", 50},
	} {
		handle, err := pipe.distributor.Subscribe(sub.id, sub.priority)
		if err != nil {
			log.Fatalf("subscribe %s failed: %v", sub.id, err)
		}
		go pipe.drainSubscriber(ctx, sub.id, handle)
	}

	in, err := openInput(*inputPath)
	if err != nil {
		log.Fatalf("input open failed: %v", err)
	}
	reader := ingest.NewReader(in)

	done := make(chan error, 1)
	go func() {
		done <- pipe.run(ctx, reader, runtime)
	}()

	select {
	case <-sys.Shutdown():
		logs.Info("shutdown signal received")
		cancel()
		<-done
	case err := <-done:
		if err != nil && err != context.Canceled {
			log.Fatalf("pipeline failed: %v", err)
		}
	}
	if closer, ok := in.(io.Closer); ok && in != os.Stdin {
		_ = closer.Close()
	}
	pipe.logSummary(reader)
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return defaultLoaded()
	}
	return ops.Load(path)
}

func defaultLoaded() (ops.Loaded, error) {
	return ops.Resolve(ops.FileConfig{
		Registry: ops.RegistryConfig{
			Platforms: []string{"raydium", "jupiter"},
			Sources:   []string{"sentiment", "onchain", "technical"},
		},
	})
}

func openInput(path string) (io.Reader, error) {
	if path == "" {
		return os.Stdin, nil
	}
	return os.Open(path)
}

func watchConfig(ctx context.Context, path string, interval time.Duration, update func(ops.Loaded)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logs.Errorf("config stat failed: %v", err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			loaded, err := ops.Load(path)
			if err != nil {
				logs.Errorf("config reload failed: %v", err)
				continue
			}
			update(loaded)
			lastMod = info.ModTime()
			logs.Infof("config reloaded: %s", path)
		}
	}
}

type pipeline struct {
	compressor  *compress.Compressor
	validator   *ttl.Validator
	aggregator  *aggregate.Aggregator
	cache       *cache.Cache
	distributor *distribute.Distributor
	engine      *policy.Engine

	queue    *bus.Queue
	metrics  *obs.Metrics
	traceGen *obs.TraceGenerator
	seq      uint64

	consensusCount atomic.Uint64
	decisionCount  atomic.Uint64
	deniedCount    atomic.Uint64

	publishedDist  uint64
	publishedDrops uint64
}

func newPipeline(loaded ops.Loaded) (*pipeline, error) {
	calibrator := calib.NewCalibrator()
	compressor, err := compress.NewCompressor(loaded.Compressor, calibrator, loaded.Registry)
	if err != nil {
		return nil, err
	}
	validator, err := ttl.NewValidator(loaded.TTL)
	if err != nil {
		return nil, err
	}
	aggregator, err := aggregate.NewAggregator(loaded.Aggregator)
	if err != nil {
		return nil, err
	}
	signalCache, err := cache.New(loaded.Cache)
	if err != nil {
		return nil, err
	}
	distributor, err := distribute.NewDistributor(loaded.Distributor)
	if err != nil {
		return nil, err
	}
	engine, err := policy.NewEngine(loaded.Engine)
	if err != nil {
		return nil, err
	}
	for _, spec := range loaded.Policies {
		if err := engine.AddPolicy(spec.Policy); err != nil {
			return nil, err
		}
		if !spec.Enabled {
			if err := engine.EnablePolicy(spec.Policy.ID(), false); err != nil {
				return nil, err
			}
		}
	}
	return &pipeline{
		compressor:  compressor,
		validator:   validator,
		aggregator:  aggregator,
		cache:       signalCache,
		distributor: distributor,
		engine:      engine,
		queue:       bus.NewQueue(1024),
		metrics:     obs.NewMetrics(),
		traceGen:    obs.NewTraceGenerator(0),
	}, nil
}

// applyPolicyConfig hot-swaps policy parameters and enable flags after a
// config reload.
func (p *pipeline) applyPolicyConfig(specs []ops.PolicySpec) {
	for _, spec := range specs {
		id := spec.Policy.ID()
		if err := p.engine.UpdatePolicyParameters(id, spec.Policy.Parameters()); err != nil {
			logs.Errorf("policy %d update failed: %v", id, err)
			continue
		}
		if err := p.engine.EnablePolicy(id, spec.Enabled); err != nil {
			logs.Errorf("policy %d enable failed: %v", id, err)
		}
	}
}

func (p *pipeline) run(ctx context.Context, reader *ingest.Reader, runtime *runtimeConfig) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.queue.Run(ctx, func(e bus.Event) {
			p.consume(e, runtime.Load().Features)
		})
	}()

	err := reader.Run(ctx, func(input schema.SignalInput) {
		p.publish(input)
	})

	p.queue.Close()
	wg.Wait()
	return err
}

func (p *pipeline) publish(input schema.SignalInput) {
	start := time.Now()
	sig, err := p.compressor.Compress(input)
	p.metrics.ObserveCompress(time.Since(start))
	if err != nil {
		logs.Errorf("compress failed for %s: %v", input.TokenSymbol, err)
		return
	}
	metrics.SignalsCompressed.WithLabelValues(sig.Symbol()).Inc()

	now := time.Now().UTC().UnixNano()
	p.seq++
	header := schema.NewHeader(schema.EventSignal, 1, p.seq, int64(input.SourceTimestampNs), now)
	header.TraceID = p.traceGen.Next()

	if err := p.queue.TryPublish(bus.Event{Header: header, Signal: sig}); err != nil {
		if err == exception.ErrSignalQueueFull {
			p.metrics.IncQueueDrop()
		} else {
			p.metrics.IncQueueClosed()
		}
		return
	}
	p.metrics.ObserveEvent(header)
}

func (p *pipeline) consume(e bus.Event, features ops.FeatureFlags) {
	sig := e.Signal
	if err := p.compressor.Validate(sig); err != nil {
		p.metrics.IncChecksumError()
		logs.Errorf("signal discarded: %v", err)
		return
	}
	nowNs := uint64(time.Now().UTC().UnixNano())
	if !p.validator.ValidateFreshness(sig, nowNs) {
		p.metrics.IncExpiredSignal()
		return
	}
	p.cache.Insert(sig)

	if !features.EnableConsensus {
		return
	}
	p.aggregator.AddSignal(sig)
	consensus, ok := p.aggregator.Consensus(sig.Symbol())
	if !ok {
		return
	}
	p.consensusCount.Add(1)

	if features.EnableDistribution {
		if err := p.distributor.Distribute(consensus); err != nil {
			logs.Errorf("distribute failed for %s: %v", consensus.Symbol(), err)
		}
	}

	if features.EnablePolicyGate {
		p.evaluate(consensus, nowNs)
	}
}

// evaluate runs the policy gate over an order derived from a consensus
// signal. Market and portfolio snapshots come from the signal itself until a
// live portfolio feed is attached.
func (p *pipeline) evaluate(sig schema.CompactSignal, nowNs uint64) {
	order, market, portfolio := orderFromSignal(sig, nowNs)
	start := time.Now()
	result := p.engine.EvaluateOrder(order, market, portfolio)
	p.metrics.ObservePolicyEval(time.Since(start))

	p.decisionCount.Add(1)
	if result.Allowed {
		metrics.PolicyDecisions.WithLabelValues("allowed").Inc()
	} else {
		p.deniedCount.Add(1)
		metrics.PolicyDecisions.WithLabelValues("denied").Inc()
		p.metrics.IncViolation(result.Severity)
		logs.Infof("order denied for %s: policy=%d %s", sig.Symbol(), result.PrimaryViolationID, result.Reason())
	}
}

func orderFromSignal(sig schema.CompactSignal, nowNs uint64) (schema.OrderDetails, schema.MarketContext, schema.PortfolioState) {
	quantity := float64(sig.Direction)
	order := schema.OrderDetails{
		Symbol:            sig.Symbol(),
		Quantity:          quantity,
		Price:             1.0,
		TimestampNs:       nowNs,
		OrderType:         "LIMIT",
		TimeInForce:       "IOC",
		Urgent:            sig.Priority >= 200,
		ClientOrderID:     sig.SignalID,
		OriginatingSignal: sig,
		SignalConfidence:  calib.DequantizeConfidence(sig.Confidence),
	}
	market := schema.MarketContext{
		Symbol:         sig.Symbol(),
		CurrentPrice:   1.0,
		ReferencePrice: 1.0,
		Volatility1h:   float64(sig.Volatility) / 10000,
		LiquidityScore: 1 - float64(sig.RiskScore)/10000,
		TimestampNs:    nowNs,
		MarketOpen:     true,
	}
	portfolio := schema.PortfolioState{
		TotalCapital:     1_000_000,
		AvailableCapital: 1_000_000,
	}
	return order, market, portfolio
}

func (p *pipeline) publishMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.Publish(p.metrics.Snapshot())
			metrics.CacheHitRatio.Set(p.cache.HitRatio())
			stats := p.distributor.Stats()
			metrics.SignalsDistributed.Add(float64(stats.Distributed - p.publishedDist))
			metrics.SignalsDropped.Add(float64(stats.Dropped - p.publishedDrops))
			p.publishedDist = stats.Distributed
			p.publishedDrops = stats.Dropped
		}
	}
}

// drainSubscriber consumes a subscriber's buffer, standing in for a
// downstream execution or analytics service.
func (p *pipeline) drainSubscriber(ctx context.Context, id string, handle distribute.Handle) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	var received uint64
	for {
		select {
		case <-ctx.Done():
			logs.Infof("subscriber %s received %d signals", id, received)
			return
		case <-ticker.C:
			received += uint64(len(p.distributor.PollBatch(handle, 64)))
		}
	}
}

func (p *pipeline) drainAudit(ctx context.Context, store *audit.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var cursor uint64
	for {
		select {
		case <-ctx.Done():
			next, err := store.Drain(p.engine, cursor)
			if err != nil {
				logs.Errorf("audit final drain failed: %v", err)
			}
			cursor = next
			return
		case <-ticker.C:
			next, err := store.Drain(p.engine, cursor)
			if err != nil {
				logs.Errorf("audit drain failed: %v", err)
				continue
			}
			cursor = next
		}
	}
}

func (p *pipeline) logSummary(reader *ingest.Reader) {
	snap := p.metrics.Snapshot()
	dist := p.distributor.Stats()
	cacheStats := p.cache.Stats()
	engineMetrics := p.engine.Metrics()
	logs.Infof("pipeline summary: lines=%d skipped=%d consensus=%d decisions=%d denied=%d",
		reader.Lines(), reader.Skipped(), p.consensusCount.Load(), p.decisionCount.Load(), p.deniedCount.Load())
	logs.Infof("distribution: delivered=%d dropped=%d backpressure=%d subscribers=%d",
		dist.Distributed, dist.Dropped, dist.BackpressureEvents, dist.Subscribers)
	logs.Infof("cache: size=%d hits=%d misses=%d evictions=%d",
		cacheStats.Size, cacheStats.Hits, cacheStats.Misses, cacheStats.Evictions)
	logs.Infof("engine: evaluations=%d passed=%d failed=%d stops=%d timeouts=%d avg_ns=%d",
		engineMetrics.EvaluationsTotal, engineMetrics.EvaluationsPassed, engineMetrics.EvaluationsFailed,
		engineMetrics.EmergencyStops, engineMetrics.TimeoutCount, engineMetrics.AvgEvaluationTimeNs)
	logs.Infof("events: counts=%v expired=%d checksum_errors=%d drops=%d",
		snap.EventCounts, snap.ExpiredSignals, snap.ChecksumErrors, snap.QueueDrops)
}
