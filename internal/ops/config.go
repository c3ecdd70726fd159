// Package ops loads and resolves the service configuration.
package ops

import (
	"encoding/json"
	"fmt"
	"os"

	"main/internal/aggregate"
	"main/internal/cache"
	"main/internal/compress"
	"main/internal/distribute"
	"main/internal/policy"
	"main/internal/schema"
	"main/internal/ttl"
	"main/pkg/conn"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Registry    RegistryConfig     `json:"registry"`
	Compressor  CompressorConfig   `json:"compressor"`
	TTL         TTLConfig          `json:"ttl"`
	Aggregator  AggregatorConfig   `json:"aggregator"`
	Cache       CacheConfig        `json:"cache"`
	Distributor DistributorConfig  `json:"distributor"`
	Engine      EngineConfig       `json:"engine"`
	Policies    PoliciesConfig     `json:"policies"`
	Audit       AuditConfig        `json:"audit"`
	Metrics     MetricsConfig      `json:"metrics"`
	Features    FeatureFlagsConfig `json:"features"`
}

// RegistryConfig defines platform and source mappings.
type RegistryConfig struct {
	Platforms []string `json:"platforms"`
	Sources   []string `json:"sources"`
}

// CompressorConfig describes the signal compressor.
type CompressorConfig struct {
	DefaultTTLMs    uint16   `json:"defaultTtlMs"`
	UrgentTTLMs     uint16   `json:"urgentTtlMs"`
	DecayLambda     float64  `json:"decayLambda"`
	Decay           string   `json:"decay"`
	Platforms       []string `json:"platforms"`
	DisableChecksum bool     `json:"disableChecksum"`
	MaxBatchSize    int      `json:"maxBatchSize"`
}

// TTLConfig describes freshness validation.
type TTLConfig struct {
	DecayLambda      float64 `json:"decayLambda"`
	StrictMode       bool    `json:"strictMode"`
	MaxViolationLogs int     `json:"maxViolationLogs"`
}

// AggregatorConfig describes consensus building.
type AggregatorConfig struct {
	MinSources              int     `json:"minSources"`
	ConsensusThreshold      float64 `json:"consensusThreshold"`
	DisableOutlierDetection bool    `json:"disableOutlierDetection"`
	OutlierZThreshold       float64 `json:"outlierZThreshold"`
	WindowMs                uint64  `json:"windowMs"`
}

// CacheConfig describes the signal cache.
type CacheConfig struct {
	Capacity int `json:"capacity"`
}

// DistributorConfig describes signal fan-out.
type DistributorConfig struct {
	Mode                string `json:"mode"`
	BufferSize          int    `json:"bufferSize"`
	MaxSubscribers      int    `json:"maxSubscribers"`
	DisableBackpressure bool   `json:"disableBackpressure"`
}

// EngineConfig describes policy engine behavior.
type EngineConfig struct {
	DisableEarlyTermination bool   `json:"disableEarlyTermination"`
	MaxEvaluationTimeNs     uint64 `json:"maxEvaluationTimeNs"`
	EnableAudit             bool   `json:"enableAudit"`
}

// PolicyConfig holds one policy's toggle and parameter overrides.
type PolicyConfig struct {
	Enabled *bool              `json:"enabled"`
	Params  map[string]float64 `json:"params"`
}

// PoliciesConfig holds per-policy configuration. Absent policies are
// registered with defaults.
type PoliciesConfig struct {
	PositionSize     *PolicyConfig `json:"positionSize"`
	PriceDeviation   *PolicyConfig `json:"priceDeviation"`
	TradingFrequency *PolicyConfig `json:"tradingFrequency"`
	RiskLimits       *PolicyConfig `json:"riskLimits"`
	MarketConditions *PolicyConfig `json:"marketConditions"`
}

// AuditConfig describes the optional Postgres audit sink.
type AuditConfig struct {
	Enabled         bool   `json:"enabled"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	User            string `json:"user"`
	Password        string `json:"password"`
	Database        string `json:"database"`
	SSLMode         string `json:"sslMode"`
	ConnString      string `json:"connString"`
	FlushIntervalMs uint64 `json:"flushIntervalMs"`
}

// MetricsConfig describes the Prometheus listener.
type MetricsConfig struct {
	Addr string `json:"addr"`
}

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	EnableConsensus    *bool `json:"enableConsensus"`
	EnableDistribution *bool `json:"enableDistribution"`
	EnablePolicyGate   *bool `json:"enablePolicyGate"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	EnableConsensus    bool
	EnableDistribution bool
	EnablePolicyGate   bool
}

// PolicySpec is one resolved policy with its enable state.
type PolicySpec struct {
	Policy  *policy.Policy
	Enabled bool
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry    *schema.Registry
	Compressor  compress.Config
	TTL         ttl.Config
	Aggregator  aggregate.Config
	Cache       cache.Config
	Distributor distribute.Config
	Engine      policy.EngineConfig
	Policies    []PolicySpec
	Audit       AuditSpec
	MetricsAddr string
	Features    FeatureFlags
}

// AuditSpec is the resolved audit sink definition.
type AuditSpec struct {
	Enabled         bool
	Conn            conn.Option
	FlushIntervalMs uint64
}

const defaultAuditFlushIntervalMs = 1000

// Load reads a JSON config file and resolves every component config.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Resolve validates a parsed config and builds the runtime specs.
func Resolve(cfg FileConfig) (Loaded, error) {
	registry, err := buildRegistry(cfg.Registry)
	if err != nil {
		return Loaded{}, err
	}

	compressor, err := resolveCompressor(cfg.Compressor, registry)
	if err != nil {
		return Loaded{}, err
	}

	distributor, err := resolveDistributor(cfg.Distributor)
	if err != nil {
		return Loaded{}, err
	}

	policies := resolvePolicies(cfg.Policies)

	return Loaded{
		Registry:   registry,
		Compressor: compressor,
		TTL: ttl.Config{
			DecayLambda:      cfg.TTL.DecayLambda,
			StrictMode:       cfg.TTL.StrictMode,
			MaxViolationLogs: cfg.TTL.MaxViolationLogs,
		},
		Aggregator: aggregate.Config{
			MinSources:              cfg.Aggregator.MinSources,
			ConsensusThreshold:      cfg.Aggregator.ConsensusThreshold,
			DisableOutlierDetection: cfg.Aggregator.DisableOutlierDetection,
			OutlierZThreshold:       cfg.Aggregator.OutlierZThreshold,
			WindowNs:                cfg.Aggregator.WindowMs * 1_000_000,
		},
		Cache:       cache.Config{Capacity: cfg.Cache.Capacity},
		Distributor: distributor,
		Engine: policy.EngineConfig{
			DisableEarlyTermination: cfg.Engine.DisableEarlyTermination,
			MaxEvaluationTimeNs:     cfg.Engine.MaxEvaluationTimeNs,
			EnableAudit:             cfg.Engine.EnableAudit,
		},
		Policies:    policies,
		Audit:       resolveAudit(cfg.Audit),
		MetricsAddr: cfg.Metrics.Addr,
		Features:    resolveFeatures(cfg.Features),
	}, nil
}

// LoadRegistry reads a JSON config file and only builds the registry.
func LoadRegistry(path string) (*schema.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return buildRegistry(cfg.Registry)
}

func buildRegistry(cfg RegistryConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, platform := range cfg.Platforms {
		if _, err := reg.AddPlatform(platform); err != nil {
			return nil, err
		}
	}
	for _, source := range cfg.Sources {
		if _, err := reg.AddSource(source); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func resolveCompressor(cfg CompressorConfig, reg *schema.Registry) (compress.Config, error) {
	decay, err := parseDecay(cfg.Decay)
	if err != nil {
		return compress.Config{}, err
	}

	var platformMask uint8
	for _, name := range cfg.Platforms {
		id, ok := reg.PlatformIDByName(name)
		if !ok {
			return compress.Config{}, fmt.Errorf("compressor platform not found: %s", name)
		}
		platformMask |= schema.PlatformBit(id)
	}

	return compress.Config{
		DefaultTTLMs:       cfg.DefaultTTLMs,
		UrgentTTLMs:        cfg.UrgentTTLMs,
		DefaultDecayLambda: cfg.DecayLambda,
		Decay:              decay,
		PlatformMask:       platformMask,
		DisableChecksum:    cfg.DisableChecksum,
		MaxBatchSize:       cfg.MaxBatchSize,
	}, nil
}

func parseDecay(name string) (schema.DecayFunction, error) {
	switch name {
	case "", "exponential":
		return schema.DecayExponential, nil
	case "linear":
		return schema.DecayLinear, nil
	case "step":
		return schema.DecayStep, nil
	default:
		return 0, fmt.Errorf("unknown decay function: %s", name)
	}
}

func resolveDistributor(cfg DistributorConfig) (distribute.Config, error) {
	mode, err := parseMode(cfg.Mode)
	if err != nil {
		return distribute.Config{}, err
	}
	return distribute.Config{
		Mode:                mode,
		BufferSize:          cfg.BufferSize,
		MaxSubscribers:      cfg.MaxSubscribers,
		DisableBackpressure: cfg.DisableBackpressure,
	}, nil
}

func parseMode(name string) (distribute.Mode, error) {
	switch name {
	case "", "broadcast":
		return distribute.ModeBroadcast, nil
	case "round_robin":
		return distribute.ModeRoundRobin, nil
	case "priority_based":
		return distribute.ModePriorityBased, nil
	case "load_balanced":
		return distribute.ModeLoadBalanced, nil
	default:
		return 0, fmt.Errorf("unknown distribution mode: %s", name)
	}
}

// resolvePolicies builds the full policy set in stable id order. A policy
// absent from the config runs with defaults.
func resolvePolicies(cfg PoliciesConfig) []PolicySpec {
	return []PolicySpec{
		resolvePolicy(policy.NewPositionSizePolicy(policy.DefaultPositionSizeConfig()), cfg.PositionSize),
		resolvePolicy(policy.NewPriceDeviationPolicy(policy.DefaultPriceDeviationConfig()), cfg.PriceDeviation),
		resolvePolicy(policy.NewTradingFrequencyPolicy(policy.DefaultTradingFrequencyConfig()), cfg.TradingFrequency),
		resolvePolicy(policy.NewRiskLimitsPolicy(policy.DefaultRiskLimitsConfig()), cfg.RiskLimits),
		resolvePolicy(policy.NewMarketConditionsPolicy(policy.DefaultMarketConditionsConfig()), cfg.MarketConditions),
	}
}

func resolvePolicy(p *policy.Policy, cfg *PolicyConfig) PolicySpec {
	spec := PolicySpec{Policy: p, Enabled: true}
	if cfg == nil {
		return spec
	}
	if len(cfg.Params) > 0 {
		p.UpdateParameters(cfg.Params)
	}
	if cfg.Enabled != nil {
		spec.Enabled = *cfg.Enabled
	}
	return spec
}

func resolveAudit(cfg AuditConfig) AuditSpec {
	spec := AuditSpec{
		Enabled: cfg.Enabled,
		Conn: conn.Option{
			Host:       cfg.Host,
			Port:       cfg.Port,
			User:       cfg.User,
			Password:   cfg.Password,
			Database:   cfg.Database,
			SSLMode:    cfg.SSLMode,
			ConnString: cfg.ConnString,
		},
		FlushIntervalMs: cfg.FlushIntervalMs,
	}
	if spec.FlushIntervalMs == 0 {
		spec.FlushIntervalMs = defaultAuditFlushIntervalMs
	}
	return spec
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		EnableConsensus:    true,
		EnableDistribution: true,
		EnablePolicyGate:   true,
	}
	if cfg.EnableConsensus != nil {
		flags.EnableConsensus = *cfg.EnableConsensus
	}
	if cfg.EnableDistribution != nil {
		flags.EnableDistribution = *cfg.EnableDistribution
	}
	if cfg.EnablePolicyGate != nil {
		flags.EnablePolicyGate = *cfg.EnablePolicyGate
	}
	return flags
}
