package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/distribute"
	"main/internal/policy"
	"main/internal/schema"
)

const sampleConfig = `{
	"registry": {
		"platforms": ["raydium", "jupiter"],
		"sources": ["sentiment", "onchain", "technical"]
	},
	"compressor": {
		"defaultTtlMs": 750,
		"urgentTtlMs": 150,
		"decayLambda": 0.02,
		"decay": "linear",
		"platforms": ["raydium", "jupiter"],
		"maxBatchSize": 500
	},
	"ttl": {
		"decayLambda": 0.01,
		"strictMode": true,
		"maxViolationLogs": 32
	},
	"aggregator": {
		"minSources": 3,
		"consensusThreshold": 0.6,
		"outlierZThreshold": 2.5,
		"windowMs": 200
	},
	"cache": {
		"capacity": 1024
	},
	"distributor": {
		"mode": "priority_based",
		"bufferSize": 64,
		"maxSubscribers": 8
	},
	"engine": {
		"maxEvaluationTimeNs": 250000,
		"enableAudit": true
	},
	"policies": {
		"positionSize": {
			"params": {"max_single_order_percent": 1.5}
		},
		"tradingFrequency": {
			"enabled": false
		}
	},
	"audit": {
		"enabled": true,
		"host": "db.internal",
		"port": 5433,
		"user": "signal",
		"password": "secret",
		"database": "audit"
	},
	"metrics": {
		"addr": ":9091"
	},
	"features": {
		"enableConsensus": false
	}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	loaded, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	id, ok := loaded.Registry.PlatformIDByName("jupiter")
	require.True(t, ok)
	assert.Equal(t, schema.PlatformID(2), id)
	sid, ok := loaded.Registry.SourceIDByName("technical")
	require.True(t, ok)
	assert.Equal(t, schema.SourceID(3), sid)

	assert.Equal(t, uint16(750), loaded.Compressor.DefaultTTLMs)
	assert.Equal(t, uint16(150), loaded.Compressor.UrgentTTLMs)
	assert.Equal(t, schema.DecayLinear, loaded.Compressor.Decay)
	assert.Equal(t, uint8(0b11), loaded.Compressor.PlatformMask)
	assert.Equal(t, 500, loaded.Compressor.MaxBatchSize)

	assert.True(t, loaded.TTL.StrictMode)
	assert.Equal(t, 32, loaded.TTL.MaxViolationLogs)

	assert.Equal(t, 3, loaded.Aggregator.MinSources)
	assert.Equal(t, uint64(200_000_000), loaded.Aggregator.WindowNs)

	assert.Equal(t, 1024, loaded.Cache.Capacity)

	assert.Equal(t, distribute.ModePriorityBased, loaded.Distributor.Mode)
	assert.Equal(t, 64, loaded.Distributor.BufferSize)

	assert.Equal(t, uint64(250_000), loaded.Engine.MaxEvaluationTimeNs)
	assert.True(t, loaded.Engine.EnableAudit)

	assert.True(t, loaded.Audit.Enabled)
	assert.Equal(t, "db.internal", loaded.Audit.Conn.Host)
	assert.Equal(t, uint64(1000), loaded.Audit.FlushIntervalMs)

	assert.Equal(t, ":9091", loaded.MetricsAddr)

	assert.False(t, loaded.Features.EnableConsensus)
	assert.True(t, loaded.Features.EnableDistribution)
	assert.True(t, loaded.Features.EnablePolicyGate)
}

func TestLoadPolicySpecs(t *testing.T) {
	loaded, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.Len(t, loaded.Policies, 5)

	ids := make([]uint32, 0, len(loaded.Policies))
	for _, spec := range loaded.Policies {
		ids = append(ids, spec.Policy.ID())
	}
	assert.Equal(t, []uint32{
		policy.PositionSizePolicyID,
		policy.PriceDeviationPolicyID,
		policy.TradingFrequencyPolicyID,
		policy.RiskLimitsPolicyID,
		policy.MarketConditionsPolicyID,
	}, ids)

	params := loaded.Policies[0].Policy.Parameters()
	assert.Equal(t, 1.5, params["max_single_order_percent"])
	assert.Equal(t, 10.0, params["max_position_percent"])

	assert.True(t, loaded.Policies[0].Enabled)
	assert.False(t, loaded.Policies[2].Enabled)
	assert.True(t, loaded.Policies[4].Enabled)
}

func TestLoadDefaults(t *testing.T) {
	loaded, err := Load(writeConfig(t, `{"registry":{"sources":["sentiment"]}}`))
	require.NoError(t, err)

	assert.Equal(t, schema.DecayExponential, loaded.Compressor.Decay)
	assert.Equal(t, distribute.ModeBroadcast, loaded.Distributor.Mode)
	assert.False(t, loaded.Audit.Enabled)
	assert.True(t, loaded.Features.EnableConsensus)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, `{"compressor":{"decay":"parabolic"}}`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `{"distributor":{"mode":"random"}}`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `{"compressor":{"platforms":["unknown"]}}`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `{"registry":{"platforms":["a","a"]}}`))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
