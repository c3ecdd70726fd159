package compress

import (
	"fmt"

	"main/internal/schema"
)

const (
	defaultTTLMs        uint16 = 500
	defaultUrgentTTLMs  uint16 = 100
	defaultDecayLambda         = schema.DefaultDecayLambda
	defaultMaxBatchSize        = 1000
	defaultPlatformMask uint8  = 0xFF
)

// Config controls signal compression behavior.
type Config struct {
	DefaultTTLMs       uint16
	UrgentTTLMs        uint16
	DefaultDecayLambda float64
	Decay              schema.DecayFunction
	PlatformMask       uint8
	DisableChecksum    bool
	MaxBatchSize       int
}

// DefaultConfig returns a baseline compressor configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTTLMs:       defaultTTLMs,
		UrgentTTLMs:        defaultUrgentTTLMs,
		DefaultDecayLambda: defaultDecayLambda,
		Decay:              schema.DecayExponential,
		PlatformMask:       defaultPlatformMask,
		MaxBatchSize:       defaultMaxBatchSize,
	}
}

func (c Config) withDefaults() Config {
	if c.DefaultTTLMs == 0 {
		c.DefaultTTLMs = defaultTTLMs
	}
	if c.UrgentTTLMs == 0 {
		c.UrgentTTLMs = defaultUrgentTTLMs
	}
	if c.DefaultDecayLambda == 0 {
		c.DefaultDecayLambda = defaultDecayLambda
	}
	if c.PlatformMask == 0 {
		c.PlatformMask = defaultPlatformMask
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = defaultMaxBatchSize
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.DefaultTTLMs == 0 {
		return fmt.Errorf("invalid compress config: DefaultTTLMs must be > 0")
	}
	if c.UrgentTTLMs > c.DefaultTTLMs {
		return fmt.Errorf("invalid compress config: UrgentTTLMs must be <= DefaultTTLMs")
	}
	if c.DefaultDecayLambda < 0 {
		return fmt.Errorf("invalid compress config: DefaultDecayLambda must be >= 0")
	}
	if c.Decay > schema.DecayStep {
		return fmt.Errorf("invalid compress config: unknown decay function %d", c.Decay)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("invalid compress config: MaxBatchSize must be > 0")
	}
	return nil
}
