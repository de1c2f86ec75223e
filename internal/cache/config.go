package cache

import (
	"errors"
	"fmt"
)

// Mode represents the cache operating mode.
type Mode string

const (
	// ModeSingle uses the local Ristretto cache (default).
	ModeSingle Mode = "single"

	// ModeDisabled uses the noop cache (caching disabled).
	// All operations return immediately without storing data.
	ModeDisabled Mode = "disabled"
)

// Config defines cache configuration.
// Use Validate() to check for configuration errors before creating a cache.
type Config struct {
	Mode      Mode            `yaml:"mode" toml:"mode"`
	Ristretto RistrettoConfig `yaml:"ristretto" toml:"ristretto"`
}

// RistrettoConfig configures the Ristretto local cache.
// Ristretto is a high-performance, concurrent cache based on research from
// the Caffeine library.
type RistrettoConfig struct {
	// NumCounters is the number of 4-bit access counters.
	// Recommended: 10x expected max items for optimal admission policy.
	NumCounters int64 `yaml:"num_counters" toml:"num_counters"`

	// MaxCost is the maximum cost (memory) the cache can hold.
	// Cost is measured in bytes of cached values.
	// Example: 100 << 20 for 100 MB.
	MaxCost int64 `yaml:"max_cost" toml:"max_cost"`

	// BufferItems is the number of keys per Get buffer.
	// Recommended: 64 (default).
	BufferItems int64 `yaml:"buffer_items" toml:"buffer_items"`
}

// Validate checks the configuration for errors.
// Returns nil if the configuration is valid. An empty Mode is accepted and
// treated as ModeSingle so a config without a [cache] section still works.
func (c *Config) Validate() error {
	switch c.EffectiveMode() {
	case ModeSingle:
		if c.Ristretto.MaxCost < 0 {
			return errors.New("cache: ristretto.max_cost must be >= 0")
		}
		if c.Ristretto.NumCounters < 0 {
			return errors.New("cache: ristretto.num_counters must be >= 0")
		}
	case ModeDisabled:
		// No validation needed for disabled mode
	default:
		return fmt.Errorf("cache: unknown mode %q", c.Mode)
	}
	return nil
}

// EffectiveMode returns the configured mode with the empty-string default
// resolved to ModeSingle.
func (c *Config) EffectiveMode() Mode {
	if c.Mode == "" {
		return ModeSingle
	}
	return c.Mode
}

// DefaultRistrettoConfig returns a RistrettoConfig with sensible defaults.
// NumCounters: 100,000 (for ~10K cached responses).
// MaxCost: 64 MB.
// BufferItems: 64.
func DefaultRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{
		NumCounters: 100_000,
		MaxCost:     64 << 20, // 64 MB.
		BufferItems: 64,
	}
}
