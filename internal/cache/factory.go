package cache

import (
	"fmt"
	"time"
)

// New creates a new Cache based on the configuration.
// It returns an error if the configuration is invalid or if the cache
// backend fails to initialize.
func New(cfg Config) (Cache, error) {
	log := logger().With().Str("component", "cache_factory").Logger()
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		log.Debug().Err(err).Str("mode", string(cfg.Mode)).Msg("cache factory: validation failed")
		return nil, err
	}

	mode := cfg.EffectiveMode()

	var c Cache
	var err error

	switch mode {
	case ModeSingle:
		c, err = newRistrettoCache(cfg.Ristretto)
	case ModeDisabled:
		c = newNoopCache()
	default:
		return nil, fmt.Errorf("cache: unknown mode %q", mode)
	}

	if err != nil {
		log.Error().Err(err).Str("mode", string(mode)).Msg("cache factory: backend initialization failed")
		return nil, err
	}

	log.Info().
		Str("mode", string(mode)).
		Dur("init_time", time.Since(start)).
		Msg("cache factory: backend initialized")

	return c, nil
}
