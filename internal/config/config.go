// Package config provides configuration loading and parsing for dc-relay.
package config

import (
	"strings"
	"time"

	"github.com/omarluq/dc-relay/internal/cache"
	"github.com/omarluq/dc-relay/internal/health"
	"github.com/rs/zerolog"
	"github.com/samber/mo"
)

// RuntimeConfig defines the interface for accessing runtime configuration that
// supports hot-reload. Components that need to observe config changes should
// use this interface instead of holding a direct *Config pointer, which would
// become stale after hot-reload.
type RuntimeConfig interface {
	Get() *Config
}

// Log level constants.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Defaults applied when the corresponding field is unset.
const (
	DefaultListen          = "127.0.0.1:8080"
	DefaultUpstreamBaseURL = "https://discord.com"
	DefaultGlobalRPS       = 50
	DefaultInviteTTLMS     = 60000  // 1 minute
	DefaultUserTTLMS       = 300000 // 5 minutes
)

// Config represents the complete dc-relay configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream" toml:"upstream"`
	RateLimit RateLimitConfig `yaml:"ratelimit" toml:"ratelimit"`
	Cache     cache.Config    `yaml:"cache" toml:"cache"`
	RespCache RespCacheConfig `yaml:"response_cache" toml:"response_cache"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Health    health.Config   `yaml:"health" toml:"health"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig defines server-level settings.
type ServerConfig struct {
	Listen        string `yaml:"listen" toml:"listen"`
	TimeoutMS     int    `yaml:"timeout_ms" toml:"timeout_ms"`
	MaxConcurrent int    `yaml:"max_concurrent" toml:"max_concurrent"`
	EnableHTTP2   bool   `yaml:"enable_http2" toml:"enable_http2"` // Enable HTTP/2 cleartext (h2c) support
}

// GetEffectiveListen returns the listen address with default fallback.
func (s *ServerConfig) GetEffectiveListen() string {
	if s.Listen == "" {
		return DefaultListen
	}
	return s.Listen
}

// GetTimeoutOption returns the server timeout as an Option.
// Returns None if TimeoutMS is zero (use default).
func (s *ServerConfig) GetTimeoutOption() mo.Option[time.Duration] {
	if s.TimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(s.TimeoutMS) * time.Millisecond)
}

// GetMaxConcurrentOption returns the max concurrent setting as an Option.
// Returns None if MaxConcurrent is zero (unlimited).
func (s *ServerConfig) GetMaxConcurrentOption() mo.Option[int] {
	if s.MaxConcurrent <= 0 {
		return mo.None[int]()
	}
	return mo.Some(s.MaxConcurrent)
}

// UpstreamConfig defines the upstream API endpoint and credentials.
type UpstreamConfig struct {
	// BaseURL is the upstream API origin. Default: https://discord.com
	BaseURL string `yaml:"base_url" toml:"base_url"`

	// Token, if set, is injected as the Authorization header on forwarded
	// requests that do not already carry one. Supports ${ENV_VAR} expansion.
	Token string `yaml:"token" toml:"token"`

	// RequestTimeoutMS bounds a single forwarded request. 0 = no limit.
	RequestTimeoutMS int `yaml:"request_timeout_ms" toml:"request_timeout_ms"`
}

// GetEffectiveBaseURL returns the upstream base URL with default fallback.
func (u *UpstreamConfig) GetEffectiveBaseURL() string {
	if u.BaseURL == "" {
		return DefaultUpstreamBaseURL
	}
	return u.BaseURL
}

// GetRequestTimeoutOption returns the per-request timeout as an Option.
// Returns None if RequestTimeoutMS is zero (no timeout).
func (u *UpstreamConfig) GetRequestTimeoutOption() mo.Option[time.Duration] {
	if u.RequestTimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(u.RequestTimeoutMS) * time.Millisecond)
}

// RateLimitConfig tunes the admission layer.
type RateLimitConfig struct {
	// GlobalRPS is the account-wide request pacing limit. Default: 50.
	// 0 uses the default; negative is a validation error.
	GlobalRPS int `yaml:"global_rps" toml:"global_rps"`
}

// GetEffectiveGlobalRPS returns the global requests-per-second limit with
// default fallback.
func (r *RateLimitConfig) GetEffectiveGlobalRPS() int {
	if r.GlobalRPS <= 0 {
		return DefaultGlobalRPS
	}
	return r.GlobalRPS
}

// RespCacheConfig defines response caching for cache-friendly read endpoints
// (invite and user lookups). Caching only happens when the cache backend is
// enabled.
type RespCacheConfig struct {
	// InviteTTLMS is the TTL for cached invite lookups. Default: 60000 (1m).
	InviteTTLMS int `yaml:"invite_ttl_ms" toml:"invite_ttl_ms"`

	// UserTTLMS is the TTL for cached user lookups. Default: 300000 (5m).
	UserTTLMS int `yaml:"user_ttl_ms" toml:"user_ttl_ms"`
}

// GetInviteTTL returns the invite cache TTL with default fallback.
func (r *RespCacheConfig) GetInviteTTL() time.Duration {
	if r.InviteTTLMS <= 0 {
		return time.Duration(DefaultInviteTTLMS) * time.Millisecond
	}
	return time.Duration(r.InviteTTLMS) * time.Millisecond
}

// GetUserTTL returns the user cache TTL with default fallback.
func (r *RespCacheConfig) GetUserTTL() time.Duration {
	if r.UserTTLMS <= 0 {
		return time.Duration(DefaultUserTTLMS) * time.Millisecond
	}
	return time.Duration(r.UserTTLMS) * time.Millisecond
}

// MetricsConfig gates the metrics endpoint and in-process recorder.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, console
	Output string `yaml:"output" toml:"output"` // stdout, stderr, or file path
	Pretty bool   `yaml:"pretty" toml:"pretty"` // enable colored console output
}

// ParseLevel converts a string log level to zerolog.Level.
// Returns zerolog.InfoLevel if the level string is invalid.
func (l *LoggingConfig) ParseLevel() zerolog.Level {
	switch strings.ToLower(l.Level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
