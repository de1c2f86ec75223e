// Package config provides configuration loading, parsing, and validation for dc-relay.
package config

import (
	"net"
	"net/url"
	"strings"
)

// Valid logging levels.
var validLogLevels = map[string]bool{
	"":      true, // Empty defaults to info
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Valid logging formats.
var validLogFormats = map[string]bool{
	"":        true, // Empty defaults to json
	"json":    true,
	"console": true,
}

// Validate checks the configuration for errors.
// It validates all required fields, valid values, and cross-field constraints.
// Returns a ValidationError containing all errors found, or nil if valid.
func (c *Config) Validate() error {
	errs := &ValidationError{}

	validateServer(c, errs)
	validateUpstream(c, errs)
	validateRateLimit(c, errs)
	validateRespCache(c, errs)
	validateLogging(c, errs)

	if err := c.Cache.Validate(); err != nil {
		errs.Add(err.Error())
	}

	return errs.ToError()
}

// validateServer validates the server configuration section.
func validateServer(c *Config, errs *ValidationError) {
	// An empty listen address falls back to DefaultListen
	if c.Server.Listen != "" {
		validateListenAddress(c.Server.Listen, errs)
	}

	if c.Server.TimeoutMS < 0 {
		errs.Add("server.timeout_ms must be >= 0")
	}

	if c.Server.MaxConcurrent < 0 {
		errs.Add("server.max_concurrent must be >= 0")
	}
}

// validateListenAddress validates a listen address in host:port format.
func validateListenAddress(addr string, errs *ValidationError) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		errs.Addf("server.listen must be in host:port format (got %q)", addr)
		return
	}

	// Host can be empty (listen on all interfaces) or a valid IP/hostname
	if host != "" {
		if ip := net.ParseIP(host); ip == nil {
			// Not an IP, treat as hostname - basic validation
			if strings.ContainsAny(host, " \t\n") {
				errs.Add("server.listen host contains invalid characters")
			}
		}
	}

	// Port must be present (SplitHostPort doesn't validate this)
	if port == "" {
		errs.Add("server.listen port is required")
	}
}

// validateUpstream validates the upstream configuration section.
func validateUpstream(c *Config, errs *ValidationError) {
	if c.Upstream.BaseURL != "" {
		u, err := url.Parse(c.Upstream.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs.Addf("upstream.base_url must be an absolute URL (got %q)", c.Upstream.BaseURL)
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs.Addf("upstream.base_url scheme must be http or https (got %q)", u.Scheme)
		}
	}

	if c.Upstream.RequestTimeoutMS < 0 {
		errs.Add("upstream.request_timeout_ms must be >= 0")
	}
}

// validateRateLimit validates the ratelimit configuration section.
func validateRateLimit(c *Config, errs *ValidationError) {
	if c.RateLimit.GlobalRPS < 0 {
		errs.Add("ratelimit.global_rps must be >= 0")
	}
}

// validateRespCache validates the response cache configuration section.
func validateRespCache(c *Config, errs *ValidationError) {
	if c.RespCache.InviteTTLMS < 0 {
		errs.Add("response_cache.invite_ttl_ms must be >= 0")
	}
	if c.RespCache.UserTTLMS < 0 {
		errs.Add("response_cache.user_ttl_ms must be >= 0")
	}
}

// validateLogging validates the logging configuration section.
func validateLogging(c *Config, errs *ValidationError) {
	if !validLogLevels[c.Logging.Level] {
		errs.Addf("logging.level is invalid (got %q, valid: debug, info, warn, error)",
			c.Logging.Level)
	}

	if !validLogFormats[c.Logging.Format] {
		errs.Addf("logging.format is invalid (got %q, valid: json, console)",
			c.Logging.Format)
	}
}
