package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/omarluq/dc-relay/internal/cache"
	"github.com/omarluq/dc-relay/internal/config"
	"github.com/omarluq/dc-relay/internal/health"
	"github.com/omarluq/dc-relay/internal/metrics"
	"github.com/omarluq/dc-relay/internal/proxy"
	"github.com/omarluq/dc-relay/internal/ratelimit"
)

// Service wrapper types for DI registration.
// These provide type safety and allow distinguishing between similar types.

// ConfigService wraps the loaded and validated configuration behind the
// hot-reload Runtime.
type ConfigService struct {
	Runtime *config.Runtime
}

// LoggerService wraps the zerolog logger for DI.
type LoggerService struct {
	Logger *zerolog.Logger
}

// CacheService wraps the cache implementation.
type CacheService struct {
	Cache cache.Cache
}

// MetricsService wraps the metrics recorder. Recorder is nil when metrics
// are disabled; Sink is always non-nil.
type MetricsService struct {
	Recorder *metrics.Recorder
	Sink     metrics.Sink
}

// LimiterService wraps the per-credential rate-limit admission engine.
type LimiterService struct {
	Limiters *ratelimit.LimiterMap
}

// BreakerService wraps the optional upstream circuit breaker.
// Breaker is nil when disabled in config.
type BreakerService struct {
	Breaker *health.CircuitBreaker
}

// ConcurrencyService wraps the global in-flight request limiter.
type ConcurrencyService struct {
	Limiter *proxy.ConcurrencyLimiter
}

// HandlerService wraps the HTTP handler.
type HandlerService struct {
	Handler http.Handler
}

// ServerService wraps the HTTP server.
type ServerService struct {
	Server *proxy.Server
}

// RegisterSingletons registers all service providers as singletons.
// Services are registered in dependency order:
//  1. Config (no dependencies)
//  2. Logger (depends on Config)
//  3. Cache (depends on Config)
//  4. Metrics (depends on Config)
//  5. Limiter (depends on Config, Metrics, Logger)
//  6. Breaker (depends on Config, Logger)
//  7. Concurrency (depends on Config)
//  8. Handler (depends on all of the above)
//  9. Server (depends on Handler, Config)
func RegisterSingletons(i do.Injector) {
	do.Provide(i, NewConfig)
	do.Provide(i, NewLogger)
	do.Provide(i, NewCache)
	do.Provide(i, NewMetrics)
	do.Provide(i, NewLimiter)
	do.Provide(i, NewBreaker)
	do.Provide(i, NewConcurrency)
	do.Provide(i, NewProxyHandler)
	do.Provide(i, NewHTTPServer)
}

// NewConfig loads and validates the configuration from the config path.
func NewConfig(i do.Injector) (*ConfigService, error) {
	path := do.MustInvokeNamed[string](i, ConfigPathKey)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &ConfigService{Runtime: config.NewRuntime(cfg)}, nil
}

// NewLogger creates the zerolog logger from configuration.
func NewLogger(i do.Injector) (*LoggerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	logger, err := proxy.NewLogger(cfgSvc.Runtime.Get().Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return &LoggerService{Logger: &logger}, nil
}

// NewCache creates the cache based on configuration.
func NewCache(i do.Injector) (*CacheService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	cache.SetLogger(loggerSvc.Logger)

	c, err := cache.New(cfgSvc.Runtime.Get().Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &CacheService{Cache: c}, nil
}

// Shutdown implements do.Shutdowner for graceful cache cleanup.
func (c *CacheService) Shutdown() error {
	if c.Cache != nil {
		return c.Cache.Close()
	}
	return nil
}

// NewMetrics creates the metrics recorder when metrics are enabled.
func NewMetrics(i do.Injector) (*MetricsService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	if !cfgSvc.Runtime.Get().Metrics.Enabled {
		return &MetricsService{Sink: metrics.Noop{}}, nil
	}

	recorder := metrics.NewRecorder()
	return &MetricsService{Recorder: recorder, Sink: recorder}, nil
}

// NewLimiter creates the per-credential rate-limit admission engine.
func NewLimiter(i do.Injector) (*LimiterService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	metricsSvc := do.MustInvoke[*MetricsService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	limiters := ratelimit.NewLimiterMap(
		cfgSvc.Runtime.Get().RateLimit.GetEffectiveGlobalRPS(),
		metricsSvc.Sink,
		*loggerSvc.Logger,
	)

	return &LimiterService{Limiters: limiters}, nil
}

// NewBreaker creates the upstream circuit breaker when enabled.
func NewBreaker(i do.Injector) (*BreakerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	cfg := cfgSvc.Runtime.Get()
	if !cfg.Health.Enabled {
		return &BreakerService{}, nil
	}

	breaker := health.NewCircuitBreaker("upstream", cfg.Health.CircuitBreaker, loggerSvc.Logger)
	return &BreakerService{Breaker: breaker}, nil
}

// NewConcurrency creates the global concurrency limiter.
func NewConcurrency(i do.Injector) (*ConcurrencyService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	maxConcurrent := int64(cfgSvc.Runtime.Get().Server.GetMaxConcurrentOption().OrElse(0))
	return &ConcurrencyService{Limiter: proxy.NewConcurrencyLimiter(maxConcurrent)}, nil
}

// NewProxyHandler creates the HTTP handler with all middleware.
func NewProxyHandler(i do.Injector) (*HandlerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)
	cacheSvc := do.MustInvoke[*CacheService](i)
	metricsSvc := do.MustInvoke[*MetricsService](i)
	limiterSvc := do.MustInvoke[*LimiterService](i)
	breakerSvc := do.MustInvoke[*BreakerService](i)
	concSvc := do.MustInvoke[*ConcurrencyService](i)

	respCache := proxy.NewResponseCache(cacheSvc.Cache, cfgSvc.Runtime, *loggerSvc.Logger)

	handler, err := proxy.NewHandler(
		cfgSvc.Runtime,
		limiterSvc.Limiters,
		breakerSvc.Breaker,
		respCache,
		*loggerSvc.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy handler: %w", err)
	}

	mux := proxy.SetupRoutes(
		cfgSvc.Runtime,
		handler,
		limiterSvc.Limiters,
		metricsSvc.Recorder,
		cacheSvc.Cache,
		concSvc.Limiter,
	)

	return &HandlerService{Handler: mux}, nil
}

// NewHTTPServer creates the HTTP server.
func NewHTTPServer(i do.Injector) (*ServerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	handlerSvc := do.MustInvoke[*HandlerService](i)

	cfg := cfgSvc.Runtime.Get()
	server := proxy.NewServer(
		cfg.Server.GetEffectiveListen(),
		handlerSvc.Handler,
		cfg.Server.EnableHTTP2,
	)

	return &ServerService{Server: server}, nil
}

// Shutdown implements do.Shutdowner for graceful server shutdown.
func (s *ServerService) Shutdown() error {
	if s.Server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.Server.Shutdown(ctx)
	}
	return nil
}
