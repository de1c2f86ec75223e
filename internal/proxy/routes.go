package proxy

import (
	"net/http"

	"github.com/omarluq/dc-relay/internal/cache"
	"github.com/omarluq/dc-relay/internal/config"
	"github.com/omarluq/dc-relay/internal/metrics"
	"github.com/omarluq/dc-relay/internal/ratelimit"
)

// SetupRoutes creates the HTTP handler with all routes configured.
// Routes:
//   - GET /health - liveness check (never proxied)
//   - GET /metrics - JSON snapshot of admission counters (when metrics enabled)
//   - GET /cache-status - cache backend statistics
//   - everything else - rate-limit-admitted forward to the upstream
//
// recorder may be nil when metrics are disabled.
func SetupRoutes(
	runtime config.RuntimeConfig,
	handler http.Handler,
	limiters *ratelimit.LimiterMap,
	recorder *metrics.Recorder,
	store cache.Cache,
	concurrency *ConcurrencyLimiter,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck // Health check write error is non-critical
		w.Write([]byte(`{"status":"ok"}`))
	})

	if recorder != nil {
		mux.Handle("GET /metrics", metricsHandler(limiters, recorder, concurrency))
	}

	mux.Handle("GET /cache-status", cacheStatusHandler(store))

	// Apply middleware in order:
	// 1. RequestIDMiddleware (first - generates ID)
	// 2. LoggingMiddleware (second - logs with ID)
	// 3. ConcurrencyMiddleware (third - rejections are logged with ID)
	// 4. Handler
	proxied := ConcurrencyMiddleware(concurrency)(handler)
	proxied = LoggingMiddleware()(proxied)
	proxied = RequestIDMiddleware()(proxied)
	mux.Handle("/", proxied)

	return mux
}

// metricsSnapshot is the /metrics response shape.
type metricsSnapshot struct {
	metrics.Snapshot
	InFlight    int64 `json:"in_flight"`
	LiveBuckets int   `json:"live_buckets"`
	Credentials int   `json:"credentials"`
}

func metricsHandler(
	limiters *ratelimit.LimiterMap,
	recorder *metrics.Recorder,
	concurrency *ConcurrencyLimiter,
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, metricsSnapshot{
			Snapshot:    recorder.Snapshot(),
			InFlight:    concurrency.CurrentInFlight(),
			LiveBuckets: limiters.Buckets(),
			Credentials: limiters.Credentials(),
		})
	})
}

// cacheStatus is the /cache-status response shape.
type cacheStatus struct {
	Stats   *cache.Stats `json:"stats,omitempty"`
	Enabled bool         `json:"enabled"`
}

func cacheStatusHandler(store cache.Cache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := cacheStatus{Enabled: store != nil}
		if provider, ok := store.(cache.StatsProvider); ok {
			stats := provider.Stats()
			status.Stats = &stats
		}
		writeJSON(w, http.StatusOK, status)
	})
}
