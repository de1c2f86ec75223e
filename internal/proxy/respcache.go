package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/omarluq/dc-relay/internal/cache"
	"github.com/omarluq/dc-relay/internal/config"
)

// maxCacheableBody bounds the response size the cache will store. Invite and
// user payloads are a few KB; anything larger is streamed through uncached.
const maxCacheableBody = 1 << 20

// HeaderCacheStatus marks replayed responses so clients can tell a cache hit
// from a live upstream round trip.
const HeaderCacheStatus = "X-DC-Relay-Cache"

// ResponseCache stores full responses for the read endpoints that tolerate
// staleness: invite lookups and user lookups. Cache hits are served without
// consuming any rate limit budget.
type ResponseCache struct {
	store   cache.Cache
	runtime config.RuntimeConfig
	log     zerolog.Logger
}

// cachedResponse is the stored wire form of a replayable response.
type cachedResponse struct {
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
	Status int         `json:"status"`
}

// NewResponseCache creates a ResponseCache backed by the given cache.
func NewResponseCache(store cache.Cache, runtime config.RuntimeConfig, logger zerolog.Logger) *ResponseCache {
	return &ResponseCache{
		store:   store,
		runtime: runtime,
		log:     logger.With().Str("component", "respcache").Logger(),
	}
}

// ttlFor returns the cache TTL for a normalized GET path, or false when the
// endpoint is not cacheable. Only invite and user lookups qualify; /users/@me
// is excluded because it is credential-dependent.
func (rc *ResponseCache) ttlFor(method, path string) (time.Duration, bool) {
	if method != http.MethodGet {
		return 0, false
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) != 2 || segments[1] == "" {
		return 0, false
	}

	cfg := rc.runtime.Get()
	switch segments[0] {
	case "invites":
		return cfg.RespCache.GetInviteTTL(), true
	case "users":
		if segments[1] == "@me" {
			return 0, false
		}
		return cfg.RespCache.GetUserTTL(), true
	}
	return 0, false
}

func cacheKey(path string) string {
	return "resp:" + path
}

// Replay serves the request from cache if a stored response exists.
// Returns true when the response was written.
func (rc *ResponseCache) Replay(w http.ResponseWriter, r *http.Request, path string) bool {
	if _, ok := rc.ttlFor(r.Method, path); !ok {
		return false
	}

	raw, err := rc.store.Get(r.Context(), cacheKey(path))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			rc.log.Debug().Err(err).Str("path", path).Msg("response cache lookup failed")
		}
		return false
	}

	var stored cachedResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		rc.log.Warn().Err(err).Str("path", path).Msg("corrupt cached response, ignoring")
		return false
	}

	for name, values := range stored.Header {
		w.Header()[name] = values
	}
	w.Header().Set(HeaderCacheStatus, "hit")
	w.WriteHeader(stored.Status)
	if _, err := w.Write(stored.Body); err != nil {
		rc.log.Debug().Err(err).Msg("failed to write cached response")
	}
	return true
}

// MaybeStore captures a successful upstream response for a cacheable endpoint.
// The body is buffered and reassembled so the client still receives it; bodies
// over maxCacheableBody are passed through uncached.
func (rc *ResponseCache) MaybeStore(resp *http.Response, path string) {
	ttl, ok := rc.ttlFor(resp.Request.Method, path)
	if !ok || resp.StatusCode != http.StatusOK || resp.Body == nil {
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCacheableBody+1))
	resp.Body = &reassembledBody{
		Reader: io.MultiReader(bytes.NewReader(body), resp.Body),
		closer: resp.Body,
	}
	if err != nil || len(body) > maxCacheableBody {
		return
	}

	stored := cachedResponse{
		Status: resp.StatusCode,
		Header: sanitizeHeader(resp.Header),
		Body:   body,
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		rc.log.Warn().Err(err).Msg("failed to encode response for cache")
		return
	}

	// The request context may be canceled once the client has its response;
	// the write should still land.
	if err := rc.store.SetWithTTL(context.Background(), cacheKey(path), raw, ttl); err != nil {
		rc.log.Debug().Err(err).Str("path", path).Msg("response cache store failed")
		return
	}

	rc.log.Debug().
		Str("path", path).
		Dur("ttl", ttl).
		Int("size", len(body)).
		Msg("response cached")
}

// sanitizeHeader copies a response header with the per-request rate-limit
// fields removed: a replayed response must not leak another request's bucket
// state.
func sanitizeHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		if strings.HasPrefix(strings.ToLower(name), "x-ratelimit-") {
			continue
		}
		if http.CanonicalHeaderKey(name) == "Retry-After" {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}
