package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/omarluq/dc-relay/internal/config"
	"github.com/omarluq/dc-relay/internal/health"
	"github.com/omarluq/dc-relay/internal/ratelimit"
)

// max429Body bounds how much of a 429 response body is sniffed for the
// authoritative retry_after. The upstream's rate limit body is tiny; anything
// larger is passed through unread.
const max429Body = 4096

// errUpstreamFailure marks 5xx responses for the circuit breaker.
var errUpstreamFailure = errors.New("proxy: upstream returned server error")

// ticketKey carries the per-request admission state through the reverse proxy.
type ticketKey struct{}

// requestState is the admission bookkeeping attached to each forwarded request.
type requestState struct {
	ticket      *ratelimit.Ticket
	breakerDone func(error)
	path        string // normalized path, used as the response cache key
}

// Handler forwards requests to the upstream API after rate-limit admission.
//
// Each request is resolved to the admission state of its credential, then to
// its predicted bucket, admitted through that limiter (global pacing first,
// then FIFO bucket admission), forwarded via httputil.ReverseProxy, and
// finally reconciled against the upstream's rate-limit response headers.
type Handler struct {
	target    *url.URL
	proxy     *httputil.ReverseProxy
	limiters  *ratelimit.LimiterMap
	runtime   config.RuntimeConfig
	breaker   *health.CircuitBreaker // nil when disabled
	respCache *ResponseCache         // nil when disabled
	log       zerolog.Logger
}

// NewHandler creates the proxy handler. breaker and respCache may be nil.
func NewHandler(
	runtime config.RuntimeConfig,
	limiters *ratelimit.LimiterMap,
	breaker *health.CircuitBreaker,
	respCache *ResponseCache,
	logger zerolog.Logger,
) (*Handler, error) {
	baseURL := runtime.Get().Upstream.GetEffectiveBaseURL()
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base URL %q: %w", baseURL, err)
	}

	h := &Handler{
		target:    target,
		limiters:  limiters,
		runtime:   runtime,
		breaker:   breaker,
		respCache: respCache,
		log:       logger.With().Str("component", "proxy").Logger(),
	}

	h.proxy = &httputil.ReverseProxy{
		Rewrite:        h.rewrite,
		FlushInterval:  -1, // Immediate flush for streamed bodies
		ModifyResponse: h.modifyResponse,
		ErrorHandler:   h.errorHandler,
	}

	return h, nil
}

// ServeHTTP admits the request through the rate limiter and forwards it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := ratelimit.NormalizePath(r.URL.Path)

	// Cached read endpoints are served without consuming any rate limit.
	if h.respCache != nil && h.respCache.Replay(w, r, path) {
		return
	}

	var breakerDone func(error)
	if h.breaker != nil {
		done, err := h.breaker.Allow()
		if err != nil {
			WriteError(w, http.StatusServiceUnavailable, "upstream temporarily unavailable")
			return
		}
		breakerDone = done
	}

	// Rate-limit state is tracked per credential, the same scoping the
	// upstream applies. Requests without their own token will be forwarded
	// with the configured one, so they share its admission state.
	token := r.Header.Get("Authorization")
	if token == "" {
		token = h.runtime.Get().Upstream.Token
	}

	route := ratelimit.ResolveRoute(r.Method, path)
	ticket, err := h.limiters.Get(token).Acquire(r.Context(), route)
	if err != nil {
		// Canceled while queued: the client is gone or its deadline expired.
		if breakerDone != nil {
			breakerDone(context.Canceled)
		}
		zerolog.Ctx(r.Context()).Debug().
			Str("route", route.Template).
			Msg("request canceled while waiting for admission")
		WriteError(w, http.StatusGatewayTimeout, "request canceled while waiting for rate limit")
		return
	}

	state := &requestState{ticket: ticket, breakerDone: breakerDone, path: path}
	r = r.WithContext(context.WithValue(r.Context(), ticketKey{}, state))

	h.proxy.ServeHTTP(w, r)
}

// rewrite points the outbound request at the upstream and injects the
// configured token when the client did not send its own Authorization.
func (h *Handler) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(h.target)
	pr.SetXForwarded()
	pr.Out.Host = h.target.Host

	cfg := h.runtime.Get()
	if token := cfg.Upstream.Token; token != "" && pr.Out.Header.Get("Authorization") == "" {
		pr.Out.Header.Set("Authorization", token)
	}
}

// modifyResponse reconciles bucket state from the upstream response before
// the body is streamed to the client. For 429s, a bounded prefix of the body
// is sniffed for the authoritative retry_after and then reassembled so the
// client still receives the response verbatim.
func (h *Handler) modifyResponse(resp *http.Response) error {
	state, _ := resp.Request.Context().Value(ticketKey{}).(*requestState)
	if state == nil {
		return nil
	}

	var sniffed []byte
	if resp.StatusCode == http.StatusTooManyRequests {
		var err error
		sniffed, err = sniffBody(resp, max429Body)
		if err != nil {
			// The headers still carry Retry-After; reconcile from those.
			h.log.Debug().Err(err).Msg("failed to read 429 body")
		}
	}

	state.ticket.Done(resp.StatusCode, resp.Header, sniffed)

	if state.breakerDone != nil {
		if health.ShouldCountAsFailure(resp.StatusCode, nil) {
			state.breakerDone(errUpstreamFailure)
		} else {
			state.breakerDone(nil)
		}
	}

	if h.respCache != nil {
		h.respCache.MaybeStore(resp, state.path)
	}

	return nil
}

// errorHandler finishes the ticket when the round trip fails outright. The
// outcome is unknown (the upstream may or may not have seen the request), so
// the optimistic decrement stands and only the queue is re-evaluated.
func (h *Handler) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if state, _ := r.Context().Value(ticketKey{}).(*requestState); state != nil {
		state.ticket.Abort()
		if state.breakerDone != nil {
			state.breakerDone(err)
		}
	}

	if errors.Is(err, context.Canceled) {
		// Client went away mid-flight; nothing useful to write.
		return
	}

	zerolog.Ctx(r.Context()).Warn().
		Err(err).
		Str("path", r.URL.Path).
		Msg("upstream request failed")
	WriteError(w, http.StatusBadGateway, "upstream connection failed")
}

// sniffBody reads up to limit bytes from resp.Body and reassembles the body
// so downstream consumers see the full original stream.
func sniffBody(resp *http.Response, limit int64) ([]byte, error) {
	if resp.Body == nil {
		return nil, nil
	}

	buf, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	resp.Body = &reassembledBody{
		Reader: io.MultiReader(bytes.NewReader(buf), resp.Body),
		closer: resp.Body,
	}
	return buf, err
}

// reassembledBody glues a sniffed prefix back onto the original body while
// preserving the original Close.
type reassembledBody struct {
	io.Reader
	closer io.Closer
}

func (b *reassembledBody) Close() error {
	return b.closer.Close()
}
