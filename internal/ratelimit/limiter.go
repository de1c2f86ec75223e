package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/omarluq/dc-relay/internal/metrics"
)

// ErrContextCancelled is returned when the context is canceled while a
// request waits for global or bucket admission.
var ErrContextCancelled = errors.New("ratelimit: context canceled")

// Limiter is the admission scheduler: it orchestrates global-limiter wait,
// bucket lookup and creation, FIFO bucket admission, and reconciliation of
// bucket state from upstream responses.
type Limiter struct {
	global    *GlobalLimiter
	registry  *Registry
	overrides *overrideTable
	sink      metrics.Sink
	log       zerolog.Logger
}

// NewLimiter creates a Limiter pacing the credential-wide ceiling at
// globalRPS requests per second and reporting to sink.
func NewLimiter(globalRPS int, sink metrics.Sink, log zerolog.Logger) *Limiter {
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Limiter{
		global:    NewGlobalLimiter(globalRPS),
		registry:  NewRegistry(sink),
		overrides: newOverrideTable(),
		sink:      sink,
		log:       log.With().Str("component", "ratelimit").Logger(),
	}
}

// Global returns the shared global limiter (for hot-reload and inspection).
func (l *Limiter) Global() *GlobalLimiter {
	return l.global
}

// Buckets returns the number of live buckets.
func (l *Limiter) Buckets() int {
	return l.registry.Len()
}

// Acquire admits one request for the given route: global wait first, then
// FIFO admission on the route's bucket (override-corrected if the upstream
// has already revealed the authoritative bucket for this shape).
//
// The returned Ticket must be finished exactly once: Done after a completed
// upstream round trip, Abort when the outcome is unknown.
func (l *Limiter) Acquire(ctx context.Context, route Route) (*Ticket, error) {
	if err := l.global.Wait(ctx); err != nil {
		return nil, ErrContextCancelled
	}

	key := route.Key
	if hash, ok := l.overrides.lookup(route.Template); ok {
		key = correctedKey(hash, route)
	}

	bucket := l.registry.GetOrCreate(key)
	if err := bucket.acquire(ctx); err != nil {
		return nil, ErrContextCancelled
	}

	return &Ticket{limiter: l, route: route, bucket: bucket}, nil
}

// Ticket is one admitted request's handle on its bucket. It carries the
// permission to proceed granted by Acquire and the obligation to report the
// outcome back so the bucket can re-evaluate its queue.
type Ticket struct {
	limiter  *Limiter
	route    Route
	bucket   *Bucket
	finished atomic.Bool
}

// Bucket returns the key of the bucket this ticket was admitted through.
func (t *Ticket) Bucket() string {
	return t.bucket.Key()
}

// Done reconciles bucket and global state from a completed upstream
// response. For 429 responses, body should hold the (bounded) response body
// so the authoritative retry_after and global flag can be read; it may be
// nil, in which case headers alone are used. Done is a no-op after the
// ticket has already been finished.
func (t *Ticket) Done(status int, header http.Header, body []byte) {
	if !t.finished.CompareAndSwap(false, true) {
		return
	}

	info := parseHeaders(header)

	if info.bucket != "" {
		t.applyBucketIdentity(info)
	}

	switch {
	case status == http.StatusTooManyRequests:
		t.applyRateLimited(info, body)
	case info.hasState:
		t.bucket.Reconcile(info.limit, info.remaining, info.resetAfter)
	default:
		// No rate-limit headers on a non-429 response: no new information.
	}

	t.bucket.release()
}

// Abort finishes the ticket without touching bucket state. Used for network
// failures, where the outcome is unknown: the optimistic decrement already
// applied stands (the upstream may have processed the request), and the
// queue head is re-evaluated.
func (t *Ticket) Abort() {
	if !t.finished.CompareAndSwap(false, true) {
		return
	}
	t.bucket.release()
}

// applyBucketIdentity records the authoritative bucket hash for this route
// shape and seeds the corrected bucket. Only future arrivals resolve to the
// corrected key; waiters already queued on the predicted key drain normally
// (the corrected bucket receives the same authoritative state, so neither
// side over-admits).
func (t *Ticket) applyBucketIdentity(info headerInfo) {
	if t.limiter.overrides.store(t.route.Template, info.bucket) {
		t.limiter.log.Debug().
			Str("template", t.route.Template).
			Str("bucket", info.bucket).
			Str("predicted", t.route.Key).
			Msg("authoritative bucket identity learned")
	}

	key := correctedKey(info.bucket, t.route)
	if key == t.bucket.Key() || !info.hasState {
		return
	}
	t.limiter.registry.GetOrCreate(key).Reconcile(info.limit, info.remaining, info.resetAfter)
}

// applyRateLimited handles the hard 429 signal. Admission should have made
// this impossible, so it is logged as a tracking anomaly; the caller still
// receives the 429 verbatim.
func (t *Ticket) applyRateLimited(info headerInfo, body []byte) {
	retryAfter, global, message, ok := parse429Body(body)
	if !ok {
		global = info.global
		switch {
		case info.hasRetryAfter:
			retryAfter = info.retryAfter
		case info.hasState:
			retryAfter = info.resetAfter
		default:
			retryAfter = time.Second
		}
	}
	global = global || info.global

	if info.hasState {
		// Keep the authoritative limit: without this a never-reconciled
		// bucket would return to the unknown-limit fast path the moment the
		// freeze expires. The freeze below still wins on remaining/resetAt.
		t.bucket.Reconcile(info.limit, info.remaining, info.resetAfter)
	}

	if global {
		t.limiter.global.Freeze(retryAfter)
	} else {
		t.bucket.freeze(retryAfter)
	}
	t.limiter.sink.RateLimited(t.bucket.Key(), global)

	t.limiter.log.Warn().
		Str("bucket", t.bucket.Key()).
		Str("route", t.route.Template).
		Bool("global", global).
		Dur("retry_after", retryAfter).
		Str("message", message).
		Msg("upstream rate limit hit: bucket tracking anomaly")
}

// correctedKey combines the upstream-assigned bucket hash with the route's
// major parameters: several templates may share one hash, but each major
// parameter set still accounts separately.
func correctedKey(hash string, route Route) string {
	return "hash:" + hash + ":" + route.Majors
}
