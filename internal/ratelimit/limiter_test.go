package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/dc-relay/internal/metrics"
)

func newTestLimiter() *Limiter {
	// High RPS so global pacing never interferes with bucket assertions.
	return NewLimiter(100000, metrics.Noop{}, zerolog.Nop())
}

func stateHeader(limit, remaining string, resetAfter, bucket string) http.Header {
	h := http.Header{}
	h.Set(HeaderLimit, limit)
	h.Set(HeaderRemaining, remaining)
	h.Set(HeaderResetAfter, resetAfter)
	if bucket != "" {
		h.Set(HeaderBucket, bucket)
	}
	return h
}

func TestLimiter_AcquireDoneRoundTrip(t *testing.T) {
	l := newTestLimiter()
	ctx := context.Background()
	route := ResolveRoute("GET", "/channels/123/messages")

	ticket, err := l.Acquire(ctx, route)
	require.NoError(t, err)
	assert.Equal(t, route.Key, ticket.Bucket())

	ticket.Done(http.StatusOK, stateHeader("5", "4", "60", ""), nil)

	_, remaining, _ := ticket.bucket.state()
	assert.Equal(t, 4, remaining)
}

func TestLimiter_DoneIsIdempotent(t *testing.T) {
	l := newTestLimiter()
	route := ResolveRoute("GET", "/channels/123/messages")

	ticket, err := l.Acquire(context.Background(), route)
	require.NoError(t, err)

	h := stateHeader("5", "4", "60", "")
	ticket.Done(http.StatusOK, h, nil)
	ticket.Done(http.StatusOK, stateHeader("5", "0", "60", ""), nil)
	ticket.Abort()

	// Only the first Done applied.
	_, remaining, _ := ticket.bucket.state()
	assert.Equal(t, 4, remaining)
}

func TestLimiter_BucketIdentityCorrection(t *testing.T) {
	l := newTestLimiter()
	ctx := context.Background()
	route := ResolveRoute("GET", "/channels/123/messages")

	first, err := l.Acquire(ctx, route)
	require.NoError(t, err)
	assert.Equal(t, "GET:/channels/123/messages", first.Bucket())

	// Upstream reveals the authoritative bucket hash for this shape.
	first.Done(http.StatusOK, stateHeader("5", "4", "60", "abcd1234"), nil)

	// Future arrivals on the same shape resolve to the corrected key.
	second, err := l.Acquire(ctx, route)
	require.NoError(t, err)
	assert.Equal(t, "hash:abcd1234:123", second.Bucket())
	second.Abort()

	// The corrected bucket was seeded with the authoritative state,
	// minus the slot the second acquire consumed.
	_, remaining, _ := second.bucket.state()
	assert.Equal(t, 3, remaining)
}

func TestLimiter_CorrectionKeepsMajorsSeparate(t *testing.T) {
	l := newTestLimiter()
	ctx := context.Background()

	routeA := ResolveRoute("GET", "/channels/111/messages")
	routeB := ResolveRoute("GET", "/channels/222/messages")

	ticket, err := l.Acquire(ctx, routeA)
	require.NoError(t, err)
	ticket.Done(http.StatusOK, stateHeader("5", "4", "60", "shared-hash"), nil)

	// Both shapes share the hash, but distinct channels must still account
	// separately.
	a, err := l.Acquire(ctx, routeA)
	require.NoError(t, err)
	b, err := l.Acquire(ctx, routeB)
	require.NoError(t, err)

	assert.Equal(t, "hash:shared-hash:111", a.Bucket())
	assert.Equal(t, "hash:shared-hash:222", b.Bucket())
	assert.NotSame(t, a.bucket, b.bucket)

	a.Abort()
	b.Abort()
}

func TestLimiter_BucketScoped429FreezesOnlyThatBucket(t *testing.T) {
	l := newTestLimiter()
	ctx := context.Background()
	route := ResolveRoute("POST", "/channels/123/messages")

	ticket, err := l.Acquire(ctx, route)
	require.NoError(t, err)

	body := []byte(`{"message": "You are being rate limited.", "retry_after": 3600, "global": false}`)
	h := http.Header{}
	h.Set(HeaderRetryAfter, "3600")
	ticket.Done(http.StatusTooManyRequests, h, body)

	// The bucket is frozen well into the future; the global limiter is not.
	assert.True(t, l.Global().FrozenUntil().IsZero())
	_, _, resetAt := ticket.bucket.state()
	assert.Greater(t, time.Until(resetAt), 30*time.Minute)

	// Other buckets are unaffected.
	other, err := l.Acquire(ctx, ResolveRoute("POST", "/channels/999/messages"))
	require.NoError(t, err)
	other.Abort()
}

func TestLimiter_Global429FreezesEverything(t *testing.T) {
	l := newTestLimiter()
	ctx := context.Background()
	route := ResolveRoute("GET", "/users/@me")

	ticket, err := l.Acquire(ctx, route)
	require.NoError(t, err)

	body := []byte(`{"message": "You are being rate limited.", "retry_after": 0.08, "global": true}`)
	ticket.Done(http.StatusTooManyRequests, http.Header{}, body)

	assert.False(t, l.Global().FrozenUntil().IsZero())

	// Any route now waits out the freeze window.
	start := time.Now()
	other, err := l.Acquire(ctx, ResolveRoute("GET", "/gateway/bot"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	other.Abort()
}

func TestLimiter_429WithoutBodyFallsBackToHeaders(t *testing.T) {
	l := newTestLimiter()
	route := ResolveRoute("GET", "/invites/abc")

	ticket, err := l.Acquire(context.Background(), route)
	require.NoError(t, err)

	h := http.Header{}
	h.Set(HeaderRetryAfter, "1800")
	ticket.Done(http.StatusTooManyRequests, h, nil)

	_, _, resetAt := ticket.bucket.state()
	assert.Greater(t, time.Until(resetAt), 25*time.Minute)
}

func TestLimiter_429WithStateKeepsAuthoritativeLimit(t *testing.T) {
	l := newTestLimiter()
	route := ResolveRoute("POST", "/channels/7/messages")

	ticket, err := l.Acquire(context.Background(), route)
	require.NoError(t, err)

	h := stateHeader("5", "0", "0.05", "")
	h.Set(HeaderRetryAfter, "0.05")
	ticket.Done(http.StatusTooManyRequests, h, nil)

	limit, remaining, resetAt := ticket.bucket.state()
	assert.Equal(t, 5, limit)
	assert.Equal(t, 0, remaining)
	assert.False(t, resetAt.IsZero())

	// Once the freeze expires the bucket refreshes from the stored limit
	// instead of dropping back to the unknown-limit fast path.
	time.Sleep(80 * time.Millisecond)
	second, err := l.Acquire(context.Background(), route)
	require.NoError(t, err)
	second.Abort()

	limit, remaining, _ = second.bucket.state()
	assert.Equal(t, 5, limit)
	assert.Equal(t, 4, remaining)
}

func TestLimiter_CancelWhileQueued(t *testing.T) {
	l := newTestLimiter()
	route := ResolveRoute("GET", "/channels/5/messages")

	ticket, err := l.Acquire(context.Background(), route)
	require.NoError(t, err)
	ticket.Done(http.StatusOK, stateHeader("1", "0", "3600", ""), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, route)
	require.ErrorIs(t, err, ErrContextCancelled)
}

func TestLimiter_ResponseWithoutHeadersChangesNothing(t *testing.T) {
	l := newTestLimiter()
	route := ResolveRoute("GET", "/channels/5/messages")

	ticket, err := l.Acquire(context.Background(), route)
	require.NoError(t, err)
	ticket.Done(http.StatusOK, stateHeader("5", "2", "60", ""), nil)

	second, err := l.Acquire(context.Background(), route)
	require.NoError(t, err)
	second.Done(http.StatusOK, http.Header{}, nil)

	// The optimistic decrement from the second acquire stands; absent
	// headers never imply new state.
	limit, remaining, _ := second.bucket.state()
	assert.Equal(t, 5, limit)
	assert.Equal(t, 1, remaining)
}

func TestLimiter_BucketsCount(t *testing.T) {
	l := newTestLimiter()
	ctx := context.Background()

	for _, path := range []string{"/channels/1/messages", "/channels/2/messages", "/gateway/bot"} {
		ticket, err := l.Acquire(ctx, ResolveRoute("GET", path))
		require.NoError(t, err)
		ticket.Abort()
	}

	assert.Equal(t, 3, l.Buckets())
}
