package proxy

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var inner string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	require.NotEmpty(t, inner)
	assert.Equal(t, inner, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddleware_PreservesClientID(t *testing.T) {
	var inner string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "client-supplied-id", inner)
	assert.Equal(t, "client-supplied-id", rec.Header().Get("X-Request-ID"))
}

func TestConcurrencyLimiter_AcquireRelease(t *testing.T) {
	l := NewConcurrencyLimiter(2)

	require.True(t, l.TryAcquire())
	require.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	assert.Equal(t, int64(2), l.CurrentInFlight())

	l.Release()
	assert.True(t, l.TryAcquire())
}

func TestConcurrencyLimiter_UnlimitedWhenZero(t *testing.T) {
	l := NewConcurrencyLimiter(0)

	for i := 0; i < 100; i++ {
		require.True(t, l.TryAcquire())
	}
	assert.Equal(t, int64(100), l.CurrentInFlight())
}

func TestConcurrencyLimiter_SetLimit(t *testing.T) {
	l := NewConcurrencyLimiter(1)
	require.True(t, l.TryAcquire())
	require.False(t, l.TryAcquire())

	l.SetLimit(2)
	assert.Equal(t, int64(2), l.GetLimit())
	assert.True(t, l.TryAcquire())

	// Shrinking below current in-flight rejects new work but never evicts.
	l.SetLimit(1)
	assert.False(t, l.TryAcquire())
	assert.Equal(t, int64(2), l.CurrentInFlight())
}

func TestConcurrencyLimiter_ConcurrentAcquire(t *testing.T) {
	l := NewConcurrencyLimiter(10)

	var wg sync.WaitGroup
	var admitted sync.Map
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				admitted.Store(i, true)
			}
		}()
	}
	wg.Wait()

	count := 0
	admitted.Range(func(any, any) bool { count++; return true })
	assert.Equal(t, 10, count)
	assert.Equal(t, int64(10), l.CurrentInFlight())
}

func TestConcurrencyMiddleware_RejectsWith503(t *testing.T) {
	l := NewConcurrencyLimiter(1)
	require.True(t, l.TryAcquire()) // occupy the only slot

	handler := ConcurrencyMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "maximum capacity")

	// Releasing the slot lets requests through again.
	l.Release()
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), l.CurrentInFlight())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", formatDuration(0))
	assert.Equal(t, "250µs", formatDuration(250*time.Microsecond))
	assert.Equal(t, "1.50ms", formatDuration(1500*time.Microsecond))
	assert.Equal(t, "2.00s", formatDuration(2*time.Second))
	assert.Equal(t, "1m30s", formatDuration(90*time.Second))
}

func TestStatusSymbol(t *testing.T) {
	assert.Equal(t, "✓", statusSymbol(200))
	assert.Equal(t, "✓", statusSymbol(304))
	assert.Equal(t, "⚠", statusSymbol(429))
	assert.Equal(t, "✗", statusSymbol(502))
}
