package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRistretto(t *testing.T) *ristrettoCache {
	t.Helper()
	c, err := newRistrettoCache(RistrettoConfig{})
	require.NoError(t, err)
	t.Cleanup(func() {
		//nolint:errcheck
		c.Close()
	})
	return c
}

func TestRistretto_SetGetRoundTrip(t *testing.T) {
	c := newTestRistretto(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("value")))
	c.cache.Wait() // writes are buffered

	got, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)
}

func TestRistretto_GetMiss(t *testing.T) {
	c := newTestRistretto(t)

	_, err := c.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRistretto_GetReturnsCopy(t *testing.T) {
	c := newTestRistretto(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("value")))
	c.cache.Wait()

	got, err := c.Get(ctx, "key")
	require.NoError(t, err)
	got[0] = 'X'

	// The stored entry is unaffected by caller mutation.
	again, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}

func TestRistretto_TTLExpiry(t *testing.T) {
	c := newTestRistretto(t)
	ctx := context.Background()

	require.NoError(t, c.SetWithTTL(ctx, "key", []byte("value"), 50*time.Millisecond))
	c.cache.Wait()

	_, err := c.Get(ctx, "key")
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	_, err = c.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRistretto_Delete(t *testing.T) {
	c := newTestRistretto(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("value")))
	c.cache.Wait()

	require.NoError(t, c.Delete(ctx, "key"))
	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is fine.
	require.NoError(t, c.Delete(ctx, "never-existed"))
}

func TestRistretto_ClosedOperationsFail(t *testing.T) {
	c, err := newRistrettoCache(RistrettoConfig{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close()) // idempotent

	_, err = c.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Set(ctx, "key", nil), ErrClosed)
	assert.ErrorIs(t, c.Delete(ctx, "key"), ErrClosed)
	assert.Equal(t, Stats{}, c.Stats())
}

func TestRistretto_CanceledContext(t *testing.T) {
	c := newTestRistretto(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, c.Set(ctx, "key", nil), context.Canceled)
}

func TestRistretto_StatsCountHitsAndMisses(t *testing.T) {
	c := newTestRistretto(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("value")))
	c.cache.Wait()

	_, _ = c.Get(ctx, "key")
	_, _ = c.Get(ctx, "missing")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}
