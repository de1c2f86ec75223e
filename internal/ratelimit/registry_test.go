package ratelimit

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/dc-relay/internal/metrics"
)

func TestRegistry_GetOrCreateReturnsStableHandle(t *testing.T) {
	r := NewRegistry(metrics.Noop{})

	a := r.GetOrCreate("GET:/channels/1/messages")
	b := r.GetOrCreate("GET:/channels/1/messages")
	assert.Same(t, a, b)

	c := r.GetOrCreate("GET:/channels/2/messages")
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_ConcurrentCreateSingleBucket(t *testing.T) {
	r := NewRegistry(metrics.Noop{})

	const goroutines = 32
	buckets := make([]*Bucket, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			buckets[i] = r.GetOrCreate("shared-key")
		}()
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		require.Same(t, buckets[0], buckets[i])
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_CountReportedToSink(t *testing.T) {
	rec := metrics.NewRecorder()
	r := NewRegistry(rec)

	for i := 0; i < 10; i++ {
		r.GetOrCreate(fmt.Sprintf("key-%d", i))
	}

	assert.Equal(t, 10, r.Len())
	assert.Equal(t, 10, rec.Snapshot().Buckets)
}

func TestOverrideTable_StoreAndLookup(t *testing.T) {
	tab := newOverrideTable()

	_, ok := tab.lookup("GET:/channels/{channel.id}/messages")
	assert.False(t, ok)

	assert.True(t, tab.store("GET:/channels/{channel.id}/messages", "abc123"))
	hash, ok := tab.lookup("GET:/channels/{channel.id}/messages")
	require.True(t, ok)
	assert.Equal(t, "abc123", hash)

	// Re-storing the same mapping reports no change.
	assert.False(t, tab.store("GET:/channels/{channel.id}/messages", "abc123"))

	// A different hash for the same shape replaces the mapping.
	assert.True(t, tab.store("GET:/channels/{channel.id}/messages", "def456"))
	hash, _ = tab.lookup("GET:/channels/{channel.id}/messages")
	assert.Equal(t, "def456", hash)
}
