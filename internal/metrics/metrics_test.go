package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.RequestAdmitted("a")
	r.RequestAdmitted("b")
	r.RequestQueued("a")
	r.RateLimited("a", false)
	r.RateLimited("a", true)
	r.SetBucketCount(7)

	snap := r.Snapshot()
	assert.Equal(t, uint64(2), snap.Admitted)
	assert.Equal(t, uint64(1), snap.Queued)
	assert.Equal(t, uint64(2), snap.RateLimited)
	assert.Equal(t, uint64(1), snap.GlobalRateLimited)
	assert.Equal(t, 7, snap.Buckets)
	assert.Equal(t, uint64(2), snap.RateLimitedByBucket["a"])
}

func TestRecorder_QueueDepthSumsAcrossBuckets(t *testing.T) {
	r := NewRecorder()

	r.SetQueueDepth("a", 3)
	r.SetQueueDepth("b", 2)
	assert.Equal(t, 5, r.Snapshot().QueueDepth)

	// A drained bucket drops out of the gauge entirely.
	r.SetQueueDepth("a", 0)
	assert.Equal(t, 2, r.Snapshot().QueueDepth)

	r.SetQueueDepth("b", -1)
	assert.Equal(t, 0, r.Snapshot().QueueDepth)
}

func TestRecorder_SnapshotIsACopy(t *testing.T) {
	r := NewRecorder()
	r.RateLimited("a", false)

	snap := r.Snapshot()
	snap.RateLimitedByBucket["a"] = 999

	assert.Equal(t, uint64(1), r.Snapshot().RateLimitedByBucket["a"])
}

func TestRecorder_ConcurrentUpdates(t *testing.T) {
	r := NewRecorder()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.RequestAdmitted("shared")
				r.RateLimited("shared", false)
				r.SetQueueDepth("shared", j)
			}
		}()
	}
	wg.Wait()

	snap := r.Snapshot()
	assert.Equal(t, uint64(1600), snap.Admitted)
	assert.Equal(t, uint64(1600), snap.RateLimited)
	assert.Equal(t, uint64(1600), snap.RateLimitedByBucket["shared"])
}

func TestNoop_DiscardsEverything(t *testing.T) {
	var s Sink = Noop{}

	// Must not panic; nothing to observe.
	s.RequestAdmitted("a")
	s.RequestQueued("a")
	s.RateLimited("a", true)
	s.SetBucketCount(10)
	s.SetQueueDepth("a", 5)
}
