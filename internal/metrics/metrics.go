// Package metrics provides the metrics sink for dc-relay's admission engine.
//
// The core emits counter and gauge updates through the Sink interface; the
// HTTP exporter endpoint serves a JSON snapshot of the Recorder. When metrics
// are disabled, Noop swallows all updates.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
)

// Sink receives counter and gauge updates from the admission engine.
// All implementations must be safe for concurrent use.
type Sink interface {
	// RequestAdmitted records a request admitted through the given bucket.
	RequestAdmitted(bucket string)

	// RequestQueued records a request that had to wait on the given bucket.
	RequestQueued(bucket string)

	// RateLimited records an upstream 429 observed for the given bucket.
	// The global flag marks credential-wide (not per-bucket) limit hits.
	RateLimited(bucket string, global bool)

	// SetBucketCount updates the gauge of live buckets in the registry.
	SetBucketCount(n int)

	// SetQueueDepth updates the pending-waiter gauge for the given bucket.
	SetQueueDepth(bucket string, depth int)
}

// Snapshot is a point-in-time view of the recorded metrics.
type Snapshot struct {
	RateLimitedByBucket map[string]uint64 `json:"rate_limited_by_bucket,omitempty"`
	Admitted            uint64            `json:"requests_admitted"`
	Queued              uint64            `json:"requests_queued"`
	RateLimited         uint64            `json:"rate_limited"`
	GlobalRateLimited   uint64            `json:"global_rate_limited"`
	Buckets             int               `json:"buckets"`
	QueueDepth          int               `json:"queue_depth"`
}

// Recorder is an in-memory Sink backed by atomics, suitable for serving
// as a JSON snapshot from the /metrics endpoint.
type Recorder struct {
	admitted    atomic.Uint64
	queued      atomic.Uint64
	rateLimited atomic.Uint64
	globalRL    atomic.Uint64
	buckets     atomic.Int64

	mu          sync.Mutex
	rlByBucket  map[string]uint64
	depthByKey  map[string]int
}

// NewRecorder creates a Recorder with empty counters.
func NewRecorder() *Recorder {
	return &Recorder{
		rlByBucket: make(map[string]uint64),
		depthByKey: make(map[string]int),
	}
}

// RequestAdmitted increments the admitted-requests counter.
func (r *Recorder) RequestAdmitted(_ string) {
	r.admitted.Add(1)
}

// RequestQueued increments the queued-requests counter.
func (r *Recorder) RequestQueued(_ string) {
	r.queued.Add(1)
}

// RateLimited increments the 429 counters, tagged per bucket.
func (r *Recorder) RateLimited(bucket string, global bool) {
	r.rateLimited.Add(1)
	if global {
		r.globalRL.Add(1)
	}

	r.mu.Lock()
	r.rlByBucket[bucket]++
	r.mu.Unlock()
}

// SetBucketCount updates the live-bucket gauge.
func (r *Recorder) SetBucketCount(n int) {
	r.buckets.Store(int64(n))
}

// SetQueueDepth updates the per-bucket queue depth gauge.
// A depth of zero removes the entry so drained buckets do not accumulate.
func (r *Recorder) SetQueueDepth(bucket string, depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if depth <= 0 {
		delete(r.depthByKey, bucket)
		return
	}
	r.depthByKey[bucket] = depth
}

// Snapshot returns a consistent copy of all counters and gauges.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	byBucket := make(map[string]uint64, len(r.rlByBucket))
	for k, v := range r.rlByBucket {
		byBucket[k] = v
	}
	depth := lo.Sum(lo.Values(r.depthByKey))
	r.mu.Unlock()

	return Snapshot{
		Admitted:            r.admitted.Load(),
		Queued:              r.queued.Load(),
		RateLimited:         r.rateLimited.Load(),
		GlobalRateLimited:   r.globalRL.Load(),
		Buckets:             int(r.buckets.Load()),
		QueueDepth:          depth,
		RateLimitedByBucket: byBucket,
	}
}

// Compile-time interface checks.
var (
	_ Sink = (*Recorder)(nil)
	_ Sink = Noop{}
)

// Noop is a Sink that discards all updates. Used when metrics are disabled.
type Noop struct{}

// RequestAdmitted is a no-op.
func (Noop) RequestAdmitted(string) {}

// RequestQueued is a no-op.
func (Noop) RequestQueued(string) {}

// RateLimited is a no-op.
func (Noop) RateLimited(string, bool) {}

// SetBucketCount is a no-op.
func (Noop) SetBucketCount(int) {}

// SetQueueDepth is a no-op.
func (Noop) SetQueueDepth(string, int) {}
