package ratelimit

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/omarluq/dc-relay/internal/metrics"
)

// shardCount is the number of independent registry partitions. Creation of a
// bucket for an unseen key only takes its own shard's write lock, so lookups
// for other keys never block behind it.
const shardCount = 64

// Registry is a sharded concurrent map from bucket key to Bucket. Buckets
// are created lazily on first observation and live for the process lifetime;
// the key space is bounded by the upstream's route surface, so entries are
// never evicted.
type Registry struct {
	shards [shardCount]registryShard
	sink   metrics.Sink
	count  atomic.Int64
}

type registryShard struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
}

// NewRegistry creates an empty Registry reporting bucket counts to sink.
func NewRegistry(sink metrics.Sink) *Registry {
	r := &Registry{sink: sink}
	for i := range r.shards {
		r.shards[i].buckets = make(map[string]*Bucket)
	}
	return r
}

// GetOrCreate returns the stable Bucket handle for key, creating it if this
// is the first observation. Safe under arbitrary concurrent callers; all
// holders of the handle observe the same mutations.
func (r *Registry) GetOrCreate(key string) *Bucket {
	shard := &r.shards[xxhash.Sum64String(key)%shardCount]

	shard.mu.RLock()
	b := shard.buckets[key]
	shard.mu.RUnlock()
	if b != nil {
		return b
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if b = shard.buckets[key]; b != nil {
		return b
	}
	b = newBucket(key, r.sink)
	shard.buckets[key] = b
	r.sink.SetBucketCount(int(r.count.Add(1)))
	return b
}

// Len returns the number of live buckets.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// overrideTable records the authoritative bucket hash the upstream assigned
// to a route template, replacing the locally predicted key for all future
// arrivals on that shape. Sharded the same way as the bucket registry.
type overrideTable struct {
	shards [shardCount]overrideShard
}

type overrideShard struct {
	mu     sync.RWMutex
	hashes map[string]string
}

func newOverrideTable() *overrideTable {
	t := &overrideTable{}
	for i := range t.shards {
		t.shards[i].hashes = make(map[string]string)
	}
	return t
}

func (t *overrideTable) lookup(template string) (string, bool) {
	shard := &t.shards[xxhash.Sum64String(template)%shardCount]
	shard.mu.RLock()
	hash, ok := shard.hashes[template]
	shard.mu.RUnlock()
	return hash, ok
}

// store records hash for template and reports whether the mapping changed.
func (t *overrideTable) store(template, hash string) bool {
	shard := &t.shards[xxhash.Sum64String(template)%shardCount]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if shard.hashes[template] == hash {
		return false
	}
	shard.hashes[template] = hash
	return true
}
