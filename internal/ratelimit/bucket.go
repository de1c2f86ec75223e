package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/omarluq/dc-relay/internal/metrics"
)

// Bucket tracks the live rate-limit state for one bucket key: the last
// authoritative limit, the optimistically decremented remaining count, the
// reset deadline, and a FIFO queue of waiters.
//
// All admission decisions on a bucket are serialized under its mutex;
// distinct buckets admit fully independently. Waiters suspend on a channel
// and never occupy a goroutine's underlying thread while blocked.
type Bucket struct {
	key  string
	sink metrics.Sink

	mu        sync.Mutex
	limit     int // 0 until the first response has been reconciled
	remaining int
	resetAt   time.Time
	queue     *list.List // of *waiter, FIFO by arrival
	wake      *time.Timer
}

// waiter is a suspended admission request. Ownership stays with the
// acquiring call until the ready channel is closed, at which point
// permission to proceed transfers to that one request.
type waiter struct {
	ready    chan struct{}
	admitted bool
}

func newBucket(key string, sink metrics.Sink) *Bucket {
	return &Bucket{
		key:   key,
		sink:  sink,
		queue: list.New(),
	}
}

// Key returns the bucket key this state is tracked under.
func (b *Bucket) Key() string {
	return b.key
}

// acquire admits the caller through this bucket, suspending in FIFO order
// while the bucket is exhausted. It returns ctx.Err() if the context is
// canceled while queued; in that case the waiter is unlinked without
// disturbing queue order and without consuming a slot. If cancellation races
// an admission, the slot counts as consumed for this window since the
// decision was already published.
func (b *Bucket) acquire(ctx context.Context) error {
	b.mu.Lock()
	if b.queue.Len() == 0 && b.tryConsumeLocked(time.Now()) {
		b.mu.Unlock()
		b.sink.RequestAdmitted(b.key)
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	elem := b.queue.PushBack(w)
	b.sink.SetQueueDepth(b.key, b.queue.Len())
	b.scheduleWakeLocked(time.Now())
	b.mu.Unlock()

	b.sink.RequestQueued(b.key)

	select {
	case <-w.ready:
		b.sink.RequestAdmitted(b.key)
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		if w.admitted {
			// Admission raced the cancellation: the optimistic decrement was
			// already applied, so the slot stays consumed for this window.
			b.mu.Unlock()
			return ctx.Err()
		}
		b.queue.Remove(elem)
		b.sink.SetQueueDepth(b.key, b.queue.Len())
		b.mu.Unlock()
		return ctx.Err()
	}
}

// release notifies the bucket that a forwarded request completed, so the
// queue head is re-evaluated even when the completion itself did not change
// remaining (a reset boundary may have passed meanwhile).
func (b *Bucket) release() {
	b.mu.Lock()
	b.pumpLocked(time.Now())
	b.mu.Unlock()
}

// Reconcile overwrites the optimistic state with upstream-reported values.
// Upstream truth wins unconditionally, even if it drives remaining below
// what the scheduler believed. Applying the same response twice yields the
// same state as applying it once.
func (b *Bucket) Reconcile(limit, remaining int, resetAfter time.Duration) {
	b.reconcileAt(time.Now(), limit, remaining, resetAfter)
}

func (b *Bucket) reconcileAt(now time.Time, limit, remaining int, resetAfter time.Duration) {
	b.mu.Lock()
	b.limit = limit
	b.remaining = remaining
	if resetAfter > 0 {
		b.resetAt = now.Add(resetAfter)
	} else {
		b.resetAt = time.Time{}
	}
	b.pumpLocked(now)
	b.mu.Unlock()
}

// freeze applies a hard 429 signal: no admissions until now+retryAfter,
// regardless of header presence.
func (b *Bucket) freeze(retryAfter time.Duration) {
	now := time.Now()
	b.mu.Lock()
	b.remaining = 0
	b.resetAt = now.Add(retryAfter)
	b.scheduleWakeLocked(now)
	b.mu.Unlock()
}

// tryConsumeLocked applies one optimistic decrement if the bucket can admit
// now. A bucket that has never seen a response (limit unknown) admits
// immediately; correctness is restored once the first reconcile arrives.
func (b *Bucket) tryConsumeLocked(now time.Time) bool {
	if b.remaining > 0 {
		b.remaining--
		return true
	}
	if now.Before(b.resetAt) {
		return false
	}
	if b.limit <= 0 {
		// Optimistic fast path before the first reconciliation.
		return true
	}
	// The reset boundary passed: treat remaining as refreshed to limit,
	// then consume one slot. The next deadline comes from response headers.
	b.remaining = b.limit - 1
	b.resetAt = time.Time{}
	return true
}

// pumpLocked admits queued waiters from the head until the bucket blocks or
// the queue drains. This is the single place admission decisions are made
// for queued requests, so decisions never interleave.
func (b *Bucket) pumpLocked(now time.Time) {
	for {
		elem := b.queue.Front()
		if elem == nil {
			break
		}
		if !b.tryConsumeLocked(now) {
			b.scheduleWakeLocked(now)
			return
		}
		b.queue.Remove(elem)
		w := elem.Value.(*waiter)
		w.admitted = true
		close(w.ready)
	}
	b.sink.SetQueueDepth(b.key, 0)
	if b.wake != nil {
		b.wake.Stop()
		b.wake = nil
	}
}

// scheduleWakeLocked arms a timer to re-pump the queue at the reset
// deadline. Re-arming replaces any earlier timer so only one wake is
// outstanding per bucket.
func (b *Bucket) scheduleWakeLocked(now time.Time) {
	b.sink.SetQueueDepth(b.key, b.queue.Len())
	if b.queue.Len() == 0 {
		return
	}
	delay := b.resetAt.Sub(now)
	if delay <= 0 {
		delay = time.Millisecond
	}
	if b.wake != nil {
		b.wake.Stop()
	}
	b.wake = time.AfterFunc(delay, func() {
		b.mu.Lock()
		b.pumpLocked(time.Now())
		b.mu.Unlock()
	})
}

// state returns the current (limit, remaining, resetAt) for inspection.
func (b *Bucket) state() (limit, remaining int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit, b.remaining, b.resetAt
}

// queueLen returns the number of pending waiters.
func (b *Bucket) queueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}
