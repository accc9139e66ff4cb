package sampler

import (
	"sync"
	"sync/atomic"

	"github.com/jihwankim/tierd/pkg/clock"
)

// HashSize is SAMPLE_HASH_SIZE from spec.md §6.
const HashSize = 65537

// Record is one page's accumulated sample data, per spec.md §4.3.
type Record struct {
	PageAddr uintptr

	reads        atomic.Uint64
	writes       atomic.Uint64
	latencySum   atomic.Uint64
	lastSampleNs atomic.Int64

	next *Record
}

func (r *Record) Reads() uint64       { return r.reads.Load() }
func (r *Record) Writes() uint64      { return r.writes.Load() }
func (r *Record) LatencySum() uint64  { return r.latencySum.Load() }
func (r *Record) LastSampleNs() int64 { return r.lastSampleNs.Load() }

type bucket struct {
	mu   sync.RWMutex
	head *Record
}

// Records is the sampler's own hash table, guarded with the same
// per-bucket readers-writer discipline as pkg/pagestats — spec.md §5
// calls for "its own readers-writer lock, identical discipline."
type Records struct {
	buckets []bucket
}

// NewRecords builds a table with HashSize buckets.
func NewRecords() *Records {
	return &Records{buckets: make([]bucket, HashSize)}
}

func (t *Records) bucketFor(addr uintptr) *bucket {
	return &t.buckets[clock.BucketHash(addr, len(t.buckets))]
}

// GetOrInsert returns the record for addr, creating it if absent.
func (t *Records) GetOrInsert(addr uintptr) *Record {
	b := t.bucketFor(addr)

	b.mu.RLock()
	for r := b.head; r != nil; r = r.next {
		if r.PageAddr == addr {
			b.mu.RUnlock()
			return r
		}
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	for r := b.head; r != nil; r = r.next {
		if r.PageAddr == addr {
			return r
		}
	}
	r := &Record{PageAddr: addr, next: b.head}
	b.head = r
	return r
}

// RecordSample applies one decoded "sample" event, per spec.md §4.3:
// bump the appropriate counter, add latency to the sum, and stamp
// last-sample time.
func (t *Records) RecordSample(addr uintptr, isWrite bool, latency uint64, nowNs int64) {
	r := t.GetOrInsert(addr)
	if isWrite {
		r.writes.Add(1)
	} else {
		r.reads.Add(1)
	}
	r.latencySum.Add(latency)
	r.lastSampleNs.Store(nowNs)
}

// Each calls fn for every record under each bucket's read lease.
func (t *Records) Each(fn func(*Record)) {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.RLock()
		for r := b.head; r != nil; r = r.next {
			fn(r)
		}
		b.mu.RUnlock()
	}
}

// Clear empties every bucket, for shutdown.
func (t *Records) Clear() {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		b.head = nil
		b.mu.Unlock()
	}
}
