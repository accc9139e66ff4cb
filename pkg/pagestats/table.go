// Package pagestats implements the per-page statistics table: a chained
// hash map keyed by page-aligned address, guarded by a readers-writer lock
// per spec.md §4.1 and §5. Counter fields are atomic so the fault path can
// record an access while the policy thread iterates under a read lease.
package pagestats

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/jihwankim/tierd/pkg/clock"
	"github.com/jihwankim/tierd/pkg/tiers"
)

// HashSize is PAGE_STATS_HASH_SIZE from spec.md §6: a prime near one
// million buckets.
const HashSize = 1048583

// heat-score constants from spec.md §4.1. These are the contract: changing
// them changes externally observable behavior.
const (
	heatDecayPerSecond = 0.07
	frequencyCeiling   = 1000.0 // accesses/sec that saturates the frequency term
	recencyWeight      = 0.6
	frequencyWeight    = 0.4
)

// Entry is one page's statistics record. Total/Reads/Writes/LastAccessNs
// are mutated with atomics from the fault path and the sampler merge;
// HeatScore, AccessRate, LastMigrationNs and MigrationCount are written
// only by the policy thread (spec.md §5). CurrentTier is set by the fault
// path when the page is first placed and by the policy thread on
// migration. None of these plain fields carries synchronization of its
// own.
type Entry struct {
	PageAddr uintptr

	total  atomic.Uint64
	reads  atomic.Uint64
	writes atomic.Uint64

	firstAccessNs int64 // written once at creation, never again
	lastAccessNs  atomic.Int64
	allocationNs  int64

	HeatScore       float64
	AccessRate      float64
	CurrentTier     tiers.Kind
	LastMigrationNs int64
	MigrationCount  uint64

	next *Entry // bucket chain link; only touched under the bucket's write lease
}

// Total, Reads, Writes, LastAccessNs, FirstAccessNs and AllocationNs are
// read-only accessors so callers outside this package can't bypass the
// atomics.
func (e *Entry) Total() uint64        { return e.total.Load() }
func (e *Entry) Reads() uint64         { return e.reads.Load() }
func (e *Entry) Writes() uint64        { return e.writes.Load() }
func (e *Entry) LastAccessNs() int64  { return e.lastAccessNs.Load() }
func (e *Entry) FirstAccessNs() int64 { return e.firstAccessNs }
func (e *Entry) AllocationNs() int64  { return e.allocationNs }

type bucket struct {
	mu   sync.RWMutex
	head *Entry
}

// Table is the concurrent statistics map.
type Table struct {
	buckets []bucket
}

// New builds a table with HashSize buckets.
func New() *Table {
	return &Table{buckets: make([]bucket, HashSize)}
}

func (t *Table) bucketFor(addr uintptr) *bucket {
	return &t.buckets[clock.BucketHash(addr, len(t.buckets))]
}

// Lookup performs a read-only search for the exact page address. It never
// allocates.
func (t *Table) Lookup(addr uintptr) (*Entry, bool) {
	b := t.bucketFor(addr)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for e := b.head; e != nil; e = e.next {
		if e.PageAddr == addr {
			return e, true
		}
	}
	return nil, false
}

// GetOrInsert returns the entry for addr, creating it under spec.md §4.1's
// rules if absent: first_access = last_access = allocation = now,
// current_tier = UNKNOWN, counters zero, linked at the bucket head.
func (t *Table) GetOrInsert(addr uintptr) *Entry {
	if e, ok := t.Lookup(addr); ok {
		return e
	}

	b := t.bucketFor(addr)
	b.mu.Lock()
	defer b.mu.Unlock()

	for e := b.head; e != nil; e = e.next {
		if e.PageAddr == addr {
			return e
		}
	}

	now := clock.NowNanos()
	e := &Entry{
		PageAddr:      addr,
		firstAccessNs: now,
		allocationNs:  now,
		CurrentTier:   tiers.Unknown,
		next:          b.head,
	}
	e.lastAccessNs.Store(now)
	b.head = e
	return e
}

// RaiseReadsTo atomically sets the read counter to the max of its current
// value and candidate, never decrementing — the sampler merge's floor
// semantics from spec.md §4.3.
func (e *Entry) RaiseReadsTo(candidate uint64) { raiseToMax(&e.reads, candidate) }

// RaiseWritesTo is RaiseReadsTo for the write counter.
func (e *Entry) RaiseWritesTo(candidate uint64) { raiseToMax(&e.writes, candidate) }

// RecomputeTotal sets total to reads+writes, matching spec.md §4.1's
// invariant that access_count equals the sum of the two after any merge.
func (e *Entry) RecomputeTotal() {
	e.total.Store(e.reads.Load() + e.writes.Load())
}

// RaiseLastAccessNsTo atomically advances last_access_ns to candidate if
// candidate is newer, per spec.md §4.3's merge step.
func (e *Entry) RaiseLastAccessNsTo(candidate int64) {
	for {
		cur := e.lastAccessNs.Load()
		if candidate <= cur {
			return
		}
		if e.lastAccessNs.CompareAndSwap(cur, candidate) {
			return
		}
	}
}

func raiseToMax(counter *atomic.Uint64, candidate uint64) {
	for {
		cur := counter.Load()
		if candidate <= cur {
			return
		}
		if counter.CompareAndSwap(cur, candidate) {
			return
		}
	}
}

// RecordAccess get-or-inserts the entry for addr and atomically records one
// access of the given kind, per spec.md §4.1.
func (t *Table) RecordAccess(addr uintptr, isWrite bool) *Entry {
	e := t.GetOrInsert(addr)
	e.total.Add(1)
	if isWrite {
		e.writes.Add(1)
	} else {
		e.reads.Add(1)
	}
	e.lastAccessNs.Store(clock.NowNanos())
	return e
}

// ComputeFeatures recomputes AccessRate and HeatScore for a single entry
// per spec.md §4.1's formula. It must only be called from the policy
// thread (these fields are not atomic).
func ComputeFeatures(e *Entry, nowNs int64) {
	lifetimeNs := nowNs - e.allocationNs
	if lifetimeNs <= 0 {
		e.AccessRate = 0
	} else {
		e.AccessRate = float64(e.Total()) * 1e9 / float64(lifetimeNs)
	}

	deltaSeconds := float64(nowNs-e.LastAccessNs()) / 1e9
	if deltaSeconds < 0 {
		deltaSeconds = 0
	}
	recency := math.Exp(-heatDecayPerSecond * deltaSeconds)
	frequency := math.Min(e.AccessRate/frequencyCeiling, 1)

	heat := recencyWeight*recency + frequencyWeight*frequency
	e.HeatScore = clamp01(heat)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// UpdateAll recomputes derived features for every entry under a single
// read lease per bucket, per spec.md §4.1.
func (t *Table) UpdateAll() {
	now := clock.NowNanos()
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.RLock()
		for e := b.head; e != nil; e = e.next {
			ComputeFeatures(e, now)
		}
		b.mu.RUnlock()
	}
}

// Each iterates live entries under each bucket's read lease, calling fn for
// every one while that bucket's lease is held. fn must not call back into
// the table with a write operation. The policy loop runs Execute-migration
// inside fn; that touches only the entry and the atomic tier counters, not
// any table lock.
func (t *Table) Each(fn func(*Entry)) {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.RLock()
		for e := b.head; e != nil; e = e.next {
			fn(e)
		}
		b.mu.RUnlock()
	}
}

// Count returns the number of tracked entries. It is O(buckets) and
// intended for status reporting, not hot paths.
func (t *Table) Count() int {
	n := 0
	t.Each(func(*Entry) { n++ })
	return n
}

// Clear frees every entry and nulls every bucket, per spec.md §4.1.
func (t *Table) Clear() {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		b.head = nil
		b.mu.Unlock()
	}
}
