// Package regions implements the fixed-capacity managed-region table:
// the set of virtual address ranges whose pages are resolved through the
// user-space fault path instead of the kernel's default zero-page
// allocator (spec.md §3, §4.5).
package regions

import (
	"fmt"
	"sync"

	"github.com/jihwankim/tierd/pkg/clock"
	"github.com/jihwankim/tierd/pkg/tiers"
)

// Capacity is MAX_MANAGED_REGIONS from spec.md §6.
const Capacity = 64

// Region is one registered address range. FaultChannelID is an opaque
// handle into whatever fault channel backs this region (pkg/faultfd owns
// the concrete type); it is carried here only for status reporting and
// unregistration, never dereferenced by this package.
type Region struct {
	Base           uintptr
	Length         uint64
	Active         bool
	FaultChannelID uint64

	TotalFaults   uint64
	PagesPerTier  [3]uint64 // indexed by tiers.Kind: Unknown, Fast, Slow
}

// End returns the exclusive end address of the region.
func (r *Region) End() uintptr { return r.Base + uintptr(r.Length) }

// Table is the fixed-size, lock-guarded region set. A single exclusive
// mutex covers every operation: spec.md §5 specifies the regions table as
// guarded by one exclusive mutex for inserts, deletes and linear scans,
// kept cheap because the table is capped at Capacity entries.
type Table struct {
	mu      sync.Mutex
	entries [Capacity]Region
	count   int
}

// New returns an empty region table.
func New() *Table {
	return &Table{}
}

// overlapsLocked reports whether [base, base+length) intersects any active
// region. Caller must hold t.mu.
func (t *Table) overlapsLocked(base uintptr, length uint64) bool {
	end := base + uintptr(length)
	for i := range t.entries {
		e := &t.entries[i]
		if !e.Active {
			continue
		}
		if base < e.End() && e.Base < end {
			return true
		}
	}
	return false
}

// Register finds a free slot and inserts a new active region, enforcing
// page alignment, a page-multiple length, and the non-overlapping
// invariant of spec.md §3. channelID is an opaque fault-channel handle
// supplied by the caller once it has API-negotiated the channel.
func (t *Table) Register(base uintptr, length uint64, channelID uint64) (*Region, error) {
	if !clock.PageAligned(base) {
		return nil, fmt.Errorf("regions: base %#x is not page-aligned", base)
	}
	if length == 0 || length%clock.PageSize != 0 {
		return nil, fmt.Errorf("regions: length %d is not a positive multiple of page size", length)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.overlapsLocked(base, length) {
		return nil, fmt.Errorf("regions: range [%#x, %#x) overlaps an existing region", base, base+uintptr(length))
	}

	for i := range t.entries {
		e := &t.entries[i]
		if e.Active {
			continue
		}
		*e = Region{
			Base:           base,
			Length:         length,
			Active:         true,
			FaultChannelID: channelID,
		}
		t.count++
		return e, nil
	}
	return nil, fmt.Errorf("regions: table full (capacity %d)", Capacity)
}

// Unregister marks the region with the given base inactive. Idempotent:
// unregistering an already-inactive or unknown base is not an error,
// matching spec.md §4.5's idempotent unregistration requirement.
func (t *Table) Unregister(base uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		e := &t.entries[i]
		if e.Active && e.Base == base {
			e.Active = false
			t.count--
			return
		}
	}
}

// Lookup returns the active region containing addr, if any, via a linear
// scan — spec.md §5 keeps this sweep deliberately small (at most
// Capacity entries) rather than indexing by address.
func (t *Table) Lookup(addr uintptr) (*Region, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		e := &t.entries[i]
		if e.Active && addr >= e.Base && addr < e.End() {
			return e, true
		}
	}
	return nil, false
}

// RecordFault bumps the fault counter and the placed-tier counter for the
// region containing addr, per spec.md §4.2's fault-resolution bookkeeping.
// It is a no-op if addr is not in any active region.
func (t *Table) RecordFault(addr uintptr, tier tiers.Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		e := &t.entries[i]
		if e.Active && addr >= e.Base && addr < e.End() {
			e.TotalFaults++
			e.PagesPerTier[tier]++
			return
		}
	}
}

// Count returns the number of currently active regions.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Each calls fn for every active region, under the table's lock. fn must
// not call back into the table.
func (t *Table) Each(fn func(*Region)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].Active {
			fn(&t.entries[i])
		}
	}
}

// Clear marks every region inactive, for shutdown.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		t.entries[i].Active = false
	}
	t.count = 0
}
