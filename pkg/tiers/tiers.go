// Package tiers holds the two simulated memory tiers (FAST and SLOW) and
// their capacity accounting. Nothing here ever moves real bytes: a
// migration or a fault resolution only adjusts the Used counter.
package tiers

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jihwankim/tierd/pkg/clock"
)

// Kind identifies a tier, or the absence of one.
type Kind int

const (
	Unknown Kind = iota
	Fast
	Slow
)

func (k Kind) String() string {
	switch k {
	case Fast:
		return "FAST"
	case Slow:
		return "SLOW"
	default:
		return "UNKNOWN"
	}
}

// Config describes one tier's static properties.
type Config struct {
	Name         string
	CapacityByte uint64
	ReadLatency  time.Duration
	WriteLatency time.Duration
}

// Tier tracks a single tier's configuration and live usage. Used is an
// atomic counter: the fault thread and the policy thread both mutate it
// (spec.md §5 — tier accounting may be upgraded to atomics by the
// implementer, and this implementation does).
type Tier struct {
	Kind Kind
	Config
	used atomic.Uint64
}

// Used returns the currently accounted byte count.
func (t *Tier) Used() uint64 { return t.used.Load() }

// Fits reports whether n more bytes can be admitted without exceeding
// capacity — the admission check spec.md §3 requires before any placement
// or migration.
func (t *Tier) Fits(n uint64) bool {
	return t.used.Load()+n <= t.CapacityByte
}

// Reserve admits n bytes into the tier. Callers must have checked Fits
// first; Reserve itself does not re-check, matching the "both tiers full"
// fallback behavior of spec.md §9 (placement proceeds and over-reports
// Used when the implementer chooses to force it).
func (t *Tier) Reserve(n uint64) {
	t.used.Add(n)
}

// Release returns n bytes to the tier, saturating at zero so a
// double-release can never underflow into a huge unsigned value.
func (t *Tier) Release(n uint64) {
	for {
		cur := t.used.Load()
		next := uint64(0)
		if cur > n {
			next = cur - n
		}
		if t.used.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Set is the FAST/SLOW pair plus the lookup-by-kind convenience the fault
// core and policy loop both need.
type Set struct {
	Fast *Tier
	Slow *Tier
}

// NewSet builds a tier set from the two configs.
func NewSet(fast, slow Config) *Set {
	return &Set{
		Fast: &Tier{Kind: Fast, Config: fast},
		Slow: &Tier{Kind: Slow, Config: slow},
	}
}

// Get returns the tier for kind, or nil for Unknown or an invalid value.
func (s *Set) Get(kind Kind) *Tier {
	switch kind {
	case Fast:
		return s.Fast
	case Slow:
		return s.Slow
	default:
		return nil
	}
}

// Decide implements the deterministic initial-tier fallback of spec.md
// §4.2: prefer FAST, fall back to SLOW, and — if neither has room — place
// in FAST anyway and report the error (spec.md §9's documented, unresolved
// over-report behavior). addr is accepted but unused; it is reserved for a
// future learned placement policy and spec.md §4.2 requires it be passed
// through regardless.
func (s *Set) Decide(addr uintptr) (Kind, error) {
	_ = addr
	if s.Fast.Fits(clock.PageSize) {
		return Fast, nil
	}
	if s.Slow.Fits(clock.PageSize) {
		return Slow, nil
	}
	return Fast, fmt.Errorf("tiers: both FAST and SLOW full, forcing FAST placement (used=%d/%d)",
		s.Fast.Used(), s.Fast.CapacityByte)
}

// Migrate moves n bytes of accounting from the from tier to the to tier.
// It fails without mutating anything if the destination would overflow —
// the capacity invariant of spec.md §8 property 8.
func (s *Set) Migrate(from, to Kind, n uint64) error {
	src := s.Get(from)
	dst := s.Get(to)
	if src == nil || dst == nil {
		return fmt.Errorf("tiers: invalid migration %s -> %s", from, to)
	}
	if !dst.Fits(n) {
		return fmt.Errorf("tiers: destination tier %s full (used=%d/%d)", dst.Name, dst.Used(), dst.CapacityByte)
	}
	src.Release(n)
	dst.Reserve(n)
	return nil
}
