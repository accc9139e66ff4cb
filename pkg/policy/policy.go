// Package policy implements the periodic decision loop and the pluggable
// policy function contract of spec.md §4.4: merge sampler data, recompute
// derived features, evaluate every tracked page against the active
// policy, and execute migrations that pass the capacity/rate/residence
// checks.
package policy

import (
	"sync/atomic"

	"github.com/jihwankim/tierd/pkg/pagestats"
	"github.com/jihwankim/tierd/pkg/tiers"
)

// Decision is the writable struct a policy function fills in when it
// recommends a migration, per spec.md §4.4's policy function contract.
type Decision struct {
	PageAddr   uintptr
	FromTier   tiers.Kind
	ToTier     tiers.Kind
	Confidence float64
	Reason     string
}

// Func is the pluggable policy function signature: given a read-only
// statistics entry, fill dec and return true to recommend a migration.
type Func func(entry *pagestats.Entry, dec *Decision) bool

// ConfidenceMin is CONFIDENCE_MIN from spec.md §6: a migration is only
// executed when the policy's reported confidence clears this bar.
const ConfidenceMin = 0.5

// Registry holds the single swappable policy function pointer, published
// via atomic.Pointer so reads from the policy thread never race with a
// concurrent SetPolicy call — spec.md §4.4's "pointer is read on each
// evaluation; swaps are eventually visible." It is initialized with a
// default policy supplied by the caller (pkg/policy/heatpolicy in
// practice) so this package stays free of any domain-specific threshold
// logic.
type Registry struct {
	fallback Func
	current  atomic.Pointer[Func]
}

// NewRegistry returns a registry initialized to fallback, which is also
// restored whenever Set is called with nil.
func NewRegistry(fallback Func) *Registry {
	r := &Registry{fallback: fallback}
	r.Set(nil)
	return r
}

// Set publishes fn as the active policy. A nil fn restores the fallback
// policy passed to NewRegistry, per spec.md §4.4/§6.
func (r *Registry) Set(fn Func) {
	if fn == nil {
		fn = r.fallback
	}
	r.current.Store(&fn)
}

// Current returns the active policy function.
func (r *Registry) Current() Func {
	return *r.current.Load()
}
