package faultfd

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihwankim/tierd/pkg/clock"
	"github.com/jihwankim/tierd/pkg/pagestats"
	"github.com/jihwankim/tierd/pkg/regions"
	"github.com/jihwankim/tierd/pkg/tiers"
)

// pollTimeout is the fault-handler thread's poll timeout, per spec.md
// §4.2/§5 — bounds worst-case shutdown latency.
const pollTimeout = 100 * time.Millisecond

// faultChannel is the subset of *Channel the resolver needs. It exists so
// tests can drive Resolve against a fake without a real kernel fault
// mechanism.
type faultChannel interface {
	Poll(timeout time.Duration) (bool, error)
	ReadFault() (uintptr, bool, error)
	InstallZeroPage(addr uintptr) error
}

// Resolver is the fault-handler thread: it owns the channel, the region
// and statistics tables it mutates on resolution, and the tier set it
// reserves capacity from. It is the "kernel-assisted demand-paging
// mechanism" half of spec.md §1.
type Resolver struct {
	channel faultChannel
	regions *regions.Table
	stats   *pagestats.Table
	tiers   *tiers.Set
	log     zerolog.Logger

	faultTotal atomic.Uint64
}

// NewResolver wires a fault channel to the shared region/statistics/tier
// tables.
func NewResolver(channel faultChannel, regionTable *regions.Table, statsTable *pagestats.Table, tierSet *tiers.Set, log zerolog.Logger) *Resolver {
	return &Resolver{
		channel: channel,
		regions: regionTable,
		stats:   statsTable,
		tiers:   tierSet,
		log:     log.With().Str("component", "faultfd").Logger(),
	}
}

// FaultTotal returns the global fault counter, per spec.md §4 global
// manager state.
func (r *Resolver) FaultTotal() uint64 { return r.faultTotal.Load() }

// Run drives the fault-handler event loop until ctx is done, polling the
// channel with a 100ms timeout so shutdown is observed promptly (spec.md
// §4.2, §5). It returns only once the loop has exited.
func (r *Resolver) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ready, err := r.channel.Poll(pollTimeout)
		if err != nil {
			r.log.Error().Err(err).Msg("fault channel poll failed, exiting fault-handler loop")
			return
		}
		if !ready {
			continue
		}

		addr, ok, err := r.channel.ReadFault()
		if err != nil {
			r.log.Debug().Err(err).Msg("transient fault channel read, continuing")
			continue
		}
		if !ok {
			continue
		}

		if err := r.Resolve(addr); err != nil {
			r.log.Error().Err(err).Uint64("addr", uint64(addr)).Msg("fault resolution failed")
		}
	}
}

// Resolve implements spec.md §4.2's Resolve(addr): align to the page
// boundary, pick an initial tier, install a zeroed page, and update the
// statistics, region and tier accounting on success.
func (r *Resolver) Resolve(addr uintptr) error {
	page := clock.PageAlign(addr)

	tier, decideErr := r.tiers.Decide(page)
	if decideErr != nil {
		r.log.Error().Err(decideErr).Msg("both tiers full, placing in FAST and over-reporting used")
	}

	if err := r.channel.InstallZeroPage(page); err != nil {
		return err
	}

	r.tiers.Get(tier).Reserve(clock.PageSize)

	entry := r.stats.RecordAccess(page, false)
	entry.CurrentTier = tier

	r.regions.RecordFault(page, tier)

	r.faultTotal.Add(1)
	return nil
}
