package policy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihwankim/tierd/pkg/clock"
	"github.com/jihwankim/tierd/pkg/pagestats"
	"github.com/jihwankim/tierd/pkg/tiers"
)

// Interval is POLICY_INTERVAL_MS from spec.md §6.
const Interval = 10 * time.Millisecond

// MaxMigrationsPerCycle is MAX_MIGRATIONS_PER_CYCLE from spec.md §6.
const MaxMigrationsPerCycle = 10

// statusEveryCycles emits a status line every 100th cycle, per spec.md
// §4.4 step 6.
const statusEveryCycles = 100

// merger is the subset of *sampler.Sampler the loop needs, kept as an
// interface so pkg/policy does not import pkg/sampler directly and a
// fault-only deployment can pass nil.
type merger interface {
	Active() bool
	Merge(stats *pagestats.Table)
}

// Loop is the policy control loop of spec.md §4.4.
type Loop struct {
	stats    *pagestats.Table
	tiers    *tiers.Set
	sampler  merger
	registry *Registry
	log      zerolog.Logger

	cycles     atomic.Uint64
	migrations atomic.Uint64
}

// NewLoop wires the loop to its shared tables. sampler may be nil for a
// fault-path-only deployment.
func NewLoop(stats *pagestats.Table, tierSet *tiers.Set, samplerMerger merger, registry *Registry, log zerolog.Logger) *Loop {
	return &Loop{
		stats:    stats,
		tiers:    tierSet,
		sampler:  samplerMerger,
		registry: registry,
		log:      log.With().Str("component", "policy").Logger(),
	}
}

// Cycles and Migrations expose the aggregate counters from spec.md §4
// global manager state.
func (l *Loop) Cycles() uint64     { return l.cycles.Load() }
func (l *Loop) Migrations() uint64 { return l.migrations.Load() }

// Run sleeps for Interval each iteration and runs one cycle, until ctx is
// done, per spec.md §4.4 step 1.
func (l *Loop) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		l.RunCycle()
	}
}

// RunCycle executes one policy cycle: merge, recompute, evaluate, migrate.
// Exported so callers (tests, a manual "step" driver) can run a cycle
// synchronously without the ticker.
func (l *Loop) RunCycle() {
	cycle := l.cycles.Add(1)

	if l.sampler != nil && l.sampler.Active() {
		l.sampler.Merge(l.stats)
	}
	l.stats.UpdateAll()

	fn := l.registry.Current()
	migrated := 0

	l.stats.Each(func(entry *pagestats.Entry) {
		if migrated >= MaxMigrationsPerCycle {
			return
		}
		var dec Decision
		if !fn(entry, &dec) {
			return
		}
		if dec.Confidence < ConfidenceMin {
			return
		}
		if err := l.executeMigration(entry, dec); err != nil {
			l.log.Debug().Err(err).Str("reason", dec.Reason).Msg("migration rejected")
			return
		}
		migrated++
	})

	if cycle%statusEveryCycles == 0 {
		l.log.Info().
			Uint64("cycle", cycle).
			Int("pages", l.stats.Count()).
			Uint64("migrations_total", l.migrations.Load()).
			Msg("policy cycle status")
	}
}

// executeMigration implements spec.md §4.4's Execute-migration: reject on
// destination overflow, otherwise move tier accounting and stamp the
// entry. No data is copied — this is a simulator.
func (l *Loop) executeMigration(entry *pagestats.Entry, dec Decision) error {
	if err := l.tiers.Migrate(dec.FromTier, dec.ToTier, clock.PageSize); err != nil {
		return err
	}
	entry.CurrentTier = dec.ToTier
	entry.LastMigrationNs = clock.NowNanos()
	entry.MigrationCount++
	l.migrations.Add(1)
	return nil
}
