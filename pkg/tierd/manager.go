// Package tierd is the lifecycle and status component of spec.md §4.5: the
// process-wide manager facade that owns every other subsystem (tiers,
// statistics, regions, the fault interception core, the hardware sampler,
// and the policy loop), brings them up and down in the documented order,
// and exposes the shim-to-core API of spec.md §6.
package tierd

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jihwankim/tierd/pkg/config"
	"github.com/jihwankim/tierd/pkg/faultfd"
	"github.com/jihwankim/tierd/pkg/pagestats"
	"github.com/jihwankim/tierd/pkg/policy"
	"github.com/jihwankim/tierd/pkg/policy/heatpolicy"
	"github.com/jihwankim/tierd/pkg/regions"
	"github.com/jihwankim/tierd/pkg/sampler"
	"github.com/jihwankim/tierd/pkg/telemetry"
	"github.com/jihwankim/tierd/pkg/tiers"
)

// State is the manager's lifecycle state, per spec.md §4.5's init/shutdown
// ordering. It generalizes the teacher's TestState enum
// (pkg/core/orchestrator.go) from an eleven-state test run to the four
// states a long-lived daemon actually has.
type State int

const (
	Uninitialized State = iota
	Running
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Running:
		return "RUNNING"
	case ShuttingDown:
		return "SHUTTING_DOWN"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Manager is the process-wide singleton facade of spec.md §4 ("global
// manager state"). Callers construct exactly one, call Init once, and pass
// it to the allocation-interception shim via whatever process-wide handle
// the shim uses — that wiring is the shim's job, not this package's
// (spec.md §1 lists the shim as an external collaborator).
type Manager struct {
	cfg *config.Config
	log zerolog.Logger

	metrics *telemetry.Metrics

	tiers   *tiers.Set
	stats   *pagestats.Table
	regions *regions.Table

	channel  *faultfd.Channel
	resolver *faultfd.Resolver

	sampler *sampler.Sampler

	registry *policy.Registry
	loop     *policy.Loop

	mu    sync.Mutex
	state State

	cancel    context.CancelFunc
	policyWG  sync.WaitGroup
	faultWG   sync.WaitGroup
	samplerWG sync.WaitGroup

	lastAudit shutdownAudit

	lastFaultsReported     uint64
	lastMigrationsReported uint64
	lastCyclesReported     uint64
	lastThrottlesReported  uint64
}

// New constructs a Manager from cfg but performs no I/O — Init does that.
// metrics may be nil if the caller does not want a Prometheus registry
// (e.g. in a unit test); a nil Metrics disables metrics updates rather
// than panicking.
func New(cfg *config.Config, log zerolog.Logger, metrics *telemetry.Metrics) *Manager {
	return &Manager{
		cfg:     cfg,
		log:     log.With().Str("component", "tierd").Logger(),
		metrics: metrics,
		state:   Uninitialized,
	}
}

// Init brings up every subsystem in the order spec.md §4.5 specifies:
// tier configuration, statistics/region tables, the fault channel (fatal on
// failure), the sampler (non-fatal on failure), then the fault-handler and
// policy threads. A second call on an already-Running manager is a no-op
// success, per spec.md §6's "init() is idempotent."
func (m *Manager) Init(ctx context.Context) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Running {
		return nil
	}
	if m.state != Uninitialized {
		return fmt.Errorf("tierd: cannot init from state %s", m.state)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tierd: panic during init: %v", r)
		}
		if err != nil {
			m.log.Error().Err(err).Msg("init failed, unwinding")
		}
	}()

	m.tiers = tiers.NewSet(
		tiers.Config{
			Name:         "FAST",
			CapacityByte: m.cfg.Tiers.Fast.CapacityByte,
			ReadLatency:  m.cfg.Tiers.Fast.ReadLatency,
			WriteLatency: m.cfg.Tiers.Fast.WriteLatency,
		},
		tiers.Config{
			Name:         "SLOW",
			CapacityByte: m.cfg.Tiers.Slow.CapacityByte,
			ReadLatency:  m.cfg.Tiers.Slow.ReadLatency,
			WriteLatency: m.cfg.Tiers.Slow.WriteLatency,
		},
	)
	m.stats = pagestats.New()
	m.regions = regions.New()

	channel, openErr := faultfd.Open()
	if openErr != nil {
		return fmt.Errorf("tierd: fault channel unavailable (environment unavailable, fatal): %w", openErr)
	}
	m.channel = channel
	m.resolver = faultfd.NewResolver(channel, m.regions, m.stats, m.tiers, m.log)

	m.sampler = sampler.New(m.log)
	if !m.sampler.Active() {
		m.log.Info().Msg("hardware sampler inactive, running on fault-path statistics only")
	}

	m.registry = policy.NewRegistry(heatpolicy.Default)
	m.loop = policy.NewLoop(m.stats, m.tiers, m.sampler, m.registry, m.log)

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.faultWG.Add(1)
	go m.resolver.Run(runCtx, &m.faultWG)

	m.policyWG.Add(1)
	go m.loop.Run(runCtx, &m.policyWG)

	if startErr := m.sampler.Start(runCtx, &m.samplerWG); startErr != nil {
		m.log.Error().Err(startErr).Msg("sampler start failed, continuing fault-path only")
	}

	if m.metrics != nil {
		m.metrics.TierCapacityBytes.WithLabelValues("fast").Set(float64(m.tiers.Fast.CapacityByte))
		m.metrics.TierCapacityBytes.WithLabelValues("slow").Set(float64(m.tiers.Slow.CapacityByte))
	}

	m.state = Running
	m.log.Info().Msg("tierd initialized")
	return nil
}

// Shutdown brings every subsystem down in the order spec.md §4.5 specifies:
// clear the running flag, join the policy thread then the fault thread,
// stop and shut down the sampler, log final counters, unregister every
// region and close the fault channel, free statistics, and mark the
// manager stopped. It is safe to call from Init's recover (spec.md §7) and
// safe to call more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Running {
		return
	}
	m.state = ShuttingDown

	var audit shutdownAudit

	audit.run("cancel_run_signal", func() error {
		if m.cancel != nil {
			m.cancel()
		}
		return nil
	})
	audit.run("join_policy_thread", func() error {
		m.policyWG.Wait()
		return nil
	})
	audit.run("join_fault_thread", func() error {
		m.faultWG.Wait()
		return nil
	})
	audit.run("stop_sampler", func() error {
		if m.sampler != nil {
			m.sampler.Stop()
		}
		m.samplerWG.Wait()
		return nil
	})
	audit.run("shutdown_sampler", func() error {
		if m.sampler != nil {
			m.sampler.Shutdown()
		}
		return nil
	})
	m.log.Info().
		Uint64("faults_total", m.resolver.FaultTotal()).
		Uint64("migrations_total", m.loop.Migrations()).
		Uint64("policy_cycles", m.loop.Cycles()).
		Msg("tierd final counters")
	audit.run("unregister_regions", func() error {
		var firstErr error
		m.regions.Each(func(r *regions.Region) {
			if err := m.channel.Unregister(r.Base, r.Length); err != nil && firstErr == nil {
				firstErr = err
			}
		})
		m.regions.Clear()
		return firstErr
	})
	audit.run("close_fault_channel", func() error {
		return m.channel.Close()
	})
	audit.run("clear_statistics", func() error {
		m.stats.Clear()
		return nil
	})

	m.lastAudit = audit
	for _, e := range audit.failed() {
		m.log.Error().Err(e.Err).Str("step", e.Step).Msg("shutdown step failed, continuing")
	}

	m.log.Info().Msg("tierd shutdown complete")

	m.state = Stopped
}

// Register installs [addr, addr+length) for user-space fault resolution,
// per spec.md §6: addr must be page-aligned and length a multiple of
// PAGE_SIZE, and the range must not overlap an existing region.
func (m *Manager) Register(addr uintptr, length uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Running {
		return fmt.Errorf("tierd: cannot register region, manager is %s", m.state)
	}

	if err := m.channel.Register(addr, length); err != nil {
		return err
	}
	if _, err := m.regions.Register(addr, length, uint64(m.channel.FD())); err != nil {
		if unregErr := m.channel.Unregister(addr, length); unregErr != nil {
			m.log.Debug().Err(unregErr).Msg("rollback unregister after failed region insert")
		}
		return err
	}
	return nil
}

// Unregister removes the region at addr. It is idempotent: unregistering
// an address that was never registered, or was already unregistered, is a
// no-op success per spec.md §4.2/§6.
func (m *Manager) Unregister(addr uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Running {
		return
	}
	r, ok := m.regions.Lookup(addr)
	if !ok {
		return
	}
	if err := m.channel.Unregister(addr, r.Length); err != nil {
		m.log.Debug().Err(err).Msg("unregister ioctl failed, region marked inactive regardless")
	}
	m.regions.Unregister(addr)
}

// SetPolicy swaps the active migration policy. A nil fn restores the
// default HOT/COLD policy, per spec.md §4.4/§6.
func (m *Manager) SetPolicy(fn policy.Func) {
	m.registry.Set(fn)
}

// Stats, Tiers and Regions expose the underlying tables to callers that
// need direct access (the demo driver's access-pattern generator, tests).
func (m *Manager) Stats() *pagestats.Table { return m.stats }
func (m *Manager) Tiers() *tiers.Set       { return m.tiers }
func (m *Manager) Regions() *regions.Table { return m.regions }

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RunPolicyCycleForTest runs one policy cycle synchronously, bypassing the
// ticker. It exists so tests can exercise a cycle deterministically instead
// of racing the 10ms ticker.
func (m *Manager) RunPolicyCycleForTest() {
	m.loop.RunCycle()
}

// RefreshMetrics pushes the current tier usage and aggregate counters into
// the Prometheus registry. The manager does not call this on its own
// timer; a hosting binary (cmd/tierd-demo) calls it on whatever cadence
// its own metrics-scrape loop wants.
func (m *Manager) RefreshMetrics() {
	if m.metrics == nil {
		return
	}
	m.metrics.TierUsedBytes.WithLabelValues("fast").Set(float64(m.tiers.Fast.Used()))
	m.metrics.TierUsedBytes.WithLabelValues("slow").Set(float64(m.tiers.Slow.Used()))

	faults := m.resolver.FaultTotal()
	migrations := m.loop.Migrations()
	cycles := m.loop.Cycles()
	throttles := uint64(0)
	if m.sampler != nil {
		throttles = m.sampler.ThrottleCount()
	}

	setCounterTo(m.metrics.FaultsTotal, &m.lastFaultsReported, faults)
	setCounterTo(m.metrics.MigrationsTotal, &m.lastMigrationsReported, migrations)
	setCounterTo(m.metrics.PolicyCyclesTotal, &m.lastCyclesReported, cycles)
	setCounterTo(m.metrics.SamplerThrottle, &m.lastThrottlesReported, throttles)
}

// Status writes a human-readable snapshot of counters, per-tier usage and
// active regions to w, per spec.md §4.5/§6: status is a read-only
// observation printed to standard error, with format not part of the
// contract.
func (m *Manager) Status(w io.Writer) {
	writeStatus(w, m)
}

// setCounterTo advances a monotonic Prometheus counter to current by
// adding the delta since the last report. Counters can only go up; current
// is itself monotonic (spec.md §8's invariant 4/10), so the delta is
// always non-negative in practice.
func setCounterTo(c prometheus.Counter, last *uint64, current uint64) {
	if current > *last {
		c.Add(float64(current - *last))
		*last = current
	}
}
