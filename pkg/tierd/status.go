package tierd

import (
	"fmt"
	"io"
	"strings"

	"github.com/jihwankim/tierd/pkg/regions"
)

// writeStatus renders the read-only snapshot spec.md §4.5/§6 describes:
// aggregate counters, per-tier usage, and the active region listing. The
// aligned-column, rule-separated layout is grounded on the teacher's
// text-mode report (reporting.ProgressReporter.printTextSummary) but
// trimmed to a single status table instead of a full test report. The
// table is written on demand by Status and String; the demo driver prints
// it every --status-interval.
func writeStatus(w io.Writer, m *Manager) {
	const rule = "----------------------------------------------------------------------"

	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "tierd status (%s)\n", m.State())
	fmt.Fprintln(w, rule)

	fmt.Fprintf(w, "%-22s %12d\n", "faults_total", m.resolver.FaultTotal())
	fmt.Fprintf(w, "%-22s %12d\n", "migrations_total", m.loop.Migrations())
	fmt.Fprintf(w, "%-22s %12d\n", "policy_cycles", m.loop.Cycles())
	fmt.Fprintf(w, "%-22s %12d\n", "pages_tracked", m.stats.Count())
	if m.sampler != nil {
		fmt.Fprintf(w, "%-22s %12v\n", "sampler_active", m.sampler.Active())
		fmt.Fprintf(w, "%-22s %12d\n", "sampler_throttle_total", m.sampler.ThrottleCount())
	}

	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-6s %16s %16s %16s\n", "tier", "used_bytes", "capacity_bytes", "pct_used")
	for _, t := range []struct {
		name string
		used uint64
		cap  uint64
	}{
		{"FAST", m.tiers.Fast.Used(), m.tiers.Fast.CapacityByte},
		{"SLOW", m.tiers.Slow.Used(), m.tiers.Slow.CapacityByte},
	} {
		pct := 0.0
		if t.cap > 0 {
			pct = 100 * float64(t.used) / float64(t.cap)
		}
		fmt.Fprintf(w, "%-6s %16d %16d %15.2f%%\n", t.name, t.used, t.cap, pct)
	}

	fmt.Fprintln(w, rule)
	active := activeRegions(m.regions)
	fmt.Fprintf(w, "active regions: %d\n", len(active))
	for _, r := range active {
		fmt.Fprintf(w, "  [%#016x, %#016x) faults=%d fast=%d slow=%d\n",
			r.Base, r.End(), r.TotalFaults, r.PagesPerTier[1], r.PagesPerTier[2])
	}
	fmt.Fprintln(w, rule)
}

func activeRegions(t *regions.Table) []regions.Region {
	var out []regions.Region
	t.Each(func(r *regions.Region) {
		out = append(out, *r)
	})
	return out
}

// String renders the same report as Status into a string, convenient for
// tests and for embedding in a log line.
func (m *Manager) String() string {
	var b strings.Builder
	writeStatus(&b, m)
	return b.String()
}
