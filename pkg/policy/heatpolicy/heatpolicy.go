// Package heatpolicy implements the default fallback migration policy
// from spec.md §4.4: promote pages hotter than HOT out of SLOW, demote
// pages colder than COLD out of FAST, and hold everything else, guarded
// by a minimum-residence thrash guard.
package heatpolicy

import (
	"github.com/jihwankim/tierd/pkg/clock"
	"github.com/jihwankim/tierd/pkg/pagestats"
	"github.com/jihwankim/tierd/pkg/policy"
	"github.com/jihwankim/tierd/pkg/tiers"
)

// Thresholds from spec.md §6.
const (
	Hot          = 0.7
	Cold         = 0.3
	MinResidence = 100_000_000 // 100ms, in nanoseconds
)

// Default is the fallback policy function, per spec.md §4.4.
func Default(entry *pagestats.Entry, dec *policy.Decision) bool {
	now := clock.NowNanos()

	if entry.LastMigrationNs > 0 && now-entry.LastMigrationNs < MinResidence {
		return false
	}

	switch {
	case entry.CurrentTier == tiers.Slow && entry.HeatScore > Hot:
		dec.PageAddr = entry.PageAddr
		dec.FromTier = entry.CurrentTier
		dec.ToTier = tiers.Fast
		dec.Confidence = entry.HeatScore
		dec.Reason = "promote"
		return true

	case entry.CurrentTier == tiers.Fast && entry.HeatScore < Cold:
		dec.PageAddr = entry.PageAddr
		dec.FromTier = entry.CurrentTier
		dec.ToTier = tiers.Slow
		dec.Confidence = 1 - entry.HeatScore
		dec.Reason = "demote"
		return true

	default:
		return false
	}
}
