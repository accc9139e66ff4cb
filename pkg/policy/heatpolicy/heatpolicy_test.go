package heatpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jihwankim/tierd/pkg/clock"
	"github.com/jihwankim/tierd/pkg/pagestats"
	"github.com/jihwankim/tierd/pkg/policy"
	"github.com/jihwankim/tierd/pkg/tiers"
)

func TestDefaultPromotesHotSlowPage(t *testing.T) {
	entry := &pagestats.Entry{CurrentTier: tiers.Slow, HeatScore: 0.9}
	var dec policy.Decision
	ok := Default(entry, &dec)

	assert.True(t, ok)
	assert.Equal(t, tiers.Slow, dec.FromTier)
	assert.Equal(t, tiers.Fast, dec.ToTier)
	assert.Equal(t, "promote", dec.Reason)
	assert.InDelta(t, 0.9, dec.Confidence, 1e-9)
}

func TestDefaultDemotesColdFastPage(t *testing.T) {
	entry := &pagestats.Entry{CurrentTier: tiers.Fast, HeatScore: 0.1}
	var dec policy.Decision
	ok := Default(entry, &dec)

	assert.True(t, ok)
	assert.Equal(t, tiers.Fast, dec.FromTier)
	assert.Equal(t, tiers.Slow, dec.ToTier)
	assert.Equal(t, "demote", dec.Reason)
	assert.InDelta(t, 0.9, dec.Confidence, 1e-9)
}

func TestDefaultHoldsWithinBand(t *testing.T) {
	entry := &pagestats.Entry{CurrentTier: tiers.Fast, HeatScore: 0.5}
	var dec policy.Decision
	assert.False(t, Default(entry, &dec))

	entry = &pagestats.Entry{CurrentTier: tiers.Slow, HeatScore: 0.5}
	assert.False(t, Default(entry, &dec))
}

// S4: Thrash guard from spec.md §8.
func TestDefaultThrashGuardBlocksRecentMigration(t *testing.T) {
	entry := &pagestats.Entry{
		CurrentTier:     tiers.Slow,
		HeatScore:       0.95,
		LastMigrationNs: clock.NowNanos(),
	}
	var dec policy.Decision
	assert.False(t, Default(entry, &dec), "a page migrated moments ago must not migrate again immediately")
}

func TestDefaultAllowsMigrationAfterResidence(t *testing.T) {
	entry := &pagestats.Entry{
		CurrentTier:     tiers.Slow,
		HeatScore:       0.95,
		LastMigrationNs: clock.NowNanos() - 2*MinResidence,
	}
	var dec policy.Decision
	assert.True(t, Default(entry, &dec))
}
