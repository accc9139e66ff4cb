package regions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/tierd/pkg/clock"
	"github.com/jihwankim/tierd/pkg/tiers"
)

func TestRegisterRejectsUnalignedBase(t *testing.T) {
	tbl := New()
	_, err := tbl.Register(0x1001, clock.PageSize, 1)
	require.Error(t, err)
}

func TestRegisterRejectsNonPageMultipleLength(t *testing.T) {
	tbl := New()
	_, err := tbl.Register(0x100000000, 100, 1)
	require.Error(t, err)
}

func TestRegisterRejectsOverlap(t *testing.T) {
	tbl := New()
	_, err := tbl.Register(0x100000000, 16*1024*1024, 1)
	require.NoError(t, err)

	_, err = tbl.Register(0x100000000+clock.PageSize, clock.PageSize, 2)
	require.Error(t, err)
}

func TestRegisterAllowsAdjacentNonOverlapping(t *testing.T) {
	tbl := New()
	_, err := tbl.Register(0x100000000, clock.PageSize, 1)
	require.NoError(t, err)
	_, err = tbl.Register(0x100000000+clock.PageSize, clock.PageSize, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Count())
}

func TestRegisterFailsWhenFull(t *testing.T) {
	tbl := New()
	for i := 0; i < Capacity; i++ {
		_, err := tbl.Register(uintptr(i)*clock.PageSize*2, clock.PageSize, uint64(i))
		require.NoError(t, err)
	}
	_, err := tbl.Register(uintptr(Capacity)*clock.PageSize*2, clock.PageSize, 999)
	require.Error(t, err)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	tbl := New()
	_, err := tbl.Register(0x100000000, clock.PageSize, 1)
	require.NoError(t, err)

	tbl.Unregister(0x100000000)
	assert.Equal(t, 0, tbl.Count())

	require.NotPanics(t, func() { tbl.Unregister(0x100000000) })
	require.NotPanics(t, func() { tbl.Unregister(0xDEADBEEF) })
}

func TestLookupFindsContainingRegion(t *testing.T) {
	tbl := New()
	_, err := tbl.Register(0x100000000, 16*1024*1024, 1)
	require.NoError(t, err)

	r, ok := tbl.Lookup(0x100000000 + 4096)
	require.True(t, ok)
	assert.Equal(t, uintptr(0x100000000), r.Base)

	_, ok = tbl.Lookup(0x200000000)
	assert.False(t, ok)
}

func TestRecordFaultUpdatesCounters(t *testing.T) {
	tbl := New()
	_, err := tbl.Register(0x100000000, 16*1024*1024, 1)
	require.NoError(t, err)

	tbl.RecordFault(0x100000000, tiers.Fast)
	tbl.RecordFault(0x100001000, tiers.Fast)
	tbl.RecordFault(0x100002000, tiers.Slow)

	r, ok := tbl.Lookup(0x100000000)
	require.True(t, ok)
	assert.Equal(t, uint64(3), r.TotalFaults)
	assert.Equal(t, uint64(2), r.PagesPerTier[tiers.Fast])
	assert.Equal(t, uint64(1), r.PagesPerTier[tiers.Slow])
}

func TestClearDeactivatesAll(t *testing.T) {
	tbl := New()
	_, _ = tbl.Register(0x100000000, clock.PageSize, 1)
	_, _ = tbl.Register(0x200000000, clock.PageSize, 2)
	tbl.Clear()
	assert.Equal(t, 0, tbl.Count())
}
