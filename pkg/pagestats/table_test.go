package pagestats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/tierd/pkg/clock"
)

func TestGetOrInsertIsIdempotent(t *testing.T) {
	tbl := New()
	a := tbl.GetOrInsert(0x1000)
	b := tbl.GetOrInsert(0x1000)
	assert.Same(t, a, b)
	assert.Equal(t, 1, tbl.Count())
}

func TestLookupMissing(t *testing.T) {
	tbl := New()
	_, ok := tbl.Lookup(0x2000)
	assert.False(t, ok)
}

func TestRecordAccessCountsReadsAndWrites(t *testing.T) {
	tbl := New()
	tbl.RecordAccess(0x3000, false)
	tbl.RecordAccess(0x3000, false)
	e := tbl.RecordAccess(0x3000, true)

	assert.Equal(t, uint64(3), e.Total())
	assert.Equal(t, uint64(2), e.Reads())
	assert.Equal(t, uint64(1), e.Writes())
	assert.Equal(t, e.Total(), e.Reads()+e.Writes())
}

func TestFirstAccessNeverAdvances(t *testing.T) {
	tbl := New()
	e := tbl.RecordAccess(0x4000, false)
	first := e.FirstAccessNs()
	tbl.RecordAccess(0x4000, false)
	assert.Equal(t, first, e.FirstAccessNs())
	assert.LessOrEqual(t, e.FirstAccessNs(), e.LastAccessNs())
}

func TestComputeFeaturesHeatInRange(t *testing.T) {
	e := &Entry{allocationNs: 0}
	e.lastAccessNs.Store(int64(2) * 1e9)
	e.total.Store(5000)

	ComputeFeatures(e, int64(2)*1e9) // 2 seconds of lifetime, zero idle time

	assert.GreaterOrEqual(t, e.HeatScore, 0.0)
	assert.LessOrEqual(t, e.HeatScore, 1.0)
	assert.InDelta(t, 1.0, e.HeatScore, 1e-9, "no idle time and saturated frequency should give max heat")
}

func TestComputeFeaturesDecaysWithIdleTime(t *testing.T) {
	e := &Entry{allocationNs: 0}
	e.lastAccessNs.Store(0)
	e.total.Store(1)

	ComputeFeatures(e, int64(60)*1e9) // one access, then a minute of silence

	assert.Less(t, e.HeatScore, 0.1, "a page idle for a minute should have decayed almost entirely")
}

func TestComputeFeaturesZeroLifetimeDoesNotPanic(t *testing.T) {
	e := &Entry{allocationNs: 100}
	e.lastAccessNs.Store(100)
	require.NotPanics(t, func() { ComputeFeatures(e, 100) })
	assert.Equal(t, 0.0, e.AccessRate)
}

func TestUpdateAllVisitsEveryEntry(t *testing.T) {
	tbl := New()
	for i := uintptr(0); i < 32; i++ {
		tbl.RecordAccess(i*clock.PageSize, false)
	}
	tbl.UpdateAll()

	seen := 0
	tbl.Each(func(e *Entry) {
		seen++
		assert.GreaterOrEqual(t, e.HeatScore, 0.0)
		assert.LessOrEqual(t, e.HeatScore, 1.0)
	})
	assert.Equal(t, 32, seen)
}

func TestClearRemovesAllEntries(t *testing.T) {
	tbl := New()
	tbl.RecordAccess(0x5000, false)
	tbl.RecordAccess(0x6000, true)
	require.Equal(t, 2, tbl.Count())

	tbl.Clear()
	assert.Equal(t, 0, tbl.Count())
	_, ok := tbl.Lookup(0x5000)
	assert.False(t, ok)
}

func TestBucketChainingHandlesCollisions(t *testing.T) {
	tbl := &Table{buckets: make([]bucket, 1)} // force every key into one bucket
	tbl.RecordAccess(0x1000, false)
	tbl.RecordAccess(0x2000, false)
	tbl.RecordAccess(0x3000, true)

	assert.Equal(t, 3, tbl.Count())
	e, ok := tbl.Lookup(0x2000)
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.Total())
}
