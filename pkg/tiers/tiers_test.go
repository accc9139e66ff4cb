package tiers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSet() *Set {
	return NewSet(
		Config{Name: "fast", CapacityByte: 4096, ReadLatency: 80, WriteLatency: 100},
		Config{Name: "slow", CapacityByte: 8192, ReadLatency: 300, WriteLatency: 500},
	)
}

func TestDecideFallsBackToSlow(t *testing.T) {
	s := testSet()
	k, err := s.Decide(0)
	require.NoError(t, err)
	assert.Equal(t, Fast, k)

	s.Fast.Reserve(4096)
	k, err = s.Decide(0)
	require.NoError(t, err)
	assert.Equal(t, Slow, k)
}

func TestDecideBothFullForcesFast(t *testing.T) {
	s := testSet()
	s.Fast.Reserve(4096)
	s.Slow.Reserve(8192)

	k, err := s.Decide(0)
	require.Error(t, err)
	assert.Equal(t, Fast, k)
}

func TestMigrateRejectsOverflow(t *testing.T) {
	s := testSet()
	s.Slow.Reserve(8192)
	err := s.Migrate(Fast, Slow, 4096)
	require.Error(t, err)
	assert.Equal(t, uint64(0), s.Fast.Used())
	assert.Equal(t, uint64(8192), s.Slow.Used())
}

func TestMigrateMovesAccounting(t *testing.T) {
	s := testSet()
	s.Fast.Reserve(4096)
	require.NoError(t, s.Migrate(Fast, Slow, 4096))
	assert.Equal(t, uint64(0), s.Fast.Used())
	assert.Equal(t, uint64(4096), s.Slow.Used())
}

func TestReleaseSaturatesAtZero(t *testing.T) {
	s := testSet()
	s.Fast.Reserve(4096)
	s.Fast.Release(8192)
	assert.Equal(t, uint64(0), s.Fast.Used())
}
