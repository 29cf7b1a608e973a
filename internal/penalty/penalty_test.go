package penalty

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBpsOutsideWindowIsFree(t *testing.T) {
	bps, err := Bps(100, 50, 200, 5000)
	require.NoError(t, err)
	assert.Zero(t, bps, "before lock start")

	bps, err = Bps(100, 200, 200, 5000)
	require.NoError(t, err)
	assert.Zero(t, bps, "at maturity")

	bps, err = Bps(100, 10_000, 200, 5000)
	require.NoError(t, err)
	assert.Zero(t, bps, "after maturity")
}

func TestBpsLinearDecay(t *testing.T) {
	bps, err := Bps(0, 0, 1000, 5000)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), bps)

	bps, err = Bps(0, 500, 1000, 5000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), bps)

	bps, err = Bps(0, 999, 1000, 5000)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), bps)

	// One tick after start on a far maturity is within a unit of the maximum.
	bps, err = Bps(10, 11, 1<<40, 5000)
	require.NoError(t, err)
	assert.InDelta(t, 5000, bps, 1)
}

func TestBpsErrors(t *testing.T) {
	_, err := Bps(200, 150, 100, 5000)
	assert.ErrorIs(t, err, ErrInvalidLockingTimestamps)

	_, err = Bps(0, 10, 100, 10_001)
	assert.ErrorIs(t, err, ErrInvalidPenaltyPercentage)

	_, err = Bps(0, 10, 100, 0)
	assert.ErrorIs(t, err, ErrEarlyWithdrawalNotAllowed)

	_, err = Bps(0, 10, 100, 10_000)
	assert.ErrorIs(t, err, ErrEarlyWithdrawalNotAllowed)

	// A degenerate percentage is only rejected for early withdrawals.
	bps, err := Bps(0, 100, 100, 0)
	require.NoError(t, err)
	assert.Zero(t, bps)
}

func TestApplyWithExpiryScenario(t *testing.T) {
	net, charged, err := Apply(1000, 0, 500, 5000, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), charged)
	assert.Equal(t, uint64(750), net)
}

func TestApplyRoundsPenaltyDown(t *testing.T) {
	net, charged, err := Apply(1000, 0, 500, 5000, 3)
	require.NoError(t, err)
	assert.Zero(t, charged)
	assert.Equal(t, uint64(3), net)
}

func TestApplyLockEndOverflow(t *testing.T) {
	_, _, err := Apply(2, ^uint64(0), 5, 5000, 1000)
	assert.ErrorIs(t, err, ErrInvalidLockingTimestamps)
}
