package stake

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/farm-engine/internal/fixedpoint"
	"github.com/atmx/farm-engine/internal/model"
)

func newFarm() *model.FarmState {
	return &model.FarmState{ID: "farm-1", OraclePriceID: model.NoOraclePrice}
}

// --- Conversions ---

func TestAmountToSharesBootstrapsOneToOne(t *testing.T) {
	s, err := AmountToShares(1000, fixedpoint.Zero(), 0)
	require.NoError(t, err)
	assert.True(t, s.Eq(fixedpoint.FromUint64(1000)))

	s, err = AmountToShares(0, fixedpoint.FromUint64(5), 5)
	require.NoError(t, err)
	assert.True(t, s.IsZero())
}

func TestAmountToSharesProportional(t *testing.T) {
	// 100 shares back 300 tokens: 30 tokens buy 10 shares.
	s, err := AmountToShares(30, fixedpoint.FromUint64(100), 300)
	require.NoError(t, err)
	assert.True(t, s.Eq(fixedpoint.FromUint64(10)))

	_, err = AmountToShares(30, fixedpoint.FromUint64(100), 0)
	assert.ErrorIs(t, err, ErrInconsistentPool)
}

func TestSharesToAmountRounding(t *testing.T) {
	total := fixedpoint.FromUint64(3)
	one := fixedpoint.One()

	down, err := SharesToAmount(one, total, 10, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), down)

	up, err := SharesToAmount(one, total, 10, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), up)

	all, err := SharesToAmount(one, fixedpoint.Zero(), 42, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), all)
}

// --- Operations ---

func TestWarmupDepositActivates(t *testing.T) {
	farm := newFarm()
	user := &model.UserState{}

	gained, err := AddPendingDeposit(user, farm, 1000)
	require.NoError(t, err)
	assert.True(t, gained.Eq(fixedpoint.FromUint64(1000)))
	assert.True(t, user.PendingDepositStake.Eq(fixedpoint.FromUint64(1000)))
	assert.True(t, user.ActiveStake.IsZero())
	assert.Equal(t, uint64(1000), farm.TotalPendingAmount)

	amount, active, err := ActivatePendingStake(user, farm)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), amount)
	assert.True(t, active.Eq(fixedpoint.FromUint64(1000)))
	assert.True(t, user.PendingDepositStake.IsZero())
	assert.Zero(t, farm.TotalPendingAmount)
	assert.True(t, farm.TotalPendingStake.IsZero())
	assert.Equal(t, uint64(1000), farm.TotalStakedAmount)
}

func TestRemoveActiveStakeInsufficientLeavesRecordsUntouched(t *testing.T) {
	farm := newFarm()
	user := &model.UserState{}
	_, err := AddActiveStake(user, farm, 500)
	require.NoError(t, err)

	farmBefore, userBefore := *farm, *user
	_, err = RemoveActiveStake(user, farm, fixedpoint.FromUint64(501))
	assert.ErrorIs(t, err, ErrInsufficientStake)
	assert.Equal(t, farmBefore, *farm)
	assert.Equal(t, userBefore, *user)
}

func TestTopUpRaisesShareValue(t *testing.T) {
	farm := newFarm()
	alice, bob := &model.UserState{}, &model.UserState{}
	_, err := AddActiveStake(alice, farm, 100)
	require.NoError(t, err)
	require.NoError(t, IncreaseTotalAmount(farm, 100))

	// 100 shares now back 200 tokens, so 100 tokens buy 50 shares.
	gained, err := AddActiveStake(bob, farm, 100)
	require.NoError(t, err)
	assert.True(t, gained.Eq(fixedpoint.FromUint64(50)))

	out, err := RemoveActiveStake(alice, farm, alice.ActiveStake)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), out)
}

func TestUnstakeWithExpiryPenalty(t *testing.T) {
	farm := newFarm()
	farm.LockingMode = model.LockingWithExpiry
	farm.LockingDuration = 1000
	farm.LockingEarlyWithdrawalPenaltyBps = 5000
	user := &model.UserState{}
	_, err := AddActiveStake(user, farm, 1000)
	require.NoError(t, err)

	res, err := Unstake(user, farm, user.ActiveStake, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(750), res.AmountPostPenalty)
	assert.Equal(t, uint64(250), res.Penalty)
	assert.Equal(t, uint64(750), farm.TotalPendingAmount)
	assert.Zero(t, farm.TotalStakedAmount)
	assert.True(t, user.PendingWithdrawalStake.Eq(res.PendingSharesGained))

	out, err := RemovePendingWithdrawal(user, farm)
	require.NoError(t, err)
	assert.Equal(t, uint64(750), out)
}

func TestUnstakeContinuousUsesLastStake(t *testing.T) {
	farm := newFarm()
	farm.LockingMode = model.LockingContinuous
	farm.LockingDuration = 100
	farm.LockingEarlyWithdrawalPenaltyBps = 1000
	user := &model.UserState{LastStakeTimestamp: 1000}
	_, err := AddActiveStake(user, farm, 1000)
	require.NoError(t, err)

	res, err := Unstake(user, farm, fixedpoint.FromUint64(100), 1050)
	require.NoError(t, err)
	// 1000 bps * 50/100 = 500 bps of 100.
	assert.Equal(t, uint64(5), res.Penalty)
	assert.Equal(t, uint64(95), res.AmountPostPenalty)

	res, err = Unstake(user, farm, fixedpoint.FromUint64(100), 1100)
	require.NoError(t, err)
	assert.Zero(t, res.Penalty)
}

func TestUnstakePenaltyErrorIsAtomic(t *testing.T) {
	farm := newFarm()
	farm.LockingMode = model.LockingWithExpiry
	farm.LockingDuration = 1000
	farm.LockingEarlyWithdrawalPenaltyBps = 0
	user := &model.UserState{}
	_, err := AddActiveStake(user, farm, 1000)
	require.NoError(t, err)

	farmBefore, userBefore := *farm, *user
	_, err = Unstake(user, farm, user.ActiveStake, 10)
	assert.Error(t, err)
	assert.Equal(t, farmBefore, *farm)
	assert.Equal(t, userBefore, *user)
}

func TestPendingPoolIsShared(t *testing.T) {
	farm := newFarm()
	depositor, leaver := &model.UserState{}, &model.UserState{}

	_, err := AddActiveStake(leaver, farm, 400)
	require.NoError(t, err)
	_, err = AddPendingDeposit(depositor, farm, 600)
	require.NoError(t, err)
	_, err = Unstake(leaver, farm, leaver.ActiveStake, 0)
	require.NoError(t, err)

	assert.Equal(t, uint64(1000), farm.TotalPendingAmount)
	sum, err := depositor.PendingDepositStake.Add(leaver.PendingWithdrawalStake)
	require.NoError(t, err)
	assert.True(t, sum.Eq(farm.TotalPendingStake))

	// Halving the pending pool halves both flows.
	eff, err := WithdrawFarm(farm, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), eff.AmountToWithdraw)
	assert.False(t, eff.FarmToFreeze)

	d, err := RemovePendingDeposit(depositor, farm)
	require.NoError(t, err)
	w, err := RemovePendingWithdrawal(leaver, farm)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), d)
	assert.Equal(t, uint64(200), w)
}

func TestWithdrawFarmDrainFreezes(t *testing.T) {
	farm := newFarm()
	user := &model.UserState{}
	_, err := AddActiveStake(user, farm, 700)
	require.NoError(t, err)
	_, err = AddPendingDeposit(user, farm, 300)
	require.NoError(t, err)

	eff, err := WithdrawFarm(farm, 5000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), eff.AmountToWithdraw)
	assert.True(t, eff.FarmToFreeze)
	assert.Zero(t, farm.TotalStakedAmount)
	assert.Zero(t, farm.TotalPendingAmount)
	assert.False(t, farm.TotalActiveStake.IsZero(), "shares survive a drain")
}

// --- Properties ---

func TestRoundTripNeverGains(t *testing.T) {
	f := fuzz.NewWithSeed(42).NilChance(0)
	for i := 0; i < 500; i++ {
		var seed struct {
			Initial, TopUp, Deposit uint32
		}
		f.Fuzz(&seed)
		farm := newFarm()
		other, user := &model.UserState{}, &model.UserState{}
		_, err := AddActiveStake(other, farm, uint64(seed.Initial)+1)
		require.NoError(t, err)
		require.NoError(t, IncreaseTotalAmount(farm, uint64(seed.TopUp)))

		gained, err := AddActiveStake(user, farm, uint64(seed.Deposit))
		require.NoError(t, err)
		back, err := RemoveActiveStake(user, farm, gained)
		require.NoError(t, err)
		assert.LessOrEqual(t, back, uint64(seed.Deposit), "seed %+v", seed)
	}
}

func TestFullRedemptionDrainsPool(t *testing.T) {
	f := fuzz.NewWithSeed(7).NilChance(0)
	for round := 0; round < 100; round++ {
		var amounts [8]uint32
		var topUps [8]uint16
		f.Fuzz(&amounts)
		f.Fuzz(&topUps)

		farm := newFarm()
		users := make([]*model.UserState, len(amounts))
		var funded uint64
		for i, a := range amounts {
			users[i] = &model.UserState{}
			_, err := AddActiveStake(users[i], farm, uint64(a))
			require.NoError(t, err)
			require.NoError(t, IncreaseTotalAmount(farm, uint64(topUps[i])))
			funded += uint64(a) + uint64(topUps[i])
		}

		var redeemed uint64
		for _, u := range users {
			out, err := RemoveActiveStake(u, farm, u.ActiveStake)
			require.NoError(t, err)
			redeemed += out
			assert.LessOrEqual(t, redeemed, funded)
		}
		assert.Zero(t, farm.TotalStakedAmount)
		assert.True(t, farm.TotalActiveStake.IsZero())
		assert.Equal(t, funded, redeemed)
	}
}
