package farm

import (
	"fmt"

	"github.com/atmx/farm-engine/internal/fixedpoint"
	"github.com/atmx/farm-engine/internal/limits"
	"github.com/atmx/farm-engine/internal/model"
	"github.com/atmx/farm-engine/internal/stake"
)

// InitializeUser creates the record of owner in farm. delegatee defaults to
// owner.
func (e *Engine) InitializeUser(farm *model.FarmState, owner, delegatee string, now uint64) (model.UserState, error) {
	if delegatee == "" {
		delegatee = owner
	}
	u := model.UserState{
		FarmID:          farm.ID,
		Owner:           owner,
		Delegatee:       delegatee,
		IsFarmDelegated: farm.IsDelegated(),
	}
	for i := range u.LastClaimTimestamp {
		u.LastClaimTimestamp[i] = now
	}
	err := onFarm(farm, func(f *model.FarmState) (err error) {
		u.UserID = f.NumUsers
		f.NumUsers, err = fixedpoint.Add64(f.NumUsers, 1)
		return err
	})
	if err != nil {
		return model.UserState{}, err
	}
	e.log.Debug("user initialized", "farm", farm.ID, "owner", owner, "user_id", u.UserID)
	return u, nil
}

// Stake deposits amount for user. With a warmup period the stake waits in
// the pending pool until now + warmup; otherwise it becomes active at once.
func (e *Engine) Stake(farm *model.FarmState, user *model.UserState, q *model.PriceQuote, amount, now uint64) (model.StakeEffects, error) {
	if farm.IsDelegated() {
		return model.StakeEffects{}, ErrFarmDelegated
	}
	if amount == 0 {
		return model.StakeEffects{}, ErrStakeZero
	}
	if farm.IsFrozen {
		return model.StakeEffects{}, ErrFarmFrozen
	}
	var eff model.StakeEffects
	err := onUser(farm, user, func(f *model.FarmState, u *model.UserState) (err error) {
		eff, err = e.stake(f, u, q, amount, now)
		return err
	})
	return eff, err
}

func (e *Engine) stake(f *model.FarmState, u *model.UserState, q *model.PriceQuote, amount, now uint64) (model.StakeEffects, error) {
	if err := e.refreshGlobalRewards(f, q, now); err != nil {
		return model.StakeEffects{}, err
	}
	if err := userRefreshAllRewards(f, u); err != nil {
		return model.StakeEffects{}, err
	}
	if err := e.refreshUserStake(f, u, now); err != nil {
		return model.StakeEffects{}, err
	}
	if err := limits.ForFarm(f).Check(f.TotalStakedAmount, amount, q, now); err != nil {
		return model.StakeEffects{}, err
	}

	if f.DepositWarmupPeriod > 0 {
		ready, err := fixedpoint.Add64(now, uint64(f.DepositWarmupPeriod))
		if err != nil {
			return model.StakeEffects{}, err
		}
		gained, err := stake.AddPendingDeposit(u, f, amount)
		if err != nil {
			return model.StakeEffects{}, err
		}
		u.PendingDepositReadyTimestamp = ready
		e.log.Debug("stake pending", "farm", f.ID, "owner", u.Owner, "amount", amount, "shares", gained.String(), "ready", ready)
	} else {
		gained, err := stake.AddActiveStake(u, f, amount)
		if err != nil {
			return model.StakeEffects{}, err
		}
		if err := chargeTally(f, u, gained); err != nil {
			return model.StakeEffects{}, err
		}
		e.log.Debug("stake active", "farm", f.ID, "owner", u.Owner, "amount", amount, "shares", gained.String())
	}
	u.LastStakeTimestamp = now
	return model.StakeEffects{AmountToStake: amount}, nil
}

// SetStake sets a delegated user's stake to newStake whole units.
//
// Delegated farms keep stake as raw integer counts equal to the staked
// amount, with no pending pool and no warmup or cooldown. Price-adjusted
// caps cannot be evaluated here, so a delegated farm with an oracle feed
// rejects stake changes that need one.
func (e *Engine) SetStake(farm *model.FarmState, user *model.UserState, newStake, now uint64) error {
	if !farm.IsDelegated() {
		return ErrFarmNotDelegated
	}
	return onUser(farm, user, func(f *model.FarmState, u *model.UserState) error {
		return e.setStake(f, u, newStake, now)
	})
}

func checkDelegatedState(f *model.FarmState) error {
	switch {
	case !f.TotalActiveStake.Eq(fixedpoint.FromScaledUint64(f.TotalStakedAmount)):
		return fmt.Errorf("%w: active stake %s does not match amount %d", ErrInvalidDelegatedState, f.TotalActiveStake, f.TotalStakedAmount)
	case f.TotalPendingStake.IsPositive(), f.TotalPendingAmount != 0:
		return fmt.Errorf("%w: pending pool not empty", ErrInvalidDelegatedState)
	case f.DepositWarmupPeriod != 0, f.WithdrawalCooldownPeriod != 0:
		return fmt.Errorf("%w: warmup or cooldown configured", ErrInvalidDelegatedState)
	}
	return nil
}

func (e *Engine) setStake(f *model.FarmState, u *model.UserState, newStake, now uint64) error {
	if err := checkDelegatedState(f); err != nil {
		return err
	}
	current, err := u.ActiveStake.RawUint64()
	if err != nil {
		return fmt.Errorf("%w: user stake does not fit 64 bits", ErrInvalidDelegatedState)
	}
	if current == newStake {
		return nil
	}

	if err := e.refreshGlobalRewards(f, nil, now); err != nil {
		return err
	}
	if err := userRefreshAllRewards(f, u); err != nil {
		return err
	}

	if newStake > current {
		diff := newStake - current
		startIssuanceIfIdle(f, now)
		u.LastStakeTimestamp = now
		if err := limits.ForFarm(f).Check(f.TotalStakedAmount, diff, nil, now); err != nil {
			return err
		}
		if f.TotalStakedAmount, err = fixedpoint.Add64(f.TotalStakedAmount, diff); err != nil {
			return err
		}
	} else {
		if f.TotalStakedAmount, err = fixedpoint.Sub64(f.TotalStakedAmount, current-newStake); err != nil {
			return err
		}
	}
	f.TotalActiveStake = fixedpoint.FromScaledUint64(f.TotalStakedAmount)
	u.ActiveStake = fixedpoint.FromScaledUint64(newStake)

	for i := 0; i < int(f.NumRewardTokens); i++ {
		if u.RewardsTally[i], err = f.RewardInfos[i].RewardPerShare.MulUint64(newStake); err != nil {
			return err
		}
	}
	e.log.Debug("stake set", "farm", f.ID, "owner", u.Owner, "from", current, "to", newStake)
	return nil
}

// Harvest pays out the user's unclaimed reward index, split between the user
// and the treasury by the global fee.
func (e *Engine) Harvest(farm *model.FarmState, user *model.UserState, global *model.GlobalConfig, q *model.PriceQuote, index, now uint64) (model.HarvestEffects, error) {
	if err := checkRewardIndex(farm, index); err != nil {
		return model.HarvestEffects{}, err
	}
	var eff model.HarvestEffects
	err := onUser(farm, user, func(f *model.FarmState, u *model.UserState) error {
		if err := e.refreshGlobalRewards(f, q, now); err != nil {
			return err
		}
		i := int(index)
		if err := userRefreshReward(f, u, i); err != nil {
			return err
		}
		elapsed, err := fixedpoint.Sub64(now, u.LastClaimTimestamp[i])
		if err != nil {
			return err
		}
		if elapsed < f.RewardInfos[i].MinClaimDurationSeconds {
			return fmt.Errorf("%w: %d of %d elapsed", ErrMinClaimDurationNotReached, elapsed, f.RewardInfos[i].MinClaimDurationSeconds)
		}
		reward := u.RewardsUnclaimed[i]
		if reward == 0 {
			return nil
		}

		if f.RewardInfos[i].RewardsIssuedUnclaimed, err = fixedpoint.Sub64(f.RewardInfos[i].RewardsIssuedUnclaimed, reward); err != nil {
			return err
		}
		treasury, err := fixedpoint.MulDiv64(reward, global.TreasuryFeeBps, fixedpoint.BpsDivFactor)
		if err != nil {
			return err
		}
		toUser, err := fixedpoint.Sub64(reward, treasury)
		if err != nil {
			return err
		}
		u.RewardsUnclaimed[i] = 0
		u.LastClaimTimestamp[i] = now
		eff = model.HarvestEffects{RewardUser: toUser, RewardTreasury: treasury}
		e.log.Debug("harvest", "farm", f.ID, "owner", u.Owner, "reward", i, "user", toUser, "treasury", treasury)
		return nil
	})
	return eff, err
}

// Unstake moves up to shares of the user's active stake into the cooldown
// pool, charging any early-withdrawal penalty.
func (e *Engine) Unstake(farm *model.FarmState, user *model.UserState, q *model.PriceQuote, shares fixedpoint.Decimal, now uint64) (model.UnstakeEffects, error) {
	if farm.IsDelegated() {
		return model.UnstakeEffects{}, ErrFarmDelegated
	}
	if shares.IsZero() {
		return model.UnstakeEffects{}, ErrUnstakeZero
	}
	var eff model.UnstakeEffects
	err := onUser(farm, user, func(f *model.FarmState, u *model.UserState) (err error) {
		eff, err = e.unstake(f, u, q, shares, now)
		return err
	})
	return eff, err
}

func (e *Engine) unstake(f *model.FarmState, u *model.UserState, q *model.PriceQuote, shares fixedpoint.Decimal, now uint64) (model.UnstakeEffects, error) {
	if err := e.refreshGlobalRewards(f, q, now); err != nil {
		return model.UnstakeEffects{}, err
	}
	if err := userRefreshAllRewards(f, u); err != nil {
		return model.UnstakeEffects{}, err
	}

	shares = fixedpoint.Min(shares, u.ActiveStake)
	if shares.IsZero() {
		return model.UnstakeEffects{}, ErrNothingToUnstake
	}
	if u.PendingWithdrawalStake.IsPositive() && u.PendingWithdrawalReadyTimestamp <= now {
		return model.UnstakeEffects{}, ErrPendingWithdrawalNotWithdrawnYet
	}
	ready, err := fixedpoint.Add64(now, uint64(f.WithdrawalCooldownPeriod))
	if err != nil {
		return model.UnstakeEffects{}, err
	}
	u.PendingWithdrawalReadyTimestamp = ready

	res, err := stake.Unstake(u, f, shares, now)
	if err != nil {
		return model.UnstakeEffects{}, err
	}
	if f.SlashedAmountCurrent, err = fixedpoint.Add64(f.SlashedAmountCurrent, res.Penalty); err != nil {
		return model.UnstakeEffects{}, err
	}
	if f.SlashedAmountCumulative, err = fixedpoint.Add64(f.SlashedAmountCumulative, res.Penalty); err != nil {
		return model.UnstakeEffects{}, err
	}

	// Release the tally charged for the burnt shares. The tally may sit up
	// to one unit below shares*rps because refreshes floor, hence the slack.
	for i := 0; i < int(f.NumRewardTokens); i++ {
		loss, err := shares.Mul(f.RewardInfos[i].RewardPerShare)
		if err != nil {
			return model.UnstakeEffects{}, err
		}
		bound, err := u.RewardsTally[i].Add(fixedpoint.One())
		if err != nil {
			return model.UnstakeEffects{}, err
		}
		if bound.Lte(loss) {
			return model.UnstakeEffects{}, fmt.Errorf("%w: reward %d tally %s below loss %s", ErrIntegerOverflow, i, u.RewardsTally[i], loss)
		}
		u.RewardsTally[i] = u.RewardsTally[i].SaturatingSub(loss)
	}

	e.log.Debug("unstake", "farm", f.ID, "owner", u.Owner, "shares", shares.String(),
		"amount", res.AmountPostPenalty, "penalty", res.Penalty, "ready", ready)
	return model.UnstakeEffects{AmountPostPenalty: res.AmountPostPenalty, PenaltyAmount: res.Penalty}, nil
}

// WithdrawUnstakedDeposits pays out the user's matured pending withdrawal.
func (e *Engine) WithdrawUnstakedDeposits(farm *model.FarmState, user *model.UserState, now uint64) (model.WithdrawEffects, error) {
	if farm.IsDelegated() {
		return model.WithdrawEffects{}, ErrFarmDelegated
	}
	var eff model.WithdrawEffects
	err := onUser(farm, user, func(f *model.FarmState, u *model.UserState) (err error) {
		eff, err = withdrawUnstaked(f, u, now)
		return err
	})
	return eff, err
}

func withdrawUnstaked(f *model.FarmState, u *model.UserState, now uint64) (model.WithdrawEffects, error) {
	if u.PendingWithdrawalReadyTimestamp > now {
		return model.WithdrawEffects{}, fmt.Errorf("%w: ready at %d", ErrUnstakeNotElapsed, u.PendingWithdrawalReadyTimestamp)
	}
	if u.PendingWithdrawalStake.IsZero() {
		return model.WithdrawEffects{}, ErrNothingToWithdraw
	}
	amount, err := stake.RemovePendingWithdrawal(u, f)
	if err != nil {
		return model.WithdrawEffects{}, err
	}
	return model.WithdrawEffects{AmountToWithdraw: amount}, nil
}

// RewardUserOnce credits amount of reward index directly to the user,
// bypassing the schedule. expectedUnclaimed must match the user's current
// unclaimed balance so a replayed grant is rejected.
func (e *Engine) RewardUserOnce(farm *model.FarmState, user *model.UserState, index, amount, expectedUnclaimed uint64) error {
	if err := checkRewardIndex(farm, index); err != nil {
		return err
	}
	i := int(index)
	if user.RewardsUnclaimed[i] != expectedUnclaimed {
		return fmt.Errorf("%w: have %d, expected %d", ErrRewardUnclaimedMismatch, user.RewardsUnclaimed[i], expectedUnclaimed)
	}
	return onUser(farm, user, func(f *model.FarmState, u *model.UserState) (err error) {
		r := &f.RewardInfos[i]
		if r.RewardsIssuedUnclaimed, err = fixedpoint.Add64(r.RewardsIssuedUnclaimed, amount); err != nil {
			return err
		}
		if r.RewardsIssuedCumulative, err = fixedpoint.Add64(r.RewardsIssuedCumulative, amount); err != nil {
			return err
		}
		u.RewardsUnclaimed[i], err = fixedpoint.Add64(u.RewardsUnclaimed[i], amount)
		return err
	})
}

// TransferOwnership moves all of oldUser's active stake to newUser by
// unstaking, withdrawing and restaking it at now. Only unlocked farms without
// cooldown qualify, so no value is lost in transit.
func (e *Engine) TransferOwnership(farm *model.FarmState, oldUser, newUser *model.UserState, q *model.PriceQuote, now uint64) (model.StakeEffects, error) {
	switch {
	case farm.IsDelegated():
		return model.StakeEffects{}, ErrFarmDelegated
	case oldUser.Delegatee != oldUser.Owner, newUser.Delegatee != newUser.Owner:
		return model.StakeEffects{}, fmt.Errorf("%w: user is delegated", ErrInvalidTransferOwnership)
	case farm.LockingMode != model.LockingNone:
		return model.StakeEffects{}, fmt.Errorf("%w: farm has locking", ErrInvalidTransferOwnership)
	case farm.WithdrawalCooldownPeriod != 0:
		return model.StakeEffects{}, fmt.Errorf("%w: farm has withdrawal cooldown", ErrInvalidTransferOwnership)
	case oldUser.FarmID != farm.ID, newUser.FarmID != farm.ID:
		return model.StakeEffects{}, fmt.Errorf("%w: user belongs to another farm", ErrInvalidTransferOwnership)
	case oldUser.Owner == newUser.Owner:
		return model.StakeEffects{}, fmt.Errorf("%w: same owner", ErrInvalidTransferOwnership)
	}
	if farm.IsFrozen {
		return model.StakeEffects{}, ErrFarmFrozen
	}

	f, from, to := *farm, *oldUser, *newUser
	if _, err := e.unstake(&f, &from, q, from.ActiveStake, now); err != nil {
		return model.StakeEffects{}, err
	}
	w, err := withdrawUnstaked(&f, &from, now)
	if err != nil {
		return model.StakeEffects{}, err
	}
	eff, err := e.stake(&f, &to, q, w.AmountToWithdraw, now)
	if err != nil {
		return model.StakeEffects{}, err
	}
	*farm, *oldUser, *newUser = f, from, to
	e.log.Debug("ownership transferred", "farm", f.ID, "from", from.Owner, "to", to.Owner, "amount", eff.AmountToStake)
	return eff, nil
}
