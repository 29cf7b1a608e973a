package farm

import (
	"fmt"

	"github.com/atmx/farm-engine/internal/fixedpoint"
	"github.com/atmx/farm-engine/internal/model"
	"github.com/atmx/farm-engine/internal/oracle"
	"github.com/atmx/farm-engine/internal/stake"
)

// refreshGlobalReward issues reward i from its last issuance up to now.
//
// With no active stake the issuance clock advances and the emission for the
// window is skipped; funds stay in RewardsAvailable.
func (e *Engine) refreshGlobalReward(f *model.FarmState, q *model.PriceQuote, now uint64, i int) error {
	r := &f.RewardInfos[i]
	if now == r.LastIssuanceTimestamp {
		return nil
	}
	if f.TotalActiveStake.IsZero() {
		r.LastIssuanceTimestamp = now
		return nil
	}

	cumulative, err := r.Curve.CumulativeAmountSince(r.LastIssuanceTimestamp, now)
	if err != nil {
		return err
	}
	w := fixedpoint.NewWide(cumulative)
	if r.RewardType == model.RewardConstant {
		w.Mul(f.TotalStakedAmount)
	}
	descale, err := fixedpoint.TenPow(uint64(r.RatePerSecondDecimals))
	if err != nil {
		return err
	}
	w.Div(descale)

	quote, err := oracle.FeedOf(f).Check(q, now)
	if err != nil {
		return err
	}
	amount, err := oracle.Scale(w, quote).Uint64()
	if err != nil {
		return fmt.Errorf("reward %d issuance: %w", i, err)
	}
	// An unfunded window is not consumed; it issues once funds arrive.
	issued := min(amount, r.RewardsAvailable)
	if issued == 0 {
		return nil
	}

	unclaimed, err := fixedpoint.Add64(r.RewardsIssuedUnclaimed, issued)
	if err != nil {
		return err
	}
	cumulativeIssued, err := fixedpoint.Add64(r.RewardsIssuedCumulative, issued)
	if err != nil {
		return err
	}
	basis, err := shareBasis(f, f.TotalActiveStake)
	if err != nil {
		return err
	}
	perShare, err := fixedpoint.FromUint64(issued).Div(basis)
	if err != nil {
		return err
	}
	rps, err := r.RewardPerShare.Add(perShare)
	if err != nil {
		return err
	}

	e.log.Debug("reward issued",
		"farm", f.ID, "reward", i, "issued", issued, "computed", amount,
		"from", r.LastIssuanceTimestamp, "to", now, "reward_per_share", rps.String())

	r.LastIssuanceTimestamp = now
	r.RewardsIssuedUnclaimed = unclaimed
	r.RewardsIssuedCumulative = cumulativeIssued
	r.RewardsAvailable -= issued
	r.RewardPerShare = rps
	return nil
}

// refreshGlobalRewards refreshes every initialised reward in index order.
func (e *Engine) refreshGlobalRewards(f *model.FarmState, q *model.PriceQuote, now uint64) error {
	for i := 0; i < int(f.NumRewardTokens); i++ {
		if err := e.refreshGlobalReward(f, q, now, i); err != nil {
			return err
		}
	}
	return nil
}

// userRefreshReward credits the user with reward i accrued since their last
// sync. The tally keeps the fractional remainder for later refreshes.
func userRefreshReward(f *model.FarmState, u *model.UserState, i int) error {
	basis, err := shareBasis(f, u.ActiveStake)
	if err != nil {
		return err
	}
	owed, err := f.RewardInfos[i].RewardPerShare.Mul(basis)
	if err != nil {
		return err
	}
	if owed.Lt(u.RewardsTally[i]) {
		// Partial unstakes floor twice and can leave the tally a few ulps
		// above the entitlement. More than one unit is drift.
		if !u.RewardsTally[i].SaturatingSub(owed).Lt(fixedpoint.One()) {
			return fmt.Errorf("%w: reward %d tally %s above entitlement %s", ErrIntegerOverflow, i, u.RewardsTally[i], owed)
		}
		return nil
	}
	delta, err := owed.Sub(u.RewardsTally[i])
	if err != nil {
		return err
	}
	reward, err := delta.Floor()
	if err != nil {
		return err
	}
	tally, err := u.RewardsTally[i].Add(fixedpoint.FromUint64(reward))
	if err != nil {
		return err
	}
	unclaimed, err := fixedpoint.Add64(u.RewardsUnclaimed[i], reward)
	if err != nil {
		return err
	}
	u.RewardsTally[i] = tally
	u.RewardsUnclaimed[i] = unclaimed
	return nil
}

// userRefreshAllRewards syncs every reward; users without active stake have
// nothing new to collect.
func userRefreshAllRewards(f *model.FarmState, u *model.UserState) error {
	if u.ActiveStake.IsZero() {
		return nil
	}
	for i := 0; i < int(f.NumRewardTokens); i++ {
		if err := userRefreshReward(f, u, i); err != nil {
			return err
		}
	}
	return nil
}

// chargeTally adds added * rewardPerShare to every tally so freshly minted
// shares do not collect rewards issued before they existed.
func chargeTally(f *model.FarmState, u *model.UserState, added fixedpoint.Decimal) error {
	if added.IsZero() {
		return nil
	}
	for i := 0; i < int(f.NumRewardTokens); i++ {
		charge, err := added.Mul(f.RewardInfos[i].RewardPerShare)
		if err != nil {
			return err
		}
		if u.RewardsTally[i], err = u.RewardsTally[i].Add(charge); err != nil {
			return err
		}
	}
	return nil
}

// startIssuanceIfIdle restarts every issuance clock at now while the farm has
// no staked amount, so the first staker does not collect the idle window.
func startIssuanceIfIdle(f *model.FarmState, now uint64) {
	if f.TotalStakedAmount != 0 {
		return
	}
	for i := 0; i < int(f.NumRewardTokens); i++ {
		f.RewardInfos[i].LastIssuanceTimestamp = now
	}
}

// refreshUserStake settles a matured pending deposit into active stake.
func (e *Engine) refreshUserStake(f *model.FarmState, u *model.UserState, now uint64) error {
	startIssuanceIfIdle(f, now)

	if u.PendingDepositStake.IsZero() || now < u.PendingDepositReadyTimestamp {
		return nil
	}
	amount, gained, err := stake.ActivatePendingStake(u, f)
	if err != nil {
		return err
	}
	e.log.Debug("pending deposit activated", "farm", f.ID, "owner", u.Owner, "amount", amount, "shares", gained.String())
	return chargeTally(f, u, gained)
}

func (e *Engine) userRefreshState(f *model.FarmState, u *model.UserState, q *model.PriceQuote, now uint64) error {
	if err := e.refreshGlobalRewards(f, q, now); err != nil {
		return err
	}
	if err := userRefreshAllRewards(f, u); err != nil {
		return err
	}
	u.IsFarmDelegated = f.IsDelegated()
	if f.IsDelegated() {
		return nil
	}
	return e.refreshUserStake(f, u, now)
}

// RefreshGlobalRewards brings every reward stream of farm up to now.
func (e *Engine) RefreshGlobalRewards(farm *model.FarmState, q *model.PriceQuote, now uint64) error {
	return onFarm(farm, func(f *model.FarmState) error {
		return e.refreshGlobalRewards(f, q, now)
	})
}

// UserRefreshState refreshes the farm, credits the user's accrued rewards and
// settles a matured pending deposit.
func (e *Engine) UserRefreshState(farm *model.FarmState, user *model.UserState, q *model.PriceQuote, now uint64) error {
	return onUser(farm, user, func(f *model.FarmState, u *model.UserState) error {
		return e.userRefreshState(f, u, q, now)
	})
}
