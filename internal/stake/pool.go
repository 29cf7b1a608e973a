// Package stake implements share-based pool accounting for a farm.
//
// A farm has two pools, each a (shares, amount) pair: the active pool and a
// pending pool shared by warming-up deposits and cooling-down withdrawals.
// Shares are fixed-point; amounts are token base units. Converting amount to
// shares is exact; converting shares back to amount rounds down, so a user
// can never redeem more than their proportional slice.
//
// Every operation borrows a view of the stake fields of the user and farm
// records, mutates the view, and writes it back only when the whole
// operation succeeds.
package stake

import (
	"errors"
	"fmt"

	"github.com/atmx/farm-engine/internal/fixedpoint"
	"github.com/atmx/farm-engine/internal/model"
	"github.com/atmx/farm-engine/internal/penalty"
)

var (
	// ErrInsufficientStake is returned when removing more active shares
	// than the user holds.
	ErrInsufficientStake = errors.New("stake: not enough active stake")

	// ErrInconsistentPool is returned when a pool holds shares but no
	// backing amount and new shares would have to be priced against it.
	ErrInconsistentPool = errors.New("stake: pool has shares but zero amount")
)

// UserView is the stake-related slice of a UserState.
type UserView struct {
	ActiveStake            fixedpoint.Decimal
	PendingDepositStake    fixedpoint.Decimal
	PendingWithdrawalStake fixedpoint.Decimal
	LastStakeTimestamp     uint64
}

// FarmView is the stake-related slice of a FarmState. Locking fields are
// read-only.
type FarmView struct {
	TotalActiveStake   fixedpoint.Decimal
	TotalPendingStake  fixedpoint.Decimal
	TotalActiveAmount  uint64
	TotalPendingAmount uint64

	LockingMode       model.LockingMode
	LockingStart      uint64
	LockingDuration   uint64
	LockingPenaltyBps uint64
}

func borrowUser(u *model.UserState) UserView {
	return UserView{
		ActiveStake:            u.ActiveStake,
		PendingDepositStake:    u.PendingDepositStake,
		PendingWithdrawalStake: u.PendingWithdrawalStake,
		LastStakeTimestamp:     u.LastStakeTimestamp,
	}
}

func (v *UserView) commit(u *model.UserState) {
	u.ActiveStake = v.ActiveStake
	u.PendingDepositStake = v.PendingDepositStake
	u.PendingWithdrawalStake = v.PendingWithdrawalStake
}

func borrowFarm(f *model.FarmState) FarmView {
	return FarmView{
		TotalActiveStake:   f.TotalActiveStake,
		TotalPendingStake:  f.TotalPendingStake,
		TotalActiveAmount:  f.TotalStakedAmount,
		TotalPendingAmount: f.TotalPendingAmount,
		LockingMode:        f.LockingMode,
		LockingStart:       f.LockingStartTimestamp,
		LockingDuration:    f.LockingDuration,
		LockingPenaltyBps:  f.LockingEarlyWithdrawalPenaltyBps,
	}
}

func (v *FarmView) commit(f *model.FarmState) {
	f.TotalActiveStake = v.TotalActiveStake
	f.TotalPendingStake = v.TotalPendingStake
	f.TotalStakedAmount = v.TotalActiveAmount
	f.TotalPendingAmount = v.TotalPendingAmount
}

// Update borrows views of user and farm, runs fn on them, and writes both
// back only if fn returns nil.
func Update(user *model.UserState, farm *model.FarmState, fn func(*UserView, *FarmView) error) error {
	uv, fv := borrowUser(user), borrowFarm(farm)
	if err := fn(&uv, &fv); err != nil {
		return err
	}
	uv.commit(user)
	fv.commit(farm)
	return nil
}

// UpdateFarm is Update for farm-only operations.
func UpdateFarm(farm *model.FarmState, fn func(*FarmView) error) error {
	fv := borrowFarm(farm)
	if err := fn(&fv); err != nil {
		return err
	}
	fv.commit(farm)
	return nil
}

// --- Conversions ---

// AmountToShares prices amount against a pool. An empty pool mints shares
// one-for-one.
func AmountToShares(amount uint64, totalShares fixedpoint.Decimal, totalAmount uint64) (fixedpoint.Decimal, error) {
	if amount == 0 {
		return fixedpoint.Zero(), nil
	}
	if totalShares.IsZero() || totalAmount == 0 {
		if totalShares.IsPositive() {
			return fixedpoint.Decimal{}, fmt.Errorf("%w: %s shares", ErrInconsistentPool, totalShares)
		}
		return fixedpoint.FromUint64(amount), nil
	}
	return totalShares.MulDivUint64(amount, totalAmount)
}

// SharesToAmount redeems shares against a pool. When the pool has no shares
// the whole amount is returned.
func SharesToAmount(shares, totalShares fixedpoint.Decimal, totalAmount uint64, roundUp bool) (uint64, error) {
	if shares.IsZero() {
		return 0, nil
	}
	amount := fixedpoint.FromUint64(totalAmount)
	if totalShares.IsPositive() {
		var err error
		if amount, err = fixedpoint.FullMulDiv(shares, totalAmount, totalShares); err != nil {
			return 0, err
		}
	}
	if roundUp {
		return amount.Ceil()
	}
	return amount.Floor()
}

// --- View-level primitives ---

func addToPool(shares *fixedpoint.Decimal, amount *uint64, deposited uint64) (fixedpoint.Decimal, error) {
	gained, err := AmountToShares(deposited, *shares, *amount)
	if err != nil {
		return fixedpoint.Decimal{}, err
	}
	newShares, err := shares.Add(gained)
	if err != nil {
		return fixedpoint.Decimal{}, err
	}
	newAmount, err := fixedpoint.Add64(*amount, deposited)
	if err != nil {
		return fixedpoint.Decimal{}, err
	}
	*shares, *amount = newShares, newAmount
	return gained, nil
}

func removeFromPool(shares *fixedpoint.Decimal, amount *uint64, redeemed fixedpoint.Decimal) (uint64, error) {
	out, err := SharesToAmount(redeemed, *shares, *amount, false)
	if err != nil {
		return 0, err
	}
	newAmount, err := fixedpoint.Sub64(*amount, out)
	if err != nil {
		return 0, err
	}
	newShares, err := shares.Sub(redeemed)
	if err != nil {
		return 0, err
	}
	*shares, *amount = newShares, newAmount
	return out, nil
}

func addPendingDeposit(u *UserView, f *FarmView, amount uint64) (fixedpoint.Decimal, error) {
	gained, err := addToPool(&f.TotalPendingStake, &f.TotalPendingAmount, amount)
	if err != nil {
		return gained, err
	}
	u.PendingDepositStake, err = u.PendingDepositStake.Add(gained)
	return gained, err
}

func removePendingDeposit(u *UserView, f *FarmView) (uint64, error) {
	out, err := removeFromPool(&f.TotalPendingStake, &f.TotalPendingAmount, u.PendingDepositStake)
	if err != nil {
		return 0, err
	}
	u.PendingDepositStake = fixedpoint.Zero()
	return out, nil
}

func addActiveStake(u *UserView, f *FarmView, amount uint64) (fixedpoint.Decimal, error) {
	gained, err := addToPool(&f.TotalActiveStake, &f.TotalActiveAmount, amount)
	if err != nil {
		return gained, err
	}
	u.ActiveStake, err = u.ActiveStake.Add(gained)
	return gained, err
}

func removeActiveStake(u *UserView, f *FarmView, shares fixedpoint.Decimal) (uint64, error) {
	if shares.Gt(u.ActiveStake) {
		return 0, fmt.Errorf("%w: have %s, requested %s", ErrInsufficientStake, u.ActiveStake, shares)
	}
	out, err := removeFromPool(&f.TotalActiveStake, &f.TotalActiveAmount, shares)
	if err != nil {
		return 0, err
	}
	u.ActiveStake, err = u.ActiveStake.Sub(shares)
	return out, err
}

func addPendingWithdrawal(u *UserView, f *FarmView, amount uint64) (fixedpoint.Decimal, error) {
	gained, err := addToPool(&f.TotalPendingStake, &f.TotalPendingAmount, amount)
	if err != nil {
		return gained, err
	}
	u.PendingWithdrawalStake, err = u.PendingWithdrawalStake.Add(gained)
	return gained, err
}

func removePendingWithdrawal(u *UserView, f *FarmView) (uint64, error) {
	out, err := removeFromPool(&f.TotalPendingStake, &f.TotalPendingAmount, u.PendingWithdrawalStake)
	if err != nil {
		return 0, err
	}
	u.PendingWithdrawalStake = fixedpoint.Zero()
	return out, nil
}

// --- Operations ---

// AddPendingDeposit moves amount into the user's warming-up stake.
func AddPendingDeposit(user *model.UserState, farm *model.FarmState, amount uint64) (gained fixedpoint.Decimal, err error) {
	err = Update(user, farm, func(u *UserView, f *FarmView) error {
		gained, err = addPendingDeposit(u, f, amount)
		return err
	})
	return gained, err
}

// RemovePendingDeposit redeems all of the user's warming-up stake.
func RemovePendingDeposit(user *model.UserState, farm *model.FarmState) (removed uint64, err error) {
	err = Update(user, farm, func(u *UserView, f *FarmView) error {
		removed, err = removePendingDeposit(u, f)
		return err
	})
	return removed, err
}

// AddActiveStake mints active shares for amount.
func AddActiveStake(user *model.UserState, farm *model.FarmState, amount uint64) (gained fixedpoint.Decimal, err error) {
	err = Update(user, farm, func(u *UserView, f *FarmView) error {
		gained, err = addActiveStake(u, f, amount)
		return err
	})
	return gained, err
}

// ActivatePendingStake settles a matured deposit: the pending shares are
// redeemed and the amount is restaked into the active pool.
func ActivatePendingStake(user *model.UserState, farm *model.FarmState) (amount uint64, gained fixedpoint.Decimal, err error) {
	err = Update(user, farm, func(u *UserView, f *FarmView) error {
		if amount, err = removePendingDeposit(u, f); err != nil {
			return err
		}
		gained, err = addActiveStake(u, f, amount)
		return err
	})
	return amount, gained, err
}

// RemoveActiveStake burns shares from the user's active stake.
func RemoveActiveStake(user *model.UserState, farm *model.FarmState, shares fixedpoint.Decimal) (removed uint64, err error) {
	err = Update(user, farm, func(u *UserView, f *FarmView) error {
		removed, err = removeActiveStake(u, f, shares)
		return err
	})
	return removed, err
}

// AddPendingWithdrawal moves amount into the user's cooling-down stake.
func AddPendingWithdrawal(user *model.UserState, farm *model.FarmState, amount uint64) (gained fixedpoint.Decimal, err error) {
	err = Update(user, farm, func(u *UserView, f *FarmView) error {
		gained, err = addPendingWithdrawal(u, f, amount)
		return err
	})
	return gained, err
}

// RemovePendingWithdrawal redeems all of the user's cooling-down stake.
func RemovePendingWithdrawal(user *model.UserState, farm *model.FarmState) (removed uint64, err error) {
	err = Update(user, farm, func(u *UserView, f *FarmView) error {
		removed, err = removePendingWithdrawal(u, f)
		return err
	})
	return removed, err
}

// Unstaked reports the outcome of Unstake.
type Unstaked struct {
	AmountPostPenalty   uint64
	PendingSharesGained fixedpoint.Decimal
	Penalty             uint64
}

// Unstake burns active shares, charges the early-withdrawal penalty for the
// farm's locking mode, and parks the rest in the pending pool. The penalty
// leaves both pools.
func Unstake(user *model.UserState, farm *model.FarmState, shares fixedpoint.Decimal, now uint64) (res Unstaked, err error) {
	err = Update(user, farm, func(u *UserView, f *FarmView) error {
		amount, err := removeActiveStake(u, f, shares)
		if err != nil {
			return err
		}
		res.AmountPostPenalty, res.Penalty = amount, 0
		switch f.LockingMode {
		case model.LockingWithExpiry:
			res.AmountPostPenalty, res.Penalty, err = penalty.Apply(f.LockingDuration, f.LockingStart, now, f.LockingPenaltyBps, amount)
		case model.LockingContinuous:
			res.AmountPostPenalty, res.Penalty, err = penalty.Apply(f.LockingDuration, u.LastStakeTimestamp, now, f.LockingPenaltyBps, amount)
		}
		if err != nil {
			return err
		}
		res.PendingSharesGained, err = addPendingWithdrawal(u, f, res.AmountPostPenalty)
		return err
	})
	if err != nil {
		return Unstaked{}, err
	}
	return res, nil
}

// IncreaseTotalAmount adds amount to the active pool without minting shares,
// raising the redemption value of every active share.
func IncreaseTotalAmount(farm *model.FarmState, amount uint64) error {
	return UpdateFarm(farm, func(f *FarmView) (err error) {
		f.TotalActiveAmount, err = fixedpoint.Add64(f.TotalActiveAmount, amount)
		return err
	})
}

// WithdrawFarm drains both pools by the same ratio. A request covering the
// whole vault empties both pools and asks the caller to freeze the farm.
func WithdrawFarm(farm *model.FarmState, requested uint64) (eff model.VaultWithdrawEffects, err error) {
	err = UpdateFarm(farm, func(f *FarmView) error {
		vault, err := fixedpoint.Add64(f.TotalActiveAmount, f.TotalPendingAmount)
		if err != nil {
			return err
		}
		if requested >= vault {
			f.TotalActiveAmount, f.TotalPendingAmount = 0, 0
			eff = model.VaultWithdrawEffects{AmountToWithdraw: vault, FarmToFreeze: true}
			return nil
		}
		fromActive, err := fixedpoint.MulDiv64(f.TotalActiveAmount, requested, vault)
		if err != nil {
			return err
		}
		fromPending, err := fixedpoint.MulDiv64(f.TotalPendingAmount, requested, vault)
		if err != nil {
			return err
		}
		f.TotalActiveAmount -= fromActive
		f.TotalPendingAmount -= fromPending
		eff = model.VaultWithdrawEffects{AmountToWithdraw: fromActive + fromPending}
		return nil
	})
	return eff, err
}
