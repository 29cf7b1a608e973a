package farm

import (
	"errors"

	"github.com/atmx/farm-engine/internal/farmconfig"
	"github.com/atmx/farm-engine/internal/fixedpoint"
	"github.com/atmx/farm-engine/internal/limits"
	"github.com/atmx/farm-engine/internal/oracle"
	"github.com/atmx/farm-engine/internal/penalty"
	"github.com/atmx/farm-engine/internal/schedule"
	"github.com/atmx/farm-engine/internal/stake"
)

var (
	ErrStakeZero                        = errors.New("farm: stake amount is zero")
	ErrUnstakeZero                      = errors.New("farm: unstake amount is zero")
	ErrNothingToUnstake                 = errors.New("farm: nothing to unstake")
	ErrPendingWithdrawalNotWithdrawnYet = errors.New("farm: matured pending withdrawal must be withdrawn first")
	ErrUnstakeNotElapsed                = errors.New("farm: unstake cooldown not elapsed")
	ErrNothingToWithdraw                = errors.New("farm: nothing to withdraw")
	ErrMinClaimDurationNotReached       = errors.New("farm: minimum claim duration not reached")
	ErrFarmFrozen                       = errors.New("farm: farm is frozen")
	ErrDepositZero                      = errors.New("farm: deposit amount is zero")
	ErrWithdrawRewardZeroAvailable      = errors.New("farm: no reward available to withdraw")
	ErrRewardUnclaimedMismatch          = errors.New("farm: user unclaimed reward does not match expected value")

	ErrFarmDelegated            = errors.New("farm: operation not allowed on delegated farm")
	ErrFarmNotDelegated         = errors.New("farm: operation requires a delegated farm")
	ErrRewardIndexOutOfRange    = errors.New("farm: reward index out of range")
	ErrRewardDoesNotExist       = errors.New("farm: reward does not exist")
	ErrMaxRewardNumberReached   = errors.New("farm: maximum number of rewards reached")
	ErrRewardScheduleCurveSet   = errors.New("farm: reward schedule curve is set")
	ErrInvalidConfigValue       = errors.New("farm: invalid config value")
	ErrInvalidTransferOwnership = errors.New("farm: ownership transfer not allowed")

	// ErrInvalidDelegatedState is returned when a delegated farm's records
	// violate the delegated-mode invariants.
	ErrInvalidDelegatedState = errors.New("farm: invalid delegated farm state")

	ErrIntegerOverflow   = fixedpoint.ErrOverflow
	ErrDepositCapReached = limits.ErrDepositCapReached
	ErrMissingPrices     = oracle.ErrMissingPrices
	ErrPriceTooOld       = oracle.ErrPriceTooOld
)

// Class groups errors by how a caller should react to them.
type Class int

const (
	ClassUnknown Class = iota
	// ClassConfig: the request or farm configuration is invalid.
	ClassConfig
	// ClassPrecondition: the request is valid but cannot run now.
	ClassPrecondition
	// ClassOracle: retry with a fresh price quote.
	ClassOracle
	// ClassArithmetic: an invariant was violated. Alert on these.
	ClassArithmetic
)

func (c Class) String() string {
	switch c {
	case ClassConfig:
		return "config"
	case ClassPrecondition:
		return "precondition"
	case ClassOracle:
		return "oracle"
	case ClassArithmetic:
		return "arithmetic"
	}
	return "unknown"
}

var classes = []struct {
	class Class
	errs  []error
}{
	{ClassOracle, []error{ErrMissingPrices, ErrPriceTooOld}},
	{ClassArithmetic, []error{
		fixedpoint.ErrOverflow, fixedpoint.ErrUnderflow, fixedpoint.ErrDivisionByZero,
		stake.ErrInsufficientStake, stake.ErrInconsistentPool, ErrInvalidDelegatedState,
	}},
	{ClassConfig, []error{
		schedule.ErrInvalidCurvePoint, schedule.ErrInvalidTimestamp,
		penalty.ErrInvalidLockingTimestamps, penalty.ErrInvalidPenaltyPercentage, penalty.ErrEarlyWithdrawalNotAllowed,
		farmconfig.ErrUnknownKey, farmconfig.ErrInvalidValue, fixedpoint.ErrInvalidText,
		ErrFarmDelegated, ErrFarmNotDelegated, ErrRewardIndexOutOfRange, ErrRewardDoesNotExist,
		ErrMaxRewardNumberReached, ErrRewardScheduleCurveSet, ErrInvalidConfigValue, ErrInvalidTransferOwnership,
	}},
	{ClassPrecondition, []error{
		ErrStakeZero, ErrUnstakeZero, ErrNothingToUnstake, ErrPendingWithdrawalNotWithdrawnYet,
		ErrUnstakeNotElapsed, ErrNothingToWithdraw, ErrMinClaimDurationNotReached, ErrFarmFrozen,
		ErrDepositZero, ErrWithdrawRewardZeroAvailable, ErrRewardUnclaimedMismatch, ErrDepositCapReached,
	}},
}

// Classify returns the class of err.
func Classify(err error) Class {
	for _, c := range classes {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.class
			}
		}
	}
	return ClassUnknown
}
