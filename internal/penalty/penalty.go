// Package penalty computes the early-withdrawal penalty charged when stake
// leaves a locked farm before maturity. The penalty decays linearly from the
// configured basis points at lock start to zero at maturity.
package penalty

import (
	"errors"
	"fmt"

	"github.com/atmx/farm-engine/internal/fixedpoint"
)

var (
	ErrInvalidLockingTimestamps  = errors.New("penalty: invalid locking timestamps")
	ErrInvalidPenaltyPercentage  = errors.New("penalty: penalty percentage above 100%")
	ErrEarlyWithdrawalNotAllowed = errors.New("penalty: early withdrawal not allowed")
)

// Bps returns the penalty in basis points for a withdrawal at now inside the
// lock window [begin, maturity).
//
// Withdrawals before begin or at/after maturity are free. A configured value
// of exactly 0 or 10000 forbids early withdrawal altogether.
func Bps(begin, now, maturity, configuredBps uint64) (uint64, error) {
	if maturity < begin {
		return 0, fmt.Errorf("%w: maturity %d before start %d", ErrInvalidLockingTimestamps, maturity, begin)
	}
	if now < begin || now >= maturity {
		return 0, nil
	}
	if configuredBps > fixedpoint.BpsDivFactor {
		return 0, fmt.Errorf("%w: %d bps", ErrInvalidPenaltyPercentage, configuredBps)
	}
	if configuredBps == 0 || configuredBps == fixedpoint.BpsDivFactor {
		return 0, ErrEarlyWithdrawalNotAllowed
	}
	// configuredBps <= 10000 and remaining <= duration, so the product is
	// bounded well inside 128 bits.
	return fixedpoint.MulDiv64(configuredBps, maturity-now, maturity-begin)
}

// Apply charges the penalty for withdrawing amount at now from a lock that
// started at start and lasts duration. It returns (amount - penalty, penalty).
func Apply(duration, start, now, configuredBps, amount uint64) (net, charged uint64, err error) {
	maturity, err := fixedpoint.Add64(start, duration)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: lock end overflows", ErrInvalidLockingTimestamps)
	}
	bps, err := Bps(start, now, maturity, configuredBps)
	if err != nil {
		return 0, 0, err
	}
	charged, err = fixedpoint.MulDiv64(amount, bps, fixedpoint.BpsDivFactor)
	if err != nil {
		return 0, 0, err
	}
	return amount - charged, charged, nil
}
