// Package limits enforces farm deposit caps.
//
// A cap bounds the total active amount a farm will accept. On farms with an
// oracle feed the cap is denominated in quote units: the prospective total
// is priced before comparison, so a cap of 1_000_000 on a farm quoted in USD
// means one million dollars of stake, not one million tokens.
package limits

import (
	"errors"
	"fmt"

	"github.com/atmx/farm-engine/internal/fixedpoint"
	"github.com/atmx/farm-engine/internal/model"
	"github.com/atmx/farm-engine/internal/oracle"
)

// ErrDepositCapReached is returned when a deposit would push the farm's
// (possibly price-adjusted) total above its cap.
var ErrDepositCapReached = errors.New("limits: deposit cap reached")

// DepositCap checks deposits against a farm's cap.
type DepositCap struct {
	// Cap is the maximum total; zero means uncapped.
	Cap uint64

	// Feed prices the total when enabled.
	Feed oracle.Feed
}

// ForFarm returns the cap configured on f.
func ForFarm(f *model.FarmState) DepositCap {
	return DepositCap{Cap: f.DepositCapAmount, Feed: oracle.FeedOf(f)}
}

// Check validates whether the farm can take amount on top of totalStaked.
//
// Returns nil if the deposit fits. A priced farm needs a fresh quote even
// when uncapped.
func (c DepositCap) Check(totalStaked, amount uint64, q *model.PriceQuote, now uint64) error {
	total, err := fixedpoint.Add64(totalStaked, amount)
	if err != nil {
		return err
	}
	valued, err := c.Feed.Value(total, q, now)
	if err != nil {
		return err
	}
	if c.Cap != 0 && valued > c.Cap {
		return fmt.Errorf("%w: %d exceeds %d", ErrDepositCapReached, valued, c.Cap)
	}
	return nil
}

// Headroom returns how many more tokens the farm accepts. ok is false when
// the farm is uncapped or priced, where no fixed token bound exists.
func (c DepositCap) Headroom(totalStaked uint64) (remaining uint64, ok bool) {
	if c.Cap == 0 || c.Feed.Enabled() {
		return 0, false
	}
	if totalStaked >= c.Cap {
		return 0, true
	}
	return c.Cap - totalStaked, true
}
