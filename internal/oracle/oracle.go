// Package oracle applies externally supplied price quotes to farm amounts.
// Quotes are inputs: this package never fetches prices, it only checks that
// a quote is present and fresh and scales amounts by it.
package oracle

import (
	"errors"
	"fmt"

	"github.com/atmx/farm-engine/internal/fixedpoint"
	"github.com/atmx/farm-engine/internal/model"
)

var (
	// ErrMissingPrices is returned when the farm is priced but no quote
	// was supplied.
	ErrMissingPrices = errors.New("oracle: missing price quote")

	// ErrPriceTooOld is returned when the quote is older than the farm's
	// maximum age. Callers may retry with a fresher quote.
	ErrPriceTooOld = errors.New("oracle: price quote too old")
)

// Feed is a farm's oracle configuration.
type Feed struct {
	PriceID uint64
	MaxAge  uint64
}

// FeedOf returns the oracle configuration of f.
func FeedOf(f *model.FarmState) Feed {
	if !f.HasOracle() {
		return Feed{PriceID: model.NoOraclePrice}
	}
	return Feed{PriceID: f.OraclePriceID, MaxAge: f.OracleMaxAge}
}

// Enabled reports whether amounts must be price-adjusted.
func (f Feed) Enabled() bool { return f.PriceID != model.NoOraclePrice }

// Check returns the quote to apply at now, or nil when the feed is disabled.
// A quote stamped after now counts as age zero.
func (f Feed) Check(q *model.PriceQuote, now uint64) (*model.PriceQuote, error) {
	if !f.Enabled() {
		return nil, nil
	}
	if q == nil {
		return nil, fmt.Errorf("%w: price id %d", ErrMissingPrices, f.PriceID)
	}
	var age uint64
	if now > q.Timestamp {
		age = now - q.Timestamp
	}
	if age > f.MaxAge {
		return nil, fmt.Errorf("%w: age %d exceeds %d", ErrPriceTooOld, age, f.MaxAge)
	}
	return q, nil
}

// Scale multiplies the pipeline by the quote's value / 10^exp. A nil quote
// leaves the pipeline unchanged.
func Scale(w *fixedpoint.Wide, q *model.PriceQuote) *fixedpoint.Wide {
	if q == nil {
		return w
	}
	factor, err := fixedpoint.TenPow(q.Exp)
	if err != nil {
		return w.Fail(err)
	}
	return w.Mul(q.Value).Div(factor)
}

// Value checks the quote and returns amount adjusted by it.
func (f Feed) Value(amount uint64, q *model.PriceQuote, now uint64) (uint64, error) {
	q, err := f.Check(q, now)
	if err != nil {
		return 0, err
	}
	return Scale(fixedpoint.NewWide(amount), q).Uint64()
}
