// Package schedule implements reward emission curves: a bounded, sorted set
// of breakpoints describing a piecewise-constant reward rate over time.
package schedule

import (
	"errors"
	"fmt"
	"math"

	"github.com/atmx/farm-engine/internal/fixedpoint"
)

// MaxPoints is the maximum number of breakpoints in a curve.
const MaxPoints = 20

// EndOfCurve marks an unused breakpoint slot; the rate is undefined past
// the last real breakpoint that precedes it.
const EndOfCurve = math.MaxUint64

var (
	// ErrInvalidCurvePoint is returned for any malformed curve and when a
	// curve is evaluated before its first breakpoint.
	ErrInvalidCurvePoint = errors.New("schedule: invalid reward rate curve point")

	// ErrInvalidTimestamp is returned when integrating backwards in time.
	ErrInvalidTimestamp = errors.New("schedule: invalid timestamp")
)

// RewardPoint starts a segment emitting RatePerTimeUnit from Start onward.
type RewardPoint struct {
	Start           uint64 `json:"ts_start"`
	RatePerTimeUnit uint64 `json:"reward_per_time_unit"`
}

// Curve is a validated reward schedule. The zero value is not valid; use
// Constant or FromPoints.
type Curve struct {
	Points [MaxPoints]RewardPoint `json:"points"`
}

// Constant returns the one-point curve emitting rate from t=0.
func Constant(rate uint64) Curve {
	c, err := FromPoints([]RewardPoint{{Start: 0, RatePerTimeUnit: rate}})
	if err != nil {
		// A single point starting at zero is always valid.
		panic(err)
	}
	return c
}

// FromPoints validates pts and pads the remaining slots with EndOfCurve.
func FromPoints(pts []RewardPoint) (Curve, error) {
	if len(pts) == 0 {
		return Curve{}, fmt.Errorf("%w: curve must have at least 1 point", ErrInvalidCurvePoint)
	}
	if len(pts) > MaxPoints {
		return Curve{}, fmt.Errorf("%w: curve must have at most %d points", ErrInvalidCurvePoint, MaxPoints)
	}
	var c Curve
	for i := range c.Points {
		c.Points[i] = RewardPoint{Start: EndOfCurve}
	}
	copy(c.Points[:], pts)
	if err := c.Validate(); err != nil {
		return Curve{}, err
	}
	return c, nil
}

// Validate checks ordering, uniqueness and sentinel placement.
func (c *Curve) Validate() error {
	pts := c.Points[:]
	if pts[0].Start == EndOfCurve {
		return fmt.Errorf("%w: first point cannot use the end-of-curve timestamp", ErrInvalidCurvePoint)
	}
	foundEnd := false
	for i, pt := range pts {
		if i > 0 && pt.Start < pts[i-1].Start {
			return fmt.Errorf("%w: points must be sorted by timestamp", ErrInvalidCurvePoint)
		}
		if i > 0 && pt.Start == pts[i-1].Start && pt.Start != EndOfCurve {
			return fmt.Errorf("%w: duplicate timestamp %d", ErrInvalidCurvePoint, pt.Start)
		}
		if pt.Start == EndOfCurve {
			foundEnd = true
		} else if foundEnd {
			return fmt.Errorf("%w: point at %d follows end of curve", ErrInvalidCurvePoint, pt.Start)
		}
	}
	return nil
}

// Len returns the number of real breakpoints.
func (c *Curve) Len() int {
	for i, pt := range c.Points {
		if pt.Start == EndOfCurve {
			return i
		}
	}
	return MaxPoints
}

// Active returns the real breakpoints.
func (c *Curve) Active() []RewardPoint {
	return append([]RewardPoint(nil), c.Points[:c.Len()]...)
}

// IsZeroConstant reports whether c is the default curve: rate 0 from t=0.
func (c *Curve) IsZeroConstant() bool {
	return *c == Constant(0)
}

// segmentAt returns the index of the last breakpoint starting at or before ts.
func (c *Curve) segmentAt(ts uint64) (int, error) {
	for i, pt := range c.Points {
		if pt.Start > ts {
			if i == 0 {
				return 0, fmt.Errorf("%w: first point starts after %d", ErrInvalidCurvePoint, ts)
			}
			return i - 1, nil
		}
	}
	return MaxPoints - 1, nil
}

// CumulativeAmountSince integrates the rate over [lastIssued, now].
func (c *Curve) CumulativeAmountSince(lastIssued, now uint64) (uint64, error) {
	if lastIssued > now {
		return 0, fmt.Errorf("%w: last issuance %d is after %d", ErrInvalidTimestamp, lastIssued, now)
	}
	start, err := c.segmentAt(lastIssued)
	if err != nil {
		return 0, err
	}

	var total uint64
	for i := start; i < MaxPoints; i++ {
		pt := c.Points[i]
		if pt.Start >= now {
			break
		}
		from := max(pt.Start, lastIssued)
		to := now
		if i < MaxPoints-1 && c.Points[i+1].Start < now {
			to = c.Points[i+1].Start
		}
		amount, err := fixedpoint.Mul64(pt.RatePerTimeUnit, to-from)
		if err != nil {
			return 0, err
		}
		if total, err = fixedpoint.Add64(total, amount); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// CurrentRate returns the rate in effect at ts.
func (c *Curve) CurrentRate(ts uint64) (uint64, error) {
	i, err := c.segmentAt(ts)
	if err != nil {
		return 0, err
	}
	return c.Points[i].RatePerTimeUnit, nil
}
