package limits

import (
	"errors"
	"testing"

	"github.com/atmx/farm-engine/internal/model"
	"github.com/atmx/farm-engine/internal/oracle"
)

func unpriced(limit uint64) DepositCap {
	return DepositCap{Cap: limit, Feed: oracle.Feed{PriceID: model.NoOraclePrice}}
}

func TestCheck_Uncapped(t *testing.T) {
	if err := unpriced(0).Check(1<<62, 1<<62, nil, 0); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheck_WithinCap(t *testing.T) {
	// Existing 900 + new 100 = 1000, exactly at the cap.
	if err := unpriced(1000).Check(900, 100, nil, 0); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheck_CapExceeded(t *testing.T) {
	err := unpriced(1000).Check(900, 101, nil, 0)
	if !errors.Is(err, ErrDepositCapReached) {
		t.Errorf("expected ErrDepositCapReached, got %v", err)
	}
}

func TestCheck_PricedCap(t *testing.T) {
	c := DepositCap{Cap: 1000, Feed: oracle.Feed{PriceID: 3, MaxAge: 10}}

	// 400 tokens at 2.0 = 800 quote units.
	quote := &model.PriceQuote{Value: 2, Exp: 0, Timestamp: 100}
	if err := c.Check(300, 100, quote, 100); err != nil {
		t.Errorf("expected no error, got %v", err)
	}

	// 600 tokens at 2.0 = 1200 > 1000.
	if err := c.Check(500, 100, quote, 100); !errors.Is(err, ErrDepositCapReached) {
		t.Errorf("expected ErrDepositCapReached, got %v", err)
	}
}

func TestCheck_PricedNeedsQuote(t *testing.T) {
	c := DepositCap{Cap: 0, Feed: oracle.Feed{PriceID: 3, MaxAge: 10}}

	if err := c.Check(0, 1, nil, 100); !errors.Is(err, oracle.ErrMissingPrices) {
		t.Errorf("expected ErrMissingPrices, got %v", err)
	}
	stale := &model.PriceQuote{Value: 1, Timestamp: 50}
	if err := c.Check(0, 1, stale, 100); !errors.Is(err, oracle.ErrPriceTooOld) {
		t.Errorf("expected ErrPriceTooOld, got %v", err)
	}
}

func TestHeadroom(t *testing.T) {
	if _, ok := unpriced(0).Headroom(10); ok {
		t.Error("uncapped farm should report no headroom bound")
	}
	if r, ok := unpriced(1000).Headroom(250); !ok || r != 750 {
		t.Errorf("expected 750 remaining, got %d (ok=%v)", r, ok)
	}
	if r, ok := unpriced(1000).Headroom(2000); !ok || r != 0 {
		t.Errorf("expected 0 remaining, got %d (ok=%v)", r, ok)
	}
}
