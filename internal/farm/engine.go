// Package farm implements the reward accrual engine and every farm entry
// point: staking, unstaking, harvesting, reward funding and configuration.
//
// The engine never moves tokens. Each mutating call returns an effects value
// naming the amounts the caller must transfer. Time and price quotes are
// inputs. Calls are all-or-nothing: an entry point works on copies of the
// farm and user records and writes them back only when it succeeds, so a
// failed call leaves its arguments untouched.
package farm

import (
	"log/slog"

	"github.com/atmx/farm-engine/internal/fixedpoint"
	"github.com/atmx/farm-engine/internal/model"
)

// Engine runs farm operations. It holds no farm state and is safe to share;
// callers serialise mutations of the same records.
type Engine struct {
	log *slog.Logger
}

// New creates an engine logging through logger, or slog.Default when nil.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{log: logger.With("component", "farm")}
}

// onFarm runs fn on a copy of farm and commits it on success.
func onFarm(farm *model.FarmState, fn func(f *model.FarmState) error) error {
	f := *farm
	if err := fn(&f); err != nil {
		return err
	}
	*farm = f
	return nil
}

// onUser runs fn on copies of farm and user and commits both on success.
func onUser(farm *model.FarmState, user *model.UserState, fn func(f *model.FarmState, u *model.UserState) error) error {
	f, u := *farm, *user
	if err := fn(&f, &u); err != nil {
		return err
	}
	*farm, *user = f, u
	return nil
}

// shareBasis returns the stake value reward math multiplies reward-per-share
// by. Delegated farms keep whole stake counts in the raw representation.
func shareBasis(f *model.FarmState, s fixedpoint.Decimal) (fixedpoint.Decimal, error) {
	if f.IsDelegated() {
		return s.RawAsWhole()
	}
	return s, nil
}

func checkRewardIndex(f *model.FarmState, index uint64) error {
	if index >= f.NumRewardTokens {
		return ErrRewardIndexOutOfRange
	}
	return nil
}
