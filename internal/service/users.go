package service

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/farm-engine/internal/fixedpoint"
	"github.com/atmx/farm-engine/internal/model"
	"github.com/atmx/farm-engine/internal/store"
)

// --- Request types ---

// InitializeUserRequest is the JSON body for POST /farms/{farmID}/users.
// Delegatee defaults to Owner.
type InitializeUserRequest struct {
	Owner     string `json:"owner"`
	Delegatee string `json:"delegatee,omitempty"`
}

// UnstakeRequest is the JSON body for POST .../unstake. Shares is a decimal
// string; All unstakes the whole active stake.
type UnstakeRequest struct {
	Shares fixedpoint.Decimal `json:"shares"`
	All    bool               `json:"all,omitempty"`
	Quote  *model.PriceQuote  `json:"quote,omitempty"`
}

// HarvestRequest is the JSON body for POST .../harvest.
type HarvestRequest struct {
	RewardIndex uint64            `json:"reward_index"`
	Quote       *model.PriceQuote `json:"quote,omitempty"`
}

// SetStakeRequest is the JSON body for POST .../set-stake on delegated farms.
type SetStakeRequest struct {
	Stake uint64 `json:"stake"`
}

// RewardOnceRequest is the JSON body for POST .../reward-once.
type RewardOnceRequest struct {
	RewardIndex       uint64 `json:"reward_index"`
	Amount            uint64 `json:"amount"`
	ExpectedUnclaimed uint64 `json:"expected_unclaimed"`
}

// TransferRequest is the JSON body for POST .../transfer.
type TransferRequest struct {
	NewOwner string            `json:"new_owner"`
	Quote    *model.PriceQuote `json:"quote,omitempty"`
}

// --- Queries ---

// ListUsers handles GET /api/v1/farms/{farmID}/users
func (s *Service) ListUsers(w http.ResponseWriter, r *http.Request) {
	farmID := chi.URLParam(r, "farmID")
	if _, err := s.store.GetFarm(r.Context(), farmID); err != nil {
		s.fail(w, "list_users", err)
		return
	}
	users, err := s.store.ListUsers(r.Context(), farmID)
	if err != nil {
		writeError(w, "failed to list users", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []model.UserState{}
	}
	writeJSON(w, http.StatusOK, users)
}

// GetUser handles GET /api/v1/farms/{farmID}/users/{owner}
func (s *Service) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.GetUser(r.Context(), chi.URLParam(r, "farmID"), chi.URLParam(r, "owner"))
	if err != nil {
		s.fail(w, "get_user", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// --- Mutations ---

// InitializeUser handles POST /api/v1/farms/{farmID}/users
func (s *Service) InitializeUser(w http.ResponseWriter, r *http.Request) {
	const op = "initialize_user"
	defer observe(op, time.Now())

	var req InitializeUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.store.GetFarm(ctx, chi.URLParam(r, "farmID"))
	if err != nil {
		s.fail(w, op, err)
		return
	}
	if _, err := s.store.GetUser(ctx, f.ID, req.Owner); err == nil {
		s.fail(w, op, store.ErrExists)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.fail(w, op, err)
		return
	}

	now := s.clock.Now(f.TimeUnit)
	u, err := s.engine.InitializeUser(f, req.Owner, req.Delegatee, now)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	ev := s.newEvent(f.ID, model.EventUserInitialized)
	ev.Owner = u.Owner
	ev.Amount = u.UserID
	ev.Timestamp = now
	if err := s.commit(ctx, op, f, []*model.UserState{&u}, ev); err != nil {
		s.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, OperationResponse{EventID: ev.ID, Farm: f, User: &u})
}

// Stake handles POST /api/v1/farms/{farmID}/users/{owner}/stake
func (s *Service) Stake(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.runUserOp(w, r, "stake", model.EventStaked, func(f *model.FarmState, u *model.UserState, now uint64, ev *model.Event) (any, error) {
		eff, err := s.engine.Stake(f, u, req.Quote, req.Amount, now)
		if err != nil {
			return nil, err
		}
		ev.Amount = eff.AmountToStake
		moved(f.ID, "stake", eff.AmountToStake)
		return eff, nil
	})
}

// Unstake handles POST /api/v1/farms/{farmID}/users/{owner}/unstake
func (s *Service) Unstake(w http.ResponseWriter, r *http.Request) {
	var req UnstakeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.runUserOp(w, r, "unstake", model.EventUnstaked, func(f *model.FarmState, u *model.UserState, now uint64, ev *model.Event) (any, error) {
		shares := req.Shares
		if req.All {
			shares = u.ActiveStake
		}
		eff, err := s.engine.Unstake(f, u, req.Quote, shares, now)
		if err != nil {
			return nil, err
		}
		ev.Amount = eff.AmountPostPenalty
		ev.Secondary = eff.PenaltyAmount
		moved(f.ID, "penalty", eff.PenaltyAmount)
		return eff, nil
	})
}

// Harvest handles POST /api/v1/farms/{farmID}/users/{owner}/harvest
func (s *Service) Harvest(w http.ResponseWriter, r *http.Request) {
	var req HarvestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	// Fee is read under s.mu together with the farm.
	s.runUserOp(w, r, "harvest", model.EventHarvested, func(f *model.FarmState, u *model.UserState, now uint64, ev *model.Event) (any, error) {
		g, err := s.store.GetGlobalConfig(r.Context())
		if err != nil {
			return nil, err
		}
		eff, err := s.engine.Harvest(f, u, g, req.Quote, req.RewardIndex, now)
		if err != nil {
			return nil, err
		}
		ev.RewardIndex = int(req.RewardIndex)
		ev.Amount = eff.RewardUser
		ev.Secondary = eff.RewardTreasury
		moved(f.ID, "harvest_user", eff.RewardUser)
		moved(f.ID, "harvest_treasury", eff.RewardTreasury)
		return eff, nil
	})
}

// WithdrawUnstaked handles POST /api/v1/farms/{farmID}/users/{owner}/withdraw
func (s *Service) WithdrawUnstaked(w http.ResponseWriter, r *http.Request) {
	s.runUserOp(w, r, "withdraw_unstaked", model.EventWithdrawn, func(f *model.FarmState, u *model.UserState, now uint64, ev *model.Event) (any, error) {
		eff, err := s.engine.WithdrawUnstakedDeposits(f, u, now)
		if err != nil {
			return nil, err
		}
		ev.Amount = eff.AmountToWithdraw
		moved(f.ID, "withdraw", eff.AmountToWithdraw)
		return eff, nil
	})
}

// RefreshUser handles POST /api/v1/farms/{farmID}/users/{owner}/refresh
func (s *Service) RefreshUser(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.runUserOp(w, r, "refresh_user", model.EventUserRefreshed, func(f *model.FarmState, u *model.UserState, now uint64, _ *model.Event) (any, error) {
		return nil, s.engine.UserRefreshState(f, u, req.Quote, now)
	})
}

// SetStake handles POST /api/v1/farms/{farmID}/users/{owner}/set-stake
func (s *Service) SetStake(w http.ResponseWriter, r *http.Request) {
	var req SetStakeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.runUserOp(w, r, "set_stake", model.EventStakeSet, func(f *model.FarmState, u *model.UserState, now uint64, ev *model.Event) (any, error) {
		ev.Amount = req.Stake
		return nil, s.engine.SetStake(f, u, req.Stake, now)
	})
}

// RewardUserOnce handles POST /api/v1/farms/{farmID}/users/{owner}/reward-once
func (s *Service) RewardUserOnce(w http.ResponseWriter, r *http.Request) {
	var req RewardOnceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.runUserOp(w, r, "reward_user_once", model.EventUserRewarded, func(f *model.FarmState, u *model.UserState, _ uint64, ev *model.Event) (any, error) {
		ev.RewardIndex = int(req.RewardIndex)
		ev.Amount = req.Amount
		return nil, s.engine.RewardUserOnce(f, u, req.RewardIndex, req.Amount, req.ExpectedUnclaimed)
	})
}

// TransferOwnership handles POST /api/v1/farms/{farmID}/users/{owner}/transfer
// The receiving user is initialized when it does not exist yet.
func (s *Service) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	const op = "transfer_ownership"
	defer observe(op, time.Now())

	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.NewOwner == "" {
		writeError(w, "new_owner is required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	farmID := chi.URLParam(r, "farmID")

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.store.GetFarm(ctx, farmID)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	from, err := s.store.GetUser(ctx, farmID, chi.URLParam(r, "owner"))
	if err != nil {
		s.fail(w, op, err)
		return
	}
	now := s.clock.Now(f.TimeUnit)

	to, err := s.store.GetUser(ctx, farmID, req.NewOwner)
	if errors.Is(err, store.ErrNotFound) {
		var fresh model.UserState
		fresh, err = s.engine.InitializeUser(f, req.NewOwner, "", now)
		to = &fresh
	}
	if err != nil {
		s.fail(w, op, err)
		return
	}

	eff, err := s.engine.TransferOwnership(f, from, to, req.Quote, now)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	ev := s.newEvent(f.ID, model.EventOwnershipTransfer)
	ev.Owner = from.Owner
	ev.Amount = eff.AmountToStake
	ev.Timestamp = now
	if err := s.commit(ctx, op, f, []*model.UserState{from, to}, ev); err != nil {
		s.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": ev.ID,
		"effects":  eff,
		"farm":     f,
		"from":     from,
		"to":       to,
	})
}
