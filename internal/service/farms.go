package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atmx/farm-engine/internal/farm"
	"github.com/atmx/farm-engine/internal/farmconfig"
	"github.com/atmx/farm-engine/internal/limits"
	"github.com/atmx/farm-engine/internal/metrics"
	"github.com/atmx/farm-engine/internal/model"
	"github.com/atmx/farm-engine/internal/schedule"
)

// --- Request types ---

// GlobalConfigRequest is the JSON body for POST /global-config.
type GlobalConfigRequest struct {
	Admin string `json:"admin"`
}

// ConfigUpdateRequest is the JSON body for PUT /global-config and
// PUT /farms/{farmID}/config. Value is decoded according to Key.
type ConfigUpdateRequest struct {
	Key         string            `json:"key"`
	RewardIndex uint64            `json:"reward_index"`
	Value       json.RawMessage   `json:"value"`
	Quote       *model.PriceQuote `json:"quote,omitempty"`
}

// CreateFarmRequest is the JSON body for POST /farms.
type CreateFarmRequest struct {
	Admin             string          `json:"admin"`
	Token             model.TokenInfo `json:"token"`
	TimeUnit          model.TimeUnit  `json:"time_unit"`
	DelegateAuthority string          `json:"delegate_authority,omitempty"`
}

// InitializeRewardRequest is the JSON body for POST /farms/{farmID}/rewards.
type InitializeRewardRequest struct {
	Token model.TokenInfo `json:"token"`
	Vault string          `json:"vault"`
}

// RewardAmountRequest is the JSON body for adding or withdrawing reward.
type RewardAmountRequest struct {
	Mint   string            `json:"mint"`
	Amount uint64            `json:"amount"`
	Quote  *model.PriceQuote `json:"quote,omitempty"`
}

// AmountRequest is the JSON body for stake and vault operations.
type AmountRequest struct {
	Amount uint64            `json:"amount"`
	Quote  *model.PriceQuote `json:"quote,omitempty"`
}

// QuoteRequest is the JSON body for refresh operations.
type QuoteRequest struct {
	Quote *model.PriceQuote `json:"quote,omitempty"`
}

// --- Global config ---

// InitializeGlobalConfig handles POST /api/v1/global-config
func (s *Service) InitializeGlobalConfig(w http.ResponseWriter, r *http.Request) {
	const op = "initialize_global_config"
	var req GlobalConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Admin == "" {
		writeError(w, "admin is required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GetGlobalConfig(ctx); err == nil {
		writeError(w, "global config already initialized", http.StatusConflict)
		return
	}
	g := farm.InitializeGlobalConfig(req.Admin)
	ev := s.newEvent("", model.EventGlobalConfigChange)
	if err := s.store.SaveGlobalConfig(ctx, &g, &ev); err != nil {
		s.fail(w, op, err)
		return
	}
	metrics.OperationsTotal.WithLabelValues(op).Inc()
	s.log.Info("global config initialized", "admin", g.Admin)
	writeJSON(w, http.StatusCreated, g)
}

// GetGlobalConfig handles GET /api/v1/global-config
func (s *Service) GetGlobalConfig(w http.ResponseWriter, r *http.Request) {
	g, err := s.store.GetGlobalConfig(r.Context())
	if err != nil {
		s.fail(w, "get_global_config", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// UpdateGlobalConfig handles PUT /api/v1/global-config
func (s *Service) UpdateGlobalConfig(w http.ResponseWriter, r *http.Request) {
	const op = "update_global_config"
	var req ConfigUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := farmconfig.ParseGlobal(req.Key, req.Value)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	s.mutateGlobal(w, r, op, func(g *model.GlobalConfig) error {
		return s.engine.UpdateGlobalConfig(g, u)
	})
}

// AcceptGlobalAdmin handles POST /api/v1/global-config/accept-admin
func (s *Service) AcceptGlobalAdmin(w http.ResponseWriter, r *http.Request) {
	s.mutateGlobal(w, r, "accept_global_admin", farm.AcceptGlobalAdmin)
}

func (s *Service) mutateGlobal(w http.ResponseWriter, r *http.Request, op string, fn func(*model.GlobalConfig) error) {
	defer observe(op, time.Now())
	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.store.GetGlobalConfig(ctx)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	if err := fn(g); err != nil {
		s.fail(w, op, err)
		return
	}
	ev := s.newEvent("", model.EventGlobalConfigChange)
	ev.Amount = g.TreasuryFeeBps
	if err := s.store.SaveGlobalConfig(ctx, g, &ev); err != nil {
		s.fail(w, op, err)
		return
	}
	metrics.OperationsTotal.WithLabelValues(op).Inc()
	s.log.Info("global config updated", "op", op, "admin", g.Admin, "treasury_fee_bps", g.TreasuryFeeBps)
	writeJSON(w, http.StatusOK, g)
}

// --- Farms ---

// CreateFarm handles POST /api/v1/farms
func (s *Service) CreateFarm(w http.ResponseWriter, r *http.Request) {
	const op = "create_farm"
	var req CreateFarmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Admin == "" {
		writeError(w, "admin is required", http.StatusBadRequest)
		return
	}
	if req.Token.Mint == "" {
		writeError(w, "token.mint is required", http.StatusBadRequest)
		return
	}

	f := farm.InitializeFarm(farm.FarmParams{
		ID:                uuid.New().String(),
		Admin:             req.Admin,
		Token:             req.Token,
		TimeUnit:          req.TimeUnit,
		DelegateAuthority: req.DelegateAuthority,
	})
	f.CreatedAt = time.Now().UTC()

	ev := s.newEvent(f.ID, model.EventFarmInitialized)
	ev.Owner = f.Admin
	ev.Timestamp = s.clock.Now(f.TimeUnit)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.CreateFarm(r.Context(), &f, &ev); err != nil {
		s.fail(w, op, err)
		return
	}
	metrics.OperationsTotal.WithLabelValues(op).Inc()
	metrics.ActiveFarms.Inc()

	s.log.Info("farm created",
		"farm", f.ID,
		"admin", f.Admin,
		"token", f.Token.Mint,
		"time_unit", f.TimeUnit.String(),
		"delegated", f.IsDelegated(),
	)
	s.publish(ev)

	writeJSON(w, http.StatusCreated, f)
}

// ListFarms handles GET /api/v1/farms
func (s *Service) ListFarms(w http.ResponseWriter, r *http.Request) {
	farms, err := s.store.ListFarms(r.Context())
	if err != nil {
		writeError(w, "failed to list farms", http.StatusInternalServerError)
		return
	}
	if farms == nil {
		farms = []model.FarmState{}
	}
	writeJSON(w, http.StatusOK, farms)
}

// FarmView is the GET /farms/{farmID} response: the stored farm plus
// figures derived at the farm's current time.
type FarmView struct {
	*model.FarmState
	Priced bool `json:"priced"`
	// DepositHeadroom is omitted when the farm is uncapped or priced.
	DepositHeadroom *uint64      `json:"deposit_headroom,omitempty"`
	Rewards         []RewardView `json:"rewards"`
}

// RewardView is the schedule of one initialised reward.
type RewardView struct {
	Index       int                    `json:"index"`
	Mint        string                 `json:"mint"`
	CurrentRate uint64                 `json:"current_rate"`
	Curve       []schedule.RewardPoint `json:"curve"`
}

func newFarmView(f *model.FarmState, now uint64) FarmView {
	v := FarmView{FarmState: f, Priced: f.HasOracle(), Rewards: []RewardView{}}
	if room, ok := limits.ForFarm(f).Headroom(f.TotalStakedAmount); ok {
		v.DepositHeadroom = &room
	}
	for i := 0; i < int(f.NumRewardTokens); i++ {
		ri := &f.RewardInfos[i]
		// A curve that starts after now pays nothing yet.
		rate, _ := ri.Curve.CurrentRate(now)
		v.Rewards = append(v.Rewards, RewardView{
			Index:       i,
			Mint:        ri.Token.Mint,
			CurrentRate: rate,
			Curve:       ri.Curve.Active(),
		})
	}
	return v
}

// GetFarm handles GET /api/v1/farms/{farmID}
func (s *Service) GetFarm(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFarm(r.Context(), chi.URLParam(r, "farmID"))
	if err != nil {
		s.fail(w, "get_farm", err)
		return
	}
	writeJSON(w, http.StatusOK, newFarmView(f, s.clock.Now(f.TimeUnit)))
}

// GetEvents handles GET /api/v1/farms/{farmID}/events
// Returns the farm's ledger, oldest first.
func (s *Service) GetEvents(w http.ResponseWriter, r *http.Request) {
	farmID := chi.URLParam(r, "farmID")
	if _, err := s.store.GetFarm(r.Context(), farmID); err != nil {
		s.fail(w, "get_events", err)
		return
	}
	events, err := s.store.GetEvents(r.Context(), farmID)
	if err != nil {
		writeError(w, "failed to get farm events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// UpdateFarmConfig handles PUT /api/v1/farms/{farmID}/config
func (s *Service) UpdateFarmConfig(w http.ResponseWriter, r *http.Request) {
	const op = "update_farm_config"
	var req ConfigUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := farmconfig.Parse(req.Key, req.RewardIndex, req.Value)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	s.runFarmOp(w, r, op, model.EventConfigUpdated, func(f *model.FarmState, now uint64, ev *model.Event) (any, error) {
		if u.Key.RewardScoped() {
			ev.RewardIndex = int(u.RewardIndex)
		}
		ev.Amount = u.Uint
		return nil, s.engine.UpdateFarmConfig(f, req.Quote, u, now)
	})
}

// AcceptFarmAdmin handles POST /api/v1/farms/{farmID}/accept-admin
func (s *Service) AcceptFarmAdmin(w http.ResponseWriter, r *http.Request) {
	s.runFarmOp(w, r, "accept_farm_admin", model.EventConfigUpdated, func(f *model.FarmState, _ uint64, ev *model.Event) (any, error) {
		if err := farm.AcceptFarmAdmin(f); err != nil {
			return nil, err
		}
		ev.Owner = f.Admin
		return nil, nil
	})
}

// RefreshFarm handles POST /api/v1/farms/{farmID}/refresh
func (s *Service) RefreshFarm(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.runFarmOp(w, r, "refresh_farm", model.EventGlobalRefreshed, func(f *model.FarmState, now uint64, _ *model.Event) (any, error) {
		return nil, s.engine.RefreshGlobalRewards(f, req.Quote, now)
	})
}

// --- Rewards ---

// InitializeReward handles POST /api/v1/farms/{farmID}/rewards
func (s *Service) InitializeReward(w http.ResponseWriter, r *http.Request) {
	var req InitializeRewardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Token.Mint == "" {
		writeError(w, "token.mint is required", http.StatusBadRequest)
		return
	}
	s.runFarmOp(w, r, "initialize_reward", model.EventRewardInitialized, func(f *model.FarmState, now uint64, ev *model.Event) (any, error) {
		index, err := s.engine.InitializeReward(f, req.Token, req.Vault, now)
		if err != nil {
			return nil, err
		}
		ev.RewardIndex = int(index)
		return map[string]uint64{"reward_index": index}, nil
	})
}

// AddReward handles POST /api/v1/farms/{farmID}/rewards/{index}/add
func (s *Service) AddReward(w http.ResponseWriter, r *http.Request) {
	index, ok := rewardIndexParam(w, r)
	if !ok {
		return
	}
	var req RewardAmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.runFarmOp(w, r, "add_reward", model.EventRewardAdded, func(f *model.FarmState, now uint64, ev *model.Event) (any, error) {
		eff, err := s.engine.AddReward(f, req.Quote, req.Mint, index, req.Amount, now)
		if err != nil {
			return nil, err
		}
		ev.RewardIndex = int(index)
		ev.Amount = eff.RewardAmount
		moved(f.ID, "reward_deposit", eff.RewardAmount)
		return eff, nil
	})
}

// WithdrawReward handles POST /api/v1/farms/{farmID}/rewards/{index}/withdraw
func (s *Service) WithdrawReward(w http.ResponseWriter, r *http.Request) {
	index, ok := rewardIndexParam(w, r)
	if !ok {
		return
	}
	var req RewardAmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.runFarmOp(w, r, "withdraw_reward", model.EventRewardWithdrawn, func(f *model.FarmState, now uint64, ev *model.Event) (any, error) {
		eff, err := s.engine.WithdrawReward(f, req.Quote, req.Mint, index, req.Amount, now)
		if err != nil {
			return nil, err
		}
		ev.RewardIndex = int(index)
		ev.Amount = eff.RewardAmount
		moved(f.ID, "reward_withdraw", eff.RewardAmount)
		return eff, nil
	})
}

func rewardIndexParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		writeError(w, "reward index must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return index, true
}

// --- Vault ---

// DepositToVault handles POST /api/v1/farms/{farmID}/vault/deposit
func (s *Service) DepositToVault(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.runFarmOp(w, r, "vault_deposit", model.EventVaultDeposited, func(f *model.FarmState, _ uint64, ev *model.Event) (any, error) {
		if err := s.engine.DepositToFarmVault(f, req.Amount); err != nil {
			return nil, err
		}
		ev.Amount = req.Amount
		moved(f.ID, "vault_deposit", req.Amount)
		return nil, nil
	})
}

// WithdrawFromVault handles POST /api/v1/farms/{farmID}/vault/withdraw
func (s *Service) WithdrawFromVault(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.runFarmOp(w, r, "vault_withdraw", model.EventVaultWithdrawn, func(f *model.FarmState, _ uint64, ev *model.Event) (any, error) {
		eff, err := s.engine.WithdrawFromFarmVault(f, req.Amount)
		if err != nil {
			return nil, err
		}
		ev.Amount = eff.AmountToWithdraw
		if eff.FarmToFreeze {
			s.log.Warn("farm vault drained, farm frozen", "farm", f.ID)
		}
		moved(f.ID, "vault_withdraw", eff.AmountToWithdraw)
		return eff, nil
	})
}

// WithdrawSlashed handles POST /api/v1/farms/{farmID}/slashed/withdraw
func (s *Service) WithdrawSlashed(w http.ResponseWriter, r *http.Request) {
	s.runFarmOp(w, r, "withdraw_slashed", model.EventSlashedWithdrawn, func(f *model.FarmState, _ uint64, ev *model.Event) (any, error) {
		amount, err := s.engine.WithdrawSlashedAmount(f)
		if err != nil {
			return nil, err
		}
		ev.Amount = amount
		moved(f.ID, "slashed", amount)
		return map[string]any{
			"amount":        amount,
			"spill_address": f.SlashedAmountSpillAddress,
		}, nil
	})
}
