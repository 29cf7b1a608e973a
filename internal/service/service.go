// Package service exposes the farm engine over HTTP: it reads the clock,
// loads records from the store, runs one engine entry point, persists the
// result together with a ledger event and broadcasts the event.
//
// Token amounts are JSON integers; shares and reward-per-share values are
// 18-digit decimal strings.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atmx/farm-engine/internal/farm"
	"github.com/atmx/farm-engine/internal/metrics"
	"github.com/atmx/farm-engine/internal/model"
	"github.com/atmx/farm-engine/internal/store"
)

// Service handles farm operations. Uses a mutex for serialized
// load-mutate-persist cycles (single-instance). For horizontal scaling,
// replace with distributed locking or row-level locks in the store.
type Service struct {
	store  store.Store
	engine *farm.Engine
	clock  Clock
	hub    *WSHub // optional WebSocket hub for real-time broadcasts
	log    *slog.Logger
	mu     sync.Mutex
}

// NewService creates a farm service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, engine *farm.Engine, clock Clock, hub *WSHub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		engine: engine,
		clock:  clock,
		hub:    hub,
		log:    logger,
	}
}

// Routes registers every farm endpoint on r. Mount it under /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Post("/global-config", s.InitializeGlobalConfig)
	r.Put("/global-config", s.UpdateGlobalConfig)
	r.Get("/global-config", s.GetGlobalConfig)
	r.Post("/global-config/accept-admin", s.AcceptGlobalAdmin)

	r.Get("/farms", s.ListFarms)
	r.Post("/farms", s.CreateFarm)
	r.Route("/farms/{farmID}", func(r chi.Router) {
		r.Get("/", s.GetFarm)
		r.Get("/events", s.GetEvents)
		r.Put("/config", s.UpdateFarmConfig)
		r.Post("/accept-admin", s.AcceptFarmAdmin)
		r.Post("/refresh", s.RefreshFarm)

		r.Post("/rewards", s.InitializeReward)
		r.Post("/rewards/{index}/add", s.AddReward)
		r.Post("/rewards/{index}/withdraw", s.WithdrawReward)

		r.Post("/vault/deposit", s.DepositToVault)
		r.Post("/vault/withdraw", s.WithdrawFromVault)
		r.Post("/slashed/withdraw", s.WithdrawSlashed)

		r.Get("/users", s.ListUsers)
		r.Post("/users", s.InitializeUser)
		r.Route("/users/{owner}", func(r chi.Router) {
			r.Get("/", s.GetUser)
			r.Post("/stake", s.Stake)
			r.Post("/unstake", s.Unstake)
			r.Post("/harvest", s.Harvest)
			r.Post("/withdraw", s.WithdrawUnstaked)
			r.Post("/refresh", s.RefreshUser)
			r.Post("/set-stake", s.SetStake)
			r.Post("/reward-once", s.RewardUserOnce)
			r.Post("/transfer", s.TransferOwnership)
		})
	})
}

// Bootstrap creates the global config if none is stored yet and seeds the
// farm gauge.
func (s *Service) Bootstrap(ctx context.Context, admin string, treasuryFeeBps uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.store.GetGlobalConfig(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		g := farm.InitializeGlobalConfig(admin)
		g.TreasuryFeeBps = treasuryFeeBps
		ev := s.newEvent("", model.EventGlobalConfigChange)
		ev.Amount = treasuryFeeBps
		if err := s.store.SaveGlobalConfig(ctx, &g, &ev); err != nil {
			return err
		}
		s.log.Info("global config bootstrapped", "admin", admin, "treasury_fee_bps", treasuryFeeBps)
	case err != nil:
		return err
	}

	farms, err := s.store.ListFarms(ctx)
	if err != nil {
		return err
	}
	metrics.ActiveFarms.Set(float64(len(farms)))
	return nil
}

// --- Response types ---

// OperationResponse is returned by every mutating endpoint.
type OperationResponse struct {
	EventID string           `json:"event_id"`
	Effects any              `json:"effects,omitempty"`
	Farm    *model.FarmState `json:"farm,omitempty"`
	User    *model.UserState `json:"user,omitempty"`
}

// --- Load, mutate, persist ---

// farmOp mutates f at now and returns the effects to report. It fills in the
// kind-specific fields of ev.
type farmOp func(f *model.FarmState, now uint64, ev *model.Event) (any, error)

// userOp is farmOp for operations on one user of the farm.
type userOp func(f *model.FarmState, u *model.UserState, now uint64, ev *model.Event) (any, error)

func (s *Service) runFarmOp(w http.ResponseWriter, r *http.Request, op string, kind model.EventKind, fn farmOp) {
	defer observe(op, time.Now())
	ctx := r.Context()
	farmID := chi.URLParam(r, "farmID")

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.store.GetFarm(ctx, farmID)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	now := s.clock.Now(f.TimeUnit)
	ev := s.newEvent(f.ID, kind)
	ev.Timestamp = now

	effects, err := fn(f, now, &ev)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	if err := s.commit(ctx, op, f, nil, ev); err != nil {
		s.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{EventID: ev.ID, Effects: effects, Farm: f})
}

func (s *Service) runUserOp(w http.ResponseWriter, r *http.Request, op string, kind model.EventKind, fn userOp) {
	defer observe(op, time.Now())
	ctx := r.Context()
	farmID := chi.URLParam(r, "farmID")
	owner := chi.URLParam(r, "owner")

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.store.GetFarm(ctx, farmID)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	u, err := s.store.GetUser(ctx, farmID, owner)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	now := s.clock.Now(f.TimeUnit)
	ev := s.newEvent(f.ID, kind)
	ev.Owner = owner
	ev.Timestamp = now

	effects, err := fn(f, u, now, &ev)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	if err := s.commit(ctx, op, f, []*model.UserState{u}, ev); err != nil {
		s.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{EventID: ev.ID, Effects: effects, Farm: f, User: u})
}

// commit persists the farm, users and event atomically, then publishes the
// event. Must be called with s.mu held.
func (s *Service) commit(ctx context.Context, op string, f *model.FarmState, users []*model.UserState, ev model.Event) error {
	if err := s.store.SaveFarmUsers(ctx, f, users, &ev); err != nil {
		return err
	}
	metrics.OperationsTotal.WithLabelValues(op).Inc()
	s.log.Info("farm operation",
		"op", op,
		"event_id", ev.ID,
		"farm", ev.FarmID,
		"owner", ev.Owner,
		"amount", ev.Amount,
		"secondary", ev.Secondary,
		"ts", ev.Timestamp,
	)
	s.publish(ev)
	return nil
}

func (s *Service) newEvent(farmID string, kind model.EventKind) model.Event {
	return model.Event{
		ID:          uuid.New().String(),
		FarmID:      farmID,
		Kind:        kind,
		RewardIndex: -1,
		CreatedAt:   time.Now().UTC(),
	}
}

func (s *Service) publish(ev model.Event) {
	if s.hub != nil {
		s.hub.Broadcast(WSMessage{Type: "farm_event", FarmID: ev.FarmID, Event: ev})
	}
}

func observe(op string, start time.Time) {
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// moved records token amounts the caller was told to transfer.
func moved(farmID, effect string, amount uint64) {
	if amount > 0 {
		metrics.TokensMoved.WithLabelValues(farmID, effect).Add(float64(amount))
	}
}

// --- Errors ---

// fail maps err to an HTTP status. Arithmetic failures mean an accounting
// invariant broke and are logged at error level.
func (s *Service) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		metrics.OperationErrors.WithLabelValues(op, "not_found").Inc()
		writeError(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, store.ErrExists):
		metrics.OperationErrors.WithLabelValues(op, "exists").Inc()
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	class := farm.Classify(err)
	metrics.OperationErrors.WithLabelValues(op, class.String()).Inc()

	switch class {
	case farm.ClassConfig:
		writeError(w, err.Error(), http.StatusBadRequest)
	case farm.ClassPrecondition:
		writeError(w, err.Error(), http.StatusConflict)
	case farm.ClassOracle:
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	case farm.ClassArithmetic:
		metrics.InvariantErrors.Inc()
		s.log.Error("accounting invariant violated", "op", op, "err", err)
		writeError(w, "internal error: "+err.Error(), http.StatusInternalServerError)
	default:
		s.log.Error("operation failed", "op", op, "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// decodeBody decodes the JSON request body into dst. An empty body leaves
// dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
