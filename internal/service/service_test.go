package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/farm-engine/internal/farm"
	"github.com/atmx/farm-engine/internal/fixedpoint"
	"github.com/atmx/farm-engine/internal/model"
	"github.com/atmx/farm-engine/internal/service"
	"github.com/atmx/farm-engine/internal/store"
)

// manualClock returns the same instant for every time unit until advanced.
type manualClock struct{ now uint64 }

func (c *manualClock) Now(model.TimeUnit) uint64 { return c.now }

type testEnv struct {
	ms     *store.MemoryStore
	clock  *manualClock
	router chi.Router
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &manualClock{now: 1000}
	svc := service.NewService(ms, farm.New(logger), clock, nil, logger)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return &testEnv{ms: ms, clock: clock, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// must performs the request and fails the test unless it returns want.
func (e *testEnv) must(t *testing.T, want int, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	w := e.do(t, method, path, body)
	if w.Code != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, w.Code, w.Body.String())
	}
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (%s)", v, err, w.Body.String())
	}
	return v
}

// operation mirrors service.OperationResponse with concrete effect types.
type operation[E any] struct {
	EventID string           `json:"event_id"`
	Effects E                `json:"effects"`
	Farm    *model.FarmState `json:"farm"`
	User    *model.UserState `json:"user"`
}

// seedFarm creates a farm with reward 0 paying rate per second, funded with
// available, and a 10% treasury fee.
func (e *testEnv) seedFarm(t *testing.T, rate, available uint64) string {
	t.Helper()
	e.must(t, http.StatusCreated, "POST", "/global-config", service.GlobalConfigRequest{Admin: "root"})
	e.must(t, http.StatusOK, "PUT", "/global-config", service.ConfigUpdateRequest{
		Key: "treasury-fee-bps", Value: json.RawMessage(`1000`),
	})

	w := e.must(t, http.StatusCreated, "POST", "/farms", service.CreateFarmRequest{
		Admin: "admin",
		Token: model.TokenInfo{Mint: "STK", Decimals: 6},
	})
	f := decode[model.FarmState](t, w)
	base := "/farms/" + f.ID

	e.must(t, http.StatusOK, "POST", base+"/rewards", service.InitializeRewardRequest{
		Token: model.TokenInfo{Mint: "RWD", Decimals: 6},
		Vault: "vault-rwd",
	})
	e.must(t, http.StatusOK, "PUT", base+"/config", service.ConfigUpdateRequest{
		Key: "reward-rps", Value: json.RawMessage(jsonUint(rate)),
	})
	if available > 0 {
		e.must(t, http.StatusOK, "POST", base+"/rewards/0/add", service.RewardAmountRequest{Mint: "RWD", Amount: available})
	}
	return f.ID
}

func jsonUint(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (e *testEnv) stake(t *testing.T, farmID, owner string, amount uint64) {
	t.Helper()
	e.must(t, http.StatusCreated, "POST", "/farms/"+farmID+"/users", service.InitializeUserRequest{Owner: owner})
	e.must(t, http.StatusOK, "POST", "/farms/"+farmID+"/users/"+owner+"/stake", service.AmountRequest{Amount: amount})
}

// --- Lifecycle ---

func TestStakeAndHarvest(t *testing.T) {
	env := newTestEnv(t)
	farmID := env.seedFarm(t, 10, 1000)
	env.stake(t, farmID, "alice", 500)

	env.clock.now += 10
	w := env.must(t, http.StatusOK, "POST", "/farms/"+farmID+"/users/alice/harvest", service.HarvestRequest{RewardIndex: 0})

	resp := decode[operation[model.HarvestEffects]](t, w)
	if resp.EventID == "" {
		t.Error("expected non-empty event_id")
	}
	if resp.Effects.RewardUser != 90 || resp.Effects.RewardTreasury != 10 {
		t.Errorf("expected 90/10 split, got %+v", resp.Effects)
	}
	if got := resp.Farm.RewardInfos[0].RewardsAvailable; got != 900 {
		t.Errorf("rewards available: expected 900, got %d", got)
	}
	if resp.User.RewardsUnclaimed[0] != 0 {
		t.Errorf("unclaimed after harvest: %d", resp.User.RewardsUnclaimed[0])
	}

	// Persisted state matches the response.
	stored, err := env.ms.GetUser(context.Background(), farmID, "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if stored.LastClaimTimestamp[0] != 1010 {
		t.Errorf("last claim ts: expected 1010, got %d", stored.LastClaimTimestamp[0])
	}
}

func TestEventLedgerRecordsEveryMutation(t *testing.T) {
	env := newTestEnv(t)
	farmID := env.seedFarm(t, 10, 1000)
	env.stake(t, farmID, "alice", 500)

	// A rejected operation adds nothing.
	env.must(t, http.StatusConflict, "POST", "/farms/"+farmID+"/users/alice/stake", service.AmountRequest{Amount: 0})

	w := env.must(t, http.StatusOK, "GET", "/farms/"+farmID+"/events", nil)
	events := decode[[]model.Event](t, w)

	want := []model.EventKind{
		model.EventFarmInitialized,
		model.EventRewardInitialized,
		model.EventConfigUpdated,
		model.EventRewardAdded,
		model.EventUserInitialized,
		model.EventStaked,
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(events), events)
	}
	for i, k := range want {
		if events[i].Kind != k {
			t.Errorf("event %d: expected %s, got %s", i, k, events[i].Kind)
		}
	}
	if events[5].Amount != 500 || events[5].Owner != "alice" || events[5].Timestamp != 1000 {
		t.Errorf("staked event: %+v", events[5])
	}
	if events[3].RewardIndex != 0 || events[0].RewardIndex != -1 {
		t.Errorf("reward index: added=%d init=%d", events[3].RewardIndex, events[0].RewardIndex)
	}
}

func TestUnstakeAndWithdrawWithCooldown(t *testing.T) {
	env := newTestEnv(t)
	farmID := env.seedFarm(t, 0, 0)
	base := "/farms/" + farmID
	env.must(t, http.StatusOK, "PUT", base+"/config", service.ConfigUpdateRequest{
		Key: "withdrawal-cooldown-period", Value: json.RawMessage(`20`),
	})
	env.stake(t, farmID, "alice", 300)

	w := env.must(t, http.StatusOK, "POST", base+"/users/alice/unstake", service.UnstakeRequest{All: true})
	unstaked := decode[operation[model.UnstakeEffects]](t, w)
	if unstaked.Effects.AmountPostPenalty != 300 || unstaked.Effects.PenaltyAmount != 0 {
		t.Errorf("unstake effects: %+v", unstaked.Effects)
	}

	env.clock.now += 10
	env.must(t, http.StatusConflict, "POST", base+"/users/alice/withdraw", nil)

	env.clock.now += 10
	w = env.must(t, http.StatusOK, "POST", base+"/users/alice/withdraw", nil)
	withdrawn := decode[operation[model.WithdrawEffects]](t, w)
	if withdrawn.Effects.AmountToWithdraw != 300 {
		t.Errorf("expected 300 withdrawn, got %d", withdrawn.Effects.AmountToWithdraw)
	}
	if withdrawn.Farm.TotalPendingAmount != 0 || withdrawn.Farm.TotalStakedAmount != 0 {
		t.Errorf("farm pools not empty: %+v", withdrawn.Farm)
	}
}

func TestPartialUnstakeByShares(t *testing.T) {
	env := newTestEnv(t)
	farmID := env.seedFarm(t, 0, 0)
	env.stake(t, farmID, "alice", 400)

	half := fixedpoint.FromUint64(100)
	w := env.must(t, http.StatusOK, "POST", "/farms/"+farmID+"/users/alice/unstake", service.UnstakeRequest{Shares: half})
	resp := decode[operation[model.UnstakeEffects]](t, w)
	if resp.Effects.AmountPostPenalty != 100 {
		t.Errorf("expected 100, got %d", resp.Effects.AmountPostPenalty)
	}
	if !resp.User.ActiveStake.Eq(fixedpoint.FromUint64(300)) {
		t.Errorf("active stake: expected 300, got %s", resp.User.ActiveStake)
	}
}

func TestTransferOwnershipInitializesReceiver(t *testing.T) {
	env := newTestEnv(t)
	farmID := env.seedFarm(t, 10, 1000)
	env.stake(t, farmID, "alice", 500)

	w := env.must(t, http.StatusOK, "POST", "/farms/"+farmID+"/users/alice/transfer", service.TransferRequest{NewOwner: "bob"})
	var resp struct {
		Effects model.StakeEffects `json:"effects"`
		From    model.UserState    `json:"from"`
		To      model.UserState    `json:"to"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Effects.AmountToStake != 500 {
		t.Errorf("expected 500 moved, got %d", resp.Effects.AmountToStake)
	}
	if !resp.From.ActiveStake.IsZero() {
		t.Errorf("sender keeps stake %s", resp.From.ActiveStake)
	}

	bob, err := env.ms.GetUser(context.Background(), farmID, "bob")
	if err != nil {
		t.Fatalf("receiver not stored: %v", err)
	}
	if !bob.ActiveStake.Eq(fixedpoint.FromUint64(500)) || bob.UserID != 1 {
		t.Errorf("receiver: stake %s id %d", bob.ActiveStake, bob.UserID)
	}
}

func TestDelegatedFarmSetStake(t *testing.T) {
	env := newTestEnv(t)
	w := env.must(t, http.StatusCreated, "POST", "/farms", service.CreateFarmRequest{
		Admin:             "admin",
		Token:             model.TokenInfo{Mint: "STK"},
		DelegateAuthority: "delegate",
	})
	f := decode[model.FarmState](t, w)
	base := "/farms/" + f.ID
	env.must(t, http.StatusCreated, "POST", base+"/users", service.InitializeUserRequest{Owner: "alice"})

	env.must(t, http.StatusBadRequest, "POST", base+"/users/alice/stake", service.AmountRequest{Amount: 10})
	env.must(t, http.StatusBadRequest, "POST", base+"/users/alice/unstake", service.UnstakeRequest{All: true})

	w = env.must(t, http.StatusOK, "POST", base+"/users/alice/set-stake", service.SetStakeRequest{Stake: 75})
	resp := decode[operation[json.RawMessage]](t, w)
	if resp.Farm.TotalStakedAmount != 75 {
		t.Errorf("farm total: expected 75, got %d", resp.Farm.TotalStakedAmount)
	}
	if !resp.User.ActiveStake.Eq(fixedpoint.FromScaledUint64(75)) {
		t.Errorf("delegated stake is a raw count: got %s", resp.User.ActiveStake)
	}
}

// --- Error mapping ---

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	farmID := env.seedFarm(t, 10, 1000)
	env.stake(t, farmID, "alice", 500)
	base := "/farms/" + farmID

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown farm", "GET", "/farms/nope", nil, http.StatusNotFound},
		{"unknown user", "POST", base + "/users/zed/stake", service.AmountRequest{Amount: 1}, http.StatusNotFound},
		{"duplicate user", "POST", base + "/users", service.InitializeUserRequest{Owner: "alice"}, http.StatusConflict},
		{"stake zero", "POST", base + "/users/alice/stake", service.AmountRequest{Amount: 0}, http.StatusConflict},
		{"unknown config key", "PUT", base + "/config", service.ConfigUpdateRequest{Key: "nope", Value: json.RawMessage(`1`)}, http.StatusBadRequest},
		{"bad config value", "PUT", base + "/config", service.ConfigUpdateRequest{Key: "locking-mode", Value: json.RawMessage(`"forever"`)}, http.StatusBadRequest},
		{"reward index out of range", "POST", base + "/users/alice/harvest", service.HarvestRequest{RewardIndex: 3}, http.StatusBadRequest},
		{"bad reward index", "POST", base + "/rewards/x/add", service.RewardAmountRequest{Mint: "RWD", Amount: 1}, http.StatusBadRequest},
		{"wrong reward mint", "POST", base + "/rewards/0/add", service.RewardAmountRequest{Mint: "OTHER", Amount: 1}, http.StatusBadRequest},
		{"fee too high", "PUT", "/global-config", service.ConfigUpdateRequest{Key: "treasury-fee-bps", Value: json.RawMessage(`10001`)}, http.StatusBadRequest},
		{"global config exists", "POST", "/global-config", service.GlobalConfigRequest{Admin: "x"}, http.StatusConflict},
		{"nothing slashed", "POST", base + "/slashed/withdraw", nil, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, tc.method, tc.path, tc.body)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestMissingOracleQuoteIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	farmID := env.seedFarm(t, 10, 1000)
	base := "/farms/" + farmID
	env.must(t, http.StatusOK, "PUT", base+"/config", service.ConfigUpdateRequest{
		Key: "oracle-price-id", Value: json.RawMessage(`7`),
	})
	env.must(t, http.StatusCreated, "POST", base+"/users", service.InitializeUserRequest{Owner: "alice"})

	env.must(t, http.StatusServiceUnavailable, "POST", base+"/users/alice/stake", service.AmountRequest{Amount: 10})

	quote := &model.PriceQuote{Value: 1, Exp: 0, Timestamp: env.clock.now}
	env.must(t, http.StatusOK, "POST", base+"/users/alice/stake", service.AmountRequest{Amount: 10, Quote: quote})
}

func TestFailedOperationLeavesStoreUntouched(t *testing.T) {
	env := newTestEnv(t)
	farmID := env.seedFarm(t, 10, 1000)
	env.stake(t, farmID, "alice", 500)
	ctx := context.Background()

	env.must(t, http.StatusOK, "PUT", "/farms/"+farmID+"/config", service.ConfigUpdateRequest{
		Key: "reward-min-claim-duration", Value: json.RawMessage(`100`),
	})
	before, _ := env.ms.GetFarm(ctx, farmID)
	beforeJSON, _ := json.Marshal(before)

	// Harvest fails on min claim duration after the farm refresh ran in memory.

	env.clock.now += 5
	env.must(t, http.StatusConflict, "POST", "/farms/"+farmID+"/users/alice/harvest", service.HarvestRequest{})

	after, _ := env.ms.GetFarm(ctx, farmID)
	afterJSON, _ := json.Marshal(after)
	if !bytes.Equal(beforeJSON, afterJSON) {
		t.Errorf("farm changed by failed harvest:\nbefore %s\nafter  %s", beforeJSON, afterJSON)
	}
}

// --- Admin ---

func TestVaultDepositAndDrainFreezesFarm(t *testing.T) {
	env := newTestEnv(t)
	farmID := env.seedFarm(t, 0, 0)
	base := "/farms/" + farmID
	env.stake(t, farmID, "alice", 100)

	env.must(t, http.StatusOK, "POST", base+"/vault/deposit", service.AmountRequest{Amount: 100})

	w := env.must(t, http.StatusOK, "POST", base+"/vault/withdraw", service.AmountRequest{Amount: 1000})
	resp := decode[operation[model.VaultWithdrawEffects]](t, w)
	if resp.Effects.AmountToWithdraw != 200 || !resp.Effects.FarmToFreeze {
		t.Errorf("vault withdraw effects: %+v", resp.Effects)
	}
	if !resp.Farm.IsFrozen {
		t.Error("expected farm frozen after drain")
	}
	env.must(t, http.StatusConflict, "POST", base+"/users/alice/stake", service.AmountRequest{Amount: 1})
}

func TestAdminHandover(t *testing.T) {
	env := newTestEnv(t)
	farmID := env.seedFarm(t, 0, 0)
	base := "/farms/" + farmID

	env.must(t, http.StatusBadRequest, "POST", base+"/accept-admin", nil)
	env.must(t, http.StatusOK, "PUT", base+"/config", service.ConfigUpdateRequest{
		Key: "pending-admin", Value: json.RawMessage(`"next-admin"`),
	})
	w := env.must(t, http.StatusOK, "POST", base+"/accept-admin", nil)
	resp := decode[operation[json.RawMessage]](t, w)
	if resp.Farm.Admin != "next-admin" || resp.Farm.PendingAdmin != "" {
		t.Errorf("farm admin: %q pending %q", resp.Farm.Admin, resp.Farm.PendingAdmin)
	}

	env.must(t, http.StatusOK, "PUT", "/global-config", service.ConfigUpdateRequest{
		Key: "pending-global-admin", Value: json.RawMessage(`"ops"`),
	})
	w = env.must(t, http.StatusOK, "POST", "/global-config/accept-admin", nil)
	g := decode[model.GlobalConfig](t, w)
	if g.Admin != "ops" || g.TreasuryFeeBps != 1000 {
		t.Errorf("global config: %+v", g)
	}
}

func TestRewardUserOnceRejectsReplay(t *testing.T) {
	env := newTestEnv(t)
	farmID := env.seedFarm(t, 0, 0)
	base := "/farms/" + farmID
	env.must(t, http.StatusCreated, "POST", base+"/users", service.InitializeUserRequest{Owner: "alice"})

	grant := service.RewardOnceRequest{RewardIndex: 0, Amount: 40, ExpectedUnclaimed: 0}
	w := env.must(t, http.StatusOK, "POST", base+"/users/alice/reward-once", grant)
	resp := decode[operation[json.RawMessage]](t, w)
	if resp.User.RewardsUnclaimed[0] != 40 {
		t.Errorf("unclaimed: expected 40, got %d", resp.User.RewardsUnclaimed[0])
	}
	env.must(t, http.StatusConflict, "POST", base+"/users/alice/reward-once", grant)
}

func TestListFarmsAndUsers(t *testing.T) {
	env := newTestEnv(t)
	farmID := env.seedFarm(t, 0, 0)
	env.stake(t, farmID, "alice", 1)
	env.stake(t, farmID, "bob", 2)

	farms := decode[[]model.FarmState](t, env.must(t, http.StatusOK, "GET", "/farms", nil))
	if len(farms) != 1 || farms[0].ID != farmID || farms[0].NumUsers != 2 {
		t.Errorf("farms: %+v", farms)
	}
	users := decode[[]model.UserState](t, env.must(t, http.StatusOK, "GET", "/farms/"+farmID+"/users", nil))
	if len(users) != 2 || users[0].Owner != "alice" || users[1].Owner != "bob" {
		t.Errorf("users: %+v", users)
	}
	u := decode[model.UserState](t, env.must(t, http.StatusOK, "GET", "/farms/"+farmID+"/users/bob", nil))
	if u.UserID != 1 {
		t.Errorf("bob id: %d", u.UserID)
	}
}

func TestGetFarmReportsScheduleAndHeadroom(t *testing.T) {
	env := newTestEnv(t)
	farmID := env.seedFarm(t, 10, 1000)
	env.stake(t, farmID, "alice", 100)

	v := decode[service.FarmView](t, env.must(t, http.StatusOK, "GET", "/farms/"+farmID, nil))
	if v.ID != farmID || v.Priced || v.DepositHeadroom != nil {
		t.Errorf("uncapped view: id=%s priced=%v headroom=%v", v.ID, v.Priced, v.DepositHeadroom)
	}
	if len(v.Rewards) != 1 || v.Rewards[0].Mint != "RWD" || v.Rewards[0].CurrentRate != 10 || len(v.Rewards[0].Curve) != 1 {
		t.Errorf("rewards: %+v", v.Rewards)
	}

	env.must(t, http.StatusOK, "PUT", "/farms/"+farmID+"/config", service.ConfigUpdateRequest{
		Key: "deposit-cap-amount", Value: json.RawMessage(`500`),
	})
	env.must(t, http.StatusOK, "PUT", "/farms/"+farmID+"/config", service.ConfigUpdateRequest{
		Key: "reward-rps", Value: json.RawMessage(`20`),
	})
	v = decode[service.FarmView](t, env.must(t, http.StatusOK, "GET", "/farms/"+farmID, nil))
	if v.DepositHeadroom == nil || *v.DepositHeadroom != 400 {
		t.Errorf("headroom: %v", v.DepositHeadroom)
	}
	if v.Rewards[0].CurrentRate != 20 {
		t.Errorf("current rate: %d", v.Rewards[0].CurrentRate)
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	ms := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewService(ms, farm.New(logger), &manualClock{}, nil, logger)
	ctx := context.Background()

	if err := svc.Bootstrap(ctx, "root", 250); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := svc.Bootstrap(ctx, "other", 9000); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	g, err := ms.GetGlobalConfig(ctx)
	if err != nil {
		t.Fatalf("GetGlobalConfig: %v", err)
	}
	if g.Admin != "root" || g.TreasuryFeeBps != 250 {
		t.Errorf("bootstrap overwrote config: %+v", g)
	}
}

// --- Clock ---

func TestSystemClock(t *testing.T) {
	genesis := time.Unix(1_700_000_000, 0)
	c := service.SystemClock{Genesis: genesis, SlotDuration: 400 * time.Millisecond}

	at := genesis.Add(10 * time.Second)
	if got := c.At(at, model.TimeSeconds); got != 1_700_000_010 {
		t.Errorf("seconds: got %d", got)
	}
	if got := c.At(at, model.TimeSlots); got != 25 {
		t.Errorf("slots: expected 25, got %d", got)
	}
	if got := c.At(genesis.Add(-time.Hour), model.TimeSlots); got != 0 {
		t.Errorf("before genesis: expected 0, got %d", got)
	}
}
