// Package model defines the core domain types shared across the farm engine.
// Token amounts are uint64 base units; shares and reward-per-share values use
// fixedpoint.Decimal. Never float64 for money.
//
// Every record is a plain value: arrays are fixed-size, so copying a struct
// copies the whole record.
package model

import (
	"math"
	"time"

	"github.com/atmx/farm-engine/internal/fixedpoint"
	"github.com/atmx/farm-engine/internal/schedule"
)

// MaxRewardTokens is the number of reward streams a farm can carry.
const MaxRewardTokens = 10

// NoOraclePrice disables oracle valuation for a farm.
const NoOraclePrice uint64 = math.MaxUint64

// TokenInfo identifies a token mint and its decimals.
type TokenInfo struct {
	Mint     string `json:"mint"`
	Decimals uint64 `json:"decimals"`
}

// RewardInfo is the issuance state of one reward stream.
// A slot is initialised when RewardsVault is set.
type RewardInfo struct {
	Token                   TokenInfo          `json:"token"`
	RewardsVault            string             `json:"rewards_vault"`
	RewardsAvailable        uint64             `json:"rewards_available"`
	Curve                   schedule.Curve     `json:"reward_schedule_curve"`
	MinClaimDurationSeconds uint64             `json:"min_claim_duration_seconds"`
	LastIssuanceTimestamp   uint64             `json:"last_issuance_ts"`
	RewardsIssuedUnclaimed  uint64             `json:"rewards_issued_unclaimed"`
	RewardsIssuedCumulative uint64             `json:"rewards_issued_cumulative"`
	RewardPerShare          fixedpoint.Decimal `json:"reward_per_share"`
	RewardType              RewardType         `json:"reward_type"`
	RatePerSecondDecimals   uint8              `json:"rewards_per_second_decimals"`
}

// Initialized reports whether the slot holds a reward stream.
func (r *RewardInfo) Initialized() bool { return r.RewardsVault != "" }

// FarmState is the pool-wide record of one farm.
type FarmState struct {
	ID           string    `json:"id"`
	Admin        string    `json:"farm_admin"`
	PendingAdmin string    `json:"pending_farm_admin"`
	Token        TokenInfo `json:"token"`

	RewardInfos     [MaxRewardTokens]RewardInfo `json:"reward_infos"`
	NumRewardTokens uint64                      `json:"num_reward_tokens"`
	NumUsers        uint64                      `json:"num_users"`

	// Active pool: TotalStakedAmount backs TotalActiveStake shares.
	TotalStakedAmount uint64             `json:"total_staked_amount"`
	TotalActiveStake  fixedpoint.Decimal `json:"total_active_stake"`
	// Pending pool shared by warming-up deposits and cooling-down withdrawals.
	TotalPendingStake  fixedpoint.Decimal `json:"total_pending_stake"`
	TotalPendingAmount uint64             `json:"total_pending_amount"`

	DelegateAuthority string   `json:"delegate_authority,omitempty"`
	TimeUnit          TimeUnit `json:"time_unit"`
	IsFrozen          bool     `json:"is_farm_frozen"`
	WithdrawAuthority string   `json:"withdraw_authority,omitempty"`

	DepositWarmupPeriod      uint32 `json:"deposit_warmup_period"`
	WithdrawalCooldownPeriod uint32 `json:"withdrawal_cooldown_period"`

	LockingMode                      LockingMode `json:"locking_mode"`
	LockingStartTimestamp            uint64      `json:"locking_start_timestamp"`
	LockingDuration                  uint64      `json:"locking_duration"`
	LockingEarlyWithdrawalPenaltyBps uint64      `json:"locking_early_withdrawal_penalty_bps"`

	SlashedAmountCurrent      uint64 `json:"slashed_amount_current"`
	SlashedAmountCumulative   uint64 `json:"slashed_amount_cumulative"`
	SlashedAmountSpillAddress string `json:"slashed_amount_spill_address,omitempty"`

	DepositCapAmount uint64 `json:"deposit_cap_amount"`
	OraclePriceID    uint64 `json:"scope_oracle_price_id"`
	OracleMaxAge     uint64 `json:"scope_oracle_max_age"`
	StrategyID       string `json:"strategy_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsDelegated reports whether stake on this farm is set by an external
// authority rather than deposited by users.
func (f *FarmState) IsDelegated() bool { return f.DelegateAuthority != "" }

// HasOracle reports whether issuance and deposit caps are price-adjusted.
func (f *FarmState) HasOracle() bool { return f.OraclePriceID != NoOraclePrice }

// UserState is one farmer's position in one farm.
type UserState struct {
	UserID          uint64 `json:"user_id"` // sequence number within the farm
	FarmID          string `json:"farm_id"`
	Owner           string `json:"owner"`
	Delegatee       string `json:"delegatee"`
	IsFarmDelegated bool   `json:"is_farm_delegated"`

	RewardsTally       [MaxRewardTokens]fixedpoint.Decimal `json:"rewards_tally"`
	RewardsUnclaimed   [MaxRewardTokens]uint64             `json:"rewards_issued_unclaimed"`
	LastClaimTimestamp [MaxRewardTokens]uint64             `json:"last_claim_ts"`

	ActiveStake                     fixedpoint.Decimal `json:"active_stake"`
	PendingDepositStake             fixedpoint.Decimal `json:"pending_deposit_stake"`
	PendingDepositReadyTimestamp    uint64             `json:"pending_deposit_stake_ts"`
	PendingWithdrawalStake          fixedpoint.Decimal `json:"pending_withdrawal_unstake"`
	PendingWithdrawalReadyTimestamp uint64             `json:"pending_withdrawal_unstake_ts"`
	LastStakeTimestamp              uint64             `json:"last_stake_ts"`
}

// GlobalConfig holds settings shared by every farm.
type GlobalConfig struct {
	Admin          string `json:"global_admin"`
	PendingAdmin   string `json:"pending_global_admin"`
	TreasuryFeeBps uint64 `json:"treasury_fee_bps"`
}

// PriceQuote is an externally supplied price: Value / 10^Exp, observed at
// Timestamp (same time unit as the farm).
type PriceQuote struct {
	Value     uint64 `json:"value"`
	Exp       uint64 `json:"exp"`
	Timestamp uint64 `json:"timestamp"`
}

// --- Effects: token movements for the caller to realise ---

type StakeEffects struct {
	AmountToStake uint64 `json:"amount_to_stake"`
}

type UnstakeEffects struct {
	AmountPostPenalty uint64 `json:"amount_post_penalty"`
	PenaltyAmount     uint64 `json:"penalty_amount"`
}

type HarvestEffects struct {
	RewardUser     uint64 `json:"reward_user"`
	RewardTreasury uint64 `json:"reward_treasury"`
}

type WithdrawEffects struct {
	AmountToWithdraw uint64 `json:"amount_to_withdraw"`
}

type AddRewardEffects struct {
	RewardAmount uint64 `json:"reward_amount"`
}

type WithdrawRewardEffects struct {
	RewardAmount uint64 `json:"reward_amount"`
}

type VaultWithdrawEffects struct {
	AmountToWithdraw uint64 `json:"amount_to_withdraw"`
	FarmToFreeze     bool   `json:"farm_to_freeze"`
}

// Event is an immutable record of a committed farm mutation.
// Once created, events are never modified or deleted.
type Event struct {
	ID          string    `json:"id" db:"id"`
	FarmID      string    `json:"farm_id" db:"farm_id"`
	Owner       string    `json:"owner,omitempty" db:"owner"`
	Kind        EventKind `json:"kind" db:"kind"`
	RewardIndex int       `json:"reward_index" db:"reward_index"` // -1 when not reward-scoped
	Amount      uint64    `json:"amount" db:"amount"`
	Secondary   uint64    `json:"secondary" db:"secondary"` // penalty, treasury cut, ...
	Timestamp   uint64    `json:"timestamp" db:"ts"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
