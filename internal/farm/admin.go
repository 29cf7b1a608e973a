package farm

import (
	"fmt"

	"github.com/atmx/farm-engine/internal/farmconfig"
	"github.com/atmx/farm-engine/internal/fixedpoint"
	"github.com/atmx/farm-engine/internal/model"
	"github.com/atmx/farm-engine/internal/schedule"
	"github.com/atmx/farm-engine/internal/stake"
)

// InitializeGlobalConfig returns a fresh global config owned by admin with no
// treasury fee.
func InitializeGlobalConfig(admin string) model.GlobalConfig {
	return model.GlobalConfig{Admin: admin}
}

// UpdateGlobalConfig applies one global setting.
func (e *Engine) UpdateGlobalConfig(g *model.GlobalConfig, u farmconfig.Update) error {
	switch u.Key {
	case farmconfig.KeyTreasuryFeeBps:
		if u.Uint > fixedpoint.BpsDivFactor {
			return fmt.Errorf("%w: treasury fee %d bps", ErrInvalidConfigValue, u.Uint)
		}
		g.TreasuryFeeBps = u.Uint
	case farmconfig.KeyGlobalPendingAdmin:
		g.PendingAdmin = u.Address
	default:
		return fmt.Errorf("%w: %q", farmconfig.ErrUnknownKey, u.Key)
	}
	e.log.Debug("global config updated", "key", u.Key)
	return nil
}

// AcceptGlobalAdmin promotes the pending global admin.
func AcceptGlobalAdmin(g *model.GlobalConfig) error {
	if g.PendingAdmin == "" {
		return fmt.Errorf("%w: no pending admin", ErrInvalidConfigValue)
	}
	g.Admin, g.PendingAdmin = g.PendingAdmin, ""
	return nil
}

// FarmParams describes a new farm.
type FarmParams struct {
	ID       string
	Admin    string
	Token    model.TokenInfo
	TimeUnit model.TimeUnit
	// DelegateAuthority makes the farm delegated when set.
	DelegateAuthority string
}

// InitializeFarm returns an empty farm with no rewards, no oracle and no
// locking.
func InitializeFarm(p FarmParams) model.FarmState {
	f := model.FarmState{
		ID:                p.ID,
		Admin:             p.Admin,
		Token:             p.Token,
		TimeUnit:          p.TimeUnit,
		DelegateAuthority: p.DelegateAuthority,
		OraclePriceID:     model.NoOraclePrice,
	}
	for i := range f.RewardInfos {
		f.RewardInfos[i].Curve = schedule.Constant(0)
	}
	return f
}

// InitializeDelegatedFarm returns an empty farm whose stake is set by
// authority through SetStake.
func InitializeDelegatedFarm(p FarmParams, authority string) model.FarmState {
	p.DelegateAuthority = authority
	return InitializeFarm(p)
}

// AcceptFarmAdmin promotes the farm's pending admin.
func AcceptFarmAdmin(f *model.FarmState) error {
	if f.PendingAdmin == "" {
		return fmt.Errorf("%w: no pending admin", ErrInvalidConfigValue)
	}
	f.Admin, f.PendingAdmin = f.PendingAdmin, ""
	return nil
}

// InitializeReward opens the next reward slot for token, funded from vault.
// It returns the slot index.
func (e *Engine) InitializeReward(farm *model.FarmState, token model.TokenInfo, vault string, now uint64) (uint64, error) {
	if farm.NumRewardTokens >= model.MaxRewardTokens {
		return 0, ErrMaxRewardNumberReached
	}
	if vault == "" {
		return 0, fmt.Errorf("%w: empty reward vault", ErrInvalidConfigValue)
	}
	index := farm.NumRewardTokens
	farm.RewardInfos[index] = model.RewardInfo{
		Token:                 token,
		RewardsVault:          vault,
		Curve:                 schedule.Constant(0),
		LastIssuanceTimestamp: now,
	}
	farm.NumRewardTokens++
	e.log.Debug("reward initialized", "farm", farm.ID, "reward", index, "mint", token.Mint)
	return index, nil
}

func checkRewardMint(f *model.FarmState, index uint64, mint string) error {
	if err := checkRewardIndex(f, index); err != nil {
		return err
	}
	if f.RewardInfos[index].Token.Mint != mint {
		return fmt.Errorf("%w: mint %q at index %d", ErrRewardDoesNotExist, mint, index)
	}
	return nil
}

// AddReward funds reward index with amount.
func (e *Engine) AddReward(farm *model.FarmState, q *model.PriceQuote, mint string, index, amount, now uint64) (model.AddRewardEffects, error) {
	if err := checkRewardMint(farm, index, mint); err != nil {
		return model.AddRewardEffects{}, err
	}
	err := onFarm(farm, func(f *model.FarmState) (err error) {
		if err := e.refreshGlobalRewards(f, q, now); err != nil {
			return err
		}
		r := &f.RewardInfos[index]
		r.RewardsAvailable, err = fixedpoint.Add64(r.RewardsAvailable, amount)
		return err
	})
	if err != nil {
		return model.AddRewardEffects{}, err
	}
	e.log.Debug("reward added", "farm", farm.ID, "reward", index, "amount", amount)
	return model.AddRewardEffects{RewardAmount: amount}, nil
}

// WithdrawReward takes up to amount of unissued reward back from index.
// Only allowed while the reward's curve is the default zero constant.
func (e *Engine) WithdrawReward(farm *model.FarmState, q *model.PriceQuote, mint string, index, amount, now uint64) (model.WithdrawRewardEffects, error) {
	if amount == 0 {
		return model.WithdrawRewardEffects{}, fmt.Errorf("%w: zero amount", ErrRewardDoesNotExist)
	}
	if err := checkRewardMint(farm, index, mint); err != nil {
		return model.WithdrawRewardEffects{}, err
	}
	var eff model.WithdrawRewardEffects
	err := onFarm(farm, func(f *model.FarmState) error {
		if err := e.refreshGlobalRewards(f, q, now); err != nil {
			return err
		}
		r := &f.RewardInfos[index]
		if r.RewardsAvailable == 0 {
			return ErrWithdrawRewardZeroAvailable
		}
		if !r.Curve.IsZeroConstant() {
			return ErrRewardScheduleCurveSet
		}
		taken := min(r.RewardsAvailable, amount)
		r.RewardsAvailable -= taken
		eff.RewardAmount = taken
		return nil
	})
	if err != nil {
		return model.WithdrawRewardEffects{}, err
	}
	e.log.Debug("reward withdrawn", "farm", farm.ID, "reward", index, "amount", eff.RewardAmount)
	return eff, nil
}

// UpdateFarmConfig applies one farm setting. Reward-scoped updates settle
// issuance up to now under the old settings first.
func (e *Engine) UpdateFarmConfig(farm *model.FarmState, q *model.PriceQuote, u farmconfig.Update, now uint64) error {
	err := onFarm(farm, func(f *model.FarmState) error {
		if u.Key.RewardScoped() {
			return e.updateRewardConfig(f, q, u, now)
		}
		return updateFarmSetting(f, u)
	})
	if err != nil {
		return err
	}
	e.log.Debug("farm config updated", "farm", farm.ID, "key", u.Key, "reward", u.RewardIndex)
	return nil
}

func (e *Engine) updateRewardConfig(f *model.FarmState, q *model.PriceQuote, u farmconfig.Update, now uint64) error {
	if err := checkRewardIndex(f, u.RewardIndex); err != nil {
		return err
	}
	if err := e.refreshGlobalRewards(f, q, now); err != nil {
		return err
	}
	r := &f.RewardInfos[u.RewardIndex]
	if !r.Initialized() {
		return ErrRewardDoesNotExist
	}
	switch u.Key {
	case farmconfig.KeyRewardRps:
		r.Curve = schedule.Constant(u.Uint)
	case farmconfig.KeyRewardMinClaimDuration:
		r.MinClaimDurationSeconds = u.Uint
	case farmconfig.KeyRewardType:
		r.RewardType = u.RewardType
	case farmconfig.KeyRpsDecimals:
		if u.Uint > 19 {
			return fmt.Errorf("%w: rps decimals %d", ErrInvalidConfigValue, u.Uint)
		}
		r.RatePerSecondDecimals = uint8(u.Uint)
	case farmconfig.KeyRewardCurvePoints:
		if err := u.Curve.Validate(); err != nil {
			return err
		}
		r.Curve = u.Curve
	}
	r.LastIssuanceTimestamp = now
	return nil
}

func updateFarmSetting(f *model.FarmState, u farmconfig.Update) error {
	switch u.Key {
	case farmconfig.KeyWithdrawAuthority:
		f.WithdrawAuthority = u.Address
	case farmconfig.KeyDepositWarmupPeriod, farmconfig.KeyWithdrawCooldownPeriod:
		if f.IsDelegated() {
			return ErrFarmDelegated
		}
		if u.Uint > uint64(^uint32(0)) {
			return fmt.Errorf("%w: %s %d", ErrInvalidConfigValue, u.Key, u.Uint)
		}
		if u.Key == farmconfig.KeyDepositWarmupPeriod {
			f.DepositWarmupPeriod = uint32(u.Uint)
		} else {
			f.WithdrawalCooldownPeriod = uint32(u.Uint)
		}
	case farmconfig.KeyLockingMode:
		f.LockingMode = u.LockingMode
	case farmconfig.KeyLockingStart:
		f.LockingStartTimestamp = u.Uint
	case farmconfig.KeyLockingDuration:
		f.LockingDuration = u.Uint
	case farmconfig.KeyLockingPenaltyBps:
		if u.Uint > fixedpoint.BpsDivFactor {
			return fmt.Errorf("%w: penalty %d bps", ErrInvalidConfigValue, u.Uint)
		}
		f.LockingEarlyWithdrawalPenaltyBps = u.Uint
	case farmconfig.KeyDepositCapAmount:
		f.DepositCapAmount = u.Uint
	case farmconfig.KeySlashedSpillAddress:
		f.SlashedAmountSpillAddress = u.Address
	case farmconfig.KeyOraclePriceID:
		f.OraclePriceID = u.Uint
	case farmconfig.KeyOracleMaxAge:
		f.OracleMaxAge = u.Uint
	case farmconfig.KeyPendingAdmin:
		f.PendingAdmin = u.Address
	case farmconfig.KeyStrategyID:
		f.StrategyID = u.Address
	default:
		return fmt.Errorf("%w: %q", farmconfig.ErrUnknownKey, u.Key)
	}
	return nil
}

// DepositToFarmVault adds amount to the active pool without minting shares,
// so every active staker's shares become worth more.
func (e *Engine) DepositToFarmVault(farm *model.FarmState, amount uint64) error {
	if farm.IsDelegated() {
		return ErrFarmDelegated
	}
	if amount == 0 {
		return ErrDepositZero
	}
	if err := stake.IncreaseTotalAmount(farm, amount); err != nil {
		return err
	}
	e.log.Debug("vault deposit", "farm", farm.ID, "amount", amount)
	return nil
}

// WithdrawFromFarmVault removes up to amount from both pools pro rata. A
// withdrawal that drains the vault freezes the farm.
func (e *Engine) WithdrawFromFarmVault(farm *model.FarmState, amount uint64) (model.VaultWithdrawEffects, error) {
	if farm.IsDelegated() {
		return model.VaultWithdrawEffects{}, ErrFarmDelegated
	}
	var eff model.VaultWithdrawEffects
	err := onFarm(farm, func(f *model.FarmState) (err error) {
		eff, err = stake.WithdrawFarm(f, amount)
		if err != nil {
			return err
		}
		if eff.FarmToFreeze {
			f.IsFrozen = true
		}
		return nil
	})
	if err != nil {
		return model.VaultWithdrawEffects{}, err
	}
	e.log.Debug("vault withdraw", "farm", farm.ID, "amount", eff.AmountToWithdraw, "frozen", eff.FarmToFreeze)
	return eff, nil
}

// WithdrawSlashedAmount releases the penalties collected since the last
// call and returns the amount to send to the spill address.
func (e *Engine) WithdrawSlashedAmount(farm *model.FarmState) (uint64, error) {
	if farm.IsDelegated() {
		return 0, ErrFarmDelegated
	}
	amount := farm.SlashedAmountCurrent
	if amount == 0 {
		return 0, ErrNothingToWithdraw
	}
	farm.SlashedAmountCurrent = 0
	e.log.Debug("slashed withdrawn", "farm", farm.ID, "amount", amount)
	return amount, nil
}
