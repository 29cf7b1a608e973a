// Package farmconfig parses farm configuration updates: a key naming the
// setting plus a JSON value, decoded into a typed Update the engine applies.
package farmconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"

	"github.com/atmx/farm-engine/internal/model"
	"github.com/atmx/farm-engine/internal/schedule"
)

// Key names one configurable farm setting.
type Key string

// Supported keys.
const (
	KeyRewardRps              Key = "reward-rps"
	KeyRewardMinClaimDuration Key = "reward-min-claim-duration"
	KeyRewardType             Key = "reward-type"
	KeyRpsDecimals            Key = "rps-decimals"
	KeyRewardCurvePoints      Key = "reward-curve-points"
	KeyWithdrawAuthority      Key = "withdraw-authority"
	KeyDepositWarmupPeriod    Key = "deposit-warmup-period"
	KeyWithdrawCooldownPeriod Key = "withdrawal-cooldown-period"
	KeyLockingMode            Key = "locking-mode"
	KeyLockingStart           Key = "locking-start"
	KeyLockingDuration        Key = "locking-duration"
	KeyLockingPenaltyBps      Key = "locking-penalty-bps"
	KeyDepositCapAmount       Key = "deposit-cap-amount"
	KeySlashedSpillAddress    Key = "slashed-amount-spill-address"
	KeyOraclePriceID          Key = "oracle-price-id"
	KeyOracleMaxAge           Key = "oracle-max-age"
	KeyPendingAdmin           Key = "pending-admin"
	KeyStrategyID             Key = "strategy-id"

	// Global keys, accepted by ParseGlobal only.
	KeyGlobalPendingAdmin Key = "pending-global-admin"
	KeyTreasuryFeeBps     Key = "treasury-fee-bps"
)

type valueKind int

const (
	kindUint valueKind = iota
	kindUint32
	kindUint8
	kindAddress
	kindPoints
	kindLockingMode
	kindRewardType
)

var keyKinds = map[Key]valueKind{
	KeyRewardRps:              kindUint,
	KeyRewardMinClaimDuration: kindUint,
	KeyRewardType:             kindRewardType,
	KeyRpsDecimals:            kindUint8,
	KeyRewardCurvePoints:      kindPoints,
	KeyWithdrawAuthority:      kindAddress,
	KeyDepositWarmupPeriod:    kindUint32,
	KeyWithdrawCooldownPeriod: kindUint32,
	KeyLockingMode:            kindLockingMode,
	KeyLockingStart:           kindUint,
	KeyLockingDuration:        kindUint,
	KeyLockingPenaltyBps:      kindUint,
	KeyDepositCapAmount:       kindUint,
	KeySlashedSpillAddress:    kindAddress,
	KeyOraclePriceID:          kindUint,
	KeyOracleMaxAge:           kindUint,
	KeyPendingAdmin:           kindAddress,
	KeyStrategyID:             kindAddress,
}

var globalKeyKinds = map[Key]valueKind{
	KeyGlobalPendingAdmin: kindAddress,
	KeyTreasuryFeeBps:     kindUint,
}

// addressRegex matches account identifiers: 1-128 characters of
// [A-Za-z0-9_.:-]. Example: 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
var addressRegex = regexp.MustCompile(`^[A-Za-z0-9_.:\-]{1,128}$`)

var (
	ErrUnknownKey   = errors.New("farmconfig: unknown config key")
	ErrInvalidValue = errors.New("farmconfig: invalid config value")
)

// Update is a decoded configuration change. Only the field matching the
// key's kind is set.
type Update struct {
	Key         Key
	RewardIndex uint64

	Uint        uint64
	Address     string
	Curve       schedule.Curve
	LockingMode model.LockingMode
	RewardType  model.RewardType
}

// RewardScoped reports whether k targets a single reward stream.
func (k Key) RewardScoped() bool {
	switch k {
	case KeyRewardRps, KeyRewardMinClaimDuration, KeyRewardType, KeyRpsDecimals, KeyRewardCurvePoints:
		return true
	}
	return false
}

// Keys returns every supported key.
func Keys() []Key {
	keys := make([]Key, 0, len(keyKinds))
	for k := range keyKinds {
		keys = append(keys, k)
	}
	return keys
}

// Parse decodes raw as the value of key. rewardIndex is only meaningful for
// reward-scoped keys.
func Parse(key string, rewardIndex uint64, raw json.RawMessage) (Update, error) {
	k := Key(key)
	kind, ok := keyKinds[k]
	if !ok {
		return Update{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return decode(Update{Key: k, RewardIndex: rewardIndex}, kind, raw)
}

// ParseGlobal decodes raw as the value of a global config key.
func ParseGlobal(key string, raw json.RawMessage) (Update, error) {
	k := Key(key)
	kind, ok := globalKeyKinds[k]
	if !ok {
		return Update{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return decode(Update{Key: k}, kind, raw)
}

func decode(u Update, kind valueKind, raw json.RawMessage) (Update, error) {
	k := u.Key

	switch kind {
	case kindUint, kindUint32, kindUint8:
		if err := json.Unmarshal(raw, &u.Uint); err != nil {
			return Update{}, fmt.Errorf("%w: %s expects an unsigned integer", ErrInvalidValue, k)
		}
		if kind == kindUint32 && u.Uint > math.MaxUint32 {
			return Update{}, fmt.Errorf("%w: %s must fit 32 bits", ErrInvalidValue, k)
		}
		// Rate decimals feed 10^n, which must fit 64 bits.
		if kind == kindUint8 && u.Uint > 19 {
			return Update{}, fmt.Errorf("%w: %s must be at most 19", ErrInvalidValue, k)
		}

	case kindAddress:
		if err := json.Unmarshal(raw, &u.Address); err != nil || !addressRegex.MatchString(u.Address) {
			return Update{}, fmt.Errorf("%w: %s expects an address", ErrInvalidValue, k)
		}

	case kindPoints:
		var pts []schedule.RewardPoint
		if err := json.Unmarshal(raw, &pts); err != nil {
			return Update{}, fmt.Errorf("%w: %s expects a list of points", ErrInvalidValue, k)
		}
		curve, err := schedule.FromPoints(pts)
		if err != nil {
			return Update{}, err
		}
		u.Curve = curve

	case kindLockingMode:
		mode, err := decodeEnum(raw, model.LockingModeFromUint64, (*model.LockingMode).UnmarshalText)
		if err != nil {
			return Update{}, fmt.Errorf("%w: %s: %v", ErrInvalidValue, k, err)
		}
		u.LockingMode = mode

	case kindRewardType:
		rt, err := decodeEnum(raw, model.RewardTypeFromUint64, (*model.RewardType).UnmarshalText)
		if err != nil {
			return Update{}, fmt.Errorf("%w: %s: %v", ErrInvalidValue, k, err)
		}
		u.RewardType = rt
	}
	return u, nil
}

// decodeEnum accepts either the numeric value or the name of an enum.
func decodeEnum[T any](raw json.RawMessage, fromNum func(uint64) (T, error), fromName func(*T, []byte) error) (T, error) {
	var zero T
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return fromNum(n)
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return zero, errors.New("expected a number or a name")
	}
	var v T
	if err := fromName(&v, []byte(name)); err != nil {
		return zero, err
	}
	return v, nil
}
