package model

import (
	"errors"
	"fmt"
)

// ErrUnknownEnum is returned when parsing an unrecognised enum name or value.
var ErrUnknownEnum = errors.New("model: unknown enum value")

// LockingMode selects how the early-withdrawal penalty window is anchored.
type LockingMode uint8

const (
	LockingNone LockingMode = iota
	// LockingContinuous anchors the window at each user's last stake.
	LockingContinuous
	// LockingWithExpiry uses one farm-wide window for every user.
	LockingWithExpiry
)

var lockingModeNames = [...]string{"none", "continuous", "with_expiry"}

func (m LockingMode) String() string {
	if int(m) < len(lockingModeNames) {
		return lockingModeNames[m]
	}
	return fmt.Sprintf("LockingMode(%d)", uint8(m))
}

// LockingModeFromUint64 converts a numeric config value.
func LockingModeFromUint64(v uint64) (LockingMode, error) {
	if v >= uint64(len(lockingModeNames)) {
		return 0, fmt.Errorf("%w: locking mode %d", ErrUnknownEnum, v)
	}
	return LockingMode(v), nil
}

func (m LockingMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *LockingMode) UnmarshalText(b []byte) error {
	for i, name := range lockingModeNames {
		if name == string(b) {
			*m = LockingMode(i)
			return nil
		}
	}
	return fmt.Errorf("%w: locking mode %q", ErrUnknownEnum, b)
}

// RewardType selects how the curve rate turns into an issued amount.
type RewardType uint8

const (
	// RewardProportional issues the curve amount regardless of TVL.
	RewardProportional RewardType = iota
	// RewardConstant issues the curve amount per staked unit.
	RewardConstant
)

var rewardTypeNames = [...]string{"proportional", "constant"}

func (t RewardType) String() string {
	if int(t) < len(rewardTypeNames) {
		return rewardTypeNames[t]
	}
	return fmt.Sprintf("RewardType(%d)", uint8(t))
}

// RewardTypeFromUint64 converts a numeric config value.
func RewardTypeFromUint64(v uint64) (RewardType, error) {
	if v >= uint64(len(rewardTypeNames)) {
		return 0, fmt.Errorf("%w: reward type %d", ErrUnknownEnum, v)
	}
	return RewardType(v), nil
}

func (t RewardType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *RewardType) UnmarshalText(b []byte) error {
	for i, name := range rewardTypeNames {
		if name == string(b) {
			*t = RewardType(i)
			return nil
		}
	}
	return fmt.Errorf("%w: reward type %q", ErrUnknownEnum, b)
}

// TimeUnit is the clock a farm's timestamps are expressed in.
type TimeUnit uint8

const (
	TimeSeconds TimeUnit = iota
	TimeSlots
)

func (u TimeUnit) String() string {
	switch u {
	case TimeSeconds:
		return "seconds"
	case TimeSlots:
		return "slots"
	}
	return fmt.Sprintf("TimeUnit(%d)", uint8(u))
}

func (u TimeUnit) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *TimeUnit) UnmarshalText(b []byte) error {
	switch string(b) {
	case "seconds", "":
		*u = TimeSeconds
	case "slots":
		*u = TimeSlots
	default:
		return fmt.Errorf("%w: time unit %q", ErrUnknownEnum, b)
	}
	return nil
}

// EventKind names a committed mutation in the event ledger.
type EventKind string

const (
	EventFarmInitialized    EventKind = "farm_initialized"
	EventRewardInitialized  EventKind = "reward_initialized"
	EventRewardAdded        EventKind = "reward_added"
	EventRewardWithdrawn    EventKind = "reward_withdrawn"
	EventConfigUpdated      EventKind = "config_updated"
	EventGlobalRefreshed    EventKind = "global_refreshed"
	EventUserInitialized    EventKind = "user_initialized"
	EventStaked             EventKind = "staked"
	EventStakeSet           EventKind = "stake_set"
	EventUnstaked           EventKind = "unstaked"
	EventHarvested          EventKind = "harvested"
	EventWithdrawn          EventKind = "withdrawn"
	EventUserRefreshed      EventKind = "user_refreshed"
	EventVaultDeposited     EventKind = "vault_deposited"
	EventVaultWithdrawn     EventKind = "vault_withdrawn"
	EventSlashedWithdrawn   EventKind = "slashed_withdrawn"
	EventUserRewarded       EventKind = "user_rewarded"
	EventOwnershipTransfer  EventKind = "ownership_transferred"
	EventGlobalConfigChange EventKind = "global_config_updated"
)
