package service

import (
	"time"

	"github.com/atmx/farm-engine/internal/model"
)

// Clock supplies the current time in a farm's time unit.
type Clock interface {
	Now(unit model.TimeUnit) uint64
}

// SystemClock reads wall-clock time. Slot farms count SlotDuration ticks
// since Genesis.
type SystemClock struct {
	Genesis      time.Time
	SlotDuration time.Duration
}

// Now implements Clock.
func (c SystemClock) Now(unit model.TimeUnit) uint64 {
	return c.At(time.Now(), unit)
}

// At converts t to unit. Times before genesis map to slot 0.
func (c SystemClock) At(t time.Time, unit model.TimeUnit) uint64 {
	if unit != model.TimeSlots {
		if t.Unix() < 0 {
			return 0
		}
		return uint64(t.Unix())
	}
	if c.SlotDuration <= 0 || !t.After(c.Genesis) {
		return 0
	}
	return uint64(t.Sub(c.Genesis) / c.SlotDuration)
}
