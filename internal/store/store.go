// Package store defines the persistence interface for the farm engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/farm-engine/internal/model"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrExists   = errors.New("store: already exists")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// Every write carries the event describing it. The records and the event
// are committed together or not at all.
type Store interface {
	// --- Global config ---

	// GetGlobalConfig returns the global config, or ErrNotFound before it
	// is initialised.
	GetGlobalConfig(ctx context.Context) (*model.GlobalConfig, error)

	// SaveGlobalConfig creates or replaces the global config.
	SaveGlobalConfig(ctx context.Context, g *model.GlobalConfig, ev *model.Event) error

	// --- Farms and users ---

	// CreateFarm persists a new farm. Returns ErrExists on a duplicate ID.
	CreateFarm(ctx context.Context, f *model.FarmState, ev *model.Event) error

	// GetFarm retrieves a farm by its ID.
	GetFarm(ctx context.Context, id string) (*model.FarmState, error)

	// ListFarms returns all farms.
	ListFarms(ctx context.Context) ([]model.FarmState, error)

	// GetUser retrieves the position of owner in a farm.
	GetUser(ctx context.Context, farmID, owner string) (*model.UserState, error)

	// ListUsers returns every position in a farm.
	ListUsers(ctx context.Context, farmID string) ([]model.UserState, error)

	// SaveFarmUsers updates a farm and upserts the given users of that farm.
	SaveFarmUsers(ctx context.Context, f *model.FarmState, users []*model.UserState, ev *model.Event) error

	// --- Immutable event ledger ---

	// GetEvents returns the events of a farm in commit order.
	GetEvents(ctx context.Context, farmID string) ([]model.Event, error)
}
