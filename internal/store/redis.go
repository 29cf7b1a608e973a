package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/farm-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveGlobalConfig(ctx context.Context, g *model.GlobalConfig, ev *model.Event) error {
	if err := s.primary.SaveGlobalConfig(ctx, g, ev); err != nil {
		return err
	}
	s.rdb.Del(ctx, globalKey)
	return nil
}

func (s *CachedStore) CreateFarm(ctx context.Context, f *model.FarmState, ev *model.Event) error {
	if err := s.primary.CreateFarm(ctx, f, ev); err != nil {
		return err
	}
	s.cache(ctx, farmKey(f.ID), f)
	return nil
}

func (s *CachedStore) SaveFarmUsers(ctx context.Context, f *model.FarmState, users []*model.UserState, ev *model.Event) error {
	if err := s.primary.SaveFarmUsers(ctx, f, users, ev); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	keys := []string{farmKey(f.ID)}
	for _, u := range users {
		keys = append(keys, userKeyOf(u.FarmID, u.Owner))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetGlobalConfig(ctx context.Context) (*model.GlobalConfig, error) {
	return readThrough(ctx, s, globalKey, func() (*model.GlobalConfig, error) {
		return s.primary.GetGlobalConfig(ctx)
	})
}

func (s *CachedStore) GetFarm(ctx context.Context, id string) (*model.FarmState, error) {
	return readThrough(ctx, s, farmKey(id), func() (*model.FarmState, error) {
		return s.primary.GetFarm(ctx, id)
	})
}

func (s *CachedStore) GetUser(ctx context.Context, farmID, owner string) (*model.UserState, error) {
	return readThrough(ctx, s, userKeyOf(farmID, owner), func() (*model.UserState, error) {
		return s.primary.GetUser(ctx, farmID, owner)
	})
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListFarms(ctx context.Context) ([]model.FarmState, error) {
	return s.primary.ListFarms(ctx)
}

func (s *CachedStore) ListUsers(ctx context.Context, farmID string) ([]model.UserState, error) {
	return s.primary.ListUsers(ctx, farmID)
}

func (s *CachedStore) GetEvents(ctx context.Context, farmID string) ([]model.Event, error) {
	return s.primary.GetEvents(ctx, farmID)
}

// --- Cache helpers ---

func readThrough[T any](ctx context.Context, s *CachedStore, key string, load func() (*T, error)) (*T, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var v T
		if json.Unmarshal(data, &v) == nil {
			return &v, nil
		}
	}

	// Cache miss: read from primary.
	v, err := load()
	if err != nil {
		return nil, err
	}
	s.cache(ctx, key, v)
	return v, nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const globalKey = "farm:global-config"

func farmKey(id string) string              { return fmt.Sprintf("farm:%s", id) }
func userKeyOf(farmID, owner string) string { return fmt.Sprintf("farm:%s:user:%s", farmID, owner) }
