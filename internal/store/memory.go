package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/farm-engine/internal/model"
)

type userKey struct {
	farmID, owner string
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Records are plain values, so storing and returning copies keeps callers
// from mutating stored state.
type MemoryStore struct {
	mu     sync.RWMutex
	global *model.GlobalConfig
	farms  map[string]model.FarmState
	users  map[userKey]model.UserState
	events []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		farms: make(map[string]model.FarmState),
		users: make(map[userKey]model.UserState),
	}
}

func (s *MemoryStore) GetGlobalConfig(_ context.Context) (*model.GlobalConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.global == nil {
		return nil, fmt.Errorf("global config: %w", ErrNotFound)
	}
	g := *s.global
	return &g, nil
}

func (s *MemoryStore) SaveGlobalConfig(_ context.Context, g *model.GlobalConfig, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := *g
	s.global = &saved
	s.appendEvent(ev)
	return nil
}

func (s *MemoryStore) CreateFarm(_ context.Context, f *model.FarmState, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.farms[f.ID]; ok {
		return fmt.Errorf("farm %s: %w", f.ID, ErrExists)
	}
	s.farms[f.ID] = *f
	s.appendEvent(ev)
	return nil
}

func (s *MemoryStore) GetFarm(_ context.Context, id string) (*model.FarmState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.farms[id]
	if !ok {
		return nil, fmt.Errorf("farm %s: %w", id, ErrNotFound)
	}
	return &f, nil
}

func (s *MemoryStore) ListFarms(_ context.Context) ([]model.FarmState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	farms := make([]model.FarmState, 0, len(s.farms))
	for _, f := range s.farms {
		farms = append(farms, f)
	}
	sort.Slice(farms, func(i, j int) bool { return farms[i].CreatedAt.After(farms[j].CreatedAt) })
	return farms, nil
}

func (s *MemoryStore) GetUser(_ context.Context, farmID, owner string) (*model.UserState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userKey{farmID, owner}]
	if !ok {
		return nil, fmt.Errorf("user %s in farm %s: %w", owner, farmID, ErrNotFound)
	}
	return &u, nil
}

func (s *MemoryStore) ListUsers(_ context.Context, farmID string) ([]model.UserState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []model.UserState
	for k, u := range s.users {
		if k.farmID == farmID {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}

func (s *MemoryStore) SaveFarmUsers(_ context.Context, f *model.FarmState, users []*model.UserState, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.farms[f.ID]; !ok {
		return fmt.Errorf("farm %s: %w", f.ID, ErrNotFound)
	}
	for _, u := range users {
		if u.FarmID != f.ID {
			return fmt.Errorf("user %s belongs to farm %s, not %s", u.Owner, u.FarmID, f.ID)
		}
	}

	s.farms[f.ID] = *f
	for _, u := range users {
		s.users[userKey{u.FarmID, u.Owner}] = *u
	}
	s.appendEvent(ev)
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, farmID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for _, e := range s.events {
		if e.FarmID == farmID {
			result = append(result, e)
		}
	}
	return result, nil
}

// appendEvent records ev. Caller holds the write lock.
func (s *MemoryStore) appendEvent(ev *model.Event) {
	if ev != nil {
		s.events = append(s.events, *ev)
	}
}
