// Package memory provides an in-memory config.Store implementation.
// Intended for testing. Configuration is not persisted across restarts.
package memory

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"tapevault/internal/config"
)

func cmpUUID(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) }

// Store is an in-memory config.Store implementation.
type Store struct {
	mu         sync.RWMutex
	datastores map[uuid.UUID]config.DatastoreConfig
	pools      map[uuid.UUID]config.PoolConfig
	drives     map[uuid.UUID]config.DriveConfig
	schedules  map[uuid.UUID]config.ScheduleConfig
}

var _ config.Store = (*Store)(nil)

// NewStore creates a new in-memory config.Store.
func NewStore() *Store {
	return &Store{
		datastores: make(map[uuid.UUID]config.DatastoreConfig),
		pools:      make(map[uuid.UUID]config.PoolConfig),
		drives:     make(map[uuid.UUID]config.DriveConfig),
		schedules:  make(map[uuid.UUID]config.ScheduleConfig),
	}
}

// Load returns the full configuration. Returns nil if no entities exist.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.datastores) == 0 && len(s.pools) == 0 && len(s.drives) == 0 && len(s.schedules) == 0 {
		return nil, nil
	}

	cfg := &config.Config{}
	for _, ds := range s.datastores {
		cfg.Datastores = append(cfg.Datastores, ds)
	}
	slices.SortFunc(cfg.Datastores, func(a, b config.DatastoreConfig) int { return cmpUUID(a.ID, b.ID) })

	for _, p := range s.pools {
		cfg.Pools = append(cfg.Pools, p)
	}
	slices.SortFunc(cfg.Pools, func(a, b config.PoolConfig) int { return cmpUUID(a.ID, b.ID) })

	for _, d := range s.drives {
		cfg.Drives = append(cfg.Drives, d)
	}
	slices.SortFunc(cfg.Drives, func(a, b config.DriveConfig) int { return cmpUUID(a.ID, b.ID) })

	for _, sc := range s.schedules {
		cfg.Schedules = append(cfg.Schedules, sc)
	}
	slices.SortFunc(cfg.Schedules, func(a, b config.ScheduleConfig) int { return cmpUUID(a.ID, b.ID) })

	return cfg, nil
}

// Save replaces the full configuration.
func (s *Store) Save(ctx context.Context, cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.datastores = make(map[uuid.UUID]config.DatastoreConfig, len(cfg.Datastores))
	for _, ds := range cfg.Datastores {
		s.datastores[ds.ID] = ds
	}
	s.pools = make(map[uuid.UUID]config.PoolConfig, len(cfg.Pools))
	for _, p := range cfg.Pools {
		s.pools[p.ID] = p
	}
	s.drives = make(map[uuid.UUID]config.DriveConfig, len(cfg.Drives))
	for _, d := range cfg.Drives {
		s.drives[d.ID] = d
	}
	s.schedules = make(map[uuid.UUID]config.ScheduleConfig, len(cfg.Schedules))
	for _, sc := range cfg.Schedules {
		s.schedules[sc.ID] = sc
	}
	return nil
}

// Datastores

func (s *Store) GetDatastore(ctx context.Context, id uuid.UUID) (*config.DatastoreConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.datastores[id]
	if !ok {
		return nil, nil
	}
	return &ds, nil
}

func (s *Store) ListDatastores(ctx context.Context) ([]config.DatastoreConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]config.DatastoreConfig, 0, len(s.datastores))
	for _, ds := range s.datastores {
		out = append(out, ds)
	}
	slices.SortFunc(out, func(a, b config.DatastoreConfig) int { return cmpUUID(a.ID, b.ID) })
	return out, nil
}

func (s *Store) PutDatastore(ctx context.Context, ds config.DatastoreConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datastores[ds.ID] = ds
	return nil
}

func (s *Store) DeleteDatastore(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.datastores, id)
	return nil
}

// Pools

func (s *Store) GetPool(ctx context.Context, id uuid.UUID) (*config.PoolConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) ListPools(ctx context.Context) ([]config.PoolConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]config.PoolConfig, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b config.PoolConfig) int { return cmpUUID(a.ID, b.ID) })
	return out, nil
}

func (s *Store) PutPool(ctx context.Context, p config.PoolConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[p.ID] = p
	return nil
}

func (s *Store) DeletePool(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pools, id)
	return nil
}

// Drives

func (s *Store) GetDrive(ctx context.Context, id uuid.UUID) (*config.DriveConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drives[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *Store) ListDrives(ctx context.Context) ([]config.DriveConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]config.DriveConfig, 0, len(s.drives))
	for _, d := range s.drives {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b config.DriveConfig) int { return cmpUUID(a.ID, b.ID) })
	return out, nil
}

func (s *Store) PutDrive(ctx context.Context, d config.DriveConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drives[d.ID] = d
	return nil
}

func (s *Store) DeleteDrive(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drives, id)
	return nil
}

// Schedules

func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (*config.ScheduleConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, nil
	}
	return &sc, nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]config.ScheduleConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]config.ScheduleConfig, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, sc)
	}
	slices.SortFunc(out, func(a, b config.ScheduleConfig) int { return cmpUUID(a.ID, b.ID) })
	return out, nil
}

func (s *Store) PutSchedule(ctx context.Context, sc config.ScheduleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sc.ID] = sc
	return nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, id)
	return nil
}
