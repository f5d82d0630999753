// Package file provides a file-based config.Store implementation.
//
// Configuration is persisted as a versioned msgpack envelope:
//
//	{version: 1, config: { ... }}
//
// msgpack rather than JSON: a media inventory can carry many thousands
// of per-medium records once pools grow large, and msgpack's compact,
// schema-free encoding keeps that cheap to rewrite on every mutation.
// All mutations (Put/Delete) load the full file, mutate in memory, and
// atomically flush the entire file via temp-file-then-rename.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"tapevault/internal/config"
)

const currentVersion = 1

// envelope is the versioned on-disk format.
type envelope struct {
	Version int            `msgpack:"version"`
	Config  *config.Config `msgpack:"config"`
}

// Store is a file-based config.Store implementation. Writes are atomic
// via temp file + rename.
type Store struct {
	path string
}

var _ config.Store = (*Store)(nil)

// NewStore creates a new file-based config.Store. path is the config
// file's location; its directory is created on first write if missing.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the full configuration from disk. Returns nil if the file
// does not exist.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	return s.load()
}

func (s *Store) load() (*config.Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", s.path, err)
	}
	if env.Version > currentVersion {
		return nil, fmt.Errorf("config: %s has version %d, newer than supported version %d", s.path, env.Version, currentVersion)
	}
	return env.Config, nil
}

func (s *Store) loadOrEmpty() (*config.Config, error) {
	cfg, err := s.load()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	return cfg, nil
}

// Save persists the full configuration, atomically replacing the file.
func (s *Store) Save(ctx context.Context, cfg *config.Config) error {
	return s.flush(cfg)
}

func (s *Store) flush(cfg *config.Config) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: create directory %s: %w", dir, err)
	}

	env := envelope{Version: currentVersion, Config: cfg}
	data, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}

// Watch invokes onChange every time the config file is written by
// another process, so a running daemon picks up CLI mutations without
// a restart. It runs until ctx is canceled.
func (s *Store) Watch(ctx context.Context, onChange func(*config.Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		watcher.Close()
		return fmt.Errorf("config: create directory %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := s.load()
				if err != nil {
					continue
				}
				onChange(cfg)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Datastores

func (s *Store) GetDatastore(ctx context.Context, id uuid.UUID) (*config.DatastoreConfig, error) {
	cfg, err := s.load()
	if err != nil || cfg == nil {
		return nil, err
	}
	for _, ds := range cfg.Datastores {
		if ds.ID == id {
			return &ds, nil
		}
	}
	return nil, nil
}

func (s *Store) ListDatastores(ctx context.Context) ([]config.DatastoreConfig, error) {
	cfg, err := s.load()
	if err != nil || cfg == nil {
		return nil, err
	}
	return cfg.Datastores, nil
}

func (s *Store) PutDatastore(ctx context.Context, ds config.DatastoreConfig) error {
	cfg, err := s.loadOrEmpty()
	if err != nil {
		return err
	}
	for i, existing := range cfg.Datastores {
		if existing.ID == ds.ID {
			cfg.Datastores[i] = ds
			return s.flush(cfg)
		}
	}
	cfg.Datastores = append(cfg.Datastores, ds)
	return s.flush(cfg)
}

func (s *Store) DeleteDatastore(ctx context.Context, id uuid.UUID) error {
	cfg, err := s.loadOrEmpty()
	if err != nil {
		return err
	}
	for i, ds := range cfg.Datastores {
		if ds.ID == id {
			cfg.Datastores = append(cfg.Datastores[:i], cfg.Datastores[i+1:]...)
			break
		}
	}
	return s.flush(cfg)
}

// Pools

func (s *Store) GetPool(ctx context.Context, id uuid.UUID) (*config.PoolConfig, error) {
	cfg, err := s.load()
	if err != nil || cfg == nil {
		return nil, err
	}
	for _, p := range cfg.Pools {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *Store) ListPools(ctx context.Context) ([]config.PoolConfig, error) {
	cfg, err := s.load()
	if err != nil || cfg == nil {
		return nil, err
	}
	return cfg.Pools, nil
}

func (s *Store) PutPool(ctx context.Context, p config.PoolConfig) error {
	cfg, err := s.loadOrEmpty()
	if err != nil {
		return err
	}
	for i, existing := range cfg.Pools {
		if existing.ID == p.ID {
			cfg.Pools[i] = p
			return s.flush(cfg)
		}
	}
	cfg.Pools = append(cfg.Pools, p)
	return s.flush(cfg)
}

func (s *Store) DeletePool(ctx context.Context, id uuid.UUID) error {
	cfg, err := s.loadOrEmpty()
	if err != nil {
		return err
	}
	for i, p := range cfg.Pools {
		if p.ID == id {
			cfg.Pools = append(cfg.Pools[:i], cfg.Pools[i+1:]...)
			break
		}
	}
	return s.flush(cfg)
}

// Drives

func (s *Store) GetDrive(ctx context.Context, id uuid.UUID) (*config.DriveConfig, error) {
	cfg, err := s.load()
	if err != nil || cfg == nil {
		return nil, err
	}
	for _, d := range cfg.Drives {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, nil
}

func (s *Store) ListDrives(ctx context.Context) ([]config.DriveConfig, error) {
	cfg, err := s.load()
	if err != nil || cfg == nil {
		return nil, err
	}
	return cfg.Drives, nil
}

func (s *Store) PutDrive(ctx context.Context, d config.DriveConfig) error {
	cfg, err := s.loadOrEmpty()
	if err != nil {
		return err
	}
	for i, existing := range cfg.Drives {
		if existing.ID == d.ID {
			cfg.Drives[i] = d
			return s.flush(cfg)
		}
	}
	cfg.Drives = append(cfg.Drives, d)
	return s.flush(cfg)
}

func (s *Store) DeleteDrive(ctx context.Context, id uuid.UUID) error {
	cfg, err := s.loadOrEmpty()
	if err != nil {
		return err
	}
	for i, d := range cfg.Drives {
		if d.ID == id {
			cfg.Drives = append(cfg.Drives[:i], cfg.Drives[i+1:]...)
			break
		}
	}
	return s.flush(cfg)
}

// Schedules

func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (*config.ScheduleConfig, error) {
	cfg, err := s.load()
	if err != nil || cfg == nil {
		return nil, err
	}
	for _, sc := range cfg.Schedules {
		if sc.ID == id {
			return &sc, nil
		}
	}
	return nil, nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]config.ScheduleConfig, error) {
	cfg, err := s.load()
	if err != nil || cfg == nil {
		return nil, err
	}
	return cfg.Schedules, nil
}

func (s *Store) PutSchedule(ctx context.Context, sc config.ScheduleConfig) error {
	cfg, err := s.loadOrEmpty()
	if err != nil {
		return err
	}
	for i, existing := range cfg.Schedules {
		if existing.ID == sc.ID {
			cfg.Schedules[i] = sc
			return s.flush(cfg)
		}
	}
	cfg.Schedules = append(cfg.Schedules, sc)
	return s.flush(cfg)
}

func (s *Store) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	cfg, err := s.loadOrEmpty()
	if err != nil {
		return err
	}
	for i, sc := range cfg.Schedules {
		if sc.ID == id {
			cfg.Schedules = append(cfg.Schedules[:i], cfg.Schedules[i+1:]...)
			break
		}
	}
	return s.flush(cfg)
}
