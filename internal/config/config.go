// Package config provides configuration persistence for the system.
//
// Store persists and reloads the desired shape of the system across
// restarts: which datastores exist, which tape pools and drives they
// can be archived onto, and which calendar-driven schedules drive
// backup/GC/tape-rotation jobs. This is control-plane state, not
// data-plane state.
//
// Store does not:
//   - Inspect chunks or archives
//   - Perform GC or archival itself
//   - Watch for live changes on its own (callers that want live reload
//     use the file package's Watch method)
package config

import (
	"context"

	"github.com/google/uuid"
)

// Store persists and loads system configuration.
//
// Config describes the desired system shape. A daemon loads config at
// startup and instantiates components from it; config changes are not
// hot-reloaded by Store itself.
//
// Store is not accessed on the chunk insert or tape write hot path.
// Persistence must not block those operations.
type Store interface {
	// Load reads the full configuration. Returns nil if none exists.
	Load(ctx context.Context) (*Config, error)

	// Save persists the full configuration.
	Save(ctx context.Context, cfg *Config) error

	GetDatastore(ctx context.Context, id uuid.UUID) (*DatastoreConfig, error)
	ListDatastores(ctx context.Context) ([]DatastoreConfig, error)
	PutDatastore(ctx context.Context, ds DatastoreConfig) error
	DeleteDatastore(ctx context.Context, id uuid.UUID) error

	GetPool(ctx context.Context, id uuid.UUID) (*PoolConfig, error)
	ListPools(ctx context.Context) ([]PoolConfig, error)
	PutPool(ctx context.Context, p PoolConfig) error
	DeletePool(ctx context.Context, id uuid.UUID) error

	GetDrive(ctx context.Context, id uuid.UUID) (*DriveConfig, error)
	ListDrives(ctx context.Context) ([]DriveConfig, error)
	PutDrive(ctx context.Context, d DriveConfig) error
	DeleteDrive(ctx context.Context, id uuid.UUID) error

	GetSchedule(ctx context.Context, id uuid.UUID) (*ScheduleConfig, error)
	ListSchedules(ctx context.Context) ([]ScheduleConfig, error)
	PutSchedule(ctx context.Context, s ScheduleConfig) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
}

// Config describes the desired system shape. It is declarative: it
// defines what should exist, not how to create it.
type Config struct {
	Datastores []DatastoreConfig
	Pools      []PoolConfig
	Drives     []DriveConfig
	Schedules  []ScheduleConfig
}

// FSyncLevel controls how aggressively a datastore flushes newly
// inserted chunks to stable storage before acknowledging the insert.
type FSyncLevel string

const (
	// FSyncNone never calls fsync on a chunk file; the rename into
	// place is the only durability guarantee.
	FSyncNone FSyncLevel = "none"
	// FSyncFile fsyncs each chunk file before the atomic rename.
	FSyncFile FSyncLevel = "file"
)

// DatastoreConfig describes a content-addressed chunk store to
// instantiate.
type DatastoreConfig struct {
	// ID is a unique identifier for this datastore.
	ID uuid.UUID

	// Name is the short human-readable datastore name.
	Name string

	// Path is the datastore's root directory on disk.
	Path string

	// EncryptionKeyFingerprint, if set, names the key file (see
	// internal/keys) new chunks in this datastore are encrypted under.
	EncryptionKeyFingerprint string

	// FSync controls insert durability; empty means FSyncNone.
	FSync FSyncLevel
}

// PoolConfig describes a tape media pool to instantiate.
type PoolConfig struct {
	ID   uuid.UUID
	Name string

	// Allocation is the pool's allocation policy name: "continue",
	// "always-new", or a TimeSpan/size-triggered rotation expression
	// understood by internal/tape/pool.
	Allocation string

	// Retention is the pool's retention policy name: "overwrite-always",
	// "overwrite-never", or a TimeSpan protecting recently-written media.
	Retention string

	// EncryptionKeyFingerprint, if set, names the key file media in
	// this pool are encrypted under.
	EncryptionKeyFingerprint string
}

// DriveKind identifies which Drive implementation a DriveConfig binds
// to.
type DriveKind string

const (
	DriveKindLTO     DriveKind = "lto"
	DriveKindVirtual DriveKind = "virtual"
)

// DriveConfig describes a tape drive to instantiate.
type DriveConfig struct {
	ID   uuid.UUID
	Name string

	// Kind selects the Drive implementation: a real SCSI-attached LTO
	// drive, or the directory-backed virtual test double.
	Kind DriveKind

	// Path is the kind-specific location: a SCSI generic device node
	// (e.g. "/dev/sg3") for DriveKindLTO, or a directory for
	// DriveKindVirtual.
	Path string
}

// ScheduleTask identifies which recurring operation a ScheduleConfig
// drives.
type ScheduleTask string

const (
	TaskBackup       ScheduleTask = "backup"
	TaskGC           ScheduleTask = "gc"
	TaskTapeBackup   ScheduleTask = "tape-backup"
	TaskTapeCleaning ScheduleTask = "tape-cleaning"
)

// ScheduleConfig binds a systemd.timer-style calendar event to a task
// and the datastore or pool it operates on.
type ScheduleConfig struct {
	ID   uuid.UUID
	Name string

	// Calendar is a CalendarEvent string as parsed by
	// internal/scheduler.ParseCalendarEvent, e.g. "daily", "mon..fri 2:00".
	Calendar string

	Task ScheduleTask

	// Target names the DatastoreConfig or PoolConfig this schedule
	// operates on, depending on Task.
	Target string
}
