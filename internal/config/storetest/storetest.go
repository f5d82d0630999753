// Package storetest is a conformance suite run against every
// config.Store implementation, so the memory and file backends are
// held to identical CRUD semantics.
package storetest

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"tapevault/internal/config"
)

// Run exercises factory() (expected to return a fresh, empty Store)
// against the full config.Store contract.
func Run(t *testing.T, factory func() config.Store) {
	t.Helper()
	t.Run("EmptyLoadReturnsNil", func(t *testing.T) { testEmptyLoad(t, factory()) })
	t.Run("DatastoreCRUD", func(t *testing.T) { testDatastoreCRUD(t, factory()) })
	t.Run("PoolCRUD", func(t *testing.T) { testPoolCRUD(t, factory()) })
	t.Run("DriveCRUD", func(t *testing.T) { testDriveCRUD(t, factory()) })
	t.Run("ScheduleCRUD", func(t *testing.T) { testScheduleCRUD(t, factory()) })
	t.Run("SaveReplacesWholeConfig", func(t *testing.T) { testSaveReplaces(t, factory()) })
}

func testEmptyLoad(t *testing.T, s config.Store) {
	ctx := context.Background()
	cfg, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config on a fresh store, got %+v", cfg)
	}
}

func testDatastoreCRUD(t *testing.T, s config.Store) {
	ctx := context.Background()
	ds := config.DatastoreConfig{ID: uuid.New(), Name: "main", Path: "/srv/backup"}

	if err := s.PutDatastore(ctx, ds); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.GetDatastore(ctx, ds.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Name != "main" {
		t.Fatalf("got %+v, want %+v", got, ds)
	}

	ds.Path = "/srv/backup2"
	if err := s.PutDatastore(ctx, ds); err != nil {
		t.Fatalf("put (update): %v", err)
	}
	list, err := s.ListDatastores(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Path != "/srv/backup2" {
		t.Fatalf("expected one updated datastore, got %+v", list)
	}

	if err := s.DeleteDatastore(ctx, ds.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = s.GetDatastore(ctx, ds.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after delete, got %+v", got)
	}
}

func testPoolCRUD(t *testing.T, s config.Store) {
	ctx := context.Background()
	p := config.PoolConfig{ID: uuid.New(), Name: "offsite", Allocation: "continue", Retention: "overwrite-never"}
	if err := s.PutPool(ctx, p); err != nil {
		t.Fatalf("put: %v", err)
	}
	list, err := s.ListPools(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Name != "offsite" {
		t.Fatalf("got %+v", list)
	}
	if err := s.DeletePool(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, _ = s.ListPools(ctx)
	if len(list) != 0 {
		t.Fatalf("expected empty after delete, got %+v", list)
	}
}

func testDriveCRUD(t *testing.T, s config.Store) {
	ctx := context.Background()
	d := config.DriveConfig{ID: uuid.New(), Name: "drive0", Kind: config.DriveKindVirtual, Path: "/tmp/vtape0"}
	if err := s.PutDrive(ctx, d); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.GetDrive(ctx, d.ID)
	if err != nil || got == nil || got.Kind != config.DriveKindVirtual {
		t.Fatalf("got %+v, err %v", got, err)
	}
	if err := s.DeleteDrive(ctx, d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func testScheduleCRUD(t *testing.T, s config.Store) {
	ctx := context.Background()
	sc := config.ScheduleConfig{ID: uuid.New(), Name: "nightly-gc", Calendar: "daily", Task: config.TaskGC, Target: "main"}
	if err := s.PutSchedule(ctx, sc); err != nil {
		t.Fatalf("put: %v", err)
	}
	list, err := s.ListSchedules(ctx)
	if err != nil || len(list) != 1 || list[0].Task != config.TaskGC {
		t.Fatalf("got %+v, err %v", list, err)
	}
	if err := s.DeleteSchedule(ctx, sc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func testSaveReplaces(t *testing.T, s config.Store) {
	ctx := context.Background()
	if err := s.PutDatastore(ctx, config.DatastoreConfig{ID: uuid.New(), Name: "stale"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	fresh := &config.Config{
		Pools: []config.PoolConfig{{ID: uuid.New(), Name: "only-pool"}},
	}
	if err := s.Save(ctx, fresh); err != nil {
		t.Fatalf("save: %v", err)
	}

	dsList, err := s.ListDatastores(ctx)
	if err != nil {
		t.Fatalf("list datastores: %v", err)
	}
	if len(dsList) != 0 {
		t.Fatalf("expected Save to replace the whole config, still have datastores %+v", dsList)
	}
	poolList, err := s.ListPools(ctx)
	if err != nil {
		t.Fatalf("list pools: %v", err)
	}
	if len(poolList) != 1 || poolList[0].Name != "only-pool" {
		t.Fatalf("got %+v", poolList)
	}
}
