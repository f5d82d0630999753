package file

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"tapevault/internal/config"
	"tapevault/internal/config/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func() config.Store {
		return NewStore(filepath.Join(t.TempDir(), "config.mp"))
	})
}

func TestWatchNotifiesOnExternalWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.mp")
	writer := NewStore(path)
	reader := NewStore(path)

	changes := make(chan *config.Config, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reader.Watch(ctx, func(cfg *config.Config) {
		select {
		case changes <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	ds := config.DatastoreConfig{ID: uuid.New(), Name: "watched"}
	if err := writer.PutDatastore(context.Background(), ds); err != nil {
		t.Fatalf("put: %v", err)
	}

	select {
	case cfg := <-changes:
		if cfg == nil || len(cfg.Datastores) != 1 || cfg.Datastores[0].Name != "watched" {
			t.Fatalf("unexpected config after watch notification: %+v", cfg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch callback did not fire within 5s")
	}
}
