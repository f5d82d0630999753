package writer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"tapevault/internal/blob"
	"tapevault/internal/catalog"
	"tapevault/internal/chunkstore"
	"tapevault/internal/tape/drive/virtual"
	"tapevault/internal/tape/pool"
)

func newTestStore(t *testing.T) *chunkstore.Store {
	t.Helper()
	store, err := chunkstore.Create(chunkstore.Config{Name: "store", Base: t.TempDir()})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return store
}

func putChunk(t *testing.T, store *chunkstore.Store, body []byte) [blob.DigestSize]byte {
	t.Helper()
	b, err := blob.Encode(body, false, nil)
	if err != nil {
		t.Fatalf("encode blob: %v", err)
	}
	digest := blob.ComputeDigest(body, nil)
	if _, _, err := store.Insert(digest, b); err != nil {
		t.Fatalf("insert chunk: %v", err)
	}
	return digest
}

// formatVolumeLabel writes a minimal file 0 (the physical volume label)
// onto a fresh tape, standing in for the operator-driven "drive load
// --label"/format workflow that precedes any Writer use in production.
// ensureMedia only ever manages file 1 onward.
func formatVolumeLabel(t *testing.T, drv *virtual.Drive, labelText string) {
	t.Helper()
	if err := drv.Load(labelText); err != nil {
		t.Fatalf("load %s for labelling: %v", labelText, err)
	}
	if _, err := drv.WriteBlock([]byte("volume-label:" + labelText)); err != nil {
		t.Fatalf("write volume label on %s: %v", labelText, err)
	}
	if err := drv.WriteFilemarks(1, false); err != nil {
		t.Fatalf("close volume label file on %s: %v", labelText, err)
	}
	if err := drv.Eject(); err != nil {
		t.Fatalf("eject %s after labelling: %v", labelText, err)
	}
}

func newTestWriter(t *testing.T, drv *virtual.Drive, catalogDir string) (*Writer, *pool.Pool) {
	t.Helper()
	p := pool.New(pool.Config{Name: "test", Allocation: pool.NeverNewSet})
	mediaID := uuid.New()
	p.AddMedia(pool.MediaID{UUID: mediaID, LabelText: mediaID.String()})
	formatVolumeLabel(t, drv, mediaID.String())
	if _, _, err := p.StartWriteSession(time.Now()); err != nil {
		t.Fatalf("start write session: %v", err)
	}

	set := catalog.NewSet()
	w := New(Config{
		Pool:       p,
		Drive:      drv,
		CatalogSet: set,
		NewCatalog: func(mediaID uuid.UUID) (*catalog.Catalog, error) {
			path := filepath.Join(catalogDir, mediaID.String()+".cat")
			if c, ok := set.Catalog(mediaID); ok {
				return c, nil
			}
			return catalog.Create(path, mediaID)
		},
	})
	return w, p
}

func TestAppendChunkArchiveWritesAndIndexesChunks(t *testing.T) {
	store := newTestStore(t)
	d1 := putChunk(t, store, []byte("hello chunk one"))
	d2 := putChunk(t, store, []byte("hello chunk two"))

	drvDir := t.TempDir()
	drv, err := virtual.Open(virtual.Config{Name: "vtape0", Path: drvDir})
	if err != nil {
		t.Fatalf("open virtual drive: %v", err)
	}
	defer drv.Close()

	w, _ := newTestWriter(t, drv, t.TempDir())
	defer w.Close()

	feed := SpawnChunkReader(context.Background(), store, [][blob.DigestSize]byte{d1, d2})
	archiveID := uuid.New()
	if err := w.AppendChunkArchive(context.Background(), archiveID, feed); err != nil {
		t.Fatalf("append chunk archive: %v", err)
	}

	if !w.catalogSet.ContainsChunk(d1) || !w.catalogSet.ContainsChunk(d2) {
		t.Fatal("expected both chunks to be registered in the catalog set")
	}
}

func TestAppendChunkArchiveSkipsAlreadyKnownChunks(t *testing.T) {
	store := newTestStore(t)
	d1 := putChunk(t, store, []byte("known already"))

	drvDir := t.TempDir()
	drv, err := virtual.Open(virtual.Config{Name: "vtape0", Path: drvDir})
	if err != nil {
		t.Fatalf("open virtual drive: %v", err)
	}
	defer drv.Close()

	w, _ := newTestWriter(t, drv, t.TempDir())
	defer w.Close()

	preloaded, err := catalog.Create(filepath.Join(t.TempDir(), "preloaded.cat"), uuid.New())
	if err != nil {
		t.Fatalf("create preloaded catalog: %v", err)
	}
	if err := preloaded.StartChunkArchive(1, uuid.New()); err != nil {
		t.Fatalf("start archive: %v", err)
	}
	if err := preloaded.RegisterChunk(d1); err != nil {
		t.Fatalf("register chunk: %v", err)
	}
	if err := w.catalogSet.Append(preloaded); err != nil {
		t.Fatalf("append preloaded catalog: %v", err)
	}

	feed := SpawnChunkReader(context.Background(), store, [][blob.DigestSize]byte{d1})
	if err := w.AppendChunkArchive(context.Background(), uuid.New(), feed); err != nil {
		t.Fatalf("append chunk archive: %v", err)
	}
	if w.hasMedia {
		t.Fatal("expected no media to have been loaded since the only chunk was already known")
	}
}

func TestAppendSnapshotArchiveRegistersSnapshot(t *testing.T) {
	drvDir := t.TempDir()
	drv, err := virtual.Open(virtual.Config{Name: "vtape0", Path: drvDir})
	if err != nil {
		t.Fatalf("open virtual drive: %v", err)
	}
	defer drv.Close()

	w, _ := newTestWriter(t, drv, t.TempDir())
	defer w.Close()

	snapID := uuid.New()
	if err := w.AppendSnapshotArchive(context.Background(), snapID, "host/2026-07-31T00:00:00Z", []byte("pxar-body")); err != nil {
		t.Fatalf("append snapshot archive: %v", err)
	}
	if !w.catalogSet.ContainsSnapshot("host/2026-07-31T00:00:00Z") {
		t.Fatal("expected snapshot to be indexed")
	}
}

func TestEnsureMediaWritesSetLabelAndStartsPastFileOne(t *testing.T) {
	drvDir := t.TempDir()
	drv, err := virtual.Open(virtual.Config{Name: "vtape0", Path: drvDir})
	if err != nil {
		t.Fatalf("open virtual drive: %v", err)
	}
	defer drv.Close()

	w, _ := newTestWriter(t, drv, t.TempDir())
	defer w.Close()

	if err := w.ensureMedia(); err != nil {
		t.Fatalf("ensure media: %v", err)
	}
	if !w.hasMedia {
		t.Fatal("expected media to be loaded")
	}
	if w.nextFileNum < 2 {
		t.Fatalf("expected file numbering to start after file 1 (the set label), got %d", w.nextFileNum)
	}
}

func TestEnsureMediaIsNoOpWhenMediaAlreadyLoaded(t *testing.T) {
	drvDir := t.TempDir()
	drv, err := virtual.Open(virtual.Config{Name: "vtape0", Path: drvDir})
	if err != nil {
		t.Fatalf("open virtual drive: %v", err)
	}
	defer drv.Close()

	w, _ := newTestWriter(t, drv, t.TempDir())
	defer w.Close()

	if err := w.ensureMedia(); err != nil {
		t.Fatalf("first ensure media: %v", err)
	}
	loaded, fn := w.loadedMedia, w.nextFileNum

	if err := w.ensureMedia(); err != nil {
		t.Fatalf("second ensure media: %v", err)
	}
	if w.loadedMedia != loaded {
		t.Fatalf("expected the same media to stay loaded, got %s want %s", w.loadedMedia, loaded)
	}
	if w.nextFileNum != fn {
		t.Fatalf("expected ensureMedia to be a no-op once media is already loaded, got next file %d want %d", w.nextFileNum, fn)
	}
}

func TestEnsureMediaAppendsPreviousMediaCatalogOnNewTape(t *testing.T) {
	drvDir := t.TempDir()
	drv, err := virtual.Open(virtual.Config{Name: "vtape0", Path: drvDir})
	if err != nil {
		t.Fatalf("open virtual drive: %v", err)
	}
	defer drv.Close()

	p := pool.New(pool.Config{Name: "test", Allocation: pool.NeverNewSet})
	media1, media2 := uuid.New(), uuid.New()
	p.AddMedia(pool.MediaID{UUID: media1, LabelText: media1.String()})
	p.AddMedia(pool.MediaID{UUID: media2, LabelText: media2.String()})
	formatVolumeLabel(t, drv, media1.String())
	formatVolumeLabel(t, drv, media2.String())
	if _, _, err := p.StartWriteSession(time.Now()); err != nil {
		t.Fatalf("start write session: %v", err)
	}

	set := catalog.NewSet()
	catalogDir := t.TempDir()
	w := New(Config{
		Pool:       p,
		Drive:      drv,
		CatalogSet: set,
		NewCatalog: func(mediaID uuid.UUID) (*catalog.Catalog, error) {
			path := filepath.Join(catalogDir, mediaID.String()+".cat")
			if c, ok := set.Catalog(mediaID); ok {
				return c, nil
			}
			return catalog.Create(path, mediaID)
		},
	})
	defer w.Close()

	if err := w.ensureMedia(); err != nil {
		t.Fatalf("ensure media 1: %v", err)
	}
	if w.loadedMedia != media1 {
		t.Fatalf("expected media1 loaded first, got %s", w.loadedMedia)
	}

	var digest [blob.DigestSize]byte
	digest[0] = 0x09
	archiveID := uuid.New()
	if err := w.current.StartChunkArchive(w.nextFileNum, archiveID); err != nil {
		t.Fatalf("start archive on media1: %v", err)
	}
	if err := w.current.RegisterChunk(digest); err != nil {
		t.Fatalf("register chunk on media1: %v", err)
	}
	if err := w.current.EndChunkArchive(); err != nil {
		t.Fatalf("end archive on media1: %v", err)
	}

	if err := p.SetMediaStatusFull(media1); err != nil {
		t.Fatalf("mark media1 full: %v", err)
	}
	p.MarkWritten(media1, time.Now())

	if err := w.ensureMedia(); err != nil {
		t.Fatalf("ensure media 2: %v", err)
	}
	if w.loadedMedia != media2 {
		t.Fatalf("expected media2 loaded second, got %s", w.loadedMedia)
	}
	if w.nextFileNum != 3 {
		t.Fatalf("expected media1's catalog to occupy file 2 on media2, pushing writable content to file 3, got %d", w.nextFileNum)
	}
}
