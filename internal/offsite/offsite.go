// Package offsite mirrors committed media catalogs to object storage, as
// an optional disaster-recovery layer beyond the tape library itself:
// never chunk data, never tape payload — only the small append-only
// catalog logs that say which digest lives in which tape file.
//
// Backend is implemented by the s3, azblob, and gcs subpackages; Mirror
// drives any Backend the same way, so swapping object storage providers
// never touches call sites.
package offsite

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	seekable "github.com/SaveTheRbtz/zstd-seekable-format-go/pkg"
	"github.com/klauspost/compress/zstd"

	"tapevault/internal/logging"
)

// catalogFrameSize is the uncompressed frame size used when sealing a
// catalog with seekable zstd before upload. Mirrored catalogs are small
// compared to chunk data, but the seekable format still lets a restore
// fetch a byte range (e.g. to confirm a mirrored copy matches a local
// one) without decompressing the whole object.
const catalogFrameSize = 256 << 10 // 256 KB

var zstdDec *zstd.Decoder

func init() {
	var err error
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("offsite: init zstd decoder: " + err.Error())
	}
}

// Backend uploads and fetches catalog blobs keyed by an opaque object
// key. Implementations must be safe for concurrent use.
type Backend interface {
	// Put uploads body under key, overwriting any existing object.
	Put(ctx context.Context, key string, body []byte) error
	// Get downloads the object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// Mirror pushes committed catalog files to a Backend under a stable key
// derived from the media UUID.
type Mirror struct {
	backend Backend
	prefix  string
	logger  *slog.Logger
}

// Config holds Mirror construction parameters.
type Config struct {
	Backend Backend
	// Prefix is prepended to every object key, e.g. "catalogs/" so a
	// bucket can be shared with other mirrored artifacts.
	Prefix string
	Logger *slog.Logger
}

// New creates a Mirror over cfg.Backend.
func New(cfg Config) *Mirror {
	return &Mirror{
		backend: cfg.Backend,
		prefix:  cfg.Prefix,
		logger:  logging.Default(cfg.Logger).With("component", "offsite"),
	}
}

// Key returns the object key a catalog for mediaID is stored under.
func (m *Mirror) Key(mediaID string) string {
	return m.prefix + mediaID + ".catalog"
}

// MirrorFile reads the catalog file at path and uploads it under mediaID's
// key, replacing any prior mirrored copy. Intended to run after every
// Catalog.Commit, using Catalog.Path as the source.
func (m *Mirror) MirrorFile(ctx context.Context, mediaID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("offsite: read %s: %w", path, err)
	}
	sealed, err := sealCatalog(data)
	if err != nil {
		return fmt.Errorf("offsite: seal %s: %w", path, err)
	}
	key := m.Key(mediaID)
	if err := m.backend.Put(ctx, key, sealed); err != nil {
		return fmt.Errorf("offsite: put %s: %w", key, err)
	}
	m.logger.Info("mirrored catalog", "media_id", mediaID, "key", key, "bytes", len(data), "sealed_bytes", len(sealed))
	return nil
}

// Restore fetches mediaID's mirrored catalog and writes it to path,
// for recovering a catalog that was lost locally (e.g. after a drive
// tray swap with no local catalog directory).
func (m *Mirror) Restore(ctx context.Context, mediaID, path string) error {
	key := m.Key(mediaID)
	sealed, err := m.backend.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("offsite: get %s: %w", key, err)
	}
	data, err := unsealCatalog(sealed)
	if err != nil {
		return fmt.Errorf("offsite: unseal %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("offsite: write %s: %w", path, err)
	}
	m.logger.Info("restored catalog", "media_id", mediaID, "key", key, "bytes", len(data))
	return nil
}

// sealCatalog compresses data as a seekable zstd stream: one independent
// frame per catalogFrameSize, plus a trailing seek table.
func sealCatalog(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	var buf bytes.Buffer
	sw, err := seekable.NewWriter(&buf, enc)
	if err != nil {
		return nil, err
	}
	for off := 0; off < len(data); off += catalogFrameSize {
		end := min(off+catalogFrameSize, len(data))
		if _, err := sw.Write(data[off:end]); err != nil {
			sw.Close()
			return nil, err
		}
	}
	if err := sw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unsealCatalog reverses sealCatalog.
func unsealCatalog(sealed []byte) ([]byte, error) {
	r, err := seekable.NewReader(bytes.NewReader(sealed), zstdDec)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// memoryBackend is an in-process Backend used by tests and by callers
// that want the Mirror plumbing without configuring real object storage.
type memoryBackend struct {
	objects map[string][]byte
}

// NewMemoryBackend returns a Backend that stores objects in memory.
func NewMemoryBackend() Backend {
	return &memoryBackend{objects: make(map[string][]byte)}
}

func (b *memoryBackend) Put(ctx context.Context, key string, body []byte) error {
	cp := make([]byte, len(body))
	copy(cp, body)
	b.objects[key] = cp
	return nil
}

func (b *memoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("offsite: no object for key %q", key)
	}
	return bytes.Clone(data), nil
}
