// Package writer implements the Pool Writer: the orchestration layer
// that drives a loaded drive through a sequence of chunk, snapshot, and
// catalog archives, rotating to fresh media whenever the current tape
// reports LEOM (logical end of media).
//
// Invariants carried over from the archive format this writer produces:
//   - a chunk already present anywhere in the active media-set's catalog
//     is never written again (catalogSet.ContainsChunk gates every chunk)
//   - a chunk archive may span multiple media (LEOM just starts a new
//     archive file with the same archive id on the next tape); a
//     snapshot or catalog archive never does — it is written as one
//     block in one tape file, and LEOM reported by that write only rolls
//     the media afterwards; a failed write is returned as an error and
//     the archive is not retried on fresh media
//   - every successfully written chunk is registered in the open
//     catalog before the writer asks for more input, so a crash mid
//     archive never loses a chunk's index entry
package writer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"tapevault/internal/blob"
	"tapevault/internal/catalog"
	"tapevault/internal/chunkstore"
	"tapevault/internal/logging"
	"tapevault/internal/tape/drive"
	"tapevault/internal/tape/pool"
)

// ChunkItem is one chunk pulled off a ChunkFeed: its digest and encoded
// blob, ready to be appended verbatim to a chunk archive.
type ChunkItem struct {
	Digest [blob.DigestSize]byte
	Blob   *blob.DataBlob
}

// ChunkFeed delivers chunks to AppendChunkArchive from a background
// reader goroutine, buffered so disk reads overlap with tape writes.
// It supports a single-item PushBack so a chunk pulled but not yet
// written (because the archive had to roll to fresh media first) can
// be replayed as the first item of the next archive.
type ChunkFeed struct {
	ch      <-chan chunkOrErr
	pending *ChunkItem
}

type chunkOrErr struct {
	item ChunkItem
	err  error
}

// SpawnChunkReader starts a background goroutine reading digests out of
// store in order and returns a feed of their decoded blobs. The
// goroutine exits, closing the feed, once ctx is done or digests is
// exhausted.
func SpawnChunkReader(ctx context.Context, store *chunkstore.Store, digests [][blob.DigestSize]byte) *ChunkFeed {
	out := make(chan chunkOrErr, 32)
	go func() {
		defer close(out)
		for _, d := range digests {
			b, err := store.Get(d)
			item := chunkOrErr{err: err}
			if err == nil {
				item.item = ChunkItem{Digest: d, Blob: b}
			}
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return &ChunkFeed{ch: out}
}

// Next returns the next chunk, draining any pushed-back item first.
// ok is false once the feed is exhausted with no error.
func (f *ChunkFeed) Next(ctx context.Context) (ChunkItem, bool, error) {
	if f.pending != nil {
		item := *f.pending
		f.pending = nil
		return item, true, nil
	}
	select {
	case v, open := <-f.ch:
		if !open {
			return ChunkItem{}, false, nil
		}
		return v.item, true, v.err
	case <-ctx.Done():
		return ChunkItem{}, false, ctx.Err()
	}
}

// PushBack replays item as the next value Next returns.
func (f *ChunkFeed) PushBack(item ChunkItem) { f.pending = &item }

// maxArchiveBytes bounds a single chunk archive file before the writer
// closes it and opens a fresh one on the same tape, so no archive
// grows large enough to make a partial restore read expensive.
const maxArchiveBytes = 4 << 30

// Writer drives one tape drive through a sequence of archives, rotating
// media via pool whenever the loaded tape reports LEOM.
type Writer struct {
	pool       *pool.Pool
	drv        drive.Drive
	catalogSet *catalog.Set
	newCatalog func(mediaID uuid.UUID) (*catalog.Catalog, error)
	logger     *slog.Logger
	now        func() time.Time

	loadedMedia  uuid.UUID
	hasMedia     bool
	current      *catalog.Catalog
	nextFileNum  uint64
	archiveBytes int64
}

// Config wires a Writer's dependencies.
type Config struct {
	Pool       *pool.Pool
	Drive      drive.Drive
	CatalogSet *catalog.Set
	// NewCatalog opens or creates the on-disk catalog for mediaID.
	NewCatalog func(mediaID uuid.UUID) (*catalog.Catalog, error)
	Logger     *slog.Logger
	// Now overrides the wall clock the writer uses to mark media
	// written-at timestamps; tests inject a fixed or stepped clock here.
	Now func() time.Time
}

// New creates a Writer. The drive must already be open; media are
// loaded on demand as archives are appended.
func New(cfg Config) *Writer {
	logger := logging.Default(cfg.Logger).With("component", "tape-writer")
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Writer{
		pool:       cfg.Pool,
		drv:        cfg.Drive,
		catalogSet: cfg.CatalogSet,
		newCatalog: cfg.NewCatalog,
		logger:     logger,
		now:        now,
	}
}

// rollMedia finalizes the archive open on the current tape (if any),
// marks it full, and clears loaded state so the next ensureMedia call
// allocates fresh media.
func (w *Writer) rollMedia() error {
	if w.current != nil && w.current.ArchiveOpen() {
		if err := w.current.EndChunkArchive(); err != nil {
			return err
		}
	}
	if err := w.drv.WriteFilemarks(1, false); err != nil {
		return fmt.Errorf("writer: close archive file: %w", err)
	}
	if w.current != nil {
		if err := w.current.Commit(); err != nil {
			return err
		}
	}
	if w.hasMedia {
		if err := w.pool.SetMediaStatusFull(w.loadedMedia); err != nil {
			return err
		}
		w.pool.MarkWritten(w.loadedMedia, w.now())
	}
	w.hasMedia = false
	w.current = nil
	return nil
}

// AppendChunkArchive writes every chunk from feed not already present
// in the catalog set into one (or, rolling across LEOM, several) chunk
// archive files tagged with archiveID. Chunks already known to the
// media set are skipped without being read from the feed's store
// twice. A chunk whose WriteBlock call fails is not replayed on fresh
// media: the error is returned.
func (w *Writer) AppendChunkArchive(ctx context.Context, archiveID uuid.UUID, feed *ChunkFeed) error {
	opened := false
	closeArchive := func() error {
		if err := w.current.EndChunkArchive(); err != nil {
			return err
		}
		if err := w.drv.WriteFilemarks(1, false); err != nil {
			return fmt.Errorf("writer: close archive file: %w", err)
		}
		w.nextFileNum++
		w.archiveBytes = 0
		opened = false
		return w.current.Commit()
	}

	for {
		item, ok, err := feed.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if w.catalogSet.ContainsChunk(item.Digest) {
			continue
		}
		if err := w.ensureMedia(); err != nil {
			return err
		}
		if !opened {
			if err := w.current.StartChunkArchive(w.nextFileNum, archiveID); err != nil {
				return err
			}
			opened = true
		}
		record := encodeChunk(item)
		leom, err := w.drv.WriteBlock(record)
		if err != nil {
			return fmt.Errorf("writer: write chunk %x: %w", item.Digest, err)
		}
		if err := w.current.RegisterChunk(item.Digest); err != nil {
			return err
		}
		w.archiveBytes += int64(len(record))
		switch {
		case leom:
			w.logger.Info("LEOM reached, rolling media mid chunk archive", "media", w.loadedMedia)
			if err := w.rollMedia(); err != nil {
				return err
			}
			opened = false
		case w.archiveBytes >= maxArchiveBytes:
			w.logger.Info("chunk archive reached its size limit, starting a new one", "media", w.loadedMedia)
			if err := closeArchive(); err != nil {
				return err
			}
		}
	}
	if opened {
		if err := closeArchive(); err != nil {
			return err
		}
	}
	return nil
}

// AppendSnapshotArchive writes a whole snapshot archive body as a
// single tape file. Snapshot archives are never split: if the current
// media reports LEOM after the write, the media is rolled but the
// archive itself has already landed intact on the tape that accepted
// it.
func (w *Writer) AppendSnapshotArchive(ctx context.Context, snapshotID uuid.UUID, snapshot string, body []byte) error {
	if err := w.ensureMedia(); err != nil {
		return err
	}
	fileNum := w.nextFileNum
	leom, err := w.drv.WriteBlock(body)
	if err != nil {
		return fmt.Errorf("writer: write snapshot archive: %w", err)
	}
	if err := w.current.RegisterSnapshot(fileNum, snapshotID, snapshot); err != nil {
		return err
	}
	if err := w.drv.WriteFilemarks(1, false); err != nil {
		return fmt.Errorf("writer: close archive file: %w", err)
	}
	w.nextFileNum++
	if err := w.current.Commit(); err != nil {
		return err
	}
	if leom {
		w.logger.Info("LEOM reached after snapshot archive, rolling media", "media", w.loadedMedia)
		return w.rollMedia()
	}
	return nil
}

// AppendCatalogArchive writes the serialized per-media catalog log
// itself to tape as a trailing archive, so a lost catalog database can
// be rebuilt by reading the tape alone.
func (w *Writer) AppendCatalogArchive(ctx context.Context, body []byte) error {
	if err := w.ensureMedia(); err != nil {
		return err
	}
	leom, err := w.drv.WriteBlock(body)
	if err != nil {
		return fmt.Errorf("writer: write catalog archive: %w", err)
	}
	if err := w.drv.WriteFilemarks(1, false); err != nil {
		return fmt.Errorf("writer: close archive file: %w", err)
	}
	w.nextFileNum++
	if leom {
		w.logger.Info("LEOM reached after catalog archive, rolling media", "media", w.loadedMedia)
		return w.rollMedia()
	}
	return nil
}

// maxSetLabelRecordSize bounds the encoded media-set label record read
// back from file 1; large enough for any uuid and a key fingerprint.
const maxSetLabelRecordSize = 4096

// setLabelRecord is the media-set label written to file 1 of every tape
// in a set, so a drive that later loads the tape cold can recover which
// set (and, for an encrypted set, which key) it belongs to without
// consulting the pool database. Mirrors the role of pbs's
// MediaSetLabel/update_media_set_label.
type setLabelRecord struct {
	SetUUID               uuid.UUID
	SeqNr                 int
	EncryptionFingerprint string
}

func encodeSetLabel(r setLabelRecord) []byte {
	fp := []byte(r.EncryptionFingerprint)
	buf := make([]byte, 16+4+2+len(fp))
	copy(buf[:16], r.SetUUID[:])
	binary.LittleEndian.PutUint32(buf[16:20], uint32(r.SeqNr))
	binary.LittleEndian.PutUint16(buf[20:22], uint16(len(fp)))
	copy(buf[22:], fp)
	return buf
}

func decodeSetLabel(buf []byte) (setLabelRecord, error) {
	if len(buf) < 22 {
		return setLabelRecord{}, fmt.Errorf("writer: media-set label record too short")
	}
	var id uuid.UUID
	copy(id[:], buf[:16])
	seqNr := binary.LittleEndian.Uint32(buf[16:20])
	fpLen := int(binary.LittleEndian.Uint16(buf[20:22]))
	if len(buf) < 22+fpLen {
		return setLabelRecord{}, fmt.Errorf("writer: media-set label record truncated")
	}
	return setLabelRecord{
		SetUUID:               id,
		SeqNr:                 int(seqNr),
		EncryptionFingerprint: string(buf[22 : 22+fpLen]),
	}, nil
}

// ensureMedia loads writable media using the writer's clock (Config.Now,
// or time.Now when unset), the path every exported Append* method uses. It implements load_writable_media:
// allocate from the pool, load the tape only if it differs from what is
// already mounted, compare the on-tape media-set label against the
// allocated media's set membership (rewriting it, and starting the
// media's catalog fresh, if the tape is unlabelled or belongs to a
// different set), and append every earlier media's catalog onto a
// freshly-labelled tape before handing out file numbers for new content.
func (w *Writer) ensureMedia() error {
	id, err := w.pool.AllocWritableMedia(w.now())
	if err != nil {
		return fmt.Errorf("writer: allocate media: %w", err)
	}

	mediaChanged := !w.hasMedia || id != w.loadedMedia
	if !mediaChanged {
		return nil
	}

	if w.hasMedia {
		if err := w.drv.Eject(); err != nil {
			return fmt.Errorf("writer: eject previous media %s: %w", w.loadedMedia, err)
		}
	}
	if err := w.drv.Load(id.String()); err != nil {
		return fmt.Errorf("writer: load media %s: %w", id, err)
	}

	media, err := w.pool.LookupMedia(id)
	if err != nil {
		return fmt.Errorf("writer: lookup media %s: %w", id, err)
	}
	if media.SetLabel == nil {
		return fmt.Errorf("writer: media %s has not been assigned to a media set", id)
	}

	wroteNewLabel, err := w.reconcileSetLabel(id, *media.SetLabel)
	if err != nil {
		return err
	}

	cat, err := w.newCatalog(id)
	if err != nil {
		return fmt.Errorf("writer: open catalog for %s: %w", id, err)
	}
	if wroteNewLabel {
		w.catalogSet.Remove(id)
		path := cat.Path()
		_ = cat.Close()
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("writer: drop stale catalog for %s: %w", id, err)
		}
		if cat, err = catalog.Create(path, id); err != nil {
			return fmt.Errorf("writer: create catalog for %s: %w", id, err)
		}
	}
	_ = w.catalogSet.Append(cat)

	fn, err := w.drv.CurrentFileNumber()
	if err != nil {
		return fmt.Errorf("writer: read current file number: %w", err)
	}
	if fn < 2 {
		return fmt.Errorf("writer: got strange file position %d from drive after loading %s, want >= 2", fn, id)
	}

	w.loadedMedia, w.hasMedia = id, true
	w.current = cat
	w.nextFileNum = fn
	w.logger.Info("loaded writable media", "media", id, "file", fn, "new_label", wroteNewLabel)

	if wroteNewLabel {
		if err := w.appendMediaSetCatalogs(*media.SetLabel); err != nil {
			return err
		}
	}
	return nil
}

// reconcileSetLabel reads the media-set label at file 1 of the just-
// loaded tape and compares it against want. If the tape is unlabelled,
// or its label names a different set, a new label is written (which
// truncates anything previously recorded at file 1 onward, including
// this tape's own catalog) and true is returned so the caller starts a
// fresh catalog and re-appends earlier media's catalogs. If the label
// already matches, the drive head is left at EOM and false is returned.
func (w *Writer) reconcileSetLabel(mediaID uuid.UUID, want pool.SetLabel) (bool, error) {
	if err := w.drv.Rewind(); err != nil {
		return false, fmt.Errorf("writer: rewind %s: %w", mediaID, err)
	}
	if err := w.drv.SpaceFilemarks(1); err != nil {
		return false, fmt.Errorf("writer: seek to media-set label on %s: %w", mediaID, err)
	}

	buf := make([]byte, maxSetLabelRecordSize)
	n, err := w.drv.ReadBlock(buf)
	switch {
	case err == nil:
		existing, derr := decodeSetLabel(buf[:n])
		if derr != nil {
			return false, fmt.Errorf("writer: decode media-set label on %s: %w", mediaID, derr)
		}
		if existing.SetUUID == want.UUID {
			if existing.SeqNr != want.SeqNr {
				return false, fmt.Errorf("writer: media %s has wrong sequence number in set %s (got %d, want %d)", mediaID, want.UUID, existing.SeqNr, want.SeqNr)
			}
			if existing.EncryptionFingerprint != want.EncryptionKeyFingerprint {
				return false, fmt.Errorf("writer: media %s has a changed encryption fingerprint for set %s", mediaID, want.UUID)
			}
			if err := w.drv.MoveToEOM(false); err != nil {
				return false, fmt.Errorf("writer: move to eom on %s: %w", mediaID, err)
			}
			return false, nil
		}
		w.logger.Info("overwriting media-set label, tape belonged to a different set", "media", mediaID, "old_set", existing.SetUUID, "new_set", want.UUID)
	case errors.Is(err, drive.EndOfStream), errors.Is(err, drive.EndOfFile):
		w.logger.Info("writing new media-set label", "media", mediaID, "set", want.UUID)
	default:
		return false, fmt.Errorf("writer: read media-set label on %s: %w", mediaID, err)
	}

	if err := w.drv.Rewind(); err != nil {
		return false, fmt.Errorf("writer: rewind %s: %w", mediaID, err)
	}
	if err := w.drv.SpaceFilemarks(1); err != nil {
		return false, fmt.Errorf("writer: seek to media-set label on %s: %w", mediaID, err)
	}
	body := encodeSetLabel(setLabelRecord{SetUUID: want.UUID, SeqNr: want.SeqNr, EncryptionFingerprint: want.EncryptionKeyFingerprint})
	if _, err := w.drv.WriteBlock(body); err != nil {
		return false, fmt.Errorf("writer: write media-set label on %s: %w", mediaID, err)
	}
	if err := w.drv.WriteFilemarks(1, false); err != nil {
		return false, fmt.Errorf("writer: close media-set label file on %s: %w", mediaID, err)
	}
	return true, nil
}

// appendMediaSetCatalogs writes the catalog of every earlier member of
// set (all but the tape just loaded) onto the tape as trailing archive
// files, so a tape pulled from the drive in isolation still lets a
// restore discover what the rest of its set holds.
func (w *Writer) appendMediaSetCatalogs(set pool.SetLabel) error {
	members, err := w.pool.CurrentMediaList()
	if err != nil {
		return fmt.Errorf("writer: list media set %s: %w", set.UUID, err)
	}
	if len(members) < 2 {
		return nil
	}
	for _, prevID := range members[:len(members)-1] {
		prev, ok := w.catalogSet.Catalog(prevID)
		if !ok {
			return fmt.Errorf("writer: missing in-memory catalog for earlier media %s in set %s", prevID, set.UUID)
		}
		if err := prev.Commit(); err != nil {
			return err
		}
		body, err := os.ReadFile(prev.Path())
		if err != nil {
			return fmt.Errorf("writer: read catalog for %s: %w", prevID, err)
		}
		if _, err := w.drv.WriteBlock(body); err != nil {
			return fmt.Errorf("writer: write catalog archive for %s: %w", prevID, err)
		}
		if err := w.drv.WriteFilemarks(1, false); err != nil {
			return fmt.Errorf("writer: close catalog archive file for %s: %w", prevID, err)
		}
		w.nextFileNum++
		w.logger.Info("wrote catalog for earlier media in set", "media", prevID, "set", set.UUID)
	}
	return nil
}

// Close finalizes any archive left open on the loaded tape and ejects
// it, returning the drive to an unloaded state.
func (w *Writer) Close() error {
	if w.hasMedia {
		if err := w.rollMedia(); err != nil {
			return err
		}
	}
	return w.drv.Eject()
}

func encodeChunk(item ChunkItem) []byte {
	raw := item.Blob.Bytes()
	out := make([]byte, blob.DigestSize+len(raw))
	copy(out, item.Digest[:])
	copy(out[blob.DigestSize:], raw)
	return out
}

