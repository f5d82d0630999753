// Package virtual implements a directory-backed Drive test double. It
// stands in for a real SCSI tape changer during development and in
// tests: each "medium" is a tape-<label>.json index file in the drive
// directory, "files" on a tape are ordinary files beside it holding a
// sequence of length-prefixed blocks, and drive
// position is durable JSON so a restarted process resumes where it
// left off, the same way the real drive's position survives a power
// cycle.
package virtual

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tapevault/internal/proclock"
	"tapevault/internal/tape/drive"
)

const defaultMaxSize = 64 << 20

// Config describes one virtual drive's on-disk home.
type Config struct {
	Name    string
	Path    string
	MaxSize int64 // 0 means defaultMaxSize
}

type tapeStatus struct {
	Name string `json:"name"`
	Pos  int    `json:"pos"`
}

type driveStatus struct {
	CurrentTape *tapeStatus `json:"current_tape,omitempty"`
}

type tapeIndex struct {
	Files int `json:"files"`
}

// Drive is a Drive implementation backed by a directory tree. Exactly
// one process may hold it open at a time, enforced by an exclusive
// lock file.
type Drive struct {
	cfg    Config
	lock   *proclock.Locker
	guard  *proclock.Guard
	writer *fileWriter
	reader *fileReader
}

// Open acquires the drive directory's lock and returns a handle. The
// directory is created if it does not exist.
func Open(cfg Config) (*Drive, error) {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("virtual drive: %w", err)
	}
	lock, err := proclock.New(filepath.Join(cfg.Path, ".drive.lck"))
	if err != nil {
		return nil, fmt.Errorf("virtual drive: lock: %w", err)
	}
	guard, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("virtual drive %q is already open: %w", cfg.Name, err)
	}
	return &Drive{cfg: cfg, lock: lock, guard: guard}, nil
}

// Close releases the drive's exclusive lock. It does not eject media.
func (d *Drive) Close() error {
	d.closeOpenHandles()
	return d.guard.Unlock()
}

func (d *Drive) closeOpenHandles() {
	if d.writer != nil {
		d.writer.f.Close()
		d.writer = nil
	}
	if d.reader != nil {
		d.reader.f.Close()
		d.reader = nil
	}
}

func (d *Drive) statusPath() string { return filepath.Join(d.cfg.Path, "drive-status.json") }

func (d *Drive) indexPath(tape string) string {
	return filepath.Join(d.cfg.Path, fmt.Sprintf("tape-%s.json", tape))
}

func (d *Drive) filePath(tape string, pos int) string {
	return filepath.Join(d.cfg.Path, fmt.Sprintf("tapefile-%d-%s.bin", pos, tape))
}

func (d *Drive) loadStatus() (driveStatus, error) {
	raw, err := os.ReadFile(d.statusPath())
	if errors.Is(err, os.ErrNotExist) {
		return driveStatus{}, nil
	}
	if err != nil {
		return driveStatus{}, err
	}
	var st driveStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return driveStatus{}, err
	}
	return st, nil
}

func (d *Drive) storeStatus(st driveStatus) error {
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return replaceFile(d.statusPath(), raw)
}

func (d *Drive) loadIndex(tape string) (tapeIndex, error) {
	raw, err := os.ReadFile(d.indexPath(tape))
	if errors.Is(err, os.ErrNotExist) {
		return tapeIndex{}, nil
	}
	if err != nil {
		return tapeIndex{}, err
	}
	if len(raw) == 0 {
		return tapeIndex{}, nil
	}
	var idx tapeIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return tapeIndex{}, err
	}
	return idx, nil
}

func (d *Drive) storeIndex(tape string, idx tapeIndex) error {
	raw, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return replaceFile(d.indexPath(tape), raw)
}

func replaceFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (d *Drive) truncateTape(tape string, pos int) (int, error) {
	idx, err := d.loadIndex(tape)
	if err != nil {
		return 0, err
	}
	if idx.Files <= pos {
		return idx.Files, nil
	}
	for i := pos; i < idx.Files; i++ {
		os.Remove(d.filePath(tape, i))
	}
	idx.Files = pos
	if err := d.storeIndex(tape, idx); err != nil {
		return 0, err
	}
	return idx.Files, nil
}

var errNoTapeLoaded = fmt.Errorf("virtual drive: no tape loaded")

// LoadMediaFromSlot loads tape by ordinal position among online tapes,
// the numbering the real SCSI changer's element addresses use.
func (d *Drive) LoadMediaFromSlot(slot int) error {
	if slot < 1 {
		return fmt.Errorf("virtual drive: invalid slot %d", slot)
	}
	labels, err := d.OnlineMediaLabelTexts()
	if err != nil {
		return err
	}
	if slot > len(labels) {
		return fmt.Errorf("virtual drive: slot %d is empty", slot)
	}
	return d.Load(labels[slot-1])
}

// Load mounts the named tape, creating it (empty) if it does not
// already exist on disk.
func (d *Drive) Load(labelText string) error {
	d.closeOpenHandles()
	if _, err := os.Stat(d.indexPath(labelText)); errors.Is(err, os.ErrNotExist) {
		if err := d.storeIndex(labelText, tapeIndex{Files: 0}); err != nil {
			return err
		}
	}
	return d.storeStatus(driveStatus{CurrentTape: &tapeStatus{Name: labelText, Pos: 0}})
}

// Eject unmounts the current tape.
func (d *Drive) Eject() error {
	d.closeOpenHandles()
	return d.storeStatus(driveStatus{})
}

// OnlineMediaLabelTexts lists every tape known to this drive's
// directory, standing in for the changer's slot inventory.
func (d *Drive) OnlineMediaLabelTexts() ([]string, error) {
	entries, err := os.ReadDir(d.cfg.Path)
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		stem := strings.TrimSuffix(name, ".json")
		if label, ok := strings.CutPrefix(stem, "tape-"); ok {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return labels, nil
}

// Rewind moves the head back to the first file on the loaded tape.
func (d *Drive) Rewind() error {
	st, err := d.loadStatus()
	if err != nil {
		return err
	}
	if st.CurrentTape == nil {
		return errNoTapeLoaded
	}
	st.CurrentTape.Pos = 0
	return d.storeStatus(st)
}

// CurrentFileNumber reports the tape file the head currently sits at.
func (d *Drive) CurrentFileNumber() (uint64, error) {
	st, err := d.loadStatus()
	if err != nil {
		return 0, err
	}
	if st.CurrentTape == nil {
		return 0, errNoTapeLoaded
	}
	return uint64(st.CurrentTape.Pos), nil
}

// Position reports the current logical file number; no sub-file block
// offset is tracked once a file is closed, matching the real drive's
// filemark-granular positioning.
func (d *Drive) Position() (drive.Position, error) {
	fn, err := d.CurrentFileNumber()
	if err != nil {
		return drive.Position{}, err
	}
	return drive.Position{LogicalFileID: fn}, nil
}

// MoveToEOM positions past the last recorded file on the tape.
func (d *Drive) MoveToEOM(writeMissingEOF bool) error {
	_ = writeMissingEOF
	st, err := d.loadStatus()
	if err != nil {
		return err
	}
	if st.CurrentTape == nil {
		return errNoTapeLoaded
	}
	idx, err := d.loadIndex(st.CurrentTape.Name)
	if err != nil {
		return err
	}
	st.CurrentTape.Pos = idx.Files
	return d.storeStatus(st)
}

// MoveToLastFile positions at the final written file, one filemark
// back from EOM.
func (d *Drive) MoveToLastFile() error {
	if err := d.MoveToEOM(false); err != nil {
		return err
	}
	fn, err := d.CurrentFileNumber()
	if err != nil {
		return err
	}
	if fn == 0 {
		return fmt.Errorf("virtual drive: media contains no data")
	}
	return d.SpaceFilemarks(-1)
}

func (d *Drive) moveToFileAbs(file uint64) error {
	st, err := d.loadStatus()
	if err != nil {
		return err
	}
	if st.CurrentTape == nil {
		return errNoTapeLoaded
	}
	idx, err := d.loadIndex(st.CurrentTape.Name)
	if err != nil {
		return err
	}
	if int(file) > idx.Files {
		return fmt.Errorf("virtual drive: invalid file number %d", file)
	}
	st.CurrentTape.Pos = int(file)
	return d.storeStatus(st)
}

// MoveToFile positions directly at an absolute file number.
func (d *Drive) MoveToFile(file uint64) error { return d.moveToFileAbs(file) }

// SpaceFilemarks moves the head forward (n > 0) or backward (n < 0) by
// n file boundaries. Unlike a real LTO drive, this drive always
// positions with the EOT-relative semantics the original test double
// uses: spacing backward past BOT or forward past the last recorded
// file is an error and leaves the position unchanged.
func (d *Drive) SpaceFilemarks(n int) error {
	if n == 0 {
		return nil
	}
	if n > 0 {
		return d.forwardSpaceCountFiles(n)
	}
	return d.backwardSpaceCountFiles(-n)
}

func (d *Drive) forwardSpaceCountFiles(count int) error {
	st, err := d.loadStatus()
	if err != nil {
		return err
	}
	if st.CurrentTape == nil {
		return errNoTapeLoaded
	}
	idx, err := d.loadIndex(st.CurrentTape.Name)
	if err != nil {
		return err
	}
	newPos := st.CurrentTape.Pos + count
	if newPos > idx.Files {
		return fmt.Errorf("virtual drive: forward space beyond EOT")
	}
	st.CurrentTape.Pos = newPos
	return d.storeStatus(st)
}

func (d *Drive) backwardSpaceCountFiles(count int) error {
	st, err := d.loadStatus()
	if err != nil {
		return err
	}
	if st.CurrentTape == nil {
		return errNoTapeLoaded
	}
	if count > st.CurrentTape.Pos {
		return fmt.Errorf("virtual drive: backward space before BOT")
	}
	st.CurrentTape.Pos -= count
	return d.storeStatus(st)
}

// SpaceBlocks is not meaningful once a filemark closes a file on this
// test double; files are read/written whole.
func (d *Drive) SpaceBlocks(n int) error {
	return fmt.Errorf("virtual drive: block-level spacing is not supported")
}

// EraseMedia truncates the loaded tape to empty.
func (d *Drive) EraseMedia(fast bool) error {
	_ = fast
	st, err := d.loadStatus()
	if err != nil {
		return err
	}
	if st.CurrentTape == nil {
		return errNoTapeLoaded
	}
	pos, err := d.truncateTape(st.CurrentTape.Name, 0)
	if err != nil {
		return err
	}
	st.CurrentTape.Pos = pos
	return d.storeStatus(st)
}

// FormatMedia behaves identically to EraseMedia on this test double.
func (d *Drive) FormatMedia(fast bool) error { return d.EraseMedia(fast) }

// WriteMediaSetLabel truncates the tape to just its label file (file
// 0) and writes body as file 1, the media-set label archive.
func (d *Drive) WriteMediaSetLabel(body []byte) error {
	st, err := d.loadStatus()
	if err != nil {
		return err
	}
	if st.CurrentTape == nil {
		return errNoTapeLoaded
	}
	pos, err := d.truncateTape(st.CurrentTape.Name, 1)
	if err != nil {
		return err
	}
	st.CurrentTape.Pos = pos
	if err := d.storeStatus(st); err != nil {
		return err
	}
	if pos == 0 {
		return fmt.Errorf("virtual drive: media is empty (no label)")
	}
	if pos != 1 {
		return fmt.Errorf("virtual drive: truncate failed, got position %d", pos)
	}
	w, err := d.openWriteFile()
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.f.Write(hdr[:]); err != nil {
		w.Close()
		return err
	}
	if _, err := w.Write(body); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// WriteFilemarks closes the currently open tape file, if any; for n > 1
// it also writes n-1 empty tape files after it. On this test double
// each WriteBlock call belongs to exactly one open file, which
// WriteBlock opens on demand. immediate is accepted for interface parity and ignored:
// writes are always synchronous to the backing filesystem.
func (d *Drive) WriteFilemarks(n int, immediate bool) error {
	_ = immediate
	if n <= 0 {
		return nil
	}
	if d.writer != nil {
		if err := d.writer.f.Close(); err != nil {
			return err
		}
		d.writer = nil
	}
	for i := 1; i < n; i++ {
		w, err := d.openWriteFile()
		if err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}

type fileWriter struct {
	f         *os.File
	freeSpace int64
}

func (w *fileWriter) Close() error { return w.f.Close() }

func (w *fileWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > w.freeSpace {
		w.freeSpace = 0
		return w.f.Write(p)
	}
	n, err := w.f.Write(p)
	w.freeSpace -= int64(n)
	return n, err
}

// openWriteFile opens the next tape file for writing, truncating away
// any files that previously existed beyond the current position (a
// rewritten tail, as on a real tape after repositioning and writing).
func (d *Drive) openWriteFile() (*fileWriter, error) {
	st, err := d.loadStatus()
	if err != nil {
		return nil, err
	}
	if st.CurrentTape == nil {
		return nil, errNoTapeLoaded
	}
	idx, err := d.loadIndex(st.CurrentTape.Name)
	if err != nil {
		return nil, err
	}
	for i := st.CurrentTape.Pos; i < idx.Files; i++ {
		os.Remove(d.filePath(st.CurrentTape.Name, i))
	}
	var used int64
	for i := 0; i < st.CurrentTape.Pos; i++ {
		if fi, err := os.Stat(d.filePath(st.CurrentTape.Name, i)); err == nil {
			used += fi.Size()
		}
	}
	idx.Files = st.CurrentTape.Pos + 1
	if err := d.storeIndex(st.CurrentTape.Name, idx); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(d.filePath(st.CurrentTape.Name, st.CurrentTape.Pos), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	st.CurrentTape.Pos = idx.Files
	if err := d.storeStatus(st); err != nil {
		f.Close()
		return nil, err
	}
	var free int64
	if used < d.cfg.MaxSize {
		free = d.cfg.MaxSize - used
	}
	return &fileWriter{f: f, freeSpace: free}, nil
}

// WriteBlock appends one length-prefixed block to the currently open
// tape file, opening a fresh file first if none is open. reachedLEOM
// is true once the remaining capacity of the simulated medium drops to
// zero.
func (d *Drive) WriteBlock(buf []byte) (bool, error) {
	if d.writer == nil {
		w, err := d.openWriteFile()
		if err != nil {
			return false, err
		}
		d.writer = w
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(buf)))
	if _, err := d.writer.f.Write(hdr[:]); err != nil {
		return false, err
	}
	if _, err := d.writer.Write(buf); err != nil {
		return false, err
	}
	return d.writer.freeSpace <= 0, nil
}

type fileReader struct {
	f *os.File
}

// ReadNextFile opens the next tape file for reading, advancing the
// drive position past it, or returns drive.EndOfStream once the head
// is past the last recorded file.
func (d *Drive) ReadNextFile() error {
	st, err := d.loadStatus()
	if err != nil {
		return err
	}
	if st.CurrentTape == nil {
		return errNoTapeLoaded
	}
	idx, err := d.loadIndex(st.CurrentTape.Name)
	if err != nil {
		return err
	}
	if st.CurrentTape.Pos >= idx.Files {
		return drive.EndOfStream
	}
	f, err := os.Open(d.filePath(st.CurrentTape.Name, st.CurrentTape.Pos))
	if err != nil {
		return err
	}
	st.CurrentTape.Pos++
	if err := d.storeStatus(st); err != nil {
		f.Close()
		return err
	}
	d.reader = &fileReader{f: f}
	return nil
}

// ReadBlock reads the next length-prefixed block from the currently
// open tape file, first opening the next file via ReadNextFile if none
// is open. It returns drive.EndOfFile once that file is exhausted (the
// filemark) and drive.EndOfStream when the head is past the last file.
func (d *Drive) ReadBlock(buf []byte) (int, error) {
	if d.reader == nil {
		if err := d.ReadNextFile(); err != nil {
			return 0, err
		}
	}
	var hdr [4]byte
	if _, err := io.ReadFull(d.reader.f, hdr[:]); err != nil {
		d.reader.f.Close()
		d.reader = nil
		if errors.Is(err, io.EOF) {
			return 0, drive.EndOfFile
		}
		return 0, err
	}
	n := int(binary.LittleEndian.Uint32(hdr[:]))
	if n > len(buf) {
		return 0, fmt.Errorf("virtual drive: block of %d bytes exceeds buffer of %d", n, len(buf))
	}
	if _, err := io.ReadFull(d.reader.f, buf[:n]); err != nil {
		return 0, err
	}
	return n, nil
}

// SetDriveOptions is a no-op: the test double has no compression,
// block-length, or buffering mode to configure.
func (d *Drive) SetDriveOptions(opts drive.Options) error { return nil }

// SetEncryption is unimplemented: a nil key (disable) always succeeds;
// a non-nil key is rejected, matching the original test double which
// refuses to simulate hardware encryption.
func (d *Drive) SetEncryption(key []byte) error {
	if key != nil {
		return fmt.Errorf("virtual drive: encryption is not implemented")
	}
	return nil
}

// TapeAlertFlags always reports a clean drive.
func (d *Drive) TapeAlertFlags() (drive.TapeAlertFlag, error) { return 0, nil }

// CartridgeMemory returns a zero value; the test double tracks no MAM.
func (d *Drive) CartridgeMemory() (drive.CartridgeMemory, error) {
	return drive.CartridgeMemory{}, nil
}

// VolumeStatistics returns a zero value; the test double tracks no
// cumulative usage counters.
func (d *Drive) VolumeStatistics() (drive.VolumeStatistics, error) {
	return drive.VolumeStatistics{}, nil
}

// ReadDriveStatus reports BOT when positioned at file 0 and otherwise
// reports neither BOT nor EOT, since the simulated medium has no fixed
// physical length.
func (d *Drive) ReadDriveStatus() (drive.DriveStatus, error) {
	fn, err := d.CurrentFileNumber()
	if err != nil {
		return drive.DriveStatus{}, err
	}
	return drive.DriveStatus{BOT: fn == 0}, nil
}

var _ drive.Drive = (*Drive)(nil)
