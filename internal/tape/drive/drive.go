// Package drive defines the block-level tape drive abstraction shared
// by a real SCSI backend and the directory-backed Virtual Tape test
// double (see internal/tape/drive/virtual).
package drive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Position describes where the drive head currently sits.
type Position struct {
	Partition     int
	LogicalObject uint64
	LogicalFileID uint64
}

// BlockReadError distinguishes the two non-fatal outcomes of ReadBlock
// from a genuine I/O failure.
type BlockReadError int

const (
	// BlockReadOK is not a real error value; ReadBlock returns nil in
	// this case. Listed for documentation only.
	_ BlockReadError = iota
	// EndOfFile means a filemark was read: the current file ended.
	EndOfFile
	// EndOfStream means end-of-data was reached: no more files follow.
	EndOfStream
)

func (e BlockReadError) Error() string {
	switch e {
	case EndOfFile:
		return "drive: end of file (filemark)"
	case EndOfStream:
		return "drive: end of data"
	default:
		return "drive: unknown block read condition"
	}
}

// SenseKey classifies a SCSI command failure.
type SenseKey int

const (
	NoSense SenseKey = iota
	RecoveredError
	NotReady
	UnitAttention
	MediumError
	HardwareError
	IllegalRequest
	DataProtect
	BlankCheck
	Aborted
	VolumeOverflow
)

// SenseError carries a decoded SCSI sense triple.
type SenseError struct {
	Key  SenseKey
	ASC  byte
	ASCQ byte
	Text string
}

func (e *SenseError) Error() string {
	return fmt.Sprintf("drive: sense %v asc=0x%02x ascq=0x%02x: %s", e.Key, e.ASC, e.ASCQ, e.Text)
}

// Retryable reports whether the retry policy in §4.F covers this sense
// key: NO_SENSE, RECOVERED_ERROR, UNIT_ATTENTION, and NOT_READY (which
// gets an extended window for "becoming ready").
func (e *SenseError) Retryable() bool {
	switch e.Key {
	case NoSense, RecoveredError, UnitAttention, NotReady:
		return true
	default:
		return false
	}
}

const (
	retryBackoff       = time.Second
	notReadyMaxWindow  = 5 * time.Minute
	defaultMaxWindow   = 5 * time.Minute
)

// WithRetry runs op, retrying on a *SenseError that Retryable() accepts.
// NOT_READY gets an extended 5-minute total retry window; other
// retryable keys share the same window. Non-retryable sense errors and
// any other error are returned immediately. Retries are paced by a
// token-bucket limiter rather than a bare sleep, so a caller that wraps
// WithRetry around many drives shares a predictable command rate
// instead of bursting SCSI commands in lockstep after each backoff.
func WithRetry(op func() error) error {
	start := time.Now()
	limiter := rate.NewLimiter(rate.Every(retryBackoff), 1)
	ctx := context.Background()
	for {
		err := op()
		if err == nil {
			return nil
		}
		var se *SenseError
		if !errorsAs(err, &se) || !se.Retryable() {
			return err
		}
		window := defaultMaxWindow
		if se.Key == NotReady {
			window = notReadyMaxWindow
		}
		if time.Since(start) >= window {
			return err
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
}

func errorsAs(err error, target **SenseError) bool {
	return errors.As(err, target)
}

// TapeAlertFlag is one bit of the drive/library's standardized status.
type TapeAlertFlag uint64

// Critical tape alert flags: presence of any of these means the media
// or drive should not be trusted for further writes.
const (
	AlertReadWriteFailure TapeAlertFlag = 1 << iota
	AlertMediaFailure
	AlertCleanNow
	AlertHardwareFailure
)

// CriticalAlerts is the set of flags the pool writer treats as fatal.
const CriticalAlerts = AlertReadWriteFailure | AlertMediaFailure | AlertHardwareFailure

// Intersects reports whether flags contains any bit in mask.
func (f TapeAlertFlag) Intersects(mask TapeAlertFlag) bool { return f&mask != 0 }

// CartridgeMemory mirrors a subset of MAM (Medium Auxiliary Memory)
// attributes readers care about.
type CartridgeMemory struct {
	MediaManufactureDate time.Time
	MediaSerialNumber    string
	TotalMBWritten       uint64
	TotalMBRead          uint64
}

// VolumeStatistics mirrors the drive's cumulative volume stats log.
type VolumeStatistics struct {
	MountCount  uint64
	WriteCount  uint64
	ReadCount   uint64
}

// DriveStatus summarizes read_drive_status().
type DriveStatus struct {
	BOT          bool // at beginning of tape
	EOT          bool // at (physical) end of tape
	WriteProtect bool
}

// Options configures compression/block-length/buffering on the drive.
type Options struct {
	Compression *bool
	BlockLength *uint32
	BufferMode  *bool
}

// Drive is the block-level tape drive abstraction. All operations are
// synchronous and block the calling goroutine; callers needing
// cancellation should run them on their own goroutine and select on a
// context.
type Drive interface {
	Rewind() error
	Eject() error
	Load(labelText string) error
	EraseMedia(fast bool) error
	FormatMedia(fast bool) error
	WriteFilemarks(n int, immediate bool) error
	SpaceFilemarks(n int) error // n may be negative to space backward
	SpaceBlocks(n int) error
	MoveToEOM(writeMissingEOF bool) error
	Position() (Position, error)
	CurrentFileNumber() (uint64, error)

	// WriteBlock writes buf as the next block. reachedLEOM is true when
	// the drive reports logical end-of-media early-warning; buf is
	// still written in that case.
	WriteBlock(buf []byte) (reachedLEOM bool, err error)
	// ReadBlock reads the next block into buf, returning the number of
	// bytes read. Returns EndOfFile or EndOfStream (wrapped, check with
	// errors.Is) instead of io.EOF so callers can distinguish a filemark
	// from end-of-data.
	ReadBlock(buf []byte) (int, error)

	SetDriveOptions(opts Options) error
	SetEncryption(key []byte) error // nil disables encryption

	TapeAlertFlags() (TapeAlertFlag, error)
	CartridgeMemory() (CartridgeMemory, error)
	VolumeStatistics() (VolumeStatistics, error)
	ReadDriveStatus() (DriveStatus, error)
}
