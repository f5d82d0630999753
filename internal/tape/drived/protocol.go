package drived

import "tapevault/internal/tape/drive"

// Op names the drive.Drive method a request invokes. There is one op per
// method on the interface except WriteBlock and ReadBlock, which are not
// carried over the socket.
type Op string

const (
	OpRewind           Op = "rewind"
	OpEject            Op = "eject"
	OpLoad             Op = "load"
	OpEraseMedia       Op = "erase_media"
	OpFormatMedia      Op = "format_media"
	OpWriteFilemarks   Op = "write_filemarks"
	OpSpaceFilemarks   Op = "space_filemarks"
	OpSpaceBlocks      Op = "space_blocks"
	OpMoveToEOM        Op = "move_to_eom"
	OpPosition         Op = "position"
	OpCurrentFileNum   Op = "current_file_number"
	OpSetDriveOptions  Op = "set_drive_options"
	OpSetEncryption    Op = "set_encryption"
	OpTapeAlertFlags   Op = "tape_alert_flags"
	OpCartridgeMemory  Op = "cartridge_memory"
	OpVolumeStatistics Op = "volume_statistics"
	OpReadDriveStatus  Op = "read_drive_status"
)

// Request is one control-socket call, JSON-encoded, newline-terminated.
type Request struct {
	Op Op `json:"op"`

	LabelText string `json:"label_text,omitempty"`
	Fast      bool   `json:"fast,omitempty"`
	N         int    `json:"n,omitempty"`
	Immediate bool   `json:"immediate,omitempty"`
	WriteEOF  bool   `json:"write_missing_eof,omitempty"`

	Options *drive.Options `json:"options,omitempty"`
	Key     []byte         `json:"key,omitempty"`
}

// Response is the control-socket's reply. At most one of the typed result
// fields is populated, matching the Request's Op; ops that return only an
// error populate none.
type Response struct {
	Err string `json:"error,omitempty"`

	ReachedLEOM bool                    `json:"reached_leom,omitempty"`
	Position    *drive.Position         `json:"position,omitempty"`
	FileNumber  uint64                  `json:"file_number,omitempty"`
	AlertFlags  drive.TapeAlertFlag     `json:"alert_flags,omitempty"`
	Memory      *drive.CartridgeMemory  `json:"memory,omitempty"`
	Stats       *drive.VolumeStatistics `json:"stats,omitempty"`
	Status      *drive.DriveStatus     `json:"status,omitempty"`
}
