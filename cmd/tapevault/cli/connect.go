package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tapevault/internal/tape/drive"
	"tapevault/internal/tape/drive/virtual"
	"tapevault/internal/tape/drived"
)

// driveHandle is whichever of the two drive.Drive-shaped things a
// subcommand ends up talking to: a direct virtual.Drive (opened in this
// process) or a drived.Client (talking to a long-running daemon holding
// the drive open elsewhere). Both satisfy the subset of drive.Drive this
// CLI calls; driveHandle just lets callers defer a single Close.
type driveHandle struct {
	client *drived.Client
	local  *virtual.Drive
}

func (h *driveHandle) Close() error {
	if h.client != nil {
		return h.client.Close()
	}
	if h.local != nil {
		return h.local.Close()
	}
	return nil
}

// ops exposes the drive.Drive-shaped surface both handle kinds support.
type ops interface {
	Rewind() error
	Eject() error
	Load(labelText string) error
	EraseMedia(fast bool) error
	FormatMedia(fast bool) error
	WriteFilemarks(n int, immediate bool) error
	SpaceFilemarks(n int) error
	SpaceBlocks(n int) error
	MoveToEOM(writeMissingEOF bool) error
	Position() (drive.Position, error)
	CurrentFileNumber() (uint64, error)
	SetDriveOptions(opts drive.Options) error
	SetEncryption(key []byte) error
	TapeAlertFlags() (drive.TapeAlertFlag, error)
	CartridgeMemory() (drive.CartridgeMemory, error)
	VolumeStatistics() (drive.VolumeStatistics, error)
	ReadDriveStatus() (drive.DriveStatus, error)
}

func (h *driveHandle) ops() ops {
	if h.client != nil {
		return h.client
	}
	return h.local
}

// connect opens whichever drive target the persistent flags describe:
// a daemon socket if --socket is set, otherwise
// a directly-opened virtual drive rooted at --path.
func connect(cmd *cobra.Command) (*driveHandle, error) {
	sockPath, _ := cmd.Flags().GetString("socket")
	path, _ := cmd.Flags().GetString("path")
	driveName, _ := cmd.Flags().GetString("drive")

	if sockPath != "" {
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			token = os.Getenv("TAPEVAULT_DRIVE_TOKEN")
		}
		if token == "" {
			return nil, fmt.Errorf("cli: --socket requires --token or TAPEVAULT_DRIVE_TOKEN")
		}
		client, err := drived.Dial(sockPath, token)
		if err != nil {
			return nil, err
		}
		return &driveHandle{client: client}, nil
	}

	if path == "" {
		return nil, fmt.Errorf("cli: specify --path (direct) or --socket (daemon) for drive %q", driveName)
	}
	vd, err := virtual.Open(virtual.Config{Name: driveName, Path: path})
	if err != nil {
		return nil, err
	}
	return &driveHandle{local: vd}, nil
}
