package cli

import (
	"fmt"
	"strconv"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"

	"tapevault/internal/tape/drive"
)

// newDriveCmd returns the "drive" command tree: the pmt-derived tape
// tool subcommands (spec.md §6) plus "daemon".
func newDriveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Operate a tape drive: rewind, eject, load, space, status, ...",
	}
	cmd.AddCommand(
		newRewindCmd(),
		newEjectCmd(),
		newLoadCmd(),
		newEraseCmd(),
		newFormatCmd(),
		newFsfCmd(),
		newBsfCmd(),
		newFsrCmd(),
		newBsrCmd(),
		newWeofCmd(),
		newEodCmd(),
		newStatusCmd(),
		newCartridgeMemoryCmd(),
		newTapeAlertFlagsCmd(),
		newVolumeStatisticsCmd(),
		newOptionsCmd(),
		newDaemonCmd(),
	)
	return cmd
}

func withDrive(cmd *cobra.Command, fn func(h *driveHandle) (any, error)) error {
	h, err := connect(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	result, err := fn(h)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return newPrinter(cmd).print(result)
}

func newRewindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rewind",
		Short: "Rewind to beginning of tape",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDrive(cmd, func(h *driveHandle) (any, error) { return nil, h.ops().Rewind() })
		},
	}
}

func newEjectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eject",
		Short: "Eject the loaded medium",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDrive(cmd, func(h *driveHandle) (any, error) { return nil, h.ops().Eject() })
		},
	}
}

func newLoadCmd() *cobra.Command {
	var label string
	c := &cobra.Command{
		Use:   "load",
		Short: "Load a medium, assigning it label-text if newly created",
		RunE: func(cmd *cobra.Command, args []string) error {
			if label == "" {
				label = petname.Generate(2, "-")
			}
			return withDrive(cmd, func(h *driveHandle) (any, error) {
				return nil, h.ops().Load(label)
			})
		},
	}
	c.Flags().StringVar(&label, "label", "", "media label text (a generated name is used if empty)")
	return c
}

func newEraseCmd() *cobra.Command {
	var fast bool
	c := &cobra.Command{
		Use:   "erase",
		Short: "Erase the loaded medium",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDrive(cmd, func(h *driveHandle) (any, error) { return nil, h.ops().EraseMedia(fast) })
		},
	}
	c.Flags().BoolVar(&fast, "fast", false, "erase quickly, skipping a full overwrite")
	return c
}

func newFormatCmd() *cobra.Command {
	var fast bool
	c := &cobra.Command{
		Use:   "format",
		Short: "Format the loaded medium",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDrive(cmd, func(h *driveHandle) (any, error) { return nil, h.ops().FormatMedia(fast) })
		},
	}
	c.Flags().BoolVar(&fast, "fast", false, "format quickly")
	return c
}

func newFsfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fsf [N]",
		Short: "Space forward N filemarks (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := countArg(args, 1)
			if err != nil {
				return err
			}
			return withDrive(cmd, func(h *driveHandle) (any, error) { return nil, h.ops().SpaceFilemarks(n) })
		},
	}
}

func newBsfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bsf [N]",
		Short: "Space backward N filemarks (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := countArg(args, 1)
			if err != nil {
				return err
			}
			return withDrive(cmd, func(h *driveHandle) (any, error) { return nil, h.ops().SpaceFilemarks(-n) })
		},
	}
}

func newFsrCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fsr [N]",
		Short: "Space forward N blocks (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := countArg(args, 1)
			if err != nil {
				return err
			}
			return withDrive(cmd, func(h *driveHandle) (any, error) { return nil, h.ops().SpaceBlocks(n) })
		},
	}
}

func newBsrCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bsr [N]",
		Short: "Space backward N blocks (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := countArg(args, 1)
			if err != nil {
				return err
			}
			return withDrive(cmd, func(h *driveHandle) (any, error) { return nil, h.ops().SpaceBlocks(-n) })
		},
	}
}

func newWeofCmd() *cobra.Command {
	var immediate bool
	c := &cobra.Command{
		Use:   "weof [N]",
		Short: "Write N filemarks (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := countArg(args, 1)
			if err != nil {
				return err
			}
			return withDrive(cmd, func(h *driveHandle) (any, error) { return nil, h.ops().WriteFilemarks(n, immediate) })
		},
	}
	c.Flags().BoolVar(&immediate, "immediate", false, "do not wait for the write to complete on the medium")
	return c
}

func newEodCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eod",
		Short: "Move to end of data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDrive(cmd, func(h *driveHandle) (any, error) { return nil, h.ops().MoveToEOM(false) })
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print drive and position status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDrive(cmd, func(h *driveHandle) (any, error) {
				status, err := h.ops().ReadDriveStatus()
				if err != nil {
					return nil, err
				}
				pos, err := h.ops().Position()
				if err != nil {
					return nil, err
				}
				fileNumber, err := h.ops().CurrentFileNumber()
				if err != nil {
					return nil, err
				}
				return statusView{
					BOT: status.BOT, EOT: status.EOT, WriteProtect: status.WriteProtect,
					Position: pos, FileNumber: fileNumber,
				}, nil
			})
		},
	}
}

type statusView struct {
	BOT          bool
	EOT          bool
	WriteProtect bool
	Position     drive.Position
	FileNumber   uint64
}

func newCartridgeMemoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cartridge-memory",
		Short: "Print the loaded cartridge's memory chip contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDrive(cmd, func(h *driveHandle) (any, error) { return h.ops().CartridgeMemory() })
		},
	}
}

func newTapeAlertFlagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tape-alert-flags",
		Short: "Print the drive's current TapeAlert flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDrive(cmd, func(h *driveHandle) (any, error) {
				flags, err := h.ops().TapeAlertFlags()
				if err != nil {
					return nil, err
				}
				return fmt.Sprintf("0x%x", uint64(flags)), nil
			})
		},
	}
}

func newVolumeStatisticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "volume-statistics",
		Short: "Print the loaded medium's cumulative volume statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDrive(cmd, func(h *driveHandle) (any, error) { return h.ops().VolumeStatistics() })
		},
	}
}

func newOptionsCmd() *cobra.Command {
	var compression, bufferMode string
	var blockLength uint32
	var blockLengthSet bool
	c := &cobra.Command{
		Use:   "options",
		Short: "Set drive options (compression, block length, buffering)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := drive.Options{}
			if compression != "" {
				b, err := strconv.ParseBool(compression)
				if err != nil {
					return fmt.Errorf("cli: --compression: %w", err)
				}
				opts.Compression = &b
			}
			if bufferMode != "" {
				b, err := strconv.ParseBool(bufferMode)
				if err != nil {
					return fmt.Errorf("cli: --buffer-mode: %w", err)
				}
				opts.BufferMode = &b
			}
			if blockLengthSet {
				opts.BlockLength = &blockLength
			}
			return withDrive(cmd, func(h *driveHandle) (any, error) { return nil, h.ops().SetDriveOptions(opts) })
		},
	}
	c.Flags().StringVar(&compression, "compression", "", "enable/disable hardware compression (true/false)")
	c.Flags().StringVar(&bufferMode, "buffer-mode", "", "enable/disable buffered writes (true/false)")
	c.Flags().Uint32Var(&blockLength, "blocksize", 0, "fixed block length in bytes (0 leaves it unset)")
	c.PreRun = func(cmd *cobra.Command, args []string) {
		blockLengthSet = cmd.Flags().Changed("blocksize")
	}
	return c
}

func countArg(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("cli: invalid count %q: %w", args[0], err)
	}
	return n, nil
}
