// Package cli implements the tapevault command tree: the "tape tool"
// surface from spec.md §6, plus a "drive daemon" subcommand that holds a
// drive open as a long-running control-socket server.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand returns the top-level "tapevault" command with every
// subcommand wired in.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tapevault",
		Short: "Content-addressed chunk store and tape pool writer",
	}

	cmd.PersistentFlags().StringP("output-format", "o", "text", "output format: text, json, or json-pretty")
	cmd.PersistentFlags().String("filter", "", "JSONPath expression applied to the output before rendering")
	cmd.PersistentFlags().String("socket", "", "drive daemon control socket path (overrides --path)")
	cmd.PersistentFlags().String("token", "", "drive daemon bearer token (or TAPEVAULT_DRIVE_TOKEN env)")
	cmd.PersistentFlags().String("path", "", "virtual drive directory, for direct (daemon-less) access")
	cmd.PersistentFlags().String("drive", envDriveName(), "drive name (or PROXMOX_TAPE_DRIVE/TAPE env)")

	cmd.AddCommand(newDriveCmd())

	return cmd
}

// envDriveName mirrors pmt's drive-selection precedence: PROXMOX_TAPE_DRIVE
// then the more generic TAPE variable used by mt(1) and friends.
func envDriveName() string {
	if v := os.Getenv("PROXMOX_TAPE_DRIVE"); v != "" {
		return v
	}
	return os.Getenv("TAPE")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
