package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tapevault/internal/tape/drive/virtual"
	"tapevault/internal/tape/drived"
)

// newDaemonCmd starts a long-running process holding one drive open and
// serving drive.Drive operations over a control socket, so the drive's
// OS-level mutex is held for an entire job rather than re-acquired per
// CLI invocation.
func newDaemonCmd() *cobra.Command {
	var secretHex string
	var tokenTTL time.Duration
	c := &cobra.Command{
		Use:   "daemon",
		Short: "Run a drive daemon, serving drive operations over a control socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			sockPath, _ := cmd.Flags().GetString("socket")
			path, _ := cmd.Flags().GetString("path")
			driveName, _ := cmd.Flags().GetString("drive")
			if sockPath == "" || path == "" {
				return fmt.Errorf("cli: daemon requires --socket and --path")
			}

			secret, err := secretBytes(secretHex)
			if err != nil {
				return err
			}
			tokens := drived.NewTokenService(secret, tokenTTL)

			vd, err := virtual.Open(virtual.Config{Name: driveName, Path: path})
			if err != nil {
				return err
			}
			defer vd.Close()

			srv := drived.NewServer(drived.Config{Drive: vd, DriveName: driveName, Tokens: tokens})
			if err := srv.Listen(sockPath); err != nil {
				return err
			}
			defer srv.Close()

			token, expiresAt, err := tokens.Issue(driveName)
			if err != nil {
				return err
			}
			fmt.Printf("listening on %s\ntoken: %s\nexpires: %s\n", sockPath, token, expiresAt.Format(time.RFC3339))

			return srv.Serve()
		},
	}
	c.Flags().StringVar(&secretHex, "secret", "", "hex-encoded HMAC secret for issuing/verifying tokens (random if empty)")
	c.Flags().DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the token issued at startup")
	return c
}

func secretBytes(hexSecret string) ([]byte, error) {
	if hexSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("cli: generate secret: %w", err)
		}
		return b, nil
	}
	b, err := hex.DecodeString(hexSecret)
	if err != nil {
		return nil, fmt.Errorf("cli: decode --secret: %w", err)
	}
	return b, nil
}
