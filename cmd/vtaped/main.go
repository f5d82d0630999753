// Command vtaped runs the virtual tape backend as a standalone daemon,
// for integration tests and local development without real tape
// hardware. It serves the same control-socket protocol cmd/tapevault's
// "drive daemon" subcommand does, via internal/tape/drived.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tapevault/internal/tape/drive/virtual"
	"tapevault/internal/tape/drived"
)

func main() {
	var (
		name     string
		path     string
		sockPath string
		tokenTTL time.Duration
	)

	cmd := &cobra.Command{
		Use:   "vtaped",
		Short: "Run the virtual tape backend as a standalone control-socket daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(name, path, sockPath, tokenTTL)
		},
	}
	cmd.Flags().StringVar(&name, "name", "vtape0", "drive name")
	cmd.Flags().StringVar(&path, "path", "", "virtual drive directory (required)")
	cmd.Flags().StringVar(&sockPath, "socket", "", "control socket path (required)")
	cmd.Flags().DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the token printed at startup")
	_ = cmd.MarkFlagRequired("path")
	_ = cmd.MarkFlagRequired("socket")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(name, path, sockPath string, tokenTTL time.Duration) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "vtaped", "drive", name)

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("vtaped: generate secret: %w", err)
	}
	tokens := drived.NewTokenService(secret, tokenTTL)

	vd, err := virtual.Open(virtual.Config{Name: name, Path: path})
	if err != nil {
		return fmt.Errorf("vtaped: open virtual drive: %w", err)
	}
	defer vd.Close()

	srv := drived.NewServer(drived.Config{Drive: vd, DriveName: name, Tokens: tokens, Logger: logger})
	if err := srv.Listen(sockPath); err != nil {
		return err
	}
	defer srv.Close()

	token, expiresAt, err := tokens.Issue(name)
	if err != nil {
		return err
	}
	fmt.Printf("vtaped listening on %s\ntoken: %s\nexpires: %s\n", sockPath, token, expiresAt.Format(time.RFC3339))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		_ = srv.Close()
		return nil
	case err := <-errCh:
		return err
	}
}
