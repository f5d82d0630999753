package drived

import (
	"path/filepath"
	"testing"
	"time"

	"tapevault/internal/tape/drive/virtual"
)

func newTestServer(t *testing.T) (*Server, *TokenService, string) {
	t.Helper()
	vd, err := virtual.Open(virtual.Config{Name: "drive0", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("open virtual drive: %v", err)
	}
	t.Cleanup(func() { vd.Close() })

	tokens := NewTokenService([]byte("test-secret"), time.Hour)
	srv := NewServer(Config{Drive: vd, DriveName: "drive0", Tokens: tokens})
	sockPath := filepath.Join(t.TempDir(), "drive0.sock")
	if err := srv.Listen(sockPath); err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	return srv, tokens, sockPath
}

func TestClientServerRoundTrip(t *testing.T) {
	_, tokens, sockPath := newTestServer(t)
	token, _, err := tokens.Issue("drive0")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	client, err := Dial(sockPath, token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.Load("mylabel"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := client.Rewind(); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	n, err := client.CurrentFileNumber()
	if err != nil {
		t.Fatalf("current file number: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected file number 0 after load+rewind, got %d", n)
	}

	status, err := client.ReadDriveStatus()
	if err != nil {
		t.Fatalf("read drive status: %v", err)
	}
	if !status.BOT {
		t.Fatalf("expected BOT after rewind, got %+v", status)
	}
}

func TestRejectsBadToken(t *testing.T) {
	_, _, sockPath := newTestServer(t)

	client, err := Dial(sockPath, "not-a-real-token")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.Rewind(); err == nil {
		t.Fatal("expected an error using an unauthorized connection")
	}
}
