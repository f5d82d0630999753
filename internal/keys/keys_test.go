package keys

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func TestWithoutPasswordRoundTrips(t *testing.T) {
	key, cfg, err := New(nil, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cfg.KDF != KDFNone {
		t.Fatalf("expected KDFNone, got %q", cfg.KDF)
	}
	got, err := cfg.Decrypt(nil)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != key {
		t.Fatalf("round-tripped key mismatch")
	}
}

func TestWithPassphraseRoundTrips(t *testing.T) {
	key, cfg, err := New([]byte("correct horse"), "barn animal")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cfg.KDF != KDFScrypt {
		t.Fatalf("expected KDFScrypt, got %q", cfg.KDF)
	}
	if bytes.Equal(cfg.Data, key[:]) {
		t.Fatalf("wrapped data must not equal the raw key")
	}

	got, err := cfg.Decrypt([]byte("correct horse"))
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != key {
		t.Fatalf("round-tripped key mismatch")
	}
}

func TestDecryptWrongPassphraseFails(t *testing.T) {
	_, cfg, err := New([]byte("correct horse"), "barn animal")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = cfg.Decrypt([]byte("wrong horse"))
	if !errors.Is(err, ErrWrongPassphrase) {
		t.Fatalf("expected ErrWrongPassphrase, got %v", err)
	}
	if got := err.Error(); got == "" || !bytes.Contains([]byte(got), []byte("barn animal")) {
		t.Fatalf("expected hint in error, got %q", got)
	}
}

func TestDecryptMissingPassphrase(t *testing.T) {
	_, cfg, err := New([]byte("correct horse"), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = cfg.Decrypt(nil)
	if !errors.Is(err, ErrNoPassphrase) {
		t.Fatalf("expected ErrNoPassphrase, got %v", err)
	}
}

func TestWithPassphraseTooShort(t *testing.T) {
	_, _, err := New([]byte("abcd"), "")
	if !errors.Is(err, ErrPassphraseTooShort) {
		t.Fatalf("expected ErrPassphraseTooShort, got %v", err)
	}
}

func TestFingerprintStableAndDistinct(t *testing.T) {
	var a, b [keySize]byte
	a[0] = 1
	b[0] = 2
	if Fingerprint(a) != Fingerprint(a) {
		t.Fatalf("fingerprint is not stable")
	}
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatalf("distinct keys produced identical fingerprints")
	}
}

func TestStoreLoadRoundTrips(t *testing.T) {
	_, cfg, err := New([]byte("correct horse"), "barn animal")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "datastore.key")
	if err := cfg.Store(path, false); err != nil {
		t.Fatalf("store: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Fingerprint != cfg.Fingerprint || loaded.Hint != cfg.Hint {
		t.Fatalf("loaded config mismatch: %+v vs %+v", loaded, cfg)
	}

	got, err := loaded.Decrypt([]byte("correct horse"))
	if err != nil {
		t.Fatalf("decrypt loaded: %v", err)
	}
	want, err := cfg.Decrypt([]byte("correct horse"))
	if err != nil {
		t.Fatalf("decrypt original: %v", err)
	}
	if got != want {
		t.Fatalf("decrypted key mismatch after load")
	}
}

func TestStoreRefusesToOverwriteWithoutReplace(t *testing.T) {
	_, cfg, err := New(nil, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "datastore.key")
	if err := cfg.Store(path, false); err != nil {
		t.Fatalf("first store: %v", err)
	}
	if err := cfg.Store(path, false); !errors.Is(err, ErrFileExists) {
		t.Fatalf("expected ErrFileExists, got %v", err)
	}
	if err := cfg.Store(path, true); err != nil {
		t.Fatalf("store with replace=true: %v", err)
	}
}
