// Package keys implements passphrase-protected encryption key files: the
// raw 256-bit key used by internal/blob is itself wrapped in a small JSON
// envelope, scrypt-derived from a user passphrase and sealed with the same
// AES-256-GCM convention internal/blob uses for chunk payloads.
//
// The on-disk format mirrors a Proxmox key file: version, KDF parameters,
// created/modified timestamps, the wrapped key material, a fingerprint of
// the unwrapped key, and an optional human-readable hint shown on a failed
// decrypt.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/scrypt"
)

const (
	ivSize  = 16
	tagSize = 16

	currentVersion = 1

	// scrypt cost parameters, matched to the reference PBS key file format.
	scryptN = 65536
	scryptR = 8
	scryptP = 1

	saltSize = 32
	keySize  = 32
)

// KDF identifies the key derivation applied to a passphrase before it wraps
// the raw key. KDFNone means the key is stored unencrypted.
type KDF string

const (
	KDFNone   KDF = "none"
	KDFScrypt KDF = "scrypt"
)

var (
	ErrWrongPassphrase    = errors.New("keys: wrong passphrase or corrupt key file")
	ErrPassphraseTooShort = errors.New("keys: passphrase must be at least 5 characters")
	ErrFileExists         = errors.New("keys: key file already exists")
	ErrNoPassphrase       = errors.New("keys: key is passphrase-protected, no passphrase supplied")
)

// ScryptParams holds the scrypt cost parameters and salt used to derive a
// wrapping key from a passphrase. Stored alongside the wrapped key so a
// later Decrypt can reproduce the derivation.
type ScryptParams struct {
	N    int    `json:"n"`
	R    int    `json:"r"`
	P    int    `json:"p"`
	Salt []byte `json:"salt"`
}

// Config is the on-disk, JSON-encoded key file.
type Config struct {
	Version     int           `json:"version"`
	KDF         KDF           `json:"kdf"`
	Scrypt      *ScryptParams `json:"scrypt,omitempty"`
	Created     time.Time     `json:"created"`
	Modified    time.Time     `json:"modified"`
	Data        []byte        `json:"data"` // wrapped (kdf != none) or raw key
	Fingerprint string        `json:"fingerprint"`
	Hint        string        `json:"hint,omitempty"`
}

// Fingerprint derives a short, stable identifier for a raw key so two key
// files can be compared (e.g. a datastore's configured encryption key
// against the key actually unlocked) without ever comparing raw key bytes.
//
// The reference implementation derives this from an AEAD-specific internal
// state (CryptConfig::fingerprint) that was not part of the retrieved
// source tree; this substitutes an HMAC-SHA256 of the key under a fixed
// context string, truncated to 16 bytes and colon-hex formatted, reusing
// the HMAC-SHA256 primitive internal/blob already uses for key-bound
// digests.
func Fingerprint(key [keySize]byte) string {
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte("tapevault-key-fingerprint-v1"))
	sum := mac.Sum(nil)[:16]
	out := make([]byte, 0, len(sum)*3-1)
	for i, b := range sum {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, []byte(hex.EncodeToString([]byte{b}))...)
	}
	return string(out)
}

// New generates a fresh random 256-bit key and wraps it under passphrase.
// If passphrase is empty the key is stored unencrypted (KDFNone).
func New(passphrase []byte, hint string) (key [keySize]byte, cfg *Config, err error) {
	if _, err = rand.Read(key[:]); err != nil {
		return key, nil, fmt.Errorf("keys: generate key: %w", err)
	}
	if len(passphrase) == 0 {
		cfg, err = WithoutPassword(key)
		return key, cfg, err
	}
	cfg, err = WithPassphrase(key, passphrase, hint)
	return key, cfg, err
}

// WithoutPassword builds a Config storing rawKey unencrypted.
func WithoutPassword(rawKey [keySize]byte) (*Config, error) {
	now := time.Now()
	data := make([]byte, keySize)
	copy(data, rawKey[:])
	return &Config{
		Version:     currentVersion,
		KDF:         KDFNone,
		Created:     now,
		Modified:    now,
		Data:        data,
		Fingerprint: Fingerprint(rawKey),
	}, nil
}

// WithPassphrase builds a Config wrapping rawKey under a scrypt-derived key
// from passphrase, sealed with AES-256-GCM using the same on-disk IV/tag
// layout as internal/blob.
func WithPassphrase(rawKey [keySize]byte, passphrase []byte, hint string) (*Config, error) {
	if len(passphrase) < 5 {
		return nil, ErrPassphraseTooShort
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keys: read salt: %w", err)
	}
	wrapKey, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("keys: derive wrap key: %w", err)
	}

	sealed, err := seal(wrapKey, rawKey[:])
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Config{
		Version:     currentVersion,
		KDF:         KDFScrypt,
		Scrypt:      &ScryptParams{N: scryptN, R: scryptR, P: scryptP, Salt: salt},
		Created:     now,
		Modified:    now,
		Data:        sealed,
		Fingerprint: Fingerprint(rawKey),
		Hint:        hint,
	}, nil
}

func seal(wrapKey, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(wrapKey)
	if err != nil {
		return nil, fmt.Errorf("keys: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("keys: new gcm: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("keys: read iv: %w", err)
	}
	sealed := gcm.Seal(nil, iv[:gcm.NonceSize()], plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	out := make([]byte, ivSize+tagSize+len(ciphertext))
	copy(out[:ivSize], iv)
	copy(out[ivSize:ivSize+tagSize], tag)
	copy(out[ivSize+tagSize:], ciphertext)
	return out, nil
}

func unseal(wrapKey, sealed []byte) ([]byte, error) {
	if len(sealed) < ivSize+tagSize {
		return nil, ErrWrongPassphrase
	}
	iv := sealed[:ivSize]
	tag := sealed[ivSize : ivSize+tagSize]
	ciphertext := sealed[ivSize+tagSize:]

	block, err := aes.NewCipher(wrapKey)
	if err != nil {
		return nil, fmt.Errorf("keys: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("keys: new gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, iv[:gcm.NonceSize()], append(append([]byte{}, ciphertext...), tag...), nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

// Decrypt unwraps the key file's raw key. passphrase is ignored when the
// Config is KDFNone. On mismatch, the returned error wraps ErrWrongPassphrase
// and includes the file's Hint, if any.
func (c *Config) Decrypt(passphrase []byte) (key [keySize]byte, err error) {
	switch c.KDF {
	case KDFNone, "":
		if len(c.Data) != keySize {
			return key, ErrWrongPassphrase
		}
		copy(key[:], c.Data)
	case KDFScrypt:
		if c.Scrypt == nil {
			return key, errors.New("keys: missing scrypt parameters")
		}
		if len(passphrase) == 0 {
			return key, ErrNoPassphrase
		}
		if len(passphrase) < 5 {
			return key, ErrPassphraseTooShort
		}
		wrapKey, derr := scrypt.Key(passphrase, c.Scrypt.Salt, c.Scrypt.N, c.Scrypt.R, c.Scrypt.P, keySize)
		if derr != nil {
			return key, fmt.Errorf("keys: derive wrap key: %w", derr)
		}
		raw, uerr := unseal(wrapKey, c.Data)
		if uerr != nil {
			return key, c.wrongPassphraseErr()
		}
		if len(raw) != keySize {
			return key, c.wrongPassphraseErr()
		}
		copy(key[:], raw)
	default:
		return key, fmt.Errorf("keys: unknown kdf %q", c.KDF)
	}

	if Fingerprint(key) != c.Fingerprint {
		return key, c.wrongPassphraseErr()
	}
	return key, nil
}

func (c *Config) wrongPassphraseErr() error {
	if c.Hint != "" {
		return fmt.Errorf("%w (hint: %s)", ErrWrongPassphrase, c.Hint)
	}
	return ErrWrongPassphrase
}

// Load reads and parses a key file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("keys: parse %s: %w", path, err)
	}
	if cfg.Version > currentVersion {
		return nil, fmt.Errorf("keys: %s has version %d, newer than supported version %d", path, cfg.Version, currentVersion)
	}
	return &cfg, nil
}

// Store persists c to path as JSON with mode 0600. If replace is true an
// existing file at path is atomically overwritten via temp-file-then-rename;
// otherwise Store fails if path already exists.
func (c *Config) Store(path string, replace bool) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("keys: marshal: %w", err)
	}

	if !replace {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err != nil {
			if os.IsExist(err) {
				return ErrFileExists
			}
			return fmt.Errorf("keys: create %s: %w", path, err)
		}
		defer f.Close()
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("keys: write %s: %w", path, err)
		}
		return nil
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".keys-tmp-*")
	if err != nil {
		return fmt.Errorf("keys: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("keys: chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("keys: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("keys: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("keys: rename into place: %w", err)
	}
	return nil
}
