// Package blob implements the on-disk encoding for a single content chunk:
// an 8-byte magic identifying the variant, a CRC32 of the stored payload,
// an optional AES-256-GCM envelope, and an optional zstd body compression.
//
// A DataBlob is the unit the chunk store persists under a digest and the
// unit a chunk archive writer streams to tape. Four magics distinguish the
// variants so a reader never has to guess which transform to undo:
//
//	uncompressed           8B magic | 4B crc | body
//	compressed              8B magic | 4B crc | zstd(body)
//	encrypted               8B magic | 4B crc | 16B iv | 16B tag | aesgcm(body)
//	encrypted+compressed    8B magic | 4B crc | 16B iv | 16B tag | aesgcm(zstd(body))
package blob

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Magic identifies the blob's encryption/compression variant. Each value is
// 8 bytes so a reader can distinguish a blob header from other binary
// formats sharing the same directory (e.g. a truncated write).
type Magic [8]byte

var (
	MagicUncompressed = Magic{66, 171, 56, 7, 190, 131, 112, 161}
	MagicCompressed   = Magic{49, 185, 88, 66, 111, 182, 189, 223}
	MagicEncrypted    = Magic{123, 103, 81, 194, 241, 80, 140, 16}
	MagicEncryptedZ   = Magic{230, 89, 27, 191, 11, 191, 216, 11}
)

const (
	crcSize   = 4
	ivSize    = 16
	tagSize   = 16
	headerMin = 8 + crcSize

	// MaxBodySize bounds the plaintext body of a single blob. A datastore
	// chunk is capped well below this; Encode rejects larger bodies with
	// ErrBodyTooLarge. Decode does not check it.
	MaxBodySize = 128 << 20
)

var (
	ErrTooShort       = errors.New("blob: buffer too short")
	ErrUnknownMagic   = errors.New("blob: unrecognized magic")
	ErrCRCMismatch    = errors.New("blob: crc32 mismatch")
	ErrNotEncrypted   = errors.New("blob: not encrypted")
	ErrEncrypted      = errors.New("blob: blob is encrypted, key required")
	ErrBodyTooLarge   = errors.New("blob: body exceeds maximum size")
	ErrNoEncryptKey   = errors.New("blob: encryption requested without a key")
	ErrDigestMismatch = errors.New("blob: decoded content does not match expected digest")
	ErrLengthMismatch = errors.New("blob: decoded content does not match expected length")
)

// DataBlob is a decoded or to-be-encoded chunk. Raw holds the bytes exactly
// as they appear on disk (after the 8-byte magic), including the CRC, IV,
// and tag where applicable.
type DataBlob struct {
	Magic Magic
	Raw   []byte // everything after the magic: crc [iv tag] payload
}

// IsEncrypted reports whether m identifies an encrypted variant.
func (m Magic) IsEncrypted() bool {
	return m == MagicEncrypted || m == MagicEncryptedZ
}

// IsCompressed reports whether m identifies a compressed variant.
func (m Magic) IsCompressed() bool {
	return m == MagicCompressed || m == MagicEncryptedZ
}

var zstdEncoder *zstd.Encoder
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic(err)
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic(err)
	}
}

// Encode builds a DataBlob from plaintext body. If key is non-nil the blob
// is AES-256-GCM encrypted under it; if compress is true the body (or the
// plaintext prior to encryption) is zstd-compressed first, but only if
// doing so actually shrinks it — Encode compares the compressed candidate
// against the uncompressed payload itself and silently falls back to the
// uncompressed variant when compression doesn't help, the same way
// data_blob.rs's encode does ("We only use compression if result is
// shorter").
func Encode(body []byte, compress bool, key []byte) (*DataBlob, error) {
	if len(body) > MaxBodySize {
		return nil, ErrBodyTooLarge
	}

	payload := body
	compressed := false
	if compress {
		candidate := zstdEncoder.EncodeAll(body, make([]byte, 0, len(body)))
		if len(candidate) < len(body) {
			payload = candidate
			compressed = true
		}
	}

	if key == nil {
		magic := MagicUncompressed
		if compressed {
			magic = MagicCompressed
		}
		raw := make([]byte, crcSize+len(payload))
		binary.LittleEndian.PutUint32(raw[:crcSize], crc32.ChecksumIEEE(payload))
		copy(raw[crcSize:], payload)
		return &DataBlob{Magic: magic, Raw: raw}, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("blob: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("blob: new gcm: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("blob: read iv: %w", err)
	}
	// GCM's standard nonce is 12 bytes; we store a 16-byte IV on disk for
	// format parity with the sealed record layout and derive the nonce
	// from its first 12 bytes.
	sealed := gcm.Seal(nil, iv[:gcm.NonceSize()], payload, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	magic := MagicEncrypted
	if compressed {
		magic = MagicEncryptedZ
	}
	raw := make([]byte, crcSize+ivSize+tagSize+len(ciphertext))
	copy(raw[crcSize:crcSize+ivSize], iv)
	copy(raw[crcSize+ivSize:crcSize+ivSize+tagSize], tag)
	copy(raw[crcSize+ivSize+tagSize:], ciphertext)
	binary.LittleEndian.PutUint32(raw[:crcSize], crc32.ChecksumIEEE(ciphertext))
	return &DataBlob{Magic: magic, Raw: raw}, nil
}

// Decode parses a full on-disk blob (magic + raw) from r.
func Decode(r io.Reader) (*DataBlob, error) {
	var magic Magic
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("blob: read magic: %w", err)
	}
	if magic != MagicUncompressed && magic != MagicCompressed && magic != MagicEncrypted && magic != MagicEncryptedZ {
		return nil, ErrUnknownMagic
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("blob: read body: %w", err)
	}
	return &DataBlob{Magic: magic, Raw: raw}, nil
}

// FromBytes parses buf, which must start with the 8-byte magic.
func FromBytes(buf []byte) (*DataBlob, error) {
	if len(buf) < 8 {
		return nil, ErrTooShort
	}
	var magic Magic
	copy(magic[:], buf[:8])
	return Decode(bytes.NewReader(buf))
}

// Bytes serializes b back to its full on-disk form (magic + raw).
func (b *DataBlob) Bytes() []byte {
	out := make([]byte, 8+len(b.Raw))
	copy(out[:8], b.Magic[:])
	copy(out[8:], b.Raw)
	return out
}

// VerifyCRC validates the stored CRC32 against the stored payload without
// decrypting or decompressing it. For encrypted variants this only proves
// the ciphertext was not corrupted in transit/at rest, not that it is
// authentic — authenticity comes from the GCM tag, checked in Decrypt.
func (b *DataBlob) VerifyCRC() error {
	if len(b.Raw) < crcSize {
		return ErrTooShort
	}
	want := binary.LittleEndian.Uint32(b.Raw[:crcSize])
	var payload []byte
	if b.Magic.IsEncrypted() {
		if len(b.Raw) < crcSize+ivSize+tagSize {
			return ErrTooShort
		}
		payload = b.Raw[crcSize+ivSize+tagSize:]
	} else {
		payload = b.Raw[crcSize:]
	}
	got := crc32.ChecksumIEEE(payload)
	if got != want {
		return ErrCRCMismatch
	}
	return nil
}

// Decompressed returns the plaintext body, decrypting with key first if
// the blob is encrypted (key must be non-nil in that case) and
// decompressing afterward if the blob is compressed.
//
// If expectedDigest is non-nil, the decoded plaintext's digest is
// recomputed and checked against it before returning, mirroring
// data_blob.rs's decode(config, digest)/verify_digest: the digest is
// computed keyed (ComputeDigest(data, key)) only when this blob is
// actually an encrypted variant, and unkeyed otherwise, regardless of
// whether key was supplied — an unencrypted blob's digest is never
// key-bound.
func (b *DataBlob) Decompressed(key []byte, expectedDigest *[DigestSize]byte) ([]byte, error) {
	if err := b.VerifyCRC(); err != nil {
		return nil, err
	}

	var payload []byte
	if b.Magic.IsEncrypted() {
		if key == nil {
			return nil, ErrEncrypted
		}
		plain, err := b.decrypt(key)
		if err != nil {
			return nil, err
		}
		payload = plain
	} else {
		payload = b.Raw[crcSize:]
	}

	out := payload
	if b.Magic.IsCompressed() {
		decoded, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, len(payload)*3))
		if err != nil {
			return nil, fmt.Errorf("blob: zstd decode: %w", err)
		}
		out = decoded
	}

	if expectedDigest != nil {
		digestKey := key
		if !b.Magic.IsEncrypted() {
			digestKey = nil
		}
		if got := ComputeDigest(out, digestKey); got != *expectedDigest {
			return nil, ErrDigestMismatch
		}
	}
	return out, nil
}

// VerifyUnencrypted checks expectedSize and expectedDigest against this
// blob's decoded plaintext, for unencrypted variants only. It returns nil
// immediately for an encrypted blob: verifying an encrypted chunk's
// content requires the key to decrypt it first, which is exactly what
// decode-with-digest already does when a key is supplied, so there is
// nothing this key-less check can add for that case (data_blob.rs's
// verify_unencrypted documents the same carve-out).
func (b *DataBlob) VerifyUnencrypted(expectedSize int, expectedDigest [DigestSize]byte) error {
	if b.Magic.IsEncrypted() {
		return nil
	}
	data, err := b.Decompressed(nil, &expectedDigest)
	if err != nil {
		return err
	}
	if len(data) != expectedSize {
		return fmt.Errorf("%w: got %d, want %d", ErrLengthMismatch, len(data), expectedSize)
	}
	return nil
}

func (b *DataBlob) decrypt(key []byte) ([]byte, error) {
	if len(b.Raw) < crcSize+ivSize+tagSize {
		return nil, ErrTooShort
	}
	iv := b.Raw[crcSize : crcSize+ivSize]
	tag := b.Raw[crcSize+ivSize : crcSize+ivSize+tagSize]
	ciphertext := b.Raw[crcSize+ivSize+tagSize:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("blob: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("blob: new gcm: %w", err)
	}
	sealed := append(append([]byte(nil), ciphertext...), tag...)
	plain, err := gcm.Open(nil, iv[:gcm.NonceSize()], sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("blob: gcm open: %w", err)
	}
	return plain, nil
}
