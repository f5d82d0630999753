package blob

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"
)

func TestEncodeDecodeUncompressed(t *testing.T) {
	body := []byte("hello tape vault")
	b, err := Encode(body, false, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b.Magic != MagicUncompressed {
		t.Fatalf("expected uncompressed magic, got %v", b.Magic)
	}
	got, err := b.Decompressed(nil, nil)
	if err != nil {
		t.Fatalf("decompressed: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("roundtrip mismatch: want %q got %q", body, got)
	}
}

func TestEncodeDecodeCompressed(t *testing.T) {
	body := bytes.Repeat([]byte("repetitive data "), 2000)
	b, err := Encode(body, true, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b.Magic != MagicCompressed {
		t.Fatalf("expected compressed magic, got %v", b.Magic)
	}
	if len(b.Raw) >= len(body) {
		t.Fatalf("expected compression to shrink payload: raw=%d body=%d", len(b.Raw), len(body))
	}
	got, err := b.Decompressed(nil, nil)
	if err != nil {
		t.Fatalf("decompressed: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatal("roundtrip mismatch")
	}
}

// TestEncodeSkipsCompressionWhenItDoesNotHelp covers the §4.A invariant:
// compression is only used if it actually shrinks the payload. Small,
// high-entropy, or already-compressed bodies routinely fail to shrink
// under zstd; Encode must fall back to the uncompressed variant rather
// than honor compress unconditionally.
func TestEncodeSkipsCompressionWhenItDoesNotHelp(t *testing.T) {
	body := make([]byte, 256)
	for i := range body {
		body[i] = byte(i*167 + 13) // dense, incompressible-ish byte pattern
	}
	b, err := Encode(body, true, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b.Magic != MagicUncompressed {
		t.Fatalf("expected Encode to fall back to MagicUncompressed, got %v", b.Magic)
	}
	got, err := b.Decompressed(nil, nil)
	if err != nil {
		t.Fatalf("decompressed: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatal("roundtrip mismatch")
	}
}

func TestEncodeSkipsCompressionWhenItDoesNotHelpEncrypted(t *testing.T) {
	key := bytes.Repeat([]byte{0x09}, 32)
	body := make([]byte, 256)
	for i := range body {
		body[i] = byte(i*211 + 7)
	}
	b, err := Encode(body, true, key)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b.Magic != MagicEncrypted {
		t.Fatalf("expected Encode to fall back to MagicEncrypted, got %v", b.Magic)
	}
	got, err := b.Decompressed(key, nil)
	if err != nil {
		t.Fatalf("decompressed: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatal("roundtrip mismatch")
	}
}

func TestEncodeDecodeEncrypted(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	body := []byte("secret backup contents")
	b, err := Encode(body, false, key)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b.Magic != MagicEncrypted {
		t.Fatalf("expected encrypted magic, got %v", b.Magic)
	}
	if _, err := b.Decompressed(nil, nil); err != ErrEncrypted {
		t.Fatalf("expected ErrEncrypted without key, got %v", err)
	}
	got, err := b.Decompressed(key, nil)
	if err != nil {
		t.Fatalf("decompressed: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatal("roundtrip mismatch")
	}
}

func TestEncodeDecodeEncryptedCompressed(t *testing.T) {
	key := bytes.Repeat([]byte{0x17}, 32)
	body := bytes.Repeat([]byte("aaaaaaaaaaaaaaaa"), 500)
	b, err := Encode(body, true, key)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b.Magic != MagicEncryptedZ {
		t.Fatalf("expected encrypted+compressed magic, got %v", b.Magic)
	}
	got, err := b.Decompressed(key, nil)
	if err != nil {
		t.Fatalf("decompressed: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatal("roundtrip mismatch")
	}
}

func TestVerifyCRCDetectsCorruption(t *testing.T) {
	b, err := Encode([]byte("payload"), false, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b.Raw[len(b.Raw)-1] ^= 0xFF
	if err := b.VerifyCRC(); err != ErrCRCMismatch {
		t.Fatalf("expected ErrCRCMismatch, got %v", err)
	}
}

// TestCRCIsLittleEndian pins the on-disk byte order the §3/§6 wire format
// specifies ("4-byte little-endian CRC-32"), so a regression back to
// big-endian storage is caught even though round trips through this
// package alone would not otherwise notice.
func TestCRCIsLittleEndian(t *testing.T) {
	body := []byte("endianness matters")
	b, err := Encode(body, false, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := crc32.ChecksumIEEE(body)
	got := binary.LittleEndian.Uint32(b.Raw[:crcSize])
	if got != want {
		t.Fatalf("got crc %08x, want %08x (little-endian)", got, want)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 32)
	wrong := bytes.Repeat([]byte{0x02}, 32)
	b, err := Encode([]byte("top secret"), false, key)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := b.Decompressed(wrong, nil); err == nil {
		t.Fatal("expected decryption failure with wrong key")
	}
}

func TestBytesRoundTrip(t *testing.T) {
	b, err := Encode([]byte("round trip me"), true, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	buf := b.Bytes()
	decoded, err := FromBytes(buf)
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	got, err := decoded.Decompressed(nil, nil)
	if err != nil {
		t.Fatalf("decompressed: %v", err)
	}
	if string(got) != "round trip me" {
		t.Fatalf("unexpected body: %q", got)
	}
}

func TestEncodeBodyTooLarge(t *testing.T) {
	big := make([]byte, MaxBodySize+1)
	if _, err := Encode(big, false, nil); err != ErrBodyTooLarge {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestComputeDigestUnkeyed(t *testing.T) {
	d1 := ComputeDigest([]byte("abc"), nil)
	d2 := ComputeDigest([]byte("abc"), nil)
	if d1 != d2 {
		t.Fatal("expected deterministic digest")
	}
}

func TestComputeDigestKeyBound(t *testing.T) {
	data := []byte("abc")
	keyA := bytes.Repeat([]byte{0xAA}, 32)
	keyB := bytes.Repeat([]byte{0xBB}, 32)
	dPlain := ComputeDigest(data, nil)
	dA := ComputeDigest(data, keyA)
	dB := ComputeDigest(data, keyB)
	if dA == dPlain || dB == dPlain || dA == dB {
		t.Fatal("expected distinct digests for distinct keys and unkeyed mode")
	}
}

// TestDecodeEncodeDigestRoundTrip is testable property #1: decode(encode(p,
// k, c), k, sha(p, k)) == p, for every key/compress combination.
func TestDecodeEncodeDigestRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		compress bool
		key      []byte
	}{
		{"plain", false, nil},
		{"compressed", true, nil},
		{"encrypted", false, bytes.Repeat([]byte{0x5A}, 32)},
		{"encrypted+compressed", true, bytes.Repeat([]byte{0x5A}, 32)},
	}
	body := bytes.Repeat([]byte("round-trip digest check "), 100)
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b, err := Encode(body, c.compress, c.key)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			digest := ComputeDigest(body, c.key)
			got, err := b.Decompressed(c.key, &digest)
			if err != nil {
				t.Fatalf("decompressed: %v", err)
			}
			if !bytes.Equal(got, body) {
				t.Fatal("roundtrip mismatch")
			}
		})
	}
}

func TestDecompressedRejectsWrongDigest(t *testing.T) {
	body := []byte("authentic content")
	b, err := Encode(body, false, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	wrong := ComputeDigest([]byte("different content"), nil)
	if _, err := b.Decompressed(nil, &wrong); err != ErrDigestMismatch {
		t.Fatalf("expected ErrDigestMismatch, got %v", err)
	}
}

func TestVerifyUnencryptedAcceptsMatchingSizeAndDigest(t *testing.T) {
	body := []byte("verify me")
	b, err := Encode(body, true, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	digest := ComputeDigest(body, nil)
	if err := b.VerifyUnencrypted(len(body), digest); err != nil {
		t.Fatalf("verify unencrypted: %v", err)
	}
}

func TestVerifyUnencryptedRejectsWrongSize(t *testing.T) {
	body := []byte("verify me")
	b, err := Encode(body, false, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	digest := ComputeDigest(body, nil)
	if err := b.VerifyUnencrypted(len(body)+1, digest); err == nil {
		t.Fatal("expected a length mismatch error")
	}
}

func TestVerifyUnencryptedRejectsWrongDigest(t *testing.T) {
	body := []byte("verify me")
	b, err := Encode(body, false, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	wrong := ComputeDigest([]byte("not this"), nil)
	if err := b.VerifyUnencrypted(len(body), wrong); err != ErrDigestMismatch {
		t.Fatalf("expected ErrDigestMismatch, got %v", err)
	}
}

// TestVerifyUnencryptedSkipsEncryptedBlobs mirrors data_blob.rs's
// verify_unencrypted, which returns Ok immediately for encrypted magics
// since verifying their content requires the key.
func TestVerifyUnencryptedSkipsEncryptedBlobs(t *testing.T) {
	key := bytes.Repeat([]byte{0x5A}, 32)
	body := []byte("secret")
	b, err := Encode(body, false, key)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var bogusDigest [DigestSize]byte
	if err := b.VerifyUnencrypted(0, bogusDigest); err != nil {
		t.Fatalf("expected nil for an encrypted blob regardless of size/digest, got %v", err)
	}
}
