package blob

import (
	"crypto/hmac"
	"crypto/sha256"
)

// DigestSize is the length in bytes of a chunk digest.
const DigestSize = sha256.Size

// ComputeDigest derives the content-addressing digest for plaintext data.
// When key is nil the digest is a plain SHA-256 of data. When key is
// non-nil (the datastore is configured for encryption) the digest is
// HMAC-SHA256(key, data) instead: binding the digest to the encryption key
// means two datastores under different keys never collide on the same
// plaintext, and a server holding only ciphertext can never recover which
// digest a given plaintext would have produced under a key it doesn't
// hold.
func ComputeDigest(data []byte, key []byte) [DigestSize]byte {
	if key == nil {
		return sha256.Sum256(data)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	var out [DigestSize]byte
	copy(out[:], mac.Sum(nil))
	return out
}
