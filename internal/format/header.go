// Package format provides shared binary framing utilities used by the
// on-disk and on-tape layouts: chunk archives, media catalogs, and
// auxiliary index files all open with the same small tagged header so a
// reader can recognize and reject a foreign or stale file before trusting
// its body.
package format

import "errors"

// Header layout (4 bytes):
//
//	signature (1 byte, 'v' = 0x76)
//	kind (1 byte, identifies the file format)
//	version (1 byte)
//	flags (1 byte, reserved)
//
// Kind codes:
//
//	'c' = chunk archive
//	's' = snapshot archive
//	'l' = media catalog log
//	'k' = key file
const (
	Signature  = 'v'
	HeaderSize = 4

	KindChunkArchive    = 'c'
	KindSnapshotArchive = 's'
	KindCatalogLog      = 'l'
	KindKeyFile         = 'k'
)

var (
	ErrHeaderTooSmall    = errors.New("header too small")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrKindMismatch      = errors.New("kind mismatch")
	ErrVersionMismatch   = errors.New("version mismatch")
)

// Header represents the common 4-byte framing header.
type Header struct {
	Kind    byte
	Version byte
	Flags   byte
}

// Encode returns the 4-byte encoding of h.
func (h Header) Encode() [HeaderSize]byte {
	return [HeaderSize]byte{Signature, h.Kind, h.Version, h.Flags}
}

// EncodeInto writes the header into buf at offset 0 and returns the number
// of bytes written (always HeaderSize). buf must be at least HeaderSize
// bytes long.
func (h Header) EncodeInto(buf []byte) int {
	buf[0] = Signature
	buf[1] = h.Kind
	buf[2] = h.Version
	buf[3] = h.Flags
	return HeaderSize
}

// Decode reads a header from buf.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrHeaderTooSmall
	}
	if buf[0] != Signature {
		return Header{}, ErrSignatureMismatch
	}
	return Header{
		Kind:    buf[1],
		Version: buf[2],
		Flags:   buf[3],
	}, nil
}

// DecodeAndValidate reads a header and checks it against the expected kind
// and version.
func DecodeAndValidate(buf []byte, expectedKind, expectedVersion byte) (Header, error) {
	h, err := Decode(buf)
	if err != nil {
		return Header{}, err
	}
	if h.Kind != expectedKind {
		return Header{}, ErrKindMismatch
	}
	if h.Version != expectedVersion {
		return Header{}, ErrVersionMismatch
	}
	return h, nil
}
