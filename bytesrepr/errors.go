// Package bytesrepr implements the canonical, deterministic byte encoding
// used for every value that crosses the host/guest boundary and the trie
// store boundary. Unlike RLP, every encoding here is a fixed recipe per
// Go type: tagged-sum discriminators for sum types, little-endian
// fixed-width integers, and u32 length-prefixed variable-length data.
// Decoding is total: a decoder either consumes exactly the bytes belonging
// to the value and reports the remainder, or fails with one of the errors
// below.
package bytesrepr

import "errors"

var (
	// ErrEarlyEndOfStream is returned when fewer bytes remain than a value's
	// encoding requires.
	ErrEarlyEndOfStream = errors.New("bytesrepr: early end of stream")

	// ErrFormatting is returned when bytes are present but do not form a
	// valid encoding (e.g. an out-of-range tag byte).
	ErrFormatting = errors.New("bytesrepr: formatting error")

	// ErrLeftOverBytes is returned by FromBytes when the input contains
	// trailing bytes after a complete decode.
	ErrLeftOverBytes = errors.New("bytesrepr: left over bytes")

	// ErrOutOfMemory is returned when a length prefix claims more data than
	// is reasonable to allocate for a single value.
	ErrOutOfMemory = errors.New("bytesrepr: out of memory")

	// ErrNotRepresentable is returned when a value cannot be represented in
	// the target numeric width (e.g. a negative big.Int for an unsigned
	// field).
	ErrNotRepresentable = errors.New("bytesrepr: value not representable")
)

// maxAllocation bounds a single length-prefixed allocation. Deploy payloads
// are small; a length prefix claiming more than this is almost certainly a
// corrupt or adversarial encoding rather than a legitimate value.
const maxAllocation = 64 << 20 // 64 MiB
