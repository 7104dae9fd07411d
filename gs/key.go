package gs

import (
	"fmt"

	"github.com/wasmstate/engine/bytesrepr"
	"github.com/wasmstate/engine/digest"
)

// KeyTag discriminates the four Key variants in both the in-memory
// representation and the canonical encoding.
type KeyTag uint8

const (
	KeyTagAccount KeyTag = iota
	KeyTagHash
	KeyTagURef
	KeyTagLocal
)

// Addr32 is the 32-byte address shared by Account, Hash, and URef keys.
type Addr32 [32]byte

// Bytes returns the raw address bytes.
func (a Addr32) Bytes() []byte { return a[:] }

// URef is an unforgeable reference: a 32-byte address plus the access
// rights the holder currently has to it. Rights are carried in-memory only
// and are never part of the value written to the trie store — two URef
// values differing only in Rights address the identical storage cell.
type URef struct {
	Addr   Addr32
	Rights AccessRights
}

// Key is a tagged sum identifying a storage location. Only Tag and the
// field matching it are meaningful; Key is deliberately a plain struct
// rather than an interface so it is comparable and usable as a map key.
type Key struct {
	Tag     KeyTag
	Account Addr32 // valid when Tag == KeyTagAccount
	Hash    Addr32 // valid when Tag == KeyTagHash
	URef    URef   // valid when Tag == KeyTagURef
	Local   Addr32 // the seed half of a Local key; KeyBytes holds the rest
	// KeyBytes is the namespaced sub-key under Local's seed. It is not a
	// fixed 32 bytes since local keys are arbitrary-length.
	KeyBytes []byte
}

// NewAccountKey constructs an Account key.
func NewAccountKey(addr Addr32) Key { return Key{Tag: KeyTagAccount, Account: addr} }

// NewHashKey constructs a Hash key.
func NewHashKey(addr Addr32) Key { return Key{Tag: KeyTagHash, Hash: addr} }

// NewURefKey constructs a URef key.
func NewURefKey(u URef) Key { return Key{Tag: KeyTagURef, URef: u} }

// NewLocalKey constructs a Local key as H(seed || keyBytes), per spec.
func NewLocalKey(seed Addr32, keyBytes []byte) Key {
	hashed := digest.Keccak256(seed.Bytes(), keyBytes)
	var local Addr32
	copy(local[:], hashed)
	return Key{Tag: KeyTagLocal, Local: local, KeyBytes: keyBytes}
}

// StorageIdentity returns the Key with any URef rights stripped, since
// rights are not part of the trie's storage identity. Use this as the
// trie lookup key; use the original Key (with Rights intact) for
// capability checks.
func (k Key) StorageIdentity() Key {
	if k.Tag != KeyTagURef {
		return k
	}
	return Key{Tag: KeyTagURef, URef: URef{Addr: k.URef.Addr}}
}

// String renders a Key for logs and error messages.
func (k Key) String() string {
	switch k.Tag {
	case KeyTagAccount:
		return fmt.Sprintf("Account(%x)", k.Account[:])
	case KeyTagHash:
		return fmt.Sprintf("Hash(%x)", k.Hash[:])
	case KeyTagURef:
		return fmt.Sprintf("URef(%x, %s)", k.URef.Addr[:], k.URef.Rights)
	case KeyTagLocal:
		return fmt.Sprintf("Local(%x)", k.Local[:])
	default:
		return "Key(invalid)"
	}
}

// TrieKeyBytes renders the storage identity as the flat byte string the
// trie store indexes by: a one-byte tag followed by the 32-byte address
// (Local keys additionally fold in their namespaced bytes via the
// pre-hashed Local address, so the trie key is always the tag byte plus 32
// bytes).
func (k Key) TrieKeyBytes() []byte {
	id := k.StorageIdentity()
	out := make([]byte, 0, 33)
	out = append(out, byte(id.Tag))
	switch id.Tag {
	case KeyTagAccount:
		out = append(out, id.Account[:]...)
	case KeyTagHash:
		out = append(out, id.Hash[:]...)
	case KeyTagURef:
		out = append(out, id.URef.Addr[:]...)
	case KeyTagLocal:
		out = append(out, id.Local[:]...)
	}
	return out
}

// WriteKey appends the canonical encoding of k: a tag byte followed by the
// variant payload. URef rights ARE included here because this is the
// encoding used when a Key crosses the host/guest boundary as a value
// (e.g. inside a named-key table argument) — capability metadata is
// meaningful to the guest even though it is not part of the trie's
// storage identity.
func WriteKey(w *bytesrepr.Writer, k Key) {
	w.WriteU8(uint8(k.Tag))
	switch k.Tag {
	case KeyTagAccount:
		w.WriteFixedBytes(k.Account[:])
	case KeyTagHash:
		w.WriteFixedBytes(k.Hash[:])
	case KeyTagURef:
		w.WriteFixedBytes(k.URef.Addr[:])
		w.WriteU8(uint8(k.URef.Rights))
	case KeyTagLocal:
		w.WriteFixedBytes(k.Local[:])
		w.WriteBytes(k.KeyBytes)
	}
}

// ReadKey decodes a Key previously written by WriteKey.
func ReadKey(r *bytesrepr.Reader) (Key, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return Key{}, err
	}
	switch KeyTag(tag) {
	case KeyTagAccount:
		b, err := r.ReadFixedBytes(32)
		if err != nil {
			return Key{}, err
		}
		var a Addr32
		copy(a[:], b)
		return NewAccountKey(a), nil
	case KeyTagHash:
		b, err := r.ReadFixedBytes(32)
		if err != nil {
			return Key{}, err
		}
		var a Addr32
		copy(a[:], b)
		return NewHashKey(a), nil
	case KeyTagURef:
		b, err := r.ReadFixedBytes(32)
		if err != nil {
			return Key{}, err
		}
		rights, err := r.ReadU8()
		if err != nil {
			return Key{}, err
		}
		var a Addr32
		copy(a[:], b)
		return NewURefKey(URef{Addr: a, Rights: AccessRights(rights)}), nil
	case KeyTagLocal:
		b, err := r.ReadFixedBytes(32)
		if err != nil {
			return Key{}, err
		}
		kb, err := r.ReadBytes()
		if err != nil {
			return Key{}, err
		}
		var a Addr32
		copy(a[:], b)
		return Key{Tag: KeyTagLocal, Local: a, KeyBytes: kb}, nil
	default:
		return Key{}, bytesrepr.ErrFormatting
	}
}
