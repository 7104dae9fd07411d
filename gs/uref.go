package gs

import "github.com/wasmstate/engine/bytesrepr"

// AccessRights is a capability bitmask carried in-memory alongside a URef
// address. It is metadata only: two URefs with the same address but
// different rights are the same storage identity, just observed through a
// narrower or wider capability.
type AccessRights uint8

const (
	// None grants no access; a URef with None rights cannot be used for
	// read, write, or add.
	None AccessRights = 0
	// Read permits read_gs.
	Read AccessRights = 1 << 0
	// Write permits write and new_uref targets.
	Write AccessRights = 1 << 1
	// Add permits the commutative add operation.
	Add AccessRights = 1 << 2
)

// ReadAddWrite is the full capability set a freshly-minted URef carries.
const ReadAddWrite = Read | Add | Write

// Has reports whether r contains every bit set in want.
func (r AccessRights) Has(want AccessRights) bool {
	return r&want == want
}

// String renders the rights as an underscore-joined list of names, for
// diagnostics.
func (r AccessRights) String() string {
	if r == None {
		return "NONE"
	}
	var parts []string
	if r.Has(Read) {
		parts = append(parts, "READ")
	}
	if r.Has(Write) {
		parts = append(parts, "WRITE")
	}
	if r.Has(Add) {
		parts = append(parts, "ADD")
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "_" + p
	}
	return out
}

// Attenuate returns a copy of the URef narrowed to READ-only rights. This
// must be applied at every boundary where a system-contract URef (e.g. the
// mint or proof-of-stake accessor) is exposed to user-supplied code; the
// result is never elevated back, only narrowed.
func (u URef) Attenuate() URef {
	return URef{Addr: u.Addr, Rights: Read}
}

// WriteURef appends the canonical encoding of a bare URef: its 32-byte
// address followed by a one-byte rights mask. Used wherever a URef crosses
// the host/guest boundary outside of a Key (e.g. a sub-call's returned
// capability list).
func WriteURef(w *bytesrepr.Writer, u URef) {
	w.WriteFixedBytes(u.Addr[:])
	w.WriteU8(uint8(u.Rights))
}

// ReadURef decodes a URef previously written by WriteURef.
func ReadURef(r *bytesrepr.Reader) (URef, error) {
	b, err := r.ReadFixedBytes(32)
	if err != nil {
		return URef{}, err
	}
	rights, err := r.ReadU8()
	if err != nil {
		return URef{}, err
	}
	var addr Addr32
	copy(addr[:], b)
	return URef{Addr: addr, Rights: AccessRights(rights)}, nil
}
