package bytesrepr

import (
	"github.com/holiman/uint256"
)

// U512 is a 512-bit unsigned integer, the width spec values and purse
// balances need. No 512-bit integer type ships in the dependency pack, so
// it is composed from two 256-bit halves the way wide integers are already
// composed in the retained trie node encoding: Lo holds bits [0,256) and Hi
// holds bits [256,512).
type U512 struct {
	Lo uint256.Int
	Hi uint256.Int
}

// U512FromUint64 builds a U512 from a uint64.
func U512FromUint64(v uint64) U512 {
	var u U512
	u.Lo.SetUint64(v)
	return u
}

// IsZero reports whether the value is zero.
func (u U512) IsZero() bool {
	return u.Lo.IsZero() && u.Hi.IsZero()
}

// Add returns u+v, saturating is not performed: overflow beyond 512 bits is
// the caller's responsibility to detect via the carry return.
func (u U512) Add(v U512) (sum U512, carry bool) {
	var loCarry uint64
	sum.Lo, loCarry = addWithCarry(u.Lo, v.Lo)
	var hiCarry1, hiCarry2 uint64
	sum.Hi, hiCarry1 = addWithCarry(u.Hi, v.Hi)
	sum.Hi, hiCarry2 = addWithCarry(sum.Hi, uint256.NewInt(loCarry))
	return sum, hiCarry1+hiCarry2 > 0
}

func addWithCarry(a, b uint256.Int) (uint256.Int, uint64) {
	var sum uint256.Int
	overflow := sum.AddOverflow(&a, &b)
	carry := uint64(0)
	if overflow {
		carry = 1
	}
	return sum, carry
}

// Sub returns u-v and reports whether the subtraction underflowed (v > u).
func (u U512) Sub(v U512) (diff U512, underflow bool) {
	if u.Cmp(v) < 0 {
		return U512{}, true
	}
	var borrow uint256.Int
	borrow.SetOne()
	lo, lend := subWithBorrow(u.Lo, v.Lo)
	hi, _ := subWithBorrow(u.Hi, v.Hi)
	if lend {
		hi, _ = subWithBorrow(hi, *uint256.NewInt(1))
	}
	diff.Lo, diff.Hi = lo, hi
	return diff, false
}

func subWithBorrow(a, b uint256.Int) (uint256.Int, bool) {
	var diff uint256.Int
	underflow := diff.SubOverflow(&a, &b)
	return diff, underflow
}

// Cmp compares u and v: -1, 0, or 1.
func (u U512) Cmp(v U512) int {
	if c := u.Hi.Cmp(&v.Hi); c != 0 {
		return c
	}
	return u.Lo.Cmp(&v.Lo)
}

// WriteU512 appends the canonical 64-byte little-endian encoding (32 bytes
// Lo, then 32 bytes Hi) — the whole-value analogue of the fixed-width
// little-endian scheme WriteU32/WriteU64 use for narrower integers.
func WriteU512(w *Writer, v U512) {
	loBytes := v.Lo.Bytes32()
	hiBytes := v.Hi.Bytes32()
	// uint256.Bytes32 is big-endian; reverse to little-endian for the
	// canonical encoding.
	reverse(loBytes[:])
	reverse(hiBytes[:])
	w.WriteFixedBytes(loBytes[:])
	w.WriteFixedBytes(hiBytes[:])
}

// ReadU512 reads the canonical 64-byte little-endian U512 encoding.
func ReadU512(r *Reader) (U512, error) {
	loBytes, err := r.ReadFixedBytes(32)
	if err != nil {
		return U512{}, err
	}
	hiBytes, err := r.ReadFixedBytes(32)
	if err != nil {
		return U512{}, err
	}
	reverse(loBytes)
	reverse(hiBytes)
	var v U512
	v.Lo.SetBytes(loBytes)
	v.Hi.SetBytes(hiBytes)
	return v, nil
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
