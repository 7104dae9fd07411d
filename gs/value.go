package gs

import (
	"github.com/wasmstate/engine/bytesrepr"
)

// ValueTag discriminates the Value sum type.
type ValueTag uint8

const (
	ValueTagU8 ValueTag = iota
	ValueTagU32
	ValueTagU64
	ValueTagU512
	ValueTagByteArray
	ValueTagString
	ValueTagKey
	ValueTagUnit
	ValueTagAccount
	ValueTagContract
	ValueTagTyped // a generic typed container: a type-name tag plus raw bytes
)

// Value is a tagged sum of every type storable under a Key. Exactly one
// field is meaningful per Tag.
type Value struct {
	Tag ValueTag

	U8        uint8
	U32       uint32
	U64       uint64
	U512      bytesrepr.U512
	ByteArray []byte
	Str       string
	Key       Key
	Account   *Account
	Contract  *Contract

	// TypeName + Typed hold an arbitrary CLType-tagged payload for values
	// outside the fixed set above (e.g. contract-defined records). TypeName
	// is a stable identifier a guest-side ABI uses to interpret Typed.
	TypeName string
	Typed    []byte
}

// Unit is the zero Value of Tag ValueTagUnit.
func Unit() Value { return Value{Tag: ValueTagUnit} }

// NewU512Value wraps a U512 as a Value.
func NewU512Value(v bytesrepr.U512) Value { return Value{Tag: ValueTagU512, U512: v} }

// NewByteArrayValue wraps a byte string as a Value.
func NewByteArrayValue(b []byte) Value { return Value{Tag: ValueTagByteArray, ByteArray: b} }

// NewKeyValue wraps a Key as a Value.
func NewKeyValue(k Key) Value { return Value{Tag: ValueTagKey, Key: k} }

// WriteValue appends the canonical encoding of v.
func WriteValue(w *bytesrepr.Writer, v Value) {
	w.WriteU8(uint8(v.Tag))
	switch v.Tag {
	case ValueTagU8:
		w.WriteU8(v.U8)
	case ValueTagU32:
		w.WriteU32(v.U32)
	case ValueTagU64:
		w.WriteU64(v.U64)
	case ValueTagU512:
		bytesrepr.WriteU512(w, v.U512)
	case ValueTagByteArray:
		w.WriteBytes(v.ByteArray)
	case ValueTagString:
		w.WriteString(v.Str)
	case ValueTagKey:
		WriteKey(w, v.Key)
	case ValueTagUnit:
		// no payload
	case ValueTagAccount:
		WriteAccount(w, *v.Account)
	case ValueTagContract:
		WriteContract(w, *v.Contract)
	case ValueTagTyped:
		w.WriteString(v.TypeName)
		w.WriteBytes(v.Typed)
	}
}

// ReadValue decodes a Value previously written by WriteValue.
func ReadValue(r *bytesrepr.Reader) (Value, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return Value{}, err
	}
	v := Value{Tag: ValueTag(tag)}
	switch v.Tag {
	case ValueTagU8:
		v.U8, err = r.ReadU8()
	case ValueTagU32:
		v.U32, err = r.ReadU32()
	case ValueTagU64:
		v.U64, err = r.ReadU64()
	case ValueTagU512:
		v.U512, err = bytesrepr.ReadU512(r)
	case ValueTagByteArray:
		v.ByteArray, err = r.ReadBytes()
	case ValueTagString:
		v.Str, err = r.ReadString()
	case ValueTagKey:
		v.Key, err = ReadKey(r)
	case ValueTagUnit:
		// no payload
	case ValueTagAccount:
		var acct Account
		acct, err = ReadAccount(r)
		v.Account = &acct
	case ValueTagContract:
		var c Contract
		c, err = ReadContract(r)
		v.Contract = &c
	case ValueTagTyped:
		v.TypeName, err = r.ReadString()
		if err == nil {
			v.Typed, err = r.ReadBytes()
		}
	default:
		return Value{}, bytesrepr.ErrFormatting
	}
	if err != nil {
		return Value{}, err
	}
	return v, nil
}
