package gs

import (
	"sort"

	"github.com/wasmstate/engine/bytesrepr"
)

// ProtocolVersion is a (major, minor, patch) triple; the Runtime consults
// it to decide whether a cached system-contract module is still valid for
// a given call (a cache entry is never read-through across a differing
// protocol version).
type ProtocolVersion struct {
	Major, Minor, Patch uint32
}

// Compatible reports whether two versions share a major version, the
// coarsest compatibility boundary the engine checks.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// Contract is the record addressed by a Key of Tag KeyTagHash: a stored,
// immutable snapshot of deployed bytecode plus its own named-key table.
type Contract struct {
	Bytecode        []byte
	NamedKeys       map[string]Key
	ProtocolVersion ProtocolVersion
}

// WriteContract appends the canonical encoding of a Contract.
func WriteContract(w *bytesrepr.Writer, c Contract) {
	w.WriteBytes(c.Bytecode)

	names := make([]string, 0, len(c.NamedKeys))
	for n := range c.NamedKeys {
		names = append(names, n)
	}
	sort.Strings(names)
	entries := make([]bytesrepr.MapEntry[string, Key], 0, len(names))
	for _, n := range names {
		entries = append(entries, bytesrepr.MapEntry[string, Key]{Key: n, Value: c.NamedKeys[n]})
	}
	bytesrepr.WriteMap(w, entries,
		func(w *bytesrepr.Writer, k string) { w.WriteString(k) },
		func(w *bytesrepr.Writer, v Key) { WriteKey(w, v) },
	)

	w.WriteU32(c.ProtocolVersion.Major)
	w.WriteU32(c.ProtocolVersion.Minor)
	w.WriteU32(c.ProtocolVersion.Patch)
}

// ReadContract decodes a Contract previously written by WriteContract.
func ReadContract(r *bytesrepr.Reader) (Contract, error) {
	var c Contract
	var err error
	c.Bytecode, err = r.ReadBytes()
	if err != nil {
		return c, err
	}

	entries, err := bytesrepr.ReadMap(r,
		func(r *bytesrepr.Reader) (string, error) { return r.ReadString() },
		func(r *bytesrepr.Reader) (Key, error) { return ReadKey(r) },
	)
	if err != nil {
		return c, err
	}
	c.NamedKeys = make(map[string]Key, len(entries))
	for _, e := range entries {
		c.NamedKeys[e.Key] = e.Value
	}

	c.ProtocolVersion.Major, err = r.ReadU32()
	if err != nil {
		return c, err
	}
	c.ProtocolVersion.Minor, err = r.ReadU32()
	if err != nil {
		return c, err
	}
	c.ProtocolVersion.Patch, err = r.ReadU32()
	if err != nil {
		return c, err
	}
	return c, nil
}
