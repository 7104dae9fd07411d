package runtimecontext

import (
	"github.com/wasmstate/engine/gs"
	"github.com/wasmstate/engine/metrics"
)

// CapabilitySet tracks which URef addresses a running invocation has marked
// warm, along with the union of rights recorded for each. Validate records
// the rights a URef itself carries; nothing here checks an address against
// any account's named keys. Once an address is warm, a host call against it
// checks only the recorded rights — the same warm/cold split the original
// access-list tracker used for addresses and storage slots, here applied to
// capability addresses instead.
type CapabilitySet struct {
	warm map[gs.Addr32]gs.AccessRights
}

// NewCapabilitySet returns an empty set.
func NewCapabilitySet() *CapabilitySet {
	return &CapabilitySet{warm: make(map[gs.Addr32]gs.AccessRights)}
}

// Validate marks u's address warm, merging u.Rights into whatever rights
// were already recorded for that address. Returns whether the address was
// already warm before this call.
func (c *CapabilitySet) Validate(u gs.URef) bool {
	existing, ok := c.warm[u.Addr]
	if ok {
		c.warm[u.Addr] = existing | u.Rights
		return true
	}
	c.warm[u.Addr] = u.Rights
	metrics.CapabilitiesWarm.Set(int64(len(c.warm)))
	return false
}

// Contains reports whether addr has been validated at all this invocation.
func (c *CapabilitySet) Contains(addr gs.Addr32) bool {
	_, ok := c.warm[addr]
	return ok
}

// Rights returns the union of rights recorded for addr, and whether addr is
// warm at all.
func (c *CapabilitySet) Rights(addr gs.Addr32) (gs.AccessRights, bool) {
	r, ok := c.warm[addr]
	return r, ok
}

// Has reports whether addr is warm with at least the requested rights.
func (c *CapabilitySet) Has(addr gs.Addr32, want gs.AccessRights) bool {
	r, ok := c.warm[addr]
	return ok && r.Has(want)
}

// Forget removes addr from the warm set, so Contains and Has report false
// for it until it is validated again.
func (c *CapabilitySet) Forget(addr gs.Addr32) {
	delete(c.warm, addr)
	metrics.CapabilitiesWarm.Set(int64(len(c.warm)))
}

// Copy returns a deep copy, given to a nested sub-call so it inherits the
// caller's warm set without being able to widen the caller's own view of it.
func (c *CapabilitySet) Copy() *CapabilitySet {
	cp := &CapabilitySet{warm: make(map[gs.Addr32]gs.AccessRights, len(c.warm))}
	for k, v := range c.warm {
		cp.warm[k] = v
	}
	return cp
}

// Len reports how many distinct addresses are currently warm.
func (c *CapabilitySet) Len() int {
	return len(c.warm)
}
