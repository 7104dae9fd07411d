package runtime

import (
	"errors"
	"sort"

	"github.com/wasmstate/engine/bytesrepr"
	"github.com/wasmstate/engine/digest"
	"github.com/wasmstate/engine/gs"
	"github.com/wasmstate/engine/runtimecontext"
	"github.com/wasmstate/engine/trackingcopy"
)

var (
	ErrAccessDenied                    = errors.New("runtime: operation requires a capability this call does not hold")
	ErrKeyNotFound                      = errors.New("runtime: named key not found")
	ErrNotAnAccount                     = errors.New("runtime: target key does not hold an account")
	ErrInsufficientFunds                = errors.New("runtime: purse balance insufficient for transfer")
	ErrMissingArgument                  = errors.New("runtime: argument index out of range")
	ErrContractNotFound                 = errors.New("runtime: call_contract target is not a stored contract")
	ErrIncompatibleProtocolMajorVersion = errors.New("runtime: stored contract's protocol major version does not match the caller's")
	ErrUnknownSystemContract            = errors.New("runtime: unknown system contract index")
	ErrUpgradeContractAtURef            = errors.New("runtime: upgrade target is not an existing contract pointer")
)

// Return is returned by Ret to unwind the running module back to the engine
// with a final result and any extra URef rights the callee wants to hand
// back to its caller, the WASM-host equivalent of a normal function return
// rather than a trap. For a sub-call made through CallContract, Urefs is
// exactly the set added to the calling frame's capability set afterward.
type Return struct {
	Data  []byte
	Urefs []gs.URef
}

func (r *Return) Error() string { return "runtime: execution returned" }

// Revert is returned by Revert to unwind the running module with a
// caller-supplied status code instead of a value, discarding every
// transform the in-flight TrackingCopy has accumulated (the caller simply
// never calls Commit on it).
type Revert struct {
	Code uint32
}

func (r *Revert) Error() string { return "runtime: execution reverted" }

// TransferResult reports which path a transfer_to_account host call took:
// whether it had to create the target account's purse record from scratch,
// or found one already in place.
type TransferResult uint8

const (
	// TransferToNewAccount indicates the target had no account record, so a
	// fresh purse and Account were minted for it as part of the transfer.
	TransferToNewAccount TransferResult = iota
	// TransferToExistingAccount indicates the target already had an
	// account; only its main purse balance changed.
	TransferToExistingAccount
)

// HostFunctions implements every host import a deployed module can call,
// closing over the single deploy's TrackingCopy, CallFrame, and
// CapabilitySet. An Engine marshals guest-supplied pointers/lengths into Go
// values, calls the matching method here, and marshals the result back.
type HostFunctions struct {
	Copy  *trackingcopy.TrackingCopy
	Frame *runtimecontext.CallFrame
	Caps  *runtimecontext.CapabilitySet
	Out   *HostBuffer

	BlockTime       uint64
	DeployHash      gs.Addr32
	MintURef        gs.URef
	PosURef         gs.URef
	ProtocolVersion gs.ProtocolVersion

	// Engine is used to execute a callee's bytecode for a nested
	// call_contract sub-call. Top-level invocations never use it directly.
	Engine Engine

	// ReturnedUrefs is populated by Ret and read back by a caller's
	// CallContract once the sub-call's Execute returns, to extend the
	// caller's own capability set with exactly what the callee handed back.
	ReturnedUrefs []gs.URef

	urefCounter uint64
}

// NewHostFunctions wires a fresh host-call surface around one deploy's
// state. The mint/pos URefs are attenuated to READ-only before being handed
// out via GetMintContractURef/GetPosContractURef/GetSystemContract.
func NewHostFunctions(copy *trackingcopy.TrackingCopy, frame *runtimecontext.CallFrame, caps *runtimecontext.CapabilitySet, blockTime uint64, deployHash gs.Addr32, mint, pos gs.URef, protocolVersion gs.ProtocolVersion, engine Engine) *HostFunctions {
	return &HostFunctions{
		Copy:            copy,
		Frame:           frame,
		Caps:            caps,
		Out:             NewHostBuffer(),
		BlockTime:       blockTime,
		DeployHash:      deployHash,
		MintURef:        mint,
		PosURef:         pos,
		ProtocolVersion: protocolVersion,
		Engine:          engine,
	}
}

// LoadArg stages the argument at index into Out, for the guest to fetch
// with a matched get_arg read.
func (h *HostFunctions) LoadArg(index int) error {
	b, ok := h.Frame.Arg(index)
	if !ok {
		return ErrMissingArgument
	}
	return h.Out.Stage(b)
}

// ArgSize reports the length of the argument at index, without requiring it
// to already be staged.
func (h *HostFunctions) ArgSize(index int) (uint32, error) {
	b, ok := h.Frame.Arg(index)
	if !ok {
		return 0, ErrMissingArgument
	}
	return uint32(len(b)), nil
}

// HasKey reports whether name is present in the running frame's named keys.
func (h *HostFunctions) HasKey(name string) bool {
	_, ok := h.Frame.NamedKeys[name]
	return ok
}

// PutKey adds or overwrites a named key in the running frame, and folds the
// same change into the persisted Account or Contract at the frame's own
// address so it survives past this invocation.
func (h *HostFunctions) PutKey(name string, key gs.Key) error {
	if h.Frame.NamedKeys == nil {
		h.Frame.NamedKeys = make(map[string]gs.Key)
	}
	h.Frame.NamedKeys[name] = key
	target := gs.NewAccountKey(h.Frame.Address)
	v, exists, err := h.Copy.Read(gs.NewHashKey(h.Frame.Address))
	if err != nil {
		return err
	}
	if exists && v.Contract != nil {
		target = gs.NewHashKey(h.Frame.Address)
	}
	h.Copy.AddKeys(target, map[string]gs.Key{name: key})
	return nil
}

// LoadKey stages the trie-key bytes of the named key into Out.
func (h *HostFunctions) LoadKey(name string) (gs.Key, error) {
	k, ok := h.Frame.NamedKeys[name]
	if !ok {
		return gs.Key{}, ErrKeyNotFound
	}
	if err := h.Out.Stage(k.TrieKeyBytes()); err != nil {
		return gs.Key{}, err
	}
	return k, nil
}

// RemoveKey drops name from the running frame's named keys.
func (h *HostFunctions) RemoveKey(name string) {
	delete(h.Frame.NamedKeys, name)
}

// LoadNamedKeys stages the full named-key table of the running frame into
// Out, canonically encoded as a map ordered by key name.
func (h *HostFunctions) LoadNamedKeys() error {
	names := make([]string, 0, len(h.Frame.NamedKeys))
	for n := range h.Frame.NamedKeys {
		names = append(names, n)
	}
	sort.Strings(names)
	entries := make([]bytesrepr.MapEntry[string, gs.Key], 0, len(names))
	for _, n := range names {
		entries = append(entries, bytesrepr.MapEntry[string, gs.Key]{Key: n, Value: h.Frame.NamedKeys[n]})
	}
	w := bytesrepr.NewWriter(128)
	bytesrepr.WriteMap(w, entries,
		func(w *bytesrepr.Writer, k string) { w.WriteString(k) },
		func(w *bytesrepr.Writer, v gs.Key) { gs.WriteKey(w, v) },
	)
	return h.Out.Stage(w.Bytes())
}

// ReadHostBuffer flushes whatever is staged in Out, the generic fetch a
// guest uses for any oversized result (named keys, a read value, a
// call_contract return, a balance). It frees the slot so the next oversized
// host call can stage into it.
func (h *HostFunctions) ReadHostBuffer(capacity uint32) ([]byte, error) {
	return h.Out.Flush(capacity)
}

// nextAddress derives the next address from this invocation's deterministic
// PRF: Keccak(deploy_hash, phase, fn_store_id, label). label distinguishes
// the address spaces consumed from the same counter (URefs vs. stored
// contracts) so they never collide.
func (h *HostFunctions) nextAddress(label string) gs.Addr32 {
	h.urefCounter++
	var counterBytes [8]byte
	for i := 0; i < 8; i++ {
		counterBytes[i] = byte(h.urefCounter >> (8 * i))
	}
	seed := digest.Keccak256(h.DeployHash[:], []byte{byte(h.Frame.Phase)}, counterBytes[:], []byte(label))
	var addr gs.Addr32
	copy(addr[:], seed)
	return addr
}

// NewURef mints a fresh URef with full rights, seeded with initValue, and
// marks it warm in the calling frame's capability set.
func (h *HostFunctions) NewURef(initValue gs.Value) (gs.URef, error) {
	u := gs.URef{Addr: h.nextAddress("uref"), Rights: gs.ReadAddWrite}
	h.Copy.Write(gs.NewURefKey(u), initValue)
	h.Caps.Validate(u)
	return u, nil
}

// requireRights fails the call unless u's address is warm with at least
// want, re-validating u itself if it isn't already tracked (a URef that
// arrived as a deploy argument is trusted at face value the first time).
func (h *HostFunctions) requireRights(u gs.URef, want gs.AccessRights) error {
	if !h.Caps.Has(u.Addr, want) {
		if !u.Rights.Has(want) {
			return ErrAccessDenied
		}
		h.Caps.Validate(u)
	}
	return nil
}

// Write stores value at uref, requiring Write rights.
func (h *HostFunctions) Write(uref gs.URef, value gs.Value) error {
	if err := h.requireRights(uref, gs.Write); err != nil {
		return err
	}
	h.Copy.Write(gs.NewURefKey(uref), value)
	return nil
}

// Read stages the value at uref into Out, requiring Read rights.
func (h *HostFunctions) Read(uref gs.URef) (gs.Value, bool, error) {
	if err := h.requireRights(uref, gs.Read); err != nil {
		return gs.Value{}, false, err
	}
	v, exists, err := h.Copy.Read(gs.NewURefKey(uref))
	if err != nil {
		return gs.Value{}, false, err
	}
	if !exists {
		return gs.Value{}, false, nil
	}
	w := bytesrepr.NewWriter(64)
	gs.WriteValue(w, v)
	if err := h.Out.Stage(w.Bytes()); err != nil {
		return gs.Value{}, false, err
	}
	return v, true, nil
}

// Add accumulates delta onto the U512 stored at uref, requiring Add rights.
func (h *HostFunctions) Add(uref gs.URef, delta bytesrepr.U512) error {
	if err := h.requireRights(uref, gs.Add); err != nil {
		return err
	}
	h.Copy.AddInt(gs.NewURefKey(uref), delta)
	return nil
}

// WriteLocal stores value under the Local key H(seed || keyBytes).
func (h *HostFunctions) WriteLocal(seed gs.Addr32, keyBytes []byte, value gs.Value) {
	h.Copy.Write(gs.NewLocalKey(seed, keyBytes), value)
}

// ReadLocal stages the value at the Local key H(seed || keyBytes) into Out.
func (h *HostFunctions) ReadLocal(seed gs.Addr32, keyBytes []byte) (gs.Value, bool, error) {
	v, exists, err := h.Copy.Read(gs.NewLocalKey(seed, keyBytes))
	if err != nil || !exists {
		return gs.Value{}, exists, err
	}
	w := bytesrepr.NewWriter(64)
	gs.WriteValue(w, v)
	if err := h.Out.Stage(w.Bytes()); err != nil {
		return gs.Value{}, false, err
	}
	return v, true, nil
}

func (h *HostFunctions) readAccount(addr gs.Addr32) (*gs.Account, error) {
	v, exists, err := h.Copy.Read(gs.NewAccountKey(addr))
	if err != nil {
		return nil, err
	}
	if !exists || v.Account == nil {
		return nil, ErrNotAnAccount
	}
	return v.Account, nil
}

// GetMainPurse returns the running account's main purse URef.
func (h *HostFunctions) GetMainPurse() (gs.URef, error) {
	acct, err := h.readAccount(h.Frame.Address)
	if err != nil {
		return gs.URef{}, err
	}
	return acct.MainPurse, nil
}

// GetCaller reports the address that invoked the running frame.
func (h *HostFunctions) GetCaller() gs.Addr32 { return h.Frame.Caller }

// GetPhase reports which part of deploy execution the running frame
// belongs to.
func (h *HostFunctions) GetPhase() runtimecontext.Phase { return h.Frame.Phase }

// TransferToAccount moves amount from the calling frame's main purse to
// target's main purse. If target has no account record yet, a fresh purse
// is minted for it (mirroring what the mint contract's create entry point
// would do) and a new Account is written before the transfer proceeds,
// reporting TransferToNewAccount; otherwise only the balance moves and the
// result is TransferToExistingAccount. A transfer for more than the source
// purse holds fails softly with ErrInsufficientFunds rather than trapping.
func (h *HostFunctions) TransferToAccount(target gs.Addr32, amount bytesrepr.U512) (TransferResult, error) {
	caller, err := h.readAccount(h.Frame.Address)
	if err != nil {
		return 0, err
	}
	return h.transferToAccountFrom(caller.MainPurse, target, amount)
}

// TransferFromPurseToAccount is the explicit-source variant of
// TransferToAccount, requiring Write rights on source rather than assuming
// the calling account's own main purse.
func (h *HostFunctions) TransferFromPurseToAccount(source gs.URef, target gs.Addr32, amount bytesrepr.U512) (TransferResult, error) {
	if err := h.requireRights(source, gs.Write); err != nil {
		return 0, err
	}
	return h.transferToAccountFrom(source, target, amount)
}

func (h *HostFunctions) transferToAccountFrom(source gs.URef, target gs.Addr32, amount bytesrepr.U512) (TransferResult, error) {
	targetAccount, err := h.readAccount(target)
	if err != nil {
		if err != ErrNotAnAccount {
			return 0, err
		}
		purse, uerr := h.NewURef(gs.NewU512Value(bytesrepr.U512{}))
		if uerr != nil {
			return 0, uerr
		}
		if terr := h.transferBetweenPurses(source, purse, amount); terr != nil {
			return 0, terr
		}
		acct := gs.NewAccount(target, purse)
		acct.NamedKeys["mint"] = gs.NewURefKey(h.MintURef.Attenuate())
		h.Copy.Write(gs.NewAccountKey(target), gs.Value{Tag: gs.ValueTagAccount, Account: acct})
		return TransferToNewAccount, nil
	}

	h.Caps.Validate(gs.URef{Addr: targetAccount.MainPurse.Addr, Rights: gs.Add})
	if err := h.transferBetweenPurses(source, targetAccount.MainPurse, amount); err != nil {
		return 0, err
	}
	return TransferToExistingAccount, nil
}

// TransferFromPurseToPurse moves amount directly between two purse URefs,
// requiring Write on the source and Add on the destination.
func (h *HostFunctions) TransferFromPurseToPurse(source, dest gs.URef, amount bytesrepr.U512) error {
	if err := h.requireRights(source, gs.Write); err != nil {
		return err
	}
	if err := h.requireRights(dest, gs.Add); err != nil {
		return err
	}
	return h.transferBetweenPurses(source, dest, amount)
}

func (h *HostFunctions) transferBetweenPurses(source, dest gs.URef, amount bytesrepr.U512) error {
	if source.Addr == dest.Addr {
		return nil
	}
	balance, exists, err := h.Copy.Read(gs.NewURefKey(source))
	if err != nil {
		return err
	}
	current := bytesrepr.U512{}
	if exists {
		current = balance.U512
	}
	remaining, underflow := current.Sub(amount)
	if underflow {
		return ErrInsufficientFunds
	}
	h.Copy.Write(gs.NewURefKey(source), gs.NewU512Value(remaining))
	h.Copy.AddInt(gs.NewURefKey(dest), amount)
	return nil
}

// GetBalance reports and stages the U512 balance held at purse, requiring
// Read rights.
func (h *HostFunctions) GetBalance(purse gs.URef) (bytesrepr.U512, error) {
	if err := h.requireRights(purse, gs.Read); err != nil {
		return bytesrepr.U512{}, err
	}
	v, exists, err := h.Copy.Read(gs.NewURefKey(purse))
	if err != nil {
		return bytesrepr.U512{}, err
	}
	balance := bytesrepr.U512{}
	if exists {
		balance = v.U512
	}
	w := bytesrepr.NewWriter(64)
	bytesrepr.WriteU512(w, balance)
	if err := h.Out.Stage(w.Bytes()); err != nil {
		return bytesrepr.U512{}, err
	}
	return balance, nil
}

// AddAssociatedKey adds or overwrites an associated key on the account at
// accountAddr and persists the change.
func (h *HostFunctions) AddAssociatedKey(accountAddr gs.Addr32, key gs.Addr32, weight gs.Weight) error {
	acct, err := h.readAccount(accountAddr)
	if err != nil {
		return err
	}
	acct.AddAssociatedKey(key, weight)
	h.Copy.Write(gs.NewAccountKey(accountAddr), gs.Value{Tag: gs.ValueTagAccount, Account: acct})
	return nil
}

// RemoveAssociatedKey removes an associated key, persisting the change.
func (h *HostFunctions) RemoveAssociatedKey(accountAddr gs.Addr32, key gs.Addr32) error {
	acct, err := h.readAccount(accountAddr)
	if err != nil {
		return err
	}
	if err := acct.RemoveAssociatedKey(key); err != nil {
		return err
	}
	h.Copy.Write(gs.NewAccountKey(accountAddr), gs.Value{Tag: gs.ValueTagAccount, Account: acct})
	return nil
}

// UpdateAssociatedKey changes an existing associated key's weight.
func (h *HostFunctions) UpdateAssociatedKey(accountAddr gs.Addr32, key gs.Addr32, weight gs.Weight) error {
	acct, err := h.readAccount(accountAddr)
	if err != nil {
		return err
	}
	if err := acct.UpdateAssociatedKey(key, weight); err != nil {
		return err
	}
	h.Copy.Write(gs.NewAccountKey(accountAddr), gs.Value{Tag: gs.ValueTagAccount, Account: acct})
	return nil
}

// SetActionThreshold applies a new (deployment, key_management) threshold
// pair to the account at accountAddr.
func (h *HostFunctions) SetActionThreshold(accountAddr gs.Addr32, deployment, keyManagement gs.Weight) error {
	acct, err := h.readAccount(accountAddr)
	if err != nil {
		return err
	}
	if err := acct.SetActionThreshold(deployment, keyManagement); err != nil {
		return err
	}
	h.Copy.Write(gs.NewAccountKey(accountAddr), gs.Value{Tag: gs.ValueTagAccount, Account: acct})
	return nil
}

// GetBlocktime reports the block timestamp the deploy executes under.
func (h *HostFunctions) GetBlocktime() uint64 { return h.BlockTime }

// GetDeployHash reports the identifying hash of the running deploy.
func (h *HostFunctions) GetDeployHash() gs.Addr32 { return h.DeployHash }

// GetMintContractURef returns a READ-only handle to the mint system
// contract, never the unattenuated URef held internally.
func (h *HostFunctions) GetMintContractURef() gs.URef { return h.MintURef.Attenuate() }

// GetPosContractURef returns a READ-only handle to the proof-of-stake
// system contract.
func (h *HostFunctions) GetPosContractURef() gs.URef { return h.PosURef.Attenuate() }

// GetSystemContract returns a READ-only handle to the system contract named
// by index (0 = mint, 1 = proof-of-stake), the unified accessor backing
// get_system_contract.
func (h *HostFunctions) GetSystemContract(index uint32) (gs.URef, error) {
	switch index {
	case 0:
		return h.MintURef.Attenuate(), nil
	case 1:
		return h.PosURef.Attenuate(), nil
	default:
		return gs.URef{}, ErrUnknownSystemContract
	}
}

// StoreFunctionAtHash persists the running frame's own bytecode as a new
// Contract under a freshly derived Hash key, the mechanism store_function_
// at_hash exposes for a contract to publish a callable copy of itself.
func (h *HostFunctions) StoreFunctionAtHash(namedKeys map[string]gs.Key) (gs.Addr32, error) {
	addr := h.nextAddress("contract")
	contract := gs.Contract{
		Bytecode:        h.Frame.Code,
		NamedKeys:       namedKeys,
		ProtocolVersion: h.ProtocolVersion,
	}
	h.Copy.Write(gs.NewHashKey(addr), gs.Value{Tag: gs.ValueTagContract, Contract: &contract})
	return addr, nil
}

// UpgradeContractAtURef overwrites the Contract pointer held at the named
// key name with newContractKey, requiring Write rights on the URef and that
// it currently holds a pointer to an existing contract.
func (h *HostFunctions) UpgradeContractAtURef(name string, newContractKey gs.Key) error {
	k, ok := h.Frame.NamedKeys[name]
	if !ok || k.Tag != gs.KeyTagURef {
		return ErrUpgradeContractAtURef
	}
	existing, exists, err := h.Copy.Read(k)
	if err != nil {
		return err
	}
	if !exists || existing.Tag != gs.ValueTagKey || existing.Key.Tag != gs.KeyTagHash {
		return ErrUpgradeContractAtURef
	}
	if err := h.requireRights(k.URef, gs.Write); err != nil {
		return err
	}
	h.Copy.Write(k, gs.NewKeyValue(newContractKey))
	return nil
}

// CallContract resolves key to a stored Contract, checks its protocol
// version is major-compatible with the caller's own, and executes it as a
// nested sub-call sharing this call's gas counter. extraUrefs are added to
// the sub-call's capability set alongside a copy of this call's own warm
// set and the mint/PoS system URefs; on a successful Ret, the urefs the
// callee returned are added to this call's own capability set.
func (h *HostFunctions) CallContract(key gs.Key, args [][]byte, extraUrefs []gs.URef) ([]byte, error) {
	v, exists, err := h.Copy.Read(key)
	if err != nil {
		return nil, err
	}
	if !exists || v.Tag != gs.ValueTagContract || v.Contract == nil {
		return nil, ErrContractNotFound
	}
	contract := v.Contract
	if !h.ProtocolVersion.Compatible(contract.ProtocolVersion) {
		return nil, ErrIncompatibleProtocolMajorVersion
	}

	namedKeys := make(map[string]gs.Key, len(contract.NamedKeys))
	for n, k := range contract.NamedKeys {
		namedKeys[n] = k
	}
	subFrame := h.Frame.EnterSubCall(key.Hash, contract.Bytecode, key.Hash, args, bytesrepr.U512{}, namedKeys)

	subCaps := h.Caps.Copy()
	for _, u := range extraUrefs {
		subCaps.Validate(u)
	}
	subCaps.Validate(h.MintURef)
	subCaps.Validate(h.PosURef)

	subHost := NewHostFunctions(h.Copy, subFrame, subCaps, h.BlockTime, h.DeployHash, h.MintURef, h.PosURef, contract.ProtocolVersion, h.Engine)

	result, err := h.Engine.Execute(contract.Bytecode, subFrame, subHost)
	if err != nil {
		return nil, err
	}

	for _, u := range subHost.ReturnedUrefs {
		h.Caps.Validate(u)
	}
	return result, nil
}

// Ret stages data as the call's result, records urefs for the caller's
// CallContract to extend its own capability set with, and unwinds execution
// normally.
func (h *HostFunctions) Ret(data []byte, urefs []gs.URef) error {
	h.ReturnedUrefs = urefs
	h.Out.Clear()
	_ = h.Out.Stage(data)
	return &Return{Data: data, Urefs: urefs}
}

// RevertWith unwinds execution with a status code and no transforms
// committed, since the caller simply discards the TrackingCopy on error.
func (h *HostFunctions) RevertWith(code uint32) error {
	return &Revert{Code: code}
}
