package runtime

import (
	"context"
	"errors"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wasmstate/engine/bytesrepr"
	"github.com/wasmstate/engine/gs"
	"github.com/wasmstate/engine/runtimecontext"
)

// ErrNoExportedCall is returned when a module has no "call" export, the
// fixed entry point every deployed module is required to expose.
var ErrNoExportedCall = errors.New("runtime: module does not export a \"call\" function")

// WazeroEngine executes real WASM binaries with a fixed host import table
// bound to a HostFunctions surface, using tetratelabs/wazero as the
// sandboxing interpreter/compiler.
type WazeroEngine struct {
	newRuntime func(ctx context.Context) wazero.Runtime
}

// NewWazeroEngine returns an engine backed by wazero's default interpreter
// configuration, which requires no native code generation and is safe to
// run in restricted execution environments.
func NewWazeroEngine() *WazeroEngine {
	return &WazeroEngine{
		newRuntime: func(ctx context.Context) wazero.Runtime {
			return wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
		},
	}
}

// Execute instantiates code as a fresh WASM module, wires its "env" host
// imports to host, calls the module's exported "call" function, and returns
// whatever Ret staged. A Revert surfaces as an error carrying its status
// code; any other trap surfaces as the underlying wazero error.
func (e *WazeroEngine) Execute(code []byte, frame *runtimecontext.CallFrame, host *HostFunctions) ([]byte, error) {
	ctx := context.Background()
	rt := e.newRuntime(ctx)
	defer rt.Close(ctx)

	if err := e.buildHostModule(ctx, rt, frame, host); err != nil {
		return nil, err
	}

	compiled, err := rt.CompileModule(ctx, code)
	if err != nil {
		return nil, err
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		if rev, ok := asRevert(err); ok {
			return nil, rev
		}
		return nil, err
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction("call")
	if fn == nil {
		return nil, ErrNoExportedCall
	}

	if _, err := fn.Call(ctx); err != nil {
		if rev, ok := asRevert(err); ok {
			return nil, rev
		}
		if ret, ok := asReturn(err); ok {
			return ret.Data, nil
		}
		return nil, err
	}

	out, _ := host.Out.Read(0, uint32(host.Out.Len()))
	return out, nil
}

// asRevert and asReturn unwrap the Return/Revert sentinels a host function
// raises to unwind a module early: wazero reports a host-function error by
// wrapping it, so both sentinels are matched with errors.As.
func asRevert(err error) (*Revert, bool) {
	var rev *Revert
	if errors.As(err, &rev) {
		return rev, true
	}
	return nil, false
}

func asReturn(err error) (*Return, bool) {
	var ret *Return
	if errors.As(err, &ret) {
		return ret, true
	}
	return nil, false
}

// buildHostModule registers the "env" host module every deployed contract
// links against. Each import marshals guest linear-memory pointers/lengths
// into Go values, calls the matching HostFunctions method, and marshals any
// result back into guest memory via the module's own "memory" export.
func (e *WazeroEngine) buildHostModule(ctx context.Context, rt wazero.Runtime, frame *runtimecontext.CallFrame, host *HostFunctions) error {
	mem := func(mod api.Module) api.Memory { return mod.Memory() }

	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, index uint32) uint32 {
		if chargeHostCall(frame) != nil {
			return 1
		}
		if err := host.LoadArg(int(index)); err != nil {
			return 1
		}
		return 0
	}).Export("load_arg").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, index uint32) uint32 {
		size, err := host.ArgSize(int(index))
		if err != nil {
			return 0
		}
		return size
	}).Export("get_arg_size").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, dstOff, dstCap uint32) uint32 {
		data, err := host.Out.Flush(dstCap)
		if err != nil {
			return 1
		}
		if !mem(mod).Write(dstOff, data) {
			return 1
		}
		return 0
	}).Export("get_arg").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, dstOff, dstCap uint32) uint32 {
		data, err := host.ReadHostBuffer(dstCap)
		if err != nil {
			return 1
		}
		if !mem(mod).Write(dstOff, data) {
			return 1
		}
		return 0
	}).Export("read_host_buffer").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, nameOff, nameSize uint32) uint32 {
		name, ok := mem(mod).Read(nameOff, nameSize)
		if !ok {
			return 0
		}
		if host.HasKey(string(name)) {
			return 1
		}
		return 0
	}).Export("has_key").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, nameOff, nameSize, keyOff, keySize uint32) uint32 {
		if chargeHostCall(frame) != nil {
			return 1
		}
		name, ok := mem(mod).Read(nameOff, nameSize)
		if !ok {
			return 1
		}
		keyBytes, ok := mem(mod).Read(keyOff, keySize)
		if !ok {
			return 1
		}
		r := bytesrepr.NewReader(keyBytes)
		key, err := gs.ReadKey(r)
		if err != nil {
			return 1
		}
		if err := host.PutKey(string(name), key); err != nil {
			return 1
		}
		return 0
	}).Export("put_key").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, nameOff, nameSize uint32) uint32 {
		name, ok := mem(mod).Read(nameOff, nameSize)
		if !ok {
			return 1
		}
		if _, err := host.LoadKey(string(name)); err != nil {
			return 1
		}
		return 0
	}).Export("load_key").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, nameOff, nameSize uint32) {
		name, ok := mem(mod).Read(nameOff, nameSize)
		if !ok {
			return
		}
		host.RemoveKey(string(name))
	}).Export("remove_key").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, totalOff, sizeOff uint32) uint32 {
		if err := host.LoadNamedKeys(); err != nil {
			return 1
		}
		if !mem(mod).WriteUint32Le(totalOff, uint32(len(frame.NamedKeys))) {
			return 1
		}
		if !mem(mod).WriteUint32Le(sizeOff, uint32(host.Out.Len())) {
			return 1
		}
		return 0
	}).Export("load_named_keys").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, dataOff, dataSize uint32) uint32 {
		if chargeHostCall(frame) != nil {
			return 1
		}
		data, ok := mem(mod).Read(dataOff, dataSize)
		if !ok {
			return 1
		}
		if _, err := host.NewURef(gs.NewByteArrayValue(data)); err != nil {
			return 1
		}
		return 0
	}).Export("new_uref").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, urefOff, urefSize, valOff, valSize uint32) uint32 {
		if chargeHostCall(frame) != nil {
			return 1
		}
		u, ok := readURef(mem(mod), urefOff, urefSize)
		if !ok {
			return 1
		}
		val, ok := readValue(mem(mod), valOff, valSize)
		if !ok {
			return 1
		}
		if err := host.Write(u, val); err != nil {
			return 1
		}
		return 0
	}).Export("write").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, urefOff, urefSize, sizeOff uint32) uint32 {
		if chargeHostCall(frame) != nil {
			return 1
		}
		u, ok := readURef(mem(mod), urefOff, urefSize)
		if !ok {
			return 1
		}
		_, exists, err := host.Read(u)
		if err != nil {
			return 1
		}
		if !exists {
			return 2
		}
		if !mem(mod).WriteUint32Le(sizeOff, uint32(host.Out.Len())) {
			return 1
		}
		return 0
	}).Export("read").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, urefOff, urefSize, deltaOff, deltaSize uint32) uint32 {
		if chargeHostCall(frame) != nil {
			return 1
		}
		u, ok := readURef(mem(mod), urefOff, urefSize)
		if !ok {
			return 1
		}
		delta, ok := readU512(mem(mod), deltaOff, deltaSize)
		if !ok {
			return 1
		}
		if err := host.Add(u, delta); err != nil {
			return 1
		}
		return 0
	}).Export("add").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, seedOff, keyOff, keySize, valOff, valSize uint32) uint32 {
		if chargeHostCall(frame) != nil {
			return 1
		}
		seed, ok := readAddr32(mem(mod), seedOff)
		if !ok {
			return 1
		}
		keyBytes, ok := mem(mod).Read(keyOff, keySize)
		if !ok {
			return 1
		}
		val, ok := readValue(mem(mod), valOff, valSize)
		if !ok {
			return 1
		}
		host.WriteLocal(seed, keyBytes, val)
		return 0
	}).Export("write_local").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, seedOff, keyOff, keySize uint32) uint32 {
		if chargeHostCall(frame) != nil {
			return 1
		}
		seed, ok := readAddr32(mem(mod), seedOff)
		if !ok {
			return 1
		}
		keyBytes, ok := mem(mod).Read(keyOff, keySize)
		if !ok {
			return 1
		}
		_, exists, err := host.ReadLocal(seed, keyBytes)
		if err != nil {
			return 1
		}
		if !exists {
			return 2
		}
		return 0
	}).Export("read_local").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, dstOff uint32) uint32 {
		if !mem(mod).Write(dstOff, host.GetCaller()[:]) {
			return 1
		}
		return 0
	}).Export("get_caller").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, dstOff uint32) uint32 {
		purse, err := host.GetMainPurse()
		if err != nil {
			return 1
		}
		w := bytesrepr.NewWriter(33)
		gs.WriteURef(w, purse)
		if !mem(mod).Write(dstOff, w.Bytes()) {
			return 1
		}
		return 0
	}).Export("get_main_purse").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) uint32 {
		return uint32(host.GetPhase())
	}).Export("get_phase").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) uint64 {
		return host.GetBlocktime()
	}).Export("get_blocktime").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, index, dstOff uint32) uint32 {
		u, err := host.GetSystemContract(index)
		if err != nil {
			return 1
		}
		w := bytesrepr.NewWriter(33)
		gs.WriteURef(w, u)
		if !mem(mod).Write(dstOff, w.Bytes()) {
			return 1
		}
		return 0
	}).Export("get_system_contract").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, purseOff, purseSize, sizeOff uint32) uint32 {
		if chargeHostCall(frame) != nil {
			return 1
		}
		u, ok := readURef(mem(mod), purseOff, purseSize)
		if !ok {
			return 1
		}
		if _, err := host.GetBalance(u); err != nil {
			return 1
		}
		if !mem(mod).WriteUint32Le(sizeOff, uint32(host.Out.Len())) {
			return 1
		}
		return 0
	}).Export("get_balance").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, targetOff, amountOff, amountSize uint32) uint32 {
		if chargeHostCall(frame) != nil {
			return 1
		}
		target, ok := readAddr32(mem(mod), targetOff)
		if !ok {
			return 1
		}
		amount, ok := readU512(mem(mod), amountOff, amountSize)
		if !ok {
			return 1
		}
		result, err := host.TransferToAccount(target, amount)
		if err != nil {
			return 2
		}
		return uint32(result)
	}).Export("transfer_to_account").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, sourceOff, sourceSize, targetOff, amountOff, amountSize uint32) uint32 {
		if chargeHostCall(frame) != nil {
			return 1
		}
		source, ok := readURef(mem(mod), sourceOff, sourceSize)
		if !ok {
			return 1
		}
		target, ok := readAddr32(mem(mod), targetOff)
		if !ok {
			return 1
		}
		amount, ok := readU512(mem(mod), amountOff, amountSize)
		if !ok {
			return 1
		}
		result, err := host.TransferFromPurseToAccount(source, target, amount)
		if err != nil {
			return 2
		}
		return uint32(result)
	}).Export("transfer_from_purse_to_account").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, sourceOff, sourceSize, destOff, destSize, amountOff, amountSize uint32) uint32 {
		if chargeHostCall(frame) != nil {
			return 1
		}
		source, ok := readURef(mem(mod), sourceOff, sourceSize)
		if !ok {
			return 1
		}
		dest, ok := readURef(mem(mod), destOff, destSize)
		if !ok {
			return 1
		}
		amount, ok := readU512(mem(mod), amountOff, amountSize)
		if !ok {
			return 1
		}
		if err := host.TransferFromPurseToPurse(source, dest, amount); err != nil {
			return 1
		}
		return 0
	}).Export("transfer_from_purse_to_purse").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, accountOff, keyOff, weight uint32) uint32 {
		account, ok := readAddr32(mem(mod), accountOff)
		if !ok {
			return 1
		}
		key, ok := readAddr32(mem(mod), keyOff)
		if !ok {
			return 1
		}
		if err := host.AddAssociatedKey(account, key, gs.Weight(weight)); err != nil {
			return 1
		}
		return 0
	}).Export("add_associated_key").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, accountOff, keyOff uint32) uint32 {
		account, ok := readAddr32(mem(mod), accountOff)
		if !ok {
			return 1
		}
		key, ok := readAddr32(mem(mod), keyOff)
		if !ok {
			return 1
		}
		if err := host.RemoveAssociatedKey(account, key); err != nil {
			return 1
		}
		return 0
	}).Export("remove_associated_key").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, accountOff, keyOff, weight uint32) uint32 {
		account, ok := readAddr32(mem(mod), accountOff)
		if !ok {
			return 1
		}
		key, ok := readAddr32(mem(mod), keyOff)
		if !ok {
			return 1
		}
		if err := host.UpdateAssociatedKey(account, key, gs.Weight(weight)); err != nil {
			return 1
		}
		return 0
	}).Export("update_associated_key").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, accountOff, deployment, keyManagement uint32) uint32 {
		account, ok := readAddr32(mem(mod), accountOff)
		if !ok {
			return 1
		}
		if err := host.SetActionThreshold(account, gs.Weight(deployment), gs.Weight(keyManagement)); err != nil {
			return 1
		}
		return 0
	}).Export("set_action_threshold").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, keysOff, keysSize uint32) uint32 {
		if chargeHostCall(frame) != nil {
			return 1
		}
		raw, ok := mem(mod).Read(keysOff, keysSize)
		if !ok {
			return 1
		}
		keys, ok := readNamedKeys(raw)
		if !ok {
			return 1
		}
		addr, err := host.StoreFunctionAtHash(keys)
		if err != nil {
			return 1
		}
		if err := host.Out.Stage(addr[:]); err != nil {
			return 1
		}
		return 0
	}).Export("store_function_at_hash").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, nameOff, nameSize, keyOff, keySize uint32) uint32 {
		if chargeHostCall(frame) != nil {
			return 1
		}
		name, ok := mem(mod).Read(nameOff, nameSize)
		if !ok {
			return 1
		}
		raw, ok := mem(mod).Read(keyOff, keySize)
		if !ok {
			return 1
		}
		r := bytesrepr.NewReader(raw)
		key, err := gs.ReadKey(r)
		if err != nil {
			return 1
		}
		if err := host.UpgradeContractAtURef(string(name), key); err != nil {
			return 1
		}
		return 0
	}).Export("upgrade_contract_at_uref").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, keyOff, keySize, argsOff, argsSize, urefsOff, urefsSize, outSizeOff uint32) uint32 {
		if chargeHostCall(frame) != nil {
			return 1
		}
		raw, ok := mem(mod).Read(keyOff, keySize)
		if !ok {
			return 1
		}
		r := bytesrepr.NewReader(raw)
		key, err := gs.ReadKey(r)
		if err != nil {
			return 1
		}
		args, ok := readArgVec(mem(mod), argsOff, argsSize)
		if !ok {
			return 1
		}
		extraUrefs, ok := readURefVec(mem(mod), urefsOff, urefsSize)
		if !ok {
			return 1
		}
		result, err := host.CallContract(key, args, extraUrefs)
		if err != nil {
			return 1
		}
		if err := host.Out.Stage(result); err != nil {
			return 1
		}
		if !mem(mod).WriteUint32Le(outSizeOff, uint32(len(result))) {
			return 1
		}
		return 0
	}).Export("call_contract").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, dataOff, dataSize, urefsOff, urefsSize uint32) {
		data, ok := mem(mod).Read(dataOff, dataSize)
		if !ok {
			return
		}
		urefs, ok := readURefVec(mem(mod), urefsOff, urefsSize)
		if !ok {
			urefs = nil
		}
		panic(host.Ret(data, urefs))
	}).Export("ret").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, code uint32) {
		panic(host.RevertWith(code))
	}).Export("revert").
		Instantiate(ctx)

	return err
}

func readAddr32(mem api.Memory, off uint32) (gs.Addr32, bool) {
	raw, ok := mem.Read(off, 32)
	if !ok {
		return gs.Addr32{}, false
	}
	var addr gs.Addr32
	copy(addr[:], raw)
	return addr, true
}

func readU512(mem api.Memory, off, size uint32) (bytesrepr.U512, bool) {
	raw, ok := mem.Read(off, size)
	if !ok {
		return bytesrepr.U512{}, false
	}
	r := bytesrepr.NewReader(raw)
	v, err := bytesrepr.ReadU512(r)
	if err != nil {
		return bytesrepr.U512{}, false
	}
	return v, true
}

func readURef(mem api.Memory, off, size uint32) (gs.URef, bool) {
	raw, ok := mem.Read(off, size)
	if !ok {
		return gs.URef{}, false
	}
	r := bytesrepr.NewReader(raw)
	key, err := gs.ReadKey(r)
	if err != nil || key.Tag != gs.KeyTagURef {
		return gs.URef{}, false
	}
	return key.URef, true
}

func readValue(mem api.Memory, off, size uint32) (gs.Value, bool) {
	raw, ok := mem.Read(off, size)
	if !ok {
		return gs.Value{}, false
	}
	r := bytesrepr.NewReader(raw)
	v, err := gs.ReadValue(r)
	if err != nil {
		return gs.Value{}, false
	}
	return v, true
}

// readURefVec decodes the wire format WriteVector/gs.WriteURef produce: a
// length-prefixed vector of 33-byte (address, rights) pairs. Used for both
// a sub-call's extra capability arguments and Ret's returned URef set.
func readURefVec(mem api.Memory, off, size uint32) ([]gs.URef, bool) {
	if size == 0 {
		return nil, true
	}
	raw, ok := mem.Read(off, size)
	if !ok {
		return nil, false
	}
	r := bytesrepr.NewReader(raw)
	urefs, err := bytesrepr.ReadVector(r, gs.ReadURef)
	if err != nil {
		return nil, false
	}
	return urefs, true
}

// readArgVec decodes the wire format WriteVector/WriteBytes produce: a
// length-prefixed vector of length-prefixed byte strings, the argument
// vector a call_contract sub-call passes to its callee.
func readArgVec(mem api.Memory, off, size uint32) ([][]byte, bool) {
	if size == 0 {
		return nil, true
	}
	raw, ok := mem.Read(off, size)
	if !ok {
		return nil, false
	}
	r := bytesrepr.NewReader(raw)
	args, err := bytesrepr.ReadVector(r, func(r *bytesrepr.Reader) ([]byte, error) {
		return r.ReadBytes()
	})
	if err != nil {
		return nil, false
	}
	return args, true
}

// readNamedKeys decodes the map wire format LoadNamedKeys/WriteMap produce,
// the payload a guest passes to store_function_at_hash to seed the newly
// published contract's own named keys.
func readNamedKeys(raw []byte) (map[string]gs.Key, bool) {
	r := bytesrepr.NewReader(raw)
	entries, err := bytesrepr.ReadMap(r,
		func(r *bytesrepr.Reader) (string, error) { return r.ReadString() },
		func(r *bytesrepr.Reader) (gs.Key, error) { return gs.ReadKey(r) },
	)
	if err != nil {
		return nil, false
	}
	out := make(map[string]gs.Key, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, true
}
