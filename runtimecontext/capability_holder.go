package runtimecontext

import (
	"github.com/wasmstate/engine/bytesrepr"
	"github.com/wasmstate/engine/gs"
)

// GasCounter is a single mutable gas balance shared by a call and every
// sub-call it makes, so a chain of nested invocations draws down one
// budget rather than each frame getting its own.
type GasCounter struct {
	remaining uint64
}

// NewGasCounter returns a counter starting at limit.
func NewGasCounter(limit uint64) *GasCounter {
	return &GasCounter{remaining: limit}
}

// Use attempts to consume amount, reporting false (and leaving the balance
// untouched) if that would overdraw it.
func (g *GasCounter) Use(amount uint64) bool {
	if g.remaining < amount {
		return false
	}
	g.remaining -= amount
	return true
}

// Remaining reports the unspent balance.
func (g *GasCounter) Remaining() uint64 {
	return g.remaining
}

// Phase identifies which part of deploy execution a CallFrame belongs to:
// the payment code that reserves gas, the session code that does the
// deploy's actual work, or the finalization code that refunds unspent gas
// and pays the proposer.
type Phase uint8

const (
	PhasePayment Phase = iota
	PhaseSession
	PhaseFinalizePayment
)

// String renders the phase for logs and error messages.
func (p Phase) String() string {
	switch p {
	case PhasePayment:
		return "payment"
	case PhaseSession:
		return "session"
	case PhaseFinalizePayment:
		return "finalize-payment"
	default:
		return "unknown"
	}
}

// CallFrame holds the execution context of one WASM invocation: the
// contract being run, who called it, the arguments it was invoked with, and
// the named keys it resolves URef lookups against. A sub-call gets its own
// CallFrame but shares the calling frame's GasCounter and Phase.
type CallFrame struct {
	Caller           gs.Addr32
	Address          gs.Addr32
	Code             []byte
	CodeHash         gs.Addr32
	Args             [][]byte
	TransferredValue bytesrepr.U512
	NamedKeys        map[string]gs.Key
	Phase            Phase
	Gas              *GasCounter
}

// NewCallFrame starts a top-level invocation with a fresh gas counter.
func NewCallFrame(caller, addr gs.Addr32, code []byte, codeHash gs.Addr32, args [][]byte, value bytesrepr.U512, namedKeys map[string]gs.Key, phase Phase, gasLimit uint64) *CallFrame {
	return &CallFrame{
		Caller:           caller,
		Address:          addr,
		Code:             code,
		CodeHash:         codeHash,
		Args:             args,
		TransferredValue: value,
		NamedKeys:        namedKeys,
		Phase:            phase,
		Gas:              NewGasCounter(gasLimit),
	}
}

// UseGas consumes amount from this frame's (possibly shared) counter.
func (f *CallFrame) UseGas(amount uint64) bool {
	return f.Gas.Use(amount)
}

// EnterSubCall builds the frame for a nested call, inheriting this frame's
// gas counter (so the whole call chain draws against one budget) and phase
// (a sub-call never changes which part of deploy execution is running).
func (f *CallFrame) EnterSubCall(callee gs.Addr32, code []byte, codeHash gs.Addr32, args [][]byte, value bytesrepr.U512, namedKeys map[string]gs.Key) *CallFrame {
	return &CallFrame{
		Caller:           f.Address,
		Address:          callee,
		Code:             code,
		CodeHash:         codeHash,
		Args:             args,
		TransferredValue: value,
		NamedKeys:        namedKeys,
		Phase:            f.Phase,
		Gas:              f.Gas,
	}
}

// Arg returns the argument at index within Args, for the get_arg/load_arg
// host calls. It reports ok=false when index is out of range rather than
// panicking, since the index is guest-controlled.
func (f *CallFrame) Arg(index int) ([]byte, bool) {
	if index < 0 || index >= len(f.Args) {
		return nil, false
	}
	return f.Args[index], true
}
