package runtime

import (
	"errors"

	"github.com/wasmstate/engine/metrics"
	"github.com/wasmstate/engine/runtimecontext"
)

// ErrOutOfGas is returned when a call frame's shared gas counter is
// exhausted by a host import invocation.
var ErrOutOfGas = errors.New("runtime: out of gas")

// Engine executes a deployed module's bytecode against one call frame and
// its host-call surface, returning whatever bytes the module passed to Ret
// (or an error, for a Revert or a trap). WazeroEngine, which runs real
// WASM binaries, implements it. The decoded-instruction interpreter in
// stack_engine.go (EWASMInterpreter) runs pre-decoded instruction
// sequences through its own Execute method and does not implement Engine.
type Engine interface {
	Execute(code []byte, frame *runtimecontext.CallFrame, host *HostFunctions) ([]byte, error)
}

// hostCallGas is charged against the call frame's shared gas counter for
// every host import invocation, standing in for per-instruction metering
// until the engine wires wazero's experimental function-listener hooks.
const hostCallGas = 10

func chargeHostCall(frame *runtimecontext.CallFrame) error {
	metrics.HostCallsTotal.Inc()
	if !frame.UseGas(hostCallGas) {
		metrics.HostCallsFailed.Inc()
		return ErrOutOfGas
	}
	return nil
}
