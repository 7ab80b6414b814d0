// Package vm implements the per-call execution context of an embedded
// scripting virtual machine.
//
// This package contains:
//   - A segmented stack manager with frame reservation and pointer
//     serialization
//   - A register bundle (program pointer, stack pointer, frame pointer,
//     value/object registers)
//   - A call stack with nested-execution markers
//   - Argument marshalling at the host/script boundary
//   - A register-based bytecode interpreter and its full instruction set
//   - The call protocol for script, virtual, interface, delegate,
//     imported and host functions
//   - An exception engine (raise, find handler, unwind, catch)
//   - The context lifecycle state machine (Prepare/Execute/Suspend/
//     Abort/Unprepare/PushState/PopState)
//   - Introspection over a suspended or faulted context
//
// The bytecode compiler, the type/function registry, object layout and
// add-on libraries are external collaborators; this package only depends
// on the contracts in package engine.
package vm
