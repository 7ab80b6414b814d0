package vm

import (
	"fmt"

	"github.com/chazu/maggie-context/engine"
)

// StateRegs is the per-level register snapshot Serialization saves and
// restores: the program pointer, the stack and frame pointers that
// locate that level's locals and arguments, and the value register.
// Object-register and receiver state travel separately, supplied live
// by the host rather than reconstructed from bytes (spec.md §1: script
// object identity is out of scope for this module).
type StateRegs struct {
	ProgramPointer uint32
	StackPointer   StackPtr
	FramePointer   StackPtr
	ValueRegister  uint64
}

// CallStateRegs mirrors a nested-execution marker's fields (spec.md
// §4.3), for saving and restoring a host->script re-entry boundary
// sitting between two groups of ordinary call-stack levels.
type CallStateRegs struct {
	CallingHostFunction *engine.Function
	InitialFunction     *engine.Function
	OriginalStackPtr    StackPtr
	ArgsSize            int
	ValueRegLow         uint32
	ValueRegHigh        uint32
	ObjectRegister      engine.ObjectRef
}

// deserializeLevel stages one call-stack level during Deserialization,
// between the PushFunction that names it and the SetCallStateRegisters
// or FinishDeserialization call that commits it into a real frame.
type deserializeLevel struct {
	fn       *engine.Function
	receiver engine.ObjectRef
	regs     StateRegs
	hasRegs  bool
}

// StartDeserialization resets the context to receive a sequence of
// PushFunction/SetStateRegisters/SetCallStateRegisters calls describing
// a previously suspended call stack, ending with FinishDeserialization
// (spec.md §4.8's state diagram: ...--StartDeserialization--> deserialization
// --FinishDeserialization--> suspended). Legal from any status Prepare
// itself is legal from.
func (c *Context) StartDeserialization() error {
	if !c.status.canPrepare() {
		return c.diag(ErrContextActive, fmt.Sprintf("vm: StartDeserialization called while context is %s", c.status))
	}
	c.releaseResidualReturn()
	c.releaseResidualReceiver()
	c.callStack = NewCallStack(0)
	c.currentFunction = nil
	c.initialFunction = nil
	c.receiver = engine.Null
	c.exception = ExceptionInfo{}
	c.deserializeLevels = nil
	c.status = Deserialization
	return nil
}

// PushFunction stages the next call-stack level (outermost first,
// matching Prepare/call order), bound to obj as its receiver. obj is
// supplied live by the host — exactly as real PushFunction(func, obj)
// APIs take an already-valid object pointer rather than deserialized
// bytes, since reconstructing script-object identity is out of scope
// here (spec.md §1).
func (c *Context) PushFunction(fn *engine.Function, obj engine.ObjectRef) error {
	if c.status != Deserialization {
		return c.diag(ErrContextActive, fmt.Sprintf("vm: PushFunction called while context is %s", c.status))
	}
	if fn == nil {
		return c.diag(ErrNoFunction, "vm: PushFunction called with a nil function")
	}
	c.deserializeLevels = append(c.deserializeLevels, deserializeLevel{fn: fn, receiver: obj})
	return nil
}

// SetStateRegisters attaches the register snapshot for the most
// recently staged levels, counting from the bottom: level 0 names the
// first PushFunction call, and so on. It must be called once per
// staged level before the level is committed by SetCallStateRegisters
// or FinishDeserialization.
func (c *Context) SetStateRegisters(level int, regs StateRegs) error {
	if c.status != Deserialization {
		return c.diag(ErrContextActive, fmt.Sprintf("vm: SetStateRegisters called while context is %s", c.status))
	}
	if level < 0 || level >= len(c.deserializeLevels) {
		return c.diag(ErrInvalidArg, "vm: SetStateRegisters called with an out-of-range level")
	}
	c.deserializeLevels[level].regs = regs
	c.deserializeLevels[level].hasRegs = true
	return nil
}

// GetStateRegisters reads the register snapshot active at level of a
// live or suspended context (not during Deserialization) — the
// counterpart host code uses to extract state before serializing it.
// Level 0 is the currently executing frame.
func (c *Context) GetStateRegisters(level int) (*engine.Function, StateRegs, bool) {
	if level == 0 {
		if c.currentFunction == nil {
			return nil, StateRegs{}, false
		}
		return c.currentFunction, StateRegs{
			ProgramPointer: c.registers.ProgramPointer,
			StackPointer:   c.registers.StackPointer,
			FramePointer:   c.registers.FramePointer,
			ValueRegister:  c.registers.ValueRegister,
		}, true
	}
	fp, fn, pp, sp, _, ok := c.callStack.FullFrameAt(level - 1)
	if !ok {
		return nil, StateRegs{}, false
	}
	return fn, StateRegs{ProgramPointer: pp, StackPointer: sp, FramePointer: fp}, true
}

// SetCallStateRegisters installs a nested-execution marker between the
// call-stack levels staged so far and whatever PushFunction calls
// follow. It first commits the staged levels (see commitPendingLevels):
// every level but the last becomes an ordinary call-stack frame, and the
// last becomes the current frame, which the marker then closes off
// without saving it as a frame, just as PushState does with the
// function current when it runs.
func (c *Context) SetCallStateRegisters(regs CallStateRegs) error {
	if c.status != Deserialization {
		return c.diag(ErrContextActive, fmt.Sprintf("vm: SetCallStateRegisters called while context is %s", c.status))
	}
	if !c.commitPendingLevels() {
		return c.diag(ErrOutOfMemory, "vm: SetCallStateRegisters exceeded the call stack's configured maximum")
	}
	if !c.callStack.PushState(
		regs.CallingHostFunction, regs.InitialFunction, regs.OriginalStackPtr, regs.ArgsSize,
		regs.ValueRegLow, regs.ValueRegHigh, regs.ObjectRegister,
	) {
		return c.diag(ErrOutOfMemory, "vm: SetCallStateRegisters exceeded the call stack's configured maximum")
	}
	// A marker stands for a fresh nested-execution span, exactly as
	// PushState leaves the context ready for a fresh Prepare: the next
	// group of PushFunction calls starts its own current/initial
	// function rather than appending to the span the marker just closed
	// off.
	c.currentFunction = nil
	c.initialFunction = nil
	c.receiver = engine.Null
	return nil
}

// GetCallStateRegisters reads the index-th nested-execution marker,
// counting from the bottom of the call stack (push order), of a live
// or suspended context — the counterpart to SetCallStateRegisters for
// extraction/save, independent of status.
func (c *Context) GetCallStateRegisters(index int) (CallStateRegs, bool) {
	callingHost, initial, originalSP, argsSize, low, high, objReg, ok := c.callStack.MarkerAt(index)
	if !ok {
		return CallStateRegs{}, false
	}
	return CallStateRegs{
		CallingHostFunction: callingHost,
		InitialFunction:     initial,
		OriginalStackPtr:    originalSP,
		ArgsSize:            argsSize,
		ValueRegLow:         low,
		ValueRegHigh:        high,
		ObjectRegister:      objReg,
	}, true
}

// FinishDeserialization commits every level staged since the last
// SetCallStateRegisters call and returns the context to Suspended, per
// spec.md §4.8's state diagram (not Active — the restored context must
// still be driven by an explicit Execute).
func (c *Context) FinishDeserialization() error {
	if c.status != Deserialization {
		return c.diag(ErrContextActive, fmt.Sprintf("vm: FinishDeserialization called while context is %s", c.status))
	}
	if !c.commitPendingLevels() {
		return c.diag(ErrOutOfMemory, "vm: FinishDeserialization exceeded the call stack's configured maximum")
	}
	if c.currentFunction == nil {
		return c.diag(ErrNoFunction, "vm: FinishDeserialization called with no function ever pushed")
	}
	c.status = Suspended
	return nil
}

// commitPendingLevels materializes every staged deserializeLevel into
// the call stack in push order: each level but the last becomes an
// ordinary saved frame (via PushCallState, recording that level's own
// registers as the position execution will resume at within it),
// and the last staged level becomes the new current frame. Levels
// already committed by a prior SetCallStateRegisters call are left
// untouched; deserializeLevels is drained as it commits.
func (c *Context) commitPendingLevels() bool {
	for _, lvl := range c.deserializeLevels {
		if c.currentFunction != nil {
			if !c.callStack.PushCallState(
				c.registers.FramePointer, c.currentFunction, c.registers.ProgramPointer,
				c.registers.StackPointer, c.registers.StackPointer.Block,
			) {
				return false
			}
		}
		c.currentFunction = lvl.fn
		if c.initialFunction == nil {
			c.initialFunction = lvl.fn
		}
		c.receiver = lvl.receiver
		if lvl.hasRegs {
			c.registers.ProgramPointer = lvl.regs.ProgramPointer
			c.registers.StackPointer = lvl.regs.StackPointer
			c.registers.FramePointer = lvl.regs.FramePointer
			c.registers.ValueRegister = lvl.regs.ValueRegister
		}
		c.argsBase = c.registers.FramePointer.Retreat(ArgumentAreaSize(lvl.fn))
		c.argsSize = ArgumentAreaSize(lvl.fn)
		if lvl.fn.IsMethod {
			c.stack.SetSlotObject(c.argsBase, lvl.receiver)
		}
	}
	c.deserializeLevels = nil
	return true
}
