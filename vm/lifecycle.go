package vm

import (
	"fmt"

	"github.com/chazu/maggie-context/engine"
)

// diag writes msg to the attached DiagnosticSink, if any, and returns
// err unchanged — every validation error path in this file goes
// through this so the engine's message sink always sees what the
// public API rejected and why (spec.md §7).
func (c *Context) diag(err error, msg string) error {
	if c.host.Sink != nil {
		c.host.Sink.Error(msg)
	}
	return err
}

// Prepare binds the context to fn, ready for Execute. Legal from
// Uninitialized, Prepared, Finished, ExceptionState or Aborted; any
// other status is rejected without mutating state.
func (c *Context) Prepare(fn *engine.Function) error {
	if !c.status.canPrepare() {
		return c.diag(ErrContextActive, fmt.Sprintf("vm: Prepare called while context is %s", c.status))
	}
	if fn == nil {
		return c.diag(ErrNoFunction, "vm: Prepare called with a nil function")
	}

	c.releaseResidualReturn()
	c.releaseResidualReceiver()

	c.registers.ProgramPointer = 0
	c.registers.StackPointer = StackPtr{}
	c.registers.FramePointer = StackPtr{}
	c.registers.ValueRegister = 0
	c.registers.ObjectRegister = engine.Null
	c.registers.ProcessSuspend = false

	c.currentFunction = fn
	c.initialFunction = fn
	c.receiver = engine.Null
	c.exception = ExceptionInfo{}

	c.argsBase = c.registers.StackPointer
	c.argsSize = ArgumentAreaSize(fn)
	frameSlots := c.argsSize + fn.VariableSpace

	if overflow := c.stack.Reserve(&c.registers.StackPointer, frameSlots, nil, nil); overflow {
		return c.diag(ErrOutOfMemory, "vm: Prepare could not reserve the function's frame")
	}
	c.registers.FramePointer = c.registers.StackPointer.Advance(c.argsSize)
	c.registers.StackPointer = c.registers.FramePointer.Advance(fn.VariableSpace)
	c.zeroArgumentArea()

	if fn.ReturnsOnStack {
		sinkBase := c.registers.FramePointer.Advance(fn.VariableSpace)
		if overflow := c.stack.Reserve(&sinkBase, pointerSlots, nil, nil); overflow {
			return c.diag(ErrOutOfMemory, "vm: Prepare could not reserve the return-value sink")
		}
		c.returnOnStack = true
		c.returnSinkPtr = sinkBase
		c.registers.StackPointer = sinkBase.Advance(pointerSlots)
		c.stack.SetSlotObject(c.argsBase.Advance(pointerSlots), engine.ObjectRef{Value: c.returnSinkPtr})
	} else {
		c.returnOnStack = false
	}

	c.status = Prepared
	return nil
}

func (c *Context) zeroArgumentArea() {
	for i := 0; i < c.argsSize; i++ {
		c.stack.SetSlot32(c.argsBase.Advance(i), 0)
	}
}

func (c *Context) releaseResidualReturn() {
	if !c.registers.ObjectRegister.IsNull() && c.registers.ObjectRegister.Type != nil {
		b := c.registers.ObjectRegister.Type.Behaviours
		if !c.registers.ObjectRegister.Type.IsValue && b.Release != nil {
			b.Release(c.registers.ObjectRegister)
		}
	}
	c.registers.ObjectRegister = engine.Null
}

func (c *Context) releaseResidualReceiver() {
	if !c.receiver.IsNull() && c.receiver.Type != nil && !c.receiver.Type.IsValue {
		if b := c.receiver.Type.Behaviours.Release; b != nil {
			b(c.receiver)
		}
	}
	c.receiver = engine.Null
}

// Unprepare releases the receiver (if it is a script object) and the
// initial-function reference, and resets the pointer registers. Legal
// whenever status is not Active or Suspended. Calling Unprepare on an
// already-Uninitialized context is a no-op returning success.
func (c *Context) Unprepare() error {
	if c.status == Uninitialized {
		return nil
	}
	if !c.status.canUnprepare() {
		return c.diag(ErrContextActive, fmt.Sprintf("vm: Unprepare called while context is %s", c.status))
	}
	c.releaseArgumentsOnUnprepare()
	c.releaseResidualReceiver()
	c.initialFunction = nil
	c.currentFunction = nil
	c.registers.ProgramPointer = 0
	c.registers.StackPointer = StackPtr{}
	c.registers.FramePointer = StackPtr{}
	c.registers.ValueRegister = 0
	c.registers.ObjectRegister = engine.Null
	c.status = Uninitialized
	return nil
}

func (c *Context) releaseArgumentsOnUnprepare() {
	fn := c.initialFunction
	if fn == nil || !fn.OwnsParameters {
		return
	}
	base := c.argBase()
	for i, t := range fn.ParamTypes {
		if t == nil || t.IsValue {
			continue
		}
		off := c.paramOffset(i)
		ref := c.stack.SlotObject(StackPtr{Block: base.Block, Offset: base.Offset + off})
		if !ref.IsNull() && t.Behaviours.Release != nil {
			t.Behaviours.Release(ref)
		}
	}
}

// Execute drives the interpreter loop until the status is no longer
// Active. Legal from Prepared or Suspended.
func (c *Context) Execute() (ExecResult, error) {
	if !c.status.canExecute() {
		if c.status == Active {
			return ExecError, c.diag(ErrContextActive, "vm: Execute called while context is already active")
		}
		return ExecError, c.diag(ErrContextNotPrepared, fmt.Sprintf("vm: Execute called while context is %s", c.status))
	}
	if c.maxNestedCalls > 0 && activeContextDepth() >= c.maxNestedCalls {
		c.raiseVMException(ExcTooManyNestedCalls, "too many nested calls")
		return Exception, nil
	}

	pushActiveContext(c)
	defer popActiveContext()

	c.status = Active
	c.objectsAllocated = 0

	result := c.runLoop()

	switch result {
	case ResultFinished:
		c.status = Finished
	case ResultSuspended:
		c.status = Suspended
	case ResultAborted:
		c.status = Aborted
	case Exception:
		c.status = ExceptionState
	}

	if c.autoGC && c.objectsAllocated > 0 && c.host.Collector != nil {
		c.host.Collector.RunStep()
	}

	return result, nil
}

// Suspend requests cooperative suspension. It may be called from any
// goroutine; it only flips a latch the interpreter checks before it
// dispatches each instruction, so the request takes effect before the
// next instruction runs (including at the suspend instruction, every
// script-call entry and every return from a host call).
func (c *Context) Suspend() {
	c.suspendRequested.Store(true)
}

// Abort requests cooperative cancellation, taking effect before the
// next instruction the interpreter dispatches. It cannot interrupt a host function already in
// progress, and cannot interrupt an exception unwind in progress.
func (c *Context) Abort() {
	c.abortRequested.Store(true)
	c.doAbort.Store(true)
}

// PushState saves the currently active execution as a nested-execution
// marker and resets the context to Uninitialized, so it can be
// re-Prepared for a nested host->script call while this execution is
// still logically in progress further down the Go call stack. Legal
// only from Active.
func (c *Context) PushState() error {
	if c.status != Active {
		return c.diag(ErrContextActive, fmt.Sprintf("vm: PushState called while context is %s", c.status))
	}
	ok := c.callStack.PushState(
		c.currentFunction, c.initialFunction, c.registers.StackPointer, c.argsSize,
		c.registers.ValueRegisterLow(), c.registers.ValueRegisterHigh(), c.registers.ObjectRegister,
	)
	if !ok {
		c.raiseVMException(ExcTooManyNestedCalls, "too many nested calls")
		return ErrOutOfMemory
	}
	c.currentFunction = nil
	c.initialFunction = nil
	c.receiver = engine.Null
	c.status = Uninitialized
	return nil
}

// PopState restores the nested-execution marker most recently pushed by
// PushState, returning the context to Active. Legal when the current
// status is Finished, Aborted or ExceptionState, and the call stack's
// top frame is a marker.
func (c *Context) PopState() error {
	switch c.status {
	case Finished, Aborted, ExceptionState:
	default:
		return c.diag(ErrContextActive, fmt.Sprintf("vm: PopState called while context is %s", c.status))
	}
	if !c.callStack.IsNestedMarkerOnTop() || c.callStack.Size() == 0 {
		return c.diag(ErrInvalidArg, "vm: PopState called with no nested marker on the call stack")
	}
	callingHost, initial, originalSP, argsSize, low, high, objReg := c.callStack.PopState()
	c.currentFunction = callingHost
	c.initialFunction = initial
	c.registers.StackPointer = originalSP
	c.argsSize = argsSize
	setValueRegisterHalves(&c.registers, low, high)
	c.registers.ObjectRegister = objReg
	c.status = Active
	return nil
}
