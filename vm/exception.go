package vm

import "github.com/chazu/maggie-context/engine"

// raiseVMException is the entry point the interpreter and the lifecycle
// state machine use to report a fault raised by the VM itself (as
// opposed to a script-level throw or a host-reported application
// error). It only records the exception and decides whether it will be
// caught; unwinding happens on the dispatch loop's next iteration, so
// that the fault's program position is captured before anything moves.
func (c *Context) raiseVMException(kind ExceptionKind, msg string) {
	c.setException(kind, msg, c.currentFunction, c.registers.ProgramPointer)
}

// RaiseApplicationException records an application-level failure
// reported by a host function as a VM exception, optionally rewriting
// its message through the attached ExceptionTranslator.
func (c *Context) RaiseApplicationException(err error) {
	msg := err.Error()
	if c.host.Translator != nil {
		if translated := c.host.Translator.Translate(err); translated != "" {
			msg = translated
		}
	}
	c.setException(ExcApplicationException, msg, c.currentFunction, c.registers.ProgramPointer)
}

// SetException lets a line callback or a host function raise an
// exception directly, by name rather than through an error value.
func (c *Context) SetException(msg string) error {
	if c.status != Active {
		return c.diag(ErrContextActive, "vm: SetException called while context is not active")
	}
	c.setException(ExcApplicationException, msg, c.currentFunction, c.registers.ProgramPointer)
	return nil
}

func (c *Context) setException(kind ExceptionKind, msg string, fn *engine.Function, pp uint32) {
	line, col := lineAt(fn, pp)
	c.exception = ExceptionInfo{
		Kind:     kind,
		Message:  msg,
		Function: fn,
		Line:     line,
		Column:   col,
	}
	if c.exceptionCallback != nil {
		c.exceptionCallback.Fn(c, c.exceptionCallback.Receiver)
	}
	c.exception.WillBeCaught = c.findHandler() != nil
	c.pendingException = true
}

func lineAt(fn *engine.Function, pp uint32) (line, column int) {
	if fn == nil || len(fn.LineTable) == 0 {
		return 0, 0
	}
	best := fn.LineTable[0]
	for _, e := range fn.LineTable {
		if e.ProgramPos > pp {
			break
		}
		best = e
	}
	return engine.UnpackLinePos(best.LinePos)
}

// GetExceptionString, GetExceptionLineNumber, GetExceptionFunction and
// WillExceptionBeCaught report on the most recently raised exception.
// Their values remain valid until the next Prepare.
func (c *Context) GetExceptionString() string { return c.exception.Message }

func (c *Context) GetExceptionLineNumber() (line, column, sectionIndex int) {
	return c.exception.Line, c.exception.Column, c.exception.SectionIndex
}

func (c *Context) GetExceptionFunction() *engine.Function { return c.exception.Function }

func (c *Context) WillExceptionBeCaught() bool { return c.exception.WillBeCaught }

// handler names the frame and try/catch range that will dispose of a
// pending exception: depth counts how many ordinary frames, starting
// from the one that faulted, must be fully unwound before the catching
// frame becomes current again.
type handler struct {
	depth int
	rng   engine.TryCatchRange
}

// findHandler searches the current frame, then each saved ordinary
// frame outward, for the nearest enclosing try/catch range. The search
// is naturally bounded by CallStack.FrameAt, which refuses to step past
// a nested-execution marker.
func (c *Context) findHandler() *handler {
	if rng, ok := enclosingRange(c.currentFunction, c.registers.ProgramPointer); ok {
		return &handler{rng: rng}
	}
	for depth := 0; ; depth++ {
		fn, pp, ok := c.callStack.FrameAt(depth)
		if !ok {
			return nil
		}
		if rng, ok := enclosingRange(fn, pp); ok {
			return &handler{depth: depth + 1, rng: rng}
		}
	}
}

// enclosingRange returns the innermost try/catch range of fn containing
// pp, i.e. the one with the largest TryPos among all ranges that
// straddle pp.
func enclosingRange(fn *engine.Function, pp uint32) (engine.TryCatchRange, bool) {
	if fn == nil {
		return engine.TryCatchRange{}, false
	}
	var best engine.TryCatchRange
	found := false
	for _, r := range fn.TryCatch {
		if pp >= r.TryPos && pp < r.CatchPos {
			if !found || r.TryPos > best.TryPos {
				best, found = r, true
			}
		}
	}
	return best, found
}

// handleException drives one full exception-unwind cycle after
// raiseVMException/SetException/RaiseApplicationException has populated
// c.exception. If a handler is found, it unwinds and disposes every
// fully-discarded frame up to the catching one, restricts disposal in
// the catching frame itself to variables declared within the try range,
// repositions the program and stack pointers at the catch handler, and
// reports caught=true so the dispatch loop resumes. Otherwise it unwinds
// to the nearest nested marker (or the bottom of the call stack) and
// reports caught=false, so Execute returns the Exception result.
func (c *Context) handleException() (caught bool) {
	h := c.findHandler()
	if h == nil {
		c.unwindToMarker()
		c.pendingException = false
		return false
	}
	for i := 0; i < h.depth; i++ {
		c.unwindCurrentFrame(c.registers.ProgramPointer)
		fp, fn, pp, sp, _ := c.callStack.PopCallState()
		c.registers.FramePointer = fp
		c.currentFunction = fn
		c.registers.ProgramPointer = pp
		c.registers.StackPointer = sp
	}
	c.disposeTryScope(h.rng)
	c.registers.ProgramPointer = h.rng.CatchPos
	c.registers.StackPointer = c.registers.FramePointer.Retreat(h.rng.StackSize + c.currentFunction.VariableSpace)
	c.pendingException = false
	return true
}

// unwindToMarker fully discards frames, outward from the current one,
// until a nested-execution marker (or the bottom of the call stack) is
// reached.
func (c *Context) unwindToMarker() {
	for {
		c.unwindCurrentFrame(c.registers.ProgramPointer)
		if c.callStack.IsNestedMarkerOnTop() {
			return
		}
		fp, fn, pp, sp, _ := c.callStack.PopCallState()
		c.registers.FramePointer = fp
		c.currentFunction = fn
		c.registers.ProgramPointer = pp
		c.registers.StackPointer = sp
	}
}

// unwindCurrentFrame disposes of the current frame as if it is being
// torn down wholesale: any in-flight call-argument pushes, every live
// object variable (heap and value), and the parameters the function
// owns.
func (c *Context) unwindCurrentFrame(faultPos uint32) {
	c.disposeInFlightCallArgs()
	fn := c.currentFunction
	if fn == nil || c.stack.NotAllocated() {
		return
	}
	live := liveVars(fn, faultPos)
	for i, lv := range fn.Locals {
		if live[i] {
			c.disposeLocal(lv, c.registers.FramePointer)
		}
	}
	c.releaseOwnedParameters(fn, c.registers.FramePointer)
}

// disposeTryScope disposes only the live variables of the current
// (catching) frame that were declared within rng — variables declared
// before the try range are preserved, per spec.md §4.7's scoping rule.
func (c *Context) disposeTryScope(rng engine.TryCatchRange) {
	fn := c.currentFunction
	if fn == nil {
		return
	}
	live := liveVars(fn, c.registers.ProgramPointer)
	for i, lv := range fn.Locals {
		if !live[i] {
			continue
		}
		if declPos, ok := varDeclPos(fn, i); ok && declPos < rng.TryPos {
			continue
		}
		c.disposeLocal(lv, c.registers.FramePointer)
	}
}

// liveVars replays fn's object-variable-life events from function start
// up to and including uptoPos, yielding a live/dead flag per local.
func liveVars(fn *engine.Function, uptoPos uint32) []bool {
	live := make([]bool, len(fn.Locals))
	for _, e := range fn.LifeEvents {
		if e.Pos > uptoPos {
			break
		}
		if e.VarIndex < 0 || e.VarIndex >= len(live) {
			continue
		}
		switch e.Kind {
		case engine.VarInit:
			live[e.VarIndex] = true
		case engine.VarUninit:
			live[e.VarIndex] = false
		}
	}
	return live
}

func varDeclPos(fn *engine.Function, idx int) (uint32, bool) {
	for _, e := range fn.LifeEvents {
		if e.Kind == engine.VarDecl && e.VarIndex == idx {
			return e.Pos, true
		}
	}
	return 0, false
}

// disposeLocal runs the appropriate disposal routine for one local
// variable occupying fp+lv.Offset, per the type's capability flags.
// Shares disposeTypedRef with alloc.go's explicit free/refcopy
// instructions so there is exactly one place that interprets a
// TypeInfo's capability flags.
func (c *Context) disposeLocal(lv engine.LocalVar, fp StackPtr) {
	if lv.Type == nil {
		return
	}
	addr := fp.Advance(lv.Offset)
	disposeTypedRef(lv.Type, c.stack.SlotObject(addr), lv.OnHeap)
	c.stack.SetSlotObject(addr, engine.Null)
}

// releaseOwnedParameters releases the reference-type parameters of a
// frame about to be discarded, unless fn declares that it does not own
// its parameters.
func (c *Context) releaseOwnedParameters(fn *engine.Function, fp StackPtr) {
	if fn == nil || !fn.OwnsParameters {
		return
	}
	base := paramBaseFor(fp, fn)
	off := 0
	for i, t := range fn.ParamTypes {
		if t != nil && !t.IsValue {
			ref := c.stack.SlotObject(base.Advance(off))
			if !ref.IsNull() && t.Behaviours.Release != nil {
				t.Behaviours.Release(ref)
			}
		}
		off += ParamSlots(fn, i)
	}
}

// disposeInFlightCallArgs releases the reference-type arguments already
// written for a call instruction that had not yet completed when the
// fault occurred (spec.md §4.7 unwind step 1). pendingCallArgs is
// treated as a small LIFO stack and drained entirely on any unwind
// pass; a call always clears its own entry on normal completion, so by
// the time a fault is observed the stack holds only in-flight setups.
func (c *Context) disposeInFlightCallArgs() {
	for len(c.pendingCallArgs) > 0 {
		setup := c.pendingCallArgs[len(c.pendingCallArgs)-1]
		c.pendingCallArgs = c.pendingCallArgs[:len(c.pendingCallArgs)-1]
		if setup.target == nil {
			continue
		}
		base := setup.argStart
		off := 0
		if setup.target.IsMethod {
			off += pointerSlots
		}
		if setup.target.ReturnsOnStack {
			off += pointerSlots
		}
		for i, t := range setup.target.ParamTypes {
			if t != nil && !t.IsValue {
				ref := c.stack.SlotObject(base.Advance(off))
				if !ref.IsNull() && t.Behaviours.Release != nil {
					t.Behaviours.Release(ref)
				}
			}
			off += ParamSlots(setup.target, i)
		}
	}
}
