package vm

import "github.com/chazu/maggie-context/engine"

// DelegateValue is the object-register payload for a bound delegate: a
// target function plus the receiver substituted for it at dispatch
// time, per spec.md §4.6. A plain *engine.Function in the object
// register (no DelegateValue wrapper) is an unbound function pointer.
type DelegateValue struct {
	Target   *engine.Function
	Receiver engine.ObjectRef
}

// execCall resolves and dispatches one call-family instruction. It
// returns false if the call faulted (a VM exception is now pending);
// callers must not advance the program pointer themselves afterward —
// every path through execCall that succeeds has already set
// c.registers.ProgramPointer to the correct next position, either the
// callee's entry point or the instruction following the call.
func (c *Context) execCall(op Opcode, pp uint32) bool {
	fn := c.currentFunction
	bc := fn.Bytecode
	retPP := pp + uint32(instrSize[op])

	switch op {
	case OpCallScript, OpCallFast1Int:
		target, ok := literalFunction(fn, int(readU32(bc, pp+1)))
		if !ok {
			c.raiseVMException(ExcUnrecognizedBytecode, "call literal is not a function")
			return false
		}
		return c.dispatchResolved(target, retPP)

	case OpCallHost:
		target, ok := literalFunction(fn, int(readU32(bc, pp+1)))
		if !ok {
			c.raiseVMException(ExcUnrecognizedBytecode, "call literal is not a function")
			return false
		}
		return c.callHost(target, retPP)

	case OpCallImported:
		target, ok := literalFunction(fn, int(readU32(bc, pp+1)))
		if !ok {
			c.raiseVMException(ExcUnrecognizedBytecode, "call literal is not a function")
			return false
		}
		return c.dispatchResolved(target, retPP)

	case OpCallVirtual:
		declType, ok := literalType(fn, int(readU16(bc, pp+1)))
		vtableIdx := int(readU16(bc, pp+3))
		if !ok || vtableIdx < 0 || vtableIdx >= len(declType.VTable) {
			c.raiseVMException(ExcUnrecognizedBytecode, "bad virtual-call operand")
			return false
		}
		staticFn := declType.VTable[vtableIdx]
		argsStart := c.registers.StackPointer.Retreat(ArgumentAreaSize(staticFn))
		receiver := c.stack.SlotObject(argsStart)
		if receiver.IsNull() {
			c.disposeArgsForStaticSignature(staticFn, argsStart)
			c.raiseVMException(ExcNullPointerAccess, "virtual call on a null receiver")
			return false
		}
		target := staticFn
		if receiver.Type != nil && vtableIdx < len(receiver.Type.VTable) && receiver.Type.VTable[vtableIdx] != nil {
			target = receiver.Type.VTable[vtableIdx]
		}
		return c.dispatchResolved(target, retPP)

	case OpCallInterface:
		iface, ok := literalType(fn, int(readU16(bc, pp+1)))
		methodIdx := int(readU16(bc, pp+3))
		if !ok || methodIdx < 0 || methodIdx >= len(iface.VTable) {
			c.raiseVMException(ExcUnrecognizedBytecode, "bad interface-call operand")
			return false
		}
		staticFn := iface.VTable[methodIdx]
		argsStart := c.registers.StackPointer.Retreat(ArgumentAreaSize(staticFn))
		receiver := c.stack.SlotObject(argsStart)
		if receiver.IsNull() {
			c.disposeArgsForStaticSignature(staticFn, argsStart)
			c.raiseVMException(ExcNullPointerAccess, "interface call on a null receiver")
			return false
		}
		target := staticFn
		if receiver.Type != nil {
			if offset, ok := receiver.Type.Implements(iface); ok && offset+methodIdx < len(receiver.Type.VTable) {
				target = receiver.Type.VTable[offset+methodIdx]
			}
		}
		return c.dispatchResolved(target, retPP)

	case OpCallFuncPtr:
		ref := c.registers.ObjectRegister
		if ref.IsNull() {
			c.raiseVMException(ExcNullPointerAccess, "call through a null function pointer")
			return false
		}
		switch bound := ref.Value.(type) {
		case *engine.Function:
			return c.dispatchResolved(bound, retPP)
		case DelegateValue:
			argsStart := c.registers.StackPointer.Retreat(ArgumentAreaSize(bound.Target))
			c.stack.SetSlotObject(argsStart, bound.Receiver)
			return c.dispatchResolved(bound.Target, retPP)
		default:
			c.raiseVMException(ExcUnrecognizedBytecode, "function-pointer register holds neither a function nor a delegate")
			return false
		}

	default:
		c.raiseVMException(ExcUnrecognizedBytecode, "not a call instruction")
		return false
	}
}

// dispatchResolved routes a resolved Function to the right entry path
// by kind: host functions go through the bridge, imported functions
// consult the binding table one more time (a delegate or funcdef may
// itself resolve to an import), everything else enters a script frame.
func (c *Context) dispatchResolved(target *engine.Function, retPP uint32) bool {
	switch target.Kind {
	case engine.HostKind:
		return c.callHost(target, retPP)
	case engine.Imported:
		resolved := target.Bound
		if resolved == nil && c.host.Imports != nil {
			resolved, _ = c.host.Imports.Resolve(target.ImportID)
		}
		if resolved == nil {
			argsStart := c.registers.StackPointer.Retreat(ArgumentAreaSize(target))
			c.disposeArgsForStaticSignature(target, argsStart)
			c.raiseVMException(ExcUnboundFunction, "unbound imported function "+target.Name)
			return false
		}
		return c.dispatchResolved(resolved, retPP)
	default:
		return c.enterScriptFrame(target, retPP)
	}
}

// enterScriptFrame is the common entry path for script, virtual,
// interface and delegate-resolved calls. It assumes the compiler has
// already arranged the callee's full argument area (hidden receiver,
// hidden return-sink, declared parameters, all per args.go's layout)
// contiguously at the top of the caller's operand stack, exactly as
// the public SetArg* API stages a top-level Prepare'd call — the call
// instruction's only remaining job is to reserve room for the callee's
// locals beyond that and save the caller's frame.
func (c *Context) enterScriptFrame(target *engine.Function, returnPP uint32) bool {
	argsSize := ArgumentAreaSize(target)
	argsStart := c.registers.StackPointer.Retreat(argsSize)

	if !c.callStack.PushCallState(c.registers.FramePointer, c.currentFunction, returnPP, argsStart, argsStart.Block) {
		c.raiseVMException(ExcTooManyNestedCalls, "call stack exhausted")
		return false
	}
	c.pendingCallArgs = append(c.pendingCallArgs, callSetup{target: target, argStart: argsStart})

	snapData, snapObj := c.stack.snapshot(argsStart, argsSize)
	sp := argsStart
	total := argsSize + target.VariableSpace
	if overflow := c.stack.Reserve(&sp, total, nil, nil); overflow {
		c.callStack.PopCallState()
		c.pendingCallArgs = c.pendingCallArgs[:len(c.pendingCallArgs)-1]
		c.raiseVMException(ExcStackOverflow, "stack overflow entering "+target.Name)
		return false
	}
	if sp.Block != argsStart.Block {
		c.stack.restore(sp, snapData, snapObj)
	}

	c.currentFunction = target
	c.registers.FramePointer = sp.Advance(argsSize)
	c.registers.StackPointer = sp.Advance(total)
	c.registers.ProgramPointer = 0
	c.pendingCallArgs = c.pendingCallArgs[:len(c.pendingCallArgs)-1]
	return true
}

// callHost transfers control to the engine's calling-convention bridge
// and pops the slots it reports consuming, per spec.md §4.6.
func (c *Context) callHost(target *engine.Function, retPP uint32) bool {
	argsSize := ArgumentAreaSize(target)
	argsStart := c.registers.StackPointer.Retreat(argsSize)
	c.pendingCallArgs = append(c.pendingCallArgs, callSetup{target: target, argStart: argsStart})

	if target.HostImpl == nil {
		c.pendingCallArgs = c.pendingCallArgs[:len(c.pendingCallArgs)-1]
		c.raiseVMException(ExcUnboundFunction, "host function has no implementation: "+target.Name)
		return false
	}

	view := stackArgView{c: c, base: argsStart}
	slotsPopped, err := target.HostImpl(view)
	c.pendingCallArgs = c.pendingCallArgs[:len(c.pendingCallArgs)-1]
	if err != nil {
		c.RaiseApplicationException(err)
		return false
	}
	if c.pendingException {
		return false
	}

	c.registers.StackPointer = c.registers.StackPointer.Retreat(slotsPopped)
	c.registers.ProgramPointer = retPP
	return true
}

// execReturn pops the caller's saved frame, or reports Finished if the
// call stack is empty or bounded by a nested-execution marker.
func (c *Context) execReturn() (result ExecResult, done bool) {
	if c.callStack.Size() == 0 || c.callStack.IsNestedMarkerOnTop() {
		return ResultFinished, true
	}
	fp, fn, pp, sp, _ := c.callStack.PopCallState()
	c.registers.FramePointer = fp
	c.currentFunction = fn
	c.registers.StackPointer = sp
	c.registers.ProgramPointer = pp
	return 0, false
}

// disposeArgsForStaticSignature releases the reference-type arguments
// already written for a call that will never happen (null receiver,
// unbound import) — the static fn descriptor is known even though
// resolution itself failed.
func (c *Context) disposeArgsForStaticSignature(fn *engine.Function, argsStart StackPtr) {
	off := 0
	if fn.IsMethod {
		ref := c.stack.SlotObject(argsStart)
		if !ref.IsNull() && ref.Type != nil && !ref.Type.IsValue && ref.Type.Behaviours.Release != nil {
			ref.Type.Behaviours.Release(ref)
		}
		off += pointerSlots
	}
	if fn.ReturnsOnStack {
		off += pointerSlots
	}
	for i, t := range fn.ParamTypes {
		if t != nil && !t.IsValue {
			ref := c.stack.SlotObject(argsStart.Advance(off))
			if !ref.IsNull() && t.Behaviours.Release != nil {
				t.Behaviours.Release(ref)
			}
		}
		off += ParamSlots(fn, i)
	}
}

func literalFunction(fn *engine.Function, idx int) (*engine.Function, bool) {
	if idx < 0 || idx >= len(fn.Literals) {
		return nil, false
	}
	f, ok := fn.Literals[idx].(*engine.Function)
	return f, ok
}

func literalType(fn *engine.Function, idx int) (*engine.TypeInfo, bool) {
	if idx < 0 || idx >= len(fn.Literals) {
		return nil, false
	}
	t, ok := fn.Literals[idx].(*engine.TypeInfo)
	return t, ok
}

// stackArgView implements engine.ArgumentView over a Context's data
// stack, handed to a Kind==Host function's implementation.
type stackArgView struct {
	c    *Context
	base StackPtr
}

func (v stackArgView) Arg32(slot int) uint32              { return v.c.stack.Slot32(v.base.Advance(slot)) }
func (v stackArgView) Arg64(slot int) uint64               { return v.c.stack.Slot64(v.base.Advance(slot)) }
func (v stackArgView) ArgObject(slot int) engine.ObjectRef { return v.c.stack.SlotObject(v.base.Advance(slot)) }
func (v stackArgView) SetReturn32(val uint32)              { v.c.registers.ValueRegister = uint64(val) }
func (v stackArgView) SetReturn64(val uint64)              { v.c.registers.ValueRegister = val }
func (v stackArgView) SetReturnObject(ref engine.ObjectRef) { v.c.registers.ObjectRegister = ref }

func (v stackArgView) Raise(message string) {
	v.c.setException(ExcApplicationException, message, v.c.currentFunction, v.c.registers.ProgramPointer)
}
