package vm

import "github.com/chazu/maggie-context/engine"

// runLoop is the dispatch loop Execute drives until the status is no
// longer Active. It checks the cooperative abort/suspend latches once
// per instruction, fetches and decodes one opcode, dispatches it, and
// either advances the program pointer by the opcode's static size or
// trusts that the handler has already repositioned it (every call,
// jump and return instruction does this itself). A pending exception
// after any dispatch is handed to handleException before the next
// fetch.
func (c *Context) runLoop() ExecResult {
	for {
		if c.doAbort.Load() {
			c.doAbort.Store(false)
			c.abortRequested.Store(false)
			return ResultAborted
		}
		if c.suspendRequested.Load() {
			c.suspendRequested.Store(false)
			return ResultSuspended
		}

		fn := c.currentFunction
		pp := c.registers.ProgramPointer
		bc := fn.Bytecode
		if int(pp) >= len(bc) {
			c.raiseVMException(ExcUnrecognizedBytecode, "program pointer ran past the end of the function")
			if !c.handleException() {
				return Exception
			}
			continue
		}
		op := Opcode(bc[pp])
		size, known := instrSize[op]
		if !known {
			c.raiseVMException(ExcUnrecognizedBytecode, "unrecognized opcode")
			if !c.handleException() {
				return Exception
			}
			continue
		}

		if c.lineCallback != nil {
			c.lineCallback.Fn(c, c.lineCallback.Receiver)
			if c.pendingException {
				if !c.handleException() {
					return Exception
				}
				continue
			}
		}

		ok, advance, result, finished := c.dispatch(op, pp, fn, bc)
		if finished {
			return result
		}
		if !ok {
			if !c.handleException() {
				return Exception
			}
			continue
		}
		if advance {
			c.registers.ProgramPointer = pp + uint32(size)
		}
	}
}

// dispatch executes one instruction. ok is false if the instruction
// raised a VM exception. advance tells the loop whether to apply the
// opcode's static size to the program pointer itself (true for every
// instruction except the ones that reposition it directly: calls,
// jumps, return, and JIT hand-off).
func (c *Context) dispatch(op Opcode, pp uint32, fn *engine.Function, bc []byte) (ok, advance bool, result ExecResult, finished bool) {
	switch op {
	case OpNop:
		return true, true, 0, false

	case OpPushDWord:
		c.pushDWord(readU32(bc, pp+1))
		return true, true, 0, false
	case OpPushQWord:
		c.pushQWord(readU64(bc, pp+1))
		return true, true, 0, false
	case OpPushPointer:
		c.pushObject(c.registers.ObjectRegister)
		return true, true, 0, false
	case OpPushNull:
		c.pushObject(engine.Null)
		return true, true, 0, false
	case OpPushTypeID:
		t, ok := literalType(fn, int(readU16(bc, pp+1)))
		if !ok {
			c.raiseVMException(ExcUnrecognizedBytecode, "push-type-id literal is not a type")
			return false, false, 0, false
		}
		c.registers.ObjectRegister = engine.ObjectRef{Type: t, Value: t}
		return true, true, 0, false
	case OpPushGlobalAddr:
		g, ok := literalGlobal(fn, int(readU16(bc, pp+1)))
		if !ok {
			c.raiseVMException(ExcUnrecognizedBytecode, "push-global-addr literal is not a global cell")
			return false, false, 0, false
		}
		c.registers.ObjectRegister = engine.ObjectRef{Value: g}
		return true, true, 0, false
	case OpPushVariableAddr:
		addr := c.varAddr(readI16(bc, pp+1))
		c.registers.ObjectRegister = engine.ObjectRef{Value: addr}
		return true, true, 0, false
	case OpPopPointer:
		c.popObject()
		return true, true, 0, false
	case OpSwapPointer:
		a := c.popObject()
		b := c.popObject()
		c.pushObject(a)
		c.pushObject(b)
		return true, true, 0, false
	case OpClearPointerVar:
		c.stack.SetSlotObject(c.varAddr(readI16(bc, pp+1)), engine.Null)
		return true, true, 0, false
	case OpPushVar32:
		c.pushDWord(c.stack.Slot32(c.varAddr(readI16(bc, pp+1))))
		return true, true, 0, false
	case OpPushVar64:
		c.pushQWord(c.stack.Slot64(c.varAddr(readI16(bc, pp+1))))
		return true, true, 0, false

	case OpMovVarVar32:
		dst := c.varAddr(readI16(bc, pp+3))
		src := c.varAddr(readI16(bc, pp+1))
		c.stack.SetSlot32(dst, c.stack.Slot32(src))
		return true, true, 0, false
	case OpMovVarVar64:
		dst := c.varAddr(readI16(bc, pp+3))
		src := c.varAddr(readI16(bc, pp+1))
		c.stack.SetSlot64(dst, c.stack.Slot64(src))
		return true, true, 0, false
	case OpMovVarReg32:
		c.registers.ValueRegister = uint64(c.stack.Slot32(c.varAddr(readI16(bc, pp+1))))
		return true, true, 0, false
	case OpMovVarReg64:
		c.registers.ValueRegister = c.stack.Slot64(c.varAddr(readI16(bc, pp+1)))
		return true, true, 0, false
	case OpMovRegVar32:
		c.stack.SetSlot32(c.varAddr(readI16(bc, pp+1)), uint32(c.registers.ValueRegister))
		return true, true, 0, false
	case OpMovRegVar64:
		c.stack.SetSlot64(c.varAddr(readI16(bc, pp+1)), c.registers.ValueRegister)
		return true, true, 0, false
	case OpMovGlobalVar32:
		g, ok := literalGlobal(fn, int(readU16(bc, pp+1)))
		if !ok {
			c.raiseVMException(ExcUnrecognizedBytecode, "mov-global-var literal is not a global cell")
			return false, false, 0, false
		}
		c.stack.SetSlot32(c.varAddr(readI16(bc, pp+3)), uint32(g.Scalar))
		return true, true, 0, false
	case OpMovVarGlobal32:
		g, ok := literalGlobal(fn, int(readU16(bc, pp+1)))
		if !ok {
			c.raiseVMException(ExcUnrecognizedBytecode, "mov-var-global literal is not a global cell")
			return false, false, 0, false
		}
		g.Scalar = uint64(c.stack.Slot32(c.varAddr(readI16(bc, pp+3))))
		return true, true, 0, false
	case OpMovGlobalVar64:
		g, ok := literalGlobal(fn, int(readU16(bc, pp+1)))
		if !ok {
			c.raiseVMException(ExcUnrecognizedBytecode, "mov-global-var literal is not a global cell")
			return false, false, 0, false
		}
		c.stack.SetSlot64(c.varAddr(readI16(bc, pp+3)), g.Scalar)
		return true, true, 0, false
	case OpMovVarGlobal64:
		g, ok := literalGlobal(fn, int(readU16(bc, pp+1)))
		if !ok {
			c.raiseVMException(ExcUnrecognizedBytecode, "mov-var-global literal is not a global cell")
			return false, false, 0, false
		}
		g.Scalar = c.stack.Slot64(c.varAddr(readI16(bc, pp+3)))
		return true, true, 0, false

	case OpLoadIndirect:
		w := Width(bc[pp+1])
		v, ok := c.loadIndirect(w)
		if !ok {
			c.raiseVMException(ExcNullPointerAccess, "load through an invalid or null address")
			return false, false, 0, false
		}
		c.registers.ValueRegister = v
		return true, true, 0, false
	case OpStoreIndirect:
		w := Width(bc[pp+1])
		if !c.storeIndirect(w, c.registers.ValueRegister) {
			c.raiseVMException(ExcNullPointerAccess, "store through an invalid or null address")
			return false, false, 0, false
		}
		return true, true, 0, false

	case OpArith:
		if !c.execArith(NumType(bc[pp+1]), AluOp(bc[pp+2])) {
			return false, false, 0, false
		}
		return true, true, 0, false
	case OpBitwise:
		c.execBitwise(Width(bc[pp+1]), BitOp(bc[pp+2]))
		return true, true, 0, false
	case OpCompare:
		c.execCompare(NumType(bc[pp+1]))
		return true, true, 0, false
	case OpConvert:
		c.execConvert(NumType(bc[pp+1]), NumType(bc[pp+2]))
		return true, true, 0, false
	case OpPow:
		if !c.execPow(NumType(bc[pp+1])) {
			return false, false, 0, false
		}
		return true, true, 0, false

	case OpCondJump:
		cond := Cond(bc[pp+1])
		rel := readI16(bc, pp+2)
		if c.testCond(cond) {
			c.registers.ProgramPointer = uint32(int64(pp) + int64(instrSize[op]) + int64(rel))
		} else {
			c.registers.ProgramPointer = pp + uint32(instrSize[op])
		}
		return true, false, 0, false

	case OpJump:
		rel := readI16(bc, pp+1)
		c.registers.ProgramPointer = uint32(int64(pp) + int64(instrSize[op]) + int64(rel))
		return true, false, 0, false
	case OpJumpTable:
		c.registers.ProgramPointer = pp + 1 + uint32(int32(c.registers.ValueRegister))*3
		return true, false, 0, false
	case OpSuspend:
		if c.suspendRequested.Load() {
			c.suspendRequested.Store(false)
			c.registers.ProgramPointer = pp + uint32(instrSize[op])
			return true, false, ResultSuspended, true
		}
		return true, true, 0, false
	case OpReturn:
		res, done := c.execReturn()
		if done {
			return true, false, res, true
		}
		return true, false, 0, false

	case OpCallScript, OpCallImported, OpCallInterface, OpCallVirtual, OpCallFuncPtr, OpCallHost, OpCallFast1Int:
		if !c.execCall(op, pp) {
			return false, false, 0, false
		}
		return true, false, 0, false

	case OpAlloc:
		if !c.execAlloc(fn, pp) {
			return false, false, 0, false
		}
		return true, true, 0, false
	case OpFree:
		c.execFree(fn, readI16(bc, pp+1))
		return true, true, 0, false
	case OpRefCopy:
		c.execRefCopy(fn, readI16(bc, pp+1), true)
		return true, true, 0, false
	case OpRefCopyToVar:
		c.execRefCopy(fn, readI16(bc, pp+1), false)
		return true, true, 0, false
	case OpCheckNullTop:
		if !c.checkNull(c.registers.ObjectRegister) {
			return false, false, 0, false
		}
		return true, true, 0, false
	case OpCheckNullOffset:
		ref := c.stack.SlotObject(c.registers.StackPointer.Retreat(int(readI16(bc, pp+1))))
		if !c.checkNull(ref) {
			return false, false, 0, false
		}
		return true, true, 0, false
	case OpCheckNullVar:
		ref := c.stack.SlotObject(c.varAddr(readI16(bc, pp+1)))
		if !c.checkNull(ref) {
			return false, false, 0, false
		}
		return true, true, 0, false
	case OpCheckNullAfterDeref:
		if !c.checkNull(c.registers.ObjectRegister) {
			return false, false, 0, false
		}
		return true, true, 0, false
	case OpCastDown:
		t, ok := literalType(fn, int(readU16(bc, pp+1)))
		if !ok {
			c.raiseVMException(ExcUnrecognizedBytecode, "cast-down literal is not a type")
			return false, false, 0, false
		}
		c.execCastDown(t)
		return true, true, 0, false
	case OpCastCross:
		t, ok := literalType(fn, int(readU16(bc, pp+1)))
		if !ok {
			c.raiseVMException(ExcUnrecognizedBytecode, "cast-cross literal is not a type")
			return false, false, 0, false
		}
		c.execCastCross(t)
		return true, true, 0, false

	case OpListAlloc:
		if !c.execListAlloc(fn, pp) {
			return false, false, 0, false
		}
		return true, true, 0, false
	case OpListSetCount:
		if !c.execListSetCount() {
			return false, false, 0, false
		}
		return true, true, 0, false
	case OpListPushElemAddr:
		if !c.execListPushElemAddr() {
			return false, false, 0, false
		}
		return true, true, 0, false
	case OpListSetElemType:
		if !c.execListSetElemType(fn, pp) {
			return false, false, 0, false
		}
		return true, true, 0, false

	case OpJitEntry:
		if c.jit == nil {
			return true, true, 0, false
		}
		token := readU16(bc, pp+1)
		next, res, done := c.jit.Enter(c, token)
		if done {
			return true, false, res, true
		}
		c.registers.ProgramPointer = next
		return true, false, 0, false

	default:
		c.raiseVMException(ExcUnrecognizedBytecode, "unhandled opcode")
		return false, false, 0, false
	}
}

// testCond evaluates a conditional-jump predicate against the low 32
// bits of the value register.
func (c *Context) testCond(cond Cond) bool {
	v := int64(int32(uint32(c.registers.ValueRegister)))
	switch cond {
	case CondZero:
		return v == 0
	case CondNonZero:
		return v != 0
	case CondNegative:
		return v < 0
	case CondNonNegative:
		return v >= 0
	case CondPositive:
		return v > 0
	case CondNonPositive:
		return v <= 0
	}
	return false
}
