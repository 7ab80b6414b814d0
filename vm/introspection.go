package vm

import "github.com/chazu/maggie-context/engine"

// levelState resolves call-stack level (0 = the currently executing
// frame, 1 = its immediate caller, and so on) to the function and
// register triple active at that level. Level 0 reads the live
// registers; deeper levels read call-stack entry level-1 directly. A
// level whose entry is a nested-execution marker reports ok=false;
// levels beyond a marker are not filtered out (spec.md §4.9).
func (c *Context) levelState(level int) (fn *engine.Function, fp, sp StackPtr, pp uint32, ok bool) {
	if level == 0 {
		return c.currentFunction, c.registers.FramePointer, c.registers.StackPointer, c.registers.ProgramPointer, c.currentFunction != nil
	}
	fp, fn, pp, sp, _, ok = c.callStack.FullFrameAt(level - 1)
	return fn, fp, sp, pp, ok
}

// GetCallstackSize returns 1 (the currently executing frame) plus the
// number of saved frames below it (spec.md §4.9).
func (c *Context) GetCallstackSize() int { return c.callStack.Size() + 1 }

// GetFunction returns the function active at level.
func (c *Context) GetFunction(level int) (*engine.Function, bool) {
	fn, _, _, _, ok := c.levelState(level)
	return fn, ok
}

// GetLineNumber returns the source line/column active at level, looked
// up from that level's function's line table by its program position.
func (c *Context) GetLineNumber(level int) (line, column int, ok bool) {
	fn, _, _, pp, ok := c.levelState(level)
	if !ok {
		return 0, 0, false
	}
	line, column = lineAt(fn, pp)
	return line, column, true
}

// GetVarCount returns the number of declared locals (including
// parameters reflected into Locals, when the compiler does so) of the
// function active at level.
func (c *Context) GetVarCount(level int) (int, bool) {
	fn, _, _, _, ok := c.levelState(level)
	if !ok {
		return 0, false
	}
	return len(fn.Locals), true
}

// GetVar returns the declared descriptor of local idx at level.
func (c *Context) GetVar(level, idx int) (engine.LocalVar, bool) {
	fn, _, _, _, ok := c.levelState(level)
	if !ok || idx < 0 || idx >= len(fn.Locals) {
		return engine.LocalVar{}, false
	}
	return fn.Locals[idx], true
}

// GetAddressOfVar returns the stack address of local idx at level.
func (c *Context) GetAddressOfVar(level, idx int) (StackPtr, bool) {
	fn, fp, _, _, ok := c.levelState(level)
	if !ok || idx < 0 || idx >= len(fn.Locals) {
		return StackPtr{}, false
	}
	return fp.Advance(fn.Locals[idx].Offset), true
}

// GetThisPointer returns the receiver bound at level, or the null
// reference (ok=true) if the function active there is not a method.
func (c *Context) GetThisPointer(level int) (engine.ObjectRef, bool) {
	fn, fp, _, _, ok := c.levelState(level)
	if !ok {
		return engine.Null, false
	}
	if !fn.IsMethod {
		return engine.Null, true
	}
	return c.stack.SlotObject(fp.Retreat(ArgumentAreaSize(fn))), true
}

// GetThisTypeId returns the dynamic type of the receiver bound at
// level, standing in for AngelScript's numeric type-id handle — this
// module addresses types directly by their *engine.TypeInfo, so the
// "id" is the descriptor itself.
func (c *Context) GetThisTypeId(level int) (*engine.TypeInfo, bool) {
	ref, ok := c.GetThisPointer(level)
	if !ok || ref.IsNull() {
		return nil, ok
	}
	return ref.Type, true
}

// IsVarInScope reports whether local idx at level is in scope at that
// level's current program position: declared at or before it, and (for
// every local with a declared Type) still within the nesting of block-begin/block-end
// events its declaration sits under (spec.md §4.9).
func (c *Context) IsVarInScope(level, idx int) (bool, bool) {
	fn, _, _, pp, ok := c.levelState(level)
	if !ok || idx < 0 || idx >= len(fn.Locals) {
		return false, false
	}
	lv := fn.Locals[idx]
	if lv.DeclaredAt > pp {
		return false, true
	}
	if lv.Type == nil {
		return true, true
	}
	return blockScopeLive(fn, idx, pp), true
}

// blockScopeLive replays BlockBegin/BlockEnd/VarDecl events up to pp to
// determine whether idx's declaring block is still open: VarDecl
// records the nesting depth idx was declared at, and any BlockEnd that
// pops back above that depth closes it again.
func blockScopeLive(fn *engine.Function, idx int, pp uint32) bool {
	depth := 0
	declDepth := -1
	for _, e := range fn.LifeEvents {
		if e.Pos > pp {
			break
		}
		switch e.Kind {
		case engine.BlockBegin:
			depth++
		case engine.BlockEnd:
			depth--
			if declDepth >= 0 && depth < declDepth {
				declDepth = -1
			}
		case engine.VarDecl:
			if e.VarIndex == idx {
				declDepth = depth
			}
		}
	}
	return declDepth >= 0
}

// pendingCallScan is the result of scanning forward from a program
// position to the next call instruction: the statically resolved
// target and how many of its argument slots have not yet been pushed.
type pendingCallScan struct {
	target    *engine.Function
	yetToPush int
}

type argsScanKey struct {
	fn *engine.Function
	pp uint32
}

// pendingCall scans fn's bytecode forward from pp, summing the slot
// width of push-family instructions, until it reaches the call
// instruction they are building arguments for — the mechanism spec.md
// §4.9 describes for "argument-values-on-stack introspection... scan
// forward from the current program position to the next call
// instruction". Results are cached by (function, position) since a
// suspended or exception-state context is typically introspected
// repeatedly at the same position.
func (c *Context) pendingCall(fn *engine.Function, pp uint32) (pendingCallScan, bool) {
	key := argsScanKey{fn: fn, pp: pp}
	if c.argsScanCache == nil {
		c.argsScanCache = make(map[argsScanKey]pendingCallScan)
	}
	if cached, ok := c.argsScanCache[key]; ok {
		return cached, cached.target != nil
	}
	scan, ok := scanForPendingCall(fn, pp)
	c.argsScanCache[key] = scan
	return scan, ok
}

func scanForPendingCall(fn *engine.Function, pp uint32) (pendingCallScan, bool) {
	bc := fn.Bytecode
	cur := pp
	pushed := 0
	for int(cur) < len(bc) {
		op := Opcode(bc[cur])
		size, known := instrSize[op]
		if !known {
			return pendingCallScan{}, false
		}
		switch op {
		case OpPushDWord, OpPushVar32:
			pushed++
		case OpPushQWord, OpPushVar64:
			pushed += 2
		case OpPushPointer, OpPushNull:
			pushed += pointerSlots
		case OpCallScript, OpCallImported, OpCallHost, OpCallFast1Int:
			target, ok := literalFunction(fn, int(readU32(bc, cur+1)))
			if !ok {
				return pendingCallScan{}, false
			}
			return pendingCallScan{target: target, yetToPush: pushed}, true
		case OpCallVirtual:
			t, ok := literalType(fn, int(readU16(bc, cur+1)))
			idx := int(readU16(bc, cur+3))
			if !ok || idx < 0 || idx >= len(t.VTable) {
				return pendingCallScan{}, false
			}
			return pendingCallScan{target: t.VTable[idx], yetToPush: pushed}, true
		case OpCallInterface:
			t, ok := literalType(fn, int(readU16(bc, cur+1)))
			idx := int(readU16(bc, cur+3))
			if !ok || idx < 0 || idx >= len(t.VTable) {
				return pendingCallScan{}, false
			}
			return pendingCallScan{target: t.VTable[idx], yetToPush: pushed}, true
		case OpCallFuncPtr:
			return pendingCallScan{}, false
		}
		cur += uint32(size)
	}
	return pendingCallScan{}, false
}

// argsAreaAt resolves level's pending call (if its current program
// position sits between argument pushes and the call instruction) to
// the target being called, the stack address its argument area starts
// at, and how many slots of it are already on the stack.
func (c *Context) argsAreaAt(level int) (target *engine.Function, argsStart StackPtr, alreadyPushed int, ok bool) {
	fn, _, sp, pp, ok := c.levelState(level)
	if !ok {
		return nil, StackPtr{}, 0, false
	}
	scan, ok := c.pendingCall(fn, pp)
	if !ok {
		return nil, StackPtr{}, 0, false
	}
	argsSize := ArgumentAreaSize(scan.target)
	alreadyPushed = argsSize - scan.yetToPush
	if alreadyPushed < 0 {
		alreadyPushed = 0
	}
	return scan.target, sp.Retreat(alreadyPushed), alreadyPushed, true
}

// GetArgsOnStackCount returns how many of the pending call's declared
// parameters (hidden receiver/return-sink slots not counted) have
// already been pushed onto the stack at level's current position.
func (c *Context) GetArgsOnStackCount(level int) (int, bool) {
	target, _, alreadyPushed, ok := c.argsAreaAt(level)
	if !ok {
		return 0, false
	}
	off := hiddenSlotsFor(target)
	count := 0
	for i := range target.ParamTypes {
		slots := ParamSlots(target, i)
		if off+slots > alreadyPushed {
			break
		}
		off += slots
		count++
	}
	return count, true
}

// GetArgOnStack returns the raw 32-bit slot value of parameter idx of
// the pending call at level, already pushed onto the stack.
func (c *Context) GetArgOnStack(level, idx int) (uint32, bool) {
	target, argsStart, _, ok := c.argsAreaAt(level)
	if !ok || idx < 0 || idx >= len(target.ParamTypes) {
		return 0, false
	}
	off := hiddenSlotsFor(target)
	for i := 0; i < idx; i++ {
		off += ParamSlots(target, i)
	}
	return c.stack.Slot32(argsStart.Advance(off)), true
}

func hiddenSlotsFor(fn *engine.Function) int {
	off := 0
	if fn.IsMethod {
		off += pointerSlots
	}
	if fn.ReturnsOnStack {
		off += pointerSlots
	}
	return off
}
