package vm

import "github.com/chazu/maggie-context/engine"

// varAddr resolves a frame-relative variable operand to a stack
// address. Negative offsets name hidden/declared argument slots below
// the frame pointer; non-negative offsets name locals.
func (c *Context) varAddr(offset int16) StackPtr {
	return c.registers.FramePointer.Advance(int(offset))
}

// pushDWord/pushQWord/pushObject and their pop counterparts implement
// the operand stack the stack-op and call-family instructions share.
// They trust the reserveHeadroom slack left by the most recent
// Reserve call (at Prepare or call entry) rather than re-checking
// block capacity on every push — spec.md §9's "a handful of push
// instructions immediately following a call never themselves need to
// re-check for a block boundary".
func (c *Context) pushDWord(v uint32) {
	c.stack.SetSlot32(c.registers.StackPointer, v)
	c.registers.StackPointer = c.registers.StackPointer.Advance(1)
}

func (c *Context) popDWord() uint32 {
	c.registers.StackPointer = c.registers.StackPointer.Retreat(1)
	return c.stack.Slot32(c.registers.StackPointer)
}

func (c *Context) pushQWord(v uint64) {
	c.stack.SetSlot64(c.registers.StackPointer, v)
	c.registers.StackPointer = c.registers.StackPointer.Advance(2)
}

func (c *Context) popQWord() uint64 {
	c.registers.StackPointer = c.registers.StackPointer.Retreat(2)
	return c.stack.Slot64(c.registers.StackPointer)
}

func (c *Context) pushObject(ref engine.ObjectRef) {
	c.stack.SetSlotObject(c.registers.StackPointer, ref)
	c.registers.StackPointer = c.registers.StackPointer.Advance(pointerSlots)
}

func (c *Context) popObject() engine.ObjectRef {
	c.registers.StackPointer = c.registers.StackPointer.Retreat(pointerSlots)
	return c.stack.SlotObject(c.registers.StackPointer)
}

// loadIndirect and storeIndirect dereference the address currently
// held in the object register — a StackPtr (a local/argument address
// produced by push-variable-addr) or a *GlobalCell (produced by
// push-global-addr). This is a deliberate narrowing versus a real
// AngelScript-style VM, which also supports dereferencing into
// script-object fields; field layout is out of scope here (owned by
// the engine's object representation), so only these two address kinds
// are recognized.
func (c *Context) loadIndirect(width Width) (uint64, bool) {
	switch a := c.registers.ObjectRegister.Value.(type) {
	case StackPtr:
		switch width {
		case WidthByte:
			return uint64(uint8(c.stack.Slot32(a))), true
		case Width16:
			return uint64(uint16(c.stack.Slot32(a))), true
		case Width32:
			return uint64(c.stack.Slot32(a)), true
		case Width64:
			return c.stack.Slot64(a), true
		}
	case *GlobalCell:
		switch width {
		case WidthByte:
			return uint64(uint8(a.Scalar)), true
		case Width16:
			return uint64(uint16(a.Scalar)), true
		case Width32:
			return uint64(uint32(a.Scalar)), true
		case Width64:
			return a.Scalar, true
		}
	case ListElemAddr:
		if int(a.Index) >= len(a.Buf.Scalars) {
			return 0, false
		}
		v := a.Buf.Scalars[a.Index]
		switch width {
		case WidthByte:
			return uint64(uint8(v)), true
		case Width16:
			return uint64(uint16(v)), true
		case Width32:
			return uint64(uint32(v)), true
		case Width64:
			return v, true
		}
	}
	return 0, false
}

func (c *Context) storeIndirect(width Width, val uint64) bool {
	switch a := c.registers.ObjectRegister.Value.(type) {
	case StackPtr:
		switch width {
		case WidthByte:
			c.stack.SetSlot32(a, uint32(uint8(val)))
		case Width16:
			c.stack.SetSlot32(a, uint32(uint16(val)))
		case Width32:
			c.stack.SetSlot32(a, uint32(val))
		case Width64:
			c.stack.SetSlot64(a, val)
		}
		return true
	case *GlobalCell:
		switch width {
		case WidthByte:
			a.Scalar = uint64(uint8(val))
		case Width16:
			a.Scalar = uint64(uint16(val))
		case Width32:
			a.Scalar = uint64(uint32(val))
		case Width64:
			a.Scalar = val
		}
		return true
	case ListElemAddr:
		if int(a.Index) >= len(a.Buf.Scalars) {
			return false
		}
		switch width {
		case WidthByte:
			a.Buf.Scalars[a.Index] = uint64(uint8(val))
		case Width16:
			a.Buf.Scalars[a.Index] = uint64(uint16(val))
		case Width32:
			a.Buf.Scalars[a.Index] = uint64(uint32(val))
		case Width64:
			a.Buf.Scalars[a.Index] = val
		}
		return true
	}
	return false
}
