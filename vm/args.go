package vm

import (
	"github.com/chazu/maggie-context/engine"
)

// ParamSlots returns the number of 32-bit slots parameter i of fn
// occupies on the argument area: pointerSlots for any by-reference
// parameter, else the declared type's by-value width.
func ParamSlots(fn *engine.Function, i int) int {
	if fn.ParamInOut != nil && i < len(fn.ParamInOut) && fn.ParamInOut[i] != engine.ByValue {
		return pointerSlots
	}
	if i < len(fn.ParamTypes) && fn.ParamTypes[i] != nil {
		if fn.ParamTypes[i].Slots > 0 {
			return fn.ParamTypes[i].Slots
		}
	}
	return 1
}

// SpaceForParameters sums the slot width of every declared parameter.
func SpaceForParameters(fn *engine.Function) int {
	total := 0
	for i := range fn.ParamTypes {
		total += ParamSlots(fn, i)
	}
	return total
}

// ArgumentAreaSize computes the full argument-area size in 32-bit
// slots: the declared parameters, plus a hidden receiver slot when the
// function is a method, plus a hidden return-on-stack sink pointer
// when the function returns an aggregate on the stack. This is the
// invariant spec.md §8 requires to hold for every prepared Context.
func ArgumentAreaSize(fn *engine.Function) int {
	size := SpaceForParameters(fn)
	if fn.IsMethod {
		size += pointerSlots
	}
	if fn.ReturnsOnStack {
		size += pointerSlots
	}
	return size
}

// paramBaseFor returns the StackPtr of the first declared-parameter
// slot for an arbitrary frame, given that frame's pointer and function
// — used by the exception engine to address parameters of frames other
// than the one currently bound by Prepare.
func paramBaseFor(fp StackPtr, fn *engine.Function) StackPtr {
	base := fp.Retreat(ArgumentAreaSize(fn))
	if fn.IsMethod {
		base = base.Advance(pointerSlots)
	}
	if fn.ReturnsOnStack {
		base = base.Advance(pointerSlots)
	}
	return base
}

// argBase returns the StackPtr of the first declared-parameter slot,
// skipping the hidden receiver and return-sink slots if present.
func (c *Context) argBase() StackPtr {
	off := c.argsBase.Offset
	if c.currentFunction.IsMethod {
		off += pointerSlots
	}
	if c.currentFunction.ReturnsOnStack {
		off += pointerSlots
	}
	return StackPtr{Block: c.argsBase.Block, Offset: off}
}

// paramOffset returns the slot offset of parameter i relative to argBase.
func (c *Context) paramOffset(i int) int {
	off := 0
	for p := 0; p < i; p++ {
		off += ParamSlots(c.currentFunction, p)
	}
	return off
}

// SetObject sets the hidden receiver slot for a method call. It must be
// called after Prepare and before Execute.
func (c *Context) SetObject(ref engine.ObjectRef) error {
	if c.status != Prepared {
		return ErrContextNotPrepared
	}
	if !c.currentFunction.IsMethod {
		return ErrInvalidArg
	}
	c.stack.SetSlotObject(c.argsBase, ref)
	c.receiver = ref
	return nil
}

func (c *Context) checkSetArg(index int) (StackPtr, error) {
	if c.status != Prepared {
		return StackPtr{}, ErrContextNotPrepared
	}
	if index < 0 || index >= len(c.currentFunction.ParamTypes) {
		return StackPtr{}, ErrInvalidArg
	}
	base := c.argBase()
	return StackPtr{Block: base.Block, Offset: base.Offset + c.paramOffset(index)}, nil
}

// SetArgByte/Word/DWord/QWord/Float/Double write a scalar argument at
// index, in declaration order.
func (c *Context) SetArgByte(index int, v int8) error { return c.SetArgDWord(index, uint32(uint8(v))) }
func (c *Context) SetArgWord(index int, v int16) error {
	return c.SetArgDWord(index, uint32(uint16(v)))
}

func (c *Context) SetArgDWord(index int, v uint32) error {
	p, err := c.checkSetArg(index)
	if err != nil {
		return err
	}
	c.stack.SetSlot32(p, v)
	return nil
}

func (c *Context) SetArgQWord(index int, v uint64) error {
	p, err := c.checkSetArg(index)
	if err != nil {
		return err
	}
	c.stack.SetSlot64(p, v)
	return nil
}

func (c *Context) SetArgFloat(index int, v float32) error {
	return c.SetArgDWord(index, float32bits(v))
}

func (c *Context) SetArgDouble(index int, v float64) error {
	return c.SetArgQWord(index, float64bits(v))
}

// SetArgAddress writes a raw address (an in/out reference) argument.
func (c *Context) SetArgAddress(index int, ref engine.ObjectRef) error {
	p, err := c.checkSetArg(index)
	if err != nil {
		return err
	}
	c.stack.SetSlotObject(p, ref)
	return nil
}

// SetArgObject writes an object-handle argument, adjusting the
// referent's refcount through the type's behaviour table.
func (c *Context) SetArgObject(index int, ref engine.ObjectRef) error {
	p, err := c.checkSetArg(index)
	if err != nil {
		return err
	}
	if ref.Type != nil && !ref.Type.IsValue && ref.Type.Behaviours.AddRef != nil {
		ref.Type.Behaviours.AddRef(ref)
	}
	c.stack.SetSlotObject(p, ref)
	return nil
}

// SetArgVarType writes an argument whose static type is only known at
// the call site (a `?` parameter). It stores ref exactly as
// SetArgObject does; the type travels in ref.Type.
func (c *Context) SetArgVarType(index int, ref engine.ObjectRef) error {
	return c.SetArgObject(index, ref)
}

// GetAddressOfArg returns the stack address of argument index, for
// passing by reference into a nested call.
func (c *Context) GetAddressOfArg(index int) (StackPtr, error) {
	return c.checkSetArg(index)
}

// GetReturnByte/Word/DWord/QWord/Float/Double read the scalar return
// value after Execute returns Finished.
func (c *Context) GetReturnDWord() uint32  { return c.registers.ValueRegisterLow() }
func (c *Context) GetReturnQWord() uint64  { return c.registers.ValueRegister }
func (c *Context) GetReturnFloat() float32 { return float32frombits(c.GetReturnDWord()) }
func (c *Context) GetReturnDouble() float64 { return float64frombits(c.GetReturnQWord()) }
func (c *Context) GetReturnByte() int8     { return int8(c.GetReturnDWord()) }
func (c *Context) GetReturnWord() int16    { return int16(c.GetReturnDWord()) }

// GetReturnAddress / GetReturnObject read the object register.
func (c *Context) GetReturnAddress() engine.ObjectRef { return c.registers.ObjectRegister }
func (c *Context) GetReturnObject() engine.ObjectRef  { return c.registers.ObjectRegister }

// GetAddressOfReturnValue returns the stack address of the hidden
// return-on-stack sink, valid only when the prepared function returns
// an aggregate on the stack.
func (c *Context) GetAddressOfReturnValue() (StackPtr, error) {
	if !c.currentFunction.ReturnsOnStack {
		return StackPtr{}, ErrInvalidArg
	}
	return c.returnSinkPtr, nil
}
