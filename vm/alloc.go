package vm

import "github.com/chazu/maggie-context/engine"

// disposeTypedRef runs the disposal routine appropriate to t's
// capability flags against ref: list-buffer destruction, funcdef
// release, value-type destruct(+free if heap-allocated), or an
// ordinary reference release. Shared between the exception engine's
// frame teardown and the allocation family's explicit free/refcopy
// instructions, so there is exactly one place that knows how to take
// a TypeInfo's Behaviours apart.
func disposeTypedRef(t *engine.TypeInfo, ref engine.ObjectRef, onHeap bool) {
	if t == nil {
		return
	}
	b := t.Behaviours
	switch {
	case t.ListType:
		if b.ListDestruct != nil {
			b.ListDestruct(ref)
		}
	case t.FuncDef:
		if b.FuncDefRelease != nil {
			b.FuncDefRelease(ref)
		}
	case t.IsValue:
		if b.Destruct != nil {
			b.Destruct(ref)
		}
		if onHeap && b.Free != nil {
			b.Free(ref)
		}
	default:
		if !ref.IsNull() && b.Release != nil {
			b.Release(ref)
		}
	}
}

// execAlloc implements OpAlloc: construct a new instance of the
// literal type and leave it in the object register. Value types are
// placed inline by the compiler's variable-space layout and never
// reach this opcode; OpAlloc only ever targets reference types and
// heap-allocated values, matching spec.md §4's allocation family.
// Constructor arguments, when the type takes any, are staged by the
// call family immediately afterward (Construct may itself re-enter
// the interpreter to run a script constructor); OpAlloc's own job is
// only to obtain the raw instance.
func (c *Context) execAlloc(fn *engine.Function, pp uint32) bool {
	t, ok := literalType(fn, int(readU16(fn.Bytecode, pp+1)))
	if !ok {
		c.raiseVMException(ExcUnrecognizedBytecode, "alloc literal is not a type")
		return false
	}
	var ref engine.ObjectRef
	var err error
	switch {
	case t.Behaviours.Construct != nil:
		ref, err = t.Behaviours.Construct(c.host.Allocator, nil)
	case c.host.Allocator != nil:
		ref, err = c.host.Allocator.Allocate(t)
	default:
		c.raiseVMException(ExcUnrecognizedBytecode, "no allocator available for type: "+t.Name)
		return false
	}
	if err != nil {
		c.RaiseApplicationException(err)
		return false
	}
	c.objectsAllocated++
	c.registers.ObjectRegister = ref
	return true
}

// execFree implements OpFree: dispose of the reference held in local
// variable offset and clear the slot.
func (c *Context) execFree(fn *engine.Function, offset int16) {
	addr := c.varAddr(offset)
	ref := c.stack.SlotObject(addr)
	if lv, ok := localAt(fn, offset); ok {
		disposeTypedRef(lv.Type, ref, lv.OnHeap)
	}
	c.stack.SetSlotObject(addr, engine.Null)
}

// execRefCopy implements OpRefCopy/OpRefCopyToVar: pop a new reference
// from the top of the stack (or, for the ToVar variant, read it from
// the object register), release whatever the destination variable currently holds, addref
// the incoming value, and store it.
func (c *Context) execRefCopy(fn *engine.Function, offset int16, popSource bool) {
	var incoming engine.ObjectRef
	if popSource {
		incoming = c.popObject()
	} else {
		incoming = c.registers.ObjectRegister
	}
	addr := c.varAddr(offset)
	old := c.stack.SlotObject(addr)
	if lv, ok := localAt(fn, offset); ok {
		disposeTypedRef(lv.Type, old, lv.OnHeap)
	}
	if !incoming.IsNull() && incoming.Type != nil && incoming.Type.Behaviours.AddRef != nil {
		incoming.Type.Behaviours.AddRef(incoming)
	}
	c.stack.SetSlotObject(addr, incoming)
}

func localAt(fn *engine.Function, offset int16) (engine.LocalVar, bool) {
	for _, lv := range fn.Locals {
		if lv.Offset == int(offset) {
			return lv, true
		}
	}
	return engine.LocalVar{}, false
}

// checkNull raises ExcNullPointerAccess if ref is null, returning
// false so the caller can abort the instruction without advancing.
func (c *Context) checkNull(ref engine.ObjectRef) bool {
	if ref.IsNull() {
		c.raiseVMException(ExcNullPointerAccess, "null pointer access")
		return false
	}
	return true
}

// execCastDown implements OpCastDown: narrow the object register's
// reference to a derived type, nulling it out if the dynamic type
// does not actually derive from the target (spec.md's "a failed
// downcast yields null, not a fault").
func (c *Context) execCastDown(target *engine.TypeInfo) {
	ref := c.registers.ObjectRegister
	if ref.IsNull() || ref.Type == nil {
		return
	}
	if !ref.Type.DerivesFrom(target) {
		c.registers.ObjectRegister = engine.Null
	}
}

// execCastCross implements OpCastCross: reinterpret the object
// register's reference as the target interface, nulling it out if the
// dynamic type does not implement it.
func (c *Context) execCastCross(target *engine.TypeInfo) {
	ref := c.registers.ObjectRegister
	if ref.IsNull() || ref.Type == nil {
		c.registers.ObjectRegister = engine.Null
		return
	}
	if _, ok := ref.Type.Implements(target); !ok {
		c.registers.ObjectRegister = engine.Null
	}
}

// execListAlloc implements OpListAlloc: materialize a fresh, empty
// initializer-list buffer of the given element type and capacity, and
// leave it in the object register for the following
// OpListPushElemAddr/OpListSetCount instructions to fill in.
func (c *Context) execListAlloc(fn *engine.Function, pp uint32) bool {
	bc := fn.Bytecode
	elemType, ok := literalType(fn, int(readU16(bc, pp+1)))
	if !ok {
		c.raiseVMException(ExcUnrecognizedBytecode, "list-alloc literal is not a type")
		return false
	}
	count := readU32(bc, pp+3)
	buf := &ListBuffer{
		ElemType: elemType,
		Scalars:  make([]uint64, count),
	}
	c.registers.ObjectRegister = engine.ObjectRef{Type: elemType, Value: buf}
	return true
}

// execListSetCount implements OpListSetCount: the compiler has
// computed the actual element count (which may differ from the
// capacity OpListAlloc reserved, for a list with nested sub-lists) and
// stores it via the value register.
func (c *Context) execListSetCount() bool {
	buf, ok := currentListBuffer(c)
	if !ok {
		c.raiseVMException(ExcUnrecognizedBytecode, "list-set-count with no list buffer in the object register")
		return false
	}
	buf.Count = uint32(c.registers.ValueRegister)
	return true
}

// execListPushElemAddr implements OpListPushElemAddr: point the object
// register at the buffer's next uninitialized element, so the
// following load/store-indirect instructions can fill it in like any
// other addressed slot. Emitted bytecode fills each element before
// moving to the next, since nothing else retains the ListBuffer once
// its address has replaced it in the object register.
func (c *Context) execListPushElemAddr() bool {
	buf, ok := currentListBuffer(c)
	if !ok {
		c.raiseVMException(ExcUnrecognizedBytecode, "list-push-elem-addr with no list buffer in the object register")
		return false
	}
	if buf.Count >= uint32(len(buf.Scalars)) {
		c.raiseVMException(ExcUnrecognizedBytecode, "list buffer element index out of range")
		return false
	}
	idx := buf.Count
	buf.Count++
	c.registers.ObjectRegister = engine.ObjectRef{Type: buf.ElemType, Value: ListElemAddr{Buf: buf, Index: idx}}
	return true
}

// execListSetElemType implements OpListSetElemType: retag the current
// list buffer's element type, used for a list containing elements
// whose concrete type varies per position (a "?" pattern list).
func (c *Context) execListSetElemType(fn *engine.Function, pp uint32) bool {
	t, ok := literalType(fn, int(readU16(fn.Bytecode, pp+1)))
	if !ok {
		c.raiseVMException(ExcUnrecognizedBytecode, "list-set-elem-type literal is not a type")
		return false
	}
	buf, ok := currentListBuffer(c)
	if !ok {
		c.raiseVMException(ExcUnrecognizedBytecode, "list-set-elem-type with no list buffer in the object register")
		return false
	}
	buf.ElemType = t
	return true
}
