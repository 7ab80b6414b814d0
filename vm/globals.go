package vm

import "github.com/chazu/maggie-context/engine"

// GlobalCell is a literal-pool entry standing in for engine-owned
// global storage: a 32/64-bit scalar slot or an object reference,
// addressed by the global-variable move family and push-global-addr.
type GlobalCell struct {
	Scalar uint64
	Object engine.ObjectRef
}

func literalGlobal(fn *engine.Function, idx int) (*GlobalCell, bool) {
	if idx < 0 || idx >= len(fn.Literals) {
		return nil, false
	}
	g, ok := fn.Literals[idx].(*GlobalCell)
	return g, ok
}

// ListBuffer is the object-register payload produced by OpListAlloc: a
// compiler-materialized, typed initializer list. Elements are boxed as
// raw 64-bit words regardless of declared width, the same convention
// GlobalCell.Scalar uses; a list of handle-typed elements is out of
// scope here, since resolving them needs the script object layout this
// VM deliberately does not own. Disposed through the owning TypeInfo's
// Behaviours.ListDestruct.
type ListBuffer struct {
	ElemType *engine.TypeInfo
	Count    uint32
	Scalars  []uint64
}

func currentListBuffer(c *Context) (*ListBuffer, bool) {
	b, ok := c.registers.ObjectRegister.Value.(*ListBuffer)
	return b, ok
}

// ListElemAddr is an object-register address produced by
// OpListPushElemAddr, naming one slot of a ListBuffer for the
// following OpLoadIndirect/OpStoreIndirect instructions.
type ListElemAddr struct {
	Buf   *ListBuffer
	Index uint32
}
