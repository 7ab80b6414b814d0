package vm

import "github.com/chazu/maggie-context/engine"

// StackPtr is a live stack pointer: which block it lies in, and the
// slot offset within that block. spec.md §3 requires that a live stack
// pointer always lie within one owned block; frames never straddle two
// blocks.
type StackPtr struct {
	Block  int
	Offset int
}

// blockBits/offsetBits match the wire format in spec.md §6: bits
// 31..26 = block index, bits 25..0 = offset within that block.
const (
	offsetBits = 26
	offsetMask = (1 << offsetBits) - 1
	blockMask  = 0x3F // 6 bits
)

// Serialize packs p into the wire format (block index in high 6 bits,
// offset in low 26 bits).
func (p StackPtr) Serialize() uint32 {
	return uint32(p.Block&blockMask)<<offsetBits | uint32(p.Offset)&offsetMask
}

// DeserializeStackPtr unpacks the wire format produced by Serialize.
func DeserializeStackPtr(packed uint32) StackPtr {
	return StackPtr{
		Block:  int(packed >> offsetBits & blockMask),
		Offset: int(packed & offsetMask),
	}
}

// Registers is the register bundle: the program pointer, stack pointer,
// frame pointer, 64-bit value register, object register, the
// "process suspend requests" latch, and a back-pointer to the owning
// context.
type Registers struct {
	ProgramPointer uint32
	StackPointer   StackPtr
	FramePointer   StackPtr
	ValueRegister  uint64
	ObjectRegister engine.ObjectRef
	ProcessSuspend bool

	ctx *Context
}

// ValueRegisterLow/High split the 64-bit value register into its two
// 32-bit halves, as needed when saving it into a nested-call marker
// frame (spec.md §3's call-stack-frame layout).
func (r *Registers) ValueRegisterLow() uint32  { return uint32(r.ValueRegister) }
func (r *Registers) ValueRegisterHigh() uint32 { return uint32(r.ValueRegister >> 32) }

func setValueRegisterHalves(r *Registers, low, high uint32) {
	r.ValueRegister = uint64(low) | uint64(high)<<32
}
