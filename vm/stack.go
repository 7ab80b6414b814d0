package vm

import "github.com/chazu/maggie-context/engine"

// pointerSlots is the number of 32-bit slots a pointer-sized value
// (a handle, a reference, a return-on-stack address) occupies on the
// data stack.
const pointerSlots = 2

// reserveHeadroom is the slack reserve() leaves below the stack pointer
// in addition to the caller's requested n, so that a handful of
// push/pop instructions immediately following a call never themselves
// need to re-check for a block boundary.
const reserveHeadroom = 8

// stackBlock is one owned, contiguous buffer of 32-bit slots. obj runs
// parallel to data: obj[i] holds the object reference occupying slot i
// when that slot is part of a pointer-sized value, nil otherwise. This
// keeps the stack free of unsafe.Pointer while still modeling "raw
// pointer arithmetic into a dynamically sized stack" (spec.md §9) as
// typed, bounds-checked Go slices.
type stackBlock struct {
	data []uint32
	obj  []engine.ObjectRef
}

func newStackBlock(size int) *stackBlock {
	return &stackBlock{
		data: make([]uint32, size),
		obj:  make([]engine.ObjectRef, size),
	}
}

// Stack is the segmented data stack owned by one Context. Block i has
// size initialSize*2^i, capped so the running total never exceeds
// maxSlots.
type Stack struct {
	blocks      []*stackBlock
	initialSize int
	maxSlots    int

	// notAllocated is set when the most recent reserve() overflowed
	// without growing the stack, so unwind must skip normal frame
	// cleanup for the frame that was being prepared.
	notAllocated bool
}

// NewStack creates a stack with one block of initialSize slots and a
// total-size cap of maxSlots slots across all blocks.
func NewStack(initialSize, maxSlots int) *Stack {
	if initialSize <= 0 {
		initialSize = 128
	}
	s := &Stack{initialSize: initialSize, maxSlots: maxSlots}
	s.blocks = []*stackBlock{newStackBlock(initialSize)}
	return s
}

// blockSize returns the capacity of block i under the doubling policy.
func (s *Stack) blockSize(i int) int {
	n := s.initialSize
	for ; i > 0; i-- {
		n *= 2
	}
	return n
}

// totalSlotsThrough returns the cumulative slot capacity of blocks
// [0, i], used to enforce the configured maximum stack size.
func (s *Stack) totalSlotsThrough(i int) int {
	total := 0
	for b := 0; b <= i; b++ {
		total += s.blockSize(b)
	}
	return total
}

func (s *Stack) block(i int) *stackBlock {
	for len(s.blocks) <= i {
		s.blocks = append(s.blocks, nil)
	}
	if s.blocks[i] == nil {
		s.blocks[i] = newStackBlock(s.blockSize(i))
	}
	return s.blocks[i]
}

// Reserve ensures the block containing *sp has at least n+reserveHeadroom
// free slots below *sp. If not, it advances *sp to the start of the next
// block (allocating it if necessary), copying carry/carryObj — the
// already-written argument area for the pending call — to the start of
// the new block so the callee's frame is contiguous.
//
// Reserve returns true on stack overflow (the configured maximum total
// stack size would be exceeded); in that case *sp is left unchanged and
// s.notAllocated is set.
func (s *Stack) Reserve(sp *StackPtr, n int, carry []uint32, carryObj []engine.ObjectRef) bool {
	s.notAllocated = false
	blk := s.block(sp.Block)
	if sp.Offset+n+reserveHeadroom <= len(blk.data) {
		return false
	}
	nextBlock := sp.Block + 1
	if s.maxSlots > 0 && s.totalSlotsThrough(nextBlock) > s.maxSlots {
		s.notAllocated = true
		return true
	}
	newBlk := s.block(nextBlock)
	copy(newBlk.data, carry)
	copy(newBlk.obj, carryObj)
	sp.Block = nextBlock
	sp.Offset = len(carry)
	return false
}

// NotAllocated reports whether the last Reserve call overflowed without
// growing the stack; the exception engine consults this to skip frame
// cleanup for the in-flight call.
func (s *Stack) NotAllocated() bool { return s.notAllocated }

// Slot32 / SetSlot32 read and write a single 32-bit data slot.
func (s *Stack) Slot32(p StackPtr) uint32 {
	return s.block(p.Block).data[p.Offset]
}

func (s *Stack) SetSlot32(p StackPtr, v uint32) {
	blk := s.block(p.Block)
	blk.data[p.Offset] = v
	blk.obj[p.Offset] = engine.ObjectRef{}
}

// Slot64 / SetSlot64 read and write a 64-bit scalar spanning two slots
// (low word first).
func (s *Stack) Slot64(p StackPtr) uint64 {
	blk := s.block(p.Block)
	return uint64(blk.data[p.Offset]) | uint64(blk.data[p.Offset+1])<<32
}

func (s *Stack) SetSlot64(p StackPtr, v uint64) {
	blk := s.block(p.Block)
	blk.data[p.Offset] = uint32(v)
	blk.data[p.Offset+1] = uint32(v >> 32)
	blk.obj[p.Offset] = engine.ObjectRef{}
	blk.obj[p.Offset+1] = engine.ObjectRef{}
}

// SlotObject / SetSlotObject read and write a pointer-sized object
// reference occupying pointerSlots consecutive slots.
func (s *Stack) SlotObject(p StackPtr) engine.ObjectRef {
	return s.block(p.Block).obj[p.Offset]
}

func (s *Stack) SetSlotObject(p StackPtr, ref engine.ObjectRef) {
	blk := s.block(p.Block)
	blk.obj[p.Offset] = ref
	for i := 1; i < pointerSlots; i++ {
		blk.obj[p.Offset+i] = engine.ObjectRef{}
	}
}

// Advance returns p moved forward by n slots, without crossing a block
// boundary check — callers that need growth must go through Reserve
// first.
func (p StackPtr) Advance(n int) StackPtr {
	return StackPtr{Block: p.Block, Offset: p.Offset + n}
}

// Retreat returns p moved backward by n slots.
func (p StackPtr) Retreat(n int) StackPtr {
	return StackPtr{Block: p.Block, Offset: p.Offset - n}
}

// ValidPtr reports whether p names a slot inside a block this stack
// currently owns — used to bound the linear search a deserialized
// pointer is checked against (spec.md §4.1).
func (s *Stack) ValidPtr(p StackPtr) bool {
	if p.Block < 0 || p.Block >= len(s.blocks) || s.blocks[p.Block] == nil {
		return false
	}
	return p.Offset >= 0 && p.Offset < len(s.blocks[p.Block].data)
}

// snapshot copies n slots starting at p out of their owning block, for
// a call-entry sequence that needs to relocate already-written
// argument data across a block boundary.
func (s *Stack) snapshot(p StackPtr, n int) ([]uint32, []engine.ObjectRef) {
	blk := s.block(p.Block)
	data := make([]uint32, n)
	obj := make([]engine.ObjectRef, n)
	copy(data, blk.data[p.Offset:p.Offset+n])
	copy(obj, blk.obj[p.Offset:p.Offset+n])
	return data, obj
}

// restore writes a snapshot taken by snapshot back at p, used once a
// call-entry Reserve has moved the frame to a freshly allocated block.
func (s *Stack) restore(p StackPtr, data []uint32, obj []engine.ObjectRef) {
	blk := s.block(p.Block)
	copy(blk.data[p.Offset:p.Offset+len(data)], data)
	copy(blk.obj[p.Offset:p.Offset+len(obj)], obj)
}

// BlockCount returns the number of blocks currently allocated.
func (s *Stack) BlockCount() int { return len(s.blocks) }

// BlockScalars returns a copy of block i's raw 32-bit scalar data, for
// Serialization to snapshot. Object slots are never included: script
// object identity is out of scope for this module (spec.md §1), so a
// restored stack's object slots always start out null and are
// re-populated by the host driving execution forward again.
func (s *Stack) BlockScalars(i int) []uint32 {
	blk := s.block(i)
	out := make([]uint32, len(blk.data))
	copy(out, blk.data)
	return out
}

// SetBlockScalars overwrites block i's raw 32-bit scalar data from a
// snapshot taken by BlockScalars, growing the stack's block list if
// needed. It is the Serialization counterpart to BlockScalars.
func (s *Stack) SetBlockScalars(i int, data []uint32) {
	blk := s.block(i)
	n := len(data)
	if n > len(blk.data) {
		n = len(blk.data)
	}
	copy(blk.data[:n], data[:n])
}
