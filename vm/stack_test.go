package vm

import (
	"testing"

	"github.com/chazu/maggie-context/engine"
)

func TestStackSlot32RoundTrip(t *testing.T) {
	s := NewStack(8, 0)
	p := StackPtr{Block: 0, Offset: 2}
	s.SetSlot32(p, 0xDEADBEEF)
	if got := s.Slot32(p); got != 0xDEADBEEF {
		t.Errorf("Slot32 = %#x, want 0xDEADBEEF", got)
	}
}

func TestStackSlot64RoundTrip(t *testing.T) {
	s := NewStack(8, 0)
	p := StackPtr{Block: 0, Offset: 0}
	s.SetSlot64(p, 0x1122334455667788)
	if got := s.Slot64(p); got != 0x1122334455667788 {
		t.Errorf("Slot64 = %#x, want 0x1122334455667788", got)
	}
}

func TestStackReserveGrowsBlock(t *testing.T) {
	s := NewStack(4, 0)
	sp := StackPtr{Block: 0, Offset: 0}
	overflow := s.Reserve(&sp, 2, nil, nil)
	if overflow {
		t.Fatal("Reserve should not overflow with no cap")
	}
	if s.BlockCount() != 2 {
		t.Fatalf("expected a second block to be allocated, got %d blocks", s.BlockCount())
	}
	if sp.Block != 1 || sp.Offset != 0 {
		t.Errorf("sp = %+v, want block 1 offset 0", sp)
	}
}

func TestStackReserveCarriesArgumentArea(t *testing.T) {
	s := NewStack(4, 0)
	sp := StackPtr{Block: 0, Offset: 0}
	carry := []uint32{7, 8, 9}
	s.Reserve(&sp, 2, carry, nil)
	if got := s.Slot32(StackPtr{Block: sp.Block, Offset: 0}); got != 7 {
		t.Errorf("carried slot 0 = %d, want 7", got)
	}
	if sp.Offset != len(carry) {
		t.Errorf("sp.Offset = %d, want %d", sp.Offset, len(carry))
	}
}

func TestStackReserveOverflowRespectsMax(t *testing.T) {
	s := NewStack(4, 4)
	sp := StackPtr{Block: 0, Offset: 0}
	overflow := s.Reserve(&sp, 2, nil, nil)
	if !overflow {
		t.Fatal("expected overflow when the next block would exceed maxSlots")
	}
	if !s.NotAllocated() {
		t.Error("NotAllocated should be true after an overflowing Reserve")
	}
}

func TestStackValidPtr(t *testing.T) {
	s := NewStack(4, 0)
	if !s.ValidPtr(StackPtr{Block: 0, Offset: 0}) {
		t.Error("block 0 offset 0 should be valid on a fresh stack")
	}
	if s.ValidPtr(StackPtr{Block: 0, Offset: 100}) {
		t.Error("offset past the block's length should be invalid")
	}
	if s.ValidPtr(StackPtr{Block: 5, Offset: 0}) {
		t.Error("an unallocated block should be invalid")
	}
}

func TestStackBlockScalarsRoundTrip(t *testing.T) {
	s := NewStack(4, 0)
	s.SetSlot32(StackPtr{Block: 0, Offset: 0}, 42)
	s.SetSlot32(StackPtr{Block: 0, Offset: 1}, 43)

	snap := s.BlockScalars(0)
	if len(snap) != 4 {
		t.Fatalf("BlockScalars returned %d slots, want 4", len(snap))
	}

	restored := NewStack(4, 0)
	restored.SetBlockScalars(0, snap)
	if got := restored.Slot32(StackPtr{Block: 0, Offset: 0}); got != 42 {
		t.Errorf("restored slot 0 = %d, want 42", got)
	}
	if got := restored.Slot32(StackPtr{Block: 0, Offset: 1}); got != 43 {
		t.Errorf("restored slot 1 = %d, want 43", got)
	}
}

func TestStackBlockScalarsNeverCarriesObjectSlots(t *testing.T) {
	s := NewStack(4, 0)
	s.SetSlotObject(StackPtr{Block: 0, Offset: 0}, engine.ObjectRef{Value: "fixture"})

	restored := NewStack(4, 0)
	restored.SetBlockScalars(0, s.BlockScalars(0))
	if ref := restored.SlotObject(StackPtr{Block: 0, Offset: 0}); !ref.IsNull() {
		t.Error("restored object slot should be null; object identity must be re-supplied live")
	}
}

func TestStackSetBlockScalarsClampsToBlockLength(t *testing.T) {
	s := NewStack(4, 0)
	oversized := make([]uint32, 100)
	oversized[0] = 99
	s.SetBlockScalars(0, oversized)
	if got := s.Slot32(StackPtr{Block: 0, Offset: 0}); got != 99 {
		t.Errorf("slot 0 = %d, want 99", got)
	}
}
