package vm

import "testing"

func TestStackPtrSerializeRoundTrip(t *testing.T) {
	cases := []StackPtr{
		{Block: 0, Offset: 0},
		{Block: 1, Offset: 12345},
		{Block: 63, Offset: (1 << 26) - 1}, // max block, max offset
		{Block: 5, Offset: 200},
	}
	for _, p := range cases {
		packed := p.Serialize()
		got := DeserializeStackPtr(packed)
		if got != p {
			t.Errorf("round trip %+v -> %#x -> %+v, want %+v", p, packed, got, p)
		}
	}
}

func TestStackPtrSerializeLayout(t *testing.T) {
	p := StackPtr{Block: 1, Offset: 0}
	if got := p.Serialize(); got != 1<<26 {
		t.Errorf("block 1 offset 0 packs to %#x, want %#x", got, uint32(1<<26))
	}
}

func TestStackPtrAdvanceRetreat(t *testing.T) {
	p := StackPtr{Block: 2, Offset: 10}
	if adv := p.Advance(5); adv != (StackPtr{Block: 2, Offset: 15}) {
		t.Errorf("Advance(5) = %+v, want block 2 offset 15", adv)
	}
	if ret := p.Retreat(3); ret != (StackPtr{Block: 2, Offset: 7}) {
		t.Errorf("Retreat(3) = %+v, want block 2 offset 7", ret)
	}
}

func TestValueRegisterHalves(t *testing.T) {
	r := Registers{ValueRegister: 0x1122334455667788}
	if got := r.ValueRegisterLow(); got != 0x55667788 {
		t.Errorf("ValueRegisterLow = %#x, want 0x55667788", got)
	}
	if got := r.ValueRegisterHigh(); got != 0x11223344 {
		t.Errorf("ValueRegisterHigh = %#x, want 0x11223344", got)
	}
	setValueRegisterHalves(&r, 0, 0)
	if r.ValueRegister != 0 {
		t.Errorf("after resetting halves, ValueRegister = %#x, want 0", r.ValueRegister)
	}
	setValueRegisterHalves(&r, 0x55667788, 0x11223344)
	if r.ValueRegister != 0x1122334455667788 {
		t.Errorf("setValueRegisterHalves round trip = %#x, want 0x1122334455667788", r.ValueRegister)
	}
}
