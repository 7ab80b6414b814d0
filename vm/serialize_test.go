package vm

import (
	"testing"

	"github.com/chazu/maggie-context/engine"
)

func suspendedContext(t *testing.T) (*Context, *engine.Function) {
	t.Helper()
	fn := divideByParamFunc()
	ctx := newTestContext()
	if err := ctx.Prepare(fn); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := ctx.SetArgDWord(0, 5); err != nil {
		t.Fatalf("SetArgDWord: %v", err)
	}
	ctx.status = Suspended // simulate a prior suspend without requiring a suspend opcode
	return ctx, fn
}

func TestStartDeserializationGatedByStatus(t *testing.T) {
	ctx := newTestContext()
	ctx.status = Active
	if err := ctx.StartDeserialization(); err == nil {
		t.Error("StartDeserialization should be rejected while Active, same as Prepare")
	}
	ctx.status = Uninitialized
	if err := ctx.StartDeserialization(); err != nil {
		t.Errorf("StartDeserialization should be legal from Uninitialized: %v", err)
	}
	if ctx.GetState() != Deserialization {
		t.Errorf("state after StartDeserialization = %v, want Deserialization", ctx.GetState())
	}
}

func TestPushFunctionRequiresDeserializationStatus(t *testing.T) {
	ctx := newTestContext()
	if err := ctx.PushFunction(divideByParamFunc(), engine.Null); err == nil {
		t.Error("PushFunction should be rejected outside Deserialization")
	}
}

func TestDeserializationSingleLevelRoundTrip(t *testing.T) {
	fn := divideByParamFunc()
	ctx := newTestContext()
	if err := ctx.StartDeserialization(); err != nil {
		t.Fatalf("StartDeserialization: %v", err)
	}
	if err := ctx.PushFunction(fn, engine.Null); err != nil {
		t.Fatalf("PushFunction: %v", err)
	}
	regs := StateRegs{ProgramPointer: 11, StackPointer: StackPtr{Offset: 1}, FramePointer: StackPtr{Offset: 1}}
	if err := ctx.SetStateRegisters(0, regs); err != nil {
		t.Fatalf("SetStateRegisters: %v", err)
	}
	if err := ctx.FinishDeserialization(); err != nil {
		t.Fatalf("FinishDeserialization: %v", err)
	}
	if ctx.GetState() != Suspended {
		t.Errorf("state after FinishDeserialization = %v, want Suspended", ctx.GetState())
	}
	if ctx.currentFunction != fn {
		t.Error("FinishDeserialization should leave fn as the current function")
	}
	if ctx.registers.ProgramPointer != 11 {
		t.Errorf("ProgramPointer = %d, want 11", ctx.registers.ProgramPointer)
	}
}

func TestFinishDeserializationRequiresAFunction(t *testing.T) {
	ctx := newTestContext()
	ctx.StartDeserialization()
	if err := ctx.FinishDeserialization(); err == nil {
		t.Error("FinishDeserialization should fail with no function ever pushed")
	}
}

func TestSetCallStateRegistersResetsCurrentSpan(t *testing.T) {
	outer := &engine.Function{Name: "outer"}
	inner := &engine.Function{Name: "inner"}

	ctx := newTestContext()
	ctx.StartDeserialization()
	if err := ctx.PushFunction(outer, engine.Null); err != nil {
		t.Fatalf("PushFunction(outer): %v", err)
	}
	if err := ctx.SetStateRegisters(0, StateRegs{ProgramPointer: 1}); err != nil {
		t.Fatalf("SetStateRegisters(outer): %v", err)
	}

	if err := ctx.SetCallStateRegisters(CallStateRegs{CallingHostFunction: outer, InitialFunction: outer, ArgsSize: 0}); err != nil {
		t.Fatalf("SetCallStateRegisters: %v", err)
	}
	if ctx.currentFunction != nil || ctx.initialFunction != nil {
		t.Error("SetCallStateRegisters should reset currentFunction/initialFunction for the next nested span, like PushState")
	}
	if ctx.callStack.Size() != 1 || !ctx.callStack.IsNestedMarkerOnTop() {
		t.Fatalf("expected exactly one committed marker frame, got size=%d marker=%v", ctx.callStack.Size(), ctx.callStack.IsNestedMarkerOnTop())
	}

	if err := ctx.PushFunction(inner, engine.Null); err != nil {
		t.Fatalf("PushFunction(inner): %v", err)
	}
	if err := ctx.SetStateRegisters(0, StateRegs{ProgramPointer: 2}); err != nil {
		t.Fatalf("SetStateRegisters(inner): %v", err)
	}
	if err := ctx.FinishDeserialization(); err != nil {
		t.Fatalf("FinishDeserialization: %v", err)
	}
	if ctx.currentFunction != inner {
		t.Errorf("currentFunction = %v, want inner", ctx.currentFunction)
	}
	if ctx.callStack.Size() != 1 {
		t.Errorf("call stack size = %d, want 1 (the marker only, inner is current not saved)", ctx.callStack.Size())
	}
}

func TestGetSetCallStateRegistersRoundTrip(t *testing.T) {
	host := &engine.Function{Name: "host"}
	initial := &engine.Function{Name: "initial"}
	objReg := engine.ObjectRef{Value: "x"}

	ctx := newTestContext()
	ctx.StartDeserialization()
	ctx.PushFunction(&engine.Function{Name: "outer"}, engine.Null)
	ctx.SetStateRegisters(0, StateRegs{})
	regs := CallStateRegs{
		CallingHostFunction: host,
		InitialFunction:     initial,
		OriginalStackPtr:    StackPtr{Block: 1, Offset: 2},
		ArgsSize:            3,
		ValueRegLow:         0x11,
		ValueRegHigh:        0x22,
		ObjectRegister:      objReg,
	}
	if err := ctx.SetCallStateRegisters(regs); err != nil {
		t.Fatalf("SetCallStateRegisters: %v", err)
	}

	got, ok := ctx.GetCallStateRegisters(0)
	if !ok {
		t.Fatal("GetCallStateRegisters(0) should find the marker just installed")
	}
	if got.CallingHostFunction != host || got.InitialFunction != initial || got.ArgsSize != 3 {
		t.Errorf("GetCallStateRegisters = %+v, want matching the pushed marker", got)
	}
}

func TestGetStateRegistersReadsLiveAndSavedLevels(t *testing.T) {
	ctx, fn := suspendedContext(t)
	ctx.status = Active // levelState/GetStateRegisters don't care about status

	gotFn, regs, ok := ctx.GetStateRegisters(0)
	if !ok || gotFn != fn {
		t.Fatalf("GetStateRegisters(0) = (%v, %+v, %v), want (fn, ..., true)", gotFn, regs, ok)
	}
	if regs.ProgramPointer != ctx.registers.ProgramPointer {
		t.Errorf("level 0 ProgramPointer = %d, want %d", regs.ProgramPointer, ctx.registers.ProgramPointer)
	}

	ctx.callStack.PushCallState(StackPtr{Offset: 9}, fn, 42, StackPtr{Offset: 9}, 0)
	gotFn, regs, ok = ctx.GetStateRegisters(1)
	if !ok || gotFn != fn || regs.ProgramPointer != 42 {
		t.Errorf("GetStateRegisters(1) = (%v, %+v, %v), want (fn, pp=42, true)", gotFn, regs, ok)
	}
}

func TestCommitPendingLevelsRestoresMethodReceiver(t *testing.T) {
	recvType := &engine.TypeInfo{Name: "Widget"}
	fn := &engine.Function{
		Name:       "method",
		Kind:       engine.Script,
		Bytecode:   []byte{byte(OpReturn)},
		IsMethod:   true,
		ReturnType: testIntType,
	}
	receiver := engine.ObjectRef{Value: "instance", Type: recvType}

	ctx := newTestContext()
	if err := ctx.StartDeserialization(); err != nil {
		t.Fatalf("StartDeserialization: %v", err)
	}
	if err := ctx.PushFunction(fn, receiver); err != nil {
		t.Fatalf("PushFunction: %v", err)
	}
	// The frame pointer sits just above the method's hidden receiver
	// slot, which occupies the whole argument area.
	fp := StackPtr{Offset: pointerSlots}
	if err := ctx.SetStateRegisters(0, StateRegs{StackPointer: fp, FramePointer: fp}); err != nil {
		t.Fatalf("SetStateRegisters: %v", err)
	}
	if err := ctx.FinishDeserialization(); err != nil {
		t.Fatalf("FinishDeserialization: %v", err)
	}

	got, ok := ctx.GetThisPointer(0)
	if !ok || got.Value != "instance" {
		t.Errorf("GetThisPointer after restore = (%+v, %v), want the receiver staged via PushFunction", got, ok)
	}
}
