package ctxstate

import (
	"testing"

	"github.com/chazu/maggie-context/engine"
	"github.com/chazu/maggie-context/vm"
)

var intType = &engine.TypeInfo{Name: "int", Slots: 1, IsValue: true}

// suspendingDivide assembles `int f(int a) { return 10 / a; }` with a
// leading OpSuspend. With a Suspend request made before Execute, Execute
// stops cold before touching the division, giving Save something
// deterministic to snapshot.
func suspendingDivide(id int) *engine.Function {
	bc := []byte{
		byte(vm.OpSuspend),
		byte(vm.OpPushDWord), 10, 0, 0, 0,
		byte(vm.OpArith), byte(vm.TypeI32), byte(vm.AluAdd),
		byte(vm.OpPushVar32), 0xFF, 0xFF,
		byte(vm.OpArith), byte(vm.TypeI32), byte(vm.AluDiv),
		byte(vm.OpReturn),
	}
	return &engine.Function{
		ID:         id,
		Name:       "divide",
		Kind:       engine.Script,
		Bytecode:   bc,
		ParamTypes: []*engine.TypeInfo{intType},
		ReturnType: intType,
	}
}

type stubFunctions map[int]*engine.Function

func (s stubFunctions) ResolveFunction(id int) (*engine.Function, bool) {
	fn, ok := s[id]
	return fn, ok
}

type stubReceivers struct{}

func (stubReceivers) ResolveReceiver(functionID int, levelIndex int) engine.ObjectRef {
	return engine.Null
}

func TestSaveRejectsContextNotSuspendedOrExcepted(t *testing.T) {
	ctx := vm.NewContext(engine.Host{}, 64, 0, 0, false)
	fn := suspendingDivide(1)
	if err := ctx.Prepare(fn); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := Save(ctx); err == nil {
		t.Error("Save should reject a Prepared (not yet Suspended) context")
	}
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	fn := suspendingDivide(7)
	ctx := vm.NewContext(engine.Host{}, 64, 0, 0, false)
	if err := ctx.Prepare(fn); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := ctx.SetArgDWord(0, 2); err != nil {
		t.Fatalf("SetArgDWord: %v", err)
	}
	ctx.Suspend()
	result, err := ctx.Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != vm.ResultSuspended {
		t.Fatalf("Execute result = %v, want Suspended", result)
	}

	sc, err := Save(ctx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	encoded, err := Marshal(sc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	decoded, err := Unmarshal(encoded)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.CurrentFunctionID != sc.CurrentFunctionID {
		t.Errorf("decoded CurrentFunctionID = %d, want %d", decoded.CurrentFunctionID, sc.CurrentFunctionID)
	}
	if decoded.CurrentRegs.ProgramPointer != sc.CurrentRegs.ProgramPointer {
		t.Errorf("decoded ProgramPointer = %d, want %d", decoded.CurrentRegs.ProgramPointer, sc.CurrentRegs.ProgramPointer)
	}

	restored := vm.NewContext(engine.Host{}, 64, 0, 0, false)
	functions := stubFunctions{7: fn}
	if err := Restore(restored, decoded, functions, stubReceivers{}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.GetState() != vm.Suspended {
		t.Fatalf("restored state = %v, want Suspended", restored.GetState())
	}
	if restored.CurrentFunction() != fn {
		t.Errorf("restored CurrentFunction = %v, want fn", restored.CurrentFunction())
	}

	result, err = restored.Execute()
	if err != nil {
		t.Fatalf("Execute after restore: %v", err)
	}
	if result != vm.ResultFinished {
		t.Fatalf("Execute after restore = %v, want Finished", result)
	}
	if got := int32(restored.GetReturnDWord()); got != 5 {
		t.Errorf("return value after restore = %d, want 5", got)
	}
}

func TestRestoreFailsOnUnresolvedFunction(t *testing.T) {
	sc := &SerializedContext{
		Status:            int(vm.Suspended),
		CurrentFunctionID: 99,
	}
	restored := vm.NewContext(engine.Host{}, 64, 0, 0, false)
	if err := Restore(restored, sc, stubFunctions{}, stubReceivers{}); err == nil {
		t.Error("Restore should fail when the current function id cannot be resolved")
	}
}
