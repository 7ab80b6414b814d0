package vm

import (
	"testing"

	"github.com/chazu/maggie-context/engine"
)

var testIntType = &engine.TypeInfo{Name: "int", Slots: 1, IsValue: true}

// divideByParamFunc assembles `int f(int a) { return 10 / a; }`.
func divideByParamFunc() *engine.Function {
	bc := []byte{
		byte(OpPushDWord), 10, 0, 0, 0,
		byte(OpArith), byte(TypeI32), byte(AluAdd),
		byte(OpPushVar32), 0xFF, 0xFF, // offset -1
		byte(OpArith), byte(TypeI32), byte(AluDiv),
		byte(OpReturn),
	}
	return &engine.Function{
		Name:       "divide",
		Kind:       engine.Script,
		Bytecode:   bc,
		ParamTypes: []*engine.TypeInfo{testIntType},
		ReturnType: testIntType,
	}
}

func newTestContext() *Context {
	return NewContext(engine.Host{}, 64, 0, 0, false)
}

func TestPrepareExecuteFinished(t *testing.T) {
	ctx := newTestContext()
	fn := divideByParamFunc()
	if err := ctx.Prepare(fn); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if ctx.GetState() != Prepared {
		t.Fatalf("state after Prepare = %v, want Prepared", ctx.GetState())
	}
	if err := ctx.SetArgDWord(0, 5); err != nil {
		t.Fatalf("SetArgDWord: %v", err)
	}
	result, err := ctx.Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != ResultFinished {
		t.Fatalf("Execute result = %v, want Finished", result)
	}
	if got := int32(ctx.GetReturnDWord()); got != 2 {
		t.Errorf("return value = %d, want 2", got)
	}
	if ctx.GetState() != Finished {
		t.Errorf("state after Execute = %v, want Finished", ctx.GetState())
	}
}

func TestExecuteDivisionByZeroUncaught(t *testing.T) {
	ctx := newTestContext()
	fn := divideByParamFunc()
	if err := ctx.Prepare(fn); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := ctx.SetArgDWord(0, 0); err != nil {
		t.Fatalf("SetArgDWord: %v", err)
	}
	result, err := ctx.Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != Exception {
		t.Fatalf("Execute result = %v, want Exception", result)
	}
	if ctx.GetState() != ExceptionState {
		t.Errorf("state after Execute = %v, want ExceptionState", ctx.GetState())
	}
	if ctx.WillExceptionBeCaught() {
		t.Error("an uncaught division by zero should report WillExceptionBeCaught = false")
	}
	if ctx.GetExceptionString() == "" {
		t.Error("GetExceptionString should be non-empty after a raised exception")
	}
}

func TestExecuteDivisionByZeroCaught(t *testing.T) {
	divBC := []byte{
		byte(OpPushDWord), 10, 0, 0, 0,
		byte(OpArith), byte(TypeI32), byte(AluAdd),
		byte(OpPushVar32), 0xFF, 0xFF,
		byte(OpArith), byte(TypeI32), byte(AluDiv),
		byte(OpReturn),
	}
	catchPos := uint32(len(divBC))
	// The register still holds the failed division's left operand (10,
	// never overwritten on a faulting arith op): subtracting 11 yields
	// the sentinel -1 the test expects as the caught-exception result.
	bc := append(divBC,
		byte(OpPushDWord), 11, 0, 0, 0,
		byte(OpArith), byte(TypeI32), byte(AluSub),
		byte(OpReturn),
	)
	fn := &engine.Function{
		Name:       "caughtDivide",
		Kind:       engine.Script,
		Bytecode:   bc,
		ParamTypes: []*engine.TypeInfo{testIntType},
		ReturnType: testIntType,
		TryCatch:   []engine.TryCatchRange{{TryPos: 0, CatchPos: catchPos}},
	}

	ctx := newTestContext()
	if err := ctx.Prepare(fn); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := ctx.SetArgDWord(0, 0); err != nil {
		t.Fatalf("SetArgDWord: %v", err)
	}
	result, err := ctx.Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != ResultFinished {
		t.Fatalf("Execute result = %v, want Finished (caught exception resumes at the handler)", result)
	}
	if got := int32(ctx.GetReturnDWord()); got != -1 {
		t.Errorf("return value = %d, want -1", got)
	}
}

func TestPrepareRejectedWhileActive(t *testing.T) {
	ctx := newTestContext()
	ctx.status = Active
	if err := ctx.Prepare(divideByParamFunc()); err == nil {
		t.Error("Prepare should fail while the context is Active")
	}
}

func TestPrepareRejectsNilFunction(t *testing.T) {
	ctx := newTestContext()
	if err := ctx.Prepare(nil); err == nil {
		t.Error("Prepare should reject a nil function")
	}
}

func TestUnprepareIsIdempotentFromUninitialized(t *testing.T) {
	ctx := newTestContext()
	if err := ctx.Unprepare(); err != nil {
		t.Errorf("Unprepare on an Uninitialized context should be a no-op, got: %v", err)
	}
}

func TestUnprepareResetsToUninitialized(t *testing.T) {
	ctx := newTestContext()
	fn := divideByParamFunc()
	ctx.Prepare(fn)
	ctx.SetArgDWord(0, 5)
	ctx.Execute()
	if err := ctx.Unprepare(); err != nil {
		t.Fatalf("Unprepare: %v", err)
	}
	if ctx.GetState() != Uninitialized {
		t.Errorf("state after Unprepare = %v, want Uninitialized", ctx.GetState())
	}
}

func TestExecuteRejectedWhenNotPrepared(t *testing.T) {
	ctx := newTestContext()
	if _, err := ctx.Execute(); err == nil {
		t.Error("Execute should fail on an Uninitialized context")
	}
}

func TestSuspendResume(t *testing.T) {
	bc := []byte{
		byte(OpSuspend),
		byte(OpPushDWord), 10, 0, 0, 0,
		byte(OpArith), byte(TypeI32), byte(AluAdd),
		byte(OpPushVar32), 0xFF, 0xFF,
		byte(OpArith), byte(TypeI32), byte(AluDiv),
		byte(OpReturn),
	}
	fn := &engine.Function{
		Name:       "suspendThenDivide",
		Kind:       engine.Script,
		Bytecode:   bc,
		ParamTypes: []*engine.TypeInfo{testIntType},
		ReturnType: testIntType,
	}

	ctx := newTestContext()
	if err := ctx.Prepare(fn); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := ctx.SetArgDWord(0, 2); err != nil {
		t.Fatalf("SetArgDWord: %v", err)
	}
	ctx.Suspend()

	result, err := ctx.Execute()
	if err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if result != ResultSuspended {
		t.Fatalf("first Execute result = %v, want Suspended", result)
	}
	if ctx.GetState() != Suspended {
		t.Errorf("state after first Execute = %v, want Suspended", ctx.GetState())
	}

	result, err = ctx.Execute()
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if result != ResultFinished {
		t.Fatalf("second Execute result = %v, want Finished", result)
	}
	if got := int32(ctx.GetReturnDWord()); got != 5 {
		t.Errorf("return value = %d, want 5", got)
	}
}

func TestPushStatePopStateRoundTrip(t *testing.T) {
	ctx := newTestContext()
	fn := divideByParamFunc()
	ctx.Prepare(fn)
	ctx.SetArgDWord(0, 5)
	ctx.status = Active // simulate being mid-Execute, as a host callback would observe

	if err := ctx.PushState(); err != nil {
		t.Fatalf("PushState: %v", err)
	}
	if ctx.GetState() != Uninitialized {
		t.Errorf("state after PushState = %v, want Uninitialized", ctx.GetState())
	}
	if ctx.currentFunction != nil {
		t.Error("PushState should clear currentFunction for the nested span")
	}

	ctx.status = Finished // simulate the nested Execute completing
	if err := ctx.PopState(); err != nil {
		t.Fatalf("PopState: %v", err)
	}
	if ctx.GetState() != Active {
		t.Errorf("state after PopState = %v, want Active", ctx.GetState())
	}
	if ctx.currentFunction != fn {
		t.Error("PopState should restore the outer currentFunction")
	}
}

func TestPopStateRejectsWithoutMarker(t *testing.T) {
	ctx := newTestContext()
	ctx.status = Finished
	if err := ctx.PopState(); err == nil {
		t.Error("PopState should fail when no nested marker is on the call stack")
	}
}
