package vm

import (
	"testing"

	"github.com/chazu/maggie-context/engine"
)

// introspectFunc assembles a function with one declared local (idx 0,
// scalar, declared and block-scoped starting at position past the
// first instruction) so IsVarInScope has something real to replay.
func introspectFunc() *engine.Function {
	bc := []byte{
		byte(OpPushDWord), 10, 0, 0, 0, // pos 0..4: pushes before the local's scope opens
		byte(OpArith), byte(TypeI32), byte(AluAdd), // pos 5..7
		byte(OpReturn), // pos 8
	}
	return &engine.Function{
		Name:       "scoped",
		Kind:       engine.Script,
		Bytecode:   bc,
		ParamTypes: []*engine.TypeInfo{testIntType},
		ReturnType: testIntType,
		Locals: []engine.LocalVar{
			{Name: "x", Offset: 0, Type: testIntType, DeclaredAt: 5},
		},
		LifeEvents: []engine.LifeEvent{
			{Pos: 5, Kind: engine.BlockBegin},
			{Pos: 5, Kind: engine.VarDecl, VarIndex: 0},
			{Pos: 8, Kind: engine.BlockEnd},
		},
	}
}

func preparedAt(t *testing.T, fn *engine.Function, pp uint32) *Context {
	t.Helper()
	ctx := newTestContext()
	if err := ctx.Prepare(fn); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	ctx.registers.ProgramPointer = pp
	return ctx
}

func TestGetCallstackSize(t *testing.T) {
	ctx := preparedAt(t, introspectFunc(), 0)
	if got := ctx.GetCallstackSize(); got != 1 {
		t.Errorf("GetCallstackSize = %d, want 1 with no saved frames", got)
	}
	ctx.callStack.PushCallState(StackPtr{}, introspectFunc(), 0, StackPtr{}, 0)
	if got := ctx.GetCallstackSize(); got != 2 {
		t.Errorf("GetCallstackSize = %d, want 2 with one saved frame", got)
	}
}

func TestGetFunctionAndGetVarCount(t *testing.T) {
	fn := introspectFunc()
	ctx := preparedAt(t, fn, 0)

	got, ok := ctx.GetFunction(0)
	if !ok || got != fn {
		t.Errorf("GetFunction(0) = (%v, %v), want (fn, true)", got, ok)
	}
	if _, ok := ctx.GetFunction(1); ok {
		t.Error("GetFunction(1) should be false with no saved frames")
	}

	count, ok := ctx.GetVarCount(0)
	if !ok || count != 1 {
		t.Errorf("GetVarCount(0) = (%d, %v), want (1, true)", count, ok)
	}
}

func TestGetVarAndGetAddressOfVar(t *testing.T) {
	fn := introspectFunc()
	ctx := preparedAt(t, fn, 0)

	lv, ok := ctx.GetVar(0, 0)
	if !ok || lv.Name != "x" {
		t.Errorf("GetVar(0,0) = (%+v, %v), want name x", lv, ok)
	}
	if _, ok := ctx.GetVar(0, 5); ok {
		t.Error("GetVar with an out-of-range index should report false")
	}

	addr, ok := ctx.GetAddressOfVar(0, 0)
	if !ok {
		t.Fatal("GetAddressOfVar(0,0) should succeed")
	}
	want := ctx.registers.FramePointer.Advance(lv.Offset)
	if addr != want {
		t.Errorf("GetAddressOfVar = %+v, want %+v", addr, want)
	}
}

func TestIsVarInScope(t *testing.T) {
	fn := introspectFunc()

	ctx := preparedAt(t, fn, 0)
	if inScope, ok := ctx.IsVarInScope(0, 0); !ok || inScope {
		t.Errorf("IsVarInScope before declaration = (%v, %v), want (false, true)", inScope, ok)
	}

	ctx2 := preparedAt(t, fn, 6)
	if inScope, ok := ctx2.IsVarInScope(0, 0); !ok || !inScope {
		t.Errorf("IsVarInScope inside its block = (%v, %v), want (true, true)", inScope, ok)
	}

	ctx3 := preparedAt(t, fn, 8)
	if inScope, ok := ctx3.IsVarInScope(0, 0); !ok || inScope {
		t.Errorf("IsVarInScope after BlockEnd = (%v, %v), want (false, true)", inScope, ok)
	}
}

func TestGetThisPointerForNonMethod(t *testing.T) {
	ctx := preparedAt(t, introspectFunc(), 0)
	ref, ok := ctx.GetThisPointer(0)
	if !ok || !ref.IsNull() {
		t.Errorf("GetThisPointer on a non-method = (%v, %v), want (null, true)", ref, ok)
	}
	if typ, ok := ctx.GetThisTypeId(0); !ok || typ != nil {
		t.Errorf("GetThisTypeId on a non-method = (%v, %v), want (nil, true)", typ, ok)
	}
}

func TestGetThisPointerForMethod(t *testing.T) {
	recvType := &engine.TypeInfo{Name: "Widget"}
	fn := &engine.Function{
		Name:       "method",
		Kind:       engine.Script,
		Bytecode:   []byte{byte(OpReturn)},
		IsMethod:   true,
		ReturnType: testIntType,
	}
	ctx := newTestContext()
	if err := ctx.Prepare(fn); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	receiver := engine.ObjectRef{Value: "instance", Type: recvType}
	if err := ctx.SetObject(receiver); err != nil {
		t.Fatalf("SetObject: %v", err)
	}

	ref, ok := ctx.GetThisPointer(0)
	if !ok || ref.IsNull() || ref.Value != "instance" {
		t.Errorf("GetThisPointer = (%+v, %v), want the bound receiver", ref, ok)
	}
	typ, ok := ctx.GetThisTypeId(0)
	if !ok || typ != recvType {
		t.Errorf("GetThisTypeId = (%v, %v), want (recvType, true)", typ, ok)
	}
}

func TestArgsScanCacheMemoizes(t *testing.T) {
	ctx := newTestContext()
	scanFn := introspectFunc()
	first, ok1 := ctx.pendingCall(scanFn, 0)
	second, ok2 := ctx.pendingCall(scanFn, 0)
	if ok1 != ok2 || first != second {
		t.Errorf("pendingCall should return a stable cached result for the same (fn, pp)")
	}
	if ok1 {
		t.Error("a function with no call instruction should report no pending call")
	}
}

// TestGetArgsOnStackCountForPendingCall places the program position
// between a pending call's two argument pushes: the first has already
// landed on the stack, the second has not, so the forward scan from
// that position must find exactly one slot's worth still to push
// before reaching OpCallScript.
func TestGetArgsOnStackCountForPendingCall(t *testing.T) {
	target := &engine.Function{
		Name:       "callee",
		Kind:       engine.Script,
		ParamTypes: []*engine.TypeInfo{testIntType, testIntType},
		ReturnType: testIntType,
	}
	bc := []byte{
		byte(OpPushDWord), 1, 0, 0, 0, // pos 0-4: push arg0 (already executed)
		byte(OpPushDWord), 2, 0, 0, 0, // pos 5-9: push arg1 (not yet reached)
	}
	bc = append(bc, byte(OpCallScript))
	bc = append(bc, 0, 0, 0, 0) // literal index 0, resolving to target
	caller := &engine.Function{
		Name:     "caller",
		Kind:     engine.Script,
		Bytecode: bc,
		Literals: []any{target},
	}

	const pausedAtSecondPush = 5
	ctx := preparedAt(t, caller, pausedAtSecondPush)
	argsStart := ctx.registers.StackPointer // arg0's slot, at the frame's baseline
	ctx.stack.SetSlot32(argsStart, 1)
	ctx.registers.StackPointer = argsStart.Advance(1) // one argument's worth already pushed

	count, ok := ctx.GetArgsOnStackCount(0)
	if !ok {
		t.Fatal("GetArgsOnStackCount should resolve the pending OpCallScript")
	}
	if count != 1 {
		t.Errorf("GetArgsOnStackCount = %d, want 1", count)
	}

	val, ok := ctx.GetArgOnStack(0, 0)
	if !ok || val != 1 {
		t.Errorf("GetArgOnStack(0,0) = (%d, %v), want (1, true)", val, ok)
	}
}
