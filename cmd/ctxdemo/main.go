// ctxdemo drives a vm.Context through Prepare/Execute by hand, against
// a small hand-assembled function, to exercise the suspend/resume and
// exception paths end to end without a compiler.
//
// Build: go build ./cmd/ctxdemo
// Usage:
//
//	ctxdemo divide <divisor>
//	ctxdemo caught
//	ctxdemo suspend
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chazu/maggie-context/engine"
	"github.com/chazu/maggie-context/vm"
)

var intType = &engine.TypeInfo{Name: "int", Slots: 1, IsValue: true}

// divideFunc assembles `int f(int a) { return 10 / a; }` by hand:
//
//	0  OpPushDWord 10          push the literal 10
//	5  OpArith Add             register (0) + pop() -> register = 10
//	8  OpPushVar32 -1          push parameter a
//	11 OpArith Div             register (10) / pop() -> register
//	14 OpReturn
func divideFunc() *engine.Function {
	bc := make([]byte, 0, 15)
	bc = append(bc, byte(vm.OpPushDWord))
	bc = appendU32(bc, 10)
	bc = append(bc, byte(vm.OpArith), byte(vm.TypeI32), byte(vm.AluAdd))
	bc = append(bc, byte(vm.OpPushVar32))
	bc = appendI16(bc, -1)
	bc = append(bc, byte(vm.OpArith), byte(vm.TypeI32), byte(vm.AluDiv))
	bc = append(bc, byte(vm.OpReturn))

	return &engine.Function{
		Name:       "divide",
		Kind:       engine.Script,
		Bytecode:   bc,
		ParamTypes: []*engine.TypeInfo{intType},
		ReturnType: intType,
	}
}

// suspendingFunc assembles a function that suspends once before it
// divides, so Execute returns vm.Suspended and must be resumed with a
// second Execute call.
//
//	0  OpSuspend
//	1  OpPushDWord 10
//	6  OpArith Add
//	9  OpPushVar32 -1
//	12 OpArith Div
//	15 OpReturn
func suspendingFunc() *engine.Function {
	bc := make([]byte, 0, 16)
	bc = append(bc, byte(vm.OpSuspend))
	bc = append(bc, byte(vm.OpPushDWord))
	bc = appendU32(bc, 10)
	bc = append(bc, byte(vm.OpArith), byte(vm.TypeI32), byte(vm.AluAdd))
	bc = append(bc, byte(vm.OpPushVar32))
	bc = appendI16(bc, -1)
	bc = append(bc, byte(vm.OpArith), byte(vm.TypeI32), byte(vm.AluDiv))
	bc = append(bc, byte(vm.OpReturn))

	return &engine.Function{
		Name:       "suspendThenDivide",
		Kind:       engine.Script,
		Bytecode:   bc,
		ParamTypes: []*engine.TypeInfo{intType},
		ReturnType: intType,
	}
}

// caughtDivideFunc wraps the same division in a try/catch range that
// recovers from division-by-zero and returns -1 instead. A faulting
// OpArith leaves the value register holding its left operand (10,
// never overwritten), so the catch handler only needs to subtract 11
// to land on the -1 sentinel.
//
//	0  OpPushDWord 10      [try]
//	5  OpArith Add
//	8  OpPushVar32 -1
//	11 OpArith Div
//	14 OpReturn
//	15 OpPushDWord 11      [catch:]
//	20 OpArith Sub
//	23 OpReturn
func caughtDivideFunc() *engine.Function {
	bc := make([]byte, 0, 24)
	bc = append(bc, byte(vm.OpPushDWord))
	bc = appendU32(bc, 10)
	bc = append(bc, byte(vm.OpArith), byte(vm.TypeI32), byte(vm.AluAdd))
	bc = append(bc, byte(vm.OpPushVar32))
	bc = appendI16(bc, -1)
	bc = append(bc, byte(vm.OpArith), byte(vm.TypeI32), byte(vm.AluDiv))
	bc = append(bc, byte(vm.OpReturn))
	catchPos := uint32(len(bc))
	bc = append(bc, byte(vm.OpPushDWord))
	bc = appendU32(bc, 11)
	bc = append(bc, byte(vm.OpArith), byte(vm.TypeI32), byte(vm.AluSub))
	bc = append(bc, byte(vm.OpReturn))

	return &engine.Function{
		Name:       "caughtDivide",
		Kind:       engine.Script,
		Bytecode:   bc,
		ParamTypes: []*engine.TypeInfo{intType},
		ReturnType: intType,
		TryCatch: []engine.TryCatchRange{
			{TryPos: 0, CatchPos: catchPos, StackSize: 0},
		},
	}
}

func appendU32(bc []byte, v uint32) []byte {
	return append(bc, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendI16(bc []byte, v int16) []byte {
	u := uint16(v)
	return append(bc, byte(u), byte(u>>8))
}

func newHost() engine.Host {
	return engine.Host{Sink: engine.NewCommonlogSink()}
}

func runDivide(dividend uint32, divisor int32) {
	fn := divideFunc()
	_ = dividend // the dividend is baked into the bytecode as the literal 10
	ctx := vm.NewContext(newHost(), 64, 0, 0, false)
	if err := ctx.Prepare(fn); err != nil {
		fmt.Fprintf(os.Stderr, "prepare: %v\n", err)
		os.Exit(1)
	}
	if err := ctx.SetArgDWord(0, uint32(divisor)); err != nil {
		fmt.Fprintf(os.Stderr, "set arg: %v\n", err)
		os.Exit(1)
	}
	result, err := ctx.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "execute: %v\n", err)
		os.Exit(1)
	}
	switch result {
	case vm.ResultFinished:
		fmt.Printf("10 / %d = %d\n", divisor, int32(ctx.GetReturnDWord()))
	case vm.Exception:
		fmt.Printf("uncaught exception: %s (%s)\n", ctx.GetExceptionString(), ctx.GetExceptionFunction().Name)
	default:
		fmt.Printf("unexpected result: %s\n", result)
	}
}

func runCaught() {
	fn := caughtDivideFunc()
	ctx := vm.NewContext(newHost(), 64, 0, 0, false)
	if err := ctx.Prepare(fn); err != nil {
		fmt.Fprintf(os.Stderr, "prepare: %v\n", err)
		os.Exit(1)
	}
	if err := ctx.SetArgDWord(0, 0); err != nil {
		fmt.Fprintf(os.Stderr, "set arg: %v\n", err)
		os.Exit(1)
	}
	result, err := ctx.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "execute: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("result: %s, return value: %d\n", result, int32(ctx.GetReturnDWord()))
}

func runSuspend() {
	fn := suspendingFunc()
	ctx := vm.NewContext(newHost(), 64, 0, 0, false)
	if err := ctx.Prepare(fn); err != nil {
		fmt.Fprintf(os.Stderr, "prepare: %v\n", err)
		os.Exit(1)
	}
	if err := ctx.SetArgDWord(0, 2); err != nil {
		fmt.Fprintf(os.Stderr, "set arg: %v\n", err)
		os.Exit(1)
	}
	ctx.Suspend()
	result, err := ctx.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "execute: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("first Execute returned: %s\n", result)
	if result != vm.ResultSuspended {
		return
	}
	result, err = ctx.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "execute: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("second Execute returned: %s, return value: %d\n", result, int32(ctx.GetReturnDWord()))
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  ctxdemo divide <divisor>   run 10/divisor, uncaught on divide-by-zero\n")
		fmt.Fprintf(os.Stderr, "  ctxdemo caught             run the same division wrapped in try/catch\n")
		fmt.Fprintf(os.Stderr, "  ctxdemo suspend            suspend before dividing, then resume\n")
	}
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "divide":
		divisor := int32(0)
		if len(args) > 1 {
			fmt.Sscanf(args[1], "%d", &divisor)
		}
		runDivide(10, divisor)
	case "caught":
		runCaught()
	case "suspend":
		runSuspend()
	default:
		flag.Usage()
		os.Exit(2)
	}
}
