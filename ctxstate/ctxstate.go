package ctxstate

import (
	"fmt"

	"github.com/chazu/maggie-context/engine"
	"github.com/chazu/maggie-context/vm"
)

// noFunctionID marks an absent function reference (a nil *engine.Function,
// e.g. a marker installed before any call ever completed).
const noFunctionID = -1

// FunctionResolver maps a serialized function identity back to a live
// descriptor. Compiler-produced Function descriptors are themselves
// out of scope to reconstruct from bytes (spec.md §1), so a
// SerializedContext carries only the originating engine.Function.ID and
// leaves resolving it to whatever module owns the function table.
type FunctionResolver interface {
	ResolveFunction(id int) (*engine.Function, bool)
}

// ReceiverResolver supplies the live receiver object bound to one
// call-stack level being restored, keyed by that level's function id
// and its position counting up from the outermost level (0). A
// SerializedContext never carries receiver data itself: script object
// identity is out of scope for this module, and real PushFunction(func,
// obj) APIs take an already-valid live object the same way.
type ReceiverResolver interface {
	ResolveReceiver(functionID int, levelIndex int) engine.ObjectRef
}

// SerializedRegs mirrors vm.StateRegs with pointer-width fields packed
// into the wire format spec.md §6 specifies (block index in the high 6
// bits, slot offset in the low 26).
type SerializedRegs struct {
	ProgramPointer uint32 `cbor:"pp"`
	StackPointer   uint32 `cbor:"sp"`
	FramePointer   uint32 `cbor:"fp"`
	ValueRegister  uint64 `cbor:"vr"`
}

// SerializedEntry mirrors one vm.RawEntry: either an ordinary saved
// frame or a nested-execution marker, in push order.
type SerializedEntry struct {
	IsMarker bool `cbor:"marker"`

	// Ordinary frame fields.
	FunctionID     int    `cbor:"fn,omitempty"`
	FramePointer   uint32 `cbor:"frp,omitempty"`
	ProgramPointer uint32 `cbor:"pp,omitempty"`
	StackPointer   uint32 `cbor:"sp,omitempty"`
	BlockIndex     int    `cbor:"blk,omitempty"`

	// Marker fields.
	CallingHostFunctionID int    `cbor:"chfn,omitempty"`
	InitialFunctionID     int    `cbor:"ifn,omitempty"`
	OriginalStackPtr      uint32 `cbor:"osp,omitempty"`
	ArgsSize              int    `cbor:"asz,omitempty"`
	ValueRegLow           uint32 `cbor:"vrl,omitempty"`
	ValueRegHigh          uint32 `cbor:"vrh,omitempty"`
}

// SerializedContext is the CBOR envelope for one suspended or
// exception-state vm.Context: its status, every call-stack entry, the
// currently executing frame's function and registers, and the raw
// scalar contents of every data-stack block. Object slots are never
// included — live object references are always re-supplied by the
// host at restore time through ReceiverResolver, never reconstructed
// from bytes (spec.md §1, §13).
type SerializedContext struct {
	Status            int               `cbor:"status"`
	Entries           []SerializedEntry `cbor:"entries"`
	CurrentFunctionID int               `cbor:"curfn"`
	CurrentRegs       SerializedRegs    `cbor:"curregs"`
	Blocks            [][]uint32        `cbor:"blocks"`
}

func functionID(fn *engine.Function) int {
	if fn == nil {
		return noFunctionID
	}
	return fn.ID
}

// Save snapshots ctx — which must be Suspended or in ExceptionState —
// into a SerializedContext ready for Marshal.
func Save(ctx *vm.Context) (*SerializedContext, error) {
	switch ctx.GetState() {
	case vm.Suspended, vm.ExceptionState:
	default:
		return nil, fmt.Errorf("ctxstate: cannot save a context in state %s", ctx.GetState())
	}

	raw := ctx.CallStack().Raw()
	entries := make([]SerializedEntry, len(raw))
	for i, e := range raw {
		if e.IsMarker {
			entries[i] = SerializedEntry{
				IsMarker:              true,
				CallingHostFunctionID: functionID(e.CallingHostFunction),
				InitialFunctionID:     functionID(e.InitialFunction),
				OriginalStackPtr:      e.OriginalStackPtr.Serialize(),
				ArgsSize:              e.ArgsSize,
				ValueRegLow:           e.ValueRegLow,
				ValueRegHigh:          e.ValueRegHigh,
			}
			continue
		}
		entries[i] = SerializedEntry{
			FunctionID:     functionID(e.Function),
			FramePointer:   e.FramePointer.Serialize(),
			ProgramPointer: e.ProgramPointer,
			StackPointer:   e.StackPointer.Serialize(),
			BlockIndex:     e.BlockIndex,
		}
	}

	pp, sp, fp, vr := ctx.LiveRegisters()
	blocks := make([][]uint32, ctx.DataStack().BlockCount())
	for i := range blocks {
		blocks[i] = ctx.DataStack().BlockScalars(i)
	}

	return &SerializedContext{
		Status:            int(ctx.GetState()),
		Entries:           entries,
		CurrentFunctionID: functionID(ctx.CurrentFunction()),
		CurrentRegs: SerializedRegs{
			ProgramPointer: pp,
			StackPointer:   sp.Serialize(),
			FramePointer:   fp.Serialize(),
			ValueRegister:  vr,
		},
		Blocks: blocks,
	}, nil
}

// Restore drives ctx — which must be freshly constructed or otherwise
// ready for Prepare — through the Deserialization protocol to
// reconstruct the state sc describes, resolving function identities
// through functions and receiver objects through receivers. ctx must
// have been constructed with the same stack block-size configuration
// the original context used, so restored block indices and packed
// stack pointers address the same slots.
func Restore(ctx *vm.Context, sc *SerializedContext, functions FunctionResolver, receivers ReceiverResolver) error {
	if err := ctx.StartDeserialization(); err != nil {
		return err
	}

	for i, data := range sc.Blocks {
		ctx.DataStack().SetBlockScalars(i, data)
	}

	level := 0  // counts ordinary (ever-current) levels from the outermost, for ReceiverResolver
	group := 0  // counts levels staged since the last commit, for SetStateRegisters
	for _, e := range sc.Entries {
		if e.IsMarker {
			callingHost, _ := functions.ResolveFunction(e.CallingHostFunctionID)
			initial, _ := functions.ResolveFunction(e.InitialFunctionID)
			if err := ctx.SetCallStateRegisters(vm.CallStateRegs{
				CallingHostFunction: callingHost,
				InitialFunction:     initial,
				OriginalStackPtr:    vm.DeserializeStackPtr(e.OriginalStackPtr),
				ArgsSize:            e.ArgsSize,
				ValueRegLow:         e.ValueRegLow,
				ValueRegHigh:        e.ValueRegHigh,
			}); err != nil {
				return err
			}
			group = 0
			continue
		}
		fn, ok := functions.ResolveFunction(e.FunctionID)
		if !ok {
			return fmt.Errorf("ctxstate: cannot resolve function id %d", e.FunctionID)
		}
		obj := receivers.ResolveReceiver(e.FunctionID, level)
		if err := ctx.PushFunction(fn, obj); err != nil {
			return err
		}
		if err := ctx.SetStateRegisters(group, vm.StateRegs{
			ProgramPointer: e.ProgramPointer,
			StackPointer:   vm.DeserializeStackPtr(e.StackPointer),
			FramePointer:   vm.DeserializeStackPtr(e.FramePointer),
		}); err != nil {
			return err
		}
		level++
		group++
	}

	currentFn, ok := functions.ResolveFunction(sc.CurrentFunctionID)
	if !ok {
		return fmt.Errorf("ctxstate: cannot resolve current function id %d", sc.CurrentFunctionID)
	}
	obj := receivers.ResolveReceiver(sc.CurrentFunctionID, level)
	if err := ctx.PushFunction(currentFn, obj); err != nil {
		return err
	}
	if err := ctx.SetStateRegisters(group, vm.StateRegs{
		ProgramPointer: sc.CurrentRegs.ProgramPointer,
		StackPointer:   vm.DeserializeStackPtr(sc.CurrentRegs.StackPointer),
		FramePointer:   vm.DeserializeStackPtr(sc.CurrentRegs.FramePointer),
		ValueRegister:  sc.CurrentRegs.ValueRegister,
	}); err != nil {
		return err
	}

	return ctx.FinishDeserialization()
}
