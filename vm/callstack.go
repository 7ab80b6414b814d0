package vm

import "github.com/chazu/maggie-context/engine"

// callStackGrowth is the number of frames the call stack grows by each
// time it needs more capacity (spec.md §4.3).
const callStackGrowth = 10

// frame is one entry on the call stack. isMarker distinguishes a
// nested-execution marker (spec.md §3: "a distinguished frame whose
// first slot is the sentinel value 0") from an ordinary saved-frame
// entry; a script function pointer is never nil, so isMarker is an
// unambiguous discriminator matching that invariant.
type frame struct {
	isMarker bool

	// Ordinary frame (push_call_state / pop_call_state).
	savedFramePointer StackPtr
	savedFunction     *engine.Function
	savedProgramPtr   uint32
	savedStackPointer StackPtr
	savedBlockIndex   int

	// Nested marker (push_state / pop_state).
	callingHostFunction *engine.Function
	initialFunction     *engine.Function
	originalStackPtr    StackPtr
	argsSize            int
	valueRegLow         uint32
	valueRegHigh        uint32
	objectRegister      engine.ObjectRef
}

// CallStack holds saved frames and nested-execution markers for one
// Context. Capacity grows in blocks of callStackGrowth frames, bounded
// by maxFrames (0 means unbounded).
type CallStack struct {
	frames    []frame
	maxFrames int
}

// NewCallStack creates an empty call stack bounded by maxFrames (0 for
// unbounded).
func NewCallStack(maxFrames int) *CallStack {
	return &CallStack{maxFrames: maxFrames}
}

// Size is callstack_size - 1: the number of saved frames, not counting
// the currently executing one. GetCallstackSize (spec.md §4.9) adds 1.
func (c *CallStack) Size() int { return len(c.frames) }

func (c *CallStack) grow() bool {
	if c.maxFrames > 0 && len(c.frames) >= c.maxFrames {
		return false
	}
	if len(c.frames) == cap(c.frames) {
		grown := make([]frame, len(c.frames), cap(c.frames)+callStackGrowth)
		copy(grown, c.frames)
		c.frames = grown
	}
	return true
}

// PushCallState records the current frame before a script-to-script
// call. Returns false (and pushes nothing) if the call stack is at its
// configured maximum.
func (c *CallStack) PushCallState(fp StackPtr, fn *engine.Function, pp uint32, sp StackPtr, blockIndex int) bool {
	if !c.grow() {
		return false
	}
	c.frames = append(c.frames, frame{
		savedFramePointer: fp,
		savedFunction:     fn,
		savedProgramPtr:   pp,
		savedStackPointer: sp,
		savedBlockIndex:   blockIndex,
	})
	return true
}

// PopCallState restores the most recently saved ordinary frame. It
// panics if the top of stack is a nested marker or the stack is empty;
// callers must check IsNestedMarkerOnTop first.
func (c *CallStack) PopCallState() (fp StackPtr, fn *engine.Function, pp uint32, sp StackPtr, blockIndex int) {
	top := len(c.frames) - 1
	f := c.frames[top]
	if f.isMarker {
		panic("vm: PopCallState on a nested marker frame")
	}
	c.frames = c.frames[:top]
	return f.savedFramePointer, f.savedFunction, f.savedProgramPtr, f.savedStackPointer, f.savedBlockIndex
}

// PushState installs a nested-execution marker carrying the host-facing
// state, so the context can be reused for a nested host->script->host
// chain (spec.md §4.3).
func (c *CallStack) PushState(callingHostFunction, initialFunction *engine.Function, originalSP StackPtr, argsSize int, valueRegLow, valueRegHigh uint32, objReg engine.ObjectRef) bool {
	if !c.grow() {
		return false
	}
	c.frames = append(c.frames, frame{
		isMarker:            true,
		callingHostFunction: callingHostFunction,
		initialFunction:     initialFunction,
		originalStackPtr:    originalSP,
		argsSize:            argsSize,
		valueRegLow:         valueRegLow,
		valueRegHigh:        valueRegHigh,
		objectRegister:      objReg,
	})
	return true
}

// PopState restores a nested-execution marker. It panics if the top of
// stack is not a marker or the stack is empty.
func (c *CallStack) PopState() (callingHostFunction, initialFunction *engine.Function, originalSP StackPtr, argsSize int, valueRegLow, valueRegHigh uint32, objReg engine.ObjectRef) {
	top := len(c.frames) - 1
	f := c.frames[top]
	if !f.isMarker {
		panic("vm: PopState on an ordinary call frame")
	}
	c.frames = c.frames[:top]
	return f.callingHostFunction, f.initialFunction, f.originalStackPtr, f.argsSize, f.valueRegLow, f.valueRegHigh, f.objectRegister
}

// IsNestedMarkerOnTop reports whether the top of the call stack is a
// nested-execution marker (or the stack is empty, which also bounds
// unwinding).
func (c *CallStack) IsNestedMarkerOnTop() bool {
	if len(c.frames) == 0 {
		return true
	}
	return c.frames[len(c.frames)-1].isMarker
}

// FrameAt returns the saved ordinary frame at depth (0 = most recently
// pushed), used by introspection to walk the call stack without
// popping it. ok is false if depth is out of range or names a marker.
func (c *CallStack) FrameAt(depth int) (fn *engine.Function, pp uint32, ok bool) {
	idx := len(c.frames) - 1 - depth
	if idx < 0 || idx >= len(c.frames) || c.frames[idx].isMarker {
		return nil, 0, false
	}
	f := c.frames[idx]
	return f.savedFunction, f.savedProgramPtr, true
}

// FullFrameAt returns every saved field of the ordinary frame at depth
// (0 = most recently pushed) — the frame pointer and stack pointer
// FrameAt omits, needed by introspection and serialization to address a
// call-stack level's own locals and arguments, not just resume its
// caller.
func (c *CallStack) FullFrameAt(depth int) (fp StackPtr, fn *engine.Function, pp uint32, sp StackPtr, blockIndex int, ok bool) {
	idx := len(c.frames) - 1 - depth
	if idx < 0 || idx >= len(c.frames) || c.frames[idx].isMarker {
		return StackPtr{}, nil, 0, StackPtr{}, 0, false
	}
	f := c.frames[idx]
	return f.savedFramePointer, f.savedFunction, f.savedProgramPtr, f.savedStackPointer, f.savedBlockIndex, true
}

// MarkerAt returns the i-th nested-execution marker counting from the
// bottom of the call stack (push order), for Serialization's
// GetCallStateRegisters/SetCallStateRegisters (spec.md §6).
func (c *CallStack) MarkerAt(i int) (callingHostFunction, initialFunction *engine.Function, originalSP StackPtr, argsSize int, valueRegLow, valueRegHigh uint32, objReg engine.ObjectRef, ok bool) {
	n := -1
	for _, f := range c.frames {
		if !f.isMarker {
			continue
		}
		n++
		if n == i {
			return f.callingHostFunction, f.initialFunction, f.originalStackPtr, f.argsSize, f.valueRegLow, f.valueRegHigh, f.objectRegister, true
		}
	}
	return nil, nil, StackPtr{}, 0, 0, 0, engine.ObjectRef{}, false
}

// NestedMarkerCount counts how many markers are currently on the stack,
// i.e. how deep the host->script re-entry nesting is.
func (c *CallStack) NestedMarkerCount() int {
	n := 0
	for _, f := range c.frames {
		if f.isMarker {
			n++
		}
	}
	return n
}

// TruncateTo keeps the bottom idx entries and drops every entry above
// them; idx is clamped to the range [0, Size()].
func (c *CallStack) TruncateTo(idx int) {
	if idx < 0 {
		idx = 0
	}
	if idx > len(c.frames) {
		idx = len(c.frames)
	}
	c.frames = c.frames[:idx]
}

// RawEntry mirrors one call-stack entry, ordinary frame or marker, in
// push order — the full-fidelity view Serialization's ctxstate package
// needs to snapshot and rebuild the exact interleaving of saved frames
// and nested-execution markers that the introspection-oriented
// accessors (FrameAt, FullFrameAt, MarkerAt) deliberately hide behind
// two separate index spaces.
type RawEntry struct {
	IsMarker bool

	FramePointer   StackPtr
	Function       *engine.Function
	ProgramPointer uint32
	StackPointer   StackPtr
	BlockIndex     int

	CallingHostFunction *engine.Function
	InitialFunction     *engine.Function
	OriginalStackPtr    StackPtr
	ArgsSize            int
	ValueRegLow         uint32
	ValueRegHigh        uint32
	ObjectRegister      engine.ObjectRef
}

// Raw returns every call-stack entry in push order (bottom to top).
func (c *CallStack) Raw() []RawEntry {
	out := make([]RawEntry, len(c.frames))
	for i, f := range c.frames {
		out[i] = RawEntry{
			IsMarker:            f.isMarker,
			FramePointer:        f.savedFramePointer,
			Function:            f.savedFunction,
			ProgramPointer:      f.savedProgramPtr,
			StackPointer:        f.savedStackPointer,
			BlockIndex:          f.savedBlockIndex,
			CallingHostFunction: f.callingHostFunction,
			InitialFunction:     f.initialFunction,
			OriginalStackPtr:    f.originalStackPtr,
			ArgsSize:            f.argsSize,
			ValueRegLow:         f.valueRegLow,
			ValueRegHigh:        f.valueRegHigh,
			ObjectRegister:      f.objectRegister,
		}
	}
	return out
}

// SetRaw replaces the call stack's contents wholesale with entries in
// push order, the counterpart Serialization uses to rebuild a call
// stack from a deserialized snapshot without replaying every
// PushCallState/PushState call individually.
func (c *CallStack) SetRaw(entries []RawEntry) {
	frames := make([]frame, len(entries))
	for i, e := range entries {
		frames[i] = frame{
			isMarker:            e.IsMarker,
			savedFramePointer:   e.FramePointer,
			savedFunction:       e.Function,
			savedProgramPtr:     e.ProgramPointer,
			savedStackPointer:   e.StackPointer,
			savedBlockIndex:     e.BlockIndex,
			callingHostFunction: e.CallingHostFunction,
			initialFunction:     e.InitialFunction,
			originalStackPtr:    e.OriginalStackPtr,
			argsSize:            e.ArgsSize,
			valueRegLow:         e.ValueRegLow,
			valueRegHigh:        e.ValueRegHigh,
			objectRegister:      e.ObjectRegister,
		}
	}
	c.frames = frames
}
