package vm

import (
	"sync"
	"sync/atomic"

	"github.com/chazu/maggie-context/engine"
)

// Callback is a capability object: a function pointer bound to an
// opaque receiver, invoked polymorphically by the interpreter. This is
// the representation spec.md §9 calls for ("callbacks registered by
// value + opaque receiver") for both the exception and line hooks.
type Callback struct {
	Fn       func(ctx *Context, receiver any)
	Receiver any
}

// ExceptionInfo records the state of the most recently raised VM
// exception, valid until the next Prepare.
type ExceptionInfo struct {
	Kind         ExceptionKind
	Message      string
	Function     *engine.Function
	Line         int
	Column       int
	SectionIndex int
	WillBeCaught bool
}

// Context is the reference-counted per-call execution context: it owns
// a register bundle, a segmented data stack, a call stack of saved
// frames, per-instance user-data slots, a status, callback
// registrations and the current exception (if any). Exactly one status
// holds at a time; while Active it is bound to a single host goroutine.
type Context struct {
	refcount int32

	status Status

	registers Registers
	stack     *Stack
	callStack *CallStack

	host engine.Host

	initialFunction *engine.Function
	currentFunction *engine.Function
	receiver        engine.ObjectRef

	argsBase StackPtr
	argsSize int

	returnOnStack   bool
	returnSinkPtr   StackPtr
	pendingCallArgs []callSetup // in-flight call argument pushes, for unwind cleanup

	userDataMu sync.RWMutex
	userData   map[int]any

	exception        ExceptionInfo
	pendingException bool

	exceptionCallback *Callback
	lineCallback      *Callback

	suspendRequested atomic.Bool
	abortRequested   atomic.Bool
	doAbort          atomic.Bool

	maxStackSize    int
	maxNestedCalls  int
	autoGC          bool
	objectsAllocated int

	jit *JITImage

	// argsScanCache memoizes scanForPendingCall's forward scan, keyed by
	// (function, program position) as spec.md §4.9 suggests, so repeated
	// GetArgsOnStackCount/GetArgOnStack calls at a suspended or
	// exception-state position don't rescan the bytecode each time.
	argsScanCache map[argsScanKey]pendingCallScan

	// deserializeLevels stages call-stack levels supplied by
	// PushFunction/SetStateRegisters while status is Deserialization,
	// until SetCallStateRegisters or FinishDeserialization commits them
	// into real call-stack frames (spec.md §4.8).
	deserializeLevels []deserializeLevel
}

// callSetup records the signature of a call instruction whose argument
// pushes are still in flight, so the exception engine's unwinder can
// destroy/release any in-flight arguments if the call faults before it
// completes (spec.md §4.7 step (1)).
type callSetup struct {
	target   *engine.Function
	argStart StackPtr
}

// NewContext creates an uninitialized Context bound to host. initialStackSize
// and maxStackSize are in 32-bit slots; maxNestedCalls bounds host->script
// re-entry (spec.md §5); autoGC enables one collector step per Execute call
// that allocated at least one new object.
func NewContext(host engine.Host, initialStackSize, maxStackSize, maxNestedCalls int, autoGC bool) *Context {
	ctx := &Context{
		refcount:       1,
		status:         Uninitialized,
		stack:          NewStack(initialStackSize, maxStackSize),
		callStack:      NewCallStack(0),
		host:           host,
		maxStackSize:   maxStackSize,
		maxNestedCalls: maxNestedCalls,
		autoGC:         autoGC,
		userData:       make(map[int]any),
	}
	ctx.registers.ctx = ctx
	return ctx
}

// AddRef increments the reference count. The context is shared between
// its host owner and the engine during nested execution.
func (c *Context) AddRef() { atomic.AddInt32(&c.refcount, 1) }

// Release decrements the reference count. It is a no-op beyond
// bookkeeping here: freeing the underlying stack/call-stack buffers
// happens implicitly when the Context becomes unreachable, since Go is
// garbage collected; Release exists so callers follow the same
// discipline the engine requires of every refcounted handle.
func (c *Context) Release() int32 { return atomic.AddInt32(&c.refcount, -1) }

func (c *Context) refCount() int32 { return atomic.LoadInt32(&c.refcount) }

// GetState returns the context's current status.
func (c *Context) GetState() Status { return c.status }

// SetUserData stores an opaque per-instance slot, serialized against
// concurrent access by an engine-owned reader/writer lock (spec.md §5).
func (c *Context) SetUserData(key int, value any) {
	c.userDataMu.Lock()
	defer c.userDataMu.Unlock()
	c.userData[key] = value
}

// GetUserData reads a per-instance slot set by SetUserData.
func (c *Context) GetUserData(key int) any {
	c.userDataMu.RLock()
	defer c.userDataMu.RUnlock()
	return c.userData[key]
}

// SetExceptionCallback registers the exception callback.
func (c *Context) SetExceptionCallback(cb Callback) { c.exceptionCallback = &cb }

// ClearExceptionCallback removes the exception callback.
func (c *Context) ClearExceptionCallback() { c.exceptionCallback = nil }

// SetLineCallback registers the line-number hook.
func (c *Context) SetLineCallback(cb Callback) { c.lineCallback = &cb }

// ClearLineCallback removes the line-number hook.
func (c *Context) ClearLineCallback() { c.lineCallback = nil }

// IsNested reports whether the calling goroutine's active-contexts
// depth is at least count — spec.md §6's IsNested(count) query.
func (c *Context) IsNested(count int) bool { return activeContextDepth() >= count }

// CallStack exposes the raw call stack for ctxstate's full-fidelity
// snapshot of every saved frame and nested-execution marker, in the
// exact interleaving spec.md §6's Serialization API otherwise hides
// behind separate level/marker index spaces.
func (c *Context) CallStack() *CallStack { return c.callStack }

// DataStack exposes the raw segmented data stack for ctxstate to
// snapshot and restore scalar slot contents. Object slots are never
// touched this way; see Stack.BlockScalars.
func (c *Context) DataStack() *Stack { return c.stack }

// CurrentFunction returns the function bound to the currently
// executing frame (level 0).
func (c *Context) CurrentFunction() *engine.Function { return c.currentFunction }

// InitialFunction returns the function originally passed to Prepare
// (or the outermost function staged during Deserialization) for the
// current nested-execution span.
func (c *Context) InitialFunction() *engine.Function { return c.initialFunction }

// LiveRegisters returns the live register bundle's addressable fields,
// for ctxstate to snapshot the currently executing frame's state.
func (c *Context) LiveRegisters() (pp uint32, sp, fp StackPtr, valueRegister uint64) {
	return c.registers.ProgramPointer, c.registers.StackPointer, c.registers.FramePointer, c.registers.ValueRegister
}

// AttachJIT installs a JIT image the interpreter will transfer control
// to at designated hand-off points (spec.md §4.5's "JIT hand-off"
// instruction family). Passing nil detaches any previously attached
// image.
func (c *Context) AttachJIT(img *JITImage) { c.jit = img }
