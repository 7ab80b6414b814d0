package engine

// ArgumentView is the slice of a Context's argument area exposed to a
// host function during a Kind==Host call. It lets the host read the
// arguments the interpreter pushed and write a return value, without
// the engine package depending on vm's stack representation.
type ArgumentView interface {
	Arg32(slot int) uint32
	Arg64(slot int) uint64
	ArgObject(slot int) ObjectRef
	SetReturn32(uint32)
	SetReturn64(uint64)
	SetReturnObject(ObjectRef)
	// Raise converts an application-level error into a VM exception,
	// per spec.md §7's "application-thrown exceptions" rule.
	Raise(message string)
}

// Allocator is the engine's object allocator, invoked by the
// allocation-family instructions. Construct may re-enter the
// interpreter (running a script constructor) before returning.
type Allocator interface {
	Allocate(t *TypeInfo) (ObjectRef, error)
	Free(ObjectRef)
}

// Collector is the tracing collector's only entry points visible to a
// Context: how many objects exist, and run one collection step. Auto-GC
// (spec.md §4.8) calls RunStep once per Execute call that created at
// least one new object.
type Collector interface {
	ObjectCount() int
	RunStep()
}

// ImportResolver resolves a bound-import binding table entry to its
// concrete Function. Calling an unresolved import faults with the
// unbound-function VM exception (vm.ExcUnboundFunction).
type ImportResolver interface {
	Resolve(importID int) (*Function, bool)
}

// ExceptionTranslator optionally rewrites the generic message produced
// for an application-thrown exception inside a host function into
// something more specific.
type ExceptionTranslator interface {
	Translate(err error) string
}

// DiagnosticSink is the engine's message sink: validation errors and
// diagnostics the Context cannot itself raise as VM exceptions are
// written here instead of being silently dropped.
type DiagnosticSink interface {
	Info(msg string)
	Warning(msg string)
	Error(msg string)
}

// Host bundles every external collaborator a Context needs. Nil fields
// are legal where the corresponding feature is unused (e.g. no
// Collector means auto-GC stepping is skipped).
type Host struct {
	Allocator   Allocator
	Collector   Collector
	Sink        DiagnosticSink
	Imports     ImportResolver
	Translator  ExceptionTranslator
}
