// Package engine declares the contracts a vm.Context needs from the
// surrounding engine: the function/type registry, an object's behaviour
// table (addref/release/construct/destruct), the host calling-convention
// bridge, and the tracing collector. None of these are implemented here —
// the compiler, the script object representation and the collector are
// out of scope for this module; only the interfaces a Context calls
// through are.
package engine
