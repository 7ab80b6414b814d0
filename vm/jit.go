package vm

// JITImage is the hand-off contract for a compiled-code image attached
// via Context.AttachJIT. OpJitEntry transfers control to Enter with
// the instruction's inline token; the image runs however much of the
// function it has compiled and returns either a new bytecode program
// position to resume interpreting from, or a terminal ExecResult if it
// ran the function to completion (or suspended/faulted) itself.
//
// This VM never compiles or verifies a JIT image — that lives entirely
// on the engine/compiler side of the boundary spec.md §4.8 draws. A
// Context with no image attached treats OpJitEntry as a no-op and
// continues with the next instruction, so bytecode compiled against a
// JIT-aware engine still runs correctly on a plain interpreter that
// dropped the image.
type JITImage struct {
	// EntryFunc is invoked by Enter for every hand-off token. It
	// receives the owning Context (so it can read/write registers and
	// the stack directly) and the token encoded in the OpJitEntry
	// instruction, and reports either a resume position or a terminal
	// result.
	EntryFunc func(c *Context, token uint16) (resumePP uint32, result ExecResult, terminal bool)
}

// Enter forwards to EntryFunc, or reports non-terminal with the
// current program pointer unchanged if no function is registered.
func (j *JITImage) Enter(c *Context, token uint16) (resumePP uint32, result ExecResult, terminal bool) {
	if j == nil || j.EntryFunc == nil {
		return c.registers.ProgramPointer, 0, false
	}
	return j.EntryFunc(c, token)
}
