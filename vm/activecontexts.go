package vm

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// activeContextsByGoroutine approximates a thread-local "active
// contexts" stack: Execute pushes the context it's about to run onto
// the stack for the calling goroutine, and pops it (even on exception,
// abort or suspend) before returning. Go has no first-class goroutine
// ID, so the calling goroutine is identified the same way the teacher
// tracks per-goroutine interpreters: by parsing "goroutine N [...]"
// out of a one-frame runtime.Stack dump.
var activeContextsByGoroutine sync.Map // int64 -> []*Context

func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if idx := strings.IndexByte(s, ' '); idx > 0 {
		s = s[:idx]
	}
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}

func pushActiveContext(ctx *Context) {
	gid := goroutineID()
	stack, _ := activeContextsByGoroutine.Load(gid)
	var s []*Context
	if stack != nil {
		s = stack.([]*Context)
	}
	s = append(s, ctx)
	activeContextsByGoroutine.Store(gid, s)
}

func popActiveContext() {
	gid := goroutineID()
	stack, ok := activeContextsByGoroutine.Load(gid)
	if !ok {
		return
	}
	s := stack.([]*Context)
	if len(s) == 0 {
		return
	}
	s = s[:len(s)-1]
	if len(s) == 0 {
		activeContextsByGoroutine.Delete(gid)
		return
	}
	activeContextsByGoroutine.Store(gid, s)
}

// GetActiveContext returns the innermost Context executing on the
// calling goroutine, or nil if none.
func GetActiveContext() *Context {
	gid := goroutineID()
	stack, ok := activeContextsByGoroutine.Load(gid)
	if !ok {
		return nil
	}
	s := stack.([]*Context)
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}

// activeContextDepth returns how many contexts are currently nested on
// the calling goroutine, used to enforce maxNestedCalls.
func activeContextDepth() int {
	gid := goroutineID()
	stack, ok := activeContextsByGoroutine.Load(gid)
	if !ok {
		return 0
	}
	return len(stack.([]*Context))
}
