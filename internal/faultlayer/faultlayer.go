// Package faultlayer implements the Runtime's signal/fault boundary
// (spec.md §4.8): a process-wide RAII installer, a deterministic
// lazy-commit-or-trap function for a linear-memory offset, the stack-fence
// arithmetic backends'
// prologues compare the stack pointer against, and a last-resort
// recover-based boundary for host faults that slip past both.
//
// spec.md §4.8 describes a custom sigaction-based handler that rewrites
// the faulting PC and resumes execution inline. Go exposes no portable
// way to install one (DESIGN.md Open Question decision #4), and
// recover() cannot resume a panicked instruction the way a rewritten PC
// can — once a goroutine has unwound past a faulting statement there is
// no statement left to retry. The resolution is to make the resumable
// half of spec.md §4.8 (lazy commit) a deterministic function,
// HandleMemoryFault below. No generated code or runtime path in this
// module calls it; backends emit an explicit bounds check against the
// declared memory size ahead of each access instead. Run/Guard remain only
// as the non-resumable net, for whatever a generated bounds check did not
// anticipate.
package faultlayer

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"

	"github.com/tetratelabs/wazero-aot/internal/memoryalloc"
	"github.com/tetratelabs/wazero-aot/internal/trap"
)

// installCount is process-wide: SetPanicOnFault is a global Go runtime
// setting, not a per-goroutine one, so Install/Release reference-count it
// the way the teacher's engine-wide one-time setup guards do, rather than
// every Release unconditionally turning it back off while another
// Runtime is still relying on it.
var installCount int32

// Install turns on fault protection for the process (debug.
// SetPanicOnFault) the first time it's called with nothing already
// installed, and returns a Guard whose Release must run on every exit
// path from the call it guards — including a panic — to keep the
// refcount symmetric (spec.md §4.8 "installation is RAII-scoped").
func Install() *Guard {
	if atomic.AddInt32(&installCount, 1) == 1 {
		debug.SetPanicOnFault(true)
	}
	return &Guard{}
}

// Guard is the RAII handle returned by Install. It is not safe to call
// Release more than once; callers defer it immediately next to Install.
type Guard struct {
	released bool
}

// Release symmetrically undoes one Install. The last outstanding Guard
// to release turns fault protection back off.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	if atomic.AddInt32(&installCount, -1) == 0 {
		debug.SetPanicOnFault(false)
	}
}

// State is the per-call classification context a Runtime builds fresh
// for every Start/CallExported/CallByTableIndex invocation (spec.md §4.6):
// enough for the fault layer to resolve a fault back to a trap code and a
// Wasm-level program point.
type State struct {
	Memory        *memoryalloc.Allocator
	FunctionIndex uint32
	Offset        uint32
}

// ComputeStackFence returns the address a compiled prologue's stack-fence
// check compares the stack pointer against (spec.md §4.8 "Stack
// overflow"): maxStackBytes below stackTop, the Runtime's configured
// per-call stack budget. Wasm and Go stacks both grow down, so crossing
// below this address means the call chain has eaten its budget; backends
// load this value into the link-data stack-fence slot at Start/
// CallExported time and compare the current stack pointer against it once,
// at function entry (internal/compiler/arch's Prologue methods emit that
// comparison, trapping StackFenceBreached); call sites and loop back-edges
// are not checked.
func ComputeStackFence(stackTop, maxStackBytes uintptr) uintptr {
	if maxStackBytes >= stackTop {
		return 0
	}
	return stackTop - maxStackBytes
}

// HandleMemoryFault is the deterministic half of spec.md §4.8's "lazy
// commit and out-of-bounds" for one linear-memory offset; nothing in
// generated code or the runtime calls it. It returns nil when the access
// may proceed (the containing page is now committed, lazily, if it
// wasn't already) or a *trap.Trap when the offset is genuinely out of the
// module's declared linear memory, or the OS failed to back the page.
func HandleMemoryFault(state *State, offset uint64) *trap.Trap {
	if state == nil || state.Memory == nil {
		return trap.New(trap.LinMemOutOfBoundsAccess, 0, 0)
	}
	err := state.Memory.Probe(offset)
	if err == nil {
		return nil
	}
	if errors.Is(err, memoryalloc.ErrOutOfBounds) {
		return trap.New(trap.LinMemOutOfBoundsAccess, state.FunctionIndex, state.Offset)
	}
	return trap.New(trap.LinMemCouldNotExtend, state.FunctionIndex, state.Offset)
}

// Run executes fn — the trampoline that enters one module's compiled
// native code — under the non-resumable safety net: any panic raised
// while fn runs, whether it is a *trap.Trap a deeper call already
// resolved or a raw Go runtime fault surfaced because Install turned on
// debug.SetPanicOnFault, is turned into a return value instead of
// propagating past this boundary. A panic this layer cannot attribute to
// state's module is re-raised unchanged: spec.md §4.8's classification
// step requires that a fault outside any live Runtime's mapping "chains
// to the previously installed handler" rather than being swallowed, and a
// bare recover() that hid every unrelated Go panic would mask host bugs
// instead.
func Run(state *State, fn func()) (trapped *trap.Trap) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if t, ok := r.(*trap.Trap); ok {
			trapped = t
			return
		}
		if t := classify(r, state); t != nil {
			trapped = t
			return
		}
		panic(r)
	}()
	fn()
	return nil
}

// classify turns a recovered Go panic into a Trap when its message
// matches one of the handful of runtime faults spec.md §4.8 names
// (nil/out-of-range memory access, integer division faults); anything
// else returns nil so Run re-raises it.
func classify(r any, state *State) *trap.Trap {
	msg := panicMessage(r)
	switch {
	case strings.Contains(msg, "invalid memory address or nil pointer dereference"),
		strings.Contains(msg, "index out of range"),
		strings.Contains(msg, "slice bounds out of range"):
		return classifyMemoryFault(state)
	case strings.Contains(msg, "integer divide by zero"):
		return trapAt(state, trap.DivByZero)
	case strings.Contains(msg, "integer overflow"):
		return trapAt(state, trap.DivOverflow)
	default:
		return nil
	}
}

// classifyMemoryFault is reached only when a generated access faulted
// without first going through HandleMemoryFault — a bug in the backend
// that emitted it, or a fault the compiler could not prove safe ahead of
// time. It still asks the allocator whether the address was merely
// uncommitted (so the caller learns LINMEM_COULDNOTEXTEND rather than a
// misleading out-of-bounds), but unlike HandleMemoryFault it can never
// resume the faulting instruction, so a successful Probe still surfaces
// as a trap rather than silently continuing.
func classifyMemoryFault(state *State) *trap.Trap {
	if state == nil || state.Memory == nil {
		return trapAt(state, trap.LinMemOutOfBoundsAccess)
	}
	if err := state.Memory.Probe(uint64(state.Offset)); err != nil && !errors.Is(err, memoryalloc.ErrOutOfBounds) {
		return trapAt(state, trap.LinMemCouldNotExtend)
	}
	return trapAt(state, trap.LinMemOutOfBoundsAccess)
}

func trapAt(state *State, code trap.Code) *trap.Trap {
	if state == nil {
		return trap.New(code, 0, 0)
	}
	return trap.New(code, state.FunctionIndex, state.Offset)
}

func panicMessage(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(r)
}
