// Package trap defines the taxonomy of runtime faults a compiled module
// can raise (spec.md §7): a closed, numbered Code enum, a Trap value
// carrying the code plus the Wasm-level program point it occurred at, and
// the fixed message table used by Runtime.print_stacktrace-equivalent
// diagnostics.
package trap

import "fmt"

// Code is one of the fourteen trap codes spec.md §7 defines. The numeric
// values are part of this module's ABI: they are the literal values
// compiled native code loads into the return-status register before
// jumping to the generic trap landing pad (internal/compiler/arch
// backends reference a handful of these by their numeric literal directly
// to avoid an import cycle between arch and trap; the values here are the
// single source of truth those literals must track).
type Code uint32

const (
	Unreachable Code = iota
	BuiltinTrap
	LinMemOutOfBoundsAccess
	LinMemCouldNotExtend
	IndirectCallOutOfBounds
	IndirectCallWrongSignature
	LinkedMemoryNotLinked
	LinkedMemoryOutOfBounds
	DivByZero
	DivOverflow
	TruncOverflow
	RuntimeInterruptRequested
	StackFenceBreached
	CalledFunctionNotLinked
)

var messages = [...]string{
	Unreachable:                "unreachable instruction executed",
	BuiltinTrap:                "builtin trap",
	LinMemOutOfBoundsAccess:    "out of bounds memory access",
	LinMemCouldNotExtend:       "linear memory could not be extended",
	IndirectCallOutOfBounds:    "undefined element: indirect call index out of table bounds",
	IndirectCallWrongSignature: "indirect call type mismatch",
	LinkedMemoryNotLinked:      "access to a linked memory region that is not currently linked",
	LinkedMemoryOutOfBounds:    "access to a linked memory region out of its bounds",
	DivByZero:                  "integer divide by zero",
	DivOverflow:                "integer overflow",
	TruncOverflow:              "integer overflow converting a float to an integer",
	RuntimeInterruptRequested:  "runtime interruption requested",
	StackFenceBreached:         "call stack exhausted",
	CalledFunctionNotLinked:    "called function is not linked",
}

// String renders the fixed human-readable message for a Code, per spec.md
// §7's "compile-time message table".
func (c Code) String() string {
	if int(c) < len(messages) {
		if m := messages[c]; m != "" {
			return m
		}
	}
	return fmt.Sprintf("trap(%d)", uint32(c))
}

// Trap is the error value surfaced by a Runtime call that hit a trap:
// Code identifies which one, FunctionIndex and Offset locate it within the
// Wasm module that was executing (spec.md §7 "traps carry enough
// information to resolve a stacktrace frame").
type Trap struct {
	Code         Code
	FunctionIndex uint32
	Offset        uint32
}

func (t *Trap) Error() string {
	return fmt.Sprintf("wasm trap: %s (function %d, offset 0x%x)", t.Code, t.FunctionIndex, t.Offset)
}

// New constructs a Trap; used by the Runtime's trap landing pad once it
// has decoded which function/offset the faulting native PC belongs to.
func New(code Code, funcIndex, offset uint32) *Trap {
	return &Trap{Code: code, FunctionIndex: funcIndex, Offset: offset}
}
