package compiler

import "errors"

// Sentinel errors returned by Compile, distinct from the validator's own
// wasm.Err* sentinels so callers can tell "this module is not valid Wasm"
// apart from "this valid module hit a compiler limitation" (spec.md §4.4,
// §9 Non-goals: "implementation limits may reject otherwise-valid
// modules, e.g. functions requiring more temp slots than a 16-bit index
// can address").
var (
	// ErrUnsupportedOpcode is returned when a function body contains an
	// opcode this compiler does not implement (e.g. a post-1.0 proposal
	// opcode; Non-goals exclude all of them).
	ErrUnsupportedOpcode = errors.New("compiler: unsupported opcode")
	// ErrTooManyLocals is the implementation-limit error for a function
	// whose combined parameter+local+temp-slot count overflows the
	// backend's frame-slot index width.
	ErrTooManyLocals = errors.New("compiler: function has too many locals and temp slots")
	// ErrUnsupportedISA is returned by Compile when asked to target an ISA
	// arch has no Backend for.
	ErrUnsupportedISA = errors.New("compiler: unsupported target ISA")
)

const maxFrameSlots = 1 << 16
