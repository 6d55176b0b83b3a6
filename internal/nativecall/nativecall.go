// Package nativecall provides the one primitive the rest of this module
// needs in order to actually run what internal/compiler emits: a call into
// a raw code pointer returned by internal/platform.MmapCodeSegment, using
// the host's own C calling convention rather than Go's.
//
// A Binary Module's ExportedFunction/StartFunction Wrapper bytes (internal/
// binaryformat) are themselves machine code generated for this exact entry
// convention (internal/compiler/arch's WrapperBackend, grounded on each
// backend's own Prologue register conventions): RDI/X0 carries the
// link-data pointer, RSI/X1 the packed argument buffer, RDX/X2 the packed
// result buffer. Call3 is the Go-side half of that handshake, the same
// role the teacher's engine assigns to its assembly nativecall stub
// (internal/engine/compiler's now-unwired jitcall), rewritten against this
// module's own Wrapper convention instead of wazeroir's callEngine.
package nativecall

import "errors"

// ErrUnsupportedHost is returned by Call3 (and panicked by it, since a
// caller that already checked Supported() has no other way to proceed) on
// a GOARCH this package has no trampoline for.
var ErrUnsupportedHost = errors.New("nativecall: host architecture cannot execute compiled machine code directly")

// Call3 invokes the native function at code, passing linkData, argsBuf and
// resultsBuf as the first three pointer-sized arguments in the host
// platform's C calling convention (System V AMD64 or AAPCS64), and returns
// whatever ended up in the platform's integer return register. A Wrapper
// trampoline reads its three arguments from exactly those registers,
// unpacks argsBuf into the compiled function's own native argument
// registers, calls it, and packs results back into resultsBuf before
// returning the trap code (0 for none) that ends up as Call3's result.
//
// code must point at executable memory (internal/platform.MmapCodeSegment)
// that outlives the call. It panics with ErrUnsupportedHost if Supported
// is false; callers needing a recoverable error should check Supported
// first.
func Call3(code, linkData, argsBuf, resultsBuf uintptr) uintptr {
	if !Supported() {
		panic(ErrUnsupportedHost)
	}
	return callNative(code, linkData, argsBuf, resultsBuf)
}
