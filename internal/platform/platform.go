// Package platform isolates the OS-specific primitives the compiler and
// runtime need: reserving and committing virtual memory, mapping pages
// read+execute, flushing the instruction cache, and reading the calling
// thread's stack bounds. Everything else in this module is pure Go.
package platform

import "runtime"

// CompilerSupported reports whether the current host can execute a Binary
// Module produced by this module, i.e. whether Runtime.Start/CallExported
// can actually run native code here. Compilation itself never needs this:
// compiling for an ISA that does not match the host is the whole point of
// an ahead-of-time compiler.
func CompilerSupported() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return true
	default:
		return false
	}
}

// PageSize is the granularity of Reserve/Commit/Uncommit. It matches the Wasm
// page size coincidentally on most hosts, but the two are unrelated concepts:
// this is the OS's page size, the Wasm page (64 KiB, see wasm.MemoryPageSize)
// is a spec-mandated constant.
var PageSize = osPageSize()
