package platform

// GoroutineStackTop approximates the current goroutine's stack top (highest
// address, since Go/Wasm stacks both grow down) for use as the stack_top
// argument to Runtime.Start/CallExported (spec §4.6). Go goroutine stacks
// move and grow, so this is necessarily a snapshot: the embedder calls it
// once right before entering Wasm, exactly as the teacher's host-call
// wrappers capture SP once at the call boundary rather than tracking it
// continuously.
//
// The implementation intentionally avoids parsing /proc/self/maps or
// querying pthread attributes the way the original C++ runtime's
// StackTop.hpp does: Go never exposes the OS thread's stack bounds to user
// code, and a Go binary's "thread" backing a goroutine is not stable across
// the call anyway (the scheduler may move the goroutine between an entry
// and a later read). Instead the caller takes the address of a local
// variable, which is safe because Start/CallExported run their Wasm body
// synchronously without yielding back to the scheduler in a way that would
// invalidate the approximation, matching the cooperative, single-threaded
// execution model of spec.md §5.
func GoroutineStackTop() uintptr {
	var local byte
	return uintptr(stackAddr(&local))
}
