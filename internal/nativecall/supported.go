//go:build amd64 || arm64

package nativecall

// Supported reports whether this GOARCH has a callNative trampoline: the
// two hosts spec.md §5 targets natively (ISA-1 amd64, ISA-2 arm64).
// ISA-3 (riscv32) is an embedded cross-compilation target only; nothing in
// this module ever runs riscv32 machine code in-process.
func Supported() bool { return true }

// callNative is implemented in call_amd64.s / call_arm64.s.
func callNative(code, linkData, argsBuf, resultsBuf uintptr) uintptr
