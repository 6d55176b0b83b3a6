//go:build !arm64

package platform

// FlushInstructionCache is a no-op on ISAs with a coherent instruction
// cache (ISA-1/amd64 and the ISA-3/riscv32 embedded targets this module
// compiles for, which either snoop the data cache or are cross-compiled
// and never self-modified on the host running the compiler). See
// cacheflush_arm64.go for the one ISA that needs an explicit barrier.
func FlushInstructionCache(code []byte) {}
