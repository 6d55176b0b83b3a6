package wazeroaot

import (
	"context"

	"github.com/tetratelabs/wazero-aot/internal/compiler/arch"
	"github.com/tetratelabs/wazero-aot/internal/compiler/softfloat"
	"github.com/tetratelabs/wazero-aot/internal/diag"
)

// MemoryProtection selects how the compiled module checks linear-memory
// accesses (spec.md §4.7/§4.8). Active emits an explicit compare-and-trap
// before every load/store, portable to any OS. Passive omits the check and
// instead relies on a guarded memory reservation plus the signal/fault
// layer's lazy commit and out-of-bounds classification, trading a faulting
// instruction for a branch.
//
// Every backend in this tree always emits the Active-style check
// (internal/compiler/arch's MemoryLoad/MemoryStore), and
// Runtime.InitFromCompiled takes no CompilerConfig, so
// WithMemoryProtection(Passive) is stored in CompilerConfig but changes
// neither code generation nor how linear memory is reserved.
type MemoryProtection byte

const (
	MemoryProtectionActive MemoryProtection = iota
	MemoryProtectionPassive
)

// RuntimeConfig is the ambient configuration of a Runtime: the pieces that
// are not specific to any one compiled module. Immutable once built; every
// With* method returns a modified clone, mirroring the teacher's
// RuntimeConfig/clone() pattern (config.go).
type RuntimeConfig struct {
	ctx    context.Context
	logger diag.Logger
}

// NewRuntimeConfig returns the default RuntimeConfig: a background context
// and the package's default logrus-backed Logger.
func NewRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{ctx: context.Background(), logger: diag.NewLogger()}
}

func (c RuntimeConfig) clone() RuntimeConfig { return c }

// WithContext sets the context propagated to host function calls and
// cancellation checks performed between Wasm calls. Nil restores the
// background context.
func (c RuntimeConfig) WithContext(ctx context.Context) RuntimeConfig {
	ret := c.clone()
	if ctx == nil {
		ctx = context.Background()
	}
	ret.ctx = ctx
	return ret
}

// WithLogger overrides the default Logger used by PrintStacktrace and
// internal diagnostics.
func (c RuntimeConfig) WithLogger(logger diag.Logger) RuntimeConfig {
	ret := c.clone()
	ret.logger = logger
	return ret
}

func (c RuntimeConfig) Context() context.Context { return c.ctx }
func (c RuntimeConfig) Logger() diag.Logger       { return c.logger }

// CompilerConfig is per-Compile configuration: the ISA to target and the
// module-shape limits spec.md §4.6/§4.7 leaves to the embedder.
type CompilerConfig struct {
	isa               arch.ISA
	softfloatDispatch softfloat.Dispatch
	protection        MemoryProtection
	memoryLimitPages  uint32
	stacktraceDepth   uint32
	debug             bool
	permissiveImports bool
	eagerCommit       bool
}

// defaultMemoryLimitPages matches wasm.MemoryMaxPages (4 GiB) when the
// embedder never calls WithMemoryLimitPages.
const defaultMemoryLimitPages = 65536

// NewCompilerConfig returns the default CompilerConfig: host-native ISA
// selection left to the caller (WithISA is required before Compile),
// direct softfloat dispatch, active memory protection, the full 4 GiB
// memory ceiling, a 16-frame stacktrace ring, release (non-debug) mode,
// and permissive imports and eager commit both off.
func NewCompilerConfig() CompilerConfig {
	return CompilerConfig{
		softfloatDispatch: softfloat.DispatchDirect,
		protection:        MemoryProtectionActive,
		memoryLimitPages:  defaultMemoryLimitPages,
		stacktraceDepth:   16,
		eagerCommit:       false,
	}
}

func (c CompilerConfig) clone() CompilerConfig { return c }

// WithISA selects the target instruction set. Required before Compile;
// Compile returns ErrUnsupportedISA if left at its zero value.
func (c CompilerConfig) WithISA(isa arch.ISA) CompilerConfig {
	ret := c.clone()
	ret.isa = isa
	return ret
}

// WithSoftfloatDispatch selects direct (enum-switch, default) or indirect
// (pointer-table) softfloat thunk dispatch; only observed by the riscv32
// backend (spec.md §4.4b).
func (c CompilerConfig) WithSoftfloatDispatch(d softfloat.Dispatch) CompilerConfig {
	ret := c.clone()
	ret.softfloatDispatch = d
	return ret
}

// WithMemoryProtection records Active or Passive protection; see
// MemoryProtection's doc comment for what each value changes.
func (c CompilerConfig) WithMemoryProtection(p MemoryProtection) CompilerConfig {
	ret := c.clone()
	ret.protection = p
	return ret
}

// WithMemoryLimitPages records a linear-memory page cap in CompilerConfig.
// Nothing reads it: InitFromCompiled builds the linear memory allocator
// with wasm.MemoryMaxPages as its limit whatever this is set to.
func (c CompilerConfig) WithMemoryLimitPages(pages uint32) CompilerConfig {
	ret := c.clone()
	ret.memoryLimitPages = pages
	return ret
}

// WithStacktraceDepth sets the stacktrace ring's capacity, clamped to
// stacktrace.MaxCapacity by Runtime.Compile.
func (c CompilerConfig) WithStacktraceDepth(n uint32) CompilerConfig {
	ret := c.clone()
	ret.stacktraceDepth = n
	return ret
}

// WithDebug sets the Binary Module's DebugMode flag; off by default.
// CompileFunction does not receive it, so code generation is the same in
// either mode and no debug map is written.
func (c CompilerConfig) WithDebug(debug bool) CompilerConfig {
	ret := c.clone()
	ret.debug = debug
	return ret
}

// WithPermissiveImports records whether a DYNAMIC import the supplied
// Native Symbols don't resolve is acceptable. InitFromCompiled does not
// read it (the Binary Module carries no such flag): an unresolved or
// mismatched import always gets the landing pad's address, reused as the
// "called function not linked" thunk, and initialization does not fail.
func (c CompilerConfig) WithPermissiveImports(permissive bool) CompilerConfig {
	ret := c.clone()
	ret.permissiveImports = permissive
	return ret
}

// WithEagerCommit records the eager-commit choice for the module's declared
// initial pages (memoryalloc.New's eagerCommit). InitFromCompiled does not
// read it and always constructs the allocator with eagerCommit false.
func (c CompilerConfig) WithEagerCommit(eager bool) CompilerConfig {
	ret := c.clone()
	ret.eagerCommit = eager
	return ret
}
