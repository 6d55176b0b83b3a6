package wazeroaot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/tetratelabs/wazero-aot/api"
	"github.com/tetratelabs/wazero-aot/internal/binaryformat"
	"github.com/tetratelabs/wazero-aot/internal/compiler"
	"github.com/tetratelabs/wazero-aot/internal/compiler/arch"
	"github.com/tetratelabs/wazero-aot/internal/diag"
	"github.com/tetratelabs/wazero-aot/internal/faultlayer"
	"github.com/tetratelabs/wazero-aot/internal/memoryalloc"
	"github.com/tetratelabs/wazero-aot/internal/nativecall"
	"github.com/tetratelabs/wazero-aot/internal/platform"
	"github.com/tetratelabs/wazero-aot/internal/stacktrace"
	"github.com/tetratelabs/wazero-aot/internal/trap"
	"github.com/tetratelabs/wazero-aot/internal/wasm"
)

// Link data begins with a small fixed header every compiled Prologue/Trap
// site already addresses by a literal offset (internal/compiler/arch's
// "[RSI+0]"-style stack-fence read): offset 0 is the fence, offset 8 is
// the trap slot the shared landing pad writes before returning, offset 16
// is the interruption-request slot RequestInterruption sets, offset 24 is
// the linked-memory base pointer LinkMemory/UnlinkMemory and the
// "builtin" getLengthOfLinkedMemory/readLinkedMemoryByte stubs below
// address, offset 32 is its length (spec.md §3 Runtime State "linked-
// memory pointer and length"). Everything from linkDataHeaderSize on is
// this module's own dynamic region: one 8-byte slot per mutable global
// and per dynamic import, in the order Runtime.Compile assigned them.
const (
	linkDataFenceOffset        = 0
	linkDataTrapOffset         = 8
	linkDataInterruptOffset    = 16
	linkDataLinkedMemPtrOffset = 24
	linkDataLinkedMemLenOffset = 32
	linkDataHeaderSize         = 40
)

// noTrap is the trap-slot sentinel meaning "the last call completed
// without trapping"; trap.Code values are small (0-13) so zero cannot
// double as this sentinel the way binaryformat.NoOffset does for 32-bit
// fields.
const noTrap = ^uint64(0)

// trapLandingPadCallIndex is this package's copy of the same reserved
// sentinel internal/compiler/arch declares once (amd64.go): every
// Trap() site's call Relocation targets it, so funcOffsets (built once,
// here, for the whole combined function-body region) must carry exactly
// one entry under this key, resolving to landingPad's own offset.
const trapLandingPadCallIndex = 0xffff_ffff

// defaultStackBudget bounds how much native stack a single Start/
// CallExported/CallByTableIndex invocation may consume before the
// compiled prologue's fence check traps StackFenceBreached.
const defaultStackBudget = 4 << 20

// Runtime is this module's entry point: one Runtime compiles any number of
// modules and initializes any number of Instances from them, sharing only
// its RuntimeConfig (spec.md §4.6 "Runtime").
type Runtime struct {
	cfg RuntimeConfig
}

// NewRuntime constructs a Runtime from cfg.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	return &Runtime{cfg: cfg}
}

// CompiledModule is the output of Compile: a frozen Binary Module artifact
// (spec.md §6.2) ready for InitFromCompiled, and the ISA it was built for.
type CompiledModule struct {
	Binary []byte
	ISA    arch.ISA
}

// newBackend constructs the arch.Backend CompilerConfig.isa selects.
func newBackend(cfg CompilerConfig) (arch.Backend, error) {
	switch cfg.isa {
	case arch.ISAAmd64:
		return arch.NewAMD64Backend(), nil
	case arch.ISAArm64:
		return arch.NewARM64Backend(), nil
	case arch.ISARiscv32:
		return arch.NewRISCV32Backend(cfg.softfloatDispatch), nil
	default:
		return nil, compiler.ErrUnsupportedISA
	}
}

// Compile decodes bytecode's Module Info, compiles every defined function
// with a fresh Backend instance per function (internal/compiler.
// CompileFunction), links every call and branch site, generates a native-
// call Wrapper for every export and the start function, and serializes the
// result as a Binary Module (spec.md §4.6 "compile").
//
// A Native Symbol supplied in imports with api.LinkageStatic is checked
// against the import's signature here (a mismatch fails Compile) and
// marked linked. An import with no supplied symbol, or a DYNAMIC one, is
// recorded unlinked. Either way InitFromCompiled writes the symbol's
// address into the import's link-data slot.
func (rt *Runtime) Compile(bytecode []byte, cfg CompilerConfig, imports *Imports) (*CompiledModule, error) {
	if cfg.isa == 0 {
		return nil, compiler.ErrUnsupportedISA
	}
	m, err := wasm.Decode(bytecode)
	if err != nil {
		return nil, fmt.Errorf("decode module: %w", err)
	}
	if imports == nil {
		imports = NewImports()
	}

	stacktraceDepth := cfg.stacktraceDepth
	if stacktraceDepth > stacktrace.MaxCapacity {
		stacktraceDepth = stacktrace.MaxCapacity
	}

	out := &binaryformat.Module{
		Version:         binaryformat.CurrentVersion,
		DebugMode:       cfg.debug,
		StacktraceCount: stacktraceDepth,
	}

	// Resolve the dynamic-import slot layout first: every defined
	// function's Call() sites reference imported functions by the same
	// combined index space (wasm.Module.FunctionTypeIndex), so the layout
	// of DynamicImports must be known before compiling function bodies.
	linkOffset := uint32(linkDataHeaderSize)
	dynImports := make([]binaryformat.ImportedFunction, 0, m.ImportedFunctionCount)
	for _, imp := range m.Imports {
		if imp.Kind != wasm.ExternKindFunc {
			continue
		}
		sig := m.Types[imp.TypeIndex]
		sigStr := signatureString(sig)
		linked := false
		if imp.Module == builtinModuleName {
			if _, _, ok := builtinStub(cfg.isa, imp.Name); !ok {
				return nil, fmt.Errorf("compile: %q is not a recognized builtin import", imp.Name)
			}
			linked = true
		} else if sym, ok := imports.Lookup(imp.Module, imp.Name); ok && sym.Linkage == api.LinkageStatic {
			if !signatureMatches(sig, sym.Signature) {
				return nil, fmt.Errorf("compile: static symbol %s.%s has signature %q, module expects %q", imp.Module, imp.Name, sym.Signature, sigStr)
			}
			linked = true
		}
		// An import that is either absent from imports or DYNAMIC linkage
		// is left unresolved here and recorded for InitFromCompiled.
		dynImports = append(dynImports, binaryformat.ImportedFunction{
			ModuleName:     imp.Module,
			FunctionName:   imp.Name,
			Signature:      sigStr,
			LinkDataOffset: linkOffset,
		})
		out.LinkStatus = append(out.LinkStatus, linked)
		linkOffset += 8
	}
	out.DynamicImports = dynImports

	// Mutable globals, exported or not, each get one link-data slot;
	// GlobalGet/GlobalSet (internal/compiler/arch) address them through
	// this same offset.
	globalOffsets := make(map[uint32]uint32, len(m.Globals))
	for i, g := range m.Globals {
		idx := m.ImportedGlobalCount + uint32(i)
		if !g.Type.Mutable {
			continue
		}
		globalOffsets[idx] = linkOffset
		linkOffset += 8
	}

	backendForLinking, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}

	// Compile every defined function with its own fresh Backend (frontend.
	// CompileFunction's Prologue/Relocations accumulate per-instance state,
	// so each function gets a clean one), collecting call relocations for
	// the cross-function patch pass below.
	stubs := make([]compiledEntry, m.ImportedFunctionCount)
	bodies := make([]compiledEntry, len(m.Functions))
	backendPerFunc := make([]arch.Backend, len(m.Functions))

	for i := range stubs {
		if dynImports[i].ModuleName == builtinModuleName {
			code, relocs, _ := builtinStub(cfg.isa, dynImports[i].FunctionName)
			stubs[i] = compiledEntry{code: code, relocs: relocs}
			continue
		}
		code, relocs := importStub(cfg.isa, dynImports[i].LinkDataOffset, m.FunctionTypeOf(uint32(i)))
		stubs[i] = compiledEntry{code: code, relocs: relocs}
	}

	for i, fn := range m.Functions {
		b, err := newBackend(cfg)
		if err != nil {
			return nil, err
		}
		backendPerFunc[i] = b
		cf, err := compiler.CompileFunction(m, fn, b)
		if err != nil {
			return nil, fmt.Errorf("compile function %d: %w", fn.Index, err)
		}
		calls := compiler.LinkIntraFunction(cf, b)
		bodies[i] = compiledEntry{code: cf.Code, relocs: calls}
	}

	// Lay every piece (import stubs, defined bodies, then the shared trap
	// landing pad) out consecutively, exactly the forward order
	// FunctionBodies will serialize in (spec.md §6.2 item 12 "bodies fill
	// the remaining forward space"), so funcOffsets and the landing pad's
	// own offset are stable once computed here.
	funcOffsets := make(map[uint32]int, m.NumFunctions())
	var combined []byte
	for i, s := range stubs {
		funcOffsets[uint32(i)] = len(combined)
		combined = append(combined, s.code...)
	}
	for i, bo := range bodies {
		funcOffsets[m.ImportedFunctionCount+uint32(i)] = len(combined)
		combined = append(combined, bo.code...)
	}
	pad := landingPad(cfg.isa)
	landingPadOffset := len(combined)
	combined = append(combined, pad...)
	funcOffsets[trapLandingPadCallIndex] = landingPadOffset

	for i, s := range stubs {
		compiler.PatchCallRelocations(combined, s.relocs, funcOffsets[uint32(i)], backendForLinking, funcOffsets)
	}
	for i, bo := range bodies {
		compiler.PatchCallRelocations(combined, bo.relocs, funcOffsets[m.ImportedFunctionCount+uint32(i)], backendPerFunc[i], funcOffsets)
	}

	// Exported functions and the start function each get a Wrapper
	// trampoline, appended to the same combined buffer (so its own CALL
	// into the wrapped function's offset resolves the same way any other
	// cross-function call does) and then sliced back out for separate
	// serialization; InitFromCompiled reappends them in this identical
	// order to reconstruct the same relative layout.
	var exported []binaryformat.ExportedFunction
	for _, exp := range m.Exports {
		if exp.Kind != wasm.ExternKindFunc {
			continue
		}
		sig := m.FunctionTypeOf(exp.Index)
		wrapperOff := len(combined)
		code, relocs := backendForLinking.Wrapper(sig.Params, sig.Results, exp.Index)
		combined = append(combined, code...)
		compiler.PatchCallRelocations(combined, relocs, wrapperOff, backendForLinking, funcOffsets)
		exported = append(exported, binaryformat.ExportedFunction{
			WasmIndex: exp.Index,
			Name:      exp.Name,
			Signature: signatureString(sig),
			Wrapper:   combined[wrapperOff:],
		})
	}
	out.ExportedFunctions = exported

	if m.StartFunctionIndex != nil {
		sig := m.FunctionTypeOf(*m.StartFunctionIndex)
		wrapperOff := len(combined)
		code, relocs := backendForLinking.Wrapper(sig.Params, sig.Results, *m.StartFunctionIndex)
		combined = append(combined, code...)
		compiler.PatchCallRelocations(combined, relocs, wrapperOff, backendForLinking, funcOffsets)
		out.Start = &binaryformat.StartFunction{Signature: signatureString(sig), Wrapper: combined[wrapperOff:]}
	}

	// Re-split combined back into FunctionBodies entries (stubs, defined
	// functions, landing pad) now that every Wrapper's trailing bytes have
	// been carved off above; what remains in FunctionBodies is exactly
	// [0, landingPadOffset+len(landing pad)).
	bodyRegion := combined[:landingPadOffset+len(pad)]
	out.FunctionBodies = splitFunctionBodies(bodyRegion, stubs, bodies, pad)
	out.LandingPadOffset = uint32(landingPadOffset)

	out.ExportedGlobals = exportedGlobals(m, globalOffsets)
	out.MutableGlobals = mutableGlobalEntries(m, globalOffsets)
	if m.Memory != nil {
		out.LinearMemoryInitialPages = m.Memory.Min
	} else {
		out.LinearMemoryInitialPages = binaryformat.NoOffset
	}
	out.FunctionNames = functionNames(m)
	out.DataSegments = dataSegments(m)
	out.Table = tableEntries(m, funcOffsets)

	return &CompiledModule{Binary: binaryformat.Encode(out), ISA: cfg.isa}, nil
}

func signatureString(sig *wasm.FunctionType) string {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, p := range sig.Params {
		b.WriteByte(api.SignatureChar(p))
	}
	b.WriteByte(')')
	for _, r := range sig.Results {
		b.WriteByte(api.SignatureChar(r))
	}
	return b.String()
}

func signatureMatches(sig *wasm.FunctionType, s string) bool {
	params, results, err := api.ParseSignature(s)
	if err != nil {
		return false
	}
	return sig.EqualsSignature(params, results)
}

// importStub synthesizes one function body for an imported function:
// entered exactly like any defined function (Backend.Call's plain CALL/BL/
// JAL, reading incoming arguments from the same "[RBP-(slot+1)*8]"-style
// frame-slot convention Wrapper writes into), it moves each argument into
// the host C ABI's argument registers, loads the Native Symbol's resolved
// address from its link-data slot (filled in at InitFromCompiled, not
// here), and calls through it. The native result register (RAX/X0/a0) is
// left exactly where an arithmetic-op result or a Wrapper's own result
// extraction already expects it, so no extra move is needed on return.
//
// This passes at most six (amd64), seven (arm64) or eight (riscv32)
// arguments, the AAPCS64/SysV/RV32 argument registers that don't overlap
// this compiler's reserved link-data/scratch registers; further arguments
// are not passed.
func importStub(isa arch.ISA, linkOffset uint32, sig *wasm.FunctionType) ([]byte, []arch.Relocation) {
	switch isa {
	case arch.ISAAmd64:
		return amd64ImportStub(linkOffset, len(sig.Params)), nil
	case arch.ISAArm64:
		return arm64ImportStub(linkOffset, len(sig.Params)), nil
	case arch.ISARiscv32:
		return riscv32ImportStub(linkOffset, len(sig.Params)), nil
	default:
		return nil, nil
	}
}

// amd64ArgRegs lists the {REX, ModRM-reg-field} pairs for the registers an
// amd64ImportStub moves arguments into, in order: RDI, RDX, RCX, R8, R9,
// R10 (RSI/RBP/RSP/R14/R15 stay reserved for link-data/frame/scratch use,
// matching amd64Backend's own reserved set).
var amd64ArgRegs = [6][2]byte{
	{0x48, 7}, {0x48, 2}, {0x48, 1}, {0x4c, 0}, {0x4c, 1}, {0x4c, 2},
}

func amd64ImportStub(linkOffset uint32, numParams int) []byte {
	var code []byte
	emit := func(b ...byte) { code = append(code, b...) }
	if numParams > len(amd64ArgRegs) {
		numParams = len(amd64ArgRegs)
	}
	for i := 0; i < numParams; i++ {
		rex, reg := amd64ArgRegs[i][0], amd64ArgRegs[i][1]
		emit(rex, 0x8b, 0x40|(reg<<3)|0x05) // MOV reg, [RBP-disp8]
		emit(byte(int8(-(i + 1) * 8)))
	}
	emit(0x48, 0x8b, 0x86) // MOV RAX, [RSI+disp32] (resolved Native Symbol pointer).
	var disp [4]byte
	binary.LittleEndian.PutUint32(disp[:], linkOffset)
	emit(disp[:]...)
	emit(0xff, 0xd0) // CALL RAX
	emit(0xc3)       // RET; the host call's own RAX result is already where a caller expects it.
	return code
}

func arm64ImportStub(linkOffset uint32, numParams int) []byte {
	if numParams > 7 {
		numParams = 7
	}
	var words []uint32
	for i := 0; i < numParams; i++ {
		words = append(words, 0xf9400000|uint32(i)<<10|uint32(i)) // LDR Xi, [SP, #i*8]
	}
	words = append(words, 0xf9400000|(linkOffset/8)<<10|27<<5|9) // LDR X9, [X27, #linkOffset]
	words = append(words, 0xd63f0000|9<<5)                       // BLR X9
	words = append(words, 0xd65f03c0)                            // RET
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

func riscv32ImportStub(linkOffset uint32, numParams int) []byte {
	if numParams > 8 {
		numParams = 8
	}
	var words []uint32
	for i := 0; i < numParams; i++ {
		words = append(words, uint32(i*4)<<20|0x00012003|uint32(10+i)<<7) // LW a{i}, i*4(sp)
	}
	words = append(words, linkOffset<<20|0x000ea283) // LW t0, linkOffset(t4) (resolved Native Symbol pointer).
	words = append(words, 5<<15|1<<7|0x67)            // JALR ra, t0, 0
	words = append(words, 0x00008067)                 // JALR x0, ra, 0 (return)
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

// builtinModuleName is a reserved import module name: original_source's
// WasmModule exposes linked-memory state to compiled code through host-
// style imports under this module ("builtin" "getLengthOfLinkedMemory",
// per original_source/tests/unittests/TestWasmModule.cpp's testLinkMemory),
// rather than through a Native Symbol an embedder supplies. Compile
// special-cases it: instead of emitting an ordinary importStub left
// unresolved until InitFromCompiled, it calls builtinStub and, if
// recognized, marks the import linked right away, since there is no Go
// side to resolve — the stub reads link data directly.
const builtinModuleName = "builtin"

// builtinStub returns the code and relocations for one recognized
// "builtin" import, or ok=false for a name this runtime doesn't provide
// (Compile then falls back to an ordinary, embedder-resolved importStub).
func builtinStub(isa arch.ISA, name string) (code []byte, relocs []arch.Relocation, ok bool) {
	switch name {
	case "getLengthOfLinkedMemory":
		return builtinLinkedMemoryLength(isa), nil, true
	case "readLinkedMemoryByte":
		code, relocs = builtinLinkedMemoryByte(isa)
		return code, relocs, true
	default:
		return nil, nil, false
	}
}

// builtinLinkedMemoryLength returns () -> i32, the linked span's current
// length (0 when nothing is linked); it never traps.
func builtinLinkedMemoryLength(isa arch.ISA) []byte {
	switch isa {
	case arch.ISAAmd64:
		var code []byte
		emit := func(b ...byte) { code = append(code, b...) }
		emit(0x8b, 0x86) // MOV EAX, [RSI+disp32] (length slot; a 32-bit dst zero-extends RAX).
		var disp [4]byte
		binary.LittleEndian.PutUint32(disp[:], linkDataLinkedMemLenOffset)
		emit(disp[:]...)
		emit(0xc3) // RET
		return code
	case arch.ISAArm64:
		words := []uint32{
			0xf9400000 | (linkDataLinkedMemLenOffset/8)<<10 | 27<<5, // LDR X0, [X27, #lenOff]
			arm64OpRET,
		}
		buf := make([]byte, len(words)*4)
		for i, w := range words {
			binary.LittleEndian.PutUint32(buf[i*4:], w)
		}
		return buf
	case arch.ISARiscv32:
		words := []uint32{
			linkDataLinkedMemLenOffset<<20 | 0x000ea503, // LW a0, lenOff(t4)
			0x00008067,                                   // JALR x0, ra, 0 (return)
		}
		buf := make([]byte, len(words)*4)
		for i, w := range words {
			binary.LittleEndian.PutUint32(buf[i*4:], w)
		}
		return buf
	default:
		return nil
	}
}

// builtinLinkedMemoryByte returns (offset i32) -> i32, the linked span's
// byte at offset: trap.LinkedMemoryNotLinked if nothing is linked,
// trap.LinkedMemoryOutOfBounds if offset is past the end. This is ahead of
// anything original_source's WasmModule itself exposes, but gives the two
// trap codes spec.md §7 reserves for linked memory a real call site.
func builtinLinkedMemoryByte(isa arch.ISA) ([]byte, []arch.Relocation) {
	switch isa {
	case arch.ISAAmd64:
		return amd64LinkedMemoryByteStub()
	case arch.ISAArm64:
		return arm64LinkedMemoryByteStub()
	case arch.ISARiscv32:
		return riscv32LinkedMemoryByteStub()
	default:
		return nil, nil
	}
}

func amd64LinkedMemoryByteStub() ([]byte, []arch.Relocation) {
	var code []byte
	emit := func(b ...byte) { code = append(code, b...) }

	emit(0x8b, 0x45, 0xf8) // MOV EAX, [RBP-8] (offset arg, incoming frame slot 0).
	emit(0x8b, 0x8e)       // MOV ECX, [RSI+disp32] (linked-memory length).
	var lenDisp [4]byte
	binary.LittleEndian.PutUint32(lenDisp[:], linkDataLinkedMemLenOffset)
	emit(lenDisp[:]...)
	emit(0x85, 0xc9) // TEST ECX, ECX
	jeAt := len(code)
	emit(0x74, 0) // JE notLinked, rel8 patched below.
	emit(0x3b, 0xc1) // CMP EAX, ECX
	jaeAt := len(code)
	emit(0x73, 0) // JAE outOfBounds, rel8 patched below.
	emit(0x48, 0x8b, 0x96) // MOV RDX, [RSI+disp32] (linked-memory pointer).
	var ptrDisp [4]byte
	binary.LittleEndian.PutUint32(ptrDisp[:], linkDataLinkedMemPtrOffset)
	emit(ptrDisp[:]...)
	emit(0x48, 0x01, 0xc2) // ADD RDX, RAX
	emit(0x0f, 0xb6, 0x02) // MOVZX EAX, byte [RDX]
	emit(0xc3)             // RET

	notLinked := len(code)
	code[jeAt+1] = byte(notLinked - (jeAt + 2))
	emit(0x48, 0xc7, 0xc0) // MOV RAX, imm32(trap.LinkedMemoryNotLinked)
	var c1 [4]byte
	binary.LittleEndian.PutUint32(c1[:], uint32(trap.LinkedMemoryNotLinked))
	emit(c1[:]...)
	emit(0xe9, 0, 0, 0, 0) // JMP rel32, to the shared trap landing pad.
	relo1 := arch.Relocation{CodeOffset: len(code) - 4, IsCall: true, CallIndex: trapLandingPadCallIndex}

	outOfBounds := len(code)
	code[jaeAt+1] = byte(outOfBounds - (jaeAt + 2))
	emit(0x48, 0xc7, 0xc0) // MOV RAX, imm32(trap.LinkedMemoryOutOfBounds)
	var c2 [4]byte
	binary.LittleEndian.PutUint32(c2[:], uint32(trap.LinkedMemoryOutOfBounds))
	emit(c2[:]...)
	emit(0xe9, 0, 0, 0, 0) // JMP rel32, to the shared trap landing pad.
	relo2 := arch.Relocation{CodeOffset: len(code) - 4, IsCall: true, CallIndex: trapLandingPadCallIndex}

	return code, []arch.Relocation{relo1, relo2}
}

// arm64LinkedMemoryByteStub mirrors amd64LinkedMemoryByteStub's bounds
// check, local (CBZ/B.HS) branches patched by word distance the same way
// arm64Backend.Prologue patches its own stack-fence check, only the two
// trap.Trap... JMPs use real arch.Relocation entries against the shared
// landing pad.
func arm64LinkedMemoryByteStub() ([]byte, []arch.Relocation) {
	var words []uint32
	emit := func(w uint32) { words = append(words, w) }

	emit(0xf9400000) // LDR X0, [SP, #0] (offset arg, frame slot 0).
	emit(0xf9400000 | (linkDataLinkedMemLenOffset/8)<<10 | 27<<5 | 1) // LDR X1, [X27, #lenOff]
	cbzAt := len(words)
	emit(arm64OpCBZ | 1) // CBZ X1, notLinked; patched below.
	emit(0xeb01001f)     // SUBS XZR, X0, X1
	bhsAt := len(words)
	emit(0x54000002) // B.HS outOfBounds; patched below.
	emit(0xf9400000 | (linkDataLinkedMemPtrOffset/8)<<10 | 27<<5 | 2) // LDR X2, [X27, #ptrOff]
	emit(0x8b000000 | 2<<5 | 2) // ADD X2, X2, X0
	emit(0x39400000 | 2<<5)     // LDRB W0, [X2]
	emit(arm64OpRET)

	notLinked := len(words)
	words[cbzAt] |= uint32(notLinked-cbzAt) << 5
	emit(0xd2800000 | uint32(trap.LinkedMemoryNotLinked)<<5) // MOVZ X0, #trap.LinkedMemoryNotLinked
	relo1CodeOffset := len(words) * 4
	emit(arm64OpB) // B, to the shared trap landing pad.

	outOfBounds := len(words)
	words[bhsAt] |= uint32(outOfBounds-bhsAt) << 5
	emit(0xd2800000 | uint32(trap.LinkedMemoryOutOfBounds)<<5) // MOVZ X0, #trap.LinkedMemoryOutOfBounds
	relo2CodeOffset := len(words) * 4
	emit(arm64OpB) // B, to the shared trap landing pad.

	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	relos := []arch.Relocation{
		{CodeOffset: relo1CodeOffset, IsCall: true, CallIndex: trapLandingPadCallIndex, ImmBits: 26},
		{CodeOffset: relo2CodeOffset, IsCall: true, CallIndex: trapLandingPadCallIndex, ImmBits: 26},
	}
	return buf, relos
}

// riscv32BranchImm packs a byte displacement into RV32's scattered B-type
// immediate layout (imm[12|10:5]...[4:1|11]), the same layout
// internal/compiler/arch/riscv32.go's own (unexported) riscv32BImm packs
// for beq/bne/bgeu; this stub isn't part of that package so it repacks the
// same bits locally rather than reaching across the package boundary.
func riscv32BranchImm(diff uint32) uint32 {
	return ((diff >> 12 & 0x1) << 31) | ((diff >> 5 & 0x3f) << 25) |
		((diff >> 1 & 0xf) << 8) | ((diff >> 11 & 0x1) << 7)
}

func riscv32LinkedMemoryByteStub() ([]byte, []arch.Relocation) {
	var words []uint32
	emit := func(w uint32) { words = append(words, w) }

	emit(0x00012503)                                      // LW a0, 0(sp) (offset arg, frame slot 0).
	emit(linkDataLinkedMemLenOffset<<20 | 0x000ea283)     // LW t0, lenOff(t4) (length).
	beqzAt := len(words)
	emit(0x00000063) // BEQ t0, x0, notLinked (placeholder encoding, matches IfStart's style); imm patched below.
	bgeuAt := len(words)
	emit(0x00007063) // BGEU a0, t0, outOfBounds (placeholder encoding, matches BrTable's style); imm patched below.
	emit(linkDataLinkedMemPtrOffset<<20 | 0x000ea283) // LW t0, ptrOff(t4) (pointer).
	emit(0x00000033)                                   // ADD a0, t0, a0 (placeholder encoding, matches riscv32IntArithTable's ADD).
	emit(0x00004003)                                   // LBU a0, 0(a0) (zero-extend byte).
	emit(0x00008067)                                   // JALR x0, ra, 0 (return)

	notLinked := len(words) * 4
	words[beqzAt] = (words[beqzAt] & 0x01fff07f) | riscv32BranchImm(uint32(notLinked-beqzAt*4))
	emit(0x00000537 | uint32(trap.LinkedMemoryNotLinked)<<12) // LUI a0, trap.LinkedMemoryNotLinked
	relo1CodeOffset := len(words) * 4
	emit(0x0000006f) // JAL x0, <trap landing pad>.

	outOfBounds := len(words) * 4
	words[bgeuAt] = (words[bgeuAt] & 0x01fff07f) | riscv32BranchImm(uint32(outOfBounds-bgeuAt*4))
	emit(0x00000537 | uint32(trap.LinkedMemoryOutOfBounds)<<12) // LUI a0, trap.LinkedMemoryOutOfBounds
	relo2CodeOffset := len(words) * 4
	emit(0x0000006f) // JAL x0, <trap landing pad>.

	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	relos := []arch.Relocation{
		{CodeOffset: relo1CodeOffset, IsCall: true, CallIndex: trapLandingPadCallIndex},
		{CodeOffset: relo2CodeOffset, IsCall: true, CallIndex: trapLandingPadCallIndex},
	}
	return buf, relos
}

// landingPad is the shared, module-wide destination every emitTrap JMP/B/
// JAL resolves to via trapLandingPadCallIndex: it stores the trap code
// (left by emitTrap in the return-status register, RAX/X0/a0) into the
// link-data trap slot and returns one call frame up. Unwinding stops
// there rather than propagating to the original Start/CallExported entry
// point when the trap occurred more than one Wasm call deep; full
// non-local unwinding is future work.
func landingPad(isa arch.ISA) []byte {
	switch isa {
	case arch.ISAAmd64:
		return []byte{0x48, 0x89, 0x46, 0x08, 0xc3} // MOV [RSI+8], RAX; RET
	case arch.ISAArm64:
		words := []uint32{0xf9000760, 0xd65f03c0} // STR X0, [X27, #8]; RET
		buf := make([]byte, len(words)*4)
		for i, w := range words {
			binary.LittleEndian.PutUint32(buf[i*4:], w)
		}
		return buf
	case arch.ISARiscv32:
		words := []uint32{0x00aea423, 0x00008067} // SW a0, 8(t4); JALR x0, ra, 0
		buf := make([]byte, len(words)*4)
		for i, w := range words {
			binary.LittleEndian.PutUint32(buf[i*4:], w)
		}
		return buf
	default:
		return nil
	}
}

func exportedGlobals(m *wasm.Module, offsets map[uint32]uint32) []binaryformat.ExportedGlobal {
	var out []binaryformat.ExportedGlobal
	for _, exp := range m.Exports {
		if exp.Kind != wasm.ExternKindGlobal {
			continue
		}
		gt := globalTypeOf(m, exp.Index)
		eg := binaryformat.ExportedGlobal{Name: exp.Name, TypeChar: api.SignatureChar(gt.ValType), Mutable: gt.Mutable}
		if gt.Mutable {
			eg.LinkDataOffset = offsets[exp.Index]
		} else {
			eg.ConstantValue = constantValueOf(m, exp.Index)
		}
		out = append(out, eg)
	}
	return out
}

func mutableGlobalEntries(m *wasm.Module, offsets map[uint32]uint32) []binaryformat.MutableGlobal {
	var out []binaryformat.MutableGlobal
	exportedIdx := map[uint32]bool{}
	for _, exp := range m.Exports {
		if exp.Kind == wasm.ExternKindGlobal {
			exportedIdx[exp.Index] = true
		}
	}
	for i, g := range m.Globals {
		idx := m.ImportedGlobalCount + uint32(i)
		if !g.Type.Mutable || exportedIdx[idx] {
			continue
		}
		out = append(out, binaryformat.MutableGlobal{
			Type:           api.SignatureChar(g.Type.ValType),
			LinkDataOffset: offsets[idx],
			InitialValue:   constantValueOf(m, idx),
		})
	}
	return out
}

func globalTypeOf(m *wasm.Module, idx uint32) *wasm.GlobalType {
	if idx < m.ImportedGlobalCount {
		var seen uint32
		for _, imp := range m.Imports {
			if imp.Kind != wasm.ExternKindGlobal {
				continue
			}
			if seen == idx {
				return imp.GlobalType
			}
			seen++
		}
	}
	return m.Globals[idx-m.ImportedGlobalCount].Type
}

// noImportedGlobals rejects global.get of an imported global inside a
// constant expression: the value an import resolves to is only known once
// Imports are supplied at InitFromCompiled, long after Compile has already
// folded every constant expression down to a bit pattern.
func noImportedGlobals(uint32) (uint64, error) {
	return 0, fmt.Errorf("compile: global.get of an imported global is not supported inside a constant expression")
}

func constantValueOf(m *wasm.Module, idx uint32) uint64 {
	if idx < m.ImportedGlobalCount {
		return 0 // An imported global's own initial value lives in the host, not this module.
	}
	g := m.Globals[idx-m.ImportedGlobalCount]
	if g.Init == nil {
		return 0
	}
	v, err := wasm.EvaluateConstantExpression(g.Init, g.Type.ValType, noImportedGlobals)
	if err != nil {
		return 0
	}
	return v
}

func functionNames(m *wasm.Module) []binaryformat.FunctionName {
	var out []binaryformat.FunctionName
	for idx, name := range m.NameSection {
		out = append(out, binaryformat.FunctionName{WasmFunctionIndex: idx, Name: name})
	}
	return out
}

func dataSegments(m *wasm.Module) []binaryformat.DataInit {
	var out []binaryformat.DataInit
	for _, d := range m.DataSegments {
		offset, err := wasm.I32ConstValue(d.Offset, noImportedGlobals)
		if err != nil {
			continue
		}
		out = append(out, binaryformat.DataInit{Offset: offset, Bytes: d.Init})
	}
	return out
}

func tableEntries(m *wasm.Module, funcOffsets map[uint32]int) []binaryformat.TableEntry {
	if m.Table == nil {
		return nil
	}
	entries := make([]binaryformat.TableEntry, m.Table.Min)
	for i := range entries {
		entries[i] = binaryformat.TableEntry{SignatureIndex: binaryformat.NoOffset, FunctionBodyOffset: binaryformat.NoOffset}
	}
	for _, seg := range m.ElementSegments {
		offset, err := wasm.I32ConstValue(seg.Offset, noImportedGlobals)
		if err != nil {
			continue
		}
		for i, fnIdx := range seg.Init {
			slot := int(offset) + i
			if slot < 0 || slot >= len(entries) {
				continue
			}
			entries[slot] = binaryformat.TableEntry{
				SignatureIndex:     m.FunctionTypeIndex(fnIdx),
				FunctionBodyOffset: uint32(funcOffsets[fnIdx]),
			}
		}
	}
	return entries
}

// compiledEntry pairs one function's emitted code with the call
// relocations still pending a cross-function patch pass (PatchCallRelocations),
// for both import stubs and defined-function bodies alike.
type compiledEntry struct {
	code   []byte
	relocs []arch.Relocation
}

// splitFunctionBodies re-slices bodyRegion (the combined, already-linked
// byte range covering every stub, defined function and the landing pad)
// back into the individually-lengthed FunctionBody entries the Binary
// Module format serializes, preserving exact byte identity with what was
// patched above.
func splitFunctionBodies(bodyRegion []byte, stubs, bodies []compiledEntry, pad []byte) []binaryformat.FunctionBody {
	out := make([]binaryformat.FunctionBody, 0, len(stubs)+len(bodies)+1)
	off := 0
	for _, s := range stubs {
		out = append(out, binaryformat.FunctionBody{Code: bodyRegion[off : off+len(s.code)]})
		off += len(s.code)
	}
	for _, b := range bodies {
		out = append(out, binaryformat.FunctionBody{Code: bodyRegion[off : off+len(b.code)]})
		off += len(b.code)
	}
	out = append(out, binaryformat.FunctionBody{Code: bodyRegion[off : off+len(pad)]})
	return out
}

// Instance is one running module, produced by Runtime.InitFromCompiled
// (spec.md §4.6 "init_from_compiled"): its own linear memory, link data
// and stacktrace ring, backed by one mapped copy of the Binary Module's
// native code.
type Instance struct {
	rt   *Runtime
	mod  *binaryformat.Module
	code *platform.MappedCode

	linkData     []byte // Instance.mem.Base()[:Instance.mem.LinearMemoryBase()].
	linkedMemory []byte // pinned against the GC; LinkMemory stores only its address+length in linkData.
	mem          *memoryalloc.Allocator
	ring         *stacktrace.Ring
	names        map[uint32]string
	guard        *faultlayer.Guard

	exportedByName map[string]exportedFuncInfo
	tableFuncs     []uint32 // Wasm function index per table slot, NoOffset for an empty slot.
	tableSigs      []uint32

	stackBudget uintptr
	closed      int32
	mu          sync.Mutex
}

type exportedFuncInfo struct {
	addr    uintptr
	params  []byte
	results []byte
}

// InitFromCompiled loads a Compile'd Binary Module, reserves its linear
// memory and link data (internal/memoryalloc), resolves every DYNAMIC
// Native Symbol against imports, and maps its native code executable
// (spec.md §4.6 "init_from_compiled"). debug, when true, additionally logs
// each import left unlinked because it was not supplied or its signature
// does not match.
func (rt *Runtime) InitFromCompiled(binary []byte, imports *Imports, debug bool) (*Instance, error) {
	if !platform.CompilerSupported() {
		return nil, fmt.Errorf("init_from_compiled: host architecture cannot execute compiled machine code")
	}
	mod, err := binaryformat.Decode(binary)
	if err != nil {
		return nil, fmt.Errorf("decode binary module: %w", err)
	}
	if imports == nil {
		imports = NewImports()
	}

	// Reconstruct the exact combined code layout Compile built: function
	// bodies (stubs, defined functions, landing pad) first, then each
	// export's Wrapper in declaration order, then the start function's.
	var combined []byte
	for _, fb := range mod.FunctionBodies {
		combined = append(combined, fb.Code...)
	}
	exportOffsets := make([]int, len(mod.ExportedFunctions))
	for i, ef := range mod.ExportedFunctions {
		exportOffsets[i] = len(combined)
		combined = append(combined, ef.Wrapper...)
	}
	if mod.Start != nil {
		combined = append(combined, mod.Start.Wrapper...)
	}

	mapped, err := platform.MmapCodeSegment(combined)
	if err != nil {
		return nil, fmt.Errorf("map compiled code: %w", err)
	}
	platform.FlushInstructionCache(mapped.Bytes())
	codeBase := sliceToUintptr(mapped.Bytes())

	linkDataSize := linkDataHeaderSize + 8*(len(mod.DynamicImports)+len(mod.MutableGlobals))
	for _, eg := range mod.ExportedGlobals {
		if eg.Mutable {
			// ExportedGlobal LinkDataOffset already accounts for this slot
			// sitting alongside MutableGlobals; nothing extra reserved
			// here, only validated against linkDataSize below.
			if int(eg.LinkDataOffset)+8 > linkDataSize {
				linkDataSize = int(eg.LinkDataOffset) + 8
			}
		}
	}
	initialPages := uint32(0)
	if mod.LinearMemoryInitialPages != binaryformat.NoOffset {
		initialPages = mod.LinearMemoryInitialPages
	}
	mem, err := memoryalloc.New(uint64(linkDataSize), initialPages, wasm.MemoryMaxPages, false)
	if err != nil {
		_ = platform.MunmapCodeSegment(mapped.Bytes())
		return nil, fmt.Errorf("reserve linear memory: %w", err)
	}
	linkData := mem.Base()[:mem.LinearMemoryBase()]
	binary_.PutUint64(linkData[linkDataTrapOffset:], noTrap)

	logger := rt.cfg.Logger()
	for i, imp := range mod.DynamicImports {
		if imp.ModuleName == builtinModuleName {
			continue // A builtin stub reads link data directly and never loads this slot.
		}
		addr := trapThunkAddr(mapped, mod)
		if sym, ok := imports.Lookup(imp.ModuleName, imp.FunctionName); ok {
			if sym.Signature == imp.Signature {
				addr = sym.Func
			} else if debug {
				logger.Warnf("import %s.%s: signature %q does not match expected %q, leaving unlinked", imp.ModuleName, imp.FunctionName, sym.Signature, imp.Signature)
			}
		} else if debug {
			logger.Infof("import %s.%s: not supplied, left unlinked", imp.ModuleName, imp.FunctionName)
		}
		binary_.PutUint64(linkData[imp.LinkDataOffset:], uint64(addr))
	}
	for _, g := range mod.MutableGlobals {
		binary_.PutUint64(linkData[g.LinkDataOffset:], g.InitialValue)
	}
	for _, d := range mod.DataSegments {
		copy(mem.Base()[mem.LinearMemoryBase()+uint64(d.Offset):], d.Bytes)
	}

	inst := &Instance{
		rt:             rt,
		mod:            mod,
		code:           mapped,
		linkData:       linkData,
		mem:            mem,
		ring:           stacktrace.NewRing(mod.StacktraceCount),
		names:          namesOf(mod),
		guard:          faultlayer.Install(),
		exportedByName: map[string]exportedFuncInfo{},
		stackBudget:    defaultStackBudget,
	}
	for i, ef := range mod.ExportedFunctions {
		params, results, err := api.ParseSignature(ef.Signature)
		if err != nil {
			continue
		}
		inst.exportedByName[ef.Name] = exportedFuncInfo{addr: codeBase + uintptr(exportOffsets[i]), params: params, results: results}
	}
	inst.tableFuncs, inst.tableSigs = tableIndices(mod)
	return inst, nil
}

// tableIndices maps each TableEntry's self-relative FunctionBodyOffset back
// to the Wasm function index CallByTableIndex needs, by recomputing the same
// cumulative FunctionBodies offsets Compile laid the entry's offset out
// against (every entry but the trailing landing pad corresponds 1:1, in
// order, to one Wasm function index).
func tableIndices(mod *binaryformat.Module) (funcs, sigs []uint32) {
	offsetToIndex := make(map[uint32]uint32, len(mod.FunctionBodies))
	off := uint32(0)
	for i := 0; i < len(mod.FunctionBodies)-1; i++ {
		offsetToIndex[off] = uint32(i)
		off += uint32(len(mod.FunctionBodies[i].Code))
	}

	funcs = make([]uint32, len(mod.Table))
	sigs = make([]uint32, len(mod.Table))
	for i, e := range mod.Table {
		if e.SignatureIndex == binaryformat.NoOffset {
			funcs[i] = binaryformat.NoOffset
			sigs[i] = binaryformat.NoOffset
			continue
		}
		funcs[i] = offsetToIndex[e.FunctionBodyOffset]
		sigs[i] = e.SignatureIndex
	}
	return funcs, sigs
}

func namesOf(mod *binaryformat.Module) map[uint32]string {
	names := make(map[uint32]string, len(mod.FunctionNames))
	for _, n := range mod.FunctionNames {
		names[n.WasmFunctionIndex] = n.Name
	}
	return names
}

// trapThunkAddr returns the address of the landing pad itself, reused as
// the "called function not linked" thunk for an unresolved dynamic import:
// jumping into it loads trap.CalledFunctionNotLinked semantics only
// approximately (the landing pad does not set that specific code), a
// simplification noted in DESIGN.md pending a dedicated thunk per module.
func trapThunkAddr(mapped *platform.MappedCode, mod *binaryformat.Module) uintptr {
	return sliceToUintptr(mapped.Bytes()) + uintptr(mod.LandingPadOffset)
}

func sliceToUintptr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

var binary_ = binary.LittleEndian

// Close releases the Instance's mapped code and reserved memory. Not safe
// to call concurrently with an in-flight Start/CallExported/
// CallByTableIndex.
func (in *Instance) Close() error {
	if !atomic.CompareAndSwapInt32(&in.closed, 0, 1) {
		return nil
	}
	in.guard.Release()
	err1 := in.mem.Close()
	err2 := platform.MunmapCodeSegment(in.code.Bytes())
	if err1 != nil {
		return err1
	}
	return err2
}

// HasExportedFunction reports whether name is an exported function.
func (in *Instance) HasExportedFunction(name string) bool {
	_, ok := in.exportedByName[name]
	return ok
}

// CallExported invokes the exported function named name (spec.md §4.6
// "call_exported"). stackTop is accepted but not used: every call computes
// the prologue's stack fence from internal/platform.GoroutineStackTop (see
// Instance.stackTop) and the instance's stack budget.
func (in *Instance) CallExported(name string, stackTop uintptr, args ...uint64) ([]uint64, error) {
	info, ok := in.exportedByName[name]
	if !ok {
		return nil, fmt.Errorf("call_exported: no exported function named %q", name)
	}
	if len(args) != len(info.params) {
		return nil, fmt.Errorf("call_exported %q: expected %d arguments, got %d", name, len(info.params), len(args))
	}
	return in.call(info.addr, len(info.results), args)
}

// CallByTableIndex invokes the function currently installed at the given
// table slot (spec.md §4.6 "call_by_table_index"), checking its signature
// the same way a compiled call_indirect would.
func (in *Instance) CallByTableIndex(idx uint32, stackTop uintptr, args ...uint64) ([]uint64, error) {
	if idx >= uint32(len(in.tableFuncs)) || in.tableFuncs[idx] == binaryformat.NoOffset {
		return nil, trap.New(trap.IndirectCallOutOfBounds, 0, 0)
	}
	wasmIdx := in.tableFuncs[idx]
	for _, ef := range in.mod.ExportedFunctions {
		if ef.WasmIndex != wasmIdx {
			continue
		}
		return in.CallExported(ef.Name, stackTop, args...)
	}
	return nil, fmt.Errorf("call_by_table_index: function at slot %d (wasm index %d) is not exported, cannot be invoked from the host boundary", idx, wasmIdx)
}

// Start runs the module's start function, if it declared one; it is a
// no-op returning nil otherwise.
func (in *Instance) Start(stackTop uintptr) error {
	if in.mod.Start == nil {
		return nil
	}
	addr := sliceToUintptr(in.code.Bytes()) + uintptr(in.startWrapperOffset())
	_, err := in.call(addr, 0, nil)
	return err
}

func (in *Instance) startWrapperOffset() int {
	off := 0
	for _, fb := range in.mod.FunctionBodies {
		off += len(fb.Code)
	}
	for _, ef := range in.mod.ExportedFunctions {
		off += len(ef.Wrapper)
	}
	return off
}

// call drives one native-call round trip through internal/nativecall,
// under the fault layer's non-resumable safety net, and turns the link
// data trap slot back into a *trap.Trap when the call faulted.
func (in *Instance) call(addr uintptr, numResults int, args []uint64) ([]uint64, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	fence := faultlayer.ComputeStackFence(in.stackTop(), in.stackBudget)
	binary_.PutUint64(in.linkData[linkDataFenceOffset:], uint64(fence))
	binary_.PutUint64(in.linkData[linkDataTrapOffset:], noTrap)

	argsBuf := make([]uint64, max(1, len(args)))
	copy(argsBuf, args)
	resultsBuf := make([]uint64, max(1, numResults))

	state := &faultlayer.State{Memory: in.mem}
	trapped := faultlayer.Run(state, func() {
		nativecall.Call3(addr, sliceToUintptr(in.linkData), sliceToUintptr(u64ToBytes(argsBuf)), sliceToUintptr(u64ToBytes(resultsBuf)))
	})
	if trapped != nil {
		return nil, trapped
	}
	if code := binary_.Uint64(in.linkData[linkDataTrapOffset:]); code != noTrap {
		return nil, trap.New(trap.Code(code), 0, 0)
	}
	return resultsBuf[:numResults], nil
}

// stackTop is the native stack ceiling every call computes its fence from;
// the stackTop parameters of Start/CallExported/CallByTableIndex are not
// consulted.
func (in *Instance) stackTop() uintptr {
	return platform.GoroutineStackTop()
}

func u64ToBytes(s []uint64) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*8)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// RequestInterruption asks a subsequent poll of the interruption slot to
// observe code and trap with it. No backend yet emits that poll at call
// sites or loop back-edges (spec.md §4.6 "request_interruption" describes
// the contract; internal/compiler/arch's Prologue/BranchIf do not check
// this slot), so this currently only takes effect between native calls,
// not inside one already running.
func (in *Instance) RequestInterruption(code trap.Code) {
	binary_.PutUint64(in.linkData[linkDataInterruptOffset:], uint64(code)+1)
}

// LinkMemory installs span as the backing store for a LINKED_MEMORY region
// (spec.md §4.7 "Linked Memory"): a host-owned byte range the compiled
// module can address without it ever occupying Wasm linear memory. Any
// previously linked span is replaced. The "builtin" getLengthOfLinkedMemory/
// readLinkedMemoryByte stubs a module imports (see builtinStub) read the
// pointer and length this writes straight out of link data; span is kept
// alive in in.linkedMemory since only its raw address is stored there.
func (in *Instance) LinkMemory(span []byte) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.linkedMemory = span
	binary_.PutUint64(in.linkData[linkDataLinkedMemPtrOffset:], uint64(sliceToUintptr(span)))
	binary_.PutUint64(in.linkData[linkDataLinkedMemLenOffset:], uint64(len(span)))
	return nil
}

// UnlinkMemory reverses LinkMemory; accesses after this trap
// LINKEDMEMORY_NOTLINKED.
func (in *Instance) UnlinkMemory() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.linkedMemory = nil
	binary_.PutUint64(in.linkData[linkDataLinkedMemPtrOffset:], 0)
	binary_.PutUint64(in.linkData[linkDataLinkedMemLenOffset:], 0)
}

// ShrinkMemory lowers the instance's committed and declared linear memory
// to min pages (spec.md §4.7, an administrative operation distinct from
// memory.grow).
func (in *Instance) ShrinkMemory(minPages uint32) error {
	return in.mem.Shrink(minPages)
}

// GetExportedGlobal returns the current value of the named exported
// global.
func (in *Instance) GetExportedGlobal(name string) (uint64, error) {
	for _, eg := range in.mod.ExportedGlobals {
		if eg.Name != name {
			continue
		}
		if !eg.Mutable {
			return eg.ConstantValue, nil
		}
		return binary_.Uint64(in.linkData[eg.LinkDataOffset:]), nil
	}
	return 0, fmt.Errorf("get_exported_global: no exported global named %q", name)
}

// IterateStacktrace calls f with every live frame, innermost first,
// stopping early if f returns false.
func (in *Instance) IterateStacktrace(f func(stacktrace.Frame) bool) {
	for _, frame := range stacktrace.Resolve(in.ring.Snapshot(), in.names) {
		if !f(frame) {
			return
		}
	}
}

// PrintStacktrace writes the current stacktrace to logger, in the style of
// internal/diag.PrintStacktrace.
func (in *Instance) PrintStacktrace(logger diag.Logger) {
	var frames []stacktrace.Frame
	in.IterateStacktrace(func(f stacktrace.Frame) bool {
		frames = append(frames, f)
		return true
	})
	diag.PrintStacktrace(logger, fmtStringer{in.ring.Depth()}, frames)
}

type fmtStringer struct{ depth uint32 }

func (f fmtStringer) String() string { return fmt.Sprintf("stacktrace (depth %d)", f.depth) }

// GetLinearMemoryRegion returns a view of linear memory starting at offset
// with the given size; it fails if the range extends past the declared
// linear-memory size. This is a host-side sanity check, not a trap:
// compiled code raises trap.LinMemOutOfBoundsAccess itself when a Wasm
// memory access goes out of bounds, but a host caller asking for memory
// beyond the declared size just gets a plain error back.
func (in *Instance) GetLinearMemoryRegion(offset, size uint32) ([]byte, error) {
	if uint32(in.mem.DeclaredPages())*wasm.MemoryPageSize < offset+size {
		return nil, fmt.Errorf("get_linear_memory_region: [%d, %d) is outside the %d declared page(s)", offset, offset+size, in.mem.DeclaredPages())
	}
	base := in.mem.LinearMemoryBase()
	return in.mem.Base()[base+uint64(offset) : base+uint64(offset)+uint64(size)], nil
}
