// Package arch defines the Backend contract that the frontend (internal/
// compiler) drives one Wasm instruction at a time (spec.md §4.4 "Backend"),
// and provides the amd64 (ISA-1), arm64 (ISA-2) and riscv32 (ISA-3)
// implementations. Modeled directly on the teacher's per-ISA `compiler`
// interface (internal/engine/compiler/compiler.go), generalized from
// wazeroir's pre-lowered IR operations to raw decoded Wasm opcodes plus a
// *compiler.CompileStack, since this compiler has no separate IR pass
// (spec.md §2: "single pass, no intermediate representation").
package arch

import "github.com/tetratelabs/wazero-aot/internal/wasm"

// ISA identifies one of the spec's three supported targets (spec.md §5).
type ISA byte

const (
	ISAAmd64 ISA = iota + 1
	ISAArm64
	ISARiscv32
)

func (i ISA) String() string {
	switch i {
	case ISAAmd64:
		return "amd64"
	case ISAArm64:
		return "arm64"
	case ISARiscv32:
		return "riscv32"
	default:
		return "unknown"
	}
}

// Label identifies a not-yet-resolved branch target; the backend returns an
// opaque Label from BlockStart/LoopStart/IfStart and resolves every branch
// to one once End (or ResolveLabel) marks the landing code, mirroring the teacher's
// label-then-patch relocation model (internal/asm's NodeCompiler) rather
// than a second scanning pass.
type Label uint32

// Relocation is one not-yet-patched branch-or-call site recorded during
// emission; Backend.Relocations returns the accumulated set so the frontend
// (or, for calls, the linker at load time) can patch displacement or
// absolute-address fields once the final code layout is known (spec.md
// §4.4 "Relocations").
type Relocation struct {
	// CodeOffset is the byte offset, within this function's emitted code,
	// of the field to patch.
	CodeOffset int
	// Target is the Label a branch relocation must point at; a call
	// relocation (IsCall) carries its function index in CallIndex instead.
	Target    Label
	IsCall    bool
	CallIndex uint32
	// ImmBits is the width, in bits, of the immediate field this site
	// encodes, for backends whose branch forms don't all share one width
	// (arm64's 26-bit B/BL versus 19-bit CBZ/CBNZ/B.cond). Zero means "the
	// backend's single default width" (amd64's rel32, riscv32's jal word
	// offset).
	ImmBits byte
}

// Backend is driven one decoded Wasm construct at a time by the frontend;
// every method appends native bytes to the backend's own internal output
// buffer (spec.md §4.5 "growable output buffer"), retrievable via Code.
type Backend interface {
	ISA() ISA

	// NumGPR/NumFPR report the register file sizes the allocator should be
	// constructed with, after the backend's own reserved registers
	// (frame/link/zero/scratch) are excluded.
	NumGPR() int
	NumFPR() int

	// Prologue emits the function entry sequence: stack-fence check
	// (spec.md trap STACKFENCEBREACHED), frame allocation sized to
	// numLocals+frameSlots, parameter-register-to-local spill.
	Prologue(numParams, numLocals, frameSlots int) error
	// Epilogue emits the matching return sequence for every `return` and
	// for falling off the end of the function body.
	Epilogue(results []wasm.ValueType) error

	// BlockStart/LoopStart/IfStart emit entry code for the three
	// structured control constructs and return a Label identifying the
	// construct's `end` (and, for If, a second Label for its `else`).
	BlockStart() Label
	LoopStart() Label
	IfStart(cond *StackValue) (end, els Label)
	Else(ifEnd Label)
	End(l Label)

	// Branch emits an unconditional jump to l; BranchIf emits a
	// conditional jump taken when cond is nonzero.
	Branch(l Label)
	BranchIf(cond *StackValue, l Label)
	// BrTable emits a jump-table dispatch over targets, falling to
	// defaultTarget when index is out of range (spec.md §4.2 br_table).
	BrTable(index *StackValue, targets []Label, defaultTarget Label)

	// Call emits a direct call to a known function index; CallIndirect
	// emits a table lookup, signature check (trap
	// INDIRECTCALL_WRONGSIG/INDIRECTCALL_OUTOFBOUNDS) and call.
	Call(funcIndex uint32, sig *wasm.FunctionType)
	CallIndirect(typeIndex uint32, sig *wasm.FunctionType, tableIndexVal *StackValue)

	// Arithmetic emits the native sequence for one validated arithmetic/
	// comparison/conversion opcode (spec.md §4.2's arithmetic table),
	// consuming its operands from the stack and producing a result
	// element.
	Arithmetic(op wasm.Opcode, args []*StackValue) *StackValue

	// MemoryLoad/MemoryStore emit linear-memory access for the given
	// opcode (e.g. i32.load, i64.store16) and static offset immediate,
	// preceded by an active-mode bounds check (spec.md §4.7, trap
	// LINMEM_OUTOFBOUNDSACCESS); every backend emits that check whatever
	// memory-protection mode was configured.
	MemoryLoad(op wasm.Opcode, offset uint32, addr *StackValue) *StackValue
	MemoryStore(op wasm.Opcode, offset uint32, addr, value *StackValue)
	MemorySize() *StackValue
	MemoryGrow(delta *StackValue) *StackValue

	GlobalGet(index uint32, ty wasm.ValueType) *StackValue
	GlobalSet(index uint32, value *StackValue)

	// Trap emits a jump to the generic trap landing pad with the given
	// code loaded into the backend's trap-code-carrying register/slot
	// (spec.md §7).
	Trap(code uint32)

	// Code returns the function's emitted native bytes so far; called
	// once per function, after Epilogue.
	Code() []byte
	// Relocations returns every not-yet-patched site recorded during
	// emission of this function.
	Relocations() []Relocation
	// ResolveLabel records that Label l's target is the current end of
	// Code(), letting the frontend patch every Relocation referencing l in
	// a single pass once the function is fully emitted.
	ResolveLabel(l Label)
	// LabelOffset looks up a Label previously passed to ResolveLabel; ok is
	// false for a Label that was never resolved (a compiler bug, since
	// every Label this backend hands out is resolved by LoopStart, End or
	// ResolveLabel before Code() is called).
	LabelOffset(l Label) (offset int, ok bool)
	// PatchRelocation overwrites the displacement or address field at r's
	// CodeOffset in code so that it reaches targetOffset, the byte offset
	// (within the same function, for a branch; within the module's
	// concatenated function-body region, for a call) the relocation must
	// resolve to. Each backend knows its own encoding width and whether
	// the field is relative or absolute, so this lives per-ISA rather than
	// as one shared field-width assumption.
	PatchRelocation(code []byte, r Relocation, targetOffset int)

	// Wrapper emits a native-call trampoline for a function of the given
	// signature, entered by internal/nativecall.Call3's (link-data, args,
	// results) register triple, with arguments moved from the packed args
	// buffer into whatever this backend's Prologue expects them in, and
	// (single-result only, for now; spec.md §6.1's ABIV2 multi-result
	// packing is future work once Epilogue grows real result marshalling)
	// the returned scalar stored back into the packed results buffer before
	// returning to the native caller. funcIndex is the wrapped function's
	// index, recorded as a call Relocation exactly like Call(funcIndex, sig)
	// so the linker patches the trampoline's CALL the same pass it patches
	// every other cross-function call site (internal/compiler.
	// PatchCallRelocations, given the wrapper's own placement as
	// funcBodyBase). The returned bytes become binaryformat.
	// ExportedFunction.Wrapper / StartFunction.Wrapper verbatim.
	Wrapper(params, results []wasm.ValueType, funcIndex uint32) (code []byte, relocs []Relocation)
}

// StackValue is the Backend-facing view of a compiler.stackElement: enough
// information (type, and, if register-resident, which physical register)
// for a Backend method to emit the right addressing mode without reaching
// back into package compiler (which imports arch, so arch cannot import
// compiler back).
type StackValue struct {
	Type ValueKind
	// InRegister is true if this operand already lives in a physical
	// register (Reg is then valid); otherwise it is a compile-time
	// constant (ConstBits valid) or a frame-resident local/slot (FrameSlot
	// valid).
	InRegister bool
	Reg        int
	IsConstant bool
	ConstBits  uint64
	FrameSlot  int // local index or temp-slot index, meaning owned by the caller.
}

// ValueKind mirrors wasm.ValueType but is declared locally so this package
// has no import-cycle-prone dependency beyond wasm itself.
type ValueKind = wasm.ValueType
