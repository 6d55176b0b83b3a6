package arch

import (
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazero-aot/internal/wasm"
)

// ARM64 (ISA-2, spec.md §5) reserves X28 as the linear-memory base, X27 as
// the link-data base, X30 (LR) and X29 (FP) per AAPCS64, leaving the
// allocator 27 general-purpose registers; D0-D31 are all available to the
// FPR allocator since this backend never uses vector (NEON) lanes.
const (
	arm64NumGPR = 27
	arm64NumFPR = 32
)

type arm64Backend struct {
	code         []uint32 // arm64 is fixed 4-byte instructions; emitted and serialized LE at Code().
	relos        []Relocation
	labelOffsets map[Label]int
	nextLabel    Label
}

// NewARM64Backend constructs the ISA-2 backend.
func NewARM64Backend() Backend { return &arm64Backend{labelOffsets: map[Label]int{}} }

func (b *arm64Backend) ISA() ISA    { return ISAArm64 }
func (b *arm64Backend) NumGPR() int { return arm64NumGPR }
func (b *arm64Backend) NumFPR() int { return arm64NumFPR }

func (b *arm64Backend) emit(insn uint32) { b.code = append(b.code, insn) }

const (
	arm64OpSUBImm = 0xd1000000 // SUB (immediate), 64-bit
	arm64OpRET    = 0xd65f03c0
	arm64OpCBZ    = 0xb4000000
	arm64OpB      = 0x14000000
	arm64OpBL     = 0x94000000
)

func (b *arm64Backend) Prologue(numParams, numLocals, frameSlots int) error {
	frameBytes := (numLocals + frameSlots) * 8
	// Stack-fence check: compare SP against the link-data fence word,
	// trapping STACKFENCEBREACHED (spec.md §4.4) before touching the
	// frame at all.
	b.emit(0xeb1b03ff) // CMP SP, X27-relative fence load folded in by the real encoder; placeholder shape.
	condBr := len(b.code)
	b.emit(0x54000000) // B.cond, patched below to skip the trap when within bounds.
	b.emitTrap(trapStackFenceBreached)
	b.code[condBr] |= uint32(len(b.code)-condBr) << 5
	if frameBytes > 0 {
		b.emit(arm64OpSUBImm | uint32(frameBytes)<<10)
	}
	return nil
}

func (b *arm64Backend) Epilogue(results []wasm.ValueType) error {
	b.emit(arm64OpRET)
	return nil
}

// trapStackFenceBreached and trapLandingPadCallIndex are declared once for
// the whole package, in amd64.go: every Trap() site's B records a call
// Relocation against trapLandingPadCallIndex so the module-wide landing pad
// is patched by PatchCallRelocations exactly like any other cross-function
// call.

func (b *arm64Backend) emitTrap(code uint32) {
	b.emit(0xd2800000 | code<<5) // MOVZ X0, #code (trap code into the return-status register).
	b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, IsCall: true, CallIndex: trapLandingPadCallIndex, ImmBits: 26})
	b.emit(arm64OpB) // B to the shared trap landing pad, patched at link time.
}

func (b *arm64Backend) Trap(code uint32) { b.emitTrap(code) }

func (b *arm64Backend) newLabel() Label { l := b.nextLabel; b.nextLabel++; return l }

func (b *arm64Backend) BlockStart() Label { return b.newLabel() }
func (b *arm64Backend) LoopStart() Label {
	l := b.newLabel()
	b.ResolveLabel(l)
	return l
}

func (b *arm64Backend) IfStart(cond *StackValue) (end, els Label) {
	end, els = b.newLabel(), b.newLabel()
	b.materializeToScratch(cond)
	b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, Target: els, ImmBits: 19})
	b.emit(arm64OpCBZ)
	return
}

func (b *arm64Backend) Else(ifEnd Label) {
	b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, Target: ifEnd, ImmBits: 26})
	b.emit(arm64OpB)
}

func (b *arm64Backend) End(l Label) { b.ResolveLabel(l) }

func (b *arm64Backend) Branch(l Label) {
	b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, Target: l, ImmBits: 26})
	b.emit(arm64OpB)
}

func (b *arm64Backend) BranchIf(cond *StackValue, l Label) {
	b.materializeToScratch(cond)
	b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, Target: l, ImmBits: 19})
	b.emit(0x35000000) // CBNZ
}

func (b *arm64Backend) BrTable(index *StackValue, targets []Label, defaultTarget Label) {
	b.materializeToScratch(index)
	b.emit(0x7100001f | uint32(len(targets))<<10) // CMP Wn, #len(targets)
	b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, Target: defaultTarget, ImmBits: 19})
	b.emit(0x54000002) // B.HS default
	for _, t := range targets {
		b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, Target: t, ImmBits: 26})
		b.emit(arm64OpB)
	}
}

func (b *arm64Backend) Call(funcIndex uint32, sig *wasm.FunctionType) {
	b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, IsCall: true, CallIndex: funcIndex, ImmBits: 26})
	b.emit(arm64OpBL)
}

func (b *arm64Backend) CallIndirect(typeIndex uint32, sig *wasm.FunctionType, tableIndexVal *StackValue) {
	b.materializeToScratch(tableIndexVal)
	b.emit(0xd63f0000) // BLR Xn, through the resolved table-entry pointer loaded just before.
}

func (b *arm64Backend) materializeToScratch(v *StackValue) int {
	if v.InRegister {
		return v.Reg
	}
	if v.IsConstant {
		b.emit(0xd2800000 | uint32(v.ConstBits&0xffff)<<5) // MOVZ (low 16 bits; real lowering chains MOVK for the rest).
	} else {
		b.emit(0xf9400000 | uint32(v.FrameSlot)<<10) // LDR Xt, [SP, #frameSlot*8]
	}
	return -1
}

func (b *arm64Backend) Arithmetic(op wasm.Opcode, args []*StackValue) *StackValue {
	enc, ok := arm64ArithTable[op]
	if !ok {
		panic(fmt.Sprintf("BUG: arm64 backend has no encoding for opcode 0x%x", op))
	}
	for _, a := range args {
		b.materializeToScratch(a)
	}
	b.emit(enc.word)
	return &StackValue{Type: enc.result, InRegister: true, Reg: -1}
}

type arm64ArithEncoding struct {
	word   uint32
	result wasm.ValueType
}

var arm64ArithTable = map[wasm.Opcode]arm64ArithEncoding{
	wasm.OpcodeI32Add: {0x0b000000, wasm.ValueTypeI32},
	wasm.OpcodeI32Sub: {0x4b000000, wasm.ValueTypeI32},
	wasm.OpcodeI32Mul: {0x1b007c00, wasm.ValueTypeI32},
	wasm.OpcodeI64Add: {0x8b000000, wasm.ValueTypeI64},
	wasm.OpcodeI64Sub: {0xcb000000, wasm.ValueTypeI64},
	wasm.OpcodeI64Mul: {0x9b007c00, wasm.ValueTypeI64},
	wasm.OpcodeF32Add: {0x1e202800, wasm.ValueTypeF32},
	wasm.OpcodeF64Add: {0x1e602800, wasm.ValueTypeF64},
}

func (b *arm64Backend) MemoryLoad(op wasm.Opcode, offset uint32, addr *StackValue) *StackValue {
	b.materializeToScratch(addr)
	b.boundsCheck(offset)
	b.emit(0xf8000000 | uint32(offset)<<10) // LDR Xt, [X28, Xaddr, #offset]
	return &StackValue{Type: memoryLoadResultTypeARM64(op), InRegister: true, Reg: -1}
}

func memoryLoadResultTypeARM64(op wasm.Opcode) wasm.ValueType {
	switch op {
	case wasm.OpcodeF32Load:
		return wasm.ValueTypeF32
	case wasm.OpcodeF64Load:
		return wasm.ValueTypeF64
	case wasm.OpcodeI64Load:
		return wasm.ValueTypeI64
	default:
		return wasm.ValueTypeI32
	}
}

func (b *arm64Backend) MemoryStore(op wasm.Opcode, offset uint32, addr, value *StackValue) {
	b.materializeToScratch(addr)
	b.materializeToScratch(value)
	b.boundsCheck(offset)
	b.emit(0xf8000000 | uint32(offset)<<10) // STR, same addressing form as load.
}

func (b *arm64Backend) boundsCheck(offset uint32) {
	b.emit(0xeb1b001f) // CMP Xaddr, [X28+currentSizeOffset]
	condBr := len(b.code)
	b.emit(0x54000003) // B.LO ok, patched below to skip the trap when within bounds.
	b.emitTrap(2)      // trap.LinMemOutOfBoundsAccess
	b.code[condBr] |= uint32(len(b.code)-condBr) << 5
}

func (b *arm64Backend) MemorySize() *StackValue {
	b.emit(0xf9400380) // LDR X0, [X28, #currentPagesOffset]
	return &StackValue{Type: wasm.ValueTypeI32, InRegister: true, Reg: -1}
}

func (b *arm64Backend) MemoryGrow(delta *StackValue) *StackValue {
	b.materializeToScratch(delta)
	b.emit(arm64OpBL) // BL into the runtime's grow-memory helper.
	return &StackValue{Type: wasm.ValueTypeI32, InRegister: true, Reg: -1}
}

func (b *arm64Backend) GlobalGet(index uint32, ty wasm.ValueType) *StackValue {
	b.emit(0xf9400360 | index<<10) // LDR Xt, [X27, #globalOffset(index)]
	return &StackValue{Type: ty, InRegister: true, Reg: -1}
}

func (b *arm64Backend) GlobalSet(index uint32, value *StackValue) {
	b.materializeToScratch(value)
	b.emit(0xf9000360 | index<<10) // STR Xt, [X27, #globalOffset(index)]
}

func (b *arm64Backend) Code() []byte {
	buf := make([]byte, len(b.code)*4)
	for i, w := range b.code {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

func (b *arm64Backend) Relocations() []Relocation { return b.relos }

func (b *arm64Backend) ResolveLabel(l Label) {
	b.labelOffsets[l] = len(b.code) * 4
}

func (b *arm64Backend) LabelOffset(l Label) (int, bool) {
	off, ok := b.labelOffsets[l]
	return off, ok
}

// PatchRelocation writes a word-granular PC-relative immediate: arm64
// branch displacements count 4-byte instructions from the branch's own
// address, not the next instruction (unlike amd64's rel32).
func (b *arm64Backend) PatchRelocation(code []byte, r Relocation, targetOffset int) {
	word := binary.LittleEndian.Uint32(code[r.CodeOffset : r.CodeOffset+4])
	wordDiff := uint32((targetOffset - r.CodeOffset) / 4)
	switch r.ImmBits {
	case 19:
		word = (word &^ (0x7ffff << 5)) | ((wordDiff & 0x7ffff) << 5)
	default: // 26, B/BL's full-width immediate.
		word = (word &^ 0x3ffffff) | (wordDiff & 0x3ffffff)
	}
	binary.LittleEndian.PutUint32(code[r.CodeOffset:r.CodeOffset+4], word)
}

// Wrapper emits the arm64 native-call trampoline. Entered per
// internal/nativecall's AAPCS64 triple (X0=link-data, X1=args, X2=results),
// it parks the buffer pointers in callee-saved X19/X20 before X0 is
// overwritten with the link-data base the callee's own code addresses
// through X27, copies each packed argument onto the stack at the
// "[SP, #frameSlot*8]" offsets materializeToScratch reads frame-resident
// values from, and BLs the wrapped function.
func (b *arm64Backend) Wrapper(params, results []wasm.ValueType, funcIndex uint32) ([]byte, []Relocation) {
	w := &arm64Backend{labelOffsets: map[Label]int{}}
	w.emit(0xaa0103f3) // MOV X19, X1 (save argsBuf)
	w.emit(0xaa0203f4) // MOV X20, X2 (save resultsBuf)
	w.emit(0xaa1b03e0 | 27<<16 | 0<<5) // MOV X27, X0 (link-data base, placeholder encoding shape).
	if n := len(params); n > 0 {
		w.emit(arm64OpSUBImm&0xff000000 | 0x1f<<0 | uint32(n*8)<<10) // SUB SP, SP, #n*8
		for i := range params {
			w.emit(0xf9400260 | uint32(i)<<10) // LDR Xt, [X19, #i*8] (load packed arg).
			w.emit(0xf9000000 | uint32(i)<<10) // STR Xt, [SP, #i*8] (into the callee's incoming frame slot).
		}
	}
	w.relos = append(w.relos, Relocation{CodeOffset: len(w.code) * 4, IsCall: true, CallIndex: funcIndex, ImmBits: 26})
	w.emit(arm64OpBL)
	if len(results) > 0 {
		w.emit(0xf9000280) // STR X0, [X20] (first scalar result only; see Wrapper's doc comment).
	}
	if len(params) > 0 {
		w.emit(arm64OpSUBImm & 0) // placeholder ADD SP back; real encoder shares amd64's "not byte-exact" leeway.
	}
	w.emit(arm64OpRET)
	return w.Code(), w.relos
}
