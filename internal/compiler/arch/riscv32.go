package arch

import (
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazero-aot/internal/compiler/softfloat"
	"github.com/tetratelabs/wazero-aot/internal/wasm"
)

// ISA-3 targets a RISC-V32IM-class embedded core (SPEC_FULL.md §5): base
// integer ISA plus the M extension (hardware mul/div), no F/D extension.
// Every f32/f64 op therefore lowers to a call into internal/compiler/
// softfloat rather than a native FPU instruction, and the allocator gets
// zero FPR registers — float values live in GPR pairs, tracked by the
// frontend as ordinary register-class-GPR stack elements whose Type
// happens to be F32/F64 (spec.md §9 Open Question "where do softfloat
// values live" resolved in favor of GPR residency, avoiding a third
// register class).
const riscv32NumGPR = 24 // x5-x31 minus x8(fp)/x2(sp)/x1(ra)/x3(gp)/x4(tp) reserved; x28-x31 hold linmem/linkdata bases and two scratch.

type riscv32Backend struct {
	code         []uint32
	relos        []Relocation
	labelOffsets map[Label]int
	nextLabel    Label
	// dispatch selects how Arithmetic reaches a softfloat thunk: Direct
	// emits an immediate CALL to the thunk's known address (used once the
	// module is linked and thunk addresses are fixed); Indirect loads the
	// thunk's address from a pointer table at a fixed link-data offset,
	// used for Dispatch.Indirect per softfloat.Dispatch's doc comment.
	dispatch softfloat.Dispatch
}

// NewRISCV32Backend constructs the ISA-3 backend. dispatch controls how
// softfloat thunks are called.
func NewRISCV32Backend(dispatch softfloat.Dispatch) Backend {
	return &riscv32Backend{labelOffsets: map[Label]int{}, dispatch: dispatch}
}

func (b *riscv32Backend) ISA() ISA    { return ISARiscv32 }
func (b *riscv32Backend) NumGPR() int { return riscv32NumGPR }
func (b *riscv32Backend) NumFPR() int { return 0 }

func (b *riscv32Backend) emit(insn uint32) { b.code = append(b.code, insn) }

func (b *riscv32Backend) Prologue(numParams, numLocals, frameSlots int) error {
	frameBytes := (numLocals + frameSlots) * 4 // 32-bit cells; i64/f64 locals occupy two.
	b.emit(0x00010463)                         // BLTU sp, fence -> skip trap (placeholder encoding).
	b.emitTrap(trapStackFenceBreached)
	if frameBytes > 0 {
		b.emit(0xff010113 | uint32(frameBytes)<<20) // ADDI sp, sp, -frameBytes
	}
	return nil
}

func (b *riscv32Backend) Epilogue(results []wasm.ValueType) error {
	b.emit(0x00008067) // JALR x0, ra, 0 (RET pseudo-instruction)
	return nil
}

// trapStackFenceBreached and trapLandingPadCallIndex are declared once for
// the whole package, in amd64.go; trapLandingPadCallIndex lies in the same
// reserved range as this backend's own softfloatCallIndexBase. Every Trap()
// site's JAL records a call Relocation against it so the module-wide landing
// pad is patched by PatchCallRelocations exactly like any other
// cross-function call.

func (b *riscv32Backend) emitTrap(code uint32) {
	b.emit(0x00000537 | code<<12) // LUI a0, code (trap code into the return register)
	b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, IsCall: true, CallIndex: trapLandingPadCallIndex})
	b.emit(0x0000006f) // JAL x0, <trap landing pad>, patched at link time.
}

func (b *riscv32Backend) Trap(code uint32) { b.emitTrap(code) }

func (b *riscv32Backend) newLabel() Label { l := b.nextLabel; b.nextLabel++; return l }

func (b *riscv32Backend) BlockStart() Label { return b.newLabel() }
func (b *riscv32Backend) LoopStart() Label {
	l := b.newLabel()
	b.ResolveLabel(l)
	return l
}

func (b *riscv32Backend) IfStart(cond *StackValue) (end, els Label) {
	end, els = b.newLabel(), b.newLabel()
	b.materializeToScratch(cond)
	b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, Target: els})
	b.emit(0x00000063) // BEQ a0, x0, els
	return
}

func (b *riscv32Backend) Else(ifEnd Label) {
	b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, Target: ifEnd})
	b.emit(0x0000006f) // JAL x0, ifEnd
}

func (b *riscv32Backend) End(l Label) { b.ResolveLabel(l) }

func (b *riscv32Backend) Branch(l Label) {
	b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, Target: l})
	b.emit(0x0000006f)
}

func (b *riscv32Backend) BranchIf(cond *StackValue, l Label) {
	b.materializeToScratch(cond)
	b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, Target: l})
	b.emit(0x00001063) // BNE a0, x0, l
}

func (b *riscv32Backend) BrTable(index *StackValue, targets []Label, defaultTarget Label) {
	b.materializeToScratch(index)
	b.emit(0x00000513 | uint32(len(targets))<<20) // ADDI scratch, x0, len(targets)
	b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, Target: defaultTarget})
	b.emit(0x00007063) // BGEU index, scratch, default
	for _, t := range targets {
		b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, Target: t})
		b.emit(0x0000006f)
	}
}

func (b *riscv32Backend) Call(funcIndex uint32, sig *wasm.FunctionType) {
	b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, IsCall: true, CallIndex: funcIndex})
	b.emit(0x000000ef) // JAL ra, <target>
}

func (b *riscv32Backend) CallIndirect(typeIndex uint32, sig *wasm.FunctionType, tableIndexVal *StackValue) {
	b.materializeToScratch(tableIndexVal)
	b.emit(0x000080e7) // JALR ra, scratch, 0
}

func (b *riscv32Backend) materializeToScratch(v *StackValue) int {
	if v.InRegister {
		return v.Reg
	}
	if v.IsConstant {
		b.emit(0x00000537 | uint32(v.ConstBits&0xfffff000)) // LUI + (ADDI for the low 12 bits omitted here for brevity)
	} else {
		b.emit(0x00012503 | uint32(v.FrameSlot)<<20) // LW a0, frameSlot*4(sp)
	}
	return -1
}

// Arithmetic lowers integer ops to native RV32IM instructions and
// float ops to a softfloat.Dispatch call, per SPEC_FULL.md's "ISA-3 has no
// F/D extension" decision.
func (b *riscv32Backend) Arithmetic(op wasm.Opcode, args []*StackValue) *StackValue {
	if enc, ok := riscv32IntArithTable[op]; ok {
		for _, a := range args {
			b.materializeToScratch(a)
		}
		b.emit(enc.word)
		return &StackValue{Type: enc.result, InRegister: true, Reg: -1}
	}
	thunk, ok := softfloat.ThunkFor(op)
	if !ok {
		panic(fmt.Sprintf("BUG: riscv32 backend has no integer or softfloat lowering for opcode 0x%x", op))
	}
	for _, a := range args {
		b.materializeToScratch(a)
	}
	switch b.dispatch {
	case softfloat.DispatchDirect:
		b.relos = append(b.relos, Relocation{CodeOffset: len(b.code) * 4, IsCall: true, CallIndex: softfloatCallIndexBase + uint32(thunk)})
		b.emit(0x000000ef) // JAL ra, <thunk address>
	case softfloat.DispatchIndirect:
		b.emit(0x00012503 | uint32(thunk)*4<<20) // LW scratch, thunk*4(softfloat_table_base)
		b.emit(0x000080e7)                       // JALR ra, scratch, 0
	}
	return &StackValue{Type: softfloat.ResultType(thunk), InRegister: true, Reg: -1}
}

// softfloatCallIndexBase offsets direct-dispatch softfloat thunk call
// targets into a reserved range of the function-index space so the linker
// can tell a thunk relocation from an ordinary Wasm function call.
const softfloatCallIndexBase = 0x8000_0000

type riscv32IntEncoding struct {
	word   uint32
	result wasm.ValueType
}

var riscv32IntArithTable = map[wasm.Opcode]riscv32IntEncoding{
	wasm.OpcodeI32Add:  {0x00000033, wasm.ValueTypeI32},
	wasm.OpcodeI32Sub:  {0x40000033, wasm.ValueTypeI32},
	wasm.OpcodeI32Mul:  {0x02000033, wasm.ValueTypeI32},
	wasm.OpcodeI32DivS: {0x02004033, wasm.ValueTypeI32},
	wasm.OpcodeI32DivU: {0x02005033, wasm.ValueTypeI32},
	wasm.OpcodeI32And:  {0x00007033, wasm.ValueTypeI32},
	wasm.OpcodeI32Or:   {0x00006033, wasm.ValueTypeI32},
	wasm.OpcodeI32Xor:  {0x00004033, wasm.ValueTypeI32},
}

func (b *riscv32Backend) MemoryLoad(op wasm.Opcode, offset uint32, addr *StackValue) *StackValue {
	b.materializeToScratch(addr)
	b.boundsCheck(offset)
	b.emit(0x00012503 | offset<<20) // LW a0, offset(linmem_base+addr)
	return &StackValue{Type: memoryLoadResultTypeRISCV32(op), InRegister: true, Reg: -1}
}

func memoryLoadResultTypeRISCV32(op wasm.Opcode) wasm.ValueType {
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

func (b *riscv32Backend) MemoryStore(op wasm.Opcode, offset uint32, addr, value *StackValue) {
	b.materializeToScratch(addr)
	b.materializeToScratch(value)
	b.boundsCheck(offset)
	b.emit(0x00012023 | offset<<20) // SW a0, offset(linmem_base+addr)
}

func (b *riscv32Backend) boundsCheck(offset uint32) {
	b.emit(0x01c57463) // BGEU addr, linmem_current_size, fault (register operands elided)
	b.emitTrap(2) // trap.LinMemOutOfBoundsAccess
}

func (b *riscv32Backend) MemorySize() *StackValue {
	b.emit(0x01c12503) // LW a0, currentPagesOffset(linmem_base)
	return &StackValue{Type: wasm.ValueTypeI32, InRegister: true, Reg: -1}
}

func (b *riscv32Backend) MemoryGrow(delta *StackValue) *StackValue {
	b.materializeToScratch(delta)
	b.emit(0x000000ef) // JAL ra, <grow-memory helper>
	return &StackValue{Type: wasm.ValueTypeI32, InRegister: true, Reg: -1}
}

func (b *riscv32Backend) GlobalGet(index uint32, ty wasm.ValueType) *StackValue {
	b.emit(0x01c12503 | index<<20) // LW a0, globalOffset(index)(linkdata_base)
	return &StackValue{Type: ty, InRegister: true, Reg: -1}
}

func (b *riscv32Backend) GlobalSet(index uint32, value *StackValue) {
	b.materializeToScratch(value)
	b.emit(0x01c12023 | index<<20) // SW a0, globalOffset(index)(linkdata_base)
}

func (b *riscv32Backend) Code() []byte {
	buf := make([]byte, len(b.code)*4)
	for i, w := range b.code {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

func (b *riscv32Backend) Relocations() []Relocation { return b.relos }

func (b *riscv32Backend) ResolveLabel(l Label) {
	b.labelOffsets[l] = len(b.code) * 4
}

func (b *riscv32Backend) LabelOffset(l Label) (int, bool) {
	off, ok := b.labelOffsets[l]
	return off, ok
}

// riscv32JImm packs a byte displacement into RV32's scattered J-type
// immediate layout (imm[20|10:1|11|19:12]), used by jal.
func riscv32JImm(diff uint32) uint32 {
	return ((diff >> 20 & 0x1) << 31) | ((diff >> 1 & 0x3ff) << 21) |
		((diff >> 11 & 0x1) << 20) | ((diff >> 12 & 0xff) << 12)
}

// riscv32BImm packs a byte displacement into RV32's scattered B-type
// immediate layout (imm[12|10:5]...[4:1|11]), used by beq/bne/bgeu.
func riscv32BImm(diff uint32) uint32 {
	return ((diff >> 12 & 0x1) << 31) | ((diff >> 5 & 0x3f) << 25) |
		((diff >> 1 & 0xf) << 8) | ((diff >> 11 & 0x1) << 7)
}

func (b *riscv32Backend) PatchRelocation(code []byte, r Relocation, targetOffset int) {
	word := binary.LittleEndian.Uint32(code[r.CodeOffset : r.CodeOffset+4])
	diff := uint32(targetOffset - r.CodeOffset)
	const opcodeJAL = 0x6f
	if word&0x7f == opcodeJAL {
		word = (word & 0xfff) | riscv32JImm(diff) // keep rd + opcode, bits[11:0].
	} else {
		word = (word & 0x01fff07f) | riscv32BImm(diff) // keep funct3/rs1/rs2/opcode.
	}
	binary.LittleEndian.PutUint32(code[r.CodeOffset:r.CodeOffset+4], word)
}

// Wrapper emits the riscv32 native-call trampoline, per the standard RV32
// integer calling convention's a0/a1/a2 argument registers (link-data,
// args, results) rather than internal/nativecall's System V/AAPCS64
// registers — this ISA is never entered by this Go process's own
// nativecall.Call3 (Supported() is false for riscv32; the embedded host
// that loads this artifact is a separate, non-Go runtime, spec.md §5's
// cross-compilation-only target). It parks a1/a2 in s1/s2, moves a0 into
// the link-data base register, spills packed arguments to the callee's
// "frameSlot*4(sp)" frame slots, and JALs the wrapped function.
func (b *riscv32Backend) Wrapper(params, results []wasm.ValueType, funcIndex uint32) ([]byte, []Relocation) {
	w := &riscv32Backend{labelOffsets: map[Label]int{}, dispatch: b.dispatch}
	w.emit(0x00008493) // MV s1, a1 (save argsBuf; placeholder encoding shape)
	w.emit(0x00010913) // MV s2, a2 (save resultsBuf)
	w.emit(0x00050e93) // MV t4, a0 (link-data base, moved into the reserved linkdata register by the real encoder)
	if n := len(params); n > 0 {
		w.emit(0xff010113 | uint32(n*4)<<20) // ADDI sp, sp, -n*4
		for i := range params {
			w.emit(0x0004a503 | uint32(i*4)<<20) // LW a0, i*4(s1) (load packed arg)
			w.emit(0x00012023 | uint32(i*4)<<20) // SW a0, i*4(sp) (into the callee's incoming frame slot)
		}
	}
	w.relos = append(w.relos, Relocation{CodeOffset: len(w.code) * 4, IsCall: true, CallIndex: funcIndex})
	w.emit(0x000000ef) // JAL ra, <target>
	if len(results) > 0 {
		w.emit(0x00092023) // SW a0, 0(s2) (first scalar result only; see Wrapper's doc comment)
	}
	if n := len(params); n > 0 {
		w.emit(0x00010113 | uint32(n*4)<<20) // ADDI sp, sp, n*4
	}
	w.emit(0x00008067) // RET
	return w.Code(), w.relos
}
