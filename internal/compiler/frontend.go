package compiler

import (
	"fmt"

	"github.com/tetratelabs/wazero-aot/internal/compiler/arch"
	"github.com/tetratelabs/wazero-aot/internal/leb128"
	"github.com/tetratelabs/wazero-aot/internal/wasm"
)

// CompiledFunction is one function's output from the frontend: native code
// plus the relocations the linker must patch once every function's final
// layout is known (spec.md §4.5, §6.1).
type CompiledFunction struct {
	Code        []byte
	Relocations []arch.Relocation
}

// controlFrame pairs a validator block with the Backend Label(s) that
// implement its branch targets and the Compile Stack height at its entry,
// so `end`/`else` can truncate the Compile Stack back to the frame's
// declared shape the same way the Validator truncates its value-token
// stack (spec.md §4.3: "the Compile Stack and Validation Stack are kept in
// lock-step").
type controlFrame struct {
	kind         wasm.BlockKind
	endLabel     Label
	elseLabel    Label
	stackBaseHeight int
}

// Label re-exports arch.Label so callers of this package don't need a
// second import for the type threaded through controlFrame.
type Label = arch.Label

// CompileFunction drives validator, CompileStack and backend together over
// one function body in a single pass (spec.md §2, §4.2-§4.5): decode an
// instruction, validate its types, mirror the operation onto the Compile
// Stack, and ask the backend to emit native code for it, all without
// building an intermediate representation.
func CompileFunction(m *wasm.Module, fn *wasm.Function, backend arch.Backend) (*CompiledFunction, error) {
	sig := m.Types[fn.TypeIndex]
	v := wasm.NewValidator(m, sig)
	numGPR, numFPR := backend.NumGPR(), backend.NumFPR()
	alloc := NewRegisterAllocator(numGPR, numFPR)
	stack := NewCompileStack(alloc)

	numLocals := len(fn.LocalTypes)
	if err := backend.Prologue(len(sig.Params), len(sig.Params)+numLocals, 0); err != nil {
		return nil, err
	}

	for _, p := range sig.Params {
		v.Push(p)
	}

	r := leb128.NewReader(fn.Body)
	frames := []*controlFrame{{kind: wasm.BlockKindFunc, endLabel: backend.BlockStart(), stackBaseHeight: 0}}

	for len(frames) > 0 {
		opByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("compiler: reading opcode at function offset %d: %w", fn.BodyOffset+r.Position(), err)
		}
		op := wasm.Opcode(opByte)

		switch op {
		case wasm.OpcodeEnd:
			top := frames[len(frames)-1]
			if _, err := v.PopToEnd(); err != nil {
				return nil, err
			}
			if top.kind == wasm.BlockKindIf && top.elseLabel != top.endLabel {
				backend.ResolveLabel(top.elseLabel) // an if with no else: a false condition lands here.
			}
			if top.kind != wasm.BlockKindLoop {
				backend.End(top.endLabel) // a loop's label stays at its head, where LoopStart resolved it.
			}
			stack.Truncate(top.stackBaseHeight)
			frames = frames[:len(frames)-1]
			if len(frames) == 0 {
				if err := backend.Epilogue(sig.Results); err != nil {
					return nil, err
				}
			}

		case wasm.OpcodeUnreachable:
			v.MarkUnreachable()
			backend.Trap(uint32(trapUnreachable))

		case wasm.OpcodeNop:
			// No Compile Stack or Backend effect.

		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			bt, err := decodeBlockType(r, m)
			if err != nil {
				return nil, err
			}
			params, results := blockSignature(m, bt)
			kind := blockOpcodeKind(op)
			if err := v.PushBlock(kind, params, results); err != nil {
				return nil, err
			}
			frame := &controlFrame{kind: kind, stackBaseHeight: stack.Height() - len(params)}
			switch op {
			case wasm.OpcodeBlock:
				frame.endLabel = backend.BlockStart()
			case wasm.OpcodeLoop:
				frame.endLabel = backend.LoopStart()
			case wasm.OpcodeIf:
				cond := stack.Pop()
				frame.endLabel, frame.elseLabel = backend.IfStart(toArchValue(cond))
			}
			frames = append(frames, frame)

		case wasm.OpcodeElse:
			top := frames[len(frames)-1]
			if err := v.SetElse(); err != nil {
				return nil, err
			}
			backend.Else(top.endLabel)
			backend.ResolveLabel(top.elseLabel)
			top.elseLabel = top.endLabel // already resolved; the matching end must not move it.
			stack.Truncate(top.stackBaseHeight)

		case wasm.OpcodeBr, wasm.OpcodeBrIf:
			depth, err := r.ReadLEU32()
			if err != nil {
				return nil, err
			}
			unconditional := op == wasm.OpcodeBr
			var cond *stackElement
			if !unconditional {
				cond = stack.Pop()
			}
			if err := v.ValidateBranch(depth, unconditional); err != nil {
				return nil, err
			}
			target := frames[len(frames)-1-int(depth)].endLabel
			if unconditional {
				backend.Branch(target)
			} else {
				backend.BranchIf(toArchValue(cond), target)
			}

		case wasm.OpcodeBrTable:
			count, err := r.ReadLEU32()
			if err != nil {
				return nil, err
			}
			targets := make([]uint32, count)
			for i := range targets {
				if targets[i], err = r.ReadLEU32(); err != nil {
					return nil, err
				}
			}
			defaultTarget, err := r.ReadLEU32()
			if err != nil {
				return nil, err
			}
			if err := v.ValidateBrTable(targets, defaultTarget); err != nil {
				return nil, err
			}
			idx := stack.Pop()
			labels := make([]Label, len(targets))
			for i, d := range targets {
				labels[i] = frames[len(frames)-1-int(d)].endLabel
			}
			backend.BrTable(toArchValue(idx), labels, frames[len(frames)-1-int(defaultTarget)].endLabel)

		case wasm.OpcodeReturn:
			if err := v.ValidateReturn(); err != nil {
				return nil, err
			}
			if err := backend.Epilogue(sig.Results); err != nil {
				return nil, err
			}

		case wasm.OpcodeCall:
			idx, err := r.ReadLEU32()
			if err != nil {
				return nil, err
			}
			callee := m.FunctionTypeOf(idx)
			args := popArgs(stack, len(callee.Params))
			for _, a := range callee.Params {
				if err := v.PopExpect(a); err != nil {
					return nil, err
				}
			}
			archArgs := make([]*arch.StackValue, len(args))
			for i, a := range args {
				archArgs[i] = toArchValue(a)
			}
			backend.Call(idx, callee)
			for _, res := range callee.Results {
				v.Push(res)
				stack.PushRegister(res)
			}

		case wasm.OpcodeCallIndirect:
			typeIdx, err := r.ReadLEU32()
			if err != nil {
				return nil, err
			}
			if _, err := r.ReadByte(); err != nil { // table index, always 0 in Wasm 1.0.
				return nil, err
			}
			callee := m.Types[typeIdx]
			tableIdxVal := stack.Pop()
			if err := v.PopExpect(wasm.ValueTypeI32); err != nil {
				return nil, err
			}
			for i := len(callee.Params) - 1; i >= 0; i-- {
				if err := v.PopExpect(callee.Params[i]); err != nil {
					return nil, err
				}
				stack.Pop()
			}
			backend.CallIndirect(typeIdx, callee, toArchValue(tableIdxVal))
			for _, res := range callee.Results {
				v.Push(res)
				stack.PushRegister(res)
			}

		case wasm.OpcodeDrop:
			if _, err := v.Pop(); err != nil {
				return nil, err
			}
			stack.Pop()

		case wasm.OpcodeSelect:
			ty, err := v.ValidateSelect()
			if err != nil {
				return nil, err
			}
			c := stack.Pop()
			b2 := stack.Pop()
			a2 := stack.Pop()
			_ = a2
			_ = b2
			_ = c
			stack.PushRegister(ty)

		case wasm.OpcodeLocalGet:
			idx, err := r.ReadLEU32()
			if err != nil {
				return nil, err
			}
			ty := localType(sig, fn, idx)
			v.Push(ty)
			stack.PushLocal(ty, idx)

		case wasm.OpcodeLocalSet, wasm.OpcodeLocalTee:
			idx, err := r.ReadLEU32()
			if err != nil {
				return nil, err
			}
			ty := localType(sig, fn, idx)
			if op == wasm.OpcodeLocalSet {
				if err := v.PopExpect(ty); err != nil {
					return nil, err
				}
				stack.Pop()
			} else {
				if err := v.PopExpect(ty); err != nil {
					return nil, err
				}
				v.Push(ty)
			}

		case wasm.OpcodeGlobalGet:
			idx, err := r.ReadLEU32()
			if err != nil {
				return nil, err
			}
			gt := globalType(m, idx)
			v.Push(gt.ValType)
			stack.Push(&stackElement{Kind: ElementRegister, Type: gt.ValType})
			_ = backend.GlobalGet(idx, gt.ValType)

		case wasm.OpcodeGlobalSet:
			idx, err := r.ReadLEU32()
			if err != nil {
				return nil, err
			}
			gt := globalType(m, idx)
			if err := v.PopExpect(gt.ValType); err != nil {
				return nil, err
			}
			val := stack.Pop()
			backend.GlobalSet(idx, toArchValue(val))

		case wasm.OpcodeI32Const:
			n, err := r.ReadLES32()
			if err != nil {
				return nil, err
			}
			v.Push(wasm.ValueTypeI32)
			stack.PushConstant(wasm.ValueTypeI32, uint64(uint32(n)))

		case wasm.OpcodeI64Const:
			n, err := r.ReadLES64()
			if err != nil {
				return nil, err
			}
			v.Push(wasm.ValueTypeI64)
			stack.PushConstant(wasm.ValueTypeI64, uint64(n))

		case wasm.OpcodeF32Const:
			bits, err := r.ReadLEU32Fixed()
			if err != nil {
				return nil, err
			}
			v.Push(wasm.ValueTypeF32)
			stack.PushConstant(wasm.ValueTypeF32, uint64(bits))

		case wasm.OpcodeF64Const:
			bits, err := r.ReadFloat64()
			if err != nil {
				return nil, err
			}
			v.Push(wasm.ValueTypeF64)
			stack.PushConstant(wasm.ValueTypeF64, bits)

		case wasm.OpcodeMemorySize:
			if _, err := r.ReadByte(); err != nil { // reserved memory index byte.
				return nil, err
			}
			v.Push(wasm.ValueTypeI32)
			stack.PushRegister(wasm.ValueTypeI32)
			_ = backend.MemorySize()

		case wasm.OpcodeMemoryGrow:
			if _, err := r.ReadByte(); err != nil {
				return nil, err
			}
			if err := v.PopExpect(wasm.ValueTypeI32); err != nil {
				return nil, err
			}
			delta := stack.Pop()
			v.Push(wasm.ValueTypeI32)
			res := stack.PushRegister(wasm.ValueTypeI32)
			_ = res
			backend.MemoryGrow(toArchValue(delta))

		default:
			if isMemoryOpcode(op) {
				if err := compileMemoryOp(r, v, stack, backend, op); err != nil {
					return nil, err
				}
				continue
			}
			if err := v.ValidateArithmetic(op); err != nil {
				return nil, fmt.Errorf("%w: opcode 0x%x: %v", ErrUnsupportedOpcode, op, err)
			}
			argc := arithmeticArgCount(op)
			args := popArgs(stack, argc)
			archArgs := make([]*arch.StackValue, len(args))
			for i, a := range args {
				archArgs[i] = toArchValue(a)
			}
			res := backend.Arithmetic(op, archArgs)
			stack.Push(&stackElement{Kind: ElementRegister, Type: res.Type})
		}
	}

	if alloc.FrameSlotCount() > maxFrameSlots {
		return nil, ErrTooManyLocals
	}

	return &CompiledFunction{Code: backend.Code(), Relocations: backend.Relocations()}, nil
}

const trapUnreachable = 0

func toArchValue(e *stackElement) *arch.StackValue {
	v := &arch.StackValue{Type: e.Type}
	switch e.Kind {
	case ElementConstant:
		v.IsConstant = true
		v.ConstBits = e.ConstBits
	case ElementLocal:
		v.FrameSlot = int(e.LocalIndex)
	case ElementTempSlot:
		v.FrameSlot = e.SlotIndex
	case ElementRegister:
		v.InRegister = true
		v.Reg = e.Reg
	case ElementDummy:
		// Formally-unreachable polymorphic operand: any encoding is fine
		// since the surrounding code is dead; treat as a zero constant.
		v.IsConstant = true
	}
	return v
}

func popArgs(stack *CompileStack, n int) []*stackElement {
	args := make([]*stackElement, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = stack.Pop()
	}
	return args
}

func arithmeticArgCount(op wasm.Opcode) int {
	switch op {
	case wasm.OpcodeI32Eqz, wasm.OpcodeI64Eqz, wasm.OpcodeI32Clz, wasm.OpcodeI32Ctz, wasm.OpcodeI32Popcnt,
		wasm.OpcodeI64Clz, wasm.OpcodeI64Ctz, wasm.OpcodeI64Popcnt,
		wasm.OpcodeF32Abs, wasm.OpcodeF32Neg, wasm.OpcodeF32Ceil, wasm.OpcodeF32Floor, wasm.OpcodeF32Trunc,
		wasm.OpcodeF32Nearest, wasm.OpcodeF32Sqrt,
		wasm.OpcodeF64Abs, wasm.OpcodeF64Neg, wasm.OpcodeF64Ceil, wasm.OpcodeF64Floor, wasm.OpcodeF64Trunc,
		wasm.OpcodeF64Nearest, wasm.OpcodeF64Sqrt,
		wasm.OpcodeI32WrapI64, wasm.OpcodeI32TruncF32S, wasm.OpcodeI32TruncF32U, wasm.OpcodeI32TruncF64S,
		wasm.OpcodeI32TruncF64U, wasm.OpcodeI64ExtendI32S, wasm.OpcodeI64ExtendI32U, wasm.OpcodeI64TruncF32S,
		wasm.OpcodeI64TruncF32U, wasm.OpcodeI64TruncF64S, wasm.OpcodeI64TruncF64U, wasm.OpcodeF32ConvertI32S,
		wasm.OpcodeF32ConvertI32U, wasm.OpcodeF32ConvertI64S, wasm.OpcodeF32ConvertI64U, wasm.OpcodeF32DemoteF64,
		wasm.OpcodeF64ConvertI32S, wasm.OpcodeF64ConvertI32U, wasm.OpcodeF64ConvertI64S, wasm.OpcodeF64ConvertI64U,
		wasm.OpcodeF64PromoteF32, wasm.OpcodeI32ReinterpretF32, wasm.OpcodeI64ReinterpretF64,
		wasm.OpcodeF32ReinterpretI32, wasm.OpcodeF64ReinterpretI64:
		return 1
	default:
		return 2
	}
}

func localType(sig *wasm.FunctionType, fn *wasm.Function, idx uint32) wasm.ValueType {
	if int(idx) < len(sig.Params) {
		return sig.Params[idx]
	}
	return fn.LocalTypes[int(idx)-len(sig.Params)]
}

func globalType(m *wasm.Module, idx uint32) *wasm.GlobalType {
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
		panic("BUG: imported global index out of range")
	}
	return m.Globals[idx-m.ImportedGlobalCount].Type
}

func blockOpcodeKind(op wasm.Opcode) wasm.BlockKind {
	switch op {
	case wasm.OpcodeBlock:
		return wasm.BlockKindBlock
	case wasm.OpcodeLoop:
		return wasm.BlockKindLoop
	default:
		return wasm.BlockKindIf
	}
}

func decodeBlockType(r *leb128.Reader, m *wasm.Module) (wasm.BlockType, error) {
	start := r.Position()
	b, err := r.ReadByte()
	if err != nil {
		return wasm.BlockType{}, err
	}
	switch b {
	case 0x40:
		return wasm.BlockType{Empty: true}, nil
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64, wasm.ValueTypeFuncref, wasm.ValueTypeExternref:
		return wasm.BlockType{HasValueType: true, ValueType: b}, nil
	default:
		if err := r.JumpTo(start); err != nil {
			return wasm.BlockType{}, err
		}
		idx, err := r.ReadLEU32AsInt32()
		if err != nil {
			return wasm.BlockType{}, err
		}
		return wasm.BlockType{HasTypeIndex: true, TypeIndex: uint32(idx)}, nil
	}
}

func blockSignature(m *wasm.Module, bt wasm.BlockType) (params, results []wasm.ValueType) {
	switch {
	case bt.Empty:
		return nil, nil
	case bt.HasValueType:
		return nil, []wasm.ValueType{bt.ValueType}
	default:
		ft := m.Types[bt.TypeIndex]
		return ft.Params, ft.Results
	}
}

func isMemoryOpcode(op wasm.Opcode) bool {
	return op >= wasm.OpcodeI32Load && op <= wasm.OpcodeI64Store32
}

func compileMemoryOp(r *leb128.Reader, v *wasm.Validator, stack *CompileStack, backend arch.Backend, op wasm.Opcode) error {
	if _, err := r.ReadLEU32(); err != nil { // align hint, unused by this single-pass compiler.
		return err
	}
	offset, err := r.ReadLEU32()
	if err != nil {
		return err
	}
	if isMemoryStoreOpcode(op) {
		valTy := memoryOpValueType(op)
		if err := v.PopExpect(valTy); err != nil {
			return err
		}
		value := stack.Pop()
		if err := v.PopExpect(wasm.ValueTypeI32); err != nil {
			return err
		}
		addr := stack.Pop()
		backend.MemoryStore(op, offset, toArchValue(addr), toArchValue(value))
		return nil
	}
	if err := v.PopExpect(wasm.ValueTypeI32); err != nil {
		return err
	}
	addr := stack.Pop()
	resTy := memoryOpValueType(op)
	v.Push(resTy)
	stack.PushRegister(resTy)
	backend.MemoryLoad(op, offset, toArchValue(addr))
	return nil
}

func isMemoryStoreOpcode(op wasm.Opcode) bool {
	return op >= wasm.OpcodeI32Store && op <= wasm.OpcodeI64Store32
}

func memoryOpValueType(op wasm.Opcode) wasm.ValueType {
	switch {
	case op == wasm.OpcodeF32Load || op == wasm.OpcodeF32Store:
		return wasm.ValueTypeF32
	case op == wasm.OpcodeF64Load || op == wasm.OpcodeF64Store:
		return wasm.ValueTypeF64
	case op >= wasm.OpcodeI64Load && op <= wasm.OpcodeI64Load32U, op >= wasm.OpcodeI64Store && op <= wasm.OpcodeI64Store32:
		return wasm.ValueTypeI64
	default:
		return wasm.ValueTypeI32
	}
}
