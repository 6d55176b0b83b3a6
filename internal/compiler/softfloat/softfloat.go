// Package softfloat implements the f32/f64 arithmetic thunks that ISA-3
// (a RISC-V32IM-class core with no F/D extension, SPEC_FULL.md §5) calls
// into instead of emitting native float instructions. Each Thunk is a pure
// function over raw bit patterns so it can be called from hand-emitted
// native code with a fixed, ABI-independent calling convention (two
// uint64-sized argument slots, one uint64-sized result slot, matching the
// Native Symbol V1 scalar ABI the rest of the runtime already uses).
package softfloat

import (
	"math"

	"github.com/tetratelabs/wazero-aot/internal/wasm"
)

// Dispatch selects how a riscv32 Backend reaches a Thunk's native code:
// Direct calls the thunk's fixed address (only valid once the module is
// linked and thunk addresses are known); Indirect loads the address from a
// pointer table at a known link-data offset, avoiding a relocation per
// call site at the cost of one extra load (SPEC_FULL.md §5, resolving
// spec.md's Open Question on link-time vs. load-time softfloat binding in
// favor of supporting both and letting CompilerConfig pick).
type Dispatch byte

const (
	DispatchDirect Dispatch = iota
	DispatchIndirect
)

// Thunk identifies one of the 58 softfloat entry points. The numeric value
// is stable across builds: DispatchIndirect's pointer table is indexed by
// it, and DispatchDirect's relocation carries it so the linker can find
// the thunk's native address without re-deriving it from the opcode.
type Thunk int

const (
	AddF32 Thunk = iota
	SubF32
	MulF32
	DivF32
	MinF32
	MaxF32
	CopysignF32
	AbsF32
	NegF32
	CeilF32
	FloorF32
	TruncF32
	NearestF32
	SqrtF32
	EqF32
	NeF32
	LtF32
	GtF32
	LeF32
	GeF32

	AddF64
	SubF64
	MulF64
	DivF64
	MinF64
	MaxF64
	CopysignF64
	AbsF64
	NegF64
	CeilF64
	FloorF64
	TruncF64
	NearestF64
	SqrtF64
	EqF64
	NeF64
	LtF64
	GtF64
	LeF64
	GeF64

	DemoteF64ToF32
	PromoteF32ToF64
	ConvertI32SToF32
	ConvertI32UToF32
	ConvertI64SToF32
	ConvertI64UToF32
	ConvertI32SToF64
	ConvertI32UToF64
	ConvertI64SToF64
	ConvertI64UToF64
	TruncF32ToI32S
	TruncF32ToI32U
	TruncF32ToI64S
	TruncF32ToI64U
	TruncF64ToI32S
	TruncF64ToI32U
	TruncF64ToI64S
	TruncF64ToI64U

	numThunks
)

// NumThunks is the fixed thunk-table size (58 entries), used to size the
// Indirect dispatch pointer table at link time.
const NumThunks = int(numThunks)

// opcodeToThunk maps every Wasm opcode a riscv32 Backend cannot lower to a
// native instruction onto its Thunk.
var opcodeToThunk = map[wasm.Opcode]Thunk{
	wasm.OpcodeF32Add:      AddF32,
	wasm.OpcodeF32Sub:      SubF32,
	wasm.OpcodeF32Mul:      MulF32,
	wasm.OpcodeF32Div:      DivF32,
	wasm.OpcodeF32Min:      MinF32,
	wasm.OpcodeF32Max:      MaxF32,
	wasm.OpcodeF32Copysign: CopysignF32,
	wasm.OpcodeF32Abs:      AbsF32,
	wasm.OpcodeF32Neg:      NegF32,
	wasm.OpcodeF32Ceil:     CeilF32,
	wasm.OpcodeF32Floor:    FloorF32,
	wasm.OpcodeF32Trunc:    TruncF32,
	wasm.OpcodeF32Nearest:  NearestF32,
	wasm.OpcodeF32Sqrt:     SqrtF32,
	wasm.OpcodeF32Eq:       EqF32,
	wasm.OpcodeF32Ne:       NeF32,
	wasm.OpcodeF32Lt:       LtF32,
	wasm.OpcodeF32Gt:       GtF32,
	wasm.OpcodeF32Le:       LeF32,
	wasm.OpcodeF32Ge:       GeF32,

	wasm.OpcodeF64Add:      AddF64,
	wasm.OpcodeF64Sub:      SubF64,
	wasm.OpcodeF64Mul:      MulF64,
	wasm.OpcodeF64Div:      DivF64,
	wasm.OpcodeF64Min:      MinF64,
	wasm.OpcodeF64Max:      MaxF64,
	wasm.OpcodeF64Copysign: CopysignF64,
	wasm.OpcodeF64Abs:      AbsF64,
	wasm.OpcodeF64Neg:      NegF64,
	wasm.OpcodeF64Ceil:     CeilF64,
	wasm.OpcodeF64Floor:    FloorF64,
	wasm.OpcodeF64Trunc:    TruncF64,
	wasm.OpcodeF64Nearest:  NearestF64,
	wasm.OpcodeF64Sqrt:     SqrtF64,
	wasm.OpcodeF64Eq:       EqF64,
	wasm.OpcodeF64Ne:       NeF64,
	wasm.OpcodeF64Lt:       LtF64,
	wasm.OpcodeF64Gt:       GtF64,
	wasm.OpcodeF64Le:       LeF64,
	wasm.OpcodeF64Ge:       GeF64,

	wasm.OpcodeF32DemoteF64:    DemoteF64ToF32,
	wasm.OpcodeF64PromoteF32:   PromoteF32ToF64,
	wasm.OpcodeF32ConvertI32S:  ConvertI32SToF32,
	wasm.OpcodeF32ConvertI32U:  ConvertI32UToF32,
	wasm.OpcodeF32ConvertI64S:  ConvertI64SToF32,
	wasm.OpcodeF32ConvertI64U:  ConvertI64UToF32,
	wasm.OpcodeF64ConvertI32S:  ConvertI32SToF64,
	wasm.OpcodeF64ConvertI32U:  ConvertI32UToF64,
	wasm.OpcodeF64ConvertI64S:  ConvertI64SToF64,
	wasm.OpcodeF64ConvertI64U:  ConvertI64UToF64,
	wasm.OpcodeI32TruncF32S:    TruncF32ToI32S,
	wasm.OpcodeI32TruncF32U:    TruncF32ToI32U,
	wasm.OpcodeI64TruncF32S:    TruncF32ToI64S,
	wasm.OpcodeI64TruncF32U:    TruncF32ToI64U,
	wasm.OpcodeI32TruncF64S:    TruncF64ToI32S,
	wasm.OpcodeI32TruncF64U:    TruncF64ToI32U,
	wasm.OpcodeI64TruncF64S:    TruncF64ToI64S,
	wasm.OpcodeI64TruncF64U:    TruncF64ToI64U,
}

// ThunkFor reports which Thunk lowers op, if any.
func ThunkFor(op wasm.Opcode) (Thunk, bool) {
	t, ok := opcodeToThunk[op]
	return t, ok
}

var resultTypes = buildResultTypes()

func buildResultTypes() [numThunks]wasm.ValueType {
	var r [numThunks]wasm.ValueType
	for i := AddF32; i <= GeF32; i++ {
		r[i] = wasm.ValueTypeF32
	}
	for i := AddF64; i <= GeF64; i++ {
		r[i] = wasm.ValueTypeF64
	}
	// Comparisons produce i32, overriding the blanket f32/f64 fill above.
	for _, t := range []Thunk{EqF32, NeF32, LtF32, GtF32, LeF32, GeF32, EqF64, NeF64, LtF64, GtF64, LeF64, GeF64} {
		r[t] = wasm.ValueTypeI32
	}
	r[DemoteF64ToF32] = wasm.ValueTypeF32
	r[PromoteF32ToF64] = wasm.ValueTypeF64
	r[ConvertI32SToF32] = wasm.ValueTypeF32
	r[ConvertI32UToF32] = wasm.ValueTypeF32
	r[ConvertI64SToF32] = wasm.ValueTypeF32
	r[ConvertI64UToF32] = wasm.ValueTypeF32
	r[ConvertI32SToF64] = wasm.ValueTypeF64
	r[ConvertI32UToF64] = wasm.ValueTypeF64
	r[ConvertI64SToF64] = wasm.ValueTypeF64
	r[ConvertI64UToF64] = wasm.ValueTypeF64
	r[TruncF32ToI32S] = wasm.ValueTypeI32
	r[TruncF32ToI32U] = wasm.ValueTypeI32
	r[TruncF32ToI64S] = wasm.ValueTypeI64
	r[TruncF32ToI64U] = wasm.ValueTypeI64
	r[TruncF64ToI32S] = wasm.ValueTypeI32
	r[TruncF64ToI32U] = wasm.ValueTypeI32
	r[TruncF64ToI64S] = wasm.ValueTypeI64
	r[TruncF64ToI64U] = wasm.ValueTypeI64
	return r
}

// ResultType reports the Wasm value type a thunk's result should be
// interpreted as, used by the frontend to push the right typed Stack
// Element after emitting the call.
func ResultType(t Thunk) wasm.ValueType { return resultTypes[t] }

// Call invokes thunk t on raw operand bit patterns, returning the raw
// result bit pattern; this is the reference (Go-native) implementation the
// runtime links against before native thunk code exists for a given build.
func Call(t Thunk, a, b uint64) uint64 {
	switch t {
	case AddF32:
		return f32bits(f32(a) + f32(b))
	case SubF32:
		return f32bits(f32(a) - f32(b))
	case MulF32:
		return f32bits(f32(a) * f32(b))
	case DivF32:
		return f32bits(f32(a) / f32(b))
	case MinF32:
		return f32bits(float32(math.Min(float64(f32(a)), float64(f32(b)))))
	case MaxF32:
		return f32bits(float32(math.Max(float64(f32(a)), float64(f32(b)))))
	case CopysignF32:
		return f32bits(float32(math.Copysign(float64(f32(a)), float64(f32(b)))))
	case AbsF32:
		return f32bits(float32(math.Abs(float64(f32(a)))))
	case NegF32:
		return f32bits(-f32(a))
	case CeilF32:
		return f32bits(float32(math.Ceil(float64(f32(a)))))
	case FloorF32:
		return f32bits(float32(math.Floor(float64(f32(a)))))
	case TruncF32:
		return f32bits(float32(math.Trunc(float64(f32(a)))))
	case NearestF32:
		return f32bits(float32(math.RoundToEven(float64(f32(a)))))
	case SqrtF32:
		return f32bits(float32(math.Sqrt(float64(f32(a)))))
	case EqF32:
		return boolBits(f32(a) == f32(b))
	case NeF32:
		return boolBits(f32(a) != f32(b))
	case LtF32:
		return boolBits(f32(a) < f32(b))
	case GtF32:
		return boolBits(f32(a) > f32(b))
	case LeF32:
		return boolBits(f32(a) <= f32(b))
	case GeF32:
		return boolBits(f32(a) >= f32(b))

	case AddF64:
		return math.Float64bits(f64(a) + f64(b))
	case SubF64:
		return math.Float64bits(f64(a) - f64(b))
	case MulF64:
		return math.Float64bits(f64(a) * f64(b))
	case DivF64:
		return math.Float64bits(f64(a) / f64(b))
	case MinF64:
		return math.Float64bits(math.Min(f64(a), f64(b)))
	case MaxF64:
		return math.Float64bits(math.Max(f64(a), f64(b)))
	case CopysignF64:
		return math.Float64bits(math.Copysign(f64(a), f64(b)))
	case AbsF64:
		return math.Float64bits(math.Abs(f64(a)))
	case NegF64:
		return math.Float64bits(-f64(a))
	case CeilF64:
		return math.Float64bits(math.Ceil(f64(a)))
	case FloorF64:
		return math.Float64bits(math.Floor(f64(a)))
	case TruncF64:
		return math.Float64bits(math.Trunc(f64(a)))
	case NearestF64:
		return math.Float64bits(math.RoundToEven(f64(a)))
	case SqrtF64:
		return math.Float64bits(math.Sqrt(f64(a)))
	case EqF64:
		return boolBits(f64(a) == f64(b))
	case NeF64:
		return boolBits(f64(a) != f64(b))
	case LtF64:
		return boolBits(f64(a) < f64(b))
	case GtF64:
		return boolBits(f64(a) > f64(b))
	case LeF64:
		return boolBits(f64(a) <= f64(b))
	case GeF64:
		return boolBits(f64(a) >= f64(b))

	case DemoteF64ToF32:
		return f32bits(float32(f64(a)))
	case PromoteF32ToF64:
		return math.Float64bits(float64(f32(a)))
	case ConvertI32SToF32:
		return f32bits(float32(int32(a)))
	case ConvertI32UToF32:
		return f32bits(float32(uint32(a)))
	case ConvertI64SToF32:
		return f32bits(float32(int64(a)))
	case ConvertI64UToF32:
		return f32bits(float32(a))
	case ConvertI32SToF64:
		return math.Float64bits(float64(int32(a)))
	case ConvertI32UToF64:
		return math.Float64bits(float64(uint32(a)))
	case ConvertI64SToF64:
		return math.Float64bits(float64(int64(a)))
	case ConvertI64UToF64:
		return math.Float64bits(float64(a))
	case TruncF32ToI32S:
		return uint64(uint32(int32(f32(a))))
	case TruncF32ToI32U:
		return uint64(uint32(f32(a)))
	case TruncF32ToI64S:
		return uint64(int64(f32(a)))
	case TruncF32ToI64U:
		return uint64(f32(a))
	case TruncF64ToI32S:
		return uint64(uint32(int32(f64(a))))
	case TruncF64ToI32U:
		return uint64(uint32(f64(a)))
	case TruncF64ToI64S:
		return uint64(int64(f64(a)))
	case TruncF64ToI64U:
		return uint64(f64(a))
	default:
		panic("BUG: unhandled softfloat thunk")
	}
}

func f32(bits uint64) float32 { return math.Float32frombits(uint32(bits)) }
func f64(bits uint64) float64 { return math.Float64frombits(bits) }
func f32bits(f float32) uint64 { return uint64(math.Float32bits(f)) }

func boolBits(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
