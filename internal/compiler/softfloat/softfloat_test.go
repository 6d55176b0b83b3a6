package softfloat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/wazero-aot/internal/wasm"
)

func TestCall_arithmetic(t *testing.T) {
	tests := []struct {
		name   string
		thunk  Thunk
		a, b   uint64
		expect uint64
	}{
		{"AddF32", AddF32, f32bits(1.5), f32bits(2.25), f32bits(3.75)},
		{"MulF64", MulF64, math.Float64bits(2), math.Float64bits(3), math.Float64bits(6)},
		{"SqrtF64", SqrtF64, math.Float64bits(9), 0, math.Float64bits(3)},
		{"NegF32", NegF32, f32bits(1), 0, f32bits(-1)},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expect, Call(tc.thunk, tc.a, tc.b))
		})
	}
}

func TestCall_comparisons(t *testing.T) {
	require.Equal(t, uint64(1), Call(LtF64, math.Float64bits(1), math.Float64bits(2)))
	require.Equal(t, uint64(0), Call(GtF64, math.Float64bits(1), math.Float64bits(2)))
}

func TestCall_conversions(t *testing.T) {
	require.Equal(t, math.Float64bits(42), Call(ConvertI32SToF64, uint64(uint32(int32(42))), 0))
	require.Equal(t, uint64(7), Call(TruncF64ToI32U, math.Float64bits(7.9), 0))
}

func TestThunkFor_everyFloatOpcodeHasAThunk(t *testing.T) {
	opcodes := []wasm.Opcode{
		wasm.OpcodeF32Add, wasm.OpcodeF64Div, wasm.OpcodeF32ConvertI32S,
		wasm.OpcodeI64TruncF64U, wasm.OpcodeF64PromoteF32, wasm.OpcodeF32DemoteF64,
	}
	for _, op := range opcodes {
		_, ok := ThunkFor(op)
		require.True(t, ok, "opcode 0x%x should have a softfloat thunk", op)
	}
}

func TestResultType(t *testing.T) {
	require.Equal(t, wasm.ValueTypeF32, ResultType(AddF32))
	require.Equal(t, wasm.ValueTypeI32, ResultType(EqF64))
	require.Equal(t, wasm.ValueTypeI64, ResultType(TruncF32ToI64S))
}
