package wasm

// arithmeticTable enumerates the (arg0, arg1, result) signature of every
// opcode validate_arithmetic handles (spec.md §4.2). Unary ops use noArg
// for arg1. Conversions and reinterpretations are included here since they
// are, type-signature-wise, just unary arithmetic ops.
var arithmeticTable = buildArithmeticTable()

func buildArithmeticTable() map[Opcode]arithmeticSignature {
	t := map[Opcode]arithmeticSignature{}
	binary := func(ty ValueType, ops ...Opcode) {
		for _, op := range ops {
			t[op] = arithmeticSignature{arg0: ty, arg1: ty, result: ty}
		}
	}
	compare := func(ty ValueType, ops ...Opcode) {
		for _, op := range ops {
			t[op] = arithmeticSignature{arg0: ty, arg1: ty, result: ValueTypeI32}
		}
	}
	unary := func(in, out ValueType, ops ...Opcode) {
		for _, op := range ops {
			t[op] = arithmeticSignature{arg0: in, arg1: noArg, result: out}
		}
	}

	binary(ValueTypeI32, OpcodeI32Add, OpcodeI32Sub, OpcodeI32Mul, OpcodeI32DivS, OpcodeI32DivU,
		OpcodeI32RemS, OpcodeI32RemU, OpcodeI32And, OpcodeI32Or, OpcodeI32Xor, OpcodeI32Shl,
		OpcodeI32ShrS, OpcodeI32ShrU, OpcodeI32Rotl, OpcodeI32Rotr)
	compare(ValueTypeI32, OpcodeI32Eq, OpcodeI32Ne, OpcodeI32LtS, OpcodeI32LtU, OpcodeI32GtS,
		OpcodeI32GtU, OpcodeI32LeS, OpcodeI32LeU, OpcodeI32GeS, OpcodeI32GeU)
	unary(ValueTypeI32, ValueTypeI32, OpcodeI32Eqz, OpcodeI32Clz, OpcodeI32Ctz, OpcodeI32Popcnt)

	binary(ValueTypeI64, OpcodeI64Add, OpcodeI64Sub, OpcodeI64Mul, OpcodeI64DivS, OpcodeI64DivU,
		OpcodeI64RemS, OpcodeI64RemU, OpcodeI64And, OpcodeI64Or, OpcodeI64Xor, OpcodeI64Shl,
		OpcodeI64ShrS, OpcodeI64ShrU, OpcodeI64Rotl, OpcodeI64Rotr)
	compare(ValueTypeI64, OpcodeI64Eq, OpcodeI64Ne, OpcodeI64LtS, OpcodeI64LtU, OpcodeI64GtS,
		OpcodeI64GtU, OpcodeI64LeS, OpcodeI64LeU, OpcodeI64GeS, OpcodeI64GeU)
	unary(ValueTypeI64, ValueTypeI64, OpcodeI64Clz, OpcodeI64Ctz, OpcodeI64Popcnt)
	unary(ValueTypeI64, ValueTypeI32, OpcodeI64Eqz)

	binary(ValueTypeF32, OpcodeF32Add, OpcodeF32Sub, OpcodeF32Mul, OpcodeF32Div, OpcodeF32Min,
		OpcodeF32Max, OpcodeF32Copysign)
	compare(ValueTypeF32, OpcodeF32Eq, OpcodeF32Ne, OpcodeF32Lt, OpcodeF32Gt, OpcodeF32Le, OpcodeF32Ge)
	unary(ValueTypeF32, ValueTypeF32, OpcodeF32Abs, OpcodeF32Neg, OpcodeF32Ceil, OpcodeF32Floor,
		OpcodeF32Trunc, OpcodeF32Nearest, OpcodeF32Sqrt)

	binary(ValueTypeF64, OpcodeF64Add, OpcodeF64Sub, OpcodeF64Mul, OpcodeF64Div, OpcodeF64Min,
		OpcodeF64Max, OpcodeF64Copysign)
	compare(ValueTypeF64, OpcodeF64Eq, OpcodeF64Ne, OpcodeF64Lt, OpcodeF64Gt, OpcodeF64Le, OpcodeF64Ge)
	unary(ValueTypeF64, ValueTypeF64, OpcodeF64Abs, OpcodeF64Neg, OpcodeF64Ceil, OpcodeF64Floor,
		OpcodeF64Trunc, OpcodeF64Nearest, OpcodeF64Sqrt)

	// Conversions and reinterpretations, each a distinct (in,out) pair.
	unary(ValueTypeI64, ValueTypeI32, OpcodeI32WrapI64)
	unary(ValueTypeF32, ValueTypeI32, OpcodeI32TruncF32S, OpcodeI32TruncF32U)
	unary(ValueTypeF64, ValueTypeI32, OpcodeI32TruncF64S, OpcodeI32TruncF64U)
	unary(ValueTypeI32, ValueTypeI64, OpcodeI64ExtendI32S, OpcodeI64ExtendI32U)
	unary(ValueTypeF32, ValueTypeI64, OpcodeI64TruncF32S, OpcodeI64TruncF32U)
	unary(ValueTypeF64, ValueTypeI64, OpcodeI64TruncF64S, OpcodeI64TruncF64U)
	unary(ValueTypeI32, ValueTypeF32, OpcodeF32ConvertI32S, OpcodeF32ConvertI32U)
	unary(ValueTypeI64, ValueTypeF32, OpcodeF32ConvertI64S, OpcodeF32ConvertI64U)
	unary(ValueTypeF64, ValueTypeF32, OpcodeF32DemoteF64)
	unary(ValueTypeI32, ValueTypeF64, OpcodeF64ConvertI32S, OpcodeF64ConvertI32U)
	unary(ValueTypeI64, ValueTypeF64, OpcodeF64ConvertI64S, OpcodeF64ConvertI64U)
	unary(ValueTypeF32, ValueTypeF64, OpcodeF64PromoteF32)
	unary(ValueTypeF32, ValueTypeI32, OpcodeI32ReinterpretF32)
	unary(ValueTypeF64, ValueTypeI64, OpcodeI64ReinterpretF64)
	unary(ValueTypeI32, ValueTypeF32, OpcodeF32ReinterpretI32)
	unary(ValueTypeI64, ValueTypeF64, OpcodeF64ReinterpretI64)

	return t
}
