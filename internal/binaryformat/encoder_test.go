package binaryformat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func exampleModule() *Module {
	return &Module{
		Version:         CurrentVersion,
		DebugMode:       false,
		StacktraceCount: 16,
		TableEntryFunctionOffsets: []uint32{0, 4},
		Table: []TableEntry{
			{SignatureIndex: 0, FunctionBodyOffset: 12},
			{SignatureIndex: NoOffset, FunctionBodyOffset: NoOffset},
		},
		LinkStatus: []bool{true, false, true},
		ExportedFunctions: []ExportedFunction{
			{WasmIndex: 0, Name: "addTwo", Signature: "(ii)i", Wrapper: []byte{0x90, 0x90, 0xc3}},
		},
		ExportedGlobals: []ExportedGlobal{
			{Name: "counter", TypeChar: 'i', Mutable: true, LinkDataOffset: 40},
			{Name: "pi", TypeChar: 'F', Mutable: false, ConstantValue: 0x400921fb54442d18},
		},
		LinearMemoryInitialPages: 1,
		DynamicImports: []ImportedFunction{
			{ModuleName: "env", FunctionName: "log", Signature: "(i)", LinkDataOffset: 8},
		},
		MutableGlobals: []MutableGlobal{
			{Type: 'i', LinkDataOffset: 16, InitialValue: 7},
		},
		Start: &StartFunction{Signature: "()", Wrapper: []byte{0xc3}},
		FunctionNames: []FunctionName{
			{WasmFunctionIndex: 0, Name: "addTwo"},
			{WasmFunctionIndex: 1, Name: "_start"},
		},
		DataSegments: []DataInit{
			{Offset: 0, Bytes: []byte("hello")},
		},
		FunctionBodies: []FunctionBody{
			{Code: []byte{0x48, 0x01, 0xd8, 0xc3}},
			{Code: []byte{0xc3}},
		},
		LandingPadOffset: NoOffset,
	}
}

func TestEncodeDecode_roundTrip(t *testing.T) {
	m := exampleModule()
	buf := Encode(m)

	require.Equal(t, 0, len(buf)%4, "encoded module must end on a 4-byte boundary")

	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestEncodeDecode_emptyModule(t *testing.T) {
	m := &Module{
		LinearMemoryInitialPages: NoOffset,
		LandingPadOffset:         NoOffset,
	}
	buf := Encode(m)

	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(CurrentVersion), got.Version)
	require.Equal(t, uint32(NoOffset), got.LinearMemoryInitialPages)
	require.Empty(t, got.FunctionBodies)
}

func TestDecode_rejectsTruncatedBuffer(t *testing.T) {
	m := exampleModule()
	buf := Encode(m)

	_, err := Decode(buf[:len(buf)-1])
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecode_rejectsSizeMismatch(t *testing.T) {
	buf := Encode(exampleModule())
	// Corrupt the trailer's module_size field.
	buf[len(buf)-16] ^= 0xff

	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrTruncated)
}
