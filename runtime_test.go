package wazeroaot

import (
	"testing"

	"github.com/tetratelabs/wazero-aot/internal/compiler/arch"
	"github.com/tetratelabs/wazero-aot/internal/testing/require"
	"github.com/tetratelabs/wazero-aot/internal/wasm"
)

func TestSignatureStringRoundTrip(t *testing.T) {
	sig := &wasm.FunctionType{
		Params:  []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeF64},
		Results: []wasm.ValueType{wasm.ValueTypeI64},
	}
	s := signatureString(sig)
	require.Equal(t, "(iF)I", s)
	require.True(t, signatureMatches(sig, s))
	require.False(t, signatureMatches(sig, "(i)I"))
}

func TestLinkDataLayoutIsDisjoint(t *testing.T) {
	require.Less(t, linkDataFenceOffset, linkDataTrapOffset)
	require.Less(t, linkDataTrapOffset, linkDataInterruptOffset)
	require.Less(t, linkDataInterruptOffset, linkDataLinkedMemPtrOffset)
	require.Less(t, linkDataLinkedMemPtrOffset, linkDataLinkedMemLenOffset)
	require.Less(t, linkDataLinkedMemLenOffset, linkDataHeaderSize)
	require.Equal(t, 40, linkDataHeaderSize)
}

func TestBuiltinStubRecognizesLinkedMemoryNames(t *testing.T) {
	for _, isa := range []arch.ISA{arch.ISAAmd64, arch.ISAArm64, arch.ISARiscv32} {
		code, relocs, ok := builtinStub(isa, "getLengthOfLinkedMemory")
		require.True(t, ok)
		require.True(t, len(code) > 0)
		require.Equal(t, 0, len(relocs))

		code, relocs, ok = builtinStub(isa, "readLinkedMemoryByte")
		require.True(t, ok)
		require.True(t, len(code) > 0)
		require.Equal(t, 2, len(relocs))
		for _, r := range relocs {
			require.True(t, r.IsCall)
			require.Equal(t, uint32(trapLandingPadCallIndex), r.CallIndex)
		}

		_, _, ok = builtinStub(isa, "notARealBuiltin")
		require.False(t, ok)
	}
}

func TestLinkMemoryAndUnlinkMemoryWriteLinkData(t *testing.T) {
	in := &Instance{linkData: make([]byte, 64)}
	span := []byte{1, 2, 3}

	require.NoError(t, in.LinkMemory(span))
	require.Equal(t, uint64(3), binary_.Uint64(in.linkData[linkDataLinkedMemLenOffset:]))
	require.True(t, binary_.Uint64(in.linkData[linkDataLinkedMemPtrOffset:]) != 0)

	in.UnlinkMemory()
	require.Equal(t, uint64(0), binary_.Uint64(in.linkData[linkDataLinkedMemLenOffset:]))
	require.Equal(t, uint64(0), binary_.Uint64(in.linkData[linkDataLinkedMemPtrOffset:]))
}

func TestNoTrapSentinelNeverCollidesWithARealTrapCode(t *testing.T) {
	// trap.Code is a small, closed enum (spec.md §7 lists fourteen values);
	// noTrap must stay outside that range for the trap slot to
	// distinguish "no trap" from "trapped with code 0".
	require.Greater(t, float64(noTrap), float64(uint64(1)<<32))
}

func TestImportStubArgCountIsCappedPerISA(t *testing.T) {
	sig := &wasm.FunctionType{Params: make([]wasm.ValueType, 10)}
	code, relocs := importStub(arch.ISAAmd64, 24, sig)
	require.NotEmpty(t, code)
	require.Empty(t, relocs)
}

func TestLandingPadIsNonEmptyForEverySupportedISA(t *testing.T) {
	for _, isa := range []arch.ISA{arch.ISAAmd64, arch.ISAArm64, arch.ISARiscv32} {
		pad := landingPad(isa)
		require.NotEmpty(t, pad)
	}
}
