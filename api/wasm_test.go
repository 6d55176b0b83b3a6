package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSignature(t *testing.T) {
	tests := []struct {
		name            string
		sig             string
		wantParams      []ValueType
		wantResults     []ValueType
		wantErrSubstring string
	}{
		{name: "no params no results", sig: "()", wantParams: nil, wantResults: nil},
		{name: "two params one result", sig: "(iI)f", wantParams: []ValueType{ValueTypeI32, ValueTypeI64}, wantResults: []ValueType{ValueTypeF32}},
		{name: "multi result", sig: "(F)iI", wantParams: []ValueType{ValueTypeF64}, wantResults: []ValueType{ValueTypeI32, ValueTypeI64}},
		{name: "missing open paren", sig: "i)f", wantErrSubstring: "missing parens"},
		{name: "unknown param char", sig: "(x)f", wantErrSubstring: "unknown param char"},
		{name: "unknown result char", sig: "(i)x", wantErrSubstring: "unknown result char"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, results, err := ParseSignature(tt.sig)
			if tt.wantErrSubstring != "" {
				require.ErrorContains(t, err, tt.wantErrSubstring)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantParams, params)
			require.Equal(t, tt.wantResults, results)
		})
	}
}

func TestSignatureCharRoundTrip(t *testing.T) {
	for _, vt := range []ValueType{ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64} {
		c := SignatureChar(vt)
		got, ok := ValueTypeFromChar(c)
		require.True(t, ok)
		require.Equal(t, vt, got)
	}
}

func TestEncodeDecodeFloats(t *testing.T) {
	require.Equal(t, float32(3.5), DecodeF32(EncodeF32(3.5)))
	require.Equal(t, float64(-2.25), DecodeF64(EncodeF64(-2.25)))
}

func TestEncodeIntegers(t *testing.T) {
	require.Equal(t, uint64(0xffffffff), EncodeI32(-1))
	require.Equal(t, uint64(0xffffffffffffffff), EncodeI64(-1))
}
