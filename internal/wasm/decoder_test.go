package wasm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// section builds a section: id, LEB128 size, payload.
func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(payload)))...)
	out = append(out, payload...)
	return out
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func header() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
}

// addOneModule builds a minimal module: one type (i32)->(i32), one function
// of that type with a trivial body, exported as "addOne", plus a one-page
// memory exported as "mem".
func addOneModule(t *testing.T) []byte {
	t.Helper()

	typeSec := section(sectionType, append([]byte{0x01, 0x60, 0x01, ValueTypeI32, 0x01, ValueTypeI32}))
	funcSec := section(sectionFunction, []byte{0x01, 0x00})
	memSec := section(sectionMemory, []byte{0x01, 0x00, 0x01})
	exportSec := section(sectionExport, concatBytes(
		[]byte{0x02},
		exportEntry("addOne", ExternKindFunc, 0),
		exportEntry("mem", ExternKindMemory, 0),
	))

	body := []byte{0x00, OpcodeEnd} // zero locals, empty body
	codeEntry := append(uleb(uint32(len(body))), body...)
	codeSec := section(sectionCode, concatBytes([]byte{0x01}, codeEntry))

	var data []byte
	data = append(data, header()...)
	data = append(data, typeSec...)
	data = append(data, funcSec...)
	data = append(data, memSec...)
	data = append(data, exportSec...)
	data = append(data, codeSec...)
	return data
}

func exportEntry(name string, kind ExternKind, idx uint32) []byte {
	out := uleb(uint32(len(name)))
	out = append(out, name...)
	out = append(out, byte(kind))
	out = append(out, uleb(idx)...)
	return out
}

func concatBytes(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func TestDecode_minimalModule(t *testing.T) {
	m, err := Decode(addOneModule(t))
	require.NoError(t, err)

	require.Len(t, m.Types, 1)
	require.Equal(t, []ValueType{ValueTypeI32}, m.Types[0].Params)
	require.Equal(t, []ValueType{ValueTypeI32}, m.Types[0].Results)

	require.Len(t, m.Functions, 1)
	require.Equal(t, uint32(0), m.Functions[0].TypeIndex)
	require.Equal(t, uint32(0), m.Functions[0].Index)

	require.NotNil(t, m.Memory)
	require.Equal(t, uint32(1), m.Memory.Min)
	require.Nil(t, m.Memory.Max)

	require.Len(t, m.Exports, 2)
	fnExport, ok := m.ExportsByName["addOne"]
	require.True(t, ok)
	require.Equal(t, ExternKindFunc, fnExport.Kind)
	memExport, ok := m.ExportsByName["mem"]
	require.True(t, ok)
	require.Equal(t, ExternKindMemory, memExport.Kind)
}

func TestDecode_rejectsBadMagic(t *testing.T) {
	data := append([]byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00})
	_, err := Decode(data)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidMagic))
}

func TestDecode_rejectsBadVersion(t *testing.T) {
	data := []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00}
	_, err := Decode(data)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidVersion))
}

func TestDecode_rejectsSectionOutOfOrder(t *testing.T) {
	exportSec := section(sectionExport, []byte{0x00})
	typeSec := section(sectionType, []byte{0x00})

	data := append([]byte{}, header()...)
	data = append(data, exportSec...)
	data = append(data, typeSec...)

	_, err := Decode(data)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrSectionOutOfOrder))
}

func TestDecode_rejectsDuplicateSection(t *testing.T) {
	typeSec := section(sectionType, []byte{0x00})

	data := append([]byte{}, header()...)
	data = append(data, typeSec...)
	data = append(data, typeSec...)

	_, err := Decode(data)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDuplicateSection))
}

func TestDecode_rejectsMismatchedSectionSize(t *testing.T) {
	// Section declares 4 bytes but only 1 (a count of zero) is consumed.
	data := append([]byte{}, header()...)
	data = append(data, sectionType, 0x04, 0x00)

	_, err := Decode(data)
	require.Error(t, err)
}

func TestDecode_rejectsSecondTableOrMemory(t *testing.T) {
	memSec := section(sectionMemory, []byte{0x02, 0x00, 0x01, 0x00, 0x02})

	data := append([]byte{}, header()...)
	data = append(data, memSec...)

	_, err := Decode(data)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrFeatureNotSupported))
}

func TestDecode_parsesNameSection(t *testing.T) {
	customPayload := concatBytes(
		uleb(4), []byte("name"),
		[]byte{0x01}, uleb(9), // subsection id 1 (function names), size
		[]byte{0x01},           // one entry
		uleb(0), uleb(6), []byte("addOne"),
	)
	customSec := section(sectionCustom, customPayload)

	data := append([]byte{}, header()...)
	data = append(data, customSec...)

	m, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, "addOne", m.NameSection[0])
}

func TestDecode_skipsUnrecognizedCustomSection(t *testing.T) {
	customPayload := concatBytes(uleb(5), []byte("other"), []byte{0xde, 0xad})
	customSec := section(sectionCustom, customPayload)

	data := append([]byte{}, header()...)
	data = append(data, customSec...)

	m, err := Decode(data)
	require.NoError(t, err)
	require.Empty(t, m.NameSection)
}

func TestDecode_startSection(t *testing.T) {
	typeSec := section(sectionType, []byte{0x01, 0x60, 0x00, 0x00})
	funcSec := section(sectionFunction, []byte{0x01, 0x00})
	startSec := section(sectionStart, []byte{0x00})
	body := []byte{0x00, OpcodeEnd}
	codeEntry := append(uleb(uint32(len(body))), body...)
	codeSec := section(sectionCode, concatBytes([]byte{0x01}, codeEntry))

	data := append([]byte{}, header()...)
	data = append(data, typeSec...)
	data = append(data, funcSec...)
	data = append(data, startSec...)
	data = append(data, codeSec...)

	m, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, m.StartFunctionIndex)
	require.Equal(t, uint32(0), *m.StartFunctionIndex)
}
