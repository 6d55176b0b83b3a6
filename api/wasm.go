// Package api includes constants and host-boundary types shared by
// embedders and the internal compiler/runtime packages.
package api

import (
	"fmt"
	"math"
)

// ExternType classifies imports and exports with their respective types.
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// ValueType is one of the four Wasm 1.0 numeric types. This is a type
// alias, not a defined type, so a ValueType byte round-trips the binary
// format without conversion.
type ValueType = byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

// ValueTypeName returns the Wat-style name of t, or "unknown".
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	default:
		return "unknown"
	}
}

// SignatureChar maps a ValueType to the one-character code a Native Symbol
// signature string uses (spec.md §3 "Native Symbol"): i/I/f/F.
func SignatureChar(t ValueType) byte {
	switch t {
	case ValueTypeI32:
		return 'i'
	case ValueTypeI64:
		return 'I'
	case ValueTypeF32:
		return 'f'
	case ValueTypeF64:
		return 'F'
	default:
		return '?'
	}
}

// ValueTypeFromChar is the inverse of SignatureChar.
func ValueTypeFromChar(c byte) (ValueType, bool) {
	switch c {
	case 'i':
		return ValueTypeI32, true
	case 'I':
		return ValueTypeI64, true
	case 'f':
		return ValueTypeF32, true
	case 'F':
		return ValueTypeF64, true
	default:
		return 0, false
	}
}

// Linkage selects how a Native Symbol's call sites are emitted (spec.md
// §3): STATIC is a direct call resolved at compile time, DYNAMIC is an
// indirect call through a link-data slot resolved at init_from_compiled.
type Linkage byte

const (
	LinkageStatic Linkage = iota
	LinkageDynamic
)

// ABIVersion selects how arguments and results cross the host boundary
// (spec.md §6.1): V1 passes scalars by the platform C ABI plus a trailing
// ctx pointer; V2 passes a (params_ptr, results_ptr, ctx) triple to support
// multiple results.
type ABIVersion byte

const (
	ABIV1 ABIVersion = iota
	ABIV2
)

// NativeSymbol is a host function descriptor consumed by the Runtime at
// Compile (for STATIC symbols) and at InitFromCompiled (for every symbol,
// to fill link-data slots). Signature is "(args)results", one character
// per value per SignatureChar/ValueTypeFromChar; matching at link time
// compares Module, Name and Signature character-by-character.
type NativeSymbol struct {
	Module    string
	Name      string
	Signature string
	Func      uintptr // Address of the host-callable entry point.
	Linkage   Linkage
	ABI       ABIVersion
}

// ParseSignature splits "(iI)f" into its parameter and result ValueType
// lists. An empty result list is legal (Wasm 1.0 allows at most one
// result but a Native Symbol's own ABI, used only by host functions, is
// not bound by that MVP restriction).
func ParseSignature(sig string) (params, results []ValueType, err error) {
	open := indexByte(sig, '(')
	close := indexByte(sig, ')')
	if open != 0 || close < open {
		return nil, nil, fmt.Errorf("malformed signature %q: missing parens", sig)
	}
	for i := 1; i < close; i++ {
		vt, ok := ValueTypeFromChar(sig[i])
		if !ok {
			return nil, nil, fmt.Errorf("malformed signature %q: unknown param char %q", sig, sig[i])
		}
		params = append(params, vt)
	}
	for i := close + 1; i < len(sig); i++ {
		vt, ok := ValueTypeFromChar(sig[i])
		if !ok {
			return nil, nil, fmt.Errorf("malformed signature %q: unknown result char %q", sig, sig[i])
		}
		results = append(results, vt)
	}
	return params, results, nil
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// EncodeI32 encodes input as the uint64 wire representation of ValueTypeI32.
func EncodeI32(input int32) uint64 { return uint64(uint32(input)) }

// EncodeI64 encodes input as the uint64 wire representation of ValueTypeI64.
func EncodeI64(input int64) uint64 { return uint64(input) }

// EncodeF32 encodes input as the uint64 wire representation of ValueTypeF32.
func EncodeF32(input float32) uint64 { return uint64(math.Float32bits(input)) }

// DecodeF32 decodes input from the uint64 wire representation of ValueTypeF32.
func DecodeF32(input uint64) float32 { return math.Float32frombits(uint32(input)) }

// EncodeF64 encodes input as the uint64 wire representation of ValueTypeF64.
func EncodeF64(input float64) uint64 { return math.Float64bits(input) }

// DecodeF64 decodes input from the uint64 wire representation of ValueTypeF64.
func DecodeF64(input uint64) float64 { return math.Float64frombits(input) }

// Closer closes a resource. Kept distinct from io.Closer so implementors
// aren't forced to adopt the exact io.Closer error semantics.
type Closer interface {
	Close() error
}
