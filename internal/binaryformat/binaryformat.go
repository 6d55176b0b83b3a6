// Package binaryformat implements the Binary Module on-disk layout
// (spec.md §6.2): a sequence of length-prefixed, 4-byte-aligned sections
// written forward from offset 0 (function bodies first) and read tail-first
// starting from a fixed 16-byte trailer. encoder.go builds one from a
// compiled module's pieces; decoder.go checks the trailer's module_size and
// then decodes every section, walking forward from offset 0 in Encode's
// write order.
package binaryformat

// CurrentVersion is this package's Binary Module format version, written
// into the trailer's binary_version_u32 field.
const CurrentVersion = 1

// NoOffset is the sentinel for "undefined" self-relative offsets and for
// "no linear memory declared", matching spec.md §6.2's 0xFFFFFFFF convention
// throughout the format.
const NoOffset = 0xFFFFFFFF

// TrailerSize is the fixed size of the trailer, spec.md §8 invariant 2.
const TrailerSize = 16

// TableEntry is one slot of the module's function table (spec.md §6.2 item
// 2): SignatureIndex is NoOffset when the slot is empty, FunctionBodyOffset
// is self-relative to the entry's own on-disk position.
type TableEntry struct {
	SignatureIndex     uint32
	FunctionBodyOffset uint32
}

// ExportedFunction is one entry of the exported-functions section (item 4):
// a native trampoline (Wrapper) that adapts the host calling convention to
// the compiled function's native body.
type ExportedFunction struct {
	WasmIndex uint32
	Name      string
	Signature string
	Wrapper   []byte
}

// ExportedGlobal is one entry of the exported-globals section (item 5).
// Mutable globals carry a link-data offset; immutable globals carry their
// constant value inline, in TypeChar's width.
type ExportedGlobal struct {
	Name           string
	TypeChar       byte // 'i' (i32), 'I' (i64), 'f' (f32), 'F' (f64)
	Mutable        bool
	LinkDataOffset uint32
	ConstantValue  uint64
}

// ImportedFunction is one entry of the dynamically-imported-functions
// section (item 7): an import the Runtime must resolve against a Native
// Symbol before the module can run, landing its resolved pointer at
// LinkDataOffset.
type ImportedFunction struct {
	ModuleName   string
	FunctionName string
	Signature    string
	LinkDataOffset uint32
}

// MutableGlobal is one entry of the mutable-non-exported-globals section
// (item 8).
type MutableGlobal struct {
	Type           byte // machine-type code, see TypeChar values above
	LinkDataOffset uint32
	InitialValue   uint64
}

// StartFunction is the module's optional start function (item 9).
type StartFunction struct {
	Signature string
	Wrapper   []byte
}

// FunctionName is one entry of the function-names debug section (item 10),
// sourced from the Wasm custom "name" section.
type FunctionName struct {
	WasmFunctionIndex uint32
	Name              string
}

// DataInit is one initial-linear-memory-data segment (item 11).
type DataInit struct {
	Offset uint32
	Bytes  []byte
}

// FunctionBody is one compiled function's native machine code (item 12).
type FunctionBody struct {
	Code []byte
}

// Module is everything needed to write, or everything recovered by reading,
// one Binary Module artifact. Every slice mirrors one section of spec.md
// §6.2 in declaration order.
type Module struct {
	Version          uint32
	DebugMode        bool
	StacktraceCount  uint32 // low 31 bits of flags_u32; spec.md caps this at 50 at the API, the encoding itself permits more.
	LandingPadOffset uint32 // NoOffset if the module has no landing pad (no fallible operation compiled in).

	TableEntryFunctionOffsets []uint32
	Table                     []TableEntry
	LinkStatus                []bool // one bool per imported function, true once linked.
	ExportedFunctions         []ExportedFunction
	ExportedGlobals           []ExportedGlobal
	LinearMemoryInitialPages  uint32 // NoOffset if the module declares no memory.
	DynamicImports            []ImportedFunction
	MutableGlobals            []MutableGlobal
	Start                     *StartFunction
	FunctionNames             []FunctionName
	DataSegments              []DataInit
	FunctionBodies            []FunctionBody
}
