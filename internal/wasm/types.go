// Package wasm holds the Module Info data model of spec.md §3: the
// declarations parsed out of a Wasm binary (types, imports, functions,
// tables, memories, globals, exports, element/data segments), plus the
// stack-typing validator (validator.go) that is driven instruction-by-
// instruction while the frontend compiles a function body.
package wasm

// ValueType is one of the four Wasm 1.0 numeric types, plus the two
// reference types accepted by table/element declarations even though this
// module does not compile code that produces them (Non-goals: GC proposal).
// Encoded exactly as the Wasm binary format does, so a ValueType byte can be
// written straight into a Binary Module section without translation.
type ValueType = byte

const (
	ValueTypeI32       ValueType = 0x7f
	ValueTypeI64       ValueType = 0x7e
	ValueTypeF32       ValueType = 0x7d
	ValueTypeF64       ValueType = 0x7c
	ValueTypeFuncref   ValueType = 0x70
	ValueTypeExternref ValueType = 0x6f
)

// ValueTypeName returns the Wat-style name, used in error messages and the
// default diagnostic logger (internal/diag).
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
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	default:
		return "unknown"
	}
}

// FunctionType is one entry of the Types section: an ordered parameter list
// and an ordered result list. Wasm 1.0 allows at most one result; the
// multi-value post-MVP extension is out of scope (spec.md Non-goals), but
// Native Symbol V2 linkage (api.ABIV2) still lets a *host* function return
// more than one value, so FunctionType itself does not enforce the limit —
// Decode does, rejecting a Type section entry with more than one result.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// EqualsSignature reports whether two function types have identical
// parameter and result lists, used by call_indirect's runtime signature
// check (spec.md trap INDIRECTCALL_WRONGSIG) and by link-time Native Symbol
// matching (spec.md §6.1).
func (f *FunctionType) EqualsSignature(params, results []ValueType) bool {
	if len(f.Params) != len(params) || len(f.Results) != len(results) {
		return false
	}
	for i, p := range params {
		if f.Params[i] != p {
			return false
		}
	}
	for i, r := range results {
		if f.Results[i] != r {
			return false
		}
	}
	return true
}

// String renders "(i32,i64)->(i32)"-style signatures for logging.
func (f *FunctionType) String() string {
	s := "("
	for i, p := range f.Params {
		if i > 0 {
			s += ","
		}
		s += ValueTypeName(p)
	}
	s += ")->("
	for i, r := range f.Results {
		if i > 0 {
			s += ","
		}
		s += ValueTypeName(r)
	}
	return s + ")"
}

// ExternKind tags what an Import or Export refers to.
type ExternKind byte

const (
	ExternKindFunc ExternKind = iota
	ExternKindTable
	ExternKindMemory
	ExternKindGlobal
)

// Import is one entry of the Import section. Kind selects which of
// TypeIndex/TableType/MemoryType/GlobalType is populated.
type Import struct {
	Module, Name string
	Kind         ExternKind
	TypeIndex    uint32
	TableType    *TableType
	MemoryType   *MemoryType
	GlobalType   *GlobalType
	// Index is this import's position within its own kind's combined
	// imported+defined numbering (e.g. a function import's Wasm function
	// index, or a global import's Wasm global index).
	Index uint32
}

// Export is one entry of the Export section; names are unique within a
// module (enforced by the decoder).
type Export struct {
	Name  string
	Kind  ExternKind
	Index uint32
}

// TableType describes the module's single table (spec.md: "at most one
// table, functional"). MVP Wasm allows only funcref tables.
type TableType struct {
	Min uint32
	Max *uint32
}

// MemoryPageSize is the Wasm page granularity: 64 KiB.
const MemoryPageSize = 65536

// MemoryMaxPages is the hard MVP ceiling: 65536 pages (4 GiB).
const MemoryMaxPages = 65536

// MemoryType describes the module's single linear memory, in Wasm pages.
type MemoryType struct {
	Min uint32
	Max *uint32 // nil if unbounded (implicitly MemoryMaxPages at runtime).
}

// GlobalType is a machine type plus a mutability flag.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// ConstantExpression is a single-instruction initializer: one of
// {i32,i64,f32,f64}.const, or global.get of an imported immutable global.
// Element and data segment offsets, and global initializers, all use this
// shape (spec.md §3 "Globals": "if not imported, an initializer constant").
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte // LEB128 or raw encoding of the operand, as it appears on the wire.
}

// Function is one entry of the Function section, completed by the matching
// Code section entry once the body is parsed.
type Function struct {
	TypeIndex uint32
	// Index is the internal index unique across imported + defined
	// functions (spec.md §3 "Functions"): imports occupy [0, len(imports)),
	// defined functions occupy [len(imports), len(imports)+len(defined)).
	Index uint32
	// LocalTypes lists the types of declared locals (not parameters), in
	// wire order, each possibly repeated per its run-length count.
	LocalTypes []ValueType
	Body       []byte // Raw, not-yet-decoded instruction stream for this function.
	BodyOffset int    // Byte offset of Body within the original module, for error messages.
}

// ElementSegment initializes a range of the table with function indices.
type ElementSegment struct {
	TableIndex uint32
	Offset     *ConstantExpression
	Init       []uint32 // Function indices; spec.md allows "function-index-or-undefined" per table entry, absent slots from sparse segments stay undefined.
}

// DataSegment initializes a range of linear memory with literal bytes.
type DataSegment struct {
	MemoryIndex uint32
	Offset      *ConstantExpression
	Init        []byte
}

// Global is one entry of the Global section (non-imported globals only; the
// decoder records imported globals as Imports with Kind ExternKindGlobal).
type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// Module is the fully parsed Module Info (spec.md §3), in strict Wasm
// section order. Every slice is indexed by its own section's declaration
// order; Function.Index gives the combined imported+defined numbering used
// everywhere else (calls, exports, elements).
type Module struct {
	Types               []*FunctionType
	Imports             []*Import
	Functions           []*Function // Defined functions only, len(Imports-of-func-kind) already added to .Index.
	ImportedFunctionCount uint32
	Table               *TableType
	Memory              *MemoryType
	ImportedMemory      bool
	ImportedTable       bool
	Globals             []*Global
	ImportedGlobalCount uint32
	Exports             []*Export
	ExportsByName       map[string]*Export
	StartFunctionIndex  *uint32
	ElementSegments      []*ElementSegment
	DataSegments         []*DataSegment
	NameSection          map[uint32]string // wasm function index -> name, from the custom "name" section (§4.2).
}

// FunctionTypeIndex returns the declared FunctionType for a combined
// function index, whether it is an import or a defined function.
func (m *Module) FunctionTypeIndex(funcIdx uint32) uint32 {
	if funcIdx < m.ImportedFunctionCount {
		var seen uint32
		for _, imp := range m.Imports {
			if imp.Kind != ExternKindFunc {
				continue
			}
			if seen == funcIdx {
				return imp.TypeIndex
			}
			seen++
		}
		panic("BUG: imported function index out of range")
	}
	return m.Functions[funcIdx-m.ImportedFunctionCount].TypeIndex
}

// FunctionTypeOf resolves a function index straight to its *FunctionType.
func (m *Module) FunctionTypeOf(funcIdx uint32) *FunctionType {
	return m.Types[m.FunctionTypeIndex(funcIdx)]
}

// NumFunctions is imported + defined function count.
func (m *Module) NumFunctions() uint32 {
	return m.ImportedFunctionCount + uint32(len(m.Functions))
}
