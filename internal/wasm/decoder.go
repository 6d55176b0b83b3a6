package wasm

import (
	"fmt"

	"github.com/tetratelabs/wazero-aot/internal/leb128"
)

const (
	magicNumber    = 0x6d736100 // "\0asm" read little-endian as a u32.
	supportedVersion uint32 = 1
)

// sectionID is a Wasm binary section identifier, in the strict order
// spec.md §4.2 requires: 1,2,3,4,5,6,7,8,9,10,11, with custom section 0
// floating between any two.
type sectionID = byte

const (
	sectionCustom sectionID = iota
	sectionType
	sectionImport
	sectionFunction
	sectionTable
	sectionMemory
	sectionGlobal
	sectionExport
	sectionStart
	sectionElement
	sectionCode
	sectionData
)

// canonicalOrder lists the non-custom sections in the order they must
// appear; sectionTable (4) is parsed but does not gate ordering beyond its
// slot since spec.md's Module Info allows at most one table and its
// section is optional like any other.
var canonicalOrder = []sectionID{
	sectionType, sectionImport, sectionFunction, sectionTable, sectionMemory,
	sectionGlobal, sectionExport, sectionStart, sectionElement, sectionCode, sectionData,
}

// Decode parses a Wasm binary into a Module, enforcing section presence-
// order but not instruction-level validation: that is the job of the
// Validator (validator.go), driven by the frontend as it compiles each
// function body, not by this decoder.
func Decode(data []byte) (*Module, error) {
	r := leb128.NewReader(data)

	magic, err := r.ReadLEU32Fixed()
	if err != nil || magic != magicNumber {
		return nil, NewValidationError(0, ErrInvalidMagic)
	}
	version, err := r.ReadLEU32Fixed()
	if err != nil || version != supportedVersion {
		return nil, NewValidationError(4, ErrInvalidVersion)
	}

	m := &Module{ExportsByName: map[string]*Export{}, NameSection: map[uint32]string{}}
	d := &decoderState{m: m, r: r}

	lastOrderIdx := -1
	seen := map[sectionID]bool{}
	for r.Len() > 0 {
		offset := r.Position()
		id, err := r.ReadByte()
		if err != nil {
			return nil, NewValidationError(offset, fmt.Errorf("%w: reading section id", err))
		}
		size, err := r.ReadLEU32()
		if err != nil {
			return nil, NewValidationError(offset, fmt.Errorf("%w: reading section size", err))
		}
		sectionStart := r.Position()

		if id == sectionCustom {
			if err := d.decodeCustomSection(int(size)); err != nil {
				return nil, err
			}
		} else {
			orderIdx := indexOf(canonicalOrder, id)
			if orderIdx < 0 {
				return nil, NewValidationError(offset, fmt.Errorf("%w: unknown section id %d", ErrMalformed, id))
			}
			if seen[id] {
				return nil, NewValidationError(offset, ErrDuplicateSection)
			}
			if orderIdx <= lastOrderIdx {
				return nil, NewValidationError(offset, ErrSectionOutOfOrder)
			}
			lastOrderIdx = orderIdx
			seen[id] = true

			if err := d.decodeSection(id, int(size)); err != nil {
				return nil, err
			}
		}

		if consumed := r.Position() - sectionStart; consumed != int(size) {
			return nil, NewValidationError(sectionStart, fmt.Errorf("%w: section declared %d bytes but %d were consumed", ErrMalformed, size, consumed))
		}
		// post_section_action(id): nothing extra to do beyond bookkeeping
		// above, matching spec.md §4.5 step 2, since Module Info's fields
		// are populated directly by decodeSection itself.
	}
	return m, nil
}

func indexOf(s []sectionID, v sectionID) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

type decoderState struct {
	m *Module
	r *leb128.Reader
}

func (d *decoderState) decodeSection(id sectionID, size int) error {
	switch id {
	case sectionType:
		return d.decodeTypeSection()
	case sectionImport:
		return d.decodeImportSection()
	case sectionFunction:
		return d.decodeFunctionSection()
	case sectionTable:
		return d.decodeTableSection()
	case sectionMemory:
		return d.decodeMemorySection()
	case sectionGlobal:
		return d.decodeGlobalSection()
	case sectionExport:
		return d.decodeExportSection()
	case sectionStart:
		return d.decodeStartSection()
	case sectionElement:
		return d.decodeElementSection()
	case sectionCode:
		return d.decodeCodeSection()
	case sectionData:
		return d.decodeDataSection()
	default:
		return d.r.Step(size)
	}
}

func (d *decoderState) decodeCustomSection(size int) error {
	start := d.r.Position()
	nameLen, err := d.r.ReadLEU32()
	if err != nil {
		return err
	}
	nameBytes, err := d.r.ReadBytes(int(nameLen))
	if err != nil {
		return err
	}
	name := string(nameBytes)
	remaining := size - (d.r.Position() - start)
	if name != "name" {
		return d.r.Step(remaining)
	}
	return d.decodeNameSection(remaining)
}

// decodeNameSection parses only the function-names subsection, per spec.md
// §4.2 "the name custom section is the only one parsed ... the name custom
// section" (further restricted here to the subsection the rest of the
// module actually consumes: function names, used by the stacktrace engine).
func (d *decoderState) decodeNameSection(remaining int) error {
	end := d.r.Position() + remaining
	for d.r.Position() < end {
		subID, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		subSize, err := d.r.ReadLEU32()
		if err != nil {
			return err
		}
		subStart := d.r.Position()
		const nameSubsectionFunctionNames = 1
		if subID == nameSubsectionFunctionNames {
			count, err := d.r.ReadLEU32()
			if err != nil {
				return err
			}
			for i := uint32(0); i < count; i++ {
				idx, err := d.r.ReadLEU32()
				if err != nil {
					return err
				}
				nameLen, err := d.r.ReadLEU32()
				if err != nil {
					return err
				}
				nameBytes, err := d.r.ReadBytes(int(nameLen))
				if err != nil {
					return err
				}
				d.m.NameSection[idx] = string(nameBytes)
			}
		} else if err := d.r.Step(int(subSize)); err != nil {
			return err
		}
		_ = subStart
	}
	return nil
}

func (d *decoderState) decodeValueTypes() ([]ValueType, error) {
	n, err := d.r.ReadLEU32()
	if err != nil {
		return nil, err
	}
	out := make([]ValueType, n)
	for i := range out {
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (d *decoderState) decodeTypeSection() error {
	n, err := d.r.ReadLEU32()
	if err != nil {
		return err
	}
	d.m.Types = make([]*FunctionType, n)
	for i := range d.m.Types {
		form, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		if form != 0x60 {
			return fmt.Errorf("%w: type section entry must start with 0x60, got 0x%x", ErrMalformed, form)
		}
		params, err := d.decodeValueTypes()
		if err != nil {
			return err
		}
		results, err := d.decodeValueTypes()
		if err != nil {
			return err
		}
		if len(results) > 1 {
			return fmt.Errorf("%w: multi-value results", ErrFeatureNotSupported)
		}
		d.m.Types[i] = &FunctionType{Params: params, Results: results}
	}
	return nil
}

func (d *decoderState) decodeLimits() (min uint32, max *uint32, err error) {
	flag, err := d.r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	min, err = d.r.ReadLEU32()
	if err != nil {
		return 0, nil, err
	}
	if flag == 1 {
		m, err := d.r.ReadLEU32()
		if err != nil {
			return 0, nil, err
		}
		max = &m
	}
	return min, max, nil
}

func (d *decoderState) decodeImportSection() error {
	n, err := d.r.ReadLEU32()
	if err != nil {
		return err
	}
	d.m.Imports = make([]*Import, 0, n)
	for i := uint32(0); i < n; i++ {
		mod, err := d.decodeName()
		if err != nil {
			return err
		}
		name, err := d.decodeName()
		if err != nil {
			return err
		}
		kind, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		imp := &Import{Module: mod, Name: name, Kind: ExternKind(kind)}
		switch imp.Kind {
		case ExternKindFunc:
			idx, err := d.r.ReadLEU32()
			if err != nil {
				return err
			}
			imp.TypeIndex = idx
			imp.Index = d.m.ImportedFunctionCount
			d.m.ImportedFunctionCount++
		case ExternKindTable:
			if d.m.ImportedTable || d.m.Table != nil {
				return fmt.Errorf("%w: more than one table", ErrFeatureNotSupported)
			}
			min, max, err := d.decodeLimits()
			if err != nil {
				return err
			}
			elemType, err := d.r.ReadByte()
			_ = elemType
			if err != nil {
				return err
			}
			imp.TableType = &TableType{Min: min, Max: max}
			d.m.Table = imp.TableType
			d.m.ImportedTable = true
		case ExternKindMemory:
			if d.m.ImportedMemory || d.m.Memory != nil {
				return fmt.Errorf("%w: more than one memory", ErrFeatureNotSupported)
			}
			min, max, err := d.decodeLimits()
			if err != nil {
				return err
			}
			imp.MemoryType = &MemoryType{Min: min, Max: max}
			d.m.Memory = imp.MemoryType
			d.m.ImportedMemory = true
		case ExternKindGlobal:
			vt, err := d.r.ReadByte()
			if err != nil {
				return err
			}
			mutByte, err := d.r.ReadByte()
			if err != nil {
				return err
			}
			imp.GlobalType = &GlobalType{ValType: vt, Mutable: mutByte == 1}
			imp.Index = d.m.ImportedGlobalCount
			d.m.ImportedGlobalCount++
		}
		d.m.Imports = append(d.m.Imports, imp)
	}
	return nil
}

func (d *decoderState) decodeName() (string, error) {
	n, err := d.r.ReadLEU32()
	if err != nil {
		return "", err
	}
	b, err := d.r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoderState) decodeFunctionSection() error {
	n, err := d.r.ReadLEU32()
	if err != nil {
		return err
	}
	d.m.Functions = make([]*Function, n)
	for i := range d.m.Functions {
		typeIdx, err := d.r.ReadLEU32()
		if err != nil {
			return err
		}
		d.m.Functions[i] = &Function{TypeIndex: typeIdx, Index: d.m.ImportedFunctionCount + uint32(i)}
	}
	return nil
}

func (d *decoderState) decodeTableSection() error {
	n, err := d.r.ReadLEU32()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if n > 1 || d.m.ImportedTable {
		return fmt.Errorf("%w: more than one table", ErrFeatureNotSupported)
	}
	elemType, err := d.r.ReadByte()
	_ = elemType
	if err != nil {
		return err
	}
	min, max, err := d.decodeLimits()
	if err != nil {
		return err
	}
	d.m.Table = &TableType{Min: min, Max: max}
	return nil
}

func (d *decoderState) decodeMemorySection() error {
	n, err := d.r.ReadLEU32()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if n > 1 || d.m.ImportedMemory {
		return fmt.Errorf("%w: more than one memory", ErrFeatureNotSupported)
	}
	min, max, err := d.decodeLimits()
	if err != nil {
		return err
	}
	d.m.Memory = &MemoryType{Min: min, Max: max}
	return nil
}

func (d *decoderState) decodeConstExpr() (*ConstantExpression, error) {
	start := d.r.Position()
	op, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch op {
	case OpcodeI32Const:
		if _, err := d.r.ReadLES32(); err != nil {
			return nil, err
		}
	case OpcodeI64Const:
		if _, err := d.r.ReadLES64(); err != nil {
			return nil, err
		}
	case OpcodeF32Const:
		if _, err := d.r.ReadFloat32(); err != nil {
			return nil, err
		}
	case OpcodeF64Const:
		if _, err := d.r.ReadFloat64(); err != nil {
			return nil, err
		}
	case OpcodeGlobalGet:
		if _, err := d.r.ReadLEU32(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: opcode 0x%x is not a valid constant expression", ErrMalformed, op)
	}
	operandEnd := d.r.Position()
	end, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if end != OpcodeEnd {
		return nil, fmt.Errorf("%w: constant expression missing end opcode", ErrMalformed)
	}
	_ = start
	// Constant expressions stash their operand bytes (without the leading
	// opcode or trailing end) for later re-evaluation by
	// EvaluateConstantExpression.
	return &ConstantExpression{Opcode: op, Data: d.r.Slice(start+1, operandEnd)}, nil
}

func (d *decoderState) decodeGlobalSection() error {
	n, err := d.r.ReadLEU32()
	if err != nil {
		return err
	}
	d.m.Globals = make([]*Global, n)
	for i := range d.m.Globals {
		vt, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		mutByte, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		init, err := d.decodeConstExpr()
		if err != nil {
			return err
		}
		d.m.Globals[i] = &Global{Type: &GlobalType{ValType: vt, Mutable: mutByte == 1}, Init: init}
	}
	return nil
}

func (d *decoderState) decodeExportSection() error {
	n, err := d.r.ReadLEU32()
	if err != nil {
		return err
	}
	d.m.Exports = make([]*Export, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := d.decodeName()
		if err != nil {
			return err
		}
		kind, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		idx, err := d.r.ReadLEU32()
		if err != nil {
			return err
		}
		if _, dup := d.m.ExportsByName[name]; dup {
			return fmt.Errorf("%w: duplicate export name %q", ErrMalformed, name)
		}
		exp := &Export{Name: name, Kind: ExternKind(kind), Index: idx}
		d.m.Exports = append(d.m.Exports, exp)
		d.m.ExportsByName[name] = exp
	}
	return nil
}

func (d *decoderState) decodeStartSection() error {
	idx, err := d.r.ReadLEU32()
	if err != nil {
		return err
	}
	d.m.StartFunctionIndex = &idx
	return nil
}

func (d *decoderState) decodeElementSection() error {
	n, err := d.r.ReadLEU32()
	if err != nil {
		return err
	}
	d.m.ElementSegments = make([]*ElementSegment, n)
	for i := range d.m.ElementSegments {
		tableIdx, err := d.r.ReadLEU32()
		if err != nil {
			return err
		}
		offset, err := d.decodeConstExpr()
		if err != nil {
			return err
		}
		count, err := d.r.ReadLEU32()
		if err != nil {
			return err
		}
		init := make([]uint32, count)
		for j := range init {
			init[j], err = d.r.ReadLEU32()
			if err != nil {
				return err
			}
		}
		d.m.ElementSegments[i] = &ElementSegment{TableIndex: tableIdx, Offset: offset, Init: init}
	}
	return nil
}

func (d *decoderState) decodeCodeSection() error {
	n, err := d.r.ReadLEU32()
	if err != nil {
		return err
	}
	if int(n) != len(d.m.Functions) {
		return fmt.Errorf("%w: code section count %d does not match function section count %d", ErrMalformed, n, len(d.m.Functions))
	}
	for i := uint32(0); i < n; i++ {
		bodySize, err := d.r.ReadLEU32()
		if err != nil {
			return err
		}
		bodyStart := d.r.Position()
		localCount, err := d.r.ReadLEU32()
		if err != nil {
			return err
		}
		var locals []ValueType
		for j := uint32(0); j < localCount; j++ {
			runLen, err := d.r.ReadLEU32()
			if err != nil {
				return err
			}
			vt, err := d.r.ReadByte()
			if err != nil {
				return err
			}
			for k := uint32(0); k < runLen; k++ {
				locals = append(locals, vt)
			}
		}
		bodyOffset := d.r.Position()
		bodyLen := int(bodySize) - (bodyOffset - bodyStart)
		body, err := d.r.ReadBytes(bodyLen)
		if err != nil {
			return err
		}
		d.m.Functions[i].LocalTypes = locals
		d.m.Functions[i].Body = body
		d.m.Functions[i].BodyOffset = bodyOffset
	}
	return nil
}

func (d *decoderState) decodeDataSection() error {
	n, err := d.r.ReadLEU32()
	if err != nil {
		return err
	}
	d.m.DataSegments = make([]*DataSegment, n)
	for i := range d.m.DataSegments {
		memIdx, err := d.r.ReadLEU32()
		if err != nil {
			return err
		}
		offset, err := d.decodeConstExpr()
		if err != nil {
			return err
		}
		size, err := d.r.ReadLEU32()
		if err != nil {
			return err
		}
		init, err := d.r.ReadBytes(int(size))
		if err != nil {
			return err
		}
		d.m.DataSegments[i] = &DataSegment{MemoryIndex: memIdx, Offset: offset, Init: init}
	}
	return nil
}
