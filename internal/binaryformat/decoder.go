package binaryformat

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is wrapped into every error raised when a read would run
// past the end of the buffer, or the trailer's module_size disagrees with
// the buffer actually supplied.
var ErrTruncated = errors.New("truncated binary module")

// Decode parses a Binary Module. It anchors itself using the 16-byte
// trailer at the tail of buf (module_size, version, flags, link_data_size)
// and then walks forward from offset 0, mirroring Encode's write order
// section by section — the trailer is what makes the format "tail
// readable" (a reader never needs a header to begin), not a requirement
// that every field be decoded in strict reverse byte order.
func Decode(buf []byte) (*Module, error) {
	if len(buf) < TrailerSize+4 {
		return nil, fmt.Errorf("buffer shorter than trailer: %w", ErrTruncated)
	}
	trailer := buf[len(buf)-TrailerSize:]
	moduleSize := binary.LittleEndian.Uint32(trailer[0:4])
	version := binary.LittleEndian.Uint32(trailer[4:8])
	flags := binary.LittleEndian.Uint32(trailer[8:12])
	// linkDataSize (trailer[12:16]) is recomputed by the Runtime from the
	// decoded sections rather than trusted blindly from an on-disk value;
	// a caller that wants the raw stored value can read trailer[12:16]
	// itself.
	if int(moduleSize) != len(buf) {
		return nil, fmt.Errorf("trailer module_size %d does not match buffer length %d: %w", moduleSize, len(buf), ErrTruncated)
	}

	d := &decoderCursor{buf: buf}
	m := &Module{
		Version:         version,
		DebugMode:       flags&0x8000_0000 != 0,
		StacktraceCount: flags & 0x7FFF_FFFF,
	}

	numBodies, err := d.u32()
	if err != nil {
		return nil, err
	}
	m.FunctionBodies = make([]FunctionBody, numBodies)
	for i := range m.FunctionBodies {
		size, err := d.u32()
		if err != nil {
			return nil, err
		}
		code, err := d.bytes(int(size))
		if err != nil {
			return nil, err
		}
		m.FunctionBodies[i] = FunctionBody{Code: code}
	}

	numData, err := d.u32()
	if err != nil {
		return nil, err
	}
	m.DataSegments = make([]DataInit, numData)
	for i := range m.DataSegments {
		offset, err := d.u32()
		if err != nil {
			return nil, err
		}
		size, err := d.u32()
		if err != nil {
			return nil, err
		}
		data, err := d.bytes(int(size))
		if err != nil {
			return nil, err
		}
		m.DataSegments[i] = DataInit{Offset: offset, Bytes: data}
	}

	if _, err := d.sectionSize(); err != nil {
		return nil, err
	}
	numNames, err := d.u32()
	if err != nil {
		return nil, err
	}
	m.FunctionNames = make([]FunctionName, numNames)
	for i := range m.FunctionNames {
		idx, err := d.u32()
		if err != nil {
			return nil, err
		}
		name, err := d.str()
		if err != nil {
			return nil, err
		}
		m.FunctionNames[i] = FunctionName{WasmFunctionIndex: idx, Name: name}
	}

	startSize, err := d.sectionSize()
	if err != nil {
		return nil, err
	}
	if startSize > 0 {
		sig, err := d.str()
		if err != nil {
			return nil, err
		}
		wrapperSize, err := d.u32()
		if err != nil {
			return nil, err
		}
		wrapper, err := d.bytes(int(wrapperSize))
		if err != nil {
			return nil, err
		}
		m.Start = &StartFunction{Signature: sig, Wrapper: wrapper}
	}

	if _, err := d.sectionSize(); err != nil {
		return nil, err
	}
	numMut, err := d.u32()
	if err != nil {
		return nil, err
	}
	m.MutableGlobals = make([]MutableGlobal, numMut)
	for i := range m.MutableGlobals {
		if _, err := d.bytes(3); err != nil { // 3-byte padding before the type byte.
			return nil, err
		}
		typeByte, err := d.u8()
		if err != nil {
			return nil, err
		}
		linkOff, err := d.u32()
		if err != nil {
			return nil, err
		}
		value, err := d.valueWidth(typeByte)
		if err != nil {
			return nil, err
		}
		m.MutableGlobals[i] = MutableGlobal{Type: typeByte, LinkDataOffset: linkOff, InitialValue: value}
	}

	if _, err := d.sectionSize(); err != nil {
		return nil, err
	}
	numDyn, err := d.u32()
	if err != nil {
		return nil, err
	}
	m.DynamicImports = make([]ImportedFunction, numDyn)
	for i := range m.DynamicImports {
		modName, err := d.str()
		if err != nil {
			return nil, err
		}
		fnName, err := d.str()
		if err != nil {
			return nil, err
		}
		sig, err := d.str()
		if err != nil {
			return nil, err
		}
		linkOff, err := d.u32()
		if err != nil {
			return nil, err
		}
		m.DynamicImports[i] = ImportedFunction{ModuleName: modName, FunctionName: fnName, Signature: sig, LinkDataOffset: linkOff}
	}

	linMem, err := d.u32()
	if err != nil {
		return nil, err
	}
	m.LinearMemoryInitialPages = linMem

	if _, err := d.sectionSize(); err != nil {
		return nil, err
	}
	numExpGlobals, err := d.u32()
	if err != nil {
		return nil, err
	}
	m.ExportedGlobals = make([]ExportedGlobal, numExpGlobals)
	for i := range m.ExportedGlobals {
		name, err := d.str()
		if err != nil {
			return nil, err
		}
		if _, err := d.bytes(2); err != nil { // 2-byte padding before the type char.
			return nil, err
		}
		typeChar, err := d.u8()
		if err != nil {
			return nil, err
		}
		mutByte, err := d.u8()
		if err != nil {
			return nil, err
		}
		g := ExportedGlobal{Name: name, TypeChar: typeChar, Mutable: mutByte != 0}
		if g.Mutable {
			off, err := d.u32()
			if err != nil {
				return nil, err
			}
			g.LinkDataOffset = off
		} else {
			val, err := d.valueWidth(typeChar)
			if err != nil {
				return nil, err
			}
			g.ConstantValue = val
		}
		m.ExportedGlobals[i] = g
	}

	if _, err := d.sectionSize(); err != nil {
		return nil, err
	}
	numExpFuncs, err := d.u32()
	if err != nil {
		return nil, err
	}
	m.ExportedFunctions = make([]ExportedFunction, numExpFuncs)
	for i := range m.ExportedFunctions {
		idx, err := d.u32()
		if err != nil {
			return nil, err
		}
		name, err := d.str()
		if err != nil {
			return nil, err
		}
		sig, err := d.str()
		if err != nil {
			return nil, err
		}
		wrapperSize, err := d.u32()
		if err != nil {
			return nil, err
		}
		wrapper, err := d.bytes(int(wrapperSize))
		if err != nil {
			return nil, err
		}
		m.ExportedFunctions[i] = ExportedFunction{WasmIndex: idx, Name: name, Signature: sig, Wrapper: wrapper}
	}

	numImportedFuncs, err := d.u32()
	if err != nil {
		return nil, err
	}
	linkStatusStart := d.pos
	m.LinkStatus = make([]bool, numImportedFuncs)
	for i := range m.LinkStatus {
		b, err := d.u8()
		if err != nil {
			return nil, err
		}
		m.LinkStatus[i] = b != 0
	}
	if err := d.skipPad(linkStatusStart); err != nil {
		return nil, err
	}

	numTable, err := d.u32()
	if err != nil {
		return nil, err
	}
	m.Table = make([]TableEntry, numTable)
	for i := range m.Table {
		sigIdx, err := d.u32()
		if err != nil {
			return nil, err
		}
		bodyOff, err := d.u32()
		if err != nil {
			return nil, err
		}
		m.Table[i] = TableEntry{SignatureIndex: sigIdx, FunctionBodyOffset: bodyOff}
	}

	numTableOffsets, err := d.u32()
	if err != nil {
		return nil, err
	}
	m.TableEntryFunctionOffsets = make([]uint32, numTableOffsets)
	for i := range m.TableEntryFunctionOffsets {
		off, err := d.u32()
		if err != nil {
			return nil, err
		}
		m.TableEntryFunctionOffsets[i] = off
	}

	landingPadFieldPos := d.pos
	rawLandingPad, err := d.u32()
	if err != nil {
		return nil, err
	}
	if rawLandingPad == NoOffset {
		m.LandingPadOffset = NoOffset
	} else {
		m.LandingPadOffset = uint32(landingPadFieldPos) - rawLandingPad
	}

	if d.pos != len(buf)-TrailerSize {
		return nil, fmt.Errorf("decoded %d bytes, expected to land exactly before the trailer at %d: %w", d.pos, len(buf)-TrailerSize, ErrTruncated)
	}

	return m, nil
}

// decoderCursor is a minimal forward cursor over the Binary Module buffer,
// mirroring internal/leb128.Reader's shape but kept local to this package
// since none of these fields are LEB128-encoded.
type decoderCursor struct {
	buf []byte
	pos int
}

func (d *decoderCursor) u32() (uint32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, fmt.Errorf("read u32 at offset %d: %w", d.pos, ErrTruncated)
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

func (d *decoderCursor) u64() (uint64, error) {
	if d.pos+8 > len(d.buf) {
		return 0, fmt.Errorf("read u64 at offset %d: %w", d.pos, ErrTruncated)
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return v, nil
}

func (d *decoderCursor) u8() (byte, error) {
	if d.pos+1 > len(d.buf) {
		return 0, fmt.Errorf("read u8 at offset %d: %w", d.pos, ErrTruncated)
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// bytes reads n raw bytes, then skips the zero padding Encode appended so
// the payload ends on a 4-byte boundary.
func (d *decoderCursor) bytes(n int) ([]byte, error) {
	b, err := d.rawBytes(n)
	if err != nil {
		return nil, err
	}
	if rem := n % 4; rem != 0 {
		if _, err := d.rawBytes(4 - rem); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (d *decoderCursor) rawBytes(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, fmt.Errorf("read %d bytes at offset %d: %w", n, d.pos, ErrTruncated)
	}
	b := make([]byte, n)
	copy(b, d.buf[d.pos:d.pos+n])
	d.pos += n
	return b, nil
}

func (d *decoderCursor) str() (string, error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}
	b, err := d.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// sectionSize reads a section_size_u32 header and returns it; callers that
// don't need to skip unparsed content just use it as a presence check (0
// for the optional start-function section).
func (d *decoderCursor) sectionSize() (uint32, error) {
	return d.u32()
}

// skipPad advances past zero padding so d.pos-from is a multiple of 4,
// without allocating a view (used for the link-status byte array, which
// Encode pads directly rather than through putBytes).
func (d *decoderCursor) skipPad(from int) error {
	n := d.pos - from
	if rem := n % 4; rem != 0 {
		_, err := d.rawBytes(4 - rem)
		return err
	}
	return nil
}

func (d *decoderCursor) valueWidth(typeByte byte) (uint64, error) {
	switch typeByte {
	case 'i', 'f':
		v, err := d.u32()
		return uint64(v), err
	default:
		return d.u64()
	}
}
