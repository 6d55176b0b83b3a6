package binaryformat

import (
	"bytes"
	"encoding/binary"
)

// Encode serializes m into a Binary Module, forward from offset 0: function
// bodies first, trailer last. Every variable-length field is padded so it
// both starts and ends on a 4-byte boundary (spec.md §8 invariant 2); the
// padding lives inside putBytes rather than being the caller's concern.
func Encode(m *Module) []byte {
	var buf bytes.Buffer

	// 12. Function bodies. spec.md §6.2 describes this section as having no
	// count of its own ("bodies fill the remaining forward space up to
	// binary start"), which only a strictly backward-walking reader that
	// has already bounded every later section could resolve; since this
	// decoder anchors itself at offset 0 via the trailer's module_size and
	// walks forward instead (see decoder.go), a leading count is added here
	// for that forward walk to know where the bodies section ends.
	putU32(&buf, uint32(len(m.FunctionBodies)))
	for _, fb := range m.FunctionBodies {
		putU32(&buf, uint32(len(fb.Code)))
		putBytes(&buf, fb.Code)
	}

	// 11. Initial linear memory data.
	putU32(&buf, uint32(len(m.DataSegments)))
	for _, d := range m.DataSegments {
		putU32(&buf, d.Offset)
		putU32(&buf, uint32(len(d.Bytes)))
		putBytes(&buf, d.Bytes)
	}

	// 10. Function names.
	namesStart := buf.Len()
	putU32(&buf, 0) // section_size placeholder, patched below.
	putU32(&buf, uint32(len(m.FunctionNames)))
	for _, n := range m.FunctionNames {
		putU32(&buf, n.WasmFunctionIndex)
		putString(&buf, n.Name)
	}
	patchSectionSize(&buf, namesStart)

	// 9. Start function.
	startStart := buf.Len()
	if m.Start == nil {
		putU32(&buf, 0)
	} else {
		putU32(&buf, 0) // placeholder.
		putString(&buf, m.Start.Signature)
		putU32(&buf, uint32(len(m.Start.Wrapper)))
		putBytes(&buf, m.Start.Wrapper)
		patchSectionSize(&buf, startStart)
	}

	// 8. Mutable non-exported globals.
	mutStart := buf.Len()
	putU32(&buf, 0) // placeholder.
	putU32(&buf, uint32(len(m.MutableGlobals)))
	for _, g := range m.MutableGlobals {
		buf.WriteByte(0)
		buf.WriteByte(0)
		buf.WriteByte(0) // 3-byte padding before the type byte, per spec.md layout.
		buf.WriteByte(g.Type)
		putU32(&buf, g.LinkDataOffset)
		putValueWidth(&buf, g.Type, g.InitialValue)
	}
	patchSectionSize(&buf, mutStart)

	// 7. Dynamically imported functions.
	dynStart := buf.Len()
	putU32(&buf, 0) // placeholder.
	putU32(&buf, uint32(len(m.DynamicImports)))
	for _, imp := range m.DynamicImports {
		putString(&buf, imp.ModuleName)
		putString(&buf, imp.FunctionName)
		putString(&buf, imp.Signature)
		putU32(&buf, imp.LinkDataOffset)
	}
	patchSectionSize(&buf, dynStart)

	// 6. Linear memory.
	putU32(&buf, m.LinearMemoryInitialPages)

	// 5. Exported globals.
	expGlobalsStart := buf.Len()
	putU32(&buf, 0) // placeholder.
	putU32(&buf, uint32(len(m.ExportedGlobals)))
	for _, g := range m.ExportedGlobals {
		putString(&buf, g.Name)
		buf.WriteByte(0)
		buf.WriteByte(0) // 2-byte padding before the type char, per spec.md layout.
		buf.WriteByte(g.TypeChar)
		if g.Mutable {
			buf.WriteByte(1)
			putU32(&buf, g.LinkDataOffset)
		} else {
			buf.WriteByte(0)
			putValueWidth(&buf, g.TypeChar, g.ConstantValue)
		}
	}
	patchSectionSize(&buf, expGlobalsStart)

	// 4. Exported functions.
	expFuncStart := buf.Len()
	putU32(&buf, 0) // placeholder.
	putU32(&buf, uint32(len(m.ExportedFunctions)))
	for _, f := range m.ExportedFunctions {
		putU32(&buf, f.WasmIndex)
		putString(&buf, f.Name)
		putString(&buf, f.Signature)
		putU32(&buf, uint32(len(f.Wrapper)))
		putBytes(&buf, f.Wrapper)
	}
	patchSectionSize(&buf, expFuncStart)

	// 3. Link status.
	putU32(&buf, uint32(len(m.LinkStatus)))
	linkStart := buf.Len()
	for _, linked := range m.LinkStatus {
		if linked {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	padAlign(&buf, linkStart)

	// 2. Table.
	putU32(&buf, uint32(len(m.Table)))
	for _, e := range m.Table {
		putU32(&buf, e.SignatureIndex)
		putU32(&buf, e.FunctionBodyOffset)
	}

	// 1. Table-entry function offsets.
	putU32(&buf, uint32(len(m.TableEntryFunctionOffsets)))
	for _, off := range m.TableEntryFunctionOffsets {
		putU32(&buf, off)
	}

	// Landing-pad self-relative offset, immediately before the trailer.
	landingPadFieldPos := buf.Len()
	if m.LandingPadOffset == NoOffset {
		putU32(&buf, NoOffset)
	} else {
		putU32(&buf, uint32(landingPadFieldPos)-m.LandingPadOffset)
	}

	// Trailer.
	flags := m.StacktraceCount & 0x7FFF_FFFF
	if m.DebugMode {
		flags |= 0x8000_0000
	}
	version := m.Version
	if version == 0 {
		version = CurrentVersion
	}
	linkDataSize := linkDataSizeOf(m)
	putU32(&buf, uint32(buf.Len()+TrailerSize)) // module_size_u32 covers the whole module, trailer included.
	putU32(&buf, version)
	putU32(&buf, flags)
	putU32(&buf, linkDataSize)

	return buf.Bytes()
}

// linkDataSizeOf computes the mutable link-data region size this module's
// Runtime must allocate: one slot per imported function, mutable global,
// exported mutable global, plus the fixed bookkeeping fields spec.md §3
// "Runtime State" names (last-frame pointer, linear-memory base/size,
// linked-memory pointer/length, stacktrace ring, generic trap pointer).
// Each slot is a conservative 8 bytes; the exact layout is an
// internal/faultlayer + internal/stacktrace concern, not this package's.
func linkDataSizeOf(m *Module) uint32 {
	const slot = 8
	const fixedSlots = 7 // lastFrame, linMemBase, linMemSize, linkedMemPtr, linkedMemLen, genericTrap, stacktraceRingBase
	n := uint32(len(m.DynamicImports)) + uint32(len(m.MutableGlobals)) + fixedSlots
	for _, g := range m.ExportedGlobals {
		if g.Mutable {
			n++
		}
	}
	return n*slot + m.StacktraceCount*4
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// putBytes writes a byte payload and pads it to a 4-byte boundary with
// zeroes, per spec.md §8 invariant 2.
func putBytes(buf *bytes.Buffer, b []byte) {
	buf.Write(b)
	padAlign(buf, buf.Len()-len(b))
}

// putString writes a length-prefixed, zero-padded string, the shape every
// name field in §6.2 uses (name_len_u32, name (padded)).
func putString(buf *bytes.Buffer, s string) {
	putU32(buf, uint32(len(s)))
	putBytes(buf, []byte(s))
}

// padAlign appends zero bytes so that buf.Len()-start is a multiple of 4.
func padAlign(buf *bytes.Buffer, start int) {
	n := buf.Len() - start
	if rem := n % 4; rem != 0 {
		buf.Write(make([]byte, 4-rem))
	}
}

// patchSectionSize backfills the section_size_u32 placeholder written at
// start with the number of bytes written since, matching the "size covers
// everything after the size field itself" convention the teacher's own
// binary encoder uses for Wasm section sizes.
func patchSectionSize(buf *bytes.Buffer, start int) {
	size := uint32(buf.Len() - start - 4)
	b := buf.Bytes()
	binary.LittleEndian.PutUint32(b[start:start+4], size)
}

// putValueWidth writes v in the width its machine-type byte implies: 4
// bytes for i32/f32, 8 for i64/f64.
func putValueWidth(buf *bytes.Buffer, typeByte byte, v uint64) {
	switch typeByte {
	case 'i', 'f':
		putU32(buf, uint32(v))
	default: // 'I', 'F', or any internal machine-type code wider than 32 bits.
		putU64(buf, v)
	}
}
