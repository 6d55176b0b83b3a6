// Package leb128 implements the bytecode reader described in spec.md §4.1:
// a sequential, bounds-checked cursor over a read-only byte span, plus
// unsigned/signed LEB128 decoding up to 64 bits.
package leb128

import (
	"errors"
	"fmt"
)

// ErrUnexpectedEOF is wrapped into every error raised when a read would run
// past the end of the input.
var ErrUnexpectedEOF = errors.New("unexpected end of input")

// ErrInvalidLEB128 is wrapped into every error raised when a LEB128-encoded
// integer is malformed: too many continuation bytes, or disallowed bits set
// in the final byte (spec.md §4.1: "more than the allowed bits set in the
// final continuation byte").
var ErrInvalidLEB128 = errors.New("invalid LEB128 encoding")

// Reader is a sequential cursor over a byte span. It never copies the span;
// all reads return views or scalars decoded in place.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps b for sequential reading starting at offset 0.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// NewReaderFromBytes is an alias of NewReader kept for call sites (constant
// expression evaluation) that read a short, already-extracted byte slice
// rather than the whole module.
func NewReaderFromBytes(b []byte) *Reader {
	return NewReader(b)
}

// Position returns the current cursor offset, used by the validator to
// attach a byte offset to error messages and by the frontend driver to
// record section boundaries.
func (r *Reader) Position() int { return r.pos }

// Len returns the number of unread bytes remaining.
func (r *Reader) Len() int { return len(r.buf) - r.pos }

// JumpTo moves the cursor to an absolute offset. Used when a section's
// declared size lets the frontend driver skip over an unparsed custom
// section.
func (r *Reader) JumpTo(p int) error {
	if p < 0 || p > len(r.buf) {
		return fmt.Errorf("jump_to %d: %w", p, ErrUnexpectedEOF)
	}
	r.pos = p
	return nil
}

// Step advances the cursor by n bytes without interpreting them, failing if
// that would run past the end of input.
func (r *Reader) Step(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return fmt.Errorf("step %d at offset %d: %w", n, r.pos, ErrUnexpectedEOF)
	}
	r.pos += n
	return nil
}

// ReadByte reads a single byte and advances the cursor by one. Implements
// io.ByteReader so the free-function LEB128 decoders in this package (and
// any embedder-supplied byte source) can share one interface.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("read byte at offset %d: %w", r.pos, ErrUnexpectedEOF)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// Slice returns a view of the bytes in [start, end) of the underlying span,
// without moving the cursor. Used to recover the raw operand bytes of a
// constant expression after the fact, since the reader itself only exposes
// forward reads.
func (r *Reader) Slice(start, end int) []byte {
	return r.buf[start:end]
}

// ReadBytes reads and returns a view of the next n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("read %d bytes at offset %d: %w", n, r.pos, ErrUnexpectedEOF)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadLEU32 reads an unsigned LEB128-encoded uint32.
func (r *Reader) ReadLEU32() (uint32, error) {
	v, err := DecodeUint32(r)
	return v, err
}

// ReadLEU64 reads an unsigned LEB128-encoded uint64, used for i64.const and
// other 64-bit immediates.
func (r *Reader) ReadLEU64() (uint64, error) {
	return DecodeUint64(r)
}

// ReadLES32 reads a signed LEB128-encoded int32, sign-extended internally to
// 64 bits before truncation per spec.md §4.1.
func (r *Reader) ReadLES32() (int32, error) {
	v, err := DecodeInt32(r)
	return v, err
}

// ReadLES64 reads a signed LEB128-encoded int64.
func (r *Reader) ReadLES64() (int64, error) {
	return DecodeInt64(r)
}

// ReadLEU32AsInt32 reads the raw bit pattern of a LEB128 unsigned 32-bit
// value and reinterprets it as int32, used for block-type byte encodings
// that pack a signed small-int space (single-result shorthand) alongside an
// unsigned type-index space; see wasm.BlockType.
func (r *Reader) ReadLEU32AsInt32() (int32, error) {
	v, err := DecodeUint32(r)
	return int32(v), err
}

// ReadFloat32 reads a raw (non-LEB128) little-endian 4-byte IEEE-754 value,
// as used by f32.const.
func (r *Reader) ReadFloat32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return leU32(b), nil
}

// ReadFloat64 reads a raw little-endian 8-byte IEEE-754 value (f64.const).
func (r *Reader) ReadFloat64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return leU64(b), nil
}

// ReadLEU32Fixed reads a raw fixed-width little-endian uint32 (not LEB128),
// as used by the Wasm module header's magic and version words and by
// f32.const immediates.
func (r *Reader) ReadLEU32Fixed() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return leU32(b), nil
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
