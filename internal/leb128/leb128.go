package leb128

import "io"

// maxVarintLen64 bounds how many continuation bytes a 64-bit LEB128 value
// can legally occupy (ceil(64/7) = 10); anything longer is malformed input
// rather than a signal to keep reading indefinitely.
const maxVarintLen64 = 10

// DecodeUint32 decodes an unsigned LEB128 value into a uint32, failing if
// the encoded value does not fit or if trailing bits of the final byte are
// set beyond what 32 bits allow.
func DecodeUint32(r io.ByteReader) (uint32, error) {
	v, err := decodeUint(r, 32)
	return uint32(v), err
}

// DecodeUint64 decodes an unsigned LEB128 value into a uint64.
func DecodeUint64(r io.ByteReader) (uint64, error) {
	return decodeUint(r, 64)
}

// DecodeInt32 decodes a signed LEB128 value, sign-extending to 64 bits
// internally before truncating to int32, exactly as spec.md §4.1 requires.
func DecodeInt32(r io.ByteReader) (int32, error) {
	v, err := decodeInt(r, 32)
	return int32(v), err
}

// DecodeInt64 decodes a signed LEB128 value into an int64.
func DecodeInt64(r io.ByteReader) (int64, error) {
	return decodeInt(r, 64)
}

func decodeUint(r io.ByteReader, width uint) (uint64, error) {
	var result uint64
	var shift uint
	for i := 0; i < maxVarintLen64; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if width-shift < 7 {
				// Reject set bits beyond the requested width in the final byte.
				if uint64(b&0x7f)>>(width-shift) != 0 {
					return 0, ErrInvalidLEB128
				}
			}
			return result, nil
		}
		shift += 7
		if shift >= width {
			return 0, ErrInvalidLEB128 // a further byte could only carry bits beyond width.
		}
	}
	return 0, ErrInvalidLEB128
}

func decodeInt(r io.ByteReader, width uint) (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for i := 0; i < maxVarintLen64; i++ {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		if b&0x80 == 0 && width-shift < 7 {
			// The final byte's bits above the requested width must all
			// repeat the value's sign bit.
			mask := byte(0x7f<<(width-shift-1)) & 0x7f
			if v := b & mask; v != 0 && v != mask {
				return 0, ErrInvalidLEB128
			}
		}
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= width {
			return 0, ErrInvalidLEB128
		}
	}
	// Sign-extend over the full 64 bits using the sign bit of the last byte
	// read, then truncate to the requested width.
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	if width < 64 {
		// Truncate to width bits, preserving two's-complement meaning.
		mask := int64(1)<<width - 1
		result &= mask
		if result&(int64(1)<<(width-1)) != 0 {
			result |= ^mask
		}
	}
	return result, nil
}
