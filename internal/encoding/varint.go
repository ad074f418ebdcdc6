package encoding

import "errors"

// ErrVI128Overflow reports an encoded integer wider than 32 bits.
var ErrVI128Overflow = errors.New("vi128: value overflows 32 bits")

// ErrVI128Truncated reports an encoding that ends inside a continuation run.
var ErrVI128Truncated = errors.New("vi128: truncated input")

// MaxVI128Len32 is the longest encoding of a 32-bit value.
const MaxVI128Len32 = 5

// SizeVI128 returns the number of bytes the continuation-bit encoding of v takes:
// seven payload bits per byte, high bit set on every byte except the last.
func SizeVI128(v uint32) int {
	switch {
	case v < 1<<7:
		return 1
	case v < 1<<14:
		return 2
	case v < 1<<21:
		return 3
	case v < 1<<28:
		return 4
	default:
		return 5
	}
}

// AppendVI128 appends the continuation-bit encoding of v to dst.
func AppendVI128(dst []byte, v uint32) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// PutVI128 writes v into buf, which must hold SizeVI128(v) bytes, and returns
// the number of bytes written.
func PutVI128(buf []byte, v uint32) int {
	i := 0
	for v >= 0x80 {
		buf[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	buf[i] = byte(v)
	return i + 1
}

// DecodeVI128 decodes a value from the front of buf and returns it with the
// number of bytes consumed.
func DecodeVI128(buf []byte) (uint32, int, error) {
	var v uint32
	var shift uint
	for i, b := range buf {
		if i == MaxVI128Len32 || (i == MaxVI128Len32-1 && b > 0x0f) {
			return 0, 0, ErrVI128Overflow
		}
		v |= uint32(b&0x7f) << shift
		if b < 0x80 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrVI128Truncated
}
