package kv

import (
	"bytes"

	"github.com/CVDpl/go-live-wormhole/internal/encoding"
)

// VI128Estimate returns the number of bytes VI128Encode writes for r.
func VI128Estimate(r *Record) int {
	return encoding.SizeVI128(r.klen) + encoding.SizeVI128(r.vlen) + int(r.klen) + int(r.vlen)
}

// VI128Encode appends the compact form of r to dst: key length and value
// length as continuation-bit integers followed by the key and value bytes.
func VI128Encode(dst []byte, r *Record) []byte {
	dst = encoding.AppendVI128(dst, r.klen)
	dst = encoding.AppendVI128(dst, r.vlen)
	return append(dst, r.buf...)
}

// VI128Decode decodes one compact record from the front of buf and returns a
// heap record with the number of bytes consumed.
func VI128Decode(buf []byte) (*Record, int, error) {
	key, value, n, err := vi128Split(buf)
	if err != nil {
		return nil, 0, err
	}
	return New(key, value), n, nil
}

// CompareVI128 orders the key of sk against the key of a compact-encoded
// record, without decoding the value.
func CompareVI128(sk *Record, enc []byte) (int, error) {
	key, _, _, err := vi128Split(enc)
	if err != nil {
		return 0, err
	}
	return bytes.Compare(sk.Key(), key), nil
}

func vi128Split(buf []byte) (key, value []byte, n int, err error) {
	klen, a, err := encoding.DecodeVI128(buf)
	if err != nil {
		return nil, nil, 0, err
	}
	vlen, b, err := encoding.DecodeVI128(buf[a:])
	if err != nil {
		return nil, nil, 0, err
	}
	off := a + b
	end := off + int(klen) + int(vlen)
	if end > len(buf) || end < off {
		return nil, nil, 0, encoding.ErrVI128Truncated
	}
	return buf[off : off+int(klen)], buf[off+int(klen) : end], end, nil
}
