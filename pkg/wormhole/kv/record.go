// Package kv defines the record unit stored by the wormhole index together
// with the hashing, comparison, copy and encoding helpers around it.
package kv

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// HeaderSize is the accounted size of a record header (two lengths and a hash).
const HeaderSize = 16

// Record is a key/value pair with a precomputed key hash. Records are ordered
// by key bytes; the hash is only a fast inequality filter.
//
// A record handed to an index belongs to the index from then on. Records read
// back through a borrow stay valid until the next structural change observed
// by the reading handle.
type Record struct {
	klen uint32
	vlen uint32
	hash uint64
	buf  []byte // key || value, len(buf) == klen+vlen
}

// HashKey returns the hash used for records and anchor-trie probes.
func HashKey(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// New creates a heap record holding copies of key and value.
func New(key, value []byte) *Record {
	r := &Record{buf: make([]byte, 0, len(key)+len(value))}
	r.Refill(key, value)
	return r
}

// NewStr creates a heap record from string key and value.
func NewStr(key, value string) *Record {
	return New([]byte(key), []byte(value))
}

// NewKey creates a key-only record, the form expected by lookups.
func NewKey(key []byte) *Record {
	return New(key, nil)
}

// Refill overwrites r with key and value, growing its buffer if needed, and
// recomputes the hash.
func (r *Record) Refill(key, value []byte) {
	n := len(key) + len(value)
	if cap(r.buf) < n {
		r.buf = make([]byte, n)
	}
	r.buf = r.buf[:n]
	copy(r.buf, key)
	copy(r.buf[len(key):], value)
	r.klen = uint32(len(key))
	r.vlen = uint32(len(value))
	r.UpdateHash()
}

// RefillStrStr is Refill for string arguments.
func (r *Record) RefillStrStr(key, value string) {
	r.Refill([]byte(key), []byte(value))
}

// RefillStrU64 stores value as eight little-endian bytes.
func (r *Record) RefillStrU64(key string, value uint64) {
	var v [8]byte
	binary.LittleEndian.PutUint64(v[:], value)
	r.Refill([]byte(key), v[:])
}

// UpdateHash recomputes the key hash after the key bytes were changed.
func (r *Record) UpdateHash() {
	r.hash = HashKey(r.Key())
}

// Key returns the key bytes. The slice aliases the record.
func (r *Record) Key() []byte { return r.buf[:r.klen:r.klen] }

// Value returns the value bytes. The slice aliases the record, so an in-place
// update callback may rewrite it without changing its length.
func (r *Record) Value() []byte { return r.buf[r.klen : r.klen+r.vlen : r.klen+r.vlen] }

// KeyLen returns the key length.
func (r *Record) KeyLen() uint32 { return r.klen }

// ValueLen returns the value length.
func (r *Record) ValueLen() uint32 { return r.vlen }

// Hash returns the precomputed key hash.
func (r *Record) Hash() uint64 { return r.hash }

// Cap returns the payload capacity of the record buffer.
func (r *Record) Cap() int { return cap(r.buf) }

// Size returns the accounted size of the record: header plus key and value.
func (r *Record) Size() int {
	return HeaderSize + int(r.klen) + int(r.vlen)
}

// SizeAlign returns Size rounded up to a multiple of align.
func (r *Record) SizeAlign(align int) int {
	return alignUp(r.Size(), align)
}

// KeySize returns the accounted size of the key-only form of the record.
func (r *Record) KeySize() int {
	return HeaderSize + int(r.klen)
}

// KeySizeAlign returns KeySize rounded up to a multiple of align.
func (r *Record) KeySizeAlign(align int) int {
	return alignUp(r.KeySize(), align)
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// Dup returns a heap copy of r.
func Dup(r *Record) *Record {
	return New(r.Key(), r.Value())
}

// DupKey returns a heap copy of the key of r with an empty value.
func DupKey(r *Record) *Record {
	return New(r.Key(), nil)
}

// Dup2 copies from into to, reusing the buffer of to when it is large enough.
// A nil to allocates a new record.
func Dup2(from, to *Record) *Record {
	if to == nil {
		return Dup(from)
	}
	to.refillKnown(from.Key(), from.Value(), from.hash)
	return to
}

// Dup2Key copies only the key of from into to.
func Dup2Key(from, to *Record) *Record {
	if to == nil {
		return DupKey(from)
	}
	to.refillKnown(from.Key(), nil, from.hash)
	return to
}

// Dup2KeyPrefix copies the first plen key bytes of from into to and rehashes.
// plen is clamped to the key length.
func Dup2KeyPrefix(from, to *Record, plen int) *Record {
	if plen > int(from.klen) {
		plen = int(from.klen)
	}
	if to == nil {
		return NewKey(from.Key()[:plen])
	}
	to.Refill(from.Key()[:plen], nil)
	return to
}

// CopyValue copies the value of from into dst, growing it as needed, and
// returns the filled slice.
func CopyValue(from *Record, dst []byte) []byte {
	n := int(from.vlen)
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	copy(dst, from.Value())
	return dst
}

func (r *Record) refillKnown(key, value []byte, hash uint64) {
	n := len(key) + len(value)
	if cap(r.buf) < n {
		r.buf = make([]byte, n)
	}
	r.buf = r.buf[:n]
	copy(r.buf, key)
	copy(r.buf[len(key):], value)
	r.klen = uint32(len(key))
	r.vlen = uint32(len(value))
	r.hash = hash
}

// CopyInto fills to, whose buffer must hold from.KeyLen()+from.ValueLen()
// bytes, with the contents of from. Used by allocators handing out buffers.
func CopyInto(from, to *Record) {
	to.refillKnown(from.Key(), from.Value(), from.hash)
}

// KeyMatch reports whether both records carry the same key. The hash is
// compared first.
func KeyMatch(a, b *Record) bool {
	return a.hash == b.hash && a.klen == b.klen && bytes.Equal(a.Key(), b.Key())
}

// KeyMatchBytes reports whether r carries key, given its precomputed hash.
func KeyMatchBytes(r *Record, key []byte, hash uint64) bool {
	return r.hash == hash && int(r.klen) == len(key) && bytes.Equal(r.Key(), key)
}

// FullMatch reports whether both records carry the same key and value.
func FullMatch(a, b *Record) bool {
	return KeyMatch(a, b) && bytes.Equal(a.Value(), b.Value())
}
