package wormhole

import (
	"bytes"
	"fmt"

	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
)

// Iter walks records in key order. It caches a leaf position between calls
// and falls back to a seek on its last position key whenever that leaf has
// changed, been merged away or been reused.
//
// An Iter belongs to the goroutine owning its Ref.
type Iter struct {
	c   *core
	ref *Ref // nil on an Unsafe index

	leaf *leaf
	snap *leafSnap
	ver  uint64
	idx  int

	pos    []byte // every key below pos has been consumed
	seeked bool
	gone   bool
}

func (it *Iter) begin(write bool) int {
	if it.gone {
		panic(fmt.Errorf("%w: use of a destroyed iterator", ErrHandleMisuse))
	}
	if it.ref != nil {
		return it.ref.begin(write)
	}
	return it.c.enter(write)
}

// Seek positions the iterator at the first record whose key is >= key.
func (it *Iter) Seek(key []byte) {
	defer it.c.exit(it.begin(false))
	it.c.stats.RecordSeek()
	it.pos = append(it.pos[:0], key...)
	it.seeked = true
	it.locate(it.pos)
}

// Peek copies the current record into out without advancing. It returns nil
// when the iterator is exhausted or was never seeked.
func (it *Iter) Peek(out *kv.Record) *kv.Record {
	defer it.c.exit(it.begin(false))
	if !it.settle() {
		return nil
	}
	return kv.Dup2(it.snap.kvs[it.idx], out)
}

// Valid reports whether a record is available at the current position.
func (it *Iter) Valid() bool {
	defer it.c.exit(it.begin(false))
	return it.settle()
}

// Next copies the current record into out and advances past it.
func (it *Iter) Next(out *kv.Record) *kv.Record {
	defer it.c.exit(it.begin(false))
	if !it.settle() {
		return nil
	}
	r := it.snap.kvs[it.idx]
	out = kv.Dup2(r, out)
	it.consume(r)
	return out
}

// Skip advances past up to n records without copying them.
func (it *Iter) Skip(n int) {
	defer it.c.exit(it.begin(false))
	for n > 0 && it.settle() {
		k := min(n, len(it.snap.kvs)-it.idx)
		it.idx += k - 1
		it.consume(it.snap.kvs[it.idx])
		n -= k
	}
}

// Inplace runs fn on the record at the current position. The position does
// not move. It reports false when there is no current record.
func (it *Iter) Inplace(fn InplaceFunc) bool {
	defer it.c.exit(it.begin(true))
	if !it.settle() {
		return false
	}
	key := it.snap.kvs[it.idx].Key()
	env := it.c.newEnv(nil)
	if it.ref != nil {
		env = it.ref.env
	}
	// The leaf changes under us; the next call re-seeks at pos.
	ok, err := it.c.inplace(&env, key, fn)
	return ok && err == nil
}

// Park drops the cached leaf position. The iterator keeps its place and
// re-seeks on the next call.
func (it *Iter) Park() {
	if it.gone {
		panic(fmt.Errorf("%w: park of a destroyed iterator", ErrHandleMisuse))
	}
	it.drop()
}

// Destroy releases the iterator.
func (it *Iter) Destroy() {
	if it.gone {
		panic(fmt.Errorf("%w: double destroy of an iterator", ErrHandleMisuse))
	}
	it.drop()
	it.gone = true
}

func (it *Iter) drop() {
	it.leaf, it.snap = nil, nil
}

func (it *Iter) consume(r *kv.Record) {
	it.pos = append(append(it.pos[:0], r.Key()...), 0)
	it.idx++
}

// locate positions the cursor in the leaf holding at, at the first record
// >= pos.
func (it *Iter) locate(at []byte) {
	l, s := it.c.leafFor(at)
	i, _ := s.search(it.pos)
	it.leaf, it.snap, it.ver, it.idx = l, s, s.version, i
}

func (it *Iter) valid() bool {
	l := it.leaf
	return l != nil && !l.dead.Load() && l.snap.Load() == it.snap && it.snap.version == it.ver
}

// settle brings the cursor onto a record and reports whether there is one.
func (it *Iter) settle() bool {
	if !it.seeked {
		return false
	}
	if !it.valid() {
		it.locate(it.pos)
	}
	for it.idx >= len(it.snap.kvs) {
		n := it.leaf.next.Load()
		if n == nil {
			return false
		}
		at := n.anchor
		if bytes.Compare(it.pos, at) > 0 {
			at = it.pos
		}
		it.locate(at)
	}
	return true
}
