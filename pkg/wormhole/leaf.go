package wormhole

import (
	"bytes"
	"cmp"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
)

// leaf holds a sorted run of records covering [anchor, next.anchor).
//
// In safe mode the record arrays are immutable snapshots swapped in under mu,
// so readers never lock. The snapshot version is the leaf version counter: it
// grows on every published change, including retirement and reuse of the
// leaf object.
type leaf struct {
	anchor []byte // immutable while the leaf is linked
	id     uint64

	mu   sync.Mutex
	snap atomic.Pointer[leafSnap]
	prev atomic.Pointer[leaf]
	next atomic.Pointer[leaf]
	dead atomic.Bool
}

// leafSnap is one version of a leaf's records, in key order and in hash order.
type leafSnap struct {
	version uint64
	kvs     []*kv.Record
	hs      []*kv.Record
}

func (l *leaf) size() int { return len(l.snap.Load().kvs) }

// contains reports whether key falls inside the leaf range. Stable only under
// the leaf lock.
func (l *leaf) contains(key []byte) bool {
	if bytes.Compare(key, l.anchor) < 0 {
		return false
	}
	n := l.next.Load()
	return n == nil || bytes.Compare(key, n.anchor) < 0
}

func compareRecordKey(r *kv.Record, key []byte) int {
	return bytes.Compare(r.Key(), key)
}

func compareHash(a, b *kv.Record) int {
	return cmp.Compare(a.Hash(), b.Hash())
}

// search returns the position of key in key order and whether it is present.
func (s *leafSnap) search(key []byte) (int, bool) {
	return slices.BinarySearchFunc(s.kvs, key, compareRecordKey)
}

// lookup finds key through the hash-ordered array; hashes only filter and a
// candidate is accepted on full key equality.
func (s *leafSnap) lookup(key []byte, hash uint64) *kv.Record {
	hs := s.hs
	i := sort.Search(len(hs), func(i int) bool { return hs[i].Hash() >= hash })
	for ; i < len(hs) && hs[i].Hash() == hash; i++ {
		if kv.KeyMatchBytes(hs[i], key, hash) {
			return hs[i]
		}
	}
	return nil
}

// hashSlot returns the index of r in the hash-ordered array.
func (s *leafSnap) hashSlot(r *kv.Record) int {
	h := r.Hash()
	hs := s.hs
	i := sort.Search(len(hs), func(i int) bool { return hs[i].Hash() >= h })
	for ; i < len(hs); i++ {
		if hs[i] == r {
			return i
		}
	}
	return -1
}

func (s *leafSnap) hashInsertPos(r *kv.Record) int {
	h := r.Hash()
	hs := s.hs
	return sort.Search(len(hs), func(i int) bool { return hs[i].Hash() > h })
}

// newSnap builds a snapshot over kvs, which must already be in key order.
func newSnap(version uint64, kvs []*kv.Record) *leafSnap {
	hs := slices.Clone(kvs)
	slices.SortStableFunc(hs, compareHash)
	return &leafSnap{version: version, kvs: kvs, hs: hs}
}

// withInsert returns s with r at key position i. When inplace is set the
// receiver is modified and returned; otherwise s is left untouched.
func (s *leafSnap) withInsert(i int, r *kv.Record, inplace bool) *leafSnap {
	j := s.hashInsertPos(r)
	if inplace {
		s.kvs = slices.Insert(s.kvs, i, r)
		s.hs = slices.Insert(s.hs, j, r)
		s.version++
		return s
	}
	return &leafSnap{
		version: s.version + 1,
		kvs:     insertCopy(s.kvs, i, r),
		hs:      insertCopy(s.hs, j, r),
	}
}

// withReplace returns s with the record at key position i swapped for r,
// which must carry the same key.
func (s *leafSnap) withReplace(i int, r *kv.Record, inplace bool) *leafSnap {
	j := s.hashSlot(s.kvs[i])
	if inplace {
		s.kvs[i] = r
		s.hs[j] = r
		s.version++
		return s
	}
	ns := &leafSnap{
		version: s.version + 1,
		kvs:     slices.Clone(s.kvs),
		hs:      slices.Clone(s.hs),
	}
	ns.kvs[i] = r
	ns.hs[j] = r
	return ns
}

// withDelete returns s without the record at key position i.
func (s *leafSnap) withDelete(i int, inplace bool) *leafSnap {
	j := s.hashSlot(s.kvs[i])
	if inplace {
		s.kvs = slices.Delete(s.kvs, i, i+1)
		s.hs = slices.Delete(s.hs, j, j+1)
		s.version++
		return s
	}
	return &leafSnap{
		version: s.version + 1,
		kvs:     deleteCopy(s.kvs, i),
		hs:      deleteCopy(s.hs, j),
	}
}

func insertCopy(src []*kv.Record, i int, r *kv.Record) []*kv.Record {
	out := make([]*kv.Record, len(src)+1)
	copy(out, src[:i])
	out[i] = r
	copy(out[i+1:], src[i:])
	return out
}

func deleteCopy(src []*kv.Record, i int) []*kv.Record {
	out := make([]*kv.Record, len(src)-1)
	copy(out, src[:i])
	copy(out[i:], src[i+1:])
	return out
}

// splitAnchor returns the shortest prefix of right that sorts after left.
// Requires left < right.
func splitAnchor(left, right []byte) []byte {
	p := kv.LCP(left, right)
	return bytes.Clone(right[:p+1])
}
