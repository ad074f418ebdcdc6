package wormhole

import (
	"bytes"
	"math/bits"
	"sync/atomic"

	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
)

// metaNode is one key prefix of at least one anchor. The table holds every
// prefix of every anchor, so prefix lengths present for a search key form an
// unbroken range starting at zero and the longest one can be binary searched.
type metaNode struct {
	key  []byte
	hash uint64

	// children has bit b set when key+b is also in the table.
	children [4]atomic.Uint64

	// lmost and rmost bracket the leaves whose anchors start with key.
	lmost atomic.Pointer[leaf]
	rmost atomic.Pointer[leaf]

	// leaf is set when key is itself an anchor.
	leaf atomic.Pointer[leaf]
}

func newMetaNode(key []byte, hash uint64, l *leaf) *metaNode {
	n := &metaNode{key: bytes.Clone(key), hash: hash}
	n.lmost.Store(l)
	n.rmost.Store(l)
	return n
}

func (n *metaNode) setChild(b byte) {
	n.children[b>>6].Or(1 << (b & 63))
}

func (n *metaNode) clearChild(b byte) {
	n.children[b>>6].And(^(uint64(1) << (b & 63)))
}

func (n *metaNode) hasChild(b byte) bool {
	return n.children[b>>6].Load()&(1<<(b&63)) != 0
}

// childBelow returns the largest child byte strictly less than b.
func (n *metaNode) childBelow(b byte) (byte, bool) {
	w := int(b >> 6)
	m := n.children[w].Load() & (uint64(1)<<(b&63) - 1)
	for {
		if m != 0 {
			return byte(w<<6 | (63 - bits.LeadingZeros64(m))), true
		}
		w--
		if w < 0 {
			return 0, false
		}
		m = n.children[w].Load()
	}
}

// release drops the routing pointers of a node that left the table.
func (n *metaNode) release() {
	n.lmost.Store(nil)
	n.rmost.Store(nil)
	n.leaf.Store(nil)
}

type metaChain []*metaNode

// metaTable is a hash table of meta nodes. Bucket chains are immutable and
// replaced whole by the single writer holding the meta lock, so lookups run
// without locks.
type metaTable struct {
	buckets []atomic.Pointer[metaChain]
	mask    uint64
	count   int // writer-only
}

const minMetaBuckets = 64

func newMetaTable(size int) *metaTable {
	n := minMetaBuckets
	for n < size {
		n <<= 1
	}
	return &metaTable{
		buckets: make([]atomic.Pointer[metaChain], n),
		mask:    uint64(n - 1),
	}
}

// get returns the node for prefix p with hash h. A hash hit is accepted only
// after the full prefix compares equal.
func (t *metaTable) get(p []byte, h uint64) *metaNode {
	c := t.buckets[h&t.mask].Load()
	if c == nil {
		return nil
	}
	for _, n := range *c {
		if n.hash == h && bytes.Equal(n.key, p) {
			return n
		}
	}
	return nil
}

func (t *metaTable) lookup(p []byte) *metaNode {
	return t.get(p, kv.HashKey(p))
}

func (t *metaTable) add(n *metaNode) {
	slot := &t.buckets[n.hash&t.mask]
	var chain metaChain
	if old := slot.Load(); old != nil {
		chain = make(metaChain, len(*old), len(*old)+1)
		copy(chain, *old)
	}
	chain = append(chain, n)
	slot.Store(&chain)
	t.count++
}

func (t *metaTable) remove(n *metaNode) {
	slot := &t.buckets[n.hash&t.mask]
	old := slot.Load()
	if old == nil {
		return
	}
	chain := make(metaChain, 0, len(*old))
	for _, x := range *old {
		if x != n {
			chain = append(chain, x)
		}
	}
	if len(chain) == len(*old) {
		return
	}
	if len(chain) == 0 {
		slot.Store(nil)
	} else {
		slot.Store(&chain)
	}
	t.count--
}

// each calls fn for every node until fn returns false.
func (t *metaTable) each(fn func(*metaNode) bool) {
	for i := range t.buckets {
		c := t.buckets[i].Load()
		if c == nil {
			continue
		}
		for _, n := range *c {
			if !fn(n) {
				return
			}
		}
	}
}

// lpm returns the node of the longest prefix of key present in t.
func (c *core) lpm(t *metaTable, key []byte) *metaNode {
	best := t.get(nil, c.rootHash)
	lo, hi := 0, min(len(key), int(c.maxAnchorLen.Load()))
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if n := t.lookup(key[:mid]); n != nil {
			lo, best = mid, n
		} else {
			hi = mid - 1
		}
	}
	return best
}

// jump routes key to a leaf through the anchor trie. The result is exact on
// a quiescent index; under concurrent splits and merges it may be a leaf or
// two away and callers correct it along the sibling chain.
func (c *core) jump(key []byte) *leaf {
	t := c.meta.Load()
	n := c.lpm(t, key)
	if n == nil {
		return c.head
	}
	plen := len(n.key)
	if plen < len(key) {
		if b, ok := n.childBelow(key[plen]); ok {
			var sb [64]byte
			p := append(append(sb[:0], key[:plen]...), b)
			if child := t.lookup(p); child != nil {
				if r := child.rmost.Load(); r != nil {
					return r
				}
			}
		}
	}
	if l := n.leaf.Load(); l != nil {
		return l
	}
	// Every anchor below n sorts after key.
	lm := n.lmost.Load()
	if lm == nil {
		return c.head
	}
	if p := lm.prev.Load(); p != nil {
		return p
	}
	return lm
}

// metaPut adds n and grows the table when it gets dense. It returns the
// table writers must continue with.
func (c *core) metaPut(env *opEnv, t *metaTable, n *metaNode) *metaTable {
	t.add(n)
	if t.count <= 2*len(t.buckets) {
		return t
	}
	nt := newMetaTable(len(t.buckets) * 2)
	t.each(func(x *metaNode) bool {
		nt.add(x)
		return true
	})
	c.meta.Store(nt)
	c.stats.RecordGrow()
	c.logger.Debug("anchor table grown", "buckets", len(nt.buckets), "nodes", nt.count)
	env.retire(func() { t.buckets = nil })
	return nt
}

// insertAnchor publishes l, already linked into the leaf chain, in the trie.
// Caller holds metaMu.
func (c *core) insertAnchor(env *opEnv, l *leaf) {
	a := l.anchor
	if len(a) > int(c.maxAnchorLen.Load()) {
		c.maxAnchorLen.Store(int32(len(a)))
	}
	t := c.meta.Load()
	for plen := 0; plen <= len(a); plen++ {
		p := a[:plen]
		h := kv.HashKey(p)
		n := t.get(p, h)
		if n == nil {
			n = newMetaNode(p, h, l)
			t = c.metaPut(env, t, n)
		} else {
			if bytes.Compare(a, n.lmost.Load().anchor) < 0 {
				n.lmost.Store(l)
			}
			if bytes.Compare(a, n.rmost.Load().anchor) > 0 {
				n.rmost.Store(l)
			}
		}
		if plen == len(a) {
			n.leaf.Store(l)
		}
	}
	// Child bits go up only once every node on the path is reachable.
	for plen := len(a) - 1; plen >= 0; plen-- {
		t.lookup(a[:plen]).setChild(a[plen])
	}
}

// removeAnchor withdraws a dead leaf from the trie. The leaf has been
// unlinked, but its own prev and next still point at its former neighbours.
// Caller holds metaMu.
func (c *core) removeAnchor(env *opEnv, l *leaf) {
	a := l.anchor
	prev, next := l.prev.Load(), l.next.Load()
	t := c.meta.Load()
	for plen := len(a); plen >= 0; plen-- {
		n := t.lookup(a[:plen])
		if n == nil {
			continue
		}
		if plen == len(a) {
			n.leaf.CompareAndSwap(l, nil)
		}
		lm, rm := n.lmost.Load(), n.rmost.Load()
		if lm == l && rm == l {
			// l was the only anchor under this prefix.
			if plen > 0 {
				if parent := t.lookup(a[:plen-1]); parent != nil {
					parent.clearChild(a[plen-1])
				}
			}
			t.remove(n)
			env.retire(n.release)
			continue
		}
		if lm == l {
			n.lmost.Store(next)
		}
		if rm == l {
			n.rmost.Store(prev)
		}
	}
}
