package wormhole

import (
	"bytes"
	"fmt"

	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
)

// Verify checks the leaf chain and the anchor trie against each other. It
// expects no concurrent writers. Any violation is logged and returned
// wrapping ErrInvariantViolation.
func (c *core) Verify() error {
	defer c.exit(c.enter(false))
	err := c.verify()
	if err != nil {
		LogError(c.logger, "verification failed", err)
	}
	return err
}

func violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

func (c *core) verify() error {
	if len(c.head.anchor) != 0 || c.head.prev.Load() != nil {
		return violation("head leaf anchor %q", c.head.anchor)
	}
	var leaves, keys int64
	var prev *leaf
	for l := c.head; l != nil; prev, l = l, l.next.Load() {
		leaves++
		if l.dead.Load() {
			return violation("dead leaf %q linked", l.anchor)
		}
		if l.prev.Load() != prev {
			return violation("leaf %q prev link broken", l.anchor)
		}
		if prev != nil && bytes.Compare(prev.anchor, l.anchor) >= 0 {
			return violation("anchors out of order: %q >= %q", prev.anchor, l.anchor)
		}
		if err := c.verifyLeaf(l); err != nil {
			return err
		}
		keys += int64(l.size())
	}
	if leaves != c.leaves.Load() {
		return violation("chain has %d leaves, counter %d", leaves, c.leaves.Load())
	}
	if keys != c.keys.Load() {
		return violation("chain has %d keys, counter %d", keys, c.keys.Load())
	}
	return c.verifyMeta(leaves)
}

func (c *core) verifyLeaf(l *leaf) error {
	s := l.snap.Load()
	if len(s.kvs) > c.opts.LeafCapacity {
		return violation("leaf %q holds %d records, capacity %d", l.anchor, len(s.kvs), c.opts.LeafCapacity)
	}
	if len(s.hs) != len(s.kvs) {
		return violation("leaf %q hash order has %d of %d records", l.anchor, len(s.hs), len(s.kvs))
	}
	next := l.next.Load()
	for i, r := range s.kvs {
		k := r.Key()
		if r.Hash() != kv.HashKey(k) {
			return violation("record %q has a stale hash", k)
		}
		if bytes.Compare(k, l.anchor) < 0 || (next != nil && bytes.Compare(k, next.anchor) >= 0) {
			return violation("key %q outside leaf %q", k, l.anchor)
		}
		if i > 0 && bytes.Compare(s.kvs[i-1].Key(), k) >= 0 {
			return violation("leaf %q unsorted at %d", l.anchor, i)
		}
		if s.hashSlot(r) < 0 {
			return violation("key %q missing from hash order", k)
		}
	}
	for i := 1; i < len(s.hs); i++ {
		if s.hs[i-1].Hash() > s.hs[i].Hash() {
			return violation("leaf %q hash order unsorted at %d", l.anchor, i)
		}
	}
	return nil
}

// verifyMeta checks that the table holds exactly the prefixes of the live
// anchors with correct brackets, and that every anchor routes to its leaf.
func (c *core) verifyMeta(leaves int64) error {
	t := c.meta.Load()
	want := make(map[string]struct{})
	for l := c.head; l != nil; l = l.next.Load() {
		a := l.anchor
		for plen := 0; plen <= len(a); plen++ {
			p := a[:plen]
			want[string(p)] = struct{}{}
			n := t.lookup(p)
			if n == nil {
				return violation("prefix %q of anchor %q missing", p, a)
			}
			if plen < len(a) && !n.hasChild(a[plen]) {
				return violation("prefix %q lacks child %q", p, a[plen])
			}
			if lm := n.lmost.Load(); lm == nil || bytes.Compare(lm.anchor, a) > 0 {
				return violation("prefix %q lmost above %q", p, a)
			}
			if rm := n.rmost.Load(); rm == nil || bytes.Compare(rm.anchor, a) < 0 {
				return violation("prefix %q rmost below %q", p, a)
			}
		}
		if n := t.lookup(a); n.leaf.Load() != l {
			return violation("anchor %q not bound to its leaf", a)
		}
		if j := c.jump(a); j != l {
			return violation("anchor %q routes to %q", a, j.anchor)
		}
		for _, r := range l.snap.Load().kvs {
			if j := c.jump(r.Key()); j != l {
				return violation("key %q routes to %q, not %q", r.Key(), j.anchor, a)
			}
		}
	}
	nodes, bound := 0, int64(0)
	var stray error
	t.each(func(n *metaNode) bool {
		nodes++
		if n.leaf.Load() != nil {
			bound++
		}
		if _, ok := want[string(n.key)]; !ok {
			stray = violation("stray prefix %q", n.key)
			return false
		}
		return true
	})
	if stray != nil {
		return stray
	}
	if nodes != len(want) || nodes != t.count {
		return violation("table holds %d nodes (count %d), want %d", nodes, t.count, len(want))
	}
	if bound != leaves {
		return violation("%d anchors bound, %d leaves", bound, leaves)
	}
	return nil
}
