package wormhole

import (
	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
)

// splitLocked moves the upper half of the locked leaf l to a new right
// sibling and returns it, also locked. Readers see either the old full leaf
// or the two halves; the anchor enters the trie last. Returns nil when l has
// fewer than two records.
func (c *core) splitLocked(env *opEnv, l *leaf) *leaf {
	s := l.snap.Load()
	n := len(s.kvs)
	if n < 2 {
		return nil
	}
	m := n / 2
	r := c.newLeaf(splitAnchor(s.kvs[m-1].Key(), s.kvs[m].Key()))
	c.lockLeaf(r)
	upper := make([]*kv.Record, n-m)
	copy(upper, s.kvs[m:])
	r.snap.Store(newSnap(r.snap.Load().version+1, upper))

	next := l.next.Load()
	r.prev.Store(l)
	r.next.Store(next)
	if next != nil {
		next.prev.Store(r)
	}
	l.next.Store(r)
	c.publish(l, newSnap(s.version+1, s.kvs[:m:m]))

	c.metaMu.Lock()
	c.insertAnchor(env, r)
	c.metaMu.Unlock()

	c.stats.RecordSplit()
	c.logger.Debug("leaf split", "anchor", r.anchor, "left", m, "right", n-m)
	return r
}

// mergeLocked absorbs r into its left neighbour l. Both are locked. r is
// marked dead before it leaves the chain, withdrawn from the trie and retired;
// readers already inside r step back to l.
func (c *core) mergeLocked(env *opEnv, l, r *leaf) {
	ls, rs := l.snap.Load(), r.snap.Load()
	kvs := make([]*kv.Record, 0, len(ls.kvs)+len(rs.kvs))
	kvs = append(kvs, ls.kvs...)
	kvs = append(kvs, rs.kvs...)
	c.publish(l, newSnap(ls.version+1, kvs))

	r.dead.Store(true)
	next := r.next.Load()
	l.next.Store(next)
	if next != nil {
		next.prev.Store(l)
	}

	c.metaMu.Lock()
	c.removeAnchor(env, r)
	c.metaMu.Unlock()

	c.leaves.Add(-1)
	c.stats.RecordMerge()
	c.logger.Debug("leaf merged", "anchor", r.anchor, "into", l.anchor, "size", len(kvs))
	env.retire(func() { c.recycle(r) })
}

// mergeSibling merges the locked leaf l with a neighbour, the right one when
// the pair fits within MergeLimit, else the left one. l is unlocked on
// return. Unless explicit, the left merge still requires l to be underfull
// once both locks are retaken.
func (c *core) mergeSibling(env *opEnv, l *leaf, explicit bool) bool {
	limit := c.opts.MergeLimit
	if r := l.next.Load(); r != nil {
		c.lockLeaf(r)
		if l.size()+r.size() <= limit {
			c.mergeLocked(env, l, r)
			c.unlockLeaf(r)
			c.unlockLeaf(l)
			return true
		}
		c.unlockLeaf(r)
	}
	p := l.prev.Load()
	if p == nil {
		c.unlockLeaf(l)
		return false
	}
	// Locks go left to right: drop l and take both again.
	c.unlockLeaf(l)
	c.lockLeaf(p)
	c.lockLeaf(l)
	merged := false
	if !p.dead.Load() && !l.dead.Load() && p.next.Load() == l &&
		(explicit || l.size() < c.opts.LowWater) && p.size()+l.size() <= limit {
		c.mergeLocked(env, p, l)
		merged = true
	}
	c.unlockLeaf(l)
	c.unlockLeaf(p)
	return merged
}

func (c *core) mergeUnderflow(env *opEnv, l *leaf) {
	c.mergeSibling(env, l, false)
}

// splitAt splits the leaf holding key at its midpoint.
func (c *core) splitAt(env *opEnv, key []byte) bool {
	l := c.leafForWrite(key)
	r := c.splitLocked(env, l)
	if r != nil {
		c.unlockLeaf(r)
	}
	c.unlockLeaf(l)
	return r != nil
}

// mergeAt merges the leaf holding key with a sibling when the pair fits.
func (c *core) mergeAt(env *opEnv, key []byte) bool {
	return c.mergeSibling(env, c.leafForWrite(key), true)
}
