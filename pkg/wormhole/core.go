package wormhole

import (
	"bytes"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/CVDpl/go-live-wormhole/internal/common"
	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/qsbr"
)

// InplaceFunc rewrites the value of a stored record. It may change value
// bytes but neither the key nor the value length.
type InplaceFunc func(r *kv.Record)

// core is the structure shared by the safe and unsafe front ends: the leaf
// chain, the anchor trie, and the split/merge machinery.
type core struct {
	id     string
	safe   bool
	opts   Options
	mm     kv.Allocator
	logger common.Logger
	stats  *StatsCollector
	qm     *qsbr.Manager // nil in unsafe mode

	head         *leaf // leftmost leaf, anchor "", never merged away
	meta         atomic.Pointer[metaTable]
	metaMu       sync.Mutex
	maxAnchorLen atomic.Int32
	rootHash     uint64

	// Coarse locking mode: every operation takes coarse, exclusively for
	// writers, in addition to the per-leaf protocol. unlocked counts the
	// operations running without coarse.
	locking  atomic.Bool
	coarse   sync.RWMutex
	unlocked atomic.Int64

	leafPool   sync.Pool
	nextLeafID atomic.Uint64
	leaves     atomic.Int64
	keys       atomic.Int64

	backlogWarned atomic.Bool
	closed        atomic.Bool
}

func newCore(o *Options, safe bool) (*core, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	opts := o.withDefaults()
	c := &core{
		id:       uuid.New().String(),
		safe:     safe,
		opts:     opts,
		mm:       opts.Allocator,
		stats:    NewStatsCollector(),
		rootHash: kv.HashKey(nil),
	}
	mode := "unsafe"
	if safe {
		mode = "safe"
		c.qm = qsbr.NewManager()
	}
	c.logger = WithContext(opts.Logger, map[string]interface{}{"index": c.id})
	c.leafPool.New = func() any { return &leaf{} }

	c.head = c.newLeaf([]byte{})
	t := newMetaTable(minMetaBuckets)
	c.meta.Store(t)
	env := c.newEnv(nil)
	c.insertAnchor(&env, c.head)

	c.logger.Info("index created", "mode", mode, "leaf_capacity", opts.LeafCapacity,
		"low_water", opts.LowWater, "merge_limit", opts.MergeLimit)
	return c, nil
}

// opEnv carries the per-operation reclamation context.
type opEnv struct {
	c   *core
	ref *qsbr.Ref
}

func (c *core) newEnv(ref *qsbr.Ref) opEnv { return opEnv{c: c, ref: ref} }

// retire frees fn once no reader can observe the object: immediately in
// unsafe mode, after the grace period otherwise.
func (e *opEnv) retire(fn func()) {
	c := e.c
	if !c.safe {
		fn()
		return
	}
	if e.ref != nil {
		e.ref.Retire(fn)
	} else {
		c.qm.Retire(fn)
	}
	c.checkBacklog()
}

func (e *opEnv) retireRecord(r *kv.Record) {
	mm := e.c.mm
	e.retire(func() { mm.Retire(r) })
}

func (c *core) checkBacklog() {
	limit := c.opts.ReclaimWarnThreshold
	if limit < 0 {
		return
	}
	pending := c.qm.Pending()
	if pending >= limit {
		if c.backlogWarned.CompareAndSwap(false, true) {
			c.logger.Warn("reclamation backlog: a handle has not refreshed",
				"pending", pending, "epoch", c.qm.Epoch(), "min_epoch", c.qm.MinEpoch())
		}
	} else if pending < limit/2 {
		c.backlogWarned.Store(false)
	}
}

const (
	lockNone = iota
	lockShared
	lockExclusive
)

// enter takes the coarse lock when coarse locking is on and returns the mode
// to hand to exit.
func (c *core) enter(write bool) int {
	if !c.locking.Load() {
		c.unlocked.Add(1)
		if !c.locking.Load() {
			return lockNone
		}
		c.unlocked.Add(-1)
	}
	if write {
		c.coarse.Lock()
		return lockExclusive
	}
	c.coarse.RLock()
	return lockShared
}

func (c *core) exit(mode int) {
	switch mode {
	case lockNone:
		c.unlocked.Add(-1)
	case lockShared:
		c.coarse.RUnlock()
	case lockExclusive:
		c.coarse.Unlock()
	}
}

// Locking switches coarse locking on or off and returns the previous state.
// Switching on waits for operations that started without the coarse lock, so
// it must not be called from inside an InplaceFunc.
func (c *core) Locking(on bool) bool {
	c.coarse.Lock()
	old := c.locking.Swap(on)
	for on && c.unlocked.Load() != 0 {
		runtime.Gosched()
	}
	c.coarse.Unlock()
	if old != on {
		c.logger.Info("locking mode changed", "coarse", on)
	}
	return old
}

func (c *core) lockLeaf(l *leaf) {
	if c.safe {
		l.mu.Lock()
	}
}

func (c *core) unlockLeaf(l *leaf) {
	if c.safe {
		l.mu.Unlock()
	}
}

// newLeaf returns a detached, empty leaf. Version numbers continue across
// reuse so stale iterators notice.
func (c *core) newLeaf(anchor []byte) *leaf {
	l := c.leafPool.Get().(*leaf)
	var ver uint64
	if s := l.snap.Load(); s != nil {
		ver = s.version
	}
	l.anchor = anchor
	l.id = c.nextLeafID.Add(1)
	l.prev.Store(nil)
	l.next.Store(nil)
	l.snap.Store(&leafSnap{version: ver + 1})
	l.dead.Store(false)
	c.leaves.Add(1)
	return l
}

// recycle returns a retired leaf to the pool. Runs after the grace period.
func (c *core) recycle(l *leaf) {
	ver := l.snap.Load().version
	l.snap.Store(&leafSnap{version: ver + 1})
	l.anchor = nil
	l.prev.Store(nil)
	l.next.Store(nil)
	c.leafPool.Put(l)
}

// leafFor returns the leaf whose range holds key and the snapshot that was
// current while the range check held.
func (c *core) leafFor(key []byte) (*leaf, *leafSnap) {
	l := c.jump(key)
	hops := 0
	for {
		if l.dead.Load() {
			// A dead leaf was absorbed by its left neighbour.
			l = l.prev.Load()
			hops++
			continue
		}
		if bytes.Compare(key, l.anchor) < 0 {
			l = l.prev.Load()
			hops++
			continue
		}
		// The snapshot is trusted only if it did not move while next was read.
		s := l.snap.Load()
		n := l.next.Load()
		if l.snap.Load() != s {
			continue
		}
		if n != nil && bytes.Compare(key, n.anchor) >= 0 {
			l = n
			hops++
			continue
		}
		if l.dead.Load() {
			continue
		}
		c.stats.RecordHops(hops)
		return l, s
	}
}

// leafForWrite returns the locked leaf whose range holds key.
func (c *core) leafForWrite(key []byte) *leaf {
	for {
		l, _ := c.leafFor(key)
		c.lockLeaf(l)
		if !l.dead.Load() && l.contains(key) {
			return l
		}
		c.unlockLeaf(l)
	}
}

// publish installs s as the current snapshot of a locked leaf. Unsafe edits
// return the receiver, so storing it again is a no-op.
func (c *core) publish(l *leaf, s *leafSnap) {
	l.snap.Store(s)
}

func (c *core) get(key []byte, out *kv.Record) *kv.Record {
	c.stats.RecordGet()
	r := c.borrow(key)
	if r == nil {
		return nil
	}
	return kv.Dup2(r, out)
}

func (c *core) borrow(key []byte) *kv.Record {
	_, s := c.leafFor(key)
	return s.lookup(key, kv.HashKey(key))
}

func (c *core) probe(key []byte) bool {
	c.stats.RecordProbe()
	return c.borrow(key) != nil
}

// set stores a private copy of rec obtained from the allocator. An existing
// record with the same key is replaced. On error nothing changes.
func (c *core) set(env *opEnv, rec *kv.Record) error {
	key := rec.Key()
	if len(key) > c.opts.MaxKeySize {
		c.stats.RecordRejectedKey()
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(key))
	}
	nr := c.mm.Allocate(int(rec.KeyLen() + rec.ValueLen()))
	if nr == nil {
		c.stats.RecordAllocFailure()
		return ErrAllocation
	}
	kv.CopyInto(rec, nr)
	c.stats.RecordSet()

	l := c.leafForWrite(key)
	s := l.snap.Load()
	i, found := s.search(key)
	if found {
		old := s.kvs[i]
		c.publish(l, s.withReplace(i, nr, !c.safe))
		c.unlockLeaf(l)
		env.retireRecord(old)
		return nil
	}
	if len(s.kvs) < c.opts.LeafCapacity {
		c.publish(l, s.withInsert(i, nr, !c.safe))
		c.unlockLeaf(l)
		c.keys.Add(1)
		return nil
	}

	r := c.splitLocked(env, l)
	target := l
	if r != nil && bytes.Compare(key, r.anchor) >= 0 {
		target = r
	}
	ts := target.snap.Load()
	i, _ = ts.search(key)
	c.publish(target, ts.withInsert(i, nr, !c.safe))
	if r != nil {
		c.unlockLeaf(r)
	}
	c.unlockLeaf(l)
	c.keys.Add(1)
	return nil
}

// inplace reports whether key was found; on allocation failure it was found
// but not rewritten.
func (c *core) inplace(env *opEnv, key []byte, fn InplaceFunc) (bool, error) {
	c.stats.RecordInplace()
	l := c.leafForWrite(key)
	s := l.snap.Load()
	i, found := s.search(key)
	if !found {
		c.unlockLeaf(l)
		return false, nil
	}
	old := s.kvs[i]
	if !c.safe {
		fn(old)
		s.version++
		c.unlockLeaf(l)
		return true, nil
	}
	// Readers may hold old; the rewrite goes to a private copy in the same slot.
	nr := c.mm.Allocate(int(old.KeyLen() + old.ValueLen()))
	if nr == nil {
		c.unlockLeaf(l)
		c.stats.RecordAllocFailure()
		return true, ErrAllocation
	}
	kv.CopyInto(old, nr)
	fn(nr)
	c.publish(l, s.withReplace(i, nr, false))
	c.unlockLeaf(l)
	env.retireRecord(old)
	return true, nil
}

func (c *core) del(env *opEnv, key []byte) bool {
	l := c.leafForWrite(key)
	s := l.snap.Load()
	i, found := s.search(key)
	if !found {
		c.unlockLeaf(l)
		return false
	}
	c.stats.RecordDelete()
	old := s.kvs[i]
	ns := s.withDelete(i, !c.safe)
	c.publish(l, ns)
	c.keys.Add(-1)
	if len(ns.kvs) < c.opts.LowWater {
		c.mergeUnderflow(env, l)
	} else {
		c.unlockLeaf(l)
	}
	env.retireRecord(old)
	return true
}

// clean drops every record and collapses the chain to the head leaf.
func (c *core) clean(env *opEnv) {
	l := c.head
	c.lockLeaf(l)
	c.dropLocked(env, l)
	for r := l.next.Load(); r != nil; r = l.next.Load() {
		c.lockLeaf(r)
		c.dropLocked(env, r)
		c.mergeLocked(env, l, r)
		c.unlockLeaf(r)
	}
	c.unlockLeaf(l)
	c.logger.Info("index cleaned", "leaves", c.leaves.Load())
}

// dropLocked retires every record of a locked leaf.
func (c *core) dropLocked(env *opEnv, l *leaf) {
	s := l.snap.Load()
	for _, r := range s.kvs {
		env.retireRecord(r)
	}
	c.keys.Add(-int64(len(s.kvs)))
	c.publish(l, &leafSnap{version: s.version + 1})
}

// destroy hands every stored record back to the allocator. The index must be
// quiescent.
func (c *core) destroy() {
	for l := c.head; l != nil; l = l.next.Load() {
		for _, r := range l.snap.Load().kvs {
			c.mm.Retire(r)
		}
	}
	c.keys.Store(0)
}

// Stats returns a snapshot of the index counters.
func (c *core) Stats() Stats {
	st := c.stats.snapshot()
	st.Leaves = c.leaves.Load()
	st.Keys = c.keys.Load()
	if c.qm != nil {
		st.Retired, st.Reclaimed = c.qm.Stats()
		st.Pending = c.qm.Pending()
		st.Epoch = c.qm.Epoch()
	}
	return st
}

// Count returns the number of stored records.
func (c *core) Count() int64 { return c.keys.Load() }

// ID returns the instance id used in logs and dumps.
func (c *core) ID() string { return c.id }
