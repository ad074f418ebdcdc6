// Package wormhole implements an in-memory ordered key-value index: a chain
// of sorted leaves routed by a hashed anchor trie, with lock-free reads,
// per-leaf writer locks and epoch-based reclamation of retired structure.
//
// Index is the concurrent form; every goroutine works through its own Ref.
// Unsafe is the same structure without handles or epochs for callers that
// guarantee exclusive access.
package wormhole

import (
	"fmt"

	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
)

// Map is the operation set shared by a Ref and an Unsafe index.
type Map interface {
	// Get copies the record stored under key into out (nil allocates) and
	// returns it, or nil when key is absent.
	Get(key []byte, out *kv.Record) *kv.Record

	// GetValue copies the value stored under key into buf.
	GetValue(key, buf []byte) ([]byte, bool)

	// GetBorrow returns the stored record itself. It must be treated as
	// read-only and stays valid until the handle next refreshes.
	GetBorrow(key []byte) *kv.Record

	// Probe reports whether key is present.
	Probe(key []byte) bool

	// Set stores a copy of rec, replacing any record with the same key. It
	// reports false when the key is too large or allocation fails.
	Set(rec *kv.Record) bool

	// TrySet is Set with the failure reason.
	TrySet(rec *kv.Record) error

	// Put stores key and value.
	Put(key, value []byte) bool

	// Inplace runs fn on the record stored under key and reports whether
	// the key existed.
	Inplace(key []byte, fn InplaceFunc) bool

	// TryInplace is Inplace that also returns ErrAllocation when key exists
	// but the rewritten copy could not be allocated.
	TryInplace(key []byte, fn InplaceFunc) (bool, error)

	// Del removes key and reports whether it existed.
	Del(key []byte) bool

	// SplitAt splits the leaf holding key; it is a no-op on leaves with
	// fewer than two records.
	SplitAt(key []byte) bool

	// MergeAt merges the leaf holding key with a sibling when the pair fits
	// within MergeLimit.
	MergeAt(key []byte) bool

	// SyncAt settles the order of the leaf holding key. Leaf arrays are kept
	// sorted on every write, so it has no effect on the contents.
	SyncAt(key []byte)

	// Iter returns an unseeked iterator.
	Iter() *Iter
}

var (
	_ Map = (*Ref)(nil)
	_ Map = (*Unsafe)(nil)
)

// Index is a concurrent wormhole index.
type Index struct {
	*core
}

// New creates a concurrent index. A nil opts uses DefaultOptions.
func New(opts *Options) (*Index, error) {
	c, err := newCore(opts, true)
	if err != nil {
		return nil, err
	}
	return &Index{core: c}, nil
}

// Ref registers a new handle. Each goroutine uses its own Ref and releases
// it with Unref.
func (x *Index) Ref() *Ref {
	if x.closed.Load() {
		panic(fmt.Errorf("%w: ref on a closed index", ErrHandleMisuse))
	}
	r := &Ref{idx: x, q: x.qm.Register()}
	r.env = x.newEnv(r.q)
	return r
}

// Refs returns the number of registered handles.
func (x *Index) Refs() int { return x.qm.Active() }

// Clean removes every record, leaving a single empty leaf. It may run while
// other handles are active.
func (x *Index) Clean() {
	r := x.Ref()
	defer r.Unref()
	mode := x.enter(true)
	defer x.exit(mode)
	x.clean(&r.env)
}

// Reclaim frees retirements no handle can still observe and returns how many
// were freed.
func (x *Index) Reclaim() int { return x.qm.Reclaim() }

// Close releases every stored record to the allocator. All handles must be
// released first.
func (x *Index) Close() error {
	if n := x.qm.Active(); n > 0 {
		return fmt.Errorf("%w: %d refs still active", ErrHandleMisuse, n)
	}
	if !x.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	freed := x.qm.Barrier()
	keys := x.Count()
	x.destroy()
	x.logger.Info("index closed", "keys", keys, "reclaimed", freed)
	return nil
}
