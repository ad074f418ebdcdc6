package wormhole

import (
	"fmt"

	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/qsbr"
)

// Ref is a per-goroutine handle on an Index. Every operation reports the
// current epoch first, so pointers it read during earlier operations may be
// freed from then on. A Ref that stays idle should Park or Unref, otherwise
// reclamation stalls.
type Ref struct {
	idx  *Index
	q    *qsbr.Ref
	env  opEnv
	gone bool
}

func (r *Ref) begin(write bool) int {
	if r.gone {
		panic(fmt.Errorf("%w: use of a released ref", ErrHandleMisuse))
	}
	r.q.Refresh()
	return r.idx.enter(write)
}

// Get copies the record stored under key into out.
func (r *Ref) Get(key []byte, out *kv.Record) *kv.Record {
	defer r.idx.exit(r.begin(false))
	return r.idx.get(key, out)
}

// GetValue copies the value stored under key into buf.
func (r *Ref) GetValue(key, buf []byte) ([]byte, bool) {
	defer r.idx.exit(r.begin(false))
	r.idx.stats.RecordGet()
	rec := r.idx.borrow(key)
	if rec == nil {
		return buf[:0], false
	}
	return kv.CopyValue(rec, buf), true
}

// GetBorrow returns the stored record, valid until the next operation on r.
func (r *Ref) GetBorrow(key []byte) *kv.Record {
	defer r.idx.exit(r.begin(false))
	r.idx.stats.RecordGet()
	return r.idx.borrow(key)
}

// Probe reports whether key is present.
func (r *Ref) Probe(key []byte) bool {
	defer r.idx.exit(r.begin(false))
	return r.idx.probe(key)
}

// Set stores a copy of rec.
func (r *Ref) Set(rec *kv.Record) bool {
	return r.TrySet(rec) == nil
}

// TrySet stores a copy of rec and returns why it could not.
func (r *Ref) TrySet(rec *kv.Record) error {
	defer r.idx.exit(r.begin(true))
	return r.idx.set(&r.env, rec)
}

// Put stores key and value.
func (r *Ref) Put(key, value []byte) bool {
	return r.Set(kv.New(key, value))
}

// Inplace runs fn on the record stored under key.
func (r *Ref) Inplace(key []byte, fn InplaceFunc) bool {
	ok, err := r.TryInplace(key, fn)
	return ok && err == nil
}

// TryInplace is Inplace that tells a missing key apart from a failed rewrite.
func (r *Ref) TryInplace(key []byte, fn InplaceFunc) (bool, error) {
	defer r.idx.exit(r.begin(true))
	return r.idx.inplace(&r.env, key, fn)
}

// Del removes key.
func (r *Ref) Del(key []byte) bool {
	defer r.idx.exit(r.begin(true))
	return r.idx.del(&r.env, key)
}

// SplitAt splits the leaf holding key.
func (r *Ref) SplitAt(key []byte) bool {
	defer r.idx.exit(r.begin(true))
	return r.idx.splitAt(&r.env, key)
}

// MergeAt merges the leaf holding key with a sibling.
func (r *Ref) MergeAt(key []byte) bool {
	defer r.idx.exit(r.begin(true))
	return r.idx.mergeAt(&r.env, key)
}

// SyncAt only refreshes r. Leaves are sorted on every write, so there is no
// pending order to settle.
func (r *Ref) SyncAt(key []byte) {
	r.idx.exit(r.begin(false))
}

func (r *Ref) Iter() *Iter {
	if r.gone {
		panic(fmt.Errorf("%w: iterator on a released ref", ErrHandleMisuse))
	}
	return &Iter{c: r.idx.core, ref: r}
}

// Refresh reports a new epoch and frees this handle's retirements that have
// become safe.
func (r *Ref) Refresh() {
	if r.gone {
		panic(fmt.Errorf("%w: refresh of a released ref", ErrHandleMisuse))
	}
	r.q.Refresh()
}

// Park marks the handle idle so it stops holding back reclamation. The next
// operation resumes it.
func (r *Ref) Park() {
	if r.gone {
		panic(fmt.Errorf("%w: park of a released ref", ErrHandleMisuse))
	}
	r.q.Park()
}

// Resume leaves the parked state.
func (r *Ref) Resume() {
	if r.gone {
		panic(fmt.Errorf("%w: resume of a released ref", ErrHandleMisuse))
	}
	r.q.Resume()
}

// Index returns the index r belongs to.
func (r *Ref) Index() *Index { return r.idx }

// Unref releases the handle. Its pending retirements pass to the index.
func (r *Ref) Unref() {
	if r.gone {
		panic(fmt.Errorf("%w: double unref", ErrHandleMisuse))
	}
	r.gone = true
	r.q.Unregister()
}
