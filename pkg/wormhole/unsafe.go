package wormhole

import (
	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
)

// Unsafe is the wormhole structure without handles, epochs or leaf locks.
// The caller guarantees that at most one goroutine uses it at a time.
// Retired records and leaves are freed immediately.
type Unsafe struct {
	*core
	env opEnv
}

// NewUnsafe creates an index for exclusive use. A nil opts uses
// DefaultOptions.
func NewUnsafe(opts *Options) (*Unsafe, error) {
	c, err := newCore(opts, false)
	if err != nil {
		return nil, err
	}
	return &Unsafe{core: c, env: c.newEnv(nil)}, nil
}

// Get copies the record stored under key into out.
func (u *Unsafe) Get(key []byte, out *kv.Record) *kv.Record {
	defer u.exit(u.enter(false))
	return u.get(key, out)
}

// GetValue copies the value stored under key into buf.
func (u *Unsafe) GetValue(key, buf []byte) ([]byte, bool) {
	defer u.exit(u.enter(false))
	u.stats.RecordGet()
	rec := u.borrow(key)
	if rec == nil {
		return buf[:0], false
	}
	return kv.CopyValue(rec, buf), true
}

// GetBorrow returns the stored record, valid until the next write.
func (u *Unsafe) GetBorrow(key []byte) *kv.Record {
	defer u.exit(u.enter(false))
	u.stats.RecordGet()
	return u.borrow(key)
}

// Probe reports whether key is present.
func (u *Unsafe) Probe(key []byte) bool {
	defer u.exit(u.enter(false))
	return u.probe(key)
}

// Set stores a copy of rec.
func (u *Unsafe) Set(rec *kv.Record) bool {
	return u.TrySet(rec) == nil
}

// TrySet stores a copy of rec and returns why it could not.
func (u *Unsafe) TrySet(rec *kv.Record) error {
	defer u.exit(u.enter(true))
	return u.set(&u.env, rec)
}

// Put stores key and value.
func (u *Unsafe) Put(key, value []byte) bool {
	return u.Set(kv.New(key, value))
}

// Inplace runs fn directly on the record stored under key.
func (u *Unsafe) Inplace(key []byte, fn InplaceFunc) bool {
	ok, _ := u.TryInplace(key, fn)
	return ok
}

// TryInplace is Inplace with an error result. Unsafe rewrites never
// allocate, so the error is always nil.
func (u *Unsafe) TryInplace(key []byte, fn InplaceFunc) (bool, error) {
	defer u.exit(u.enter(true))
	return u.inplace(&u.env, key, fn)
}

// Del removes key.
func (u *Unsafe) Del(key []byte) bool {
	defer u.exit(u.enter(true))
	return u.del(&u.env, key)
}

// SplitAt splits the leaf holding key.
func (u *Unsafe) SplitAt(key []byte) bool {
	defer u.exit(u.enter(true))
	return u.splitAt(&u.env, key)
}

// MergeAt merges the leaf holding key with a sibling.
func (u *Unsafe) MergeAt(key []byte) bool {
	defer u.exit(u.enter(true))
	return u.mergeAt(&u.env, key)
}

// SyncAt is a no-op. Leaves are sorted on every write.
func (u *Unsafe) SyncAt(key []byte) {}

func (u *Unsafe) Iter() *Iter {
	return &Iter{c: u.core}
}

// Clean removes every record, leaving a single empty leaf.
func (u *Unsafe) Clean() {
	defer u.exit(u.enter(true))
	u.clean(&u.env)
}

// Close releases every stored record to the allocator.
func (u *Unsafe) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	keys := u.Count()
	u.destroy()
	u.logger.Info("index closed", "keys", keys)
	return nil
}
