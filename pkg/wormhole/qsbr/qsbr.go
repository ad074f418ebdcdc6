// Package qsbr implements epoch-based deferred reclamation.
//
// Every registered Ref reports the global epoch it last observed. An object
// retired at epoch E is freed only after every active Ref has reported an
// epoch strictly greater than E. A parked Ref reports nothing and never holds
// reclamation back; an active Ref that stops refreshing holds back every
// retirement from then on, but never blocks other Refs.
package qsbr

import (
	"cmp"
	"math"
	"slices"
	"sync"
	"sync/atomic"
)

// quiescent is the epoch value of a parked Ref.
const quiescent = 0

type entry struct {
	epoch uint64
	free  func()
}

// Manager owns the global epoch and the registry of Refs.
type Manager struct {
	epoch atomic.Uint64

	mu      sync.Mutex
	refs    atomic.Pointer[[]*Ref] // copy-on-write under mu
	orphans []entry                // retirements without a live owner, under mu

	pending   atomic.Int64
	retired   atomic.Uint64
	reclaimed atomic.Uint64
}

// NewManager creates a manager at epoch 1.
func NewManager() *Manager {
	m := &Manager{}
	m.epoch.Store(1)
	empty := []*Ref{}
	m.refs.Store(&empty)
	return m
}

// Epoch returns the current global epoch.
func (m *Manager) Epoch() uint64 { return m.epoch.Load() }

// Pending returns the number of retired objects not yet freed.
func (m *Manager) Pending() int64 { return m.pending.Load() }

// Stats returns cumulative retire and reclaim counts.
func (m *Manager) Stats() (retired, reclaimed uint64) {
	return m.retired.Load(), m.reclaimed.Load()
}

// Active returns the number of registered Refs.
func (m *Manager) Active() int { return len(*m.refs.Load()) }

// Register creates an active Ref positioned at the current epoch.
func (m *Manager) Register() *Ref {
	r := &Ref{m: m}
	r.epoch.Store(m.epoch.Load())

	m.mu.Lock()
	old := *m.refs.Load()
	refs := make([]*Ref, len(old), len(old)+1)
	copy(refs, old)
	refs = append(refs, r)
	m.refs.Store(&refs)
	m.mu.Unlock()
	return r
}

// MinEpoch returns the oldest epoch reported by an active Ref, or MaxUint64
// when no Ref is active.
func (m *Manager) MinEpoch() uint64 {
	low := uint64(math.MaxUint64)
	for _, r := range *m.refs.Load() {
		if e := r.epoch.Load(); e != quiescent && e < low {
			low = e
		}
	}
	return low
}

// stamp returns a retirement epoch and moves the global epoch past it.
func (m *Manager) stamp() uint64 {
	return m.epoch.Add(1) - 1
}

// Retire queues free on the manager-wide list. Used for retirements that
// happen outside of any Ref.
func (m *Manager) Retire(free func()) {
	e := entry{epoch: m.stamp(), free: free}
	m.retired.Add(1)
	m.pending.Add(1)
	m.mu.Lock()
	m.orphans = append(m.orphans, e)
	m.mu.Unlock()
}

// Reclaim frees every manager-wide retirement that no active Ref can still
// observe and returns the number freed.
func (m *Manager) Reclaim() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reclaimOrphansLocked()
}

func (m *Manager) tryReclaimOrphans() {
	if !m.mu.TryLock() {
		return
	}
	defer m.mu.Unlock()
	if len(m.orphans) > 0 {
		m.reclaimOrphansLocked()
	}
}

func (m *Manager) reclaimOrphansLocked() int {
	var n int
	m.orphans, n = m.drain(m.orphans, m.MinEpoch())
	return n
}

// drain frees the prefix of list retired strictly before low. Lists are
// ordered by epoch because stamps only grow.
func (m *Manager) drain(list []entry, low uint64) ([]entry, int) {
	i := 0
	for i < len(list) && list[i].epoch < low {
		list[i].free()
		list[i] = entry{}
		i++
	}
	if i == 0 {
		return list, 0
	}
	m.pending.Add(-int64(i))
	m.reclaimed.Add(uint64(i))
	rest := list[i:]
	if len(rest) == 0 {
		return list[:0], i
	}
	return append(list[:0:0], rest...), i
}

// Barrier frees everything still queued, regardless of Ref epochs. Callers
// must guarantee no Ref can observe any retired object, as on index teardown.
func (m *Manager) Barrier() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, n := m.drain(m.orphans, math.MaxUint64)
	m.orphans = nil
	return n
}

// Ref is one client's epoch slot plus its private retirement list. A Ref is
// owned by a single goroutine.
type Ref struct {
	m     *Manager
	epoch atomic.Uint64
	limbo []entry
	gone  bool
}

// Manager returns the manager r is registered with.
func (r *Ref) Manager() *Manager { return r.m }

// Epoch returns the epoch last reported by r, 0 when parked.
func (r *Ref) Epoch() uint64 { return r.epoch.Load() }

// Refresh reports the current global epoch and frees the retirements that
// became safe, first from r's own list then, opportunistically, from the
// manager-wide list.
func (r *Ref) Refresh() {
	r.epoch.Store(r.m.epoch.Load())
	if len(r.limbo) > 0 {
		r.limbo, _ = r.m.drain(r.limbo, r.m.MinEpoch())
	}
	r.m.tryReclaimOrphans()
}

// Park marks r quiescent: it holds no pointers and blocks no reclamation
// until Resume.
func (r *Ref) Park() {
	r.epoch.Store(quiescent)
}

// Resume re-enters r at the current epoch.
func (r *Ref) Resume() {
	r.Refresh()
}

// Parked reports whether r is quiescent.
func (r *Ref) Parked() bool { return r.epoch.Load() == quiescent }

// Retire queues free on r's own list, stamped with a fresh epoch.
func (r *Ref) Retire(free func()) {
	r.limbo = append(r.limbo, entry{epoch: r.m.stamp(), free: free})
	r.m.retired.Add(1)
	r.m.pending.Add(1)
}

// Backlog returns the number of entries on r's own list.
func (r *Ref) Backlog() int { return len(r.limbo) }

// Unregister parks r, hands its pending retirements to the manager and
// removes it from the registry. It is idempotent.
func (r *Ref) Unregister() {
	if r.gone {
		return
	}
	r.gone = true
	r.Park()

	m := r.m
	m.mu.Lock()
	m.orphans = append(m.orphans, r.limbo...)
	slices.SortStableFunc(m.orphans, func(a, b entry) int { return cmp.Compare(a.epoch, b.epoch) })
	r.limbo = nil
	old := *m.refs.Load()
	refs := make([]*Ref, 0, len(old))
	for _, x := range old {
		if x != r {
			refs = append(refs, x)
		}
	}
	m.refs.Store(&refs)
	m.reclaimOrphansLocked()
	m.mu.Unlock()
}
