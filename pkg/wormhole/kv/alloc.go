package kv

import (
	"sync"
	"sync/atomic"
)

// Allocator supplies and takes back record storage for an index. The index
// never creates or frees stored records itself: every record it keeps comes
// from Allocate and every record it drops goes to Retire, once no reader can
// still observe it.
//
// Allocate returns a record whose buffer holds at least size payload bytes,
// or nil when storage is exhausted.
type Allocator interface {
	Allocate(size int) *Record
	Retire(r *Record)
}

// HeapAllocator allocates records from the Go heap and leaves retired
// records to the garbage collector.
type HeapAllocator struct{}

// Allocate returns a fresh heap record.
func (HeapAllocator) Allocate(size int) *Record {
	return &Record{buf: make([]byte, 0, size)}
}

// Retire is a no-op.
func (HeapAllocator) Retire(*Record) {}

// FuncAllocator adapts caller callbacks, each with a private context value.
type FuncAllocator struct {
	Alloc      func(size int, priv any) *Record
	AllocPriv  any
	Free       func(r *Record, priv any)
	RetirePriv any
}

// Allocate calls Alloc, or allocates from the heap when Alloc is nil.
func (f *FuncAllocator) Allocate(size int) *Record {
	if f.Alloc == nil {
		return HeapAllocator{}.Allocate(size)
	}
	return f.Alloc(size, f.AllocPriv)
}

// Retire calls Free when set.
func (f *FuncAllocator) Retire(r *Record) {
	if f.Free != nil {
		f.Free(r, f.RetirePriv)
	}
}

// NewRecordBuffer returns an empty record with room for size payload bytes.
// Custom allocators use it to build the records they hand out.
func NewRecordBuffer(size int) *Record {
	return &Record{buf: make([]byte, 0, size)}
}

// Size classes for PoolAllocator.
const (
	poolSmall  = 64
	poolMedium = 1024
	poolLarge  = 16384
)

// PoolAllocator recycles retired records through size-classed pools.
// Records larger than the largest class are allocated directly.
type PoolAllocator struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool

	stats struct {
		allocations uint64
		reuses      uint64
		retires     uint64
	}
}

// NewPoolAllocator creates a pooled allocator.
func NewPoolAllocator() *PoolAllocator {
	pa := &PoolAllocator{}
	pa.small.New = func() interface{} { return pa.fresh(poolSmall) }
	pa.medium.New = func() interface{} { return pa.fresh(poolMedium) }
	pa.large.New = func() interface{} { return pa.fresh(poolLarge) }
	return pa
}

func (pa *PoolAllocator) fresh(size int) *Record {
	atomic.AddUint64(&pa.stats.allocations, 1)
	return NewRecordBuffer(size)
}

// Allocate returns a record with at least size bytes of capacity.
func (pa *PoolAllocator) Allocate(size int) *Record {
	var r *Record
	switch {
	case size <= poolSmall:
		r = pa.small.Get().(*Record)
	case size <= poolMedium:
		r = pa.medium.Get().(*Record)
	case size <= poolLarge:
		r = pa.large.Get().(*Record)
	default:
		return pa.fresh(size)
	}
	atomic.AddUint64(&pa.stats.reuses, 1)
	return r
}

// Retire clears r and returns it to its size class.
func (pa *PoolAllocator) Retire(r *Record) {
	atomic.AddUint64(&pa.stats.retires, 1)
	clear(r.buf)
	r.buf = r.buf[:0]
	r.klen, r.vlen, r.hash = 0, 0, 0
	switch cap(r.buf) {
	case poolSmall:
		pa.small.Put(r)
	case poolMedium:
		pa.medium.Put(r)
	case poolLarge:
		pa.large.Put(r)
	default:
		// Let GC handle non-standard sizes
	}
}

// GetStats returns allocation, reuse and retire counts.
func (pa *PoolAllocator) GetStats() (allocations, reuses, retires uint64) {
	return atomic.LoadUint64(&pa.stats.allocations),
		atomic.LoadUint64(&pa.stats.reuses),
		atomic.LoadUint64(&pa.stats.retires)
}
