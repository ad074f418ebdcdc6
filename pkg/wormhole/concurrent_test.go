package wormhole

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
)

func valueFor(k []byte) []byte {
	return append([]byte("v:"), k...)
}

func TestConcurrentDisjointRanges(t *testing.T) {
	pool := kv.NewPoolAllocator()
	idx := newTestIndex(t, &Options{LeafCapacity: 16, Allocator: pool})

	const (
		workers = 8
		ops     = 3000
		span    = 200
	)

	stop := make(chan struct{})
	var scanners sync.WaitGroup
	for s := 0; s < 2; s++ {
		scanners.Add(1)
		go func() {
			defer scanners.Done()
			ref := idx.Ref()
			defer ref.Unref()
			out := kv.NewRecordBuffer(64)
			var last []byte
			for {
				select {
				case <-stop:
					return
				default:
				}
				it := ref.Iter()
				it.Seek(nil)
				first := true
				for r := it.Next(out); r != nil; r = it.Next(out) {
					if !first && bytes.Compare(last, r.Key()) >= 0 {
						assert.Failf(t, "order", "%q after %q", r.Key(), last)
					}
					if !bytes.Equal(r.Value(), valueFor(r.Key())) {
						assert.Failf(t, "torn record", "%q = %q", r.Key(), r.Value())
					}
					last = append(last[:0], r.Key()...)
					first = false
				}
				it.Destroy()
			}
		}()
	}

	results := make([]map[string]bool, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ref := idx.Ref()
			defer ref.Unref()
			rng := rand.New(rand.NewSource(int64(w)))
			live := make(map[string]bool)
			for i := 0; i < ops; i++ {
				k := []byte(fmt.Sprintf("w%d-%03d", w, rng.Intn(span)))
				switch rng.Intn(4) {
				case 0:
					if ref.Del(k) != live[string(k)] {
						assert.Failf(t, "lost update", "del %q", k)
					}
					delete(live, string(k))
				case 1:
					got := ref.Get(k, nil)
					if (got != nil) != live[string(k)] {
						assert.Failf(t, "lost update", "get %q", k)
					}
					if got != nil && !bytes.Equal(got.Value(), valueFor(k)) {
						assert.Failf(t, "torn record", "%q = %q", k, got.Value())
					}
				default:
					if !ref.Put(k, valueFor(k)) {
						assert.Failf(t, "set failed", "%q", k)
					}
					live[string(k)] = true
				}
			}
			results[w] = live
		}(w)
	}
	wg.Wait()
	close(stop)
	scanners.Wait()

	require.NoError(t, idx.Verify())
	ref := idx.Ref()
	defer ref.Unref()
	total := 0
	for w, live := range results {
		total += len(live)
		for i := 0; i < span; i++ {
			k := fmt.Sprintf("w%d-%03d", w, i)
			require.Equal(t, live[k], ref.Probe([]byte(k)), k)
		}
	}
	require.EqualValues(t, total, idx.Count())
}

func TestConcurrentCoarseLocking(t *testing.T) {
	idx := newTestIndex(t, smallOptions())
	idx.Locking(true)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ref := idx.Ref()
			defer ref.Unref()
			for i := 0; i < 300; i++ {
				k := []byte(fmt.Sprintf("%d/%03d", w, i))
				assert.True(t, ref.Put(k, valueFor(k)))
				if i%3 == 0 {
					assert.True(t, ref.Del(k))
				}
			}
		}(w)
	}
	// Switching modes while writers run is allowed.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			idx.Locking(i%2 == 0)
		}
	}()
	wg.Wait()

	require.EqualValues(t, 4*200, idx.Count())
	require.NoError(t, idx.Verify())
}
