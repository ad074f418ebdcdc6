package wormhole

import (
	"bytes"
	"fmt"
	"math/rand"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
)

func newTestIndex(t *testing.T, opts *Options) *Index {
	t.Helper()
	idx, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, idx.Close()) })
	return idx
}

func smallOptions() *Options {
	return &Options{LeafCapacity: 8}
}

// scan returns every key from the start of the index, in iteration order.
func scan(t *testing.T, m Map) []string {
	t.Helper()
	it := m.Iter()
	defer it.Destroy()
	it.Seek(nil)
	keys := []string{}
	out := kv.NewRecordBuffer(64)
	for r := it.Next(out); r != nil; r = it.Next(out) {
		keys = append(keys, string(r.Key()))
	}
	return keys
}

func TestSeekSkipDelete(t *testing.T) {
	idx := newTestIndex(t, nil)
	ref := idx.Ref()
	defer ref.Unref()

	for _, k := range []string{"a", "c", "e", "g"} {
		require.True(t, ref.Put([]byte(k), []byte(k)))
	}

	it := ref.Iter()
	it.Seek([]byte("b"))
	require.Equal(t, "c", string(it.Peek(nil).Key()))

	it.Seek([]byte("a"))
	require.Equal(t, "a", string(it.Next(nil).Key()))
	it.Skip(2)
	require.Equal(t, "g", string(it.Peek(nil).Key()))
	require.Equal(t, "g", string(it.Next(nil).Key()))
	require.Nil(t, it.Next(nil))
	require.False(t, it.Valid())
	it.Destroy()

	require.True(t, ref.Del([]byte("c")))
	require.False(t, ref.Probe([]byte("c")))
	require.False(t, ref.Del([]byte("c")))
	require.Equal(t, []byte("e"), ref.Get([]byte("e"), nil).Value())
	require.NoError(t, idx.Verify())
}

func TestRoundTrip(t *testing.T) {
	idx := newTestIndex(t, smallOptions())
	ref := idx.Ref()
	defer ref.Unref()

	for i := 0; i < 500; i++ {
		k := []byte(fmt.Sprintf("key-%04d", i))
		require.True(t, ref.Put(k, []byte(fmt.Sprintf("value-%d", i))))
	}
	require.EqualValues(t, 500, idx.Count())

	buf := make([]byte, 0, 4)
	for i := 0; i < 500; i++ {
		k := []byte(fmt.Sprintf("key-%04d", i))
		want := []byte(fmt.Sprintf("value-%d", i))
		require.Equal(t, want, ref.Get(k, nil).Value())
		v, ok := ref.GetValue(k, buf)
		require.True(t, ok)
		require.Equal(t, want, v)
		require.Equal(t, want, ref.GetBorrow(k).Value())
	}

	// Replacing keeps the count.
	require.True(t, ref.Put([]byte("key-0007"), []byte("replaced")))
	require.Equal(t, []byte("replaced"), ref.Get([]byte("key-0007"), nil).Value())
	require.EqualValues(t, 500, idx.Count())

	for i := 0; i < 500; i += 2 {
		require.True(t, ref.Del([]byte(fmt.Sprintf("key-%04d", i))))
	}
	for i := 0; i < 500; i++ {
		k := []byte(fmt.Sprintf("key-%04d", i))
		require.Equal(t, i%2 == 1, ref.Probe(k), string(k))
	}
	_, ok := ref.GetValue([]byte("key-0000"), nil)
	require.False(t, ok)
	require.Nil(t, ref.Get([]byte("key-0000"), nil))
	require.NoError(t, idx.Verify())
}

func TestEmptyKeyAndPrefixKeys(t *testing.T) {
	idx := newTestIndex(t, smallOptions())
	ref := idx.Ref()
	defer ref.Unref()

	keys := []string{"", "\x00", "a", "a\x00", "ab", "abc", "abcd", "abd", "b", "ba", "\xff", "\xff\xff"}
	for _, k := range keys {
		require.True(t, ref.Put([]byte(k), []byte("v"+k)))
	}
	require.NoError(t, idx.Verify())
	require.Equal(t, keys, scan(t, ref))
	for _, k := range keys {
		require.Equal(t, []byte("v"+k), ref.Get([]byte(k), nil).Value(), "%q", k)
	}
}

func TestOrderInvariantRandom(t *testing.T) {
	idx := newTestIndex(t, smallOptions())
	ref := idx.Ref()
	defer ref.Unref()

	rng := rand.New(rand.NewSource(7))
	alphabet := []byte{0, 'a', 'b', 0xff}
	randKey := func() []byte {
		k := make([]byte, rng.Intn(7))
		for i := range k {
			k[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return k
	}

	model := make(map[string]string)
	for round := 0; round < 5; round++ {
		for i := 0; i < 600; i++ {
			k := randKey()
			if rng.Intn(3) == 0 {
				_, had := model[string(k)]
				require.Equal(t, had, ref.Del(k))
				delete(model, string(k))
				continue
			}
			v := fmt.Sprintf("%d-%d", round, i)
			require.True(t, ref.Put(k, []byte(v)))
			model[string(k)] = v
		}
		require.NoError(t, idx.Verify())

		want := make([]string, 0, len(model))
		for k := range model {
			want = append(want, k)
		}
		slices.Sort(want)
		got := scan(t, ref)
		require.Equal(t, want, got)
		require.EqualValues(t, len(model), idx.Count())
		for k, v := range model {
			require.Equal(t, []byte(v), ref.Get([]byte(k), nil).Value())
		}
	}
}

func TestSplitKeepsKeysReachable(t *testing.T) {
	idx := newTestIndex(t, smallOptions())
	ref := idx.Ref()
	defer ref.Unref()

	for i := 0; i < 200; i++ {
		require.True(t, ref.Put([]byte(fmt.Sprintf("s%05d", i)), nil))
		for j := 0; j <= i; j += 17 {
			require.True(t, ref.Probe([]byte(fmt.Sprintf("s%05d", j))))
		}
	}
	st := idx.Stats()
	require.Greater(t, st.Splits, uint64(20))
	require.EqualValues(t, st.Splits+1, st.Leaves)

	anchors := idx.Anchors()
	require.Equal(t, []byte{}, anchors[0])
	for i := 1; i < len(anchors); i++ {
		require.Negative(t, bytes.Compare(anchors[i-1], anchors[i]))
	}
	require.NoError(t, idx.Verify())
}

func TestExplicitSplitAndMerge(t *testing.T) {
	idx := newTestIndex(t, smallOptions())
	ref := idx.Ref()
	defer ref.Unref()

	for _, k := range []string{"a", "c", "e", "g"} {
		require.True(t, ref.Put([]byte(k), nil))
	}
	require.True(t, ref.SplitAt([]byte("b")))
	require.Equal(t, [][]byte{{}, []byte("e")}, idx.Anchors())
	require.Equal(t, []byte("e"), idx.JumpLeafOnly([]byte("f")))
	require.Equal(t, []byte{}, idx.JumpLeafOnly([]byte("d")))
	require.NoError(t, idx.Verify())

	require.True(t, ref.SplitAt([]byte("a")))
	require.Equal(t, [][]byte{{}, []byte("c"), []byte("e")}, idx.Anchors())
	// Single-record leaf: nothing to split.
	require.False(t, ref.SplitAt([]byte("a")))

	// Leaves are always sorted; syncing one changes nothing.
	ref.SyncAt([]byte("d"))
	require.Equal(t, [][]byte{{}, []byte("c"), []byte("e")}, idx.Anchors())
	require.Equal(t, []string{"a", "c", "e", "g"}, scan(t, ref))

	// The right neighbour is absorbed first; anchors never move.
	require.True(t, ref.MergeAt([]byte("c")))
	require.Equal(t, [][]byte{{}, []byte("c")}, idx.Anchors())
	require.True(t, ref.MergeAt([]byte("f")))
	require.Equal(t, [][]byte{{}}, idx.Anchors())
	require.False(t, ref.MergeAt([]byte("f")))
	require.Equal(t, []string{"a", "c", "e", "g"}, scan(t, ref))
	require.NoError(t, idx.Verify())
}

func TestMergeOnUnderflow(t *testing.T) {
	idx := newTestIndex(t, smallOptions())
	ref := idx.Ref()
	defer ref.Unref()

	for i := 0; i < 256; i++ {
		require.True(t, ref.Put([]byte(fmt.Sprintf("m%04d", i)), []byte("x")))
	}
	grown := idx.Stats().Leaves
	for i := 0; i < 256; i++ {
		if i%16 != 0 {
			require.True(t, ref.Del([]byte(fmt.Sprintf("m%04d", i))))
		}
	}
	st := idx.Stats()
	require.Positive(t, st.Merges)
	require.Less(t, st.Leaves, grown)
	for i := 0; i < 256; i += 16 {
		require.True(t, ref.Probe([]byte(fmt.Sprintf("m%04d", i))))
	}
	require.Len(t, scan(t, ref), 16)
	require.NoError(t, idx.Verify())
}

func TestInplace(t *testing.T) {
	idx := newTestIndex(t, nil)
	ref := idx.Ref()
	defer ref.Unref()

	require.True(t, ref.Put([]byte("counter"), []byte{0, 0}))
	bump := func(r *kv.Record) { r.Value()[1]++ }
	for i := 0; i < 3; i++ {
		require.True(t, ref.Inplace([]byte("counter"), bump))
	}
	require.Equal(t, []byte{0, 3}, ref.Get([]byte("counter"), nil).Value())
	require.False(t, ref.Inplace([]byte("missing"), bump))

	require.True(t, ref.Put([]byte("d"), []byte{9, 9}))
	it := ref.Iter()
	defer it.Destroy()
	it.Seek([]byte("counter"))
	require.True(t, it.Inplace(bump))
	r := it.Peek(nil)
	require.Equal(t, "counter", string(r.Key()))
	require.Equal(t, []byte{0, 4}, r.Value())
	require.Equal(t, "counter", string(it.Next(nil).Key()))
	require.Equal(t, "d", string(it.Next(nil).Key()))
	require.False(t, it.Inplace(bump))
}

func TestIterRecoversAfterStructuralChange(t *testing.T) {
	idx := newTestIndex(t, smallOptions())
	ref := idx.Ref()
	defer ref.Unref()

	for i := 0; i < 64; i++ {
		require.True(t, ref.Put([]byte(fmt.Sprintf("i%03d", i)), nil))
	}
	it := ref.Iter()
	defer it.Destroy()
	it.Seek([]byte("i010"))
	require.Equal(t, "i010", string(it.Next(nil).Key()))

	// Reshape the area around the cursor.
	for i := 11; i < 40; i++ {
		require.True(t, ref.Del([]byte(fmt.Sprintf("i%03d", i))))
	}
	require.True(t, ref.Put([]byte("i010a"), nil))
	require.Equal(t, "i010a", string(it.Next(nil).Key()))
	require.Equal(t, "i040", string(it.Next(nil).Key()))

	it.Park()
	require.True(t, ref.Put([]byte("i040a"), nil))
	require.Equal(t, "i040a", string(it.Peek(nil).Key()))
	it.Skip(100)
	require.Nil(t, it.Peek(nil))
}

func TestUnseekedIterator(t *testing.T) {
	idx := newTestIndex(t, nil)
	ref := idx.Ref()
	defer ref.Unref()
	require.True(t, ref.Put([]byte("a"), nil))

	it := ref.Iter()
	require.Nil(t, it.Peek(nil))
	require.Nil(t, it.Next(nil))
	it.Destroy()
	require.Panics(t, func() { it.Next(nil) })
	require.Panics(t, func() { it.Destroy() })
}

func TestAllocationFailure(t *testing.T) {
	fail := true
	mm := &kv.FuncAllocator{Alloc: func(size int, _ any) *kv.Record {
		if fail {
			return nil
		}
		return kv.NewRecordBuffer(size)
	}}
	idx := newTestIndex(t, &Options{Allocator: mm})
	ref := idx.Ref()
	defer ref.Unref()

	require.False(t, ref.Put([]byte("a"), []byte("1")))
	require.ErrorIs(t, ref.TrySet(kv.NewStr("a", "1")), ErrAllocation)
	require.False(t, ref.Probe([]byte("a")))
	require.Zero(t, idx.Count())
	require.EqualValues(t, 2, idx.Stats().AllocFailures)

	fail = false
	require.True(t, ref.Put([]byte("a"), []byte("1")))
	fail = true
	// The private copy for an update cannot be made; the old value stays.
	bump := func(r *kv.Record) { r.Value()[0] = '2' }
	require.False(t, ref.Inplace([]byte("a"), bump))
	found, err := ref.TryInplace([]byte("a"), bump)
	require.True(t, found)
	require.ErrorIs(t, err, ErrAllocation)
	found, err = ref.TryInplace([]byte("b"), bump)
	require.False(t, found)
	require.NoError(t, err)
	require.Equal(t, []byte("1"), ref.Get([]byte("a"), nil).Value())
	require.NoError(t, idx.Verify())

	fail = false
	found, err = ref.TryInplace([]byte("a"), bump)
	require.True(t, found)
	require.NoError(t, err)
	require.Equal(t, []byte("2"), ref.Get([]byte("a"), nil).Value())
}

func TestKeyTooLarge(t *testing.T) {
	idx := newTestIndex(t, &Options{MaxKeySize: 4})
	ref := idx.Ref()
	defer ref.Unref()

	require.ErrorIs(t, ref.TrySet(kv.NewStr("hello", "")), ErrKeyTooLarge)
	require.True(t, ref.Put([]byte("hell"), nil))
	require.EqualValues(t, 1, idx.Stats().RejectedKeys)
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())
	var nilOpts *Options
	require.NoError(t, nilOpts.Validate())

	for _, o := range []*Options{
		{LeafCapacity: 4},
		{LeafCapacity: 1 << 20},
		{LeafCapacity: 16, LowWater: 9},
		{LeafCapacity: 16, LowWater: 4, MergeLimit: 17},
		{LeafCapacity: 16, LowWater: 6, MergeLimit: 5},
		{MaxKeySize: -1},
	} {
		_, err := New(o)
		require.ErrorIs(t, err, ErrInvalidOptions, "%+v", *o)
	}
}

func TestCleanAndClose(t *testing.T) {
	idx, err := New(smallOptions())
	require.NoError(t, err)
	ref := idx.Ref()
	for i := 0; i < 100; i++ {
		require.True(t, ref.Put([]byte(fmt.Sprintf("c%03d", i)), nil))
	}
	require.Greater(t, idx.Stats().Leaves, int64(1))

	idx.Clean()
	require.Zero(t, idx.Count())
	require.Len(t, idx.Anchors(), 1)
	require.False(t, ref.Probe([]byte("c001")))
	require.Empty(t, scan(t, ref))
	require.NoError(t, idx.Verify())

	require.True(t, ref.Put([]byte("again"), nil))
	require.ErrorIs(t, idx.Close(), ErrHandleMisuse)
	ref.Unref()
	require.Panics(t, func() { ref.Probe([]byte("again")) })
	require.Panics(t, func() { ref.Unref() })

	require.NoError(t, idx.Close())
	require.ErrorIs(t, idx.Close(), ErrClosed)
	require.Panics(t, func() { idx.Ref() })
}

func TestLockingToggle(t *testing.T) {
	idx := newTestIndex(t, smallOptions())
	require.False(t, idx.Locking(true))
	require.True(t, idx.Locking(true))

	ref := idx.Ref()
	defer ref.Unref()
	for i := 0; i < 50; i++ {
		require.True(t, ref.Put([]byte(fmt.Sprintf("l%02d", i)), nil))
	}
	require.Len(t, scan(t, ref), 50)
	require.NoError(t, idx.Verify())

	require.True(t, idx.Locking(false))
	require.True(t, ref.Del([]byte("l00")))
	require.Len(t, scan(t, ref), 49)
}

func TestLockingWaitsForRunningOperations(t *testing.T) {
	idx := newTestIndex(t, nil)
	ref := idx.Ref()
	defer ref.Unref()
	require.True(t, ref.Put([]byte("k"), []byte("v1")))

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan bool)
	go func() {
		done <- ref.Inplace([]byte("k"), func(r *kv.Record) {
			close(inside)
			<-release
			r.Value()[0] = 'x'
		})
	}()
	<-inside

	var switched atomic.Bool
	go func() {
		idx.Locking(true)
		switched.Store(true)
	}()
	require.Never(t, switched.Load, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	require.True(t, <-done)
	require.Eventually(t, switched.Load, time.Second, time.Millisecond)

	v, ok := ref.GetValue([]byte("k"), nil)
	require.True(t, ok)
	require.Equal(t, "x1", string(v))
}
