package wormhole

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
)

func TestUnsafeMatchesModel(t *testing.T) {
	u, err := NewUnsafe(&Options{LeafCapacity: 8, Allocator: kv.NewPoolAllocator()})
	require.NoError(t, err)
	defer func() { require.NoError(t, u.Close()) }()

	rng := rand.New(rand.NewSource(11))
	model := make(map[string]string)
	for i := 0; i < 3000; i++ {
		k := fmt.Sprintf("u%03d", rng.Intn(400))
		if rng.Intn(3) == 0 {
			_, had := model[k]
			require.Equal(t, had, u.Del([]byte(k)))
			delete(model, k)
			continue
		}
		v := fmt.Sprint(i)
		require.True(t, u.Put([]byte(k), []byte(v)))
		model[k] = v
	}
	require.NoError(t, u.Verify())

	want := make([]string, 0, len(model))
	for k, v := range model {
		want = append(want, k)
		require.Equal(t, []byte(v), u.Get([]byte(k), nil).Value())
	}
	slices.Sort(want)
	require.Equal(t, want, scan(t, u))
	require.EqualValues(t, len(model), u.Count())
	require.Zero(t, u.Stats().Epoch)
}

func TestUnsafeFreesImmediately(t *testing.T) {
	freed := 0
	mm := &kv.FuncAllocator{Free: func(*kv.Record, any) { freed++ }}
	u, err := NewUnsafe(&Options{Allocator: mm})
	require.NoError(t, err)

	require.True(t, u.Put([]byte("x"), []byte("1")))
	require.True(t, u.Put([]byte("x"), []byte("2")))
	require.Equal(t, 1, freed)
	require.True(t, u.Put([]byte("y"), []byte("3")))
	require.True(t, u.Del([]byte("x")))
	require.Equal(t, 2, freed)

	require.NoError(t, u.Close())
	require.Equal(t, 3, freed)
	require.ErrorIs(t, u.Close(), ErrClosed)
}

func TestUnsafeInplaceAndIter(t *testing.T) {
	u, err := NewUnsafe(smallOptions())
	require.NoError(t, err)
	defer u.Close()

	for i := 0; i < 40; i++ {
		require.True(t, u.Put([]byte(fmt.Sprintf("k%02d", i)), []byte{byte(i)}))
	}
	borrowed := u.GetBorrow([]byte("k05"))
	require.True(t, u.Inplace([]byte("k05"), func(r *kv.Record) { r.Value()[0] = 99 }))
	// Unsafe updates happen on the stored record itself.
	require.Equal(t, []byte{99}, borrowed.Value())
	found, err := u.TryInplace([]byte("k99"), func(r *kv.Record) {})
	require.False(t, found)
	require.NoError(t, err)
	u.SyncAt([]byte("k05"))

	it := u.Iter()
	defer it.Destroy()
	it.Seek([]byte("k05"))
	require.True(t, it.Inplace(func(r *kv.Record) { r.Value()[0]++ }))
	require.Equal(t, []byte{100}, it.Next(nil).Value())
	require.True(t, u.Del([]byte("k06")))
	require.Equal(t, "k07", string(it.Next(nil).Key()))
	it.Skip(30)
	require.Equal(t, "k38", string(it.Peek(nil).Key()))

	require.True(t, u.SplitAt([]byte("k38")))
	require.NoError(t, u.Verify())
	require.Equal(t, "k38", string(it.Next(nil).Key()))

	u.Clean()
	require.Zero(t, u.Count())
	require.Nil(t, it.Peek(nil))
	require.Len(t, u.Anchors(), 1)
	require.NoError(t, u.Verify())
}

func TestUnsafeLocking(t *testing.T) {
	u, err := NewUnsafe(nil)
	require.NoError(t, err)
	defer u.Close()

	require.False(t, u.Locking(true))
	require.True(t, u.Put([]byte("a"), nil))
	require.True(t, u.Probe([]byte("a")))
	require.True(t, u.Locking(false))
}
