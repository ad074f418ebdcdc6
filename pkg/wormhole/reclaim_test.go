package wormhole

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CVDpl/go-live-wormhole/internal/common"
	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
)

func TestMergedLeafStaysReadable(t *testing.T) {
	idx := newTestIndex(t, smallOptions())
	reader := idx.Ref()
	defer reader.Unref()
	writer := idx.Ref()
	defer writer.Unref()

	for _, k := range "abcdefghi" {
		require.True(t, writer.Put([]byte{byte(k)}, []byte{byte(k)}))
	}
	require.Equal(t, [][]byte{{}, []byte("e")}, idx.Anchors())

	// The reader is in the middle of an operation on leaf "e".
	require.True(t, reader.Probe([]byte("g")))
	l, s := idx.leafFor([]byte("g"))
	require.Equal(t, []byte("e"), l.anchor)

	for _, k := range "fghi" {
		require.True(t, writer.Del([]byte{byte(k)}))
	}
	require.Equal(t, [][]byte{{}}, idx.Anchors())
	require.True(t, l.dead.Load())
	require.NotSame(t, l, idx.jump([]byte("g")))
	require.Same(t, idx.head, idx.jump([]byte("g")))

	// What the reader loaded is still the consistent pre-merge view.
	g := s.lookup([]byte("g"), kv.HashKey([]byte("g")))
	require.NotNil(t, g)
	require.Equal(t, []byte("g"), g.Value())
	last := l.snap.Load()
	require.Len(t, last.kvs, 1)

	writer.Refresh()
	require.Same(t, last, l.snap.Load(), "leaf recycled under an active reader")
	require.Positive(t, idx.Stats().Pending)

	reader.Refresh()
	writer.Refresh()
	require.NotSame(t, last, l.snap.Load())
	require.Zero(t, idx.Stats().Pending)
	require.NoError(t, idx.Verify())
}

func TestStalledRefDefersRecordFree(t *testing.T) {
	freed := 0
	mm := &kv.FuncAllocator{Free: func(*kv.Record, any) { freed++ }}
	idx := newTestIndex(t, &Options{Allocator: mm})
	stalled := idx.Ref()
	defer stalled.Unref()
	w := idx.Ref()
	defer w.Unref()

	require.False(t, stalled.Probe([]byte("x")))
	require.True(t, w.Put([]byte("x"), []byte("1")))
	require.True(t, w.Put([]byte("x"), []byte("2")))
	require.True(t, w.Del([]byte("x")))
	w.Refresh()
	require.Zero(t, freed)
	require.EqualValues(t, 2, idx.Stats().Pending)

	stalled.Park()
	w.Refresh()
	require.Equal(t, 2, freed)

	// The next operation resumes the parked handle.
	require.False(t, stalled.Probe([]byte("x")))
	require.EqualValues(t, 2, idx.Stats().Reclaimed)
}

func TestUnrefHandsOverRetirements(t *testing.T) {
	idx := newTestIndex(t, nil)
	stalled := idx.Ref()
	defer stalled.Unref()
	require.False(t, stalled.Probe([]byte("k")))

	w := idx.Ref()
	for i := 0; i < 5; i++ {
		require.True(t, w.Put([]byte("k"), []byte(fmt.Sprint(i))))
	}
	w.Unref()
	require.EqualValues(t, 4, idx.Stats().Pending)
	require.Zero(t, idx.Reclaim())

	stalled.Refresh()
	require.Zero(t, idx.Stats().Pending)
}

func TestBacklogWarning(t *testing.T) {
	rec := common.NewRecordingLogger()
	idx := newTestIndex(t, &Options{Logger: rec, ReclaimWarnThreshold: 4})
	stalled := idx.Ref()
	defer stalled.Unref()
	require.False(t, stalled.Probe(nil))

	w := idx.Ref()
	defer w.Unref()
	for i := 0; i < 10; i++ {
		require.True(t, w.Put([]byte("k"), []byte(fmt.Sprint(i))))
	}
	warns := rec.Entries(common.LogLevelWarn)
	require.Len(t, warns, 1)
	require.Contains(t, warns[0].Message, "backlog")
	require.Contains(t, warns[0].Fields, "pending")
}
