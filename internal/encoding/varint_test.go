package encoding

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVI128Sizes(t *testing.T) {
	cases := []struct {
		v    uint32
		size int
	}{
		{0, 1}, {127, 1}, {128, 2}, {16383, 2}, {16384, 3},
		{1<<21 - 1, 3}, {1 << 21, 4}, {1<<28 - 1, 4}, {1 << 28, 5}, {math.MaxUint32, 5},
	}
	for _, c := range cases {
		require.Equal(t, c.size, SizeVI128(c.v), "value %d", c.v)
		enc := AppendVI128(nil, c.v)
		require.Len(t, enc, c.size)

		got, n, err := DecodeVI128(enc)
		require.NoError(t, err)
		require.Equal(t, c.size, n)
		require.Equal(t, c.v, got)
	}
}

// The encoding is bit-compatible with unsigned LEB128 as used by encoding/binary.
func TestVI128MatchesUvarint(t *testing.T) {
	for _, v := range []uint32{0, 1, 300, 70000, math.MaxUint32} {
		var ref [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(ref[:], uint64(v))

		var buf [MaxVI128Len32]byte
		m := PutVI128(buf[:], v)
		require.Equal(t, ref[:n], buf[:m])
	}
}

func TestVI128DecodeErrors(t *testing.T) {
	_, _, err := DecodeVI128([]byte{0x80, 0x80})
	require.ErrorIs(t, err, ErrVI128Truncated)

	_, _, err = DecodeVI128([]byte{0xff, 0xff, 0xff, 0xff, 0x7f})
	require.ErrorIs(t, err, ErrVI128Overflow)

	_, _, err = DecodeVI128(nil)
	require.ErrorIs(t, err, ErrVI128Truncated)
}
