package codec

import (
	"testing"

	"github.com/rpcpool/alertbase/internal/aerrors"
	"github.com/stretchr/testify/require"
)

func TestFixedUint64RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 255, 256, 1 << 32, 1<<63 - 1, 1<<64 - 1}
	for _, n := range cases {
		got, err := DecodeFixedUint64(EncodeFixedUint64(n))
		require.NoError(t, err)
		require.Equal(t, n, got)
	}
}

func TestFixedUint64BigEndianOrdersLikeNumbers(t *testing.T) {
	a := EncodeFixedUint64(10)
	b := EncodeFixedUint64(300)
	require.Less(t, string(a), string(b))
}

func TestVarintRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 63, -64, 1000, -1000, 1 << 32, -(1 << 32), 1<<62 - 1, -(1 << 62)}
	for _, n := range cases {
		buf := EncodeVarint(n)
		got, consumed, err := DecodeVarint(buf)
		require.NoError(t, err)
		require.Equal(t, n, got)
		require.Equal(t, len(buf), consumed)
	}
}

func TestVarintSeqRoundTrip(t *testing.T) {
	cases := [][]int64{
		{},
		{0},
		{1, 2, 3, 4},
		{128, 256, 512},
		{1 << 32, 1 << 60, 1<<63 - 1},
	}
	for _, vals := range cases {
		buf := EncodeVarintSeq(vals)
		got, err := DecodeVarintSeq(buf)
		require.NoError(t, err)
		require.Equal(t, vals, got)
	}
}

func TestVarintSeqGoldenBytes(t *testing.T) {
	// Small positive integers zig-zag to double their value, one byte each.
	require.Equal(t, []byte{0x02, 0x04, 0x06, 0x08}, EncodeVarintSeq([]int64{1, 2, 3, 4}))
	require.Equal(t, []byte{0x00}, EncodeVarintSeq([]int64{0}))
	require.Equal(t, []byte{}, EncodeVarintSeq(nil))
}

func TestVarintSeqIteratorIsLazyAndRestartable(t *testing.T) {
	buf := EncodeVarintSeq([]int64{10, 20, 30})
	it := NewVarintSeqIterator(buf)
	v, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(10), v)

	// Decoding can resume from the iterator's current offset.
	rest, err := DecodeVarintSeq(buf[it.pos:])
	require.NoError(t, err)
	require.Equal(t, []int64{20, 30}, rest)
}

func TestDecodeVarintTruncated(t *testing.T) {
	_, _, err := DecodeVarint([]byte{0x80, 0x80})
	require.ErrorIs(t, err, aerrors.ErrDecodeTruncated)
}

func TestStringRoundTrip(t *testing.T) {
	samples := []string{"", "ZTF18aaylcqb", "héllo wörld", "日本語"}
	for _, s := range samples {
		got, err := DecodeString(EncodeString(s))
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
}

func TestStringInvalidUTF8(t *testing.T) {
	_, err := DecodeString([]byte{0xff, 0xfe})
	require.Error(t, err)
}

func TestTimestampRoundTrip(t *testing.T) {
	unixSeconds := 1600000000.123456
	buf := EncodeTimestampUnixNanos(unixSeconds)
	got, err := DecodeTimestampUnixNanos(buf)
	require.NoError(t, err)
	require.InDelta(t, unixSeconds, got, 1e-6)
}
