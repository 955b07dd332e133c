// Package codec provides the small pack/unpack primitives that every
// on-disk key and value in the index store is built from: a fixed-width
// big-endian uint64 (used where lexicographic byte order must match numeric
// order), a zig-zag varint (used for candidate IDs and list elements), a
// lazy varint-sequence decoder, a UTF-8 string identity codec, and a
// timestamp codec from unix-epoch seconds to fixed-width unix nanoseconds.
//
// Each codec is a small named pack/unpack pair, mirroring the teacher's
// uint48/uint24 helpers in indexes/uints.go and the original Python
// implementation's Codec class in encoding.py.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/rpcpool/alertbase/internal/aerrors"
)

// FixedUint64Size is the encoded width of the fixed uint64 codec.
const FixedUint64Size = 8

// EncodeFixedUint64 packs v as 8 big-endian bytes. Big-endian is required so
// that byte-lexicographic order over the encoded keys matches numeric order,
// which range scans over the healpixels and timestamps tables depend on.
func EncodeFixedUint64(v uint64) []byte {
	buf := make([]byte, FixedUint64Size)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// DecodeFixedUint64 unpacks 8 big-endian bytes into a uint64.
func DecodeFixedUint64(buf []byte) (uint64, error) {
	if len(buf) < FixedUint64Size {
		return 0, fmt.Errorf("codec: fixed uint64: %w", aerrors.ErrDecodeTruncated)
	}
	return binary.BigEndian.Uint64(buf[:FixedUint64Size]), nil
}

// EncodeString is the identity codec over UTF-8 bytes.
func EncodeString(s string) []byte {
	return []byte(s)
}

// DecodeString validates that buf is well-formed UTF-8 and returns it as a
// string.
func DecodeString(buf []byte) (string, error) {
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("codec: string: %w", aerrors.ErrDecodeUTF8)
	}
	return string(buf), nil
}

// zigzagEncode maps a signed integer onto the unsigned integers so that
// small-magnitude values (positive or negative) encode to small unsigned
// values: 0, -1, 1, -2, 2, ... -> 0, 1, 2, 3, 4, ...
func zigzagEncode(n int64) uint64 {
	return uint64((n << 1) ^ (n >> 63))
}

func zigzagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// EncodeVarint packs a signed integer as a zig-zag, 7-bits-per-byte varint
// with a continuation bit in the MSB of each byte.
func EncodeVarint(n int64) []byte {
	u := zigzagEncode(n)
	buf := make([]byte, 0, binary.MaxVarintLen64)
	for {
		b := byte(u & 0x7f)
		u >>= 7
		if u != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			break
		}
	}
	return buf
}

// DecodeVarint unpacks a single zig-zag varint from the start of buf and
// returns the value along with the number of bytes consumed.
func DecodeVarint(buf []byte) (int64, int, error) {
	var u uint64
	var shift uint
	for i, b := range buf {
		if shift >= 64 {
			return 0, 0, fmt.Errorf("codec: varint: %w", aerrors.ErrEncodeRange)
		}
		u |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return zigzagDecode(u), i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("codec: varint: %w", aerrors.ErrDecodeTruncated)
}

// EncodeVarintSeq packs a sequence of signed integers as concatenated
// zig-zag varints with no separator; decoding relies on each varint being
// self-delimiting.
func EncodeVarintSeq(vals []int64) []byte {
	out := make([]byte, 0, len(vals)*2)
	for _, v := range vals {
		out = append(out, EncodeVarint(v)...)
	}
	return out
}

// VarintSeqIterator lazily decodes a concatenated varint sequence, yielding
// integers until the buffer is exhausted. It is restartable from any
// already-computed offset, since every element is self-delimiting.
type VarintSeqIterator struct {
	buf []byte
	pos int
}

// NewVarintSeqIterator returns an iterator over buf, an earlier product of
// EncodeVarintSeq or repeated appends thereof.
func NewVarintSeqIterator(buf []byte) *VarintSeqIterator {
	return &VarintSeqIterator{buf: buf}
}

// Next returns the next integer in the sequence. ok is false once the
// buffer is exhausted.
func (it *VarintSeqIterator) Next() (val int64, ok bool, err error) {
	if it.pos >= len(it.buf) {
		return 0, false, nil
	}
	v, n, err := DecodeVarint(it.buf[it.pos:])
	if err != nil {
		return 0, false, err
	}
	it.pos += n
	return v, true, nil
}

// DecodeVarintSeq eagerly decodes an entire concatenated varint buffer into
// a slice; a convenience wrapper around VarintSeqIterator for callers that
// don't need streaming.
func DecodeVarintSeq(buf []byte) ([]int64, error) {
	it := NewVarintSeqIterator(buf)
	out := []int64{}
	for {
		v, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

// nanosPerSecond is the scale factor between unix seconds and unix
// nanoseconds used by the timestamp codec.
const nanosPerSecond = 1e9

// EncodeTimestampUnixNanos packs a unix-epoch-seconds timestamp (as used by
// the timestamps table key, and by the manifest's timestamp stats) as a
// fixed big-endian uint64 of nanoseconds.
func EncodeTimestampUnixNanos(unixSeconds float64) []byte {
	return EncodeFixedUint64(uint64(math.Round(unixSeconds * nanosPerSecond)))
}

// DecodeTimestampUnixNanos reverses EncodeTimestampUnixNanos, returning the
// timestamp as unix-epoch seconds.
func DecodeTimestampUnixNanos(buf []byte) (float64, error) {
	nanos, err := DecodeFixedUint64(buf)
	if err != nil {
		return 0, fmt.Errorf("codec: timestamp: %w", err)
	}
	return float64(nanos) / nanosPerSecond, nil
}
