package healpix

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPositionToPixelNorthPole(t *testing.T) {
	cases := map[int]uint64{1: 3, 2: 15, 3: 63}
	for order, want := range cases {
		got := PositionToPixel(order, 0, 90)
		require.Equalf(t, want, got, "order %d", order)
	}
}

func TestPositionToPixelCelestialEquator(t *testing.T) {
	cases := map[int]uint64{1: 17, 2: 70, 3: 282}
	for order, want := range cases {
		got := PositionToPixel(order, 0, 0)
		require.Equalf(t, want, got, "order %d", order)
	}
}

func TestPositionToPixelWithinBounds(t *testing.T) {
	order := 12
	got := PositionToPixel(order, 234.1362886, 16.6055949)
	require.Less(t, got, NPix(order))
}

func TestPositionToPixelIsStableUnderWraparound(t *testing.T) {
	a := PositionToPixel(6, 0, 45)
	b := PositionToPixel(6, 360, 45)
	require.Equal(t, a, b)
}

func TestDiscToPixelsContainsCenter(t *testing.T) {
	order := 8
	center := PositionToPixel(order, 180, -30)
	pixels := DiscToPixels(order, 180, -30, 0.05)
	require.Contains(t, pixels, center)
}

func TestDiscToPixelsIsSortedAndDeduplicated(t *testing.T) {
	pixels := DiscToPixels(6, 10, 10, 2.0)
	require.NotEmpty(t, pixels)
	for i := 1; i < len(pixels); i++ {
		require.Less(t, pixels[i-1], pixels[i])
	}
}

func TestDiscToPixelsGrowsWithRadius(t *testing.T) {
	order := 8
	small := DiscToPixels(order, 50, -10, 0.1)
	large := DiscToPixels(order, 50, -10, 2.0)
	require.Greater(t, len(large), len(small))
}

func TestCompactRangesMergesContiguous(t *testing.T) {
	got := CompactRanges([]uint64{1, 2, 3, 7, 8, 10})
	want := []PixelRange{{Start: 1, End: 4}, {Start: 7, End: 9}, {Start: 10, End: 11}}
	require.Equal(t, want, got)
}

func TestCompactRangesEmpty(t *testing.T) {
	require.Nil(t, CompactRanges(nil))
}

func TestCompactRangesSinglePixel(t *testing.T) {
	got := CompactRanges([]uint64{42})
	require.Equal(t, []PixelRange{{Start: 42, End: 43}}, got)
}
