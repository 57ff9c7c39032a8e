package graphmeta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testMeta(t *testing.T) *Meta {
	t.Helper()
	m, err := New(12, 8, 10, 2, [3]float64{512, 512, 512}, [3]float64{8, 8, 40}, true)
	require.NoError(t, err)
	return m
}

func TestBitsPerDimSharedByLayer1And2(t *testing.T) {
	m := testMeta(t)
	require.Equal(t, m.BitsPerDim(1), m.BitsPerDim(2))
}

func TestBitsPerDimNarrowsMonotonically(t *testing.T) {
	m := testMeta(t)
	for layer := 3; layer <= m.NumLayers; layer++ {
		require.LessOrEqual(t, m.BitsPerDim(layer), m.BitsPerDim(layer-1),
			"coordinate width must not grow as layer rises")
	}
	require.Zero(t, m.BitsPerDim(m.NumLayers), "root chunk grid should collapse to a single chunk")
}

func TestSegmentBitsGrowsAsLayerRises(t *testing.T) {
	m := testMeta(t)
	for layer := 2; layer <= m.NumLayers; layer++ {
		require.GreaterOrEqual(t, m.SegmentBits(layer), m.SegmentBits(layer-1),
			"segment counter should get more room as coordinate bits shrink")
	}
}

func TestTotalBitBudgetIs64(t *testing.T) {
	m := testMeta(t)
	for layer := 1; layer <= m.NumLayers; layer++ {
		total := m.LayerIDBits + 3*m.BitsPerDim(layer) + m.SegmentBits(layer)
		require.EqualValues(t, 64, total)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(1, 8, 10, 2, [3]float64{}, [3]float64{}, false)
	require.Error(t, err)

	_, err = New(10, 8, 10, 1, [3]float64{}, [3]float64{}, false)
	require.Error(t, err)

	_, err = New(10, 60, 10, 2, [3]float64{}, [3]float64{}, false)
	require.Error(t, err)
}

func TestChunkCountMatchesBitsPerDim(t *testing.T) {
	m := testMeta(t)
	require.Equal(t, uint64(1)<<m.BitsPerDim(5), m.ChunkCount(5))
}

func TestChunkExtentGrowsWithLayer(t *testing.T) {
	m := testMeta(t)
	ext2 := m.ChunkExtent(2)
	require.Equal(t, [3]float64{512, 512, 512}, ext2)

	ext3 := m.ChunkExtent(3)
	for i := 0; i < 3; i++ {
		require.GreaterOrEqual(t, ext3[i], ext2[i])
	}

	extRoot := m.ChunkExtent(m.NumLayers)
	for i := 0; i < 3; i++ {
		require.GreaterOrEqual(t, extRoot[i], ext3[i])
	}
}

func TestChunkBoundsScalesByResolution(t *testing.T) {
	m := testMeta(t)
	min, max := m.ChunkBounds([3]uint64{1, 0, 0}, 2)
	require.Equal(t, [3]float64{512 * 8, 0, 0}, min)
	require.Equal(t, [3]float64{512*8 + 512*8, 512 * 8, 512 * 40}, max)
}
