// Package graphmeta holds the per-dataset configuration a
// ChunkedGraph is parameterized over: layer count, chunk geometry,
// voxel resolution, and the bit widths the ID codec derives from
// them.
package graphmeta

import "fmt"

// Meta is the configuration of one chunked graph table. It is
// immutable once built with New and safe for concurrent use by every
// reader/writer that shares it.
type Meta struct {
	// NumLayers is L: the root layer. Supervoxels live at layer 1,
	// the finest editable node at layer 2, roots at layer NumLayers.
	NumLayers int

	// LayerIDBits is the fixed number of high bits reserved for the
	// layer number in every node ID.
	LayerIDBits uint

	// BaseBitsPerDim is the number of bits per coordinate axis at the
	// finest chunk grid (layers 1 and 2 share one grid: a layer-1
	// supervoxel lives inside the layer-2 chunk that owns it).
	BaseBitsPerDim uint

	// FanOut is how many child chunks aggregate into one parent chunk
	// along each axis when moving from layer k to layer k+1 (k>=2).
	// A FanOut of 2 means parent chunk coordinates are child chunk
	// coordinates shifted right by one bit.
	FanOut uint

	// ChunkSize is the edge length of a layer-2 chunk in voxels,
	// (x, y, z).
	ChunkSize [3]float64

	// Resolution is nm per voxel, (x, y, z).
	Resolution [3]float64

	// UseSkipConnections allows a layer-k connected component of size
	// 1 to be promoted directly to layer NumLayers instead of minting
	// a new parent at every intermediate layer.
	UseSkipConnections bool

	// bitsPerDim[layer] and segmentBits[layer] are precomputed so the
	// codec never branches on layer to decide a width; both are
	// indexed 1..NumLayers, bitsPerDim[0]/segmentBits[0] unused.
	bitsPerDim  []uint
	segmentBits []uint
	fanoutShift uint
}

// New builds a validated Meta. It precomputes the per-layer bit
// layout so idcodec never has to branch on layer to find a width.
func New(numLayers int, layerIDBits, baseBitsPerDim, fanOut uint, chunkSize, resolution [3]float64, useSkipConnections bool) (*Meta, error) {
	if numLayers < 2 {
		return nil, fmt.Errorf("graphmeta: numLayers must be >= 2 (supervoxel + root), got %d", numLayers)
	}
	if numLayers > 24 {
		return nil, fmt.Errorf("graphmeta: numLayers %d exceeds the supported range (<= 24)", numLayers)
	}
	if fanOut < 2 {
		return nil, fmt.Errorf("graphmeta: fanOut must be >= 2, got %d", fanOut)
	}

	m := &Meta{
		NumLayers:          numLayers,
		LayerIDBits:        layerIDBits,
		BaseBitsPerDim:     baseBitsPerDim,
		FanOut:             fanOut,
		ChunkSize:          chunkSize,
		Resolution:         resolution,
		UseSkipConnections: useSkipConnections,
		fanoutShift:        bitsFor(fanOut),
	}

	m.bitsPerDim = make([]uint, numLayers+1)
	m.segmentBits = make([]uint, numLayers+1)
	m.bitsPerDim[1] = baseBitsPerDim
	m.bitsPerDim[2] = baseBitsPerDim
	for layer := 3; layer <= numLayers; layer++ {
		shrink := m.fanoutShift
		if m.bitsPerDim[layer-1] < shrink {
			shrink = m.bitsPerDim[layer-1]
		}
		m.bitsPerDim[layer] = m.bitsPerDim[layer-1] - shrink
	}

	for layer := 1; layer <= numLayers; layer++ {
		used := layerIDBits + 3*m.bitsPerDim[layer]
		if used >= 64 {
			return nil, fmt.Errorf("graphmeta: layer %d leaves no bits for the segment counter (layer bits %d + 3*coord bits %d >= 64)", layer, layerIDBits, m.bitsPerDim[layer])
		}
		m.segmentBits[layer] = 64 - used
	}

	return m, nil
}

func bitsFor(n uint) uint {
	bits := uint(0)
	for (uint(1) << bits) < n {
		bits++
	}
	return bits
}

// BitsPerDim returns the number of bits reserved for each of cx, cy,
// cz in a node ID at layer.
func (m *Meta) BitsPerDim(layer int) uint {
	return m.bitsPerDim[layer]
}

// SegmentBits returns the number of low bits reserved for the
// per-chunk segment counter at layer.
func (m *Meta) SegmentBits(layer int) uint {
	return m.segmentBits[layer]
}

// ChunkCount returns the number of chunks along one axis at layer.
func (m *Meta) ChunkCount(layer int) uint64 {
	return uint64(1) << m.bitsPerDim[layer]
}

// FanoutShift is the number of bits a coordinate is shifted right by
// when moving from layer k to layer k+1, for k >= 2.
func (m *Meta) FanoutShift() uint {
	return m.fanoutShift
}

// IsRootLayer reports whether layer is the top of the hierarchy.
func (m *Meta) IsRootLayer(layer int) bool {
	return layer == m.NumLayers
}

// ChunkExtent returns the edge length, in voxels, of one chunk at
// layer along each axis: a layer-2 chunk is ChunkSize; each layer
// above that covers as many layer-2 chunks along an axis as the
// coordinate bit width shrunk by, i.e. 2^(BitsPerDim(2)-BitsPerDim(layer)).
func (m *Meta) ChunkExtent(layer int) [3]float64 {
	scale := float64(uint64(1) << (m.bitsPerDim[2] - m.bitsPerDim[layer]))
	return [3]float64{
		m.ChunkSize[0] * scale,
		m.ChunkSize[1] * scale,
		m.ChunkSize[2] * scale,
	}
}

// ChunkBounds returns the world-space (nm) axis-aligned bounding box of
// chunk coord at layer, used to prune subgraph descent against a query
// bounding box (spec §4.3, "pruning any sub-tree whose chunk bounding
// box is disjoint from bbox").
func (m *Meta) ChunkBounds(coord [3]uint64, layer int) (min, max [3]float64) {
	extent := m.ChunkExtent(layer)
	for i := 0; i < 3; i++ {
		min[i] = float64(coord[i]) * extent[i] * m.Resolution[i]
		max[i] = min[i] + extent[i]*m.Resolution[i]
	}
	return min, max
}
