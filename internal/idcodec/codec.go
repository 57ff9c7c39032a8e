// Package idcodec packs and unpacks the 64-bit node IDs described in
// spec.md §3/§4.1: (layer, chunk_x, chunk_y, chunk_z, segment).
package idcodec

import (
	"fmt"

	"github.com/seung-lab/chunkedgraph-go/internal/graphmeta"
)

// NodeID is a packed 64-bit (layer, cx, cy, cz, segment) identifier.
type NodeID uint64

// OperationID identifies one committed edit in the operation log.
type OperationID uint64

// Coord is a 3D chunk coordinate.
type Coord struct {
	X, Y, Z uint64
}

// Decoded is the unpacked form of a NodeID.
type Decoded struct {
	Layer   int
	Coord   Coord
	Segment uint64
}

// layout is the precomputed shift/mask table for one layer so
// Encode/Decode never branch on layer width beyond a single slice
// index.
type layout struct {
	layerShift             uint
	xShift, yShift, zShift uint
	coordMask, segMask     uint64
}

// Codec packs/unpacks node IDs for one graph's Meta. It holds no
// mutable state past construction and is safe for concurrent use.
type Codec struct {
	meta    *graphmeta.Meta
	layouts []layout // indexed 1..NumLayers
}

// New builds a Codec bound to meta.
func New(meta *graphmeta.Meta) *Codec {
	c := &Codec{meta: meta, layouts: make([]layout, meta.NumLayers+1)}
	for layer := 1; layer <= meta.NumLayers; layer++ {
		bits := meta.BitsPerDim(layer)
		seg := meta.SegmentBits(layer)
		c.layouts[layer] = layout{
			layerShift: 64 - meta.LayerIDBits,
			zShift:     seg + bits,
			yShift:     seg + 2*bits,
			xShift:     seg + 3*bits,
			coordMask:  mask(bits),
			segMask:    mask(seg),
		}
	}
	return c
}

func mask(bits uint) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

// Encode packs (layer, coord, segment) into a NodeID. The hot path is
// branch-free: it only indexes the precomputed per-layer layout.
func (c *Codec) Encode(layer int, coord Coord, segment uint64) (NodeID, error) {
	if layer < 1 || layer > c.meta.NumLayers {
		return 0, fmt.Errorf("idcodec: layer %d out of range [1, %d]", layer, c.meta.NumLayers)
	}
	l := c.layouts[layer]
	if coord.X > l.coordMask || coord.Y > l.coordMask || coord.Z > l.coordMask {
		return 0, fmt.Errorf("idcodec: chunk coordinate %+v exceeds %d bits at layer %d", coord, c.meta.BitsPerDim(layer), layer)
	}
	if segment > l.segMask {
		return 0, fmt.Errorf("idcodec: segment %d exceeds %d bits at layer %d", segment, c.meta.SegmentBits(layer), layer)
	}

	id := uint64(layer) << l.layerShift
	id |= coord.X << l.xShift
	id |= coord.Y << l.yShift
	id |= coord.Z << l.zShift
	id |= segment
	return NodeID(id), nil
}

// Decode unpacks id into its layer, chunk coordinate and segment.
func (c *Codec) Decode(id NodeID) Decoded {
	layer := c.Layer(id)
	l := c.layouts[layer]
	v := uint64(id)
	return Decoded{
		Layer: layer,
		Coord: Coord{
			X: (v >> l.xShift) & l.coordMask,
			Y: (v >> l.yShift) & l.coordMask,
			Z: (v >> l.zShift) & l.coordMask,
		},
		Segment: v & l.segMask,
	}
}

// Layer extracts only the layer field of id; it does not need a
// per-layer layout since the layer field sits at a fixed shift.
func (c *Codec) Layer(id NodeID) int {
	return int(uint64(id) >> (64 - c.meta.LayerIDBits))
}

// ChunkID zeroes the segment field, yielding the ID that identifies
// id's chunk rather than a specific node within it.
func (c *Codec) ChunkID(id NodeID) NodeID {
	l := c.layouts[c.Layer(id)]
	return NodeID(uint64(id) &^ l.segMask)
}

// ParentChunkID returns the chunk ID of the chunk at parentLayer that
// contains id's chunk, by downshifting coordinates according to the
// fan-out between the two layers. parentLayer must be >= id's layer.
func (c *Codec) ParentChunkID(id NodeID, parentLayer int) (NodeID, error) {
	d := c.Decode(id)
	if parentLayer < d.Layer || parentLayer > c.meta.NumLayers {
		return 0, fmt.Errorf("idcodec: parentLayer %d invalid for node at layer %d (max %d)", parentLayer, d.Layer, c.meta.NumLayers)
	}

	coord := d.Coord
	// Layers 1 and 2 share a chunk grid; only layer >= 2 -> layer+1
	// steps actually coarsen coordinates.
	fromLayer := d.Layer
	if fromLayer == 1 {
		fromLayer = 2
	}
	for layer := fromLayer; layer < parentLayer; layer++ {
		shift := c.meta.BitsPerDim(layer) - c.meta.BitsPerDim(layer+1)
		coord.X >>= shift
		coord.Y >>= shift
		coord.Z >>= shift
	}

	return c.Encode(parentLayer, coord, 0)
}

// SameChunk reports whether a and b's chunk IDs are equal.
func (c *Codec) SameChunk(a, b NodeID) bool {
	return c.ChunkID(a) == c.ChunkID(b)
}

// ChebyshevChunkDistance returns the Chebyshev (max-axis) distance, in
// chunks, between a's and b's chunk coordinates as encoded in the IDs;
// coordinates of nodes at different layers are compared as they are,
// without rescaling to a common grid. Used by the merge-distance precondition
// (spec §4.5).
func (c *Codec) ChebyshevChunkDistance(a, b NodeID) uint64 {
	da, db := c.Decode(a), c.Decode(b)
	dx := absDiff(da.Coord.X, db.Coord.X)
	dy := absDiff(da.Coord.Y, db.Coord.Y)
	dz := absDiff(da.Coord.Z, db.Coord.Z)
	return max3(dx, dy, dz)
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

func max3(a, b, c uint64) uint64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
