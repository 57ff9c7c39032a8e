package graphmodel

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
)

// EncodeNodeID/DecodeNodeID are the cell-value encoding of a single
// node ID column (e.g. ColParent).
func EncodeNodeID(id idcodec.NodeID) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(id))
	return buf
}

func DecodeNodeID(b []byte) (idcodec.NodeID, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("graphmodel: node ID value must be 8 bytes, got %d", len(b))
	}
	return idcodec.NodeID(binary.LittleEndian.Uint64(b)), nil
}

// EncodeNodeIDs/DecodeNodeIDs are the cell-value encoding of a node
// list column (e.g. ColChildren, ColFormerIDs, ColNewIDs).
func EncodeNodeIDs(ids []idcodec.NodeID) []byte {
	buf := make([]byte, 8*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(id))
	}
	return buf
}

func DecodeNodeIDs(b []byte) ([]idcodec.NodeID, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("graphmodel: node ID list value must be a multiple of 8 bytes, got %d", len(b))
	}
	out := make([]idcodec.NodeID, len(b)/8)
	for i := range out {
		out[i] = idcodec.NodeID(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out, nil
}

// EncodeOperationID/DecodeOperationID encode a single operation ID
// reference (e.g. ColLogUndoOf). A zero-length value means absent:
// operation IDs are minted starting at 1 (store.BackendStore.
// AllocateOperationID), so 0 can never be a real operation ID and
// needs no separate presence flag.
func EncodeOperationID(id *idcodec.OperationID) []byte {
	if id == nil {
		return nil
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(*id))
	return buf
}

func DecodeOperationID(b []byte) (*idcodec.OperationID, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b) != 8 {
		return nil, fmt.Errorf("graphmodel: operation ID value must be 8 bytes, got %d", len(b))
	}
	id := idcodec.OperationID(binary.LittleEndian.Uint64(b))
	return &id, nil
}

// edgeWidth is the encoded size of one AtomicEdge: two node IDs plus a
// float32 affinity.
const edgeWidth = 8 + 8 + 4

// EncodeEdges/DecodeEdges are the cell-value encoding of an edge-list
// column (e.g. ColCrossEdges, ColLogAddedEdges, ColLogRemovedEdges).
func EncodeEdges(edges []AtomicEdge) []byte {
	buf := make([]byte, edgeWidth*len(edges))
	for i, e := range edges {
		off := i * edgeWidth
		binary.LittleEndian.PutUint64(buf[off:], uint64(e.A))
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(e.B))
		binary.LittleEndian.PutUint32(buf[off+16:], math.Float32bits(e.Affinity))
	}
	return buf
}

func DecodeEdges(b []byte) ([]AtomicEdge, error) {
	if len(b)%edgeWidth != 0 {
		return nil, fmt.Errorf("graphmodel: edge list value must be a multiple of %d bytes, got %d", edgeWidth, len(b))
	}
	out := make([]AtomicEdge, len(b)/edgeWidth)
	for i := range out {
		off := i * edgeWidth
		out[i] = AtomicEdge{
			A:        idcodec.NodeID(binary.LittleEndian.Uint64(b[off:])),
			B:        idcodec.NodeID(binary.LittleEndian.Uint64(b[off+8:])),
			Affinity: math.Float32frombits(binary.LittleEndian.Uint32(b[off+16:])),
		}
	}
	return out, nil
}

// coordWidth is the encoded size of one Coord3: three float64s.
const coordWidth = 8 * 3

// EncodeCoords/DecodeCoords are the cell-value encoding of a
// coordinate-list column (e.g. ColLogSourceCoords).
func EncodeCoords(coords []Coord3) []byte {
	buf := make([]byte, coordWidth*len(coords))
	for i, c := range coords {
		off := i * coordWidth
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(c.X))
		binary.LittleEndian.PutUint64(buf[off+8:], math.Float64bits(c.Y))
		binary.LittleEndian.PutUint64(buf[off+16:], math.Float64bits(c.Z))
	}
	return buf
}

func DecodeCoords(b []byte) ([]Coord3, error) {
	if len(b)%coordWidth != 0 {
		return nil, fmt.Errorf("graphmodel: coord list value must be a multiple of %d bytes, got %d", coordWidth, len(b))
	}
	out := make([]Coord3, len(b)/coordWidth)
	for i := range out {
		off := i * coordWidth
		out[i] = Coord3{
			X: math.Float64frombits(binary.LittleEndian.Uint64(b[off:])),
			Y: math.Float64frombits(binary.LittleEndian.Uint64(b[off+8:])),
			Z: math.Float64frombits(binary.LittleEndian.Uint64(b[off+16:])),
		}
	}
	return out, nil
}
