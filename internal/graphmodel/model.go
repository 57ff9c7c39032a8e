// Package graphmodel holds the row/column shaped types shared by the
// store, hierarchy, edit-engine, and operation-log packages: the wire
// shape of spec.md §3's hierarchy rows and operation-log rows.
package graphmodel

import (
	"time"

	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
)

// AtomicEdge is a supervoxel-to-supervoxel edge (spec §3, "edges live
// only conceptually at layer 1"). Affinity is the edge weight Mincut
// treats as flow capacity; merges that don't specify one default to
// 1.0 (see SPEC_FULL.md §3).
type AtomicEdge struct {
	A, B     idcodec.NodeID
	Affinity float32
}

// Other returns the endpoint of e that is not id. Panics if id is
// neither endpoint, which would indicate a caller bug.
func (e AtomicEdge) Other(id idcodec.NodeID) idcodec.NodeID {
	switch id {
	case e.A:
		return e.B
	case e.B:
		return e.A
	default:
		panic("graphmodel: id is not an endpoint of this edge")
	}
}

// Normalized returns e with endpoints ordered so A <= B, for use as a
// dedup key.
func (e AtomicEdge) Normalized() AtomicEdge {
	if e.A > e.B {
		e.A, e.B = e.B, e.A
	}
	return e
}

// ParentAt is one versioned cell of a node's Parent column: the
// node's parent as of Timestamp, until superseded by a newer cell or
// tombstoned.
type ParentAt struct {
	Parent       idcodec.NodeID
	Timestamp    time.Time
	TombstonedAt *time.Time // nil if not (yet) tombstoned
}

// ValidAt reports whether this cell is the governing parent cell for
// a read at time t: committed at or before t, and not tombstoned at or
// before t.
func (p ParentAt) ValidAt(t time.Time) bool {
	if p.Timestamp.After(t) {
		return false
	}
	if p.TombstonedAt != nil && !p.TombstonedAt.After(t) {
		return false
	}
	return true
}

// ChildrenAt is one versioned cell of a node's Child column.
type ChildrenAt struct {
	Children  []idcodec.NodeID
	Timestamp time.Time
}

// Lineage links a retired node to the node(s) that replaced it and
// vice versa (spec §3, "Former*/New* pointers").
type Lineage struct {
	FormerIDs []idcodec.NodeID
	NewIDs    []idcodec.NodeID
}

// LogStatus is the outcome recorded for an operation-log row.
type LogStatus string

const (
	LogSuccess LogStatus = "SUCCESS"
	LogFailed  LogStatus = "FAILED"
)

// EditKind discriminates the three edit operations, used both for the
// in-memory Operation variant (package editengine) and for decoding a
// persisted LogRecord (spec §9, "dynamic dispatch across edit kinds").
type EditKind string

const (
	EditMerge    EditKind = "merge"
	EditSplit    EditKind = "split"
	EditMulticut EditKind = "multicut"
)

// Coord3 is a world-space (nm) coordinate, used for the human-supplied
// (node hint, coordinate) pairs an edit request resolves to
// supervoxels (spec §4.5 step 1).
type Coord3 struct {
	X, Y, Z float64
}

// LogRecord is the persisted shape of one operation-log row (spec §3,
// "Operation log rows").
type LogRecord struct {
	OperationID   idcodec.OperationID
	Kind          EditKind
	UserID        string
	Timestamp     time.Time
	SourceIDs     []idcodec.NodeID
	SinkIDs       []idcodec.NodeID
	SourceCoords  []Coord3
	SinkCoords    []Coord3
	AddedEdges    []AtomicEdge // Merge
	RemovedEdges  []AtomicEdge // Split, Multicut
	BBoxOffset    *Coord3      // Multicut only
	NewRoots      []idcodec.NodeID
	FormerRoots   []idcodec.NodeID
	Status        LogStatus
	UndoOf        *idcodec.OperationID
	RedoOf        *idcodec.OperationID
}
