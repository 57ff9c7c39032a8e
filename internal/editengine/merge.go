package editengine

import (
	"context"
	"time"

	"github.com/seung-lab/chunkedgraph-go/internal/chkerr"
	"github.com/seung-lab/chunkedgraph-go/internal/graphmodel"
	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
	"github.com/seung-lab/chunkedgraph-go/internal/registry"
)

// defaultMergeAffinity is the affinity an edge is given when the
// caller doesn't supply one (SPEC_FULL.md §3).
const defaultMergeAffinity = float32(1.0)

// MergeOperation joins two supervoxels with a new atomic edge,
// grounded on
// original_source/pychunkedgraph/backend/graphoperation.py's
// MergeOperation.
type MergeOperation struct {
	G *registry.Graph

	UserID       string
	SourceIDs    []idcodec.NodeID // exactly one supervoxel
	SinkIDs      []idcodec.NodeID // exactly one supervoxel
	SourceCoords []graphmodel.Coord3
	SinkCoords   []graphmodel.Coord3
	Affinity     float32

	// AllowSameSegmentMerge permits merging two supervoxels that
	// already share a root (a no-op topologically, but still a valid
	// edit that records the new edge).
	AllowSameSegmentMerge bool

	// MaxChunkDistance bounds the Chebyshev chunk distance between the
	// two endpoints (spec §4.5, "Chebyshev distance <= 3 chunks");
	// zero means use the spec default of 3.
	MaxChunkDistance uint64
}

// LogRecord renders the committed merge as its operation-log row.
func (op *MergeOperation) LogRecord(operationID uint64, timestamp time.Time, added, removed []graphmodel.AtomicEdge, newRoots, formerRoots []idcodec.NodeID) graphmodel.LogRecord {
	return graphmodel.LogRecord{
		OperationID:  idcodec.OperationID(operationID),
		Kind:         graphmodel.EditMerge,
		UserID:       op.UserID,
		Timestamp:    timestamp,
		SourceIDs:    op.SourceIDs,
		SinkIDs:      op.SinkIDs,
		SourceCoords: op.SourceCoords,
		SinkCoords:   op.SinkCoords,
		AddedEdges:   added,
		NewRoots:     newRoots,
		FormerRoots:  formerRoots,
		Status:       graphmodel.LogSuccess,
	}
}

// Apply implements MergeOperation.apply (spec §4.5's Merge-specific
// steps): validate the endpoints, enforce the distance precondition,
// then run the common nine-step protocol with a single added edge.
func (op *MergeOperation) Apply(ctx context.Context) ([]idcodec.NodeID, []idcodec.NodeID, error) {
	if len(op.SourceIDs) != 1 || len(op.SinkIDs) != 1 {
		return nil, nil, chkerr.New(chkerr.BadRequest, "merge takes exactly one source and one sink supervoxel")
	}
	if err := requireSupervoxels(op.G, []idcodec.NodeID{op.SourceIDs[0], op.SinkIDs[0]}); err != nil {
		return nil, nil, err
	}
	if err := requireDisjointSourceSink(op.SourceIDs, op.SinkIDs); err != nil {
		return nil, nil, err
	}

	maxDist := op.MaxChunkDistance
	if maxDist == 0 {
		maxDist = 3
	}
	if d := op.G.Codec.ChebyshevChunkDistance(op.SourceIDs[0], op.SinkIDs[0]); d > maxDist {
		return nil, nil, chkerr.Newf(chkerr.BadRequest, "merge endpoints are %d chunks apart, exceeding the %d-chunk limit", d, maxDist)
	}

	affinity := op.Affinity
	if affinity == 0 {
		affinity = defaultMergeAffinity
	}
	edge := graphmodel.AtomicEdge{A: op.SourceIDs[0], B: op.SinkIDs[0], Affinity: affinity}

	endpoints := []idcodec.NodeID{op.SourceIDs[0], op.SinkIDs[0]}

	return commonApply(ctx, op.G, op, endpoints, false,
		func(ctx context.Context, oldRoots []idcodec.NodeID, tau time.Time) ([]graphmodel.AtomicEdge, []graphmodel.AtomicEdge, error) {
			if !op.AllowSameSegmentMerge && len(dedupNodeIDs(oldRoots)) == 1 {
				return nil, nil, chkerr.New(chkerr.Precondition, "source and sink already share a root")
			}
			return []graphmodel.AtomicEdge{edge}, nil, nil
		},
	)
}
