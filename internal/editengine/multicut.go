package editengine

import (
	"context"
	"time"

	"github.com/seung-lab/chunkedgraph-go/internal/chkerr"
	"github.com/seung-lab/chunkedgraph-go/internal/graphmodel"
	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
	"github.com/seung-lab/chunkedgraph-go/internal/mincut"
	"github.com/seung-lab/chunkedgraph-go/internal/registry"
)

// MulticutOperation removes a computed min-cut edge set separating
// SourceIDs from SinkIDs, grounded on
// original_source/pychunkedgraph/backend/graphoperation.py's
// MulticutOperation: same shape as a Split, except removed_edges comes
// from package mincut instead of from the caller.
type MulticutOperation struct {
	G *registry.Graph

	UserID       string
	SourceIDs    []idcodec.NodeID
	SinkIDs      []idcodec.NodeID
	SourceCoords []graphmodel.Coord3
	SinkCoords   []graphmodel.Coord3
	BBoxOffset   *graphmodel.Coord3
}

// LogRecord renders the committed multicut as its operation-log row.
func (op *MulticutOperation) LogRecord(operationID uint64, timestamp time.Time, added, removed []graphmodel.AtomicEdge, newRoots, formerRoots []idcodec.NodeID) graphmodel.LogRecord {
	return graphmodel.LogRecord{
		OperationID:  idcodec.OperationID(operationID),
		Kind:         graphmodel.EditMulticut,
		UserID:       op.UserID,
		Timestamp:    timestamp,
		SourceIDs:    op.SourceIDs,
		SinkIDs:      op.SinkIDs,
		SourceCoords: op.SourceCoords,
		SinkCoords:   op.SinkCoords,
		RemovedEdges: removed,
		BBoxOffset:   op.BBoxOffset,
		NewRoots:     newRoots,
		FormerRoots:  formerRoots,
		Status:       graphmodel.LogSuccess,
	}
}

// Apply implements MulticutOperation.apply: validate the endpoints,
// require a single shared root, run the bounded-box min-cut to find
// the edges to remove, then run the common protocol.
func (op *MulticutOperation) Apply(ctx context.Context) ([]idcodec.NodeID, []idcodec.NodeID, error) {
	if len(op.SourceIDs) == 0 || len(op.SinkIDs) == 0 {
		return nil, nil, chkerr.New(chkerr.BadRequest, "multicut requires at least one source and one sink supervoxel")
	}
	if err := requireSupervoxels(op.G, op.SourceIDs); err != nil {
		return nil, nil, err
	}
	if err := requireSupervoxels(op.G, op.SinkIDs); err != nil {
		return nil, nil, err
	}
	if err := requireDisjointSourceSink(op.SourceIDs, op.SinkIDs); err != nil {
		return nil, nil, err
	}

	endpoints := append(append([]idcodec.NodeID(nil), op.SourceIDs...), op.SinkIDs...)

	return commonApply(ctx, op.G, op, endpoints, true,
		func(ctx context.Context, oldRoots []idcodec.NodeID, tau time.Time) ([]graphmodel.AtomicEdge, []graphmodel.AtomicEdge, error) {
			result, err := mincut.Cut(ctx, op.G, oldRoots[0], tau, mincut.Request{
				SourceIDs:    op.SourceIDs,
				SinkIDs:      op.SinkIDs,
				SourceCoords: op.SourceCoords,
				SinkCoords:   op.SinkCoords,
				BBoxOffset:   op.BBoxOffset,
			})
			if err != nil {
				return nil, nil, err
			}
			if len(result.RemovedEdges) == 0 {
				return nil, nil, chkerr.New(chkerr.Postcondition, "mincut could not find any edges to remove")
			}
			if result.Illegal {
				return nil, nil, chkerr.New(chkerr.Postcondition, "mincut is illegal: sources and sinks remain connected after the cut")
			}
			return nil, result.RemovedEdges, nil
		},
	)
}
