package editengine

import (
	"context"
	"time"

	"github.com/seung-lab/chunkedgraph-go/internal/chkerr"
	"github.com/seung-lab/chunkedgraph-go/internal/graphmodel"
	"github.com/seung-lab/chunkedgraph-go/internal/hierarchy"
	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
	"github.com/seung-lab/chunkedgraph-go/internal/registry"
)

// SplitOperation removes every atomic edge directly connecting a
// source supervoxel to a sink supervoxel, grounded on
// original_source/pychunkedgraph/backend/graphoperation.py's
// SplitOperation.
type SplitOperation struct {
	G *registry.Graph

	UserID       string
	SourceIDs    []idcodec.NodeID
	SinkIDs      []idcodec.NodeID
	SourceCoords []graphmodel.Coord3
	SinkCoords   []graphmodel.Coord3
}

// LogRecord renders the committed split as its operation-log row.
func (op *SplitOperation) LogRecord(operationID uint64, timestamp time.Time, added, removed []graphmodel.AtomicEdge, newRoots, formerRoots []idcodec.NodeID) graphmodel.LogRecord {
	return graphmodel.LogRecord{
		OperationID:  idcodec.OperationID(operationID),
		Kind:         graphmodel.EditSplit,
		UserID:       op.UserID,
		Timestamp:    timestamp,
		SourceIDs:    op.SourceIDs,
		SinkIDs:      op.SinkIDs,
		SourceCoords: op.SourceCoords,
		SinkCoords:   op.SinkCoords,
		RemovedEdges: removed,
		NewRoots:     newRoots,
		FormerRoots:  formerRoots,
		Status:       graphmodel.LogSuccess,
	}
}

// Apply implements SplitOperation.apply: validate the endpoints,
// require a single shared root, collect the source-sink edges to
// remove, then run the common protocol.
func (op *SplitOperation) Apply(ctx context.Context) ([]idcodec.NodeID, []idcodec.NodeID, error) {
	if len(op.SourceIDs) == 0 || len(op.SinkIDs) == 0 {
		return nil, nil, chkerr.New(chkerr.BadRequest, "split requires at least one source and one sink supervoxel")
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
			removed, err := sourceSinkEdges(ctx, op.G, op.SourceIDs, op.SinkIDs, tau)
			if err != nil {
				return nil, nil, err
			}
			if len(removed) == 0 {
				return nil, nil, chkerr.New(chkerr.Precondition, "no atomic edge exists between the given sources and sinks")
			}
			return nil, removed, nil
		},
	)
}

// sourceSinkEdges returns every atomic edge with one endpoint among
// sources and the other among sinks, as recorded at t.
func sourceSinkEdges(ctx context.Context, g *registry.Graph, sources, sinks []idcodec.NodeID, t time.Time) ([]graphmodel.AtomicEdge, error) {
	sinkSet := make(map[idcodec.NodeID]struct{}, len(sinks))
	for _, s := range sinks {
		sinkSet[s] = struct{}{}
	}

	seen := make(map[graphmodel.AtomicEdge]struct{})
	var edges []graphmodel.AtomicEdge
	for _, src := range sources {
		incident, err := hierarchy.GetAtomicEdges(ctx, g, src, t)
		if err != nil {
			return nil, err
		}
		for _, e := range incident {
			if _, ok := sinkSet[e.Other(src)]; !ok {
				continue
			}
			ne := e.Normalized()
			if _, dup := seen[ne]; dup {
				continue
			}
			seen[ne] = struct{}{}
			edges = append(edges, ne)
		}
	}
	return edges, nil
}
