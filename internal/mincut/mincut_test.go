package mincut

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seung-lab/chunkedgraph-go/internal/chkerr"
	"github.com/seung-lab/chunkedgraph-go/internal/graphmeta"
	"github.com/seung-lab/chunkedgraph-go/internal/graphmodel"
	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
	"github.com/seung-lab/chunkedgraph-go/internal/registry"
	"github.com/seung-lab/chunkedgraph-go/internal/store"
	"github.com/seung-lab/chunkedgraph-go/internal/store/memstore"
)

// threeSupervoxelFixture builds A-B-C as a path, with B the only thing
// connecting A to C, all under one layer-2 node and one root.
type threeSupervoxelFixture struct {
	g          *registry.Graph
	svA, svB, svC idcodec.NodeID
	root       idcodec.NodeID
	t0         time.Time
}

func buildThreeSupervoxelFixture(t *testing.T) threeSupervoxelFixture {
	t.Helper()
	meta, err := graphmeta.New(3, 8, 4, 2, [3]float64{512, 512, 512}, [3]float64{1, 1, 1}, false)
	require.NoError(t, err)
	codec := idcodec.New(meta)

	svA, err := codec.Encode(1, idcodec.Coord{}, 1)
	require.NoError(t, err)
	svB, err := codec.Encode(1, idcodec.Coord{}, 2)
	require.NoError(t, err)
	svC, err := codec.Encode(1, idcodec.Coord{}, 3)
	require.NoError(t, err)
	l2, err := codec.Encode(2, idcodec.Coord{}, 1)
	require.NoError(t, err)
	root, err := codec.Encode(3, idcodec.Coord{}, 1)
	require.NoError(t, err)

	ms := memstore.New()
	g := &registry.Graph{TableID: "test", Store: ms, Meta: meta, Codec: codec}

	ctx := context.Background()
	t0 := time.Now()

	edgeAB := []graphmodel.AtomicEdge{{A: svA, B: svB, Affinity: 1.0}}
	edgeBA := []graphmodel.AtomicEdge{{A: svB, B: svA, Affinity: 1.0}, {A: svB, B: svC, Affinity: 1.0}}
	edgeCB := []graphmodel.AtomicEdge{{A: svC, B: svB, Affinity: 1.0}}

	muts := []*store.Mutation{
		store.MutateRow(store.NodeRowKey(svA), map[string][]byte{
			graphmodel.ColParent:     graphmodel.EncodeNodeID(l2),
			graphmodel.ColCrossEdges: graphmodel.EncodeEdges(edgeAB),
		}, t0),
		store.MutateRow(store.NodeRowKey(svB), map[string][]byte{
			graphmodel.ColParent:     graphmodel.EncodeNodeID(l2),
			graphmodel.ColCrossEdges: graphmodel.EncodeEdges(edgeBA),
		}, t0),
		store.MutateRow(store.NodeRowKey(svC), map[string][]byte{
			graphmodel.ColParent:     graphmodel.EncodeNodeID(l2),
			graphmodel.ColCrossEdges: graphmodel.EncodeEdges(edgeCB),
		}, t0),
		store.MutateRow(store.NodeRowKey(l2), map[string][]byte{
			graphmodel.ColChildren: graphmodel.EncodeNodeIDs([]idcodec.NodeID{svA, svB, svC}),
			graphmodel.ColParent:   graphmodel.EncodeNodeID(root),
		}, t0),
		store.MutateRow(store.NodeRowKey(root), map[string][]byte{
			graphmodel.ColChildren: graphmodel.EncodeNodeIDs([]idcodec.NodeID{l2}),
		}, t0),
	}
	require.NoError(t, ms.BulkWrite(ctx, muts, nil, 0, false))

	return threeSupervoxelFixture{g: g, svA: svA, svB: svB, svC: svC, root: root, t0: t0}
}

func TestCutSeparatesAlongTheOnlyBottleneck(t *testing.T) {
	f := buildThreeSupervoxelFixture(t)
	ctx := context.Background()

	req := Request{
		SourceIDs:    []idcodec.NodeID{f.svA},
		SinkIDs:      []idcodec.NodeID{f.svC},
		SourceCoords: []graphmodel.Coord3{{X: 0, Y: 0, Z: 0}},
		SinkCoords:   []graphmodel.Coord3{{X: 1, Y: 0, Z: 0}},
	}
	result, err := Cut(ctx, f.g, f.root, f.t0, req)
	require.NoError(t, err)
	require.False(t, result.Illegal)
	require.Len(t, result.RemovedEdges, 1)

	cut := result.RemovedEdges[0].Normalized()
	require.True(t,
		(cut.A == f.svA && cut.B == f.svB) || (cut.A == f.svB && cut.B == f.svC),
		"expected the cut to land on one of the A-B or B-C edges, got %+v", cut)
}

func TestPreviewPartitionsSupervoxelsByReachability(t *testing.T) {
	f := buildThreeSupervoxelFixture(t)
	ctx := context.Background()

	req := Request{
		SourceIDs:    []idcodec.NodeID{f.svA},
		SinkIDs:      []idcodec.NodeID{f.svC},
		SourceCoords: []graphmodel.Coord3{{X: 0, Y: 0, Z: 0}},
		SinkCoords:   []graphmodel.Coord3{{X: 1, Y: 0, Z: 0}},
	}
	preview, err := Preview(ctx, f.g, f.root, f.t0, req)
	require.NoError(t, err)
	require.False(t, preview.IllegalSplit)
	require.Contains(t, preview.SourceSideSupervoxels, f.svA)
	require.Contains(t, preview.SinkSideSupervoxels, f.svC)
}

func TestCutRejectsSourceNotInRootsSubgraph(t *testing.T) {
	f := buildThreeSupervoxelFixture(t)
	ctx := context.Background()

	codec := f.g.Codec
	strayer, err := codec.Encode(1, idcodec.Coord{}, 99)
	require.NoError(t, err)

	req := Request{
		SourceIDs:    []idcodec.NodeID{strayer},
		SinkIDs:      []idcodec.NodeID{f.svC},
		SourceCoords: []graphmodel.Coord3{{X: 0, Y: 0, Z: 0}},
		SinkCoords:   []graphmodel.Coord3{{X: 1, Y: 0, Z: 0}},
	}
	_, err = Cut(ctx, f.g, f.root, f.t0, req)
	require.Error(t, err)
	require.Equal(t, chkerr.Precondition, chkerr.KindOf(err))
}
