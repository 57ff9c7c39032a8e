package editengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seung-lab/chunkedgraph-go/internal/chkerr"
	"github.com/seung-lab/chunkedgraph-go/internal/graphmeta"
	"github.com/seung-lab/chunkedgraph-go/internal/graphmodel"
	"github.com/seung-lab/chunkedgraph-go/internal/hierarchy"
	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
	"github.com/seung-lab/chunkedgraph-go/internal/registry"
	"github.com/seung-lab/chunkedgraph-go/internal/store"
	"github.com/seung-lab/chunkedgraph-go/internal/store/memstore"
)

// Scenario 1: merging two components mints a root distinct from both
// originals and both endpoints resolve to it.
func TestScenarioMergeTwoComponents(t *testing.T) {
	f := buildDisjointFixture(t)
	ctx := context.Background()

	op := &MergeOperation{
		G:            f.g,
		UserID:       "alice",
		SourceIDs:    []idcodec.NodeID{f.svA},
		SinkIDs:      []idcodec.NodeID{f.svB},
		SourceCoords: []graphmodel.Coord3{{X: 0, Y: 0, Z: 0}},
		SinkCoords:   []graphmodel.Coord3{{X: 1, Y: 0, Z: 0}},
	}
	newRoots, _, err := op.Apply(ctx)
	require.NoError(t, err)
	require.Len(t, newRoots, 1)
	require.NotContains(t, []idcodec.NodeID{f.rootA, f.rootB}, newRoots[0])

	rootOfA, err := hierarchy.GetRoot(ctx, f.g, f.svA, time.Now(), 0)
	require.NoError(t, err)
	rootOfB, err := hierarchy.GetRoot(ctx, f.g, f.svB, time.Now(), 0)
	require.NoError(t, err)
	require.Equal(t, newRoots[0], rootOfA)
	require.Equal(t, newRoots[0], rootOfB)
}

// Scenario 2: a merge whose endpoints exceed the chunk-distance limit
// is rejected and leaves no trace in the operation log.
func TestScenarioMergeRejectionOnDistance(t *testing.T) {
	f := buildDisjointFixture(t)
	ctx := context.Background()

	// A supervoxel ten chunks away from svA along x.
	far, err := f.g.Codec.Encode(1, idcodec.Coord{X: 10}, 1)
	require.NoError(t, err)

	op := &MergeOperation{
		G:            f.g,
		UserID:       "alice",
		SourceIDs:    []idcodec.NodeID{f.svA},
		SinkIDs:      []idcodec.NodeID{far},
		SourceCoords: []graphmodel.Coord3{{X: 0, Y: 0, Z: 0}},
		SinkCoords:   []graphmodel.Coord3{{X: 10 * 512, Y: 0, Z: 0}},
	}
	_, _, err = op.Apply(ctx)
	require.Error(t, err)
	require.Equal(t, chkerr.BadRequest, chkerr.KindOf(err))

	all, err := AllLogRecords(ctx, f.g, time.Now())
	require.NoError(t, err)
	require.Empty(t, all)
}

// Scenario 3: splitting the only edge of an already-merged object
// yields two roots, neither equal to the merged root.
func TestScenarioSplitRestoresComponents(t *testing.T) {
	f := buildConnectedFixture(t)
	ctx := context.Background()

	split := &SplitOperation{
		G:            f.g,
		UserID:       "alice",
		SourceIDs:    []idcodec.NodeID{f.svA},
		SinkIDs:      []idcodec.NodeID{f.svB},
		SourceCoords: []graphmodel.Coord3{{X: 0, Y: 0, Z: 0}},
		SinkCoords:   []graphmodel.Coord3{{X: 0, Y: 0, Z: 0}},
	}
	newRoots, _, err := split.Apply(ctx)
	require.NoError(t, err)
	require.Len(t, newRoots, 2)
	require.NotContains(t, newRoots, f.root)

	tSplit := time.Now()
	rootOfA, err := hierarchy.GetRoot(ctx, f.g, f.svA, tSplit, 0)
	require.NoError(t, err)
	rootOfB, err := hierarchy.GetRoot(ctx, f.g, f.svB, tSplit, 0)
	require.NoError(t, err)
	require.NotEqual(t, rootOfA, rootOfB)
}

// Scenario 5: a multicut whose sources and sinks are already
// disconnected within the shared root finds nothing to cut and is
// rejected with Postcondition, writing no log row.
func TestScenarioMulticutEmptyResult(t *testing.T) {
	f := buildThreeLeafSameRootFixture(t)
	ctx := context.Background()

	op := &MulticutOperation{
		G:            f.g,
		UserID:       "alice",
		SourceIDs:    []idcodec.NodeID{f.svA},
		SinkIDs:      []idcodec.NodeID{f.svC},
		SourceCoords: []graphmodel.Coord3{{X: 0, Y: 0, Z: 0}},
		SinkCoords:   []graphmodel.Coord3{{X: 0, Y: 0, Z: 0}},
	}
	_, _, err := op.Apply(ctx)
	require.Error(t, err)
	require.Equal(t, chkerr.Postcondition, chkerr.KindOf(err))

	all, err := AllLogRecords(ctx, f.g, time.Now())
	require.NoError(t, err)
	require.Empty(t, all)
}

// Scenario 6 / P5: two merges on disjoint root sets run concurrently;
// both succeed and neither sees the other's endpoints.
func TestScenarioConcurrentEditsOnDisjointRoots(t *testing.T) {
	f := buildFourRootFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)
	newRoots := make([][]idcodec.NodeID, 2)
	wg.Add(2)

	go func() {
		defer wg.Done()
		op := &MergeOperation{
			G: f.g, UserID: "alice",
			SourceIDs: []idcodec.NodeID{f.sv1}, SinkIDs: []idcodec.NodeID{f.sv2},
		}
		r, _, err := op.Apply(ctx)
		newRoots[0], results[0] = r, err
	}()
	go func() {
		defer wg.Done()
		op := &MergeOperation{
			G: f.g, UserID: "bob",
			SourceIDs: []idcodec.NodeID{f.sv3}, SinkIDs: []idcodec.NodeID{f.sv4},
		}
		r, _, err := op.Apply(ctx)
		newRoots[1], results[1] = r, err
	}()
	wg.Wait()

	require.NoError(t, results[0])
	require.NoError(t, results[1])
	require.Len(t, newRoots[0], 1)
	require.Len(t, newRoots[1], 1)
	require.NotEqual(t, newRoots[0][0], newRoots[1][0])
}

// Scenario 7 / P2: a read just before the merge's timestamp sees the
// pre-edit root; a read at the merge's timestamp sees the new one.
func TestScenarioHistoricalRead(t *testing.T) {
	f := buildDisjointFixture(t)
	ctx := context.Background()

	op := &MergeOperation{
		G:            f.g,
		UserID:       "alice",
		SourceIDs:    []idcodec.NodeID{f.svA},
		SinkIDs:      []idcodec.NodeID{f.svB},
		SourceCoords: []graphmodel.Coord3{{X: 0, Y: 0, Z: 0}},
		SinkCoords:   []graphmodel.Coord3{{X: 1, Y: 0, Z: 0}},
	}
	newRoots, _, err := op.Apply(ctx)
	require.NoError(t, err)

	all, err := AllLogRecords(ctx, f.g, time.Now())
	require.NoError(t, err)
	require.Len(t, all, 1)
	tMerge := all[0].Timestamp

	before, err := hierarchy.GetRoot(ctx, f.g, f.svA, tMerge.Add(-time.Second), 0)
	require.NoError(t, err)
	require.Equal(t, f.rootA, before)

	at, err := hierarchy.GetRoot(ctx, f.g, f.svA, tMerge, 0)
	require.NoError(t, err)
	require.Equal(t, newRoots[0], at)
}

// P1: get_root is idempotent under re-query at a fixed timestamp.
func TestPropertyGetRootIsIdempotent(t *testing.T) {
	f := buildDisjointFixture(t)
	ctx := context.Background()

	first, err := hierarchy.GetRoot(ctx, f.g, f.svA, f.t0, 0)
	require.NoError(t, err)
	second, err := hierarchy.GetRoot(ctx, f.g, f.svA, f.t0, 0)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

// P3: parent/child are mutually consistent at every timestamp touched
// by a merge.
func TestPropertyParentChildMutuallyConsistent(t *testing.T) {
	f := buildDisjointFixture(t)
	ctx := context.Background()

	op := &MergeOperation{
		G:            f.g,
		UserID:       "alice",
		SourceIDs:    []idcodec.NodeID{f.svA},
		SinkIDs:      []idcodec.NodeID{f.svB},
		SourceCoords: []graphmodel.Coord3{{X: 0, Y: 0, Z: 0}},
		SinkCoords:   []graphmodel.Coord3{{X: 1, Y: 0, Z: 0}},
	}
	newRoots, newLvl2, err := op.Apply(ctx)
	require.NoError(t, err)
	require.Len(t, newLvl2, 1)
	now := time.Now()

	parentOfL2, ok, err := hierarchy.GetParent(ctx, f.g, newLvl2[0], now)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, newRoots[0], parentOfL2)

	children, err := hierarchy.GetChildren(ctx, f.g, newRoots[0], now)
	require.NoError(t, err)
	require.Contains(t, children, newLvl2[0])
}

// P6: is_latest_root(r, now) is true exactly until a later log row
// cites r as a former root.
func TestPropertyIsLatestRootUntilSuperseded(t *testing.T) {
	f := buildDisjointFixture(t)
	ctx := context.Background()

	latestBefore, err := hierarchy.IsLatestRoot(ctx, f.g, f.rootA, time.Now())
	require.NoError(t, err)
	require.True(t, latestBefore)

	op := &MergeOperation{
		G:            f.g,
		UserID:       "alice",
		SourceIDs:    []idcodec.NodeID{f.svA},
		SinkIDs:      []idcodec.NodeID{f.svB},
		SourceCoords: []graphmodel.Coord3{{X: 0, Y: 0, Z: 0}},
		SinkCoords:   []graphmodel.Coord3{{X: 1, Y: 0, Z: 0}},
	}
	_, _, err = op.Apply(ctx)
	require.NoError(t, err)

	latestAfter, err := hierarchy.IsLatestRoot(ctx, f.g, f.rootA, time.Now())
	require.NoError(t, err)
	require.False(t, latestAfter)
}

// P7: the segment counter within a chunk never decreases across
// edits — two merges minting a root in the same chunk get strictly
// increasing segment numbers, never a reused or lower one.
func TestPropertyNodeIDMonotonicity(t *testing.T) {
	f := buildFourRootFixture(t)
	ctx := context.Background()

	op1 := &MergeOperation{G: f.g, UserID: "alice", SourceIDs: []idcodec.NodeID{f.sv1}, SinkIDs: []idcodec.NodeID{f.sv2}}
	firstRoots, _, err := op1.Apply(ctx)
	require.NoError(t, err)

	op2 := &MergeOperation{G: f.g, UserID: "alice", SourceIDs: []idcodec.NodeID{f.sv3}, SinkIDs: []idcodec.NodeID{f.sv4}}
	secondRoots, _, err := op2.Apply(ctx)
	require.NoError(t, err)

	firstSeg := f.g.Codec.Decode(firstRoots[0]).Segment
	secondSeg := f.g.Codec.Decode(secondRoots[0]).Segment
	require.Greater(t, secondSeg, firstSeg)
}

// threeLeafSameRootFixture is one root over two disjoint subcomponents
// (A-B connected by an edge, and C alone with no edge), all
// sharing a single parent/root so a multicut request between A and C
// lands within the same root's subgraph but finds no path to cut.
type threeLeafSameRootFixture struct {
	g             *registry.Graph
	svA, svB, svC idcodec.NodeID
	l2, root      idcodec.NodeID
}

func buildThreeLeafSameRootFixture(t *testing.T) threeLeafSameRootFixture {
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

	edgeAB := []graphmodel.AtomicEdge{{A: svA, B: svB, Affinity: 0.9}}
	muts := []*store.Mutation{
		store.MutateRow(store.NodeRowKey(svA), map[string][]byte{
			graphmodel.ColParent:     graphmodel.EncodeNodeID(l2),
			graphmodel.ColCrossEdges: graphmodel.EncodeEdges(edgeAB),
		}, t0),
		store.MutateRow(store.NodeRowKey(svB), map[string][]byte{
			graphmodel.ColParent:     graphmodel.EncodeNodeID(l2),
			graphmodel.ColCrossEdges: graphmodel.EncodeEdges(edgeAB),
		}, t0),
		store.MutateRow(store.NodeRowKey(svC), map[string][]byte{
			graphmodel.ColParent: graphmodel.EncodeNodeID(l2),
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

	return threeLeafSameRootFixture{g: g, svA: svA, svB: svB, svC: svC, l2: l2, root: root}
}

// fourRootFixture is two independent, disjoint two-supervoxel objects
// ({sv1,sv2} and {sv3,sv4}), each under its own root, sharing one
// store so two concurrent merges exercise genuinely disjoint root
// locks against the same backend.
type fourRootFixture struct {
	g                  *registry.Graph
	sv1, sv2, sv3, sv4 idcodec.NodeID
}

func buildFourRootFixture(t *testing.T) fourRootFixture {
	t.Helper()
	meta, err := graphmeta.New(3, 8, 4, 2, [3]float64{512, 512, 512}, [3]float64{1, 1, 1}, false)
	require.NoError(t, err)
	codec := idcodec.New(meta)

	sv1, err := codec.Encode(1, idcodec.Coord{}, 1)
	require.NoError(t, err)
	sv2, err := codec.Encode(1, idcodec.Coord{}, 2)
	require.NoError(t, err)
	sv3, err := codec.Encode(1, idcodec.Coord{}, 3)
	require.NoError(t, err)
	sv4, err := codec.Encode(1, idcodec.Coord{}, 4)
	require.NoError(t, err)

	// Four wholly independent single-supervoxel objects: R_1..R_4, each
	// with its own L2 node, so merging {sv1,sv2} and merging {sv3,sv4}
	// touch disjoint root sets {R_1,R_2} and {R_3,R_4}.
	ms := memstore.New()
	g := &registry.Graph{TableID: "test", Store: ms, Meta: meta, Codec: codec}

	ctx := context.Background()
	t0 := time.Now()

	var muts []*store.Mutation
	for i, sv := range []idcodec.NodeID{sv1, sv2, sv3, sv4} {
		l2, err := codec.Encode(2, idcodec.Coord{}, uint64(i+1))
		require.NoError(t, err)
		root, err := codec.Encode(3, idcodec.Coord{}, uint64(i+1))
		require.NoError(t, err)
		muts = append(muts,
			store.MutateRow(store.NodeRowKey(sv), map[string][]byte{
				graphmodel.ColParent: graphmodel.EncodeNodeID(l2),
			}, t0),
			store.MutateRow(store.NodeRowKey(l2), map[string][]byte{
				graphmodel.ColChildren: graphmodel.EncodeNodeIDs([]idcodec.NodeID{sv}),
				graphmodel.ColParent:   graphmodel.EncodeNodeID(root),
			}, t0),
			store.MutateRow(store.NodeRowKey(root), map[string][]byte{
				graphmodel.ColChildren: graphmodel.EncodeNodeIDs([]idcodec.NodeID{l2}),
			}, t0),
		)
	}
	require.NoError(t, ms.BulkWrite(ctx, muts, nil, 0, false))

	return fourRootFixture{g: g, sv1: sv1, sv2: sv2, sv3: sv3, sv4: sv4}
}
