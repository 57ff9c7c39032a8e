package editengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seung-lab/chunkedgraph-go/internal/chkerr"
	"github.com/seung-lab/chunkedgraph-go/internal/graphmodel"
	"github.com/seung-lab/chunkedgraph-go/internal/hierarchy"
	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
)

func TestMergeJoinsTwoRoots(t *testing.T) {
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
	require.Len(t, newRoots, 1)
	require.NotEqual(t, f.rootA, newRoots[0])
	require.NotEqual(t, f.rootB, newRoots[0])
	require.NotEmpty(t, newLvl2)

	rootOfA, err := hierarchy.GetRoot(ctx, f.g, f.svA, time.Now(), 0)
	require.NoError(t, err)
	rootOfB, err := hierarchy.GetRoot(ctx, f.g, f.svB, time.Now(), 0)
	require.NoError(t, err)
	require.Equal(t, newRoots[0], rootOfA)
	require.Equal(t, newRoots[0], rootOfB)
}

func TestMergeRejectsExcessiveChunkDistance(t *testing.T) {
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
		MaxChunkDistance: 3,
	}
	_, _, err = op.Apply(ctx)
	require.Error(t, err)
	require.Equal(t, chkerr.BadRequest, chkerr.KindOf(err))
}

func TestMergeRejectsNonSupervoxelEndpoint(t *testing.T) {
	f := buildDisjointFixture(t)
	ctx := context.Background()

	op := &MergeOperation{
		G:         f.g,
		UserID:    "alice",
		SourceIDs: []idcodec.NodeID{f.l2A},
		SinkIDs:   []idcodec.NodeID{f.svB},
	}
	_, _, err := op.Apply(ctx)
	require.Error(t, err)
	require.Equal(t, chkerr.BadRequest, chkerr.KindOf(err))
}

func TestMergeRejectsSameRootWithoutAllowSameSegment(t *testing.T) {
	f := buildConnectedFixture(t)
	ctx := context.Background()

	op := &MergeOperation{
		G:         f.g,
		UserID:    "alice",
		SourceIDs: []idcodec.NodeID{f.svA},
		SinkIDs:   []idcodec.NodeID{f.svB},
	}
	_, _, err := op.Apply(ctx)
	require.Error(t, err)
	require.Equal(t, chkerr.Precondition, chkerr.KindOf(err))
}
