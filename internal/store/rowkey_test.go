package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
)

func TestNodeRowKeyRoundTrips(t *testing.T) {
	id := idcodec.NodeID(0x0102030405060708)
	require.Equal(t, id, DecodeNodeRowKey(NodeRowKey(id)))
}

func TestNodeAndOperationLogKeysDoNotCollide(t *testing.T) {
	nodeKey := NodeRowKey(idcodec.NodeID(42))
	opKey := OperationLogRowKey(42)
	require.NotEqual(t, nodeKey[0], opKey[0])
	require.Len(t, opKey, 9)
	require.Len(t, nodeKey, 8)
}

func TestChunkKeyRangeCoversExactlyOneChunk(t *testing.T) {
	chunkID := idcodec.NodeID(0x0100) // segment bits zeroed
	start, end := ChunkKeyRange(chunkID, 4) // 4 segment bits -> 16 segments
	require.Equal(t, NodeRowKey(chunkID), start)

	lastInChunk := NodeRowKey(idcodec.NodeID(uint64(chunkID) | 0xf))
	firstOutOfChunk := NodeRowKey(idcodec.NodeID(uint64(chunkID) + 0x10))
	require.Equal(t, firstOutOfChunk, end)
	require.True(t, string(lastInChunk) < string(end))
	require.True(t, string(start) <= string(lastInChunk))
}
