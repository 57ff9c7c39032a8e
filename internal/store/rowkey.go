package store

import (
	"encoding/binary"

	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
)

// operationLogPrefix distinguishes operation-log row keys from node
// row keys (spec §6: "Operation-log rows use serialize_u64(operation_id)
// with a distinct key prefix").
const operationLogPrefix = 0xff

// NodeRowKey returns the big-endian row key for a hierarchy node, so
// that a chunk's node rows sort contiguously and can be range-scanned
// (spec §6).
func NodeRowKey(id idcodec.NodeID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// OperationLogRowKey returns the big-endian row key for an operation
// log row, prefixed so it never collides with a node row key.
func OperationLogRowKey(id uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = operationLogPrefix
	binary.BigEndian.PutUint64(buf[1:], id)
	return buf
}

// ChunkKeyRange returns the [start, end) row-key range spanning every
// node ID that belongs to chunkID's chunk: chunkID itself (segment 0)
// through chunkID with every segment bit set, plus one.
func ChunkKeyRange(chunkID idcodec.NodeID, segmentBits uint) (start, end []byte) {
	segMask := uint64(1)<<segmentBits - 1
	start = NodeRowKey(chunkID)
	end = NodeRowKey(idcodec.NodeID(uint64(chunkID) | segMask + 1))
	return start, end
}

// DecodeNodeRowKey is the inverse of NodeRowKey.
func DecodeNodeRowKey(key []byte) idcodec.NodeID {
	return idcodec.NodeID(binary.BigEndian.Uint64(key))
}

// OperationLogKeyRange returns the [start, end) row-key range spanning
// every operation-log row, for a full-history RangeRead (spec §4.7's
// user_operations/lineage/rollback all need to scan the whole log).
// end is one byte longer than any real operation-log key so it sorts
// strictly after every id, including id == math.MaxUint64.
func OperationLogKeyRange() (start, end []byte) {
	start = OperationLogRowKey(0)
	end = make([]byte, 10)
	for i := range end[:9] {
		end[i] = operationLogPrefix
	}
	return start, end
}

// DecodeOperationLogRowKey is the inverse of OperationLogRowKey.
func DecodeOperationLogRowKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[1:])
}
