package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seung-lab/chunkedgraph-go/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cg-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBulkWriteThenGetRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	m := store.MutateRow([]byte("row1"), map[string][]byte{"parent": {1, 2, 3}}, now)
	require.NoError(t, s.BulkWrite(ctx, []*store.Mutation{m}, nil, 0, false))

	row, err := s.GetRow(ctx, []byte("row1"))
	require.NoError(t, err)
	cell, ok := row.Newest("parent", now.Add(time.Second))
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3}, cell.Value)
}

func TestBulkWriteRejectedWithoutLock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := store.MutateRow([]byte("row1"), map[string][]byte{"parent": {1}}, time.Now())
	err := s.BulkWrite(ctx, []*store.Mutation{m}, [][]byte{[]byte("root1")}, 7, false)
	require.Error(t, err)
}

func TestLockThenBulkWriteSucceeds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Lock(ctx, []byte("root1"), 7, time.Minute)
	require.NoError(t, err)

	m := store.MutateRow([]byte("row1"), map[string][]byte{"parent": {1}}, time.Now())
	require.NoError(t, s.BulkWrite(ctx, []*store.Mutation{m}, [][]byte{[]byte("root1")}, 7, false))
}

func TestLockRejectsConflictingHolder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Lock(ctx, []byte("root1"), 7, time.Minute)
	require.NoError(t, err)

	_, err = s.Lock(ctx, []byte("root1"), 8, time.Minute)
	require.Error(t, err)
}

func TestUnlockReleasesImmediately(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Lock(ctx, []byte("root1"), 7, time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ctx, []byte("root1"), 7))

	_, err = s.Lock(ctx, []byte("root1"), 8, time.Minute)
	require.NoError(t, err)
}

func TestRenewExtendsLease(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Lock(ctx, []byte("root1"), 7, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, s.Renew(ctx, []byte("root1"), 7, time.Minute))

	time.Sleep(20 * time.Millisecond)

	_, err = s.Lock(ctx, []byte("root1"), 8, time.Minute)
	require.Error(t, err)
}

func TestAllocateOperationIDMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.AllocateOperationID(ctx)
	require.NoError(t, err)
	b, err := s.AllocateOperationID(ctx)
	require.NoError(t, err)
	require.Less(t, a, b)
}

func TestAllocateSegmentNeverReused(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seen := map[uint64]bool{}
	for i := 0; i < 5; i++ {
		seg, err := s.AllocateSegment(ctx, []byte("chunk1"))
		require.NoError(t, err)
		require.False(t, seen[seg])
		seen[seg] = true
	}

	other, err := s.AllocateSegment(ctx, []byte("chunk2"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), other)
}

func TestRangeReadReturnsContiguousKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, key := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.BulkWrite(ctx, []*store.Mutation{
			store.MutateRow([]byte(key), map[string][]byte{"x": []byte(key)}, now),
		}, nil, 0, false))
	}

	ch, err := s.RangeRead(ctx, []byte("b"), []byte("d"), nil, store.TimeRange{})
	require.NoError(t, err)

	var got []string
	for r := range ch {
		require.NoError(t, r.Err)
		got = append(got, string(r.Key))
	}
	require.Equal(t, []string{"b", "c"}, got)
}
