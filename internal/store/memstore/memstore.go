// Package memstore is an in-memory store.BackendStore used by the
// graph core's own property/unit tests. It is not a production
// adapter: spec.md explicitly treats the backing wide-column store as
// an opaque external collaborator, but the edit engine's property
// tests (P1-P7) need something fast and fully deterministic to run
// against, grounded in the same practice the teacher repo uses of
// testing its repository layer against a throwaway database rather
// than mocking the driver -- here the "throwaway database" is simply
// an in-process map, since store.BackendStore is a pure interface.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/seung-lab/chunkedgraph-go/internal/store"
)

type lockState struct {
	operationID uint64
	expiresAt   time.Time
}

// Store is a concurrency-safe, in-memory BackendStore.
type Store struct {
	mu          sync.Mutex
	rows        map[string]store.Row
	locks       map[string]lockState
	segCounters map[string]uint64
	nextOpID    uint64
}

var _ store.BackendStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		rows:        make(map[string]store.Row),
		locks:       make(map[string]lockState),
		segCounters: make(map[string]uint64),
	}
}

func (s *Store) GetRow(_ context.Context, rowKey []byte) (store.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRow(s.rows[string(rowKey)]), nil
}

func (s *Store) ReadRows(ctx context.Context, rowKeys [][]byte, columns []string, tr store.TimeRange) (<-chan store.RowResult, error) {
	out := make(chan store.RowResult, len(rowKeys))
	go func() {
		defer close(out)
		for _, key := range rowKeys {
			s.mu.Lock()
			row := filterColumns(filterTimeRange(cloneRow(s.rows[string(key)]), tr), columns)
			s.mu.Unlock()
			select {
			case out <- store.RowResult{Key: key, Row: row}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Store) RangeRead(ctx context.Context, startKey, endKey []byte, columns []string, tr store.TimeRange) (<-chan store.RowResult, error) {
	s.mu.Lock()
	var keys []string
	for k := range s.rows {
		if k >= string(startKey) && k < string(endKey) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	rows := make(map[string]store.Row, len(keys))
	for _, k := range keys {
		rows[k] = filterColumns(filterTimeRange(cloneRow(s.rows[k]), tr), columns)
	}
	s.mu.Unlock()

	out := make(chan store.RowResult, len(keys))
	go func() {
		defer close(out)
		for _, k := range keys {
			select {
			case out <- store.RowResult{Key: []byte(k), Row: rows[k]}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Store) BulkWrite(_ context.Context, mutations []*store.Mutation, conditionalLockKeys [][]byte, operationID uint64, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, lockKey := range conditionalLockKeys {
		l, ok := s.locks[string(lockKey)]
		if !ok || l.operationID != operationID || now.After(l.expiresAt) {
			return fmt.Errorf("memstore: lock for key %x not held by operation %d", lockKey, operationID)
		}
	}

	for _, m := range mutations {
		key := string(m.RowKey)
		row := s.rows[key]
		if row == nil {
			row = store.Row{}
		}
		for col, cm := range m.Cells {
			cells := append([]store.Cell{{Timestamp: cm.Timestamp, Value: cm.Value}}, row[col]...)
			sort.SliceStable(cells, func(i, j int) bool { return cells[i].Timestamp.After(cells[j].Timestamp) })
			row[col] = cells
		}
		s.rows[key] = row
	}
	return nil
}

func (s *Store) Lock(_ context.Context, rootKey []byte, operationID uint64, lease time.Duration) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	key := string(rootKey)
	if l, ok := s.locks[key]; ok && l.operationID != operationID && now.Before(l.expiresAt) {
		return time.Time{}, fmt.Errorf("memstore: root %x already locked by operation %d", rootKey, l.operationID)
	}

	s.locks[key] = lockState{operationID: operationID, expiresAt: now.Add(lease)}
	return now, nil
}

func (s *Store) Unlock(_ context.Context, rootKey []byte, operationID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(rootKey)
	if l, ok := s.locks[key]; ok && l.operationID == operationID {
		delete(s.locks, key)
	}
	return nil
}

func (s *Store) Renew(_ context.Context, rootKey []byte, operationID uint64, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(rootKey)
	l, ok := s.locks[key]
	if !ok || l.operationID != operationID {
		return fmt.Errorf("memstore: cannot renew: root %x not held by operation %d", rootKey, operationID)
	}
	l.expiresAt = time.Now().Add(lease)
	s.locks[key] = l
	return nil
}

func (s *Store) AllocateOperationID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOpID++
	return s.nextOpID, nil
}

func (s *Store) AllocateSegment(_ context.Context, chunkKey []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(chunkKey)
	next := s.segCounters[key]
	s.segCounters[key] = next + 1
	return next, nil
}

func cloneRow(row store.Row) store.Row {
	if row == nil {
		return nil
	}
	out := make(store.Row, len(row))
	for col, cells := range row {
		cp := make([]store.Cell, len(cells))
		copy(cp, cells)
		out[col] = cp
	}
	return out
}

func filterTimeRange(row store.Row, tr store.TimeRange) store.Row {
	if row == nil || (tr.From.IsZero() && tr.To.IsZero()) {
		return row
	}
	out := make(store.Row, len(row))
	for col, cells := range row {
		var kept []store.Cell
		for _, c := range cells {
			if !tr.To.IsZero() && c.Timestamp.After(tr.To) {
				continue
			}
			if !tr.From.IsZero() && c.Timestamp.Before(tr.From) {
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) > 0 {
			out[col] = kept
		}
	}
	return out
}

func filterColumns(row store.Row, columns []string) store.Row {
	if row == nil || len(columns) == 0 {
		return row
	}
	out := make(store.Row, len(columns))
	for _, col := range columns {
		if cells, ok := row[col]; ok {
			out[col] = cells
		}
	}
	return out
}
