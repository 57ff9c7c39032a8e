package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/seung-lab/chunkedgraph-go/internal/store"
)

func (s *Store) GetRow(ctx context.Context, rowKey []byte) (store.Row, error) {
	rows, err := s.builder(s.db).
		Select("column_name", "ts_nanos", "value").
		From("cells").
		Where("row_key = ?", rowKey).
		OrderBy("ts_nanos DESC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get row: %w", err)
	}
	defer rows.Close()
	return scanRow(rows)
}

func scanRow(rows *sql.Rows) (store.Row, error) {
	row := store.Row{}
	for rows.Next() {
		var column string
		var tsNanos int64
		var value []byte
		if err := rows.Scan(&column, &tsNanos, &value); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan cell: %w", err)
		}
		row[column] = append(row[column], store.Cell{Timestamp: time.Unix(0, tsNanos), Value: value})
	}
	if len(row) == 0 {
		return nil, rows.Err()
	}
	return row, rows.Err()
}

func (s *Store) ReadRows(ctx context.Context, rowKeys [][]byte, columns []string, tr store.TimeRange) (<-chan store.RowResult, error) {
	out := make(chan store.RowResult, len(rowKeys))
	go func() {
		defer close(out)
		for _, key := range rowKeys {
			q := s.builder(s.db).
				Select("column_name", "ts_nanos", "value").
				From("cells").
				Where("row_key = ?", key).
				OrderBy("ts_nanos DESC")
			q = applyTimeRange(q, tr)
			q = applyColumns(q, columns)

			rows, err := q.QueryContext(ctx)
			if err != nil {
				select {
				case out <- store.RowResult{Key: key, Err: err}:
				case <-ctx.Done():
				}
				continue
			}
			row, err := scanRow(rows)
			rows.Close()
			select {
			case out <- store.RowResult{Key: key, Row: row, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Store) RangeRead(ctx context.Context, startKey, endKey []byte, columns []string, tr store.TimeRange) (<-chan store.RowResult, error) {
	q := s.builder(s.db).
		Select("row_key", "column_name", "ts_nanos", "value").
		From("cells").
		Where("row_key >= ? AND row_key < ?", startKey, endKey).
		OrderBy("row_key ASC", "ts_nanos DESC")
	q = applyTimeRange(q, tr)
	q = applyColumns(q, columns)

	rows, err := q.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: range read: %w", err)
	}

	out := make(chan store.RowResult)
	go func() {
		defer close(out)
		defer rows.Close()

		var curKey []byte
		curRow := store.Row{}
		emit := func() {
			if curKey == nil {
				return
			}
			select {
			case out <- store.RowResult{Key: curKey, Row: curRow}:
			case <-ctx.Done():
			}
		}

		for rows.Next() {
			var rowKey []byte
			var column string
			var tsNanos int64
			var value []byte
			if err := rows.Scan(&rowKey, &column, &tsNanos, &value); err != nil {
				out <- store.RowResult{Err: fmt.Errorf("sqlitestore: scan range row: %w", err)}
				return
			}
			if curKey == nil || string(rowKey) != string(curKey) {
				emit()
				curKey = rowKey
				curRow = store.Row{}
			}
			curRow[column] = append(curRow[column], store.Cell{Timestamp: time.Unix(0, tsNanos), Value: value})
		}
		emit()
		if err := rows.Err(); err != nil {
			select {
			case out <- store.RowResult{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (s *Store) BulkWrite(ctx context.Context, mutations []*store.Mutation, conditionalLockKeys [][]byte, operationID uint64, _ bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin bulk write: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, lockKey := range conditionalLockKeys {
		var heldBy uint64
		var expiresAt int64
		err := s.builder(tx).
			Select("operation_id", "expires_at").
			From("locks").
			Where("row_key = ?", lockKey).
			QueryRowContext(ctx).Scan(&heldBy, &expiresAt)
		if errors.Is(err, sql.ErrNoRows) || heldBy != operationID || now.UnixNano() > expiresAt {
			return fmt.Errorf("sqlitestore: lock for key %x not held by operation %d", lockKey, operationID)
		}
		if err != nil {
			return fmt.Errorf("sqlitestore: check lock: %w", err)
		}
	}

	for _, m := range mutations {
		for col, cm := range m.Cells {
			_, err := s.builder(tx).
				Insert("cells").
				Columns("row_key", "column_name", "ts_nanos", "value").
				Values(m.RowKey, col, cm.Timestamp.UnixNano(), cm.Value).
				Suffix("ON CONFLICT(row_key, column_name, ts_nanos) DO UPDATE SET value = excluded.value").
				ExecContext(ctx)
			if err != nil {
				return fmt.Errorf("sqlitestore: write cell: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit bulk write: %w", err)
	}
	return nil
}

func (s *Store) Lock(ctx context.Context, rootKey []byte, operationID uint64, lease time.Duration) (time.Time, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlitestore: begin lock: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	var heldBy uint64
	var expiresAt int64
	err = s.builder(tx).
		Select("operation_id", "expires_at").
		From("locks").
		Where("row_key = ?", rootKey).
		QueryRowContext(ctx).Scan(&heldBy, &expiresAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("sqlitestore: check existing lock: %w", err)
	}
	if err == nil && heldBy != operationID && now.UnixNano() <= expiresAt {
		return time.Time{}, fmt.Errorf("sqlitestore: root %x already locked by operation %d", rootKey, heldBy)
	}

	_, err = s.builder(tx).
		Insert("locks").
		Columns("row_key", "operation_id", "expires_at").
		Values(rootKey, operationID, now.Add(lease).UnixNano()).
		Suffix("ON CONFLICT(row_key) DO UPDATE SET operation_id = excluded.operation_id, expires_at = excluded.expires_at").
		ExecContext(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlitestore: write lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("sqlitestore: commit lock: %w", err)
	}
	return now, nil
}

func (s *Store) Unlock(ctx context.Context, rootKey []byte, operationID uint64) error {
	_, err := s.builder(s.db).
		Delete("locks").
		Where("row_key = ? AND operation_id = ?", rootKey, operationID).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: unlock: %w", err)
	}
	return nil
}

func (s *Store) Renew(ctx context.Context, rootKey []byte, operationID uint64, lease time.Duration) error {
	res, err := s.builder(s.db).
		Update("locks").
		Set("expires_at", time.Now().Add(lease).UnixNano()).
		Where("row_key = ? AND operation_id = ?", rootKey, operationID).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: renew: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: renew rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlitestore: cannot renew: root %x not held by operation %d", rootKey, operationID)
	}
	return nil
}

func (s *Store) AllocateOperationID(ctx context.Context) (uint64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: begin allocate operation id: %w", err)
	}
	defer tx.Rollback()

	var next uint64
	err = s.builder(tx).Select("next_value").From("operation_ids").Where("id = 1").QueryRowContext(ctx).Scan(&next)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		next = 1
		if _, err := s.builder(tx).Insert("operation_ids").Columns("id", "next_value").Values(1, next+1).ExecContext(ctx); err != nil {
			return 0, fmt.Errorf("sqlitestore: init operation id counter: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("sqlitestore: read operation id counter: %w", err)
	default:
		if _, err := s.builder(tx).Update("operation_ids").Set("next_value", next+1).Where("id = 1").ExecContext(ctx); err != nil {
			return 0, fmt.Errorf("sqlitestore: bump operation id counter: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlitestore: commit allocate operation id: %w", err)
	}
	return next, nil
}

func (s *Store) AllocateSegment(ctx context.Context, chunkKey []byte) (uint64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: begin allocate segment: %w", err)
	}
	defer tx.Rollback()

	var next uint64
	err = s.builder(tx).Select("next_value").From("segment_counters").Where("chunk_key = ?", chunkKey).QueryRowContext(ctx).Scan(&next)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		next = 0
		if _, err := s.builder(tx).Insert("segment_counters").Columns("chunk_key", "next_value").Values(chunkKey, next+1).ExecContext(ctx); err != nil {
			return 0, fmt.Errorf("sqlitestore: init segment counter: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("sqlitestore: read segment counter: %w", err)
	default:
		if _, err := s.builder(tx).Update("segment_counters").Set("next_value", next+1).Where("chunk_key = ?", chunkKey).ExecContext(ctx); err != nil {
			return 0, fmt.Errorf("sqlitestore: bump segment counter: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlitestore: commit allocate segment: %w", err)
	}
	return next, nil
}

func applyTimeRange(q sq.SelectBuilder, tr store.TimeRange) sq.SelectBuilder {
	if !tr.To.IsZero() {
		q = q.Where(sq.LtOrEq{"ts_nanos": tr.To.UnixNano()})
	}
	if !tr.From.IsZero() {
		q = q.Where(sq.GtOrEq{"ts_nanos": tr.From.UnixNano()})
	}
	return q
}

func applyColumns(q sq.SelectBuilder, columns []string) sq.SelectBuilder {
	if len(columns) == 0 {
		return q
	}
	return q.Where(sq.Eq{"column_name": columns})
}
