// Package sqlitestore is the concrete store.BackendStore adapter: a
// sqlite3 database accessed through sqlx and squirrel, instrumented
// with sqlhooks the way the teacher repo wires its own repository
// layer (internal/repository/dbConnection.go, hooks.go). Production
// ChunkedGraph deployments sit on a real wide-column store; this
// adapter exists so the contract in package store has at least one
// concrete, exercised, non-test-only implementation, per spec.md §4.2.
package sqlitestore

import (
	"database/sql"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/seung-lab/chunkedgraph-go/internal/store"
	"github.com/seung-lab/chunkedgraph-go/pkg/cglog"
)

var registerOnce sync.Once

const schema = `
CREATE TABLE IF NOT EXISTS cells (
	row_key      BLOB    NOT NULL,
	column_name  TEXT    NOT NULL,
	ts_nanos     INTEGER NOT NULL,
	value        BLOB    NOT NULL,
	PRIMARY KEY (row_key, column_name, ts_nanos)
);
CREATE INDEX IF NOT EXISTS idx_cells_row_key ON cells(row_key);

CREATE TABLE IF NOT EXISTS locks (
	row_key      BLOB    PRIMARY KEY,
	operation_id INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS segment_counters (
	chunk_key  BLOB    PRIMARY KEY,
	next_value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS operation_ids (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	next_value INTEGER NOT NULL
);
`

// Store is a sqlite3-backed store.BackendStore.
type Store struct {
	db *sqlx.DB
}

var _ store.BackendStore = (*Store)(nil)

// Open opens (and, if needed, creates) a sqlite3 database at path and
// applies the schema. Sqlite does not multithread usefully, so the
// connection pool is capped at one connection, same as the teacher's
// Connect does for its sqlite3 driver.
func Open(path string) (*Store, error) {
	registerOnce.Do(func() {
		sql.Register("sqlite3_chunkedgraph", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &hooks{}))
	})

	db, err := sqlx.Open("sqlite3_chunkedgraph", fmt.Sprintf("file:%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate schema: %w", err)
	}

	cglog.Debugf("sqlitestore: opened %s", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// builder returns a squirrel statement builder bound to runner (either
// s.db for single-statement calls or a *sqlx.Tx for the multi-step
// lock/counter transactions).
func (s *Store) builder(runner sq.BaseRunner) sq.StatementBuilderType {
	return sq.StatementBuilder.RunWith(runner)
}
