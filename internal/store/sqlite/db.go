// Package sqlite provides the shared SQLite connection pool and the
// non-sharded stores: AlertStore, AnomalyStore, SymbolStore, and the
// oi_monitoring_config runtime key/value table. Daily-sharded stores live in
// internal/snapshotstore and internal/candlestore; both share the *sql.DB
// this package opens.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// maxOpenConns bounds the shared pool per §5's resource model: every store
// in the process borrows connections from one pool rather than opening its
// own.
const maxOpenConns = 20

// Open opens path with a bounded connection pool and WAL mode enabled for
// concurrent reader/writer access.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&cache=shared", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	return db, nil
}
