package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

const tableRuntimeConfig = "oi_monitoring_config"

// RuntimeConfigStore reads and writes the oi_monitoring_config key/value
// table: runtime-mutable pieces (symbol blacklist, per-symbol OI
// thresholds), kept apart from the process-wide env-var config (§6). Reads
// go straight to SQLite; no cache layer sits in front of this table.
type RuntimeConfigStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRuntimeConfigStore creates oi_monitoring_config if absent and returns a store.
func NewRuntimeConfigStore(db *sql.DB, logger *slog.Logger) (*RuntimeConfigStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			config_key   TEXT PRIMARY KEY,
			config_value TEXT NOT NULL
		);
	`, tableRuntimeConfig)
	if _, err := db.Exec(stmt); err != nil {
		return nil, fmt.Errorf("sqlite: create %s: %w", tableRuntimeConfig, err)
	}
	return &RuntimeConfigStore{db: db, logger: logger}, nil
}

// Get returns the raw JSON-encoded value for key, or ("", false, nil) if absent.
func (s *RuntimeConfigStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT config_value FROM %s WHERE config_key = ?`, tableRuntimeConfig), key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: get config %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts a JSON-encoded value for key.
func (s *RuntimeConfigStore) Set(ctx context.Context, key, jsonValue string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (config_key, config_value) VALUES (?, ?)
		ON CONFLICT(config_key) DO UPDATE SET config_value = excluded.config_value
	`, tableRuntimeConfig), key, jsonValue)
	if err != nil {
		return fmt.Errorf("sqlite: set config %s: %w", key, err)
	}
	return nil
}

// Close is a no-op: the *sql.DB is owned by the caller.
func (s *RuntimeConfigStore) Close() error { return nil }
