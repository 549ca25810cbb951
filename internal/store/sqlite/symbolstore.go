package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"surveillanceengine/internal/model"
)

const tableSymbols = "contract_symbols_config"

// SymbolStore persists the reconciled symbol set. Symbols are never
// deleted, only disabled, so historical rows stay attributable.
type SymbolStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSymbolStore creates contract_symbols_config if absent and returns a store.
func NewSymbolStore(db *sql.DB, logger *slog.Logger) (*SymbolStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			symbol           TEXT PRIMARY KEY,
			base_asset       TEXT NOT NULL,
			quote_asset      TEXT NOT NULL,
			contract_type    TEXT NOT NULL,
			status           TEXT NOT NULL,
			enabled          INTEGER NOT NULL,
			priority         INTEGER NOT NULL,
			price_precision  INTEGER NOT NULL,
			qty_precision    INTEGER NOT NULL,
			step_size        REAL NOT NULL,
			min_notional     REAL NOT NULL
		);
	`, tableSymbols)
	if _, err := db.Exec(stmt); err != nil {
		return nil, fmt.Errorf("sqlite: create %s: %w", tableSymbols, err)
	}
	return &SymbolStore{db: db, logger: logger}, nil
}

// ReconcileEnabled disables every symbol, then upserts symbols as enabled,
// all inside one transaction (§4.5).
func (s *SymbolStore) ReconcileEnabled(ctx context.Context, symbols []model.Symbol) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: reconcile begin: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET enabled = 0`, tableSymbols)); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite: disable all symbols: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (symbol, base_asset, quote_asset, contract_type, status, enabled, priority, price_precision, qty_precision, step_size, min_notional)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			base_asset = excluded.base_asset,
			quote_asset = excluded.quote_asset,
			contract_type = excluded.contract_type,
			status = excluded.status,
			enabled = 1,
			priority = excluded.priority,
			price_precision = excluded.price_precision,
			qty_precision = excluded.qty_precision,
			step_size = excluded.step_size,
			min_notional = excluded.min_notional
	`, tableSymbols))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, sym := range symbols {
		if _, err := stmt.ExecContext(ctx, sym.Symbol, sym.BaseAsset, sym.QuoteAsset, sym.ContractType,
			string(sym.Status), sym.Priority, sym.PricePrecision, sym.QtyPrecision, sym.StepSize, sym.MinNotional); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: upsert symbol %s: %w", sym.Symbol, err)
		}
	}

	return tx.Commit()
}

// Enabled returns the currently enabled symbols, ordered by priority.
func (s *SymbolStore) Enabled(ctx context.Context) ([]model.Symbol, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT symbol, base_asset, quote_asset, contract_type, status, enabled, priority, price_precision, qty_precision, step_size, min_notional
		FROM %s WHERE enabled = 1 ORDER BY priority ASC
	`, tableSymbols))
	if err != nil {
		return nil, fmt.Errorf("sqlite: enabled symbols: %w", err)
	}
	defer rows.Close()

	var out []model.Symbol
	for rows.Next() {
		var sym model.Symbol
		var status string
		if err := rows.Scan(&sym.Symbol, &sym.BaseAsset, &sym.QuoteAsset, &sym.ContractType, &status,
			&sym.Enabled, &sym.Priority, &sym.PricePrecision, &sym.QtyPrecision, &sym.StepSize, &sym.MinNotional); err != nil {
			return nil, fmt.Errorf("sqlite: scan symbol: %w", err)
		}
		sym.Status = model.SymbolStatus(status)
		out = append(out, sym)
	}
	return out, rows.Err()
}

// Close is a no-op: the *sql.DB is owned by the caller.
func (s *SymbolStore) Close() error { return nil }
