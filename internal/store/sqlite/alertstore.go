package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"surveillanceengine/internal/model"
)

// AlertStore routes each alert into one of three tables by type: volume
// surges, support/resistance proximity, and pattern/breakout signals. Each
// table shares the dedup key (symbol, interval, alert_type, level_price,
// kline_time) so Exists can answer the duplicate-suppression check without
// knowing which table an alert belongs to.
type AlertStore struct {
	db     *sql.DB
	logger *slog.Logger
}

const (
	tableVolumeAlerts   = "volume_alerts"
	tableSRAlerts       = "sr_alerts"
	tableBreakoutSignal = "kline_breakout_signals"
)

// NewAlertStore creates the alert tables if absent and returns a store.
func NewAlertStore(db *sql.DB, logger *slog.Logger) (*AlertStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &AlertStore{db: db, logger: logger}
	if err := s.ensureTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AlertStore) ensureTables() error {
	for _, table := range []string{tableVolumeAlerts, tableSRAlerts, tableBreakoutSignal} {
		stmt := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id                 INTEGER PRIMARY KEY AUTOINCREMENT,
				symbol             TEXT    NOT NULL,
				interval           TEXT    NOT NULL,
				alert_type         TEXT    NOT NULL,
				level_type         TEXT,
				level_price        REAL,
				current_price      REAL    NOT NULL,
				distance_pct       REAL,
				level_strength     REAL,
				kline_time         INTEGER NOT NULL,
				description        TEXT,
				breakout_score     REAL,
				volatility_score   REAL,
				volume_score       REAL,
				ma_convergence_score REAL,
				position_score     REAL,
				pattern_score      REAL,
				predicted_direction TEXT,
				created_at_ms      INTEGER NOT NULL,
				UNIQUE(symbol, interval, alert_type, level_price, kline_time)
			);
		`, table)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: create %s: %w", table, err)
		}
	}
	return nil
}

func tableFor(t model.AlertType) string {
	switch t {
	case model.AlertVolumeSurge:
		return tableVolumeAlerts
	case model.AlertTouched, model.AlertApproaching:
		return tableSRAlerts
	default:
		return tableBreakoutSignal
	}
}

// Exists reports whether an alert with the same DedupKey has already been
// persisted, in whichever table its type routes to.
func (s *AlertStore) Exists(ctx context.Context, a model.Alert) (bool, error) {
	table := tableFor(a.Type)
	var id int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id FROM %s WHERE symbol = ? AND interval = ? AND alert_type = ? AND level_price = ? AND kline_time = ?
	`, table), a.Symbol, string(a.Interval), string(a.Type), a.LevelPrice, a.KlineTime).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: exists check on %s: %w", table, err)
	}
	return true, nil
}

// Save persists the alert row into the table matching its type.
func (s *AlertStore) Save(ctx context.Context, a model.Alert) error {
	table := tableFor(a.Type)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT OR IGNORE INTO %s (
			symbol, interval, alert_type, level_type, level_price, current_price,
			distance_pct, level_strength, kline_time, description, breakout_score,
			volatility_score, volume_score, ma_convergence_score, position_score,
			pattern_score, predicted_direction, created_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%%s','now') * 1000)
	`, table),
		a.Symbol, string(a.Interval), string(a.Type), string(a.LevelType), a.LevelPrice, a.CurrentPrice,
		a.DistancePct, a.LevelStrength, a.KlineTime, a.Description, a.BreakoutScore,
		a.VolatilityScore, a.VolumeScore, a.ConvergenceScore, a.PositionScore,
		a.PatternScore, string(a.PredictedDir),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save alert into %s: %w", table, err)
	}
	return nil
}

// Close is a no-op: the *sql.DB is owned by the caller.
func (s *AlertStore) Close() error { return nil }
