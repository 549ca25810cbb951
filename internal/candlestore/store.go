// Package candlestore implements CandleStore (§4.2): daily sharded tables
// per interval (candles_{interval}_YYYYMMDD) with a buffered batch writer.
// Only Final candles are ever written; provisional candles never reach this
// package. Sharding and batching mirror internal/snapshotstore.
package candlestore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"surveillanceengine/internal/model"
	"surveillanceengine/internal/timeutil"
)

const (
	defaultBatchSize  = 500
	defaultFlushDelay = 30 * time.Second
)

// Store is a CandleStore backed by SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	knownShards map[string]bool
}

// New wraps an already-open *sql.DB.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, knownShards: make(map[string]bool)}
}

func shardName(interval model.Interval, date string) string {
	return fmt.Sprintf("candles_%s_%s", sanitizeInterval(interval), date)
}

func sanitizeInterval(i model.Interval) string {
	return strings.ToLower(string(i))
}

func (s *Store) ensureShard(ctx context.Context, interval model.Interval, date string) error {
	key := string(interval) + ":" + date
	if s.knownShards[key] {
		return nil
	}
	table := shardName(interval, date)
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			symbol     TEXT    NOT NULL,
			open_time  INTEGER NOT NULL,
			close_time INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL,
			UNIQUE(symbol, open_time)
		);
	`, table)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("candlestore: create shard %s: %w", table, err)
	}
	s.knownShards[key] = true
	return nil
}

// Run drains candleCh, buffering final candles until 500 rows or 30s idle,
// whichever first; rows whose insert failed are returned to the buffer for
// retry on the next tick (§4.2).
func (s *Store) Run(ctx context.Context, candleCh <-chan model.Candle) {
	buffer := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		failed, err := s.writeBatch(ctx, buffer)
		if err != nil {
			s.logger.Error("candlestore flush failed", "err", err, "retrying", len(failed))
		} else {
			s.logger.Debug("candlestore flushed", "n", len(buffer)-len(failed))
		}
		buffer = failed
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case c, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			if !c.Final {
				continue // only final candles are persisted (§3)
			}
			buffer = append(buffer, c)
			if len(buffer) >= defaultBatchSize {
				flush()
			}
			// Restart the idle timer on every buffered candle.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(defaultFlushDelay)
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// writeBatch groups candles by shard, creates missing shards, and inserts
// ignoring duplicates. Returns the subset that failed to insert so the
// caller can retry them.
func (s *Store) writeBatch(ctx context.Context, batch []model.Candle) ([]model.Candle, error) {
	type bucketKey struct {
		interval model.Interval
		date     string
	}
	buckets := make(map[bucketKey][]model.Candle)
	for _, c := range batch {
		k := bucketKey{c.Interval, timeutil.ShardDate(c.OpenTime)}
		buckets[k] = append(buckets[k], c)
	}

	var failed []model.Candle
	var firstErr error
	for k, rows := range buckets {
		if err := s.ensureShard(ctx, k.interval, k.date); err != nil {
			failed = append(failed, rows...)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.insertRows(ctx, shardName(k.interval, k.date), rows); err != nil {
			failed = append(failed, rows...)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return failed, firstErr
}

func (s *Store) insertRows(ctx context.Context, table string, rows []model.Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT OR IGNORE INTO %s (symbol, open_time, close_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, table))
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range rows {
		if _, err := stmt.ExecContext(ctx, c.Symbol, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Recent returns up to n most recent final candles for (symbol, interval),
// ascending, reading today's shard then yesterday's until n collected (§4.2).
func (s *Store) Recent(ctx context.Context, symbol string, interval model.Interval, n int) ([]model.Candle, error) {
	var out []model.Candle
	date := timeutil.ShardDateNow()
	for daysBack := 0; daysBack < 400 && len(out) < n; daysBack++ {
		rows, found, err := s.queryShard(ctx, shardName(interval, date), symbol, 0, int64(1)<<62, n-len(out), true)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(rows, out...) // older shard's rows precede newer ones
		}
		date = timeutil.ShardDate(time.Now().AddDate(0, 0, -(daysBack + 1)).UnixMilli())
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// Range returns final candles for (symbol, interval) with OpenTime in
// [fromMs, toMs], ascending, across every intersecting shard.
func (s *Store) Range(ctx context.Context, symbol string, interval model.Interval, fromMs, toMs int64) ([]model.Candle, error) {
	dates := timeutil.ShardDatesInRange(fromMs, toMs)
	var out []model.Candle
	for _, date := range dates {
		rows, _, err := s.queryShardRange(ctx, shardName(interval, date), symbol, fromMs, toMs)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (s *Store) queryShard(ctx context.Context, table, symbol string, fromMs, toMs int64, limit int, desc bool) ([]model.Candle, bool, error) {
	order := "ASC"
	if desc {
		order = "DESC"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT symbol, open_time, close_time, open, high, low, close, volume
		FROM %s WHERE symbol = ? AND open_time >= ? AND open_time <= ?
		ORDER BY open_time %s LIMIT ?
	`, table, order), symbol, fromMs, toMs, limit)
	if err != nil {
		if isMissingTable(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("candlestore: query %s: %w", table, err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		c := model.Candle{Interval: table2interval(table), Final: true}
		if err := rows.Scan(&c.Symbol, &c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, false, err
		}
		out = append(out, c)
	}
	if desc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, true, rows.Err()
}

func (s *Store) queryShardRange(ctx context.Context, table, symbol string, fromMs, toMs int64) ([]model.Candle, bool, error) {
	return s.queryShard(ctx, table, symbol, fromMs, toMs, 1<<30, false)
}

// table2interval extracts the interval component from a shard table name,
// e.g. "candles_5m_20260731" -> "5m".
func table2interval(table string) model.Interval {
	parts := strings.Split(table, "_")
	if len(parts) < 3 {
		return ""
	}
	return model.Interval(parts[1])
}

// CleanupOlderThan drops candle shards across all intervals older than
// daysToKeep relative to reference (§4.2 cleanup).
func (s *Store) CleanupOlderThan(ctx context.Context, reference time.Time, daysToKeep int) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name LIKE 'candles_%'`)
	if err != nil {
		return fmt.Errorf("candlestore: list shards: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	rows.Close()

	for _, table := range tables {
		parts := strings.Split(table, "_")
		if len(parts) < 3 {
			continue
		}
		date := parts[len(parts)-1]
		if timeutil.ShardDateBefore(date, reference, daysToKeep) {
			if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
				return fmt.Errorf("candlestore: drop shard %s: %w", table, err)
			}
			s.logger.Info("candlestore dropped retired shard", "table", table)
		}
	}
	return nil
}

// Close is a no-op: the *sql.DB is owned by the caller.
func (s *Store) Close() error { return nil }

func isMissingTable(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "no such table")
}
