// Package snapshotstore implements ShardedSnapshotStore (§4.1): daily
// Beijing-time-sharded tables of OI/mark-price/funding snapshots, a buffered
// batch writer, and multi-shard read routing. It follows the teacher's
// internal/store/sqlite writer/reader shape, generalized to date-sharded
// table families via internal/timeutil.
package snapshotstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"surveillanceengine/internal/model"
	"surveillanceengine/internal/timeutil"
)

const (
	legacyTable       = "open_interest_snapshots"
	defaultBatchSize  = 500
	defaultFlushDelay = 5 * time.Second
)

// Store is a ShardedSnapshotStore backed by SQLite. Writes are buffered in
// Run; reads run directly against whichever shards intersect the query.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	shardsMu    sync.Mutex
	knownShards map[string]bool
}

// New wraps an already-open *sql.DB. The caller owns the connection pool
// (§5: bounded, shared); Store never opens its own.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, knownShards: make(map[string]bool)}
}

func shardName(date string) string { return "open_interest_snapshots_" + date }

// ensureShard idempotently creates the daily shard, tolerating "already
// exists" races per §4.1.
func (s *Store) ensureShard(ctx context.Context, date string) error {
	s.shardsMu.Lock()
	known := s.knownShards[date]
	s.shardsMu.Unlock()
	if known {
		return nil
	}
	table := shardName(date)
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol           TEXT    NOT NULL,
			open_interest    REAL    NOT NULL,
			timestamp_ms     INTEGER NOT NULL,
			snapshot_time    INTEGER NOT NULL,
			mark_price       REAL,
			funding_rate     REAL,
			next_funding_time INTEGER,
			UNIQUE(symbol, timestamp_ms)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_snapshot_time ON %s(snapshot_time);
		CREATE INDEX IF NOT EXISTS idx_%s_symbol ON %s(symbol);
	`, table, table, table, table, table)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("snapshotstore: create shard %s: %w", table, err)
	}
	s.shardsMu.Lock()
	s.knownShards[date] = true
	s.shardsMu.Unlock()
	return nil
}

// Run drains snapshotCh, batching writes per Beijing-date shard. Flushes on
// 500 buffered rows, every 5s on a timer that restarts after each size-
// triggered flush, and once more on context cancellation.
func (s *Store) Run(ctx context.Context, snapshotCh <-chan model.OISnapshot) {
	buffer := make([]model.OISnapshot, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		if err := s.writeBatch(ctx, buffer); err != nil {
			s.logger.Error("snapshotstore flush failed", "err", err, "n", len(buffer))
		} else {
			s.logger.Debug("snapshotstore flushed", "n", len(buffer))
		}
		buffer = buffer[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case snap, ok := <-snapshotCh:
			if !ok {
				flush()
				return
			}
			buffer = append(buffer, snap)
			if len(buffer) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// writeBatch buckets the batch by Beijing date and inserts each bucket into
// its shard with insert-or-ignore-duplicate semantics (§4.1).
func (s *Store) writeBatch(ctx context.Context, batch []model.OISnapshot) error {
	buckets := make(map[string][]model.OISnapshot)
	for _, snap := range batch {
		date := timeutil.ShardDate(snap.TimestampMs)
		buckets[date] = append(buckets[date], snap)
	}

	for date, rows := range buckets {
		if err := s.ensureShard(ctx, date); err != nil {
			return err
		}
		if err := s.insertRows(ctx, shardName(date), rows); err != nil {
			return fmt.Errorf("snapshotstore: insert into shard %s: %w", date, err)
		}
	}
	return nil
}

func (s *Store) insertRows(ctx context.Context, table string, rows []model.OISnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT OR IGNORE INTO %s
			(symbol, open_interest, timestamp_ms, snapshot_time, mark_price, funding_rate, next_funding_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, table))
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Symbol, r.OpenInterest, r.TimestampMs, r.TimestampMs, r.MarkPrice, r.FundingRate, r.NextFundingMs); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Window returns snapshots for symbol with TimestampMs in [fromMs, toMs],
// ascending. Every intersecting shard is queried and merged; missing shards
// are skipped silently (§4.1).
func (s *Store) Window(ctx context.Context, symbol string, fromMs, toMs int64) ([]model.OISnapshot, error) {
	dates := timeutil.ShardDatesInRange(fromMs, toMs)
	var out []model.OISnapshot
	anyShardFound := false

	for _, date := range dates {
		rows, found, err := s.queryShard(ctx, shardName(date), symbol, fromMs, toMs)
		if err != nil {
			return nil, err
		}
		if found {
			anyShardFound = true
		}
		out = append(out, rows...)
	}

	if !anyShardFound {
		rows, found, err := s.queryShard(ctx, legacyTable, symbol, fromMs, toMs)
		if err == nil && found {
			out = append(out, rows...)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	return out, nil
}

// queryShard returns (rows, tableExists, err). A missing table is reported
// as (nil, false, nil), not an error — callers skip it silently.
func (s *Store) queryShard(ctx context.Context, table, symbol string, fromMs, toMs int64) ([]model.OISnapshot, bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT symbol, open_interest, timestamp_ms, mark_price, funding_rate, next_funding_time
		FROM %s WHERE symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`, table), symbol, fromMs, toMs)
	if err != nil {
		if isMissingTable(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("snapshotstore: query %s: %w", table, err)
	}
	defer rows.Close()

	var out []model.OISnapshot
	for rows.Next() {
		var snap model.OISnapshot
		var markPrice, fundingRate sql.NullFloat64
		var nextFunding sql.NullInt64
		if err := rows.Scan(&snap.Symbol, &snap.OpenInterest, &snap.TimestampMs, &markPrice, &fundingRate, &nextFunding); err != nil {
			return nil, false, fmt.Errorf("snapshotstore: scan %s: %w", table, err)
		}
		snap.MarkPrice = markPrice.Float64
		snap.FundingRate = fundingRate.Float64
		snap.NextFundingMs = nextFunding.Int64
		snap.Source = "binance"
		out = append(out, snap)
	}
	return out, true, rows.Err()
}

// Latest returns the most recent snapshot for symbol, probing today's shard,
// then yesterday's, then the legacy table (§4.1 freshness).
func (s *Store) Latest(ctx context.Context, symbol string) (*model.OISnapshot, error) {
	candidates := []string{
		shardName(timeutil.ShardDateNow()),
		shardName(timeutil.PreviousShardDate(time.Now().UnixMilli())),
		legacyTable,
	}
	for _, table := range candidates {
		snap, found, err := s.latestInTable(ctx, table, symbol)
		if err != nil {
			return nil, err
		}
		if found {
			return snap, nil
		}
	}
	return nil, nil
}

func (s *Store) latestInTable(ctx context.Context, table, symbol string) (*model.OISnapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT symbol, open_interest, timestamp_ms, mark_price, funding_rate, next_funding_time
		FROM %s WHERE symbol = ? ORDER BY timestamp_ms DESC LIMIT 1
	`, table), symbol)

	var snap model.OISnapshot
	var markPrice, fundingRate sql.NullFloat64
	var nextFunding sql.NullInt64
	err := row.Scan(&snap.Symbol, &snap.OpenInterest, &snap.TimestampMs, &markPrice, &fundingRate, &nextFunding)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		if isMissingTable(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("snapshotstore: latest %s: %w", table, err)
	}
	snap.MarkPrice = markPrice.Float64
	snap.FundingRate = fundingRate.Float64
	snap.NextFundingMs = nextFunding.Int64
	return &snap, true, nil
}

// DailyExtremes returns the min/max mark_price recorded for symbol across
// the shard(s) covering [fromMs, toMs]; used for 24h-extreme enrichment.
func (s *Store) DailyExtremes(ctx context.Context, symbol string, fromMs, toMs int64) (float64, float64, error) {
	dates := timeutil.ShardDatesInRange(fromMs, toMs)
	min, max := 0.0, 0.0
	first := true
	for _, date := range dates {
		row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT MIN(mark_price), MAX(mark_price) FROM %s
			WHERE symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ? AND mark_price > 0
		`, shardName(date)), symbol, fromMs, toMs)
		var mn, mx sql.NullFloat64
		if err := row.Scan(&mn, &mx); err != nil {
			if isMissingTable(err) {
				continue
			}
			return 0, 0, fmt.Errorf("snapshotstore: extremes %s: %w", date, err)
		}
		if !mn.Valid {
			continue
		}
		if first {
			min, max = mn.Float64, mx.Float64
			first = false
			continue
		}
		if mn.Float64 < min {
			min = mn.Float64
		}
		if mx.Float64 > max {
			max = mx.Float64
		}
	}
	return min, max, nil
}

// CleanupOlderThan drops shards whose Beijing date is older than
// retentionDays relative to reference, and pre-creates tomorrow's shard
// (§4.1 retention task).
func (s *Store) CleanupOlderThan(ctx context.Context, reference time.Time, retentionDays int) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name LIKE 'open_interest_snapshots_%'`)
	if err != nil {
		return fmt.Errorf("snapshotstore: list shards: %w", err)
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
		date := table[len("open_interest_snapshots_"):]
		if timeutil.ShardDateBefore(date, reference, retentionDays) {
			if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
				return fmt.Errorf("snapshotstore: drop shard %s: %w", table, err)
			}
			s.shardsMu.Lock()
			delete(s.knownShards, date)
			s.shardsMu.Unlock()
			s.logger.Info("snapshotstore dropped retired shard", "date", date)
		}
	}

	tomorrow := timeutil.ShardDate(reference.Add(24 * time.Hour).UnixMilli())
	return s.ensureShard(ctx, tomorrow)
}

// Close is a no-op: the *sql.DB is owned by the caller.
func (s *Store) Close() error { return nil }

func isMissingTable(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "no such table")
}
