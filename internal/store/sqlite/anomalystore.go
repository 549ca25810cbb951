package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"surveillanceengine/internal/model"
)

const tableAnomalies = "oi_anomaly_records"

// AnomalyStore persists OI anomaly records and answers the dedup lookup
// used by OIAnomalyDetector.
type AnomalyStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAnomalyStore creates oi_anomaly_records if absent and returns a store.
func NewAnomalyStore(db *sql.DB, logger *slog.Logger) (*AnomalyStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol              TEXT    NOT NULL,
			period_seconds      INTEGER NOT NULL,
			percent_change      REAL    NOT NULL,
			oi_before           REAL    NOT NULL,
			oi_after            REAL    NOT NULL,
			threshold_value     REAL    NOT NULL,
			anomaly_time_ms     INTEGER NOT NULL,
			severity            TEXT    NOT NULL,
			price_before        REAL,
			price_after         REAL,
			funding_before      REAL,
			funding_after       REAL,
			long_short_ratio    REAL,
			high_24h            REAL,
			low_24h             REAL,
			low_2h              REAL,
			distance_from_low_2h REAL,
			high_30m            REAL,
			low_30m             REAL,
			broke_high_30m      INTEGER,
			broke_low_30m       INTEGER,
			ma10 REAL, ma30 REAL, ma60 REAL, ma120 REAL, ma240 REAL,
			short_trend         TEXT,
			long_trend          TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_%s_symbol_period ON %s(symbol, period_seconds, anomaly_time_ms);
	`, tableAnomalies, tableAnomalies, tableAnomalies)
	if _, err := db.Exec(stmt); err != nil {
		return nil, fmt.Errorf("sqlite: create %s: %w", tableAnomalies, err)
	}
	return &AnomalyStore{db: db, logger: logger}, nil
}

// LatestFor returns the most recent anomaly for (symbol, periodSeconds), or
// nil if none exists, used for §4.7's dedup-delta check.
func (s *AnomalyStore) LatestFor(ctx context.Context, symbol string, periodSeconds int64) (*model.OIAnomalyRecord, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT symbol, period_seconds, percent_change, oi_before, oi_after, threshold_value,
			anomaly_time_ms, severity, price_before, price_after, funding_before, funding_after,
			long_short_ratio, high_24h, low_24h, low_2h, distance_from_low_2h, high_30m, low_30m,
			broke_high_30m, broke_low_30m, ma10, ma30, ma60, ma120, ma240, short_trend, long_trend
		FROM %s WHERE symbol = ? AND period_seconds = ? ORDER BY anomaly_time_ms DESC LIMIT 1
	`, tableAnomalies), symbol, periodSeconds)

	var rec model.OIAnomalyRecord
	var severity, shortTrend, longTrend string
	var brokeHigh, brokeLow int
	var priceBefore, priceAfter, fundingBefore, fundingAfter, ratio sql.NullFloat64
	var high24, low24, low2h, distLow2h, high30, low30 sql.NullFloat64
	var ma10, ma30, ma60, ma120, ma240 sql.NullFloat64

	err := row.Scan(&rec.Symbol, &rec.PeriodSeconds, &rec.PercentChange, &rec.OIBefore, &rec.OIAfter,
		&rec.ThresholdValue, &rec.AnomalyTimeMs, &severity, &priceBefore, &priceAfter, &fundingBefore, &fundingAfter,
		&ratio, &high24, &low24, &low2h, &distLow2h, &high30, &low30, &brokeHigh, &brokeLow,
		&ma10, &ma30, &ma60, &ma120, &ma240, &shortTrend, &longTrend)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: latest anomaly: %w", err)
	}

	rec.Severity = model.Severity(severity)
	rec.ShortTrend = model.TrendLabel(shortTrend)
	rec.LongTrend = model.TrendLabel(longTrend)
	rec.PriceBefore, rec.PriceAfter = priceBefore.Float64, priceAfter.Float64
	rec.FundingBefore, rec.FundingAfter = fundingBefore.Float64, fundingAfter.Float64
	rec.LongShortRatio = ratio.Float64
	rec.High24h, rec.Low24h = high24.Float64, low24.Float64
	rec.Low2h, rec.DistanceFromLow2h = low2h.Float64, distLow2h.Float64
	rec.High30m, rec.Low30m = high30.Float64, low30.Float64
	rec.BrokeHigh30m, rec.BrokeLow30m = brokeHigh != 0, brokeLow != 0
	rec.MA10, rec.MA30, rec.MA60, rec.MA120, rec.MA240 = ma10.Float64, ma30.Float64, ma60.Float64, ma120.Float64, ma240.Float64
	return &rec, nil
}

// Save persists the anomaly record.
func (s *AnomalyStore) Save(ctx context.Context, r model.OIAnomalyRecord) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			symbol, period_seconds, percent_change, oi_before, oi_after, threshold_value,
			anomaly_time_ms, severity, price_before, price_after, funding_before, funding_after,
			long_short_ratio, high_24h, low_24h, low_2h, distance_from_low_2h, high_30m, low_30m,
			broke_high_30m, broke_low_30m, ma10, ma30, ma60, ma120, ma240, short_trend, long_trend
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tableAnomalies),
		r.Symbol, r.PeriodSeconds, r.PercentChange, r.OIBefore, r.OIAfter, r.ThresholdValue,
		r.AnomalyTimeMs, string(r.Severity), r.PriceBefore, r.PriceAfter, r.FundingBefore, r.FundingAfter,
		r.LongShortRatio, r.High24h, r.Low24h, r.Low2h, r.DistanceFromLow2h, r.High30m, r.Low30m,
		boolToInt(r.BrokeHigh30m), boolToInt(r.BrokeLow30m), r.MA10, r.MA30, r.MA60, r.MA120, r.MA240,
		string(r.ShortTrend), string(r.LongTrend),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save anomaly: %w", err)
	}
	return nil
}

// Close is a no-op: the *sql.DB is owned by the caller.
func (s *AnomalyStore) Close() error { return nil }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
