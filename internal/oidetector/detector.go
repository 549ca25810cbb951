// Package oidetector implements OIAnomalyDetector (§4.7): a fixed-cadence
// per-symbol sweep across several lookback periods, comparing each
// period's oldest and newest open-interest snapshot for an anomalous swing.
package oidetector

import (
	"context"
	"log/slog"
	"time"

	"surveillanceengine/internal/model"
)

// Periods are the lookback windows swept on every cadence, per §4.7.
var Periods = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
	2 * time.Hour,
	4 * time.Hour,
}

// Thresholds resolves the effective high/medium/dedup thresholds for a
// (symbol, period) pair, falling back to the global default when no
// per-symbol override exists (resolved by the caller's implementation;
// internal/configresolver in production).
type Thresholds interface {
	For(ctx context.Context, symbol string, periodSeconds int64) (high, medium, dedupDelta float64)
}

// PriceEnricher supplies the price/funding/ratio/MA context attached to an
// anomaly record at detection time.
type PriceEnricher interface {
	Enrich(ctx context.Context, symbol string, nowMs int64) (model.OIAnomalyRecord, error)
}

// Detector runs the periodic OI anomaly sweep.
type Detector struct {
	snapshots  model.SnapshotReader
	anomalies  model.AnomalyStore
	thresholds Thresholds
	enricher   PriceEnricher
	publish    chan<- model.OIAnomalyRecord
	logger     *slog.Logger
}

// New builds a Detector.
func New(snapshots model.SnapshotReader, anomalies model.AnomalyStore, thresholds Thresholds, enricher PriceEnricher, publish chan<- model.OIAnomalyRecord, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		snapshots:  snapshots,
		anomalies:  anomalies,
		thresholds: thresholds,
		enricher:   enricher,
		publish:    publish,
		logger:     logger,
	}
}

// Run fires Sweep for every symbol in symbols() on every tick of interval,
// until ctx is cancelled.
func (d *Detector) Run(ctx context.Context, interval time.Duration, symbols func() []string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range symbols() {
				if err := d.Sweep(ctx, symbol); err != nil {
					d.logger.Warn("oidetector sweep failed", "symbol", symbol, "err", err)
				}
			}
		}
	}
}

// Sweep checks every configured period for symbol and persists/publishes
// any anomaly found.
func (d *Detector) Sweep(ctx context.Context, symbol string) error {
	now := time.Now()
	for _, period := range Periods {
		if err := d.sweepPeriod(ctx, symbol, period, now); err != nil {
			return err
		}
	}
	return nil
}

func (d *Detector) sweepPeriod(ctx context.Context, symbol string, period time.Duration, now time.Time) error {
	nowMs := now.UnixMilli()
	fromMs := now.Add(-period).UnixMilli()

	window, err := d.snapshots.Window(ctx, symbol, fromMs, nowMs)
	if err != nil {
		return err
	}
	if len(window) < 2 {
		return nil // insufficient data (§4.7)
	}

	oldest, newest := window[0], window[len(window)-1]
	if oldest.OpenInterest == 0 {
		return nil
	}
	percentChange := (newest.OpenInterest - oldest.OpenInterest) / oldest.OpenInterest * 100

	periodSeconds := int64(period / time.Second)
	high, medium, dedupDelta := d.thresholds.For(ctx, symbol, periodSeconds)

	if absFloat(percentChange) < medium {
		return nil
	}

	prev, err := d.anomalies.LatestFor(ctx, symbol, periodSeconds)
	if err != nil {
		return err
	}
	if prev != nil && absFloat(percentChange-prev.PercentChange) < dedupDelta {
		return nil
	}

	severity := model.SeverityFor(percentChange, high, medium)

	rec := model.OIAnomalyRecord{
		Symbol:         symbol,
		PeriodSeconds:  periodSeconds,
		PercentChange:  percentChange,
		OIBefore:       oldest.OpenInterest,
		OIAfter:        newest.OpenInterest,
		ThresholdValue: medium,
		AnomalyTimeMs:  nowMs,
		Severity:       severity,
	}

	if enriched, err := d.enricher.Enrich(ctx, symbol, nowMs); err != nil {
		d.logger.Warn("oidetector enrichment failed, persisting bare record", "symbol", symbol, "err", err)
	} else {
		enriched.Symbol = rec.Symbol
		enriched.PeriodSeconds = rec.PeriodSeconds
		enriched.PercentChange = rec.PercentChange
		enriched.OIBefore = rec.OIBefore
		enriched.OIAfter = rec.OIAfter
		enriched.ThresholdValue = rec.ThresholdValue
		enriched.AnomalyTimeMs = rec.AnomalyTimeMs
		enriched.Severity = rec.Severity
		rec = enriched
	}

	if err := d.anomalies.Save(ctx, rec); err != nil {
		return err
	}

	select {
	case d.publish <- rec:
	default:
		d.logger.Warn("oidetector publish channel full, dropping", "symbol", symbol)
	}
	return nil
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
