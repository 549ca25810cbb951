// Package enrichment implements oidetector.PriceEnricher: it attaches the
// price/funding/MA context an OIAnomalyRecord carries (§4.7 step 8) by
// reading the most recent snapshot, a recent candle window, and the
// indicator engine's running state at anomaly time.
package enrichment

import (
	"context"
	"log/slog"
	"time"

	"surveillanceengine/internal/indicatorengine"
	"surveillanceengine/internal/model"
)

const (
	lookback30m = 30 * time.Minute
	lookback2h  = 2 * time.Hour
	lookback24h = 24 * time.Hour

	candlesPer30m = 6 // 30m / 5m
)

// Enricher implements oidetector.PriceEnricher against the live stores.
type Enricher struct {
	snapshots model.SnapshotReader
	candles   model.CandleReader
	indicator *indicatorengine.Engine
	logger    *slog.Logger
}

// New builds an Enricher.
func New(snapshots model.SnapshotReader, candles model.CandleReader, indicator *indicatorengine.Engine, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{snapshots: snapshots, candles: candles, indicator: indicator, logger: logger}
}

// Enrich fills every enrichment field on a best-effort basis: a failure to
// read one source is logged and doesn't fail the whole enrichment, since a partially
// enriched anomaly is still more useful than none (unlike the caller's
// overall failure path, which drops back to a bare record entirely).
func (e *Enricher) Enrich(ctx context.Context, symbol string, nowMs int64) (model.OIAnomalyRecord, error) {
	var rec model.OIAnomalyRecord

	if latest, err := e.snapshots.Latest(ctx, symbol); err != nil {
		e.logger.Warn("enrichment: latest snapshot lookup failed", "symbol", symbol, "err", err)
	} else if latest != nil {
		rec.PriceAfter = latest.MarkPrice
		rec.FundingAfter = latest.FundingRate
	}

	if window, err := e.snapshots.Window(ctx, symbol, nowMs-lookback2h.Milliseconds(), nowMs); err != nil {
		e.logger.Warn("enrichment: funding/price-before lookup failed", "symbol", symbol, "err", err)
	} else if len(window) > 0 {
		oldest := window[0]
		rec.PriceBefore = oldest.MarkPrice
		rec.FundingBefore = oldest.FundingRate
	}

	if low2h, _, err := e.snapshots.DailyExtremes(ctx, symbol, nowMs-lookback2h.Milliseconds(), nowMs); err != nil {
		e.logger.Warn("enrichment: 2h extremes lookup failed", "symbol", symbol, "err", err)
	} else {
		rec.Low2h = low2h
		if low2h != 0 && rec.PriceAfter != 0 {
			rec.DistanceFromLow2h = (rec.PriceAfter - low2h) / low2h * 100
		}
	}

	if low24h, high24h, err := e.snapshots.DailyExtremes(ctx, symbol, nowMs-lookback24h.Milliseconds(), nowMs); err != nil {
		e.logger.Warn("enrichment: 24h extremes lookup failed", "symbol", symbol, "err", err)
	} else {
		rec.Low24h = low24h
		rec.High24h = high24h
	}

	if recent, err := e.candles.Recent(ctx, symbol, model.Interval5m, candlesPer30m); err != nil {
		e.logger.Warn("enrichment: 30m candle lookup failed", "symbol", symbol, "err", err)
	} else if len(recent) > 0 {
		high30m, low30m := recent[0].High, recent[0].Low
		for _, c := range recent[1:] {
			if c.High > high30m {
				high30m = c.High
			}
			if c.Low < low30m {
				low30m = c.Low
			}
		}
		rec.High30m, rec.Low30m = high30m, low30m
		if rec.PriceAfter != 0 {
			rec.BrokeHigh30m = rec.PriceAfter > high30m
			rec.BrokeLow30m = rec.PriceAfter < low30m
		}
	}

	if e.indicator != nil {
		snap := e.indicator.Snapshot(symbol, model.Interval5m)
		rec.MA10 = snap.EMA[10]
		rec.MA30 = snap.EMA[30]
		rec.MA60 = snap.EMA[60]
		rec.MA120 = snap.EMA[120]
		rec.MA240 = snap.EMA[240]
		rec.ShortTrend = model.TrendFor(rec.MA10, rec.MA30)
		rec.LongTrend = model.TrendFor(rec.MA60, rec.MA240)
	}

	return rec, nil
}
