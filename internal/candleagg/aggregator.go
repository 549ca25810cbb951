// Package candleagg rolls finalized 5m candles up into 15m/1h/4h work in
// progress candles, finalizing and emitting each as its period closes (§4.3).
package candleagg

import (
	"context"
	"log/slog"
	"sync"

	"surveillanceengine/internal/model"
)

// TargetIntervals are the periods built from the 5m stream.
var TargetIntervals = []model.Interval{model.Interval15m, model.Interval1h, model.Interval4h}

type wipKey struct {
	symbol   string
	interval model.Interval
}

// Aggregator consumes finalized 5m candles and produces finalized
// 15m/1h/4h candles on an output channel.
type Aggregator struct {
	logger *slog.Logger

	mu  sync.Mutex
	wip map[wipKey]model.Candle
}

// New builds an Aggregator.
func New(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger, wip: make(map[wipKey]model.Candle)}
}

// Run consumes finalized 5m candles from in and emits finalized rollups to
// out. Closes out when in closes or ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, in <-chan model.Candle, out chan<- model.Candle) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-in:
			if !ok {
				return
			}
			if !c.Final || c.Interval != model.Interval5m {
				continue
			}
			for _, final := range a.Ingest(c) {
				select {
				case out <- final:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Ingest applies one finalized 5m candle to every target interval's WIP and
// returns any candles that finalized as a result.
func (a *Aggregator) Ingest(c model.Candle) []model.Candle {
	var finals []model.Candle
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, interval := range TargetIntervals {
		periodMs := interval.Milliseconds()
		periodOpen := floorToPeriod(c.OpenTime, periodMs)
		key := wipKey{c.Symbol, interval}

		cur, exists := a.wip[key]
		if !exists || floorToPeriod(cur.OpenTime, periodMs) != periodOpen {
			if exists {
				cur.Final = true
				finals = append(finals, cur)
			}
			a.wip[key] = model.Candle{
				Symbol:    c.Symbol,
				Interval:  interval,
				OpenTime:  periodOpen,
				CloseTime: c.CloseTime,
				Open:      c.Open,
				High:      c.High,
				Low:       c.Low,
				Close:     c.Close,
				Volume:    c.Volume,
				Final:     false,
			}
			cur = a.wip[key]
		} else {
			cur.High = max(cur.High, c.High)
			cur.Low = min(cur.Low, c.Low)
			cur.Close = c.Close
			cur.Volume += c.Volume
			cur.CloseTime = c.CloseTime
			a.wip[key] = cur
		}

		// Candle close_time is conventionally the last millisecond inside the
		// period (boundary-1), not the boundary itself — e.g. a 1h candle
		// opening at 00:00 closes at 00:59:59.999, not 01:00:00.000.
		boundary := periodOpen + periodMs
		if cur.CloseTime >= boundary-1 {
			cur.Final = true
			finals = append(finals, cur)
			delete(a.wip, key)
		}
	}
	return finals
}

func floorToPeriod(tsMs, periodMs int64) int64 {
	if periodMs <= 0 {
		return tsMs
	}
	return (tsMs / periodMs) * periodMs
}
