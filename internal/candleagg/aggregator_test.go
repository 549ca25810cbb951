package candleagg

import (
	"context"
	"testing"

	"surveillanceengine/internal/model"
)

func fiveMin(symbol string, openTime int64, o, h, l, c, v float64) model.Candle {
	return model.Candle{
		Symbol:    symbol,
		Interval:  model.Interval5m,
		OpenTime:  openTime,
		CloseTime: openTime + model.Interval5m.Milliseconds() - 1,
		Open:      o, High: h, Low: l, Close: c, Volume: v,
		Final: true,
	}
}

// TestIngest_HourRollup feeds twelve consecutive 5m candles covering
// 00:00-00:55 and checks the emitted 1h candle matches scenario 3.
func TestIngest_HourRollup(t *testing.T) {
	agg := New(nil)

	opens := []float64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21}
	highs := []float64{12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23}
	lows := []float64{9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
	closes := []float64{11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22}

	var got1h *model.Candle
	fiveMinMs := model.Interval5m.Milliseconds()
	for i := 0; i < 12; i++ {
		c := fiveMin("BTCUSDT", int64(i)*fiveMinMs, opens[i], highs[i], lows[i], closes[i], 100)
		for _, final := range agg.Ingest(c) {
			if final.Interval == model.Interval1h {
				f := final
				got1h = &f
			}
		}
	}

	if got1h == nil {
		t.Fatalf("expected exactly one finalized 1h candle after 12 five-minute candles, got none")
	}
	if got1h.Open != 10 {
		t.Errorf("open = %v, want 10", got1h.Open)
	}
	if got1h.High != 23 {
		t.Errorf("high = %v, want 23", got1h.High)
	}
	if got1h.Low != 9 {
		t.Errorf("low = %v, want 9", got1h.Low)
	}
	if got1h.Close != 22 {
		t.Errorf("close = %v, want 22", got1h.Close)
	}
	if got1h.Volume != 1200 {
		t.Errorf("volume = %v, want 1200", got1h.Volume)
	}
	if got1h.OpenTime != 0 {
		t.Errorf("open_time = %v, want 0", got1h.OpenTime)
	}
	wantCloseTime := model.Interval1h.Milliseconds() - 1
	if got1h.CloseTime != wantCloseTime {
		t.Errorf("close_time = %v, want %v", got1h.CloseTime, wantCloseTime)
	}
}

// TestIngest_BoundaryInvariant checks every finalized candle at interval I
// satisfies close_time - open_time + 1 == I and open_time % I == 0.
func TestIngest_BoundaryInvariant(t *testing.T) {
	agg := New(nil)
	fiveMinMs := model.Interval5m.Milliseconds()
	for i := 0; i < 48; i++ { // 4 hours of 5m candles
		c := fiveMin("ETHUSDT", int64(i)*fiveMinMs, 1, 2, 0, 1, 10)
		for _, final := range agg.Ingest(c) {
			periodMs := final.Interval.Milliseconds()
			if final.CloseTime-final.OpenTime+1 != periodMs {
				t.Errorf("interval %s: close-open+1 = %v, want %v", final.Interval, final.CloseTime-final.OpenTime+1, periodMs)
			}
			if final.OpenTime%periodMs != 0 {
				t.Errorf("interval %s: open_time %v not aligned to period", final.Interval, final.OpenTime)
			}
		}
	}
}

// TestRun_EmitsOnChannel exercises the channel-driven Run wrapper used in
// production wiring, not just the pure Ingest path.
func TestRun_EmitsOnChannel(t *testing.T) {
	agg := New(nil)
	in := make(chan model.Candle, 16)
	out := make(chan model.Candle, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx, in, out)
		close(done)
	}()

	fiveMinMs := model.Interval5m.Milliseconds()
	for i := 0; i < 12; i++ {
		in <- fiveMin("BTCUSDT", int64(i)*fiveMinMs, 1, 2, 0, 1, 10)
	}
	close(in)
	<-done
	cancel()

	sawHour := false
	for final := range out {
		if final.Interval == model.Interval1h {
			sawHour = true
		}
	}
	if !sawHour {
		t.Errorf("expected a finalized 1h candle on the output channel")
	}
}
