package breakout

import (
	"testing"

	"surveillanceengine/internal/indicatorengine"
	"surveillanceengine/internal/model"
)

func candleRange(n int, open, rangeWidth, volume float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = model.Candle{
			Symbol: "BTCUSDT", Interval: model.Interval1h,
			OpenTime: int64(i) * 3600_000,
			Open:     open, Close: open,
			High: open + rangeWidth/2, Low: open - rangeWidth/2,
			Volume: volume, Final: true,
		}
	}
	return out
}

// TestPredict_InsufficientHistoryReturnsFalse checks Predict declines to
// score a snapshot that isn't Ready or lacks 20 candles of history (§4.10).
func TestPredict_InsufficientHistoryReturnsFalse(t *testing.T) {
	snap := indicatorengine.Snapshot{Ready: false, Candles: candleRange(25, 100, 1, 10)}
	if _, ok := Predict(snap, nil, 0); ok {
		t.Error("expected Predict to return false when snapshot is not Ready")
	}

	snap = indicatorengine.Snapshot{Ready: true, Candles: candleRange(10, 100, 1, 10)}
	if _, ok := Predict(snap, nil, 0); ok {
		t.Error("expected Predict to return false with fewer than 20 candles")
	}
}

// TestPredict_TightSqueezeMaximizesConvergenceScore checks a squeeze
// (|EMA20-EMA60|/price <= 0.03%) produces ma_convergence_score=100.
func TestPredict_TightSqueezeMaximizesConvergenceScore(t *testing.T) {
	candles := candleRange(20, 100, 1, 10)
	snap := indicatorengine.Snapshot{
		Ready: true, Candles: candles, LastClose: 100,
		EMA: map[int]float64{20: 100.01, 60: 100.0},
	}
	score, ok := Predict(snap, nil, 0)
	if !ok {
		t.Fatal("expected Predict to succeed")
	}
	if score.MAConvergence != 100 {
		t.Errorf("ma_convergence_score = %v, want 100 for a tight squeeze", score.MAConvergence)
	}
}

// TestPredict_ProximityMaximizesPositionScore checks price within 0.1% of a
// level produces position_score=100.
func TestPredict_ProximityMaximizesPositionScore(t *testing.T) {
	candles := candleRange(20, 100, 1, 10)
	snap := indicatorengine.Snapshot{Ready: true, Candles: candles, LastClose: 100, EMA: map[int]float64{20: 95, 60: 90}}
	level := &model.SRLevel{Type: model.LevelResistance, Price: 100.05}

	score, ok := Predict(snap, level, 0)
	if !ok {
		t.Fatal("expected Predict to succeed")
	}
	if score.Position != 100 {
		t.Errorf("position_score = %v, want 100 at 0.05%% distance", score.Position)
	}
}

// TestPredict_TotalScoreWithinBounds checks total_score always lands in [0,100].
func TestPredict_TotalScoreWithinBounds(t *testing.T) {
	candles := candleRange(30, 100, 2, 50)
	snap := indicatorengine.Snapshot{Ready: true, Candles: candles, LastClose: 100, EMA: map[int]float64{20: 101, 30: 101, 60: 95}}
	score, ok := Predict(snap, nil, 1)
	if !ok {
		t.Fatal("expected Predict to succeed")
	}
	if score.Total < 0 || score.Total > 100 {
		t.Errorf("total_score = %v, want within [0,100]", score.Total)
	}
}

// TestPredict_DirectionFollowsTrendAndNearestLevel checks an up-trending
// snapshot near a resistance level predicts "up".
func TestPredict_DirectionFollowsTrendAndNearestLevel(t *testing.T) {
	candles := candleRange(20, 100, 1, 10)
	snap := indicatorengine.Snapshot{
		Ready: true, Candles: candles, LastClose: 100,
		EMA: map[int]float64{20: 100, 30: 110, 60: 100},
	}
	level := &model.SRLevel{Type: model.LevelResistance, Price: 101}
	score, ok := Predict(snap, level, 0)
	if !ok {
		t.Fatal("expected Predict to succeed")
	}
	if score.Direction != model.DirectionUp {
		t.Errorf("direction = %v, want up", score.Direction)
	}
}
