package model

import "testing"

// TestSeverityFor_Boundaries checks severity boundaries are inclusive on the
// lower edge (§8 invariant).
func TestSeverityFor_Boundaries(t *testing.T) {
	cases := []struct {
		pc       float64
		high     float64
		medium   float64
		expected Severity
	}{
		{30, 30, 15, SeverityHigh},     // exactly at high -> high
		{29.99, 30, 15, SeverityMedium},
		{15, 30, 15, SeverityMedium},   // exactly at medium -> medium
		{14.99, 30, 15, SeverityLow},
		{-40, 30, 15, SeverityHigh},    // magnitude, sign irrelevant
	}
	for _, c := range cases {
		got := SeverityFor(c.pc, c.high, c.medium)
		if got != c.expected {
			t.Errorf("SeverityFor(%v, %v, %v) = %v, want %v", c.pc, c.high, c.medium, got, c.expected)
		}
	}
}

func TestTrendFor(t *testing.T) {
	if TrendFor(10, 5) != TrendUp {
		t.Error("expected short > long to be TrendUp")
	}
	if TrendFor(5, 10) != TrendDown {
		t.Error("expected short < long to be TrendDown")
	}
	if TrendFor(5, 5) != TrendFlat {
		t.Error("expected short == long to be TrendFlat")
	}
}

func TestCandle_ShadowFractions(t *testing.T) {
	// Bullish candle: open=10, close=15, high=20, low=5. Range=15.
	// Upper shadow = high - close = 5 -> 5/15 = 0.3333
	// Lower shadow = open - low = 5 -> 5/15 = 0.3333
	c := Candle{Open: 10, Close: 15, High: 20, Low: 5}
	if got := c.UpperShadowFraction(); got < 0.333 || got > 0.334 {
		t.Errorf("UpperShadowFraction = %v, want ~0.333", got)
	}
	if got := c.LowerShadowFraction(); got < 0.333 || got > 0.334 {
		t.Errorf("LowerShadowFraction = %v, want ~0.333", got)
	}
	if !c.Bullish() {
		t.Error("expected candle to be bullish")
	}
}

func TestCandle_ZeroRangeDegenerateCase(t *testing.T) {
	c := Candle{Open: 10, Close: 10, High: 10, Low: 10}
	if c.UpperShadowFraction() != 0 {
		t.Error("expected zero-range candle to report UpperShadowFraction=0")
	}
	if c.LowerShadowFraction() != 0 {
		t.Error("expected zero-range candle to report LowerShadowFraction=0")
	}
	if c.BodyFraction() != 1 {
		t.Error("expected zero-range candle to report BodyFraction=1")
	}
}

func TestCandle_BoundaryInvariantHelper(t *testing.T) {
	c := Candle{OpenTime: 0, CloseTime: Interval1h.Milliseconds() - 1, Interval: Interval1h}
	if c.CloseTime-c.OpenTime+1 != Interval1h.Milliseconds() {
		t.Error("close_time - open_time + 1 should equal the interval duration")
	}
}

func TestAlert_CooldownKeyDistinguishesLevelPrice(t *testing.T) {
	a1 := Alert{Symbol: "BTCUSDT", Interval: Interval1h, Type: AlertTouched, LevelPrice: 100.0}
	a2 := Alert{Symbol: "BTCUSDT", Interval: Interval1h, Type: AlertTouched, LevelPrice: 101.0}
	if a1.CooldownKey() == a2.CooldownKey() {
		t.Error("expected different level prices to produce distinct cooldown keys")
	}
}

func TestAlert_CooldownKeyConstantForNonLevelTypes(t *testing.T) {
	a1 := Alert{Symbol: "BTCUSDT", Interval: Interval1h, Type: AlertSqueeze, LevelPrice: 100.0}
	a2 := Alert{Symbol: "BTCUSDT", Interval: Interval1h, Type: AlertSqueeze, LevelPrice: 200.0}
	if a1.CooldownKey() != a2.CooldownKey() {
		t.Error("expected non-level-keyed alert types to share a cooldown key regardless of LevelPrice")
	}
}

func TestAlert_DedupKeyIncludesKlineTime(t *testing.T) {
	a1 := Alert{Symbol: "BTCUSDT", Interval: Interval1h, Type: AlertTouched, LevelPrice: 100, KlineTime: 1}
	a2 := Alert{Symbol: "BTCUSDT", Interval: Interval1h, Type: AlertTouched, LevelPrice: 100, KlineTime: 2}
	if a1.DedupKey() == a2.DedupKey() {
		t.Error("expected distinct kline_time to produce distinct dedup keys")
	}
}

func TestSRLevel_DistancePct(t *testing.T) {
	lvl := SRLevel{Price: 100}
	if got := lvl.DistancePct(100.3); got < 0.299 || got > 0.301 {
		t.Errorf("DistancePct(100.3) at level 100 = %v, want ~0.3", got)
	}
}
