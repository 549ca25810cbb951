// Package pattern implements PatternDetectors (§4.9): stateless
// candlestick-pattern detectors operating on a finalized candle plus its
// IndicatorEngine snapshot, gated by the EMA30>EMA60 short-term trend
// (except pure volume surge, which ignores the gate).
package pattern

import (
	"sync"

	"surveillanceengine/internal/breakout"
	"surveillanceengine/internal/indicatorengine"
	"surveillanceengine/internal/model"
)

// Detectors holds the small amount of cross-candle state the pipeline
// needs: volume-surge progressive-tier dedup for provisional candles. All
// other detectors are pure functions of the snapshot.
type Detectors struct {
	mu          sync.Mutex
	surgeTier   map[string]int // key = symbol|interval|kline_time, highest tier already alerted
	minBreakout float64
}

// New builds a Detectors pipeline. minBreakoutScore gates S/R proximity
// alerts per §4.9.
func New(minBreakoutScore float64) *Detectors {
	return &Detectors{surgeTier: make(map[string]int), minBreakout: minBreakoutScore}
}

func trendGateOpen(snap indicatorengine.Snapshot) bool {
	return snap.Ready && snap.EMA[30] > snap.EMA[60]
}

// Detect runs every detector against the latest finalized candle and
// returns every hit produced. srLevels should be the most recent
// ClusterLevels output for (symbol, interval); gain24h is the 24h percent
// gain from the ticker stream, used to bypass the breakout-score gate on
// S/R proximity alerts.
func (d *Detectors) Detect(snap indicatorengine.Snapshot, srLevels []model.SRLevel, score breakout.Score, scoreReady bool, gain24hPct float64) []model.Alert {
	var hits []model.Alert
	if len(snap.Candles) == 0 {
		return hits
	}
	last := snap.Candles[len(snap.Candles)-1]

	if hit, ok := d.volumeSurge(snap, last); ok {
		hits = append(hits, hit)
	}

	if !trendGateOpen(snap) {
		return hits
	}

	if hit, ok := hammerCrossingEMA120(snap, last); ok {
		hits = append(hits, hit)
	}
	if hit, ok := perfectHammer(snap, last); ok {
		hits = append(hits, hit)
	}
	if snap.Interval == model.Interval1h {
		if hit, ok := doji(snap, last); ok {
			hits = append(hits, hit)
		}
	}
	if hit, ok := squeeze(snap, last); ok {
		hits = append(hits, hit)
	}
	if hit, ok := bullishStreak(snap, last); ok {
		hits = append(hits, hit)
	}
	if hit, ok := pullbackReady(snap, last); ok {
		hits = append(hits, hit)
	}

	scorePasses := scoreReady && score.Total >= d.minBreakout
	if scorePasses || gain24hPct >= 10 {
		hits = append(hits, srProximity(snap, last, srLevels)...)
	}

	return hits
}

// volumeSurge implements the tiered volume-surge detector. Provisional
// candles only fire at the higher tiers (10x for up moves, 20x for down
// moves) and use progressive dedup so the same tier never re-fires for the
// same (symbol, interval, kline_time).
func (d *Detectors) volumeSurge(snap indicatorengine.Snapshot, c model.Candle) (model.Alert, bool) {
	if snap.VolumeBaseline <= 0 || c.Volume < 5*snap.VolumeBaseline {
		return model.Alert{}, false
	}
	if c.Final && (!c.Bullish() || c.UpperShadowFraction() >= 0.5) {
		return model.Alert{}, false
	}

	multiplier := c.Volume / snap.VolumeBaseline
	tier := tierFor(multiplier)

	if !c.Final {
		minTier := 10
		if !c.Bullish() {
			minTier = 20
		}
		if tier < minTier {
			return model.Alert{}, false
		}
		key := surgeKey(c)
		d.mu.Lock()
		prev := d.surgeTier[key]
		if tier <= prev {
			d.mu.Unlock()
			return model.Alert{}, false
		}
		d.surgeTier[key] = tier
		d.mu.Unlock()
	}

	return model.Alert{
		Symbol:       c.Symbol,
		Interval:     c.Interval,
		Type:         model.AlertVolumeSurge,
		CurrentPrice: c.Close,
		KlineTime:    c.OpenTime,
		Description:  "volume surge",
	}, true
}

func tierFor(multiplier float64) int {
	switch {
	case multiplier >= 20:
		return 20
	case multiplier >= 15:
		return 15
	case multiplier >= 10:
		return 10
	case multiplier >= 5:
		return 5
	default:
		return 0
	}
}

func surgeKey(c model.Candle) string {
	return c.Symbol + "|" + string(c.Interval) + "|" + itoa64(c.OpenTime)
}

// hammerCrossingEMA120: lower-shadow fraction > 0.5, upper-shadow fraction
// < 0.2, low < EMA120 < close, and every one of the prior 30 candles' lows
// sat above EMA120.
func hammerCrossingEMA120(snap indicatorengine.Snapshot, c model.Candle) (model.Alert, bool) {
	ema120, ok := snap.EMA[120]
	if !ok || len(snap.Candles) < 31 {
		return model.Alert{}, false
	}
	if c.LowerShadowFraction() <= 0.5 || c.UpperShadowFraction() >= 0.2 {
		return model.Alert{}, false
	}
	if !(c.Low < ema120 && ema120 < c.Close) {
		return model.Alert{}, false
	}
	prior := snap.Candles[len(snap.Candles)-31 : len(snap.Candles)-1]
	for _, p := range prior {
		if p.Low <= ema120 {
			return model.Alert{}, false
		}
	}
	return model.Alert{
		Symbol:       c.Symbol,
		Interval:     c.Interval,
		Type:         model.AlertHammer,
		CurrentPrice: c.Close,
		KlineTime:    c.OpenTime,
		Description:  "hammer crossing EMA120",
	}, true
}

// perfectHammer: bullish, lower-shadow >= 0.70, upper-shadow <= 0.05, and
// this candle's low is the minimum of the last 30 candles. Independent of
// EMA state.
func perfectHammer(snap indicatorengine.Snapshot, c model.Candle) (model.Alert, bool) {
	if !c.Bullish() || c.LowerShadowFraction() < 0.70 || c.UpperShadowFraction() > 0.05 {
		return model.Alert{}, false
	}
	if len(snap.Candles) < 30 {
		return model.Alert{}, false
	}
	window := snap.Candles[len(snap.Candles)-30:]
	for _, w := range window {
		if w.Low < c.Low {
			return model.Alert{}, false
		}
	}
	return model.Alert{
		Symbol:       c.Symbol,
		Interval:     c.Interval,
		Type:         model.AlertPerfectHammer,
		CurrentPrice: c.Close,
		KlineTime:    c.OpenTime,
		Description:  "perfect hammer",
	}, true
}

// doji (1h only): body_fraction <= 0.05, range >= 1% of close, and over the
// last 100 candles the low-to-high gain is >= 15% with the low unbreached
// since.
func doji(snap indicatorengine.Snapshot, c model.Candle) (model.Alert, bool) {
	if c.BodyFraction() > 0.05 || c.Close <= 0 || c.Range()/c.Close < 0.01 {
		return model.Alert{}, false
	}
	if len(snap.Candles) < 100 {
		return model.Alert{}, false
	}
	window := snap.Candles[len(snap.Candles)-100:]
	low, high := window[0].Low, window[0].High
	lowIdx := 0
	for i, w := range window {
		if w.Low < low {
			low, lowIdx = w.Low, i
		}
		if w.High > high {
			high = w.High
		}
	}
	if low <= 0 || (high-low)/low < 0.15 {
		return model.Alert{}, false
	}
	for _, w := range window[lowIdx+1:] {
		if w.Low < low {
			return model.Alert{}, false
		}
	}
	return model.Alert{
		Symbol:       c.Symbol,
		Interval:     c.Interval,
		Type:         model.AlertDoji,
		CurrentPrice: c.Close,
		KlineTime:    c.OpenTime,
		Description:  "doji after extended gain",
	}, true
}

// squeeze: |EMA20 - EMA60| / price <= 0.03%.
func squeeze(snap indicatorengine.Snapshot, c model.Candle) (model.Alert, bool) {
	ema20, ok20 := snap.EMA[20]
	ema60, ok60 := snap.EMA[60]
	if !ok20 || !ok60 || c.Close <= 0 {
		return model.Alert{}, false
	}
	gapPct := abs(ema20-ema60) / c.Close * 100
	if gapPct > 0.03 {
		return model.Alert{}, false
	}
	return model.Alert{
		Symbol:       c.Symbol,
		Interval:     c.Interval,
		Type:         model.AlertSqueeze,
		CurrentPrice: c.Close,
		KlineTime:    c.OpenTime,
		Description:  "EMA20/EMA60 squeeze",
		// squeeze_pct is not part of model.Alert's public schema; callers
		// wanting the squeeze-tightening bypass compute it again from EMA.
	}, true
}

// bullishStreak: last N=5 candles all bullish, at least one with >= 1% gain.
func bullishStreak(snap indicatorengine.Snapshot, c model.Candle) (model.Alert, bool) {
	const n = 5
	if len(snap.Candles) < n {
		return model.Alert{}, false
	}
	window := snap.Candles[len(snap.Candles)-n:]
	hasBigGain := false
	for _, w := range window {
		if !w.Bullish() {
			return model.Alert{}, false
		}
		if w.Open > 0 && (w.Close-w.Open)/w.Open >= 0.01 {
			hasBigGain = true
		}
	}
	if !hasBigGain {
		return model.Alert{}, false
	}
	return model.Alert{
		Symbol:       c.Symbol,
		Interval:     c.Interval,
		Type:         model.AlertBullishStreak,
		CurrentPrice: c.Close,
		KlineTime:    c.OpenTime,
		Description:  "bullish streak",
	}, true
}

// pullbackReady identifies a recent swing-low to swing-high surge of at
// least 5%, checks the current close sits inside a <= 61.8% retracement of
// that move, and requires a stabilization signal within the last 3 candles.
func pullbackReady(snap indicatorengine.Snapshot, c model.Candle) (model.Alert, bool) {
	swings := indicatorengine.SwingPoints(snap.Candles, 5)
	low, high, ok := latestSurgePair(swings, 0.05)
	if !ok {
		return model.Alert{}, false
	}
	if c.Close < low.Price || c.Close > high.Price {
		return model.Alert{}, false
	}
	retracement := (high.Price - c.Close) / (high.Price - low.Price)
	if retracement <= 0 || retracement > 0.618 {
		return model.Alert{}, false
	}
	if !hasStabilizationSignal(snap.Candles, high.Price) {
		return model.Alert{}, false
	}
	return model.Alert{
		Symbol:       c.Symbol,
		Interval:     c.Interval,
		Type:         model.AlertPullbackReady,
		CurrentPrice: c.Close,
		KlineTime:    c.OpenTime,
		Description:  "pullback into fibonacci retracement zone",
	}, true
}

// latestSurgePair returns the most recent swing-low -> swing-high pair (in
// index order) whose gain is at least minGainFrac.
func latestSurgePair(swings []indicatorengine.SwingPoint, minGainFrac float64) (indicatorengine.SwingPoint, indicatorengine.SwingPoint, bool) {
	var lastLow *indicatorengine.SwingPoint
	var bestLow, bestHigh indicatorengine.SwingPoint
	found := false
	for i := range swings {
		sp := swings[i]
		if !sp.High {
			lastLow = &swings[i]
			continue
		}
		if lastLow == nil || lastLow.Price <= 0 {
			continue
		}
		gain := (sp.Price - lastLow.Price) / lastLow.Price
		if gain >= minGainFrac {
			bestLow, bestHigh = *lastLow, sp
			found = true
		}
	}
	return bestLow, bestHigh, found
}

func hasStabilizationSignal(candles []model.Candle, priorHigh float64) bool {
	if len(candles) < 3 {
		return false
	}
	for _, c := range candles[len(candles)-3:] {
		if c.LowerShadowFraction() > 0.5 {
			return true
		}
		if c.Bullish() && priorHigh > 0 && abs(c.Close-priorHigh)/priorHigh <= 0.005 {
			return true
		}
	}
	return false
}

// srProximity emits TOUCHED/APPROACHING alerts for every level within
// range, gated by the caller on breakout score or 24h gain.
func srProximity(snap indicatorengine.Snapshot, c model.Candle, levels []model.SRLevel) []model.Alert {
	var hits []model.Alert
	for _, lvl := range levels {
		distPct := lvl.DistancePct(c.Close)
		var alertType model.AlertType
		switch {
		case distPct <= 0.1:
			alertType = model.AlertTouched
		case distPct <= 0.5:
			alertType = model.AlertApproaching
		default:
			continue
		}
		hits = append(hits, model.Alert{
			Symbol:        c.Symbol,
			Interval:      c.Interval,
			Type:          alertType,
			LevelType:     lvl.Type,
			LevelPrice:    lvl.Price,
			CurrentPrice:  c.Close,
			DistancePct:   distPct,
			LevelStrength: lvl.Strength,
			KlineTime:     c.OpenTime,
			Description:   "price near " + string(lvl.Type) + " level",
		})
	}
	return hits
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func itoa64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
