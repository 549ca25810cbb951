// Package breakout implements BreakoutPredictor (§4.10): a composite 0-100
// breakout score from five weighted sub-scores, plus a predicted direction.
package breakout

import (
	"surveillanceengine/internal/indicatorengine"
	"surveillanceengine/internal/model"
)

// Weights applied to each sub-score when computing total_score. Kept stable
// across releases; tune here rather than scattering magic numbers.
var Weights = Score{
	Volatility:    0.25,
	Volume:        0.20,
	MAConvergence: 0.25,
	Position:      0.15,
	Pattern:       0.15,
}

// Score holds the five 0-100 sub-scores plus the weighted total.
type Score struct {
	Volatility    float64
	Volume        float64
	MAConvergence float64
	Position      float64
	Pattern       float64
	Total         float64
	Direction     model.Direction
}

// weightedMean folds five sub-scores into the composite total using Weights.
func weightedMean(s Score) float64 {
	return s.Volatility*Weights.Volatility +
		s.Volume*Weights.Volume +
		s.MAConvergence*Weights.MAConvergence +
		s.Position*Weights.Position +
		s.Pattern*Weights.Pattern
}

// Predict computes a breakout score from an indicator snapshot, the nearest
// S/R level (if any), and a pattern-quality signal in [0,1] supplied by the
// pattern pipeline (0 = no recent pattern, 1 = strong confirming pattern).
// Returns (Score{}, false) when there isn't enough history (snapshot not
// Ready) to compute a meaningful score.
func Predict(snap indicatorengine.Snapshot, nearest *model.SRLevel, patternQuality float64) (Score, bool) {
	if !snap.Ready || len(snap.Candles) < 20 {
		return Score{}, false
	}

	s := Score{
		Volatility:    volatilityScore(snap.Candles),
		Volume:        volumeScore(snap.Candles),
		MAConvergence: convergenceScore(snap.EMA, snap.LastClose),
		Position:      positionScore(snap.LastClose, nearest),
		Pattern:       clamp(patternQuality*100, 0, 100),
	}
	s.Total = weightedMean(s)
	s.Direction = direction(snap.EMA, nearest)
	return s, true
}

// volatilityScore rewards recent range contraction: the narrower the last 10
// candles' average range versus the prior 10, the higher the score.
func volatilityScore(candles []model.Candle) float64 {
	n := len(candles)
	if n < 20 {
		return 0
	}
	recent := avgRange(candles[n-10:])
	prior := avgRange(candles[n-20 : n-10])
	if prior <= 0 {
		return 0
	}
	contraction := 1 - recent/prior
	return clamp(contraction*100, 0, 100)
}

func avgRange(candles []model.Candle) float64 {
	sum := 0.0
	for _, c := range candles {
		sum += c.Range()
	}
	return sum / float64(len(candles))
}

// volumeScore rewards volume drying up: lower recent volume vs. baseline
// implies more potential energy for a breakout move.
func volumeScore(candles []model.Candle) float64 {
	n := len(candles)
	if n < 20 {
		return 0
	}
	recent := avgVolume(candles[n-10:])
	prior := avgVolume(candles[n-20 : n-10])
	if prior <= 0 {
		return 0
	}
	dryUp := 1 - recent/prior
	return clamp(dryUp*100, 0, 100)
}

func avgVolume(candles []model.Candle) float64 {
	sum := 0.0
	for _, c := range candles {
		sum += c.Volume
	}
	return sum / float64(len(candles))
}

// convergenceScore is 100 when EMA20/EMA60 are squeezed to <= 0.03% of
// price, scaling down linearly to 0 at a 2% gap.
func convergenceScore(ema map[int]float64, price float64) float64 {
	if price <= 0 {
		return 0
	}
	gapPct := abs(ema[20]-ema[60]) / price * 100
	const tight, loose = 0.03, 2.0
	if gapPct <= tight {
		return 100
	}
	if gapPct >= loose {
		return 0
	}
	return (loose - gapPct) / (loose - tight) * 100
}

// positionScore rewards proximity to the nearest S/R level.
func positionScore(price float64, nearest *model.SRLevel) float64 {
	if nearest == nil || nearest.Price <= 0 {
		return 0
	}
	distPct := nearest.DistancePct(price)
	const near, far = 0.1, 5.0
	if distPct <= near {
		return 100
	}
	if distPct >= far {
		return 0
	}
	return (far - distPct) / (far - near) * 100
}

func direction(ema map[int]float64, nearest *model.SRLevel) model.Direction {
	trend := model.TrendFor(ema[30], ema[60])
	switch {
	case trend == model.TrendUp && (nearest == nil || nearest.Type == model.LevelResistance):
		return model.DirectionUp
	case trend == model.TrendDown && (nearest == nil || nearest.Type == model.LevelSupport):
		return model.DirectionDown
	case nearest != nil && nearest.Type == model.LevelResistance:
		return model.DirectionUp
	case nearest != nil && nearest.Type == model.LevelSupport:
		return model.DirectionDown
	default:
		return model.DirectionUnclear
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
