package pattern

import (
	"sort"

	"surveillanceengine/internal/indicatorengine"
	"surveillanceengine/internal/model"
)

const (
	levelWindow         = 200
	clusterThresholdPct = 0.4 // midpoint of the spec's 0.3-0.5% band
	minTouchCount        = 2
	maxLevels            = 15
	pivotL               = 5
)

// ClusterLevels derives support/resistance levels from pivot clustering over
// the most recent levelWindow candles (§4.9). Swing highs cluster into
// resistance levels, swing lows into support levels; a cluster survives only
// if it was touched at least minTouchCount times, and the top maxLevels by
// strength are kept.
func ClusterLevels(symbol string, interval model.Interval, candles []model.Candle) []model.SRLevel {
	if len(candles) > levelWindow {
		candles = candles[len(candles)-levelWindow:]
	}
	swings := indicatorengine.SwingPoints(candles, pivotL)

	var highs, lows []indicatorengine.SwingPoint
	for _, sp := range swings {
		if sp.High {
			highs = append(highs, sp)
		} else {
			lows = append(lows, sp)
		}
	}

	levels := clusterSide(symbol, interval, highs, model.LevelResistance, len(candles))
	levels = append(levels, clusterSide(symbol, interval, lows, model.LevelSupport, len(candles))...)

	sort.Slice(levels, func(i, j int) bool { return levels[i].Strength > levels[j].Strength })
	if len(levels) > maxLevels {
		levels = levels[:maxLevels]
	}
	return levels
}

func clusterSide(symbol string, interval model.Interval, points []indicatorengine.SwingPoint, levelType model.LevelType, windowLen int) []model.SRLevel {
	sort.Slice(points, func(i, j int) bool { return points[i].Price < points[j].Price })

	var levels []model.SRLevel
	i := 0
	for i < len(points) {
		j := i + 1
		sum := points[i].Price
		lastIdx := points[i].Index
		for j < len(points) {
			pct := (points[j].Price - points[i].Price) / points[i].Price * 100
			if pct > clusterThresholdPct {
				break
			}
			sum += points[j].Price
			if points[j].Index > lastIdx {
				lastIdx = points[j].Index
			}
			j++
		}
		touchCount := j - i
		if touchCount >= minTouchCount {
			avgPrice := sum / float64(touchCount)
			recency := float64(lastIdx) / float64(maxInt(windowLen, 1))
			strength := float64(touchCount)*10 + recency*20
			levels = append(levels, model.SRLevel{
				Symbol:     symbol,
				Interval:   interval,
				Type:       levelType,
				Price:      avgPrice,
				Strength:   strength,
				TouchCount: touchCount,
			})
		}
		i = j
	}
	return levels
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
