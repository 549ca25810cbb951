package model

// TrendLabel classifies a short/long moving-average relationship.
type TrendLabel string

const (
	TrendUp   TrendLabel = "up"
	TrendDown TrendLabel = "down"
	TrendFlat TrendLabel = "flat"
)

// Severity classifies the magnitude of an OI anomaly.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// OIAnomalyRecord is a single detected open-interest anomaly. Created once by
// OIAnomalyDetector and never mutated afterward.
type OIAnomalyRecord struct {
	Symbol         string   `json:"symbol"`
	PeriodSeconds  int64    `json:"period_seconds"`
	PercentChange  float64  `json:"percent_change"`
	OIBefore       float64  `json:"oi_before"`
	OIAfter        float64  `json:"oi_after"`
	ThresholdValue float64  `json:"threshold_value"`
	AnomalyTimeMs  int64    `json:"anomaly_time_ms"`
	Severity       Severity `json:"severity"`

	// Enrichment, attached at detection time from the most recent snapshot/price data.
	PriceBefore     float64    `json:"price_before,omitempty"`
	PriceAfter      float64    `json:"price_after,omitempty"`
	FundingBefore   float64    `json:"funding_before,omitempty"`
	FundingAfter    float64    `json:"funding_after,omitempty"`
	LongShortRatio  float64    `json:"long_short_ratio,omitempty"`
	High24h         float64    `json:"high_24h,omitempty"`
	Low24h          float64    `json:"low_24h,omitempty"`
	Low2h           float64    `json:"low_2h,omitempty"`
	DistanceFromLow2h float64  `json:"distance_from_low_2h,omitempty"`
	High30m         float64    `json:"high_30m,omitempty"`
	Low30m          float64    `json:"low_30m,omitempty"`
	BrokeHigh30m    bool       `json:"broke_high_30m,omitempty"`
	BrokeLow30m     bool       `json:"broke_low_30m,omitempty"`
	MA10            float64    `json:"ma10,omitempty"`
	MA30            float64    `json:"ma30,omitempty"`
	MA60            float64    `json:"ma60,omitempty"`
	MA120           float64    `json:"ma120,omitempty"`
	MA240           float64    `json:"ma240,omitempty"`
	ShortTrend      TrendLabel `json:"short_trend,omitempty"`
	LongTrend       TrendLabel `json:"long_trend,omitempty"`
}

// SeverityFor classifies |percentChange| against the configured high/medium
// thresholds. Boundaries are inclusive on the lower edge.
func SeverityFor(percentChange, highThreshold, mediumThreshold float64) Severity {
	abs := percentChange
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= highThreshold:
		return SeverityHigh
	case abs >= mediumThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// TrendFor classifies a short/long moving-average pair into an ordering label.
func TrendFor(short, long float64) TrendLabel {
	switch {
	case short > long:
		return TrendUp
	case short < long:
		return TrendDown
	default:
		return TrendFlat
	}
}
