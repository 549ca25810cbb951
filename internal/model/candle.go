package model

import "encoding/json"

// Interval is a candle period expressed as exchange-style shorthand (e.g. "5m", "1h").
type Interval string

const (
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
)

// Milliseconds returns the interval's duration in Unix milliseconds, or 0 if unknown.
func (i Interval) Milliseconds() int64 {
	switch i {
	case Interval5m:
		return 5 * 60 * 1000
	case Interval15m:
		return 15 * 60 * 1000
	case Interval1h:
		return 60 * 60 * 1000
	case Interval4h:
		return 4 * 60 * 60 * 1000
	default:
		return 0
	}
}

// Candle is an OHLCV bar for one symbol over one interval. It is Final once
// its period has closed; only Final candles are persisted or aggregated.
type Candle struct {
	Symbol    string   `json:"symbol"`
	Interval  Interval `json:"interval"`
	OpenTime  int64    `json:"open_time_ms"`
	CloseTime int64    `json:"close_time_ms"`
	Open      float64  `json:"open"`
	High      float64  `json:"high"`
	Low       float64  `json:"low"`
	Close     float64  `json:"close"`
	Volume    float64  `json:"volume"`
	Final     bool     `json:"final"`
}

// Key returns a unique key for this candle's (symbol, interval, open_time).
func (c Candle) Key() string {
	return c.Symbol + ":" + string(c.Interval) + ":" + itoa64(c.OpenTime)
}

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Body returns the absolute size of the candle's real body.
func (c Candle) Body() float64 {
	d := c.Close - c.Open
	if d < 0 {
		return -d
	}
	return d
}

// Range returns the high-low range of the candle.
func (c Candle) Range() float64 { return c.High - c.Low }

// UpperShadowFraction returns the upper wick as a fraction of the candle range.
// Returns 0 if the range is 0.
func (c Candle) UpperShadowFraction() float64 {
	r := c.Range()
	if r <= 0 {
		return 0
	}
	top := c.Open
	if c.Close > top {
		top = c.Close
	}
	return (c.High - top) / r
}

// LowerShadowFraction returns the lower wick as a fraction of the candle range.
// Returns 0 if the range is 0.
func (c Candle) LowerShadowFraction() float64 {
	r := c.Range()
	if r <= 0 {
		return 0
	}
	bottom := c.Open
	if c.Close < bottom {
		bottom = c.Close
	}
	return (bottom - c.Low) / r
}

// BodyFraction returns the real body as a fraction of the candle range.
// Returns 1 if the range is 0 (a single-price candle has no wicks to speak of).
func (c Candle) BodyFraction() float64 {
	r := c.Range()
	if r <= 0 {
		return 1
	}
	return c.Body() / r
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
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
