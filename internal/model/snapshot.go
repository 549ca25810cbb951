package model

// OISnapshot is a single open-interest/mark-price/funding reading for a symbol.
// Unique by (Symbol, TimestampMs). Immutable once persisted.
type OISnapshot struct {
	Symbol        string  `json:"symbol"`
	TimestampMs   int64   `json:"timestamp_ms"`
	OpenInterest  float64 `json:"open_interest"`
	MarkPrice     float64 `json:"mark_price,omitempty"`
	FundingRate   float64 `json:"funding_rate,omitempty"`
	NextFundingMs int64   `json:"next_funding_ms,omitempty"`
	Source        string  `json:"source"`
}

// HasMarkPrice reports whether MarkPrice was populated by the source feed.
func (s OISnapshot) HasMarkPrice() bool { return s.MarkPrice != 0 }

// HasFundingRate reports whether FundingRate was populated by the source feed.
func (s OISnapshot) HasFundingRate() bool { return s.FundingRate != 0 }
