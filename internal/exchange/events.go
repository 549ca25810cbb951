// Package exchange defines the wire contracts for the perpetual-futures feed:
// the two WebSocket framings the dispatcher accepts, the typed events they
// normalize into, and the REST exchangeInfo response SymbolRegistry
// reconciles against. Nothing in this package owns a connection; see
// internal/streamdispatcher for that.
package exchange

import "encoding/json"

// EventType is the normalized event kind after framing is stripped away.
type EventType string

const (
	EventTicker     EventType = "ticker"
	EventKline      EventType = "kline"
	EventDepth      EventType = "depth"
	EventTrade      EventType = "trade"
	EventMarkPrice  EventType = "markPrice"
	EventSkipped    EventType = "skipped"
)

// Event is the sum type every inbound frame normalizes into. Only the fields
// relevant to Type are populated; callers switch on Type before reading them.
type Event struct {
	Type   EventType
	Symbol string

	Ticker    *Ticker
	Kline     *Kline
	Depth     *Depth
	Trade     *Trade
	MarkPrice *MarkPrice
}

// Ticker is a 24hr rolling ticker update.
type Ticker struct {
	Symbol             string
	LastPrice          float64
	PriceChangePercent float64
	HighPrice          float64
	LowPrice           float64
	Volume             float64
	EventTimeMs        int64
}

// Kline carries one candle update; IsFinal distinguishes a closed bar
// (persist/aggregate) from a provisional, still-forming one.
type Kline struct {
	Symbol    string
	Interval  string
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	IsFinal   bool
}

// Depth is a partial order-book update. Out of scope for the core detectors
// but accepted and routed so downstream consumers (out of scope here) can
// subscribe to it without the dispatcher needing to know about them.
type Depth struct {
	Symbol      string
	EventTimeMs int64
	Bids        [][2]float64
	Asks        [][2]float64
}

// Trade is a single executed trade print.
type Trade struct {
	Symbol      string
	Price       float64
	Qty         float64
	EventTimeMs int64
	IsBuyerMM   bool
}

// MarkPrice carries the mark price, funding rate and next funding time for a
// perpetual contract — the primary feed for OISnapshot enrichment.
type MarkPrice struct {
	Symbol        string
	MarkPrice     float64
	FundingRate   float64
	NextFundingMs int64
	EventTimeMs   int64
}

// directEvent is framing #1: a single event object carrying its own "e"/"s" tags.
type directEvent struct {
	E string          `json:"e"`
	S string          `json:"s"`
	T int64           `json:"E"` // event time, ms
	K *rawKline       `json:"k,omitempty"`
	B []rawLevel      `json:"b,omitempty"`
	A []rawLevel      `json:"a,omitempty"`
	C string          `json:"c,omitempty"` // last price (ticker)
	P string          `json:"P,omitempty"` // price change percent (ticker)
	H string          `json:"h,omitempty"`
	L string          `json:"l,omitempty"`
	V string          `json:"v,omitempty"`
	Price         string `json:"p,omitempty"` // trade price
	Qty           string `json:"q,omitempty"` // trade qty
	IsBuyerMM     bool   `json:"m,omitempty"`
	MarkPriceStr  string `json:"p_mark,omitempty"`
	FundingRate   string `json:"r,omitempty"`
	NextFundingMs int64  `json:"T,omitempty"`
}

type rawKline struct {
	T  int64  `json:"t"`
	CT int64  `json:"T"`
	I  string `json:"i"`
	O  string `json:"o"`
	H  string `json:"h"`
	L  string `json:"l"`
	C  string `json:"c"`
	V  string `json:"v"`
	X  bool   `json:"x"` // is-final flag
}

type rawLevel [2]string

// envelope is framing #2: the aggregate-stream wrapper `{stream, data}`. Data
// may be a single object (per-symbol streams) or an array (e.g. !markPrice@arr).
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// controlFrame is a subscribe/unsubscribe control message; it produces no Event.
type controlFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}
