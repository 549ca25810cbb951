package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ParseFrame normalizes one raw WebSocket message into zero or more Events.
// It accepts both supported framings (§6): a direct event object, or an
// aggregate envelope `{stream, data}` whose data may be an object or an
// array (fanned out per symbol). Control frames and unrecognized event
// types produce a single EventSkipped entry rather than an error — per §7,
// malformed/unknown messages are a data-validation concern, not a fatal one.
func ParseFrame(raw []byte) ([]Event, error) {
	var probe struct {
		Method string `json:"method"`
		Stream string `json:"stream"`
		E      string `json:"e"`
		// EventTime claims the numeric "E" key exactly, so encoding/json's
		// case-insensitive matching doesn't route it into the string E field.
		EventTime json.RawMessage `json:"E"`
		Result    json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("exchange: malformed frame: %w", err)
	}

	if probe.Method != "" {
		// Subscription ack/control frame; nothing to route.
		return []Event{{Type: EventSkipped}}, nil
	}
	if probe.Result != nil && probe.Stream == "" && probe.E == "" {
		// Response to a control frame ({"result":null,"id":1}).
		return []Event{{Type: EventSkipped}}, nil
	}

	if probe.Stream != "" {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("exchange: malformed envelope: %w", err)
		}
		return parseEnvelopeData(env.Data)
	}

	ev, err := parseDirectEvent(raw)
	if err != nil {
		return nil, err
	}
	return []Event{ev}, nil
}

// parseEnvelopeData handles both object and array payloads under "data".
func parseEnvelopeData(data json.RawMessage) ([]Event, error) {
	trimmed := firstNonSpace(data)
	if trimmed == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("exchange: malformed array envelope: %w", err)
		}
		events := make([]Event, 0, len(items))
		for _, item := range items {
			ev, err := parseDirectEvent(item)
			if err != nil {
				// One bad element in an array stream shouldn't drop the rest.
				events = append(events, Event{Type: EventSkipped})
				continue
			}
			events = append(events, ev)
		}
		return events, nil
	}
	ev, err := parseDirectEvent(data)
	if err != nil {
		return nil, err
	}
	return []Event{ev}, nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}

func parseDirectEvent(raw json.RawMessage) (Event, error) {
	var d directEvent
	if err := json.Unmarshal(raw, &d); err != nil {
		return Event{}, fmt.Errorf("exchange: malformed event: %w", err)
	}

	switch d.E {
	case "kline":
		if d.K == nil {
			return Event{Type: EventSkipped}, nil
		}
		return Event{
			Type:   EventKline,
			Symbol: d.S,
			Kline: &Kline{
				Symbol:    d.S,
				Interval:  d.K.I,
				OpenTime:  d.K.T,
				CloseTime: d.K.CT,
				Open:      parseFloat(d.K.O),
				High:      parseFloat(d.K.H),
				Low:       parseFloat(d.K.L),
				Close:     parseFloat(d.K.C),
				Volume:    parseFloat(d.K.V),
				IsFinal:   d.K.X,
			},
		}, nil

	case "24hrTicker":
		return Event{
			Type:   EventTicker,
			Symbol: d.S,
			Ticker: &Ticker{
				Symbol:             d.S,
				LastPrice:          parseFloat(d.C),
				PriceChangePercent: parseFloat(d.P),
				HighPrice:          parseFloat(d.H),
				LowPrice:           parseFloat(d.L),
				Volume:             parseFloat(d.V),
				EventTimeMs:        d.T,
			},
		}, nil

	case "depthUpdate":
		return Event{
			Type:   EventDepth,
			Symbol: d.S,
			Depth: &Depth{
				Symbol:      d.S,
				EventTimeMs: d.T,
				Bids:        levelsToFloat(d.B),
				Asks:        levelsToFloat(d.A),
			},
		}, nil

	case "trade":
		return Event{
			Type:   EventTrade,
			Symbol: d.S,
			Trade: &Trade{
				Symbol:      d.S,
				Price:       parseFloat(d.Price),
				Qty:         parseFloat(d.Qty),
				EventTimeMs: d.T,
				IsBuyerMM:   d.IsBuyerMM,
			},
		}, nil

	case "markPriceUpdate":
		return Event{
			Type:   EventMarkPrice,
			Symbol: d.S,
			MarkPrice: &MarkPrice{
				Symbol:        d.S,
				MarkPrice:     parseFloat(d.MarkPriceStr),
				FundingRate:   parseFloat(d.FundingRate),
				NextFundingMs: d.NextFundingMs,
				EventTimeMs:   d.T,
			},
		}, nil

	default:
		return Event{Type: EventSkipped}, nil
	}
}

func levelsToFloat(levels []rawLevel) [][2]float64 {
	out := make([][2]float64, 0, len(levels))
	for _, l := range levels {
		out = append(out, [2]float64{parseFloat(l[0]), parseFloat(l[1])})
	}
	return out
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
