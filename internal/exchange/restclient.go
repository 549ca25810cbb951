package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"surveillanceengine/internal/model"
)

// exchangeInfoResponse mirrors the shape of the exchange's exchangeInfo REST
// endpoint (§6): a flat symbol list carrying status, contract type and
// precision fields. This is the only REST call in scope; order placement and
// account endpoints are external collaborators per §1.
type exchangeInfoResponse struct {
	Symbols []exchangeInfoSymbol `json:"symbols"`
}

type exchangeInfoSymbol struct {
	Symbol            string  `json:"symbol"`
	BaseAsset         string  `json:"baseAsset"`
	QuoteAsset        string  `json:"quoteAsset"`
	ContractType      string  `json:"contractType"`
	Status            string  `json:"status"`
	PricePrecision    int     `json:"pricePrecision"`
	QuantityPrecision int     `json:"quantityPrecision"`
	Filters           []struct {
		FilterType  string `json:"filterType"`
		StepSize    string `json:"stepSize"`
		MinNotional string `json:"notional"`
	} `json:"filters"`
}

// RESTClient fetches the tradable symbol set. It is deliberately thin: the
// spec treats exchange REST discovery as an external collaborator (§1) and
// contracts only its response shape.
type RESTClient struct {
	baseURL string
	http    *http.Client
}

// NewRESTClient builds a client against baseURL (e.g. https://fapi.binance.com).
func NewRESTClient(baseURL string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ExchangeInfo fetches and decodes the current perpetual symbol universe.
func (c *RESTClient) ExchangeInfo(ctx context.Context) ([]model.Symbol, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: build exchangeInfo request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange: exchangeInfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange: exchangeInfo returned status %d", resp.StatusCode)
	}

	var body exchangeInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("exchange: decode exchangeInfo: %w", err)
	}

	out := make([]model.Symbol, 0, len(body.Symbols))
	for i, s := range body.Symbols {
		if s.ContractType != "" && s.ContractType != "PERPETUAL" {
			continue
		}
		sym := model.Symbol{
			Symbol:         s.Symbol,
			BaseAsset:      s.BaseAsset,
			QuoteAsset:     s.QuoteAsset,
			ContractType:   "PERPETUAL",
			Status:         model.SymbolStatus(s.Status),
			Enabled:        s.Status == string(model.StatusTrading),
			Priority:       i,
			PricePrecision: s.PricePrecision,
			QtyPrecision:   s.QuantityPrecision,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				sym.StepSize = parseFloatSafe(f.StepSize)
			case "MIN_NOTIONAL":
				sym.MinNotional = parseFloatSafe(f.MinNotional)
			}
		}
		out = append(out, sym)
	}
	return out, nil
}

// openInterestResponse mirrors the exchange's openInterest REST endpoint.
type openInterestResponse struct {
	Symbol       string `json:"symbol"`
	OpenInterest string `json:"openInterest"`
	Time         int64  `json:"time"`
}

// premiumIndexResponse mirrors the exchange's premiumIndex REST endpoint,
// which carries mark price and the current/predicted funding rate.
type premiumIndexResponse struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

// OpenInterest fetches the current open-interest reading for symbol. This
// and PremiumIndex are polled by internal/oipoller on a fixed cadence to
// build the snapshots OIAnomalyDetector scans (§4.7).
func (c *RESTClient) OpenInterest(ctx context.Context, symbol string) (float64, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fapi/v1/openInterest?symbol="+symbol, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("exchange: build openInterest request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("exchange: openInterest request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("exchange: openInterest(%s) returned status %d", symbol, resp.StatusCode)
	}
	var body openInterestResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, 0, fmt.Errorf("exchange: decode openInterest(%s): %w", symbol, err)
	}
	return parseFloatSafe(body.OpenInterest), body.Time, nil
}

// PremiumIndex fetches mark price, last funding rate, and next funding time
// for symbol.
func (c *RESTClient) PremiumIndex(ctx context.Context, symbol string) (markPrice, fundingRate float64, nextFundingMs int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fapi/v1/premiumIndex?symbol="+symbol, nil)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("exchange: build premiumIndex request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("exchange: premiumIndex request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, 0, fmt.Errorf("exchange: premiumIndex(%s) returned status %d", symbol, resp.StatusCode)
	}
	var body premiumIndexResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, 0, 0, fmt.Errorf("exchange: decode premiumIndex(%s): %w", symbol, err)
	}
	return parseFloatSafe(body.MarkPrice), parseFloatSafe(body.LastFundingRate), body.NextFundingTime, nil
}

func parseFloatSafe(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
