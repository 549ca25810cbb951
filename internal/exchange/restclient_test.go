package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const sampleExchangeInfo = `{
	"symbols": [
		{"symbol":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT","contractType":"PERPETUAL","status":"TRADING","pricePrecision":2,"quantityPrecision":3,
		 "filters":[{"filterType":"LOT_SIZE","stepSize":"0.001"},{"filterType":"MIN_NOTIONAL","notional":"5"}]},
		{"symbol":"ETHBUSD","baseAsset":"ETH","quoteAsset":"BUSD","contractType":"CURRENT_QUARTER","status":"TRADING","pricePrecision":2,"quantityPrecision":3},
		{"symbol":"DOGEUSDT","baseAsset":"DOGE","quoteAsset":"USDT","contractType":"PERPETUAL","status":"BREAK","pricePrecision":5,"quantityPrecision":0}
	]
}`

// TestExchangeInfo_FiltersNonPerpetualContracts checks only PERPETUAL
// contracts are returned (§3 data model: perpetual only in scope).
func TestExchangeInfo_FiltersNonPerpetualContracts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleExchangeInfo))
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL)
	symbols, err := c.ExchangeInfo(context.Background())
	if err != nil {
		t.Fatalf("ExchangeInfo: %v", err)
	}

	for _, s := range symbols {
		if s.Symbol == "ETHBUSD" {
			t.Error("expected CURRENT_QUARTER contract to be filtered out")
		}
	}
}

// TestExchangeInfo_MapsStatusAndPrecision checks status/enabled/precision
// fields are mapped correctly, including a BREAK-status (disabled) symbol.
func TestExchangeInfo_MapsStatusAndPrecision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleExchangeInfo))
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL)
	symbols, err := c.ExchangeInfo(context.Background())
	if err != nil {
		t.Fatalf("ExchangeInfo: %v", err)
	}

	byName := make(map[string]int)
	for i, s := range symbols {
		byName[s.Symbol] = i
	}

	btc := symbols[byName["BTCUSDT"]]
	if !btc.Enabled {
		t.Error("expected BTCUSDT (status TRADING) to be enabled")
	}
	if btc.PricePrecision != 2 || btc.QtyPrecision != 3 {
		t.Errorf("BTCUSDT precision = (%d,%d), want (2,3)", btc.PricePrecision, btc.QtyPrecision)
	}
	if btc.StepSize != 0.001 {
		t.Errorf("BTCUSDT step size = %v, want 0.001", btc.StepSize)
	}
	if btc.MinNotional != 5 {
		t.Errorf("BTCUSDT min notional = %v, want 5", btc.MinNotional)
	}

	doge := symbols[byName["DOGEUSDT"]]
	if doge.Enabled {
		t.Error("expected DOGEUSDT (status BREAK) to be disabled")
	}
}

// TestExchangeInfo_NonOKStatusIsError checks a non-200 response surfaces an error.
func TestExchangeInfo_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL)
	if _, err := c.ExchangeInfo(context.Background()); err == nil {
		t.Error("expected a non-200 response to return an error")
	}
}
