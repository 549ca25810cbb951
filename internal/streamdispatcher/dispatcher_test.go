package streamdispatcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"surveillanceengine/internal/exchange"
)

var upgrader = websocket.Upgrader{}

// newEchoServer starts a WebSocket server that, on each client connection,
// sends every message in frames (one per connection) and then blocks until
// the client closes.
func newEchoServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Keep reading (and discarding) until the client disconnects, so the
		// subscribe frame doesn't pile up unread and the connection stays open
		// long enough for the dispatcher to route the frames above.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// TestRun_RoutesKlineToPerSymbolChannel is an integration smoke test: a real
// WebSocket session delivers a direct kline event, which must land on the
// per-symbol kline channel (§4.6 parsing/routing).
func TestRun_RoutesKlineToPerSymbolChannel(t *testing.T) {
	klineFrame := `{"e":"kline","s":"BTCUSDT","E":1,"k":{"t":0,"T":299999,"i":"5m","o":"1","h":"2","l":"0","c":"1.5","v":"10","x":true}}`
	srv := newEchoServer(t, []string{klineFrame})

	d := New(Config{
		WSURL:                wsURL(srv),
		ReconnectMaxAttempts: 3,
		ReconnectInterval:    10 * time.Millisecond,
		PingInterval:         time.Second,
	})
	d.Subscribe("btcusdt@kline_5m")
	klineCh := d.KlineChannel("BTCUSDT")

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(runDone)
	}()

	select {
	case k := <-klineCh:
		if k.Symbol != "BTCUSDT" || !k.IsFinal || k.Close != 1.5 {
			t.Errorf("unexpected kline: %+v", k)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for routed kline")
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Run to exit after cancellation")
	}
}

// TestRun_ExceedsReconnectBudgetSurfacesFatalError checks that when every
// connection attempt fails, Run returns an error and publishes to ErrFatal
// once the reconnect budget is exhausted (§4.6 failure semantics).
func TestRun_ExceedsReconnectBudgetSurfacesFatalError(t *testing.T) {
	d := New(Config{
		WSURL:                "ws://127.0.0.1:1/nonexistent", // reserved port, refuses immediately
		ReconnectMaxAttempts: 2,
		ReconnectInterval:    5 * time.Millisecond,
		PingInterval:         time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := d.Run(ctx)
	if err == nil {
		t.Fatal("expected Run to return an error after exhausting the reconnect budget")
	}

	select {
	case <-d.ErrFatal:
	default:
		t.Error("expected a fatal error to be published to ErrFatal")
	}
}

// TestSendKlineOrDrop_DropOldestPolicyNeverBlocks checks the drop-oldest
// backpressure policy evicts the oldest buffered item rather than blocking
// a full channel (§4.6 routing).
func TestSendKlineOrDrop_DropOldestPolicyNeverBlocks(t *testing.T) {
	ch := make(chan exchange.Kline, 2)
	sendKlineOrDrop(ch, exchange.Kline{Symbol: "A"}, DropOldest)
	sendKlineOrDrop(ch, exchange.Kline{Symbol: "B"}, DropOldest)
	sendKlineOrDrop(ch, exchange.Kline{Symbol: "C"}, DropOldest) // channel full, must drop "A"

	first := <-ch
	second := <-ch
	if first.Symbol != "B" || second.Symbol != "C" {
		t.Errorf("expected oldest ('A') to be dropped, got order %v, %v", first.Symbol, second.Symbol)
	}
}
