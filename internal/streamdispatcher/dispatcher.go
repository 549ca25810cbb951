// Package streamdispatcher owns the single multiplexed subscription to the
// exchange market-data feed (§4.6). Connection lifecycle — dial, ping/pong
// heartbeat, exponential-backoff reconnect, callback dispatch — follows the
// shape of the teacher's pkg/smartconnect websocket client, reframed against
// this spec's JSON event/envelope framings (internal/exchange) instead of
// the teacher's binary broker protocol.
package streamdispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"surveillanceengine/internal/exchange"
)

// DropPolicy controls what happens when a per-symbol kline channel is full.
// Ticker, trade, mark-price and depth channels do not consult it: a send to
// one of them while it is full drops the new event.
type DropPolicy int

const (
	// DropOldest evicts the oldest buffered event to make room for the new one.
	DropOldest DropPolicy = iota
	// Block waits for the consumer to make room; the wait does not observe
	// ctx cancellation.
	Block
)

// Config configures one dispatcher instance.
type Config struct {
	WSURL string

	ReconnectMaxAttempts int
	ReconnectInterval    time.Duration
	PingInterval         time.Duration

	// ChannelBufferSize bounds each per-event-type-per-symbol output channel.
	ChannelBufferSize int
	Policy            DropPolicy

	Logger *slog.Logger
}

// Dispatcher maintains one long-lived connection and routes normalized
// events to typed, per-symbol channels. Parsing happens single-threaded on
// the read loop goroutine; routing never blocks the read loop when Policy is
// DropOldest.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.RWMutex
	subscribed  []string // full stream list recorded at subscribe time, for resubscribe
	klineChans  map[string]chan exchange.Kline
	tickerChans map[string]chan exchange.Ticker
	tradeChans  map[string]chan exchange.Trade
	markChans   map[string]chan exchange.MarkPrice
	depthChans  map[string]chan exchange.Depth

	conn   *websocket.Conn
	connMu sync.Mutex

	// closers records each downstream channel's close func in creation
	// order, so shutdown can close them in that same order (§4.6).
	closers []func()

	// ErrFatal is sent to on max-reconnect-exceeded (§4.6 failure semantics).
	ErrFatal chan error
}

// New constructs a Dispatcher. Call Subscribe for every stream of interest
// before Run; the recorded list is replayed verbatim on every reconnect.
func New(cfg Config) *Dispatcher {
	if cfg.ChannelBufferSize <= 0 {
		cfg.ChannelBufferSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		cfg:         cfg,
		logger:      cfg.Logger,
		klineChans:  make(map[string]chan exchange.Kline),
		tickerChans: make(map[string]chan exchange.Ticker),
		tradeChans:  make(map[string]chan exchange.Trade),
		markChans:   make(map[string]chan exchange.MarkPrice),
		depthChans:  make(map[string]chan exchange.Depth),
		ErrFatal:    make(chan error, 1),
	}
}

// Subscribe records a stream name (e.g. "btcusdt@kline_5m") for the initial
// subscribe frame and every resubscribe after reconnect.
func (d *Dispatcher) Subscribe(stream string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribed = append(d.subscribed, stream)
}

// KlineChannel returns (creating if necessary) the per-symbol kline channel.
func (d *Dispatcher) KlineChannel(symbol string) <-chan exchange.Kline {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.klineChans[symbol]
	if !ok {
		ch = make(chan exchange.Kline, d.cfg.ChannelBufferSize)
		d.klineChans[symbol] = ch
		cch := ch
		d.closers = append(d.closers, func() { close(cch) })
	}
	return ch
}

// MarkPriceChannel returns (creating if necessary) the per-symbol mark-price channel.
func (d *Dispatcher) MarkPriceChannel(symbol string) <-chan exchange.MarkPrice {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.markChans[symbol]
	if !ok {
		ch = make(chan exchange.MarkPrice, d.cfg.ChannelBufferSize)
		d.markChans[symbol] = ch
		cch := ch
		d.closers = append(d.closers, func() { close(cch) })
	}
	return ch
}

// TickerChannel returns (creating if necessary) the per-symbol ticker channel.
func (d *Dispatcher) TickerChannel(symbol string) <-chan exchange.Ticker {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.tickerChans[symbol]
	if !ok {
		ch = make(chan exchange.Ticker, d.cfg.ChannelBufferSize)
		d.tickerChans[symbol] = ch
		cch := ch
		d.closers = append(d.closers, func() { close(cch) })
	}
	return ch
}

// TradeChannel returns (creating if necessary) the per-symbol trade channel.
func (d *Dispatcher) TradeChannel(symbol string) <-chan exchange.Trade {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.tradeChans[symbol]
	if !ok {
		ch = make(chan exchange.Trade, d.cfg.ChannelBufferSize)
		d.tradeChans[symbol] = ch
		cch := ch
		d.closers = append(d.closers, func() { close(cch) })
	}
	return ch
}

// DepthChannel returns (creating if necessary) the per-symbol depth channel.
func (d *Dispatcher) DepthChannel(symbol string) <-chan exchange.Depth {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.depthChans[symbol]
	if !ok {
		ch = make(chan exchange.Depth, d.cfg.ChannelBufferSize)
		d.depthChans[symbol] = ch
		cch := ch
		d.closers = append(d.closers, func() { close(cch) })
	}
	return ch
}

// Run connects, subscribes, and processes frames until ctx is cancelled or
// the reconnect budget is exhausted. Blocks.
func (d *Dispatcher) Run(ctx context.Context) error {
	attempts := 0
	for {
		if ctx.Err() != nil {
			d.closeAllChannels()
			return ctx.Err()
		}

		if err := d.connect(ctx); err != nil {
			attempts++
			d.logger.Warn("dispatcher connect failed", "attempt", attempts, "err", err)
			if attempts >= d.cfg.ReconnectMaxAttempts {
				fatal := fmt.Errorf("streamdispatcher: exceeded %d reconnect attempts: %w", attempts, err)
				d.closeAllChannels()
				select {
				case d.ErrFatal <- fatal:
				default:
				}
				return fatal
			}
			d.backoffSleep(ctx, attempts)
			continue
		}

		attempts = 0 // reset on a successful session
		err := d.runSession(ctx)
		if ctx.Err() != nil {
			d.closeAllChannels()
			return ctx.Err()
		}
		d.logger.Warn("dispatcher session ended", "err", err)
	}
}

func (d *Dispatcher) backoffSleep(ctx context.Context, attempt int) {
	cap := d.cfg.ReconnectInterval * time.Duration(d.cfg.ReconnectMaxAttempts)
	delay := d.cfg.ReconnectInterval
	for i := 1; i < attempt && delay < cap; i++ {
		delay *= 2
	}
	if delay > cap {
		delay = cap
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (d *Dispatcher) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.cfg.WSURL, nil)
	if err != nil {
		return err
	}
	d.connMu.Lock()
	d.conn = conn
	d.connMu.Unlock()

	d.mu.RLock()
	streams := append([]string(nil), d.subscribed...)
	d.mu.RUnlock()
	if len(streams) > 0 {
		if err := d.sendSubscribe(streams); err != nil {
			conn.Close()
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	d.logger.Info("dispatcher connected", "url", d.cfg.WSURL, "streams", len(streams))
	return nil
}

func (d *Dispatcher) sendSubscribe(streams []string) error {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	frame := map[string]any{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     time.Now().UnixMilli(),
	}
	return d.conn.WriteJSON(frame)
}

// runSession owns the read loop and heartbeat for one connection; returns
// when the connection closes or errors, so Run can decide to reconnect.
func (d *Dispatcher) runSession(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.connMu.Lock()
	conn := d.conn
	d.connMu.Unlock()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * d.cfg.PingInterval))
	})
	conn.SetReadDeadline(time.Now().Add(2 * d.cfg.PingInterval))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.heartbeatLoop(sessionCtx, conn)
	}()

	err := d.readLoop(sessionCtx, conn)
	cancel()
	conn.Close()
	wg.Wait()
	return err
}

func (d *Dispatcher) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(d.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.connMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			d.connMu.Unlock()
			if err != nil {
				d.logger.Warn("dispatcher ping failed", "err", err)
				return
			}
		}
	}
}

func (d *Dispatcher) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		events, err := exchange.ParseFrame(raw)
		if err != nil {
			d.logger.Warn("dispatcher parse error, dropping frame", "err", err)
			continue
		}
		for _, ev := range events {
			d.route(ev)
		}
	}
}

// route publishes a normalized event to its typed, per-symbol channel,
// applying the configured backpressure policy. Same-type-same-symbol events
// keep source order because routing happens on the single read-loop
// goroutine; no ordering is promised across symbols (§5).
func (d *Dispatcher) route(ev exchange.Event) {
	switch ev.Type {
	case exchange.EventKline:
		d.sendKline(ev.Symbol, *ev.Kline)
	case exchange.EventTicker:
		d.sendTicker(ev.Symbol, *ev.Ticker)
	case exchange.EventTrade:
		d.sendTrade(ev.Symbol, *ev.Trade)
	case exchange.EventMarkPrice:
		d.sendMark(ev.Symbol, *ev.MarkPrice)
	case exchange.EventDepth:
		d.sendDepth(ev.Symbol, *ev.Depth)
	case exchange.EventSkipped:
		// nothing to route
	}
}

func (d *Dispatcher) sendKline(symbol string, k exchange.Kline) {
	d.mu.Lock()
	ch, ok := d.klineChans[symbol]
	if !ok {
		ch = make(chan exchange.Kline, d.cfg.ChannelBufferSize)
		d.klineChans[symbol] = ch
		cch := ch
		d.closers = append(d.closers, func() { close(cch) })
	}
	d.mu.Unlock()
	sendKlineOrDrop(ch, k, d.cfg.Policy)
}

func sendKlineOrDrop(ch chan exchange.Kline, k exchange.Kline, policy DropPolicy) {
	select {
	case ch <- k:
		return
	default:
	}
	if policy == Block {
		ch <- k
		return
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- k:
	default:
	}
}

func (d *Dispatcher) sendTicker(symbol string, t exchange.Ticker) {
	d.mu.Lock()
	ch, ok := d.tickerChans[symbol]
	if !ok {
		ch = make(chan exchange.Ticker, d.cfg.ChannelBufferSize)
		d.tickerChans[symbol] = ch
		cch := ch
		d.closers = append(d.closers, func() { close(cch) })
	}
	d.mu.Unlock()
	select {
	case ch <- t:
	default:
	}
}

func (d *Dispatcher) sendTrade(symbol string, t exchange.Trade) {
	d.mu.Lock()
	ch, ok := d.tradeChans[symbol]
	if !ok {
		ch = make(chan exchange.Trade, d.cfg.ChannelBufferSize)
		d.tradeChans[symbol] = ch
		cch := ch
		d.closers = append(d.closers, func() { close(cch) })
	}
	d.mu.Unlock()
	select {
	case ch <- t:
	default:
	}
}

func (d *Dispatcher) sendMark(symbol string, m exchange.MarkPrice) {
	d.mu.Lock()
	ch, ok := d.markChans[symbol]
	if !ok {
		ch = make(chan exchange.MarkPrice, d.cfg.ChannelBufferSize)
		d.markChans[symbol] = ch
		cch := ch
		d.closers = append(d.closers, func() { close(cch) })
	}
	d.mu.Unlock()
	select {
	case ch <- m:
	default:
	}
}

func (d *Dispatcher) sendDepth(symbol string, dp exchange.Depth) {
	d.mu.Lock()
	ch, ok := d.depthChans[symbol]
	if !ok {
		ch = make(chan exchange.Depth, d.cfg.ChannelBufferSize)
		d.depthChans[symbol] = ch
		cch := ch
		d.closers = append(d.closers, func() { close(cch) })
	}
	d.mu.Unlock()
	select {
	case ch <- dp:
	default:
	}
}

// closeAllChannels closes every downstream channel in creation order, per
// the §4.6 cancellation contract.
func (d *Dispatcher) closeAllChannels() {
	d.mu.Lock()
	closers := d.closers
	d.closers = nil
	d.mu.Unlock()
	for _, closeFn := range closers {
		closeFn()
	}
}
