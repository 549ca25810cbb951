// Command surveillanceengine runs the full open-interest and breakout
// surveillance pipeline: exchange feed ingestion, OI polling, candle
// aggregation, pattern/breakout detection, and alerting, wired from a single
// process per §4's module boundaries.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"surveillanceengine/config"
	"surveillanceengine/internal/alertengine"
	"surveillanceengine/internal/batch"
	"surveillanceengine/internal/breakout"
	"surveillanceengine/internal/cache"
	"surveillanceengine/internal/candleagg"
	"surveillanceengine/internal/candlestore"
	"surveillanceengine/internal/configresolver"
	"surveillanceengine/internal/enrichment"
	"surveillanceengine/internal/exchange"
	"surveillanceengine/internal/indicatorengine"
	"surveillanceengine/internal/logger"
	"surveillanceengine/internal/marketdata/bus"
	"surveillanceengine/internal/metrics"
	"surveillanceengine/internal/model"
	"surveillanceengine/internal/oidetector"
	"surveillanceengine/internal/oipoller"
	"surveillanceengine/internal/pattern"
	"surveillanceengine/internal/ringbuf"
	storeredis "surveillanceengine/internal/store/redis"
	"surveillanceengine/internal/snapshotstore"
	"surveillanceengine/internal/store/sqlite"
	"surveillanceengine/internal/streamdispatcher"
	"surveillanceengine/internal/symbolregistry"
	"surveillanceengine/internal/timeutil"
)

const banner = `
 ---------------------------------------------
  surveillanceengine
  OI anomaly + breakout pattern surveillance
 ---------------------------------------------
`

func main() {
	cfg := config.Load()
	log := logger.Init("surveillanceengine", slog.LevelInfo)
	fmt.Print(banner)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- storage ----
	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		log.Error("failed to open sqlite", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	alertStore, err := sqlite.NewAlertStore(db, log)
	if err != nil {
		log.Error("failed to init alert store", "err", err)
		os.Exit(1)
	}
	anomalyStore, err := sqlite.NewAnomalyStore(db, log)
	if err != nil {
		log.Error("failed to init anomaly store", "err", err)
		os.Exit(1)
	}
	symbolStore, err := sqlite.NewSymbolStore(db, log)
	if err != nil {
		log.Error("failed to init symbol store", "err", err)
		os.Exit(1)
	}
	runtimeConfigStore, err := sqlite.NewRuntimeConfigStore(db, log)
	if err != nil {
		log.Error("failed to init runtime config store", "err", err)
		os.Exit(1)
	}

	snapshots := snapshotstore.New(db, log)
	defer snapshots.Close()
	candles := candlestore.New(db, log)
	defer candles.Close()

	// ---- redis / cache ----
	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	cacheLayer := cache.New(rdb, log)
	defer cacheLayer.Close()
	// Guards the cache layer's Redis calls; a tripped breaker degrades reads
	// to store-passthrough rather than stalling on a dead Redis.
	circuitBreaker := storeredis.NewCircuitBreaker(5, 30*time.Second)

	// ---- metrics / health ----
	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()
	health.StartLivenessChecker(ctx, rdb, db, 15*time.Second)
	go monitorCircuitBreakerState(ctx, circuitBreaker, m)

	// ---- symbol registry ----
	rest := exchange.NewRESTClient(cfg.ExchangeRESTURL)
	registry := symbolregistry.New(rest, symbolStore, nil, log)
	if _, err := registry.Reconcile(ctx); err != nil {
		log.Warn("initial symbol reconcile failed", "err", err)
	}
	go runReconcileLoop(ctx, registry, cfg.SymbolReconcileInterval, log)

	symbolsFunc := func() []string {
		if explicit := cfg.SubscribedSymbols(); len(explicit) > 0 {
			return explicit
		}
		enabled, err := registry.Enabled(ctx)
		if err != nil {
			log.Warn("symbol registry lookup failed", "err", err)
			return nil
		}
		out := make([]string, 0, len(enabled))
		for _, s := range enabled {
			out = append(out, s.Symbol)
		}
		return out
	}

	// ---- runtime-mutable thresholds/blacklist ----
	thresholds := configresolver.New(runtimeConfigStore, cfg.OIHighThreshold, cfg.OIMediumThreshold, cfg.OIDedupDelta, log)
	go thresholds.Run(ctx, 10*time.Minute)

	activeSymbolsFunc := func() []string {
		var out []string
		for _, s := range symbolsFunc() {
			if !thresholds.IsBlacklisted(s) {
				out = append(out, s)
			}
		}
		return out
	}

	// ---- indicator engine + enrichment ----
	indicator := indicatorengine.New()
	enricher := enrichment.New(snapshots, candles, indicator, log)

	// ---- OI anomaly pipeline ----
	anomalyCh := make(chan model.OIAnomalyRecord, 256)
	detector := oidetector.New(snapshots, anomalyStore, thresholds, enricher, anomalyCh, log)
	go detector.Run(ctx, time.Minute, activeSymbolsFunc)
	go drainAnomalies(ctx, anomalyCh, m, log)

	// ---- retention (§4.1: daily at 01:00 local, drops aged shards, pre-creates tomorrow's) ----
	go runRetentionLoop(ctx, snapshots, candles, cfg.RetentionDays, log)

	// ---- OI REST poller ----
	snapshotCh := make(chan model.OISnapshot, 1024)
	poller := oipoller.New(rest, log)
	go poller.Run(ctx, cfg.OISweepInterval, activeSymbolsFunc, snapshotCh, func() {
		health.SetLastOISweepTime(time.Now())
	})
	go snapshots.Run(ctx, snapshotCh)

	// ---- alerting ----
	alertPublish := make(chan model.Alert, 256)
	alertEngine := alertengine.New(alertStore, alertPublish, cfg.AlertCooldown, log)
	collector := batch.New(cfg.BatchCollectorWindow, []model.AlertType{model.AlertPerfectHammer}, func(klineTime int64, hits []model.Alert) {
		log.Info("batched perfect-hammer alerts", "kline_time", klineTime, "count", len(hits))
	}, log)
	go drainAlerts(ctx, alertPublish, collector, m, log)

	detectors := pattern.New(cfg.MinBreakoutScore)

	// ---- exchange market-data feed ----
	dispatcher := streamdispatcher.New(streamdispatcher.Config{
		WSURL:                cfg.ExchangeWSURL,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
		ReconnectInterval:    cfg.ReconnectInterval,
		PingInterval:         cfg.PingInterval,
		ChannelBufferSize:    512,
		Policy:               streamdispatcher.DropOldest,
		Logger:               log,
	})

	symbols := symbolsFunc()
	if len(symbols) == 0 {
		log.Warn("no symbols to subscribe at startup")
	}
	klineChans := make(map[string]<-chan exchange.Kline, len(symbols))
	tickerChans := make(map[string]<-chan exchange.Ticker, len(symbols))
	for _, sym := range symbols {
		dispatcher.Subscribe(strings.ToLower(sym) + "@kline_5m")
		dispatcher.Subscribe(strings.ToLower(sym) + "@ticker")
		klineChans[sym] = dispatcher.KlineChannel(sym)
		tickerChans[sym] = dispatcher.TickerChannel(sym)
	}

	gains := newGainTracker()
	for sym, tc := range tickerChans {
		go gains.run(ctx, sym, tc)
	}

	go func() {
		if err := dispatcher.Run(ctx); err != nil {
			log.Error("stream dispatcher exited", "err", err)
		}
	}()
	go func() {
		for err := range dispatcher.ErrFatal {
			log.Error("stream dispatcher fatal error", "err", err)
			health.SetStreamConnected(false)
		}
	}()

	// ---- per-symbol hot path: kline -> candle -> ring buffer -> fan-out ----
	fanOut := bus.New[model.Candle](256)
	fanOut.OnDrop = func(subscriberIdx int) {
		m.EventsDropped.WithLabelValues("fanout_subscriber_full").Inc()
		log.Warn("fan-out subscriber dropped a candle", "subscriber", subscriberIdx)
	}
	candleIn := make(chan model.Candle, 1024)
	go fanOut.Run(ctx, candleIn)

	aggregator := candleagg.New(log)
	rollupOut := make(chan model.Candle, 256)
	go aggregator.Run(ctx, fanOut.Subscribe(), rollupOut)

	var wg sync.WaitGroup
	for sym, ch := range klineChans {
		wg.Add(1)
		go func(symbol string, kc <-chan exchange.Kline) {
			defer wg.Done()
			runKlinePipeline(ctx, symbol, kc, candleIn, m, log)
		}(sym, ch)
	}

	go candles.Run(ctx, fanOut.Subscribe())
	go indicatorFanIn(ctx, fanOut.Subscribe(), indicator)
	go indicatorFanIn(ctx, rollupOut, indicator)
	go candleDetectPipeline(ctx, fanOut.Subscribe(), indicator, detectors, alertEngine, collector, gains, m, log)
	go candleDetectPipeline(ctx, rollupOut, indicator, detectors, alertEngine, collector, gains, m, log)

	health.SetStreamConnected(true)
	log.Info("surveillanceengine started", "symbols", len(symbols), "metrics_addr", cfg.MetricsAddr)

	<-ctx.Done()
	log.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	metricsSrv.Stop(shutdownCtx)
	wg.Wait()

	log.Info("surveillanceengine stopped")
}

// runKlinePipeline converts finalized klines for one symbol into candles,
// buffering them through a lock-free SPSC ring so the WebSocket read
// callback never blocks on a slow downstream fan-out.
func runKlinePipeline(ctx context.Context, symbol string, kc <-chan exchange.Kline, out chan<- model.Candle, m *metrics.Metrics, log *slog.Logger) {
	ring := ringbuf.New(256)
	drainDone := make(chan struct{})

	go func() {
		defer close(drainDone)
		for {
			c, ok := ring.Pop()
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Millisecond):
					continue
				}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			<-drainDone
			return
		case k, ok := <-kc:
			if !ok {
				<-drainDone
				return
			}
			if !k.IsFinal {
				continue
			}
			c := model.Candle{
				Symbol:    symbol,
				Interval:  model.Interval(k.Interval),
				OpenTime:  k.OpenTime,
				CloseTime: k.CloseTime,
				Open:      k.Open,
				High:      k.High,
				Low:       k.Low,
				Close:     k.Close,
				Volume:    k.Volume,
				Final:     true,
			}
			if !ring.Push(c) {
				m.RingBufOverflow.Inc()
				log.Warn("ring buffer full, dropping finalized candle", "symbol", symbol)
			}
		}
	}
}

// gainTracker holds the latest exchange-reported 24h percent change per
// symbol, fed from the ticker stream, so the pattern pipeline can gate
// support/resistance alerts on real-time momentum (§4.9) rather than a
// breakout score alone.
type gainTracker struct {
	mu   sync.RWMutex
	pct  map[string]float64
}

func newGainTracker() *gainTracker {
	return &gainTracker{pct: make(map[string]float64)}
}

func (g *gainTracker) run(ctx context.Context, symbol string, tc <-chan exchange.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tc:
			if !ok {
				return
			}
			g.mu.Lock()
			g.pct[symbol] = t.PriceChangePercent
			g.mu.Unlock()
		}
	}
}

func (g *gainTracker) Get(symbol string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pct[symbol]
}

func indicatorFanIn(ctx context.Context, in <-chan model.Candle, indicator *indicatorengine.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-in:
			if !ok {
				return
			}
			indicator.Update(c)
		}
	}
}

// candleDetectPipeline runs pattern detection and breakout scoring against
// every finalized candle and forwards any hits to the alert engine.
func candleDetectPipeline(
	ctx context.Context,
	in <-chan model.Candle,
	indicator *indicatorengine.Engine,
	detectors *pattern.Detectors,
	alerts *alertengine.Engine,
	collector *batch.Collector,
	gains *gainTracker,
	m *metrics.Metrics,
	log *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-in:
			if !ok {
				return
			}
			snap := indicator.Snapshot(c.Symbol, c.Interval)
			if !snap.Ready {
				continue
			}

			srLevels := pattern.ClusterLevels(c.Symbol, c.Interval, snap.Candles)
			nearest := nearestLevel(srLevels, snap.LastClose)

			start := time.Now()
			score, scoreReady := breakout.Predict(snap, nearest, quickPatternQuality(c))
			m.BreakoutScoreComputeDur.Observe(time.Since(start).Seconds())

			hits := detectors.Detect(snap, srLevels, score, scoreReady, gains.Get(c.Symbol))
			for _, hit := range hits {
				squeezePct := 0.0
				if hit.Type == model.AlertSqueeze && c.Close > 0 {
					gap := snap.EMA[20] - snap.EMA[60]
					if gap < 0 {
						gap = -gap
					}
					squeezePct = gap / c.Close * 100
				}
				if collector.Handles(hit.Type) {
					collector.Submit(hit)
					continue
				}
				alerts.Submit(ctx, hit, squeezePct)
			}

			if len(hits) > 0 {
				log.Debug("pattern hits", "symbol", c.Symbol, "interval", c.Interval, "count", len(hits))
			}
		}
	}
}

// quickPatternQuality is a cheap, local proxy for "does the latest candle
// look like a reversal pattern" fed into the breakout score's pattern
// sub-score: a long lower wick with a small body scores close to 1.
func quickPatternQuality(c model.Candle) float64 {
	q := c.LowerShadowFraction() - c.BodyFraction()
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}

func nearestLevel(levels []model.SRLevel, price float64) *model.SRLevel {
	if len(levels) == 0 {
		return nil
	}
	best := levels[0]
	bestDist := best.DistancePct(price)
	for _, l := range levels[1:] {
		if d := l.DistancePct(price); d < bestDist {
			best, bestDist = l, d
		}
	}
	return &best
}

func drainAnomalies(ctx context.Context, in <-chan model.OIAnomalyRecord, m *metrics.Metrics, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-in:
			if !ok {
				return
			}
			m.AnomaliesTotal.WithLabelValues(string(rec.Severity)).Inc()
			log.Info("oi anomaly", "symbol", rec.Symbol, "severity", rec.Severity, "pct_change", rec.PercentChange)
		}
	}
}

func drainAlerts(ctx context.Context, in <-chan model.Alert, collector *batch.Collector, m *metrics.Metrics, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-in:
			if !ok {
				return
			}
			m.AlertsTotal.WithLabelValues(string(a.Type)).Inc()
			log.Info("alert published", "symbol", a.Symbol, "type", a.Type, "interval", a.Interval)
		}
	}
}

func runReconcileLoop(ctx context.Context, registry *symbolregistry.Registry, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := registry.Reconcile(ctx); err != nil {
				log.Warn("symbol reconcile failed", "err", err)
			} else {
				log.Info("symbol reconcile complete", "enabled", n)
			}
		}
	}
}

// runRetentionLoop fires once a day at 01:00 local, dropping snapshot and
// candle shards older than retentionDays and pre-creating tomorrow's
// snapshot shard (§4.1).
func runRetentionLoop(ctx context.Context, snapshots *snapshotstore.Store, candles *candlestore.Store, retentionDays int, log *slog.Logger) {
	for {
		next := timeutil.NextDailyFire(time.Now(), 1)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			now := time.Now()
			if err := snapshots.CleanupOlderThan(ctx, now, retentionDays); err != nil {
				log.Error("snapshot retention sweep failed", "err", err)
			}
			if err := candles.CleanupOlderThan(ctx, now, retentionDays); err != nil {
				log.Error("candle retention sweep failed", "err", err)
			}
			log.Info("retention sweep complete", "retention_days", retentionDays)
		}
	}
}

func monitorCircuitBreakerState(ctx context.Context, cb *storeredis.CircuitBreaker, m *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	last := cb.CurrentState()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := cb.CurrentState()
			m.RedisCircuitBreakerState.Set(float64(cur))
			if cur != last && cur == storeredis.StateOpen {
				m.RedisCircuitBreakerTrips.Inc()
			}
			last = cur
		}
	}
}
