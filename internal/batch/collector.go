// Package batch implements BatchSignalCollector (§4.12): coalesces
// near-simultaneous alerts of configured types, keyed by kline_time, into a
// single downstream batch per fixed, non-resetting window.
package batch

import (
	"log/slog"
	"sync"
	"time"

	"surveillanceengine/internal/model"
)

// DefaultWindow is the fixed, non-resetting accumulation window (§4.12).
const DefaultWindow = 2 * time.Second

// Handler receives a flushed batch of alerts sharing one kline_time.
type Handler func(klineTime int64, batch []model.Alert)

// Collector batches alerts of configured types by kline_time.
type Collector struct {
	window  time.Duration
	types   map[model.AlertType]bool
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	buckets map[int64][]model.Alert
	timers  map[int64]*time.Timer
}

// New builds a Collector for the given alert types (e.g. PerfectHammer).
func New(window time.Duration, types []model.AlertType, handler Handler, logger *slog.Logger) *Collector {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	typeSet := make(map[model.AlertType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return &Collector{
		window:  window,
		types:   typeSet,
		handler: handler,
		logger:  logger,
		buckets: make(map[int64][]model.Alert),
		timers:  make(map[int64]*time.Timer),
	}
}

// Submit feeds one alert through the collector. Alerts whose type isn't
// configured for batching are not the collector's concern and should be
// delivered directly by the caller.
func (c *Collector) Submit(a model.Alert) {
	if !c.types[a.Type] {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := a.KlineTime
	c.buckets[key] = append(c.buckets[key], a)
	if _, started := c.timers[key]; !started {
		c.timers[key] = time.AfterFunc(c.window, func() { c.flush(key) })
	}
}

func (c *Collector) flush(key int64) {
	c.mu.Lock()
	batch := c.buckets[key]
	delete(c.buckets, key)
	delete(c.timers, key)
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	c.logger.Debug("batch collector flushed", "kline_time", key, "n", len(batch))
	c.handler(key, batch)
}

// Handles reports whether the collector batches the given alert type.
func (c *Collector) Handles(t model.AlertType) bool { return c.types[t] }
