// Package alertengine implements AlertEngine (§4.11): cooldown/dedup gating
// for detector hits, persistence, and fan-out publish.
package alertengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"surveillanceengine/internal/model"
)

// cooldownState tracks, per (symbol, interval, type, level_key), the last
// time an alert fired and (for SQUEEZE) the convergence at that time so a
// tightening squeeze can bypass cooldown.
type cooldownState struct {
	lastFiredAt time.Time
	squeezePct  float64
}

// Engine applies cooldown, the squeeze-tightening bypass, and duplicate
// suppression before persisting and publishing an alert.
type Engine struct {
	store    model.AlertStore
	publish  chan<- model.Alert
	logger   *slog.Logger
	cooldown time.Duration

	mu    sync.Mutex
	state map[string]cooldownState
}

// New builds an Engine. publish is the outbound fan-out channel consumed by
// the batch collector and any downstream subscriber.
func New(store model.AlertStore, publish chan<- model.Alert, cooldown time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		publish:  publish,
		logger:   logger,
		cooldown: cooldown,
		state:    make(map[string]cooldownState),
	}
}

// Submit applies cooldown/dedup, persists, and publishes hit. squeezePct is
// the current EMA20/EMA60 gap percent, used only for SQUEEZE alerts; pass 0
// for every other alert type.
func (e *Engine) Submit(ctx context.Context, hit model.Alert, squeezePct float64) {
	key := hit.CooldownKey()

	e.mu.Lock()
	prev, onCooldown := e.state[key]
	allow := !onCooldown || time.Since(prev.lastFiredAt) >= e.cooldown
	if !allow && hit.Type == model.AlertSqueeze && squeezePct < prev.squeezePct {
		allow = true // tightening squeeze always bypasses cooldown
	}
	if allow {
		e.state[key] = cooldownState{lastFiredAt: time.Now(), squeezePct: squeezePct}
	}
	e.mu.Unlock()

	if !allow {
		return
	}

	exists, err := e.store.Exists(ctx, hit)
	if err != nil {
		e.logger.Error("alertengine dedup check failed, alert dropped", "err", err, "symbol", hit.Symbol, "type", hit.Type)
		return
	}
	if exists {
		return
	}

	if err := e.store.Save(ctx, hit); err != nil {
		// Cooldown state is intentionally not rolled back: a missed alert is
		// preferable to a duplicate on retry (§4.11 failure semantics).
		e.logger.Error("alertengine save failed, alert dropped", "err", err, "symbol", hit.Symbol, "type", hit.Type)
		return
	}

	select {
	case e.publish <- hit:
	default:
		e.logger.Warn("alertengine publish channel full, dropping", "symbol", hit.Symbol, "type", hit.Type)
	}
}
