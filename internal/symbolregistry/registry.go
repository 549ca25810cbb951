// Package symbolregistry implements SymbolRegistry (§4.5): loads the
// tradable symbol set from the exchange, cross-references a persisted
// blacklist, and reconciles the result into a SymbolStore. Symbols are
// never deleted, only disabled.
package symbolregistry

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"surveillanceengine/internal/exchange"
	"surveillanceengine/internal/model"
)

// Registry resolves the currently enabled symbol set.
type Registry struct {
	rest   *exchange.RESTClient
	store  model.SymbolStore
	logger *slog.Logger

	mu        sync.RWMutex
	blacklist []string
}

// New builds a Registry. blacklist entries are matched as substrings of the
// symbol name (e.g. "USDC" blocks "USDCUSDT").
func New(rest *exchange.RESTClient, store model.SymbolStore, blacklist []string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{rest: rest, store: store, logger: logger, blacklist: blacklist}
}

// SetBlacklist replaces the blacklist used by future Reconcile calls.
func (r *Registry) SetBlacklist(blacklist []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklist = blacklist
}

func (r *Registry) isBlacklisted(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.blacklist {
		if b != "" && strings.Contains(symbol, b) {
			return true
		}
	}
	return false
}

// Reconcile fetches the current exchange symbol universe, filters it
// against the blacklist, and atomically disables every known symbol before
// upserting the survivors as enabled.
func (r *Registry) Reconcile(ctx context.Context) (int, error) {
	all, err := r.rest.ExchangeInfo(ctx)
	if err != nil {
		return 0, err
	}

	filtered := make([]model.Symbol, 0, len(all))
	for _, s := range all {
		if !s.Enabled || r.isBlacklisted(s.Symbol) {
			continue
		}
		filtered = append(filtered, s)
	}

	if err := r.store.ReconcileEnabled(ctx, filtered); err != nil {
		return 0, err
	}
	r.logger.Info("symbol registry reconciled", "fetched", len(all), "enabled", len(filtered))
	return len(filtered), nil
}

// Enabled returns the currently enabled symbols from the store.
func (r *Registry) Enabled(ctx context.Context) ([]model.Symbol, error) {
	return r.store.Enabled(ctx)
}
