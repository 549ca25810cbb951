// Package oipoller fetches open interest, mark price, and funding rate on a
// fixed cadence per symbol and emits them as OISnapshot values, feeding
// ShardedSnapshotStore and, through it, OIAnomalyDetector (§4.7's "OI poller
// drives OIAnomalyDetector on a fixed cadence").
package oipoller

import (
	"context"
	"log/slog"
	"time"

	"surveillanceengine/internal/exchange"
	"surveillanceengine/internal/model"
)

const source = "rest_poll"

// Poller periodically fetches open interest + mark price/funding for every
// enabled symbol and publishes an OISnapshot for each.
type Poller struct {
	rest   *exchange.RESTClient
	logger *slog.Logger
}

// New builds a Poller against an already-constructed REST client.
func New(rest *exchange.RESTClient, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{rest: rest, logger: logger}
}

// Run fires one poll of symbols() against the configured interval until ctx
// is cancelled. onSweep, if non-nil, fires after each full pass (used to
// drive the health server's "last OI sweep age").
func (p *Poller) Run(ctx context.Context, interval time.Duration, symbols func() []string, out chan<- model.OISnapshot, onSweep func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range symbols() {
				if err := p.pollOne(ctx, symbol, out); err != nil {
					p.logger.Warn("oipoller poll failed", "symbol", symbol, "err", err)
				}
			}
			if onSweep != nil {
				onSweep()
			}
		}
	}
}

func (p *Poller) pollOne(ctx context.Context, symbol string, out chan<- model.OISnapshot) error {
	oi, oiTimeMs, err := p.rest.OpenInterest(ctx, symbol)
	if err != nil {
		return err
	}

	snap := model.OISnapshot{
		Symbol:       symbol,
		TimestampMs:  oiTimeMs,
		OpenInterest: oi,
		Source:       source,
	}
	if snap.TimestampMs == 0 {
		snap.TimestampMs = time.Now().UnixMilli()
	}

	if mark, funding, nextFunding, err := p.rest.PremiumIndex(ctx, symbol); err != nil {
		p.logger.Warn("oipoller premiumIndex failed, persisting OI only", "symbol", symbol, "err", err)
	} else {
		snap.MarkPrice = mark
		snap.FundingRate = funding
		snap.NextFundingMs = nextFunding
	}

	select {
	case out <- snap:
	case <-ctx.Done():
	}
	return nil
}
