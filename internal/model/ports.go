package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple business logic from concrete storage implementations
// (SQLite shards, Redis). Each implementation satisfies one or more of these
// interfaces; detectors and engines depend only on the interface, constructed
// and injected explicitly at startup rather than reached via a package-level
// singleton.

// SnapshotWriter buffers and persists OI snapshots into daily Beijing-time shards.
type SnapshotWriter interface {
	// Run drains snapshotCh, batching writes per shard. Blocks until ctx is
	// cancelled or the channel is closed; flushes any buffered rows on exit.
	Run(ctx context.Context, snapshotCh <-chan OISnapshot)

	// Close releases underlying resources.
	Close() error
}

// SnapshotReader answers point and range reads across daily shards, falling
// back to the legacy unified table per shard-miss.
type SnapshotReader interface {
	// Window returns snapshots for symbol with TimestampMs in [fromMs, toMs],
	// ascending by TimestampMs.
	Window(ctx context.Context, symbol string, fromMs, toMs int64) ([]OISnapshot, error)

	// Latest returns the most recent snapshot for symbol, or nil if none exists.
	Latest(ctx context.Context, symbol string) (*OISnapshot, error)

	// DailyExtremes returns the min/max MarkPrice recorded for symbol within
	// the shard(s) covering [fromMs, toMs].
	DailyExtremes(ctx context.Context, symbol string, fromMs, toMs int64) (min, max float64, err error)

	// Close releases underlying resources.
	Close() error
}

// CandleWriter buffers and persists final candles into daily interval shards.
type CandleWriter interface {
	// Run drains candleCh, batching writes per shard. Blocks until ctx is
	// cancelled or the channel is closed; flushes any buffered rows on exit.
	Run(ctx context.Context, candleCh <-chan Candle)

	// Close releases underlying resources.
	Close() error
}

// CandleReader reads final candles for backfill, detector warmup, and replay.
type CandleReader interface {
	// Recent returns up to n most recent final candles for (symbol, interval),
	// ascending by OpenTime.
	Recent(ctx context.Context, symbol string, interval Interval, n int) ([]Candle, error)

	// Range returns final candles for (symbol, interval) with OpenTime in
	// [fromMs, toMs], ascending by OpenTime.
	Range(ctx context.Context, symbol string, interval Interval, fromMs, toMs int64) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// AlertStore persists alerts and answers duplicate checks.
type AlertStore interface {
	// Exists reports whether an alert with the same DedupKey has already been persisted.
	Exists(ctx context.Context, a Alert) (bool, error)

	// Save persists the alert row.
	Save(ctx context.Context, a Alert) error

	// Close releases underlying resources.
	Close() error
}

// AnomalyStore persists OI anomaly records and answers the dedup lookup.
type AnomalyStore interface {
	// LatestFor returns the most recent anomaly for (symbol, periodSeconds), or
	// nil if none exists.
	LatestFor(ctx context.Context, symbol string, periodSeconds int64) (*OIAnomalyRecord, error)

	// Save persists the anomaly record.
	Save(ctx context.Context, rec OIAnomalyRecord) error

	// Close releases underlying resources.
	Close() error
}

// Cache is the read-through cache fronting the stores above.
type Cache interface {
	// GetOrLoad returns the cached value for key, or calls load on miss,
	// caches the result for ttlSeconds, and returns it. Concurrent callers for
	// the same key share a single in-flight load.
	GetOrLoad(ctx context.Context, key string, ttlSeconds int, load func(ctx context.Context) ([]byte, error)) ([]byte, error)

	// Invalidate removes key from the cache immediately.
	Invalidate(ctx context.Context, key string) error

	// Close releases underlying resources.
	Close() error
}

// SymbolStore persists the reconciled symbol set and blacklist.
type SymbolStore interface {
	// ReconcileEnabled disables every symbol, then upserts symbols as enabled,
	// in a single atomic transaction. Symbols are never deleted.
	ReconcileEnabled(ctx context.Context, symbols []Symbol) error

	// Enabled returns the currently enabled symbols.
	Enabled(ctx context.Context) ([]Symbol, error)

	// Close releases underlying resources.
	Close() error
}
