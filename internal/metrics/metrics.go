// Package metrics exposes Prometheus counters/histograms/gauges for the
// surveillance engine and a small net/http server serving /metrics and
// /healthz alongside the core services (§10).
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the engine registers.
type Metrics struct {
	StreamReconnects  prometheus.Counter
	StreamParseErrors prometheus.Counter
	EventsDropped     *prometheus.CounterVec // labels: reason

	AnomaliesTotal         *prometheus.CounterVec // labels: severity
	AnomalyDedupSuppressed prometheus.Counter

	AlertsTotal           *prometheus.CounterVec // labels: type
	AlertCooldownSkipped  *prometheus.CounterVec // labels: type
	AlertDuplicateSkipped prometheus.Counter

	WriterBatchSize  *prometheus.HistogramVec // labels: store
	WriterFlushDur   *prometheus.HistogramVec // labels: store
	WriterFailedRows *prometheus.CounterVec   // labels: store

	CacheHits   *prometheus.CounterVec // labels: domain
	CacheMisses *prometheus.CounterVec // labels: domain

	WSRoundTrip prometheus.Histogram

	RingBufOverflow prometheus.Counter

	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	BreakoutScoreComputeDur prometheus.Histogram
	OISweepDur              prometheus.Histogram
}

// NewMetrics registers and returns every metric.
func NewMetrics() *Metrics {
	m := &Metrics{
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surveillance_stream_reconnects_total",
			Help: "Total StreamDispatcher reconnection attempts",
		}),
		StreamParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surveillance_stream_parse_errors_total",
			Help: "Total inbound frames that failed to parse",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveillance_events_dropped_total",
			Help: "Events dropped before reaching a detector, by reason",
		}, []string{"reason"}),

		AnomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveillance_oi_anomalies_total",
			Help: "Open-interest anomalies persisted, by severity",
		}, []string{"severity"}),
		AnomalyDedupSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surveillance_oi_anomaly_dedup_suppressed_total",
			Help: "Anomaly candidates suppressed by the dedup_delta check",
		}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveillance_alerts_total",
			Help: "Alerts persisted, by alert type",
		}, []string{"type"}),
		AlertCooldownSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveillance_alert_cooldown_skipped_total",
			Help: "Alert candidates skipped due to an active cooldown, by alert type",
		}, []string{"type"}),
		AlertDuplicateSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surveillance_alert_duplicate_skipped_total",
			Help: "Alert candidates skipped as exact duplicates of an already-stored alert",
		}),

		WriterBatchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surveillance_writer_batch_size",
			Help:    "Row count per flushed batch, by store",
			Buckets: []float64{1, 5, 10, 50, 100, 250, 500, 1000},
		}, []string{"store"}),
		WriterFlushDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surveillance_writer_flush_duration_seconds",
			Help:    "Batch flush latency, by store",
			Buckets: prometheus.DefBuckets,
		}, []string{"store"}),
		WriterFailedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveillance_writer_failed_rows_total",
			Help: "Rows that failed to insert and were returned for retry, by store",
		}, []string{"store"}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveillance_cache_hits_total",
			Help: "CacheLayer hits, by domain",
		}, []string{"domain"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveillance_cache_misses_total",
			Help: "CacheLayer misses, by domain",
		}, []string{"domain"}),

		WSRoundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "surveillance_ws_round_trip_seconds",
			Help:    "Ping-to-pong round trip latency on the exchange WebSocket",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),

		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surveillance_ringbuf_overflow_total",
			Help: "Candles dropped because the hot-path ring buffer was full",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "surveillance_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surveillance_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		BreakoutScoreComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "surveillance_breakout_score_compute_duration_seconds",
			Help:    "BreakoutPredictor.Predict latency",
			Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01},
		}),
		OISweepDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "surveillance_oi_sweep_duration_seconds",
			Help:    "Time to sweep every configured period for one symbol",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.StreamReconnects,
		m.StreamParseErrors,
		m.EventsDropped,
		m.AnomaliesTotal,
		m.AnomalyDedupSuppressed,
		m.AlertsTotal,
		m.AlertCooldownSkipped,
		m.AlertDuplicateSkipped,
		m.WriterBatchSize,
		m.WriterFlushDur,
		m.WriterFailedRows,
		m.CacheHits,
		m.CacheMisses,
		m.WSRoundTrip,
		m.RingBufOverflow,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.BreakoutScoreComputeDur,
		m.OISweepDur,
	)

	return m
}

// HealthStatus reports the liveness of the engine's dependencies (§10):
// DB reachable, last stream message age, last OI sweep age.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected bool      `json:"stream_connected"`
	LastEventTime   time.Time `json:"last_event_time"`
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteOK        bool      `json:"sqlite_ok"`
	LastOISweepTime time.Time `json:"last_oi_sweep_time"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastEventTime(t time.Time) {
	h.mu.Lock()
	h.LastEventTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastOISweepTime(t time.Time) {
	h.mu.Lock()
	h.LastOISweepTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is cancelled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.StreamConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	eventAge, sweepAge := "", ""
	if !h.LastEventTime.IsZero() {
		eventAge = time.Since(h.LastEventTime).Round(time.Millisecond).String()
	}
	if !h.LastOISweepTime.IsZero() {
		sweepAge = time.Since(h.LastOISweepTime).Round(time.Second).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		StreamConnected bool    `json:"stream_connected"`
		LastEventAge    string  `json:"last_event_age"`
		LastOISweepAge  string  `json:"last_oi_sweep_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		StreamConnected: h.StreamConnected,
		LastEventAge:    eventAge,
		LastOISweepAge:  sweepAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
