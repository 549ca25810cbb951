package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all process-wide configuration, loaded once from environment
// variables at startup with code-defined defaults. It is constructed once in
// main and threaded explicitly into every subsystem; nothing reads the
// environment after Load returns.
type Config struct {
	// Exchange feed
	ExchangeWSURL   string
	ExchangeRESTURL string
	SubscribeSymbols string // comma-separated, e.g. "BTCUSDT,ETHUSDT"; empty = discover all

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Reconciliation / sweep cadences
	SymbolReconcileInterval time.Duration
	OISweepInterval         time.Duration
	RetentionDays           int

	// OI anomaly thresholds (global defaults; per-symbol overrides live in
	// oi_monitoring_config and are resolved by internal/configresolver)
	OIHighThreshold   float64
	OIMediumThreshold float64
	OIDedupDelta      float64
	OIPeriodsSeconds  []int64

	// Alert engine
	AlertCooldown        time.Duration
	MinBreakoutScore     float64
	BatchCollectorWindow time.Duration

	// Dispatcher
	ReconnectMaxAttempts int
	ReconnectInterval    time.Duration
	PingInterval         time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Required values that are missing cause a fatal exit (non-zero, per §6
// "Exit codes") rather than proceeding with an undefined configuration.
func Load() *Config {
	cfg := &Config{
		ExchangeWSURL:    getEnv("EXCHANGE_WS_URL", "wss://fstream.binance.com/stream"),
		ExchangeRESTURL:  getEnv("EXCHANGE_REST_URL", "https://fapi.binance.com"),
		SubscribeSymbols: getEnv("SUBSCRIBE_SYMBOLS", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/surveillance.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		SymbolReconcileInterval: getEnvDuration("SYMBOL_RECONCILE_INTERVAL", 5*time.Minute),
		OISweepInterval:         getEnvDuration("OI_SWEEP_INTERVAL", 60*time.Second),
		RetentionDays:           getEnvInt("RETENTION_DAYS", 20),

		OIHighThreshold:   getEnvFloat("OI_HIGH_THRESHOLD", 30.0),
		OIMediumThreshold: getEnvFloat("OI_MEDIUM_THRESHOLD", 15.0),
		OIDedupDelta:      getEnvFloat("OI_DEDUP_DELTA", 1.0),
		OIPeriodsSeconds:  parseInt64List(getEnv("OI_PERIODS_SECONDS", "300,900,1800,3600,7200,14400")),

		AlertCooldown:        getEnvDuration("ALERT_COOLDOWN", 30*time.Minute),
		MinBreakoutScore:     getEnvFloat("MIN_BREAKOUT_SCORE", 60.0),
		BatchCollectorWindow: getEnvDuration("BATCH_COLLECTOR_WINDOW", 2*time.Second),

		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 10),
		ReconnectInterval:    getEnvDuration("RECONNECT_INTERVAL", 5*time.Second),
		PingInterval:         getEnvDuration("PING_INTERVAL", 30*time.Second),
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

// Validate fails fast on configuration that would otherwise surface as a
// confusing runtime error deep inside a subsystem.
func (c *Config) Validate() error {
	if c.ExchangeWSURL == "" {
		return fmt.Errorf("EXCHANGE_WS_URL must not be empty")
	}
	if c.OIHighThreshold <= c.OIMediumThreshold {
		return fmt.Errorf("OI_HIGH_THRESHOLD (%v) must exceed OI_MEDIUM_THRESHOLD (%v)", c.OIHighThreshold, c.OIMediumThreshold)
	}
	if len(c.OIPeriodsSeconds) == 0 {
		return fmt.Errorf("OI_PERIODS_SECONDS must list at least one period")
	}
	return nil
}

// SubscribedSymbols parses SubscribeSymbols into a slice; empty means "let
// SymbolRegistry discover the full tradable set".
func (c *Config) SubscribedSymbols() []string {
	return parseStringList(c.SubscribeSymbols)
}

func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func parseInt64List(s string) []int64 {
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid period value: %q", p)
			continue
		}
		out = append(out, n)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using default %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using default %v", key, v, fallback)
		return fallback
	}
	return d
}
