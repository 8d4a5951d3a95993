// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// HTTP server, logging, the durable store, the cache layer, the case ledger,
// rate limiting and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// StoreConfig selects and tunes the durable store.
type StoreConfig struct {
	URL          string        // DATABASE_URL: sqlite://path, postgres://...
	Timeout      time.Duration // STORE_TIMEOUT per operation
	AutoMigrate  bool          // AUTO_MIGRATE on serve
	MaxOpenConns int           // DB_MAX_OPEN_CONNS; 0 = driver default
}

// CacheConfig selects and tunes the cache layer.
type CacheConfig struct {
	Backend          string        // none|memory|redis
	RedisURL         string        // REDIS_URL
	KeyPrefix        string        // CACHE_KEY_PREFIX
	Timeout          time.Duration // CACHE_TIMEOUT per operation
	ConfigTTL        time.Duration // CACHE_CONFIG_TTL
	MemorySize       int           // CACHE_MEMORY_SIZE entries
	LocalCacheSize   int           // REDIS_LOCAL_CACHE_SIZE (0 = off)
	FailureThreshold int           // CACHE_FAILURE_THRESHOLD
	Cooldown         time.Duration // CACHE_COOLDOWN
}

// LedgerConfig holds case ledger behavior switches.
type LedgerConfig struct {
	SystemActorID           int64 // SYSTEM_ACTOR_ID
	ExcludeReversedWarnings bool  // EXCLUDE_REVERSED_WARNINGS
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "modcases")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SentryConfig defines error reporting settings. An empty DSN disables it.
type SentryConfig struct {
	DSN         string // SENTRY_DSN
	Environment string // SENTRY_ENVIRONMENT
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	APIBasePath       string        // base path for API routes

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	Store  StoreConfig
	Cache  CacheConfig
	Ledger LedgerConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL   OTELConfig
	Sentry SentryConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		APIBasePath:       normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		Store: StoreConfig{
			URL:          getenv("DATABASE_URL", "sqlite://modcases.db"),
			Timeout:      getdur("STORE_TIMEOUT", 5*time.Second),
			AutoMigrate:  getbool("AUTO_MIGRATE", true),
			MaxOpenConns: getint("DB_MAX_OPEN_CONNS", 0),
		},
		Cache: CacheConfig{
			Backend:          strings.ToLower(getenv("CACHE_BACKEND", "none")),
			RedisURL:         getenv("REDIS_URL", "redis://localhost:6379/0"),
			KeyPrefix:        getenv("CACHE_KEY_PREFIX", "modcases:prod"),
			Timeout:          getdur("CACHE_TIMEOUT", 250*time.Millisecond),
			ConfigTTL:        getdur("CACHE_CONFIG_TTL", 15*time.Minute),
			MemorySize:       getint("CACHE_MEMORY_SIZE", 10000),
			LocalCacheSize:   getint("REDIS_LOCAL_CACHE_SIZE", 0),
			FailureThreshold: getint("CACHE_FAILURE_THRESHOLD", 3),
			Cooldown:         getdur("CACHE_COOLDOWN", 30*time.Second),
		},
		Ledger: LedgerConfig{
			SystemActorID:           getint64("SYSTEM_ACTOR_ID", 0),
			ExcludeReversedWarnings: getbool("EXCLUDE_REVERSED_WARNINGS", false),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "modcases"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
		Sentry: SentryConfig{
			DSN:         getenv("SENTRY_DSN", ""),
			Environment: getenv("SENTRY_ENVIRONMENT", "production"),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.Store.URL) == "" {
		return cfg, errors.New("DATABASE_URL must not be empty")
	}
	if cfg.Store.Timeout <= 0 {
		return cfg, errors.New("STORE_TIMEOUT must be > 0")
	}
	if cfg.Store.MaxOpenConns < 0 {
		return cfg, errors.New("DB_MAX_OPEN_CONNS must be >= 0")
	}
	switch cfg.Cache.Backend {
	case "none", "memory":
	case "redis":
		if strings.TrimSpace(cfg.Cache.RedisURL) == "" {
			return cfg, errors.New("REDIS_URL must be set when CACHE_BACKEND=redis")
		}
	default:
		return cfg, errors.New("CACHE_BACKEND must be one of: none, memory, redis")
	}
	if strings.TrimSpace(cfg.Cache.KeyPrefix) == "" {
		return cfg, errors.New("CACHE_KEY_PREFIX must not be empty")
	}
	if cfg.Cache.Timeout <= 0 || cfg.Cache.ConfigTTL <= 0 || cfg.Cache.Cooldown <= 0 {
		return cfg, errors.New("CACHE_TIMEOUT, CACHE_CONFIG_TTL and CACHE_COOLDOWN must be positive durations")
	}
	if cfg.Cache.MemorySize < 1 {
		return cfg, errors.New("CACHE_MEMORY_SIZE must be >= 1")
	}
	if cfg.Cache.LocalCacheSize < 0 {
		return cfg, errors.New("REDIS_LOCAL_CACHE_SIZE must be >= 0")
	}
	if cfg.Cache.FailureThreshold < 1 {
		return cfg, errors.New("CACHE_FAILURE_THRESHOLD must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
