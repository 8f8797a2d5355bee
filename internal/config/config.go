// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// database, scheduler, rate limiting, Telegram, Instagram, WebDav storage,
// logging, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SchedulerConfig defines queue polling and processing settings.
type SchedulerConfig struct {
	PollInterval   time.Duration // how often due entries are claimed
	BatchLimit     int           // max entries claimed per tick
	Workers        int           // bounded concurrent processor invocations
	MaxAttempts    int           // retry budget per download/upload phase
	RetryBaseDelay time.Duration // base delay for exponential backoff
}

// RateLimitConfig holds the defaults used when provisioning a new user's
// request profile. Existing profiles in the database take precedence.
type RateLimitConfig struct {
	RequestsPerDay     int
	RequestsPerHour    int
	RandomShiftMinutes int
}

// TelegramConfig defines the bot front-end settings.
type TelegramConfig struct {
	Token                string
	StatusUpdateInterval time.Duration // status message refresh period
	DefaultUserStatus    string        // allowed|denied for newly registered users
}

// InstagramConfig defines the content source client settings.
type InstagramConfig struct {
	BaseURL           string
	UserAgent         string
	SessionID         string // session cookie; empty means anonymous access
	RequestsPerSecond float64
	Timeout           time.Duration
}

// WebDavConfig defines the target storage settings.
type WebDavConfig struct {
	URL      string
	Username string
	Password string
	RootDir  string // remote directory all uploads are placed under
}

// Config holds all configuration values for the application.
type Config struct {
	// Ops HTTP server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	GinMode           string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Storage
	DBPath  string // SQLite path (default driver)
	DBDSN   string // PostgreSQL DSN; when set, overrides DBPath
	TempDir string // local directory for downloaded content

	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
	Telegram  TelegramConfig
	Instagram InstagramConfig
	WebDav    WebDavConfig
	OTEL      OTELConfig
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
		// Ops HTTP server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Storage
		DBPath:  getenv("DB_PATH", "bot.db"),
		DBDSN:   getenv("DB_DSN", ""),
		TempDir: getenv("TEMP_DIR", "tmp"),

		Scheduler: SchedulerConfig{
			PollInterval:   getdur("QUEUE_POLL_INTERVAL", 60*time.Second),
			BatchLimit:     getint("QUEUE_BATCH_LIMIT", 10),
			Workers:        getint("QUEUE_WORKERS", 4),
			MaxAttempts:    getint("QUEUE_MAX_ATTEMPTS", 3),
			RetryBaseDelay: getdur("QUEUE_RETRY_BASE_DELAY", 2*time.Second),
		},

		RateLimit: RateLimitConfig{
			RequestsPerDay:     getint("RATE_REQUESTS_PER_DAY", 24),
			RequestsPerHour:    getint("RATE_REQUESTS_PER_HOUR", 2),
			RandomShiftMinutes: getint("RATE_RANDOM_SHIFT_MINUTES", 10),
		},

		Telegram: TelegramConfig{
			Token:                getenv("TELEGRAM_TOKEN", ""),
			StatusUpdateInterval: getdur("STATUS_UPDATE_INTERVAL", 30*time.Second),
			DefaultUserStatus:    strings.ToLower(getenv("TELEGRAM_DEFAULT_USER_STATUS", "allowed")),
		},

		Instagram: InstagramConfig{
			BaseURL:           getenv("INSTAGRAM_BASE_URL", "https://www.instagram.com"),
			UserAgent:         getenv("INSTAGRAM_USERAGENT", "Mozilla/5.0 (X11; Linux x86_64)"),
			SessionID:         getenv("INSTAGRAM_SESSION", ""),
			RequestsPerSecond: getfloat("INSTAGRAM_RPS", 0.5),
			Timeout:           getdur("INSTAGRAM_TIMEOUT", 60*time.Second),
		},

		WebDav: WebDavConfig{
			URL:      getenv("WEBDAV_URL", ""),
			Username: getenv("WEBDAV_USERNAME", ""),
			Password: getenv("WEBDAV_PASSWORD", ""),
			RootDir:  getenv("WEBDAV_ROOT_DIR", "instagram"),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "instabot-downloader"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
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
	if strings.TrimSpace(cfg.DBPath) == "" && strings.TrimSpace(cfg.DBDSN) == "" {
		return cfg, errors.New("one of DB_PATH or DB_DSN must be set")
	}
	if strings.TrimSpace(cfg.TempDir) == "" {
		return cfg, errors.New("TEMP_DIR must not be empty")
	}
	if cfg.Scheduler.PollInterval <= 0 {
		return cfg, errors.New("QUEUE_POLL_INTERVAL must be > 0")
	}
	if cfg.Scheduler.BatchLimit < 1 {
		return cfg, errors.New("QUEUE_BATCH_LIMIT must be >= 1")
	}
	if cfg.Scheduler.Workers < 1 {
		return cfg, errors.New("QUEUE_WORKERS must be >= 1")
	}
	if cfg.Scheduler.MaxAttempts < 1 {
		return cfg, errors.New("QUEUE_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Scheduler.RetryBaseDelay <= 0 {
		return cfg, errors.New("QUEUE_RETRY_BASE_DELAY must be > 0")
	}
	if cfg.RateLimit.RequestsPerDay < 1 || cfg.RateLimit.RequestsPerHour < 1 {
		return cfg, errors.New("rate limit defaults must be >= 1")
	}
	if cfg.RateLimit.RandomShiftMinutes < 0 {
		return cfg, errors.New("RATE_RANDOM_SHIFT_MINUTES must be >= 0")
	}
	switch cfg.Telegram.DefaultUserStatus {
	case "allowed", "denied":
	default:
		return cfg, errors.New("TELEGRAM_DEFAULT_USER_STATUS must be allowed or denied")
	}
	if cfg.Instagram.RequestsPerSecond <= 0 {
		return cfg, errors.New("INSTAGRAM_RPS must be > 0")
	}
	if cfg.Instagram.Timeout <= 0 {
		return cfg, errors.New("INSTAGRAM_TIMEOUT must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

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
