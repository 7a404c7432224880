// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes the bot settings:
// Telegram credentials and update mode, the media cache database, the
// content API, rate limits, random-history storage, the admin HTTP server,
// logging and observability.
package config

import (
	"errors"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Update modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Telegram accepts only this alphabet for webhook secret tokens.
var webhookSecretRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// State backends for the random-command history.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// TelegramConfig defines the bot credential and how updates are received.
type TelegramConfig struct {
	Token       string        // TELEGRAM_BOT_TOKEN
	APIEndpoint string        // TELEGRAM_API_ENDPOINT (tgbotapi format, with %s placeholders)
	Debug       bool          // TELEGRAM_DEBUG
	UpdateMode  string        // polling|webhook
	PollTimeout time.Duration // long-poll timeout
	WebhookURL  string        // public URL Telegram posts to
	WebhookPath string        // route on the admin server

	// WebhookSecret is registered with setWebhook; Telegram echoes it in
	// X-Telegram-Bot-Api-Secret-Token and other callers are rejected.
	WebhookSecret string
}

// ContentConfig defines the dtf.ru API endpoints.
type ContentConfig struct {
	APIBase     string
	MediaBase   string
	HTTPTimeout time.Duration
}

// LimitsConfig defines the fixed-interval limits.
type LimitsConfig struct {
	UserInterval   time.Duration // between accepted links of one chat
	APIInterval    time.Duration // between upstream API calls
	PostMediaDelay time.Duration // after each item of a full-post relay
}

// StateConfig defines where the random-command history lives.
type StateConfig struct {
	Backend     string // memory|redis
	HistorySize int
	HistoryTTL  time.Duration
	RedisURL    string
	RedisPrefix string
}

// LogConfig defines zerolog output.
type LogConfig struct {
	Level      string // debug|info|warn|error|fatal|panic
	Pretty     bool   // console writer instead of JSON
	File       string // optional rotating file sink
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	Telegram TelegramConfig

	// Cache
	DBPath     string // SQLite path
	MediaTable string // table name for cached media

	Content ContentConfig
	Limits  LimitsConfig
	State   StateConfig

	RandomCommand string // literal command for a random cached video

	// Admin server
	AdminPort         string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	GinMode           string // debug|release|test

	Log  LogConfig
	OTEL OTELConfig
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Telegram: TelegramConfig{
			Token:       strings.TrimSpace(getenv("TELEGRAM_BOT_TOKEN", "")),
			APIEndpoint: getenv("TELEGRAM_API_ENDPOINT", ""),
			Debug:       getbool("TELEGRAM_DEBUG", false),
			UpdateMode:  strings.ToLower(getenv("UPDATE_MODE", ModePolling)),
			PollTimeout: getdur("POLL_TIMEOUT", 60*time.Second),
			WebhookURL:  getenv("WEBHOOK_URL", ""),
			WebhookPath: normalizeBasePath(getenv("WEBHOOK_PATH", "/telegram/webhook")),

			WebhookSecret: strings.TrimSpace(getenv("WEBHOOK_SECRET", "")),
		},

		DBPath:     getenv("DB_PATH", "dtf-relay-bot.db"),
		MediaTable: getenv("MEDIA_TABLE", "cached_media"),

		Content: ContentConfig{
			APIBase:     getenv("CONTENT_API_BASE", "https://api.dtf.ru/v2.1"),
			MediaBase:   getenv("MEDIA_BASE", "https://leonardo.osnova.io"),
			HTTPTimeout: getdur("HTTP_TIMEOUT", 30*time.Second),
		},

		Limits: LimitsConfig{
			UserInterval:   getdur("USER_RATE_INTERVAL", time.Second),
			APIInterval:    getdur("API_RATE_INTERVAL", 350*time.Millisecond),
			PostMediaDelay: getdur("POST_MEDIA_DELAY", time.Second),
		},

		State: StateConfig{
			Backend:     strings.ToLower(getenv("STATE_BACKEND", BackendMemory)),
			HistorySize: getint("HISTORY_SIZE", 10000),
			HistoryTTL:  getdur("HISTORY_TTL", 24*time.Hour),
			RedisURL:    getenv("REDIS_URL", ""),
			RedisPrefix: getenv("REDIS_PREFIX", "dtfbot:"),
		},

		RandomCommand: strings.TrimSpace(getenv("RANDOM_COMMAND", "/random")),

		AdminPort:         getenv("ADMIN_PORT", "8080"),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 30*time.Second),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		Log: LogConfig{
			Level:      strings.ToLower(getenv("LOG_LEVEL", "info")),
			Pretty:     getbool("LOG_PRETTY", false),
			File:       getenv("LOG_FILE", ""),
			MaxSizeMB:  getint("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getint("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getint("LOG_MAX_AGE_DAYS", 7),
			Compress:   getbool("LOG_COMPRESS", false),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "dtf-relay-bot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.Log.Level == "warning" {
		cfg.Log.Level = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	if cfg.Telegram.Token == "" {
		return cfg, errors.New("TELEGRAM_BOT_TOKEN must be set")
	}
	switch cfg.Telegram.UpdateMode {
	case ModePolling:
		if cfg.Telegram.PollTimeout < time.Second {
			return cfg, errors.New("POLL_TIMEOUT must be at least 1s")
		}
	case ModeWebhook:
		u, err := url.Parse(cfg.Telegram.WebhookURL)
		if cfg.Telegram.WebhookURL == "" || err != nil || u.Scheme != "https" || u.Host == "" {
			return cfg, errors.New("WEBHOOK_URL must be an https URL in webhook mode")
		}
		if !webhookSecretRE.MatchString(cfg.Telegram.WebhookSecret) {
			return cfg, errors.New("WEBHOOK_SECRET must be 1-256 characters of A-Z, a-z, 0-9, _ or - in webhook mode")
		}
	default:
		return cfg, errors.New("UPDATE_MODE must be one of: polling, webhook")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.MediaTable) == "" {
		return cfg, errors.New("MEDIA_TABLE must not be empty")
	}
	if !isHTTPURL(cfg.Content.APIBase) || !isHTTPURL(cfg.Content.MediaBase) {
		return cfg, errors.New("CONTENT_API_BASE and MEDIA_BASE must be http(s) URLs")
	}
	if cfg.Content.HTTPTimeout <= 0 {
		return cfg, errors.New("HTTP_TIMEOUT must be > 0")
	}
	if cfg.Limits.UserInterval < 0 || cfg.Limits.APIInterval < 0 || cfg.Limits.PostMediaDelay < 0 {
		return cfg, errors.New("rate intervals must be >= 0")
	}
	if cfg.RandomCommand == "" || !strings.HasPrefix(cfg.RandomCommand, "/") {
		return cfg, errors.New("RANDOM_COMMAND must start with '/'")
	}
	switch cfg.State.Backend {
	case BackendMemory:
		if cfg.State.HistorySize < 0 {
			return cfg, errors.New("HISTORY_SIZE must be >= 0")
		}
	case BackendRedis:
		if strings.TrimSpace(cfg.State.RedisURL) == "" {
			return cfg, errors.New("REDIS_URL must be set when STATE_BACKEND=redis")
		}
	default:
		return cfg, errors.New("STATE_BACKEND must be one of: memory, redis")
	}
	if strings.TrimSpace(cfg.AdminPort) == "" {
		return cfg, errors.New("ADMIN_PORT must not be empty")
	}
	if cfg.ReadHeaderTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.Log.MaxSizeMB <= 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		return cfg, errors.New("LOG_MAX_SIZE_MB must be > 0, LOG_MAX_BACKUPS and LOG_MAX_AGE_DAYS >= 0")
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

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
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
