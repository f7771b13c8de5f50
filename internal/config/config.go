package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/sitepulse/internal/logging"
)

type Config struct {
	ListenAddr          string
	DataDir             string
	StoreBackend        string
	MaxEvents           int
	AdminToken          string
	LogLevel            logging.Level
	LogFormat           logging.Format
	RateLimitPerMinute  int
	MaxRequestBodyBytes int64
	ContactRateLimit    int
	ContactRateWindow   time.Duration
	MetricsEnabled      bool

	// AllowedOrigins may call the API from a browser on another origin.
	// Entries are exact origins, "*.example.com" suffixes or "*".
	AllowedOrigins []string

	GeoIPDBPath   string
	BeaconLogPath string

	Mail Mail
}

// Mail holds the contact form recipient and provider credentials.
type Mail struct {
	Recipient      string
	SendGridAPIKey string
	BrevoUser      string
	BrevoKey       string
	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPass       string
}

func Load() Config {
	cfg := Config{
		ListenAddr:          getEnv("LISTEN_ADDR", ":3000"),
		DataDir:             getEnv("DATA_DIR", "./data"),
		StoreBackend:        strings.ToLower(getEnv("STORE_BACKEND", "file")),
		MaxEvents:           getEnvInt("MAX_EVENTS", 10000),
		AdminToken:          os.Getenv("ADMIN_TOKEN"),
		LogLevel:            logging.ParseLevel(getEnv("LOG_LEVEL", "INFO")),
		LogFormat:           logging.ParseFormat(getEnv("LOG_FORMAT", "text")),
		RateLimitPerMinute:  getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
		MaxRequestBodyBytes: getEnvInt64("MAX_REQUEST_BODY_BYTES", 64<<10),
		ContactRateLimit:    getEnvInt("CONTACT_RATE_LIMIT", 5),
		ContactRateWindow:   getEnvDuration("CONTACT_RATE_WINDOW", time.Hour),
		MetricsEnabled:      getEnvBool("METRICS_ENABLED", true),
		AllowedOrigins:      getEnvList("ALLOWED_ORIGINS"),
		GeoIPDBPath:         os.Getenv("GEOIP_DB_PATH"),
		BeaconLogPath:       os.Getenv("BEACON_LOG_PATH"),
		Mail: Mail{
			Recipient:      os.Getenv("MY_EMAIL"),
			SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),
			BrevoUser:      os.Getenv("BREVO_SMTP_USER"),
			BrevoKey:       os.Getenv("BREVO_SMTP_KEY"),
			SMTPHost:       os.Getenv("SMTP_HOST"),
			SMTPPort:       getEnvInt("SMTP_PORT", 587),
			SMTPUser:       os.Getenv("SMTP_USER"),
			SMTPPass:       os.Getenv("SMTP_PASS"),
		},
	}

	if cfg.MaxEvents <= 0 {
		slog.Warn("MAX_EVENTS must be positive, using default", "value", cfg.MaxEvents)
		cfg.MaxEvents = 10000
	}
	if cfg.StoreBackend != "file" && cfg.StoreBackend != "sqlite" {
		slog.Warn("unknown STORE_BACKEND, using file", "value", cfg.StoreBackend)
		cfg.StoreBackend = "file"
	}

	return cfg
}

// StorePath is the event log location for the configured backend.
func (c Config) StorePath() string {
	if c.StoreBackend == "sqlite" {
		return filepath.Join(c.DataDir, "analytics.db")
	}
	return filepath.Join(c.DataDir, "analytics.json")
}

// GeneratedContentPath is the cached generated-content document.
func (c Config) GeneratedContentPath() string {
	return filepath.Join(c.DataDir, "generated.json")
}

// StatsEnabled reports whether an admin token is configured.
func (c Config) StatsEnabled() bool {
	return c.AdminToken != ""
}

func getEnvInt64(key string, def int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		slog.Warn("invalid int64 environment variable", "key", key, "value", val, "error", err)
		return def
	}
	return parsed
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		slog.Warn("invalid bool environment variable", "key", key, "value", val, "error", err)
		return def
	}
	return parsed
}

func getEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid int environment variable", "key", key, "value", val, "error", err)
		return def
	}
	return parsed
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration environment variable", "key", key, "value", val, "error", err)
		return def
	}
	return parsed
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
