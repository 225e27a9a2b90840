package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/kova98/changealert.api/scanner"
)

const (
	EnvDevelopment = "DEV"
	EnvProduction  = "PROD"
)

type AppConfig struct {
	AppEnv   string // EnvDevelopment or EnvProduction
	LogLevel slog.Level
	Port     string

	PostgresURL string

	ChangeDetectionURL    string
	ChangeDetectionAPIKey string
	RegistryTimeout       time.Duration
	SnapshotTimeout       time.Duration
	ScanConcurrency       int
	ProxyURL              string // socks5:// for Tor, http:// for Privoxy

	SMTPHost        string
	SMTPPort        string
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	SMTPFromName    string
	SMTPTLS         string // none, tls or starttls
	SendConcurrency int

	AppBaseURL string
	APIKey     string

	KeycloakURL   string
	KeycloakRealm string

	AlertSchedule     string
	AlertHours        int
	AlertOnlyRecent   bool
	LanguageDetection bool

	RateLimitRPS   float64
	RateLimitBurst int
	RedisURL       string
	TrustProxy     bool // take the client address from the last X-Forwarded-For hop
}

var Config AppConfig

func LoadConfig() {
	cfg := AppConfig{}

	cfg.AppEnv = os.Getenv("APP_ENV")
	cfg.Port = loadOptional("PORT", "8080")
	cfg.PostgresURL = loadRequired("POSTGRES_URL")

	cfg.ChangeDetectionURL = loadRequired("CHANGEDETECTION_URL")
	cfg.ChangeDetectionAPIKey = loadRequired("CHANGEDETECTION_API_KEY")
	cfg.RegistryTimeout = loadDuration("REGISTRY_TIMEOUT", 30*time.Second)
	cfg.SnapshotTimeout = loadDuration("SNAPSHOT_TIMEOUT", 20*time.Second)
	cfg.ScanConcurrency = loadInt("SCAN_CONCURRENCY", 8)
	cfg.ProxyURL = os.Getenv("PROXY_URL")

	cfg.SMTPHost = loadRequired("SMTP_HOST")
	cfg.SMTPPort = loadOptional("SMTP_PORT", "587")
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFrom = loadRequired("SMTP_FROM")
	cfg.SMTPFromName = loadOptional("SMTP_FROM_NAME", "Change Alerts")
	cfg.SMTPTLS = loadOptional("SMTP_TLS", "starttls")
	cfg.SendConcurrency = loadInt("SEND_CONCURRENCY", 4)

	cfg.AppBaseURL = os.Getenv("APP_BASE_URL")
	cfg.APIKey = loadRequired("API_KEY")

	cfg.KeycloakURL = os.Getenv("KEYCLOAK_URL")
	cfg.KeycloakRealm = os.Getenv("KEYCLOAK_REALM")

	cfg.AlertSchedule = os.Getenv("ALERT_SCHEDULE")
	cfg.AlertHours = loadIntInRange("ALERT_HOURS", 24, scanner.MinLookbackHours, scanner.MaxLookbackHours)
	cfg.AlertOnlyRecent = loadBool("ALERT_ONLY_RECENT", true)
	cfg.LanguageDetection = loadBool("LANGUAGE_DETECTION", false)

	cfg.RateLimitRPS = loadFloat("RATE_LIMIT_RPS", 1)
	cfg.RateLimitBurst = loadInt("RATE_LIMIT_BURST", 10)
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.TrustProxy = loadBool("TRUST_PROXY", false)

	lvlString := loadOptional("LOG_LEVEL", "INFO")
	var err error
	cfg.LogLevel, err = parseLogLevel(lvlString)
	if err != nil {
		slog.Error("Invalid LOG_LEVEL", "error", err)
		cfg.LogLevel = slog.LevelInfo
	}

	Config = cfg
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	var err = level.UnmarshalText([]byte(s))
	return level, err
}

func loadRequired(key string) string {
	value := os.Getenv(key)
	if value == "" {
		slog.Error("Required env var not set", "key", key)
		os.Exit(1)
	}
	return value
}

func loadOptional(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func loadInt(key string, defaultValue int) int {
	v, err := parseInt(os.Getenv(key), defaultValue)
	if err != nil {
		slog.Error("Invalid integer env var, using default", "key", key, "default", defaultValue, "error", err)
	}
	return v
}

func loadIntInRange(key string, defaultValue, lo, hi int) int {
	v, err := parseIntInRange(os.Getenv(key), defaultValue, lo, hi)
	if err != nil {
		slog.Error("Invalid integer env var, using default", "key", key, "default", defaultValue, "error", err)
	}
	return v
}

func loadFloat(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Error("Invalid float env var, using default", "key", key, "default", defaultValue, "error", err)
		return defaultValue
	}
	return v
}

func loadBool(key string, defaultValue bool) bool {
	v, err := parseBool(os.Getenv(key), defaultValue)
	if err != nil {
		slog.Error("Invalid boolean env var, using default", "key", key, "default", defaultValue, "error", err)
	}
	return v
}

func loadDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := parseDuration(os.Getenv(key), defaultValue)
	if err != nil {
		slog.Error("Invalid duration env var, using default", "key", key, "default", defaultValue, "error", err)
	}
	return v
}

func parseInt(raw string, defaultValue int) (int, error) {
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue, err
	}
	if v <= 0 {
		return defaultValue, fmt.Errorf("must be positive, got %d", v)
	}
	return v, nil
}

func parseIntInRange(raw string, defaultValue, lo, hi int) (int, error) {
	v, err := parseInt(raw, defaultValue)
	if err != nil {
		return defaultValue, err
	}
	if v < lo || v > hi {
		return defaultValue, fmt.Errorf("must be between %d and %d, got %d", lo, hi, v)
	}
	return v, nil
}

func parseBool(raw string, defaultValue bool) (bool, error) {
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue, err
	}
	return v, nil
}

// parseDuration accepts Go duration strings ("45s") or a plain number of seconds.
func parseDuration(raw string, defaultValue time.Duration) (time.Duration, error) {
	if raw == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return defaultValue, fmt.Errorf("must be positive, got %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue, err
	}
	if d <= 0 {
		return defaultValue, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

func (c AppConfig) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

func (c AppConfig) KeycloakEnabled() bool {
	return c.KeycloakURL != "" && c.KeycloakRealm != ""
}
