package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wardex-cloud/internal/auth"
)

// Config holds process settings. Environment supplies defaults; the optional
// YAML file named by WARDEX_CONFIG overrides them.
type Config struct {
	DatabaseURL     string        `yaml:"database_url"`
	HTTPAddr        string        `yaml:"http_addr"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	JWTSecret string `yaml:"jwt_secret"`

	IngestAuthMode   string        `yaml:"ingest_auth_mode"`
	IngestHMACSecret string        `yaml:"ingest_hmac_secret"`
	IngestMaxSkew    time.Duration `yaml:"ingest_max_skew"`

	HubConnectionString string        `yaml:"hub_connection_string"`
	HubTimeout          time.Duration `yaml:"hub_timeout"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	HistoryDefaultLimit int `yaml:"history_default_limit"`
	HistoryMaxLimit     int `yaml:"history_max_limit"`

	AlarmWebhookURL         string        `yaml:"alarm_webhook_url"`
	AlarmNotifyTemplate     string        `yaml:"alarm_notify_template"`
	AlarmNotifyCooldown     time.Duration `yaml:"alarm_notify_cooldown"`
	AlarmNotifyDedupeWindow time.Duration `yaml:"alarm_notify_dedupe_window"`
	AlarmNotifyTimeout      time.Duration `yaml:"alarm_notify_timeout"`
}

// Load reads configuration from the environment and the optional YAML overlay.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:     getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		LogLevel:        getenvDefault("LOG_LEVEL", "info"),
		ShutdownTimeout: getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		JWTSecret: getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),

		IngestAuthMode:   getenvDefault("INGEST_AUTH_MODE", string(auth.DeviceAuthDeviceID)),
		IngestHMACSecret: getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestMaxSkew:    time.Duration(getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300)) * time.Second,

		HubConnectionString: getenvDefault("IOTHUB_SERVICE_CONNECTION_STRING", ""),
		HubTimeout:          getenvDuration("HUB_TIMEOUT", 10*time.Second),

		CORSAllowedOrigins: splitCSV(getenvDefault("CORS_ALLOWED_ORIGINS", "")),

		HistoryDefaultLimit: getenvIntDefault("HISTORY_DEFAULT_LIMIT", 200),
		HistoryMaxLimit:     getenvIntDefault("HISTORY_MAX_LIMIT", 1000),

		AlarmWebhookURL:         getenvDefault("ALARM_WEBHOOK_URL", ""),
		AlarmNotifyTemplate:     getenvDefault("ALARM_NOTIFY_TEMPLATE", ""),
		AlarmNotifyCooldown:     getenvDuration("ALARM_NOTIFY_COOLDOWN", 0),
		AlarmNotifyDedupeWindow: getenvDuration("ALARM_NOTIFY_DEDUP_WINDOW", 0),
		AlarmNotifyTimeout:      getenvDuration("ALARM_NOTIFY_TIMEOUT", 5*time.Second),
	}

	if path := os.Getenv("WARDEX_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks required settings and normalizes ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	mode, err := auth.ParseDeviceAuthMode(c.IngestAuthMode)
	if err != nil {
		return err
	}
	c.IngestAuthMode = string(mode)
	if mode == auth.DeviceAuthHMAC && c.IngestHMACSecret == "" {
		return errors.New("config: INGEST_HMAC_SECRET is required for hmac ingest auth")
	}
	if c.HubTimeout <= 0 {
		c.HubTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.HistoryMaxLimit <= 0 {
		c.HistoryMaxLimit = 1000
	}
	if c.HistoryDefaultLimit <= 0 || c.HistoryDefaultLimit > c.HistoryMaxLimit {
		c.HistoryDefaultLimit = min(200, c.HistoryMaxLimit)
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
