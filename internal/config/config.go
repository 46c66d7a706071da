// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings. Empty means the in-memory audit store.
	DatabaseURL string

	// Auth settings. Empty APIKeyHash disables authentication.
	APIKeyHash    string
	JWTExpiration time.Duration

	// Model provider settings. Empty OpenAIAPIKey falls back to the
	// built-in pattern diagnoser and simulated patcher.
	OpenAIAPIKey string
	OpenAIModel  string

	// Healing settings.
	AutoHeal        bool
	DiagnoseTimeout time.Duration
	PatchTimeout    time.Duration
	ApplyTimeout    time.Duration
	VerifyTimeout   time.Duration
	ApprovalTimeout time.Duration
	MaxLOC          int

	// Target workspace the healer is allowed to patch.
	TargetRoot string

	// Event settings.
	EventRetention    int
	AuditBatchSize    int
	AuditFlushTimeout time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("SELFHEAL_PORT", 8080),
		ReadTimeout:         envDuration("SELFHEAL_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("SELFHEAL_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		APIKeyHash:          envStr("SELFHEAL_API_KEY_HASH", ""),
		JWTExpiration:       envDuration("SELFHEAL_JWT_EXPIRATION", 24*time.Hour),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		OpenAIModel:         envStr("SELFHEAL_OPENAI_MODEL", "gpt-4o-mini"),
		AutoHeal:            envBool("SELFHEAL_AUTO_HEAL", true),
		DiagnoseTimeout:     envDuration("SELFHEAL_DIAGNOSE_TIMEOUT", 30*time.Second),
		PatchTimeout:        envDuration("SELFHEAL_PATCH_TIMEOUT", 60*time.Second),
		ApplyTimeout:        envDuration("SELFHEAL_APPLY_TIMEOUT", 10*time.Second),
		VerifyTimeout:       envDuration("SELFHEAL_VERIFY_TIMEOUT", 30*time.Second),
		ApprovalTimeout:     envDuration("SELFHEAL_APPROVAL_TIMEOUT", 10*time.Minute),
		MaxLOC:              envInt("SELFHEAL_MAX_LOC", 30),
		TargetRoot:          envStr("SELFHEAL_TARGET_ROOT", ""),
		EventRetention:      envInt("SELFHEAL_EVENT_RETENTION", 4096),
		AuditBatchSize:      envInt("SELFHEAL_AUDIT_BATCH_SIZE", 64),
		AuditFlushTimeout:   envDuration("SELFHEAL_AUDIT_FLUSH_TIMEOUT", time.Second),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "selfheal"),
		LogLevel:            envStr("SELFHEAL_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("SELFHEAL_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: SELFHEAL_PORT must be a valid port")
	}
	if c.MaxLOC <= 0 {
		return fmt.Errorf("config: SELFHEAL_MAX_LOC must be positive")
	}
	if c.EventRetention <= 0 {
		return fmt.Errorf("config: SELFHEAL_EVENT_RETENTION must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: SELFHEAL_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

// SlogLevel maps the configured log level name onto a slog.Level.
// Unknown names fall back to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
