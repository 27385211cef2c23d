package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/triage-review-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external services and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string

	// HTTP settings
	HTTPPort       int
	RequestTimeout time.Duration

	// Routing
	DefaultClinician string

	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()

	return &LiteConfig{
		DataDir:          filepath.Join(homeDir, ".triage-review"),
		HTTPPort:         8080,
		RequestTimeout:   5 * time.Second,
		DefaultClinician: "triage-desk",
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("TRIAGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TRIAGE_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 65535 {
			cfg.HTTPPort = n
		}
	}
	if v := os.Getenv("TRIAGE_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RequestTimeout = d
		}
	}
	if v := os.Getenv("TRIAGE_DEFAULT_CLINICIAN"); v != "" {
		cfg.DefaultClinician = v
	}
	if v := os.Getenv("TRIAGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TRIAGE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// StorePath returns the path to the triage SQLite database.
func (c *LiteConfig) StorePath() string {
	return filepath.Join(c.DataDir, "triage.db")
}

// AuditDBPath returns the path to the audit SQLite database.
func (c *LiteConfig) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// ExportDir returns the directory for JSON audit exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// ToConfig expands the lite settings into a full configuration with
// messaging, cache and archive disabled.
func (c *LiteConfig) ToConfig() *domain.Config {
	return &domain.Config{
		Environment: "lite",
		Server: domain.ServerConfig{
			Host:           "0.0.0.0",
			Port:           c.HTTPPort,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			RequestTimeout: 2 * c.RequestTimeout,
		},
		Routing: domain.RoutingConfig{
			DefaultClinician:   c.DefaultClinician,
			UrgentDue:          24 * time.Hour,
			StandardDue:        72 * time.Hour,
			ClinicianCacheSize: 256,
			TaskListLimit:      200,
		},
		Review: domain.ReviewConfig{
			RequestTimeout:  c.RequestTimeout,
			ObserverTimeout: 10 * time.Second,
		},
		RateLimit: domain.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
			MaxClients:        1000,
		},
		Logging: domain.LoggingConfig{
			Level:  c.LogLevel,
			Format: c.LogFormat,
			Output: "stderr",
		},
	}
}
