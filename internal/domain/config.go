package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Messaging   MessagingConfig `mapstructure:"messaging"`
	Archive     ArchiveConfig   `mapstructure:"archive"`
	Routing     RoutingConfig   `mapstructure:"routing"`
	Review      ReviewConfig    `mapstructure:"review"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Breaker     BreakerConfig   `mapstructure:"breaker"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig represents Redis cache configuration
type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	RedisURL    string        `mapstructure:"redis_url"`
	TaskListTTL time.Duration `mapstructure:"task_list_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// MessagingConfig represents Kafka event bus configuration
type MessagingConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	Brokers []string     `mapstructure:"brokers"`
	GroupID string       `mapstructure:"group_id"`
	Topics  TopicsConfig `mapstructure:"topics"`
}

// TopicsConfig names the topics used for cross-component signals
type TopicsConfig struct {
	UrgentIntake  string `mapstructure:"urgent_intake"`
	TaskCompleted string `mapstructure:"task_completed"`
	ReviewSealed  string `mapstructure:"review_sealed"`
}

// ArchiveConfig represents S3 archive configuration for sealed reviews
type ArchiveConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"` // optional, for S3-compatible stores
	Prefix   string `mapstructure:"prefix"`
}

// RoutingConfig represents task routing defaults
type RoutingConfig struct {
	DefaultClinician   string        `mapstructure:"default_clinician"`
	UrgentDue          time.Duration `mapstructure:"urgent_due"`
	StandardDue        time.Duration `mapstructure:"standard_due"`
	ClinicianCacheSize int           `mapstructure:"clinician_cache_size"`
	TaskListLimit      int           `mapstructure:"task_list_limit"`
}

// ReviewConfig bounds verdict engine calls
type ReviewConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ObserverTimeout time.Duration `mapstructure:"observer_timeout"`
}

// RateLimitConfig represents per-client API rate limiting
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	MaxClients        int     `mapstructure:"max_clients"`
}

// BreakerConfig represents the circuit breaker guarding intake persistence
type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
