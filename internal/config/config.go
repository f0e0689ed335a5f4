package config

import (
	"time"
)

// Config represents the complete application configuration. Values are
// layered: defaults, then the YAML config file, then .env, then
// CAMBIOWATCH_* environment variables, then command-line flags.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Retention RetentionConfig `mapstructure:"retention"`
	API       APIConfig       `mapstructure:"api"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=0,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the SQL backend.
//
// driver "libsql" uses Path (local file) or URL (Turso/libsql server) with
// AuthToken; driver "postgres" uses URL as a pgx connection string.
type StoreConfig struct {
	Driver       string `mapstructure:"driver" validate:"oneof=libsql postgres"`
	Path         string `mapstructure:"path"`
	URL          string `mapstructure:"url" validate:"required_if=Driver postgres"`
	AuthToken    string `mapstructure:"auth_token"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

// ScrapeConfig controls the scrape cycle.
type ScrapeConfig struct {
	// Interval between scheduled cycles.
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`

	// Budget is the longest a caller waits for the provisional result.
	Budget time.Duration `mapstructure:"budget" validate:"gt=0"`

	// MinResults is the number of sources that ends the wait early.
	MinResults int `mapstructure:"min_results" validate:"min=1"`

	// HardTimeout bounds each extractor, including background stragglers.
	// Zero selects the engine default; it is never unbounded.
	HardTimeout time.Duration `mapstructure:"hard_timeout" validate:"gte=0"`

	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base" validate:"gte=0"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap" validate:"gte=0"`

	Headless       bool     `mapstructure:"headless"`
	BrowserChannel string   `mapstructure:"browser_channel"`
	UserAgent      string   `mapstructure:"user_agent"`
	Providers      []string `mapstructure:"providers"`
}

// RetentionConfig controls the daily cleanup of old rows.
type RetentionConfig struct {
	Days        int `mapstructure:"days" validate:"min=1"`
	CleanupHour int `mapstructure:"cleanup_hour" validate:"min=0,max=23"`
}

// APIConfig contains HTTP API policy.
type APIConfig struct {
	// AdminKey protects POST /api/refresh when set (X-API-Key header).
	AdminKey string `mapstructure:"admin_key"`

	RateLimit      int           `mapstructure:"rate_limit" validate:"gte=0"`
	RateWindow     time.Duration `mapstructure:"rate_window" validate:"gte=0"`
	RefreshLimit   int           `mapstructure:"refresh_limit" validate:"gte=0"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// KafkaConfig enables publishing settled cycles to a topic.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true,dive,hostname_port"`
	Topic   string   `mapstructure:"topic" validate:"required_if=Enabled true"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn warning error"`

	// Profile selects the logging complexity level
	// Valid values: simple, structured
	Profile string `mapstructure:"profile" validate:"omitempty,oneof=simple structured"`

	// Environment is stamped on every server log line
	Environment string `mapstructure:"environment"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
