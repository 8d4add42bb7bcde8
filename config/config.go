package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" envDefault:"vine-api"`
	Version                       string   `env:"APP_VERSION" envDefault:"dev"`
	Port                          int      `env:"PORT" envDefault:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" envDefault:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" envDefault:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" envDefault:"60"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" envDefault:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" envDefault:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" envDefault:"64000"` // 64KB
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" envDefault:"*"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" envDefault:"5"`

	// Database host. Postgres-backed stores are disabled when empty.
	DatabaseHost string `env:"DB_HOST" envDefault:""`
	// Database port
	DatabasePort string `env:"DB_PORT" envDefault:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" envDefault:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" envDefault:""`
	// Database name
	DatabaseName string `env:"DB_NAME" envDefault:"vine"`
	// Database SSL mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" envDefault:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" envDefault:"db/pg"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" envDefault:"true"`

	// Redis chain cache
	RedisEnabled  bool          `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost     string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	ChainCacheTTL time.Duration `env:"CHAIN_CACHE_TTL" envDefault:"5m"`

	// Kafka brokers (comma-separated). Execution events are not published when empty.
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:""`
	// Kafka topic for finished executions
	KafkaExecutionTopic string `env:"KAFKA_EXECUTION_TOPIC" envDefault:"vine-executions"`

	// Execution settings
	// Maximum step visits per top-level execution
	MaxSteps int `env:"EXECUTION_MAX_STEPS" envDefault:"100"`
	// Maximum nesting depth for chain calls and jumps
	MaxRecursionDepth int `env:"EXECUTION_MAX_RECURSION_DEPTH" envDefault:"10"`
	// Timeout for module calls that do not set their own
	DefaultStepTimeout time.Duration `env:"EXECUTION_DEFAULT_STEP_TIMEOUT" envDefault:"30s"`

	// Static module base URLs, e.g. "users=http://users:8080,items=http://items:8080"
	Modules string `env:"MODULES" envDefault:""`
	// Chain definition file loaded into memory when no database is configured
	ChainsFile string `env:"CHAINS_FILE" envDefault:""`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" envDefault:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" envDefault:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" envDefault:"true"`
}

// Load reads optional .env files, then parses the environment into a Config.
// With no files given it looks for .env in the working directory.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values env tags cannot express
func (c *Config) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("PORT must be positive, got %d", c.Port)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("EXECUTION_MAX_STEPS must be positive, got %d", c.MaxSteps)
	}
	if c.MaxRecursionDepth < 0 {
		return fmt.Errorf("EXECUTION_MAX_RECURSION_DEPTH must not be negative, got %d", c.MaxRecursionDepth)
	}
	if c.DefaultStepTimeout <= 0 {
		return fmt.Errorf("EXECUTION_DEFAULT_STEP_TIMEOUT must be positive, got %s", c.DefaultStepTimeout)
	}
	switch c.OTLPProtocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("OTLP_PROTOCOL must be grpc or http, got %q", c.OTLPProtocol)
	}
	return nil
}

// DatabaseEnabled reports whether Postgres-backed stores are configured
func (c *Config) DatabaseEnabled() bool {
	return c.DatabaseHost != ""
}

// KafkaEnabled reports whether execution events are published
func (c *Config) KafkaEnabled() bool {
	return c.KafkaBrokers != ""
}
