package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Health        HealthConfig
	Routing       RoutingConfig
	Batch         BatchConfig
	Outcomes      OutcomesConfig
	Observability ObservabilityConfig
	ProvidersFile string
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
// An empty configuration disables outcome persistence.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// HealthConfig holds provider health monitoring settings
type HealthConfig struct {
	CacheTTL          time.Duration
	LatencyThreshold  time.Duration
	DownAfterFailures int
	RefreshInterval   time.Duration
	ProbeTimeout      time.Duration
	ProbeConcurrency  int
	ProbeRatePerSec   float64
	ProbeBurst        int
}

// RoutingConfig holds routing decision cache settings
type RoutingConfig struct {
	CacheTTL  time.Duration
	CacheSize int
}

// BatchConfig holds batch routing settings
type BatchConfig struct {
	MaxConcurrency int
	Timeout        time.Duration
}

// OutcomesConfig holds the asynchronous outcome recorder settings
type OutcomesConfig struct {
	QueueSize int
	Workers   int
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment:   getEnv("ENVIRONMENT", "development"),
		ProvidersFile: getEnv("PROVIDERS_FILE", "providers.yaml"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Health: HealthConfig{
			CacheTTL:          getEnvAsDuration("HEALTH_CACHE_TTL", 60*time.Second),
			LatencyThreshold:  getEnvAsDuration("HEALTH_LATENCY_THRESHOLD", 2*time.Second),
			DownAfterFailures: getEnvAsInt("HEALTH_DOWN_AFTER_FAILURES", 3),
			RefreshInterval:   getEnvAsDuration("HEALTH_REFRESH_INTERVAL", 30*time.Second),
			ProbeTimeout:      getEnvAsDuration("PROBE_TIMEOUT", 5*time.Second),
			ProbeConcurrency:  getEnvAsInt("PROBE_CONCURRENCY", 8),
			ProbeRatePerSec:   getEnvAsFloat("PROBE_RATE_PER_SEC", 1),
			ProbeBurst:        getEnvAsInt("PROBE_BURST", 1),
		},
		Routing: RoutingConfig{
			CacheTTL:  getEnvAsDuration("ROUTING_CACHE_TTL", 5*time.Minute),
			CacheSize: getEnvAsInt("ROUTING_CACHE_SIZE", 10000),
		},
		Batch: BatchConfig{
			MaxConcurrency: getEnvAsInt("BATCH_MAX_CONCURRENCY", 10),
			Timeout:        getEnvAsDuration("BATCH_TIMEOUT", 30*time.Second),
		},
		Outcomes: OutcomesConfig{
			QueueSize: getEnvAsInt("OUTCOME_QUEUE_SIZE", 10000),
			Workers:   getEnvAsInt("OUTCOME_WORKERS", 4),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", ""),
		},
	}

	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
		if cfg.IsDevelopment() {
			cfg.Observability.LogFormat = "console"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Database.Enabled() && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.ProvidersFile == "" {
		return fmt.Errorf("providers file is required")
	}

	if c.Health.DownAfterFailures <= 0 {
		return fmt.Errorf("health down-after-failures must be positive")
	}
	if c.Health.CacheTTL <= 0 || c.Health.ProbeTimeout <= 0 {
		return fmt.Errorf("health cache TTL and probe timeout must be positive")
	}
	if c.Routing.CacheTTL <= 0 {
		return fmt.Errorf("routing cache TTL must be positive")
	}
	if c.Batch.MaxConcurrency <= 0 {
		return fmt.Errorf("batch max concurrency must be positive")
	}

	if c.IsProduction() {
		for _, origin := range c.Server.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf("explicit CORS allowed origins are required in production")
			}
		}
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("TLS cert and key files are required when TLS is enabled")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Enabled reports whether a database is configured
func (c *DatabaseConfig) Enabled() bool {
	return c.ConnectionString != "" || c.Host != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "orchestrator")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
