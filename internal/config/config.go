// Package config provides configuration management for the lead router.
// Values load from environment variables with sensible defaults and are
// validated before the application starts.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./lead_router.db)
//   - POSTGRES_HOST: PostgreSQL host (required if using PostgreSQL)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (required if using PostgreSQL)
//   - POSTGRES_USER: PostgreSQL username (required if using PostgreSQL)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Security Configuration:
//   - JWT_SECRET: JWT signing secret (required, minimum 32 characters)
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Enable rate limiting (default: true)
//   - RATE_LIMIT_DEFAULT: Default rate limit per window (default: 100)
//   - RATE_LIMIT_WINDOW: Rate limit time window (default: 60s)
//
// Routing:
//   - ROUTE_TIMEOUT: Deadline for one route attempt (default: 10s)
//   - POLLER_ENABLED: Enable the unrouted-contact sweep (default: true)
//   - POLLER_SCHEDULE: Cron expression for the sweep (default: every minute)
//   - POLLER_BATCH_SIZE: Contacts per sweep (default: 50)
//
// CRM Integration:
//   - CRM_BASE_URL: External CRM REST endpoint (empty disables field refresh)
//   - CRM_API_TOKEN: CRM bearer token
//   - CRM_TIMEOUT: CRM request timeout (default: 10s)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the lead router. String fields
// correspond to environment variables. Load with Load() and check with
// Validate() before use.
type Config struct {
	// Application settings
	Port     string
	LogLevel string

	// Database configuration
	DatabaseType     string // "sqlite" or "postgres"
	DatabasePath     string // SQLite file path
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis configuration for locks, caching and assignment events
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	// Rate limiting configuration
	RateLimitEnabled bool
	RateLimitDefault string
	RateLimitWindow  string

	// JWT authentication configuration
	JWTSecret string

	// Routing configuration
	RouteTimeout    string
	PollerEnabled   bool
	PollerSchedule  string
	PollerBatchSize string

	// CRM integration. An empty base URL disables remote field refresh.
	CRMBaseURL  string
	CRMAPIToken string
	CRMTimeout  string
}

// Load creates a Config with values from environment variables, falling back
// to defaults. Call Validate() before using it.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./lead_router.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "lead_router"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitDefault: getEnv("RATE_LIMIT_DEFAULT", "100"),
		RateLimitWindow:  getEnv("RATE_LIMIT_WINDOW", "60s"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		RouteTimeout:    getEnv("ROUTE_TIMEOUT", "10s"),
		PollerEnabled:   getBoolEnv("POLLER_ENABLED", true),
		PollerSchedule:  getEnv("POLLER_SCHEDULE", "* * * * *"),
		PollerBatchSize: getEnv("POLLER_BATCH_SIZE", "50"),

		CRMBaseURL:  getEnv("CRM_BASE_URL", ""),
		CRMAPIToken: getEnv("CRM_API_TOKEN", ""),
		CRMTimeout:  getEnv("CRM_TIMEOUT", "10s"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks required fields, formats and cross-field dependencies.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if c.RateLimitEnabled {
		if limit, err := strconv.Atoi(c.RateLimitDefault); err != nil || limit < 1 {
			return fmt.Errorf("RATE_LIMIT_DEFAULT must be a positive number")
		}
		if _, err := time.ParseDuration(c.RateLimitWindow); err != nil {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be a valid duration (e.g., '60s', '1m')")
		}
	}

	if _, err := time.ParseDuration(c.RouteTimeout); err != nil {
		return fmt.Errorf("ROUTE_TIMEOUT must be a valid duration (e.g., '10s')")
	}

	if c.PollerEnabled {
		if size, err := strconv.Atoi(c.PollerBatchSize); err != nil || size < 1 {
			return fmt.Errorf("POLLER_BATCH_SIZE must be a positive number")
		}
	}

	if c.CRMBaseURL != "" {
		if _, err := time.ParseDuration(c.CRMTimeout); err != nil {
			return fmt.Errorf("CRM_TIMEOUT must be a valid duration (e.g., '10s')")
		}
	}

	return nil
}

// GetRouteTimeout parses the route attempt deadline. Validate guarantees it
// parses, so errors are ignored.
func (c *Config) GetRouteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.RouteTimeout)
	return d
}

// GetCRMTimeout parses the CRM request timeout.
func (c *Config) GetCRMTimeout() time.Duration {
	d, _ := time.ParseDuration(c.CRMTimeout)
	return d
}

// GetPollerBatchSize parses the poller batch size.
func (c *Config) GetPollerBatchSize() int {
	n, _ := strconv.Atoi(c.PollerBatchSize)
	return n
}
