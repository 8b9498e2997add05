package postgres

import (
	"fmt"

	apperrors "lead-router/internal/common/errors"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return apperrors.ConfigError("postgres host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return apperrors.ConfigError("postgres port must be between 1 and 65535")
	}
	if c.User == "" {
		return apperrors.ConfigError("postgres user is required")
	}
	if c.Database == "" {
		return apperrors.ConfigError("postgres database is required")
	}
	return nil
}

func (c *Config) GetType() string {
	return "postgres"
}

func (c *Config) GetConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Database: "lead_router",
		SSLMode:  "disable",
	}
}
