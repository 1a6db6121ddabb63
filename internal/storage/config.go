package storage

import (
	"errors"
	"os"
	"time"
)

// Config holds the Postgres connection settings.
type Config struct {
	DatabaseURL     string        `yaml:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
	// Migrate creates missing tables on startup.
	Migrate bool `yaml:"migrate"`
}

func DefaultConfig() Config {
	return Config{
		DatabaseURL:     "postgres://localhost:5432/appview?sslmode=disable",
		MaxOpenConns:    32,
		MaxIdleConns:    8,
		ConnMaxLifetime: 30 * time.Minute,
		PingTimeout:     5 * time.Second,
		Migrate:         true,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.DatabaseURL == "" {
		c.DatabaseURL = d.DatabaseURL
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = d.MaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = d.MaxIdleConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = d.ConnMaxLifetime
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = d.PingTimeout
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("DATABASE_URL"); val != "" {
		c.DatabaseURL = val
	}
}

// ResolvePaths is a no-op; storage has no filesystem paths.
func (c *Config) ResolvePaths(_, _ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("storage.database_url is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("storage.max_idle_conns must not exceed storage.max_open_conns")
	}
	return nil
}
