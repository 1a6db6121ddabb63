package indexer

import (
	"fmt"
	"time"
)

type Config struct {
	// MaxRecords bounds how many records of one snapshot are applied.
	// Larger snapshots are applied partially and flagged tooBig.
	MaxRecords int `yaml:"max_records"`
	// ReaderURL is the repository provider. Defaults to the primary
	// subscription endpoint.
	ReaderURL     string        `yaml:"reader_url"`
	ReaderTimeout time.Duration `yaml:"reader_timeout"`
	// HookTimeout bounds each after-commit side effect.
	HookTimeout time.Duration `yaml:"hook_timeout"`
}

func DefaultConfig() Config {
	return Config{
		MaxRecords:    10000,
		ReaderTimeout: 30 * time.Second,
		HookTimeout:   5 * time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.MaxRecords == 0 {
		c.MaxRecords = d.MaxRecords
	}
	if c.ReaderTimeout == 0 {
		c.ReaderTimeout = d.ReaderTimeout
	}
	if c.HookTimeout == 0 {
		c.HookTimeout = d.HookTimeout
	}
}

func (c *Config) ApplyEnvOverrides() {}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if c.MaxRecords <= 0 {
		return fmt.Errorf("indexer.max_records must be positive")
	}
	return nil
}
