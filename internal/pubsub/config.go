package pubsub

import (
	"fmt"
	"os"
)

type Config struct {
	// URL of the NATS server. Notifications are disabled when empty.
	URL           string `yaml:"url"`
	StreamName    string `yaml:"stream_name"`
	SubjectPrefix string `yaml:"subject_prefix"`
	RetryAttempts int    `yaml:"retry_attempts"`
}

func DefaultConfig() Config {
	return Config{
		StreamName:    "APPVIEW",
		SubjectPrefix: "APPVIEW",
		RetryAttempts: 2,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.StreamName == "" {
		c.StreamName = d.StreamName
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = d.SubjectPrefix
	}
}

func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("NATS_URL"); v != "" {
		c.URL = v
	}
}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if c.RetryAttempts < 0 {
		return fmt.Errorf("pubsub.retry_attempts must be non-negative")
	}
	return nil
}

// Enabled reports whether a broker is configured.
func (c *Config) Enabled() bool {
	return c.URL != ""
}
