package labeler

import (
	"fmt"
	"net/url"
	"os"
	"time"
)

type Config struct {
	// LabelerDID is recorded as the source of every label.
	LabelerDID string `yaml:"labeler_did"`
	// HiveAPIKey selects the Hive image classifier. The keyword classifier
	// is used when it is empty.
	HiveAPIKey   string `yaml:"hive_api_key"`
	HiveEndpoint string `yaml:"hive_endpoint"`
	// Keywords maps a lowercase word to the label it triggers.
	Keywords map[string]string `yaml:"keywords"`
	Timeout  time.Duration     `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		LabelerDID:   "did:example:labeler",
		HiveEndpoint: "https://api.thehive.ai/api/v2/task/sync",
		Keywords:     map[string]string{"test-label": "test-label"},
		Timeout:      30 * time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.LabelerDID == "" {
		c.LabelerDID = d.LabelerDID
	}
	if c.HiveEndpoint == "" {
		c.HiveEndpoint = d.HiveEndpoint
	}
	if c.Keywords == nil {
		c.Keywords = d.Keywords
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
}

func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("HIVE_API_KEY"); v != "" {
		c.HiveAPIKey = v
	}
}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if c.LabelerDID == "" {
		return fmt.Errorf("labeler.labeler_did is required")
	}
	if c.HiveAPIKey != "" {
		if u, err := url.Parse(c.HiveEndpoint); err != nil || u.Host == "" {
			return fmt.Errorf("labeler.hive_endpoint is invalid: %q", c.HiveEndpoint)
		}
	}
	return nil
}
