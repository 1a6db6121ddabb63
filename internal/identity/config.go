package identity

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

type Config struct {
	PLCURL  string        `yaml:"plc_url"`
	Timeout time.Duration `yaml:"timeout"`
	// Cache entries older than StaleTTL are served while refreshed in the
	// background; entries older than MaxTTL are resolved again synchronously.
	StaleTTL  time.Duration `yaml:"stale_ttl"`
	MaxTTL    time.Duration `yaml:"max_ttl"`
	CacheSize int           `yaml:"cache_size"`
	// TestHandles maps handles under the .test TLD to DIDs, for local
	// development against a registry that is not resolvable over DNS.
	TestHandles map[string]string `yaml:"test_handles"`
}

func DefaultConfig() Config {
	return Config{
		PLCURL:    "https://plc.directory",
		Timeout:   3 * time.Second,
		StaleTTL:  time.Hour,
		MaxTTL:    24 * time.Hour,
		CacheSize: 10000,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.PLCURL == "" {
		c.PLCURL = d.PLCURL
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.StaleTTL == 0 {
		c.StaleTTL = d.StaleTTL
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = d.MaxTTL
	}
	if c.CacheSize == 0 {
		c.CacheSize = d.CacheSize
	}
}

func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DID_PLC_URL"); v != "" {
		c.PLCURL = v
	}
}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	u, err := url.Parse(c.PLCURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("identity.plc_url is invalid: %q", c.PLCURL)
	}
	if c.StaleTTL > c.MaxTTL {
		return fmt.Errorf("identity.stale_ttl (%s) must not exceed identity.max_ttl (%s)", c.StaleTTL, c.MaxTTL)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("identity.cache_size must be non-negative")
	}
	for h := range c.TestHandles {
		if !strings.HasSuffix(NormalizeHandle(h), ".test") {
			return fmt.Errorf("identity.test_handles: %q is not a .test handle", h)
		}
	}
	return nil
}
