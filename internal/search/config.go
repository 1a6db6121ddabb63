package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/syntrixbase/appview/internal/gateway"
)

type Config struct {
	// FillMode selects what a cache fill indexes: "profile" or "full".
	FillMode string `yaml:"fill_mode"`
	// HandleSuffix marks typeahead terms that name a handle outright.
	HandleSuffix string `yaml:"handle_suffix"`
	DefaultLimit int           `yaml:"default_limit"`
	MaxLimit     int           `yaml:"max_limit"`
	FillTimeout  time.Duration `yaml:"fill_timeout"`
}

func DefaultConfig() Config {
	return Config{
		FillMode:     string(gateway.FillProfile),
		HandleSuffix: ".bsky.social",
		DefaultLimit: 25,
		MaxLimit:     100,
		FillTimeout:  10 * time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.FillMode == "" {
		c.FillMode = d.FillMode
	}
	if c.HandleSuffix == "" {
		c.HandleSuffix = d.HandleSuffix
	}
	if c.DefaultLimit == 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.MaxLimit == 0 {
		c.MaxLimit = d.MaxLimit
	}
	if c.FillTimeout == 0 {
		c.FillTimeout = d.FillTimeout
	}
}

func (c *Config) ApplyEnvOverrides() {}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if !gateway.FillMode(c.FillMode).Valid() {
		return fmt.Errorf("search.fill_mode must be %q or %q, got %q", gateway.FillProfile, gateway.FillFull, c.FillMode)
	}
	if !strings.HasPrefix(c.HandleSuffix, ".") {
		return fmt.Errorf("search.handle_suffix must start with '.'")
	}
	if c.DefaultLimit <= 0 || c.MaxLimit < c.DefaultLimit {
		return fmt.Errorf("search limits invalid: default %d, max %d", c.DefaultLimit, c.MaxLimit)
	}
	return nil
}
