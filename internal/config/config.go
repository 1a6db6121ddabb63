// Package config loads the appview configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/syntrixbase/appview/internal/identity"
	"github.com/syntrixbase/appview/internal/image"
	"github.com/syntrixbase/appview/internal/indexer"
	"github.com/syntrixbase/appview/internal/labeler"
	"github.com/syntrixbase/appview/internal/logging"
	"github.com/syntrixbase/appview/internal/pubsub"
	"github.com/syntrixbase/appview/internal/search"
	"github.com/syntrixbase/appview/internal/server"
	"github.com/syntrixbase/appview/internal/storage"
	"github.com/syntrixbase/appview/internal/subscription"
)

// DefaultDir is the directory searched for config.yml and config.local.yml.
const DefaultDir = "config"

// Config holds the application configuration
type Config struct {
	// DataDir is the base for runtime paths such as logs and the blob cache.
	DataDir string `yaml:"data_dir" validate:"required"`

	Server       server.Config       `yaml:"server"`
	Storage      storage.Config      `yaml:"storage"`
	Subscription subscription.Config `yaml:"subscription"`
	Identity     identity.Config     `yaml:"identity"`
	Image        image.Config        `yaml:"image"`
	Labeler      labeler.Config      `yaml:"labeler"`
	Indexer      indexer.Config      `yaml:"indexer"`
	Search       search.Config       `yaml:"search"`
	PubSub       pubsub.Config       `yaml:"pubsub"`
	Logging      logging.Config      `yaml:"logging"`
}

// Default returns a configuration with every section at its defaults.
func Default() *Config {
	return &Config{
		DataDir:      "data",
		Server:       server.DefaultConfig(),
		Storage:      storage.DefaultConfig(),
		Subscription: subscription.DefaultConfig(),
		Identity:     identity.DefaultConfig(),
		Image:        image.DefaultConfig(),
		Labeler:      labeler.DefaultConfig(),
		Indexer:      indexer.DefaultConfig(),
		Search:       search.DefaultConfig(),
		PubSub:       pubsub.DefaultConfig(),
		Logging:      logging.DefaultConfig(),
	}
}

var validate = validator.New()

// LoadConfig loads configuration from files and environment variables.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate.
func LoadConfig(configDir string) (*Config, error) {
	// Start with default values so YAML can override them, including bool fields.
	cfg := Default()

	for _, name := range []string{"config.yml", "config.local.yml"} {
		if err := loadFile(filepath.Join(configDir, name), cfg); err != nil {
			return nil, err
		}
	}

	if val := os.Getenv("APPVIEW_DATA_DIR"); val != "" {
		cfg.DataDir = val
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}

	if err := ApplyServiceConfigs(configDir, cfg.DataDir, cfg.sections()...); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func (c *Config) sections() []ServiceConfig {
	return []ServiceConfig{
		&c.Logging,
		&c.Server,
		&c.Storage,
		&c.Subscription,
		&c.Identity,
		&c.Image,
		&c.Labeler,
		&c.Indexer,
		&c.Search,
		&c.PubSub,
	}
}

// loadFile merges filename into cfg. A missing file is skipped; unreadable or
// malformed files are errors.
func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	slog.Debug("Loaded config file", "file", filename)
	return nil
}
