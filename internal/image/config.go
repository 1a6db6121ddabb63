package image

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	// Endpoint is an external image service. When empty, images are
	// served by this process under {public_url}/image.
	Endpoint  string `yaml:"endpoint"`
	PublicURL string `yaml:"public_url"`
	// InvalidatorURL is required when Endpoint is set.
	InvalidatorURL string        `yaml:"invalidator_url"`
	Key            string        `yaml:"key"`
	Salt           string        `yaml:"salt"`
	CacheDir       string        `yaml:"cache_dir"`
	Timeout        time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		PublicURL: "http://localhost:2584",
		Key:       "f23ecd142835025f42c3db2cf25dd813956c178392760256211f9d46f4f9d0f9",
		Salt:      "9dd04221f5755bce5f55f47464c27e1e",
		CacheDir:  "blobcache",
		Timeout:   10 * time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.PublicURL == "" {
		c.PublicURL = d.PublicURL
	}
	if c.Key == "" {
		c.Key = d.Key
	}
	if c.Salt == "" {
		c.Salt = d.Salt
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
}

func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("IMG_URI_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv("IMG_URI_KEY"); v != "" {
		c.Key = v
	}
	if v := os.Getenv("IMG_URI_SALT"); v != "" {
		c.Salt = v
	}
}

func (c *Config) ResolvePaths(_, dataDir string) {
	if c.CacheDir != "" && !filepath.IsAbs(c.CacheDir) {
		c.CacheDir = filepath.Join(dataDir, c.CacheDir)
	}
}

func (c *Config) Validate() error {
	if c.Endpoint != "" && c.InvalidatorURL == "" {
		return fmt.Errorf("image.invalidator_url is required when image.endpoint is set")
	}
	if c.Key == "" || c.Salt == "" {
		return fmt.Errorf("image.key and image.salt are required")
	}
	return nil
}

// BaseURL is the prefix image URLs are built on.
func (c *Config) BaseURL() string {
	if c.Local() {
		return strings.TrimRight(c.PublicURL, "/") + "/image"
	}
	return c.Endpoint
}

// Local reports whether this process serves images itself.
func (c *Config) Local() bool {
	return c.Endpoint == ""
}
