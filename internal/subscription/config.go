package subscription

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Provider is the primary upstream endpoint. Empty disables the
	// primary subscription.
	Provider string `yaml:"provider"`
	// LockID is the advisory lock of the primary subscription. Extra
	// subscription i uses LockID+1+i.
	LockID int64 `yaml:"lock_id"`
	// Extra lists additional upstream endpoints.
	Extra []string `yaml:"extra"`

	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	// MaxRetries bounds consecutive failed attempts. 0 retries forever.
	MaxRetries int `yaml:"max_retries"`

	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	CheckpointEvents   int           `yaml:"checkpoint_events"`

	ApplyTimeout     time.Duration `yaml:"apply_timeout"`
	ApplyRetries     int           `yaml:"apply_retries"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

func DefaultConfig() Config {
	return Config{
		LockID:             1000,
		Workers:            16,
		QueueSize:          100,
		InitialBackoff:     time.Second,
		MaxBackoff:         30 * time.Second,
		BackoffMultiplier:  2.0,
		CheckpointInterval: time.Second,
		CheckpointEvents:   1000,
		ApplyTimeout:       time.Minute,
		ApplyRetries:       3,
		DrainTimeout:       30 * time.Second,
		HandshakeTimeout:   10 * time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.LockID == 0 {
		c.LockID = d.LockID
	}
	if c.Workers == 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize == 0 {
		c.QueueSize = d.QueueSize
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.CheckpointInterval == 0 {
		c.CheckpointInterval = d.CheckpointInterval
	}
	if c.CheckpointEvents == 0 {
		c.CheckpointEvents = d.CheckpointEvents
	}
	if c.ApplyTimeout == 0 {
		c.ApplyTimeout = d.ApplyTimeout
	}
	if c.ApplyRetries == 0 {
		c.ApplyRetries = d.ApplyRetries
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
}

func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("REPO_PROVIDER"); val != "" {
		c.Provider = val
	}
	if val := os.Getenv("REPO_SUB_LOCK_ID"); val != "" {
		if id, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.LockID = id
		}
	}
	if val, ok := os.LookupEnv("EXTRA_SUBS"); ok {
		if strings.TrimSpace(val) == "" {
			c.Extra = nil
		} else {
			c.Extra = strings.Split(val, ",")
		}
	}
}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if c.Provider != "" {
		if _, err := ParseEndpoints([]string{c.Provider}); err != nil {
			return fmt.Errorf("subscription.provider: %w", err)
		}
	}
	if _, err := ParseEndpoints(c.Extra); err != nil {
		return fmt.Errorf("subscription.extra: %w", err)
	}
	if c.LockID <= 0 {
		return fmt.Errorf("subscription.lock_id must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("subscription.workers must be positive")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("subscription.backoff_multiplier must be at least 1")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("subscription.max_backoff must not be below initial_backoff")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("subscription.max_retries must not be negative")
	}
	return nil
}
