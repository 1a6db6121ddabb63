// Package ratelimit throttles XRPC requests per client address.
package ratelimit

import (
	"time"
)

// Limiter decides whether a request keyed by client address may proceed.
type Limiter interface {
	// Allow reports whether a request for key fits in its budget and
	// consumes one unit if it does.
	Allow(key string) bool

	// Reset forgets the budget of key.
	Reset(key string)
}

// Config holds the configuration for rate limiting.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Requests is the burst size and the number of requests refilled per Window.
	Requests int `yaml:"requests"`

	Window time.Duration `yaml:"window"`

	// MaxClients bounds the number of tracked client buckets. The least
	// recently seen client is evicted first.
	MaxClients int `yaml:"max_clients"`
}

// DefaultConfig returns the default rate limiting configuration. Search
// traffic is bursty (typeahead fires per keystroke), so the budget is wide.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Requests:   300,
		Window:     time.Minute,
		MaxClients: 65536,
	}
}
