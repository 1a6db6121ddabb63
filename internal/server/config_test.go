package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 2584, cfg.Port)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	d := DefaultConfig()
	assert.Equal(t, d.Host, cfg.Host)
	// Zero port keeps meaning ephemeral.
	assert.Equal(t, 0, cfg.Port)
	assert.Equal(t, d.HTTPReadTimeout, cfg.HTTPReadTimeout)
	assert.Equal(t, d.AllowedMethods, cfg.AllowedMethods)
	assert.Equal(t, d.RateLimit.Requests, cfg.RateLimit.Requests)
	assert.Equal(t, d.RateLimit.MaxClients, cfg.RateLimit.MaxClients)

	custom := Config{Host: "127.0.0.1", HTTPReadTimeout: time.Second}
	custom.ApplyDefaults()
	assert.Equal(t, "127.0.0.1", custom.Host)
	assert.Equal(t, time.Second, custom.HTTPReadTimeout)
}

func TestConfig_ApplyEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "3000")
	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, 3000, cfg.Port)

	t.Setenv("PORT", "not-a-port")
	cfg = DefaultConfig()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, 2584, cfg.Port)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.RateLimit.Requests = 0
	assert.Error(t, cfg.Validate())

	cfg.RateLimit.Enabled = false
	assert.NoError(t, cfg.Validate())
}
