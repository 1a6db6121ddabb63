package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, PublishRepoIndexed(context.Background(), p, RepoIndexed{DID: "did:example:abc"}))
	assert.NoError(t, p.Close())
}

func TestConfig(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.False(t, cfg.Enabled())
	assert.Equal(t, "APPVIEW", cfg.StreamName)

	t.Setenv("NATS_URL", "nats://broker:4222")
	cfg.ApplyEnvOverrides()
	assert.True(t, cfg.Enabled())
	assert.NoError(t, cfg.Validate())

	cfg.RetryAttempts = -1
	assert.Error(t, cfg.Validate())
}
