package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "127.0.0.1:50051", c.ServerEndpointAddr)
	assert.Equal(t, 3*time.Second, c.OnlineCheckInterval)
	assert.Equal(t, "ledgersync.db", c.DBPath)
	assert.Equal(t, 5*time.Second, c.SyncInterval)
	assert.Equal(t, 50, c.BatchSize)
	assert.Equal(t, time.Second, c.BackoffMin)
	assert.Equal(t, time.Minute, c.BackoffMax)
	assert.Zero(t, c.ResyncInterval)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	cfg := LoadConfig()

	require.NotNil(t, cfg, "LoadConfig must not return nil")
	assert.Equal(t, "127.0.0.1:50051", cfg.ServerEndpointAddr)
	assert.Equal(t, 3*time.Second, cfg.OnlineCheckInterval)
	assert.Equal(t, 5*time.Second, cfg.SyncInterval)
}
