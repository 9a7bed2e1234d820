package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.ReadTimeout)
	assert.Equal(t, 100, cfg.WebSocket.BufferSize)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.CallTimeout)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.RetryDelay)
	assert.Equal(t, 10*time.Minute, cfg.Session.IdleExpiry)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
log_level: debug
http:
  port: 9090
store:
  driver: memory
session:
  idle_expiry: 5m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Session.IdleExpiry)
	// Untouched keys keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTP.Port)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("COACHWIRE_LOG_LEVEL", "warn")
	t.Setenv("COACHWIRE_HTTP_PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 7070, cfg.HTTP.Port)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"port out of range", func(c *Config) { c.HTTP.Port = 70000 }},
		{"unknown store driver", func(c *Config) { c.Store.Driver = "dynamo" }},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }},
		{"redis without addr", func(c *Config) {
			c.Store.Driver = "redis"
			c.Store.RedisAddr = ""
		}},
		{"zero call timeout", func(c *Config) { c.Pipeline.CallTimeout = 0 }},
		{"window above max", func(c *Config) {
			c.Pipeline.HistoryWindow = 500
			c.Pipeline.HistoryMax = 100
		}},
		{"zero idle expiry", func(c *Config) { c.Session.IdleExpiry = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
