package siox_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramory-l/siox"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "siox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
ping_interval: 10s
ping_timeout: 5s
kebab_case: true
title: Notes
doc_version: 2.1.0
allowed_origins: [https://app.example.com]
redis:
  url: redis://localhost:6379/0
`)
	cfg, err := siox.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.PingInterval)
	assert.Equal(t, 5*time.Second, cfg.PingTimeout)
	assert.True(t, cfg.KebabCase)
	assert.Equal(t, "Notes", cfg.Title)
	assert.Equal(t, "2.1.0", cfg.Version)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)

	def := siox.DefaultConfig()
	assert.Equal(t, def.Path, cfg.Path, "unset fields keep defaults")
	assert.Equal(t, def.DocPath, cfg.DocPath)
	assert.Equal(t, "siox", cfg.Redis.Prefix)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, "title: Notes\nhandshake_rate: 10\n")
	t.Setenv("SIOX_TITLE", "Chat")
	t.Setenv("SIOX_PING_INTERVAL", "1m")
	t.Setenv("SIOX_ALLOWED_ORIGINS", "a.example.com,b.example.com")
	t.Setenv("SIOX_REDIS_PREFIX", "chat")

	cfg, err := siox.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "Chat", cfg.Title)
	assert.Equal(t, 10, cfg.HandshakeRate)
	assert.Equal(t, time.Minute, cfg.PingInterval)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "chat", cfg.Redis.Prefix)
}

func TestLoadConfigEmptyFile(t *testing.T) {
	cfg, err := siox.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, siox.DefaultConfig(), cfg)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := siox.LoadConfig(writeConfig(t, "ping_intervall: 10s\n"))
	assert.ErrorContains(t, err, "ping_intervall")

	_, err = siox.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = siox.LoadConfig(writeConfig(t, "doc_path: docs\n"))
	assert.ErrorContains(t, err, "must start with /")

	t.Setenv("SIOX_MAX_PAYLOAD", "lots")
	_, err = siox.LoadConfig(writeConfig(t, ""))
	assert.Error(t, err)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SIOX_KEBAB_CASE", "true")
	t.Setenv("SIOX_DOC_PATH", "/asyncapi")
	cfg, err := siox.ConfigFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.KebabCase)
	assert.Equal(t, "/asyncapi", cfg.DocPath)
	assert.Equal(t, "/socket.io/", cfg.Path)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*siox.Config)
		ok     bool
	}{
		{"defaults", func(*siox.Config) {}, true},
		{"negative ping", func(c *siox.Config) { c.PingInterval = -time.Second }, false},
		{"negative rate", func(c *siox.Config) { c.HandshakeRate = -1 }, false},
		{"relative path", func(c *siox.Config) { c.Path = "socket.io" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := siox.DefaultConfig()
			tt.mutate(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}
