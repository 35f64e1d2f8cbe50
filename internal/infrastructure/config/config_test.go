package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "0.0.0.0:3000", cfg.Server.Addr())

	assert.False(t, cfg.Proxy.Production)
	assert.Equal(t, "http", cfg.Proxy.Scheme())
	assert.Equal(t, 3000, cfg.Proxy.PublicPort)
	assert.Equal(t, DefaultUserAgent, cfg.Proxy.UserAgent)
	assert.Equal(t, "spatial-viewer-bridge.js", cfg.Proxy.BridgeEntry)
	assert.Equal(t, int64(10<<20), cfg.Proxy.MaxDocumentBytes)
	assert.Zero(t, cfg.Proxy.UpstreamTimeout)
	assert.Empty(t, cfg.Proxy.AllowedHosts)

	assert.True(t, cfg.Breaker.Enabled)
	assert.False(t, cfg.Registry.MultiPage)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Server, cfg.Server)
	assert.Equal(t, def.Proxy.UserAgent, cfg.Proxy.UserAgent)
	assert.Equal(t, def.Proxy.MaxDocumentBytes, cfg.Proxy.MaxDocumentBytes)
	assert.Equal(t, def.Breaker, cfg.Breaker)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                   "8080",
		"HOST":                   "127.0.0.1",
		"PRODUCTION":             "true",
		"PROXY_PUBLIC_PORT":      "443",
		"PROXY_UPSTREAM_TIMEOUT": "15s",
		"PROXY_ALLOWED_HOSTS":    "*.example.com,vercel.app",
		"REGISTRY_MULTI_PAGE":    "true",
		"LOG_LEVEL":              "debug",
		"LOG_FILE":               "/tmp/viewer.log",
		"RATE_LIMIT_ENABLED":     "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.True(t, cfg.Proxy.Production)
	assert.Equal(t, "https", cfg.Proxy.Scheme())
	assert.Equal(t, 443, cfg.Proxy.PublicPort)
	assert.Equal(t, 15*time.Second, cfg.Proxy.UpstreamTimeout)
	assert.Equal(t, []string{"*.example.com", "vercel.app"}, cfg.Proxy.AllowedHosts)
	assert.True(t, cfg.Registry.MultiPage)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/viewer.log", cfg.Logging.File)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadInvalidValue(t *testing.T) {
	t.Setenv("PROXY_PUBLIC_PORT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")

	cfg := LoadOrDefault()
	assert.Equal(t, 3000, cfg.Proxy.PublicPort)
}
