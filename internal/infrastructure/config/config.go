package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// DefaultUserAgent is the fixed desktop browser identity sent upstream.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Proxy     ProxyConfig
	Breaker   BreakerConfig
	Registry  RegistryConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"3000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// ControllerOrigins may open the bridge relay in addition to loopback origins.
	ControllerOrigins []string `envconfig:"CONTROLLER_ORIGINS"`
}

// ProxyConfig holds reverse proxy configuration.
type ProxyConfig struct {
	// Production selects https for decoded upstreams and generated proxy URLs.
	Production       bool          `envconfig:"PRODUCTION" default:"false"`
	PublicPort       int           `envconfig:"PROXY_PUBLIC_PORT" default:"3000"`
	UserAgent        string        `envconfig:"PROXY_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
	BridgeEntry      string        `envconfig:"PROXY_BRIDGE_ENTRY" default:"spatial-viewer-bridge.js"`
	LibDir           string        `envconfig:"PROXY_LIB_DIR"`
	MaxDocumentBytes int64         `envconfig:"PROXY_MAX_DOCUMENT_BYTES" default:"10485760"`
	UpstreamTimeout  time.Duration `envconfig:"PROXY_UPSTREAM_TIMEOUT" default:"0s"`
	AllowedHosts     []string      `envconfig:"PROXY_ALLOWED_HOSTS"`
}

// BreakerConfig holds upstream circuit breaker configuration.
type BreakerConfig struct {
	Enabled             bool          `envconfig:"BREAKER_ENABLED" default:"true"`
	ConsecutiveFailures uint32        `envconfig:"BREAKER_CONSECUTIVE_FAILURES" default:"10"`
	OpenTimeout         time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"30s"`
	IdleTTL             time.Duration `envconfig:"BREAKER_IDLE_TTL" default:"10m"`
}

// RegistryConfig holds frame registry configuration.
type RegistryConfig struct {
	MultiPage bool `envconfig:"REGISTRY_MULTI_PAGE" default:"false"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
	File        string `envconfig:"LOG_FILE"`
	MaxSizeMB   int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	MaxBackups  int    `envconfig:"LOG_MAX_BACKUPS" default:"3"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// Scheme returns the upstream and proxy URL scheme.
func (p ProxyConfig) Scheme() string {
	if p.Production {
		return "https"
	}
	return "http"
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "3000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Proxy: ProxyConfig{
			Production:       false,
			PublicPort:       3000,
			UserAgent:        DefaultUserAgent,
			BridgeEntry:      "spatial-viewer-bridge.js",
			MaxDocumentBytes: 10 << 20,
		},
		Breaker: BreakerConfig{
			Enabled:             true,
			ConsecutiveFailures: 10,
			OpenTimeout:         30 * time.Second,
			IdleTTL:             10 * time.Minute,
		},
		Logging: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
