// Package config provides dispatcher configuration loaded from environment variables.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds render-dispatcher configuration.
type Config struct {
	// Integration backend
	IntegrationPath  string `envconfig:"INTEGRATION_PATH" default:"/integration"`
	ServerTechnology string `envconfig:"SERVER_TECHNOLOGY" default:"java"`
	// PageOrigin is the "protocol//host" of the embedding page, prefixed to
	// root-relative integration paths (e.g. "https://example.com").
	PageOrigin   string `envconfig:"PAGE_ORIGIN"`
	DocumentBase string `envconfig:"DOCUMENT_BASE"`
	// MinBackendVersion is a SemVer constraint checked against the version the
	// configuration service reports (empty = no check).
	MinBackendVersion string `envconfig:"MIN_BACKEND_VERSION"`

	// Local typesetting engine
	EngineWasmPath string `envconfig:"ENGINE_WASM_PATH"`
	EnginePoolSize int    `envconfig:"ENGINE_POOL_SIZE" default:"4"`

	// Render cache: Postgres URL, empty = in-memory cache.
	CacheURL string `envconfig:"CACHE_URL"`

	// COMMS: publish lifecycle events to standalone NATS at COMMSURL (empty = no bridge).
	COMMSURL  string `envconfig:"COMMS_URL"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"render-dispatcher"`
	// EventSubject overrides the global render event subject.
	EventSubject string `envconfig:"RENDER_EVENT_SUBJECT"`

	// HTTP surface
	HTTPAddr string `envconfig:"DISPATCHER_HTTP_ADDR" default:"0.0.0.0:8080"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the render proxy.
func (c *Config) ValidateForServe() error {
	if c.IntegrationPath == "" {
		return fmt.Errorf("%s - INTEGRATION_PATH is required for serve", logPrefix)
	}
	if c.EngineWasmPath == "" {
		return fmt.Errorf("%s - ENGINE_WASM_PATH is required for serve", logPrefix)
	}
	if c.EnginePoolSize <= 0 {
		return fmt.Errorf("%s - ENGINE_POOL_SIZE must be positive", logPrefix)
	}
	return nil
}

// ValidateForCache checks required config when running cache commands (ensure).
func (c *Config) ValidateForCache() error {
	if c.CacheURL == "" {
		return fmt.Errorf("%s - CACHE_URL is required", logPrefix)
	}
	return nil
}
