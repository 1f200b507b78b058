// Package config handles form-butler configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level form-butler configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Gateway GatewayConfig `yaml:"gateway"`
	Control ControlConfig `yaml:"control"`
	Storage StorageConfig `yaml:"storage"`
	Session SessionConfig `yaml:"session"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // plain | headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// GatewayConfig tunes model requests.
type GatewayConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
}

// ControlConfig is the local HTTP API.
type ControlConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig selects the persistence backend. Path "memory" keeps
// everything in-process, which loses data on exit.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig scopes per-tab form data. An empty ID means a fresh random
// session per run.
type SessionConfig struct {
	ID string `yaml:"id"`
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills every zero field with its documented default.
func (c *Config) ApplyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.ResourceBlocking == nil {
		c.Browser.ResourceBlocking = []string{"images", "fonts", "media"}
	}
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = 60 * time.Second
	}
	if c.Control.Addr == "" {
		c.Control.Addr = "127.0.0.1:8437"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "formbutler.db"
	}
}
