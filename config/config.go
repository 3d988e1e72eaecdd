// Package config handles driftlinkd configuration file parsing and
// validation.
//
// The configuration is a small YAML file:
//
//	listen_ip: "0.0.0.0"
//	port_range: "60001:60999"
//	log_level: "info"
//
// Every field is optional; zero values fall back to the transport
// defaults.
package config

import (
	"fmt"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vibing/driftlink/transport"
)

// Config is the top-level configuration for driftlinkd.
type Config struct {
	// ListenIP is the local address to bind. Empty means the
	// unspecified address.
	ListenIP string `yaml:"listen_ip"`

	// PortRange is a "port" or "low:high" UDP port spec. Empty means
	// the transport's default search range.
	PortRange string `yaml:"port_range"`

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.ListenIP != "" {
		if _, err := netip.ParseAddr(c.ListenIP); err != nil {
			return fmt.Errorf("config: listen_ip %q is not a numeric address", c.ListenIP)
		}
	}
	if c.PortRange != "" {
		if _, _, err := transport.ParsePortRange(c.PortRange); err != nil {
			return fmt.Errorf("config: port_range: %w", err)
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}
