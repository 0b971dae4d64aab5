// Package config holds node-local settings: where the ABCI server listens and
// where state snapshots live. None of this is consensus state; market
// parameters are replicated and set by market/init.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultListenAddr = "tcp://127.0.0.1:26658"
	DefaultTransport  = "socket"
	DefaultHome       = ".zigstake"
	DefaultLogLevel   = "info"
)

type Config struct {
	// ABCI listen address, e.g. tcp://127.0.0.1:26658.
	ListenAddr string `toml:"listen_addr"`
	// ABCI transport: socket or grpc.
	Transport string `toml:"transport"`
	// App home directory; state is stored under <home>/app.
	Home string `toml:"home"`
	// Log level: debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

func Default() *Config {
	return &Config{
		ListenAddr: DefaultListenAddr,
		Transport:  DefaultTransport,
		Home:       DefaultHome,
		LogLevel:   DefaultLogLevel,
	}
}

// Load reads a TOML config file and applies defaults for absent fields.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Transport == "" {
		c.Transport = DefaultTransport
	}
	if c.Home == "" {
		c.Home = DefaultHome
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if c.Transport != "socket" && c.Transport != "grpc" {
		return fmt.Errorf("transport must be socket or grpc, got %q", c.Transport)
	}
	if c.Home == "" {
		return errors.New("home is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}
