package relay

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds relay configuration
type Config struct {
	Host         string
	Port         int
	UpstreamHost string
	UpstreamPort int
	DialTimeout  time.Duration // 0 leaves the timeout to the OS
	MetricsPort  int           // 0 disables /metrics
}

// DefaultConfig returns default relay configuration
func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         6667,
		UpstreamHost: "127.0.0.1",
		UpstreamPort: 6666,
	}
}

// Addr returns the address the relay listens on
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// UpstreamAddr returns the chat server address
func (c Config) UpstreamAddr() string {
	return net.JoinHostPort(c.UpstreamHost, strconv.Itoa(c.UpstreamPort))
}

// TOMLConfig represents the structure of the relay config file
type TOMLConfig struct {
	Relay RelaySection `toml:"relay"`
}

type RelaySection struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	UpstreamHost       string `toml:"upstream_host"`
	UpstreamPort       int    `toml:"upstream_port"`
	DialTimeoutSeconds int    `toml:"dial_timeout_seconds"`
	MetricsPort        int    `toml:"metrics_port"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	d := DefaultConfig()
	return TOMLConfig{
		Relay: RelaySection{
			Host:         d.Host,
			Port:         d.Port,
			UpstreamHost: d.UpstreamHost,
			UpstreamPort: d.UpstreamPort,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating a default one
// if none exists. An empty path returns the defaults.
func LoadConfig(path string) (TOMLConfig, error) {
	if path == "" {
		return DefaultTOMLConfig(), nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// Best effort; an unwritable location still runs with defaults
		_ = writeDefaultConfig(path, config)
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# linechat relay configuration
# This file was auto-generated with default values
# Relayed names are prefixed with '*'; the server refuses a second hop

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ToConfig converts TOMLConfig to Config, falling back to defaults for
// zero fields
func (c *TOMLConfig) ToConfig() Config {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Relay.Host) != "" {
		cfg.Host = c.Relay.Host
	}
	if c.Relay.Port != 0 {
		cfg.Port = c.Relay.Port
	}
	if strings.TrimSpace(c.Relay.UpstreamHost) != "" {
		cfg.UpstreamHost = c.Relay.UpstreamHost
	}
	if c.Relay.UpstreamPort != 0 {
		cfg.UpstreamPort = c.Relay.UpstreamPort
	}
	if c.Relay.DialTimeoutSeconds > 0 {
		cfg.DialTimeout = time.Duration(c.Relay.DialTimeoutSeconds) * time.Second
	}
	if c.Relay.MetricsPort > 0 {
		cfg.MetricsPort = c.Relay.MetricsPort
	}
	return cfg
}
