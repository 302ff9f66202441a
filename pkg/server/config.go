package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
	Log    LogSection    `toml:"log"`
}

type ServerSection struct {
	Host       string `toml:"host"`
	TCPPort    int    `toml:"tcp_port"`
	SSHPort    int    `toml:"ssh_port"`
	SSHHostKey string `toml:"ssh_host_key"`
	HTTPPort   int    `toml:"http_port"`
}

type LimitsSection struct {
	MaxNicknameLength   int `toml:"max_nickname_length"`
	MaxLineLength       int `toml:"max_line_length"`
	WriteTimeoutSeconds int `toml:"write_timeout_seconds"`
}

type LogSection struct {
	File            string `toml:"file"`
	SQLitePath      string `toml:"sqlite_path"`
	FlushIntervalMs int    `toml:"flush_interval_ms"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			Host:       "127.0.0.1",
			TCPPort:    6666,
			SSHPort:    0,
			SSHHostKey: "~/.linechat/ssh_host_key",
			HTTPPort:   0,
		},
		Limits: LimitsSection{
			MaxNicknameLength:   32,
			MaxLineLength:       4096,
			WriteTimeoutSeconds: 10,
		},
		Log: LogSection{
			File:            "chat_log.txt",
			SQLitePath:      "",
			FlushIntervalMs: 250,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found.
// An empty path returns the defaults without touching the filesystem.
func LoadConfig(path string) (TOMLConfig, error) {
	if path == "" {
		return DefaultTOMLConfig(), nil
	}

	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Not writable; run with defaults anyway
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# linechat server configuration
# This file was auto-generated with default values
# ssh_port and http_port are disabled when 0

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig, falling back to
// defaults for every zero field
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Server.Host) != "" {
		cfg.Host = c.Server.Host
	}
	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}
	if c.Server.SSHPort != 0 {
		cfg.SSHPort = c.Server.SSHPort
	}
	if strings.TrimSpace(c.Server.SSHHostKey) != "" {
		cfg.SSHHostKeyPath = c.Server.SSHHostKey
	}
	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}

	if c.Limits.MaxNicknameLength != 0 {
		cfg.MaxNicknameLength = c.Limits.MaxNicknameLength
	}
	if c.Limits.MaxLineLength != 0 {
		cfg.MaxLineLength = c.Limits.MaxLineLength
	}
	if c.Limits.WriteTimeoutSeconds != 0 {
		cfg.WriteTimeout = time.Duration(c.Limits.WriteTimeoutSeconds) * time.Second
	}

	if strings.TrimSpace(c.Log.File) != "" {
		cfg.LogFile = c.Log.File
	}
	if strings.TrimSpace(c.Log.SQLitePath) != "" {
		cfg.LogSQLitePath = c.Log.SQLitePath
	}
	if c.Log.FlushIntervalMs != 0 {
		cfg.LogFlushInterval = time.Duration(c.Log.FlushIntervalMs) * time.Millisecond
	}

	return cfg
}

// expandHome resolves a leading ~/ against the user's home directory
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
