package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTOMLConfigMatchesDefaults(t *testing.T) {
	cfg := DefaultTOMLConfig()

	if cfg.Server.TCPPort != 6666 {
		t.Fatalf("expected default TCP port 6666, got %d", cfg.Server.TCPPort)
	}

	if cfg.Server.SSHPort != 0 {
		t.Fatalf("expected SSH disabled by default, got port %d", cfg.Server.SSHPort)
	}

	if cfg.Log.File == "" {
		t.Fatal("expected default log file to be set")
	}
}

func TestToServerConfigMapsSettings(t *testing.T) {
	cfg := DefaultTOMLConfig()
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.TCPPort = 7000
	cfg.Server.SSHPort = 2222
	cfg.Server.SSHHostKey = "/tmp/host_key"
	cfg.Limits.WriteTimeoutSeconds = 3
	cfg.Log.SQLitePath = "/tmp/events.db"
	cfg.Log.FlushIntervalMs = 50

	serverCfg := cfg.ToServerConfig()

	assert.Equal(t, "0.0.0.0", serverCfg.Host)
	assert.Equal(t, 7000, serverCfg.TCPPort)
	assert.Equal(t, 2222, serverCfg.SSHPort)
	assert.Equal(t, "/tmp/host_key", serverCfg.SSHHostKeyPath)
	assert.Equal(t, 3*time.Second, serverCfg.WriteTimeout)
	assert.Equal(t, "/tmp/events.db", serverCfg.LogSQLitePath)
	assert.Equal(t, 50*time.Millisecond, serverCfg.LogFlushInterval)
	assert.Equal(t, "0.0.0.0:7000", serverCfg.Addr())
}

func TestToServerConfigFallsBackToDefaults(t *testing.T) {
	var cfg TOMLConfig

	serverCfg := cfg.ToServerConfig()

	assert.Equal(t, DefaultConfig(), serverCfg)
}

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config file should have been written")

	// Loading the written file yields the same configuration
	reloaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}

func TestLoadConfigParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[server]
host = "0.0.0.0"
tcp_port = 7777

[limits]
max_nickname_length = 8
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	serverCfg := cfg.ToServerConfig()
	assert.Equal(t, "0.0.0.0:7777", serverCfg.Addr())
	assert.Equal(t, 8, serverCfg.MaxNicknameLength)
	assert.Equal(t, DefaultConfig().MaxLineLength, serverCfg.MaxLineLength)
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\ntcp_port = "), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigEmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), cfg)
}
