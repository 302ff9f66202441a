package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/aeolun/linechat/pkg/eventlog"
	"github.com/aeolun/linechat/pkg/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	// Configure logger with microsecond precision
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	// Command line flags
	configPath := flag.String("config", "~/.linechat/server.toml", "Path to config file")
	host := flag.String("host", "", "Address to bind (overrides config)")
	port := flag.Int("port", 0, "TCP port to listen on (overrides config)")
	logFile := flag.String("log-file", "", "Path to the event log file (overrides config)")
	sqlitePath := flag.String("sqlite", "", "Path to SQLite event store (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("linechat server %s\n", Version)
		os.Exit(0)
	}

	// Load configuration (creates default if not found)
	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	resolvedConfigPath := *configPath
	if strings.HasPrefix(resolvedConfigPath, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to resolve config path: %v", err)
		}
		resolvedConfigPath = filepath.Join(homeDir, resolvedConfigPath[2:])
	}
	if absPath, err := filepath.Abs(resolvedConfigPath); err == nil {
		resolvedConfigPath = absPath
	}

	// Command-line flags override config file
	if *host != "" {
		config.Server.Host = *host
	}
	if *port != 0 {
		config.Server.TCPPort = *port
	}
	if *logFile != "" {
		config.Log.File = *logFile
	}
	if *sqlitePath != "" {
		config.Log.SQLitePath = *sqlitePath
	}

	serverConfig := config.ToServerConfig()

	sink, err := openSinks(serverConfig)
	if err != nil {
		log.Fatalf("Failed to open event log: %v", err)
	}

	if *debug {
		server.EnableDebugLogging()
		log.Printf("Debug logging enabled")
	}

	srv := server.NewServer(serverConfig, sink, resolvedConfigPath)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv.EnableMetrics(registry)

	log.Printf("Config: %s (resolved to %s, using defaults if not found)", *configPath, resolvedConfigPath)
	log.Printf("Event log: %s", serverConfig.LogFile)
	if serverConfig.LogSQLitePath != "" {
		log.Printf("Event store: %s", serverConfig.LogSQLitePath)
	}

	if err := srv.Start(); err != nil {
		sink.Close()
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Printf("linechat server %s started successfully", Version)
	log.Printf("Available connection methods:")
	log.Printf("  - Line protocol (TCP): %s", serverConfig.Addr())
	if serverConfig.SSHPort > 0 {
		log.Printf("  - SSH: port %d (host key %s)", serverConfig.SSHPort, serverConfig.SSHHostKeyPath)
	}
	if serverConfig.HTTPPort > 0 {
		log.Printf("  - WebSocket: port %d (ws://server:%d/ws)", serverConfig.HTTPPort, serverConfig.HTTPPort)
		log.Printf("  - Metrics: http://server:%d/metrics", serverConfig.HTTPPort)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	if err := srv.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	if err := sink.Close(); err != nil {
		log.Printf("Error closing event log: %v", err)
	}
	log.Println("Server stopped")
}

// openSinks builds the event log: console echo, the append-only text file,
// and the SQLite store when configured
func openSinks(cfg server.ServerConfig) (eventlog.Sink, error) {
	sinks := eventlog.Multi{eventlog.NewConsole(log.New(os.Stdout, "", 0))}

	file, err := eventlog.OpenFile(cfg.LogFile)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, file)

	if cfg.LogSQLitePath != "" {
		path := cfg.LogSQLitePath
		if strings.HasPrefix(path, "~/") {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				file.Close()
				return nil, fmt.Errorf("failed to resolve sqlite path: %w", err)
			}
			path = filepath.Join(homeDir, path[2:])
		}
		store, err := eventlog.OpenSQLite(path, cfg.LogFlushInterval)
		if err != nil {
			file.Close()
			return nil, err
		}
		sinks = append(sinks, store)
	}

	return sinks, nil
}
