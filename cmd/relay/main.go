package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aeolun/linechat/pkg/relay"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	configPath := flag.String("config", "", "Path to config file (defaults apply when empty)")
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	upstream := flag.String("upstream", "", "Chat server host:port (overrides config)")
	dialTimeout := flag.Duration("dial-timeout", 0, "Upstream connect timeout (overrides config)")
	metricsPort := flag.Int("metrics-port", 0, "Serve /metrics on this port (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("linechat relay %s\n", Version)
		os.Exit(0)
	}

	tomlConfig, err := relay.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config := tomlConfig.ToConfig()

	if *port != 0 {
		config.Port = *port
	}
	if *upstream != "" {
		host, upstreamPort, err := splitUpstream(*upstream)
		if err != nil {
			log.Fatalf("Invalid -upstream: %v", err)
		}
		config.UpstreamHost = host
		config.UpstreamPort = upstreamPort
	}
	if *dialTimeout > 0 {
		config.DialTimeout = *dialTimeout
	}
	if *metricsPort != 0 {
		config.MetricsPort = *metricsPort
	}

	if *debug {
		relay.EnableDebugLogging()
		log.Printf("Debug logging enabled")
	}

	r := relay.New(config)
	r.EnableMetrics(prometheus.NewRegistry())

	if err := r.Start(); err != nil {
		log.Fatalf("Failed to start relay: %v", err)
	}
	log.Printf("linechat relay %s started (dial timeout %s)", Version, dialTimeoutLabel(config.DialTimeout))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down relay...")
	if err := r.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}

func dialTimeoutLabel(d time.Duration) string {
	if d <= 0 {
		return "os default"
	}
	return d.String()
}

// splitUpstream parses a host:port flag value
func splitUpstream(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("bad port %q: %w", portStr, err)
	}
	return host, port, nil
}
