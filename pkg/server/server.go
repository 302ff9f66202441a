package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/aeolun/linechat/pkg/eventlog"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// EnableDebugLogging routes debug output to stderr
func EnableDebugLogging() {
	debugLog.SetOutput(os.Stderr)
}

// Server is the chat relay process: listeners plus the session manager
type Server struct {
	listener     net.Listener
	sshListener  net.Listener
	httpListener net.Listener
	httpServer   *http.Server
	sessions     *SessionManager
	sink         eventlog.Sink
	metrics      *Metrics
	gatherer     prometheus.Gatherer
	config       ServerConfig
	configPath   string
	startTime    time.Time
	shutdown     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup // accept loops
	conns        sync.WaitGroup // per-connection goroutines
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host              string
	TCPPort           int
	SSHPort           int
	SSHHostKeyPath    string
	HTTPPort          int
	MaxNicknameLength int
	MaxLineLength     int
	WriteTimeout      time.Duration
	LogFile           string
	LogSQLitePath     string
	LogFlushInterval  time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Host:              "127.0.0.1",
		TCPPort:           6666,
		SSHPort:           0, // disabled
		SSHHostKeyPath:    "~/.linechat/ssh_host_key",
		HTTPPort:          0, // disabled
		MaxNicknameLength: 32,
		MaxLineLength:     4096,
		WriteTimeout:      10 * time.Second,
		LogFile:           "chat_log.txt",
		LogFlushInterval:  250 * time.Millisecond,
	}
}

// Addr returns the host:port the chat listener binds to
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.TCPPort))
}

// NewServer creates a new server instance. sink receives the event log.
func NewServer(config ServerConfig, sink eventlog.Sink, configPath string) *Server {
	if sink == nil {
		sink = eventlog.Discard
	}
	return &Server{
		sessions:   NewSessionManager(sink, config),
		sink:       sink,
		config:     config,
		configPath: configPath,
		shutdown:   make(chan struct{}),
	}
}

// EnableMetrics registers server metrics with reg and serves them on /metrics
func (s *Server) EnableMetrics(reg *prometheus.Registry) {
	s.metrics = NewMetrics(reg)
	s.gatherer = reg
	s.sessions.SetMetrics(s.metrics)
}

// Sessions exposes the session manager
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Start binds every configured listener and begins accepting connections
func (s *Server) Start() error {
	addr := s.config.Addr()
	listener, err := listenReusable(addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = time.Now()
	log.Printf("TCP server listening on %s", listener.Addr())

	if err := s.startSSHServer(); err != nil {
		s.listener.Close()
		return fmt.Errorf("failed to start SSH server: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		s.listener.Close()
		if s.sshListener != nil {
			s.sshListener.Close()
		}
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.sink.Record(eventlog.Started(listener.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound chat address, nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down: one notice to everyone, every connection
// closed, listeners closed. Safe to call more than once.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.sessions.CloseAll()
		close(s.shutdown)

		if s.listener != nil {
			s.listener.Close()
		}
		if s.sshListener != nil {
			s.sshListener.Close()
		}
		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = s.httpServer.Shutdown(ctx)
			cancel()
		}

		s.wg.Wait()
		s.conns.Wait()

		s.sink.Record(eventlog.Stopped())
	})
	return err
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			errorLog.Printf("Accept error: %v", err)
			continue
		}

		s.conns.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection handles a single client connection
func (s *Server) handleConnection(conn net.Conn) {
	defer s.conns.Done()

	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	debugLog.Printf("New connection from %s", conn.RemoteAddr())
	s.sessions.Serve("tcp", conn)
}

// listenReusable listens with SO_REUSEADDR so a restarted server can bind
// immediately
func listenReusable(addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = setSocketOptions(fd)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(context.Background(), "tcp", addr)
}
