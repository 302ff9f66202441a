package relay

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
	"strings"
	"sync"
	"time"

	"github.com/aeolun/linechat/pkg/protocol"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// EnableDebugLogging routes debug output to stderr
func EnableDebugLogging() {
	debugLog.SetOutput(os.Stderr)
}

// ErrNoNickPrompt means the upstream did not open with the NICK prompt
var ErrNoNickPrompt = errors.New("upstream did not send NICK prompt")

// Relay accepts clients, marks their requested name as relayed and then
// pipes bytes unchanged between each client and the chat server
type Relay struct {
	config   Config
	listener net.Listener

	metrics     *Metrics
	gatherer    prometheus.Gatherer
	httpServer  *http.Server
	metricsAddr net.Addr

	mu     sync.Mutex
	pairs  map[uuid.UUID]*pair
	closed bool

	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// pair is one client connection and its upstream connection
type pair struct {
	id        uuid.UUID
	client    net.Conn
	upstream  net.Conn
	closeOnce sync.Once
}

// close tears down both sides; either pump ending triggers it
func (p *pair) close() {
	p.closeOnce.Do(func() {
		p.client.Close()
		p.upstream.Close()
	})
}

// New creates a relay; call Start to begin listening
func New(config Config) *Relay {
	return &Relay{
		config:   config,
		pairs:    make(map[uuid.UUID]*pair),
		shutdown: make(chan struct{}),
	}
}

// EnableMetrics registers relay metrics with reg. They are served on
// /metrics when a metrics port is configured.
func (r *Relay) EnableMetrics(reg *prometheus.Registry) {
	r.metrics = NewMetrics(reg)
	r.gatherer = reg
}

// Start binds the listen address and begins accepting clients
func (r *Relay) Start() error {
	listener, err := net.Listen("tcp", r.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.config.Addr(), err)
	}
	r.listener = listener

	log.Printf("Relay server running on %s", listener.Addr())
	log.Printf("Forwarding to main server at %s", r.config.UpstreamAddr())

	if err := r.startMetricsServer(); err != nil {
		listener.Close()
		return err
	}

	r.wg.Add(1)
	go r.acceptLoop()
	return nil
}

func (r *Relay) startMetricsServer() error {
	if r.config.MetricsPort <= 0 || r.gatherer == nil {
		return nil
	}

	addr := net.JoinHostPort(r.config.Host, strconv.Itoa(r.config.MetricsPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	r.metricsAddr = listener.Addr()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	r.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	log.Printf("Relay metrics listening on %s", listener.Addr())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errorLog.Printf("Metrics server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound relay address, nil before Start
func (r *Relay) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// MetricsAddr returns the bound metrics address, nil when disabled
func (r *Relay) MetricsAddr() net.Addr {
	return r.metricsAddr
}

// Stop closes the listener and every relayed pair, then waits for their
// goroutines. Safe to call more than once.
func (r *Relay) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.shutdown)
		if r.listener != nil {
			r.listener.Close()
		}

		r.mu.Lock()
		r.closed = true
		pairs := make([]*pair, 0, len(r.pairs))
		for _, p := range r.pairs {
			pairs = append(pairs, p)
		}
		r.mu.Unlock()

		for _, p := range pairs {
			p.close()
		}

		if r.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = r.httpServer.Shutdown(ctx)
			cancel()
		}

		r.wg.Wait()
		log.Printf("Relay stopped")
	})
	return err
}

func (r *Relay) acceptLoop() {
	defer r.wg.Done()

	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			errorLog.Printf("Accept error: %v", err)
			continue
		}

		if r.metrics != nil {
			r.metrics.RecordAccepted()
		}
		r.wg.Add(1)
		go r.handle(conn)
	}
}

// track registers p so Stop can close it; false once the relay is stopping
func (r *Relay) track(p *pair) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.pairs[p.id] = p
	return true
}

func (r *Relay) untrack(p *pair) {
	r.mu.Lock()
	delete(r.pairs, p.id)
	r.mu.Unlock()
}

func (r *Relay) fail(stage string) {
	if r.metrics != nil {
		r.metrics.RecordFailed(stage)
	}
}

// handle runs one relayed connection to completion
func (r *Relay) handle(client net.Conn) {
	defer r.wg.Done()

	id := uuid.New()
	log.Printf("Incoming connection to relay: %s (%s)", client.RemoteAddr(), id)

	dialer := net.Dialer{Timeout: r.config.DialTimeout}
	upstream, err := dialer.Dial("tcp", r.config.UpstreamAddr())
	if err != nil {
		errorLog.Printf("Relay %s: cannot reach %s: %v", id, r.config.UpstreamAddr(), err)
		client.Close()
		r.fail(stageDial)
		return
	}

	p := &pair{id: id, client: client, upstream: upstream}
	if !r.track(p) {
		p.close()
		return
	}
	defer r.untrack(p)

	upReader := protocol.NewLineReader(upstream, protocol.DefaultMaxLineLength)
	clientReader := protocol.NewLineReader(client, protocol.DefaultMaxLineLength)

	name, err := handshake(upReader, clientReader, client, upstream)
	if err != nil {
		errorLog.Printf("Relay %s: handshake failed: %v", id, err)
		p.close()
		r.fail(stageHandshake)
		return
	}
	log.Printf("Relay Active: Connecting %s as %s", name, protocol.MarkRelayed(name))

	if r.metrics != nil {
		r.metrics.RecordActivePairs(1)
		defer r.metrics.RecordActivePairs(-1)
	}

	// Pump from the line readers so bytes buffered during the handshake
	// are forwarded first
	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		r.pump(p, upstream, clientReader.Reader(), directionUpstream)
	}()
	go func() {
		defer pumps.Done()
		r.pump(p, client, upReader.Reader(), directionDownstream)
	}()
	pumps.Wait()

	debugLog.Printf("Relay %s: closed", id)
}

// handshake forwards the NICK prompt and the marked name line. It returns
// the name as the client sent it.
func handshake(upReader, clientReader *protocol.LineReader, client, upstream io.Writer) (string, error) {
	prompt, err := upReader.ReadRawLine()
	if err != nil {
		return "", fmt.Errorf("reading prompt: %w", err)
	}
	if strings.TrimRight(string(prompt), "\r\n") != protocol.NickPrompt {
		return "", ErrNoNickPrompt
	}
	if _, err := client.Write(prompt); err != nil {
		return "", fmt.Errorf("forwarding prompt: %w", err)
	}

	nameLine, err := clientReader.ReadRawLine()
	if err != nil {
		return "", fmt.Errorf("reading name: %w", err)
	}
	marked := append([]byte{byte(protocol.ReservedMarker)}, nameLine...)
	if _, err := upstream.Write(marked); err != nil {
		return "", fmt.Errorf("forwarding name: %w", err)
	}

	return strings.TrimSpace(string(nameLine)), nil
}

// pump copies src to dst until either side fails, then closes the pair
func (r *Relay) pump(p *pair, dst io.Writer, src io.Reader, direction string) {
	w := dst
	if r.metrics != nil {
		w = &countingWriter{w: dst, record: func(n int) { r.metrics.RecordBytes(direction, n) }}
	}

	n, err := io.Copy(w, src)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		debugLog.Printf("Relay %s: %s pump ended after %d bytes: %v", p.id, direction, n, err)
	}
	p.close()
}

// countingWriter reports every successful write
type countingWriter struct {
	w      io.Writer
	record func(n int)
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	if n > 0 {
		c.record(n)
	}
	return n, err
}
