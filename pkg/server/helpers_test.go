package server

import (
	"bufio"
	"io"
	"log"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aeolun/linechat/pkg/protocol"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

// initTestLoggers discards package-level log output for the test
func initTestLoggers(t *testing.T) {
	t.Helper()
	errorLog = log.New(io.Discard, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
	log.SetOutput(io.Discard)
	t.Cleanup(func() {
		log.SetOutput(io.Discard)
	})
}

// recordingSink keeps every event description in memory
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Record(description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, description)
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

func (s *recordingSink) Count(description string) int {
	n := 0
	for _, e := range s.Events() {
		if e == description {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or the test times out
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// startTestServer starts a server on a random loopback port
func startTestServer(t *testing.T, config ServerConfig) (*Server, *recordingSink) {
	t.Helper()
	initTestLoggers(t)

	config.Host = "127.0.0.1"
	config.TCPPort = 0
	config.SSHPort = 0
	config.HTTPPort = 0

	sink := &recordingSink{}
	srv := NewServer(config, sink, "")
	require.NoError(t, srv.Start())

	t.Cleanup(func() {
		srv.Stop()
	})
	return srv, sink
}

func dialTimeout(addr string) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, testTimeout)
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

// fixedClock pins public message timestamps
func fixedClock(srv *Server, at time.Time) {
	srv.sessions.now = func() time.Time { return at }
}

// testClient is a raw line-protocol client
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
	name string
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, testTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(testTimeout))
	_, err := io.WriteString(c.conn, line+"\n")
	require.NoError(c.t, err)
}

// readLine returns the next line without its terminator
func (c *testClient) readLine() (string, error) {
	c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	line, err := c.r.ReadString('\n')
	if err != nil {
		return line, err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func (c *testClient) expect(want string) {
	c.t.Helper()
	line, err := c.readLine()
	require.NoError(c.t, err, "waiting for %q", want)
	require.Equal(c.t, want, line)
}

// expectEOF asserts the server closed the connection
func (c *testClient) expectEOF() {
	c.t.Helper()
	line, err := c.readLine()
	require.ErrorIs(c.t, err, io.EOF, "unexpected line %q", line)
}

// join performs the handshake and consumes the joiner's own three lines
func join(t *testing.T, addr, requested string) *testClient {
	t.Helper()
	c := dialClient(t, addr)
	c.expect(protocol.NickPrompt)
	c.send(requested)

	joined, err := c.readLine()
	require.NoError(t, err)
	name, ok := strings.CutSuffix(joined, " joined the chat!")
	require.True(t, ok, "expected join announcement, got %q", joined)
	c.name = name

	c.expect(protocol.FormatConnectedAs(name))
	list, err := c.readLine()
	require.NoError(t, err)
	names, ok := protocol.ParseList(list)
	require.True(t, ok, "expected LIST line, got %q", list)
	require.Contains(t, names, name)
	return c
}

// sawJoin consumes what an existing member receives when name joins
func (c *testClient) sawJoin(name string, members ...string) {
	c.t.Helper()
	c.expect(protocol.FormatJoined(name))
	c.expect(protocol.FormatList(members))
}

// mockConn is an in-memory net.Conn that records writes
type mockConn struct {
	mu      sync.Mutex
	written strings.Builder
	closed  bool
	failing bool
}

func (m *mockConn) Read(b []byte) (int, error) { return 0, io.EOF }

func (m *mockConn) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	if m.failing {
		return 0, io.ErrClosedPipe
	}
	return m.written.Write(b)
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := strings.TrimSuffix(m.written.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func (m *mockConn) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) LocalAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (m *mockConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}
func (m *mockConn) SetDeadline(t time.Time) error      { return nil }
func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

// stalledConn blocks every write until release is closed, like a peer that
// stopped reading
type stalledConn struct {
	mockConn
	release chan struct{}
	entered chan struct{}
}

func newStalledConn() *stalledConn {
	return &stalledConn{release: make(chan struct{}), entered: make(chan struct{}, 1)}
}

func (c *stalledConn) Write(b []byte) (int, error) {
	select {
	case c.entered <- struct{}{}:
	default:
	}
	<-c.release
	return c.mockConn.Write(b)
}
