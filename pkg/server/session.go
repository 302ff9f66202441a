package server

import (
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/linechat/pkg/eventlog"
	"github.com/aeolun/linechat/pkg/protocol"
)

// ErrManagerClosed is returned when a connection arrives after CloseAll
var ErrManagerClosed = errors.New("session manager closed")

// Session represents one accepted connection for its whole lifetime
type Session struct {
	ID         uint64
	Name       string // Assigned display name, set once at registration
	Transport  string // tcp, websocket or ssh
	RemoteAddr string
	Conn       *SafeConn // Stream with serialized writes
}

// SafeConn serializes writes to a connection. A failed write closes the
// connection so the session's own reader notices and tears it down.
type SafeConn struct {
	conn         net.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closed       atomic.Bool
}

// NewSafeConn wraps conn; writeTimeout <= 0 disables write deadlines
func NewSafeConn(conn net.Conn, writeTimeout time.Duration) *SafeConn {
	return &SafeConn{conn: conn, writeTimeout: writeTimeout}
}

// WriteLine writes s as one newline-terminated line
func (c *SafeConn) WriteLine(s string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return net.ErrClosed
	}
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := io.WriteString(c.conn, protocol.Line(s)); err != nil {
		c.Close()
		return err
	}
	return nil
}

// Read reads from the underlying connection
func (c *SafeConn) Read(b []byte) (int, error) {
	return c.conn.Read(b)
}

// Close closes the underlying connection once
func (c *SafeConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

// Closed reports whether Close has been called
func (c *SafeConn) Closed() bool {
	return c.closed.Load()
}

// SessionManager owns the connection registry and implements handshake,
// routing, broadcast and teardown
type SessionManager struct {
	reg     *registry
	sink    eventlog.Sink
	metrics *Metrics
	nextID  atomic.Uint64

	// Serializes LIST: deliveries
	listMu sync.Mutex

	// Every open stream, registered or still handshaking, so shutdown can
	// close all of them
	streamsMu sync.Mutex
	streams   map[*Session]struct{}
	closed    bool

	maxNickname  int
	maxLine      int
	writeTimeout time.Duration

	now    func() time.Time
	suffix func() int
}

// NewSessionManager creates a session manager writing events to sink
func NewSessionManager(sink eventlog.Sink, config ServerConfig) *SessionManager {
	if sink == nil {
		sink = eventlog.Discard
	}
	return &SessionManager{
		reg:          newRegistry(),
		sink:         sink,
		streams:      make(map[*Session]struct{}),
		maxNickname:  config.MaxNicknameLength,
		maxLine:      config.MaxLineLength,
		writeTimeout: config.WriteTimeout,
		now:          time.Now,
		suffix:       func() int { return rand.IntN(999) + 1 },
	}
}

// SetMetrics attaches metrics to the session manager
func (sm *SessionManager) SetMetrics(metrics *Metrics) {
	sm.metrics = metrics
}

// CreateSession tracks a freshly accepted connection. The session is not
// routable until the handshake registers it.
func (sm *SessionManager) CreateSession(transport string, conn net.Conn) (*Session, error) {
	sess := &Session{
		ID:        sm.nextID.Add(1),
		Transport: transport,
		Conn:      NewSafeConn(conn, sm.writeTimeout),
	}
	if addr := conn.RemoteAddr(); addr != nil {
		sess.RemoteAddr = addr.String()
	}

	sm.streamsMu.Lock()
	defer sm.streamsMu.Unlock()

	if sm.closed {
		return nil, ErrManagerClosed
	}
	sm.streams[sess] = struct{}{}
	return sess, nil
}

// release forgets a stream once its goroutine is done with it
func (sm *SessionManager) release(sess *Session) {
	sm.streamsMu.Lock()
	delete(sm.streams, sess)
	sm.streamsMu.Unlock()
}

// Register inserts sess under a unique name derived from requested and
// returns the assigned name
func (sm *SessionManager) Register(sess *Session, requested string) string {
	name := sm.reg.register(sess, requested, sm.suffix)

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sm.reg.len())
		sm.metrics.RecordSessionCreated(sess.Transport)
	}
	return name
}

// Has reports whether name is currently registered
func (sm *SessionManager) Has(name string) bool {
	return sm.reg.has(name)
}

// NameOf returns the registered name of sess, or false once it is gone
func (sm *SessionManager) NameOf(sess *Session) (string, bool) {
	return sm.reg.nameOf(sess)
}

// Names returns registered names in registration order
func (sm *SessionManager) Names() []string {
	return sm.reg.names()
}

// CountOnlineUsers returns the number of registered connections
func (sm *SessionManager) CountOnlineUsers() int {
	return sm.reg.len()
}

// Send writes one line to a single session
func (sm *SessionManager) Send(sess *Session, line string) error {
	err := sess.Conn.WriteLine(line)
	if err != nil {
		sm.sendFailed(sess, err)
	}
	return err
}

func (sm *SessionManager) sendFailed(sess *Session, err error) {
	debugLog.Printf("Session %d (%s): send failed: %v", sess.ID, sess.Name, err)
	if sm.metrics != nil {
		sm.metrics.RecordSendFailure()
	}
}

// Broadcast delivers line to every registered connection. Individual
// failures are recorded and skipped; the failing connection's reader
// performs its teardown. Returns the number of successful deliveries.
// Writes happen outside the registry lock, so a stalled peer cannot hold
// up registration or teardown.
func (sm *SessionManager) Broadcast(line string) int {
	return sm.deliverAll(sm.reg.snapshot(), line)
}

// BroadcastList sends the membership snapshot to everyone. The names and
// the recipients come from one snapshot, and list broadcasts are delivered
// one at a time, so the last LIST: a client receives is the latest membership.
func (sm *SessionManager) BroadcastList() int {
	sm.listMu.Lock()
	defer sm.listMu.Unlock()

	sessions := sm.reg.snapshot()
	names := make([]string, len(sessions))
	for i, s := range sessions {
		names[i] = s.Name
	}
	return sm.deliverAll(sessions, protocol.FormatList(names))
}

func (sm *SessionManager) deliverAll(sessions []*Session, line string) int {
	start := time.Now()
	delivered := 0
	for _, sess := range sessions {
		// Already being torn down
		if sess.Conn.Closed() {
			continue
		}
		if err := sess.Conn.WriteLine(line); err != nil {
			sm.sendFailed(sess, err)
			continue
		}
		delivered++
	}
	if sm.metrics != nil {
		sm.metrics.RecordBroadcast(delivered, time.Since(start).Seconds())
	}
	return delivered
}

// SendTo delivers line to the connection registered as name. found is
// false when no such connection exists; a failed write still counts as found.
func (sm *SessionManager) SendTo(name, line string) (found bool) {
	target, ok := sm.reg.lookup(name)
	if !ok {
		return false
	}
	if err := target.Conn.WriteLine(line); err != nil {
		sm.sendFailed(target, err)
	}
	return true
}

// Remove takes sess out of the registry. Only the first call for a
// registered session returns true.
func (sm *SessionManager) Remove(sess *Session) (string, bool) {
	if !sm.reg.remove(sess) {
		return "", false
	}
	return sess.Name, true
}

// Teardown removes sess and announces the departure. Only the first call
// for a session has any visible effect.
func (sm *SessionManager) Teardown(sess *Session) {
	sess.Conn.Close()
	if _, ok := sm.Remove(sess); !ok {
		return
	}

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sm.reg.len())
		sm.metrics.RecordSessionDisconnected()
	}

	sm.Broadcast(protocol.FormatLeft(sess.Name))
	sm.BroadcastList()
	sm.sink.Record(eventlog.Disconnected(sess.Name))
}

// CloseAll is the shutdown path: one notice to everybody, then every
// stream is closed. No departure notices are sent.
func (sm *SessionManager) CloseAll() {
	sm.Broadcast(protocol.ShutdownNotice)

	sm.streamsMu.Lock()
	sm.closed = true
	streams := make([]*Session, 0, len(sm.streams))
	for sess := range sm.streams {
		streams = append(streams, sess)
	}
	sm.streamsMu.Unlock()

	for _, sess := range sm.reg.drain() {
		sess.Conn.Close()
	}
	for _, sess := range streams {
		sess.Conn.Close()
	}

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(0)
	}
}
