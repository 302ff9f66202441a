package server

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/aeolun/linechat/pkg/eventlog"
	"github.com/aeolun/linechat/pkg/protocol"
	"github.com/aeolun/linechat/pkg/router"
)

var (
	// ErrHandshakeRefused means the requested name was rejected with REFUSE
	ErrHandshakeRefused = errors.New("handshake refused")
)

// Refusal reasons, used as metric labels
const (
	refuseReserved = "reserved"
	refuseEmpty    = "empty"
	refuseTooLong  = "too_long"
)

// Serve runs one connection from handshake to teardown. It returns when
// the connection is gone.
func (sm *SessionManager) Serve(transport string, conn net.Conn) {
	sess, err := sm.CreateSession(transport, conn)
	if err != nil {
		conn.Close()
		return
	}
	defer sm.release(sess)

	lr := protocol.NewLineReader(sess.Conn, sm.maxLine)

	name, err := sm.handshake(sess, lr)
	if err != nil {
		debugLog.Printf("Session %d (%s %s): handshake ended: %v", sess.ID, transport, sess.RemoteAddr, err)
		sess.Conn.Close()
		return
	}

	debugLog.Printf("Session %d (%s %s) registered as %q", sess.ID, transport, sess.RemoteAddr, name)
	sm.readLoop(sess, lr)
	sm.Teardown(sess)
}

// handshake prompts for a name, validates it and registers the session
func (sm *SessionManager) handshake(sess *Session, lr *protocol.LineReader) (string, error) {
	if err := sess.Conn.WriteLine(protocol.NickPrompt); err != nil {
		return "", err
	}

	line, err := lr.ReadLine()
	if err != nil {
		return "", err
	}
	requested := strings.TrimSpace(line)

	if reason := sm.refusal(requested); reason != "" {
		sess.Conn.WriteLine(protocol.Refuse)
		if sm.metrics != nil {
			sm.metrics.RecordHandshakeRefused(reason)
		}
		return "", ErrHandshakeRefused
	}

	name := sm.Register(sess, requested)
	sm.sink.Record(eventlog.Connected(name))
	sm.Broadcast(protocol.FormatJoined(name))
	sm.Send(sess, protocol.FormatConnectedAs(name))
	sm.BroadcastList()
	return name, nil
}

// refusal returns why a requested name is unacceptable, or "" if it is fine
func (sm *SessionManager) refusal(requested string) string {
	switch {
	case protocol.IsReservedName(requested):
		return refuseReserved
	case requested == "":
		return refuseEmpty
	case sm.maxNickname > 0 && protocol.NameLength(requested) > sm.maxNickname:
		return refuseTooLong
	}
	return ""
}

// readLoop processes lines in arrival order until the connection fails
func (sm *SessionManager) readLoop(sess *Session, lr *protocol.LineReader) {
	for {
		line, err := lr.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				debugLog.Printf("Session %d (%s) disconnected", sess.ID, sess.Name)
			} else {
				debugLog.Printf("Session %d (%s) read error: %v", sess.ID, sess.Name, err)
			}
			return
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		sender, ok := sm.NameOf(sess)
		if !ok {
			return
		}

		sm.handleDecision(sess, router.Route(sender, line, sm))
	}
}

// handleDecision carries out what the router decided
func (sm *SessionManager) handleDecision(sess *Session, d router.Decision) {
	if sm.metrics != nil && d.Kind != router.KindIgnore {
		sm.metrics.RecordMessageReceived(d.Kind.String())
	}

	switch d.Kind {
	case router.KindPublic:
		sm.Broadcast(protocol.FormatPublic(sm.now(), d.Sender, d.Text))
		sm.sink.Record(eventlog.Public(d.Sender, d.Text))

	case router.KindPrivate:
		if !sm.SendTo(d.Target, protocol.FormatPrivate(d.Sender, d.Text)) {
			// Target left between routing and delivery
			sm.Send(sess, protocol.FormatUserNotFound(d.Target))
			return
		}
		sm.Send(sess, protocol.FormatPrivateEcho(d.Target, d.Text))
		sm.sink.Record(eventlog.Private(d.Sender, d.Target, d.Text))

	case router.KindNotFound:
		sm.Send(sess, protocol.FormatUserNotFound(d.Target))

	case router.KindIgnore:
	}
}
