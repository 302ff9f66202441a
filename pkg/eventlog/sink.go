// Package eventlog is the append-only record of chat events: connects,
// disconnects, public and private messages, and server lifecycle.
//
// Sinks are best-effort. Record never returns an error and a failing
// destination never affects the chat protocol.
package eventlog

import (
	"errors"
	"fmt"
	"log"
	"time"
)

// TimestampLayout is the timestamp format of every recorded line
const TimestampLayout = "2006-01-02 15:04:05"

// Event is one recorded occurrence
type Event struct {
	Time        time.Time
	Description string
}

// String formats the event as "[YYYY-MM-DD HH:MM:SS] description"
func (e Event) String() string {
	return fmt.Sprintf("[%s] %s", e.Time.Format(TimestampLayout), e.Description)
}

// Sink receives event descriptions
type Sink interface {
	Record(description string)
	Close() error
}

// Connected describes a completed handshake
func Connected(name string) string {
	return "Connected: " + name
}

// Disconnected describes a teardown
func Disconnected(name string) string {
	return "DISCONNECT: " + name
}

// Public describes a broadcast chat line
func Public(sender, text string) string {
	return fmt.Sprintf("PUBLIC: %s: %s", sender, text)
}

// Private describes a delivered private message
func Private(from, to, text string) string {
	return fmt.Sprintf("PRIVATE: %s -> %s: %s", from, to, text)
}

func Started(addr string) string {
	return fmt.Sprintf("Server started on %s.", addr)
}

func Stopped() string {
	return "Server stopped manually via signal."
}

// Discard drops every event
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(string) {}
func (discard) Close() error  { return nil }

// Console echoes every event to the process log
type Console struct {
	logger *log.Logger
	now    func() time.Time
}

// NewConsole echoes to logger, or to the standard logger when nil
func NewConsole(logger *log.Logger) *Console {
	if logger == nil {
		logger = log.Default()
	}
	return &Console{logger: logger, now: time.Now}
}

func (c *Console) Record(description string) {
	c.logger.Print(Event{Time: c.now(), Description: description}.String())
}

func (c *Console) Close() error { return nil }

// Multi fans events out to several sinks
type Multi []Sink

func (m Multi) Record(description string) {
	for _, s := range m {
		s.Record(description)
	}
}

// Close closes every sink and joins their errors
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
