package protocol

import (
	"fmt"
	"strings"
	"time"
)

// ShutdownNotice is broadcast once before the server closes every connection
const ShutdownNotice = "[System]: Server is shutting down, connection will be closed."

// FormatList builds the full membership snapshot line
func FormatList(names []string) string {
	return ListPrefix + strings.Join(names, ",")
}

// ParseList returns the names of a LIST: line. ok is false for any other line.
func ParseList(line string) (names []string, ok bool) {
	rest, found := strings.CutPrefix(line, ListPrefix)
	if !found {
		return nil, false
	}
	if rest == "" {
		return []string{}, true
	}
	return strings.Split(rest, ","), true
}

// FormatPublic formats a public broadcast stamped with the time of receipt
func FormatPublic(at time.Time, sender, text string) string {
	return fmt.Sprintf("[%s] %s: %s", at.Format("15:04"), sender, text)
}

// FormatPrivate is what the target of a private message receives
func FormatPrivate(sender, text string) string {
	return fmt.Sprintf("[Private] %s: %s", sender, text)
}

// FormatPrivateEcho is the confirmation returned to the sender of a private message
func FormatPrivateEcho(target, text string) string {
	return fmt.Sprintf("[To] %s: %s", target, text)
}

// FormatJoined announces a new member
func FormatJoined(name string) string {
	return name + " joined the chat!"
}

// FormatLeft announces a departure
func FormatLeft(name string) string {
	return name + " left the chat!"
}

// FormatConnectedAs confirms the assigned name to a new member
func FormatConnectedAs(name string) string {
	return "Connected as " + name
}

// FormatUserNotFound tells a sender the private target is not registered
func FormatUserNotFound(target string) string {
	return fmt.Sprintf("[System]: User '%s' not found.", target)
}
