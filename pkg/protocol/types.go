package protocol

import (
	"strings"
	"unicode/utf8"
)

// Server → client control lines
const (
	NickPrompt = "NICK"
	Refuse     = "REFUSE"
	ListPrefix = "LIST:"
)

// Client → server command
const (
	PrivateCommand = "/msg"
)

// ReservedMarker prefixes names that passed through a relay.
// The server refuses any requested name that starts with it.
const ReservedMarker = '*'

// IsReservedName reports whether name starts with the reserved marker
func IsReservedName(name string) bool {
	return strings.HasPrefix(name, string(ReservedMarker))
}

// MarkRelayed prepends the reserved marker
func MarkRelayed(name string) string {
	return string(ReservedMarker) + name
}

// NameLength returns the display length of a name in runes
func NameLength(name string) int {
	return utf8.RuneCountInString(name)
}
