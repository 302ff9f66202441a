// Package router decides what happens to a line a participant sends.
//
// Route is pure: it performs no I/O and never reads the clock. The session
// manager acts on the returned Decision.
package router

import (
	"strings"

	"github.com/aeolun/linechat/pkg/protocol"
)

// Kind enumerates routing outcomes
type Kind uint8

const (
	// KindIgnore means the line was empty after stripping
	KindIgnore Kind = iota
	// KindPublic means broadcast to every live connection
	KindPublic
	// KindPrivate means deliver to Target and echo to the sender
	KindPrivate
	// KindNotFound means the private target is not registered
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindIgnore:
		return "ignore"
	case KindPublic:
		return "public"
	case KindPrivate:
		return "private"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Directory answers whether a display name is currently registered
type Directory interface {
	Has(name string) bool
}

// Decision is the outcome of routing one line
type Decision struct {
	Kind   Kind
	Sender string
	Target string // private target, set for KindPrivate and KindNotFound
	Text   string // public text or private content, verbatim
}

// Route classifies a line from sender. Surrounding whitespace is stripped
// first; everything that is not a well-formed private command is public.
func Route(sender, line string, dir Directory) Decision {
	line = strings.TrimSpace(line)
	if line == "" {
		return Decision{Kind: KindIgnore, Sender: sender}
	}

	target, content, ok := ParsePrivate(line)
	if !ok {
		return Decision{Kind: KindPublic, Sender: sender, Text: line}
	}

	if dir == nil || !dir.Has(target) {
		return Decision{Kind: KindNotFound, Sender: sender, Target: target, Text: content}
	}
	return Decision{Kind: KindPrivate, Sender: sender, Target: target, Text: content}
}

// ParsePrivate splits "/msg <target> <content>". The line is split on single
// spaces into at most three fields, so content keeps its inner spacing.
func ParsePrivate(line string) (target, content string, ok bool) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 || parts[0] != protocol.PrivateCommand || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
