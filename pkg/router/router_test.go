package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

type names map[string]bool

func (n names) Has(name string) bool { return n[name] }

func TestRoute(t *testing.T) {
	dir := names{"alice": true, "bob": true}

	tests := []struct {
		name string
		line string
		want Decision
	}{
		{
			name: "public line",
			line: "hi there",
			want: Decision{Kind: KindPublic, Sender: "alice", Text: "hi there"},
		},
		{
			name: "public line is stripped",
			line: "  hi there \r\n",
			want: Decision{Kind: KindPublic, Sender: "alice", Text: "hi there"},
		},
		{
			name: "empty line ignored",
			line: " \t\n",
			want: Decision{Kind: KindIgnore, Sender: "alice"},
		},
		{
			name: "private to registered target",
			line: "/msg bob hello",
			want: Decision{Kind: KindPrivate, Sender: "alice", Target: "bob", Text: "hello"},
		},
		{
			name: "private content keeps spaces",
			line: "/msg bob see  you   soon",
			want: Decision{Kind: KindPrivate, Sender: "alice", Target: "bob", Text: "see  you   soon"},
		},
		{
			name: "private to self",
			line: "/msg alice note to self",
			want: Decision{Kind: KindPrivate, Sender: "alice", Target: "alice", Text: "note to self"},
		},
		{
			name: "private to unknown target",
			line: "/msg carol hello",
			want: Decision{Kind: KindNotFound, Sender: "alice", Target: "carol", Text: "hello"},
		},
		{
			name: "msg without content is public",
			line: "/msg bob",
			want: Decision{Kind: KindPublic, Sender: "alice", Text: "/msg bob"},
		},
		{
			name: "bare msg is public",
			line: "/msg",
			want: Decision{Kind: KindPublic, Sender: "alice", Text: "/msg"},
		},
		{
			name: "double space leaves empty target",
			line: "/msg  bob hello",
			want: Decision{Kind: KindPublic, Sender: "alice", Text: "/msg  bob hello"},
		},
		{
			name: "lookalike command is public",
			line: "/msgbob hello there",
			want: Decision{Kind: KindPublic, Sender: "alice", Text: "/msgbob hello there"},
		},
		{
			name: "other slash command is public",
			line: "/nick carol",
			want: Decision{Kind: KindPublic, Sender: "alice", Text: "/nick carol"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Route("alice", tt.line, dir))
		})
	}
}

func TestRouteNilDirectory(t *testing.T) {
	d := Route("alice", "/msg bob hi", nil)
	assert.Equal(t, KindNotFound, d.Kind)
	assert.Equal(t, "bob", d.Target)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "public", KindPublic.String())
	assert.Equal(t, "private", KindPrivate.String())
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "ignore", KindIgnore.String())
	assert.Equal(t, "unknown", Kind(42).String())
}

// TestRouteNeverLosesPublicText tests that non-command lines are broadcast verbatim
func TestRouteNeverLosesPublicText(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringMatching(`[a-z][a-z ]{0,30}[a-z]`).Draw(t, "text")

		d := Route("alice", text, names{})
		if d.Kind != KindPublic {
			t.Fatalf("expected public, got %v", d.Kind)
		}
		if d.Text != text {
			t.Fatalf("text mangled: got %q, want %q", d.Text, text)
		}
	})
}

// TestRoutePrivateContentVerbatim tests that private content survives routing unchanged
func TestRoutePrivateContentVerbatim(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		target := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "target")
		content := rapid.StringMatching(`[a-z][a-z ]{0,30}[a-z]`).Draw(t, "content")
		registered := rapid.Bool().Draw(t, "registered")

		d := Route("alice", "/msg "+target+" "+content, names{target: registered})
		want := KindNotFound
		if registered {
			want = KindPrivate
		}
		if d.Kind != want {
			t.Fatalf("got %v, want %v", d.Kind, want)
		}
		if d.Target != target || d.Text != content {
			t.Fatalf("got target=%q text=%q", d.Target, d.Text)
		}
	})
}
