package eventlog

import (
	"bytes"
	"database/sql"
	"errors"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linePattern = regexp.MustCompile(`^\[\d{4}-\d\d-\d\d \d\d:\d\d:\d\d\] .+$`)

func TestEventString(t *testing.T) {
	ev := Event{
		Time:        time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local),
		Description: Connected("alice"),
	}
	assert.Equal(t, "[2024-01-02 03:04:05] Connected: alice", ev.String())
}

func TestDescriptions(t *testing.T) {
	assert.Equal(t, "Connected: alice", Connected("alice"))
	assert.Equal(t, "DISCONNECT: alice", Disconnected("alice"))
	assert.Equal(t, "PUBLIC: alice: hi there", Public("alice", "hi there"))
	assert.Equal(t, "PRIVATE: alice -> bob: hello", Private("alice", "bob", "hello"))
	assert.Equal(t, "Server started on 127.0.0.1:6666.", Started("127.0.0.1:6666"))
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chat_log.txt")

	sink, err := OpenFile(path)
	require.NoError(t, err)
	sink.Record(Connected("alice"))
	sink.Record(Public("alice", "hi"))
	require.NoError(t, sink.Close())

	// Reopening appends rather than truncating
	sink, err = OpenFile(path)
	require.NoError(t, err)
	sink.Record(Disconnected("alice"))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.Regexp(t, linePattern, l)
	}
	assert.True(t, strings.HasSuffix(lines[0], "] Connected: alice"))
	assert.True(t, strings.HasSuffix(lines[1], "] PUBLIC: alice: hi"))
	assert.True(t, strings.HasSuffix(lines[2], "] DISCONNECT: alice"))
}

func TestFileSinkSwallowsWritesAfterClose(t *testing.T) {
	sink, err := OpenFile(filepath.Join(t.TempDir(), "chat_log.txt"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	assert.NotPanics(t, func() { sink.Record(Connected("late")) })
	assert.Equal(t, uint64(1), sink.Failures())
	assert.NoError(t, sink.Close())
}

func TestOpenFileFailsOnDirectory(t *testing.T) {
	_, err := OpenFile(t.TempDir())
	assert.Error(t, err)
}

func TestConsoleEchoes(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(log.New(&buf, "", 0))
	c.Record(Connected("alice"))

	assert.Regexp(t, linePattern, strings.TrimSpace(buf.String()))
	assert.Contains(t, buf.String(), "Connected: alice")
}

type recordingSink struct {
	events   []string
	closeErr error
}

func (r *recordingSink) Record(d string) { r.events = append(r.events, d) }
func (r *recordingSink) Close() error    { return r.closeErr }

func TestMultiFansOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{closeErr: errors.New("boom")}
	m := Multi{a, b, Discard}

	m.Record("one")
	m.Record("two")

	assert.Equal(t, []string{"one", "two"}, a.events)
	assert.Equal(t, []string{"one", "two"}, b.events)
	assert.ErrorContains(t, m.Close(), "boom")
}

func TestSQLiteSinkPersistsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	sink, err := OpenSQLite(path, 10*time.Millisecond)
	require.NoError(t, err)

	sink.Record(Connected("alice"))
	sink.Record(Private("alice", "bob", "hello"))
	sink.Record(Disconnected("alice"))
	require.NoError(t, sink.Close())
	assert.Zero(t, sink.Dropped())

	conn, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer conn.Close()

	rows, err := conn.Query(`SELECT description FROM events ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var got []string
	for rows.Next() {
		var d string
		require.NoError(t, rows.Scan(&d))
		got = append(got, d)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"Connected: alice", "PRIVATE: alice -> bob: hello", "DISCONNECT: alice"}, got)
}

func TestWriteBufferDropsWhenFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	sink, err := OpenSQLite(path, time.Hour)
	require.NoError(t, err)
	defer sink.Close()

	wb := NewWriteBuffer(sink.conn, time.Hour, 2)
	wb.Append(Event{Time: time.Now(), Description: "a"})
	wb.Append(Event{Time: time.Now(), Description: "b"})
	wb.Append(Event{Time: time.Now(), Description: "c"})
	assert.Equal(t, uint64(1), wb.Dropped())

	wb.Close()
	wb.Append(Event{Time: time.Now(), Description: "late"})
	assert.Equal(t, uint64(2), wb.Dropped())
}
