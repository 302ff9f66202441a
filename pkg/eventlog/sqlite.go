package eventlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink stores events in an append-only SQLite table.
// Inserts are batched through a WriteBuffer; the server never reads them back.
type SQLiteSink struct {
	conn   *sql.DB
	buffer *WriteBuffer
}

// OpenSQLite opens (or creates) the event database at path
func OpenSQLite(path string, flushInterval time.Duration) (*SQLiteSink, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer; events are only ever appended
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := initSchema(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteSink{conn: conn}
	s.buffer = NewWriteBuffer(conn, flushInterval, defaultMaxPending)
	return s, nil
}

func initSchema(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			recorded_at INTEGER NOT NULL,
			description TEXT NOT NULL
		)
	`)
	return err
}

// Record queues the event for the next flush
func (s *SQLiteSink) Record(description string) {
	s.buffer.Append(Event{Time: time.Now(), Description: description})
}

// Dropped returns how many events were lost to a full queue or failed flush
func (s *SQLiteSink) Dropped() uint64 {
	return s.buffer.Dropped()
}

// Close flushes pending events and closes the database
func (s *SQLiteSink) Close() error {
	s.buffer.Close()
	return s.conn.Close()
}
