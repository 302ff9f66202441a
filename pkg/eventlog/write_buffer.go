package eventlog

import (
	"database/sql"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const defaultMaxPending = 10000

// WriteBuffer batches event inserts so that recording never waits on disk
type WriteBuffer struct {
	conn          *sql.DB
	flushInterval time.Duration
	maxPending    int

	mu      sync.Mutex
	pending []Event
	closed  bool
	dropped atomic.Uint64

	// Shutdown
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewWriteBuffer starts a flush loop writing to conn every flushInterval
func NewWriteBuffer(conn *sql.DB, flushInterval time.Duration, maxPending int) *WriteBuffer {
	if flushInterval <= 0 {
		flushInterval = 100 * time.Millisecond
	}
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}

	wb := &WriteBuffer{
		conn:          conn,
		flushInterval: flushInterval,
		maxPending:    maxPending,
		pending:       make([]Event, 0, 64),
		shutdown:      make(chan struct{}),
	}

	// Start flush loop
	wb.wg.Add(1)
	go wb.flushLoop()

	return wb
}

// Append queues an event. When the queue is full or the buffer is closed
// the event is dropped.
func (wb *WriteBuffer) Append(ev Event) {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	if wb.closed || len(wb.pending) >= wb.maxPending {
		wb.dropped.Add(1)
		return
	}
	wb.pending = append(wb.pending, ev)
}

// Dropped returns the number of events that never reached the database
func (wb *WriteBuffer) Dropped() uint64 {
	return wb.dropped.Load()
}

// Close stops the flush loop after a final flush
func (wb *WriteBuffer) Close() {
	wb.mu.Lock()
	if wb.closed {
		wb.mu.Unlock()
		return
	}
	wb.closed = true
	wb.mu.Unlock()

	close(wb.shutdown)
	wb.wg.Wait()
}

// flushLoop periodically flushes buffered writes
func (wb *WriteBuffer) flushLoop() {
	defer wb.wg.Done()

	ticker := time.NewTicker(wb.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wb.flush()
		case <-wb.shutdown:
			// Final flush on shutdown
			wb.flush()
			return
		}
	}
}

// flush writes all queued events in a single transaction
func (wb *WriteBuffer) flush() {
	wb.mu.Lock()
	events := wb.pending
	wb.pending = make([]Event, 0, 64)
	wb.mu.Unlock()

	if len(events) == 0 {
		return
	}

	tx, err := wb.conn.Begin()
	if err != nil {
		log.Printf("WriteBuffer: failed to begin transaction: %v", err)
		wb.dropped.Add(uint64(len(events)))
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO events (recorded_at, description) VALUES (?, ?)`)
	if err != nil {
		log.Printf("WriteBuffer: failed to prepare event statement: %v", err)
		wb.dropped.Add(uint64(len(events)))
		return
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.Exec(ev.Time.UnixMilli(), ev.Description); err != nil {
			log.Printf("WriteBuffer: failed to insert event: %v", err)
			wb.dropped.Add(uint64(len(events)))
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("WriteBuffer: failed to commit: %v", err)
		wb.dropped.Add(uint64(len(events)))
	}
}
