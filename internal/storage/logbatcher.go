package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperstudy/bridge/internal/logging"
)

// DefaultLogBatchSize and DefaultLogFlushInterval match original_source's
// LogBatcherConfig defaults.
const (
	DefaultLogBatchSize     = 100
	DefaultLogFlushInterval = 5 * time.Second
	logQueueOverflowFactor  = 10
)

// LogBatcher buffers captured log entries and flushes them to the logs
// table in a single transaction per batch, either when the buffer reaches
// batchSize or flushInterval elapses. It implements logging.Sink.
type LogBatcher struct {
	store        *Store
	batchSize    int
	flushInterval time.Duration

	mu      sync.Mutex
	queue   []logging.Entry
	maxQueue int
	dropped atomic.Uint64

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewLogBatcher constructs and starts a LogBatcher's flush loop.
func NewLogBatcher(store *Store, batchSize int, flushInterval time.Duration) *LogBatcher {
	b := &LogBatcher{
		store:        store,
		batchSize:    batchSize,
		flushInterval: flushInterval,
		maxQueue:     batchSize * logQueueOverflowFactor,
		ticker:       time.NewTicker(flushInterval),
		stopCh:       make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// EnqueueLog implements logging.Sink. On overflow the oldest buffered
// entry is dropped and the drop counter incremented, per spec §4.3.
func (b *LogBatcher) EnqueueLog(e logging.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) >= b.maxQueue {
		b.queue = b.queue[1:]
		b.dropped.Add(1)
	}
	b.queue = append(b.queue, e)
	if len(b.queue) >= b.batchSize {
		b.flushLocked()
	}
}

func (b *LogBatcher) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ticker.C:
			b.mu.Lock()
			b.flushLocked()
			b.mu.Unlock()
		case <-b.stopCh:
			b.mu.Lock()
			b.flushLocked()
			b.mu.Unlock()
			return
		}
	}
}

// flushLocked must be called with b.mu held. On failure the batch is kept
// in the queue (minus anything already dropped for overflow) so the next
// flush attempt retries it.
func (b *LogBatcher) flushLocked() {
	if len(b.queue) == 0 {
		return
	}
	batch := b.queue

	tx, err := b.store.db.Begin()
	if err != nil {
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO logs (session_id, timestamp, level, message, device, source) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return
	}

	sessionID, hasSession, _ := b.store.CurrentSessionID()

	for _, e := range batch {
		var sid any
		if hasSession {
			sid = sessionID
		}
		var device any
		if e.Device != "" {
			device = e.Device
		}
		if _, err := stmt.Exec(sid, e.Timestamp, e.Level, e.Message, device, e.Source); err != nil {
			stmt.Close()
			tx.Rollback()
			return // batch stays queued for retry on the next flush
		}
	}
	stmt.Close()

	if err := tx.Commit(); err != nil {
		return
	}
	b.queue = nil
}

// DroppedCount returns how many log entries have been dropped for queue
// overflow since startup.
func (b *LogBatcher) DroppedCount() uint64 {
	return b.dropped.Load()
}

// Flush forces an immediate flush of whatever is buffered.
func (b *LogBatcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Stop halts the flush loop after a final flush.
func (b *LogBatcher) Stop() {
	close(b.stopCh)
	b.wg.Wait()
	b.ticker.Stop()
}
