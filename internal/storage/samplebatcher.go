package storage

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSampleBatchSize and DefaultSampleFlushInterval match
// original_source's sample batching defaults.
const (
	DefaultSampleBatchSize     = 500
	DefaultSampleFlushInterval = 10 * time.Second
)

// Sample is one LSL sample queued for archival. ChannelData is already
// packed (little-endian numeric, or verbatim for string streams) by the
// caller, per spec §3's LSL Sample payload convention.
type Sample struct {
	StreamUID   string
	Timestamp   float64
	ChannelData []byte
}

// SampleBatcher buffers LSL samples and flushes them to the lsl_samples
// table in a single transaction per batch.
type SampleBatcher struct {
	store         *Store
	batchSize     int
	flushInterval time.Duration

	mu       sync.Mutex
	queue    []Sample
	maxQueue int
	dropped  atomic.Uint64

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSampleBatcher constructs and starts a SampleBatcher's flush loop.
func NewSampleBatcher(store *Store, batchSize int, flushInterval time.Duration) *SampleBatcher {
	b := &SampleBatcher{
		store:         store,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		maxQueue:      batchSize * logQueueOverflowFactor,
		ticker:        time.NewTicker(flushInterval),
		stopCh:        make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Enqueue buffers a sample for the next batch flush. On overflow the
// oldest sample is dropped and the drop counter incremented.
func (b *SampleBatcher) Enqueue(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) >= b.maxQueue {
		b.queue = b.queue[1:]
		b.dropped.Add(1)
	}
	b.queue = append(b.queue, s)
	if len(b.queue) >= b.batchSize {
		b.flushLocked()
	}
}

func (b *SampleBatcher) run() {
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

func (b *SampleBatcher) flushLocked() {
	if len(b.queue) == 0 {
		return
	}
	batch := b.queue

	tx, err := b.store.db.Begin()
	if err != nil {
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO lsl_samples (session_id, stream_uid, timestamp, channel_data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return
	}

	sessionID, hasSession, _ := b.store.CurrentSessionID()

	for _, s := range batch {
		var sid any
		if hasSession {
			sid = sessionID
		}
		if _, err := stmt.Exec(sid, s.StreamUID, s.Timestamp, s.ChannelData); err != nil {
			stmt.Close()
			tx.Rollback()
			return
		}
	}
	stmt.Close()

	if err := tx.Commit(); err != nil {
		return
	}
	b.queue = nil
}

// DroppedCount returns how many samples have been dropped for queue
// overflow since startup.
func (b *SampleBatcher) DroppedCount() uint64 {
	return b.dropped.Load()
}

// Flush forces an immediate flush of whatever is buffered.
func (b *SampleBatcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Stop halts the flush loop after a final flush.
func (b *SampleBatcher) Stop() {
	close(b.stopCh)
	b.wg.Wait()
	b.ticker.Stop()
}
