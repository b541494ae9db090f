package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperstudy/bridge/internal/logging"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "bridge.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStartSessionRejectsConcurrentActive(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.StartSession(nil); err != nil {
		t.Fatalf("first StartSession: %v", err)
	}
	if _, err := s.StartSession(nil); err == nil {
		t.Fatalf("expected second StartSession to fail while one is active")
	}
}

func TestEndSessionThenStartAnother(t *testing.T) {
	s := openTestStore(t)

	sess, err := s.StartSession(map[string]any{"experiment": "pilot"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := s.EndSession(sess.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := s.StartSession(nil); err != nil {
		t.Fatalf("expected a new session to start after ending the prior one: %v", err)
	}
}

func TestLogBatcherFlushesAndQueryReturnsEntry(t *testing.T) {
	s := openTestStore(t)

	s.LogBatcher.EnqueueLog(logging.Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     "info",
		Message:   "device ttl-0 connected",
		Device:    "ttl-0",
		Source:    "bridgestate",
	})
	s.LogBatcher.Flush()

	recs, err := s.QueryLogs(LogQuery{Device: "ttl-0"})
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 log record, got %d", len(recs))
	}
	if recs[0].Message != "device ttl-0 connected" {
		t.Fatalf("unexpected message: %q", recs[0].Message)
	}
}

func TestLogBatcherOverflowDropsOldest(t *testing.T) {
	s := openTestStore(t)
	b := NewLogBatcher(s, 10, time.Hour)
	defer b.Stop()

	// A closed database makes every flush fail, so the queue backs up past
	// its 10x-batch bound instead of being drained every 10 entries.
	s.db.Close()

	for i := 0; i < 120; i++ {
		b.EnqueueLog(logging.Entry{Message: "msg", Level: "info", Source: "x"})
	}
	if b.DroppedCount() == 0 {
		t.Fatalf("expected some entries dropped for overflow")
	}
}

func TestQueryLogsSearchEscapesLikeMetacharacters(t *testing.T) {
	s := openTestStore(t)
	s.LogBatcher.EnqueueLog(logging.Entry{Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Message: "100%_complete", Level: "info", Source: "x"})
	s.LogBatcher.Flush()

	recs, err := s.QueryLogs(LogQuery{Search: "100%_complete"})
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected literal match on escaped LIKE pattern, got %d results", len(recs))
	}
}

func TestSampleBatcherRoundTrip(t *testing.T) {
	s := openTestStore(t)
	data, err := EncodeChannelData(FormatF32, []float64{1.5, 2.5})
	if err != nil {
		t.Fatalf("EncodeChannelData: %v", err)
	}

	s.UpsertStream(StreamDescriptor{
		UID: "stream-1", Name: "EEG", Type: "EEG", Channels: 2, Rate: 256,
		Format: "f32", DiscoveredAt: time.Now(), LastSeen: time.Now(),
	})
	s.SampleBatcher.Enqueue(Sample{StreamUID: "stream-1", Timestamp: 1.0, ChannelData: data})
	s.SampleBatcher.Flush()

	recs, err := s.QuerySamples(SampleQuery{StreamUID: "stream-1"})
	if err != nil {
		t.Fatalf("QuerySamples: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(recs))
	}
	decoded, err := DecodeChannelData(FormatF32, recs[0].ChannelData)
	if err != nil {
		t.Fatalf("DecodeChannelData: %v", err)
	}
	if len(decoded) != 2 || decoded[0] != 1.5 || decoded[1] != 2.5 {
		t.Fatalf("unexpected decoded values: %v", decoded)
	}
}

func TestGetStatsReflectsInsertedRows(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.StartSession(nil); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	s.LogBatcher.EnqueueLog(logging.Entry{Message: "hello", Level: "info", Source: "x"})
	s.LogBatcher.Flush()

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.SessionCount != 1 || stats.LogCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCleanupOldLogsDeletesOnlyOldRows(t *testing.T) {
	s := openTestStore(t)
	old := time.Now().UTC().AddDate(0, 0, -30)
	_, err := s.db.Exec(`INSERT INTO logs (timestamp, level, message, source) VALUES (?, 'info', 'ancient', 'x')`, old)
	if err != nil {
		t.Fatalf("seeding old log: %v", err)
	}
	s.LogBatcher.EnqueueLog(logging.Entry{Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Message: "fresh", Level: "info", Source: "x"})
	s.LogBatcher.Flush()

	deleted, err := s.CleanupOldLogs(7)
	if err != nil {
		t.Fatalf("CleanupOldLogs: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted row, got %d", deleted)
	}

	recs, err := s.QueryLogs(LogQuery{})
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if len(recs) != 1 || recs[0].Message != "fresh" {
		t.Fatalf("expected only the fresh log to survive cleanup, got %+v", recs)
	}
}

func TestOpenWithBatchingSizesLogBatcher(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenWithBatching(filepath.Join(dir, "bridge.db"), 1, time.Hour, DefaultSampleBatchSize, DefaultSampleFlushInterval)
	if err != nil {
		t.Fatalf("OpenWithBatching: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	s.LogBatcher.EnqueueLog(logging.Entry{Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Message: "one entry triggers a flush", Level: "info", Source: "x"})

	recs, err := s.QueryLogs(LogQuery{})
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected the batch-size-1 batcher to flush without an explicit Flush call, got %d rows", len(recs))
	}
}
