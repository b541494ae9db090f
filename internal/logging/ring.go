package logging

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Entry is the bridge's normalized log record, independent of logrus's
// internal representation, used by both the in-memory ring and the
// persistence handoff.
type Entry struct {
	Timestamp string
	Level     string
	Message   string
	Device    string
	Source    string
}

// Sink receives every captured log entry for archival. internal/storage's
// LogBatcher implements this so the Log Capture Layer never imports the
// persistence package directly.
type Sink interface {
	EnqueueLog(Entry)
}

const defaultRingCapacity = 500

// RingHook is a logrus.Hook that fans each fired log event into a fixed
// capacity in-memory ring (oldest evicted at capacity) and, if a sink is
// configured, hands the entry off for archival. It fires on every level.
type RingHook struct {
	mu     sync.Mutex
	buf    []Entry
	cap    int
	next   int
	filled bool
	sink   Sink
}

// NewRingHook returns a RingHook with the default capacity (500).
func NewRingHook(sink Sink) *RingHook {
	return &RingHook{
		buf:  make([]Entry, defaultRingCapacity),
		cap:  defaultRingCapacity,
		sink: sink,
	}
}

// Levels reports that this hook fires for every log level.
func (h *RingHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire is called by logrus for each log event. It never returns an error:
// a ring/sink failure must not abort the caller's original log statement.
func (h *RingHook) Fire(e *logrus.Entry) error {
	entry := Entry{
		Timestamp: e.Time.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
		Level:     e.Level.String(),
		Message:   e.Message,
		Source:    serviceOf(e),
	}
	if dev, ok := e.Data["device"]; ok {
		if s, ok := dev.(string); ok {
			entry.Device = s
		}
	}

	h.mu.Lock()
	h.buf[h.next] = entry
	h.next = (h.next + 1) % h.cap
	if h.next == 0 {
		h.filled = true
	}
	sink := h.sink
	h.mu.Unlock()

	if sink != nil {
		sink.EnqueueLog(entry)
	}
	return nil
}

func serviceOf(e *logrus.Entry) string {
	if v, ok := e.Data["service"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "bridge"
}

// Snapshot returns the ring's current contents, oldest first.
func (h *RingHook) Snapshot() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.filled {
		out := make([]Entry, h.next)
		copy(out, h.buf[:h.next])
		return out
	}
	out := make([]Entry, h.cap)
	copy(out, h.buf[h.next:])
	copy(out[h.cap-h.next:], h.buf[:h.next])
	return out
}
