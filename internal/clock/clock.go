// Package clock provides the bridge's three clocks (monotonic, wall, LSL)
// and a periodic offset estimator used to tag samples with corrected
// timestamps. See spec §4.1.
package clock

import (
	"sync"
	"time"
)

// SyncWindow is the interval within which at least one successful LSL time
// exchange must have occurred, or NeedsSync reports true.
const SyncWindow = 10 * time.Second

// Service exposes monotonic, wall, and LSL clocks plus drift accounting.
// A Service is safe for concurrent use.
type Service struct {
	monoStart time.Time
	lslEpoch  time.Time

	mu           sync.Mutex
	lastSyncAt   time.Time
	haveSync     bool
	offsetSecs   float64
	driftThresh  float64
}

// New returns a Service whose LSL epoch is the instant of construction.
// All outlets/inlets created by the same process share this epoch.
func New() *Service {
	now := time.Now()
	return &Service{
		monoStart:   now,
		lslEpoch:    now,
		driftThresh: 0.001, // 1ms default drift threshold
	}
}

// NowMono returns elapsed time since the service started, for latency math.
func (s *Service) NowMono() time.Duration {
	return time.Since(s.monoStart)
}

// NowWall returns the current wall-clock time formatted as RFC-3339, used
// for log timestamps.
func (s *Service) NowWall() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NowLSL returns seconds elapsed since the shared LSL epoch, matching the
// convention liblsl uses for local_clock().
func (s *Service) NowLSL() float64 {
	return time.Since(s.lslEpoch).Seconds()
}

// TimeCorrection estimates the clock offset to a remote LSL source given
// the remote's reported LSL time at the moment of exchange, records it as
// the latest successful sync, and returns (offset, true). The offset comes
// from this single exchange, so the boolean is always true.
func (s *Service) TimeCorrection(remoteLSL float64) (float64, bool) {
	local := s.NowLSL()
	offset := remoteLSL - local

	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsetSecs = offset
	s.lastSyncAt = time.Now()
	s.haveSync = true
	return offset, true
}

// NeedsSync reports whether SyncWindow has elapsed since the last
// successful time exchange (or none has ever occurred).
func (s *Service) NeedsSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveSync {
		return true
	}
	return time.Since(s.lastSyncAt) > SyncWindow
}

// SetDriftThreshold configures the drift magnitude (in seconds) that
// CheckDrift flags. Default is 1ms.
func (s *Service) SetDriftThreshold(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.driftThresh = seconds
}

// CheckDrift reports whether the last estimated offset exceeds the
// configured drift threshold. Returns false if no sync has occurred.
func (s *Service) CheckDrift() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveSync {
		return false
	}
	offset := s.offsetSecs
	if offset < 0 {
		offset = -offset
	}
	return offset > s.driftThresh
}

// LastOffset returns the most recently estimated offset and whether one has
// ever been computed.
func (s *Service) LastOffset() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsetSecs, s.haveSync
}
