// Package perf is the bridge's Performance Accountant: global and
// per-device counters plus latency histograms, used to answer the §4.2
// compliance and throughput questions without locking readers against
// writers. See spec §4.2.
package perf

import (
	"sync"
	"sync/atomic"
	"time"
)

// GlobalSnapshot is a point-in-time read of the system-wide counters.
type GlobalSnapshot struct {
	TotalWSConnections  uint64
	ActiveWSConnections uint64
	BridgeMessages      uint64
	GlobalErrors        uint64
	CPUPercent          float64
	MemoryBytes         uint64
}

// DeviceSnapshot is a point-in-time read of one device's counters.
type DeviceSnapshot struct {
	DeviceID            string
	MessagesSent        uint64
	MessagesReceived    uint64
	BytesSent           uint64
	BytesReceived       uint64
	ConnectionAttempts  uint64
	ConnectionSuccesses uint64
	Errors              uint64
	LastLatencyNs       int64
	P50Ns               int64
	P95Ns               int64
	P99Ns               int64
	LastActivityUnixNs  int64
}

type deviceRecord struct {
	messagesSent        atomic.Uint64
	messagesReceived    atomic.Uint64
	bytesSent           atomic.Uint64
	bytesReceived       atomic.Uint64
	connectionAttempts  atomic.Uint64
	connectionSuccesses atomic.Uint64
	errors              atomic.Uint64
	lastLatencyNs       atomic.Int64
	lastActivityUnixNs  atomic.Int64
	hist                histogram
}

// Accountant tracks global and per-device performance counters. Counters
// are atomics. The per-device records live in one plain map (not sharded)
// guarded by an RWMutex: every lookup, including a snapshot read, takes
// the read lock, and only registering a new device takes the write lock.
type Accountant struct {
	totalWS    atomic.Uint64
	activeWS   atomic.Uint64
	bridgeMsgs atomic.Uint64
	globalErrs atomic.Uint64
	cpuPct     atomic.Uint64 // bits of a float64
	memBytes   atomic.Uint64

	startedAt time.Time

	mu      sync.RWMutex
	devices map[string]*deviceRecord
}

// New returns an empty Accountant with its uptime clock started now.
func New() *Accountant {
	return &Accountant{devices: make(map[string]*deviceRecord), startedAt: time.Now()}
}

func (a *Accountant) recordFor(deviceID string) *deviceRecord {
	a.mu.RLock()
	rec, ok := a.devices[deviceID]
	a.mu.RUnlock()
	if ok {
		return rec
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec, ok = a.devices[deviceID]; ok {
		return rec
	}
	rec = &deviceRecord{}
	a.devices[deviceID] = rec
	return rec
}

// RecordDeviceOperation updates a device's message/byte/latency counters.
// A zero-byte receive does not increment messages_received: the bridge
// treats a zero-length read as "nothing arrived" rather than a message, a
// distinction that matters for throughput accounting on polling drivers.
func (a *Accountant) RecordDeviceOperation(deviceID string, latency time.Duration, bytesSent, bytesReceived int) {
	rec := a.recordFor(deviceID)
	if bytesSent > 0 {
		rec.messagesSent.Add(1)
		rec.bytesSent.Add(uint64(bytesSent))
	}
	if bytesReceived > 0 {
		rec.messagesReceived.Add(1)
		rec.bytesReceived.Add(uint64(bytesReceived))
	}
	rec.lastLatencyNs.Store(int64(latency))
	rec.hist.observe(latency)
	rec.lastActivityUnixNs.Store(time.Now().UnixNano())
	a.bridgeMsgs.Add(1)
}

// RecordDeviceError increments both the device-local and global error
// counters.
func (a *Accountant) RecordDeviceError(deviceID string) {
	rec := a.recordFor(deviceID)
	rec.errors.Add(1)
	a.globalErrs.Add(1)
}

// RecordConnectionAttempt records an attempt and, if success is true, a
// matching success, on the device's connection counters.
func (a *Accountant) RecordConnectionAttempt(deviceID string, success bool) {
	rec := a.recordFor(deviceID)
	rec.connectionAttempts.Add(1)
	if success {
		rec.connectionSuccesses.Add(1)
	}
}

// RecordWSConnection adjusts the global WebSocket connection counters.
// connected=true increments total and active; connected=false decrements
// active with a saturating floor at zero so a duplicate disconnect event
// never drives the counter negative.
func (a *Accountant) RecordWSConnection(connected bool) {
	if connected {
		a.totalWS.Add(1)
		a.activeWS.Add(1)
		return
	}
	for {
		cur := a.activeWS.Load()
		if cur == 0 {
			return
		}
		if a.activeWS.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// RecordBridgeMessage increments the global message counter independent of
// any particular device (used for router-level traffic such as queries).
func (a *Accountant) RecordBridgeMessage() {
	a.bridgeMsgs.Add(1)
}

// SetResourceUsage records the latest CPU percent and resident memory
// sample, typically polled on an interval by the caller.
func (a *Accountant) SetResourceUsage(cpuPct float64, memBytes uint64) {
	a.cpuPct.Store(floatBits(cpuPct))
	a.memBytes.Store(memBytes)
}

// CheckTTLLatencyCompliance reports whether the device's P95 latency is
// under 1ms, the bridge's headline TTL responsiveness guarantee.
func (a *Accountant) CheckTTLLatencyCompliance(deviceID string) bool {
	a.mu.RLock()
	rec, ok := a.devices[deviceID]
	a.mu.RUnlock()
	if !ok {
		return false
	}
	return rec.hist.percentile(0.95) < int64(time.Millisecond)
}

// GlobalSnapshot returns a consistent-enough read of the system-wide
// counters. Individual fields may be read at slightly different instants
// under concurrent writers, which is acceptable for a diagnostics surface.
func (a *Accountant) GlobalSnapshot() GlobalSnapshot {
	return GlobalSnapshot{
		TotalWSConnections:  a.totalWS.Load(),
		ActiveWSConnections: a.activeWS.Load(),
		BridgeMessages:      a.bridgeMsgs.Load(),
		GlobalErrors:        a.globalErrs.Load(),
		CPUPercent:          bitsToFloat(a.cpuPct.Load()),
		MemoryBytes:         a.memBytes.Load(),
	}
}

// DeviceSnapshotFor returns the current counters for one device. ok is
// false if nothing (operation, error or connection attempt) has been
// recorded for the device.
func (a *Accountant) DeviceSnapshotFor(deviceID string) (DeviceSnapshot, bool) {
	a.mu.RLock()
	rec, ok := a.devices[deviceID]
	a.mu.RUnlock()
	if !ok {
		return DeviceSnapshot{}, false
	}
	return DeviceSnapshot{
		DeviceID:            deviceID,
		MessagesSent:        rec.messagesSent.Load(),
		MessagesReceived:    rec.messagesReceived.Load(),
		BytesSent:           rec.bytesSent.Load(),
		BytesReceived:       rec.bytesReceived.Load(),
		ConnectionAttempts:  rec.connectionAttempts.Load(),
		ConnectionSuccesses: rec.connectionSuccesses.Load(),
		Errors:              rec.errors.Load(),
		LastLatencyNs:       rec.lastLatencyNs.Load(),
		P50Ns:               rec.hist.percentile(0.50),
		P95Ns:               rec.hist.percentile(0.95),
		P99Ns:               rec.hist.percentile(0.99),
		LastActivityUnixNs:  rec.lastActivityUnixNs.Load(),
	}, true
}

// AllDeviceSnapshots returns a snapshot for every device that has had an
// operation, error or connection attempt recorded.
func (a *Accountant) AllDeviceSnapshots() []DeviceSnapshot {
	a.mu.RLock()
	ids := make([]string, 0, len(a.devices))
	for id := range a.devices {
		ids = append(ids, id)
	}
	a.mu.RUnlock()

	out := make([]DeviceSnapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := a.DeviceSnapshotFor(id); ok {
			out = append(out, snap)
		}
	}
	return out
}

// SystemSummary is the system-wide portion of a PerformanceSummary, scaled
// to the units a dashboard wants (MB, ms) rather than the Accountant's raw
// bytes/ns counters.
type SystemSummary struct {
	MemoryMB          float64 `json:"memory_mb"`
	CPUPercent        float64 `json:"cpu_percent"`
	ActiveConnections uint64  `json:"active_connections"`
	TotalMessages     uint64  `json:"total_messages"`
	TotalErrors       uint64  `json:"total_errors"`
}

// DeviceSummary is one device's portion of a PerformanceSummary.
type DeviceSummary struct {
	ID           string  `json:"id"`
	LatencyMs    float64 `json:"latency_ms"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
	SuccessRate  float64 `json:"success_rate"`
	Errors       uint64  `json:"errors"`
}

// PerformanceSummary is the flattened, human-scaled performance report
// exposed alongside a Query(Metrics) result, mirroring the original
// bridge's get_performance_summary.
type PerformanceSummary struct {
	UptimeSeconds float64         `json:"uptime_seconds"`
	System        SystemSummary   `json:"system"`
	Devices       []DeviceSummary `json:"devices"`
}

// PerformanceSummary builds the report described above from the current
// global and per-device counters.
func (a *Accountant) PerformanceSummary() PerformanceSummary {
	global := a.GlobalSnapshot()
	devices := a.AllDeviceSnapshots()

	summary := PerformanceSummary{
		UptimeSeconds: time.Since(a.startedAt).Seconds(),
		System: SystemSummary{
			MemoryMB:          float64(global.MemoryBytes) / (1024 * 1024),
			CPUPercent:        global.CPUPercent,
			ActiveConnections: global.ActiveWSConnections,
			TotalMessages:     global.BridgeMessages,
			TotalErrors:       global.GlobalErrors,
		},
		Devices: make([]DeviceSummary, 0, len(devices)),
	}

	for _, d := range devices {
		var successRate float64
		if d.ConnectionAttempts > 0 {
			successRate = float64(d.ConnectionSuccesses) / float64(d.ConnectionAttempts)
		}
		summary.Devices = append(summary.Devices, DeviceSummary{
			ID:           d.DeviceID,
			LatencyMs:    float64(d.LastLatencyNs) / float64(time.Millisecond),
			P95LatencyMs: float64(d.P95Ns) / float64(time.Millisecond),
			SuccessRate:  successRate,
			Errors:       d.Errors,
		})
	}
	return summary
}
