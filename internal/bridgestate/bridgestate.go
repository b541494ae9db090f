// Package bridgestate owns the bridge's two top-level registries: the
// device registry (every configured driver, keyed by device id, with a
// per-device mutex serializing driver access) and the connection
// registry (every live WebSocket client). See spec §4.8.
package bridgestate

import (
	"sync"
	"time"

	"github.com/cornelk/hashmap"

	"github.com/hyperstudy/bridge/internal/device"
	"github.com/hyperstudy/bridge/internal/ids"
	"github.com/hyperstudy/bridge/internal/perf"
)

// deviceEntry pairs a driver with the mutex that serializes access to
// it; the registry's own RWMutex only protects the map structure, never
// driver calls.
type deviceEntry struct {
	mu     sync.Mutex
	driver device.Device
}

// ConnectionInfo describes one connected WebSocket client.
type ConnectionInfo struct {
	ID            string
	Peer          string
	ConnectedAt   time.Time
	LastActivity  time.Time
}

// State owns the device and connection registries plus a shared
// performance accountant.
type State struct {
	devicesMu sync.RWMutex
	devices   map[string]*deviceEntry

	connections *hashmap.Map[string, ConnectionInfo]

	perf *perf.Accountant

	lastErrMu sync.RWMutex
	lastErr   map[string]string
}

// New constructs an empty bridge state sharing the given accountant.
func New(accountant *perf.Accountant) *State {
	return &State{
		devices:     make(map[string]*deviceEntry),
		connections: hashmap.New[string, ConnectionInfo](),
		perf:        accountant,
		lastErr:     make(map[string]string),
	}
}

// AddDevice registers a driver under id. Re-registering an existing id
// is rejected; callers must RemoveDevice first.
func (s *State) AddDevice(id string, driver device.Device) error {
	s.devicesMu.Lock()
	defer s.devicesMu.Unlock()
	if _, exists := s.devices[id]; exists {
		return ids.New(ids.KindConfigurationErr, "device %s is already registered", id)
	}
	s.devices[id] = &deviceEntry{driver: driver}
	return nil
}

// RemoveDevice unregisters id, if present.
func (s *State) RemoveDevice(id string) {
	s.devicesMu.Lock()
	defer s.devicesMu.Unlock()
	delete(s.devices, id)
}

// GetDevice returns id's driver and whether it is registered. It does not
// take the per-device mutex; WithDevice is the call that serializes
// driver access.
func (s *State) GetDevice(id string) (device.Device, bool) {
	s.devicesMu.RLock()
	entry, ok := s.devices[id]
	s.devicesMu.RUnlock()
	if !ok {
		return nil, false
	}
	return entry.driver, true
}

// WithDevice looks up id, acquires its per-device mutex, and invokes fn,
// serializing every driver call per device the way spec §4.8's
// shared-mutex<Device> requires.
func (s *State) WithDevice(id string, fn func(device.Device) error) error {
	s.devicesMu.RLock()
	entry, ok := s.devices[id]
	s.devicesMu.RUnlock()
	if !ok {
		return ids.New(ids.KindNotConnected, "no device registered with id %s", id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry.driver)
}

// ListDevices returns every registered device id.
func (s *State) ListDevices() []string {
	s.devicesMu.RLock()
	defer s.devicesMu.RUnlock()
	out := make([]string, 0, len(s.devices))
	for id := range s.devices {
		out = append(out, id)
	}
	return out
}

// GetDeviceStatus reports id's current lifecycle status.
func (s *State) GetDeviceStatus(id string) (device.Status, bool) {
	drv, ok := s.GetDevice(id)
	if !ok {
		return "", false
	}
	return drv.GetStatus(), true
}

// RecordDeviceError records the most recent error string for id, surfaced
// alongside status queries.
func (s *State) RecordDeviceError(id, message string) {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	s.lastErr[id] = message
}

// LastError returns the most recently recorded error for id, if any.
func (s *State) LastError(id string) (string, bool) {
	s.lastErrMu.RLock()
	defer s.lastErrMu.RUnlock()
	msg, ok := s.lastErr[id]
	return msg, ok
}

// AddConnection registers a newly accepted WebSocket client.
func (s *State) AddConnection(id, peer string) {
	now := time.Now()
	s.connections.Set(id, ConnectionInfo{ID: id, Peer: peer, ConnectedAt: now, LastActivity: now})
}

// RemoveConnection unregisters a disconnected client.
func (s *State) RemoveConnection(id string) {
	s.connections.Del(id)
}

// UpdateConnectionActivity bumps id's LastActivity to now, replacing the
// whole entry (the registry never mutates a ConnectionInfo in place).
func (s *State) UpdateConnectionActivity(id string) {
	info, ok := s.connections.Get(id)
	if !ok {
		return
	}
	info.LastActivity = time.Now()
	s.connections.Set(id, info)
}

// GetConnection returns id's connection info, if still registered.
func (s *State) GetConnection(id string) (ConnectionInfo, bool) {
	return s.connections.Get(id)
}

// ListConnections returns every currently registered connection.
func (s *State) ListConnections() []ConnectionInfo {
	out := make([]ConnectionInfo, 0, s.connections.Len())
	s.connections.Range(func(_ string, info ConnectionInfo) bool {
		out = append(out, info)
		return true
	})
	return out
}

// ConnectionCount reports the number of live connections.
func (s *State) ConnectionCount() int {
	return int(s.connections.Len())
}

// Accountant exposes the shared performance accountant for snapshot
// queries.
func (s *State) Accountant() *perf.Accountant {
	return s.perf
}
