// Package device defines the capability contract shared by every
// instrument driver (TTL-serial, fNIRS-TCP, eye-tracker-HTTP,
// physio-binary, mock) and the common lifecycle state machine they all
// implement. See spec §4.5.
package device

import (
	"context"
	"encoding/json"
	"time"
)

// Status is a device's lifecycle state.
type Status string

const (
	StatusDisconnected  Status = "disconnected"
	StatusConnecting    Status = "connecting"
	StatusConnected     Status = "connected"
	StatusDisconnecting Status = "disconnecting"
	StatusError         Status = "error"
)

// legalTransitions enumerates the state machine's permitted edges. Error
// is reachable on a fatal failure from Connecting, Connected and
// Disconnecting only; CanTransition enforces that rule for Error.
var legalTransitions = map[Status]map[Status]bool{
	StatusDisconnected:  {StatusConnecting: true},
	StatusConnecting:    {StatusConnected: true, StatusError: true, StatusDisconnected: true},
	StatusConnected:     {StatusDisconnecting: true, StatusError: true},
	StatusDisconnecting: {StatusDisconnected: true, StatusError: true},
	StatusError:         {StatusDisconnected: true, StatusConnecting: true},
}

// CanTransition reports whether moving from `from` to `to` is a legal
// edge in the common lifecycle state machine.
func CanTransition(from, to Status) bool {
	if to == StatusError {
		return from == StatusConnecting || from == StatusConnected || from == StatusDisconnecting
	}
	edges, ok := legalTransitions[from]
	return ok && edges[to]
}

// Kind identifies a driver implementation.
type Kind string

const (
	KindTTL        Kind = "ttl"
	KindFNIRS      Kind = "fnirs"
	KindEyeTracker Kind = "eyetracker"
	KindPhysio     Kind = "physio"
	KindLSL        Kind = "lsl"
	KindMock       Kind = "mock"
)

// Config is the common per-device configuration every driver accepts,
// with defaults populated by mcuadros/go-defaults when a field is left
// unset in the bridge's TOML config.
type Config struct {
	Address             string          `json:"address"`
	AutoReconnect       bool            `json:"auto_reconnect" default:"true"`
	ReconnectIntervalMs int             `json:"reconnect_interval_ms" default:"1000"`
	TimeoutMs           int             `json:"timeout_ms" default:"1000"`
	Extra               json.RawMessage `json:"extra,omitempty"`
}

// Info is a device's static identity, returned by GetInfo.
type Info struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	DisplayName string         `json:"display_name"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Device is the capability contract implemented by every driver. All
// long-running operations accept a context so a caller can cancel a
// connect/send that would otherwise block past a Command's lifetime.
type Device interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Configure(cfg Config) error
	Heartbeat(ctx context.Context) error
	GetInfo() Info
	GetStatus() Status
	TestConnection(ctx context.Context) bool
	SendEvent(ctx context.Context, event json.RawMessage) error
}

// PerformanceRecorder is the callback slot every driver is wired to on
// construction; drivers record latency and byte counts around each
// blocking I/O call. Implemented by internal/perf.Accountant.
type PerformanceRecorder interface {
	RecordDeviceOperation(deviceID string, latency time.Duration, bytesSent, bytesReceived int)
	RecordDeviceError(deviceID string)
}
