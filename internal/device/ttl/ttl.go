// Package ttl implements the TTL pulse generator driver: a serial port
// speaking newline-terminated text commands, tuned for sub-millisecond
// dispatch latency on the send_pulse fast path. See spec §4.6.
package ttl

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/hyperstudy/bridge/internal/device"
	"github.com/hyperstudy/bridge/internal/ids"
)

const (
	defaultBaud        = 115200
	testConnectTimeout = 500 * time.Millisecond
)

// Driver speaks to a TTL pulse generator over a serial port.
type Driver struct {
	id   string
	name string
	perf device.PerformanceRecorder

	mu     sync.Mutex
	status device.Status
	cfg    device.Config
	port   serial.Port

	reconnector *device.Reconnector
}

// New constructs a TTL driver. perf may be nil in tests.
func New(id, displayName string, perf device.PerformanceRecorder) *Driver {
	return &Driver{
		id:     id,
		name:   displayName,
		perf:   perf,
		status: device.StatusDisconnected,
	}
}

func (d *Driver) setStatus(s device.Status) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

// GetStatus returns the driver's current lifecycle state.
func (d *Driver) GetStatus() device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// GetInfo returns the driver's static identity.
func (d *Driver) GetInfo() device.Info {
	return device.Info{ID: d.id, Kind: device.KindTTL, DisplayName: d.name}
}

// Configure applies a Config, validating it carries a serial port address.
func (d *Driver) Configure(cfg device.Config) error {
	if cfg.Address == "" {
		return ids.New(ids.KindConfigurationErr, "ttl driver requires a serial port address")
	}
	d.mu.Lock()
	d.cfg = cfg
	d.reconnector = device.NewReconnector(
		time.Duration(cfg.ReconnectIntervalMs)*time.Millisecond,
		30*time.Second,
	)
	d.mu.Unlock()
	return nil
}

// Connect opens the configured serial port at the fixed baud rate.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	cfg := d.cfg
	if !device.CanTransition(d.status, device.StatusConnecting) {
		d.mu.Unlock()
		return ids.New(ids.KindConfigurationErr, "cannot connect from state %s", d.status)
	}
	d.status = device.StatusConnecting
	d.mu.Unlock()

	mode := &serial.Mode{BaudRate: defaultBaud}
	port, err := serial.Open(cfg.Address, mode)
	if err != nil {
		d.setStatus(device.StatusError)
		return ids.Wrap(ids.KindConnectionFailed, err, "opening serial port %s", cfg.Address)
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}
	_ = port.SetReadTimeout(timeout)

	d.mu.Lock()
	d.port = port
	d.status = device.StatusConnected
	d.mu.Unlock()
	return nil
}

// Disconnect closes the serial port.
func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	if !device.CanTransition(d.status, device.StatusDisconnecting) {
		d.mu.Unlock()
		return ids.New(ids.KindNotConnected, "ttl device %s is not connected", d.id)
	}
	d.status = device.StatusDisconnecting
	port := d.port
	d.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}

	d.mu.Lock()
	d.port = nil
	d.status = device.StatusDisconnected
	d.mu.Unlock()

	if err != nil {
		return ids.Wrap(ids.KindCommunicationErr, err, "closing serial port")
	}
	return nil
}

// Send writes payload followed by a newline terminator, the one
// command-dispatch path every TTL interaction funnels through.
func (d *Driver) Send(ctx context.Context, payload []byte) error {
	d.mu.Lock()
	port := d.port
	connected := d.status == device.StatusConnected
	d.mu.Unlock()
	if !connected || port == nil {
		return ids.New(ids.KindNotConnected, "ttl device %s is not connected", d.id)
	}

	start := time.Now()
	n, err := port.Write(append(append([]byte{}, payload...), '\n'))
	latency := time.Since(start)
	if d.perf != nil {
		if err != nil {
			d.perf.RecordDeviceError(d.id)
		} else {
			d.perf.RecordDeviceOperation(d.id, latency, n, 0)
		}
	}
	if err != nil {
		return ids.Wrap(ids.KindCommunicationErr, err, "writing to serial port")
	}
	return nil
}

// SendPulse is the fast path for time-critical pulses: it bypasses the
// mutex-protected Send wrapper's allocation and writes directly to the
// cached port. It must achieve sub-millisecond P95 latency under load.
func (d *Driver) SendPulse(ctx context.Context, portOverride string, payload []byte) error {
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return ids.New(ids.KindNotConnected, "ttl device %s is not connected", d.id)
	}

	start := time.Now()
	n, err := port.Write(payload)
	latency := time.Since(start)
	if d.perf != nil {
		if err != nil {
			d.perf.RecordDeviceError(d.id)
		} else {
			d.perf.RecordDeviceOperation(d.id, latency, n, 0)
		}
	}
	if err != nil {
		return ids.Wrap(ids.KindCommunicationErr, err, "writing pulse to serial port")
	}
	return nil
}

// Receive reads a short reply within the configured timeout.
func (d *Driver) Receive(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return nil, ids.New(ids.KindNotConnected, "ttl device %s is not connected", d.id)
	}

	buf := make([]byte, 256)
	start := time.Now()
	n, err := port.Read(buf)
	latency := time.Since(start)
	if d.perf != nil {
		if err != nil {
			d.perf.RecordDeviceError(d.id)
		} else {
			d.perf.RecordDeviceOperation(d.id, latency, 0, n)
		}
	}
	if err != nil {
		return nil, ids.Wrap(ids.KindCommunicationErr, err, "reading from serial port")
	}
	return buf[:n], nil
}

// Heartbeat is a no-op for TTL devices; they have no async liveness
// channel distinct from a send/receive round trip.
func (d *Driver) Heartbeat(ctx context.Context) error {
	return nil
}

// TestConnection issues TEST\n and expects a non-empty reply within
// testConnectTimeout.
func (d *Driver) TestConnection(ctx context.Context) bool {
	if err := d.Send(ctx, []byte("TEST")); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, testConnectTimeout)
	defer cancel()

	replyCh := make(chan []byte, 1)
	go func() {
		reply, err := d.Receive(ctx)
		if err == nil {
			replyCh <- reply
		}
	}()

	select {
	case reply := <-replyCh:
		return len(reply) > 0
	case <-ctx.Done():
		return false
	}
}

// SendEvent is unsupported on TTL devices; they have no application-level
// event channel distinct from send.
func (d *Driver) SendEvent(ctx context.Context, event json.RawMessage) error {
	return ids.New(ids.KindInvalidData, "ttl driver does not support send_event")
}
