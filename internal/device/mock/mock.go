// Package mock provides a deterministic, in-process device used by tests
// and as a stand-in when hardware is absent. It can be configured to
// fail on connect, or to fail every Nth send, to exercise the bridge's
// retry and reconnect paths without real hardware.
package mock

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hyperstudy/bridge/internal/device"
	"github.com/hyperstudy/bridge/internal/ids"
)

// Driver is an in-process stand-in implementing device.Device.
type Driver struct {
	id   string
	name string
	perf device.PerformanceRecorder

	mu     sync.Mutex
	status device.Status
	cfg    device.Config

	// FailConnect, when true, makes Connect always fail.
	FailConnect bool
	// FailEveryNSends makes every Nth Send call fail (0 disables).
	FailEveryNSends int
	sendCount       int

	sent     [][]byte
	inbound  [][]byte
	events   []json.RawMessage
}

// New constructs a mock driver.
func New(id, displayName string, perf device.PerformanceRecorder) *Driver {
	return &Driver{id: id, name: displayName, perf: perf, status: device.StatusDisconnected}
}

func (d *Driver) GetStatus() device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Driver) GetInfo() device.Info {
	return device.Info{ID: d.id, Kind: device.KindMock, DisplayName: d.name}
}

func (d *Driver) Configure(cfg device.Config) error {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	return nil
}

func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !device.CanTransition(d.status, device.StatusConnecting) {
		return ids.New(ids.KindConfigurationErr, "cannot connect from state %s", d.status)
	}
	if d.FailConnect {
		d.status = device.StatusError
		return ids.New(ids.KindConnectionFailed, "mock device %s configured to fail connect", d.id)
	}
	d.status = device.StatusConnected
	return nil
}

func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !device.CanTransition(d.status, device.StatusDisconnecting) {
		return ids.New(ids.KindNotConnected, "mock device %s is not connected", d.id)
	}
	d.status = device.StatusDisconnected
	return nil
}

// Send records the payload and, if FailEveryNSends is set, fails on
// every Nth call.
func (d *Driver) Send(ctx context.Context, payload []byte) error {
	d.mu.Lock()
	if d.status != device.StatusConnected {
		d.mu.Unlock()
		return ids.New(ids.KindNotConnected, "mock device %s is not connected", d.id)
	}
	d.sendCount++
	fail := d.FailEveryNSends > 0 && d.sendCount%d.FailEveryNSends == 0
	d.mu.Unlock()

	start := time.Now()
	if fail {
		if d.perf != nil {
			d.perf.RecordDeviceError(d.id)
		}
		return ids.New(ids.KindCommunicationErr, "mock device %s simulated send failure", d.id)
	}

	d.mu.Lock()
	d.sent = append(d.sent, append([]byte(nil), payload...))
	d.mu.Unlock()

	if d.perf != nil {
		d.perf.RecordDeviceOperation(d.id, time.Since(start), len(payload), 0)
	}
	return nil
}

// Receive returns the oldest payload queued via QueueReceive, or
// ids.KindInvalidData if none remain.
func (d *Driver) Receive(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != device.StatusConnected {
		return nil, ids.New(ids.KindNotConnected, "mock device %s is not connected", d.id)
	}
	if len(d.inbound) == 0 {
		return nil, ids.New(ids.KindInvalidData, "mock device %s has nothing queued to receive", d.id)
	}
	payload := d.inbound[0]
	d.inbound = d.inbound[1:]
	return payload, nil
}

func (d *Driver) Heartbeat(ctx context.Context) error {
	if d.GetStatus() != device.StatusConnected {
		return ids.New(ids.KindNotConnected, "mock device %s is not connected", d.id)
	}
	return nil
}

func (d *Driver) TestConnection(ctx context.Context) bool {
	return d.GetStatus() == device.StatusConnected
}

func (d *Driver) SendEvent(ctx context.Context, event json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != device.StatusConnected {
		return ids.New(ids.KindNotConnected, "mock device %s is not connected", d.id)
	}
	d.events = append(d.events, append(json.RawMessage(nil), event...))
	return nil
}

// Events returns every event handed to SendEvent, for test assertions.
func (d *Driver) Events() []json.RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]json.RawMessage(nil), d.events...)
}

// QueueReceive seeds a payload for a future Receive call, letting tests
// drive data inbound from the "device" side.
func (d *Driver) QueueReceive(payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inbound = append(d.inbound, payload)
}

// SentPayloads returns every payload handed to Send, for test assertions.
func (d *Driver) SentPayloads() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.sent...)
}
