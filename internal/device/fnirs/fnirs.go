// Package fnirs implements the fNIRS TCP driver: a plain bidirectional
// byte-passthrough socket with a ping/pong heartbeat and capped
// exponential-backoff reconnection. See spec §4.6.
package fnirs

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/hyperstudy/bridge/internal/device"
	"github.com/hyperstudy/bridge/internal/ids"
)

const (
	defaultHeartbeatInterval = 10 * time.Second
	defaultReconnectAttempts = 10
	reconnectBase            = time.Second
	reconnectCap             = 30 * time.Second
)

// Driver speaks to an fNIRS unit over a plain TCP socket.
type Driver struct {
	id   string
	name string
	perf device.PerformanceRecorder

	mu              sync.Mutex
	status          device.Status
	cfg             device.Config
	conn            net.Conn
	lastHeartbeatAt time.Time
	lastIOAt        time.Time
}

// New constructs an fNIRS driver.
func New(id, displayName string, perf device.PerformanceRecorder) *Driver {
	return &Driver{id: id, name: displayName, perf: perf, status: device.StatusDisconnected}
}

func (d *Driver) GetStatus() device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Driver) GetInfo() device.Info {
	return device.Info{ID: d.id, Kind: device.KindFNIRS, DisplayName: d.name}
}

func (d *Driver) Configure(cfg device.Config) error {
	if cfg.Address == "" {
		return ids.New(ids.KindConfigurationErr, "fnirs driver requires a host:port address")
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	return nil
}

// Connect dials the configured TCP address, retrying with capped
// exponential backoff up to defaultReconnectAttempts times.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	cfg := d.cfg
	if !device.CanTransition(d.status, device.StatusConnecting) {
		d.mu.Unlock()
		return ids.New(ids.KindConfigurationErr, "cannot connect from state %s", d.status)
	}
	d.status = device.StatusConnecting
	d.mu.Unlock()

	reconnector := device.NewReconnector(reconnectBase, reconnectCap)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	var conn net.Conn
	var capErr error
	attempts := 0
	err := reconnector.Run(runCtx, func(ctx context.Context) error {
		attempts++
		dialer := net.Dialer{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond}
		c, dialErr := dialer.DialContext(ctx, "tcp", cfg.Address)
		if dialErr != nil {
			if attempts >= defaultReconnectAttempts {
				capErr = ids.New(ids.KindConnectionFailed, "exceeded %d connect attempts", defaultReconnectAttempts)
				cancelRun()
			}
			return dialErr
		}
		conn = c
		return nil
	})
	if capErr != nil {
		err = capErr
	}
	if err != nil {
		d.mu.Lock()
		d.status = device.StatusError
		d.mu.Unlock()
		return ids.Wrap(ids.KindConnectionFailed, err, "connecting to fnirs unit at %s", cfg.Address)
	}

	now := time.Now()
	d.mu.Lock()
	d.conn = conn
	d.status = device.StatusConnected
	d.lastHeartbeatAt = now
	d.lastIOAt = now
	d.mu.Unlock()
	return nil
}

func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	if !device.CanTransition(d.status, device.StatusDisconnecting) {
		d.mu.Unlock()
		return ids.New(ids.KindNotConnected, "fnirs device %s is not connected", d.id)
	}
	d.status = device.StatusDisconnecting
	conn := d.conn
	d.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	d.mu.Lock()
	d.conn = nil
	d.status = device.StatusDisconnected
	d.mu.Unlock()

	if err != nil {
		return ids.Wrap(ids.KindCommunicationErr, err, "closing fnirs connection")
	}
	return nil
}

// Send writes payload verbatim: framing is transparent byte passthrough.
func (d *Driver) Send(ctx context.Context, payload []byte) error {
	d.mu.Lock()
	conn := d.conn
	connected := d.status == device.StatusConnected
	d.mu.Unlock()
	if !connected || conn == nil {
		return ids.New(ids.KindNotConnected, "fnirs device %s is not connected", d.id)
	}

	start := time.Now()
	n, err := conn.Write(payload)
	latency := time.Since(start)
	d.touch()
	if d.perf != nil {
		if err != nil {
			d.perf.RecordDeviceError(d.id)
		} else {
			d.perf.RecordDeviceOperation(d.id, latency, n, 0)
		}
	}
	if err != nil {
		return ids.Wrap(ids.KindCommunicationErr, err, "writing to fnirs socket")
	}
	return nil
}

func (d *Driver) Receive(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return nil, ids.New(ids.KindNotConnected, "fnirs device %s is not connected", d.id)
	}

	buf := make([]byte, 4096)
	start := time.Now()
	n, err := conn.Read(buf)
	latency := time.Since(start)
	d.touch()
	if d.perf != nil {
		if err != nil {
			d.perf.RecordDeviceError(d.id)
		} else {
			d.perf.RecordDeviceOperation(d.id, latency, 0, n)
		}
	}
	if err != nil {
		return nil, ids.Wrap(ids.KindCommunicationErr, err, "reading from fnirs socket")
	}
	return buf[:n], nil
}

func (d *Driver) touch() {
	d.mu.Lock()
	d.lastIOAt = time.Now()
	d.mu.Unlock()
}

// Heartbeat issues a ping/pong exchange if more than 2x the heartbeat
// interval has elapsed since the last one, per spec §4.6.
func (d *Driver) Heartbeat(ctx context.Context) error {
	d.mu.Lock()
	elapsed := time.Since(d.lastHeartbeatAt)
	d.mu.Unlock()
	if elapsed < 2*defaultHeartbeatInterval {
		return nil
	}
	if err := d.Send(ctx, []byte("PING\n")); err != nil {
		return err
	}
	d.mu.Lock()
	d.lastHeartbeatAt = time.Now()
	d.mu.Unlock()
	return nil
}

// IsStale reports whether no successful I/O has occurred for
// 3x the heartbeat interval, the connection staleness threshold from
// spec §4.6.
func (d *Driver) IsStale() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Since(d.lastIOAt) > 3*defaultHeartbeatInterval
}

func (d *Driver) TestConnection(ctx context.Context) bool {
	return d.GetStatus() == device.StatusConnected
}

func (d *Driver) SendEvent(ctx context.Context, event json.RawMessage) error {
	return d.Send(ctx, event)
}
