// Package eyetracker implements the eye-tracker HTTP driver: a REST
// client talking to a phone-companion app, reassembling its heterogeneous
// status payload into a typed snapshot. See spec §4.6.
//
// No HTTP client library appears anywhere in the retrieved example
// corpus beyond net/http server-side use, so this driver is built on
// net/http directly (see DESIGN.md).
package eyetracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hyperstudy/bridge/internal/device"
	"github.com/hyperstudy/bridge/internal/ids"
)

// envelope is the response shape every endpoint on the companion app
// returns.
type envelope struct {
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// statusComponent is one element of the heterogeneous status array.
type statusComponent struct {
	Model string          `json:"model"`
	Data  json.RawMessage `json:"data"`
}

// Snapshot is the reassembled status view spec §4.6 describes.
type Snapshot struct {
	Phone     json.RawMessage `json:"phone"`
	Hardware  json.RawMessage `json:"hardware,omitempty"`
	Sensors   []json.RawMessage `json:"sensors,omitempty"`
	Recording json.RawMessage `json:"recording,omitempty"`
}

// Driver is a REST client for an eye-tracker phone-companion app.
type Driver struct {
	id   string
	name string
	perf device.PerformanceRecorder

	mu     sync.Mutex
	status device.Status
	cfg    device.Config
	client *http.Client

	lastStatusAt time.Time
}

// New constructs an eye-tracker driver.
func New(id, displayName string, perf device.PerformanceRecorder) *Driver {
	return &Driver{id: id, name: displayName, perf: perf, status: device.StatusDisconnected}
}

func (d *Driver) GetStatus() device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Driver) GetInfo() device.Info {
	return device.Info{ID: d.id, Kind: device.KindEyeTracker, DisplayName: d.name}
}

func (d *Driver) Configure(cfg device.Config) error {
	if cfg.Address == "" {
		return ids.New(ids.KindConfigurationErr, "eyetracker driver requires a base URL")
	}
	d.mu.Lock()
	d.cfg = cfg
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d.client = &http.Client{Timeout: timeout}
	d.mu.Unlock()
	return nil
}

// Connect performs a reachability check against /status; the companion
// app has no persistent connection to open.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	if !device.CanTransition(d.status, device.StatusConnecting) {
		d.mu.Unlock()
		return ids.New(ids.KindConfigurationErr, "cannot connect from state %s", d.status)
	}
	d.status = device.StatusConnecting
	d.mu.Unlock()

	if _, err := d.fetchStatus(ctx); err != nil {
		d.mu.Lock()
		d.status = device.StatusError
		d.mu.Unlock()
		return err
	}

	d.mu.Lock()
	d.status = device.StatusConnected
	d.mu.Unlock()
	return nil
}

func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	if !device.CanTransition(d.status, device.StatusDisconnecting) {
		d.mu.Unlock()
		return ids.New(ids.KindNotConnected, "eyetracker device %s is not connected", d.id)
	}
	d.status = device.StatusDisconnected
	d.mu.Unlock()
	return nil
}

// command is the JSON shape accepted by Send.
type command struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

var actionPaths = map[string]string{
	"recording_start":  "/recording:start",
	"recording_stop":   "/recording:stop_and_save",
	"recording_cancel": "/recording:cancel",
	"event":            "/event",
	"status":           "/status",
}

// Send routes a JSON command to its matching endpoint.
func (d *Driver) Send(ctx context.Context, payload []byte) error {
	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return ids.Wrap(ids.KindInvalidData, err, "decoding eyetracker command")
	}
	path, ok := actionPaths[cmd.Action]
	if !ok {
		return ids.New(ids.KindInvalidData, "unknown eyetracker action %q", cmd.Action)
	}

	_, err := d.post(ctx, path, cmd.Data)
	return err
}

// Receive is unsupported: the eye-tracker protocol is request/response,
// not a streaming byte channel.
func (d *Driver) Receive(ctx context.Context) ([]byte, error) {
	return nil, ids.New(ids.KindInvalidData, "eyetracker driver has no byte stream to receive")
}

// Heartbeat performs a GET /status.
func (d *Driver) Heartbeat(ctx context.Context) error {
	_, err := d.fetchStatus(ctx)
	return err
}

func (d *Driver) TestConnection(ctx context.Context) bool {
	_, err := d.fetchStatus(ctx)
	return err == nil
}

func (d *Driver) SendEvent(ctx context.Context, event json.RawMessage) error {
	_, err := d.post(ctx, "/event", event)
	return err
}

// GetSnapshot fetches /status and reassembles the heterogeneous
// {model, data} array into a typed Snapshot.
func (d *Driver) GetSnapshot(ctx context.Context) (Snapshot, error) {
	body, err := d.fetchStatus(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	var components []statusComponent
	if err := json.Unmarshal(body, &components); err != nil {
		return Snapshot{}, ids.Wrap(ids.KindInvalidData, err, "decoding status array")
	}

	var snap Snapshot
	for _, c := range components {
		switch c.Model {
		case "phone":
			snap.Phone = c.Data
		case "hardware":
			snap.Hardware = c.Data
		case "sensor":
			snap.Sensors = append(snap.Sensors, c.Data)
		case "recording":
			snap.Recording = c.Data
		}
	}
	return snap, nil
}

func (d *Driver) fetchStatus(ctx context.Context) ([]byte, error) {
	return d.get(ctx, "/status")
}

func (d *Driver) baseURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Address
}

func (d *Driver) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL()+path, nil)
	if err != nil {
		return nil, ids.Wrap(ids.KindCommunicationErr, err, "building request")
	}
	return d.do(req)
}

func (d *Driver) post(ctx context.Context, path string, body json.RawMessage) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL()+path, bytes.NewReader(body))
	if err != nil {
		return nil, ids.Wrap(ids.KindCommunicationErr, err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	return d.do(req)
}

func (d *Driver) do(req *http.Request) ([]byte, error) {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if d.perf != nil {
			d.perf.RecordDeviceError(d.id)
		}
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ids.Wrap(ids.KindTimeout, err, "eyetracker request timed out")
		}
		return nil, ids.Wrap(ids.KindConnectionFailed, err, "eyetracker request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if d.perf != nil {
		if err != nil {
			d.perf.RecordDeviceError(d.id)
		} else {
			d.perf.RecordDeviceOperation(d.id, latency, len(req.URL.Path), len(body))
		}
	}
	if err != nil {
		return nil, ids.Wrap(ids.KindCommunicationErr, err, "reading response body")
	}

	if resp.StatusCode >= 300 {
		return nil, ids.New(ids.KindCommunicationErr, "eyetracker returned HTTP %d: %s", resp.StatusCode, fmt.Sprintf("%s", bytes.TrimSpace(body)))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return body, nil
	}
	if env.Result != nil {
		return env.Result, nil
	}
	return body, nil
}
