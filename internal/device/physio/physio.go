// Package physio implements the physiology binary-protocol driver: a TCP
// socket speaking a framed command/data protocol, decoding data frames
// into per-channel scaled samples with a bounded drain buffer. See
// spec §4.6.
package physio

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/hyperstudy/bridge/internal/device"
	"github.com/hyperstudy/bridge/internal/ids"
)

// Command codes for the physio wire protocol.
const (
	CmdStartAcquisition  uint32 = 1
	CmdStopAcquisition   uint32 = 2
	CmdSetMarker         uint32 = 3
	CmdSetSamplingRate   uint32 = 4
	CmdGetChannels       uint32 = 5
	CmdDataFrame         uint32 = 100
)

// maxFrameLength is the illegal-length cutoff; frames over this are
// rejected with InvalidData rather than read into memory.
const maxFrameLength = 64 * 1024

// defaultBufferCap is the default size of the oldest-drain sample buffer.
const defaultBufferCap = 64 * 1024

// ChannelScale is a per-channel linear calibration applied to raw samples:
// value = scale*raw + offset.
type ChannelScale struct {
	Scale  float64
	Offset float64
}

// Sample is one decoded, calibrated channel reading.
type Sample struct {
	TimestampNs uint64
	Channel     uint8
	Value       float64
}

// Driver speaks to a physiology data server over a framed TCP protocol.
type Driver struct {
	id   string
	name string
	perf device.PerformanceRecorder

	mu      sync.Mutex
	status  device.Status
	cfg     device.Config
	conn    net.Conn
	scales  map[uint8]ChannelScale
	buffer  []Sample
	bufCap  int
}

// New constructs a physio driver.
func New(id, displayName string, perf device.PerformanceRecorder) *Driver {
	return &Driver{
		id: id, name: displayName, perf: perf,
		status: device.StatusDisconnected,
		scales: make(map[uint8]ChannelScale),
		bufCap: defaultBufferCap,
	}
}

// SetChannelScale configures the scale/offset applied when decoding
// samples for a given channel id.
func (d *Driver) SetChannelScale(ch uint8, scale ChannelScale) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scales[ch] = scale
}

func (d *Driver) GetStatus() device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Driver) GetInfo() device.Info {
	return device.Info{ID: d.id, Kind: device.KindPhysio, DisplayName: d.name}
}

func (d *Driver) Configure(cfg device.Config) error {
	if cfg.Address == "" {
		return ids.New(ids.KindConfigurationErr, "physio driver requires a host:port address")
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	return nil
}

func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	cfg := d.cfg
	if !device.CanTransition(d.status, device.StatusConnecting) {
		d.mu.Unlock()
		return ids.New(ids.KindConfigurationErr, "cannot connect from state %s", d.status)
	}
	d.status = device.StatusConnecting
	d.mu.Unlock()

	dialer := net.Dialer{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		d.mu.Lock()
		d.status = device.StatusError
		d.mu.Unlock()
		return ids.Wrap(ids.KindConnectionFailed, err, "connecting to physio server at %s", cfg.Address)
	}

	d.mu.Lock()
	d.conn = conn
	d.status = device.StatusConnected
	d.mu.Unlock()
	return nil
}

func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	if !device.CanTransition(d.status, device.StatusDisconnecting) {
		d.mu.Unlock()
		return ids.New(ids.KindNotConnected, "physio device %s is not connected", d.id)
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
		return ids.Wrap(ids.KindCommunicationErr, err, "closing physio connection")
	}
	return nil
}

// sendFrame writes [cmd u32 LE][len u32 LE][payload].
func (d *Driver) sendFrame(cmd uint32, payload []byte) error {
	d.mu.Lock()
	conn := d.conn
	connected := d.status == device.StatusConnected
	d.mu.Unlock()
	if !connected || conn == nil {
		return ids.New(ids.KindNotConnected, "physio device %s is not connected", d.id)
	}

	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], cmd)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(payload)))

	start := time.Now()
	n1, err := conn.Write(header)
	if err == nil {
		var n2 int
		n2, err = conn.Write(payload)
		n1 += n2
	}
	latency := time.Since(start)
	if d.perf != nil {
		if err != nil {
			d.perf.RecordDeviceError(d.id)
		} else {
			d.perf.RecordDeviceOperation(d.id, latency, n1, 0)
		}
	}
	if err != nil {
		return ids.Wrap(ids.KindCommunicationErr, err, "writing physio frame")
	}
	return nil
}

// Send dispatches a raw command frame: the first 4 bytes are the little
// endian command code, the remainder is the payload.
func (d *Driver) Send(ctx context.Context, payload []byte) error {
	if len(payload) < 4 {
		return ids.New(ids.KindInvalidData, "physio send requires at least a 4-byte command code")
	}
	cmd := binary.LittleEndian.Uint32(payload[:4])
	return d.sendFrame(cmd, payload[4:])
}

// StartAcquisition, StopAcquisition, SetMarker, SetSamplingRate, and
// GetChannels are the named command helpers spec §4.6 enumerates.
func (d *Driver) StartAcquisition(ctx context.Context) error { return d.sendFrame(CmdStartAcquisition, nil) }
func (d *Driver) StopAcquisition(ctx context.Context) error  { return d.sendFrame(CmdStopAcquisition, nil) }

func (d *Driver) SetMarker(ctx context.Context, marker []byte) error {
	return d.sendFrame(CmdSetMarker, marker)
}

func (d *Driver) SetSamplingRate(ctx context.Context, hz uint32) error {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, hz)
	return d.sendFrame(CmdSetSamplingRate, payload)
}

func (d *Driver) GetChannels(ctx context.Context) error {
	return d.sendFrame(CmdGetChannels, nil)
}

// Receive reads one frame and, for data frames, decodes and buffers the
// calibrated samples before returning the raw frame bytes.
func (d *Driver) Receive(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return nil, ids.New(ids.KindNotConnected, "physio device %s is not connected", d.id)
	}

	header := make([]byte, 8)
	start := time.Now()
	if _, err := readFull(conn, header); err != nil {
		if d.perf != nil {
			d.perf.RecordDeviceError(d.id)
		}
		return nil, ids.Wrap(ids.KindCommunicationErr, err, "reading physio frame header")
	}
	cmd := binary.LittleEndian.Uint32(header[0:4])
	length := binary.LittleEndian.Uint32(header[4:8])

	if length > maxFrameLength {
		return nil, ids.New(ids.KindInvalidData, "physio frame length %d exceeds %d byte limit", length, maxFrameLength)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := readFull(conn, payload); err != nil {
			if d.perf != nil {
				d.perf.RecordDeviceError(d.id)
			}
			return nil, ids.Wrap(ids.KindCommunicationErr, err, "reading physio frame payload")
		}
	}
	latency := time.Since(start)
	if d.perf != nil {
		d.perf.RecordDeviceOperation(d.id, latency, 0, int(8+length))
	}

	if cmd == CmdDataFrame {
		if err := d.decodeDataFrame(payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// decodeDataFrame unpacks [ts:u64][n:u32][(ch:u8, raw:u16, pad:u8)*n],
// applying scale*raw+offset per channel, and appends to the drain
// buffer with oldest-drop on overflow.
func (d *Driver) decodeDataFrame(payload []byte) error {
	r := bytes.NewReader(payload)
	var ts uint64
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
		return ids.Wrap(ids.KindInvalidData, err, "decoding data frame timestamp")
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return ids.Wrap(ids.KindInvalidData, err, "decoding data frame sample count")
	}

	samples := make([]Sample, 0, n)
	for i := uint32(0); i < n; i++ {
		var ch uint8
		var raw uint16
		var pad uint8
		if err := binary.Read(r, binary.LittleEndian, &ch); err != nil {
			return ids.Wrap(ids.KindInvalidData, err, "decoding channel id")
		}
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return ids.Wrap(ids.KindInvalidData, err, "decoding raw sample")
		}
		if err := binary.Read(r, binary.LittleEndian, &pad); err != nil {
			return ids.Wrap(ids.KindInvalidData, err, "decoding alignment pad")
		}

		d.mu.Lock()
		scale, ok := d.scales[ch]
		d.mu.Unlock()
		if !ok {
			scale = ChannelScale{Scale: 1, Offset: 0}
		}
		samples = append(samples, Sample{
			TimestampNs: ts,
			Channel:     ch,
			Value:       scale.Scale*float64(raw) + scale.Offset,
		})
	}

	d.mu.Lock()
	d.buffer = append(d.buffer, samples...)
	if overflow := len(d.buffer) - d.bufCap; overflow > 0 {
		d.buffer = d.buffer[overflow:]
	}
	d.mu.Unlock()
	return nil
}

// DrainBuffer returns and clears the accumulated calibrated samples.
func (d *Driver) DrainBuffer() []Sample {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.buffer
	d.buffer = nil
	return out
}

func (d *Driver) Heartbeat(ctx context.Context) error {
	return d.sendFrame(CmdGetChannels, nil)
}

func (d *Driver) TestConnection(ctx context.Context) bool {
	return d.GetStatus() == device.StatusConnected
}

func (d *Driver) SendEvent(ctx context.Context, event json.RawMessage) error {
	return d.sendFrame(CmdSetMarker, event)
}
