package lsl

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hyperstudy/bridge/internal/ids"
)

// neonGazeSuffix and neonEventsSuffix are the stream-name suffixes Pupil
// Labs Neon Companion apps publish when "Stream over LSL" is enabled.
const (
	neonGazeSuffix   = "_Neon Gaze"
	neonEventsSuffix = "_Neon Events"
)

// NeonGazeSample is a decoded Neon gaze channel reading: either the
// 2-channel (x, y) form or the 6-channel (x, y, pupil, eye_x, eye_y,
// eye_z) form.
type NeonGazeSample struct {
	Timestamp float64
	GazeX     float64
	GazeY     float64
	Pupil     float64
	EyeX      float64
	EyeY      float64
	EyeZ      float64
	Full      bool
}

// NeonEventSample is a single Neon event marker.
type NeonEventSample struct {
	Timestamp float64
	Label     string
}

// NeonDevice groups a Neon device's two LSL streams (gaze and events).
type NeonDevice struct {
	Name             string
	GazeStreamUID    string
	EventsStreamUID  string
	GazeChannelCount uint32
}

// NeonManager discovers Neon devices on the LSL network and exposes
// per-device gaze/events connect and typed decode.
type NeonManager struct {
	resolver *Resolver
	inlets   *InletManager

	mu      sync.RWMutex
	devices map[string]*NeonDevice
}

// NewNeonManager constructs a manager sharing the given resolver and
// inlet manager with the rest of the LSL subsystem.
func NewNeonManager(resolver *Resolver, inlets *InletManager) *NeonManager {
	return &NeonManager{resolver: resolver, inlets: inlets, devices: make(map[string]*NeonDevice)}
}

// DiscoverDevices scans the resolver's cache for Neon gaze/events stream
// pairs and groups them by device name.
func (m *NeonManager) DiscoverDevices() []NeonDevice {
	streams := m.resolver.GetDiscoveredStreams()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range streams {
		name, kind, ok := parseNeonStreamName(s.Info.Name)
		if !ok {
			continue
		}
		dev, exists := m.devices[name]
		if !exists {
			dev = &NeonDevice{Name: name}
			m.devices[name] = dev
		}
		switch kind {
		case "gaze":
			dev.GazeStreamUID = s.UID
			dev.GazeChannelCount = s.Info.ChannelCount
		case "events":
			dev.EventsStreamUID = s.UID
		}
	}

	out := make([]NeonDevice, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d)
	}
	return out
}

// parseNeonStreamName extracts the device name and stream kind from a
// Neon stream name, e.g. "MyNeon_Neon Gaze" -> ("MyNeon", "gaze", true).
func parseNeonStreamName(streamName string) (device, kind string, ok bool) {
	if strings.HasSuffix(streamName, neonGazeSuffix) {
		return strings.TrimSuffix(streamName, neonGazeSuffix), "gaze", true
	}
	if strings.HasSuffix(streamName, neonEventsSuffix) {
		return strings.TrimSuffix(streamName, neonEventsSuffix), "events", true
	}
	return "", "", false
}

// GetDevice returns the device group discovered under name.
func (m *NeonManager) GetDevice(name string) (NeonDevice, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[name]
	if !ok {
		return NeonDevice{}, false
	}
	return *d, true
}

// ConnectGaze opens an inlet on device's gaze stream.
func (m *NeonManager) ConnectGaze(ctx context.Context, deviceName string) (*Inlet, error) {
	dev, ok := m.GetDevice(deviceName)
	if !ok || dev.GazeStreamUID == "" {
		return nil, ids.New(ids.KindStreamNotFound, "no Neon gaze stream discovered for device %q", deviceName)
	}
	stream, ok := m.resolver.GetStream(dev.GazeStreamUID)
	if !ok {
		return nil, ids.New(ids.KindStreamNotFound, "Neon gaze stream %s no longer cached", dev.GazeStreamUID)
	}
	return m.inlets.CreateInlet(stream, DefaultInletConfig(stream.Info.NominalSRate))
}

// ConnectEvents opens an inlet on device's events stream.
func (m *NeonManager) ConnectEvents(ctx context.Context, deviceName string) (*Inlet, error) {
	dev, ok := m.GetDevice(deviceName)
	if !ok || dev.EventsStreamUID == "" {
		return nil, ids.New(ids.KindStreamNotFound, "no Neon events stream discovered for device %q", deviceName)
	}
	stream, ok := m.resolver.GetStream(dev.EventsStreamUID)
	if !ok {
		return nil, ids.New(ids.KindStreamNotFound, "Neon events stream %s no longer cached", dev.EventsStreamUID)
	}
	return m.inlets.CreateInlet(stream, DefaultInletConfig(stream.Info.NominalSRate))
}

// DecodeGaze interprets a raw gaze Sample as either the 2-channel or
// 6-channel Neon layout.
func DecodeGaze(s Sample) (NeonGazeSample, error) {
	switch len(s.Values) {
	case 2:
		return NeonGazeSample{Timestamp: s.Timestamp, GazeX: s.Values[0], GazeY: s.Values[1]}, nil
	case 6:
		return NeonGazeSample{
			Timestamp: s.Timestamp,
			GazeX:     s.Values[0],
			GazeY:     s.Values[1],
			Pupil:     s.Values[2],
			EyeX:      s.Values[3],
			EyeY:      s.Values[4],
			EyeZ:      s.Values[5],
			Full:      true,
		}, nil
	default:
		return NeonGazeSample{}, ids.New(ids.KindDataFormatMismatch, "neon gaze sample has %d channels, expected 2 or 6", len(s.Values))
	}
}

// DecodeEvent interprets a raw event Sample as a single-string marker.
func DecodeEvent(s Sample) (NeonEventSample, error) {
	if len(s.Strings) != 1 {
		return NeonEventSample{}, ids.New(ids.KindDataFormatMismatch, "neon event sample must carry exactly one string channel, got %d", len(s.Strings))
	}
	return NeonEventSample{Timestamp: s.Timestamp, Label: s.Strings[0]}, nil
}

// PollGaze pulls and decodes the next gaze sample, or returns ok=false
// if none arrived within timeout.
func PollGaze(ctx context.Context, in *Inlet, timeout time.Duration) (NeonGazeSample, bool, error) {
	s, ok, err := in.PullSample(ctx, timeout)
	if err != nil || !ok {
		return NeonGazeSample{}, false, err
	}
	g, err := DecodeGaze(s)
	return g, err == nil, err
}
