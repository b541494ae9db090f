package lsl

import (
	"context"
	"strings"
	"sync"

	"github.com/hyperstudy/bridge/internal/ids"
)

// frenzStreamSuffixes are the up-to-16 suffixes the Python frenztoolkit
// bridge publishes per device: raw/filtered signals, derived metrics,
// and power bands.
var frenzStreamSuffixes = []string{
	"_EEG_raw", "_PPG_raw", "_IMU_raw",
	"_EEG_filtered", "_EOG_filtered", "_EMG_filtered",
	"_focus", "_sleep_stage", "_poas", "_POSTURE", "_signal_quality",
	"_alpha", "_beta", "_theta", "_gamma", "_delta",
}

// frenzPostureSuffix is the one FRENZ stream carrying string samples
// instead of numeric ones.
const frenzPostureSuffix = "_POSTURE"

// FrenzDevice groups a FRENZ brainband's discovered streams by device
// name, keyed by suffix.
type FrenzDevice struct {
	Name    string
	Streams map[string]string // suffix -> stream UID
}

// FrenzManager discovers FRENZ brainband streams and exposes per-stream
// connect plus a marker-outlet helper for sending events back to the
// Python bridge.
type FrenzManager struct {
	resolver *Resolver
	inlets   *InletManager
	outlets  *OutletManager

	mu      sync.RWMutex
	devices map[string]*FrenzDevice
}

// NewFrenzManager constructs a manager sharing the resolver/inlet/outlet
// managers with the rest of the LSL subsystem.
func NewFrenzManager(resolver *Resolver, inlets *InletManager, outlets *OutletManager) *FrenzManager {
	return &FrenzManager{resolver: resolver, inlets: inlets, outlets: outlets, devices: make(map[string]*FrenzDevice)}
}

// DiscoverDevices scans the resolver's cache for FRENZ suffix streams
// and groups them by device name.
func (m *FrenzManager) DiscoverDevices() []FrenzDevice {
	streams := m.resolver.GetDiscoveredStreams()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range streams {
		name, suffix, ok := parseFrenzStreamName(s.Info.Name)
		if !ok {
			continue
		}
		dev, exists := m.devices[name]
		if !exists {
			dev = &FrenzDevice{Name: name, Streams: make(map[string]string)}
			m.devices[name] = dev
		}
		dev.Streams[suffix] = s.UID
	}

	out := make([]FrenzDevice, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d)
	}
	return out
}

func parseFrenzStreamName(streamName string) (device, suffix string, ok bool) {
	for _, sfx := range frenzStreamSuffixes {
		if strings.HasSuffix(streamName, sfx) {
			return strings.TrimSuffix(streamName, sfx), sfx, true
		}
	}
	return "", "", false
}

// GetDevice returns the device group discovered under name.
func (m *FrenzManager) GetDevice(name string) (FrenzDevice, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[name]
	if !ok {
		return FrenzDevice{}, false
	}
	cp := FrenzDevice{Name: d.Name, Streams: make(map[string]string, len(d.Streams))}
	for k, v := range d.Streams {
		cp.Streams[k] = v
	}
	return cp, true
}

// ConnectStream opens an inlet on deviceName's named suffix stream, with
// its buffer sized by the stream's nominal rate per spec §4.7.
func (m *FrenzManager) ConnectStream(ctx context.Context, deviceName, suffix string) (*Inlet, error) {
	dev, ok := m.GetDevice(deviceName)
	if !ok {
		return nil, ids.New(ids.KindStreamNotFound, "no FRENZ device discovered named %q", deviceName)
	}
	uid, ok := dev.Streams[suffix]
	if !ok {
		return nil, ids.New(ids.KindStreamNotFound, "FRENZ device %q has no %s stream", deviceName, suffix)
	}
	stream, ok := m.resolver.GetStream(uid)
	if !ok {
		return nil, ids.New(ids.KindStreamNotFound, "FRENZ stream %s no longer cached", uid)
	}
	return m.inlets.CreateInlet(stream, DefaultInletConfig(stream.Info.NominalSRate))
}

// ConnectAllStreams opens inlets on every discovered suffix stream for
// deviceName, skipping ones that failed to connect and returning them in
// a suffix-keyed map.
func (m *FrenzManager) ConnectAllStreams(ctx context.Context, deviceName string) (map[string]*Inlet, error) {
	dev, ok := m.GetDevice(deviceName)
	if !ok {
		return nil, ids.New(ids.KindStreamNotFound, "no FRENZ device discovered named %q", deviceName)
	}
	out := make(map[string]*Inlet, len(dev.Streams))
	for suffix := range dev.Streams {
		in, err := m.ConnectStream(ctx, deviceName, suffix)
		if err != nil {
			continue
		}
		out[suffix] = in
	}
	return out, nil
}

// IsPostureSample reports whether suffix is the one FRENZ stream
// carrying string (not numeric) samples.
func IsPostureSample(suffix string) bool {
	return suffix == frenzPostureSuffix
}

// CreateDeviceMarkerOutlet builds the auxiliary marker outlet spec §4.7
// describes for sending event markers back to the Python FRENZ bridge.
func (m *FrenzManager) CreateDeviceMarkerOutlet(deviceName string) *Outlet {
	return m.outlets.CreateMarkerOutlet(deviceName+"_Markers", deviceName)
}
