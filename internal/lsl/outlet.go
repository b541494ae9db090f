package lsl

import (
	"sync"
	"time"

	"github.com/hyperstudy/bridge/internal/ids"
)

// OutletConfig configures a single stream outlet.
type OutletConfig struct {
	BufferSize   int
	MaxRateHz    float64 // 0 disables the rate cap
	CRC          bool
	AutoTimestamp bool
}

// DefaultOutletConfig mirrors the original's defaults: 1000-sample
// buffer, no rate cap, auto-timestamping enabled.
func DefaultOutletConfig() OutletConfig {
	return OutletConfig{BufferSize: 1000, AutoTimestamp: true}
}

// Outlet produces samples onto one LSL stream.
type Outlet struct {
	info StreamInfo
	cfg  OutletConfig

	mu            sync.Mutex
	buffer        []Sample
	dataLoss      float64
	lastTimestamp float64
	lastSentAt    time.Time
	sentCount     uint64
}

// NewOutlet creates an outlet advertising info.
func NewOutlet(info StreamInfo, cfg OutletConfig) *Outlet {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	return &Outlet{info: info, cfg: cfg}
}

// SendSample validates the sample's channel count against the outlet's
// stream, auto-timestamps a zero timestamp, enforces the optional rate
// cap, and buffers the sample with oldest-drop-on-overflow tracked as
// data loss.
func (o *Outlet) SendSample(s Sample) error {
	if s.ChannelCount() != int(o.info.ChannelCount) {
		return ids.New(ids.KindDataFormatMismatch, "outlet %s expects %d channels, got %d", o.info.Name, o.info.ChannelCount, s.ChannelCount())
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cfg.MaxRateHz > 0 && !o.lastSentAt.IsZero() {
		minInterval := time.Duration(float64(time.Second) / o.cfg.MaxRateHz)
		if time.Since(o.lastSentAt) < minInterval {
			return ids.New(ids.KindInvalidData, "outlet %s exceeded configured rate cap of %.2f Hz", o.info.Name, o.cfg.MaxRateHz)
		}
	}

	if s.Timestamp == 0 {
		s.Timestamp = float64(time.Now().UnixNano()) / 1e9
	}

	if len(o.buffer) >= o.cfg.BufferSize {
		o.buffer = o.buffer[1:]
		o.dataLoss += 0.1
		if o.dataLoss > 100 {
			o.dataLoss = 100
		}
	}
	o.buffer = append(o.buffer, s)
	o.lastTimestamp = s.Timestamp
	o.lastSentAt = time.Now()
	o.sentCount++
	return nil
}

// BufferUsage reports (used, capacity).
func (o *Outlet) BufferUsage() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buffer), o.cfg.BufferSize
}

// DataLoss reports the accumulated data-loss percentage (capped at 100).
func (o *Outlet) DataLoss() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dataLoss
}

// ClearBuffer drops every buffered sample without affecting DataLoss.
func (o *Outlet) ClearBuffer() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buffer = nil
}

// Drain returns and clears buffered samples awaiting transmission.
func (o *Outlet) Drain() []Sample {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.buffer
	o.buffer = nil
	return out
}

// OutletManager owns active outlets keyed by stream name.
type OutletManager struct {
	mu      sync.RWMutex
	outlets map[string]*Outlet
}

// NewOutletManager constructs an empty outlet manager.
func NewOutletManager() *OutletManager {
	return &OutletManager{outlets: make(map[string]*Outlet)}
}

// CreateOutlet builds and registers an outlet for info under its name.
func (m *OutletManager) CreateOutlet(info StreamInfo, cfg OutletConfig) *Outlet {
	out := NewOutlet(info, cfg)
	m.mu.Lock()
	m.outlets[info.Name] = out
	m.mu.Unlock()
	return out
}

// Get returns the outlet registered under name, if any.
func (m *OutletManager) Get(name string) (*Outlet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out, ok := m.outlets[name]
	return out, ok
}

// Remove unregisters the outlet under name.
func (m *OutletManager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outlets, name)
}

// CreateMarkerOutlet builds a single-channel string-format outlet, the
// auxiliary "marker outlet" spec §4.7 describes for FRENZ.
func (m *OutletManager) CreateMarkerOutlet(name, sourceID string) *Outlet {
	info := StreamInfo{
		Name:          name,
		Type:          "Markers",
		ChannelCount:  1,
		NominalSRate:  0,
		ChannelFormat: FormatString,
		SourceID:      sourceID,
	}
	return m.CreateOutlet(info, DefaultOutletConfig())
}
