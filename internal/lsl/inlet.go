package lsl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperstudy/bridge/internal/ids"
)

// InletState is the inlet lifecycle: Created -> Open -> Closed.
type InletState string

const (
	InletCreated InletState = "created"
	InletOpen    InletState = "open"
	InletClosed  InletState = "closed"
)

// InletConfig configures a single stream inlet.
type InletConfig struct {
	BufferSize        int
	Dejitter          bool
	MonotonicOrder    bool
	Recover           bool
	AutoTimeCorrection bool
}

// DefaultInletConfig sizes the buffer by stream rate per spec §4.7 and
// enables the post-processing flags the original turns on by default.
func DefaultInletConfig(nominalSRate float64) InletConfig {
	return InletConfig{
		BufferSize:         BufferSizeForRate(nominalSRate),
		Dejitter:           true,
		MonotonicOrder:     true,
		Recover:            false,
		AutoTimeCorrection: true,
	}
}

// InletStats is a snapshot of an inlet's runtime counters.
type InletStats struct {
	SampleCount              uint64
	BytesReceived            uint64
	BufferUsed               int
	BufferCapacity           int
	TimeCorrection           float64
	SecondsSinceLastReceive  float64
}

// Inlet consumes samples from one discovered stream.
type Inlet struct {
	stream DiscoveredStream
	cfg    InletConfig

	mu             sync.Mutex
	state          InletState
	buffer         []Sample
	lastReceiveAt  time.Time
	timeCorrection float64

	sampleCount   atomic.Uint64
	bytesReceived atomic.Uint64
}

// NewInlet creates an inlet in the Created state; Open transitions it
// into a readable state.
func NewInlet(stream DiscoveredStream, cfg InletConfig) *Inlet {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = BufferSizeForRate(stream.Info.NominalSRate)
	}
	return &Inlet{stream: stream, cfg: cfg, state: InletCreated}
}

// Open transitions Created -> Open.
func (in *Inlet) Open() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state != InletCreated {
		return ids.New(ids.KindConfigurationErr, "inlet %s cannot open from state %s", in.stream.UID, in.state)
	}
	in.state = InletOpen
	in.lastReceiveAt = time.Now()
	return nil
}

// Close transitions Open -> Closed.
func (in *Inlet) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state != InletOpen {
		return ids.New(ids.KindConfigurationErr, "inlet %s cannot close from state %s", in.stream.UID, in.state)
	}
	in.state = InletClosed
	return nil
}

func (in *Inlet) State() InletState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Push appends an incoming sample (called by the per-stream poll loop
// that feeds the inlet from the underlying LSL binding), applying
// oldest-drop-on-overflow against the configured buffer size.
func (in *Inlet) Push(s Sample) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.buffer = append(in.buffer, s)
	if overflow := len(in.buffer) - in.cfg.BufferSize; overflow > 0 {
		in.buffer = in.buffer[overflow:]
	}
	in.lastReceiveAt = time.Now()
	in.sampleCount.Add(1)
	in.bytesReceived.Add(uint64(8 + 8*s.ChannelCount()))
}

// PullSample returns at most one sample, waiting up to timeout for one
// to arrive if the buffer is currently empty.
func (in *Inlet) PullSample(ctx context.Context, timeout time.Duration) (Sample, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		in.mu.Lock()
		if in.state != InletOpen {
			in.mu.Unlock()
			return Sample{}, false, ids.New(ids.KindNotConnected, "inlet %s is not open", in.stream.UID)
		}
		if len(in.buffer) > 0 {
			s := in.buffer[0]
			in.buffer = in.buffer[1:]
			in.mu.Unlock()
			return s, true, nil
		}
		in.mu.Unlock()

		if timeout <= 0 || time.Now().After(deadline) {
			return Sample{}, false, nil
		}
		select {
		case <-ctx.Done():
			return Sample{}, false, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// PullChunk returns up to max buffered samples without waiting for more
// to arrive than are already present (a non-blocking drain), unless
// nothing is buffered and timeout > 0, in which case it waits once like
// PullSample before giving up.
func (in *Inlet) PullChunk(ctx context.Context, max int, timeout time.Duration) ([]Sample, error) {
	in.mu.Lock()
	if in.state != InletOpen {
		in.mu.Unlock()
		return nil, ids.New(ids.KindNotConnected, "inlet %s is not open", in.stream.UID)
	}
	if len(in.buffer) == 0 {
		in.mu.Unlock()
		if timeout <= 0 {
			return nil, nil
		}
		s, ok, err := in.PullSample(ctx, timeout)
		if err != nil || !ok {
			return nil, err
		}
		return []Sample{s}, nil
	}
	n := max
	if n <= 0 || n > len(in.buffer) {
		n = len(in.buffer)
	}
	out := append([]Sample(nil), in.buffer[:n]...)
	in.buffer = in.buffer[n:]
	in.mu.Unlock()
	return out, nil
}

// SetTimeCorrection records the most recent clock-offset estimate for
// this inlet's stats.
func (in *Inlet) SetTimeCorrection(offset float64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.timeCorrection = offset
}

// Stats snapshots the inlet's runtime counters.
func (in *Inlet) Stats() InletStats {
	in.mu.Lock()
	defer in.mu.Unlock()
	return InletStats{
		SampleCount:             in.sampleCount.Load(),
		BytesReceived:           in.bytesReceived.Load(),
		BufferUsed:              len(in.buffer),
		BufferCapacity:          in.cfg.BufferSize,
		TimeCorrection:          in.timeCorrection,
		SecondsSinceLastReceive: time.Since(in.lastReceiveAt).Seconds(),
	}
}

// InletManager owns the set of active inlets, keyed by stream UID.
type InletManager struct {
	mu     sync.RWMutex
	inlets map[string]*Inlet
}

// NewInletManager constructs an empty inlet manager.
func NewInletManager() *InletManager {
	return &InletManager{inlets: make(map[string]*Inlet)}
}

// CreateInlet builds and opens an inlet for a discovered stream,
// registering it under the stream's UID.
func (m *InletManager) CreateInlet(stream DiscoveredStream, cfg InletConfig) (*Inlet, error) {
	in := NewInlet(stream, cfg)
	if err := in.Open(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.inlets[stream.UID] = in
	m.mu.Unlock()
	return in, nil
}

// Get returns the inlet registered for uid, if any.
func (m *InletManager) Get(uid string) (*Inlet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.inlets[uid]
	return in, ok
}

// Remove closes and unregisters the inlet for uid.
func (m *InletManager) Remove(uid string) error {
	m.mu.Lock()
	in, ok := m.inlets[uid]
	if ok {
		delete(m.inlets, uid)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return in.Close()
}

// List returns every currently-registered stream UID.
func (m *InletManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uids := make([]string, 0, len(m.inlets))
	for uid := range m.inlets {
		uids = append(uids, uid)
	}
	return uids
}
