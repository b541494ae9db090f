package lsl

import (
	"context"
	"sync"
	"testing"
	"time"
)

type stubDiscoverer struct {
	mu      sync.Mutex
	streams []StreamInfo
	err     error
}

func (s *stubDiscoverer) ResolveStreams(ctx context.Context, timeout time.Duration) ([]StreamInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]StreamInfo(nil), s.streams...), nil
}

func (s *stubDiscoverer) setStreams(streams []StreamInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = streams
}

func TestDiscoverStreamsPopulatesCache(t *testing.T) {
	d := &stubDiscoverer{streams: []StreamInfo{
		{Name: "ttl_markers", Type: "Markers", SourceID: "ttl0"},
		{Name: "fnirs_data", Type: "fNIRS", SourceID: "fnirs0", ChannelCount: 16},
	}}
	r := NewResolver(d, time.Second)

	found, err := r.DiscoverStreams(context.Background())
	if err != nil {
		t.Fatalf("DiscoverStreams: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(found))
	}
	if len(r.GetDiscoveredStreams()) != 2 {
		t.Fatalf("expected cache to hold 2 streams")
	}
}

func TestFindStreamsAppliesFilter(t *testing.T) {
	d := &stubDiscoverer{streams: []StreamInfo{
		{Name: "ttl_markers", Type: "Markers"},
		{Name: "fnirs_data", Type: "fNIRS", ChannelCount: 16},
	}}
	r := NewResolver(d, time.Second)
	if _, err := r.DiscoverStreams(context.Background()); err != nil {
		t.Fatalf("DiscoverStreams: %v", err)
	}

	matches := r.FindStreams(StreamFilter{StreamType: "fNIRS"})
	if len(matches) != 1 || matches[0].Info.Name != "fnirs_data" {
		t.Fatalf("expected filter to isolate fnirs_data, got %+v", matches)
	}
}

func TestCacheEvictsOldestBeyondCapacity(t *testing.T) {
	d := &stubDiscoverer{}
	r := NewResolver(d, time.Second)

	for i := 0; i < MaxDiscoveredStreams+10; i++ {
		d.setStreams([]StreamInfo{{Name: "stream", SourceID: sourceIDFor(i)}})
		if _, err := r.DiscoverStreams(context.Background()); err != nil {
			t.Fatalf("DiscoverStreams iteration %d: %v", i, err)
		}
	}

	if got := len(r.GetDiscoveredStreams()); got != MaxDiscoveredStreams {
		t.Fatalf("expected cache capped at %d, got %d", MaxDiscoveredStreams, got)
	}
}

func sourceIDFor(i int) string {
	return "src" + string(rune('A'+i%26)) + string(rune('0'+i%10))
}

func TestContinuousDiscoveryEmitsStreamFound(t *testing.T) {
	d := &stubDiscoverer{streams: []StreamInfo{{Name: "ttl_markers", SourceID: "ttl0"}}}
	r := NewResolver(d, 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	events, err := r.StartContinuousDiscovery(ctx, 20*time.Millisecond, time.Minute)
	if err != nil {
		t.Fatalf("StartContinuousDiscovery: %v", err)
	}

	sawFound := false
	for e := range events {
		if e.Kind == EventStreamFound {
			sawFound = true
		}
	}
	if !sawFound {
		t.Fatalf("expected at least one StreamFound event")
	}
}

func TestStartContinuousDiscoveryRejectsConcurrentRun(t *testing.T) {
	d := &stubDiscoverer{}
	r := NewResolver(d, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := r.StartContinuousDiscovery(ctx, time.Hour, time.Hour); err != nil {
		t.Fatalf("first StartContinuousDiscovery: %v", err)
	}
	if _, err := r.StartContinuousDiscovery(ctx, time.Hour, time.Hour); err == nil {
		t.Fatalf("expected second concurrent discovery to be rejected")
	}
}
