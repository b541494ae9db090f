package lsl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/hyperstudy/bridge/internal/ids"
)

// MaxDiscoveredStreams bounds the resolver's cache; the oldest-discovered
// entry is evicted once a new stream would exceed it.
const MaxDiscoveredStreams = 100

// DiscoveryChannelCapacity bounds the continuous-discovery event channel.
const DiscoveryChannelCapacity = 100

// DiscoveryEventKind discriminates a DiscoveryEvent's payload.
type DiscoveryEventKind string

const (
	EventStreamFound   DiscoveryEventKind = "stream_found"
	EventStreamLost    DiscoveryEventKind = "stream_lost"
	EventStreamUpdated DiscoveryEventKind = "stream_updated"
	EventCompleted     DiscoveryEventKind = "completed"
	EventError         DiscoveryEventKind = "error"
)

// DiscoveryEvent is emitted on the resolver's continuous-discovery
// channel.
type DiscoveryEvent struct {
	Kind    DiscoveryEventKind
	Stream  DiscoveredStream
	UID     string
	Message string
}

// Discoverer performs the actual network resolution; production code
// wires this to a real LSL binding, tests wire it to a stub returning
// canned streams.
type Discoverer interface {
	ResolveStreams(ctx context.Context, timeout time.Duration) ([]StreamInfo, error)
}

// Resolver discovers LSL streams, caches them (capacity
// MaxDiscoveredStreams, oldest-discovered eviction), and supports both
// one-shot and continuous discovery.
type Resolver struct {
	discoverer Discoverer
	timeout    time.Duration

	mu      sync.RWMutex
	cache   *orderedmap.OrderedMap[string, *DiscoveredStream]
	filters []StreamFilter

	discovering atomic.Bool
	dropped     atomic.Uint64
	uidSeq      atomic.Uint64
}

// NewResolver constructs a resolver with a one-shot/poll discovery
// timeout.
func NewResolver(discoverer Discoverer, timeout time.Duration) *Resolver {
	return &Resolver{
		discoverer: discoverer,
		timeout:    timeout,
		cache:      orderedmap.New[string, *DiscoveredStream](),
	}
}

// AddFilter appends a discovery filter; matches are ANDed with any
// existing filters when FindStreams walks the cache.
func (r *Resolver) AddFilter(f StreamFilter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = append(r.filters, f)
}

// ClearFilters removes every configured filter.
func (r *Resolver) ClearFilters() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = nil
}

// DiscoverStreams performs one resolution pass, folds results into the
// cache (assigning a UID to newly-seen streams, refreshing LastSeen for
// already-cached ones), and evicts oldest-discovered entries past
// MaxDiscoveredStreams.
func (r *Resolver) DiscoverStreams(ctx context.Context) ([]DiscoveredStream, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	infos, err := r.discoverer.ResolveStreams(ctx, r.timeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ids.Wrap(ids.KindDiscoveryTimeout, err, "lsl discovery timed out")
		}
		return nil, ids.Wrap(ids.KindLslLibraryError, err, "lsl discovery failed")
	}

	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]DiscoveredStream, 0, len(infos))
	for _, info := range infos {
		uid := r.uidFor(info)
		existing, ok := r.cache.Get(uid)
		var ds *DiscoveredStream
		if ok {
			existing.LastSeen = now
			existing.Available = true
			ds = existing
		} else {
			ds = &DiscoveredStream{
				Info:         info,
				UID:          uid,
				DiscoveredAt: now,
				LastSeen:     now,
				Available:    true,
			}
			r.cache.Set(uid, ds)
		}
		result = append(result, *ds)
	}

	r.evictOldestLocked()
	return result, nil
}

// uidFor derives a stable identifier from a stream's source id and name
// when a source id is present, falling back to hostname and name for
// sources without one.
func (r *Resolver) uidFor(info StreamInfo) string {
	if info.SourceID != "" {
		return info.SourceID + ":" + info.Name
	}
	return info.Hostname + ":" + info.Name
}

// evictOldestLocked removes oldest-discovered entries until the cache is
// at or under MaxDiscoveredStreams. r.mu must be held for writing.
func (r *Resolver) evictOldestLocked() {
	for r.cache.Len() > MaxDiscoveredStreams {
		oldest := r.cache.Oldest()
		if oldest == nil {
			return
		}
		r.cache.Delete(oldest.Key)
	}
}

// GetDiscoveredStreams returns every cached stream, oldest-discovered
// first.
func (r *Resolver) GetDiscoveredStreams() []DiscoveredStream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DiscoveredStream, 0, r.cache.Len())
	for pair := r.cache.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, *pair.Value)
	}
	return out
}

// FindStreams returns cached streams matching filter and every filter
// added with AddFilter.
func (r *Resolver) FindStreams(filter StreamFilter) []DiscoveredStream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []DiscoveredStream
	for pair := r.cache.Oldest(); pair != nil; pair = pair.Next() {
		if !filter.Matches(pair.Value.Info) {
			continue
		}
		matched := true
		for _, f := range r.filters {
			if !f.Matches(pair.Value.Info) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, *pair.Value)
		}
	}
	return out
}

// GetStream looks up a single cached stream by uid.
func (r *Resolver) GetStream(uid string) (DiscoveredStream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds, ok := r.cache.Get(uid)
	if !ok {
		return DiscoveredStream{}, false
	}
	return *ds, true
}

// IsStreamAvailable reports whether uid is cached and marked available.
func (r *Resolver) IsStreamAvailable(uid string) bool {
	ds, ok := r.GetStream(uid)
	return ok && ds.Available
}

// CleanupStaleStreams marks cached streams not seen within maxAge as
// unavailable (without evicting them, so callers still observe the
// transition via FindStreams/GetStream).
func (r *Resolver) CleanupStaleStreams(maxAge time.Duration) []string {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []string
	for pair := r.cache.Oldest(); pair != nil; pair = pair.Next() {
		if now.Sub(pair.Value.LastSeen) > maxAge && pair.Value.Available {
			pair.Value.Available = false
			stale = append(stale, pair.Key)
		}
	}
	return stale
}

// DroppedEventCount returns how many continuous-discovery events have
// been dropped due to a full channel.
func (r *Resolver) DroppedEventCount() uint64 {
	return r.dropped.Load()
}

// StartContinuousDiscovery polls at pollInterval until ctx is canceled,
// emitting DiscoveryEvents over a bounded channel of capacity
// DiscoveryChannelCapacity. A full channel drops the event (tracked via
// DroppedEventCount) rather than blocking the poll loop.
func (r *Resolver) StartContinuousDiscovery(ctx context.Context, pollInterval, staleAfter time.Duration) (<-chan DiscoveryEvent, error) {
	if !r.discovering.CompareAndSwap(false, true) {
		return nil, ids.New(ids.KindLslLibraryError, "lsl discovery already running")
	}

	events := make(chan DiscoveryEvent, DiscoveryChannelCapacity)
	go r.discoveryLoop(ctx, pollInterval, staleAfter, events)
	return events, nil
}

func (r *Resolver) discoveryLoop(ctx context.Context, pollInterval, staleAfter time.Duration, events chan<- DiscoveryEvent) {
	defer r.discovering.Store(false)
	defer close(events)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.emit(events, DiscoveryEvent{Kind: EventCompleted})
			return
		case <-ticker.C:
			streams, err := r.DiscoverStreams(ctx)
			if err != nil {
				r.emit(events, DiscoveryEvent{Kind: EventError, Message: err.Error()})
				continue
			}
			for _, s := range streams {
				r.emit(events, DiscoveryEvent{Kind: EventStreamFound, Stream: s, UID: s.UID})
			}
			for _, uid := range r.CleanupStaleStreams(staleAfter) {
				r.emit(events, DiscoveryEvent{Kind: EventStreamLost, UID: uid})
			}
		}
	}
}

// IsDiscovering reports whether a continuous-discovery loop is running.
// There is no separate stop call: the loop ends when the context passed
// to StartContinuousDiscovery is canceled.
func (r *Resolver) IsDiscovering() bool {
	return r.discovering.Load()
}

func (r *Resolver) emit(events chan<- DiscoveryEvent, e DiscoveryEvent) {
	select {
	case events <- e:
	default:
		r.dropped.Add(1)
	}
}
