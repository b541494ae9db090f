package lsl

import (
	"context"
	"time"
)

// NullDiscoverer is the production Discoverer used when the host has no
// liblsl binding available. It never fails and never finds a stream,
// so the Resolver still runs its discovery loop and emits
// EventCompleted/EventError correctly around it, but EventStreamFound
// only ever fires for Discoverers that actually bind to the network.
// The original Tauri implementation stubs this exact call out too
// ("In a real implementation, this would call lsl::resolve_streams()",
// devices/lsl/resolver.rs) — there is no real liblsl cgo binding in this
// module's dependency set, so the stub is carried forward rather than
// invented.
type NullDiscoverer struct{}

// ResolveStreams always returns an empty result; see NullDiscoverer.
func (NullDiscoverer) ResolveStreams(ctx context.Context, timeout time.Duration) ([]StreamInfo, error) {
	return nil, nil
}
