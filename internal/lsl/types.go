// Package lsl implements the Lab Streaming Layer subsystem: stream
// discovery (Resolver), inbound sample consumption (Inlet Manager),
// outbound sample production (Outlet Manager), and the Neon/FRENZ
// device-group managers layered on top of them. See spec §4.7.
package lsl

import "time"

// ChannelFormat mirrors the LSL wire channel formats a stream declares.
type ChannelFormat string

const (
	FormatFloat32 ChannelFormat = "float32"
	FormatFloat64 ChannelFormat = "float64"
	FormatString  ChannelFormat = "string"
	FormatInt32   ChannelFormat = "int32"
	FormatInt16   ChannelFormat = "int16"
	FormatInt8    ChannelFormat = "int8"
	FormatInt64   ChannelFormat = "int64"
)

// StreamInfo describes a stream's static metadata, the LSL analogue of
// lsl_streaminfo.
type StreamInfo struct {
	Name          string
	Type          string
	ChannelCount  uint32
	NominalSRate  float64
	ChannelFormat ChannelFormat
	SourceID      string
	Hostname      string
}

// DiscoveredStream is a cached resolver entry.
type DiscoveredStream struct {
	Info         StreamInfo
	UID          string
	DiscoveredAt time.Time
	LastSeen     time.Time
	Available    bool
	DataLoss     float64
}

// StreamFilter narrows resolver queries; a nil/zero field means "don't
// filter on this criterion".
type StreamFilter struct {
	NamePattern   string
	StreamType    string
	Hostname      string
	SourceID      string
	MinChannels   *uint32
	MaxChannels   *uint32
	ChannelFormat ChannelFormat
}

// Matches reports whether info satisfies every set criterion in f.
func (f StreamFilter) Matches(info StreamInfo) bool {
	if f.NamePattern != "" && !contains(info.Name, f.NamePattern) {
		return false
	}
	if f.StreamType != "" && info.Type != f.StreamType {
		return false
	}
	if f.Hostname != "" && info.Hostname != f.Hostname {
		return false
	}
	if f.SourceID != "" && info.SourceID != f.SourceID {
		return false
	}
	if f.MinChannels != nil && info.ChannelCount < *f.MinChannels {
		return false
	}
	if f.MaxChannels != nil && info.ChannelCount > *f.MaxChannels {
		return false
	}
	if f.ChannelFormat != "" && info.ChannelFormat != f.ChannelFormat {
		return false
	}
	return true
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	if m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}

// Sample is one LSL data point: a timestamp plus either numeric or
// string channel values (exactly one of the two is populated).
type Sample struct {
	Timestamp float64
	Values    []float64
	Strings   []string
}

// ChannelCount reports how many channels this sample carries, whichever
// of Values/Strings is populated.
func (s Sample) ChannelCount() int {
	if len(s.Strings) > 0 {
		return len(s.Strings)
	}
	return len(s.Values)
}

// BufferSizeForRate implements spec §4.7's rate-to-buffer-size rule:
// >=100Hz -> 1000, >=25Hz -> 500, >=1Hz -> 250, else 50.
func BufferSizeForRate(nominalSRate float64) int {
	switch {
	case nominalSRate >= 100.0:
		return 1000
	case nominalSRate >= 25.0:
		return 500
	case nominalSRate >= 1.0:
		return 250
	default:
		return 50
	}
}
