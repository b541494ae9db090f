package codec

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/hyperstudy/bridge/internal/device"
)

// lastTimestampNs tracks the most recent value handed out by nextTimestamp,
// so concurrent responses still observe a monotonically non-decreasing
// server timestamp even if the wall clock is adjusted backwards between
// calls (spec §3's Response invariant).
var lastTimestampNs atomic.Int64

// nextTimestamp returns the current wall-clock time in nanoseconds,
// clamped to be no earlier than the previous call's result.
func nextTimestamp() int64 {
	now := time.Now().UnixNano()
	for {
		prev := lastTimestampNs.Load()
		if now <= prev {
			return prev
		}
		if lastTimestampNs.CompareAndSwap(prev, now) {
			return now
		}
	}
}

// ResponseType discriminates the outbound Response union.
type ResponseType string

const (
	ResponseStatus      ResponseType = "status"
	ResponseError       ResponseType = "error"
	ResponseEvent       ResponseType = "event"
	ResponseAck         ResponseType = "ack"
	ResponseQueryResult ResponseType = "query_result"
)

// Response is the tagged union of every message the bridge can send back
// to a WebSocket client, per spec §3.
type Response struct {
	Type      ResponseType `json:"type"`
	Timestamp int64        `json:"timestamp"`

	Device string        `json:"device,omitempty"`
	Status device.Status `json:"status,omitempty"`

	Message string `json:"message,omitempty"`

	Kind string          `json:"kind,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`

	ID     string `json:"id,omitempty"`
	Ok     bool   `json:"ok,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// NewStatus builds a Status response reporting device's current lifecycle
// status.
func NewStatus(deviceID string, status device.Status) Response {
	return Response{Type: ResponseStatus, Timestamp: nextTimestamp(), Device: deviceID, Status: status}
}

// NewDeviceError builds a device-scoped Error response, used both for an
// unknown device wire-type and for device-scoped operational failures.
// Spec §6 documents a single Error response type; device-scoped errors
// are that same type with Device populated, not a distinct wire type.
func NewDeviceError(deviceID, message string) Response {
	return Response{Type: ResponseError, Timestamp: nextTimestamp(), Device: deviceID, Message: message}
}

// NewError builds a connection-scoped Error response, used for malformed
// messages and other failures with no specific device.
func NewError(message string) Response {
	return Response{Type: ResponseError, Timestamp: nextTimestamp(), Message: message}
}

// NewEvent builds an Event response carrying an arbitrary JSON payload,
// used both for device-originated events and subscription acks.
func NewEvent(deviceID, kind string, data any) Response {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = json.RawMessage(`null`)
	}
	return Response{Type: ResponseEvent, Timestamp: nextTimestamp(), Device: deviceID, Kind: kind, Data: raw}
}

// NewAck builds an Ack response for the command identified by id.
func NewAck(id string, ok bool, detail string) Response {
	return Response{Type: ResponseAck, Timestamp: nextTimestamp(), ID: id, Ok: ok, Detail: detail}
}

// NewQueryResult builds a QueryResult response carrying an arbitrary JSON
// payload.
func NewQueryResult(id string, data any) Response {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = json.RawMessage(`null`)
	}
	return Response{Type: ResponseQueryResult, Timestamp: nextTimestamp(), ID: id, Data: raw}
}

// Encode marshals a Response to its wire JSON form.
func Encode(r Response) ([]byte, error) {
	return json.Marshal(r)
}
