// Package codec implements the bridge's wire protocol: tagged-union JSON
// messages exchanged with the browser controller over the WebSocket
// router. See spec §4.9.
package codec

import (
	"encoding/json"

	"github.com/hyperstudy/bridge/internal/device"
	"github.com/hyperstudy/bridge/internal/ids"
)

// MaxMessageSize is the largest inbound message the codec accepts, per
// spec §4.9.
const MaxMessageSize = 10 * 1024 * 1024

// ErrBinaryFrame names the rejection of binary WebSocket frames. Decode
// does not return it: the router checks the frame type before calling
// into the codec and replies with an error response of its own.
var ErrBinaryFrame = ids.New(ids.KindInvalidData, "binary frames are not accepted")

// deviceKinds maps the wire strings clients send in a Command/Connect
// payload's "device" field to the driver Kind the bridge instantiates.
var deviceKinds = map[string]device.Kind{
	"ttl":    device.KindTTL,
	"kernel": device.KindFNIRS,
	"pupil":  device.KindEyeTracker,
	"biopac": device.KindPhysio,
	"mock":   device.KindMock,
}

// ResolveDeviceKind validates a wire-level device string and returns the
// corresponding driver Kind. Unknown strings are the caller's cue to
// reply with DeviceError{message: "Invalid device type"}.
func ResolveDeviceKind(wire string) (device.Kind, bool) {
	kind, ok := deviceKinds[wire]
	return kind, ok
}

// Action enumerates a Command's verb.
type Action string

const (
	ActionConnect    Action = "connect"
	ActionDisconnect Action = "disconnect"
	ActionSend       Action = "send"
	ActionStatus     Action = "status"
	ActionConfigure  Action = "configure"
	ActionEvent      Action = "event"
)

// QueryTarget enumerates a Query's subject.
type QueryTarget string

const (
	TargetDevices     QueryTarget = "devices"
	TargetDevice      QueryTarget = "device"
	TargetMetrics     QueryTarget = "metrics"
	TargetConnections QueryTarget = "connections"
	TargetStatus      QueryTarget = "status"
	TargetStats       QueryTarget = "stats"
)

// envelope is the wire shape every inbound message shares: a discriminant
// "type" plus the union of every variant's fields. Decode inspects Type
// and repacks the matching subset into the returned Message's payload.
type envelope struct {
	Type string `json:"type"`

	Device  string          `json:"device,omitempty"`
	Action  Action          `json:"action,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	ID      string          `json:"id,omitempty"`

	Target   QueryTarget `json:"target,omitempty"`
	TargetID string      `json:"target_id,omitempty"`

	Events []string `json:"events,omitempty"`
}

// MessageType discriminates the decoded union returned by Decode.
type MessageType string

const (
	MessageCommand     MessageType = "command"
	MessageQuery       MessageType = "query"
	MessageSubscribe   MessageType = "subscribe"
	MessageUnsubscribe MessageType = "unsubscribe"
)

// Command is a client request to act on a device.
type Command struct {
	Device  string          `json:"device"`
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
	ID      string          `json:"id,omitempty"`
}

// Query is a client request for bridge-side information.
type Query struct {
	Target   QueryTarget `json:"target"`
	TargetID string      `json:"target_id,omitempty"`
	ID       string      `json:"id,omitempty"`
}

// SubscriptionRequest is a client request to (un)subscribe to a device's
// event stream.
type SubscriptionRequest struct {
	Device string   `json:"device"`
	Events []string `json:"events"`
}

// Message is the decoded form of one inbound client frame: exactly one
// of Command, Query, or Subscription is populated, selected by Type.
type Message struct {
	Type         MessageType
	Command      *Command
	Query        *Query
	Subscription *SubscriptionRequest
}

// Decode parses a text WebSocket frame into a Message. Parse errors are
// returned as-is; callers should reply with Response Error{message} and
// keep the connection open, per spec §4.9.
func Decode(raw []byte) (*Message, error) {
	if len(raw) > MaxMessageSize {
		return nil, ids.New(ids.KindInvalidData, "message exceeds maximum size of %d bytes", MaxMessageSize)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ids.Wrap(ids.KindInvalidData, err, "invalid JSON message")
	}

	switch env.Type {
	case "command":
		if env.Device == "" || env.Action == "" {
			return nil, ids.New(ids.KindInvalidData, "command requires device and action fields")
		}
		return &Message{
			Type: MessageCommand,
			Command: &Command{
				Device:  env.Device,
				Action:  env.Action,
				Payload: env.Payload,
				ID:      env.ID,
			},
		}, nil
	case "query":
		if env.Target == "" {
			return nil, ids.New(ids.KindInvalidData, "query requires a target field")
		}
		return &Message{
			Type: MessageQuery,
			Query: &Query{
				Target:   env.Target,
				TargetID: env.TargetID,
				ID:       env.ID,
			},
		}, nil
	case "subscribe", "unsubscribe":
		if env.Device == "" {
			return nil, ids.New(ids.KindInvalidData, "subscription requires a device field")
		}
		mt := MessageSubscribe
		if env.Type == "unsubscribe" {
			mt = MessageUnsubscribe
		}
		return &Message{
			Type: mt,
			Subscription: &SubscriptionRequest{
				Device: env.Device,
				Events: env.Events,
			},
		}, nil
	default:
		return nil, ids.New(ids.KindInvalidData, "unknown message type %q", env.Type)
	}
}

// SendPayload extracts the bytes a Send command's payload should be
// translated into before reaching a driver's Send method: it prefers a
// "command" or "data" string field, falling back to the payload's raw
// JSON encoding. See spec §4.10's routing matrix.
func SendPayload(payload json.RawMessage) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var fields struct {
		Command *string `json:"command"`
		Data    *string `json:"data"`
	}
	if err := json.Unmarshal(payload, &fields); err == nil {
		if fields.Command != nil {
			return []byte(*fields.Command), nil
		}
		if fields.Data != nil {
			return []byte(*fields.Data), nil
		}
	}
	return []byte(payload), nil
}

// DeviceErrorMessage is the fixed text the router sends back for an
// unrecognized device wire string, per spec §4.9.
const DeviceErrorMessage = "Invalid device type"

// InvalidDeviceType builds the Response a Connect/Send/etc. command
// receives when its device field doesn't resolve to a known Kind.
func InvalidDeviceType(deviceID string) Response {
	return NewDeviceError(deviceID, DeviceErrorMessage)
}
