// Package ids allocates the identifiers used throughout the bridge
// (devices, connections, sessions, LSL stream uids) and defines the
// taxonomized error type every component returns.
package ids

import "github.com/google/uuid"

// NewDeviceID returns a fresh device identifier.
func NewDeviceID() string {
	return uuid.NewString()
}

// NewConnectionID returns a fresh WebSocket connection identifier.
func NewConnectionID() string {
	return uuid.NewString()
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// NewStreamUID returns a fresh LSL stream identifier.
func NewStreamUID() string {
	return uuid.NewString()
}
