package ids

import (
	"errors"
	"fmt"
)

// Kind taxonomizes bridge errors so callers can branch on failure class
// without string-matching messages. See spec §7.
type Kind string

const (
	KindConnectionFailed  Kind = "connection_failed"
	KindCommunicationErr  Kind = "communication_error"
	KindTimeout           Kind = "timeout"
	KindNotConnected      Kind = "not_connected"
	KindInvalidData       Kind = "invalid_data"
	KindConfigurationErr  Kind = "configuration_error"
	KindUnknown           Kind = "unknown"
	KindDiscoveryTimeout  Kind = "discovery_timeout"
	KindStreamNotFound    Kind = "stream_not_found"
	KindDataFormatMismatch Kind = "data_format_mismatch"
	KindLslLibraryError   Kind = "lsl_library_error"
	KindDatabase          Kind = "database"
	KindMigration         Kind = "migration"
	KindSerialization     Kind = "serialization"
	KindSessionNotFound   Kind = "session_not_found"
	KindNotInitialized    Kind = "not_initialized"
)

// Error is the concrete error type returned by every bridge component. It
// wraps an optional cause and always carries a Kind so callers can use
// errors.Is/errors.As against the sentinel below.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the Kind sentinel for e's Kind, so callers
// can write `errors.Is(err, ids.ErrTimeout)`.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New constructs an Error of the given kind with a formatted detail.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind, preserving cause for Unwrap.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Cause: cause}
}

// sentinel returns a zero-detail Error of a Kind, useful as an errors.Is target.
func sentinel(k Kind) *Error { return &Error{Kind: k} }

var (
	ErrConnectionFailed  = sentinel(KindConnectionFailed)
	ErrCommunication     = sentinel(KindCommunicationErr)
	ErrTimeout           = sentinel(KindTimeout)
	ErrNotConnected      = sentinel(KindNotConnected)
	ErrInvalidData       = sentinel(KindInvalidData)
	ErrConfiguration     = sentinel(KindConfigurationErr)
	ErrUnknown           = sentinel(KindUnknown)
	ErrDiscoveryTimeout  = sentinel(KindDiscoveryTimeout)
	ErrStreamNotFound    = sentinel(KindStreamNotFound)
	ErrDataFormatMismatch = sentinel(KindDataFormatMismatch)
	ErrLslLibrary        = sentinel(KindLslLibraryError)
	ErrDatabase          = sentinel(KindDatabase)
	ErrMigration         = sentinel(KindMigration)
	ErrSerialization     = sentinel(KindSerialization)
	ErrSessionNotFound   = sentinel(KindSessionNotFound)
	ErrNotInitialized    = sentinel(KindNotInitialized)
)
