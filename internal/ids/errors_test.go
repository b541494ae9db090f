package ids

import (
	"errors"
	"testing"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := New(KindTimeout, "serial read exceeded 500ms")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected errors.Is to match ErrTimeout, got %v", err)
	}
	if errors.Is(err, ErrNotConnected) {
		t.Fatalf("did not expect errors.Is to match ErrNotConnected")
	}
}

func TestErrorWrapUnwrap(t *testing.T) {
	cause := errors.New("eof")
	err := Wrap(KindCommunicationErr, cause, "read failed")
	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap chain to expose cause")
	}
}

func TestNewIDsAreUnique(t *testing.T) {
	a := NewDeviceID()
	b := NewDeviceID()
	if a == b {
		t.Fatalf("expected distinct device ids, got %q twice", a)
	}
}
