package bridgestate

import (
	"context"
	"testing"

	"github.com/hyperstudy/bridge/internal/device"
	"github.com/hyperstudy/bridge/internal/device/mock"
	"github.com/hyperstudy/bridge/internal/perf"
)

func TestAddDeviceRejectsDuplicateID(t *testing.T) {
	s := New(perf.New())
	d := mock.New("mock0", "Mock", nil)

	if err := s.AddDevice("mock0", d); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if err := s.AddDevice("mock0", d); err == nil {
		t.Fatalf("expected duplicate registration to be rejected")
	}
}

func TestWithDeviceSerializesAccess(t *testing.T) {
	s := New(perf.New())
	d := mock.New("mock0", "Mock", nil)
	if err := s.AddDevice("mock0", d); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	err := s.WithDevice("mock0", func(drv device.Device) error {
		return drv.Connect(context.Background())
	})
	if err != nil {
		t.Fatalf("WithDevice: %v", err)
	}
	status, ok := s.GetDeviceStatus("mock0")
	if !ok {
		t.Fatalf("expected device status to be available")
	}
	if status != "connected" {
		t.Fatalf("expected connected status, got %s", status)
	}
}

func TestWithDeviceUnknownIDFails(t *testing.T) {
	s := New(perf.New())
	err := s.WithDevice("missing", func(drv device.Device) error {
		return nil
	})
	if err == nil {
		t.Fatalf("expected unknown device id to fail")
	}
}

func TestRemoveDeviceUnregisters(t *testing.T) {
	s := New(perf.New())
	d := mock.New("mock0", "Mock", nil)
	s.AddDevice("mock0", d)
	s.RemoveDevice("mock0")
	if _, ok := s.GetDevice("mock0"); ok {
		t.Fatalf("expected device to be unregistered")
	}
}

func TestConnectionLifecycle(t *testing.T) {
	s := New(perf.New())
	s.AddConnection("conn1", "127.0.0.1:5555")

	if s.ConnectionCount() != 1 {
		t.Fatalf("expected 1 connection, got %d", s.ConnectionCount())
	}

	info, ok := s.GetConnection("conn1")
	if !ok {
		t.Fatalf("expected connection to be registered")
	}
	firstSeen := info.LastActivity

	s.UpdateConnectionActivity("conn1")
	updated, _ := s.GetConnection("conn1")
	if !updated.LastActivity.After(firstSeen) && updated.LastActivity != firstSeen {
		t.Fatalf("expected last activity to be updated")
	}

	s.RemoveConnection("conn1")
	if s.ConnectionCount() != 0 {
		t.Fatalf("expected connection to be removed")
	}
}

func TestLastErrorRecordedAndRetrieved(t *testing.T) {
	s := New(perf.New())
	s.RecordDeviceError("mock0", "simulated failure")
	msg, ok := s.LastError("mock0")
	if !ok || msg != "simulated failure" {
		t.Fatalf("expected recorded error to be retrievable, got %q ok=%v", msg, ok)
	}
}
