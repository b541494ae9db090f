package perf

import (
	"testing"
	"time"
)

func TestRecordDeviceOperationSkipsZeroByteReceive(t *testing.T) {
	a := New()
	a.RecordDeviceOperation("dev1", time.Microsecond, 0, 0)
	snap, ok := a.DeviceSnapshotFor("dev1")
	if !ok {
		t.Fatalf("expected device record to exist")
	}
	if snap.MessagesReceived != 0 {
		t.Fatalf("expected zero-byte receive not counted, got %d", snap.MessagesReceived)
	}
	if snap.MessagesSent != 0 {
		t.Fatalf("expected zero-byte send not counted, got %d", snap.MessagesSent)
	}
}

func TestRecordDeviceOperationCountsNonZero(t *testing.T) {
	a := New()
	a.RecordDeviceOperation("dev1", time.Microsecond, 10, 20)
	snap, _ := a.DeviceSnapshotFor("dev1")
	if snap.MessagesSent != 1 || snap.MessagesReceived != 1 {
		t.Fatalf("expected both counters at 1, got sent=%d recv=%d", snap.MessagesSent, snap.MessagesReceived)
	}
	if snap.BytesSent != 10 || snap.BytesReceived != 20 {
		t.Fatalf("unexpected byte counts: %+v", snap)
	}
}

func TestCheckTTLLatencyCompliance(t *testing.T) {
	a := New()
	for i := 0; i < 100; i++ {
		a.RecordDeviceOperation("ttl0", 200*time.Microsecond, 1, 1)
	}
	if !a.CheckTTLLatencyCompliance("ttl0") {
		t.Fatalf("expected compliance for sub-millisecond latencies")
	}

	a.RecordDeviceOperation("slow0", 50*time.Millisecond, 1, 1)
	if a.CheckTTLLatencyCompliance("slow0") {
		t.Fatalf("expected non-compliance for a 50ms latency")
	}
}

func TestCheckTTLLatencyComplianceUnknownDevice(t *testing.T) {
	a := New()
	if a.CheckTTLLatencyCompliance("nope") {
		t.Fatalf("expected compliance false for unknown device")
	}
}

func TestRecordWSConnectionSaturatesAtZero(t *testing.T) {
	a := New()
	a.RecordWSConnection(false)
	a.RecordWSConnection(false)
	snap := a.GlobalSnapshot()
	if snap.ActiveWSConnections != 0 {
		t.Fatalf("expected active connections to saturate at 0, got %d", snap.ActiveWSConnections)
	}

	a.RecordWSConnection(true)
	a.RecordWSConnection(false)
	a.RecordWSConnection(false)
	snap = a.GlobalSnapshot()
	if snap.ActiveWSConnections != 0 {
		t.Fatalf("expected active connections to saturate at 0 again, got %d", snap.ActiveWSConnections)
	}
	if snap.TotalWSConnections != 1 {
		t.Fatalf("expected total connections to remain 1, got %d", snap.TotalWSConnections)
	}
}

func TestRecordDeviceErrorIncrementsGlobalAndLocal(t *testing.T) {
	a := New()
	a.RecordDeviceError("dev1")
	a.RecordDeviceError("dev1")
	snap, _ := a.DeviceSnapshotFor("dev1")
	if snap.Errors != 2 {
		t.Fatalf("expected 2 device errors, got %d", snap.Errors)
	}
	if a.GlobalSnapshot().GlobalErrors != 2 {
		t.Fatalf("expected 2 global errors, got %d", a.GlobalSnapshot().GlobalErrors)
	}
}
