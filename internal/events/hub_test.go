package events

import "testing"

func TestRegisterBroadcastUnregister(t *testing.T) {
	h := NewHub(4)
	id, ch := h.Register()
	if h.Size() != 1 {
		t.Fatalf("expected 1 listener, got %d", h.Size())
	}

	h.Broadcast(Event{Kind: KindDeviceStatus, Data: DeviceStatusEvent{DeviceID: "ttl-0", Status: "connected"}})
	select {
	case e := <-ch:
		se := e.Data.(DeviceStatusEvent)
		if se.DeviceID != "ttl-0" {
			t.Fatalf("unexpected event: %+v", se)
		}
	default:
		t.Fatalf("expected buffered event to be available")
	}

	h.Unregister(id)
	if h.Size() != 0 {
		t.Fatalf("expected 0 listeners after unregister, got %d", h.Size())
	}
}

func TestBroadcastDropsForFullListener(t *testing.T) {
	h := NewHub(1)
	_, ch := h.Register()

	h.Broadcast(Event{Kind: KindDeviceStatus})
	h.Broadcast(Event{Kind: KindDeviceStatus}) // channel full, should drop silently

	if len(ch) != 1 {
		t.Fatalf("expected exactly 1 buffered event, got %d", len(ch))
	}
}
