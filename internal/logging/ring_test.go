package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
)

type fakeSink struct {
	entries []Entry
}

func (f *fakeSink) EnqueueLog(e Entry) {
	f.entries = append(f.entries, e)
}

func TestRingHookCapturesAndHandsOff(t *testing.T) {
	sink := &fakeSink{}
	hook := NewRingHook(sink)

	entry := &logrus.Entry{
		Logger:  logrus.New(),
		Message: "device connected",
		Level:   logrus.InfoLevel,
		Data:    logrus.Fields{"service": "bridgestate", "device": "ttl-0"},
	}
	if err := hook.Fire(entry); err != nil {
		t.Fatalf("Fire returned error: %v", err)
	}

	snap := hook.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 ring entry, got %d", len(snap))
	}
	if snap[0].Device != "ttl-0" || snap[0].Source != "bridgestate" {
		t.Fatalf("unexpected entry: %+v", snap[0])
	}
	if len(sink.entries) != 1 {
		t.Fatalf("expected sink to receive 1 entry, got %d", len(sink.entries))
	}
}

func TestRingHookEvictsOldestAtCapacity(t *testing.T) {
	hook := NewRingHook(nil)
	hook.cap = 3
	hook.buf = make([]Entry, 3)

	for i := 0; i < 5; i++ {
		hook.Fire(&logrus.Entry{
			Logger:  logrus.New(),
			Message: string(rune('a' + i)),
			Level:   logrus.InfoLevel,
			Data:    logrus.Fields{},
		})
	}

	snap := hook.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(snap))
	}
	if snap[0].Message != "c" || snap[2].Message != "e" {
		t.Fatalf("expected oldest-evicted ordering [c,d,e], got %v", messagesOf(snap))
	}
}

func messagesOf(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}
