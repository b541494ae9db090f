package clock

import "testing"

func TestNeedsSyncBeforeFirstExchange(t *testing.T) {
	s := New()
	if !s.NeedsSync() {
		t.Fatalf("expected NeedsSync true before any time exchange")
	}
}

func TestTimeCorrectionSatisfiesSync(t *testing.T) {
	s := New()
	if _, ok := s.TimeCorrection(s.NowLSL()); !ok {
		t.Fatalf("expected TimeCorrection to succeed")
	}
	if s.NeedsSync() {
		t.Fatalf("expected NeedsSync false immediately after a time exchange")
	}
}

func TestCheckDriftFlagsLargeOffset(t *testing.T) {
	s := New()
	s.SetDriftThreshold(0.001)
	s.TimeCorrection(s.NowLSL() + 5)
	if !s.CheckDrift() {
		t.Fatalf("expected CheckDrift true for a 5s offset against a 1ms threshold")
	}
}

func TestCheckDriftFalseWithoutSync(t *testing.T) {
	s := New()
	if s.CheckDrift() {
		t.Fatalf("expected CheckDrift false before any sync has occurred")
	}
}
