package pybridge

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/hyperstudy/bridge/internal/events"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func waitForState(t *testing.T, s *Supervisor, want State, timeout time.Duration) BridgeStatus {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last BridgeStatus
	for time.Now().Before(deadline) {
		last = s.Status()
		if last.State == want {
			return last
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, last status: %+v", want, last)
	return last
}

const streamingScript = `#!/bin/sh
read handshake
echo '{"status":"connecting","device_id":"dev1"}'
echo '{"status":"streaming","streams":["EEG"],"sample_count":5}'
while read line; do
  if [ "$line" = "stop" ]; then
    exit 0
  fi
done
`

func TestSpawnHandshakeAndStatusStream(t *testing.T) {
	path := writeScript(t, streamingScript)
	hub := events.NewHub(8)
	s := New("bridge", "", hub)

	if err := s.spawn(path, "dev1", "key123"); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	waitForState(t, s, StateStreaming, 2*time.Second)
	st := s.Status()
	if len(st.Streams) != 1 || st.Streams[0] != "EEG" || st.SampleCount != 5 {
		t.Fatalf("unexpected streaming status: %+v", st)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Status().State != StateStopped {
		t.Fatalf("expected stopped state after Stop, got %+v", s.Status())
	}
}

const exitImmediatelyScript = `#!/bin/sh
read handshake
exit 0
`

func TestProcessExitWithoutErrorMarksStopped(t *testing.T) {
	path := writeScript(t, exitImmediatelyScript)
	s := New("bridge", "", events.NewHub(8))

	if err := s.spawn(path, "dev1", "key123"); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	waitForState(t, s, StateStopped, 2*time.Second)
}

const errorScript = `#!/bin/sh
read handshake
echo '{"status":"error","message":"ble adapter not found"}'
while read line; do
  if [ "$line" = "stop" ]; then
    exit 1
  fi
done
`

func TestErrorStatusLineSetsErrorState(t *testing.T) {
	path := writeScript(t, errorScript)
	s := New("bridge", "", events.NewHub(8))

	if err := s.spawn(path, "dev1", "key123"); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	st := waitForState(t, s, StateError, 2*time.Second)
	if st.Message != "ble adapter not found" {
		t.Fatalf("unexpected error message: %+v", st)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSpawnRejectsDoubleStart(t *testing.T) {
	path := writeScript(t, streamingScript)
	s := New("bridge", "", events.NewHub(8))

	if err := s.spawn(path, "dev1", "key123"); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer s.Stop(context.Background())

	if err := s.spawn(path, "dev1", "key123"); err == nil {
		t.Fatalf("expected second spawn to be rejected while already running")
	}
}

func TestHandleStatusLineIgnoresNonJSON(t *testing.T) {
	s := New("bridge", "", events.NewHub(8))
	before := s.Status()
	s.handleStatusLine("not json at all")
	after := s.Status()
	if after.State != before.State || after.Message != before.Message {
		t.Fatalf("expected non-JSON line to be ignored, before=%+v after=%+v", before, after)
	}
}

func TestHandleStatusLineIgnoresUnknownStatus(t *testing.T) {
	s := New("bridge", "", events.NewHub(8))
	before := s.Status()
	s.handleStatusLine(`{"status":"something_else"}`)
	after := s.Status()
	if after.State != before.State || after.Message != before.Message {
		t.Fatalf("expected unknown status to be ignored, before=%+v after=%+v", before, after)
	}
}

func TestFindBinaryRejectsUnsupportedPlatform(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		t.Skip("platform check only rejects on other OSes")
	}
	if _, err := FindBinary("", "bridge"); err == nil {
		t.Fatalf("expected FindBinary to reject unsupported platform %s", runtime.GOOS)
	}
}

func TestCheckAvailableFalseWhenBinaryMissing(t *testing.T) {
	if runtime.GOOS != "darwin" && runtime.GOOS != "windows" {
		t.Skip("only meaningful on supported platforms")
	}
	if CheckAvailable(t.TempDir(), "no-such-binary") {
		t.Fatalf("expected CheckAvailable to be false for a missing binary")
	}
}
