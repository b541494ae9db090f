// Package pybridge supervises the optional Python companion process that
// ingests BLE-only instruments and republishes them as LSL streams. See
// spec §4.11.
package pybridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hyperstudy/bridge/internal/events"
	"github.com/hyperstudy/bridge/internal/ids"
	"github.com/hyperstudy/bridge/internal/logging"
)

// firstRunTimeout is how long the reader waits for the child's first
// status line before assuming a first-run package install is under way.
const firstRunTimeout = 5 * time.Second

// shutdownTimeout bounds how long Stop waits for a graceful exit before
// killing the child.
const shutdownTimeout = 5 * time.Second

// readerDrainTimeout bounds how long Stop waits for the reader goroutine
// to notice the process exited.
const readerDrainTimeout = 2 * time.Second

// State is the supervisor's view of the child process's lifecycle.
type State string

const (
	StateNotAvailable  State = "not_available"
	StateStopped       State = "stopped"
	StateBootstrapping State = "bootstrapping"
	StateConnecting    State = "connecting"
	StateStreaming     State = "streaming"
	StateError         State = "error"
)

// BridgeStatus is the supervisor's current snapshot, built from the
// child's status stream.
type BridgeStatus struct {
	State       State
	Message     string
	Phase       string
	Streams     []string
	SampleCount uint64
}

// statusLine is the JSON shape the child emits on stdout, one per line.
type statusLine struct {
	Status      string   `json:"status"`
	Message     *string  `json:"message,omitempty"`
	Phase       *string  `json:"phase,omitempty"`
	Package     *string  `json:"package,omitempty"`
	Progress    *int     `json:"progress,omitempty"`
	Streams     []string `json:"streams,omitempty"`
	SampleCount *uint64  `json:"sample_count,omitempty"`
	DeviceID    *string  `json:"device_id,omitempty"`
}

// credentials is the single JSON line the supervisor writes to the
// child's stdin at handshake time.
type credentials struct {
	DeviceID   string `json:"device_id"`
	ProductKey string `json:"product_key"`
}

// Supervisor owns one Python bridge child process at a time.
type Supervisor struct {
	binaryName  string
	resourceDir string
	hub         *events.Hub

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	status     BridgeStatus
	deviceID   string
	readerDone chan struct{}

	shutdown atomic.Bool

	log *logrus.Entry
}

// New constructs a Supervisor for the named binary, searched first in
// resourceDir then alongside the running executable.
func New(binaryName, resourceDir string, hub *events.Hub) *Supervisor {
	return &Supervisor{
		binaryName:  binaryName,
		resourceDir: resourceDir,
		hub:         hub,
		status:      BridgeStatus{State: StateStopped},
		log:         logging.ForService("pybridge"),
	}
}

// FindBinary locates the child binary, rejecting unsupported platforms.
// frenztoolkit (the reference BLE-to-LSL bridge) only ships for macOS and
// Windows.
func FindBinary(resourceDir, binaryName string) (string, error) {
	if runtime.GOOS != "darwin" && runtime.GOOS != "windows" {
		return "", ids.New(ids.KindConfigurationErr, "python bridge not available on %s", runtime.GOOS)
	}

	name := binaryName
	if runtime.GOOS == "windows" && !strings.HasSuffix(name, ".exe") {
		name += ".exe"
	}

	if resourceDir != "" {
		if p := filepath.Join(resourceDir, name); fileExists(p) {
			return p, nil
		}
	}
	if exe, err := os.Executable(); err == nil {
		if p := filepath.Join(filepath.Dir(exe), "resources", name); fileExists(p) {
			return p, nil
		}
	}
	return "", ids.New(ids.KindConfigurationErr, "python bridge binary %q not found", name)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CheckAvailable reports whether the child binary can be located on this
// platform.
func CheckAvailable(resourceDir, binaryName string) bool {
	_, err := FindBinary(resourceDir, binaryName)
	return err == nil
}

// Start locates and spawns the child, performs the JSON handshake over
// its stdin, and begins tailing its status stream.
func (s *Supervisor) Start(deviceID, productKey string) error {
	path, err := FindBinary(s.resourceDir, s.binaryName)
	if err != nil {
		return err
	}
	return s.spawn(path, deviceID, productKey)
}

// spawn does the actual process launch, separated from Start so tests can
// point it at a stand-in script without satisfying FindBinary's platform
// check.
func (s *Supervisor) spawn(path, deviceID, productKey string) error {
	s.mu.Lock()
	if s.cmd != nil {
		s.mu.Unlock()
		return ids.New(ids.KindConfigurationErr, "python bridge is already running")
	}
	s.mu.Unlock()

	cmd := exec.Command(path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return ids.Wrap(ids.KindConnectionFailed, err, "failed to open python bridge stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ids.Wrap(ids.KindConnectionFailed, err, "failed to open python bridge stdout")
	}

	if err := cmd.Start(); err != nil {
		return ids.Wrap(ids.KindConnectionFailed, err, "failed to spawn python bridge")
	}

	cred, err := json.Marshal(credentials{DeviceID: deviceID, ProductKey: productKey})
	if err != nil {
		return ids.Wrap(ids.KindSerialization, err, "failed to encode handshake credentials")
	}
	if _, err := stdin.Write(append(cred, '\n')); err != nil {
		return ids.Wrap(ids.KindConnectionFailed, err, "failed to write handshake credentials")
	}

	done := make(chan struct{})

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.deviceID = deviceID
	s.readerDone = done
	s.mu.Unlock()

	s.shutdown.Store(false)
	s.setStatus(BridgeStatus{State: StateBootstrapping, Message: "starting python bridge..."})

	go s.readLoop(stdout, done)
	return nil
}

// readLoop tails the child's stdout, translating each status line into a
// BridgeStatus update, and watches for the first-run install silence.
func (s *Supervisor) readLoop(stdout io.Reader, done chan struct{}) {
	defer close(done)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	select {
	case line, ok := <-lines:
		if !ok {
			s.handleProcessExit()
			return
		}
		s.handleStatusLine(line)
	case <-time.After(firstRunTimeout):
		s.log.Info("no output from python bridge yet, assuming first-run install")
		s.setStatus(BridgeStatus{
			State:   StateBootstrapping,
			Phase:   "installing",
			Message: "first-run setup, installing python packages (this may take several minutes)...",
		})
	}

	for {
		if s.shutdown.Load() {
			return
		}
		line, ok := <-lines
		if !ok {
			s.handleProcessExit()
			return
		}
		s.handleStatusLine(line)
	}
}

func (s *Supervisor) handleProcessExit() {
	s.mu.Lock()
	st := s.status
	if st.State != StateStopped && st.State != StateError {
		st.State = StateStopped
		st.Message = "process exited"
	}
	s.status = st
	s.cmd = nil
	s.stdin = nil
	s.mu.Unlock()

	s.broadcast(st)
}

func (s *Supervisor) handleStatusLine(line string) {
	var parsed statusLine
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		s.log.WithField("line", line).Debug("non-JSON line from python bridge")
		return
	}

	s.mu.Lock()
	st := s.status
	switch parsed.Status {
	case "waiting_for_config":
		st.State = StateBootstrapping
		st.Message = "waiting for configuration"
	case "bootstrapping":
		st.State = StateBootstrapping
		if parsed.Phase != nil {
			st.Phase = *parsed.Phase
		}
		switch {
		case parsed.Package != nil:
			st.Message = fmt.Sprintf("installing %s...", *parsed.Package)
		case parsed.Phase != nil:
			st.Message = fmt.Sprintf("%s...", *parsed.Phase)
		}
	case "connecting":
		st.State = StateConnecting
		if parsed.Phase != nil {
			st.Phase = *parsed.Phase
		}
		if parsed.DeviceID != nil {
			st.Message = fmt.Sprintf("connecting to %s...", *parsed.DeviceID)
		}
	case "streaming":
		st.State = StateStreaming
		st.Message = ""
		if parsed.Streams != nil {
			st.Streams = parsed.Streams
		}
		if parsed.SampleCount != nil {
			st.SampleCount = *parsed.SampleCount
		}
	case "error":
		st.State = StateError
		if parsed.Message != nil {
			st.Message = *parsed.Message
		}
	case "stopped":
		st.State = StateStopped
		st.Message = ""
		st.Streams = nil
	default:
		s.mu.Unlock()
		s.log.WithField("status", parsed.Status).Debug("unknown status from python bridge")
		return
	}
	s.status = st
	s.mu.Unlock()

	s.broadcast(st)
}

func (s *Supervisor) setStatus(st BridgeStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	s.broadcast(st)
}

func (s *Supervisor) broadcast(st BridgeStatus) {
	if s.hub == nil {
		return
	}
	s.mu.Lock()
	deviceID := s.deviceID
	s.mu.Unlock()

	s.hub.Broadcast(events.Event{
		Kind: events.KindDeviceEvent,
		Data: events.DeviceDataEvent{
			DeviceID:  deviceID,
			EventKind: "python_bridge_status",
			Data: map[string]any{
				"state":        string(st.State),
				"message":      st.Message,
				"phase":        st.Phase,
				"streams":      st.Streams,
				"sample_count": st.SampleCount,
			},
		},
	})
}

// Status returns a snapshot of the supervisor's current status.
func (s *Supervisor) Status() BridgeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Stop requests a graceful shutdown: "stop\n" on stdin, up to
// shutdownTimeout to exit, SIGKILL past that.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	stdin := s.stdin
	done := s.readerDone
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}

	s.shutdown.Store(true)
	if stdin != nil {
		_, _ = stdin.Write([]byte("stop\n"))
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case <-waitErr:
	case <-time.After(shutdownTimeout):
		s.log.Warn("python bridge did not exit gracefully, killing")
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-waitErr
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-waitErr
	}

	if done != nil {
		select {
		case <-done:
		case <-time.After(readerDrainTimeout):
		}
	}

	s.mu.Lock()
	s.cmd = nil
	s.stdin = nil
	s.mu.Unlock()

	s.setStatus(BridgeStatus{State: StateStopped})
	return nil
}
