package wsrouter

import (
	"context"
	"testing"

	"github.com/hyperstudy/bridge/internal/bridgestate"
	"github.com/hyperstudy/bridge/internal/config"
	"github.com/hyperstudy/bridge/internal/perf"
)

func TestConnectConfiguredRegistersKnownDevices(t *testing.T) {
	state := bridgestate.New(perf.New())
	devices := map[string]config.DeviceConfig{
		"mock0": {Kind: "mock", Address: "n/a"},
	}

	errs := ConnectConfigured(context.Background(), state, devices)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if _, ok := state.GetDevice("mock0"); !ok {
		t.Fatalf("expected mock0 to be registered")
	}
}

func TestConnectConfiguredReportsUnknownKind(t *testing.T) {
	state := bridgestate.New(perf.New())
	devices := map[string]config.DeviceConfig{
		"weird0": {Kind: "not-a-real-kind", Address: "n/a"},
	}

	errs := ConnectConfigured(context.Background(), state, devices)
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	if _, ok := state.GetDevice("weird0"); ok {
		t.Fatalf("device should not be registered")
	}
}

func TestConnectConfiguredContinuesPastFailures(t *testing.T) {
	state := bridgestate.New(perf.New())
	devices := map[string]config.DeviceConfig{
		"weird0": {Kind: "not-a-real-kind"},
		"mock0":  {Kind: "mock"},
	}

	errs := ConnectConfigured(context.Background(), state, devices)
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error, got %v", errs)
	}
	if _, ok := state.GetDevice("mock0"); !ok {
		t.Fatalf("expected mock0 to still be registered despite the other device's failure")
	}
}
