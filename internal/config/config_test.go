package config

import (
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileReturnsDefault(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.WebSocketPort != DefaultWebSocketPort {
		t.Fatalf("expected default port %d, got %d", DefaultWebSocketPort, cfg.WebSocketPort)
	}
	if cfg.LSL.PollInterval.Duration == 0 || cfg.LSL.StaleAfter.Duration == 0 {
		t.Fatalf("expected non-zero LSL discovery defaults, got %+v", cfg.LSL)
	}
}

func TestSaveThenLoadConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := GetDefaultConfig()
	cfg.WebSocketPort = 9100
	cfg.Devices["ttl0"] = DeviceConfig{Kind: "ttl", Address: "/dev/ttyACM0"}

	if err := cfg.SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.WebSocketPort != 9100 {
		t.Fatalf("expected port 9100, got %d", loaded.WebSocketPort)
	}
	if loaded.Devices["ttl0"].Address != "/dev/ttyACM0" {
		t.Fatalf("expected device config to round-trip, got %+v", loaded.Devices["ttl0"])
	}
}

func TestResolveWebSocketPortPrecedence(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.WebSocketPort = 9200

	if got := ResolveWebSocketPort(9300, cfg); got != 9300 {
		t.Fatalf("expected CLI flag to win, got %d", got)
	}
	if got := ResolveWebSocketPort(0, cfg); got != 9200 {
		t.Fatalf("expected config value when no flag given, got %d", got)
	}
	if got := ResolveWebSocketPort(0, nil); got != DefaultWebSocketPort {
		t.Fatalf("expected built-in default with no flag or config, got %d", got)
	}
}
