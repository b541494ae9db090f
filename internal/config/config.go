// Package config loads and saves the bridge's TOML configuration file,
// following the teacher's embedded-template pattern.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed bridge.toml.sample
var configTemplate string

// DefaultWebSocketPort is used when neither a CLI flag nor the config file
// specifies one.
const DefaultWebSocketPort = 9000

// Config is the bridge's top-level configuration.
type Config struct {
	DataDir             string                  `toml:"data_dir"`
	WebSocketPort       int                     `toml:"websocket_port"`
	LogBatchSize        int                     `toml:"log_batch_size"`
	LogFlushInterval    Duration                `toml:"log_flush_interval"`
	SampleBatchSize     int                     `toml:"sample_batch_size"`
	SampleFlushInterval Duration                `toml:"sample_flush_interval"`
	Devices             map[string]DeviceConfig `toml:"devices"`
	PythonBridge        PythonBridgeConfig      `toml:"python_bridge"`
	LSL                 LSLConfig               `toml:"lsl"`
}

// DeviceConfig is a pre-provisioned device entry read from the config
// file; drivers apply their own defaults for anything left zero-valued.
type DeviceConfig struct {
	Kind             string `toml:"kind"`
	Address          string `toml:"address"`
	AutoReconnect    *bool  `toml:"auto_reconnect,omitempty"`
	ReconnectMs      *int   `toml:"reconnect_interval_ms,omitempty"`
	TimeoutMs        *int   `toml:"timeout_ms,omitempty"`
}

// PythonBridgeConfig configures the optional Python companion process
// that bridges FRENZ/Neon devices onto the LSL network.
type PythonBridgeConfig struct {
	Enabled    bool   `toml:"enabled"`
	Command    string `toml:"command"`
	DeviceID   string `toml:"device_id"`
	ProductKey string `toml:"product_key"`
}

// LSLConfig tunes the LSL subsystem's continuous stream discovery.
type LSLConfig struct {
	PollInterval Duration `toml:"poll_interval"`
	StaleAfter   Duration `toml:"stale_after"`
}

// Duration wraps time.Duration for human-readable TOML values like "5s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// GetDefaultConfig returns the bridge's built-in configuration.
func GetDefaultConfig() *Config {
	return &Config{
		DataDir:             GetDefaultDataDir(),
		WebSocketPort:       DefaultWebSocketPort,
		LogBatchSize:        100,
		LogFlushInterval:    Duration{5 * time.Second},
		SampleBatchSize:     500,
		SampleFlushInterval: Duration{10 * time.Second},
		Devices:             make(map[string]DeviceConfig),
		PythonBridge:        PythonBridgeConfig{Enabled: false},
		LSL:                 LSLConfig{PollInterval: Duration{5 * time.Second}, StaleAfter: Duration{30 * time.Second}},
	}
}

// LoadConfig reads configPath, falling back to GetDefaultConfig when the
// file doesn't exist.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return GetDefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = GetDefaultDataDir()
	}
	if cfg.WebSocketPort == 0 {
		cfg.WebSocketPort = DefaultWebSocketPort
	}
	if cfg.LogBatchSize == 0 {
		cfg.LogBatchSize = 100
	}
	if cfg.LogFlushInterval.Duration == 0 {
		cfg.LogFlushInterval = Duration{5 * time.Second}
	}
	if cfg.SampleBatchSize == 0 {
		cfg.SampleBatchSize = 500
	}
	if cfg.SampleFlushInterval.Duration == 0 {
		cfg.SampleFlushInterval = Duration{10 * time.Second}
	}
	if cfg.Devices == nil {
		cfg.Devices = make(map[string]DeviceConfig)
	}
	if cfg.LSL.PollInterval.Duration == 0 {
		cfg.LSL.PollInterval = Duration{5 * time.Second}
	}
	if cfg.LSL.StaleAfter.Duration == 0 {
		cfg.LSL.StaleAfter = Duration{30 * time.Second}
	}

	return &cfg, nil
}

// SaveConfig marshals c to TOML and writes it to configPath.
func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// SaveTemplateConfig writes the annotated sample template, substituting
// the actual data directory, for `bridge init`-style first-run setup.
func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return os.WriteFile(configPath, []byte(c.generateConfigTemplate()), 0644)
}

func (c *Config) generateConfigTemplate() string {
	dataDir := c.DataDir
	if dataDir == "" {
		dataDir = GetDefaultDataDir()
	}
	return strings.Replace(configTemplate, "/home/user/.local/share/hyperstudy-bridge", dataDir, 1)
}

// GetDefaultDataDir returns the default directory for the bridge's SQLite
// database, honoring XDG_DATA_HOME.
func GetDefaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "./data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	bridgeDir := filepath.Join(dataDir, "hyperstudy-bridge")
	if err := os.MkdirAll(bridgeDir, 0755); err != nil {
		return "./data"
	}
	return bridgeDir
}

// GetDefaultDBPath returns the default database file path.
func GetDefaultDBPath() string {
	return filepath.Join(GetDefaultDataDir(), "bridge.db")
}

// GetConfigDir returns the bridge's configuration directory, honoring
// XDG_CONFIG_HOME.
func GetConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	bridgeConfigDir := filepath.Join(configDir, "hyperstudy-bridge")
	if err := os.MkdirAll(bridgeConfigDir, 0755); err != nil {
		return "."
	}
	return bridgeConfigDir
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.toml")
}
