package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"tdlsctl/internal/engine"
)

const (
	DefaultRSSIConnectThreshold     = -60
	DefaultDataConnectThresholdBps  = 50000
	DefaultFastConnectPeriodMs      = 1000
	DefaultSlowConnectPeriodMs      = 30000
	DefaultDataTeardownThresholdBps = 25000
	DefaultDataTeardownPeriodMs     = 10000
	DefaultRSSITeardownThreshold    = -75
	DefaultRSSITeardownPeriodMs     = 5000
	DefaultRSSITeardownCount        = 3
	DefaultMaxConnectedPeers        = 1
	DefaultLogLevel                 = "info"
)

// Config holds the tdlsctl settings.
type Config struct {
	Enabled     *bool      `yaml:"enabled,omitempty"`
	LogLevel    string     `yaml:"log_level,omitempty"`
	MetricsPath string     `yaml:"metrics_path,omitempty"`
	Auto        AutoConfig `yaml:"auto"`
}

// AutoConfig is the auto-mode decision engine tuning. Periods are in
// milliseconds, thresholds in bps and dBm.
type AutoConfig struct {
	RSSIConnectThreshold     int    `yaml:"rssi_connect_threshold"`
	DataConnectThresholdBps  uint64 `yaml:"data_connect_threshold_bps"`
	FastConnectPeriodMs      int    `yaml:"fast_connect_period_ms"`
	SlowConnectPeriodMs      int    `yaml:"slow_connect_period_ms"`
	DataTeardownThresholdBps uint64 `yaml:"data_teardown_threshold_bps"`
	DataTeardownPeriodMs     int    `yaml:"data_teardown_period_ms"`
	RSSITeardownThreshold    int    `yaml:"rssi_teardown_threshold"`
	RSSITeardownPeriodMs     int    `yaml:"rssi_teardown_period_ms"`
	RSSITeardownCount        int    `yaml:"rssi_teardown_count"`
	MaxConnectedPeers        int    `yaml:"max_connected_peers"`
}

// IsEnabled reports whether auto-mode is switched on (default true).
func (c Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// EngineConfig converts the YAML tuning into the engine's configuration.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		RSSIConnectThreshold:     c.Auto.RSSIConnectThreshold,
		DataConnectThresholdBps:  c.Auto.DataConnectThresholdBps,
		FastConnectPeriod:        time.Duration(c.Auto.FastConnectPeriodMs) * time.Millisecond,
		SlowConnectPeriod:        time.Duration(c.Auto.SlowConnectPeriodMs) * time.Millisecond,
		DataTeardownThresholdBps: c.Auto.DataTeardownThresholdBps,
		DataTeardownPeriod:       time.Duration(c.Auto.DataTeardownPeriodMs) * time.Millisecond,
		RSSITeardownThreshold:    c.Auto.RSSITeardownThreshold,
		RSSITeardownPeriod:       time.Duration(c.Auto.RSSITeardownPeriodMs) * time.Millisecond,
		RSSITeardownCount:        c.Auto.RSSITeardownCount,
		MaxConnectedPeers:        c.Auto.MaxConnectedPeers,
	}
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// ApplyDefaults fills unset fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	a := &cfg.Auto
	if a.RSSIConnectThreshold == 0 {
		a.RSSIConnectThreshold = DefaultRSSIConnectThreshold
	}
	if a.DataConnectThresholdBps == 0 {
		a.DataConnectThresholdBps = DefaultDataConnectThresholdBps
	}
	if a.FastConnectPeriodMs == 0 {
		a.FastConnectPeriodMs = DefaultFastConnectPeriodMs
	}
	if a.SlowConnectPeriodMs == 0 {
		a.SlowConnectPeriodMs = DefaultSlowConnectPeriodMs
	}
	if a.DataTeardownThresholdBps == 0 {
		a.DataTeardownThresholdBps = DefaultDataTeardownThresholdBps
	}
	if a.DataTeardownPeriodMs == 0 {
		a.DataTeardownPeriodMs = DefaultDataTeardownPeriodMs
	}
	if a.RSSITeardownThreshold == 0 {
		a.RSSITeardownThreshold = DefaultRSSITeardownThreshold
	}
	if a.RSSITeardownPeriodMs == 0 {
		a.RSSITeardownPeriodMs = DefaultRSSITeardownPeriodMs
	}
	if a.RSSITeardownCount == 0 {
		a.RSSITeardownCount = DefaultRSSITeardownCount
	}
	if a.MaxConnectedPeers == 0 {
		a.MaxConnectedPeers = DefaultMaxConnectedPeers
	}
}

// Validate checks the timing relationships the engine depends on.
func Validate(cfg Config) error {
	a := cfg.Auto
	if a.FastConnectPeriodMs <= 0 || a.SlowConnectPeriodMs <= 0 {
		return fmt.Errorf("connect periods must be positive")
	}
	if a.FastConnectPeriodMs >= a.SlowConnectPeriodMs {
		return fmt.Errorf("fast_connect_period_ms (%d) must be below slow_connect_period_ms (%d)",
			a.FastConnectPeriodMs, a.SlowConnectPeriodMs)
	}
	if a.DataTeardownPeriodMs <= 0 || a.RSSITeardownPeriodMs <= 0 {
		return fmt.Errorf("teardown periods must be positive")
	}
	if a.RSSITeardownCount < 0 {
		return fmt.Errorf("rssi_teardown_count must not be negative")
	}
	if a.MaxConnectedPeers <= 0 {
		return fmt.Errorf("max_connected_peers must be positive")
	}
	return nil
}
