// Package config provides configuration management for TravelNet.
// It handles loading and validating the router's orchestrator settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/travelnet/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file, by default /etc/travelnet/config.yaml.
type Config struct {
	// DataDir holds tunnel configs, LastUsed pointers, credentials and history.
	DataDir string `yaml:"data_dir"`
	// AutoReconnect reconnects to the last used network and tunnel when the daemon starts.
	AutoReconnect bool `yaml:"auto_reconnect"`

	Wireless    WirelessConfig    `yaml:"wireless"`
	Tunnel      TunnelConfig      `yaml:"tunnel"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Tools       ToolsConfig       `yaml:"tools"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Log         LogConfig         `yaml:"log"`
}

// WirelessConfig configures the client radio.
type WirelessConfig struct {
	// Interface is the client radio used for upstream connections.
	Interface string `yaml:"interface"`
	// APInterface is the radio serving the router's own hotspot.
	APInterface string `yaml:"ap_interface"`
	// HotspotSSID is the router's own network, hidden from scan results.
	HotspotSSID string `yaml:"hotspot_ssid"`
	// ConnectAttempts is how many times a new association is polled for an IP address.
	ConnectAttempts int `yaml:"connect_attempts"`
	// ConnectInterval is the delay between association polls.
	ConnectInterval time.Duration `yaml:"connect_interval"`
	// Rescan forces a fresh radio scan instead of returning cached results.
	Rescan bool `yaml:"rescan"`
}

// TunnelConfig configures the WireGuard tunnel.
type TunnelConfig struct {
	// Interface is the WireGuard interface name.
	Interface string `yaml:"interface"`
	// ConfigDir is where wg-quick expects <interface>.conf.
	ConfigDir string `yaml:"config_dir"`
	// HandshakeWindow bounds the wait for the first handshake after bring-up.
	HandshakeWindow time.Duration `yaml:"handshake_window"`
	// PollInterval is the delay between status polls during bring-up.
	PollInterval time.Duration `yaml:"poll_interval"`
	// StaleFactor multiplies the keepalive into the stale-handshake threshold.
	StaleFactor int `yaml:"stale_factor"`
}

// ReconcileConfig configures the state reconciler.
type ReconcileConfig struct {
	// Interval between live-state polls.
	Interval time.Duration `yaml:"interval"`
	// DegradedThreshold is how many degraded polls mark the tunnel unhealthy.
	DegradedThreshold int `yaml:"degraded_threshold"`
}

// ToolsConfig names the external binaries. Only these are ever executed.
type ToolsConfig struct {
	NMCLI   string `yaml:"nmcli"`
	WG      string `yaml:"wg"`
	WGQuick string `yaml:"wg_quick"`
	// Sudo, when set, prefixes privileged tunnel commands with "<sudo> -n".
	Sudo string `yaml:"sudo"`
	// CommandTimeout bounds every action command.
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// StatusTimeout bounds status queries.
	StatusTimeout time.Duration `yaml:"status_timeout"`
}

// CredentialsConfig selects where WiFi passwords are kept.
type CredentialsConfig struct {
	// Backend is "auto", "system" or "file".
	Backend string `yaml:"backend"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       bool   `yaml:"file"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultConfig returns the default configuration.
// These match the stock travel router image.
func DefaultConfig() *Config {
	return &Config{
		DataDir:       common.DefaultDataDir,
		AutoReconnect: false,
		Wireless: WirelessConfig{
			Interface:       common.DefaultWifiInterface,
			APInterface:     common.DefaultAPInterface,
			HotspotSSID:     common.DefaultHotspotSSID,
			ConnectAttempts: common.ConnectAttempts,
			ConnectInterval: common.ConnectPollInterval,
			Rescan:          true,
		},
		Tunnel: TunnelConfig{
			Interface:       common.DefaultTunnelInterface,
			ConfigDir:       common.DefaultWireGuardDir,
			HandshakeWindow: common.HandshakeWindow,
			PollInterval:    common.TunnelPollInterval,
			StaleFactor:     common.StaleFactor,
		},
		Reconcile: ReconcileConfig{
			Interval:          common.ReconcileInterval,
			DegradedThreshold: common.DegradedThreshold,
		},
		Tools: ToolsConfig{
			NMCLI:          "nmcli",
			WG:             "wg",
			WGQuick:        "wg-quick",
			CommandTimeout: common.CommandTimeout,
			StatusTimeout:  common.StatusTimeout,
		},
		Credentials: CredentialsConfig{
			Backend: "auto",
		},
		Log: LogConfig{
			Level:      "info",
			File:       false,
			Dir:        common.DefaultLogDir,
			MaxSizeMB:  5,
			MaxBackups: 5,
		},
	}
}

// Load loads the configuration from path.
// A missing file yields the defaults; it is not created.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: opening %s: %v", common.ErrConfigLoad, path, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", common.ErrConfigLoad, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate verifies that configuration values are usable. Zero numeric
// values fall back to defaults; malformed names are errors since they
// end up in command argument vectors.
func (c *Config) Validate() error {
	def := DefaultConfig()

	if err := common.ValidateInterfaceName(c.Wireless.Interface); err != nil {
		return fmt.Errorf("wireless.interface: %w", err)
	}
	if c.Wireless.APInterface != "" {
		if err := common.ValidateInterfaceName(c.Wireless.APInterface); err != nil {
			return fmt.Errorf("wireless.ap_interface: %w", err)
		}
	}
	if err := common.ValidateInterfaceName(c.Tunnel.Interface); err != nil {
		return fmt.Errorf("tunnel.interface: %w", err)
	}
	if c.Wireless.Interface == c.Wireless.APInterface {
		return fmt.Errorf("wireless.interface and wireless.ap_interface must differ")
	}

	if c.DataDir == "" || !filepath.IsAbs(c.DataDir) {
		return fmt.Errorf("data_dir must be an absolute path")
	}
	if c.Tunnel.ConfigDir == "" || !filepath.IsAbs(c.Tunnel.ConfigDir) {
		return fmt.Errorf("tunnel.config_dir must be an absolute path")
	}

	if c.Wireless.ConnectAttempts <= 0 {
		c.Wireless.ConnectAttempts = def.Wireless.ConnectAttempts
	}
	if c.Wireless.ConnectInterval < 0 {
		c.Wireless.ConnectInterval = def.Wireless.ConnectInterval
	}
	if c.Tunnel.HandshakeWindow <= 0 {
		c.Tunnel.HandshakeWindow = def.Tunnel.HandshakeWindow
	}
	if c.Tunnel.PollInterval < 0 {
		c.Tunnel.PollInterval = def.Tunnel.PollInterval
	}
	if c.Tunnel.PollInterval < common.MinTunnelPollInterval {
		c.Tunnel.PollInterval = common.MinTunnelPollInterval
	}
	if c.Tunnel.StaleFactor <= 0 {
		c.Tunnel.StaleFactor = def.Tunnel.StaleFactor
	}
	if c.Reconcile.Interval <= 0 {
		c.Reconcile.Interval = def.Reconcile.Interval
	}
	if c.Reconcile.DegradedThreshold <= 0 {
		c.Reconcile.DegradedThreshold = def.Reconcile.DegradedThreshold
	}
	if c.Tools.CommandTimeout <= 0 {
		c.Tools.CommandTimeout = def.Tools.CommandTimeout
	}
	if c.Tools.StatusTimeout <= 0 {
		c.Tools.StatusTimeout = def.Tools.StatusTimeout
	}
	if c.Tools.NMCLI == "" || c.Tools.WG == "" || c.Tools.WGQuick == "" {
		return fmt.Errorf("tools: nmcli, wg and wg_quick must be set")
	}

	switch c.Credentials.Backend {
	case "auto", "system", "file":
	case "":
		c.Credentials.Backend = "auto"
	default:
		return fmt.Errorf("credentials.backend must be auto, system or file, got %q", c.Credentials.Backend)
	}

	if _, err := common.ParseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Save writes the configuration to path with owner-only permissions.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error serializing configuration: %w", err)
	}

	if err := common.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("error saving configuration: %w", err)
	}

	return nil
}

// TunnelsDir returns the directory holding tunnel configuration records.
func (c *Config) TunnelsDir() string {
	return filepath.Join(c.DataDir, common.TunnelsDirName)
}

// HistoryPath returns the path of the transition history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, common.HistoryFileName)
}

// LogSettings converts the log section for common.InitLogger.
func (c *Config) LogSettings() common.LogConfig {
	level, _ := common.ParseLogLevel(c.Log.Level)
	return common.LogConfig{
		Level:       level,
		EnableFile:  c.Log.File,
		Dir:         c.Log.Dir,
		MaxFileSize: int64(c.Log.MaxSizeMB) * 1024 * 1024,
		MaxBackups:  c.Log.MaxBackups,
	}
}
