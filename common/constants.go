// Package common provides shared constants, types, and utilities
// used across the TravelNet connection orchestrator.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "TravelNet"
	// BinaryName is the name of the daemon and CLI binary.
	BinaryName = "travelnetd"
	// EnvPrefix prefixes every environment variable override.
	EnvPrefix = "TRAVELNET"
)

// File and directory names used by the application.
const (
	ConfigFileName      = "config.yaml"
	TunnelsDirName      = "tunnels"
	LastUsedFileName    = "last_used.yaml"
	CredentialsFileName = "credentials"
	HistoryFileName     = "history.db"
	LockFileName        = ".lock"
	LogFileName         = "travelnet.log"
)

// Default system locations on the router.
const (
	DefaultConfigPath      = "/etc/travelnet/config.yaml"
	DefaultDataDir         = "/var/lib/travelnet"
	DefaultLogDir          = "/var/log/travelnet"
	DefaultWireGuardDir    = "/etc/wireguard"
	DefaultWifiInterface   = "wlan1"
	DefaultAPInterface     = "wlan0"
	DefaultHotspotSSID     = "TravelNet-Portal"
	DefaultTunnelInterface = "wg0"
)

// Log file limits.
const (
	DefaultLogMaxFileSize int64 = 5 * 1024 * 1024
	DefaultLogMaxBackups        = 5
)

// Default timeouts and intervals.
const (
	// CommandTimeout bounds a single external command.
	CommandTimeout = 30 * time.Second
	// StatusTimeout bounds a status query.
	StatusTimeout = 5 * time.Second
	// ConnectAttempts is how many times a new association is polled for an address.
	ConnectAttempts = 10
	// ConnectPollInterval is the delay between association polls.
	ConnectPollInterval = 1 * time.Second
	// HandshakeWindow is how long a tunnel has to complete its first handshake.
	HandshakeWindow = 15 * time.Second
	// TunnelPollInterval is the delay between tunnel status polls.
	TunnelPollInterval = 1 * time.Second
	// MinTunnelPollInterval is the smallest configurable tunnel poll interval.
	MinTunnelPollInterval = 100 * time.Millisecond
	// DefaultKeepalive is assumed when a tunnel config has no PersistentKeepalive.
	DefaultKeepalive = 25 * time.Second
	// StaleFactor multiplies the keepalive into the stale-handshake threshold.
	StaleFactor = 3
	// MinStaleHandshake is WireGuard's reject-after time. Handshakes renew
	// roughly every two minutes, so nothing younger is ever stale.
	MinStaleHandshake = 180 * time.Second
	// ReconcileInterval is how often live state is re-read.
	ReconcileInterval = 15 * time.Second
	// DegradedThreshold is how many degraded observations make a tunnel unhealthy.
	DegradedThreshold = 3
)

// Output limits.
const (
	// MaxCommandOutput caps captured stdout and stderr per command.
	MaxCommandOutput = 64 * 1024
	// MaxTunnelConfigSize caps an uploaded tunnel configuration.
	MaxTunnelConfigSize = 16 * 1024
	// HistoryRetention is how many transitions the journal keeps.
	HistoryRetention = 5000
	// DefaultHistoryLimit is how many transitions a history query returns.
	DefaultHistoryLimit = 20
)
