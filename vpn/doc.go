// Package vpn manages the router's single WireGuard tunnel.
//
// This package implements the tunnel side of the orchestrator:
//
//   - Bringing a stored tunnel configuration up with bounded handshake verification
//   - Taking the tunnel down and confirming the interface is gone
//   - Reading live telemetry from the wg status dump
//   - Flagging stale handshakes as a soft degraded signal
//
// # Architecture
//
// The package is organized around two main types:
//
//   - Manager: Owns the TunnelState and serializes Up and Down
//   - Observation: A parsed live reading of the tunnel interface
//
// # Tunnel Flow
//
// A typical bring-up:
//
//  1. The caller asks Manager.Up() for a stored tunnel name
//  2. Manager loads and re-validates the configuration from the store
//  3. The configuration is written where wg-quick expects it, owner-only
//  4. wg-quick brings the interface up
//  5. Manager polls the wg dump until a fresh handshake is seen
//
// Any failure along the way tears the interface down again before the
// state becomes Failed.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Only one
// tunnel may be up at a time; a second Up for a different name fails
// with common.ErrAlreadyConnected. Status reads never wait on a command.
package vpn
