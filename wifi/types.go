package wifi

import (
	"fmt"
	"time"
)

// SecurityType classifies a network's authentication scheme.
type SecurityType int

const (
	// SecurityUnknown is reported when the scan output is missing or unrecognized.
	SecurityUnknown SecurityType = iota
	// SecurityOpen is a network without authentication.
	SecurityOpen
	// SecurityWEP is legacy WEP.
	SecurityWEP
	// SecurityWPAPersonal covers WPA/WPA2/WPA3 with a pre-shared key or SAE.
	SecurityWPAPersonal
	// SecurityWPAEnterprise covers 802.1X networks.
	SecurityWPAEnterprise
)

// String returns a human-readable representation of the security type.
func (s SecurityType) String() string {
	switch s {
	case SecurityOpen:
		return "Open"
	case SecurityWEP:
		return "WEP"
	case SecurityWPAPersonal:
		return "WPA-Personal"
	case SecurityWPAEnterprise:
		return "WPA-Enterprise"
	default:
		return "Unknown"
	}
}

// SignalUnit records which scale a Signal value is on.
type SignalUnit int

const (
	// SignalUnitUnknown means no signal value was reported.
	SignalUnitUnknown SignalUnit = iota
	// SignalUnitPercent is a 0-100 quality value.
	SignalUnitPercent
	// SignalUnitDBm is a received power in dBm, normally negative.
	SignalUnitDBm
)

// String returns a human-readable representation of the unit.
func (u SignalUnit) String() string {
	switch u {
	case SignalUnitPercent:
		return "%"
	case SignalUnitDBm:
		return "dBm"
	default:
		return "unknown"
	}
}

// Signal is a signal strength as reported by the scan tool. Values are
// never rescaled here; conversion between units happens for display.
type Signal struct {
	Value int
	Unit  SignalUnit
}

// Known reports whether a value was parsed.
func (s Signal) Known() bool {
	return s.Unit != SignalUnitUnknown
}

// Stronger reports whether s is a stronger reading than o. Readings on
// different scales are compared by whether they are known at all.
func (s Signal) Stronger(o Signal) bool {
	if s.Unit != o.Unit {
		return s.Known() && !o.Known()
	}
	return s.Value > o.Value
}

func (s Signal) String() string {
	switch s.Unit {
	case SignalUnitPercent:
		return fmt.Sprintf("%d%%", s.Value)
	case SignalUnitDBm:
		return fmt.Sprintf("%d dBm", s.Value)
	default:
		return "unknown"
	}
}

// Network is one observed wireless network. Networks are recreated on
// every scan and never persisted.
type Network struct {
	SSID     string
	BSSID    string
	Security SecurityType
	Signal   Signal
}

// Phase is the association phase of the client interface.
type Phase int

const (
	// PhaseDisconnected indicates no association.
	PhaseDisconnected Phase = iota
	// PhaseConnecting indicates a connect operation is in flight.
	PhaseConnecting
	// PhaseConnected indicates an association with an IPv4 address.
	PhaseConnected
	// PhaseFailed indicates the last connect failed and has not been acknowledged.
	PhaseFailed
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "Disconnected"
	case PhaseConnecting:
		return "Connecting"
	case PhaseConnected:
		return "Connected"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// AssociationState is the manager's belief about the client interface.
type AssociationState struct {
	Phase Phase
	// SSID is set in every phase except Disconnected.
	SSID string
	// IPAddress is the IPv4 address without its prefix length, set when
	// Connected.
	IPAddress string
	// Signal is the last scanned signal for SSID, when known.
	Signal Signal
	// Reason explains a Failed phase.
	Reason string
	// Since is when the phase was entered.
	Since time.Time
}

func (s AssociationState) String() string {
	switch s.Phase {
	case PhaseConnecting:
		return fmt.Sprintf("Connecting(%s)", s.SSID)
	case PhaseConnected:
		return fmt.Sprintf("Connected(%s, %s, %s)", s.SSID, s.IPAddress, s.Signal)
	case PhaseFailed:
		return fmt.Sprintf("Failed(%s, %s)", s.SSID, s.Reason)
	default:
		return s.Phase.String()
	}
}

// LinkStatus is a live reading of the client interface.
type LinkStatus struct {
	// Connected is true when the device reports the activated state.
	Connected bool
	// Connection is the active NetworkManager connection name.
	Connection string
	// IPAddress is the first IPv4 address, if any.
	IPAddress string
}
