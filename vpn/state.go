package vpn

import (
	"fmt"
	"time"

	"github.com/yllada/travelnet/common"
)

// Phase is the lifecycle phase of the tunnel.
type Phase int

const (
	// PhaseDown indicates no tunnel interface.
	PhaseDown Phase = iota
	// PhaseBringingUp indicates Up is in flight.
	PhaseBringingUp
	// PhaseUp indicates the interface exists and has completed a handshake.
	PhaseUp
	// PhaseFailed indicates the last Up or Down did not reach its goal.
	PhaseFailed
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseDown:
		return "Down"
	case PhaseBringingUp:
		return "BringingUp"
	case PhaseUp:
		return "Up"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// TunnelState is the manager's belief about the tunnel.
type TunnelState struct {
	Phase Phase
	// Name is the stored tunnel configuration in use.
	Name string
	// Endpoint is the active peer endpoint as reported by wg.
	Endpoint string
	// LastHandshake is zero when no handshake has completed.
	LastHandshake time.Time
	RxBytes       uint64
	TxBytes       uint64
	// Reason explains a Failed phase.
	Reason string
	// Degraded is set while Up when the handshake is stale.
	Degraded bool
	// Since is when the phase was entered.
	Since time.Time
}

// Err returns common.ErrDegraded while the tunnel is up with a stale
// handshake, and nil otherwise.
func (s TunnelState) Err() error {
	if s.Phase != PhaseUp || !s.Degraded {
		return nil
	}
	if s.LastHandshake.IsZero() {
		return fmt.Errorf("%w: tunnel %q has no handshake", common.ErrDegraded, s.Name)
	}
	return fmt.Errorf("%w: tunnel %q last handshake %s ago", common.ErrDegraded, s.Name,
		time.Since(s.LastHandshake).Round(time.Second))
}

func (s TunnelState) String() string {
	switch s.Phase {
	case PhaseBringingUp:
		return fmt.Sprintf("BringingUp(%s)", s.Name)
	case PhaseUp:
		if s.Degraded {
			return fmt.Sprintf("Up(%s, %s, degraded)", s.Name, s.Endpoint)
		}
		return fmt.Sprintf("Up(%s, %s)", s.Name, s.Endpoint)
	case PhaseFailed:
		return fmt.Sprintf("Failed(%s, %s)", s.Name, s.Reason)
	default:
		return s.Phase.String()
	}
}
