package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/travelnet/reconcile"
	"github.com/yllada/travelnet/vpn"
	"github.com/yllada/travelnet/wifi"
)

var (
	successColor = lipgloss.AdaptiveColor{Light: "#388E3C", Dark: "#81C784"}
	warnColor    = lipgloss.AdaptiveColor{Light: "#F57C00", Dark: "#FFB74D"}
	errorColor   = lipgloss.AdaptiveColor{Light: "#D32F2F", Dark: "#E57373"}
	subtleColor  = lipgloss.AdaptiveColor{Light: "#9E9E9E", Dark: "#757575"}
	primaryColor = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#D359E3"}

	successStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warnColor).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(subtleColor)
	titleStyle   = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
)

// SignalPercent normalizes a signal onto 0-100. dBm readings use the
// common linear mapping where -100 dBm is 0% and -50 dBm is 100%.
// Unknown signals report ok=false.
func SignalPercent(s wifi.Signal) (pct int, ok bool) {
	switch s.Unit {
	case wifi.SignalUnitPercent:
		pct = s.Value
	case wifi.SignalUnitDBm:
		pct = 2 * (s.Value + 100)
	default:
		return 0, false
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// FormatSignal renders a signal for display. dBm readings show both the
// normalized percentage and the raw value.
func FormatSignal(s wifi.Signal) string {
	pct, ok := SignalPercent(s)
	if !ok {
		return "-"
	}
	if s.Unit == wifi.SignalUnitDBm {
		return fmt.Sprintf("%d%% (%d dBm)", pct, s.Value)
	}
	return fmt.Sprintf("%d%%", pct)
}

// FormatDuration formats a duration in a human-readable format.
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// FormatBytes formats a byte count with a binary unit.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// StyleWireless renders the phase of st with a status color.
func StyleWireless(st wifi.AssociationState) string {
	switch st.Phase {
	case wifi.PhaseConnected:
		return successStyle.Render(st.Phase.String())
	case wifi.PhaseConnecting:
		return warnStyle.Render(st.Phase.String())
	case wifi.PhaseFailed:
		return errorStyle.Render(st.Phase.String())
	default:
		return subtleStyle.Render(st.Phase.String())
	}
}

// StyleTunnel renders the phase of st with a status color. A degraded
// tunnel is marked as such.
func StyleTunnel(st vpn.TunnelState) string {
	switch st.Phase {
	case vpn.PhaseUp:
		if st.Degraded {
			return warnStyle.Render("Up (degraded)")
		}
		return successStyle.Render(st.Phase.String())
	case vpn.PhaseBringingUp:
		return warnStyle.Render(st.Phase.String())
	case vpn.PhaseFailed:
		return errorStyle.Render(st.Phase.String())
	default:
		return subtleStyle.Render(st.Phase.String())
	}
}

// StyleHealth renders a tunnel health state with a status color.
func StyleHealth(h reconcile.HealthState) string {
	switch h {
	case reconcile.HealthHealthy:
		return successStyle.Render(h.String())
	case reconcile.HealthDegraded:
		return warnStyle.Render(h.String())
	case reconcile.HealthUnhealthy:
		return errorStyle.Render(h.String())
	default:
		return subtleStyle.Render(h.String())
	}
}

func okMark() string {
	return successStyle.Render("✓")
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return FormatDuration(sinceNow(t))
}

var sinceNow = time.Since
