// Package cli provides the command-line front end of TravelNet.
// Each subcommand of the binary maps onto one method here; the methods
// print human-readable tables and return errors for the caller to report.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/yllada/travelnet/common"
	"github.com/yllada/travelnet/orchestrator"
	"github.com/yllada/travelnet/store"
	"github.com/yllada/travelnet/vpn"
	"github.com/yllada/travelnet/wgconfig"
	"github.com/yllada/travelnet/wifi"
)

// Service is the orchestrator surface used by the CLI.
type Service interface {
	Scan(ctx context.Context) ([]wifi.Network, error)
	Connect(ctx context.Context, ssid, password string) (wifi.AssociationState, error)
	Disconnect(ctx context.Context) (wifi.AssociationState, error)
	AcknowledgeWireless(ctx context.Context) wifi.AssociationState
	ForgetNetwork(ssid string) error
	ListTunnelConfigs() ([]string, error)
	PutTunnelConfig(name, text string) (*store.TunnelConfig, error)
	ReplaceTunnelConfig(name, text string) (*store.TunnelConfig, error)
	DeleteTunnelConfig(ctx context.Context, name string) error
	TunnelUp(ctx context.Context, name string) (vpn.TunnelState, error)
	TunnelDown(ctx context.Context) (vpn.TunnelState, error)
	Status() orchestrator.Snapshot
	Refresh(ctx context.Context) (orchestrator.Snapshot, error)
	History(ctx context.Context, limit int) ([]common.Event, error)
}

// CLI represents the command-line interface.
type CLI struct {
	svc Service
	out io.Writer
}

// New creates a new CLI writing to out.
func New(svc Service, out io.Writer) *CLI {
	if out == nil {
		out = os.Stdout
	}
	return &CLI{svc: svc, out: out}
}

// Scan lists nearby networks.
func (c *CLI) Scan(ctx context.Context) error {
	networks, err := c.svc.Scan(ctx)
	if err != nil {
		return err
	}

	if len(networks) == 0 {
		fmt.Fprintln(c.out, "No networks found.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SSID\tSIGNAL\tSECURITY\tBSSID")
	fmt.Fprintln(w, "----\t------\t--------\t-----")
	for _, n := range networks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.SSID, FormatSignal(n.Signal), n.Security, n.BSSID)
	}
	return w.Flush()
}

// Connect joins ssid. An empty password uses the stored credential.
func (c *CLI) Connect(ctx context.Context, ssid, password string) error {
	fmt.Fprintf(c.out, "Connecting to %s...\n", ssid)

	st, err := c.svc.Connect(ctx, ssid, password)
	if err != nil {
		if st.Phase == wifi.PhaseFailed && st.Reason != "" {
			return fmt.Errorf("connection failed: %s", st.Reason)
		}
		return fmt.Errorf("connection failed: %w", err)
	}

	fmt.Fprintf(c.out, "%s Connected to %s (%s)\n", okMark(), st.SSID, st.IPAddress)
	return nil
}

// Disconnect drops the upstream network.
func (c *CLI) Disconnect(ctx context.Context) error {
	if _, err := c.svc.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	fmt.Fprintf(c.out, "%s Disconnected\n", okMark())
	return nil
}

// Acknowledge clears a failed connection attempt.
func (c *CLI) Acknowledge(ctx context.Context) error {
	st := c.svc.AcknowledgeWireless(ctx)
	fmt.Fprintf(c.out, "Wireless: %s\n", StyleWireless(st))
	return nil
}

// Forget removes the stored password for ssid.
func (c *CLI) Forget(ssid string) error {
	if err := c.svc.ForgetNetwork(ssid); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s Forgot %s\n", okMark(), ssid)
	return nil
}

// Status re-reads the live state and prints both resources.
func (c *CLI) Status(ctx context.Context) error {
	snap, err := c.svc.Refresh(ctx)
	if err != nil {
		common.LogWarn("Status refresh incomplete: %v", err)
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tSTATE\tDETAIL\tSINCE")
	fmt.Fprintln(w, "--------\t-----\t------\t-----")

	ws := snap.Wireless
	fmt.Fprintf(w, "wireless\t%s\t%s\t%s\n", StyleWireless(ws), wirelessDetail(ws), since(ws.Since))

	ts := snap.Tunnel
	fmt.Fprintf(w, "tunnel\t%s\t%s\t%s\n", StyleTunnel(ts), tunnelDetail(ts, snap), since(ts.Since))

	return w.Flush()
}

// Tunnels lists stored tunnel configurations.
func (c *CLI) Tunnels() error {
	names, err := c.svc.ListTunnelConfigs()
	if err != nil {
		return err
	}

	if len(names) == 0 {
		fmt.Fprintln(c.out, "No tunnels configured.")
		fmt.Fprintf(c.out, "Use '%s tunnel-add <name> <file>' to add one.\n", common.BinaryName)
		return nil
	}

	active := c.svc.Status().Tunnel

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS")
	fmt.Fprintln(w, "----\t------")
	for _, name := range names {
		status := "-"
		if active.Name == name && active.Phase != vpn.PhaseDown {
			status = StyleTunnel(active)
		}
		fmt.Fprintf(w, "%s\t%s\n", name, status)
	}
	return w.Flush()
}

// TunnelAdd stores the WireGuard config at path under name. With replace
// set an existing config is overwritten.
func (c *CLI) TunnelAdd(name, path string, replace bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	text := string(data)
	if replace {
		_, err = c.svc.ReplaceTunnelConfig(name, text)
	} else {
		_, err = c.svc.PutTunnelConfig(name, text)
	}
	if err != nil {
		return err
	}

	cfg, err := wgconfig.Parse(text)
	if err == nil {
		fmt.Fprintf(c.out, "%s Stored tunnel %s (endpoint %s)\n", okMark(), name, strings.Join(cfg.Endpoints(), ", "))
	} else {
		fmt.Fprintf(c.out, "%s Stored tunnel %s\n", okMark(), name)
	}
	return nil
}

// TunnelRemove deletes a stored tunnel configuration.
func (c *CLI) TunnelRemove(ctx context.Context, name string) error {
	if err := c.svc.DeleteTunnelConfig(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s Removed tunnel %s\n", okMark(), name)
	return nil
}

// Up brings a tunnel up.
func (c *CLI) Up(ctx context.Context, name string) error {
	fmt.Fprintf(c.out, "Bringing up %s...\n", name)

	st, err := c.svc.TunnelUp(ctx, name)
	if err != nil {
		if st.Phase == vpn.PhaseFailed && st.Reason != "" {
			return fmt.Errorf("tunnel failed: %s", st.Reason)
		}
		return err
	}

	fmt.Fprintf(c.out, "%s Tunnel %s is up via %s\n", okMark(), st.Name, st.Endpoint)
	return nil
}

// Down takes the tunnel down.
func (c *CLI) Down(ctx context.Context) error {
	if _, err := c.svc.TunnelDown(ctx); err != nil {
		return fmt.Errorf("failed to bring tunnel down: %w", err)
	}
	fmt.Fprintf(c.out, "%s Tunnel is down\n", okMark())
	return nil
}

// History prints the most recent transitions.
func (c *CLI) History(ctx context.Context, limit int) error {
	events, err := c.svc.History(ctx, limit)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Fprintln(c.out, "No history recorded.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tRESOURCE\tCAUSE\tTRANSITION\tDETAIL")
	fmt.Fprintln(w, "----\t--------\t-----\t----------\t------")
	for _, ev := range events {
		detail := ev.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s -> %s\t%s\n",
			ev.At.Local().Format("2006-01-02 15:04:05"), ev.Resource, ev.Cause, ev.From, ev.To, detail)
	}
	return w.Flush()
}

func wirelessDetail(st wifi.AssociationState) string {
	switch st.Phase {
	case wifi.PhaseConnected:
		return fmt.Sprintf("%s %s %s", st.SSID, st.IPAddress, FormatSignal(st.Signal))
	case wifi.PhaseConnecting:
		return st.SSID
	case wifi.PhaseFailed:
		return fmt.Sprintf("%s: %s", st.SSID, st.Reason)
	default:
		return "-"
	}
}

func tunnelDetail(st vpn.TunnelState, snap orchestrator.Snapshot) string {
	switch st.Phase {
	case vpn.PhaseUp:
		hs := "never"
		if !st.LastHandshake.IsZero() {
			hs = FormatDuration(sinceNow(st.LastHandshake)) + " ago"
		}
		return fmt.Sprintf("%s %s handshake %s rx %s tx %s health %s",
			st.Name, st.Endpoint, hs, FormatBytes(st.RxBytes), FormatBytes(st.TxBytes), snap.Health)
	case vpn.PhaseBringingUp:
		return st.Name
	case vpn.PhaseFailed:
		return fmt.Sprintf("%s: %s", st.Name, st.Reason)
	default:
		return "-"
	}
}
