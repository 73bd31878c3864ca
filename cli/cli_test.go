package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/travelnet/common"
	"github.com/yllada/travelnet/orchestrator"
	"github.com/yllada/travelnet/reconcile"
	"github.com/yllada/travelnet/store"
	"github.com/yllada/travelnet/vpn"
	"github.com/yllada/travelnet/wifi"
)

const homeConfig = `[Interface]
PrivateKey = 7jKDwUnw3W3Ho2wXuyq/o/Oek+jsfpBT7iK90h3Ik9Y=

[Peer]
PublicKey = L6r9tWzP771p++2K6+qV7Ft/lJzjhwBOeecqL2mYCA8=
Endpoint = 203.0.113.9:51820
`

type fakeService struct {
	networks  []wifi.Network
	wireless  wifi.AssociationState
	tunnel    vpn.TunnelState
	health    reconcile.HealthState
	tunnels   []string
	events    []common.Event
	err       error
	stored    map[string]string
	replaced  bool
	forgotten string
}

func (f *fakeService) Scan(context.Context) ([]wifi.Network, error) { return f.networks, f.err }

func (f *fakeService) Connect(_ context.Context, ssid, _ string) (wifi.AssociationState, error) {
	if f.err != nil {
		return wifi.AssociationState{Phase: wifi.PhaseFailed, SSID: ssid, Reason: "wrong password"}, f.err
	}
	f.wireless = wifi.AssociationState{Phase: wifi.PhaseConnected, SSID: ssid, IPAddress: "192.168.1.50"}
	return f.wireless, nil
}

func (f *fakeService) Disconnect(context.Context) (wifi.AssociationState, error) {
	f.wireless = wifi.AssociationState{}
	return f.wireless, f.err
}

func (f *fakeService) AcknowledgeWireless(context.Context) wifi.AssociationState {
	f.wireless = wifi.AssociationState{}
	return f.wireless
}

func (f *fakeService) ForgetNetwork(ssid string) error {
	f.forgotten = ssid
	return f.err
}

func (f *fakeService) ListTunnelConfigs() ([]string, error) { return f.tunnels, f.err }

func (f *fakeService) PutTunnelConfig(name, text string) (*store.TunnelConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.stored == nil {
		f.stored = make(map[string]string)
	}
	f.stored[name] = text
	return &store.TunnelConfig{Name: name, Config: text}, nil
}

func (f *fakeService) ReplaceTunnelConfig(name, text string) (*store.TunnelConfig, error) {
	f.replaced = true
	return f.PutTunnelConfig(name, text)
}

func (f *fakeService) DeleteTunnelConfig(context.Context, string) error { return f.err }

func (f *fakeService) TunnelUp(_ context.Context, name string) (vpn.TunnelState, error) {
	if f.err != nil {
		return vpn.TunnelState{Phase: vpn.PhaseFailed, Name: name, Reason: "no handshake within 15s"}, f.err
	}
	f.tunnel = vpn.TunnelState{Phase: vpn.PhaseUp, Name: name, Endpoint: "203.0.113.9:51820"}
	return f.tunnel, nil
}

func (f *fakeService) TunnelDown(context.Context) (vpn.TunnelState, error) {
	f.tunnel = vpn.TunnelState{}
	return f.tunnel, f.err
}

func (f *fakeService) Status() orchestrator.Snapshot {
	return orchestrator.Snapshot{Wireless: f.wireless, Tunnel: f.tunnel, Health: f.health}
}

func (f *fakeService) Refresh(context.Context) (orchestrator.Snapshot, error) {
	return f.Status(), nil
}

func (f *fakeService) History(context.Context, int) ([]common.Event, error) { return f.events, f.err }

func newTestCLI(svc *fakeService) (*CLI, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(svc, &buf), &buf
}

func TestSignalPercent(t *testing.T) {
	tests := []struct {
		signal wifi.Signal
		pct    int
		ok     bool
	}{
		{wifi.Signal{Value: 72, Unit: wifi.SignalUnitPercent}, 72, true},
		{wifi.Signal{Value: 120, Unit: wifi.SignalUnitPercent}, 100, true},
		{wifi.Signal{Value: -50, Unit: wifi.SignalUnitDBm}, 100, true},
		{wifi.Signal{Value: -70, Unit: wifi.SignalUnitDBm}, 60, true},
		{wifi.Signal{Value: -100, Unit: wifi.SignalUnitDBm}, 0, true},
		{wifi.Signal{Value: -110, Unit: wifi.SignalUnitDBm}, 0, true},
		{wifi.Signal{Value: -30, Unit: wifi.SignalUnitDBm}, 100, true},
		{wifi.Signal{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.signal.Value, tt.signal.Unit), func(t *testing.T) {
			pct, ok := SignalPercent(tt.signal)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.pct, pct)
		})
	}
}

func TestFormatSignal(t *testing.T) {
	assert.Equal(t, "72%", FormatSignal(wifi.Signal{Value: 72, Unit: wifi.SignalUnitPercent}))
	assert.Equal(t, "60% (-70 dBm)", FormatSignal(wifi.Signal{Value: -70, Unit: wifi.SignalUnitDBm}))
	assert.Equal(t, "-", FormatSignal(wifi.Signal{}))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "2h 3m 4s"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.d))
		})
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "1.5 MiB", FormatBytes(1536*1024))
	assert.Equal(t, "0 B", FormatBytes(0))

	var rx uint64 = 3 << 30
	assert.Equal(t, "3.0 GiB", FormatBytes(rx))
}

func TestScan(t *testing.T) {
	svc := &fakeService{networks: []wifi.Network{
		{SSID: "CafeWiFi", BSSID: "AA:BB:CC:DD:EE:01", Security: wifi.SecurityWPAPersonal, Signal: wifi.Signal{Value: 72, Unit: wifi.SignalUnitPercent}},
		{SSID: "Airport Free", BSSID: "AA:BB:CC:DD:EE:02", Security: wifi.SecurityOpen, Signal: wifi.Signal{Value: -80, Unit: wifi.SignalUnitDBm}},
	}}
	c, out := newTestCLI(svc)

	require.NoError(t, c.Scan(context.Background()))
	text := out.String()
	assert.Contains(t, text, "CafeWiFi")
	assert.Contains(t, text, "72%")
	assert.Contains(t, text, "WPA-Personal")
	assert.Contains(t, text, "40% (-80 dBm)")
}

func TestScan_Empty(t *testing.T) {
	c, out := newTestCLI(&fakeService{})
	require.NoError(t, c.Scan(context.Background()))
	assert.Contains(t, out.String(), "No networks found.")
}

func TestConnect(t *testing.T) {
	svc := &fakeService{}
	c, out := newTestCLI(svc)

	require.NoError(t, c.Connect(context.Background(), "CafeWiFi", "coffee1234"))
	assert.Contains(t, out.String(), "Connected to CafeWiFi (192.168.1.50)")
}

func TestConnect_FailureShowsReason(t *testing.T) {
	svc := &fakeService{err: common.ErrCommandFailed}
	c, _ := newTestCLI(svc)

	err := c.Connect(context.Background(), "CafeWiFi", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong password")
}

func TestStatus(t *testing.T) {
	svc := &fakeService{
		wireless: wifi.AssociationState{Phase: wifi.PhaseConnected, SSID: "CafeWiFi", IPAddress: "192.168.1.50",
			Signal: wifi.Signal{Value: 72, Unit: wifi.SignalUnitPercent}, Since: time.Now()},
		tunnel: vpn.TunnelState{Phase: vpn.PhaseUp, Name: "home", Endpoint: "203.0.113.9:51820",
			LastHandshake: time.Now(), RxBytes: 2048, TxBytes: 1024, Degraded: true},
		health: reconcile.HealthDegraded,
	}
	c, out := newTestCLI(svc)

	require.NoError(t, c.Status(context.Background()))
	text := out.String()
	assert.Contains(t, text, "Connected")
	assert.Contains(t, text, "CafeWiFi 192.168.1.50 72%")
	assert.Contains(t, text, "Up (degraded)")
	assert.Contains(t, text, "health Degraded")
	assert.Contains(t, text, "rx 2.0 KiB")
}

func TestTunnels(t *testing.T) {
	svc := &fakeService{
		tunnels: []string{"home", "office"},
		tunnel:  vpn.TunnelState{Phase: vpn.PhaseUp, Name: "office"},
	}
	c, out := newTestCLI(svc)

	require.NoError(t, c.Tunnels())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], "home")
	assert.Contains(t, lines[2], "-")
	assert.Contains(t, lines[3], "office")
	assert.Contains(t, lines[3], "Up")
}

func TestTunnels_Empty(t *testing.T) {
	c, out := newTestCLI(&fakeService{})
	require.NoError(t, c.Tunnels())
	assert.Contains(t, out.String(), "tunnel-add")
}

func TestTunnelAdd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home.conf")
	require.NoError(t, os.WriteFile(path, []byte(homeConfig), 0600))

	svc := &fakeService{}
	c, out := newTestCLI(svc)

	require.NoError(t, c.TunnelAdd("home", path, false))
	assert.Equal(t, homeConfig, svc.stored["home"])
	assert.False(t, svc.replaced)
	assert.Contains(t, out.String(), "endpoint 203.0.113.9:51820")
	assert.NotContains(t, out.String(), "PrivateKey")

	require.NoError(t, c.TunnelAdd("home", path, true))
	assert.True(t, svc.replaced)
}

func TestTunnelAdd_MissingFile(t *testing.T) {
	c, _ := newTestCLI(&fakeService{})
	err := c.TunnelAdd("home", filepath.Join(t.TempDir(), "nope.conf"), false)
	require.Error(t, err)
}

func TestUp_FailureShowsReason(t *testing.T) {
	svc := &fakeService{err: common.ErrTimeout}
	c, _ := newTestCLI(svc)

	err := c.Up(context.Background(), "home")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handshake within 15s")
}

func TestUpDown(t *testing.T) {
	svc := &fakeService{}
	c, out := newTestCLI(svc)

	require.NoError(t, c.Up(context.Background(), "home"))
	assert.Contains(t, out.String(), "Tunnel home is up via 203.0.113.9:51820")

	require.NoError(t, c.Down(context.Background()))
	assert.Contains(t, out.String(), "Tunnel is down")
}

func TestHistory(t *testing.T) {
	svc := &fakeService{events: []common.Event{{
		At: time.Now(), Resource: common.ResourceTunnel, Cause: "reconcile",
		From: "Up(home, 203.0.113.9:51820)", To: "Down", Detail: "interface disappeared",
	}}}
	c, out := newTestCLI(svc)

	require.NoError(t, c.History(context.Background(), 10))
	assert.Contains(t, out.String(), "Up(home, 203.0.113.9:51820) -> Down")
	assert.Contains(t, out.String(), "interface disappeared")
}

func TestHistory_Error(t *testing.T) {
	boom := errors.New("database is locked")
	c, _ := newTestCLI(&fakeService{err: boom})
	assert.ErrorIs(t, c.History(context.Background(), 10), boom)
}

func TestForget(t *testing.T) {
	svc := &fakeService{}
	c, out := newTestCLI(svc)
	require.NoError(t, c.Forget("CafeWiFi"))
	assert.Equal(t, "CafeWiFi", svc.forgotten)
	assert.Contains(t, out.String(), "Forgot CafeWiFi")
}

func TestWatchModel_SnapshotUpdatesView(t *testing.T) {
	svc := &fakeService{}
	m := newWatchModel(context.Background(), svc, time.Second)
	assert.True(t, m.refreshing)

	snap := orchestrator.Snapshot{
		Wireless: wifi.AssociationState{Phase: wifi.PhaseConnected, SSID: "CafeWiFi", IPAddress: "192.168.1.50"},
		Tunnel:   vpn.TunnelState{Phase: vpn.PhaseUp, Name: "home", Endpoint: "203.0.113.9:51820"},
		Health:   reconcile.HealthHealthy,
	}
	updated, cmd := m.Update(snapshotMsg{snap: snap, at: time.Now()})
	m = updated.(*watchModel)

	assert.NotNil(t, cmd, "next refresh is scheduled")
	assert.False(t, m.refreshing)

	view := m.View()
	assert.Contains(t, view, "CafeWiFi")
	assert.Contains(t, view, "home")
	assert.Contains(t, view, "Healthy")
	assert.Contains(t, view, "Updated")
}

func TestWatchModel_RefreshError(t *testing.T) {
	m := newWatchModel(context.Background(), &fakeService{}, time.Second)
	updated, _ := m.Update(snapshotMsg{err: errors.New("wireless status: nmcli not found")})
	m = updated.(*watchModel)
	assert.Contains(t, m.View(), "nmcli not found")
}

func TestWatchModel_Keys(t *testing.T) {
	m := newWatchModel(context.Background(), &fakeService{}, time.Second)
	m.refreshing = false

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.NotNil(t, cmd)
	assert.True(t, m.refreshing)

	// A second refresh is not started while one is in flight
	_, cmd = m.Update(refreshTickMsg{})
	assert.Nil(t, cmd)

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
