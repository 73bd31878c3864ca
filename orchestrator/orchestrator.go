// Package orchestrator wires the wireless and tunnel managers, their
// stores, the transition journal and the reconciler into the single
// entry point used by the daemon, the CLI and an API layer.
//
// Every blocking call takes a context. The orchestrator stamps it with
// an operation ID, so all log lines of one call (including the
// executor's) can be correlated, and bounds it with a deadline derived
// from the configured timeouts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yllada/travelnet/common"
	"github.com/yllada/travelnet/config"
	"github.com/yllada/travelnet/executor"
	"github.com/yllada/travelnet/history"
	"github.com/yllada/travelnet/keyring"
	"github.com/yllada/travelnet/reconcile"
	"github.com/yllada/travelnet/store"
	"github.com/yllada/travelnet/vpn"
	"github.com/yllada/travelnet/wifi"
)

// Journal is the transition history backend.
type Journal interface {
	common.EventRecorder
	Recent(ctx context.Context, resource common.Resource, limit int) ([]common.Event, error)
	Close() error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRunner replaces the command executor.
func WithRunner(r executor.Runner) Option {
	return func(o *Orchestrator) { o.runner = r }
}

// WithCredentialStore replaces the WiFi credential store.
func WithCredentialStore(c common.CredentialStore) Option {
	return func(o *Orchestrator) { o.creds = c }
}

// WithJournal replaces the transition journal. The caller keeps
// ownership; Close does not close it.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// Snapshot is the combined status of both resources.
type Snapshot struct {
	Wireless wifi.AssociationState
	Tunnel   vpn.TunnelState
	Health   reconcile.HealthState
}

// Orchestrator is the connection orchestrator.
type Orchestrator struct {
	cfg *config.Config

	runner      executor.Runner
	creds       common.CredentialStore
	journal     Journal
	ownsJournal bool

	store      *store.Store
	wifi       *wifi.Manager
	vpn        *vpn.Manager
	reconciler *reconcile.Reconciler
}

// New builds an orchestrator from cfg. Dependencies not supplied through
// options are created from the configuration.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	o := &Orchestrator{cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}

	if o.runner == nil {
		ex := executor.New(executor.Tools{
			NMCLI:          cfg.Tools.NMCLI,
			WG:             cfg.Tools.WG,
			WGQuick:        cfg.Tools.WGQuick,
			Sudo:           cfg.Tools.Sudo,
			CommandTimeout: cfg.Tools.CommandTimeout,
			StatusTimeout:  cfg.Tools.StatusTimeout,
		})
		if err := ex.CheckTools(); err != nil {
			common.LogWarn("%v", err)
		}
		o.runner = ex
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	o.store = st

	if o.creds == nil {
		creds, err := keyring.New(keyring.Options{
			Backend: keyring.Backend(cfg.Credentials.Backend),
			Dir:     cfg.DataDir,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
		o.creds = creds
	}

	if o.journal == nil {
		j, err := history.Open(cfg.HistoryPath())
		if err != nil {
			// History is informational; run without it.
			common.LogWarn("Transition history disabled: %v", err)
		} else {
			o.journal = j
			o.ownsJournal = true
		}
	}

	var recorder common.EventRecorder
	if o.journal != nil {
		recorder = o.journal
	}

	o.wifi = wifi.NewManager(o.runner, wifi.Options{
		Interface:       cfg.Wireless.Interface,
		HotspotSSID:     cfg.Wireless.HotspotSSID,
		ConnectAttempts: cfg.Wireless.ConnectAttempts,
		ConnectInterval: cfg.Wireless.ConnectInterval,
		Rescan:          cfg.Wireless.Rescan,
		Credentials:     o.creds,
		LastUsed:        o.store,
		Recorder:        recorder,
	})

	o.vpn = vpn.NewManager(o.runner, o.store, vpn.Options{
		Interface:       cfg.Tunnel.Interface,
		ConfigDir:       cfg.Tunnel.ConfigDir,
		HandshakeWindow: cfg.Tunnel.HandshakeWindow,
		PollInterval:    cfg.Tunnel.PollInterval,
		StaleFactor:     cfg.Tunnel.StaleFactor,
		Recorder:        recorder,
	})

	o.reconciler = reconcile.New(reconcile.Config{
		Interval:         cfg.Reconcile.Interval,
		FailureThreshold: cfg.Reconcile.DegradedThreshold,
	}, o.wifi, o.vpn)
	o.reconciler.SetOnHealthChange(func(oldState, newState reconcile.HealthState) {
		common.RecordEvent(context.Background(), recorder, common.Event{
			Resource: common.ResourceTunnel,
			Cause:    "health",
			From:     oldState.String(),
			To:       newState.String(),
		})
	})

	return o, nil
}

// Start adopts the live state of both resources and starts the
// reconciler loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	if _, err := o.Refresh(ctx); err != nil {
		common.LogWarn("Initial state read incomplete: %v", err)
	}
	o.reconciler.Start()
	return nil
}

// Close stops the reconciler and releases the journal.
func (o *Orchestrator) Close() error {
	o.reconciler.Stop()
	if o.ownsJournal && o.journal != nil {
		return o.journal.Close()
	}
	return nil
}

// begin stamps ctx with a fresh operation ID and bounds it.
func (o *Orchestrator) begin(ctx context.Context, name string, timeout time.Duration) (context.Context, context.CancelFunc) {
	id := common.NewOperationID()
	ctx = common.WithOperationID(ctx, id)
	common.LogDebugCtx(ctx, "%s", name)
	return context.WithTimeout(ctx, timeout)
}

func (o *Orchestrator) scanDeadline() time.Duration {
	return o.cfg.Tools.CommandTimeout + o.cfg.Tools.StatusTimeout
}

func (o *Orchestrator) connectDeadline() time.Duration {
	w := o.cfg.Wireless
	polls := time.Duration(w.ConnectAttempts) * (w.ConnectInterval + o.cfg.Tools.StatusTimeout)
	return 2*o.cfg.Tools.CommandTimeout + polls
}

func (o *Orchestrator) upDeadline() time.Duration {
	return 2*o.cfg.Tools.CommandTimeout + o.cfg.Tunnel.HandshakeWindow + 3*o.cfg.Tools.StatusTimeout
}

func (o *Orchestrator) downDeadline() time.Duration {
	return o.cfg.Tools.CommandTimeout + 2*o.cfg.Tools.StatusTimeout
}

// Scan lists nearby networks, strongest first.
func (o *Orchestrator) Scan(ctx context.Context) ([]wifi.Network, error) {
	ctx, cancel := o.begin(ctx, "scan", o.scanDeadline())
	defer cancel()
	return o.wifi.Scan(ctx)
}

// Connect associates the client radio with ssid. An empty password uses
// the stored credential, if any.
func (o *Orchestrator) Connect(ctx context.Context, ssid, password string) (wifi.AssociationState, error) {
	ctx, cancel := o.begin(ctx, "connect", o.connectDeadline())
	defer cancel()
	return o.wifi.Connect(ctx, ssid, password)
}

// Disconnect drops the upstream association.
func (o *Orchestrator) Disconnect(ctx context.Context) (wifi.AssociationState, error) {
	ctx, cancel := o.begin(ctx, "disconnect", o.downDeadline())
	defer cancel()
	return o.wifi.Disconnect(ctx)
}

// WirelessStatus returns the believed association state.
func (o *Orchestrator) WirelessStatus() wifi.AssociationState {
	return o.wifi.Status()
}

// AcknowledgeWireless clears a Failed association back to Disconnected.
func (o *Orchestrator) AcknowledgeWireless(ctx context.Context) wifi.AssociationState {
	ctx = common.WithOperationID(ctx, common.NewOperationID())
	return o.wifi.Acknowledge(ctx)
}

// ForgetNetwork removes the stored credential for ssid.
func (o *Orchestrator) ForgetNetwork(ssid string) error {
	if err := common.ValidateSSID(ssid); err != nil {
		return err
	}
	return o.creds.Delete(ssid)
}

// ListTunnelConfigs returns the stored tunnel names.
func (o *Orchestrator) ListTunnelConfigs() ([]string, error) {
	return o.store.List()
}

// PutTunnelConfig stores a new tunnel configuration.
func (o *Orchestrator) PutTunnelConfig(name, text string) (*store.TunnelConfig, error) {
	return o.store.Put(name, text)
}

// ReplaceTunnelConfig overwrites a stored tunnel configuration.
func (o *Orchestrator) ReplaceTunnelConfig(name, text string) (*store.TunnelConfig, error) {
	return o.store.Replace(name, text)
}

// DeleteTunnelConfig removes a stored tunnel configuration. A tunnel that
// is up or coming up cannot be deleted. The interface is read first, so a
// tunnel brought up by another process also counts as up.
func (o *Orchestrator) DeleteTunnelConfig(ctx context.Context, name string) error {
	if err := common.ValidateTunnelName(name); err != nil {
		return err
	}
	ctx, cancel := o.begin(ctx, "tunnel delete", o.cfg.Tools.StatusTimeout)
	defer cancel()
	if _, err := o.vpn.Reconcile(ctx); err != nil {
		common.LogWarnCtx(ctx, "Could not read tunnel before deleting %q: %v", name, err)
	}
	return o.store.Delete(name)
}

// TunnelUp brings the named tunnel up.
func (o *Orchestrator) TunnelUp(ctx context.Context, name string) (vpn.TunnelState, error) {
	ctx, cancel := o.begin(ctx, "tunnel up", o.upDeadline())
	defer cancel()
	return o.vpn.Up(ctx, name)
}

// TunnelDown takes the tunnel down.
func (o *Orchestrator) TunnelDown(ctx context.Context) (vpn.TunnelState, error) {
	ctx, cancel := o.begin(ctx, "tunnel down", o.downDeadline())
	defer cancel()
	return o.vpn.Down(ctx)
}

// TunnelStatus returns the believed tunnel state.
func (o *Orchestrator) TunnelStatus() vpn.TunnelState {
	return o.vpn.Status()
}

// Status returns both resources and the tunnel health.
func (o *Orchestrator) Status() Snapshot {
	return Snapshot{
		Wireless: o.wifi.Status(),
		Tunnel:   o.vpn.Status(),
		Health:   o.reconciler.Health().State,
	}
}

// Refresh runs one reconciliation pass and returns the resulting status.
func (o *Orchestrator) Refresh(ctx context.Context) (Snapshot, error) {
	ctx, cancel := o.begin(ctx, "refresh", 2*o.cfg.Tools.StatusTimeout)
	defer cancel()
	_, err := o.reconciler.RunOnce(ctx)
	return o.Status(), err
}

// AutoReconnect reconnects to the last used network and then the last
// used tunnel. Resources that are already connected are left alone, and
// the tunnel is only attempted once there is an upstream association.
func (o *Orchestrator) AutoReconnect(ctx context.Context) error {
	last, err := o.store.LastUsed()
	if err != nil {
		return err
	}

	var errs []error

	if last.LastSSID != "" && o.wifi.Status().Phase != wifi.PhaseConnected {
		common.LogInfo("Reconnecting to last network %q", last.LastSSID)
		if _, err := o.Connect(ctx, last.LastSSID, ""); err != nil {
			errs = append(errs, fmt.Errorf("reconnect to %q: %w", last.LastSSID, err))
		}
	}

	if last.LastTunnelName != "" && o.vpn.Status().Phase != vpn.PhaseUp {
		if o.wifi.Status().Phase != wifi.PhaseConnected {
			common.LogInfo("Not restoring tunnel %q: no upstream network", last.LastTunnelName)
		} else {
			common.LogInfo("Restoring last tunnel %q", last.LastTunnelName)
			if _, err := o.TunnelUp(ctx, last.LastTunnelName); err != nil {
				errs = append(errs, fmt.Errorf("restore tunnel %q: %w", last.LastTunnelName, err))
			}
		}
	}

	return errors.Join(errs...)
}

// History returns up to limit recent transitions, newest first.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]common.Event, error) {
	if o.journal == nil {
		return nil, nil
	}
	return o.journal.Recent(ctx, "", limit)
}

// Config returns the configuration in use.
func (o *Orchestrator) Config() *config.Config {
	return o.cfg
}
