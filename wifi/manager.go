// Package wifi manages the association state of the router's client
// radio: scanning, connecting with bounded verification, disconnecting,
// and reconciling its belief against the live interface.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yllada/travelnet/common"
	"github.com/yllada/travelnet/executor"
	"github.com/yllada/travelnet/store"
)

// LastUsedStore persists the LastUsed pointers.
type LastUsedStore interface {
	SetLastUsed(kind store.LastUsedKind, value string) error
}

// Options configures a Manager.
type Options struct {
	// Interface is the client radio, e.g. wlan1.
	Interface string
	// HotspotSSID is the router's own network, hidden from scan results.
	HotspotSSID string
	// ConnectAttempts bounds the post-connect address poll.
	ConnectAttempts int
	// ConnectInterval is the delay between polls.
	ConnectInterval time.Duration
	// Rescan asks the scan tool for a fresh scan instead of its cache.
	Rescan bool

	Credentials common.CredentialStore
	LastUsed    LastUsedStore
	Recorder    common.EventRecorder
}

// Manager owns the AssociationState of one client interface. Connect and
// Disconnect are serialized; a second one while another is in flight is
// rejected with common.ErrBusy. Status never waits on a command.
type Manager struct {
	runner executor.Runner
	opts   Options

	opMu sync.Mutex

	mu       sync.RWMutex
	state    AssociationState
	lastScan map[string]Signal
}

// NewManager creates a wireless session manager in the Disconnected phase.
func NewManager(runner executor.Runner, opts Options) *Manager {
	if opts.Interface == "" {
		opts.Interface = common.DefaultWifiInterface
	}
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = common.ConnectAttempts
	}
	if opts.ConnectInterval < 0 {
		opts.ConnectInterval = 0
	}

	return &Manager{
		runner:   runner,
		opts:     opts,
		state:    AssociationState{Phase: PhaseDisconnected, Since: time.Now()},
		lastScan: make(map[string]Signal),
	}
}

// Interface returns the managed interface name.
func (m *Manager) Interface() string {
	return m.opts.Interface
}

// Status returns a snapshot of the current association state.
func (m *Manager) Status() AssociationState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Scan lists nearby networks, strongest first.
func (m *Manager) Scan(ctx context.Context) ([]Network, error) {
	args := []string{"ifname", m.opts.Interface}
	if m.opts.Rescan {
		args = append(args, "--rescan", "yes")
	}

	res, err := m.runner.Run(ctx, executor.Request{Command: executor.CmdScan, Args: args})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	networks := parseScanOutput(res.Stdout, m.opts.HotspotSSID)
	common.LogDebugCtx(ctx, "Scan found %d networks", len(networks))

	m.mu.Lock()
	m.lastScan = make(map[string]Signal, len(networks))
	for _, n := range networks {
		m.lastScan[n.SSID] = n.Signal
	}
	if m.state.Phase == PhaseConnected {
		if sig, ok := m.lastScan[m.state.SSID]; ok {
			m.state.Signal = sig
		}
	}
	m.mu.Unlock()

	return networks, nil
}

// Connect associates with ssid. An empty password means none was
// supplied, in which case a stored credential is used if there is one.
// The returned state is the terminal state of the attempt.
func (m *Manager) Connect(ctx context.Context, ssid, password string) (AssociationState, error) {
	if err := common.ValidateSSID(ssid); err != nil {
		return m.Status(), err
	}
	if password != "" {
		if err := common.ValidatePassword(password); err != nil {
			return m.Status(), err
		}
	}

	if !m.opMu.TryLock() {
		return m.Status(), fmt.Errorf("%w: a wireless operation is already running", common.ErrBusy)
	}
	defer m.opMu.Unlock()

	// Fall back to the stored credential
	if password == "" && m.opts.Credentials != nil {
		secret, err := m.opts.Credentials.Get(ssid)
		switch {
		case err == nil:
			password = secret
			common.LogDebugCtx(ctx, "Using stored credential for %q", ssid)
		case !errors.Is(err, common.ErrNotFound):
			common.LogWarnCtx(ctx, "Could not read stored credential for %q: %v", ssid, err)
		}
	}

	m.setState(ctx, "connect", AssociationState{Phase: PhaseConnecting, SSID: ssid})

	args := []string{ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	args = append(args, "ifname", m.opts.Interface)

	res, err := m.runner.Run(ctx, executor.Request{
		Command: executor.CmdWifiConnect,
		Args:    args,
		Secrets: []string{password},
	})
	switch {
	case err == nil:
	case errors.Is(err, common.ErrTimeout):
		// Unknown outcome: let the live poll decide.
		common.LogWarnCtx(ctx, "Connect to %q timed out, checking interface", ssid)
	case errors.Is(err, common.ErrCommandFailed):
		reason := classifyConnectError(stderrOf(res, err))
		m.teardown(ctx, ssid)
		st := m.setState(ctx, "connect", AssociationState{Phase: PhaseFailed, SSID: ssid, Reason: reason})
		return st, fmt.Errorf("connect to %q: %s: %w", ssid, reason, err)
	default:
		st := m.setState(ctx, "connect", AssociationState{Phase: PhaseFailed, SSID: ssid, Reason: "wifi tool unavailable"})
		return st, fmt.Errorf("connect to %q: %w", ssid, err)
	}

	// Poll until the interface reports an address on this network
	link, ok := m.waitForAddress(ctx, ssid)
	if !ok {
		m.teardown(ctx, ssid)
		reason := fmt.Sprintf("no IP address after %d attempts", m.opts.ConnectAttempts)
		st := m.setState(ctx, "connect", AssociationState{Phase: PhaseFailed, SSID: ssid, Reason: reason})
		return st, fmt.Errorf("connect to %q: %s: %w", ssid, reason, common.ErrTimeout)
	}

	st := m.setState(ctx, "connect", AssociationState{
		Phase:     PhaseConnected,
		SSID:      ssid,
		IPAddress: link.IPAddress,
		Signal:    m.scannedSignal(ssid),
	})

	if m.opts.Credentials != nil {
		if err := m.opts.Credentials.Store(ssid, password); err != nil {
			common.LogWarnCtx(ctx, "Connected but could not save credential for %q: %v", ssid, err)
		}
	}
	if m.opts.LastUsed != nil {
		if err := m.opts.LastUsed.SetLastUsed(store.LastSSID, ssid); err != nil {
			common.LogWarnCtx(ctx, "Connected but could not save last SSID: %v", err)
		}
	}

	return st, nil
}

// waitForAddress polls the interface until it is connected to ssid with
// an IPv4 address or the attempts run out.
func (m *Manager) waitForAddress(ctx context.Context, ssid string) (LinkStatus, bool) {
	for attempt := 1; attempt <= m.opts.ConnectAttempts; attempt++ {
		if attempt > 1 && !sleep(ctx, m.opts.ConnectInterval) {
			return LinkStatus{}, false
		}

		link, err := m.Observe(ctx)
		if err != nil {
			common.LogDebugCtx(ctx, "Status poll %d/%d failed: %v", attempt, m.opts.ConnectAttempts, err)
			continue
		}
		if link.Connected && matchesSSID(link.Connection, ssid) && link.IPAddress != "" {
			common.LogDebugCtx(ctx, "Got address %s on attempt %d", link.IPAddress, attempt)
			return link, true
		}
	}
	return LinkStatus{}, false
}

// Disconnect drops the association. Disconnecting an interface that is
// already disconnected succeeds. The outcome is decided by a live read,
// not by the disconnect command's exit code.
func (m *Manager) Disconnect(ctx context.Context) (AssociationState, error) {
	if !m.opMu.TryLock() {
		return m.Status(), fmt.Errorf("%w: a wireless operation is already running", common.ErrBusy)
	}
	defer m.opMu.Unlock()

	_, cmdErr := m.runner.Run(ctx, executor.Request{
		Command: executor.CmdWifiDisconnect,
		Args:    []string{m.opts.Interface},
	})
	if cmdErr != nil {
		common.LogDebugCtx(ctx, "Disconnect command reported: %v", cmdErr)
	}

	link, err := m.Observe(ctx)
	if err != nil {
		if cmdErr == nil {
			return m.setState(ctx, "disconnect", AssociationState{Phase: PhaseDisconnected}), nil
		}
		return m.Status(), fmt.Errorf("disconnect could not be confirmed: %w", err)
	}

	if !link.Connected {
		if cur := m.Status(); cur.Phase == PhaseDisconnected {
			return cur, nil
		}
		return m.setState(ctx, "disconnect", AssociationState{Phase: PhaseDisconnected}), nil
	}

	// Still associated: reflect what the interface reports
	st := m.setState(ctx, "disconnect", AssociationState{
		Phase:     PhaseConnected,
		SSID:      link.Connection,
		IPAddress: link.IPAddress,
		Signal:    m.scannedSignal(link.Connection),
	})
	return st, fmt.Errorf("%w: %s is still connected to %q", common.ErrCommandFailed, m.opts.Interface, link.Connection)
}

// Acknowledge clears a Failed phase back to Disconnected.
func (m *Manager) Acknowledge(ctx context.Context) AssociationState {
	m.mu.Lock()
	if m.state.Phase != PhaseFailed {
		st := m.state
		m.mu.Unlock()
		return st
	}
	prev := m.state
	m.state = AssociationState{Phase: PhaseDisconnected, Since: time.Now()}
	st := m.state
	m.mu.Unlock()

	m.logTransition(ctx, "acknowledge", prev, st)
	return st
}

// Observe reads the live interface state.
func (m *Manager) Observe(ctx context.Context) (LinkStatus, error) {
	res, err := m.runner.Run(ctx, executor.Request{
		Command: executor.CmdWifiStatus,
		Args:    []string{m.opts.Interface},
	})
	if err != nil {
		return LinkStatus{}, err
	}
	return parseLinkStatus(res.Stdout), nil
}

// Reconcile compares the belief with a live read and corrects drift. It
// never starts a connection. It is skipped while a connect or disconnect
// is in flight, and reports whether the state changed.
func (m *Manager) Reconcile(ctx context.Context) (bool, error) {
	if !m.opMu.TryLock() {
		common.LogDebugCtx(ctx, "Wireless reconcile skipped: operation in flight")
		return false, nil
	}
	defer m.opMu.Unlock()

	link, err := m.Observe(ctx)
	if err != nil {
		return false, fmt.Errorf("wireless status: %w", err)
	}

	cur := m.Status()
	live := link.Connected && link.IPAddress != ""

	switch cur.Phase {
	case PhaseConnected:
		if !link.Connected {
			m.setState(ctx, "reconcile", AssociationState{Phase: PhaseDisconnected, Reason: "association dropped"})
			return true, nil
		}
		if !live {
			return false, nil
		}
		if link.IPAddress != cur.IPAddress || !matchesSSID(link.Connection, cur.SSID) {
			ssid := cur.SSID
			if !matchesSSID(link.Connection, cur.SSID) {
				ssid = link.Connection
			}
			m.setState(ctx, "reconcile", AssociationState{
				Phase:     PhaseConnected,
				SSID:      ssid,
				IPAddress: link.IPAddress,
				Signal:    m.scannedSignal(ssid),
			})
			return true, nil
		}
		return false, nil

	case PhaseDisconnected, PhaseFailed, PhaseConnecting:
		if !live {
			if cur.Phase == PhaseConnecting {
				m.setState(ctx, "reconcile", AssociationState{Phase: PhaseDisconnected})
				return true, nil
			}
			return false, nil
		}
		// Associated outside of this process
		m.setState(ctx, "reconcile", AssociationState{
			Phase:     PhaseConnected,
			SSID:      link.Connection,
			IPAddress: link.IPAddress,
			Signal:    m.scannedSignal(link.Connection),
		})
		return true, nil
	}
	return false, nil
}

// setState replaces the state and returns the stored value.
func (m *Manager) setState(ctx context.Context, cause string, next AssociationState) AssociationState {
	next.Since = time.Now()

	m.mu.Lock()
	prev := m.state
	if prev.Phase == next.Phase && prev.SSID == next.SSID && prev.IPAddress == next.IPAddress && prev.Reason == next.Reason {
		next.Since = prev.Since
	}
	m.state = next
	m.mu.Unlock()

	m.logTransition(ctx, cause, prev, next)
	return next
}

func (m *Manager) logTransition(ctx context.Context, cause string, prev, next AssociationState) {
	if prev.Phase == next.Phase && prev.SSID == next.SSID && prev.IPAddress == next.IPAddress {
		return
	}

	common.LogInfoCtx(ctx, "wireless %s: %s -> %s", cause, prev, next)
	common.RecordEvent(ctx, m.opts.Recorder, common.Event{
		Resource: common.ResourceWireless,
		Cause:    cause,
		From:     prev.String(),
		To:       next.String(),
		Detail:   next.Reason,
	})
}

// teardown disconnects after a failed connect to ssid, but only when the
// device is on, or activating, that network. An association to any other
// network is left for the reconciler. It runs even if ctx has been
// cancelled.
func (m *Manager) teardown(ctx context.Context, ssid string) {
	ctx = context.WithoutCancel(ctx)
	link, err := m.Observe(ctx)
	if err != nil {
		common.LogWarnCtx(ctx, "Not disconnecting after failed connect to %q: status unavailable: %v", ssid, err)
		return
	}
	if !matchesSSID(link.Connection, ssid) {
		if link.Connection != "" {
			common.LogInfoCtx(ctx, "Connect to %q failed; keeping existing connection %q", ssid, link.Connection)
		}
		return
	}
	if _, err := m.runner.Run(ctx, executor.Request{
		Command: executor.CmdWifiDisconnect,
		Args:    []string{m.opts.Interface},
	}); err != nil {
		common.LogDebugCtx(ctx, "Cleanup disconnect reported: %v", err)
	}
}

func (m *Manager) scannedSignal(ssid string) Signal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastScan[ssid]
}

func stderrOf(res *executor.Result, err error) string {
	var execErr *executor.Error
	if errors.As(err, &execErr) {
		return execErr.Stderr()
	}
	if res != nil {
		return res.Stderr
	}
	return ""
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
