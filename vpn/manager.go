package vpn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yllada/travelnet/common"
	"github.com/yllada/travelnet/executor"
	"github.com/yllada/travelnet/store"
	"github.com/yllada/travelnet/wgconfig"
)

// ConfigStore is the subset of the config store the manager uses.
type ConfigStore interface {
	Get(name string) (*store.TunnelConfig, error)
	List() ([]string, error)
	SetInUseFunc(fn store.InUseFunc)
	SetLastUsed(kind store.LastUsedKind, value string) error
	GetLastUsed(kind store.LastUsedKind) (string, bool, error)
}

// Options configures a Manager.
type Options struct {
	// Interface is the WireGuard interface, e.g. wg0.
	Interface string
	// ConfigDir is where wg-quick looks for <Interface>.conf.
	ConfigDir string
	// HandshakeWindow bounds the wait for the first handshake after up.
	HandshakeWindow time.Duration
	// PollInterval is the delay between status polls during up.
	PollInterval time.Duration
	// StaleFactor multiplies the keepalive into the stale threshold.
	StaleFactor int

	Recorder common.EventRecorder
	// Now overrides the clock used for handshake ages.
	Now func() time.Time
}

// Manager owns the single TunnelState. Up and Down are serialized; a
// second one while another is in flight is rejected with common.ErrBusy.
type Manager struct {
	runner executor.Runner
	store  ConfigStore
	opts   Options

	opMu sync.Mutex

	mu        sync.RWMutex
	state     TunnelState
	pending   string
	keepalive time.Duration
}

// NewManager creates a tunnel manager in the Down phase and installs the
// store's in-use guard.
func NewManager(runner executor.Runner, configs ConfigStore, opts Options) *Manager {
	if opts.Interface == "" {
		opts.Interface = common.DefaultTunnelInterface
	}
	if opts.ConfigDir == "" {
		opts.ConfigDir = common.DefaultWireGuardDir
	}
	if opts.HandshakeWindow <= 0 {
		opts.HandshakeWindow = common.HandshakeWindow
	}
	if opts.PollInterval < 0 {
		opts.PollInterval = 0
	}
	if opts.StaleFactor <= 0 {
		opts.StaleFactor = common.StaleFactor
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{
		runner:    runner,
		store:     configs,
		opts:      opts,
		state:     TunnelState{Phase: PhaseDown, Since: time.Now()},
		keepalive: common.DefaultKeepalive,
	}
	configs.SetInUseFunc(m.InUse)
	return m
}

// Interface returns the managed interface name.
func (m *Manager) Interface() string {
	return m.opts.Interface
}

// Status returns a snapshot of the tunnel state.
func (m *Manager) Status() TunnelState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Health reports whether the tunnel is up and whether it is degraded.
func (m *Manager) Health() (active, degraded bool) {
	st := m.Status()
	return st.Phase == PhaseUp, st.Phase == PhaseUp && st.Degraded
}

// InUse reports whether name is up, coming up, or being loaded for up.
func (m *Manager) InUse(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pending == name {
		return true
	}
	switch m.state.Phase {
	case PhaseUp, PhaseBringingUp:
		return m.state.Name == name
	}
	return false
}

// StaleThreshold returns how old a handshake may get before the tunnel
// is flagged degraded.
func (m *Manager) StaleThreshold() time.Duration {
	m.mu.RLock()
	keepalive := m.keepalive
	m.mu.RUnlock()
	return staleThreshold(m.opts.StaleFactor, keepalive)
}

func staleThreshold(factor int, keepalive time.Duration) time.Duration {
	if keepalive <= 0 {
		keepalive = common.DefaultKeepalive
	}
	threshold := time.Duration(factor) * keepalive
	if threshold < common.MinStaleHandshake {
		threshold = common.MinStaleHandshake
	}
	return threshold
}

func (m *Manager) configPath() string {
	return filepath.Join(m.opts.ConfigDir, m.opts.Interface+".conf")
}

// Up brings the named tunnel up and waits for its first handshake.
func (m *Manager) Up(ctx context.Context, name string) (TunnelState, error) {
	if err := common.ValidateTunnelName(name); err != nil {
		return m.Status(), err
	}

	if !m.opMu.TryLock() {
		return m.Status(), fmt.Errorf("%w: a tunnel operation is already running", common.ErrBusy)
	}
	defer m.opMu.Unlock()

	// Only one tunnel at a time
	cur := m.Status()
	if cur.Phase == PhaseUp || cur.Phase == PhaseBringingUp {
		if cur.Name != name {
			return cur, fmt.Errorf("%w: tunnel %q is up; bring it down first", common.ErrAlreadyConnected, cur.Name)
		}
		common.LogDebugCtx(ctx, "Tunnel %q is already up", name)
		return cur, nil
	}

	// Hold the name against deletion while it is loaded
	m.mu.Lock()
	m.pending = name
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.pending = ""
		m.mu.Unlock()
	}()

	tc, err := m.store.Get(name)
	if err != nil {
		return m.Status(), err
	}
	cfg, err := wgconfig.Parse(tc.Config)
	if err != nil {
		return m.Status(), fmt.Errorf("stored tunnel %q: %w", name, err)
	}

	// The interface may belong to another process or an earlier run.
	// Nothing is written or torn down unless this call brings it up.
	live, err := m.Observe(ctx)
	if err != nil {
		return m.Status(), fmt.Errorf("tunnel status: %w", err)
	}
	if live.Present {
		return m.adoptLive(ctx, name, live)
	}

	endpoint := ""
	if eps := cfg.Endpoints(); len(eps) > 0 {
		endpoint = eps[0]
	}
	m.setState(ctx, "up", TunnelState{Phase: PhaseBringingUp, Name: name, Endpoint: endpoint})

	m.mu.Lock()
	m.keepalive = cfg.Keepalive()
	m.mu.Unlock()

	path := m.configPath()
	if err := m.writeConfig(path, tc.Config); err != nil {
		st := m.setState(ctx, "up", TunnelState{Phase: PhaseFailed, Name: name, Reason: "could not write configuration"})
		return st, fmt.Errorf("tunnel %q: %w", name, err)
	}

	res, err := m.runner.Run(ctx, executor.Request{
		Command: executor.CmdTunnelUp,
		Args:    []string{path},
	})
	switch {
	case err == nil:
	case errors.Is(err, common.ErrTimeout):
		// Unknown outcome: let the live poll decide.
		common.LogWarnCtx(ctx, "Tunnel up for %q timed out, checking interface", name)
	case errors.Is(err, common.ErrCommandFailed):
		reason := classifyTunnelError(stderrOf(res, err))
		if reason == reasonInterfaceExists {
			// Lost a race for the interface; the winner keeps it
			m.removeConfig(ctx, path)
			st := m.setState(ctx, "up", TunnelState{Phase: PhaseFailed, Name: name, Reason: reason})
			return st, fmt.Errorf("tunnel %q: %s: %w", name, reason, common.ErrAlreadyConnected)
		}
		m.teardown(ctx, path)
		st := m.setState(ctx, "up", TunnelState{Phase: PhaseFailed, Name: name, Reason: reason})
		return st, fmt.Errorf("tunnel %q: %s: %w", name, reason, err)
	default:
		m.removeConfig(ctx, path)
		st := m.setState(ctx, "up", TunnelState{Phase: PhaseFailed, Name: name, Reason: "tunnel tool unavailable"})
		return st, fmt.Errorf("tunnel %q: %w", name, err)
	}

	// Wait for the interface and a fresh handshake
	obs, reason, ok := m.waitForHandshake(ctx)
	if !ok {
		m.teardown(ctx, path)
		st := m.setState(ctx, "up", TunnelState{Phase: PhaseFailed, Name: name, Reason: reason})
		return st, fmt.Errorf("tunnel %q: %s: %w", name, reason, common.ErrTimeout)
	}

	st := m.setState(ctx, "up", m.upState(name, obs))

	if err := m.store.SetLastUsed(store.LastTunnel, name); err != nil {
		common.LogWarnCtx(ctx, "Tunnel up but could not save last tunnel: %v", err)
	}
	return st, nil
}

// adoptLive records a tunnel found already running on the interface. It
// succeeds only when that tunnel is the one requested.
func (m *Manager) adoptLive(ctx context.Context, name string, live Observation) (TunnelState, error) {
	m.mu.Lock()
	m.keepalive = live.Keepalive()
	m.mu.Unlock()

	owner := m.identify(live, "")
	st := m.setState(ctx, "up", m.upState(owner, live))
	if owner != name {
		return st, fmt.Errorf("%w: tunnel %q is up on %s; bring it down first",
			common.ErrAlreadyConnected, owner, m.opts.Interface)
	}
	common.LogInfoCtx(ctx, "Tunnel %q was already up on %s", name, m.opts.Interface)
	return st, nil
}

// identify names the tunnel running on the interface: the stored config
// whose public key matches, else hint, else the last used tunnel, else
// the interface itself.
func (m *Manager) identify(live Observation, hint string) string {
	if live.PublicKey != "" {
		names, err := m.store.List()
		if err != nil {
			common.LogWarn("Could not list tunnels to identify %s: %v", m.opts.Interface, err)
		}
		for _, n := range names {
			tc, err := m.store.Get(n)
			if err != nil {
				continue
			}
			if cfg, err := wgconfig.Parse(tc.Config); err == nil && cfg.PublicKey == live.PublicKey {
				return n
			}
		}
	}
	if hint != "" {
		return hint
	}
	if last, ok, err := m.store.GetLastUsed(store.LastTunnel); err == nil && ok {
		return last
	}
	return m.opts.Interface
}

// waitForHandshake polls until the interface exists with a handshake
// inside the window, or the window closes.
func (m *Manager) waitForHandshake(ctx context.Context) (Observation, string, bool) {
	deadline := time.Now().Add(m.opts.HandshakeWindow)
	reason := "interface did not appear"

	for attempt := 1; ; attempt++ {
		obs, err := m.Observe(ctx)
		switch {
		case err != nil:
			common.LogDebugCtx(ctx, "Tunnel poll %d failed: %v", attempt, err)
		case !obs.Present:
			reason = "interface did not appear"
		default:
			hs := obs.LatestHandshake()
			if !hs.IsZero() && m.opts.Now().Sub(hs) <= m.opts.HandshakeWindow {
				common.LogDebugCtx(ctx, "Handshake seen on attempt %d", attempt)
				return obs, "", true
			}
			reason = fmt.Sprintf("no handshake within %v", m.opts.HandshakeWindow)
		}

		if !time.Now().Before(deadline) {
			return Observation{}, reason, false
		}
		if !sleep(ctx, m.opts.PollInterval) {
			return Observation{}, reason, false
		}
	}
}

// Down takes the tunnel down. An absent interface is already down. The
// outcome is decided by a live read, not the command's exit code.
func (m *Manager) Down(ctx context.Context) (TunnelState, error) {
	if !m.opMu.TryLock() {
		return m.Status(), fmt.Errorf("%w: a tunnel operation is already running", common.ErrBusy)
	}
	defer m.opMu.Unlock()

	cur := m.Status()
	path := m.configPath()

	if obs, err := m.Observe(ctx); err == nil && !obs.Present {
		m.removeConfig(ctx, path)
		if cur.Phase == PhaseDown {
			return cur, nil
		}
		return m.setState(ctx, "down", TunnelState{Phase: PhaseDown}), nil
	}

	target := path
	if !common.FileExists(path) {
		target = m.opts.Interface
	}
	if _, err := m.runner.Run(ctx, executor.Request{
		Command: executor.CmdTunnelDown,
		Args:    []string{target},
	}); err != nil {
		common.LogWarnCtx(ctx, "Tunnel down command reported: %v", err)
	}
	m.removeConfig(ctx, path)

	obs, err := m.Observe(ctx)
	if err != nil {
		st := m.setState(ctx, "down", TunnelState{Phase: PhaseFailed, Name: cur.Name, Reason: "could not confirm interface is gone"})
		return st, fmt.Errorf("tunnel down could not be confirmed: %w", err)
	}
	if obs.Present {
		st := m.setState(ctx, "down", TunnelState{Phase: PhaseFailed, Name: cur.Name, Reason: "interface still present after down"})
		return st, fmt.Errorf("%w: %s is still present", common.ErrCommandFailed, m.opts.Interface)
	}
	return m.setState(ctx, "down", TunnelState{Phase: PhaseDown}), nil
}

// Observe reads the live interface. A missing interface is reported as
// Present=false rather than an error.
func (m *Manager) Observe(ctx context.Context) (Observation, error) {
	res, err := m.runner.Run(ctx, executor.Request{
		Command: executor.CmdTunnelStatus,
		Args:    []string{m.opts.Interface, "dump"},
	})
	if err != nil {
		if errors.Is(err, common.ErrCommandFailed) && isMissingInterface(stderrOf(res, err)) {
			return Observation{}, nil
		}
		return Observation{}, err
	}
	return parseDump(res.Stdout), nil
}

// Reconcile compares the belief with a live read and corrects drift. It
// never brings a tunnel up. It is skipped while Up or Down is in flight,
// and reports whether the phase or degraded flag changed.
func (m *Manager) Reconcile(ctx context.Context) (bool, error) {
	if !m.opMu.TryLock() {
		common.LogDebugCtx(ctx, "Tunnel reconcile skipped: operation in flight")
		return false, nil
	}
	defer m.opMu.Unlock()

	obs, err := m.Observe(ctx)
	if err != nil {
		return false, fmt.Errorf("tunnel status: %w", err)
	}

	cur := m.Status()
	switch cur.Phase {
	case PhaseUp:
		if !obs.Present {
			m.setState(ctx, "reconcile", TunnelState{Phase: PhaseDown, Reason: "interface disappeared"})
			return true, nil
		}
		next := m.upState(cur.Name, obs)
		m.setState(ctx, "reconcile", next)
		return next.Degraded != cur.Degraded, nil

	default:
		if !obs.Present {
			if cur.Phase == PhaseBringingUp {
				m.setState(ctx, "reconcile", TunnelState{Phase: PhaseDown})
				return true, nil
			}
			return false, nil
		}
		// Brought up outside of this process, or left behind by a
		// failed up that keeps its name
		hint := ""
		if cur.Phase == PhaseFailed {
			hint = cur.Name
		}
		name := m.identify(obs, hint)
		m.mu.Lock()
		m.keepalive = obs.Keepalive()
		m.mu.Unlock()
		m.setState(ctx, "reconcile", m.upState(name, obs))
		return true, nil
	}
}

// upState builds an Up state from a live observation.
func (m *Manager) upState(name string, obs Observation) TunnelState {
	hs := obs.LatestHandshake()
	rx, tx := obs.Transfer()
	degraded := hs.IsZero() || m.opts.Now().Sub(hs) > m.StaleThreshold()
	return TunnelState{
		Phase:         PhaseUp,
		Name:          name,
		Endpoint:      obs.Endpoint(),
		LastHandshake: hs,
		RxBytes:       rx,
		TxBytes:       tx,
		Degraded:      degraded,
	}
}

// setState replaces the state and returns the stored value. Telemetry
// refreshes keep Since and are not logged as transitions.
func (m *Manager) setState(ctx context.Context, cause string, next TunnelState) TunnelState {
	next.Since = time.Now()

	m.mu.Lock()
	prev := m.state
	if prev.Phase == next.Phase && prev.Name == next.Name {
		next.Since = prev.Since
	}
	m.state = next
	m.mu.Unlock()

	if prev.Phase != next.Phase || prev.Name != next.Name || prev.Degraded != next.Degraded {
		common.LogInfoCtx(ctx, "tunnel %s: %s -> %s", cause, prev, next)
		common.RecordEvent(ctx, m.opts.Recorder, common.Event{
			Resource: common.ResourceTunnel,
			Cause:    cause,
			From:     prev.String(),
			To:       next.String(),
			Detail:   next.Reason,
		})
	}
	return next
}

// writeConfig places the configuration where wg-quick expects it.
func (m *Manager) writeConfig(path, text string) error {
	if err := common.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to prepare %s: %w", filepath.Dir(path), err)
	}
	if err := common.WriteFileAtomic(path, []byte(text), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// removeConfig deletes the system copy, which holds the private key.
func (m *Manager) removeConfig(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		common.LogWarnCtx(ctx, "Could not remove %s: %v", path, err)
	}
}

// teardown takes a half-configured interface down after a failed up. It
// runs even if ctx has been cancelled.
func (m *Manager) teardown(ctx context.Context, path string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := m.runner.Run(ctx, executor.Request{
		Command: executor.CmdTunnelDown,
		Args:    []string{path},
	}); err != nil {
		common.LogDebugCtx(ctx, "Cleanup tunnel down reported: %v", err)
	}
	m.removeConfig(ctx, path)
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
