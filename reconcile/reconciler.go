// Package reconcile periodically re-derives the truth about the managed
// resources from the live system and corrects drift in the managers'
// beliefs. It also tracks tunnel health across passes.
//
// The reconciler never starts a connection. Reconnecting to the last
// used network or tunnel is a separate, caller-triggered action.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yllada/travelnet/common"
)

// HealthState represents the current health state of the tunnel.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// Resource is a managed resource whose belief can be corrected from a
// live read. Reconcile reports whether the belief changed.
type Resource interface {
	Reconcile(ctx context.Context) (bool, error)
}

// TunnelResource is a Resource that also reports handshake health.
type TunnelResource interface {
	Resource
	Health() (active, degraded bool)
}

// Config holds configuration for the reconciler.
type Config struct {
	// Interval is how often live state is re-read.
	Interval time.Duration
	// FailureThreshold is how many consecutive degraded passes mark the
	// tunnel unhealthy.
	FailureThreshold int
}

// DefaultConfig returns the default reconciler settings.
func DefaultConfig() Config {
	return Config{
		Interval:         common.ReconcileInterval,
		FailureThreshold: common.DegradedThreshold,
	}
}

// TunnelHealth tracks tunnel health across passes.
type TunnelHealth struct {
	State               HealthState
	LastCheck           time.Time
	LastHealthy         time.Time
	ConsecutiveDegraded int
}

// Result summarizes one reconciliation pass.
type Result struct {
	WirelessChanged bool
	TunnelChanged   bool
	Health          HealthState
}

// Reconciler runs reconciliation passes on a fixed interval.
type Reconciler struct {
	wireless Resource
	tunnel   TunnelResource

	passMu sync.Mutex

	mu             sync.RWMutex
	config         Config
	running        bool
	stopChan       chan struct{}
	done           chan struct{}
	health         TunnelHealth
	onHealthChange func(oldState, newState HealthState)
	onDrift        func(resource common.Resource)
}

// New creates a reconciler. Either resource may be nil.
func New(config Config, wireless Resource, tunnel TunnelResource) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = common.ReconcileInterval
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = common.DegradedThreshold
	}
	return &Reconciler{
		wireless: wireless,
		tunnel:   tunnel,
		config:   config,
	}
}

// SetOnHealthChange sets a callback for tunnel health state changes.
func (r *Reconciler) SetOnHealthChange(callback func(oldState, newState HealthState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onHealthChange = callback
}

// SetOnDrift sets a callback invoked when a pass corrected a resource.
func (r *Reconciler) SetOnDrift(callback func(resource common.Resource)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDrift = callback
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopChan = make(chan struct{})
	r.done = make(chan struct{})
	interval := r.config.Interval
	r.mu.Unlock()

	common.LogInfo("Reconciler started (interval: %v)", interval)

	go r.runLoop(interval)
}

// Stop stops the loop and waits for an in-progress pass to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	done := r.done
	r.mu.Unlock()

	<-done
	common.LogInfo("Reconciler stopped")
}

// IsRunning returns whether the loop is currently running.
func (r *Reconciler) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Health returns a copy of the tunnel health record.
func (r *Reconciler) Health() TunnelHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.health
}

// runLoop is the main reconciliation loop.
func (r *Reconciler) runLoop(interval time.Duration) {
	defer close(r.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-r.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			passCtx := common.WithOperationID(ctx, common.NewOperationID())
			if _, err := r.RunOnce(passCtx); err != nil && ctx.Err() == nil {
				common.LogWarn("Reconcile pass: %v", err)
			}
		}
	}
}

// RunOnce performs a single pass over every resource. Passes never
// overlap. Errors from individual resources are joined; a failing
// resource does not stop the others from being reconciled.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	var (
		res  Result
		errs []error
	)

	if r.wireless != nil {
		changed, err := r.wireless.Reconcile(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("wireless: %w", err))
		}
		if changed {
			res.WirelessChanged = true
			r.drift(ctx, common.ResourceWireless)
		}
	}

	if r.tunnel != nil {
		changed, err := r.tunnel.Reconcile(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("tunnel: %w", err))
		}
		if changed {
			res.TunnelChanged = true
			r.drift(ctx, common.ResourceTunnel)
		}
		if err == nil {
			r.checkHealth()
		}
	}

	res.Health = r.Health().State
	return res, errors.Join(errs...)
}

func (r *Reconciler) drift(ctx context.Context, resource common.Resource) {
	common.LogInfoCtx(ctx, "Reconciler corrected %s state", resource)

	r.mu.RLock()
	cb := r.onDrift
	r.mu.RUnlock()
	if cb != nil {
		cb(resource)
	}
}

// checkHealth updates the tunnel health state machine.
func (r *Reconciler) checkHealth() {
	active, degraded := r.tunnel.Health()

	r.mu.Lock()
	health := &r.health
	health.LastCheck = time.Now()
	oldState := health.State

	switch {
	case !active:
		health.State = HealthUnknown
		health.ConsecutiveDegraded = 0
	case degraded:
		health.ConsecutiveDegraded++
		common.LogWarn("Tunnel handshake is stale (pass %d/%d)",
			health.ConsecutiveDegraded, r.config.FailureThreshold)
		if health.ConsecutiveDegraded >= r.config.FailureThreshold {
			health.State = HealthUnhealthy
		} else {
			health.State = HealthDegraded
		}
	default:
		health.ConsecutiveDegraded = 0
		health.LastHealthy = time.Now()
		health.State = HealthHealthy
	}

	newState := health.State
	cb := r.onHealthChange
	r.mu.Unlock()

	// Notify on state change
	if oldState != newState {
		common.LogInfo("Tunnel health changed: %s -> %s", oldState, newState)
		if cb != nil {
			cb(oldState, newState)
		}
	}
}

// UpdateConfig updates the reconciler configuration. A new interval
// takes effect on the next Start.
func (r *Reconciler) UpdateConfig(config Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if config.Interval > 0 {
		r.config.Interval = config.Interval
	}
	if config.FailureThreshold > 0 {
		r.config.FailureThreshold = config.FailureThreshold
	}
}
