// Package common provides shared constants, types, and utilities
// used across the TravelNet connection orchestrator.
package common

import (
	"context"
	"time"
)

// CredentialStore defines the interface for WiFi credential storage.
// Implementations may use system keyring, encrypted files, etc.
// An empty secret means the network is open.
type CredentialStore interface {
	// Store saves the secret for an SSID, replacing any previous one.
	Store(ssid, secret string) error
	// Get retrieves the secret for an SSID. Returns ErrNotFound if none is stored.
	Get(ssid string) (string, error)
	// Delete removes the secret for an SSID.
	Delete(ssid string) error
	// Clear removes all stored credentials.
	Clear() error
}

// Resource names a managed resource in logs and history.
type Resource string

const (
	ResourceWireless Resource = "wireless"
	ResourceTunnel   Resource = "tunnel"
)

// Event is a single state transition of a managed resource.
type Event struct {
	At       time.Time
	Resource Resource
	// Cause is what triggered the transition: an operation name or "reconcile".
	Cause  string
	From   string
	To     string
	Detail string
}

// EventRecorder persists state transitions.
type EventRecorder interface {
	Record(ctx context.Context, ev Event) error
}

// Logger defines the interface for structured logging.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...interface{})
	// Info logs an informational message.
	Info(msg string, args ...interface{})
	// Warn logs a warning message.
	Warn(msg string, args ...interface{})
	// Error logs an error message.
	Error(msg string, args ...interface{})
}

// RecordEvent sends ev to r, tolerating a nil recorder. Recording
// failures are logged and never fail the operation.
func RecordEvent(ctx context.Context, r EventRecorder, ev Event) {
	if r == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if err := r.Record(ctx, ev); err != nil {
		LogWarn("Failed to record %s transition %s -> %s: %v", ev.Resource, ev.From, ev.To, err)
	}
}
