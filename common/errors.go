// Package common provides shared constants, types, and utilities
// used across the TravelNet connection orchestrator.
package common

import (
	"errors"
	"fmt"
)

// Sentinel errors for orchestrator operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Caller errors. Returned synchronously, never retried.
	ErrValidation = errors.New("validation failed")
	ErrBusy       = errors.New("another operation is in progress")
	ErrNotFound   = errors.New("not found")
	ErrInUse      = errors.New("resource is in use")

	// Command errors.
	ErrExecution     = errors.New("command could not be started")
	ErrCommandFailed = errors.New("command failed")
	ErrTimeout       = errors.New("operation timed out")

	// Soft signal: surfaced but not a failure.
	ErrDegraded = errors.New("connection degraded")

	// Connection errors.
	ErrAlreadyConnected = errors.New("another connection is already active")

	// Tunnel config errors.
	ErrDuplicateName = errors.New("tunnel name already exists")
	ErrInvalidConfig = errors.New("invalid tunnel configuration")

	// Credential errors.
	ErrCredentialStorage = errors.New("failed to store credentials")
	ErrEncryption        = errors.New("encryption error")
	ErrDecryption        = errors.New("decryption error")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
)

// ValidationError describes user input that was rejected before any
// external command ran.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError returns a ValidationError for field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return "invalid " + e.Field + ": " + e.Reason
}

// Is reports ErrValidation so callers can match the whole class.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
