// Package common provides shared constants, types, utilities, and interfaces
// used throughout the TravelNet connection orchestrator.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: default interfaces, paths, timeouts and poll budgets
//   - Errors: the sentinel error taxonomy shared by every package
//   - Validation: checks applied to user input before it reaches a command
//   - Interfaces: credential storage, event recording and logging
//   - Logger: leveled logging with optional rotated file output
//
// # Usage
//
//	if err := common.ValidateSSID(ssid); err != nil {
//	    return err // errors.Is(err, common.ErrValidation)
//	}
//
//	common.LogInfo("Connecting to %q", ssid)
//
//	if errors.Is(err, common.ErrBusy) {
//	    // Tell the caller to retry later
//	}
package common
