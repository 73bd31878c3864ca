package executor

import (
	"fmt"
	"strings"

	"github.com/yllada/travelnet/common"
)

// Kind classifies a failed command.
type Kind int

const (
	// KindExecution means the tool could not be started at all.
	KindExecution Kind = iota
	// KindCommandFailed means the tool ran and exited non-zero.
	KindCommandFailed
	// KindTimeout means the tool was killed at its deadline. The outcome
	// of the action is unknown and must be re-read from the system.
	KindTimeout
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindExecution:
		return "ExecutionError"
	case KindCommandFailed:
		return "CommandFailed"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Error is returned by Runner implementations for commands that did not
// succeed. It matches common.ErrExecution, common.ErrCommandFailed or
// common.ErrTimeout under errors.Is depending on Kind.
type Error struct {
	Kind    Kind
	Command Command
	// Result is nil for KindExecution.
	Result *Result
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindCommandFailed:
		msg := fmt.Sprintf("%s failed", e.Command)
		if e.Result != nil {
			msg = fmt.Sprintf("%s failed with exit code %d", e.Command, e.Result.ExitCode)
			if stderr := strings.TrimSpace(e.Result.Stderr); stderr != "" {
				msg += ": " + firstLine(stderr)
			}
		}
		return msg
	case KindTimeout:
		return fmt.Sprintf("%s timed out", e.Command)
	default:
		return fmt.Sprintf("%s could not be started: %v", e.Command, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is maps the kind onto the shared error taxonomy.
func (e *Error) Is(target error) bool {
	switch target {
	case common.ErrExecution:
		return e.Kind == KindExecution
	case common.ErrCommandFailed:
		return e.Kind == KindCommandFailed
	case common.ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

// Stderr returns the captured stderr, if any.
func (e *Error) Stderr() string {
	if e.Result == nil {
		return ""
	}
	return e.Result.Stderr
}

// NewCommandFailed builds the error for a non-zero exit.
func NewCommandFailed(cmd Command, result *Result) *Error {
	return &Error{Kind: KindCommandFailed, Command: cmd, Result: result, Err: fmt.Errorf("exit status %d", result.ExitCode)}
}

// NewTimeout builds the error for a command killed at its deadline.
func NewTimeout(cmd Command) *Error {
	return &Error{Kind: KindTimeout, Command: cmd, Err: fmt.Errorf("deadline exceeded")}
}

// NewExecutionError builds the error for a command that could not start.
func NewExecutionError(cmd Command, err error) *Error {
	return &Error{Kind: KindExecution, Command: cmd, Err: err}
}
