// Package mock provides a scripted executor.Runner for tests. Each
// command gets a queue of handlers; the last handler repeats once the
// queue is drained. Every invocation is recorded.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yllada/travelnet/executor"
)

// Handler produces the outcome of one invocation.
type Handler func(args []string) (*executor.Result, error)

// Call is a recorded invocation.
type Call struct {
	Command executor.Command
	Args    []string
}

// Runner is a scripted executor.Runner.
type Runner struct {
	mu       sync.Mutex
	handlers map[executor.Command][]Handler
	calls    []Call
}

// New returns a Runner with no handlers. Unscripted commands fail with
// an ExecutionError.
func New() *Runner {
	return &Runner{handlers: make(map[executor.Command][]Handler)}
}

// On queues handlers for cmd.
func (r *Runner) On(cmd executor.Command, handlers ...Handler) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[cmd] = append(r.handlers[cmd], handlers...)
	return r
}

// Set replaces the handler queue for cmd.
func (r *Runner) Set(cmd executor.Command, handlers ...Handler) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[cmd] = append([]Handler(nil), handlers...)
	return r
}

// Run implements executor.Runner.
func (r *Runner) Run(ctx context.Context, req executor.Request) (*executor.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Command: req.Command, Args: append([]string(nil), req.Args...)})
	queue := r.handlers[req.Command]
	var h Handler
	switch len(queue) {
	case 0:
	case 1:
		h = queue[0]
	default:
		h = queue[0]
		r.handlers[req.Command] = queue[1:]
	}
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, executor.NewTimeout(req.Command)
	}
	if h == nil {
		return nil, executor.NewExecutionError(req.Command, fmt.Errorf("mock: no handler for %s", req.Command))
	}
	res, err := h(req.Args)
	if res != nil {
		res.Command = req.Command
	}
	var execErr *executor.Error
	if errors.As(err, &execErr) {
		execErr.Command = req.Command
	}
	return res, err
}

// Calls returns every recorded invocation in order.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsFor returns the recorded invocations of cmd.
func (r *Runner) CallsFor(cmd executor.Command) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Command == cmd {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls but keeps handlers.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// OK succeeds with stdout.
func OK(stdout string) Handler {
	return func([]string) (*executor.Result, error) {
		return &executor.Result{Stdout: stdout}, nil
	}
}

// Fail exits with code and stderr.
func Fail(code int, stderr string) Handler {
	return func([]string) (*executor.Result, error) {
		res := &executor.Result{ExitCode: code, Stderr: stderr}
		return res, executor.NewCommandFailed("", res)
	}
}

// Timeout simulates a command killed at its deadline.
func Timeout() Handler {
	return func([]string) (*executor.Result, error) {
		return nil, executor.NewTimeout("")
	}
}

// SpawnError simulates a missing binary.
func SpawnError() Handler {
	return func([]string) (*executor.Result, error) {
		return nil, executor.NewExecutionError("", fmt.Errorf("executable file not found in $PATH"))
	}
}

// Block waits until release is closed, then delegates to next. Useful
// for holding an operation in flight.
func Block(release <-chan struct{}, next Handler) Handler {
	return func(args []string) (*executor.Result, error) {
		<-release
		return next(args)
	}
}
