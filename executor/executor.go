// Package executor runs the fixed set of external commands the
// orchestrator is allowed to use. Arguments are always passed as a
// discrete argument vector; no shell is ever involved.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/yllada/travelnet/common"
)

// Command names an allow-listed command.
type Command string

const (
	CmdScan           Command = "scan"
	CmdWifiConnect    Command = "wifi-connect"
	CmdWifiDisconnect Command = "wifi-disconnect"
	CmdWifiStatus     Command = "wifi-status"
	CmdTunnelUp       Command = "tunnel-up"
	CmdTunnelDown     Command = "tunnel-down"
	CmdTunnelStatus   Command = "tunnel-status"
)

// Request is a single invocation of an allow-listed command.
type Request struct {
	Command Command
	// Args are appended to the command's fixed argument prefix.
	Args []string
	// Secrets are masked wherever the invocation is logged.
	Secrets []string
	// Timeout overrides the command's default timeout when positive.
	Timeout time.Duration
}

// Result holds the captured outcome of a command that ran to completion.
type Result struct {
	Command  Command
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes allow-listed commands. The orchestrator's managers
// depend on this interface so tests can substitute a scripted fake.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Tools names the binaries behind the allow-list.
type Tools struct {
	NMCLI   string
	WG      string
	WGQuick string
	// Sudo, when set, is used as "<sudo> -n <tool> ..." for privileged commands.
	Sudo           string
	CommandTimeout time.Duration
	StatusTimeout  time.Duration
}

type spec struct {
	path       string
	prefix     []string
	privileged bool
	timeout    time.Duration
}

// Executor is the production Runner.
type Executor struct {
	specs map[Command]spec
	sudo  string
}

// New builds the allow-list from tools.
func New(tools Tools) *Executor {
	if tools.CommandTimeout <= 0 {
		tools.CommandTimeout = common.CommandTimeout
	}
	if tools.StatusTimeout <= 0 {
		tools.StatusTimeout = common.StatusTimeout
	}

	return &Executor{
		sudo: tools.Sudo,
		specs: map[Command]spec{
			CmdScan: {
				path:    tools.NMCLI,
				prefix:  []string{"--terse", "--escape", "yes", "--fields", "SSID,BSSID,SECURITY,SIGNAL", "device", "wifi", "list"},
				timeout: tools.CommandTimeout,
			},
			CmdWifiConnect: {
				path:    tools.NMCLI,
				prefix:  []string{"device", "wifi", "connect"},
				timeout: tools.CommandTimeout,
			},
			CmdWifiDisconnect: {
				path:    tools.NMCLI,
				prefix:  []string{"device", "disconnect"},
				timeout: tools.CommandTimeout,
			},
			CmdWifiStatus: {
				path:    tools.NMCLI,
				prefix:  []string{"--terse", "--fields", "GENERAL.STATE,GENERAL.CONNECTION,IP4.ADDRESS", "device", "show"},
				timeout: tools.StatusTimeout,
			},
			CmdTunnelUp: {
				path:       tools.WGQuick,
				prefix:     []string{"up"},
				privileged: true,
				timeout:    tools.CommandTimeout,
			},
			CmdTunnelDown: {
				path:       tools.WGQuick,
				prefix:     []string{"down"},
				privileged: true,
				timeout:    tools.CommandTimeout,
			},
			CmdTunnelStatus: {
				path:       tools.WG,
				prefix:     []string{"show"},
				privileged: true,
				timeout:    tools.StatusTimeout,
			},
		},
	}
}

// CheckTools verifies every allow-listed binary can be found.
func (e *Executor) CheckTools() error {
	seen := make(map[string]bool)
	var missing []string
	for _, s := range e.specs {
		if seen[s.path] {
			continue
		}
		seen[s.path] = true
		if _, err := exec.LookPath(s.path); err != nil {
			missing = append(missing, s.path)
		}
	}
	if e.sudo != "" {
		if _, err := exec.LookPath(e.sudo); err != nil {
			missing = append(missing, e.sudo)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: required tools not found: %s", common.ErrExecution, strings.Join(missing, ", "))
	}
	return nil
}

// Run executes req. It returns a *Error wrapping ErrExecution,
// ErrCommandFailed or ErrTimeout when the command did not succeed, and a
// ValidationError without spawning anything when req is not acceptable.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	s, ok := e.specs[req.Command]
	if !ok {
		return nil, common.NewValidationError("command", "%q is not allow-listed", req.Command)
	}
	for _, arg := range req.Args {
		if strings.ContainsAny(arg, "\x00\r\n") {
			return nil, common.NewValidationError("argument", "control characters are not allowed")
		}
	}

	timeout := s.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name := s.path
	argv := make([]string, 0, len(s.prefix)+len(req.Args)+2)
	if s.privileged && e.sudo != "" {
		name = e.sudo
		argv = append(argv, "-n", s.path)
	}
	argv = append(argv, s.prefix...)
	argv = append(argv, req.Args...)

	display := common.Redact(name+" "+strings.Join(argv, " "), req.Secrets)
	common.LogDebugCtx(ctx, "exec[%s]: %s", req.Command, display)

	cmd := exec.CommandContext(ctx, name, argv...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	stdout := &limitedBuffer{max: common.MaxCommandOutput}
	stderr := &limitedBuffer{max: common.MaxCommandOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)

	start := time.Now()
	runErr := cmd.Run()
	result := &Result{
		Command:  req.Command,
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if stdout.truncated || stderr.truncated {
		common.LogWarnCtx(ctx, "exec[%s]: output truncated at %d bytes", req.Command, common.MaxCommandOutput)
	}

	if runErr == nil {
		common.LogDebugCtx(ctx, "exec[%s]: exit 0 in %v", req.Command, result.Duration.Round(time.Millisecond))
		return result, nil
	}

	if ctx.Err() != nil {
		common.LogWarnCtx(ctx, "exec[%s]: timed out after %v", req.Command, timeout)
		return result, &Error{Kind: KindTimeout, Command: req.Command, Result: result, Err: ctx.Err()}
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		common.LogWarnCtx(ctx, "exec[%s]: exit %d: %s", req.Command, result.ExitCode,
			common.Redact(firstLine(result.Stderr), req.Secrets))
		return result, &Error{Kind: KindCommandFailed, Command: req.Command, Result: result, Err: runErr}
	}

	common.LogErrorCtx(ctx, "exec[%s]: could not start %s: %v", req.Command, name, runErr)
	return nil, &Error{Kind: KindExecution, Command: req.Command, Err: runErr}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// limitedBuffer keeps at most max bytes and silently drops the rest so
// a runaway tool cannot exhaust memory on the router.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if remaining := b.max - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			p = p[:remaining]
			b.truncated = true
		}
		b.buf.Write(p)
	} else if n > 0 {
		b.truncated = true
	}
	return n, nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
