package checks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrCheckerUnavailable is returned when the external syntax checker cannot be
// found. It is an environment precondition failure, not a block failure.
var ErrCheckerUnavailable = errors.New("syntax checker unavailable")

// exitNotFound is the shell's exit status for an unknown command.
const exitNotFound = 127

// Result holds the structured output of a single checker invocation.
type Result struct {
	CheckName  string `json:"check_name"`
	Passed     bool   `json:"passed"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int    `json:"duration_ms"`
	Summary    string `json:"summary"`
	Findings   string `json:"findings"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
}

// CheckConfig describes one checker invocation.
type CheckConfig struct {
	Name    string
	Command string
	Parser  string
	Timeout time.Duration
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes checker commands and parses their output.
type Runner struct {
	cmd     CommandRunner
	parsers map[string]Parser
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	r := &Runner{
		cmd:     cmd,
		parsers: make(map[string]Parser),
	}
	r.parsers["jac"] = &JacParser{}
	r.parsers["generic"] = &GenericParser{}
	return r
}

// Run executes a single check in dir, bounded by cfg.Timeout.
func (r *Runner) Run(ctx context.Context, dir string, cfg CheckConfig) (*Result, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(ctx, dir, cfg.Command)
	durationMs := int(time.Since(start).Milliseconds())

	if errors.Is(err, exec.ErrNotFound) || exitCode == exitNotFound {
		return nil, fmt.Errorf("run %q: %w", cfg.Command, ErrCheckerUnavailable)
	}

	// Deadline exceeded is a failed block, not a runner error.
	if ctx.Err() == context.DeadlineExceeded {
		return &Result{
			CheckName:  cfg.Name,
			Passed:     false,
			TimedOut:   true,
			ExitCode:   -1,
			DurationMs: durationMs,
			Summary:    fmt.Sprintf("timeout after %s", timeout),
			Stdout:     stdout,
			Stderr:     stderr,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("run check %q: %w", cfg.Name, err)
	}

	parser, ok := r.parsers[cfg.Parser]
	if !ok {
		parser = r.parsers["generic"]
	}
	parsed := parser.Parse(stdout, stderr, exitCode)

	return &Result{
		CheckName:  cfg.Name,
		Passed:     exitCode == 0 && parsed.Passed,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Summary:    parsed.Summary,
		Findings:   parsed.Findings,
		Stdout:     stdout,
		Stderr:     stderr,
	}, nil
}
