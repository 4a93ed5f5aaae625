package checks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Toolchain compiles and tests whole generated programs. It implements the
// scoring package's case checker.
type Toolchain struct {
	runner       *Runner
	CheckCommand string        // default "jac check"
	TestCommand  string        // default "jac test"
	CheckTimeout time.Duration // default 10s
	TestTimeout  time.Duration // default 30s
}

// NewToolchain creates a Toolchain with default commands and timeouts.
func NewToolchain(cmd CommandRunner) *Toolchain {
	return &Toolchain{
		runner:       NewRunner(cmd),
		CheckCommand: "jac check",
		TestCommand:  "jac test",
		CheckTimeout: 10 * time.Second,
		TestTimeout:  30 * time.Second,
	}
}

// Check runs the syntax checker over code. A missing checker counts as
// valid so that scoring still works on machines without the toolchain.
func (t *Toolchain) Check(ctx context.Context, code string) (bool, []string, error) {
	r, err := t.run(ctx, "program.jac", code, CheckConfig{
		Name:    "jac-check",
		Command: t.CheckCommand,
		Parser:  "jac",
		Timeout: t.CheckTimeout,
	})
	if errors.Is(err, ErrCheckerUnavailable) {
		return true, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	if r.TimedOut {
		return false, []string{"Syntax check timed out"}, nil
	}
	return r.Passed, errorLines(r.Findings), nil
}

// Test runs code followed by harness under the test command.
func (t *Toolchain) Test(ctx context.Context, code, harness string) (bool, string, error) {
	r, err := t.run(ctx, "test_program.jac", code+"\n\n"+harness, CheckConfig{
		Name:    "jac-test",
		Command: t.TestCommand,
		Parser:  "generic",
		Timeout: t.TestTimeout,
	})
	if err != nil {
		return false, "", err
	}
	if r.TimedOut {
		return false, "Functional test timed out", nil
	}
	return r.Passed, r.Stdout + r.Stderr, nil
}

func (t *Toolchain) run(ctx context.Context, name, code string, cfg CheckConfig) (*Result, error) {
	dir, err := os.MkdirTemp("", "jaceval-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	cfg.Command += " " + shellQuote(path)
	return t.runner.Run(ctx, dir, cfg)
}

// errorLines keeps the lines of checker output that report an error.
func errorLines(out string) []string {
	var errs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Error:") || (strings.Contains(strings.ToLower(line), "error") && strings.Contains(line, ":")) {
			errs = append(errs, line)
		}
	}
	return errs
}
