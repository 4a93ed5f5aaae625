package checks

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockCmd records calls and returns configured results.
type mockCmd struct {
	mu      sync.Mutex
	calls   []mockCall
	results []mockResult
	callIdx int
}

type mockCall struct {
	Dir     string
	Command string
}

type mockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (m *mockCmd) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{Dir: dir, Command: command})
	if m.callIdx >= len(m.results) {
		return "", "", 0, nil
	}
	r := m.results[m.callIdx]
	m.callIdx++
	return r.Stdout, r.Stderr, r.ExitCode, r.Err
}

// blockingCmd waits for the context to end.
type blockingCmd struct{}

func (blockingCmd) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	<-ctx.Done()
	return "", "", -1, ctx.Err()
}

func TestRunner_Run_HappyPath(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stdout: "ok", ExitCode: 0}}}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:    "block-1",
		Command: "jac check /tmp/test/a.jac",
		Parser:  "jac",
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Errorf("expected passed=true, got false")
	}
	if result.CheckName != "block-1" {
		t.Errorf("expected check_name=block-1, got %q", result.CheckName)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.calls))
	}
	if mock.calls[0].Dir != "/tmp/test" {
		t.Errorf("expected dir=/tmp/test, got %q", mock.calls[0].Dir)
	}
	if mock.calls[0].Command != "jac check /tmp/test/a.jac" {
		t.Errorf("unexpected command %q", mock.calls[0].Command)
	}
}

func TestRunner_Run_FailedCheck(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stderr: "Syntax error at 3:4\nmore detail", ExitCode: 1}}}
	result, err := NewRunner(mock).Run(context.Background(), "/tmp", CheckConfig{Name: "b", Command: "jac check x", Parser: "jac"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Error("expected passed=false")
	}
	if result.Summary != "Syntax error at 3:4" {
		t.Errorf("Summary = %q", result.Summary)
	}
	if result.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", result.ExitCode)
	}
}

func TestRunner_Run_Timeout(t *testing.T) {
	result, err := NewRunner(blockingCmd{}).Run(context.Background(), "/tmp", CheckConfig{
		Name:    "slow",
		Command: "jac check slow.jac",
		Timeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed || !result.TimedOut {
		t.Errorf("expected timed-out failure, got %+v", result)
	}
	if !strings.HasPrefix(result.Summary, "timeout after") {
		t.Errorf("Summary = %q", result.Summary)
	}
}

func TestRunner_Run_ToolMissing(t *testing.T) {
	for name, res := range map[string]mockResult{
		"exit 127":     {Stderr: "sh: jac: not found", ExitCode: 127},
		"exec missing": {ExitCode: -1, Err: exec.ErrNotFound},
	} {
		t.Run(name, func(t *testing.T) {
			mock := &mockCmd{results: []mockResult{res}}
			_, err := NewRunner(mock).Run(context.Background(), "/tmp", CheckConfig{Name: "b", Command: "jac check x"})
			if !errors.Is(err, ErrCheckerUnavailable) {
				t.Errorf("err = %v, want ErrCheckerUnavailable", err)
			}
		})
	}
}

func TestRunner_Run_ExecError(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{ExitCode: -1, Err: errors.New("boom")}}}
	_, err := NewRunner(mock).Run(context.Background(), "/tmp", CheckConfig{Name: "b", Command: "x"})
	if err == nil || errors.Is(err, ErrCheckerUnavailable) {
		t.Errorf("expected plain run error, got %v", err)
	}
}

func TestRunner_Run_UnknownParserFallsToGeneric(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stdout: "output", ExitCode: 0}}}
	result, err := NewRunner(mock).Run(context.Background(), "/tmp", CheckConfig{Name: "t", Command: "x", Parser: "nope"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summary != "passed (exit code 0)" {
		t.Errorf("Summary = %q, want generic summary", result.Summary)
	}
}
