package checks

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestToolchain_Check(t *testing.T) {
	mock := &mockCmd{results: []mockResult{
		{ExitCode: 0},
		{Stderr: "Error: unexpected token '}'\nhint: check braces\nline 3: syntax error: bad", ExitCode: 1},
	}}
	tc := NewToolchain(mock)

	ok, errs, err := tc.Check(context.Background(), "node A {}")
	if err != nil || !ok || len(errs) != 0 {
		t.Fatalf("valid code: ok=%v errs=%v err=%v", ok, errs, err)
	}
	if !strings.HasPrefix(mock.calls[0].Command, "jac check '") || !strings.HasSuffix(mock.calls[0].Command, "program.jac'") {
		t.Errorf("command = %q", mock.calls[0].Command)
	}

	ok, errs, err = tc.Check(context.Background(), "node A {")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected invalid")
	}
	want := []string{"Error: unexpected token '}'", "line 3: syntax error: bad"}
	if diff := cmp.Diff(want, errs); diff != "" {
		t.Errorf("errors (-want +got):\n%s", diff)
	}
}

func TestToolchain_CheckUnavailableCountsAsValid(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stderr: "sh: jac: not found", ExitCode: 127}}}
	ok, errs, err := NewToolchain(mock).Check(context.Background(), "node A {}")
	if err != nil || !ok || errs != nil {
		t.Errorf("ok=%v errs=%v err=%v, want valid", ok, errs, err)
	}
}

func TestToolchain_Test(t *testing.T) {
	mock := &mockCmd{results: []mockResult{
		{Stdout: "1 passed", ExitCode: 0},
		{Stdout: "F", Stderr: "AssertionError", ExitCode: 1},
	}}
	tc := NewToolchain(mock)

	passed, out, err := tc.Test(context.Background(), "node A {}", "test t { check True; }")
	if err != nil || !passed || out != "1 passed" {
		t.Errorf("passed=%v out=%q err=%v", passed, out, err)
	}
	if !strings.HasPrefix(mock.calls[0].Command, "jac test ") {
		t.Errorf("command = %q", mock.calls[0].Command)
	}

	passed, out, err = tc.Test(context.Background(), "node A {}", "test t { check False; }")
	if err != nil || passed || out != "FAssertionError" {
		t.Errorf("passed=%v out=%q err=%v", passed, out, err)
	}
}
