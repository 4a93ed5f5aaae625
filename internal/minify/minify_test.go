package minify

import (
	"fmt"
	"strings"
	"testing"
)

func TestMinify_ReflowsProse(t *testing.T) {
	in := "# Title\nFirst line of\nprose   that wraps.\n\n\n\nSecond paragraph.\n## Next\n- item one\n- item two\ncontinuation\n1. ordered"
	want := "# Title\nFirst line of prose that wraps.\n\nSecond paragraph.\n\n## Next\n- item one\n- item two\ncontinuation\n1. ordered"
	if got := Minify(in); got != want {
		t.Errorf("Minify mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestMinify_PreservesCodeBlocks(t *testing.T) {
	in := "Intro text\n```jac\nnode A {\n\n    has x:   int;   \n}\n```\nAfter code"
	want := "Intro text\n```jac\nnode A {\n    has x:   int;\n}\n```\nAfter code"
	if got := Minify(in); got != want {
		t.Errorf("Minify mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestMinify_ManyBlocksRestoreExactly(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, "## S%d\n```jac\nnode N%d {}\n```\n", i, i)
	}
	got := Minify(b.String())
	for i := 0; i < 12; i++ {
		if !strings.Contains(got, fmt.Sprintf("```jac\nnode N%d {}\n```", i)) {
			t.Errorf("block %d not restored:\n%s", i, got)
		}
	}
	if strings.Contains(got, "__CODEBLOCK_") {
		t.Error("placeholder leaked into output")
	}
}

func TestMinify_Idempotent(t *testing.T) {
	in := "# A\ntext\nmore\n\n```jac\nwalker W {\n\n}\n```\n- x\n- y"
	once := Minify(in)
	if twice := Minify(once); twice != once {
		t.Errorf("second pass changed output:\n%q\n%q", once, twice)
	}
}

func TestRatio(t *testing.T) {
	if Ratio("", "x") != 0 {
		t.Error("empty input ratio should be 0")
	}
	if Ratio("abcd", "ab") != 0.5 {
		t.Error("ratio should be 0.5")
	}
}
