package dedup

import (
	"strings"
	"testing"
)

func TestLineDeduper_DropsRepeats(t *testing.T) {
	in := "# Walkers\nWalkers traverse nodes.\n\n  walkers TRAVERSE nodes.  \nUse spawn.\n\n# Walkers"
	got := LineDeduper{}.Dedup(in)
	want := "# Walkers\nWalkers traverse nodes.\n\nUse spawn.\n"
	if got != want {
		t.Errorf("Dedup =\n%q\nwant\n%q", got, want)
	}
}

func TestLineDeduper_KeepsFencesBalanced(t *testing.T) {
	in := "```jac\nnode A {}\n```\n```jac\nnode A {}\n```"
	got := LineDeduper{}.Dedup(in)
	if strings.Count(got, "```")%2 != 0 {
		t.Errorf("unbalanced fences in %q", got)
	}
	if strings.Count(got, "node A {}") != 1 {
		t.Errorf("expected duplicate line dropped, got %q", got)
	}
}

func TestLineDeduper_NeverEmptiesNonEmptyInput(t *testing.T) {
	in := "spawn\nspawn\nspawn"
	if got := (LineDeduper{}).Dedup(in); got != "spawn" {
		t.Errorf("Dedup = %q, want %q", got, "spawn")
	}
}

func TestNormalize_Unicode(t *testing.T) {
	// Fullwidth letters fold to ASCII under NFKC.
	if Normalize("ＮＯＤＥ  A") != "node a" {
		t.Errorf("Normalize = %q", Normalize("ＮＯＤＥ  A"))
	}
}

func TestPrefixSet(t *testing.T) {
	s := NewPrefixSet(10)
	if !s.Add("walker Greeter { can greet with entry {} }") {
		t.Error("first add should be new")
	}
	if s.Add("WALKER   greeter { something else entirely }") {
		t.Error("same 10-char prefix should be a duplicate")
	}
	if !s.Add("node Person {}") {
		t.Error("different prefix should be new")
	}
}
