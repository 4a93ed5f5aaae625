package patterns

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestJacRegistry_Size(t *testing.T) {
	if Jac.Len() != 32 {
		t.Errorf("Len = %d, want 32", Jac.Len())
	}
	for _, name := range MinimalFinal {
		if !Jac.Has(name) {
			t.Errorf("minimal pattern %q not registered", name)
		}
	}
}

func TestNewRegistry_DuplicateName(t *testing.T) {
	_, err := NewRegistry([]Def{{`a`, "x"}, {`b`, "x"}})
	if err == nil {
		t.Fatal("expected error for duplicate name")
	}
}

func TestNewRegistry_BadExpr(t *testing.T) {
	_, err := NewRegistry([]Def{{`(`, "broken"}})
	if err == nil {
		t.Fatal("expected compile error")
	}
}

func TestFind_CaseInsensitive(t *testing.T) {
	text := "WALKER Greeter { can greet WITH ENTRY { report here; } }"
	got := Jac.Find(text)
	want := []string{"with entry", "walker definition", "ability definition", "report", "here keyword"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Find mismatch (-want +got):\n%s", diff)
	}
}

func TestFind_EdgeOperators(t *testing.T) {
	set := Jac.FindSet("root ++> Node(); a <++> b; x --> y;")
	for _, name := range []string{"edge: ++>", "edge: <++>", "edge: -->"} {
		if !set[name] {
			t.Errorf("expected %q to match", name)
		}
	}
	if set["edge: <-->"] {
		t.Error("did not expect <--> to match")
	}
}

func TestFind_Empty(t *testing.T) {
	if got := Jac.Find(""); len(got) != 0 {
		t.Errorf("Find(\"\") = %v, want none", got)
	}
}

func TestMissing_Sorted(t *testing.T) {
	want := map[string]bool{"spawn": true, "by llm()": true, "visit": true}
	have := map[string]bool{"visit": true}
	got := Missing(want, have)
	if diff := cmp.Diff([]string{"by llm()", "spawn"}, got); diff != "" {
		t.Errorf("Missing mismatch (-want +got):\n%s", diff)
	}
}

func TestCountConstruct(t *testing.T) {
	text := "node A {}\nnode B {}\nwalker W {}\nby_llm fn\n"
	if n := CountConstruct(text, "node"); n != 2 {
		t.Errorf("node count = %d, want 2", n)
	}
	if n := CountConstruct(text, "walker"); n != 1 {
		t.Errorf("walker count = %d, want 1", n)
	}
	if n := CountConstruct(text, "spawn"); n != 0 {
		t.Errorf("spawn count = %d, want 0", n)
	}
	if n := CountConstruct(text, "by_llm"); n != 1 {
		t.Errorf("by_llm count = %d, want 1", n)
	}
}
