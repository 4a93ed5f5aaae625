package stage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lucasnoah/docfactory/internal/artifact"
	"github.com/lucasnoah/docfactory/internal/checks"
	"github.com/lucasnoah/docfactory/internal/config"
	"github.com/lucasnoah/docfactory/internal/llm"
	"github.com/lucasnoah/docfactory/internal/pipeline"
	"github.com/lucasnoah/docfactory/internal/scoring"
	"github.com/lucasnoah/docfactory/internal/sources"
)

const walkerDoc = "# Walkers\n\n" +
	"## Defining walkers\n\n" +
	"Walkers traverse the graph. A walker is spawned on a node and visits its neighbours,\n" +
	"running abilities with entry on every node it reaches.\n\n" +
	"```jac\n" +
	"node Person {\n" +
	"    has name: str;\n" +
	"}\n\n" +
	"walker Greeter {\n" +
	"    can greet with entry {\n" +
	"        print(here.name);\n" +
	"        visit [-->];\n" +
	"    }\n" +
	"}\n\n" +
	"def summarize(text: str) -> str by llm();\n\n" +
	"with entry {\n" +
	"    root ++> Person(name=\"Ada\");\n" +
	"    root spawn Greeter();\n" +
	"}\n" +
	"```\n"

// recorder is an identity transformer that records every prompt it sees.
type recorder struct {
	mu      sync.Mutex
	prompts []string
}

func (r *recorder) Transform(_ context.Context, content, prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	return content, nil
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}

// streamer emits its content one rune per chunk.
type streamer struct{}

func (streamer) Transform(_ context.Context, content, _ string) (string, error) { return content, nil }

func (streamer) TransformStream(_ context.Context, content, _ string, onChunk func(string)) (string, error) {
	for _, r := range content {
		onChunk(string(r))
	}
	return content, nil
}

// exitCmd answers every checker call with the same exit code.
type exitCmd struct{ exit int }

func (c exitCmd) Run(context.Context, string, string) (string, string, int, error) {
	if c.exit != 0 {
		return "", "Error: unexpected token", c.exit, nil
	}
	return "", "", 0, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	upstream := filepath.Join(root, "upstream")
	if err := os.MkdirAll(upstream, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(upstream, "walkers.md"), []byte(walkerDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.SourceDir = filepath.Join(root, "docs")
	cfg.OutputDir = filepath.Join(root, "output")
	cfg.ScoresDir = filepath.Join(root, "scores")
	cfg.ReleaseDir = filepath.Join(root, "release")
	cfg.PromptsDir = ""
	cfg.Sources = []sources.Source{{ID: "local", Dir: upstream, Path: "."}}
	cfg.Processing.MinContentLength = 50
	return cfg
}

func newEngine(cfg *config.Config, t Transformers, v *checks.Verifier) *Engine {
	return NewEngine(Deps{
		Config:       cfg,
		Transformers: t,
		Verifier:     v,
		History:      scoring.NewHistory(cfg.ScoresDir),
	})
}

func TestResolve(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"fetch", Fetch, true},
		{"sanitize", Fetch, true},
		{" Extract ", Extract, true},
		{"merge", Merge, true},
		{"reduce", Reduce, true},
		{"finalize", Assemble, true},
		{"assemble", Assemble, true},
		{"publish", "", false},
	}
	for _, tt := range tests {
		got, ok := Resolve(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Resolve(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestEngine_FullChain(t *testing.T) {
	cfg := testConfig(t)
	merge := &recorder{}
	e := newEngine(cfg, Transformers{Merge: merge}, nil)
	ctx := context.Background()

	var progressCalls int
	env := Env{RunID: "run-1", Progress: func(int, int, string) { progressCalls++ }}

	res, err := e.Run(ctx, Fetch, env)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.FileCount != 1 || res.Extra["fetched"] != 1 {
		t.Errorf("fetch result = %+v", res)
	}

	if _, err := e.Run(ctx, Extract, env); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, err := os.Stat(e.Store().ExtractedPath()); err != nil {
		t.Errorf("extraction not written: %v", err)
	}

	res, err = e.Run(ctx, Merge, env)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.FileCount == 0 {
		t.Fatal("merge wrote no topics")
	}
	prompts := merge.calls()
	if len(prompts) == 0 || !strings.Contains(prompts[0], "Topic: walkers") {
		t.Errorf("merge prompts = %q", prompts)
	}

	if _, err := e.Run(ctx, Reduce, env); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	reduced, err := os.ReadFile(e.Store().ReducedPath())
	if err != nil {
		t.Fatalf("read reduced: %v", err)
	}
	if !strings.Contains(string(reduced), "root spawn Greeter();") {
		t.Errorf("reduced output lost the example:\n%s", reduced)
	}

	res, err = e.Run(ctx, Assemble, env)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	fv := res.Validation
	if fv == nil {
		t.Fatal("assemble returned no validation")
	}
	if !fv.IsValid {
		t.Errorf("final validation failed: issues=%v missing=%v", fv.Issues, fv.MissingPatterns)
	}
	if !fv.JacCheck.Unavailable {
		t.Error("expected syntax check to be reported unavailable without a verifier")
	}
	if fv.Release == nil || fv.Release.Number != 1 {
		t.Fatalf("release = %+v", fv.Release)
	}
	for _, p := range []string{fv.Release.VersionedPath, fv.Release.CandidatePath, fv.Release.ValidationPath, e.Store().FinalPath()} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing %s: %v", p, err)
		}
	}
	if got := len(scoring.NewHistory(cfg.ScoresDir).LoadHistory()); got != 1 {
		t.Errorf("score history has %d entries, want 1", got)
	}
	if progressCalls == 0 {
		t.Error("no progress reported")
	}
}

func TestMerge_NoInput(t *testing.T) {
	e := newEngine(testConfig(t), Transformers{}, nil)
	_, err := e.Merge(context.Background(), Env{})
	if !errors.Is(err, ErrNoInput) {
		t.Fatalf("err = %v, want ErrNoInput", err)
	}
}

func TestAssemble_NoInput(t *testing.T) {
	e := newEngine(testConfig(t), Transformers{}, nil)
	_, err := e.Assemble(context.Background(), Env{})
	if !errors.Is(err, ErrNoInput) {
		t.Fatalf("err = %v, want ErrNoInput", err)
	}
}

func TestAssemble_EmptyOutputIsFatal(t *testing.T) {
	cfg := testConfig(t)
	empty := llm.Func(func(context.Context, string, string) (string, error) { return "  ", nil })
	e := newEngine(cfg, Transformers{Assemble: empty}, nil)
	if err := e.Store().WriteText(e.Store().ReducedPath(), walkerDoc); err != nil {
		t.Fatal(err)
	}
	_, err := e.Assemble(context.Background(), Env{})
	if !errors.Is(err, llm.ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
	if _, err := os.Stat(e.Store().FinalPath()); !errors.Is(err, os.ErrNotExist) {
		t.Error("final document written despite failed transform")
	}
}

func TestAssemble_BuffersStreamedTokens(t *testing.T) {
	cfg := testConfig(t)
	e := newEngine(cfg, Transformers{Assemble: streamer{}}, nil)
	if err := e.Store().WriteText(e.Store().ReducedPath(), walkerDoc); err != nil {
		t.Fatal(err)
	}

	var (
		mu     sync.Mutex
		chunks []string
	)
	env := Env{RunID: "r", Token: func(s string) {
		mu.Lock()
		chunks = append(chunks, s)
		mu.Unlock()
	}}
	if _, err := e.Assemble(context.Background(), env); err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if got := strings.Join(chunks, ""); got != walkerDoc {
		t.Errorf("streamed text differs from document:\n%s", got)
	}
	if len(chunks) >= len(walkerDoc) {
		t.Errorf("got %d token events for %d chars, want batching", len(chunks), len(walkerDoc))
	}
}

func TestFinalValidate_PassRateGate(t *testing.T) {
	tests := []struct {
		name  string
		exit  int
		valid bool
	}{
		{"all examples pass", 0, true},
		{"all examples fail", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			e := newEngine(cfg, Transformers{}, checks.NewVerifier(exitCmd{exit: tt.exit}, nil))
			fv, err := e.FinalValidate(context.Background(), walkerDoc, nil, false)
			if err != nil {
				t.Fatalf("FinalValidate: %v", err)
			}
			if fv.IsValid != tt.valid {
				t.Errorf("IsValid = %v, want %v (issues %v)", fv.IsValid, tt.valid, fv.Issues)
			}
			if fv.JacCheck.TotalBlocks != 1 {
				t.Errorf("TotalBlocks = %d, want 1", fv.JacCheck.TotalBlocks)
			}
			if fv.QualityScore == nil || fv.PatternsFound == 0 {
				t.Errorf("missing score or patterns: %+v", fv)
			}
			if len(scoring.NewHistory(cfg.ScoresDir).LoadHistory()) != 0 {
				t.Error("score saved without save flag")
			}
		})
	}
}

func TestFinalValidate_ComparesWithBaseline(t *testing.T) {
	cfg := testConfig(t)
	e := newEngine(cfg, Transformers{}, nil)
	ctx := context.Background()

	if _, err := e.FinalValidate(ctx, walkerDoc+strings.Repeat("\nwalker Extra {}\n", 50), nil, true); err != nil {
		t.Fatal(err)
	}
	fv, err := e.FinalValidate(ctx, walkerDoc, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, r := range fv.QualityScore.Regressions {
		if strings.HasPrefix(r, "Output size decreased significantly") {
			found = true
		}
	}
	if !found {
		t.Errorf("regressions = %v, want size regression", fv.QualityScore.Regressions)
	}
}

func TestFinalValidate_UnavailableCheckerKeepsHistoryClean(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	healthy := newEngine(cfg, Transformers{}, checks.NewVerifier(exitCmd{exit: 0}, nil))
	offline := newEngine(cfg, Transformers{}, checks.NewVerifier(exitCmd{exit: 127}, nil))

	if _, err := healthy.FinalValidate(ctx, walkerDoc, nil, true); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	fv, err := offline.FinalValidate(ctx, walkerDoc, nil, true)
	if err != nil {
		t.Fatalf("offline: %v", err)
	}
	if !fv.JacCheck.Unavailable || !fv.QualityScore.JacCheckUnavailable {
		t.Errorf("expected unavailable check in %+v", fv.QualityScore)
	}
	if len(fv.QualityScore.Regressions) != 0 {
		t.Errorf("regressions = %v, want none for an identical document", fv.QualityScore.Regressions)
	}

	fv, err = healthy.FinalValidate(ctx, walkerDoc, nil, true)
	if err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if len(fv.QualityScore.Improvements) != 0 || len(fv.QualityScore.Regressions) != 0 {
		t.Errorf("regs=%v imps=%v after an offline run, want none",
			fv.QualityScore.Regressions, fv.QualityScore.Improvements)
	}

	hist := scoring.NewHistory(cfg.ScoresDir).LoadHistory()
	if len(hist) != 3 {
		t.Fatalf("history has %d entries, want 3", len(hist))
	}
	seen := map[string]bool{}
	for _, s := range hist {
		if seen[s.Version] {
			t.Errorf("duplicate score version %q", s.Version)
		}
		seen[s.Version] = true
	}
	if !hist[1].JacCheckUnavailable || hist[0].JacCheckUnavailable || hist[2].JacCheckUnavailable {
		t.Errorf("unavailable flags = %v/%v/%v, want false/true/false",
			hist[0].JacCheckUnavailable, hist[1].JacCheckUnavailable, hist[2].JacCheckUnavailable)
	}
}

func TestRelease_PublishesArtifacts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Assemble.Publish = true
	store := artifact.NewMemoryStore()
	e := NewEngine(Deps{Config: cfg, Artifacts: store})

	fv := &pipeline.FinalValidation{IsValid: true}
	rel, err := e.Release(context.Background(), "run-7", walkerDoc, fv)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if rel.RemoteURI != "mem://run-7/jac_docs_final1.txt" {
		t.Errorf("RemoteURI = %q", rel.RemoteURI)
	}
	got, err := store.Get(context.Background(), "run-7", "jac_docs_final1.txt")
	if err != nil || string(got) != walkerDoc {
		t.Errorf("published content = %q, %v", got, err)
	}
	saved, err := e.Store().LoadValidation()
	if err != nil {
		t.Fatal(err)
	}
	if saved.Release == nil || saved.Release.RemoteURI != rel.RemoteURI {
		t.Errorf("saved validation release = %+v", saved.Release)
	}

	rel2, err := e.Release(context.Background(), "run-8", walkerDoc, fv)
	if err != nil {
		t.Fatal(err)
	}
	if rel2.Number != 2 {
		t.Errorf("second release number = %d, want 2", rel2.Number)
	}
}

func TestTokenBuffer(t *testing.T) {
	var out []string
	b := newTokenBuffer(func(s string) { out = append(out, s) }, 3, time.Hour)
	for _, c := range []string{"a", "b", "c", "d", "e"} {
		b.Add(c)
	}
	if len(out) != 1 || out[0] != "abcd" {
		t.Fatalf("out = %q, want one batch of 4", out)
	}
	b.Flush()
	b.Flush()
	if len(out) != 2 || out[1] != "e" {
		t.Errorf("out = %q after flush", out)
	}
}
