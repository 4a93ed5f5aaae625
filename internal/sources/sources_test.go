package sources

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
)

type gitCall struct {
	Dir  string
	Args []string
}

// mockGit records calls and, on pull, materialises files into the checkout.
type mockGit struct {
	mu      sync.Mutex
	calls   []gitCall
	files   map[string]string // path relative to checkout -> content
	pullErr error
}

func (m *mockGit) Run(_ context.Context, dir string, args ...string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, gitCall{Dir: dir, Args: args})
	m.mu.Unlock()
	if args[0] != "pull" {
		return "", nil
	}
	if m.pullErr != nil {
		return "", m.pullErr
	}
	for rel, content := range m.files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return "", err
		}
	}
	return "", nil
}

func assertArgs(t *testing.T, got []string, want ...string) {
	t.Helper()
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("args = %v, want %v", got, want)
	}
}

func TestFetchSource_Git(t *testing.T) {
	git := &mockGit{files: map[string]string{
		"docs/docs/learn/walkers.md": "walkers",
		"docs/docs/ref/walkers.md":   "walker reference",
		"docs/docs/app.jac":          "node A {}",
	}}
	out := t.TempDir()
	src := Source{ID: "jaseci", GitURL: "https://example.com/repo.git", Path: "docs/docs"}

	stats := NewFetcher(git, nil).FetchSource(context.Background(), src, out)
	if len(stats.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", stats.Errors)
	}
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2 (only *.md)", stats.Total)
	}

	var names []string
	for _, f := range stats.Files {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	want := []string{"ref_walkers.md", "walkers.md"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("names = %v, want %v", names, want)
	}
	if _, err := os.Stat(filepath.Join(out, "jaseci", "ref_walkers.md")); err != nil {
		t.Errorf("collision copy missing: %v", err)
	}

	if len(git.calls) != 4 {
		t.Fatalf("git calls = %d, want 4", len(git.calls))
	}
	assertArgs(t, git.calls[0].Args, "init")
	assertArgs(t, git.calls[1].Args, "remote", "add", "origin", "https://example.com/repo.git")
	assertArgs(t, git.calls[2].Args, "config", "core.sparseCheckout", "true")
	assertArgs(t, git.calls[3].Args, "pull", "--depth=1", "origin", "main")
}

func TestFetchSource_PullFails(t *testing.T) {
	git := &mockGit{pullErr: errors.New("could not resolve host")}
	stats := NewFetcher(git, nil).FetchSource(context.Background(), Source{ID: "x", GitURL: "u", Path: "docs"}, t.TempDir())
	if len(stats.Errors) != 1 || !strings.Contains(stats.Errors[0], "git pull failed") {
		t.Errorf("errors = %v", stats.Errors)
	}
}

func TestFetchSource_MissingPath(t *testing.T) {
	git := &mockGit{files: map[string]string{"other/a.md": "x"}}
	stats := NewFetcher(git, nil).FetchSource(context.Background(), Source{ID: "x", GitURL: "u", Path: "docs"}, t.TempDir())
	if len(stats.Errors) != 1 || !strings.Contains(stats.Errors[0], `path "docs" not found`) {
		t.Errorf("errors = %v", stats.Errors)
	}
}

func TestFetchAll_LocalAndDisabled(t *testing.T) {
	local := t.TempDir()
	if err := os.WriteFile(filepath.Join(local, "guide.md"), []byte("guide"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(local, "main.jac"), []byte("with entry {}"), 0o644); err != nil {
		t.Fatal(err)
	}
	off := false
	srcs := []Source{
		{ID: "local", Dir: local, Type: TypeBoth},
		{ID: "off", GitURL: "u", Enabled: &off},
	}

	git := &mockGit{}
	var progressed []string
	stats, err := NewFetcher(git, nil).FetchAll(context.Background(), srcs, filepath.Join(t.TempDir(), "raw"), 2,
		func(id string, done, total int) { progressed = append(progressed, id) })
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(git.calls) != 0 {
		t.Errorf("local source should not call git, got %d calls", len(git.calls))
	}
	if stats.TotalFiles != 2 || stats.TotalErrors != 0 || len(stats.Sources) != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.TotalSize != int64(len("guide")+len("with entry {}")) {
		t.Errorf("TotalSize = %d", stats.TotalSize)
	}
	if len(progressed) != 1 || progressed[0] != "local" {
		t.Errorf("progress = %v", progressed)
	}
}

func TestFilePatterns(t *testing.T) {
	if got := (Source{Type: TypeJac}).FilePatterns(); got[0] != "*.jac" {
		t.Errorf("jac patterns = %v", got)
	}
	if got := (Source{Type: TypeBoth}).FilePatterns(); len(got) != 2 {
		t.Errorf("both patterns = %v", got)
	}
	if got := (Source{Patterns: []string{"*.txt"}}).FilePatterns(); got[0] != "*.txt" {
		t.Errorf("explicit patterns = %v", got)
	}
}
