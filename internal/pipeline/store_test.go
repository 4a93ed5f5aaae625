package pipeline

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lucasnoah/docfactory/internal/checks"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return NewStore(filepath.Join(root, "output"), filepath.Join(root, "release"))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestStore_Paths(t *testing.T) {
	s := NewStore("/work/output", "/work/release")
	if got := s.ExtractedPath(); got != "/work/output/1_extracted/extracted_content.txt" {
		t.Errorf("ExtractedPath = %q", got)
	}
	if got := s.TopicsDir(); got != "/work/output/1_extracted/topics" {
		t.Errorf("TopicsDir = %q", got)
	}
	if got := s.ReducedPath(); got != "/work/output/3_reduced/reduced.md" {
		t.Errorf("ReducedPath = %q", got)
	}
	if got := s.FinalPath(); got != "/work/output/4_final/jac_reference.txt" {
		t.Errorf("FinalPath = %q", got)
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.md"), "bb")
	writeFile(t, filepath.Join(dir, "sub", "a.md"), "a")
	writeFile(t, filepath.Join(dir, "c.jac"), "ccc")
	writeFile(t, filepath.Join(dir, "notes.txt"), "xxxx")

	files, total, err := ListFiles(dir, ".md", ".jac")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	want := []FileInfo{{Name: "b.md", Size: 2}, {Name: "c.jac", Size: 3}, {Name: "sub/a.md", Size: 1}}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if total != 6 {
		t.Errorf("total = %d, want 6", total)
	}

	all, _, err := ListFiles(dir)
	if err != nil || len(all) != 4 {
		t.Errorf("all files = %v, %v", all, err)
	}
}

func TestListFiles_MissingDir(t *testing.T) {
	files, total, err := ListFiles(filepath.Join(t.TempDir(), "absent"), ".md")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 0 || total != 0 || files == nil {
		t.Errorf("got %v, %d", files, total)
	}
}

func TestReadFiles_Order(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "02-walkers.md"), "walkers")
	writeFile(t, filepath.Join(dir, "01-nodes.md"), "nodes")

	files, contents, err := ReadFiles(dir, ".md")
	if err != nil {
		t.Fatalf("ReadFiles: %v", err)
	}
	if diff := cmp.Diff([]string{"nodes", "walkers"}, contents); diff != "" {
		t.Errorf("contents mismatch (-want +got):\n%s", diff)
	}
	if files[0].Name != "01-nodes.md" {
		t.Errorf("first file = %q", files[0].Name)
	}
}

func TestStore_ResetDir(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, filepath.Join(s.Dir(MergedDir), "old.md"), "stale")
	if err := s.ResetDir(MergedDir); err != nil {
		t.Fatalf("ResetDir: %v", err)
	}
	entries, err := os.ReadDir(s.Dir(MergedDir))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("dir not emptied: %v", entries)
	}

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := os.Stat(s.OutputDir()); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("output dir still exists: %v", err)
	}
}

func TestStore_NextReleaseNumber(t *testing.T) {
	s := newTestStore(t)
	n, err := s.NextReleaseNumber()
	if err != nil || n != 1 {
		t.Fatalf("empty release dir: %d, %v", n, err)
	}

	writeFile(t, filepath.Join(s.ReleaseDir(), "jac_docs_final.txt"), "v1")
	n, _ = s.NextReleaseNumber()
	if n != 2 {
		t.Errorf("after unnumbered file = %d, want 2", n)
	}

	writeFile(t, filepath.Join(s.ReleaseDir(), "jac_docs_final7.txt"), "v7")
	writeFile(t, filepath.Join(s.ReleaseDir(), "jac_docs_final_draft.txt"), "ignored")
	writeFile(t, filepath.Join(s.ReleaseDir(), "candidate.txt"), "c")
	n, _ = s.NextReleaseNumber()
	if n != 8 {
		t.Errorf("NextReleaseNumber = %d, want 8", n)
	}
}

func TestStore_WriteRelease(t *testing.T) {
	s := newTestStore(t)
	rel, err := s.PlanRelease()
	if err != nil {
		t.Fatalf("PlanRelease: %v", err)
	}
	if filepath.Base(rel.VersionedPath) != "jac_docs_final1.txt" {
		t.Errorf("VersionedPath = %q", rel.VersionedPath)
	}

	v := &FinalValidation{IsValid: true, PatternsFound: 30, PatternsTotal: 32, Release: rel}
	if err := s.WriteRelease(rel, "# Ref\n", v); err != nil {
		t.Fatalf("WriteRelease: %v", err)
	}
	for _, p := range []string{rel.VersionedPath, rel.CandidatePath} {
		data, err := os.ReadFile(p)
		if err != nil || string(data) != "# Ref\n" {
			t.Errorf("%s = %q, %v", p, data, err)
		}
	}
	back, err := s.LoadValidation()
	if err != nil {
		t.Fatalf("LoadValidation: %v", err)
	}
	if !back.IsValid || back.PatternsFound != 30 || back.Release == nil || back.Release.Number != 1 {
		t.Errorf("validation = %+v", back)
	}

	next, _ := s.PlanRelease()
	if next.Number != 2 {
		t.Errorf("next release = %d, want 2", next.Number)
	}
}

func TestStore_MetricsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.LoadMetrics(); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("LoadMetrics on empty store err = %v", err)
	}
	m := &Metrics{RunID: "r1", Stages: []StageMetrics{*NewStageMetrics("fetch", "Fetch & Sanitize")}, TotalInputSize: 10}
	if err := s.SaveMetrics(m); err != nil {
		t.Fatalf("SaveMetrics: %v", err)
	}
	back, err := s.LoadMetrics()
	if err != nil {
		t.Fatalf("LoadMetrics: %v", err)
	}
	if back.RunID != "r1" || back.Stage("fetch") == nil || back.Stage("fetch").Status != StatusPending {
		t.Errorf("metrics = %+v", back)
	}
	if back.Stage("missing") != nil {
		t.Error("Stage(missing) should be nil")
	}
}

func TestStageMetrics_Derived(t *testing.T) {
	m := NewStageMetrics("reduce", "Hierarchical Reduce")
	if m.Duration() != 0 || m.CompressionRatio() != 1 {
		t.Errorf("zero metrics: %v %v", m.Duration(), m.CompressionRatio())
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)
	m.StartTime, m.EndTime = &start, &end
	m.InputSize, m.OutputSize = 1000, 250

	if m.Duration() != 1500*time.Millisecond {
		t.Errorf("Duration = %v", m.Duration())
	}
	if m.CompressionRatio() != 0.25 {
		t.Errorf("CompressionRatio = %v", m.CompressionRatio())
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["duration"] != 1.5 || raw["compression_ratio"] != 0.25 || raw["key"] != "reduce" {
		t.Errorf("json = %s", data)
	}
}

func TestStageMetrics_ResetAndClone(t *testing.T) {
	m := NewStageMetrics("merge", "Topic Merge")
	m.Status = StatusError
	m.Error = "boom"
	m.Files = append(m.Files, FileInfo{Name: "a.md", Size: 1})
	m.Extra = map[string]any{"topics": 3}

	c := m.Clone()
	c.Files[0].Name = "changed"
	c.Extra["topics"] = 9
	if m.Files[0].Name != "a.md" || m.Extra["topics"] != 3 {
		t.Error("Clone shares state with the original")
	}

	m.Reset()
	if m.Status != StatusPending || m.Error != "" || len(m.Files) != 0 || m.Extra != nil || m.Key != "merge" {
		t.Errorf("after Reset = %+v", m)
	}
}

func TestNewCheckSummary(t *testing.T) {
	s := NewCheckSummary(&checks.VerifyResult{TotalBlocks: 5, Passed: 3, Failed: 1, Skipped: 1, PassRate: 75})
	if s.TotalBlocks != 5 || s.PassRate != 75 || s.Errors == nil {
		t.Errorf("summary = %+v", s)
	}
	if empty := NewCheckSummary(nil); empty.Errors == nil || empty.TotalBlocks != 0 {
		t.Errorf("nil summary = %+v", empty)
	}
}

func TestWriteAtomic_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")
	if err := WriteJSON(path, map[string]int{"a": 1}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	var back map[string]int
	if err := ReadJSON(path, &back); err != nil || back["a"] != 1 {
		t.Errorf("ReadJSON = %v, %v", back, err)
	}
}
