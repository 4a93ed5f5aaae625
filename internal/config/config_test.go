package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/docfactory/internal/sources"
)

const validConfig = `
name: jac-docs
source_dir: raw
output_dir: out
scores_dir: /var/scores
sources:
  - id: jaseci
    git_url: https://github.com/jaseci-labs/jaseci.git
    branch: main
    path: docs/docs
    type: docs
  - id: local-examples
    dir: examples
    type: jac
    enabled: false
processing:
  skip_patterns:
    - "**/changelog.md"
  min_content_length: 150
llm:
  provider: gemini
  model: gemini-2.5-flash
  temperature: 0.2
  max_tokens: 8000
  seed: 7
  timeout: 90s
  stream_timeout: "240"
merge:
  model: gemini-2.5-pro
  temperature: 0.1
  workers: 4
reduce:
  ratio: 3
  max_passes: 3
assemble:
  stream: false
  required_patterns: ["spawn", "with entry"]
checker:
  command: jac check --strict
  timeout: 3s
  workers: 8
ledger:
  dsn: postgres://factory@localhost/docfactory
logging:
  level: debug
  format: json
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "docfactory.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	base := filepath.Dir(path)

	if cfg.Name != "jac-docs" {
		t.Errorf("Name = %q, want %q", cfg.Name, "jac-docs")
	}
	if cfg.SourceDir != filepath.Join(base, "raw") {
		t.Errorf("SourceDir = %q, want resolved against config dir", cfg.SourceDir)
	}
	if cfg.ScoresDir != "/var/scores" {
		t.Errorf("ScoresDir = %q, absolute path should be kept", cfg.ScoresDir)
	}
	if cfg.ReleaseDir != filepath.Join(base, "release") {
		t.Errorf("ReleaseDir = %q, want default resolved", cfg.ReleaseDir)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("Sources = %d, want 2", len(cfg.Sources))
	}
	if cfg.Sources[1].IsEnabled() {
		t.Error("local-examples should be disabled")
	}
	if cfg.Sources[1].Dir != filepath.Join(base, "examples") {
		t.Errorf("source dir = %q", cfg.Sources[1].Dir)
	}
	if cfg.Processing.MinContentLength != 150 {
		t.Errorf("MinContentLength = %d, want 150", cfg.Processing.MinContentLength)
	}
	if cfg.LLM.Provider != "gemini" || cfg.LLM.APIKeyEnv != "GEMINI_API_KEY" {
		t.Errorf("LLM provider/key env = %q/%q", cfg.LLM.Provider, cfg.LLM.APIKeyEnv)
	}
	if cfg.LLM.Seed == nil || *cfg.LLM.Seed != 7 {
		t.Errorf("Seed = %v, want 7", cfg.LLM.Seed)
	}
	if cfg.LLM.Timeout.Std() != 90*time.Second {
		t.Errorf("Timeout = %v, want 90s", cfg.LLM.Timeout)
	}
	if cfg.LLM.StreamTimeout.Std() != 240*time.Second {
		t.Errorf("StreamTimeout = %v, want 240s from integer seconds", cfg.LLM.StreamTimeout)
	}
	if cfg.Merge.Model != "gemini-2.5-pro" || cfg.Merge.Temperature == nil || *cfg.Merge.Temperature != 0.1 {
		t.Errorf("merge override = %+v", cfg.Merge.StageLLM)
	}
	if cfg.Merge.ChunkThreshold != 20000 || cfg.Merge.MaxChunkSize != 15000 {
		t.Errorf("merge chunking defaults = %d/%d", cfg.Merge.ChunkThreshold, cfg.Merge.MaxChunkSize)
	}
	if cfg.Reduce.Ratio != 3 || cfg.Reduce.MaxPasses != 3 || cfg.Reduce.MinPatternRatio != 0.7 {
		t.Errorf("reduce = %+v", cfg.Reduce)
	}
	if Bool(cfg.Assemble.Stream, true) {
		t.Error("assemble.stream should be false")
	}
	if !Bool(cfg.Assemble.Minify, true) {
		t.Error("assemble.minify should default to true")
	}
	if cfg.Checker.Timeout.Std() != 3*time.Second || cfg.Checker.MinPassRate != 80 {
		t.Errorf("checker = %+v", cfg.Checker)
	}

	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Language != "Jac" {
		t.Errorf("Language = %q", cfg.Language)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].ID != "jaseci-docs" {
		t.Errorf("Sources = %+v, want default jaseci-docs", cfg.Sources)
	}
	if cfg.Validation.Merge.MinSizeRatio != 0.15 || cfg.Validation.Merge.RequiredPatternRatio != 0.6 {
		t.Errorf("merge thresholds = %+v", cfg.Validation.Merge)
	}
	if cfg.Validation.Reduce.MinSizeRatio != 0.1 || cfg.Validation.Reduce.RequiredPatternRatio != 0.7 {
		t.Errorf("reduce thresholds = %+v", cfg.Validation.Reduce)
	}
	if cfg.Checker.Command != "jac check" || cfg.Checker.MaxErrors != 10 {
		t.Errorf("checker = %+v", cfg.Checker)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("default config should validate, got %v", errs)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeTestConfig(t, "name: [unterminated")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parsing config YAML") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeTestConfig(t, "checker:\n  timeout: soon\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), `invalid duration "soon"`) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadDefault_SearchesWorkingDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "docfactory.yaml"), []byte("name: found\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	if cfg.Name != "found" {
		t.Errorf("Name = %q", cfg.Name)
	}
}

func TestLoadDefault_NotFound(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	if _, err := LoadDefault(); !errors.Is(err, ErrNoConfig) {
		t.Errorf("err = %v, want ErrNoConfig", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	cfg := Default()
	cfg.Sources = append(cfg.Sources,
		cfg.Sources[0],
		sourcesWithoutOrigin(),
	)
	cfg.LLM.Provider = "carrier-pigeon"
	cfg.Reduce.Ratio = 1
	cfg.Validation.Merge.RequiredPatternRatio = 1.5
	cfg.Checker.Workers = 0
	cfg.Checker.MinPassRate = 120
	cfg.Merge.MinChars, cfg.Merge.MaxChars = 500, 100
	cfg.Ledger.DSN = "mysql://x"
	cfg.Artifacts.Endpoint = "localhost:9000"
	cfg.Logging.Format = "xml"

	errs := Validate(cfg)
	want := []string{
		"sources[1].id",
		"sources[2]",
		"llm.provider",
		"reduce.ratio",
		"validation.merge.required_pattern_ratio",
		"checker.workers",
		"checker.min_pass_rate",
		"merge.min_chars",
		"ledger.dsn",
		"artifacts",
		"logging.format",
	}
	got := make(map[string]bool)
	for _, e := range errs {
		got[e.Field] = true
	}
	for _, f := range want {
		if !got[f] {
			t.Errorf("missing validation error for %s (got %v)", f, errs)
		}
	}
	if len(errs) != len(want) {
		t.Errorf("got %d errors, want %d: %v", len(errs), len(want), errs)
	}
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Field: "llm.model", Message: "is required"}
	if e.Error() != "llm.model: is required" {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("DOCFACTORY_TEST_KEY=from-file\nDOCFACTORY_TEST_SET=file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCFACTORY_TEST_SET", "env")
	os.Unsetenv("DOCFACTORY_TEST_KEY")
	t.Cleanup(func() { os.Unsetenv("DOCFACTORY_TEST_KEY") })

	if err := LoadEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("DOCFACTORY_TEST_KEY"); got != "from-file" {
		t.Errorf("DOCFACTORY_TEST_KEY = %q", got)
	}
	if got := os.Getenv("DOCFACTORY_TEST_SET"); got != "env" {
		t.Errorf("existing variable overridden: %q", got)
	}

	l := LLM{APIKeyEnv: "DOCFACTORY_TEST_KEY"}
	if l.APIKey() != "from-file" {
		t.Errorf("APIKey() = %q", l.APIKey())
	}
}

func TestConfig_MarshalRoundTrip(t *testing.T) {
	cfg := Default()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "timeout: 5s") {
		t.Errorf("checker timeout not rendered as duration string:\n%s", data)
	}
	var back Config
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Checker.Timeout != cfg.Checker.Timeout || back.Reduce.Ratio != cfg.Reduce.Ratio {
		t.Errorf("round trip lost values: %+v", back.Checker)
	}
}

func sourcesWithoutOrigin() sources.Source {
	return sources.Source{ID: "orphan"}
}
