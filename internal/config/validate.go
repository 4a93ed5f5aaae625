package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedProviders is the set of valid transform providers.
var recognizedProviders = map[string]bool{
	"openrouter": true,
	"gemini":     true,
	"identity":   true,
}

var recognizedSourceTypes = map[string]bool{
	"":     true,
	"docs": true,
	"jac":  true,
	"both": true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	for _, f := range []struct {
		name, val string
	}{
		{"source_dir", cfg.SourceDir},
		{"output_dir", cfg.OutputDir},
		{"scores_dir", cfg.ScoresDir},
		{"release_dir", cfg.ReleaseDir},
	} {
		if f.val == "" {
			add(f.name, "is required")
		}
	}

	ids := make(map[string]bool)
	for i, s := range cfg.Sources {
		prefix := fmt.Sprintf("sources[%d]", i)
		if s.ID == "" {
			add(prefix+".id", "is required")
		} else if ids[s.ID] {
			add(prefix+".id", "duplicate source ID %q", s.ID)
		}
		ids[s.ID] = true
		if s.GitURL == "" && s.Dir == "" {
			add(prefix, "one of git_url or dir is required")
		}
		if !recognizedSourceTypes[string(s.Type)] {
			add(prefix+".type", "unrecognized source type %q", s.Type)
		}
		if strings.Contains(s.Path, "..") {
			add(prefix+".path", "must not contain '..'")
		}
	}

	if !recognizedProviders[cfg.LLM.Provider] {
		add("llm.provider", "unrecognized provider %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Provider != "identity" && cfg.LLM.Model == "" {
		add("llm.model", "is required")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		add("llm.temperature", "must be between 0 and 2, got %v", cfg.LLM.Temperature)
	}
	if cfg.LLM.MaxRetries < 1 {
		add("llm.max_retries", "must be at least 1")
	}

	if cfg.Reduce.Ratio < 2 {
		add("reduce.ratio", "must be at least 2, got %d", cfg.Reduce.Ratio)
	}
	if cfg.Reduce.MaxPasses < 1 {
		add("reduce.max_passes", "must be at least 1, got %d", cfg.Reduce.MaxPasses)
	}
	checkRatio(&errs, "reduce.min_pattern_ratio", cfg.Reduce.MinPatternRatio)
	if cfg.Merge.MaxChunkSize > cfg.Merge.ChunkThreshold {
		add("merge.max_chunk_size", "must not exceed chunk_threshold (%d)", cfg.Merge.ChunkThreshold)
	}
	validateBounds(&errs, "merge", cfg.Merge.MinChars, cfg.Merge.MaxChars)
	validateBounds(&errs, "assemble", cfg.Assemble.MinChars, cfg.Assemble.MaxChars)

	for _, t := range []struct {
		name string
		th   Thresholds
	}{
		{"validation.merge", cfg.Validation.Merge},
		{"validation.reduce", cfg.Validation.Reduce},
	} {
		checkRatio(&errs, t.name+".min_size_ratio", t.th.MinSizeRatio)
		checkRatio(&errs, t.name+".required_pattern_ratio", t.th.RequiredPatternRatio)
	}

	if cfg.Checker.Command == "" {
		add("checker.command", "is required")
	}
	if cfg.Checker.Workers < 1 || cfg.Checker.Workers > 64 {
		add("checker.workers", "must be between 1 and 64, got %d", cfg.Checker.Workers)
	}
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"checker.fail_threshold", cfg.Checker.FailThreshold},
		{"checker.min_pass_rate", cfg.Checker.MinPassRate},
	} {
		if f.val < 0 || f.val > 100 {
			add(f.name, "must be a percentage between 0 and 100, got %v", f.val)
		}
	}

	if d := cfg.Ledger.DSN; d != "" && !strings.HasPrefix(d, "postgres://") &&
		!strings.HasPrefix(d, "postgresql://") && !strings.HasPrefix(d, "sqlite://") {
		add("ledger.dsn", "must start with postgres://, postgresql:// or sqlite://")
	}
	if (cfg.Artifacts.Endpoint == "") != (cfg.Artifacts.Bucket == "") {
		add("artifacts", "endpoint and bucket must be set together")
	}
	if cfg.Assemble.Publish && !cfg.Artifacts.Enabled() {
		add("assemble.publish", "requires artifacts.endpoint and artifacts.bucket")
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		add("logging.format", "must be text or json, got %q", cfg.Logging.Format)
	}

	return errs
}

func checkRatio(errs *[]ValidationError, field string, v float64) {
	if v <= 0 || v > 1 {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("must be in (0, 1], got %v", v)})
	}
}

func validateBounds(errs *[]ValidationError, stage string, minChars, maxChars int) {
	if minChars > 0 && maxChars > 0 && minChars >= maxChars {
		*errs = append(*errs, ValidationError{
			Field:   stage + ".min_chars",
			Message: fmt.Sprintf("must be less than max_chars (%d)", maxChars),
		})
	}
}
