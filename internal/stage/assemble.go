package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lucasnoah/docfactory/internal/artifact"
	"github.com/lucasnoah/docfactory/internal/checks"
	"github.com/lucasnoah/docfactory/internal/config"
	"github.com/lucasnoah/docfactory/internal/llm"
	"github.com/lucasnoah/docfactory/internal/minify"
	"github.com/lucasnoah/docfactory/internal/pipeline"
	"github.com/lucasnoah/docfactory/internal/prompt"
	"github.com/lucasnoah/docfactory/internal/reduce"
	"github.com/lucasnoah/docfactory/internal/scoring"
	"github.com/lucasnoah/docfactory/internal/validate"
)

// Assemble writes the final reference from the reduced document and the
// deterministic extraction, minifies it, validates it and releases it.
func (e *Engine) Assemble(ctx context.Context, env Env) (*Result, error) {
	input, inSize, err := e.assemblyInput()
	if err != nil {
		return nil, err
	}

	ac := e.cfg.Assemble
	env.progress(0, 4, "generating reference")
	text, err := e.generate(ctx, env, input, "")
	if err != nil {
		return nil, err
	}

	// One repair attempt when the draft lost required patterns.
	v := validate.New(0, 0)
	if first := v.ValidateFinal(text, ac.RequiredPatterns); len(first.MissingPatterns) > 0 {
		e.log.Warn("assembled draft is missing patterns, regenerating", "missing", first.MissingPatterns)
		e.logf("draft missing %d pattern(s), regenerating", len(first.MissingPatterns))
		retry, err := e.generate(ctx, env, input, strings.Join(first.MissingPatterns, ", "))
		switch {
		case err != nil:
			e.log.Warn("regeneration failed, keeping first draft", "error", err)
		case len(v.ValidateFinal(retry, ac.RequiredPatterns).MissingPatterns) < len(first.MissingPatterns):
			text = retry
		}
	}

	var minified float64
	if config.Bool(ac.Minify, true) {
		env.progress(1, 4, "minifying")
		out := minify.Minify(text)
		minified = minify.Ratio(text, out)
		text = out
	}
	if err := e.store.ResetDir(pipeline.FinalDir); err != nil {
		return nil, err
	}
	if err := e.store.WriteText(e.store.FinalPath(), text); err != nil {
		return nil, fmt.Errorf("write final: %w", err)
	}
	e.logf("final document: %d chars", len(text))

	env.progress(2, 4, "validating")
	fv, err := e.FinalValidate(ctx, text, env.Progress, true)
	if err != nil {
		return nil, err
	}

	env.progress(3, 4, "releasing")
	rel, err := e.Release(ctx, env.RunID, text, fv)
	if err != nil {
		return nil, err
	}
	env.progress(4, 4, "done")

	files, outSize, err := pipeline.ListFiles(e.store.Dir(pipeline.FinalDir))
	if err != nil {
		return nil, err
	}
	return &Result{
		InputSize:  inSize,
		OutputSize: outSize,
		FileCount:  len(files),
		Files:      files,
		Extra: map[string]any{
			"minify_ratio":   minified,
			"release":        rel.Number,
			"is_valid":       fv.IsValid,
			"patterns_found": fv.PatternsFound,
			"token_count":    fv.TokenCount,
			"jac_check":      fv.JacCheck,
		},
		Validation: fv,
	}, nil
}

// assemblyInput joins the reduced document and the extraction. Either may be
// missing but not both.
func (e *Engine) assemblyInput() (string, int64, error) {
	var (
		parts []string
		size  int64
	)
	for _, p := range []string{e.store.ReducedPath(), e.store.ExtractedPath()} {
		data, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", 0, fmt.Errorf("read %s: %w", filepath.Base(p), err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		parts = append(parts, string(data))
		size += int64(len(data))
	}
	if len(parts) == 0 {
		return "", 0, fmt.Errorf("assemble: %w", ErrNoInput)
	}
	return strings.Join(parts, "\n\n"), size, nil
}

// generate runs the assemble transform once. Bounded output goes through a
// size controller; otherwise the output is streamed to env.Token.
func (e *Engine) generate(ctx context.Context, env Env, input, missing string) (string, error) {
	ac := e.cfg.Assemble
	vars := prompt.Vars{"language": e.cfg.Language}
	if missing != "" {
		vars["missing_patterns"] = missing
	}
	p, err := prompt.LoadAndRender(prompt.Assemble, e.cfg.PromptsDir, vars)
	if err != nil {
		return "", err
	}

	var out string
	if ac.MinChars > 0 || ac.MaxChars > 0 {
		sc := reduce.NewSizeController(e.t.Assemble, e.cfg.PromptsDir, e.log)
		res, err := sc.Transform(ctx, input, p, ac.MinChars, ac.MaxChars)
		if err != nil {
			return "", fmt.Errorf("assemble transform: %w", err)
		}
		if !res.WithinBounds {
			e.log.Warn("assembled output outside size bounds", "size", res.FinalSize, "min", ac.MinChars, "max", ac.MaxChars)
		}
		out = res.Content
	} else {
		var onChunk func(string)
		var tb *tokenBuffer
		if env.Token != nil && config.Bool(ac.Stream, true) {
			tb = newTokenBuffer(env.Token, 50, 100*time.Millisecond)
			onChunk = tb.Add
		}
		out, err = llm.StreamOrTransform(ctx, e.t.Assemble, input, p, onChunk)
		if tb != nil {
			tb.Flush()
		}
		if err != nil {
			return "", fmt.Errorf("assemble transform: %w", err)
		}
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("assemble transform: %w", llm.ErrEmptyResponse)
	}
	return out, nil
}

// FinalValidate checks the finished document: required patterns, syntax of
// its examples and its quality score against the last recorded one. When
// save is set the score is appended to the history.
func (e *Engine) FinalValidate(ctx context.Context, text string, progress ProgressFunc, save bool) (*pipeline.FinalValidation, error) {
	v := validate.New(0, 0)
	final := v.ValidateFinal(text, e.cfg.Assemble.RequiredPatterns)
	found := v.FindPatterns(text)
	tokens := scoring.EstimateTokens(text)

	check, err := e.checkExamples(ctx, text, progress)
	if err != nil {
		return nil, err
	}
	if check.Unavailable {
		e.log.Warn("syntax checker unavailable, skipping example verification", "reason", check.UnavailableReason)
	} else if g := checks.Gate(check, e.cfg.Checker.FailThreshold); g.Warn {
		e.log.Warn("jac check pass rate below threshold",
			"pass_rate", g.PassRate, "threshold", e.cfg.Checker.FailThreshold, "samples", g.Samples)
		e.logf("%s", g.Message)
	}

	version := e.scorer.NextVersion()
	if e.history != nil {
		version = e.history.NextVersion(version)
	}
	score, err := e.scorer.Score(ctx, text, version, scoring.Precomputed{
		Check:      check,
		Patterns:   found,
		TokenCount: &tokens,
	})
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	if e.history != nil {
		baseline, err := e.history.GetBaseline("")
		switch {
		case err == nil:
			score.Regressions, score.Improvements = scoring.Compare(score, baseline)
		case !errors.Is(err, scoring.ErrNotFound):
			e.log.Warn("load score baseline", "error", err)
		}
		for _, r := range score.Regressions {
			e.log.Warn("quality regression", "detail", r)
		}
		if save {
			if err := e.history.SaveScore(score); err != nil {
				e.log.Warn("save quality score", "error", err)
			}
		}
	}

	issues := final.Issues
	passing := check.Unavailable || check.PassRate >= e.cfg.Checker.MinPassRate
	if !passing {
		issues = append(issues, fmt.Sprintf("jac check pass rate %.1f%% below %.1f%%", check.PassRate, e.cfg.Checker.MinPassRate))
	}
	if issues == nil {
		issues = []string{}
	}
	missing := final.MissingPatterns
	if missing == nil {
		missing = []string{}
	}
	return &pipeline.FinalValidation{
		IsValid:         final.IsValid && passing,
		Issues:          issues,
		MissingPatterns: missing,
		PatternsFound:   len(found),
		PatternsTotal:   score.PatternsTotal,
		OutputSize:      len(text),
		TokenCount:      tokens,
		JacCheck:        pipeline.NewCheckSummary(check),
		QualityScore:    summarizeScore(score),
	}, nil
}

func (e *Engine) checkExamples(ctx context.Context, text string, progress ProgressFunc) (*checks.VerifyResult, error) {
	if e.verifier == nil {
		return &checks.VerifyResult{Unavailable: true, UnavailableReason: "syntax checking disabled"}, nil
	}
	res, err := e.verifier.CheckAll(ctx, text, e.verifyOptions(progress))
	if errors.Is(err, checks.ErrCheckerUnavailable) && res != nil {
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check examples: %w", err)
	}
	return res, nil
}

func summarizeScore(s *scoring.QualityScore) *pipeline.ScoreSummary {
	cs := make([]pipeline.ConstructCount, 0, len(s.Constructs))
	for _, c := range s.Constructs {
		cs = append(cs, pipeline.ConstructCount{Construct: c.Construct, ExamplesFound: c.ExamplesFound})
	}
	return &pipeline.ScoreSummary{
		Version:             s.Version,
		Timestamp:           s.Timestamp,
		ContentHash:         s.ContentHash,
		PatternCoverage:     s.PatternCoverage,
		JacCheckRate:        s.JacCheckRate,
		JacCheckUnavailable: s.JacCheckUnavailable,
		Constructs:          cs,
		Regressions:         s.Regressions,
		Improvements:        s.Improvements,
	}
}

// Release writes the versioned copy, the candidate and its validation to the
// release directory and publishes them when artifact storage is configured.
// A failed upload is logged and leaves the local release in place.
func (e *Engine) Release(ctx context.Context, runID, text string, fv *pipeline.FinalValidation) (*pipeline.Release, error) {
	rel, err := e.store.PlanRelease()
	if err != nil {
		return nil, err
	}
	fv.Release = rel
	if err := e.store.WriteRelease(rel, text, fv); err != nil {
		return nil, err
	}
	e.logf("released %s", rel.VersionedPath)

	if e.artifacts == nil || !e.cfg.Assemble.Publish {
		return rel, nil
	}
	if runID == "" {
		runID = fmt.Sprintf("release-%d", rel.Number)
	}
	vdata, err := json.MarshalIndent(fv, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal validation: %w", err)
	}
	uris, err := artifact.Publish(ctx, e.artifacts, runID, []artifact.Object{
		{Path: filepath.Base(rel.VersionedPath), Content: []byte(text)},
		{Path: pipeline.ValidationFile, Content: vdata},
	})
	if err != nil {
		e.log.Warn("publish release failed", "release", rel.Number, "error", err)
		return rel, nil
	}
	rel.RemoteURI = uris[0]
	e.logf("published %s", rel.RemoteURI)
	if err := pipeline.WriteJSON(rel.ValidationPath, fv); err != nil {
		return nil, fmt.Errorf("write validation: %w", err)
	}
	return rel, nil
}

// tokenBuffer batches streamed chunks so subscribers see a handful of
// events per second instead of one per token.
type tokenBuffer struct {
	mu    sync.Mutex
	emit  TokenFunc
	max   int
	every time.Duration
	buf   strings.Builder
	n     int
	last  time.Time
}

func newTokenBuffer(emit TokenFunc, maxTokens int, every time.Duration) *tokenBuffer {
	return &tokenBuffer{emit: emit, max: maxTokens, every: every, last: time.Now()}
}

func (b *tokenBuffer) Add(chunk string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.WriteString(chunk)
	b.n++
	if b.n > b.max || time.Since(b.last) > b.every {
		b.flushLocked()
	}
}

// Flush emits whatever is buffered.
func (b *tokenBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *tokenBuffer) flushLocked() {
	if b.buf.Len() > 0 {
		b.emit(b.buf.String())
	}
	b.buf.Reset()
	b.n = 0
	b.last = time.Now()
}
