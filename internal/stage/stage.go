// Package stage implements the pipeline stages. Each stage reads the
// previous stage's output from the workspace, does its work and reports
// sizes, files and stage-specific details back to the runner.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lucasnoah/docfactory/internal/artifact"
	"github.com/lucasnoah/docfactory/internal/checks"
	"github.com/lucasnoah/docfactory/internal/config"
	"github.com/lucasnoah/docfactory/internal/llm"
	"github.com/lucasnoah/docfactory/internal/pipeline"
	"github.com/lucasnoah/docfactory/internal/scoring"
	"github.com/lucasnoah/docfactory/internal/sources"
)

// Stage keys, in run order.
const (
	Fetch    = "fetch"
	Extract  = "extract"
	Merge    = "merge"
	Reduce   = "reduce"
	Assemble = "assemble"
)

// Definition names a stage.
type Definition struct {
	Key  string
	Name string
}

// Definitions lists every stage in run order.
var Definitions = []Definition{
	{Fetch, "Fetch & Sanitize"},
	{Extract, "Deterministic Extract"},
	{Merge, "Topic Merge"},
	{Reduce, "Hierarchical Reduce"},
	{Assemble, "Assemble & Release"},
}

var aliases = map[string]string{
	"sanitize": Fetch,
	"finalize": Assemble,
}

// Resolve maps a stage name or alias to its key.
func Resolve(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if k, ok := aliases[name]; ok {
		return k, true
	}
	for _, d := range Definitions {
		if d.Key == name {
			return d.Key, true
		}
	}
	return "", false
}

// ErrNoInput is returned when a stage finds nothing to work on.
var ErrNoInput = errors.New("no input files")

// ProgressFunc receives (current, total, message) updates. It may be called
// from worker goroutines.
type ProgressFunc func(current, total int, message string)

// TokenFunc receives streamed model output.
type TokenFunc func(chunk string)

// Env carries per-run callbacks into a stage.
type Env struct {
	RunID    string
	Progress ProgressFunc
	Token    TokenFunc
}

func (e Env) progress(cur, total int, msg string) {
	if e.Progress != nil {
		e.Progress(cur, total, msg)
	}
}

// Result is what a stage reports back to the runner.
type Result struct {
	InputSize  int64
	OutputSize int64
	FileCount  int
	Files      []pipeline.FileInfo
	Extra      map[string]any
	Validation *pipeline.FinalValidation
}

// Transformers holds the transform collaborator for each model-driven stage.
type Transformers struct {
	Merge    llm.Transformer
	Reduce   llm.Transformer
	Assemble llm.Transformer
}

// Deps are the collaborators an Engine runs stages with.
type Deps struct {
	Config       *config.Config
	Store        *pipeline.Store
	Fetcher      *sources.Fetcher
	Transformers Transformers
	Verifier     *checks.Verifier // nil skips syntax checking
	Scorer       *scoring.Scorer
	History      *scoring.History // nil skips score history
	Artifacts    artifact.Store   // nil disables publishing
	Log          *slog.Logger
}

// Engine executes stages.
type Engine struct {
	cfg       *config.Config
	store     *pipeline.Store
	fetcher   *sources.Fetcher
	t         Transformers
	verifier  *checks.Verifier
	scorer    *scoring.Scorer
	history   *scoring.History
	artifacts artifact.Store
	log       *slog.Logger
	progress  io.Writer // live progress output; nil = silent
}

// NewEngine creates a stage engine. Missing transformers use the identity
// transform.
func NewEngine(d Deps) *Engine {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.Store == nil {
		d.Store = pipeline.NewStore(d.Config.OutputDir, d.Config.ReleaseDir)
	}
	if d.Fetcher == nil {
		d.Fetcher = sources.NewFetcher(&sources.ExecGit{}, d.Log)
	}
	for _, t := range []*llm.Transformer{&d.Transformers.Merge, &d.Transformers.Reduce, &d.Transformers.Assemble} {
		if *t == nil {
			*t = llm.Identity{}
		}
	}
	if d.Scorer == nil {
		d.Scorer = scoring.NewScorer(nil, nil, checks.VerifyOptions{})
	}
	return &Engine{
		cfg:       d.Config,
		store:     d.Store,
		fetcher:   d.Fetcher,
		t:         d.Transformers,
		verifier:  d.Verifier,
		scorer:    d.Scorer,
		history:   d.History,
		artifacts: d.Artifacts,
		log:       d.Log,
	}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (e *Engine) SetProgress(w io.Writer) {
	e.progress = w
}

// logf prints a progress line if a progress writer is configured.
func (e *Engine) logf(format string, args ...interface{}) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// Store returns the workspace the engine writes to.
func (e *Engine) Store() *pipeline.Store { return e.store }

// Run executes the stage with the given key.
func (e *Engine) Run(ctx context.Context, key string, env Env) (*Result, error) {
	switch key {
	case Fetch:
		return e.Fetch(ctx, env)
	case Extract:
		return e.Extract(ctx, env)
	case Merge:
		return e.Merge(ctx, env)
	case Reduce:
		return e.Reduce(ctx, env)
	case Assemble:
		return e.Assemble(ctx, env)
	}
	return nil, fmt.Errorf("unknown stage %q", key)
}

func (e *Engine) verifyOptions(progress ProgressFunc) checks.VerifyOptions {
	c := e.cfg.Checker
	return checks.VerifyOptions{
		Command:   c.Command,
		Workers:   c.Workers,
		Timeout:   c.Timeout.Std(),
		MaxErrors: c.MaxErrors,
		Progress:  checks.ProgressFunc(progress),
	}
}

func headFiles(files []pipeline.FileInfo, n int) []pipeline.FileInfo {
	if len(files) > n {
		return append([]pipeline.FileInfo(nil), files[:n]...)
	}
	return files
}
