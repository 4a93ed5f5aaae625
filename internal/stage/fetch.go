package stage

import (
	"context"
	"fmt"

	"github.com/lucasnoah/docfactory/internal/pipeline"
	"github.com/lucasnoah/docfactory/internal/sanitize"
)

// Fetch copies every enabled source into the source directory and sanitizes
// the result into 0_sanitized. Sources that fail to fetch are logged and
// skipped; the stage only fails when nothing usable remains.
func (e *Engine) Fetch(ctx context.Context, env Env) (*Result, error) {
	srcs := e.cfg.Sources
	total := len(srcs) + 1

	e.logf("fetching %d source(s) into %s", len(srcs), e.cfg.SourceDir)
	fetched, err := e.fetcher.FetchAll(ctx, srcs, e.cfg.SourceDir, e.cfg.Processing.FetchWorkers,
		func(id string, done, n int) {
			env.progress(done, total, "fetched "+id)
		})
	if err != nil {
		return nil, fmt.Errorf("fetch sources: %w", err)
	}
	for _, s := range fetched.Sources {
		for _, msg := range s.Errors {
			e.log.Warn("source fetch error", "source", s.SourceID, "error", msg)
		}
	}
	e.logf("fetched %d files (%d errors)", fetched.TotalFiles, fetched.TotalErrors)

	env.progress(total-1, total, "sanitizing")
	if err := e.store.ResetDir(pipeline.SanitizedDir); err != nil {
		return nil, err
	}
	san := sanitize.New(sanitize.Options{
		Exclude:          e.cfg.Processing.SkipPatterns,
		ExcludeDirs:      e.cfg.Processing.ExcludeDirs,
		MinContentLength: e.cfg.Processing.MinContentLength,
	})
	stats, err := san.Run(e.cfg.SourceDir, e.store.Dir(pipeline.SanitizedDir))
	if err != nil {
		return nil, fmt.Errorf("sanitize: %w", err)
	}
	if stats.KeptFiles == 0 {
		return nil, fmt.Errorf("sanitize %s: %w", e.cfg.SourceDir, ErrNoInput)
	}
	env.progress(total, total, fmt.Sprintf("kept %d of %d files", stats.KeptFiles, stats.TotalFiles))
	e.logf("sanitized: kept %d, excluded %d, empty %d", stats.KeptFiles, stats.ExcludedFiles, stats.EmptyFiles)

	files := make([]pipeline.FileInfo, 0, len(stats.Files))
	for _, f := range stats.Files {
		files = append(files, pipeline.FileInfo{Name: f.Path, Size: int64(f.CleanedSize)})
	}
	return &Result{
		InputSize:  int64(stats.InputSize),
		OutputSize: int64(stats.OutputSize),
		FileCount:  stats.KeptFiles,
		Files:      headFiles(files, 20),
		Extra: map[string]any{
			"sources":      len(fetched.Sources),
			"fetched":      fetched.TotalFiles,
			"fetch_errors": fetched.TotalErrors,
			"kept":         stats.KeptFiles,
			"excluded":     stats.ExcludedFiles,
			"empty":        stats.EmptyFiles,
			"jac_files":    stats.JacFiles,
		},
	}, nil
}
