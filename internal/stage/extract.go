package stage

import (
	"context"
	"fmt"

	"github.com/lucasnoah/docfactory/internal/extract"
	"github.com/lucasnoah/docfactory/internal/pipeline"
)

// Extract pulls signatures, keywords and examples out of the sanitized docs
// into extracted_content.txt and routes every section to a topic file for
// the merge stage. No model is involved.
func (e *Engine) Extract(ctx context.Context, env Env) (*Result, error) {
	srcDir := e.store.Dir(pipeline.SanitizedDir)
	inFiles, inSize, err := pipeline.ListFiles(srcDir, ".md", ".jac")
	if err != nil {
		return nil, err
	}
	if len(inFiles) == 0 {
		return nil, fmt.Errorf("extract from %s: %w", srcDir, ErrNoInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	env.progress(0, 3, "extracting")
	content, err := extract.ExtractDir(srcDir)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	summary := extract.Summarize(content)
	e.logf("extracted %d signatures, %d examples", summary.Signatures, summary.Examples)

	env.progress(1, 3, "routing topics")
	topics, err := extract.LoadTopics(e.cfg.TopicsFile)
	if err != nil {
		return nil, err
	}
	if err := e.store.ResetDir(pipeline.ExtractedDir); err != nil {
		return nil, err
	}
	routed, err := extract.RouteTopics(srcDir, e.store.TopicsDir(), topics, nil)
	if err != nil {
		return nil, fmt.Errorf("route topics: %w", err)
	}
	e.logf("routed %d of %d sections into %d topics", routed.Routed, routed.Sections, len(routed.TopicSize))

	env.progress(2, 3, "writing extraction")
	if err := e.store.WriteText(e.store.ExtractedPath(), extract.FormatForAssembly(content)); err != nil {
		return nil, fmt.Errorf("write extraction: %w", err)
	}

	files, outSize, err := pipeline.ListFiles(e.store.Dir(pipeline.ExtractedDir))
	if err != nil {
		return nil, err
	}
	env.progress(3, 3, "done")
	return &Result{
		InputSize:  inSize,
		OutputSize: outSize,
		FileCount:  len(files),
		Files:      files,
		Extra: map[string]any{
			"signatures":        summary.Signatures,
			"examples":          summary.Examples,
			"selected_examples": summary.SelectedExamples,
			"keywords_found":    summary.KeywordsFound,
			"construct_types":   summary.ConstructTypes,
			"sections":          routed.Sections,
			"routed":            routed.Routed,
			"unrouted":          routed.Unrouted,
			"topics":            routed.PerTopic,
		},
	}, nil
}
