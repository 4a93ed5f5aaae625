package stage

import (
	"context"
	"fmt"

	"github.com/lucasnoah/docfactory/internal/pipeline"
	"github.com/lucasnoah/docfactory/internal/prompt"
	"github.com/lucasnoah/docfactory/internal/reduce"
	"github.com/lucasnoah/docfactory/internal/validate"
)

// Reduce merges the per-topic sections down to one document through gated
// hierarchical passes and writes it to 3_reduced.
func (e *Engine) Reduce(ctx context.Context, env Env) (*Result, error) {
	files, units, err := pipeline.ReadFiles(e.store.Dir(pipeline.MergedDir), ".md")
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("reduce %s: %w", e.store.Dir(pipeline.MergedDir), ErrNoInput)
	}

	p, err := prompt.LoadAndRender(prompt.Reduce, e.cfg.PromptsDir, prompt.Vars{"language": e.cfg.Language})
	if err != nil {
		return nil, err
	}

	rc := e.cfg.Reduce
	th := e.cfg.Validation.Reduce
	group := validate.New(th.MinSizeRatio, th.RequiredPatternRatio)
	pass := validate.New(th.MinSizeRatio, rc.MinPatternRatio)

	e.logf("reducing %d units (ratio %d, max %d passes)", len(units), rc.Ratio, rc.MaxPasses)
	r := reduce.NewReducer(e.t.Reduce, group, nil, reduce.Options{
		Ratio:         rc.Ratio,
		MaxPasses:     rc.MaxPasses,
		Workers:       rc.Workers,
		Prompt:        p,
		Progress:      reduce.ProgressFunc(env.Progress),
		PassValidator: pass,
	}, e.log)
	res, err := r.Reduce(ctx, units)
	if err != nil {
		return nil, fmt.Errorf("reduce: %w", err)
	}

	if err := e.store.ResetDir(pipeline.ReducedDir); err != nil {
		return nil, err
	}
	if err := e.store.WriteText(e.store.ReducedPath(), res.Output); err != nil {
		return nil, fmt.Errorf("write reduced: %w", err)
	}

	var inSize int64
	for _, f := range files {
		inSize += f.Size
	}
	outFiles, outSize, err := pipeline.ListFiles(e.store.Dir(pipeline.ReducedDir))
	if err != nil {
		return nil, err
	}
	e.logf("reduced to %d unit(s) in %d pass(es), final merge %q", len(res.Units), len(res.Passes), res.FinalMerge)
	return &Result{
		InputSize:  inSize,
		OutputSize: outSize,
		FileCount:  len(outFiles),
		Files:      outFiles,
		Extra: map[string]any{
			"passes":      res.Passes,
			"final_merge": res.FinalMerge,
			"units":       len(res.Units),
		},
	}, nil
}
