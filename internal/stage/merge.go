package stage

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/docfactory/internal/pipeline"
	"github.com/lucasnoah/docfactory/internal/prompt"
	"github.com/lucasnoah/docfactory/internal/reduce"
	"github.com/lucasnoah/docfactory/internal/validate"
)

// Merge condenses each routed topic file into one section under 2_merged.
// Topics run concurrently; a rejected merge falls back to the deduplicated
// topic notes so no topic is ever dropped.
func (e *Engine) Merge(ctx context.Context, env Env) (*Result, error) {
	files, contents, err := pipeline.ReadFiles(e.store.TopicsDir(), ".md")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("merge %s: %w", e.store.TopicsDir(), ErrNoInput)
	}

	mc := e.cfg.Merge
	th := e.cfg.Validation.Merge
	v := validate.New(th.MinSizeRatio, th.RequiredPatternRatio)
	var sizer *reduce.SizeController
	if mc.MinChars > 0 || mc.MaxChars > 0 {
		sizer = reduce.NewSizeController(e.t.Merge, e.cfg.PromptsDir, e.log)
	}
	merger := reduce.NewMerger(e.t.Merge, v, nil, sizer, reduce.MergeOptions{
		ChunkThreshold: mc.ChunkThreshold,
		MaxChunkSize:   mc.MaxChunkSize,
		Workers:        mc.Workers,
		MinChars:       mc.MinChars,
		MaxChars:       mc.MaxChars,
	}, e.log)

	if err := e.store.ResetDir(pipeline.MergedDir); err != nil {
		return nil, err
	}

	vars := prompt.Vars{"language": e.cfg.Language}
	if mc.MaxChars > 0 {
		vars["target_chars"] = strconv.Itoa(mc.MaxChars)
	}

	results := make([]*reduce.TopicResult, len(files))
	var (
		mu   sync.Mutex
		done int
	)
	e.logf("merging %d topics", len(files))
	env.progress(0, len(files), "merging topics")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(mc.Workers, 1))
	for i, f := range files {
		topic := strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
		g.Go(func() error {
			tv := prompt.Vars{"topic": topic}
			for k, val := range vars {
				tv[k] = val
			}
			p, err := prompt.LoadAndRender(prompt.Merge, e.cfg.PromptsDir, tv)
			if err != nil {
				return err
			}
			res, err := merger.MergeTopic(gctx, topic, contents[i], p)
			if err != nil {
				return fmt.Errorf("merge topic %s: %w", topic, err)
			}
			if err := e.store.WriteText(filepath.Join(e.store.Dir(pipeline.MergedDir), topic+".md"), res.Output); err != nil {
				return fmt.Errorf("write topic %s: %w", topic, err)
			}
			results[i] = res

			mu.Lock()
			done++
			env.progress(done, len(files), "merged "+topic)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		inSize    int64
		fallbacks int
		chunks    int
	)
	for i, f := range files {
		inSize += f.Size
		if results[i].Fallback {
			fallbacks++
		}
		chunks += results[i].Chunks
	}
	outFiles, outSize, err := pipeline.ListFiles(e.store.Dir(pipeline.MergedDir), ".md")
	if err != nil {
		return nil, err
	}
	e.logf("merged %d topics (%d fallbacks)", len(results), fallbacks)
	return &Result{
		InputSize:  inSize,
		OutputSize: outSize,
		FileCount:  len(outFiles),
		Files:      outFiles,
		Extra: map[string]any{
			"topics":    results,
			"chunks":    chunks,
			"fallbacks": fallbacks,
		},
	}, nil
}
