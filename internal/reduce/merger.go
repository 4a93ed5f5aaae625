package reduce

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/docfactory/internal/dedup"
	"github.com/lucasnoah/docfactory/internal/llm"
	"github.com/lucasnoah/docfactory/internal/validate"
)

// MergeOptions tunes a Merger. Zero values take defaults.
type MergeOptions struct {
	ChunkThreshold int // content at or above this size is chunked, default 20000
	MaxChunkSize   int // default 15000
	Workers        int // concurrent chunk transforms, default 8

	// MinChars and MaxChars bound single-shot output through a SizeController.
	// Zero leaves the side unbounded.
	MinChars int
	MaxChars int
}

func (o MergeOptions) withDefaults() MergeOptions {
	if o.ChunkThreshold <= 0 {
		o.ChunkThreshold = 20000
	}
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = 15000
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	return o
}

// TopicResult is the outcome of merging one topic.
type TopicResult struct {
	Topic    string   `json:"topic"`
	Output   string   `json:"-"`
	Chunks   int      `json:"chunks"`
	Fallback bool     `json:"fallback"`
	Issues   []string `json:"issues,omitempty"`
}

// Merger condenses the raw notes of one topic into a single section.
type Merger struct {
	t     llm.Transformer
	v     *validate.Validator
	d     dedup.Deduper
	sizer *SizeController
	opts  MergeOptions
	log   *slog.Logger
}

// NewMerger creates a Merger. sizer may be nil when no size bounds are set.
func NewMerger(t llm.Transformer, v *validate.Validator, d dedup.Deduper, sizer *SizeController, opts MergeOptions, log *slog.Logger) *Merger {
	if d == nil {
		d = dedup.LineDeduper{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Merger{t: t, v: v, d: d, sizer: sizer, opts: opts.withDefaults(), log: log}
}

// MergeTopic merges content for topic using prompt. The result is validated
// against content and replaced by the deduplicated input when rejected.
// Output starts with a "# <topic>" header.
func (m *Merger) MergeTopic(ctx context.Context, topic, content, prompt string) (*TopicResult, error) {
	res := &TopicResult{Topic: topic, Chunks: 1}

	var merged string
	if len(content) < m.opts.ChunkThreshold {
		out, err := m.single(ctx, content, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.log.Warn("topic transform failed", "topic", topic, "error", err)
		}
		merged = out
	} else {
		chunks := SmartChunk(content, m.opts.MaxChunkSize)
		res.Chunks = len(chunks)
		m.log.Info("chunking topic", "topic", topic, "size", len(content), "chunks", len(chunks))
		out, err := m.chunked(ctx, chunks, prompt)
		if err != nil {
			return nil, err
		}
		merged = out
	}

	if strings.TrimSpace(merged) == "" {
		res.Fallback = true
		res.Issues = []string{"transform produced no output"}
		merged = m.d.Dedup(content)
	} else if v := m.v.Validate(content, merged); !v.IsValid {
		m.log.Warn("topic merge rejected, using fallback merge",
			"topic", topic, "issues", v.Issues, "missing", v.MissingPatterns, "size_ratio", v.SizeRatio)
		res.Fallback = true
		res.Issues = v.Issues
		merged = m.d.Dedup(content)
	}

	res.Output = fmt.Sprintf("# %s\n\n%s", topic, strings.TrimSpace(merged))
	return res, nil
}

func (m *Merger) single(ctx context.Context, content, prompt string) (string, error) {
	if m.sizer != nil && (m.opts.MinChars > 0 || m.opts.MaxChars > 0) {
		r, err := m.sizer.Transform(ctx, content, prompt, m.opts.MinChars, m.opts.MaxChars)
		return r.Content, err
	}
	return m.t.Transform(ctx, content, prompt)
}

// chunked transforms chunks concurrently and joins the non-empty results in
// chunk order. A failed chunk contributes nothing.
func (m *Merger) chunked(ctx context.Context, chunks []string, prompt string) (string, error) {
	outs := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			out, err := m.t.Transform(gctx, chunk, prompt)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				m.log.Warn("chunk transform failed", "chunk", i+1, "of", len(chunks), "error", err)
				return nil
			}
			outs[i] = strings.TrimSpace(out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var kept []string
	for _, o := range outs {
		if o != "" {
			kept = append(kept, o)
		}
	}
	return strings.Join(kept, "\n\n"), nil
}
