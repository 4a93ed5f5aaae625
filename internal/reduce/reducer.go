// Package reduce implements the staged reduction engine: per-topic merging
// and hierarchical many-to-one reduction, each gated by the content validator.
package reduce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/docfactory/internal/dedup"
	"github.com/lucasnoah/docfactory/internal/llm"
	"github.com/lucasnoah/docfactory/internal/validate"
)

// ErrNoUnits is returned when there is nothing to reduce.
var ErrNoUnits = errors.New("no units to reduce")

// ProgressFunc receives (current, total, message) updates.
type ProgressFunc func(current, total int, message string)

// Options tunes a Reducer. Zero values take defaults.
type Options struct {
	Ratio     int // units merged per group, default 4
	MaxPasses int // default 2
	Workers   int // concurrent group transforms, default 8
	Prompt    string
	Progress  ProgressFunc

	// PassValidator gates combined pass output and the final merge.
	// Nil uses the group validator.
	PassValidator *validate.Validator
}

func (o Options) withDefaults() Options {
	if o.Ratio < 2 {
		o.Ratio = 4
	}
	if o.MaxPasses <= 0 {
		o.MaxPasses = 2
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	return o
}

// PassReport summarises one reduction pass.
type PassReport struct {
	Pass            int      `json:"pass"`
	InputUnits      int      `json:"input_units"`
	OutputUnits     int      `json:"output_units"`
	Accepted        bool     `json:"accepted"`
	Fallbacks       int      `json:"fallbacks"`
	InputSize       int      `json:"input_size"`
	OutputSize      int      `json:"output_size"`
	Issues          []string `json:"issues,omitempty"`
	MissingPatterns []string `json:"missing_patterns,omitempty"`
}

// Result is the outcome of a reduction.
type Result struct {
	Output     string       `json:"-"`
	Units      []string     `json:"-"`
	Passes     []PassReport `json:"passes"`
	FinalMerge string       `json:"final_merge"` // "", "accepted", "rejected", "failed"
}

// Reducer merges N units down to one through repeated gated passes.
type Reducer struct {
	t    llm.Transformer
	v    *validate.Validator
	d    dedup.Deduper
	opts Options
	log  *slog.Logger
}

// NewReducer creates a Reducer. A nil deduper uses dedup.LineDeduper.
func NewReducer(t llm.Transformer, v *validate.Validator, d dedup.Deduper, opts Options, log *slog.Logger) *Reducer {
	if d == nil {
		d = dedup.LineDeduper{}
	}
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()
	if opts.PassValidator == nil {
		opts.PassValidator = v
	}
	return &Reducer{t: t, v: v, d: d, opts: opts, log: log}
}

// Reduce runs reduction passes until one unit remains or MaxPasses is reached.
// A pass whose combined output fails validation is discarded and reduction
// stops with the previous snapshot. The input slice is never modified.
func (r *Reducer) Reduce(ctx context.Context, units []string) (*Result, error) {
	if len(units) == 0 {
		return nil, ErrNoUnits
	}

	current := append([]string(nil), units...)
	combinedIn := strings.Join(current, "\n\n")
	res := &Result{}

	for pass := 1; len(current) > 1 && pass <= r.opts.MaxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		groups := Group(current, r.opts.Ratio)
		r.log.Info("reduction pass", "pass", pass, "units", len(current), "groups", len(groups))
		r.progress(pass-1, r.opts.MaxPasses, fmt.Sprintf("Pass %d: %d -> %d", pass, len(current), len(groups)))

		outs, fallbacks, err := r.runGroups(ctx, groups)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, o := range outs {
			if strings.TrimSpace(o) != "" {
				next = append(next, o)
			}
		}
		report := PassReport{
			Pass:        pass,
			InputUnits:  len(current),
			OutputUnits: len(next),
			Fallbacks:   fallbacks,
			InputSize:   len(combinedIn),
		}
		if len(next) == 0 {
			report.Issues = []string{"pass produced empty output"}
			res.Passes = append(res.Passes, report)
			r.log.Warn("reduction pass produced empty output, stopping", "pass", pass)
			break
		}

		combinedOut := strings.Join(next, "\n\n")
		report.OutputSize = len(combinedOut)
		v := r.opts.PassValidator.Validate(combinedIn, combinedOut)
		report.Issues = v.Issues
		report.MissingPatterns = v.MissingPatterns
		if !v.IsValid {
			res.Passes = append(res.Passes, report)
			r.log.Warn("reduction pass rejected, keeping previous snapshot",
				"pass", pass, "issues", v.Issues, "missing", v.MissingPatterns, "size_ratio", v.SizeRatio)
			break
		}

		report.Accepted = true
		res.Passes = append(res.Passes, report)
		current = next
		combinedIn = combinedOut
	}

	if len(current) > 1 {
		current, res.FinalMerge = r.finalMerge(ctx, current, combinedIn)
	}

	res.Units = current
	res.Output = strings.Join(current, "\n\n")
	r.progress(r.opts.MaxPasses, r.opts.MaxPasses, "Reduction complete")
	return res, nil
}

// finalMerge tries to merge all remaining units at once. If the merge fails
// or loses content the units are kept as separate sections.
func (r *Reducer) finalMerge(ctx context.Context, units []string, combined string) ([]string, string) {
	out, err := r.t.Transform(ctx, combined, r.opts.Prompt)
	if err != nil || strings.TrimSpace(out) == "" {
		r.log.Warn("final merge failed, keeping sections", "units", len(units), "error", err)
		return []string{combined}, "failed"
	}
	v := r.opts.PassValidator.Validate(combined, out)
	if !v.IsValid {
		r.log.Warn("final merge lost content, keeping sections", "units", len(units), "issues", v.Issues)
		return []string{combined}, "rejected"
	}
	return []string{out}, "accepted"
}

// runGroups transforms every group on a bounded pool. Output order matches group order.
func (r *Reducer) runGroups(ctx context.Context, groups []string) ([]string, int, error) {
	outs := make([]string, len(groups))
	fell := make([]bool, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, group := range groups {
		g.Go(func() error {
			out, fb := r.MergeGroup(gctx, group)
			if err := gctx.Err(); err != nil {
				return err
			}
			outs[i], fell[i] = out, fb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	n := 0
	for _, f := range fell {
		if f {
			n++
		}
	}
	return outs, n, nil
}

// MergeGroup transforms one group and gates the result. On transform error,
// empty output or a rejected gate it returns the deterministic fallback merge
// and reports true.
func (r *Reducer) MergeGroup(ctx context.Context, input string) (string, bool) {
	out, err := r.t.Transform(ctx, input, r.opts.Prompt)
	if err != nil {
		r.log.Warn("group transform failed, using fallback merge", "error", err)
		return r.d.Dedup(input), true
	}
	if strings.TrimSpace(out) == "" {
		r.log.Warn("group transform returned empty output, using fallback merge")
		return r.d.Dedup(input), true
	}
	if v := r.v.Validate(input, out); !v.IsValid {
		r.log.Warn("group output rejected, using fallback merge",
			"issues", v.Issues, "missing", v.MissingPatterns, "size_ratio", v.SizeRatio)
		return r.d.Dedup(input), true
	}
	return out, false
}

func (r *Reducer) progress(cur, total int, msg string) {
	if r.opts.Progress != nil {
		r.opts.Progress(cur, total, msg)
	}
}

// Group partitions units into consecutive groups of at most ratio units,
// each joined by a blank line.
func Group(units []string, ratio int) []string {
	if ratio < 1 {
		ratio = 1
	}
	groups := make([]string, 0, (len(units)+ratio-1)/ratio)
	for i := 0; i < len(units); i += ratio {
		end := min(i+ratio, len(units))
		groups = append(groups, strings.Join(units[i:end], "\n\n"))
	}
	return groups
}
