package reduce

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/lucasnoah/docfactory/internal/llm"
	"github.com/lucasnoah/docfactory/internal/prompt"
)

// SizeResult is the outcome of a bounded transform.
type SizeResult struct {
	Content      string `json:"-"`
	Attempts     int    `json:"attempts"`
	WithinBounds bool   `json:"within_bounds"`
	FinalSize    int    `json:"final_size"`
}

// SizeController retries a transform until its output length falls inside
// [Min, Max], nudging the prompt toward more or less detail between attempts.
type SizeController struct {
	t            llm.Transformer
	log          *slog.Logger
	MaxRetries   int
	PreserveMore string
	CompressMore string
}

// NewSizeController creates a SizeController with the built-in prompt
// suffixes. promptsDir may hold overrides.
func NewSizeController(t llm.Transformer, promptsDir string, log *slog.Logger) *SizeController {
	if log == nil {
		log = slog.Default()
	}
	sc := &SizeController{t: t, log: log, MaxRetries: 3}
	sc.PreserveMore, _ = prompt.Load(prompt.PreserveMore, promptsDir)
	sc.CompressMore, _ = prompt.Load(prompt.CompressMore, promptsDir)
	return sc
}

// Transform runs the bounded transform. A bound of 0 is unset. When no attempt
// lands inside the bounds the closest non-empty output is returned.
func (s *SizeController) Transform(ctx context.Context, content, basePrompt string, minChars, maxChars int) (SizeResult, error) {
	var (
		best      string
		bestScore = -1.0
		attempts  = s.MaxRetries + 1
	)

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return SizeResult{}, err
		}
		p := basePrompt
		if attempt > 0 && best != "" {
			switch {
			case minChars > 0 && len(best) < minChars:
				p += s.PreserveMore
			case maxChars > 0 && len(best) > maxChars:
				p += s.CompressMore
			}
		}

		out, err := s.t.Transform(ctx, content, p)
		if err != nil {
			s.log.Warn("bounded transform attempt failed", "attempt", attempt+1, "error", err)
			continue
		}
		if strings.TrimSpace(out) == "" {
			continue
		}

		if score := sizeScore(len(out), minChars, maxChars); score > bestScore {
			best, bestScore = out, score
		}
		if inBounds(len(out), minChars, maxChars) {
			return SizeResult{Content: out, Attempts: attempt + 1, WithinBounds: true, FinalSize: len(out)}, nil
		}
		s.log.Info("output outside size bounds, retrying",
			"attempt", attempt+1, "size", len(out), "min", minChars, "max", maxChars)
	}

	return SizeResult{Content: best, Attempts: attempts, FinalSize: len(best)}, nil
}

func inBounds(n, minChars, maxChars int) bool {
	if minChars > 0 && n < minChars {
		return false
	}
	if maxChars > 0 && n > maxChars {
		return false
	}
	return true
}

// sizeScore rates how close n is to the target range, 1 being best.
func sizeScore(n, minChars, maxChars int) float64 {
	switch {
	case minChars > 0 && maxChars > 0:
		target := float64(minChars+maxChars) / 2
		maxDist := math.Max(target-float64(minChars), float64(maxChars)-target)
		if maxDist <= 0 {
			return 1
		}
		return 1 - math.Abs(float64(n)-target)/maxDist
	case minChars > 0:
		return math.Min(float64(n)/float64(minChars), 1)
	case maxChars > 0:
		if n == 0 {
			return 0
		}
		return math.Min(float64(maxChars)/float64(n), 1)
	}
	return 1
}
