// Package scoring turns verifier results and pattern coverage into a
// versioned quality score and compares it against a historical baseline.
package scoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lucasnoah/docfactory/internal/checks"
	"github.com/lucasnoah/docfactory/internal/patterns"
)

// VersionLayout formats score versions from their creation time.
const VersionLayout = "20060102_150405"

// ConstructCoverage counts examples of one tracked construct.
type ConstructCoverage struct {
	Construct     string `json:"construct"`
	ExamplesFound int    `json:"examples_found"`
	ExamplesValid int    `json:"examples_valid"`
}

// QualityScore is one scored document. JacCheckUnavailable marks scores taken
// without a working checker; their check counts carry no signal.
type QualityScore struct {
	Version             string              `json:"version"`
	Timestamp           string              `json:"timestamp"`
	ContentHash         string              `json:"content_hash"`
	PatternsFound       int                 `json:"patterns_found"`
	PatternsTotal       int                 `json:"patterns_total"`
	PatternCoverage     float64             `json:"pattern_coverage"`
	JacCheckPassed      int                 `json:"jac_check_passed"`
	JacCheckFailed      int                 `json:"jac_check_failed"`
	JacCheckRate        float64             `json:"jac_check_rate"`
	JacCheckUnavailable bool                `json:"jac_check_unavailable,omitempty"`
	Constructs          []ConstructCoverage `json:"constructs"`
	OutputSize          int                 `json:"output_size"`
	TokenCount          int                 `json:"token_count"`
	Regressions         []string            `json:"regressions"`
	Improvements        []string            `json:"improvements"`
}

// Summary is the short form used in listings.
type Summary struct {
	Version         string  `json:"version"`
	Timestamp       string  `json:"timestamp"`
	PatternCoverage float64 `json:"pattern_coverage"`
	JacCheckRate    float64 `json:"jac_check_rate"`
	OutputSize      int     `json:"output_size"`
	JacUnavailable  bool    `json:"jac_check_unavailable,omitempty"`
}

// Precomputed carries results the caller already has so Score does not
// recompute them. Nil fields are computed.
type Precomputed struct {
	Check      *checks.VerifyResult
	Patterns   []string
	TokenCount *int
}

// Checker runs the syntax verifier over a document.
type Checker interface {
	CheckAll(ctx context.Context, text string, opts checks.VerifyOptions) (*checks.VerifyResult, error)
}

// Scorer computes quality scores.
type Scorer struct {
	reg     *patterns.Registry
	checker Checker
	opts    checks.VerifyOptions
	now     func() time.Time
}

// NewScorer creates a Scorer. checker may be nil, in which case documents
// without a precomputed check result are scored as checker-unavailable.
func NewScorer(reg *patterns.Registry, checker Checker, opts checks.VerifyOptions) *Scorer {
	if reg == nil {
		reg = patterns.Jac
	}
	return &Scorer{reg: reg, checker: checker, opts: opts, now: time.Now}
}

// NextVersion returns a version string for a score created now.
func (s *Scorer) NextVersion() string {
	return s.now().Format(VersionLayout)
}

// Score aggregates a QualityScore for text.
func (s *Scorer) Score(ctx context.Context, text, version string, pre Precomputed) (*QualityScore, error) {
	found := pre.Patterns
	if found == nil {
		found = s.reg.Find(text)
	}

	check := pre.Check
	if check == nil && s.checker != nil {
		res, err := s.checker.CheckAll(ctx, text, s.opts)
		if err != nil && res == nil {
			return nil, fmt.Errorf("check examples: %w", err)
		}
		check = res
	}
	if check == nil {
		check = &checks.VerifyResult{Unavailable: true}
	}

	tokens := EstimateTokens(text)
	if pre.TokenCount != nil {
		tokens = *pre.TokenCount
	}

	total := s.reg.Len()
	coverage := 0.0
	if total > 0 {
		coverage = float64(len(found)) / float64(total)
	}

	constructs := make([]ConstructCoverage, 0, len(patterns.Constructs))
	for _, c := range patterns.Constructs {
		constructs = append(constructs, ConstructCoverage{
			Construct:     c,
			ExamplesFound: patterns.CountConstruct(text, c),
		})
	}

	return &QualityScore{
		Version:             version,
		Timestamp:           s.now().Format(time.RFC3339),
		ContentHash:         ContentHash(text),
		PatternsFound:       len(found),
		PatternsTotal:       total,
		PatternCoverage:     coverage,
		JacCheckPassed:      check.Passed,
		JacCheckFailed:      check.Failed,
		JacCheckRate:        check.PassRate,
		JacCheckUnavailable: check.Unavailable,
		Constructs:          constructs,
		OutputSize:          len(text),
		TokenCount:          tokens,
		Regressions:         []string{},
		Improvements:        []string{},
	}, nil
}

// ContentHash is the first 16 hex characters of the sha256 of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// EstimateTokens approximates a token count as one token per four bytes.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Compare lists the regressions and improvements of current against baseline.
// The check rate is compared only when both scores had a working checker.
func Compare(current, baseline *QualityScore) (regressions, improvements []string) {
	regressions, improvements = []string{}, []string{}

	switch {
	case current.PatternCoverage < baseline.PatternCoverage-0.05:
		regressions = append(regressions, fmt.Sprintf("Pattern coverage dropped: %.1f%% -> %.1f%%",
			baseline.PatternCoverage*100, current.PatternCoverage*100))
	case current.PatternCoverage > baseline.PatternCoverage+0.05:
		improvements = append(improvements, fmt.Sprintf("Pattern coverage improved: %.1f%% -> %.1f%%",
			baseline.PatternCoverage*100, current.PatternCoverage*100))
	}

	switch {
	case current.JacCheckUnavailable || baseline.JacCheckUnavailable:
	case current.JacCheckRate < baseline.JacCheckRate-5:
		regressions = append(regressions, fmt.Sprintf("Jac check rate dropped: %.1f%% -> %.1f%%",
			baseline.JacCheckRate, current.JacCheckRate))
	case current.JacCheckRate > baseline.JacCheckRate+5:
		improvements = append(improvements, fmt.Sprintf("Jac check rate improved: %.1f%% -> %.1f%%",
			baseline.JacCheckRate, current.JacCheckRate))
	}

	if float64(current.OutputSize) < float64(baseline.OutputSize)*0.8 {
		regressions = append(regressions, fmt.Sprintf("Output size decreased significantly: %s -> %s bytes",
			humanize.Comma(int64(baseline.OutputSize)), humanize.Comma(int64(current.OutputSize))))
	}

	base := constructCounts(baseline)
	cur := constructCounts(current)
	for _, c := range patterns.Constructs {
		switch {
		case base[c] > 0 && cur[c] == 0:
			regressions = append(regressions, fmt.Sprintf("Lost all %s examples", c))
		case base[c] == 0 && cur[c] > 0:
			improvements = append(improvements, fmt.Sprintf("Added %s examples (%d)", c, cur[c]))
		}
	}
	return regressions, improvements
}

func constructCounts(s *QualityScore) map[string]int {
	m := make(map[string]int, len(s.Constructs))
	for _, c := range s.Constructs {
		m[c.Construct] = c.ExamplesFound
	}
	return m
}
