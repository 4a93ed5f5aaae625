// Package validate implements the content-preservation gate applied at every
// reduction stage boundary.
package validate

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/docfactory/internal/patterns"
)

// Result is the verdict of a validation gate.
type Result struct {
	IsValid         bool     `json:"is_valid"`
	Issues          []string `json:"issues"`
	MissingPatterns []string `json:"missing_patterns"`
	SizeRatio       float64  `json:"size_ratio"`
}

// Validator checks that a stage output preserves its input's critical content.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	Registry             *patterns.Registry
	MinSizeRatio         float64
	RequiredPatternRatio float64
}

// Default thresholds.
const (
	DefaultMinSizeRatio         = 0.1
	DefaultRequiredPatternRatio = 0.5
)

// New returns a Validator over the Jac registry with the given thresholds.
// Non-positive thresholds fall back to the defaults.
func New(minSizeRatio, requiredPatternRatio float64) *Validator {
	if minSizeRatio <= 0 {
		minSizeRatio = DefaultMinSizeRatio
	}
	if requiredPatternRatio <= 0 {
		requiredPatternRatio = DefaultRequiredPatternRatio
	}
	return &Validator{
		Registry:             patterns.Jac,
		MinSizeRatio:         minSizeRatio,
		RequiredPatternRatio: requiredPatternRatio,
	}
}

func (v *Validator) registry() *patterns.Registry {
	if v.Registry == nil {
		return patterns.Jac
	}
	return v.Registry
}

// FindPatterns returns the names of critical patterns present in text.
func (v *Validator) FindPatterns(text string) []string {
	return v.registry().Find(text)
}

// Validate compares a stage output against its input.
func (v *Validator) Validate(input, output string) Result {
	if strings.TrimSpace(output) == "" {
		return Result{
			IsValid:   false,
			Issues:    []string{"Output is empty"},
			SizeRatio: 0,
		}
	}

	var issues []string

	sizeRatio := float64(len(output)) / float64(max(len(input), 1))
	if sizeRatio < v.MinSizeRatio {
		issues = append(issues, fmt.Sprintf("Output too small: %.1f%% of input (min: %.1f%%)",
			sizeRatio*100, v.MinSizeRatio*100))
	}

	if ok, msg := v.ValidateCodeBlocks(output); !ok {
		issues = append(issues, msg)
	}

	reg := v.registry()
	inSet := reg.FindSet(input)
	outSet := reg.FindSet(output)
	missing := patterns.Missing(inSet, outSet)

	if len(inSet) > 0 {
		preserved := float64(len(inSet)-len(missing)) / float64(len(inSet))
		if preserved < v.RequiredPatternRatio {
			issues = append(issues, fmt.Sprintf("Too many patterns lost: %.0f%% preserved (need %.0f%%)",
				preserved*100, v.RequiredPatternRatio*100))
		}
	}

	return Result{
		IsValid:         len(issues) == 0,
		Issues:          issues,
		MissingPatterns: missing,
		SizeRatio:       sizeRatio,
	}
}

// ValidateFinal checks a final document for required patterns. A nil required
// list uses patterns.MinimalFinal.
func (v *Validator) ValidateFinal(text string, required []string) Result {
	if required == nil {
		required = patterns.MinimalFinal
	}

	var issues []string
	found := v.registry().FindSet(text)

	var missing []string
	for _, name := range required {
		if !found[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		issues = append(issues, fmt.Sprintf("Missing required patterns: [%s]", strings.Join(missing, ", ")))
	}

	if ok, msg := v.ValidateCodeBlocks(text); !ok {
		issues = append(issues, msg)
	}

	return Result{
		IsValid:         len(issues) == 0,
		Issues:          issues,
		MissingPatterns: missing,
		SizeRatio:       1.0,
	}
}

// ValidateCodeBlocks reports whether code fences in text are balanced.
func (v *Validator) ValidateCodeBlocks(text string) (bool, string) {
	if strings.Count(text, "```")%2 != 0 {
		return false, "Unbalanced code fences"
	}
	return true, ""
}
