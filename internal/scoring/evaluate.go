package scoring

import (
	"context"
	"math"
	"strings"

	"github.com/lucasnoah/docfactory/internal/dedup"
)

// Case is one benchmark case scored against generated code.
type Case struct {
	ID                string   `json:"id"`
	Category          string   `json:"category"`
	Level             int      `json:"level"`
	Type              string   `json:"type,omitempty"` // "functional" runs the harness
	Points            float64  `json:"points"`
	RequiredElements  []string `json:"required_elements"`
	ForbiddenElements []string `json:"forbidden_elements,omitempty"`
	TestHarness       string   `json:"test_harness,omitempty"`
}

// CaseChecker compiles and tests generated code. Implementations wrap the
// external toolchain.
type CaseChecker interface {
	// Check reports whether code passes the syntax checker.
	Check(ctx context.Context, code string) (valid bool, errs []string, err error)
	// Test runs code followed by harness and reports whether it passed.
	Test(ctx context.Context, code, harness string) (passed bool, output string, err error)
}

// Penalties breaks down the points a case lost.
type Penalties struct {
	Required   float64 `json:"required"`
	Forbidden  float64 `json:"forbidden"`
	JacCheck   float64 `json:"jac_check"`
	Functional float64 `json:"functional"`
}

// CaseResult is the evaluation of one case.
type CaseResult struct {
	CaseID         string    `json:"test_id"`
	Category       string    `json:"category"`
	Level          int       `json:"level"`
	Score          float64   `json:"score"`
	MaxScore       float64   `json:"max_score"`
	Percentage     float64   `json:"percentage"`
	Breakdown      Penalties `json:"score_breakdown"`
	RequiredFound  int       `json:"required_found"`
	RequiredTotal  int       `json:"required_total"`
	ForbiddenFound int       `json:"forbidden_found"`
	Passed         []string  `json:"passed_checks"`
	Failed         []string  `json:"failed_checks"`
	JacValid       bool      `json:"jac_valid"`
	JacErrors      []string  `json:"jac_errors,omitempty"`
}

const (
	forbiddenWeight = 0.30
	jacCheckWeight  = 0.15
	maxTestOutput   = 500
)

// EvaluateCase grades code against c. Required elements earn points
// pro rata; forbidden elements cost up to 30% of the case; failing the
// syntax checker costs 15%. A functional case that fails its harness (or
// does not compile) loses all remaining points. checker may be nil to skip
// the toolchain.
func EvaluateCase(ctx context.Context, code string, c Case, checker CaseChecker) CaseResult {
	res := CaseResult{
		CaseID:        c.ID,
		Category:      c.Category,
		Level:         c.Level,
		MaxScore:      c.Points,
		RequiredTotal: len(c.RequiredElements),
		JacValid:      true,
	}

	for _, el := range c.RequiredElements {
		if ContainsElement(code, el) {
			res.RequiredFound++
			res.Passed = append(res.Passed, "[PASS] Found required element: '"+el+"'")
		} else {
			res.Failed = append(res.Failed, "[FAIL] Missing required element: '"+el+"'")
		}
	}
	for _, el := range c.ForbiddenElements {
		if strings.Contains(code, el) {
			res.ForbiddenFound++
			res.Failed = append(res.Failed, "[FAIL] Contains forbidden element: '"+el+"'")
		} else {
			res.Passed = append(res.Passed, "[PASS] Correctly avoided: '"+el+"'")
		}
	}

	score := c.Points
	if n := len(c.RequiredElements); n > 0 {
		score = float64(res.RequiredFound) / float64(n) * c.Points
		res.Breakdown.Required = c.Points - score
	}
	if n := len(c.ForbiddenElements); n > 0 {
		res.Breakdown.Forbidden = float64(res.ForbiddenFound) / float64(n) * c.Points * forbiddenWeight
	}
	score = math.Max(0, score-res.Breakdown.Forbidden)

	if checker != nil {
		valid, errs, err := checker.Check(ctx, code)
		if err != nil {
			errs = append(errs, "Syntax check failed: "+err.Error())
			valid = false
		}
		res.JacValid, res.JacErrors = valid, errs
		if valid {
			res.Passed = append(res.Passed, "[PASS] jac check passed")
		} else {
			res.Breakdown.JacCheck = c.Points * jacCheckWeight
			score = math.Max(0, score-res.Breakdown.JacCheck)
			res.Failed = append(res.Failed, "[FAIL] jac check failed")
		}
	}

	if c.Type == "functional" {
		switch {
		case !res.JacValid:
			res.Breakdown.Functional = score
			score = 0
			res.Failed = append(res.Failed, "[FAIL] Functional tests skipped due to compilation error")
		case checker != nil:
			passed, out, err := checker.Test(ctx, code, c.TestHarness)
			if err != nil {
				passed, out = false, "Functional test failed to run: "+err.Error()
			}
			if passed {
				res.Passed = append(res.Passed, "[PASS] Functional tests passed")
			} else {
				res.Breakdown.Functional = score
				score = 0
				if len(out) > maxTestOutput {
					out = out[:maxTestOutput] + "..."
				}
				res.Failed = append(res.Failed, "[FAIL] Functional tests failed:\n"+out)
			}
		}
	}

	res.Score = round2(score)
	if c.Points > 0 {
		res.Percentage = round2(score / c.Points * 100)
	}
	return res
}

// ContainsElement reports whether code contains el literally or after
// collapsing whitespace on both sides.
func ContainsElement(code, el string) bool {
	if strings.Contains(code, el) {
		return true
	}
	collapse := func(s string) string { return strings.Join(strings.Fields(s), " ") }
	return strings.Contains(collapse(code), collapse(el)) || strings.Contains(dedup.Normalize(code), dedup.Normalize(el))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
