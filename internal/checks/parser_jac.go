package checks

import "strings"

// JacParser reads `jac check` output. The summary of a failure is the first
// line of stderr, falling back to stdout.
type JacParser struct{}

func (p *JacParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "passed"}
	}

	out := strings.TrimSpace(stderr)
	if out == "" {
		out = strings.TrimSpace(stdout)
	}
	if out == "" {
		return ParseResult{Passed: false, Summary: "Unknown error"}
	}

	first, _, _ := strings.Cut(out, "\n")
	return ParseResult{
		Passed:   false,
		Summary:  strings.TrimSpace(first),
		Findings: out,
	}
}
