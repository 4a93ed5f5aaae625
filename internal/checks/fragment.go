package checks

import (
	"regexp"
	"strings"
)

var fragmentMarkers = []string{"...", "# ...", "// ...", "/* ... */", "...}", "{..."}

var definitionRes = []*regexp.Regexp{
	regexp.MustCompile(`\bnode\s+\w+`),
	regexp.MustCompile(`\bwalker\s+\w+`),
	regexp.MustCompile(`\bedge\s+\w+`),
	regexp.MustCompile(`\bobj\s+\w+`),
	regexp.MustCompile(`\bdef\s+\w+`),
	regexp.MustCompile(`\bcan\s+\w+`),
	regexp.MustCompile(`with\s+.*entry`),
	regexp.MustCompile(`with\s+.*exit`),
}

// IsFragment reports whether code is an incomplete snippet that should not be
// sent to the checker. It depends only on its input.
func IsFragment(code string) bool {
	lines := strings.Split(strings.TrimSpace(code), "\n")

	if len(lines) < 2 && !strings.Contains(code, "with entry") && !strings.Contains(code, "spawn") {
		return true
	}

	for _, m := range fragmentMarkers {
		if strings.Contains(code, m) {
			return true
		}
	}

	if len(lines) < 3 && !hasDefinition(code) {
		return true
	}
	return false
}

func hasDefinition(code string) bool {
	for _, re := range definitionRes {
		if re.MatchString(code) {
			return true
		}
	}
	return false
}
