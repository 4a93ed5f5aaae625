package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/lucasnoah/docfactory/internal/dedup"
)

// requirements must match (case-sensitively) for an example to count toward
// its bucket during selection.
var requirements = map[string]*regexp.Regexp{
	"node":       regexp.MustCompile(`\bnode\s+\w+`),
	"edge":       regexp.MustCompile(`\bedge\s+\w+`),
	"walker":     regexp.MustCompile(`\bwalker\s+\w+`),
	"obj":        regexp.MustCompile(`\bobj\s+\w+`),
	"enum":       regexp.MustCompile(`\benum\s+\w+`),
	"can":        regexp.MustCompile(`\bcan\s+\w+`),
	"def":        regexp.MustCompile(`\bdef\s+\w+`),
	"with_entry": regexp.MustCompile(`with\s+.*?\s+entry`),
	"with_exit":  regexp.MustCompile(`with\s+.*?\s+exit`),
	"by_llm":     regexp.MustCompile(`by\s+llm`),
	"spawn":      regexp.MustCompile(`\bspawn\b`),
	"visit":      regexp.MustCompile(`\bvisit\b`),
	"connect":    regexp.MustCompile(`\+\+>|<\+\+>`),
	"traverse":   regexp.MustCompile(`-->|<--|->:.*?:->|<-:.*?:<-`),
	"filter":     regexp.MustCompile(`\(\?\w+`),
	"report":     regexp.MustCompile(`\breport\b`),
}

// ScoreExample rates an example for inclusion. Negative scores are never
// selected.
func ScoreExample(ex Example) int {
	var length int
	switch n := ex.Lines; {
	case n > 50:
		return -100
	case n > 30:
		length = -20
	case n >= 5 && n <= 20:
		length = 30
	case n < 5:
		length = n * 3
	default:
		length = 20 - (n - 20)
	}

	keyword := min(len(ex.Keywords)*5, 25)
	focus := max(0, 20-len(Classify(ex.Code))*3)

	complete := 0
	if strings.Contains(ex.Code, "spawn") && strings.Contains(ex.Code, "walker") {
		complete += 10
	}
	if strings.Contains(ex.Code, "visit") && (strings.Contains(ex.Code, "++>") || strings.Contains(ex.Code, "-->")) {
		complete += 10
	}
	if strings.Contains(strings.ToLower(ex.Code), "with entry") {
		complete += 5
	}
	return length + keyword + focus + complete
}

// SelectBest picks up to maxPerType examples per construct: highest score
// first, ties in extraction order, near-duplicates (same first 150
// normalised characters) dropped.
func SelectBest(c *Content, maxPerType int) map[string][]Example {
	if maxPerType <= 0 {
		maxPerType = 3
	}
	selected := make(map[string][]Example)
	for ct, examples := range c.Examples {
		if req, ok := requirements[ct]; ok {
			var kept []Example
			for _, ex := range examples {
				if req.MatchString(ex.Code) {
					kept = append(kept, ex)
				}
			}
			examples = kept
		}
		if len(examples) == 0 {
			continue
		}

		type scored struct {
			ex    Example
			score int
		}
		ranked := make([]scored, len(examples))
		for i, ex := range examples {
			ranked[i] = scored{ex, ScoreExample(ex)}
		}
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

		seen := dedup.NewPrefixSet(150)
		var unique []Example
		for _, r := range ranked {
			if r.score < 0 {
				continue
			}
			if !seen.Add(r.ex.Code) {
				continue
			}
			unique = append(unique, r.ex)
			if len(unique) >= maxPerType {
				break
			}
		}
		if len(unique) > 0 {
			selected[ct] = unique
		}
	}
	return selected
}
