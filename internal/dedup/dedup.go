// Package dedup provides the deterministic merge used when a transform fails
// or is rejected by the validation gate.
package dedup

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Deduper removes repeated content from text without reordering it.
type Deduper interface {
	Dedup(text string) string
}

// Normalize folds a line for duplicate detection: NFKC, trimmed, lower-cased,
// inner whitespace collapsed.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// LineDeduper drops lines whose normalised form was already seen. Blank
// lines and code fence markers are always kept so paragraph structure and
// fence balance survive.
type LineDeduper struct{}

func (LineDeduper) Dedup(text string) string {
	lines := strings.Split(text, "\n")
	seen := make(map[string]bool, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "```") {
			out = append(out, line)
			continue
		}
		key := Normalize(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// PrefixKey is a cheap similarity key: the first n characters of the
// whitespace-collapsed, lower-cased text.
func PrefixKey(text string, n int) string {
	key := Normalize(text)
	if len(key) > n {
		key = key[:n]
	}
	return key
}

// PrefixSet tracks PrefixKey values to drop near-duplicate snippets.
type PrefixSet struct {
	n    int
	seen map[string]bool
}

// NewPrefixSet returns a PrefixSet keyed on the first n characters.
func NewPrefixSet(n int) *PrefixSet {
	return &PrefixSet{n: n, seen: make(map[string]bool)}
}

// Add records text and reports whether it was new.
func (p *PrefixSet) Add(text string) bool {
	k := PrefixKey(text, p.n)
	if p.seen[k] {
		return false
	}
	p.seen[k] = true
	return true
}
