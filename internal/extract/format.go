package extract

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/docfactory/internal/dedup"
)

// signatureOrder is the order signature groups are emitted in.
var signatureOrder = []string{"node", "edge", "walker", "obj", "enum", "function", "glob"}

// FormatForAssembly renders extracted signatures, the best examples and the
// keywords found as plain text input for the assemble stage.
func FormatForAssembly(c *Content) string {
	best := SelectBest(c, 3)
	var b strings.Builder

	b.WriteString("# EXTRACTED SIGNATURES\n\n")
	for _, ct := range signatureOrder {
		sigs := c.Signatures[ct]
		if len(sigs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n", strings.ToUpper(ct))
		seen := make(map[string]bool)
		for _, sig := range sigs[:min(len(sigs), 10)] {
			key := dedup.Normalize(sig)
			if seen[key] || len(key) <= 10 {
				continue
			}
			seen[key] = true
			b.WriteString(sig)
			b.WriteString("\n\n")
		}
	}

	b.WriteString("\n# EXTRACTED EXAMPLES\n\n")
	for _, ct := range c.ConstructTypes() {
		examples := best[ct]
		if len(examples) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s EXAMPLES\n", strings.ToUpper(ct))
		for _, ex := range examples {
			fmt.Fprintf(&b, "# From: %s\n", ex.SourceFile)
			fmt.Fprintf(&b, "# Keywords: %s\n", strings.Join(ex.Keywords, ", "))
			fmt.Fprintf(&b, "```jac\n%s\n```\n\n", ex.Code)
		}
	}

	fmt.Fprintf(&b, "\n# KEYWORDS FOUND: %s", strings.Join(c.KeywordsFound(), ", "))
	return b.String()
}

// Stats summarises extracted content for stage metrics.
type Stats struct {
	Signatures       int `json:"signatures"`
	Examples         int `json:"examples"`
	SelectedExamples int `json:"selected_examples"`
	KeywordsFound    int `json:"keywords_found"`
	ConstructTypes   int `json:"construct_types"`
}

// Summarize computes Stats for c.
func Summarize(c *Content) Stats {
	selected := 0
	for _, v := range SelectBest(c, 3) {
		selected += len(v)
	}
	return Stats{
		Signatures:       c.TotalSignatures,
		Examples:         c.TotalExamples,
		SelectedExamples: selected,
		KeywordsFound:    len(c.Keywords),
		ConstructTypes:   len(c.ConstructTypes()),
	}
}
