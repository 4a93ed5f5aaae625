package checks

import (
	"regexp"
	"strings"
)

// Origin records where a code block was found.
type Origin string

const (
	OriginFenced     Origin = "fenced"
	OriginDefinition Origin = "definition"
	OriginEntryPoint Origin = "entry_point"
)

// CodeBlock is one unit submitted to the syntax checker.
type CodeBlock struct {
	Ref    int    `json:"ref"`  // 1-based fence index for fenced blocks
	Line   int    `json:"line"` // 1-based line where the block starts
	Code   string `json:"code"`
	Origin Origin `json:"origin"`
}

var fenceRe = regexp.MustCompile("(?is)```(?:jac|jaclang)?\\s*\\n(.*?)```")

// ExtractFenced returns the Jac fenced code blocks in text. Blocks that are
// comment-only or 10 characters or shorter are dropped.
func ExtractFenced(text string) []CodeBlock {
	var blocks []CodeBlock
	for i, m := range fenceRe.FindAllStringSubmatchIndex(text, -1) {
		code := strings.TrimSpace(text[m[2]:m[3]])
		if code == "" || strings.HasPrefix(code, "//") || len(code) <= 10 {
			continue
		}
		blocks = append(blocks, CodeBlock{
			Ref:    i + 1,
			Line:   strings.Count(text[:m[0]], "\n") + 1,
			Code:   code,
			Origin: OriginFenced,
		})
	}
	return blocks
}

var definitionKeywords = []string{
	"node ", "walker ", "edge ", "obj ", "enum ",
	"async walker ", "async def ",
}

func startsWithDefinition(line string) bool {
	for _, kw := range definitionKeywords {
		if strings.HasPrefix(line, kw) {
			return true
		}
	}
	return false
}

// ExtractInline finds brace-balanced Jac blocks written as plain text outside
// of code fences. Lines inside fences are ignored so fenced code is not
// checked twice.
func ExtractInline(text string) []CodeBlock {
	lines := strings.Split(blankFences(text), "\n")

	var blocks []CodeBlock
	i := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			i++
			continue
		}
		isDef := startsWithDefinition(line)
		// Prose like "Note: walkers ..." is not code.
		if strings.Contains(line, ":") && !strings.Contains(line, "{") && !isDef {
			i++
			continue
		}

		var origin Origin
		switch {
		case isDef:
			origin = OriginDefinition
		case strings.HasPrefix(line, "with entry") || strings.HasPrefix(line, "with exit"):
			origin = OriginEntryPoint
		case strings.HasPrefix(line, "def ") && strings.Contains(line, "{"):
			origin = OriginDefinition
		default:
			i++
			continue
		}

		start := i + 1
		code, end := balancedBlock(lines, i)
		i = end + 1

		if len(code) <= 15 {
			continue
		}
		open := strings.Count(code, "{")
		if open == 0 || open != strings.Count(code, "}") {
			continue
		}
		blocks = append(blocks, CodeBlock{Line: start, Code: code, Origin: origin})
	}
	return blocks
}

// balancedBlock joins trimmed lines from start until braces balance. It returns
// the joined code and the index of the last consumed line.
func balancedBlock(lines []string, start int) (string, int) {
	var parts []string
	depth := 0
	started := false
	end := start

	for i := start; i < len(lines); i++ {
		s := strings.TrimSpace(lines[i])
		if s == "" {
			if started && depth == 0 {
				break
			}
			if started {
				parts = append(parts, lines[i])
			}
			continue
		}
		if strings.HasPrefix(s, "#") && !started {
			break
		}

		for _, c := range s {
			switch c {
			case '{':
				depth++
				started = true
			case '}':
				depth--
			}
		}
		parts = append(parts, s)
		end = i

		if started && depth == 0 {
			break
		}
	}
	return strings.Join(parts, " "), end
}

// blankFences replaces every fenced region with empty lines, keeping line numbers.
func blankFences(text string) string {
	return fenceAnyRe.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Repeat("\n", strings.Count(m, "\n"))
	})
}

var fenceAnyRe = regexp.MustCompile("(?s)```.*?```")
