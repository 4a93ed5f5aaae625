// Package minify compresses a finished reference deterministically: prose is
// reflowed and whitespace squeezed while fenced code keeps its lines.
package minify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	codeBlockRe   = regexp.MustCompile("```[\\s\\S]*?```")
	placeholderRe = regexp.MustCompile(`__CODEBLOCK_(\d+)__`)
	hspaceRe      = regexp.MustCompile(`[ \t]+`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
	orderedRe     = regexp.MustCompile(`^\d+\.`)
)

const placeholderPrefix = "__CODEBLOCK_"

// Minify joins wrapped prose lines into paragraphs, keeps headers and list
// items on their own lines, collapses blank runs, and strips trailing
// whitespace and blank lines inside code blocks.
func Minify(text string) string {
	var blocks []string
	protected := codeBlockRe.ReplaceAllStringFunc(text, func(m string) string {
		blocks = append(blocks, m)
		return fmt.Sprintf("%s%d__", placeholderPrefix, len(blocks)-1)
	})

	protected = hspaceRe.ReplaceAllString(protected, " ")
	protected = blankRunRe.ReplaceAllString(protected, "\n\n")

	var lines []string
	last := func() string {
		if len(lines) == 0 {
			return ""
		}
		return lines[len(lines)-1]
	}
	inList := false

	for _, line := range strings.Split(protected, "\n") {
		s := strings.TrimSpace(line)
		switch {
		case s == "":
			if len(lines) > 0 && last() != "" {
				lines = append(lines, "")
			}
		case strings.HasPrefix(s, placeholderPrefix):
			lines = append(lines, s)
			inList = false
		case strings.HasPrefix(s, "#"):
			if len(lines) > 0 && last() != "" {
				lines = append(lines, "")
			}
			lines = append(lines, s)
			inList = false
		case isListItem(s):
			lines = append(lines, s)
			inList = true
		case inList:
			lines = append(lines, s)
			inList = false
		case joinable(last()):
			lines[len(lines)-1] += " " + s
		default:
			lines = append(lines, s)
		}
	}

	result := blankRunRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	result = placeholderRe.ReplaceAllStringFunc(result, func(m string) string {
		i, err := strconv.Atoi(placeholderRe.FindStringSubmatch(m)[1])
		if err != nil || i >= len(blocks) {
			return m
		}
		return minifyCodeBlock(blocks[i])
	})
	return strings.TrimSpace(result)
}

func isListItem(s string) bool {
	return strings.HasPrefix(s, "-") || strings.HasPrefix(s, "*") || orderedRe.MatchString(s)
}

// joinable reports whether prose may be appended to the previous line.
func joinable(prev string) bool {
	if prev == "" {
		return false
	}
	for _, p := range []string{"#", placeholderPrefix, "-", "*"} {
		if strings.HasPrefix(prev, p) {
			return false
		}
	}
	return true
}

// minifyCodeBlock drops blank lines and trailing whitespace inside a fenced
// block, keeping the opening and closing fences.
func minifyCodeBlock(block string) string {
	lines := strings.Split(block, "\n")
	if len(lines) < 2 {
		return block
	}
	out := []string{lines[0]}
	for _, l := range lines[1 : len(lines)-1] {
		if l = strings.TrimRight(l, " \t"); l != "" {
			out = append(out, l)
		}
	}
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		out = append(out, "```")
	} else {
		out = append(out, lines[len(lines)-1])
	}
	return strings.Join(out, "\n")
}

// Ratio returns len(out)/len(in), 0 for empty input.
func Ratio(in, out string) float64 {
	if len(in) == 0 {
		return 0
	}
	return float64(len(out)) / float64(len(in))
}
