package reduce

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedBlockRe = regexp.MustCompile("(?s)```.*?```")
	placeholderRe = regexp.MustCompile(`__CODE_BLOCK_(\d+)__`)
	paragraphRe   = regexp.MustCompile(`\n\n+`)
)

// SmartChunk splits text into chunks of at most maxSize characters on "## "
// header boundaries, never inside a fenced code block. A single section
// larger than maxSize is split on paragraph boundaries instead; a lone code
// block larger than maxSize is kept whole.
func SmartChunk(text string, maxSize int) []string {
	if len(text) <= maxSize {
		return []string{text}
	}

	var blocks []string
	protected := fencedBlockRe.ReplaceAllStringFunc(text, func(m string) string {
		blocks = append(blocks, m)
		return fmt.Sprintf("__CODE_BLOCK_%d__", len(blocks)-1)
	})
	restore := func(s string) string {
		return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
			var i int
			fmt.Sscanf(m, "__CODE_BLOCK_%d__", &i)
			if i < len(blocks) {
				return blocks[i]
			}
			return m
		})
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	add := func(piece, sep string) {
		if cur.Len() > 0 && cur.Len()+len(sep)+len(restore(piece)) > maxSize {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(restore(piece))
	}

	for _, section := range splitSections(protected) {
		if len(restore(section)) <= maxSize {
			add(section, "")
			continue
		}
		flush()
		for _, para := range paragraphRe.Split(section, -1) {
			if strings.TrimSpace(para) == "" {
				continue
			}
			add(para, "\n\n")
		}
		flush()
	}
	flush()
	return chunks
}

// splitSections splits before every "\n## " so each piece keeps its header.
func splitSections(text string) []string {
	var out []string
	for {
		i := strings.Index(text, "\n## ")
		if i < 0 {
			break
		}
		if i > 0 {
			out = append(out, text[:i])
		}
		text = text[i:]
		j := strings.Index(text[1:], "\n## ")
		if j < 0 {
			break
		}
		out = append(out, text[:j+1])
		text = text[j+1:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
