// Package extract deterministically classifies sanitized documentation into
// construct-typed signatures and code examples, and routes sections into
// topic files for the merge stage. No language model is involved.
package extract

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Construct is a named construct classifier.
type Construct struct {
	Name string
	Re   *regexp.Regexp
}

// Constructs classify code examples, in priority order. The first match is
// an example's primary construct.
var Constructs = []Construct{
	{"node", regexp.MustCompile(`(?i)\bnode\s+\w+`)},
	{"edge", regexp.MustCompile(`(?i)\bedge\s+\w+`)},
	{"walker", regexp.MustCompile(`(?i)\bwalker\s+\w+`)},
	{"obj", regexp.MustCompile(`(?i)\bobj\s+\w+`)},
	{"enum", regexp.MustCompile(`(?i)\benum\s+\w+`)},
	{"glob", regexp.MustCompile(`(?i)\bglob\s+\w+`)},
	{"can", regexp.MustCompile(`(?i)\bcan\s+\w+`)},
	{"def", regexp.MustCompile(`(?i)\bdef\s+\w+`)},
	{"with_entry", regexp.MustCompile(`(?i)with\s+.*?\s+entry`)},
	{"with_exit", regexp.MustCompile(`(?i)with\s+.*?\s+exit`)},
	{"by_llm", regexp.MustCompile(`(?i)by\s+llm\s*[;(]`)},
	{"spawn", regexp.MustCompile(`(?i)\bspawn\b`)},
	{"visit", regexp.MustCompile(`(?i)\bvisit\s+\[`)},
	{"connect", regexp.MustCompile(`\+\+>|<\+\+>|\+>:.*?:\+>|<\+:.*?:<\+`)},
	{"traverse", regexp.MustCompile(`\[.*?-->.*?\]|\[.*?<--.*?\]|\[.*?->:.*?:->.*?\]|\[.*?<-:.*?:<-.*?\]`)},
	{"filter", regexp.MustCompile(`\(\?\w+`)},
	{"report", regexp.MustCompile(`(?i)\breport\b`)},
	{"__specs__", regexp.MustCompile(`__specs__`)},
	{"async", regexp.MustCompile(`(?i)\basync\s+(walker|def)`)},
	{"websocket", regexp.MustCompile(`(?i)websocket`)},
	{"serve", regexp.MustCompile(`(?i)jac\s+serve`)},
	{"client_block", regexp.MustCompile(`(?i)\bcl\s*\{`)},
	{"server_block", regexp.MustCompile(`(?i)\bsv\s*\{`)},
	{"jsx_element", regexp.MustCompile(`<[A-Z]\w*[^>]*/>|<[A-Z]\w*[^>]*>`)},
	{"jsx_fragment", regexp.MustCompile(`<>|</>`)},
	{"react_hook", regexp.MustCompile(`\buse[A-Z]\w*\s*\(`)},
}

// General is the bucket for examples matching no construct.
const General = "general"

// CriticalKeywords are literal tokens recorded per example.
var CriticalKeywords = []string{
	"++>", "<++>", "-->", "<-->", "+>:", ":<+", "->:", ":->",
	"spawn", "visit", "report", "disengage",
	"here", "self", "visitor", "props", "by llm",
	"with entry", "with exit", "`root", ".cl.jac", "cl {", "sv {",
	"</", "/>", "useState", "useEffect",
}

// Example is one extracted code example.
type Example struct {
	Code       string   `json:"code"`
	SourceFile string   `json:"source_file"`
	Construct  string   `json:"construct"`
	Keywords   []string `json:"keywords,omitempty"`
	Lines      int      `json:"lines"`
}

func newExample(code, source, construct string) Example {
	return Example{
		Code:       code,
		SourceFile: source,
		Construct:  construct,
		Keywords:   FindKeywords(code),
		Lines:      strings.Count(strings.TrimSpace(code), "\n") + 1,
	}
}

// Content is everything extracted from a tree.
type Content struct {
	Signatures      map[string][]string  `json:"signatures"`
	Examples        map[string][]Example `json:"examples"`
	Keywords        map[string]bool      `json:"-"`
	TotalExamples   int                  `json:"total_examples"`
	TotalSignatures int                  `json:"total_signatures"`
}

// NewContent returns empty Content.
func NewContent() *Content {
	return &Content{
		Signatures: make(map[string][]string),
		Examples:   make(map[string][]Example),
		Keywords:   make(map[string]bool),
	}
}

// KeywordsFound returns the keywords seen in any example, sorted.
func (c *Content) KeywordsFound() []string {
	out := make([]string, 0, len(c.Keywords))
	for k := range c.Keywords {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ConstructTypes returns the example buckets in classifier order, General last.
func (c *Content) ConstructTypes() []string {
	var out []string
	for _, ct := range Constructs {
		if len(c.Examples[ct.Name]) > 0 {
			out = append(out, ct.Name)
		}
	}
	if len(c.Examples[General]) > 0 {
		out = append(out, General)
	}
	return out
}

func (c *Content) recount() {
	c.TotalExamples, c.TotalSignatures = 0, 0
	for _, v := range c.Examples {
		c.TotalExamples += len(v)
	}
	for _, v := range c.Signatures {
		c.TotalSignatures += len(v)
	}
}

// Classify returns every construct the code demonstrates, in classifier order.
func Classify(code string) []string {
	var out []string
	for _, c := range Constructs {
		if c.Re.MatchString(code) {
			out = append(out, c.Name)
		}
	}
	return out
}

// FindKeywords returns the critical keywords literally present in code.
func FindKeywords(code string) []string {
	var out []string
	for _, kw := range CriticalKeywords {
		if strings.Contains(code, kw) {
			out = append(out, kw)
		}
	}
	return out
}

var exampleFenceRe = regexp.MustCompile("(?s)```(jac|python)?[ \t]*\n(.*?)```")

// ExtractDir walks dir and extracts from every .md and .jac file. Markdown
// files whose name contains "skeleton" are parsed as signature listings.
func ExtractDir(dir string) (*Content, error) {
	c := NewContent()
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && (filepath.Ext(p) == ".md" || filepath.Ext(p) == ".jac") {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		name := filepath.Base(p)
		switch {
		case filepath.Ext(p) == ".jac":
			ExtractJac(c, name, string(data))
		case strings.Contains(name, "skeleton"):
			ExtractSkeleton(c, string(data))
		default:
			ExtractExamples(c, name, string(data))
		}
	}
	c.recount()
	return c, nil
}

// ExtractExamples adds every fenced jac/python/untagged block of at least 20
// characters to c, indexed under each construct it demonstrates.
func ExtractExamples(c *Content, source, text string) {
	for _, m := range exampleFenceRe.FindAllStringSubmatch(text, -1) {
		addExample(c, source, strings.TrimSpace(m[2]))
	}
	c.recount()
}

func addExample(c *Content, source, code string) {
	if len(code) < 20 {
		return
	}
	types := Classify(code)
	primary := General
	if len(types) > 0 {
		primary = types[0]
	}
	ex := newExample(code, source, primary)
	for _, kw := range ex.Keywords {
		c.Keywords[kw] = true
	}
	if len(types) == 0 {
		c.Examples[General] = append(c.Examples[General], ex)
		return
	}
	for _, t := range types {
		c.Examples[t] = append(c.Examples[t], ex)
	}
}

// ExtractSkeleton parses a signature listing grouped under "## <Types>"
// headers, one signature per blank-line-separated block.
func ExtractSkeleton(c *Content, text string) {
	var (
		current string
		block   []string
	)
	flush := func() {
		sig := strings.TrimSpace(strings.Join(block, "\n"))
		if current != "" && sig != "" {
			c.Signatures[current] = append(c.Signatures[current], sig)
		}
		block = nil
	}
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "## "):
			flush()
			current = strings.ToLower(strings.TrimSpace(line[3:]))
			current = strings.TrimSuffix(current, "s")
		case strings.HasPrefix(line, "#"):
		case strings.TrimSpace(line) != "":
			block = append(block, line)
		default:
			flush()
		}
	}
	flush()
	c.recount()
}

var jacDefRe = regexp.MustCompile(`^\s*(?:async\s+)?(node|edge|walker|obj|enum|glob|def)\s+\w+`)

// ExtractJac records definition signatures from a .jac source file (header
// line plus its has/can/def member lines) and keeps each top-level
// definition as an example.
func ExtractJac(c *Content, source, text string) {
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		m := jacDefRe.FindStringSubmatch(lines[i])
		if m == nil || strings.HasPrefix(lines[i], " ") || strings.HasPrefix(lines[i], "\t") {
			continue
		}
		kind := m[1]
		if kind == "def" {
			kind = "function"
		}

		sig := []string{strings.TrimSpace(lines[i])}
		body := []string{lines[i]}
		depth := strings.Count(lines[i], "{") - strings.Count(lines[i], "}")
		j := i + 1
		for ; depth > 0 && j < len(lines); j++ {
			body = append(body, lines[j])
			t := strings.TrimSpace(lines[j])
			if strings.HasPrefix(t, "has ") || strings.HasPrefix(t, "can ") || strings.HasPrefix(t, "def ") {
				sig = append(sig, "    "+strings.TrimSpace(strings.TrimSuffix(t, "{")))
			}
			depth += strings.Count(lines[j], "{") - strings.Count(lines[j], "}")
		}
		c.Signatures[kind] = append(c.Signatures[kind], strings.Join(sig, "\n"))
		addExample(c, source, strings.TrimSpace(strings.Join(body, "\n")))
		if j > i+1 {
			i = j - 1
		}
	}
	c.recount()
}
