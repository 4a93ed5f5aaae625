// Package sanitize cleans fetched markdown before extraction: it strips
// frontmatter, comments, navigation and badges, drops empty headers, and
// skips files without useful content.
package sanitize

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultExclude are slash-separated globs of files never worth keeping.
// A leading "**/" matches at any depth; a trailing "/**" matches any file
// below a directory of that name.
var DefaultExclude = []string{
	"**/release_notes/**",
	"**/breaking_changes.md",
	"**/CHANGELOG.md",
	"**/CONTRIBUTING.md",
	"**/contributing/**",
	"**/internals/**",
	"**/playground/**",
	"**/roadmap.md",
	"**/index.md",
	"**/README.md",
}

// DefaultExcludeDirs are directory names skipped wherever they appear.
var DefaultExcludeDirs = []string{"internals", "playground", "communityhub", "contributing"}

// Options configures a Sanitizer.
type Options struct {
	Exclude          []string
	ExcludeDirs      []string
	MinContentLength int
}

// FileStat describes one kept file.
type FileStat struct {
	Path         string `json:"path"`
	OriginalSize int    `json:"original_size"`
	CleanedSize  int    `json:"cleaned_size"`
}

// Stats summarises a sanitize run.
type Stats struct {
	TotalFiles    int        `json:"total_files"`
	KeptFiles     int        `json:"kept_files"`
	ExcludedFiles int        `json:"excluded_files"`
	EmptyFiles    int        `json:"empty_files"`
	JacFiles      int        `json:"jac_files"`
	InputSize     int        `json:"input_size"`
	OutputSize    int        `json:"output_size"`
	Files         []FileStat `json:"files"`
}

// Sanitizer cleans a tree of markdown and Jac files.
type Sanitizer struct {
	exclude     []string
	excludeDirs map[string]bool
	minLen      int
}

// New creates a Sanitizer. Exclusions are added to the defaults.
func New(opts Options) *Sanitizer {
	s := &Sanitizer{
		exclude:     append(append([]string(nil), DefaultExclude...), opts.Exclude...),
		excludeDirs: make(map[string]bool),
		minLen:      opts.MinContentLength,
	}
	if s.minLen <= 0 {
		s.minLen = 200
	}
	for _, d := range append(append([]string(nil), DefaultExcludeDirs...), opts.ExcludeDirs...) {
		s.excludeDirs[d] = true
	}
	return s
}

// ShouldExclude reports whether the slash-separated relative path is excluded.
func (s *Sanitizer) ShouldExclude(rel string) bool {
	rel = filepath.ToSlash(rel)
	parts := strings.Split(rel, "/")
	for _, p := range parts[:len(parts)-1] {
		if s.excludeDirs[p] {
			return true
		}
	}
	for _, pat := range s.exclude {
		if MatchGlob(pat, rel) {
			return true
		}
	}
	return false
}

// MatchGlob matches a slash-separated path against pattern. "**/" at the
// start matches any number of leading directories; "/**" at the end matches
// anything below. Other segments use path.Match.
func MatchGlob(pattern, rel string) bool {
	pattern = filepath.ToSlash(pattern)
	rel = filepath.ToSlash(rel)

	if strings.HasPrefix(pattern, "**/") {
		rest := strings.TrimPrefix(pattern, "**/")
		segs := strings.Split(rel, "/")
		for i := range segs {
			if MatchGlob(rest, strings.Join(segs[i:], "/")) {
				return true
			}
		}
		return false
	}
	if strings.HasSuffix(pattern, "/**") {
		dir := strings.TrimSuffix(pattern, "/**")
		segs := strings.Split(rel, "/")
		for i := 1; i < len(segs); i++ {
			if ok, _ := path.Match(dir, strings.Join(segs[:i], "/")); ok {
				return true
			}
		}
		return false
	}
	if !strings.Contains(pattern, "/") {
		ok, _ := path.Match(pattern, path.Base(rel))
		return ok
	}
	ok, _ := path.Match(pattern, rel)
	return ok
}

var (
	frontmatterRe  = regexp.MustCompile(`(?s)\A---\n.*?\n---\n?`)
	htmlCommentRe  = regexp.MustCompile(`(?s)<!--.*?-->`)
	navLinkRe      = regexp.MustCompile(`(?m)^(Next|Previous|Back|Continue):\s*\[.*?\]\(.*?\)\s*$`)
	badgeRe        = regexp.MustCompile(`!\[[^\]]*\]\(https?://[^)]*badge[^)]*\)`)
	shieldsRe      = regexp.MustCompile(`!\[[^\]]*\]\(https?://img\.shields\.io[^)]*\)`)
	headerRe       = regexp.MustCompile(`^#{1,6}\s+`)
	blankRunRe     = regexp.MustCompile(`\n{3,}`)
	anyFenceRe     = regexp.MustCompile("```(jac|python|py|javascript|js|bash|sh)?")
	usefulPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\+\+>`),
		regexp.MustCompile(`-->`),
		regexp.MustCompile(`(?i)by\s+llm`),
		regexp.MustCompile(`(?i)with\s+entry`),
		regexp.MustCompile(`(?i)\bspawn\b`),
		regexp.MustCompile(`(?i)\bwalker\b`),
		regexp.MustCompile(`(?i)\bnode\b`),
		regexp.MustCompile(`(?i)\bedge\b`),
		regexp.MustCompile(`(?i)\bcan\b\s+\w+`),
		regexp.MustCompile(`::\w+:`),
	}
)

// CleanMarkdown strips frontmatter, HTML comments, navigation links and
// badges, removes headers immediately followed by another header, and
// collapses blank-line runs.
func CleanMarkdown(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = frontmatterRe.ReplaceAllString(text, "")
	text = htmlCommentRe.ReplaceAllString(text, "")
	text = navLinkRe.ReplaceAllString(text, "")
	text = badgeRe.ReplaceAllString(text, "")
	text = shieldsRe.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for i, line := range lines {
		if headerRe.MatchString(line) {
			j := i + 1
			for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
				j++
			}
			if j < len(lines) && headerRe.MatchString(lines[j]) {
				continue
			}
		}
		cleaned = append(cleaned, line)
	}

	text = strings.Join(cleaned, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// HasUsefulContent reports whether cleaned text is worth extracting from.
func (s *Sanitizer) HasUsefulContent(text string) bool {
	if len(text) < s.minLen {
		return false
	}
	if anyFenceRe.MatchString(text) {
		return true
	}
	for _, re := range usefulPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return len(text) > 500
}

// Run cleans every .md file under srcDir into outDir, keeping relative
// paths. .jac files are copied unchanged. outDir is recreated.
func (s *Sanitizer) Run(srcDir, outDir string) (*Stats, error) {
	if err := os.RemoveAll(outDir); err != nil {
		return nil, fmt.Errorf("clear %s: %w", outDir, err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", outDir, err)
	}

	stats := &Stats{}
	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".md" && ext != ".jac" {
			return nil
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		stats.TotalFiles++

		if s.ShouldExclude(rel) {
			stats.ExcludedFiles++
			return nil
		}

		raw, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		stats.InputSize += len(raw)

		var cleaned string
		if ext == ".jac" {
			cleaned = strings.TrimSpace(string(raw))
			if cleaned == "" {
				stats.EmptyFiles++
				return nil
			}
			stats.JacFiles++
		} else {
			cleaned = CleanMarkdown(string(raw))
			if !s.HasUsefulContent(cleaned) {
				stats.EmptyFiles++
				return nil
			}
		}

		dest := filepath.Join(outDir, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", rel, err)
		}
		if err := os.WriteFile(dest, []byte(cleaned), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}

		stats.KeptFiles++
		stats.OutputSize += len(cleaned)
		stats.Files = append(stats.Files, FileStat{
			Path:         filepath.ToSlash(rel),
			OriginalSize: len(raw),
			CleanedSize:  len(cleaned),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sanitize %s: %w", srcDir, err)
	}
	return stats, nil
}
