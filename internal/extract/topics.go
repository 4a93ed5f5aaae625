package extract

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Topic is a merge-stage bucket selected by keywords.
type Topic struct {
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// DefaultTopics are used when no topics file is configured.
var DefaultTopics = []Topic{
	{"nodes_edges", []string{"node ", "edge ", "++>", "-->", "<++>", "connect"}},
	{"walkers", []string{"walker ", "spawn", "visit", "disengage", "here", "visitor"}},
	{"abilities", []string{"can ", "with entry", "with exit", "ability"}},
	{"ai", []string{"by llm", "llm", "sem ", "mtllm"}},
	{"objects", []string{"obj ", "has ", "enum ", "glob ", "def "}},
	{"fullstack", []string{"cl {", "sv {", "jsx", "usestate", "useeffect", ".cl.jac", "jac serve"}},
	{"async", []string{"async ", "await ", "flow ", "wait "}},
	{"io", []string{"file.open", "json.dumps", "json.loads", "print(", "import from"}},
}

type topicsFile struct {
	Topics []Topic `yaml:"topics"`
}

// LoadTopics reads a YAML topics file of the form
//
//	topics:
//	  - name: walkers
//	    keywords: [walker, spawn]
//
// An empty path returns DefaultTopics.
func LoadTopics(path string) ([]Topic, error) {
	if path == "" {
		return DefaultTopics, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topics: %w", err)
	}
	var tf topicsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	if len(tf.Topics) == 0 {
		return nil, fmt.Errorf("topics file %s defines no topics", path)
	}
	seen := make(map[string]bool)
	for _, t := range tf.Topics {
		if t.Name == "" || seen[t.Name] {
			return nil, fmt.Errorf("topic name %q is empty or duplicated", t.Name)
		}
		seen[t.Name] = true
	}
	return tf.Topics, nil
}

// Section is a header-delimited piece of a document.
type Section struct {
	Source string
	Body   string
}

// SplitSections splits a markdown document on "## " headers. Text before the
// first header forms its own section.
func SplitSections(source, text string) []Section {
	var (
		out []Section
		cur []string
	)
	flush := func() {
		body := strings.TrimSpace(strings.Join(cur, "\n"))
		if body != "" {
			out = append(out, Section{Source: source, Body: body})
		}
		cur = nil
	}
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence && strings.HasPrefix(line, "## ") {
			flush()
		}
		cur = append(cur, line)
	}
	flush()
	return out
}

// BestTopic returns the topic with the most keyword hits in body (ties go to
// the earlier topic), or "" when nothing matches.
func BestTopic(topics []Topic, body string) string {
	lower := strings.ToLower(body)
	best, bestHits := "", 0
	for _, t := range topics {
		hits := 0
		for _, kw := range t.Keywords {
			hits += strings.Count(lower, strings.ToLower(kw))
		}
		if hits > bestHits {
			best, bestHits = t.Name, hits
		}
	}
	return best
}

// RouteStats summarises topic routing.
type RouteStats struct {
	Files     int            `json:"files"`
	Sections  int            `json:"sections"`
	Routed    int            `json:"routed"`
	Unrouted  int            `json:"unrouted"`
	PerTopic  map[string]int `json:"per_topic"`
	TopicSize map[string]int `json:"topic_size"`
}

// minSectionLen drops sections too short to carry information.
const minSectionLen = 50

// RouteTopics reads every .md file under srcDir, assigns each section to its
// best topic and writes one <topic>.md per topic into outDir. Each file
// starts with "# <topic>" and every section is prefixed with its source.
// Topics that receive nothing are not written.
func RouteTopics(srcDir, outDir string, topics []Topic, skip []string) (*RouteStats, error) {
	var paths []string
	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ".md" {
			return nil
		}
		for _, pat := range skip {
			if ok, _ := filepath.Match(pat, d.Name()); ok {
				return nil
			}
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", srcDir, err)
	}
	sort.Strings(paths)

	stats := &RouteStats{Files: len(paths), PerTopic: map[string]int{}, TopicSize: map[string]int{}}
	bodies := make(map[string]*strings.Builder)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		for _, sec := range SplitSections(filepath.Base(p), string(data)) {
			stats.Sections++
			if len(sec.Body) <= minSectionLen {
				stats.Unrouted++
				continue
			}
			topic := BestTopic(topics, sec.Body)
			if topic == "" {
				stats.Unrouted++
				continue
			}
			b, ok := bodies[topic]
			if !ok {
				b = &strings.Builder{}
				fmt.Fprintf(b, "# %s\n\n", topic)
				bodies[topic] = b
			}
			fmt.Fprintf(b, "\n## From: %s\n\n%s\n\n", sec.Source, sec.Body)
			stats.Routed++
			stats.PerTopic[topic]++
		}
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", outDir, err)
	}
	for topic, b := range bodies {
		if err := os.WriteFile(filepath.Join(outDir, topic+".md"), []byte(b.String()), 0o644); err != nil {
			return nil, fmt.Errorf("write topic %s: %w", topic, err)
		}
		stats.TopicSize[topic] = b.Len()
	}
	return stats, nil
}
