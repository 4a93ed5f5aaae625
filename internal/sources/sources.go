// Package sources fetches documentation trees from git repositories (or
// local directories) into a single input directory.
package sources

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Type is the kind of files a source provides.
type Type string

const (
	TypeDocs Type = "docs"
	TypeJac  Type = "jac"
	TypeBoth Type = "both"
)

// Source is one configured documentation source.
type Source struct {
	ID       string   `yaml:"id" json:"id"`
	GitURL   string   `yaml:"git_url,omitempty" json:"git_url,omitempty"`
	Dir      string   `yaml:"dir,omitempty" json:"dir,omitempty"` // local tree, used instead of GitURL
	Branch   string   `yaml:"branch,omitempty" json:"branch,omitempty"`
	Path     string   `yaml:"path,omitempty" json:"path,omitempty"`
	Type     Type     `yaml:"type,omitempty" json:"type,omitempty"`
	Patterns []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	Enabled  *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the source is enabled. Unset means enabled.
func (s Source) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// FilePatterns returns the basename globs to copy, derived from Type when unset.
func (s Source) FilePatterns() []string {
	if len(s.Patterns) > 0 {
		return s.Patterns
	}
	switch s.Type {
	case TypeJac:
		return []string{"*.jac"}
	case TypeBoth:
		return []string{"*.md", "*.jac"}
	default:
		return []string{"*.md"}
	}
}

// DefaultSources is used when no sources are configured.
var DefaultSources = []Source{{
	ID:     "jaseci-docs",
	GitURL: "https://github.com/jaseci-labs/jaseci.git",
	Branch: "main",
	Path:   "docs/docs",
	Type:   TypeDocs,
}}

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner using exec.CommandContext.
type ExecGit struct{}

func (g *ExecGit) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// FileInfo describes one fetched file.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// SourceStats is the outcome of fetching one source.
type SourceStats struct {
	SourceID string     `json:"source_id"`
	Files    []FileInfo `json:"files"`
	Total    int        `json:"total"`
	Errors   []string   `json:"errors,omitempty"`
}

// FetchStats is the outcome of fetching every enabled source.
type FetchStats struct {
	Sources     []SourceStats `json:"sources"`
	TotalFiles  int           `json:"total_files"`
	TotalErrors int           `json:"total_errors"`
	TotalSize   int64         `json:"total_size"`
}

// ProgressFunc is called after each source finishes.
type ProgressFunc func(sourceID string, done, total int)

// Fetcher copies source trees into an output directory.
type Fetcher struct {
	git GitRunner
	log *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(git GitRunner, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{git: git, log: log}
}

// FetchAll recreates outDir and fetches every enabled source into
// outDir/<id>, up to workers at a time. Per-source failures are recorded in
// the stats; only a cancelled context or an unusable outDir is an error.
func (f *Fetcher) FetchAll(ctx context.Context, srcs []Source, outDir string, workers int, progress ProgressFunc) (*FetchStats, error) {
	if err := os.RemoveAll(outDir); err != nil {
		return nil, fmt.Errorf("clear %s: %w", outDir, err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", outDir, err)
	}

	var enabled []Source
	for _, s := range srcs {
		if s.IsEnabled() {
			enabled = append(enabled, s)
		}
	}
	if workers <= 0 {
		workers = 4
	}

	results := make([]SourceStats, len(enabled))
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, src := range enabled {
		g.Go(func() error {
			results[i] = f.FetchSource(gctx, src, outDir)
			if err := gctx.Err(); err != nil {
				return err
			}
			mu.Lock()
			done++
			if progress != nil {
				progress(src.ID, done, len(enabled))
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &FetchStats{Sources: results}
	for _, r := range results {
		stats.TotalFiles += r.Total
		stats.TotalErrors += len(r.Errors)
		for _, fi := range r.Files {
			stats.TotalSize += fi.Size
		}
	}
	return stats, nil
}

// FetchSource fetches one source into outDir/<id>.
func (f *Fetcher) FetchSource(ctx context.Context, src Source, outDir string) SourceStats {
	stats := SourceStats{SourceID: src.ID}

	root := src.Dir
	if root == "" {
		tmp, err := os.MkdirTemp("", "docfactory-src-*")
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("create temp dir: %v", err))
			return stats
		}
		defer os.RemoveAll(tmp)

		if err := f.sparseClone(ctx, src, tmp); err != nil {
			f.log.Warn("fetch source failed", "source", src.ID, "error", err)
			stats.Errors = append(stats.Errors, err.Error())
			return stats
		}
		root = tmp
	}

	base := filepath.Join(root, filepath.FromSlash(src.Path))
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		stats.Errors = append(stats.Errors, fmt.Sprintf("path %q not found in source", src.Path))
		return stats
	}

	dest := filepath.Join(outDir, src.ID)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("create %s: %v", dest, err))
		return stats
	}

	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !matchAny(src.FilePatterns(), d.Name()) {
			return nil
		}
		target := filepath.Join(dest, d.Name())
		if _, err := os.Stat(target); err == nil {
			ext := filepath.Ext(d.Name())
			stem := strings.TrimSuffix(d.Name(), ext)
			target = filepath.Join(dest, filepath.Base(filepath.Dir(p))+"_"+stem+ext)
		}
		n, err := copyFile(p, target)
		if err != nil {
			return err
		}
		stats.Files = append(stats.Files, FileInfo{Name: filepath.Base(target), Size: n, Type: filepath.Ext(p)})
		stats.Total++
		return nil
	})
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("copy files: %v", err))
	}
	return stats
}

// sparseClone does a shallow sparse checkout of src.Path into dir.
func (f *Fetcher) sparseClone(ctx context.Context, src Source, dir string) error {
	branch := src.Branch
	if branch == "" {
		branch = "main"
	}
	steps := [][]string{
		{"init"},
		{"remote", "add", "origin", src.GitURL},
		{"config", "core.sparseCheckout", "true"},
	}
	for _, args := range steps {
		if _, err := f.git.Run(ctx, dir, args...); err != nil {
			return fmt.Errorf("git command failed: %w", err)
		}
	}

	sparse := filepath.Join(dir, ".git", "info", "sparse-checkout")
	if err := os.MkdirAll(filepath.Dir(sparse), 0o755); err != nil {
		return fmt.Errorf("create sparse-checkout dir: %w", err)
	}
	pattern := strings.Trim(src.Path, "/")
	if pattern == "" || pattern == "." {
		pattern = "/*"
	} else {
		pattern += "/*"
	}
	if err := os.WriteFile(sparse, []byte(pattern+"\n"), 0o644); err != nil {
		return fmt.Errorf("write sparse-checkout: %w", err)
	}

	if _, err := f.git.Run(ctx, dir, "pull", "--depth=1", "origin", branch); err != nil {
		return fmt.Errorf("git pull failed: %w", err)
	}
	return nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(strings.TrimSpace(p), name); ok {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) (int64, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", dst, err)
	}
	return int64(len(data)), nil
}
