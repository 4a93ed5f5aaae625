package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Workspace subdirectories, one per stage output.
const (
	SanitizedDir = "0_sanitized"
	ExtractedDir = "1_extracted"
	MergedDir    = "2_merged"
	ReducedDir   = "3_reduced"
	FinalDir     = "4_final"
)

// Well-known file names.
const (
	ExtractedFile  = "extracted_content.txt"
	ReducedFile    = "reduced.md"
	FinalFile      = "jac_reference.txt"
	CandidateFile  = "candidate.txt"
	ValidationFile = "candidate.validation.json"
	metricsFile    = "metrics.json"
	releasePrefix  = "jac_docs_final"
	releaseExt     = ".txt"
)

var releaseRe = regexp.MustCompile(`^` + releasePrefix + `(\d*)` + regexp.QuoteMeta(releaseExt) + `$`)

// Store manages the on-disk workspace: stage outputs under the output
// directory and published documents under the release directory.
type Store struct {
	outputDir  string
	releaseDir string
}

// NewStore creates a Store.
func NewStore(outputDir, releaseDir string) *Store {
	return &Store{outputDir: outputDir, releaseDir: releaseDir}
}

// OutputDir returns the output directory.
func (s *Store) OutputDir() string { return s.outputDir }

// ReleaseDir returns the release directory.
func (s *Store) ReleaseDir() string { return s.releaseDir }

// Dir returns the path of a stage subdirectory.
func (s *Store) Dir(sub string) string {
	return filepath.Join(s.outputDir, sub)
}

// TopicsDir holds routed topic notes, the input of the merge stage.
func (s *Store) TopicsDir() string {
	return filepath.Join(s.outputDir, ExtractedDir, "topics")
}

// ExtractedPath is the formatted extraction used by assembly.
func (s *Store) ExtractedPath() string {
	return filepath.Join(s.outputDir, ExtractedDir, ExtractedFile)
}

// ReducedPath is the output of the reduce stage.
func (s *Store) ReducedPath() string {
	return filepath.Join(s.outputDir, ReducedDir, ReducedFile)
}

// FinalPath is the assembled reference document.
func (s *Store) FinalPath() string {
	return filepath.Join(s.outputDir, FinalDir, FinalFile)
}

// Reset removes the whole output directory.
func (s *Store) Reset() error {
	if err := os.RemoveAll(s.outputDir); err != nil {
		return fmt.Errorf("reset output dir: %w", err)
	}
	return nil
}

// ResetDir recreates one stage subdirectory empty.
func (s *Store) ResetDir(sub string) error {
	dir := s.Dir(sub)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear %s: %w", sub, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", sub, err)
	}
	return nil
}

// WriteText writes content to path atomically.
func (s *Store) WriteText(path, content string) error {
	return WriteAtomic(path, []byte(content))
}

// ListFiles walks dir and returns the files whose extension is in exts
// (all files when exts is empty), sorted by relative path, plus their total size.
// A missing directory yields no files.
func ListFiles(dir string, exts ...string) ([]FileInfo, int64, error) {
	var (
		files []FileInfo
		total int64
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !matchExt(path, exts) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, FileInfo{Name: filepath.ToSlash(rel), Size: info.Size()})
		total += info.Size()
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return []FileInfo{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	if files == nil {
		files = []FileInfo{}
	}
	return files, total, nil
}

// ReadFiles returns the contents of the files ListFiles reports, in the same order.
func ReadFiles(dir string, exts ...string) ([]FileInfo, []string, error) {
	files, _, err := ListFiles(dir, exts...)
	if err != nil {
		return nil, nil, err
	}
	contents := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(f.Name)))
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		contents = append(contents, string(data))
	}
	return files, contents, nil
}

func matchExt(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// NextReleaseNumber returns one more than the highest jac_docs_final<N>.txt
// in the release directory. An unnumbered jac_docs_final.txt counts as 1.
func (s *Store) NextReleaseNumber() (int, error) {
	entries, err := os.ReadDir(s.releaseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read release dir: %w", err)
	}
	highest := 0
	for _, e := range entries {
		m := releaseRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n := 1
		if m[1] != "" {
			n, _ = strconv.Atoi(m[1])
		}
		highest = max(highest, n)
	}
	return highest + 1, nil
}

// PlanRelease returns the paths the next release will be written to.
func (s *Store) PlanRelease() (*Release, error) {
	n, err := s.NextReleaseNumber()
	if err != nil {
		return nil, err
	}
	return &Release{
		Number:         n,
		VersionedPath:  filepath.Join(s.releaseDir, fmt.Sprintf("%s%d%s", releasePrefix, n, releaseExt)),
		CandidatePath:  filepath.Join(s.releaseDir, CandidateFile),
		ValidationPath: filepath.Join(s.releaseDir, ValidationFile),
	}, nil
}

// WriteRelease writes content to the versioned and candidate paths of rel
// and the validation verdict next to the candidate.
func (s *Store) WriteRelease(rel *Release, content string, validation *FinalValidation) error {
	if err := WriteAtomic(rel.VersionedPath, []byte(content)); err != nil {
		return fmt.Errorf("write release: %w", err)
	}
	if err := WriteAtomic(rel.CandidatePath, []byte(content)); err != nil {
		return fmt.Errorf("write candidate: %w", err)
	}
	if err := WriteJSON(rel.ValidationPath, validation); err != nil {
		return fmt.Errorf("write validation: %w", err)
	}
	return nil
}

// SaveMetrics writes the run metrics next to the stage outputs.
func (s *Store) SaveMetrics(m *Metrics) error {
	return WriteJSON(filepath.Join(s.outputDir, metricsFile), m)
}

// LoadMetrics reads the metrics of the last run.
func (s *Store) LoadMetrics() (*Metrics, error) {
	var m Metrics
	if err := ReadJSON(filepath.Join(s.outputDir, metricsFile), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadValidation reads the verdict of the current release candidate.
func (s *Store) LoadValidation() (*FinalValidation, error) {
	var v FinalValidation
	if err := ReadJSON(filepath.Join(s.releaseDir, ValidationFile), &v); err != nil {
		return nil, err
	}
	return &v, nil
}
