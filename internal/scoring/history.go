package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucasnoah/docfactory/internal/pipeline"
)

// MaxHistory is the number of scores kept in the history file.
const MaxHistory = 100

var (
	// ErrNotFound is returned when a requested score does not exist.
	ErrNotFound = errors.New("score not found")
	// ErrVersionExists is returned by SaveScore when the version already has
	// a snapshot. Snapshots are never overwritten.
	ErrVersionExists = errors.New("score version already exists")
)

// History persists scores under a directory: an append-only (capped)
// score_history.json plus one score_<version>.json snapshot per score.
type History struct {
	dir string
}

// NewHistory creates a History rooted at dir.
func NewHistory(dir string) *History {
	return &History{dir: dir}
}

// Dir returns the history directory.
func (h *History) Dir() string { return h.dir }

func (h *History) historyPath() string {
	return filepath.Join(h.dir, "score_history.json")
}

func (h *History) snapshotPath(version string) string {
	return filepath.Join(h.dir, fmt.Sprintf("score_%s.json", version))
}

func (h *History) hasSnapshot(version string) bool {
	_, err := os.Stat(h.snapshotPath(version))
	return err == nil
}

// NextVersion returns base, or base with the first free _N suffix when base
// already has a snapshot.
func (h *History) NextVersion(base string) string {
	v := base
	for n := 2; h.hasSnapshot(v); n++ {
		v = fmt.Sprintf("%s_%d", base, n)
	}
	return v
}

// SaveScore appends score to the history, pruning the oldest entries beyond
// MaxHistory, and writes its snapshot.
func (h *History) SaveScore(score *QualityScore) error {
	if score.Version == "" || filepath.Base(score.Version) != score.Version {
		return fmt.Errorf("invalid score version %q", score.Version)
	}
	if h.hasSnapshot(score.Version) {
		return fmt.Errorf("%s: %w", score.Version, ErrVersionExists)
	}
	hist := h.LoadHistory()
	hist = append(hist, *score)
	if len(hist) > MaxHistory {
		hist = hist[len(hist)-MaxHistory:]
	}
	if err := pipeline.WriteJSON(h.historyPath(), hist); err != nil {
		return fmt.Errorf("write score history: %w", err)
	}
	if err := pipeline.WriteJSON(h.snapshotPath(score.Version), score); err != nil {
		return fmt.Errorf("write score snapshot: %w", err)
	}
	return nil
}

// LoadHistory returns the score history, oldest first. A missing or corrupt
// history file yields an empty history.
func (h *History) LoadHistory() []QualityScore {
	data, err := os.ReadFile(h.historyPath())
	if err != nil {
		return []QualityScore{}
	}
	var hist []QualityScore
	if err := json.Unmarshal(data, &hist); err != nil {
		return []QualityScore{}
	}
	return hist
}

// GetBaseline returns the newest entry with the given version, or the newest
// entry overall when version is empty. It returns ErrNotFound when there is
// no such entry.
func (h *History) GetBaseline(version string) (*QualityScore, error) {
	hist := h.LoadHistory()
	for i := len(hist) - 1; i >= 0; i-- {
		if version == "" || hist[i].Version == version {
			s := hist[i]
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

// GetScore reads the snapshot for version.
func (h *History) GetScore(version string) (*QualityScore, error) {
	if filepath.Base(version) != version {
		return nil, fmt.Errorf("invalid score version %q", version)
	}
	var s QualityScore
	if err := pipeline.ReadJSON(h.snapshotPath(version), &s); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", version, ErrNotFound)
		}
		return nil, err
	}
	return &s, nil
}

// ListScores summarises every score in the history, oldest first.
func (h *History) ListScores() []Summary {
	hist := h.LoadHistory()
	out := make([]Summary, 0, len(hist))
	for _, s := range hist {
		out = append(out, Summary{
			Version:         s.Version,
			Timestamp:       s.Timestamp,
			PatternCoverage: s.PatternCoverage,
			JacCheckRate:    s.JacCheckRate,
			OutputSize:      s.OutputSize,
			JacUnavailable:  s.JacCheckUnavailable,
		})
	}
	return out
}
