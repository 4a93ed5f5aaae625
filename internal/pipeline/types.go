package pipeline

import (
	"encoding/json"
	"time"

	"github.com/lucasnoah/docfactory/internal/checks"
)

// Status is the lifecycle state of a stage.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// FileInfo names one file a stage produced or consumed.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Progress is the last progress report of a running stage.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// StageMetrics records one stage's run.
type StageMetrics struct {
	Key        string         `json:"key"`
	Name       string         `json:"name"`
	Status     Status         `json:"status"`
	StartTime  *time.Time     `json:"start_time,omitempty"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
	InputSize  int64          `json:"input_size"`
	OutputSize int64          `json:"output_size"`
	FileCount  int            `json:"file_count"`
	Files      []FileInfo     `json:"files"`
	Error      string         `json:"error,omitempty"`
	Progress   Progress       `json:"progress"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// NewStageMetrics returns pending metrics for a stage.
func NewStageMetrics(key, name string) *StageMetrics {
	return &StageMetrics{Key: key, Name: name, Status: StatusPending, Files: []FileInfo{}}
}

// Reset returns the stage to pending, clearing the previous run.
func (m *StageMetrics) Reset() {
	*m = StageMetrics{Key: m.Key, Name: m.Name, Status: StatusPending, Files: []FileInfo{}}
}

// Duration is the wall time between start and end, zero until both are set.
func (m *StageMetrics) Duration() time.Duration {
	if m.StartTime == nil || m.EndTime == nil {
		return 0
	}
	return m.EndTime.Sub(*m.StartTime)
}

// CompressionRatio is output/input size, 1 when there was no input.
func (m *StageMetrics) CompressionRatio() float64 {
	if m.InputSize <= 0 {
		return 1
	}
	return float64(m.OutputSize) / float64(m.InputSize)
}

// Clone returns a deep-enough copy for handing out snapshots.
func (m *StageMetrics) Clone() StageMetrics {
	c := *m
	c.Files = append([]FileInfo{}, m.Files...)
	if m.Extra != nil {
		c.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// MarshalJSON adds the derived duration (seconds) and compression ratio.
func (m StageMetrics) MarshalJSON() ([]byte, error) {
	type plain StageMetrics
	return json.Marshal(struct {
		plain
		Duration         float64 `json:"duration"`
		CompressionRatio float64 `json:"compression_ratio"`
	}{plain(m), m.Duration().Seconds(), m.CompressionRatio()})
}

// CheckSummary is the syntax-check part of the final validation.
type CheckSummary struct {
	TotalBlocks int                 `json:"total_blocks"`
	Passed      int                 `json:"passed"`
	Failed      int                 `json:"failed"`
	Skipped     int                 `json:"skipped"`
	PassRate    float64             `json:"pass_rate"`
	Unavailable bool                `json:"unavailable,omitempty"`
	Errors      []checks.BlockError `json:"errors"`
}

// NewCheckSummary copies the counts of a verifier result.
func NewCheckSummary(r *checks.VerifyResult) CheckSummary {
	if r == nil {
		return CheckSummary{Errors: []checks.BlockError{}}
	}
	errs := r.Errors
	if errs == nil {
		errs = []checks.BlockError{}
	}
	return CheckSummary{
		TotalBlocks: r.TotalBlocks,
		Passed:      r.Passed,
		Failed:      r.Failed,
		Skipped:     r.Skipped,
		PassRate:    r.PassRate,
		Unavailable: r.Unavailable,
		Errors:      errs,
	}
}

// ConstructCount is the number of examples found for one construct.
type ConstructCount struct {
	Construct     string `json:"construct"`
	ExamplesFound int    `json:"examples_found"`
}

// ScoreSummary is the quality-score part of the final validation.
type ScoreSummary struct {
	Version             string           `json:"version"`
	Timestamp           string           `json:"timestamp"`
	ContentHash         string           `json:"content_hash"`
	PatternCoverage     float64          `json:"pattern_coverage"`
	JacCheckRate        float64          `json:"jac_check_rate"`
	JacCheckUnavailable bool             `json:"jac_check_unavailable,omitempty"`
	Constructs          []ConstructCount `json:"constructs"`
	Regressions         []string         `json:"regressions"`
	Improvements        []string         `json:"improvements"`
}

// FinalValidation is the verdict on a finished reference document.
type FinalValidation struct {
	IsValid         bool          `json:"is_valid"`
	Issues          []string      `json:"issues"`
	MissingPatterns []string      `json:"missing_patterns"`
	PatternsFound   int           `json:"patterns_found"`
	PatternsTotal   int           `json:"patterns_total"`
	OutputSize      int           `json:"output_size"`
	TokenCount      int           `json:"token_count"`
	JacCheck        CheckSummary  `json:"jac_check"`
	QualityScore    *ScoreSummary `json:"quality_score,omitempty"`
	Release         *Release      `json:"release,omitempty"`
}

// Metrics aggregates a whole run.
type Metrics struct {
	RunID              string           `json:"run_id,omitempty"`
	Stages             []StageMetrics   `json:"stages"`
	TotalInputSize     int64            `json:"total_input_size"`
	TotalOutputSize    int64            `json:"total_output_size"`
	OverallCompression float64          `json:"overall_compression"`
	TotalDuration      float64          `json:"total_duration"`
	Validation         *FinalValidation `json:"validation,omitempty"`
}

// Stage returns the metrics for key, or nil.
func (m *Metrics) Stage(key string) *StageMetrics {
	for i := range m.Stages {
		if m.Stages[i].Key == key {
			return &m.Stages[i]
		}
	}
	return nil
}

// Release describes a published reference document.
type Release struct {
	Number         int    `json:"number"`
	VersionedPath  string `json:"versioned_path"`
	CandidatePath  string `json:"candidate_path"`
	ValidationPath string `json:"validation_path"`
	RemoteURI      string `json:"remote_uri,omitempty"`
}
