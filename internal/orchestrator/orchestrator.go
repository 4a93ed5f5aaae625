// Package orchestrator sequences the pipeline stages, tracks their metrics
// and publishes progress events.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/docfactory/internal/events"
	"github.com/lucasnoah/docfactory/internal/pipeline"
	"github.com/lucasnoah/docfactory/internal/stage"
)

var (
	// ErrAlreadyRunning is returned when a run is requested while another is in progress.
	ErrAlreadyRunning = errors.New("pipeline already running")
	// ErrUnknownStage is returned for a stage name that is neither a key nor an alias.
	ErrUnknownStage = errors.New("unknown stage")
)

// StageRunner executes one stage by key.
type StageRunner interface {
	Run(ctx context.Context, key string, env stage.Env) (*stage.Result, error)
}

// Status is a point-in-time view of the runner.
type Status struct {
	Running      bool          `json:"running"`
	RunID        string        `json:"run_id,omitempty"`
	CurrentStage string        `json:"current_stage,omitempty"`
	Error        string        `json:"error,omitempty"`
	Stages       []StageStatus `json:"stages"`
}

// StageStatus is the short form of a stage's metrics.
type StageStatus struct {
	Key      string            `json:"key"`
	Name     string            `json:"name"`
	Status   pipeline.Status   `json:"status"`
	Progress pipeline.Progress `json:"progress"`
}

// Runner runs stages in order. All state is guarded by mu.
type Runner struct {
	stages StageRunner
	store  *pipeline.Store
	emit   events.Emitter
	log    *slog.Logger
	now    func() time.Time
	newID  func() string

	mu         sync.Mutex
	running    bool
	runID      string
	current    string
	lastErr    string
	metrics    []*pipeline.StageMetrics
	validation *pipeline.FinalValidation
}

// New creates a Runner. The metrics of the previous run are loaded from
// store when present. emit may be nil.
func New(stages StageRunner, store *pipeline.Store, emit events.Emitter, log *slog.Logger) *Runner {
	if emit == nil {
		emit = events.Discard
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		stages: stages,
		store:  store,
		emit:   emit,
		log:    log,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, d := range stage.Definitions {
		r.metrics = append(r.metrics, pipeline.NewStageMetrics(d.Key, d.Name))
	}
	if store != nil {
		if prev, err := store.LoadMetrics(); err == nil {
			r.restore(prev)
		}
	}
	return r
}

func (r *Runner) restore(prev *pipeline.Metrics) {
	r.runID = prev.RunID
	r.validation = prev.Validation
	for _, m := range r.metrics {
		if p := prev.Stage(m.Key); p != nil {
			*m = p.Clone()
			if m.Status == pipeline.StatusRunning {
				m.Status = pipeline.StatusError
				m.Error = "interrupted"
			}
		}
	}
}

// Run executes every stage in order. The output directory is cleared first.
// The first failing stage aborts the run; its error is returned together
// with the metrics collected so far.
func (r *Runner) Run(ctx context.Context) (*pipeline.Metrics, error) {
	runID, err := r.begin()
	if err != nil {
		return nil, err
	}
	defer r.end()

	r.mu.Lock()
	for _, m := range r.metrics {
		m.Reset()
	}
	r.validation = nil
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Reset(); err != nil {
			return nil, err
		}
	}

	r.emit.Emit(events.Event{Type: events.PipelineStart, RunID: runID, Data: map[string]any{"stages": len(stage.Definitions)}})
	r.log.Info("pipeline started", "run_id", runID)

	for _, d := range stage.Definitions {
		if _, err := r.runStage(ctx, runID, d); err != nil {
			r.emit.Emit(events.Event{Type: events.PipelineError, RunID: runID, Stage: d.Key, Data: map[string]any{"error": err.Error()}})
			m := r.Metrics()
			r.save(m)
			return m, fmt.Errorf("stage %s: %w", d.Key, err)
		}
	}

	m := r.Metrics()
	r.save(m)
	data := map[string]any{
		"total_input_size":    m.TotalInputSize,
		"total_output_size":   m.TotalOutputSize,
		"overall_compression": m.OverallCompression,
		"total_duration":      m.TotalDuration,
	}
	if m.Validation != nil {
		data["is_valid"] = m.Validation.IsValid
		data["validation"] = m.Validation
	}
	r.emit.Emit(events.Event{Type: events.PipelineComplete, RunID: runID, Data: data})
	r.log.Info("pipeline complete", "run_id", runID, "duration", m.TotalDuration)
	return m, nil
}

// RunStage runs a single stage by key or alias against the existing
// workspace.
func (r *Runner) RunStage(ctx context.Context, name string) (*pipeline.StageMetrics, error) {
	key, ok := stage.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	var def stage.Definition
	for _, d := range stage.Definitions {
		if d.Key == key {
			def = d
		}
	}

	runID, err := r.begin()
	if err != nil {
		return nil, err
	}
	defer r.end()

	r.emit.Emit(events.Event{Type: events.PipelineStart, RunID: runID, Data: map[string]any{"stages": 1}})
	sm, err := r.runStage(ctx, runID, def)
	r.save(r.Metrics())
	if err != nil {
		r.emit.Emit(events.Event{Type: events.PipelineError, RunID: runID, Stage: key, Data: map[string]any{"error": err.Error()}})
		return &sm, fmt.Errorf("stage %s: %w", key, err)
	}
	r.emit.Emit(events.Event{Type: events.PipelineComplete, RunID: runID, Data: map[string]any{
		"total_input_size":    sm.InputSize,
		"total_output_size":   sm.OutputSize,
		"overall_compression": sm.CompressionRatio(),
		"total_duration":      sm.Duration().Seconds(),
	}})
	return &sm, nil
}

func (r *Runner) begin() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return "", ErrAlreadyRunning
	}
	r.running = true
	r.runID = r.newID()
	r.lastErr = ""
	return r.runID, nil
}

func (r *Runner) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.current = ""
}

func (r *Runner) stageMetrics(key string) *pipeline.StageMetrics {
	for _, m := range r.metrics {
		if m.Key == key {
			return m
		}
	}
	return nil
}

func (r *Runner) runStage(ctx context.Context, runID string, d stage.Definition) (pipeline.StageMetrics, error) {
	r.mu.Lock()
	m := r.stageMetrics(d.Key)
	m.Reset()
	start := r.now()
	m.Status = pipeline.StatusRunning
	m.StartTime = &start
	r.current = d.Key
	r.mu.Unlock()

	r.emit.Emit(events.Event{Type: events.StageStart, RunID: runID, Stage: d.Key, Data: map[string]any{"name": d.Name}})
	r.log.Info("stage started", "stage", d.Key)

	env := stage.Env{
		RunID: runID,
		Progress: func(cur, total int, msg string) {
			r.mu.Lock()
			m.Progress = pipeline.Progress{Current: cur, Total: total, Message: msg}
			r.mu.Unlock()
			r.emit.Emit(events.Event{Type: events.Progress, RunID: runID, Stage: d.Key,
				Data: map[string]any{"current": cur, "total": total, "message": msg}})
		},
		Token: func(chunk string) {
			r.emit.Emit(events.Event{Type: events.LLMToken, RunID: runID, Stage: d.Key, Data: map[string]any{"token": chunk}})
		},
	}
	res, err := r.stages.Run(ctx, d.Key, env)

	r.mu.Lock()
	end := r.now()
	m.EndTime = &end
	if err != nil {
		m.Status = pipeline.StatusError
		m.Error = err.Error()
		r.lastErr = err.Error()
	} else {
		m.Status = pipeline.StatusComplete
		m.InputSize = res.InputSize
		m.OutputSize = res.OutputSize
		m.FileCount = res.FileCount
		if res.Files != nil {
			m.Files = res.Files
		}
		m.Extra = res.Extra
		if res.Validation != nil {
			r.validation = res.Validation
		}
	}
	snap := m.Clone()
	r.mu.Unlock()

	if err != nil {
		r.emit.Emit(events.Event{Type: events.StageError, RunID: runID, Stage: d.Key, Data: map[string]any{"error": err.Error()}})
		r.log.Error("stage failed", "stage", d.Key, "error", err)
		return snap, err
	}
	r.emit.Emit(events.Event{Type: events.StageComplete, RunID: runID, Stage: d.Key, Data: map[string]any{
		"input_size":        snap.InputSize,
		"output_size":       snap.OutputSize,
		"file_count":        snap.FileCount,
		"duration":          snap.Duration().Seconds(),
		"compression_ratio": snap.CompressionRatio(),
		"extra":             snap.Extra,
	}})
	r.log.Info("stage complete", "stage", d.Key, "duration", snap.Duration(), "output_size", snap.OutputSize)
	return snap, nil
}

func (r *Runner) save(m *pipeline.Metrics) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveMetrics(m); err != nil {
		r.log.Warn("save metrics", "error", err)
	}
}

// Status returns a snapshot of the runner state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Status{Running: r.running, RunID: r.runID, CurrentStage: r.current, Error: r.lastErr}
	for _, m := range r.metrics {
		s.Stages = append(s.Stages, StageStatus{Key: m.Key, Name: m.Name, Status: m.Status, Progress: m.Progress})
	}
	return s
}

// Metrics returns the aggregate metrics of the current or last run.
func (r *Runner) Metrics() *pipeline.Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := &pipeline.Metrics{RunID: r.runID, Validation: r.validation}
	var dur time.Duration
	for _, m := range r.metrics {
		c := m.Clone()
		out.Stages = append(out.Stages, c)
		if c.Status != pipeline.StatusComplete {
			continue
		}
		if out.TotalInputSize == 0 {
			out.TotalInputSize = c.InputSize
		}
		out.TotalOutputSize = c.OutputSize
		dur += c.Duration()
	}
	out.TotalDuration = dur.Seconds()
	if out.TotalInputSize > 0 {
		out.OverallCompression = float64(out.TotalOutputSize) / float64(out.TotalInputSize)
	}
	return out
}

// StageDetails returns the full metrics of one stage by key or alias.
func (r *Runner) StageDetails(name string) (pipeline.StageMetrics, error) {
	key, ok := stage.Resolve(name)
	if !ok {
		return pipeline.StageMetrics{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stageMetrics(key).Clone(), nil
}
