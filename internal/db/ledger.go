package db

import (
	"log/slog"

	"github.com/lucasnoah/docfactory/internal/events"
	"github.com/lucasnoah/docfactory/internal/pipeline"
)

// Handler returns an event handler that records runs, stage transitions and
// final syntax-check results. Write failures are logged, never propagated.
func (d *DB) Handler(log *slog.Logger) events.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(e events.Event) {
		if err := d.record(e); err != nil {
			log.Warn("ledger write failed", "event", string(e.Type), "run_id", e.RunID, "error", err)
		}
	}
}

func (d *DB) record(e events.Event) error {
	if e.RunID == "" {
		return nil
	}
	switch e.Type {
	case events.PipelineStart:
		return d.StartRun(e.RunID)

	case events.StageStart, events.StageError:
		return d.LogStageEvent(e.RunID, e.Stage, string(e.Type), detailJSON(e.Data))

	case events.StageComplete:
		detail := make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			if k != "extra" {
				detail[k] = v
			}
		}
		if err := d.LogStageEvent(e.RunID, e.Stage, string(e.Type), detailJSON(detail)); err != nil {
			return err
		}
		extra, _ := e.Data["extra"].(map[string]any)
		if cs, ok := extra["jac_check"].(pipeline.CheckSummary); ok {
			return d.LogCheckRun(CheckRun{
				RunID:       e.RunID,
				TotalBlocks: cs.TotalBlocks,
				Passed:      cs.Passed,
				Failed:      cs.Failed,
				Skipped:     cs.Skipped,
				PassRate:    cs.PassRate,
				Unavailable: cs.Unavailable,
			})
		}
		return nil

	case events.PipelineComplete:
		t := RunTotals{}
		t.InputSize, _ = e.Data["total_input_size"].(int64)
		t.OutputSize, _ = e.Data["total_output_size"].(int64)
		t.Compression, _ = e.Data["overall_compression"].(float64)
		t.DurationS, _ = e.Data["total_duration"].(float64)
		if v, ok := e.Data["is_valid"].(bool); ok {
			t.IsValid = &v
		}
		return d.FinishRun(e.RunID, "", t)

	case events.PipelineError:
		msg, _ := e.Data["error"].(string)
		if msg == "" {
			msg = "unknown error"
		}
		return d.FinishRun(e.RunID, msg, RunTotals{})
	}
	return nil
}
