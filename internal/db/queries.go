package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrRunNotFound is returned when a run id is not in the ledger.
var ErrRunNotFound = errors.New("run not found")

// Run represents a row in the runs table.
type Run struct {
	RunID       string  `json:"run_id"`
	StartedAt   string  `json:"started_at"`
	FinishedAt  string  `json:"finished_at,omitempty"`
	Status      string  `json:"status"`
	Error       string  `json:"error,omitempty"`
	InputSize   int64   `json:"input_size"`
	OutputSize  int64   `json:"output_size"`
	Compression float64 `json:"compression"`
	DurationS   float64 `json:"duration_s"`
	IsValid     *bool   `json:"is_valid,omitempty"`
}

// RunTotals are recorded when a run finishes.
type RunTotals struct {
	InputSize   int64
	OutputSize  int64
	Compression float64
	DurationS   float64
	IsValid     *bool
}

// StageEvent represents a row in the stage_events table.
type StageEvent struct {
	ID        int64  `json:"id"`
	RunID     string `json:"run_id"`
	Stage     string `json:"stage"`
	Event     string `json:"event"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

// CheckRun represents a row in the check_runs table.
type CheckRun struct {
	ID          int64   `json:"id"`
	RunID       string  `json:"run_id"`
	TotalBlocks int     `json:"total_blocks"`
	Passed      int     `json:"passed"`
	Failed      int     `json:"failed"`
	Skipped     int     `json:"skipped"`
	PassRate    float64 `json:"pass_rate"`
	Unavailable bool    `json:"unavailable"`
	Timestamp   string  `json:"timestamp"`
}

// StartRun records a run as running. Starting a known run is a no-op.
func (d *DB) StartRun(runID string) error {
	_, err := d.conn.Exec(d.Rebind(
		`INSERT INTO runs (run_id, started_at, status) VALUES (?, ?, 'running')
		 ON CONFLICT (run_id) DO NOTHING`),
		runID, d.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun marks a run complete, or failed when errMsg is non-empty.
func (d *DB) FinishRun(runID, errMsg string, t RunTotals) error {
	status := "complete"
	if errMsg != "" {
		status = "error"
	}
	res, err := d.conn.Exec(d.Rebind(
		`UPDATE runs SET finished_at = ?, status = ?, error = ?, input_size = ?, output_size = ?,
		 compression = ?, duration_s = ?, is_valid = ? WHERE run_id = ?`),
		d.timestamp(), status, errMsg, t.InputSize, t.OutputSize, t.Compression, t.DurationS, t.IsValid, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

const runColumns = `run_id, started_at, finished_at, status, error, input_size, output_size, compression, duration_s, is_valid`

func scanRun(s interface{ Scan(...any) error }) (*Run, error) {
	var (
		r        Run
		finished sql.NullString
		valid    sql.NullBool
	)
	if err := s.Scan(&r.RunID, &r.StartedAt, &finished, &r.Status, &r.Error, &r.InputSize, &r.OutputSize,
		&r.Compression, &r.DurationS, &valid); err != nil {
		return nil, err
	}
	r.FinishedAt = finished.String
	if valid.Valid {
		v := valid.Bool
		r.IsValid = &v
	}
	return &r, nil
}

// GetRun returns one run.
func (d *DB) GetRun(runID string) (*Run, error) {
	row := d.conn.QueryRow(d.Rebind(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`), runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(d.Rebind(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// LogStageEvent inserts a stage event. detail is free text, usually JSON.
func (d *DB) LogStageEvent(runID, stage, event, detail string) error {
	_, err := d.conn.Exec(d.Rebind(
		`INSERT INTO stage_events (run_id, stage, event, detail, timestamp) VALUES (?, ?, ?, ?, ?)`),
		runID, stage, event, detail, d.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("log stage event: %w", err)
	}
	return nil
}

// GetStageEvents returns the stage events of a run in insertion order.
func (d *DB) GetStageEvents(runID string) ([]StageEvent, error) {
	rows, err := d.conn.Query(d.Rebind(
		`SELECT id, run_id, stage, event, detail, timestamp FROM stage_events WHERE run_id = ? ORDER BY id`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get stage events: %w", err)
	}
	defer rows.Close()

	var out []StageEvent
	for rows.Next() {
		var e StageEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.Stage, &e.Event, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan stage event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LogCheckRun records one syntax verification.
func (d *DB) LogCheckRun(c CheckRun) error {
	_, err := d.conn.Exec(d.Rebind(
		`INSERT INTO check_runs (run_id, total_blocks, passed, failed, skipped, pass_rate, unavailable, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		c.RunID, c.TotalBlocks, c.Passed, c.Failed, c.Skipped, c.PassRate, c.Unavailable, d.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("log check run: %w", err)
	}
	return nil
}

// GetCheckRuns returns the most recent check runs, newest first.
func (d *DB) GetCheckRuns(limit int) ([]CheckRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(d.Rebind(
		`SELECT id, run_id, total_blocks, passed, failed, skipped, pass_rate, unavailable, timestamp
		 FROM check_runs ORDER BY timestamp DESC, id DESC LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get check runs: %w", err)
	}
	defer rows.Close()

	var out []CheckRun
	for rows.Next() {
		var c CheckRun
		if err := rows.Scan(&c.ID, &c.RunID, &c.TotalBlocks, &c.Passed, &c.Failed, &c.Skipped,
			&c.PassRate, &c.Unavailable, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan check run: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func detailJSON(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(b)
}
