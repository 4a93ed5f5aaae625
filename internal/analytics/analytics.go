// Package analytics summarises the run ledger: stage durations, stage
// failure rates, syntax-check pass rates and weekly run throughput.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
	Rebind(query string) string
}

// StageDuration holds duration stats for a stage.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// timestamp formats to try when parsing timestamps from the database
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// QueryStageDurations returns average and percentile durations per stage.
// Each stage_complete event is paired with the most recent prior
// stage_start of the same run and stage.
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	query := `
		SELECT se1.stage, se1.timestamp as end_ts,
			(SELECT MAX(se2.timestamp) FROM stage_events se2
			 WHERE se2.run_id = se1.run_id
			 AND se2.stage = se1.stage
			 AND se2.event = 'stage_start'
			 AND se2.id < se1.id) as start_ts
		FROM stage_events se1
		WHERE se1.event = 'stage_complete'`

	args := []interface{}{}
	if since != "" {
		query += ` AND se1.timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	stageDurations := make(map[string][]float64)
	for rows.Next() {
		var stage, endTS string
		var startTS sql.NullString
		if err := rows.Scan(&stage, &endTS, &startTS); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		if !startTS.Valid {
			continue
		}
		start, err := parseTimestamp(startTS.String)
		if err != nil {
			continue
		}
		end, err := parseTimestamp(endTS)
		if err != nil {
			continue
		}
		if secs := end.Sub(start).Seconds(); secs >= 0 {
			stageDurations[stage] = append(stageDurations[stage], secs)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageDuration
	for stage, durations := range stageDurations {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// StageFailureRate holds how often a stage fails once started.
type StageFailureRate struct {
	Stage    string  `json:"stage"`
	Started  int     `json:"started"`
	Complete int     `json:"complete"`
	Failed   int     `json:"failed"`
	FailPct  float64 `json:"fail_pct"`
}

// QueryStageFailureRates returns completion and failure counts by stage.
func QueryStageFailureRates(database DB, since string) ([]StageFailureRate, error) {
	query := `
		SELECT stage,
			SUM(CASE WHEN event = 'stage_start' THEN 1 ELSE 0 END) as started,
			SUM(CASE WHEN event = 'stage_complete' THEN 1 ELSE 0 END) as complete,
			SUM(CASE WHEN event = 'stage_error' THEN 1 ELSE 0 END) as failed
		FROM stage_events
		WHERE 1 = 1`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY stage ORDER BY stage`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query stage failure rates: %w", err)
	}
	defer rows.Close()

	var results []StageFailureRate
	for rows.Next() {
		var r StageFailureRate
		if err := rows.Scan(&r.Stage, &r.Started, &r.Complete, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan stage failure rate: %w", err)
		}
		r.FailPct = pct(r.Failed, r.Complete+r.Failed)
		results = append(results, r)
	}
	return results, rows.Err()
}

// CheckPassRate summarises syntax verification over many runs.
type CheckPassRate struct {
	Runs        int     `json:"runs"`
	Unavailable int     `json:"unavailable"`
	Blocks      int     `json:"blocks"`
	Avg         float64 `json:"avg_pass_rate"`
	Min         float64 `json:"min_pass_rate"`
	P50         float64 `json:"p50_pass_rate"`
	Last        float64 `json:"last_pass_rate"`
}

// QueryCheckPassRates returns pass-rate statistics over the check runs that
// actually ran. Runs where the checker was unavailable are only counted.
func QueryCheckPassRates(database DB, since string) (*CheckPassRate, error) {
	query := `SELECT pass_rate, unavailable, total_blocks FROM check_runs WHERE 1 = 1`
	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY timestamp, id`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query check pass rates: %w", err)
	}
	defer rows.Close()

	res := &CheckPassRate{}
	var rates []float64
	for rows.Next() {
		var rate float64
		var unavailable bool
		var blocks int
		if err := rows.Scan(&rate, &unavailable, &blocks); err != nil {
			return nil, fmt.Errorf("scan check run: %w", err)
		}
		res.Runs++
		if unavailable {
			res.Unavailable++
			continue
		}
		res.Blocks += blocks
		rates = append(rates, rate)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rates) == 0 {
		return res, nil
	}
	res.Last = math.Round(rates[len(rates)-1]*10) / 10
	res.Avg = avg(rates)
	sort.Float64s(rates)
	res.Min = math.Round(rates[0]*10) / 10
	res.P50 = percentile(rates, 50)
	return res, nil
}

// RunThroughput holds run counts for one ISO week.
type RunThroughput struct {
	Period         string  `json:"period"`
	Runs           int     `json:"runs"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	Valid          int     `json:"valid"`
	AvgDuration    float64 `json:"avg_duration_seconds"`
	AvgCompression float64 `json:"avg_compression"`
}

// QueryRunThroughput returns run metrics grouped by ISO week, newest first,
// at most ten weeks.
func QueryRunThroughput(database DB, since string) ([]RunThroughput, error) {
	query := `SELECT started_at, status, duration_s, compression, is_valid FROM runs WHERE 1 = 1`
	args := []interface{}{}
	if since != "" {
		query += ` AND started_at >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query run throughput: %w", err)
	}
	defer rows.Close()

	type acc struct {
		RunThroughput
		durations, compressions []float64
	}
	byWeek := make(map[string]*acc)
	for rows.Next() {
		var (
			started, status string
			dur, comp       float64
			valid           sql.NullBool
		)
		if err := rows.Scan(&started, &status, &dur, &comp, &valid); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		ts, err := parseTimestamp(started)
		if err != nil {
			continue
		}
		y, w := ts.ISOWeek()
		period := fmt.Sprintf("%d-W%02d", y, w)
		a, ok := byWeek[period]
		if !ok {
			a = &acc{RunThroughput: RunThroughput{Period: period}}
			byWeek[period] = a
		}
		a.Runs++
		switch status {
		case "complete":
			a.Completed++
			a.durations = append(a.durations, dur)
			a.compressions = append(a.compressions, comp)
		case "error":
			a.Failed++
		}
		if valid.Valid && valid.Bool {
			a.Valid++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]RunThroughput, 0, len(byWeek))
	for _, a := range byWeek {
		a.AvgDuration = avg(a.durations)
		if len(a.compressions) > 0 {
			sum := 0.0
			for _, c := range a.compressions {
				sum += c
			}
			a.AvgCompression = math.Round(sum/float64(len(a.compressions))*1000) / 1000
		}
		results = append(results, a.RunThroughput)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Period > results[j].Period })
	if len(results) > 10 {
		results = results[:10]
	}
	return results, nil
}

// RunEvent holds a single event for the run-detail view.
type RunEvent struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"` // "stage", "check"
	Event     string `json:"event"`
	Stage     string `json:"stage,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// QueryRunDetail returns the full timeline of one run.
func QueryRunDetail(database DB, runID string) ([]RunEvent, error) {
	var results []RunEvent

	rows, err := database.Conn().Query(database.Rebind(
		`SELECT timestamp, event, stage, detail FROM stage_events WHERE run_id = ? ORDER BY id`), runID)
	if err != nil {
		return nil, fmt.Errorf("query stage events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e RunEvent
		if err := rows.Scan(&e.Timestamp, &e.Event, &e.Stage, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan stage event: %w", err)
		}
		e.Type = "stage"
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crRows, err := database.Conn().Query(database.Rebind(
		`SELECT timestamp, passed, failed, skipped, pass_rate, unavailable FROM check_runs WHERE run_id = ? ORDER BY id`), runID)
	if err != nil {
		return nil, fmt.Errorf("query check runs: %w", err)
	}
	defer crRows.Close()
	for crRows.Next() {
		var (
			ts                      string
			passed, failed, skipped int
			rate                    float64
			unavailable             bool
		)
		if err := crRows.Scan(&ts, &passed, &failed, &skipped, &rate, &unavailable); err != nil {
			return nil, fmt.Errorf("scan check run: %w", err)
		}
		detail := fmt.Sprintf("passed=%d failed=%d skipped=%d rate=%.1f%%", passed, failed, skipped, rate)
		if unavailable {
			detail = "checker unavailable"
		}
		results = append(results, RunEvent{Timestamp: ts, Type: "check", Event: "jac_check", Detail: detail})
	}
	if err := crRows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp < results[j].Timestamp
	})
	return results, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
