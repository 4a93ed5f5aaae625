package analytics

import (
	"database/sql"
	"strings"
	"testing"

	"github.com/lucasnoah/docfactory/internal/db"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func exec(t *testing.T, conn *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := conn.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func stageEvent(t *testing.T, c *sql.DB, run, stage, event, ts string) {
	t.Helper()
	exec(t, c, `INSERT INTO stage_events (run_id, stage, event, timestamp) VALUES (?, ?, ?, ?)`, run, stage, event, ts)
}

// --- QueryStageDurations ---

func TestQueryStageDurations(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	// Run 1: reduce takes 10s, run 2: reduce takes 20s.
	stageEvent(t, c, "r1", "reduce", "stage_start", "2024-06-01 10:00:00")
	stageEvent(t, c, "r1", "reduce", "stage_complete", "2024-06-01 10:00:10")
	stageEvent(t, c, "r2", "reduce", "stage_start", "2024-06-02 10:00:00")
	stageEvent(t, c, "r2", "reduce", "stage_complete", "2024-06-02 10:00:20")

	results, err := QueryStageDurations(d, "")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 stage duration result, got %d", len(results))
	}
	r := results[0]
	if r.Stage != "reduce" || r.Count != 2 || r.Avg != 15.0 {
		t.Errorf("reduce = %+v, want count 2 avg 15", r)
	}
}

func TestQueryStageDurations_PairsWithinRunAndStage(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	stageEvent(t, c, "r1", "fetch", "stage_start", "2024-06-01 10:00:00")
	stageEvent(t, c, "r1", "fetch", "stage_complete", "2024-06-01 10:00:05")
	stageEvent(t, c, "r1", "extract", "stage_start", "2024-06-01 10:00:05")
	stageEvent(t, c, "r1", "extract", "stage_complete", "2024-06-01 10:00:35")
	// A failed attempt is not a duration sample.
	stageEvent(t, c, "r1", "merge", "stage_start", "2024-06-01 10:00:35")
	stageEvent(t, c, "r1", "merge", "stage_error", "2024-06-01 10:01:00")

	results, err := QueryStageDurations(d, "")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	got := map[string]StageDuration{}
	for _, r := range results {
		got[r.Stage] = r
	}
	if len(got) != 2 {
		t.Fatalf("stages = %v, want fetch and extract", results)
	}
	if got["fetch"].Avg != 5 || got["extract"].Avg != 30 {
		t.Errorf("fetch=%.1f extract=%.1f, want 5/30", got["fetch"].Avg, got["extract"].Avg)
	}
}

func TestQueryStageDurations_Since(t *testing.T) {
	d := testDB(t)
	c := d.Conn()
	stageEvent(t, c, "old", "fetch", "stage_start", "2024-01-01 10:00:00")
	stageEvent(t, c, "old", "fetch", "stage_complete", "2024-01-01 10:01:00")
	stageEvent(t, c, "new", "fetch", "stage_start", "2024-06-01 10:00:00")
	stageEvent(t, c, "new", "fetch", "stage_complete", "2024-06-01 10:00:02")

	results, err := QueryStageDurations(d, "2024-05-01")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(results) != 1 || results[0].Count != 1 || results[0].Avg != 2 {
		t.Errorf("results = %+v", results)
	}
}

func TestQueryStageDurations_Empty(t *testing.T) {
	results, err := QueryStageDurations(testDB(t), "")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

// --- QueryStageFailureRates ---

func TestQueryStageFailureRates(t *testing.T) {
	d := testDB(t)
	c := d.Conn()
	for _, run := range []string{"r1", "r2", "r3", "r4"} {
		stageEvent(t, c, run, "assemble", "stage_start", "2024-06-01 10:00:00")
	}
	stageEvent(t, c, "r1", "assemble", "stage_complete", "2024-06-01 10:00:01")
	stageEvent(t, c, "r2", "assemble", "stage_complete", "2024-06-01 10:00:01")
	stageEvent(t, c, "r3", "assemble", "stage_complete", "2024-06-01 10:00:01")
	stageEvent(t, c, "r4", "assemble", "stage_error", "2024-06-01 10:00:01")

	results, err := QueryStageFailureRates(d, "")
	if err != nil {
		t.Fatalf("QueryStageFailureRates: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	r := results[0]
	if r.Started != 4 || r.Complete != 3 || r.Failed != 1 || r.FailPct != 25 {
		t.Errorf("assemble = %+v", r)
	}
}

// --- QueryCheckPassRates ---

func TestQueryCheckPassRates(t *testing.T) {
	d := testDB(t)
	c := d.Conn()
	insert := `INSERT INTO check_runs (run_id, total_blocks, passed, failed, skipped, pass_rate, unavailable, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	exec(t, c, insert, "r1", 10, 5, 5, 0, 50.0, false, "2024-06-01 10:00:00")
	exec(t, c, insert, "r2", 10, 9, 1, 0, 90.0, false, "2024-06-02 10:00:00")
	exec(t, c, insert, "r3", 10, 0, 0, 0, 0.0, true, "2024-06-03 10:00:00")
	exec(t, c, insert, "r4", 10, 7, 3, 0, 70.0, false, "2024-06-04 10:00:00")

	res, err := QueryCheckPassRates(d, "")
	if err != nil {
		t.Fatalf("QueryCheckPassRates: %v", err)
	}
	if res.Runs != 4 || res.Unavailable != 1 || res.Blocks != 30 {
		t.Errorf("counts = %+v", res)
	}
	if res.Avg != 70 || res.Min != 50 || res.P50 != 70 || res.Last != 70 {
		t.Errorf("rates = %+v", res)
	}
}

func TestQueryCheckPassRates_Empty(t *testing.T) {
	res, err := QueryCheckPassRates(testDB(t), "")
	if err != nil {
		t.Fatalf("QueryCheckPassRates: %v", err)
	}
	if res.Runs != 0 || res.Avg != 0 {
		t.Errorf("res = %+v", res)
	}
}

// --- QueryRunThroughput ---

func TestQueryRunThroughput_WeeklyGrouping(t *testing.T) {
	d := testDB(t)
	c := d.Conn()
	insert := `INSERT INTO runs (run_id, started_at, status, duration_s, compression, is_valid) VALUES (?, ?, ?, ?, ?, ?)`
	exec(t, c, insert, "a", "2024-06-03 10:00:00", "complete", 100.0, 0.1, true)
	exec(t, c, insert, "b", "2024-06-04 10:00:00", "complete", 200.0, 0.3, false)
	exec(t, c, insert, "c", "2024-06-05 10:00:00", "error", 0.0, 0.0, nil)
	exec(t, c, insert, "d", "2024-06-11 10:00:00", "complete", 50.0, 0.2, true)

	results, err := QueryRunThroughput(d, "")
	if err != nil {
		t.Fatalf("QueryRunThroughput: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 weeks, got %+v", results)
	}
	if results[0].Period != "2024-W24" || results[1].Period != "2024-W23" {
		t.Errorf("periods = %s, %s", results[0].Period, results[1].Period)
	}
	w := results[1]
	if w.Runs != 3 || w.Completed != 2 || w.Failed != 1 || w.Valid != 1 {
		t.Errorf("week 23 = %+v", w)
	}
	if w.AvgDuration != 150 || w.AvgCompression != 0.2 {
		t.Errorf("week 23 averages = %.1f / %.3f", w.AvgDuration, w.AvgCompression)
	}
}

func TestQueryRunThroughput_Empty(t *testing.T) {
	results, err := QueryRunThroughput(testDB(t), "")
	if err != nil {
		t.Fatalf("QueryRunThroughput: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

// --- QueryRunDetail ---

func TestQueryRunDetail(t *testing.T) {
	d := testDB(t)
	c := d.Conn()
	stageEvent(t, c, "r1", "assemble", "stage_start", "2024-06-01 10:00:00")
	exec(t, c, `INSERT INTO check_runs (run_id, total_blocks, passed, failed, skipped, pass_rate, unavailable, timestamp) VALUES ('r1', 4, 3, 1, 0, 75.0, false, '2024-06-01 10:00:30')`)
	stageEvent(t, c, "r1", "assemble", "stage_complete", "2024-06-01 10:01:00")
	stageEvent(t, c, "r2", "fetch", "stage_start", "2024-06-01 10:00:10")

	events, err := QueryRunDetail(d, "r1")
	if err != nil {
		t.Fatalf("QueryRunDetail: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	if events[1].Type != "check" || !strings.Contains(events[1].Detail, "rate=75.0%") {
		t.Errorf("middle event = %+v", events[1])
	}
	if events[2].Event != "stage_complete" {
		t.Errorf("last event = %+v", events[2])
	}
}

func TestQueryRunDetail_Empty(t *testing.T) {
	events, err := QueryRunDetail(testDB(t), "nope")
	if err != nil {
		t.Fatalf("QueryRunDetail: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 events, got %d", len(events))
	}
}

// --- helpers ---

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"2024-06-01 10:00:00", true},
		{"2024-06-01T10:00:00Z", true},
		{"2024-06-01T10:00:00", true},
		{"2024-06-01 10:00:00.000", true},
		{"not-a-date", false},
	}
	for _, tc := range tests {
		_, err := parseTimestamp(tc.input)
		if tc.valid && err != nil {
			t.Errorf("parseTimestamp(%q) = error %v, want success", tc.input, err)
		}
		if !tc.valid && err == nil {
			t.Errorf("parseTimestamp(%q) = success, want error", tc.input)
		}
	}
}

func TestAvg(t *testing.T) {
	if v := avg([]float64{10, 20, 30}); v != 20.0 {
		t.Errorf("avg([10,20,30]) = %f, want 20.0", v)
	}
	if v := avg(nil); v != 0.0 {
		t.Errorf("avg(nil) = %f, want 0.0", v)
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	p50 := percentile(values, 50)
	if p50 < 5.0 || p50 > 6.0 {
		t.Errorf("p50 = %f, expected ~5.5", p50)
	}
	p95 := percentile(values, 95)
	if p95 < 9.0 || p95 > 10.0 {
		t.Errorf("p95 = %f, expected ~9.6", p95)
	}
	if v := percentile(nil, 50); v != 0.0 {
		t.Errorf("percentile(nil, 50) = %f, want 0.0", v)
	}
}

func TestPct(t *testing.T) {
	if v := pct(1, 4); v != 25.0 {
		t.Errorf("pct(1,4) = %f, want 25.0", v)
	}
	if v := pct(0, 0); v != 0.0 {
		t.Errorf("pct(0,0) = %f, want 0.0", v)
	}
}
