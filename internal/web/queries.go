package web

import (
	"errors"
	"fmt"

	"github.com/lucasnoah/docfactory/internal/analytics"
)

var (
	errNoLedger    = errors.New("run ledger not configured")
	errRunNotFound = errors.New("run not found")
)

// Report is the combined analytics view.
type Report struct {
	Since      string                       `json:"since,omitempty"`
	Durations  []analytics.StageDuration    `json:"stage_durations"`
	Failures   []analytics.StageFailureRate `json:"stage_failures"`
	Checks     *analytics.CheckPassRate     `json:"check_pass_rates"`
	Throughput []analytics.RunThroughput    `json:"throughput"`
}

func buildReport(ledger analytics.DB, since string) (*Report, error) {
	rep := &Report{Since: since}
	var err error
	if rep.Durations, err = analytics.QueryStageDurations(ledger, since); err != nil {
		return nil, fmt.Errorf("stage durations: %w", err)
	}
	if rep.Failures, err = analytics.QueryStageFailureRates(ledger, since); err != nil {
		return nil, fmt.Errorf("stage failures: %w", err)
	}
	if rep.Checks, err = analytics.QueryCheckPassRates(ledger, since); err != nil {
		return nil, fmt.Errorf("check pass rates: %w", err)
	}
	if rep.Throughput, err = analytics.QueryRunThroughput(ledger, since); err != nil {
		return nil, fmt.Errorf("throughput: %w", err)
	}
	return rep, nil
}

func runTimeline(ledger analytics.DB, runID string) ([]analytics.RunEvent, error) {
	timeline, err := analytics.QueryRunDetail(ledger, runID)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	if len(timeline) == 0 {
		return nil, fmt.Errorf("%s: %w", runID, errRunNotFound)
	}
	return timeline, nil
}
