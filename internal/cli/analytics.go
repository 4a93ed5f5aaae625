package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/docfactory/internal/analytics"
	"github.com/lucasnoah/docfactory/internal/db"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Query pipeline performance analytics from the run ledger",
}

var analyticsStageDurationCmd = &cobra.Command{
	Use:   "stage-duration",
	Short: "Average and percentile durations per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		since, _ := cmd.Flags().GetString("since")
		rows, err := analytics.QueryStageDurations(d, since)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, rows)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tRUNS\tAVG\tP50\tP95")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%d\t%.1fs\t%.1fs\t%.1fs\n", r.Stage, r.Count, r.Avg, r.P50, r.P95)
		}
		return w.Flush()
	},
}

var analyticsStageFailuresCmd = &cobra.Command{
	Use:   "stage-failures",
	Short: "Completion and failure counts by stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		since, _ := cmd.Flags().GetString("since")
		rows, err := analytics.QueryStageFailureRates(d, since)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, rows)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tSTARTED\tCOMPLETE\tFAILED\tFAIL%")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\n", r.Stage, r.Started, r.Complete, r.Failed, r.FailPct)
		}
		return w.Flush()
	},
}

var analyticsCheckPassRateCmd = &cobra.Command{
	Use:   "check-pass-rate",
	Short: "Syntax-check pass rates of released documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		since, _ := cmd.Flags().GetString("since")
		r, err := analytics.QueryCheckPassRates(d, since)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, r)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Check runs:  %d (%d with checker unavailable)\n", r.Runs, r.Unavailable)
		fmt.Fprintf(w, "Blocks:      %d\n", r.Blocks)
		fmt.Fprintf(w, "Pass rate:   avg %.1f%%, p50 %.1f%%, min %.1f%%, last %.1f%%\n", r.Avg, r.P50, r.Min, r.Last)
		return nil
	},
}

var analyticsThroughputCmd = &cobra.Command{
	Use:   "throughput",
	Short: "Runs per week with outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		since, _ := cmd.Flags().GetString("since")
		rows, err := analytics.QueryRunThroughput(d, since)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, rows)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WEEK\tRUNS\tCOMPLETE\tFAILED\tVALID\tAVG TIME\tAVG RATIO")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.1fs\t%.1f%%\n",
				r.Period, r.Runs, r.Completed, r.Failed, r.Valid, r.AvgDuration, r.AvgCompression*100)
		}
		return w.Flush()
	},
}

var analyticsRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Timeline of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		events, err := analytics.QueryRunDetail(d, args[0])
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, events)
		}
		if len(events) == 0 {
			return fmt.Errorf("run %s not found", args[0])
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tEVENT\tSTAGE\tDETAIL")
		for _, e := range events {
			detail := e.Detail
			if len(detail) > 80 {
				detail = detail[:77] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp, e.Event, e.Stage, detail)
		}
		return w.Flush()
	},
}

func printRuns(cmd *cobra.Command, runs []db.Run) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tSTATUS\tINPUT\tOUTPUT\tRATIO\tVALID")
	for _, r := range runs {
		valid := "-"
		if r.IsValid != nil {
			valid = fmt.Sprintf("%t", *r.IsValid)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.1f%%\t%s\n",
			r.RunID, r.StartedAt, r.Status, size(r.InputSize), size(r.OutputSize), r.Compression*100, valid)
	}
	return w.Flush()
}

func init() {
	for _, c := range []*cobra.Command{analyticsStageDurationCmd, analyticsStageFailuresCmd, analyticsCheckPassRateCmd, analyticsThroughputCmd} {
		c.Flags().String("since", "", "Only include events at or after this date (YYYY-MM-DD)")
		addFormatFlag(c)
		analyticsCmd.AddCommand(c)
	}
	addFormatFlag(analyticsRunCmd)
	analyticsCmd.AddCommand(analyticsRunCmd)
}
