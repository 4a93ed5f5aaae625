package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/docfactory/internal/pipeline"
)

func addFormatFlag(cmd *cobra.Command) {
	cmd.Flags().String("format", "text", "Output format: text or json")
}

func jsonOutput(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("format")
	return format == "json"
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// checkRate renders a pass rate, or n/a when no checker ran.
func checkRate(rate float64, unavailable bool) string {
	if unavailable {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", rate)
}

func size(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func printMetrics(w io.Writer, m *pipeline.Metrics) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSTATUS\tINPUT\tOUTPUT\tRATIO\tFILES\tDURATION")
	for i := range m.Stages {
		s := &m.Stages[i]
		ratio := "-"
		if s.InputSize > 0 {
			ratio = fmt.Sprintf("%.1f%%", s.CompressionRatio()*100)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%.1fs\n",
			s.Key, s.Status, size(s.InputSize), size(s.OutputSize), ratio, s.FileCount, s.Duration().Seconds())
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nTotal: %s -> %s (%.1f%%) in %.1fs\n",
		size(m.TotalInputSize), size(m.TotalOutputSize), m.OverallCompression*100, m.TotalDuration)
	for i := range m.Stages {
		if e := m.Stages[i].Error; e != "" {
			fmt.Fprintf(w, "Error in %s: %s\n", m.Stages[i].Key, e)
		}
	}
	if m.Validation != nil {
		fmt.Fprintln(w)
		printValidation(w, m.Validation)
	}
	return nil
}

func printStage(w io.Writer, s *pipeline.StageMetrics) {
	fmt.Fprintf(w, "%s (%s): %s\n", s.Name, s.Key, s.Status)
	fmt.Fprintf(w, "  input:  %s\n", size(s.InputSize))
	fmt.Fprintf(w, "  output: %s (%d files)\n", size(s.OutputSize), s.FileCount)
	fmt.Fprintf(w, "  time:   %.1fs\n", s.Duration().Seconds())
	if s.Error != "" {
		fmt.Fprintf(w, "  error:  %s\n", s.Error)
	}
}

func printValidation(w io.Writer, v *pipeline.FinalValidation) {
	verdict := "VALID"
	if !v.IsValid {
		verdict = "INVALID"
	}
	fmt.Fprintf(w, "Final validation: %s\n", verdict)
	fmt.Fprintf(w, "  patterns:  %d/%d\n", v.PatternsFound, v.PatternsTotal)
	fmt.Fprintf(w, "  size:      %s (~%d tokens)\n", size(int64(v.OutputSize)), v.TokenCount)
	c := v.JacCheck
	if c.Unavailable {
		fmt.Fprintln(w, "  jac check: unavailable")
	} else {
		fmt.Fprintf(w, "  jac check: %d passed, %d failed, %d skipped (%.1f%%)\n", c.Passed, c.Failed, c.Skipped, c.PassRate)
	}
	if len(v.MissingPatterns) > 0 {
		fmt.Fprintf(w, "  missing:   %s\n", strings.Join(v.MissingPatterns, ", "))
	}
	for _, issue := range v.Issues {
		fmt.Fprintf(w, "  - %s\n", issue)
	}
	if q := v.QualityScore; q != nil {
		fmt.Fprintf(w, "  score:     %s coverage %.1f%%, check rate %s\n", q.Version, q.PatternCoverage*100, checkRate(q.JacCheckRate, q.JacCheckUnavailable))
		for _, r := range q.Regressions {
			fmt.Fprintf(w, "    regression: %s\n", r)
		}
		for _, i := range q.Improvements {
			fmt.Fprintf(w, "    improvement: %s\n", i)
		}
	}
	if r := v.Release; r != nil {
		fmt.Fprintf(w, "  release:   #%d %s\n", r.Number, r.VersionedPath)
		if r.RemoteURI != "" {
			fmt.Fprintf(w, "  published: %s\n", r.RemoteURI)
		}
	}
}
