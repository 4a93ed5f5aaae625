package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/docfactory/internal/scoring"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Inspect and compare quality scores of released documents",
}

func openHistory(cmd *cobra.Command) (*scoring.History, error) {
	cfg, err := setup(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return scoring.NewHistory(cfg.ScoresDir), nil
}

var scoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the score history, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHistory(cmd)
		if err != nil {
			return err
		}
		list := h.ListScores()
		if jsonOutput(cmd) {
			return writeJSON(cmd, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No scores recorded.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tTIMESTAMP\tCOVERAGE\tJAC CHECK\tSIZE")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%s\t%s\n",
				s.Version, s.Timestamp, s.PatternCoverage*100, checkRate(s.JacCheckRate, s.JacUnavailable), size(int64(s.OutputSize)))
		}
		return w.Flush()
	},
}

// lookupScore returns the snapshot for version, or the newest score for
// "latest".
func lookupScore(h *scoring.History, version string) (*scoring.QualityScore, error) {
	if version == "latest" {
		return h.GetBaseline("")
	}
	return h.GetScore(version)
}

var scoreShowCmd = &cobra.Command{
	Use:   "show <version|latest>",
	Short: "Show one score in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHistory(cmd)
		if err != nil {
			return err
		}
		s, err := lookupScore(h, args[0])
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, s)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Score %s (%s)\n", s.Version, s.Timestamp)
		fmt.Fprintf(out, "  content:   %s\n", s.ContentHash)
		fmt.Fprintf(out, "  patterns:  %d/%d (%.1f%%)\n", s.PatternsFound, s.PatternsTotal, s.PatternCoverage*100)
		if s.JacCheckUnavailable {
			fmt.Fprintln(out, "  jac check: unavailable")
		} else {
			fmt.Fprintf(out, "  jac check: %d passed, %d failed (%.1f%%)\n", s.JacCheckPassed, s.JacCheckFailed, s.JacCheckRate)
		}
		fmt.Fprintf(out, "  size:      %s (~%d tokens)\n", size(int64(s.OutputSize)), s.TokenCount)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  CONSTRUCT\tEXAMPLES\tVALID")
		for _, c := range s.Constructs {
			fmt.Fprintf(w, "  %s\t%d\t%d\n", c.Construct, c.ExamplesFound, c.ExamplesValid)
		}
		return w.Flush()
	},
}

type comparison struct {
	Current      string   `json:"current"`
	Baseline     string   `json:"baseline"`
	Regressions  []string `json:"regressions"`
	Improvements []string `json:"improvements"`
}

var scoreCompareCmd = &cobra.Command{
	Use:   "compare <version> [baseline]",
	Short: "Compare a score with a baseline (default: the score before it)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHistory(cmd)
		if err != nil {
			return err
		}
		current, err := lookupScore(h, args[0])
		if err != nil {
			return err
		}

		var baseline *scoring.QualityScore
		if len(args) == 2 {
			baseline, err = lookupScore(h, args[1])
		} else {
			baseline, err = previousScore(h, current.Version)
		}
		if err != nil {
			return fmt.Errorf("baseline: %w", err)
		}

		reg, imp := scoring.Compare(current, baseline)
		c := comparison{Current: current.Version, Baseline: baseline.Version, Regressions: reg, Improvements: imp}
		if jsonOutput(cmd) {
			return writeJSON(cmd, c)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s vs %s\n", c.Current, c.Baseline)
		if len(reg)+len(imp) == 0 {
			fmt.Fprintln(w, "  no significant changes")
		}
		for _, r := range reg {
			fmt.Fprintf(w, "  - %s\n", r)
		}
		for _, i := range imp {
			fmt.Fprintf(w, "  + %s\n", i)
		}
		return nil
	},
}

// previousScore returns the history entry recorded just before version.
func previousScore(h *scoring.History, version string) (*scoring.QualityScore, error) {
	hist := h.LoadHistory()
	for i := len(hist) - 1; i > 0; i-- {
		if hist[i].Version == version {
			s := hist[i-1]
			return &s, nil
		}
	}
	return nil, fmt.Errorf("no score before %s: %w", version, scoring.ErrNotFound)
}

func init() {
	for _, c := range []*cobra.Command{scoreListCmd, scoreShowCmd, scoreCompareCmd} {
		addFormatFlag(c)
		scoreCmd.AddCommand(c)
	}
}

