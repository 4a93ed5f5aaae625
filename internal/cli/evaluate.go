package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/docfactory/internal/checks"
	"github.com/lucasnoah/docfactory/internal/scoring"
)

// evaluation is the graded benchmark.
type evaluation struct {
	Cases      []scoring.CaseResult         `json:"results"`
	Total      float64                      `json:"total_score"`
	Max        float64                      `json:"max_score"`
	Percentage float64                      `json:"percentage"`
	Categories map[string]categoryBreakdown `json:"category_breakdown"`
	Missing    []string                     `json:"missing_responses,omitempty"`
}

type categoryBreakdown struct {
	Score float64 `json:"score"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// evaluateCases grades each case's response on a bounded pool. Cases without
// a response score zero.
func evaluateCases(ctx context.Context, cases []scoring.Case, responses map[string]string, checker scoring.CaseChecker, workers int) *evaluation {
	ev := &evaluation{Cases: make([]scoring.CaseResult, len(cases)), Categories: make(map[string]categoryBreakdown)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, c := range cases {
		code, ok := responses[c.ID]
		if !ok {
			ev.Missing = append(ev.Missing, c.ID)
		}
		g.Go(func() error {
			ev.Cases[i] = scoring.EvaluateCase(gctx, code, c, checker)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range ev.Cases {
		ev.Total += r.Score
		ev.Max += r.MaxScore
		b := ev.Categories[r.Category]
		b.Score += r.Score
		b.Max += r.MaxScore
		b.Count++
		ev.Categories[r.Category] = b
	}
	if ev.Max > 0 {
		ev.Percentage = ev.Total / ev.Max * 100
	}
	return ev
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <cases.json> <responses.json>",
	Short: "Grade generated code against benchmark cases",
	Long: `Grade model responses against benchmark cases. cases.json is a list of cases
with required and forbidden elements and optional functional test harnesses;
responses.json maps case IDs to generated code. The syntax checker and test
runner come from the Jac toolchain unless --no-toolchain is set.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		var cases []scoring.Case
		if err := readJSONFile(args[0], &cases); err != nil {
			return err
		}
		var responses map[string]string
		if err := readJSONFile(args[1], &responses); err != nil {
			return err
		}

		var checker scoring.CaseChecker
		if skip, _ := cmd.Flags().GetBool("no-toolchain"); !skip {
			tc := checks.NewToolchain(&checks.ExecRunner{})
			tc.CheckCommand = cfg.Checker.Command
			checker = tc
		}

		ctx, cancel := runContext(cmd)
		defer cancel()
		ev := evaluateCases(ctx, cases, responses, checker, cfg.Checker.Workers)

		if jsonOutput(cmd) {
			return writeJSON(cmd, ev)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CASE\tCATEGORY\tLEVEL\tSCORE\tMAX\tJAC")
		for _, r := range ev.Cases {
			jac := "ok"
			if !r.JacValid {
				jac = "fail"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%.2f\t%s\n", r.CaseID, r.Category, r.Level, r.Score, r.MaxScore, jac)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		cats := make([]string, 0, len(ev.Categories))
		for c := range ev.Categories {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		out := cmd.OutOrStdout()
		fmt.Fprintln(out)
		for _, c := range cats {
			b := ev.Categories[c]
			fmt.Fprintf(out, "%-20s %.2f/%.2f (%d cases)\n", c, b.Score, b.Max, b.Count)
		}
		fmt.Fprintf(out, "\nTotal: %.2f/%.2f (%.1f%%)\n", ev.Total, ev.Max, ev.Percentage)
		if len(ev.Missing) > 0 {
			fmt.Fprintf(out, "Missing responses: %v\n", ev.Missing)
		}
		return nil
	},
}

func init() {
	addFormatFlag(evaluateCmd)
	evaluateCmd.Flags().Bool("no-toolchain", false, "Skip the syntax checker and functional tests")
}
