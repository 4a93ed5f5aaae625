package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/docfactory/internal/pipeline"
	"github.com/lucasnoah/docfactory/internal/stage"
)

func runContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

func newRunApp(cmd *cobra.Command, ctx context.Context) (*app, func(), error) {
	quiet, _ := cmd.Flags().GetBool("quiet")
	opts := appOptions{models: true, logs: cmd.ErrOrStderr()}
	if !quiet {
		opts.progress = cmd.ErrOrStderr()
	}
	return newApp(ctx, opts)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the whole pipeline: fetch, extract, merge, reduce, assemble",
	Long: `Run every stage in order. A stage error aborts the run; the metrics of the
completed stages are still printed and saved next to the stage outputs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext(cmd)
		defer cancel()

		a, cleanup, err := newRunApp(cmd, ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		_, runErr := a.runner.Run(ctx)
		m := a.runner.Metrics()
		if jsonOutput(cmd) {
			if err := writeJSON(cmd, m); err != nil {
				return err
			}
		} else if err := printMetrics(cmd.OutOrStdout(), m); err != nil {
			return err
		}
		if runErr != nil {
			return runErr
		}
		if m.Validation != nil && !m.Validation.IsValid {
			return errors.New("final document failed validation")
		}
		return nil
	},
}

var stageCmd = &cobra.Command{
	Use:   "stage <name>",
	Short: "Run a single pipeline stage",
	Long: `Run one stage against the outputs already on disk. Names are the stage keys
(fetch, extract, merge, reduce, assemble) or the aliases sanitize and finalize.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: stageNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := stage.Resolve(args[0]); !ok {
			return fmt.Errorf("unknown stage %q (valid: %v)", args[0], stageNames())
		}

		ctx, cancel := runContext(cmd)
		defer cancel()

		a, cleanup, err := newRunApp(cmd, ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		m, runErr := a.runner.RunStage(ctx, args[0])
		if m != nil {
			if jsonOutput(cmd) {
				if err := writeJSON(cmd, m); err != nil {
					return err
				}
			} else {
				printStage(cmd.OutOrStdout(), m)
			}
		}
		if v := a.runner.Metrics().Validation; v != nil && m != nil && m.Key == stage.Assemble && !jsonOutput(cmd) {
			fmt.Fprintln(cmd.OutOrStdout())
			printValidation(cmd.OutOrStdout(), v)
		}
		return runErr
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the metrics of the last run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		m, err := pipeline.NewStore(cfg.OutputDir, cfg.ReleaseDir).LoadMetrics()
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("load metrics: %w", err)
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, m)
		}
		return printMetrics(cmd.OutOrStdout(), m)
	},
}

func stageNames() []string {
	names := make([]string, 0, len(stage.Definitions)+2)
	for _, d := range stage.Definitions {
		names = append(names, d.Key)
	}
	return append(names, "sanitize", "finalize")
}

func init() {
	for _, c := range []*cobra.Command{runCmd, stageCmd, statusCmd} {
		addFormatFlag(c)
	}
	runCmd.Flags().BoolP("quiet", "q", false, "Suppress live stage progress")
	stageCmd.Flags().BoolP("quiet", "q", false, "Suppress live stage progress")
}
