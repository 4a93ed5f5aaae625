package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/docfactory/internal/checks"
	"github.com/lucasnoah/docfactory/internal/logging"
	"github.com/lucasnoah/docfactory/internal/validate"
)

type verifyReport struct {
	File   string               `json:"file"`
	Result *checks.VerifyResult `json:"result"`
	Gate   *checks.GateReport   `json:"gate"`
}

var verifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Run the syntax checker over the code blocks of a document",
	Long: `Extract the fenced Jac blocks of a document (and with --inline or --strict
its unfenced definitions and entry points), skip fragments, and run the
configured checker over each block in parallel.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		strict, _ := cmd.Flags().GetBool("strict")
		inline, _ := cmd.Flags().GetBool("inline")

		ctx, cancel := runContext(cmd)
		defer cancel()

		v := checks.NewVerifier(&checks.ExecRunner{}, logging.New("checks"))
		opts := verifyOptions(cfg)
		var res *checks.VerifyResult
		if strict || inline {
			res, err = v.CheckStrict(ctx, string(data), strict, opts)
		} else {
			res, err = v.CheckAll(ctx, string(data), opts)
		}
		var strictErr *checks.StrictError
		if err != nil && !errors.As(err, &strictErr) && !errors.Is(err, checks.ErrCheckerUnavailable) {
			return err
		}

		rep := verifyReport{File: args[0], Result: res, Gate: checks.Gate(res, cfg.Checker.FailThreshold)}
		if jsonOutput(cmd) {
			if werr := writeJSON(cmd, rep); werr != nil {
				return werr
			}
		} else {
			printVerify(cmd, rep)
		}
		if strictErr != nil {
			return strictErr
		}
		if strict && errors.Is(err, checks.ErrCheckerUnavailable) {
			return err
		}
		return nil
	},
}

func printVerify(cmd *cobra.Command, rep verifyReport) {
	w := cmd.OutOrStdout()
	r := rep.Result
	if r.Unavailable {
		fmt.Fprintf(w, "%s: syntax checker unavailable (%s)\n", rep.File, r.UnavailableReason)
		return
	}
	fmt.Fprintf(w, "%s: %d blocks, %d passed, %d failed, %d skipped\n", rep.File, r.TotalBlocks, r.Passed, r.Failed, r.Skipped)
	fmt.Fprintf(w, "Pass rate: %.1f%%\n", r.PassRate)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  [FAIL] block %d (%s, line %d): %s\n", e.Block, e.Source, e.Line, e.Error)
		if e.Preview != "" {
			fmt.Fprintf(w, "         %s\n", e.Preview)
		}
	}
	if rep.Gate.Warn {
		fmt.Fprintf(w, "WARNING: %s\n", rep.Gate.Message)
	}
}

var validateCmd = &cobra.Command{
	Use:   "validate <input> <output>",
	Short: "Check that a stage output preserves its input's critical patterns",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		in, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		out, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read output: %w", err)
		}

		sizeRatio := cfg.Validation.Reduce.MinSizeRatio
		if cmd.Flags().Changed("min-size-ratio") {
			sizeRatio, _ = cmd.Flags().GetFloat64("min-size-ratio")
		}
		patternRatio := cfg.Validation.Reduce.RequiredPatternRatio
		if cmd.Flags().Changed("pattern-ratio") {
			patternRatio, _ = cmd.Flags().GetFloat64("pattern-ratio")
		}

		res := validate.New(sizeRatio, patternRatio).Validate(string(in), string(out))
		if jsonOutput(cmd) {
			if err := writeJSON(cmd, res); err != nil {
				return err
			}
		} else {
			w := cmd.OutOrStdout()
			verdict := "PASS"
			if !res.IsValid {
				verdict = "FAIL"
			}
			fmt.Fprintf(w, "[%s] size ratio %.1f%%\n", verdict, res.SizeRatio*100)
			if len(res.MissingPatterns) > 0 {
				fmt.Fprintf(w, "Missing patterns: %s\n", strings.Join(res.MissingPatterns, ", "))
			}
			for _, issue := range res.Issues {
				fmt.Fprintf(w, "  - %s\n", issue)
			}
		}
		if !res.IsValid {
			return errors.New("validation failed")
		}
		return nil
	},
}

var validateFinalCmd = &cobra.Command{
	Use:   "validate-final <file>",
	Short: "Validate, syntax-check and score a final document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		save, _ := cmd.Flags().GetBool("save-score")

		ctx, cancel := runContext(cmd)
		defer cancel()

		a, cleanup, err := newApp(ctx, appOptions{logs: cmd.ErrOrStderr()})
		if err != nil {
			return err
		}
		defer cleanup()

		fv, err := a.engine.FinalValidate(ctx, string(data), nil, save)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			if err := writeJSON(cmd, fv); err != nil {
				return err
			}
		} else {
			printValidation(cmd.OutOrStdout(), fv)
		}
		if !fv.IsValid {
			return errors.New("final document failed validation")
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{verifyCmd, validateCmd, validateFinalCmd} {
		addFormatFlag(c)
	}
	verifyCmd.Flags().Bool("inline", false, "Also check unfenced definitions and entry points")
	verifyCmd.Flags().Bool("strict", false, "Check inline code too and fail when any block fails")
	validateCmd.Flags().Float64("min-size-ratio", 0, "Minimum output/input size ratio (default from config)")
	validateCmd.Flags().Float64("pattern-ratio", 0, "Minimum fraction of input patterns kept (default from config)")
	validateFinalCmd.Flags().Bool("save-score", false, "Append the score to the score history")
}
