package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/docfactory/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Run ledger database management",
}

// openDB opens and migrates the configured ledger, returning it with a
// cleanup func.
func openDB(cmd *cobra.Command) (*db.DB, func(), error) {
	cfg, err := setup(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	d, err := openLedger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	return d, func() { d.Close() }, nil
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		fmt.Fprintf(cmd.OutOrStdout(), "Ledger (%s) is up to date.\n", d.Dialect())
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every run from the ledger (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to reset the ledger without --yes")
		}
		d, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := d.Reset(); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Ledger reset.")
		return nil
	},
}

var dbRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := d.ListRuns(limit)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}
		return printRuns(cmd, runs)
	},
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "Confirm the reset")
	dbRunsCmd.Flags().Int("limit", 20, "Maximum number of runs")
	addFormatFlag(dbRunsCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
	dbCmd.AddCommand(dbRunsCmd)
}
