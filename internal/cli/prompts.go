package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/docfactory/internal/prompt"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Manage the stage prompt templates",
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in prompt templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range prompt.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var promptsInitCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write the built-in templates to a directory for editing",
	Long: `Copy the built-in prompt templates into dir (default: prompts_dir from the
config, or ./prompts). Existing files are left untouched. Point prompts_dir at
the directory to make the stages use the edited templates.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "prompts"
		if len(args) == 1 {
			dir = args[0]
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.PromptsDir != "" {
				dir = cfg.PromptsDir
			}
		}
		written, err := prompt.InstallBuiltinTemplates(dir)
		for _, name := range written {
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", name)
		}
		if err != nil {
			return err
		}
		if len(written) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "all templates already present in %s\n", dir)
		}
		return nil
	},
}

func init() {
	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.AddCommand(promptsInitCmd)
}
