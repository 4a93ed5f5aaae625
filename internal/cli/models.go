package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/docfactory/internal/llm"
)

var modelsCmd = &cobra.Command{
	Use:   "models [filter]",
	Short: "List the models offered by the configured OpenRouter endpoint",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if p := cfg.LLM.Provider; p != "" && p != "openrouter" {
			return fmt.Errorf("model listing needs the openrouter provider (configured: %s)", p)
		}
		or, err := llm.NewOpenRouter(llm.OpenRouterConfig{
			BaseURL:  cfg.LLM.BaseURL,
			APIKey:   cfg.LLM.APIKey(),
			Model:    cfg.LLM.Model,
			Timeout:  cfg.LLM.Timeout.Std(),
			AppTitle: "docfactory",
		})
		if err != nil {
			return err
		}
		catalog := llm.NewCatalog(or, cfg.LLM.CatalogTTL.Std())

		ctx, cancel := runContext(cmd)
		defer cancel()

		var models []llm.ModelInfo
		if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
			models, err = catalog.Refresh(ctx)
		} else {
			models, err = catalog.Models(ctx)
		}
		if err != nil {
			return fmt.Errorf("list models: %w", err)
		}

		if len(args) == 1 {
			filter := strings.ToLower(args[0])
			kept := models[:0:0]
			for _, m := range models {
				if strings.Contains(strings.ToLower(m.ID), filter) || strings.Contains(strings.ToLower(m.Name), filter) {
					kept = append(kept, m)
				}
			}
			models = kept
		}

		if jsonOutput(cmd) {
			return writeJSON(cmd, models)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tCONTEXT\tPROMPT\tCOMPLETION")
		for _, m := range models {
			mark := ""
			if m.ID == cfg.LLM.Model {
				mark = " *"
			}
			fmt.Fprintf(w, "%s%s\t%d\t%s\t%s\n", m.ID, mark, m.ContextLength, m.Pricing.Prompt, m.Pricing.Completion)
		}
		return w.Flush()
	},
}

func init() {
	addFormatFlag(modelsCmd)
	modelsCmd.Flags().Bool("refresh", false, "Bypass the cached model list")
}
