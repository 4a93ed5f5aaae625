package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configFile   string
	logLevelFlag string
	envFiles     []string
)

var rootCmd = &cobra.Command{
	Use:   "docfactory",
	Short: "docfactory: reduce DSL documentation to a validated prompt reference",
	Long: `docfactory fetches the documentation of a niche DSL, extracts its code
patterns deterministically, merges and reduces it with a language model, and
releases a small reference document. Every stage is gated on the survival of
the DSL's critical syntax patterns, and the final document is checked with the
DSL's own syntax checker and scored against previous releases.

Configuration is read from ./docfactory.yaml or ~/.docfactory/config.yaml.
Secrets come from the environment and an optional .env file.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to docfactory config file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(validateFinalCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(promptsCmd)
}
