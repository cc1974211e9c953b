package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reportpilot",
	Short: "Conversational reporting over your data sources",
	Long: `ReportPilot turns plain-language requests into queries against the
configured data sources, keeps each conversation's results as queryable
tables and answers with chart specs bound to those rows.

Configuration comes from environment variables and the optional YAML file
named by REPORTPILOT_CONFIG.`,
	SilenceUsage: true,
}

// Execute runs the root command; main calls it once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sessionsCmd)
}
