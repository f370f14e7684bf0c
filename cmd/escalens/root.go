package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.2.0"

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "escalens",
	Short: "Escalation trend analysis for support teams",
	Long: `escalens reads support escalations from an Excel workbook or a SQLite
database, fills missing issue-type and root-cause classifications (mirror,
mock, or external model), qualifies records by recency and confidence with an
auditable reason per record, and publishes top-5 trend tables plus a narrative
insights digest to workbook tabs, a Markdown file, and optionally Slack.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// config.Load resolves CONFIG_PATH; the flag is just its CLI face.
		if configFlag != "" {
			os.Setenv("CONFIG_PATH", configFlag)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the escalens version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("escalens version %s\n", version)
	},
}

func init() {
	rootCmd.SetVersionTemplate("escalens version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "",
		"Path to config.yaml (default ./config.yaml)")
	rootCmd.AddCommand(versionCmd)
}
