package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "phishlense",
		Short: "Phishing threat analysis and sandbox execution",
		Long:  "PhishLense — AI-assisted phishing analysis with safe sandbox probing of suspicious URLs, emails, and text. Single binary.",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "phishlense.yaml", "config file path")

	root.AddCommand(
		newServeCmd(),
		newAnalyzeCmd(),
		newStatusCmd(),
		newStatsCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	return root
}
