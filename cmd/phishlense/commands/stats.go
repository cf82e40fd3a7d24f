package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print threat and traffic statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			a, err := buildApp(cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			threats, err := a.lifecycle.Stats(ctx)
			if err != nil {
				return err
			}
			trafficStats, err := a.ingestor.Stats(ctx)
			if err != nil {
				return err
			}

			fmt.Println()
			fmt.Printf("  Threats: %d total, %d sandbox-executed\n", threats.Total, threats.SandboxExecuted)
			for sev, n := range threats.BySeverity {
				fmt.Printf("    %-10s %d\n", sev, n)
			}
			fmt.Println()
			fmt.Printf("  Traffic: %d total (%d malicious, %d normal, %d unknown)\n",
				trafficStats.Total, trafficStats.Malicious, trafficStats.Normal, trafficStats.Unknown)
			fmt.Println()
			return nil
		},
	}
}
