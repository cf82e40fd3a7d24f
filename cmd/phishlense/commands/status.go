package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var showTimeline bool

	cmd := &cobra.Command{
		Use:   "status <threat-id>",
		Short: "Show a stored threat and its timeline",
		Args:  cobra.ExactArgs(1),
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

			artifact, err := a.lifecycle.Get(context.Background(), args[0])
			if err != nil {
				return err
			}

			printArtifact(artifact)

			if showTimeline {
				fmt.Println("  Timeline:")
				for _, ev := range artifact.Timeline {
					fmt.Printf("    %s  %-28s %s\n",
						ev.Timestamp.Format("2006-01-02 15:04:05"), ev.EventType, ev.Description)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showTimeline, "timeline", false, "print the full event timeline")
	return cmd
}
