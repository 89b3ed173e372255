package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs a single cycle.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Archives the current top stories once and exits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			zap.L().Info("crawl command finished",
				zap.String("cycle_id", report.CycleID),
				zap.Int("stories", len(report.Stories)),
				zap.Int64("fetches", report.Fetches),
			)
			return nil
		},
	}
}
