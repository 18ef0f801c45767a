package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newFrontierCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frontier",
		Short: "Inspect or reset the crawl frontier logs",
		Annotations: map[string]string{
			servicesAnnotation: servicesLite,
		},
	}
	cmd.AddCommand(newFrontierStatsCmd(), newFrontierClearErroredCmd())
	return cmd
}

func newFrontierStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the size of the pending, scraped and errored sets as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := appInstance.FrontierStats()
			if err != nil {
				return fmt.Errorf("load frontier: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}

func newFrontierClearErroredCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-errored",
		Short: "Forget errored URLs so the next crawl retries them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.ClearErrored()
			if err != nil {
				return err
			}
			appInstance.Logger().Info("Cleared errored URLs", zap.Int("count", n))
			return nil
		},
	}
}
