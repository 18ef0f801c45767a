package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/app"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the configured seeds, resuming from the frontier logs",
		Long: `Crawls from crawler.seeds down to crawler.max_depth. URLs already recorded
as scraped or errored are never fetched again, so rerunning after an
interruption continues the same crawl. The first SIGINT/SIGTERM lets
in-flight pages finish within crawler.shutdown_grace; a second one exits
immediately.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	opts := app.CrawlOptions{WorkerArgs: workerArgs()}
	stats, err := appInstance.Crawl(cmd.Context(), opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}
	appInstance.Logger().Info("Crawl command finished",
		zap.Bool("completed", stats.Completed),
		zap.Int("scraped", stats.Scraped),
		zap.Int("errored", stats.Errored),
	)
	return nil
}

// workerArgs start each worker child. The child reads the same config file
// as the parent; environment overrides are inherited.
func workerArgs() []string {
	args := []string{"serve-tasks"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	return args
}
