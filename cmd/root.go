// Package cmd defines and implements the CLI commands for the site-ingest
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/app"
	appconfig "github.com/JakeFAU/site-ingest/internal/config"
	"github.com/JakeFAU/site-ingest/internal/crawler"
	"github.com/JakeFAU/site-ingest/internal/frontier"
	"github.com/JakeFAU/site-ingest/internal/logging"
	"github.com/JakeFAU/site-ingest/pkg/config"
)

var cfgFile string

type ctxKey string

const (
	appKey    ctxKey = "app"
	configKey ctxKey = "config"
)

// Command annotation selecting how much of the App a command needs.
const (
	servicesAnnotation = "services"
	servicesNone       = "none"
	servicesLite       = "lite"
)

// App is the part of *app.App the commands use. Tests inject a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	Crawl(ctx context.Context, opts app.CrawlOptions) (crawler.RunStats, error)
	RenderTask(ctx context.Context, task crawler.Task) (crawler.TaskResult, error)
	ServeTasks(ctx context.Context, in io.Reader, out io.Writer) error
	Segment(ctx context.Context) (app.SegmentStats, error)
	FrontierStats() (frontier.Stats, error)
	ClearErrored() (int, error)
}

// newApp builds the full App. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg appconfig.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newLiteApp builds an App without storage backends.
var newLiteApp = func(cfg appconfig.Config, logger *zap.Logger) App {
	return app.NewLite(cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site-ingest",
		Short: "Crawl a site through headless Chrome and segment its pages into chunks.",
		Long: `site-ingest crawls a public web site under a bounded link depth, renders
every page through headless Chrome, stores the cleaned HTML and splits stored
documents into token-bounded chunks. Crawl state lives in three append-only
logs so an interrupted crawl resumes where it stopped.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.InitConfig(cfgFile); err != nil {
				return fmt.Errorf("load config file: %w", err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Logging.Development {
				logger, err := logging.New(true)
				if err != nil {
					return fmt.Errorf("init logger: %w", err)
				}
				logging.SetLogger(logger)
			}
			ctx := context.WithValue(cmd.Context(), configKey, cfg)

			switch annotation(cmd) {
			case servicesNone:
			case servicesLite:
				ctx = context.WithValue(ctx, appKey, newLiteApp(cfg, logging.L))
			default:
				appInstance, err := newApp(ctx, cfg, logging.L)
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
				ctx = context.WithValue(ctx, appKey, appInstance)
			}
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(
		newCrawlCmd(),
		newRenderCmd(),
		newServeTasksCmd(),
		newSegmentCmd(),
		newMigrateCmd(),
		newFrontierCmd(),
	)
	return cmd
}

func annotation(cmd *cobra.Command) string {
	for c := cmd; c != nil; c = c.Parent() {
		if v, ok := c.Annotations[servicesAnnotation]; ok {
			return v
		}
	}
	return ""
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) (appconfig.Config, error) {
	cfg, ok := ctx.Value(configKey).(appconfig.Config)
	if !ok {
		return appconfig.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	logging.InitLogger()

	if err := newRootCmd().Execute(); err != nil {
		logging.L.Fatal("Command execution failed", zap.Error(err))
	}
}
