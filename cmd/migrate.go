package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/logging"
	"github.com/JakeFAU/site-ingest/internal/storage/postgres"
)

var (
	migrateUp   = postgres.MigrateUp
	migrateDown = postgres.MigrateDown
)

func newMigrateCmd() *cobra.Command {
	var down bool
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema migrations",
		Annotations: map[string]string{
			servicesAnnotation: servicesNone,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				cfg, err := resolveConfig(cmd.Context())
				if err != nil {
					return err
				}
				dsn = cfg.Storage.Postgres.DSN
			}
			if dsn == "" {
				return fmt.Errorf("storage.postgres.dsn or --dsn is required")
			}
			run, direction := migrateUp, "up"
			if down {
				run, direction = migrateDown, "down"
			}
			if err := run(dsn); err != nil {
				return fmt.Errorf("migrate %s: %w", direction, err)
			}
			logging.L.Info("Migrations applied", zap.String("direction", direction))
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll every migration back")
	cmd.Flags().StringVar(&dsn, "dsn", "", "override storage.postgres.dsn")
	return cmd
}
