package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-ingest/internal/shutdown"
)

func newSegmentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "segment",
		Short: "Split every stored document into token-bounded chunks",
		Long: `Reads every stored document back from the configured storage backend,
segments it with the segment.* settings and writes the chunks to the chunk
store. Existing chunks of a document are replaced. Documents that cannot be
chunked within segment.max_tokens are skipped and logged.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := shutdown.New(0, appInstance.Logger()).Context(cmd.Context(), func() { os.Exit(1) })
			defer stop()

			stats, err := appInstance.Segment(ctx)
			if err != nil {
				return fmt.Errorf("segment documents: %w", err)
			}
			appInstance.Logger().Info("Segment command finished",
				zap.Int("documents", stats.Documents),
				zap.Int("segmented", stats.Segmented),
				zap.Int("skipped", stats.Skipped),
				zap.Int("failed", stats.Failed),
			)
			return nil
		},
	}
}
